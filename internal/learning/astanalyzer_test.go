package learning

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const pythonSample = `import os
from pathlib import Path

@app.route("/users")
def list_users(request, limit=10):
    try:
        return query(request)
    except (ValueError, KeyError):
        pass
    except Exception:
        raise


class UserService(BaseService):
    def get(self, user_id) -> dict:
        try:
            return self.db.fetch(user_id)
        except:
            return {}
`

func TestExtractPythonShapes(t *testing.T) {
	shapes := ExtractPythonShapes(context.Background(), []byte(pythonSample))

	require.Len(t, shapes.Functions, 2)
	assert.Equal(t, "list_users", shapes.Functions[0].Name)
	assert.Equal(t, []string{"request", "limit"}, shapes.Functions[0].Params)
	assert.Contains(t, shapes.Functions[0].Decorators[0], "app.route")

	assert.Equal(t, "get", shapes.Functions[1].Name)
	assert.Equal(t, []string{"user_id"}, shapes.Functions[1].Params, "self is dropped")
	assert.Equal(t, "dict", shapes.Functions[1].ReturnType)

	require.Len(t, shapes.Classes, 1)
	assert.Equal(t, "UserService", shapes.Classes[0].Name)
	assert.Equal(t, []string{"BaseService"}, shapes.Classes[0].Bases)

	require.Len(t, shapes.Imports, 2)
	assert.Equal(t, "os", shapes.Imports[0].Module)
	assert.Equal(t, "pathlib", shapes.Imports[1].Module)
	assert.Equal(t, []string{"Path"}, shapes.Imports[1].Names)

	require.Len(t, shapes.ErrorHandlers, 3)
	assert.ElementsMatch(t, []string{"ValueError", "KeyError"}, shapes.ErrorHandlers[0].Exceptions)
	assert.False(t, shapes.ErrorHandlers[0].BroadCatch)
	assert.True(t, shapes.ErrorHandlers[1].BroadCatch, "except Exception is broad")
	assert.True(t, shapes.ErrorHandlers[2].BroadCatch, "bare except is broad")
}

func TestExtractPythonShapesEmptyAndMalformed(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, ExtractPythonShapes(ctx, nil).Functions)

	// Tree-sitter recovers from syntax errors without crashing.
	shapes := ExtractPythonShapes(ctx, []byte("def broken(:\n    pass\ndef ok():\n    pass\n"))
	assert.NotNil(t, shapes)
}

func TestExtractTypeScriptShapes(t *testing.T) {
	source := `import { db } from "./db";

export async function createUser(name: string) {
  try {
    await db.insert(name);
  } catch (err) {
    console.error(err);
  }
}

const listUsers = async () => db.all();

class UserController extends BaseController {}
`
	shapes := ExtractTypeScriptShapes(source)

	names := []string{}
	for _, fn := range shapes.Functions {
		names = append(names, fn.Name)
	}
	assert.Contains(t, names, "createUser")
	assert.Contains(t, names, "listUsers")

	require.Len(t, shapes.Classes, 1)
	assert.Equal(t, []string{"BaseController"}, shapes.Classes[0].Bases)

	require.Len(t, shapes.Imports, 1)
	assert.Equal(t, "./db", shapes.Imports[0].Module)

	require.Len(t, shapes.ErrorHandlers, 1)
	assert.True(t, shapes.ErrorHandlers[0].BroadCatch)
}

func TestExtractShapesSkipsOversizedAndUnknown(t *testing.T) {
	ctx := context.Background()
	huge := []byte(strings.Repeat("x", maxSourceBytes+1))
	assert.Empty(t, ExtractShapes(ctx, "big.py", huge).Functions)
	assert.Empty(t, ExtractShapes(ctx, "data.bin", []byte("def f(): pass")).Functions)
}

func TestFindRepeatedPatternsFunctionSignatures(t *testing.T) {
	shape := FileShapes{Functions: []FunctionShape{{Name: "handle", Params: []string{"ctx", "req"}}}}
	detections := FindRepeatedPatterns(map[string]FileShapes{
		"a/one.py": shape, "b/two.py": shape, "c/three.py": shape,
	})

	require.Len(t, detections, 1)
	assert.Equal(t, DetectionCodePattern, detections[0].Type)
	assert.Equal(t, HeuristicRepeatedBlock, detections[0].Heuristic)
	assert.Equal(t, 3, detections[0].Count)
	assert.InDelta(t, 0.7, detections[0].ConfidenceRaw, 1e-9)
	assert.Contains(t, detections[0].Description, "handle(ctx,req)")
}

func TestFindRepeatedPatternsBelowThresholdIsSilent(t *testing.T) {
	shape := FileShapes{Functions: []FunctionShape{{Name: "handle"}}}
	detections := FindRepeatedPatterns(map[string]FileShapes{
		"a/one.py": shape, "b/two.py": shape,
	})
	assert.Empty(t, detections)
}

func TestFindRepeatedPatternsClassHierarchies(t *testing.T) {
	shape := FileShapes{Classes: []ClassShape{{Name: "X", Bases: []string{"BaseModel"}}}}
	detections := FindRepeatedPatterns(map[string]FileShapes{
		"a/one.py": shape, "b/two.py": shape, "c/three.py": shape,
	})
	require.Len(t, detections, 1)
	assert.Contains(t, detections[0].Description, "extends BaseModel")
}

func TestFindRepeatedPatternsErrorHandlers(t *testing.T) {
	typed := FileShapes{ErrorHandlers: []HandlerShape{{Exceptions: []string{"ValueError"}}}}
	files := map[string]FileShapes{}
	for _, name := range []string{"a/1.py", "b/2.py", "c/3.py", "d/4.py"} {
		files[name] = typed
	}
	detections := FindRepeatedPatterns(files)
	require.Len(t, detections, 1)
	assert.Contains(t, detections[0].Description, "except ValueError")
	assert.InDelta(t, 0.7, detections[0].ConfidenceRaw, 1e-9)
}

func TestFindRepeatedPatternsBroadCatches(t *testing.T) {
	broad := FileShapes{ErrorHandlers: []HandlerShape{{BroadCatch: true}}}
	files := map[string]FileShapes{}
	for _, name := range []string{"a/1.py", "b/2.py", "c/3.py", "d/4.py"} {
		files[name] = broad
	}
	detections := FindRepeatedPatterns(files)
	require.Len(t, detections, 1)
	assert.Equal(t, HeuristicSecurityShape, detections[0].Heuristic)
	assert.Len(t, detections[0].Files, 4)
}

func TestExtractRiskShapesStringBuiltQuery(t *testing.T) {
	source := `def fetch(db, name):
    db.execute(f"SELECT * FROM users WHERE name = {name}")
    db.execute("SELECT * FROM users WHERE name = " + name)
    db.execute("SELECT * FROM users WHERE name = ?", (name,))
`
	security, performance := extractRiskShapes(source)
	require.Len(t, security, 2, "parameterized query is clean")
	assert.Equal(t, SmellStringBuiltQuery, security[0].Kind)
	assert.Equal(t, 2, security[0].Line)
	assert.Empty(t, performance)
}

func TestExtractRiskShapesUncheckedPathJoin(t *testing.T) {
	source := `import os

def serve(request):
    target = os.path.join(base, request.args["file"])
    safe = os.path.join(base, "static", "app.css")
    return open(target)
`
	security, _ := extractRiskShapes(source)
	require.Len(t, security, 1, "literal join is clean")
	assert.Equal(t, SmellUncheckedPathJoin, security[0].Kind)
	assert.Equal(t, 4, security[0].Line)
}

func TestExtractRiskShapesQueryInLoop(t *testing.T) {
	source := `def sync(db, users):
    for user in users:
        db.execute("UPDATE users SET seen = 1 WHERE id = ?", (user.id,))
    db.execute("VACUUM")
`
	security, performance := extractRiskShapes(source)
	assert.Empty(t, security)
	require.Len(t, performance, 1, "query outside the loop is clean")
	assert.Equal(t, SmellQueryInLoop, performance[0].Kind)
	assert.Equal(t, 3, performance[0].Line)
}

func TestExtractRiskShapesNestedLoopIO(t *testing.T) {
	source := `def export(groups):
    for group in groups:
        for member in group:
            open(member.path)
    open("summary.txt")
`
	_, performance := extractRiskShapes(source)
	require.Len(t, performance, 1, "IO outside the nested loop is clean")
	assert.Equal(t, SmellNestedLoopIO, performance[0].Kind)
	assert.Equal(t, 4, performance[0].Line)
}

func TestExtractRiskShapesTypeScriptLoops(t *testing.T) {
	source := `async function refresh(ids) {
  for (const id of ids) {
    await db.query("SELECT * FROM jobs WHERE id = " + id);
  }
}
`
	security, performance := extractRiskShapes(source)
	require.Len(t, security, 1)
	assert.Equal(t, SmellStringBuiltQuery, security[0].Kind)
	require.Len(t, performance, 1)
	assert.Equal(t, SmellQueryInLoop, performance[0].Kind)
}

func TestExtractShapesCarriesRiskShapes(t *testing.T) {
	source := `def load(db, names):
    for name in names:
        db.execute(f"SELECT * FROM t WHERE n = {name}")
`
	shapes := ExtractShapes(context.Background(), "load.py", []byte(source))
	require.Len(t, shapes.Security, 1)
	require.Len(t, shapes.Performance, 1)
}

func TestFindRepeatedPatternsSecuritySmells(t *testing.T) {
	smell := FileShapes{Security: []RiskShape{{Kind: SmellStringBuiltQuery, Line: 10}}}
	detections := FindRepeatedPatterns(map[string]FileShapes{
		"a/1.py": smell, "b/2.py": smell, "c/3.py": smell,
	})

	require.Len(t, detections, 1)
	assert.Equal(t, HeuristicSecurityShape, detections[0].Heuristic)
	assert.Equal(t, 3, detections[0].Count)
	assert.Len(t, detections[0].Files, 3)
	assert.Contains(t, detections[0].Description, "string interpolation")
}

func TestFindRepeatedPatternsPerformanceSmells(t *testing.T) {
	hot := FileShapes{Performance: []RiskShape{
		{Kind: SmellQueryInLoop, Line: 4},
		{Kind: SmellQueryInLoop, Line: 9},
	}}
	warm := FileShapes{Performance: []RiskShape{{Kind: SmellQueryInLoop, Line: 2}}}
	detections := FindRepeatedPatterns(map[string]FileShapes{
		"a/1.py": hot, "b/2.py": warm,
	})

	require.Len(t, detections, 1)
	assert.Equal(t, HeuristicPerformance, detections[0].Heuristic)
	assert.Equal(t, 3, detections[0].Count)
	assert.Len(t, detections[0].Files, 2, "files recorded once per smell kind")
}

func TestFindRepeatedPatternsSmellsBelowThresholdAreSilent(t *testing.T) {
	smell := FileShapes{
		Security:    []RiskShape{{Kind: SmellUncheckedPathJoin, Line: 1}},
		Performance: []RiskShape{{Kind: SmellNestedLoopIO, Line: 2}},
	}
	detections := FindRepeatedPatterns(map[string]FileShapes{
		"a/1.py": smell, "b/2.py": smell,
	})
	assert.Empty(t, detections)
}
