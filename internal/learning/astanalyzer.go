package learning

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"
)

// maxSourceBytes caps what the syntactic analyzer will parse per file.
const maxSourceBytes = 1 << 20

// FunctionShape is a normalized function signature.
type FunctionShape struct {
	Name       string   `json:"name"`
	Params     []string `json:"params,omitempty"`
	ReturnType string   `json:"return_type,omitempty"`
	Decorators []string `json:"decorators,omitempty"`
	Kind       string   `json:"kind,omitempty"`
}

// ClassShape is a class and its bases.
type ClassShape struct {
	Name  string   `json:"name"`
	Bases []string `json:"bases,omitempty"`
}

// ImportShape is one import site.
type ImportShape struct {
	Kind   string   `json:"kind"`
	Module string   `json:"module"`
	Names  []string `json:"names,omitempty"`
}

// HandlerShape is one caught-exception site. BroadCatch marks bare excepts
// and catches of Exception/BaseException.
type HandlerShape struct {
	Exceptions []string `json:"exceptions,omitempty"`
	BroadCatch bool     `json:"broad_catch,omitempty"`
}

// RiskShape is one security- or performance-relevant call site.
type RiskShape struct {
	Kind string `json:"kind"`
	Line int    `json:"line"`
}

// FileShapes holds every normalized shape extracted from one source file.
type FileShapes struct {
	Functions     []FunctionShape `json:"functions"`
	Classes       []ClassShape    `json:"classes"`
	Imports       []ImportShape   `json:"imports"`
	ErrorHandlers []HandlerShape  `json:"error_handlers"`
	Security      []RiskShape     `json:"security,omitempty"`
	Performance   []RiskShape     `json:"performance,omitempty"`
}

// ExtractShapes dispatches on file extension. Unknown languages and
// oversized or malformed sources yield empty shapes, never an error.
func ExtractShapes(ctx context.Context, filePath string, source []byte) FileShapes {
	if len(source) > maxSourceBytes {
		return FileShapes{}
	}
	var shapes FileShapes
	switch {
	case strings.HasSuffix(filePath, ".py"):
		shapes = ExtractPythonShapes(ctx, source)
	case strings.HasSuffix(filePath, ".ts"), strings.HasSuffix(filePath, ".tsx"),
		strings.HasSuffix(filePath, ".js"), strings.HasSuffix(filePath, ".jsx"):
		shapes = ExtractTypeScriptShapes(string(source))
	default:
		return FileShapes{}
	}
	shapes.Security, shapes.Performance = extractRiskShapes(string(source))
	return shapes
}

// ExtractPythonShapes walks a tree-sitter parse of Python source.
func ExtractPythonShapes(ctx context.Context, source []byte) FileShapes {
	var shapes FileShapes
	if len(strings.TrimSpace(string(source))) == 0 {
		return shapes
	}

	parser := sitter.NewParser()
	parser.SetLanguage(python.GetLanguage())
	tree, err := parser.ParseCtx(ctx, nil, source)
	if err != nil || tree == nil {
		return shapes
	}
	defer tree.Close()

	walkNode(tree.RootNode(), func(node *sitter.Node) {
		switch node.Type() {
		case "function_definition":
			shapes.Functions = append(shapes.Functions, pythonFunction(node, source))
		case "class_definition":
			shapes.Classes = append(shapes.Classes, pythonClass(node, source))
		case "import_statement":
			shapes.Imports = append(shapes.Imports, pythonImports(node, source)...)
		case "import_from_statement":
			shapes.Imports = append(shapes.Imports, pythonFromImport(node, source))
		case "except_clause":
			shapes.ErrorHandlers = append(shapes.ErrorHandlers, pythonHandler(node, source))
		}
	})
	return shapes
}

func walkNode(node *sitter.Node, visit func(*sitter.Node)) {
	visit(node)
	for i := 0; i < int(node.NamedChildCount()); i++ {
		walkNode(node.NamedChild(i), visit)
	}
}

func pythonFunction(node *sitter.Node, source []byte) FunctionShape {
	shape := FunctionShape{Kind: "function"}
	if name := node.ChildByFieldName("name"); name != nil {
		shape.Name = name.Content(source)
	}
	if returns := node.ChildByFieldName("return_type"); returns != nil {
		shape.ReturnType = returns.Content(source)
	}
	if params := node.ChildByFieldName("parameters"); params != nil {
		for i := 0; i < int(params.NamedChildCount()); i++ {
			param := paramName(params.NamedChild(i), source)
			if param != "" && param != "self" {
				shape.Params = append(shape.Params, param)
			}
		}
	}
	// Decorators attach through a wrapping decorated_definition node.
	if parent := node.Parent(); parent != nil && parent.Type() == "decorated_definition" {
		for i := 0; i < int(parent.NamedChildCount()); i++ {
			child := parent.NamedChild(i)
			if child.Type() == "decorator" {
				shape.Decorators = append(shape.Decorators,
					strings.TrimPrefix(child.Content(source), "@"))
			}
		}
	}
	return shape
}

func paramName(node *sitter.Node, source []byte) string {
	switch node.Type() {
	case "identifier":
		return node.Content(source)
	case "typed_parameter", "list_splat_pattern", "dictionary_splat_pattern":
		for i := 0; i < int(node.NamedChildCount()); i++ {
			if child := node.NamedChild(i); child.Type() == "identifier" {
				return child.Content(source)
			}
		}
	case "default_parameter", "typed_default_parameter":
		if name := node.ChildByFieldName("name"); name != nil {
			return name.Content(source)
		}
	}
	return ""
}

func pythonClass(node *sitter.Node, source []byte) ClassShape {
	shape := ClassShape{}
	if name := node.ChildByFieldName("name"); name != nil {
		shape.Name = name.Content(source)
	}
	if supers := node.ChildByFieldName("superclasses"); supers != nil {
		for i := 0; i < int(supers.NamedChildCount()); i++ {
			shape.Bases = append(shape.Bases, supers.NamedChild(i).Content(source))
		}
	}
	return shape
}

func pythonImports(node *sitter.Node, source []byte) []ImportShape {
	imports := []ImportShape{}
	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		switch child.Type() {
		case "dotted_name":
			imports = append(imports, ImportShape{Kind: "import", Module: child.Content(source)})
		case "aliased_import":
			if name := child.ChildByFieldName("name"); name != nil {
				imports = append(imports, ImportShape{Kind: "import", Module: name.Content(source)})
			}
		}
	}
	return imports
}

func pythonFromImport(node *sitter.Node, source []byte) ImportShape {
	shape := ImportShape{Kind: "from"}
	if module := node.ChildByFieldName("module_name"); module != nil {
		shape.Module = module.Content(source)
	}
	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		switch child.Type() {
		case "dotted_name":
			if content := child.Content(source); content != shape.Module {
				shape.Names = append(shape.Names, content)
			}
		case "aliased_import":
			if name := child.ChildByFieldName("name"); name != nil {
				shape.Names = append(shape.Names, name.Content(source))
			}
		case "wildcard_import":
			shape.Names = append(shape.Names, "*")
		}
	}
	return shape
}

var broadExceptionNames = map[string]bool{"Exception": true, "BaseException": true}

func pythonHandler(node *sitter.Node, source []byte) HandlerShape {
	shape := HandlerShape{}
	var exprNode *sitter.Node
	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		if child.Type() != "block" {
			exprNode = child
			break
		}
	}
	if exprNode == nil {
		// Bare except.
		shape.BroadCatch = true
		return shape
	}
	if exprNode.Type() == "tuple" {
		for i := 0; i < int(exprNode.NamedChildCount()); i++ {
			shape.Exceptions = append(shape.Exceptions, exprNode.NamedChild(i).Content(source))
		}
	} else {
		shape.Exceptions = append(shape.Exceptions, exprNode.Content(source))
	}
	for _, name := range shape.Exceptions {
		if broadExceptionNames[name] {
			shape.BroadCatch = true
		}
	}
	return shape
}

// TypeScript and JavaScript fall back to regex extraction, which trades
// precision for zero grammar maintenance.
var (
	tsFuncRe   = regexp.MustCompile(`(?:export\s+)?(?:async\s+)?function\s+(\w+)\s*\(`)
	tsArrowRe  = regexp.MustCompile(`(?:export\s+)?(?:const|let|var)\s+(\w+)\s*=\s*(?:async\s+)?\(`)
	tsClassRe  = regexp.MustCompile(`class\s+(\w+)(?:\s+extends\s+(\w+))?`)
	tsImportRe = regexp.MustCompile(`import\s+.+?\s+from\s+['"]([^'"]+)['"]`)
	tsCatchRe  = regexp.MustCompile(`catch\s*\(\s*(\w+)`)
)

// ExtractTypeScriptShapes extracts shapes from TypeScript or JavaScript.
func ExtractTypeScriptShapes(source string) FileShapes {
	var shapes FileShapes
	if strings.TrimSpace(source) == "" {
		return shapes
	}

	for _, m := range tsFuncRe.FindAllStringSubmatch(source, -1) {
		shapes.Functions = append(shapes.Functions, FunctionShape{Name: m[1], Kind: "function"})
	}
	for _, m := range tsArrowRe.FindAllStringSubmatch(source, -1) {
		shapes.Functions = append(shapes.Functions, FunctionShape{Name: m[1], Kind: "arrow"})
	}
	for _, m := range tsClassRe.FindAllStringSubmatch(source, -1) {
		shapes.Classes = append(shapes.Classes, ClassShape{Name: m[1], Bases: nonEmpty(m[2])})
	}
	for _, m := range tsImportRe.FindAllStringSubmatch(source, -1) {
		shapes.Imports = append(shapes.Imports, ImportShape{Kind: "import", Module: m[1]})
	}
	for range tsCatchRe.FindAllString(source, -1) {
		// catch(e) in TS/JS is untyped, so every handler counts as broad.
		shapes.ErrorHandlers = append(shapes.ErrorHandlers, HandlerShape{BroadCatch: true})
	}
	return shapes
}

func nonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	return []string{s}
}

// Risk smell kinds.
const (
	SmellStringBuiltQuery  = "string_built_query"
	SmellUncheckedPathJoin = "unchecked_path_join"
	SmellQueryInLoop       = "query_in_loop"
	SmellNestedLoopIO      = "nested_loop_io"
)

var (
	queryCallRe    = regexp.MustCompile(`(?i)\b(execute|executemany|query|raw)\s*\(`)
	interpolatedRe = regexp.MustCompile(`f["']|["']\s*\+|\+\s*["']|\.format\(|%\s*\(|\$\{`)
	pathJoinRe     = regexp.MustCompile(`(?i)(?:os\.path|path|filepath)\.join\s*\(`)
	taintedInputRe = regexp.MustCompile(`request\.|req\.|params\b|argv\b|input\(`)
	loopHeadRe     = regexp.MustCompile(`^\s*for[\s(]`)
	ioCallRe       = regexp.MustCompile(`\bopen\(|\.read\(|\.write\(|requests\.|fetch\(|urlopen\(`)
)

// extractRiskShapes line-scans source for the call shapes the security and
// performance heuristics score: queries assembled by string interpolation,
// path joins fed from request input, queries issued inside a loop, and IO
// inside nested loops. Loop nesting is tracked by indentation, which holds
// for Python and for conventionally formatted TS/JS.
func extractRiskShapes(source string) (security, performance []RiskShape) {
	var loopIndents []int
	for i, line := range strings.Split(source, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		indent := indentWidth(line)
		for len(loopIndents) > 0 && indent <= loopIndents[len(loopIndents)-1] {
			loopIndents = loopIndents[:len(loopIndents)-1]
		}
		lineNo := i + 1

		if queryCallRe.MatchString(trimmed) {
			if interpolatedRe.MatchString(trimmed) {
				security = append(security, RiskShape{Kind: SmellStringBuiltQuery, Line: lineNo})
			}
			if len(loopIndents) > 0 {
				performance = append(performance, RiskShape{Kind: SmellQueryInLoop, Line: lineNo})
			}
		} else if len(loopIndents) >= 2 && ioCallRe.MatchString(trimmed) {
			performance = append(performance, RiskShape{Kind: SmellNestedLoopIO, Line: lineNo})
		}
		if pathJoinRe.MatchString(trimmed) && taintedInputRe.MatchString(trimmed) {
			security = append(security, RiskShape{Kind: SmellUncheckedPathJoin, Line: lineNo})
		}
		if loopHeadRe.MatchString(line) {
			loopIndents = append(loopIndents, indent)
		}
	}
	return security, performance
}

func indentWidth(line string) int {
	width := 0
	for _, r := range line {
		switch r {
		case ' ':
			width++
		case '\t':
			width += 4
		default:
			return width
		}
	}
	return width
}

// Cross-file repetition thresholds.
const (
	functionRepeatThreshold = 3
	classBaseThreshold      = 3
	handlerRepeatThreshold  = 4
	riskSmellThreshold      = 3
)

// smellDescriptions phrases each risk smell as a reviewable observation.
var smellDescriptions = map[string]string{
	SmellStringBuiltQuery:  "Queries assembled from string interpolation instead of parameters",
	SmellUncheckedPathJoin: "Path joins built from request input without validation",
	SmellQueryInLoop:       "Query executed inside a loop",
	SmellNestedLoopIO:      "IO performed inside nested loops",
}

// FindRepeatedPatterns aggregates shapes across files and emits detections
// for signatures, base classes, and handler sets repeated above threshold.
func FindRepeatedPatterns(shapesByFile map[string]FileShapes) []Detection {
	if len(shapesByFile) == 0 {
		return nil
	}

	funcCounts := map[string]int{}
	funcFiles := map[string][]string{}
	baseCounts := map[string]int{}
	baseFiles := map[string][]string{}
	handlerCounts := map[string]int{}
	handlerFiles := map[string][]string{}
	broadCount := 0
	broadFiles := []string{}
	securityCounts := map[string]int{}
	securityFiles := map[string][]string{}
	perfCounts := map[string]int{}
	perfFiles := map[string][]string{}

	files := make([]string, 0, len(shapesByFile))
	for file := range shapesByFile {
		files = append(files, file)
	}
	sort.Strings(files)

	for _, file := range files {
		shapes := shapesByFile[file]
		for _, fn := range shapes.Functions {
			sig := fmt.Sprintf("%s(%s)", fn.Name, strings.Join(fn.Params, ","))
			funcCounts[sig]++
			funcFiles[sig] = append(funcFiles[sig], file)
		}
		for _, cls := range shapes.Classes {
			for _, base := range cls.Bases {
				if base == "" {
					continue
				}
				baseCounts[base]++
				baseFiles[base] = append(baseFiles[base], file)
			}
		}
		seenBroad := false
		for _, handler := range shapes.ErrorHandlers {
			if handler.BroadCatch {
				broadCount++
				if !seenBroad {
					seenBroad = true
					broadFiles = append(broadFiles, file)
				}
			}
			sorted := append([]string(nil), handler.Exceptions...)
			sort.Strings(sorted)
			key := strings.Join(sorted, ",")
			if key == "" {
				continue
			}
			handlerCounts[key]++
			handlerFiles[key] = append(handlerFiles[key], file)
		}
		countSmells(file, shapes.Security, securityCounts, securityFiles)
		countSmells(file, shapes.Performance, perfCounts, perfFiles)
	}

	detections := []Detection{}
	for _, sig := range sortedKeys(funcCounts) {
		count := funcCounts[sig]
		if count < functionRepeatThreshold {
			continue
		}
		detections = append(detections, Detection{
			Type:          DetectionCodePattern,
			Heuristic:     HeuristicRepeatedBlock,
			Count:         count,
			ConfidenceRaw: clampMax(0.4+float64(count)*0.1, 0.9),
			Files:         funcFiles[sig],
			Description:   "Repeated function signature: " + sig,
			Instances: []map[string]any{
				{"signature": sig, "count": count},
			},
		})
	}
	for _, base := range sortedKeys(baseCounts) {
		count := baseCounts[base]
		if count < classBaseThreshold {
			continue
		}
		detections = append(detections, Detection{
			Type:          DetectionCodePattern,
			Heuristic:     HeuristicRepeatedBlock,
			Count:         count,
			ConfidenceRaw: clampMax(0.4+float64(count)*0.1, 0.9),
			Files:         baseFiles[base],
			Description:   "Repeated class hierarchy: extends " + base,
			Instances: []map[string]any{
				{"base_class": base, "count": count},
			},
		})
	}
	for _, key := range sortedKeys(handlerCounts) {
		count := handlerCounts[key]
		if count < handlerRepeatThreshold {
			continue
		}
		detections = append(detections, Detection{
			Type:          DetectionCodePattern,
			Heuristic:     HeuristicRepeatedBlock,
			Count:         count,
			ConfidenceRaw: clampMax(0.3+float64(count)*0.1, 0.85),
			Files:         handlerFiles[key],
			Description:   "Repeated error handler: except " + key,
			Instances: []map[string]any{
				{"exceptions": key, "count": count},
			},
		})
	}
	if broadCount >= handlerRepeatThreshold {
		detections = append(detections, Detection{
			Type:          DetectionCodePattern,
			Heuristic:     HeuristicSecurityShape,
			Count:         broadCount,
			ConfidenceRaw: clampMax(0.3+float64(broadCount)*0.1, 0.85),
			Files:         broadFiles,
			Description:   "Broad exception handlers swallow errors",
			Instances: []map[string]any{
				{"broad_catches": broadCount},
			},
		})
	}
	detections = append(detections, smellDetections(HeuristicSecurityShape, securityCounts, securityFiles)...)
	detections = append(detections, smellDetections(HeuristicPerformance, perfCounts, perfFiles)...)
	return detections
}

// countSmells buckets one file's risk shapes by kind, recording each file
// once per kind.
func countSmells(file string, shapes []RiskShape, counts map[string]int, files map[string][]string) {
	seen := map[string]bool{}
	for _, shape := range shapes {
		counts[shape.Kind]++
		if !seen[shape.Kind] {
			seen[shape.Kind] = true
			files[shape.Kind] = append(files[shape.Kind], file)
		}
	}
}

func smellDetections(heuristic Heuristic, counts map[string]int, files map[string][]string) []Detection {
	detections := []Detection{}
	for _, kind := range sortedKeys(counts) {
		count := counts[kind]
		if count < riskSmellThreshold {
			continue
		}
		detections = append(detections, Detection{
			Type:          DetectionCodePattern,
			Heuristic:     heuristic,
			Count:         count,
			ConfidenceRaw: clampMax(0.4+float64(count)*0.1, 0.9),
			Files:         files[kind],
			Description:   smellDescriptions[kind],
			Instances: []map[string]any{
				{"smell": kind, "count": count},
			},
		})
	}
	return detections
}

func sortedKeys(counts map[string]int) []string {
	keys := make([]string, 0, len(counts))
	for key := range counts {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
