package retrieval

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	derrors "git.home.luguber.info/inful/stratus/internal/errors"
	"git.home.luguber.info/inful/stratus/internal/governance"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		query string
		want  Corpus
	}{
		{"where is the retry function", CorpusCode},
		{"class hierarchy for the coordinator", CorpusCode},
		{"internal/storage/storage.go", CorpusCode},
		{"saveEvent usage", CorpusCode},
		{"dedupe_key handling", CorpusCode},
		{"ParseVerdict(", CorpusCode},
		{"naming convention for branches", CorpusGovernance},
		{"what did the adr decide", CorpusGovernance},
		{"policy on secrets", CorpusGovernance},
		{"how does indexing work", CorpusHybrid},
		{"slow startup", CorpusHybrid},
	}
	for _, tc := range cases {
		t.Run(tc.query, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.query))
		})
	}
}

func TestParsePorcelain(t *testing.T) {
	output := "1\t0.91\tsrc/app.py\t0\t10\t42\tsetup :: def create_app():\n" +
		"2\t0.85\tsrc/db.py\t3\t1\t20\tno-heading-separator\n" +
		"garbage line\n" +
		"3\tnot-a-score\tsrc/x.py\t0\t1\t2\th :: e\n"

	results := ParsePorcelain(output)
	require.Len(t, results, 2)

	assert.Equal(t, 1, results[0].Rank)
	assert.InDelta(t, 0.91, results[0].Score, 1e-9)
	assert.Equal(t, "src/app.py", results[0].FilePath)
	assert.Equal(t, 42, results[0].LineEnd)
	assert.Equal(t, "setup", results[0].Title)
	assert.Equal(t, "def create_app():", results[0].Excerpt)

	assert.Equal(t, "no-heading-separator", results[1].Excerpt)
	assert.Empty(t, results[1].Title)
}

func TestParseShowOutput(t *testing.T) {
	status := parseShowOutput(`Cached index details for /repo:
Mode: auto
Model: intfloat/multilingual-e5-small
Files: 312
Generated at: 2026-02-19T11:23:16.928913+00:00
`)
	assert.Equal(t, 312, status.TotalFiles)
	assert.Equal(t, "intfloat/multilingual-e5-small", status.Model)
	assert.Equal(t, "2026-02-19T11:23:16.928913+00:00", status.LastIndexedAt)
}

func TestMergeHybridPerCorpusFloor(t *testing.T) {
	code := []Result{
		{FilePath: "a.go", Score: 0.9, Corpus: CorpusCode},
		{FilePath: "b.go", Score: 0.8, Corpus: CorpusCode},
		{FilePath: "c.go", Score: 0.7, Corpus: CorpusCode},
		{FilePath: "d.go", Score: 0.6, Corpus: CorpusCode},
	}
	gov := []Result{
		{FilePath: "rules.md", Score: 0.3, Corpus: CorpusGovernance},
		{FilePath: "adr.md", Score: 0.2, Corpus: CorpusGovernance},
	}

	merged := MergeHybrid(code, gov, 4)
	require.Len(t, merged, 4)

	var govCount int
	for _, hit := range merged {
		if hit.Corpus == CorpusGovernance {
			govCount++
		}
	}
	// Governance keeps its floor slots despite lower scores.
	assert.Equal(t, 2, govCount)
	assert.Equal(t, 1, merged[0].Rank)
	assert.Equal(t, "a.go", merged[0].FilePath)
}

func TestMergeHybridPadsWhenOneCorpusShort(t *testing.T) {
	code := []Result{
		{FilePath: "a.go", Score: 0.9, Corpus: CorpusCode},
		{FilePath: "b.go", Score: 0.8, Corpus: CorpusCode},
		{FilePath: "c.go", Score: 0.7, Corpus: CorpusCode},
		{FilePath: "d.go", Score: 0.6, Corpus: CorpusCode},
	}
	merged := MergeHybrid(code, nil, 4)
	require.Len(t, merged, 4)
	assert.Equal(t, "d.go", merged[3].FilePath)
}

type fakeCode struct {
	results []Result
	err     error
}

func (f *fakeCode) Search(_ context.Context, _ string, _ int) (Response, error) {
	if f.err != nil {
		return Response{}, f.err
	}
	return Response{Results: f.results, Corpus: CorpusCode}, nil
}

type fakeGov struct {
	hits []governance.SearchResult
	err  error
}

func (f *fakeGov) Search(_ context.Context, _ string, _ governance.DocType, _ int) ([]governance.SearchResult, error) {
	return f.hits, f.err
}

func TestRetrieveHybridDegradesWhenBackendDown(t *testing.T) {
	code := &fakeCode{err: derrors.BackendUnavailable("vexor", assert.AnError)}
	gov := &fakeGov{hits: []governance.SearchResult{
		{FilePath: "rules.md", Title: "Slugs", Content: "kebab-case", Score: 0.5},
	}}
	retriever := NewRetriever(code, gov, true, true, nil)

	resp, err := retriever.Retrieve(context.Background(), "how do we index", CorpusHybrid, 10)
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, CorpusGovernance, resp.Results[0].Corpus)
	assert.Equal(t, CorpusHybrid, resp.Corpus)
}

func TestRetrieveAutoClassifies(t *testing.T) {
	code := &fakeCode{results: []Result{{FilePath: "a.go", Score: 0.9, Corpus: CorpusCode}}}
	gov := &fakeGov{}
	retriever := NewRetriever(code, gov, true, true, nil)

	resp, err := retriever.Retrieve(context.Background(), "where is the retry function", "", 5)
	require.NoError(t, err)
	assert.Equal(t, CorpusCode, resp.Corpus)
	require.Len(t, resp.Results, 1)
}

func TestRetrieveDisabledCorpusReturnsEmpty(t *testing.T) {
	retriever := NewRetriever(nil, nil, false, false, nil)
	resp, err := retriever.Retrieve(context.Background(), "anything at all", CorpusCode, 5)
	require.NoError(t, err)
	assert.Empty(t, resp.Results)
}
