// Package retrieval routes search queries across two corpora: the external
// semantic code-search binary and the governance document index. A heuristic
// classifier picks the corpus; hybrid queries fan out to both and merge.
package retrieval

// Corpus identifies where a query is answered.
type Corpus string

const (
	CorpusCode       Corpus = "code"
	CorpusGovernance Corpus = "governance"
	CorpusHybrid     Corpus = "hybrid"
)

// Result is one ranked hit from either corpus. Score is bounded to (0, 1]
// so results from different backends merge on a shared scale.
type Result struct {
	Rank       int     `json:"rank"`
	Score      float64 `json:"score"`
	FilePath   string  `json:"file_path"`
	ChunkIndex int     `json:"chunk_index"`
	LineStart  int     `json:"line_start,omitempty"`
	LineEnd    int     `json:"line_end,omitempty"`
	Title      string  `json:"title,omitempty"`
	Excerpt    string  `json:"excerpt"`
	Corpus     Corpus  `json:"corpus"`
}

// Response bundles hits with timing and the corpus that answered.
type Response struct {
	Results     []Result `json:"results"`
	Corpus      Corpus   `json:"corpus"`
	QueryTimeMS float64  `json:"query_time_ms"`
}

// Status describes the code index backend.
type Status struct {
	Available         bool   `json:"available"`
	LastIndexedCommit string `json:"last_indexed_commit,omitempty"`
	TotalFiles        int    `json:"total_files,omitempty"`
	Model             string `json:"model,omitempty"`
	LastIndexedAt     string `json:"last_indexed_at,omitempty"`
	Stale             bool   `json:"stale"`
}
