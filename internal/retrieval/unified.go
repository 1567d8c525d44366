package retrieval

import (
	"context"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"git.home.luguber.info/inful/stratus/internal/governance"
	"git.home.luguber.info/inful/stratus/internal/logfields"
)

var codeKeywords = map[string]bool{
	"function": true, "class": true, "import": true, "endpoint": true,
	"func": true, "method": true, "struct": true,
}

var governanceKeywords = map[string]bool{
	"rule": true, "adr": true, "decision": true, "policy": true,
	"standard": true, "convention": true, "guideline": true,
}

var (
	pathToken  = regexp.MustCompile(`[\w.-]+/[\w./-]+`)
	camelIdent = regexp.MustCompile(`\b[a-z][a-zA-Z0-9]*[A-Z]\w*\b`)
	snakeIdent = regexp.MustCompile(`\b\w+_\w+\b`)
	callShape  = regexp.MustCompile(`\w+\(`)
)

// Classify maps a free-form query to a corpus. Path-like tokens, identifier
// shapes, or code keywords pick the code corpus; governance vocabulary picks
// governance; anything else fans out hybrid.
func Classify(query string) Corpus {
	lower := strings.ToLower(query)

	for _, word := range strings.Fields(lower) {
		if codeKeywords[strings.Trim(word, ".,:;?!")] {
			return CorpusCode
		}
	}
	if pathToken.MatchString(query) || camelIdent.MatchString(query) ||
		snakeIdent.MatchString(query) || callShape.MatchString(query) {
		return CorpusCode
	}

	for _, word := range strings.Fields(lower) {
		if governanceKeywords[strings.Trim(word, ".,:;?!")] {
			return CorpusGovernance
		}
	}

	return CorpusHybrid
}

// CodeSearcher is the code corpus seam.
type CodeSearcher interface {
	Search(ctx context.Context, query string, topK int) (Response, error)
}

// GovernanceSearcher is the governance corpus seam.
type GovernanceSearcher interface {
	Search(ctx context.Context, query string, docType governance.DocType, topK int) ([]governance.SearchResult, error)
}

// Retriever fans queries out across the enabled corpora.
type Retriever struct {
	code              CodeSearcher
	gov               GovernanceSearcher
	codeEnabled       bool
	governanceEnabled bool
	logger            *slog.Logger
}

// NewRetriever wires the two corpora. Either searcher may be nil when its
// corpus is disabled.
func NewRetriever(code CodeSearcher, gov GovernanceSearcher, codeEnabled, governanceEnabled bool, logger *slog.Logger) *Retriever {
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{
		code:              code,
		gov:               gov,
		codeEnabled:       codeEnabled && code != nil,
		governanceEnabled: governanceEnabled && gov != nil,
		logger:            logger,
	}
}

// Retrieve answers a query. An empty corpus means auto-classify. In hybrid
// mode one unavailable backend degrades silently to the other's results.
func (r *Retriever) Retrieve(ctx context.Context, query string, corpus Corpus, topK int) (Response, error) {
	if topK <= 0 {
		topK = 10
	}
	if corpus == "" {
		corpus = Classify(query)
	}

	start := time.Now()
	var response Response
	var err error

	switch corpus {
	case CorpusCode:
		response, err = r.codeSearch(ctx, query, topK)
	case CorpusGovernance:
		response, err = r.governanceSearch(ctx, query, topK)
	default:
		response, err = r.hybridSearch(ctx, query, topK)
	}
	if err != nil {
		return response, err
	}

	response.QueryTimeMS = float64(time.Since(start).Microseconds()) / 1000.0
	return response, nil
}

func (r *Retriever) codeSearch(ctx context.Context, query string, topK int) (Response, error) {
	if !r.codeEnabled {
		return Response{Results: []Result{}, Corpus: CorpusCode}, nil
	}
	return r.code.Search(ctx, query, topK)
}

func (r *Retriever) governanceSearch(ctx context.Context, query string, topK int) (Response, error) {
	if !r.governanceEnabled {
		return Response{Results: []Result{}, Corpus: CorpusGovernance}, nil
	}
	hits, err := r.gov.Search(ctx, query, "", topK)
	if err != nil {
		return Response{Results: []Result{}, Corpus: CorpusGovernance}, err
	}
	return Response{Results: governanceResults(hits), Corpus: CorpusGovernance}, nil
}

// hybridSearch queries both corpora in parallel and merges with a
// per-corpus floor: each contributes up to ceil(topK/2) of its best hits
// before the remainder is padded by score.
func (r *Retriever) hybridSearch(ctx context.Context, query string, topK int) (Response, error) {
	var codeHits, govHits []Result
	var wg sync.WaitGroup

	if r.codeEnabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := r.code.Search(ctx, query, topK)
			if err != nil {
				r.logger.Debug("code backend unavailable in hybrid search",
					logfields.Query(query), logfields.Error(err))
				return
			}
			codeHits = resp.Results
		}()
	}
	if r.governanceEnabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			hits, err := r.gov.Search(ctx, query, "", topK)
			if err != nil {
				r.logger.Debug("governance backend unavailable in hybrid search",
					logfields.Query(query), logfields.Error(err))
				return
			}
			govHits = governanceResults(hits)
		}()
	}
	wg.Wait()

	return Response{
		Results: MergeHybrid(codeHits, govHits, topK),
		Corpus:  CorpusHybrid,
	}, nil
}

// MergeHybrid merges two ranked lists. Each corpus is guaranteed up to
// ceil(topK/2) slots for its best hits; leftover slots go to the
// higher-scoring tail regardless of corpus. Ranks are reassigned.
func MergeHybrid(codeHits, govHits []Result, topK int) []Result {
	floor := (topK + 1) / 2

	byScore := func(hits []Result) []Result {
		sorted := append([]Result(nil), hits...)
		sort.SliceStable(sorted, func(i, j int) bool {
			return sorted[i].Score > sorted[j].Score
		})
		return sorted
	}
	codeSorted := byScore(codeHits)
	govSorted := byScore(govHits)

	take := func(hits []Result, n int) ([]Result, []Result) {
		if n > len(hits) {
			n = len(hits)
		}
		return hits[:n], hits[n:]
	}

	codeHead, codeTail := take(codeSorted, floor)
	govHead, govTail := take(govSorted, floor)

	merged := append(append([]Result{}, codeHead...), govHead...)
	tail := append(append([]Result{}, codeTail...), govTail...)
	sort.SliceStable(tail, func(i, j int) bool { return tail[i].Score > tail[j].Score })

	for _, hit := range tail {
		if len(merged) >= topK {
			break
		}
		merged = append(merged, hit)
	}
	if len(merged) > topK {
		sort.SliceStable(merged, func(i, j int) bool { return merged[i].Score > merged[j].Score })
		merged = merged[:topK]
	}

	sort.SliceStable(merged, func(i, j int) bool { return merged[i].Score > merged[j].Score })
	for i := range merged {
		merged[i].Rank = i + 1
	}
	return merged
}

func governanceResults(hits []governance.SearchResult) []Result {
	results := make([]Result, 0, len(hits))
	for i, hit := range hits {
		results = append(results, Result{
			Rank:       i + 1,
			Score:      hit.Score,
			FilePath:   hit.FilePath,
			ChunkIndex: hit.ChunkIndex,
			Title:      hit.Title,
			Excerpt:    hit.Content,
			Corpus:     CorpusGovernance,
		})
	}
	return results
}
