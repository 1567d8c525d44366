package governance

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	derrors "git.home.luguber.info/inful/stratus/internal/errors"
	"git.home.luguber.info/inful/stratus/internal/storage"
)

// DocType classifies a governance document by its location convention.
type DocType string

const (
	DocRule         DocType = "rule"
	DocADR          DocType = "adr"
	DocTemplate     DocType = "template"
	DocSkill        DocType = "skill"
	DocAgent        DocType = "agent"
	DocArchitecture DocType = "architecture"
	DocProject      DocType = "project"
)

// docPatterns maps crawl globs to doc types, in precedence order.
var docPatterns = []struct {
	glob    string
	docType DocType
}{
	{".claude/rules/*.md", DocRule},
	{"docs/decisions/*.md", DocADR},
	{".claude/templates/*.md", DocTemplate},
	{".claude/skills/**/*.md", DocSkill},
	{".claude/agents/*.md", DocAgent},
	{"docs/architecture/*.md", DocArchitecture},
	{"**/CLAUDE.md", DocProject},
	{"**/README.md", DocProject},
}

var skipDirs = map[string]bool{
	"node_modules": true, ".git": true, ".venv": true, "venv": true,
	"__pycache__": true, "dist": true, "build": true, ".next": true,
	"out": true, "target": true, ".gradle": true, "vendor": true,
	"coverage": true, ".cache": true, ".tox": true, ".mypy_cache": true,
	".pytest_cache": true, ".ruff_cache": true, ".worktrees": true,
}

var migrations = []storage.Migration{
	{Version: 1, Statements: []string{
		`CREATE TABLE IF NOT EXISTS governance_docs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    file_path TEXT NOT NULL,
    chunk_index INTEGER NOT NULL DEFAULT 0,
    title TEXT NOT NULL DEFAULT '',
    content TEXT NOT NULL,
    doc_type TEXT NOT NULL,
    file_hash TEXT NOT NULL,
    indexed_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now')),
    UNIQUE(file_path, chunk_index)
)`,
		`CREATE VIRTUAL TABLE IF NOT EXISTS governance_fts USING fts5(
    title, content, doc_type,
    content='governance_docs', content_rowid='id',
    tokenize='porter unicode61'
)`,
		`CREATE TRIGGER IF NOT EXISTS governance_docs_ai AFTER INSERT ON governance_docs BEGIN
    INSERT INTO governance_fts(rowid, title, content, doc_type)
    VALUES (new.id, new.title, new.content, new.doc_type);
END`,
		`CREATE TRIGGER IF NOT EXISTS governance_docs_ad AFTER DELETE ON governance_docs BEGIN
    INSERT INTO governance_fts(governance_fts, rowid, title, content, doc_type)
    VALUES ('delete', old.id, old.title, old.content, old.doc_type);
END`,
		`CREATE TRIGGER IF NOT EXISTS governance_docs_au AFTER UPDATE ON governance_docs BEGIN
    INSERT INTO governance_fts(governance_fts, rowid, title, content, doc_type)
    VALUES ('delete', old.id, old.title, old.content, old.doc_type);
    INSERT INTO governance_fts(rowid, title, content, doc_type)
    VALUES (new.id, new.title, new.content, new.doc_type);
END`,
	}},
}

// Store indexes and searches governance documents in governance.db.
type Store struct {
	db *storage.DB
}

// Open opens (or creates) the governance database at path and migrates it.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := storage.Open(path)
	if err != nil {
		return nil, err
	}
	if err := storage.Migrate(ctx, db, migrations); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// OpenMemory opens an in-memory store for tests.
func OpenMemory(ctx context.Context) (*Store, error) {
	db, err := storage.OpenMemory()
	if err != nil {
		return nil, err
	}
	if err := storage.Migrate(ctx, db, migrations); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// IndexResult summarizes one reindex pass.
type IndexResult struct {
	FilesIndexed  int `json:"files_indexed"`
	FilesSkipped  int `json:"files_skipped"`
	FilesRemoved  int `json:"files_removed"`
	ChunksIndexed int `json:"chunks_indexed"`
}

// IndexProject crawls the governance doc locations under projectRoot,
// reindexes new or changed files (one transaction per file, so an
// interrupted run never leaves a partially chunked file), and removes
// entries whose files are gone. Unchanged files cost zero write
// transactions.
func (s *Store) IndexProject(ctx context.Context, projectRoot string) (IndexResult, error) {
	root, err := filepath.Abs(projectRoot)
	if err != nil {
		return IndexResult{}, derrors.Validationf("bad project root %q: %v", projectRoot, err)
	}

	found, err := crawl(root)
	if err != nil {
		return IndexResult{}, err
	}

	existing, err := s.existingHashes(ctx, root)
	if err != nil {
		return IndexResult{}, err
	}

	var result IndexResult
	for path, docType := range found {
		content, err := os.ReadFile(path)
		if err != nil {
			// Race with deletion; treat as absent.
			continue
		}
		sum := sha256.Sum256(content)
		newHash := hex.EncodeToString(sum[:])

		if existing[path] == newHash {
			result.FilesSkipped++
			continue
		}

		chunks := ChunkMarkdown(content, filepath.Base(path))
		err = s.db.Tx(ctx, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx,
				"DELETE FROM governance_docs WHERE file_path = ?", path); err != nil {
				return err
			}
			for idx, chunk := range chunks {
				if _, err := tx.ExecContext(ctx,
					`INSERT INTO governance_docs
                     (file_path, chunk_index, title, content, doc_type, file_hash)
                     VALUES (?, ?, ?, ?, ?, ?)`,
					path, idx, chunk.Title, chunk.Content, string(docType), newHash); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return result, derrors.StorageUnavailable(err).WithContext("path", path)
		}
		result.FilesIndexed++
		result.ChunksIndexed += len(chunks)
	}

	for path := range existing {
		if _, stillThere := found[path]; stillThere {
			continue
		}
		err := s.db.Tx(ctx, func(tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx,
				"DELETE FROM governance_docs WHERE file_path = ?", path)
			return err
		})
		if err != nil {
			return result, derrors.StorageUnavailable(err).WithContext("path", path)
		}
		result.FilesRemoved++
	}

	return result, nil
}

func crawl(root string) (map[string]DocType, error) {
	found := map[string]DocType{}
	fsys := os.DirFS(root)
	for _, dp := range docPatterns {
		matches, err := doublestar.Glob(fsys, dp.glob)
		if err != nil {
			return nil, derrors.Internal(err, "glob "+dp.glob)
		}
		for _, rel := range matches {
			if inSkipDir(rel) {
				continue
			}
			abs := filepath.Join(root, filepath.FromSlash(rel))
			info, err := os.Lstat(abs)
			if err != nil || !info.Mode().IsRegular() {
				continue
			}
			if strings.ToLower(filepath.Ext(abs)) != ".md" {
				continue
			}
			if _, seen := found[abs]; !seen {
				found[abs] = dp.docType
			}
		}
	}
	return found, nil
}

func inSkipDir(rel string) bool {
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		if skipDirs[part] {
			return true
		}
	}
	return false
}

func (s *Store) existingHashes(ctx context.Context, root string) (map[string]string, error) {
	rows, err := s.db.Handle().QueryContext(ctx,
		"SELECT DISTINCT file_path, file_hash FROM governance_docs WHERE file_path LIKE ?",
		root+"%")
	if err != nil {
		return nil, derrors.StorageUnavailable(err)
	}
	defer rows.Close()

	existing := map[string]string{}
	for rows.Next() {
		var path, hash string
		if err := rows.Scan(&path, &hash); err != nil {
			return nil, derrors.StorageUnavailable(err)
		}
		existing[path] = hash
	}
	return existing, rows.Err()
}

// SearchResult is one ranked chunk. Score is bounded to (0, 1].
type SearchResult struct {
	FilePath   string  `json:"file_path"`
	Title      string  `json:"title"`
	Content    string  `json:"content"`
	DocType    DocType `json:"doc_type"`
	ChunkIndex int     `json:"chunk_index"`
	Score      float64 `json:"score"`
}

// Search runs an FTS query ranked by bm25, best first. The raw bm25 value
// (lower is better, typically negative) is mapped to 1/(1+|bm25|) so scores
// are comparable across corpora. Ties break on indexed_at recency.
func (s *Store) Search(ctx context.Context, query string, docType DocType, topK int) ([]SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return []SearchResult{}, nil
	}
	if topK <= 0 {
		topK = 10
	}

	where := "governance_fts MATCH ?"
	args := []any{storage.FTSQuery(query)}
	if docType != "" {
		where += " AND g.doc_type = ?"
		args = append(args, string(docType))
	}
	args = append(args, topK)

	rows, err := s.db.Handle().QueryContext(ctx,
		`SELECT g.file_path, g.title, g.content, g.doc_type, g.chunk_index,
                bm25(governance_fts) AS rank
         FROM governance_docs g
         JOIN governance_fts ON governance_fts.rowid = g.id
         WHERE `+where+`
         ORDER BY rank ASC, g.indexed_at DESC
         LIMIT ?`, args...)
	if err != nil {
		return nil, derrors.StorageUnavailable(err)
	}
	defer rows.Close()

	results := []SearchResult{}
	for rows.Next() {
		var r SearchResult
		var rank float64
		if err := rows.Scan(&r.FilePath, &r.Title, &r.Content, &r.DocType,
			&r.ChunkIndex, &rank); err != nil {
			return nil, derrors.StorageUnavailable(err)
		}
		r.Score = 1.0 / (1.0 + math.Abs(rank))
		results = append(results, r)
	}
	return results, rows.Err()
}

// Document is one indexed file.
type Document struct {
	FilePath string  `json:"file_path"`
	DocType  DocType `json:"doc_type"`
}

// ListDocuments lists all indexed files, sorted by path.
func (s *Store) ListDocuments(ctx context.Context) ([]Document, error) {
	rows, err := s.db.Handle().QueryContext(ctx,
		`SELECT DISTINCT file_path, doc_type FROM governance_docs ORDER BY file_path`)
	if err != nil {
		return nil, derrors.StorageUnavailable(err)
	}
	defer rows.Close()

	docs := []Document{}
	for rows.Next() {
		var d Document
		if err := rows.Scan(&d.FilePath, &d.DocType); err != nil {
			return nil, derrors.StorageUnavailable(err)
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// Stats reports file and chunk counts with a doc_type breakdown.
type Stats struct {
	TotalFiles  int             `json:"total_files"`
	TotalChunks int             `json:"total_chunks"`
	ByDocType   map[DocType]int `json:"by_doc_type"`
}

// GetStats counts indexed files and chunks.
func (s *Store) GetStats(ctx context.Context) (Stats, error) {
	stats := Stats{ByDocType: map[DocType]int{}}
	if err := s.db.Handle().QueryRowContext(ctx,
		"SELECT COUNT(DISTINCT file_path) FROM governance_docs").Scan(&stats.TotalFiles); err != nil {
		return Stats{}, derrors.StorageUnavailable(err)
	}
	if err := s.db.Handle().QueryRowContext(ctx,
		"SELECT COUNT(*) FROM governance_docs").Scan(&stats.TotalChunks); err != nil {
		return Stats{}, derrors.StorageUnavailable(err)
	}

	rows, err := s.db.Handle().QueryContext(ctx,
		"SELECT doc_type, COUNT(DISTINCT file_path) FROM governance_docs GROUP BY doc_type")
	if err != nil {
		return Stats{}, derrors.StorageUnavailable(err)
	}
	defer rows.Close()
	for rows.Next() {
		var docType string
		var count int
		if err := rows.Scan(&docType, &count); err != nil {
			return Stats{}, derrors.StorageUnavailable(err)
		}
		stats.ByDocType[DocType(docType)] = count
	}
	return stats, rows.Err()
}
