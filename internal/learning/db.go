package learning

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	derrors "git.home.luguber.info/inful/stratus/internal/errors"
	"git.home.luguber.info/inful/stratus/internal/storage"
)

var migrations = []storage.Migration{
	{Version: 1, Statements: []string{
		`CREATE TABLE IF NOT EXISTS pattern_candidates (
    id TEXT PRIMARY KEY,
    detection_type TEXT NOT NULL,
    count INTEGER NOT NULL,
    confidence_raw REAL NOT NULL,
    confidence_final REAL NOT NULL,
    files TEXT NOT NULL DEFAULT '[]',
    description TEXT NOT NULL,
    instances TEXT NOT NULL DEFAULT '[]',
    detected_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now')),
    status TEXT NOT NULL DEFAULT 'pending',
    description_hash TEXT
)`,
		`CREATE INDEX IF NOT EXISTS idx_pc_status ON pattern_candidates(status)`,
		`CREATE INDEX IF NOT EXISTS idx_pc_type ON pattern_candidates(detection_type)`,
		`CREATE INDEX IF NOT EXISTS idx_pc_confidence ON pattern_candidates(confidence_final)`,
		`CREATE INDEX IF NOT EXISTS idx_pc_hash ON pattern_candidates(description_hash)`,
		`CREATE TABLE IF NOT EXISTS proposals (
    id TEXT PRIMARY KEY,
    candidate_id TEXT NOT NULL,
    type TEXT NOT NULL,
    title TEXT NOT NULL,
    description TEXT NOT NULL,
    proposed_content TEXT NOT NULL,
    proposed_path TEXT,
    confidence REAL NOT NULL,
    status TEXT NOT NULL DEFAULT 'pending',
    presented_at TEXT,
    decided_at TEXT,
    decision TEXT,
    edited_content TEXT,
    session_id TEXT
)`,
		`CREATE INDEX IF NOT EXISTS idx_prop_status ON proposals(status)`,
		`CREATE INDEX IF NOT EXISTS idx_prop_candidate ON proposals(candidate_id)`,
		`CREATE INDEX IF NOT EXISTS idx_prop_session ON proposals(session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_prop_confidence ON proposals(confidence)`,
		`CREATE TABLE IF NOT EXISTS analysis_state (
    id INTEGER PRIMARY KEY CHECK(id = 1),
    last_commit TEXT,
    last_analyzed_at TEXT DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now')),
    total_commits_analyzed INTEGER NOT NULL DEFAULT 0
)`,
	}},
	{Version: 2, Statements: []string{
		`CREATE TABLE IF NOT EXISTS failure_events (
    id TEXT PRIMARY KEY,
    category TEXT NOT NULL,
    file_path TEXT,
    detail TEXT NOT NULL DEFAULT '',
    session_id TEXT,
    recorded_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now')),
    signature TEXT NOT NULL DEFAULT ''
)`,
		`CREATE INDEX IF NOT EXISTS idx_fe_category ON failure_events(category)`,
		`CREATE INDEX IF NOT EXISTS idx_fe_file_path ON failure_events(file_path)`,
		`CREATE INDEX IF NOT EXISTS idx_fe_recorded_at ON failure_events(recorded_at)`,
		`CREATE INDEX IF NOT EXISTS idx_fe_session_id ON failure_events(session_id)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_fe_signature ON failure_events(signature)`,
		`CREATE TABLE IF NOT EXISTS rule_baselines (
    id TEXT PRIMARY KEY,
    proposal_id TEXT NOT NULL,
    rule_path TEXT NOT NULL,
    category TEXT NOT NULL,
    baseline_count INTEGER NOT NULL DEFAULT 0,
    baseline_window_days INTEGER NOT NULL DEFAULT 30,
    created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now')),
    category_source TEXT NOT NULL DEFAULT 'heuristic'
)`,
		`CREATE INDEX IF NOT EXISTS idx_rb_proposal ON rule_baselines(proposal_id)`,
		`CREATE INDEX IF NOT EXISTS idx_rb_category ON rule_baselines(category)`,
	}},
}

// DB persists pattern candidates, proposals, failure analytics, and the
// incremental analysis cursor in learning.db.
type DB struct {
	db *storage.DB
}

// Open opens (or creates) learning.db at path and applies migrations.
func Open(ctx context.Context, path string) (*DB, error) {
	db, err := storage.Open(path)
	if err != nil {
		return nil, err
	}
	if err := storage.Migrate(ctx, db, migrations); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &DB{db: db}, nil
}

// OpenMemory opens an in-memory learning database for tests.
func OpenMemory(ctx context.Context) (*DB, error) {
	db, err := storage.OpenMemory()
	if err != nil {
		return nil, err
	}
	if err := storage.Migrate(ctx, db, migrations); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &DB{db: db}, nil
}

// Close closes the underlying database.
func (d *DB) Close() error { return d.db.Close() }

// CreatedAt returns when the schema was first applied, driving the warmup
// guard: a freshly created database skips analysis for warmup_hours.
func (d *DB) CreatedAt(ctx context.Context) (string, error) {
	return storage.SchemaCreatedAt(ctx, d.db)
}

// SaveCandidate upserts a pattern candidate.
func (d *DB) SaveCandidate(ctx context.Context, candidate PatternCandidate) error {
	if candidate.DetectedAt == "" {
		candidate.DetectedAt = NowISO()
	}
	if candidate.Status == "" {
		candidate.Status = CandidatePending
	}
	if candidate.DescriptionHash == "" {
		candidate.DescriptionHash = DescriptionHash(candidate.Description)
	}
	files, err := json.Marshal(orEmpty(candidate.Files))
	if err != nil {
		return derrors.Internal(err, "encode candidate files")
	}
	instances, err := json.Marshal(orEmptyInstances(candidate.Instances))
	if err != nil {
		return derrors.Internal(err, "encode candidate instances")
	}

	err = d.db.Tx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO pattern_candidates
             (id, detection_type, count, confidence_raw, confidence_final,
              files, description, instances, detected_at, status, description_hash)
             VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			candidate.ID, string(candidate.DetectionType), candidate.Count,
			candidate.ConfidenceRaw, candidate.ConfidenceFinal,
			string(files), candidate.Description, string(instances),
			candidate.DetectedAt, string(candidate.Status), candidate.DescriptionHash)
		return err
	})
	if err != nil {
		return derrors.StorageUnavailable(err)
	}
	return nil
}

// GetCandidate returns one candidate, or a not-found error.
func (d *DB) GetCandidate(ctx context.Context, id string) (PatternCandidate, error) {
	row := d.db.Handle().QueryRowContext(ctx,
		`SELECT id, detection_type, count, confidence_raw, confidence_final,
            files, description, instances, detected_at, status, description_hash
         FROM pattern_candidates WHERE id = ?`, id)
	candidate, err := scanCandidate(row)
	if err == sql.ErrNoRows {
		return PatternCandidate{}, derrors.NotFound("candidate", id)
	}
	if err != nil {
		return PatternCandidate{}, derrors.StorageUnavailable(err)
	}
	return candidate, nil
}

// ListCandidates returns candidates ordered by final confidence.
func (d *DB) ListCandidates(ctx context.Context, status CandidateStatus, minConfidence float64, limit int) ([]PatternCandidate, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, detection_type, count, confidence_raw, confidence_final,
            files, description, instances, detected_at, status, description_hash
         FROM pattern_candidates WHERE 1=1`
	args := []any{}
	if status != "" {
		query += " AND status = ?"
		args = append(args, string(status))
	}
	if minConfidence > 0 {
		query += " AND confidence_final >= ?"
		args = append(args, minConfidence)
	}
	query += " ORDER BY confidence_final DESC LIMIT ?"
	args = append(args, limit)

	rows, err := d.db.Handle().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, derrors.StorageUnavailable(err)
	}
	defer rows.Close()

	candidates := []PatternCandidate{}
	for rows.Next() {
		candidate, err := scanCandidate(rows)
		if err != nil {
			return nil, derrors.StorageUnavailable(err)
		}
		candidates = append(candidates, candidate)
	}
	return candidates, rows.Err()
}

// UpdateCandidateStatus moves a candidate through the pipeline.
func (d *DB) UpdateCandidateStatus(ctx context.Context, id string, status CandidateStatus) error {
	err := d.db.Tx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			"UPDATE pattern_candidates SET status = ? WHERE id = ?",
			string(status), id)
		return err
	})
	if err != nil {
		return derrors.StorageUnavailable(err)
	}
	return nil
}

// SaveProposal upserts a proposal.
func (d *DB) SaveProposal(ctx context.Context, p Proposal) error {
	if p.Status == "" {
		p.Status = ProposalPending
	}
	err := d.db.Tx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO proposals
             (id, candidate_id, type, title, description, proposed_content,
              proposed_path, confidence, status, presented_at, decided_at,
              decision, edited_content, session_id)
             VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			p.ID, p.CandidateID, string(p.Type), p.Title, p.Description,
			p.ProposedContent, nullable(p.ProposedPath), p.Confidence,
			string(p.Status), nullable(p.PresentedAt), nullable(p.DecidedAt),
			nullable(string(p.Decision)), nullable(p.EditedContent),
			nullable(p.SessionID))
		return err
	})
	if err != nil {
		return derrors.StorageUnavailable(err)
	}
	return nil
}

// GetProposal returns one proposal, or a not-found error.
func (d *DB) GetProposal(ctx context.Context, id string) (Proposal, error) {
	row := d.db.Handle().QueryRowContext(ctx,
		`SELECT id, candidate_id, type, title, description, proposed_content,
            proposed_path, confidence, status, presented_at, decided_at,
            decision, edited_content, session_id
         FROM proposals WHERE id = ?`, id)
	p, err := scanProposal(row)
	if err == sql.ErrNoRows {
		return Proposal{}, derrors.NotFound("proposal", id)
	}
	if err != nil {
		return Proposal{}, derrors.StorageUnavailable(err)
	}
	return p, nil
}

// ListProposals returns proposals ordered by confidence.
func (d *DB) ListProposals(ctx context.Context, status ProposalStatus, minConfidence float64, limit int) ([]Proposal, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, candidate_id, type, title, description, proposed_content,
            proposed_path, confidence, status, presented_at, decided_at,
            decision, edited_content, session_id
         FROM proposals WHERE 1=1`
	args := []any{}
	if status != "" {
		query += " AND status = ?"
		args = append(args, string(status))
	}
	if minConfidence > 0 {
		query += " AND confidence >= ?"
		args = append(args, minConfidence)
	}
	query += " ORDER BY confidence DESC LIMIT ?"
	args = append(args, limit)

	rows, err := d.db.Handle().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, derrors.StorageUnavailable(err)
	}
	defer rows.Close()

	proposals := []Proposal{}
	for rows.Next() {
		p, err := scanProposal(rows)
		if err != nil {
			return nil, derrors.StorageUnavailable(err)
		}
		proposals = append(proposals, p)
	}
	return proposals, rows.Err()
}

// DecideProposal records a verdict. Already-decided proposals are left
// untouched and reported via the second return value, so callers can make
// the operation idempotent end to end.
func (d *DB) DecideProposal(ctx context.Context, id string, decision Decision, editedContent string) (Proposal, bool, error) {
	prior, err := d.GetProposal(ctx, id)
	if err != nil {
		return Proposal{}, false, err
	}
	if prior.DecidedAt != "" {
		return prior, false, nil
	}

	status, ok := decisionToStatus[decision]
	if !ok {
		return Proposal{}, false, derrors.Validation(fmt.Sprintf("unknown decision %q", decision))
	}
	now := NowISO()
	err = d.db.Tx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`UPDATE proposals SET status = ?, decision = ?, decided_at = ?,
             edited_content = ? WHERE id = ?`,
			string(status), string(decision), now, nullable(editedContent), id)
		return err
	})
	if err != nil {
		return Proposal{}, false, derrors.StorageUnavailable(err)
	}

	prior.Status = status
	prior.Decision = decision
	prior.DecidedAt = now
	prior.EditedContent = editedContent
	return prior, true, nil
}

// CountSessionProposals counts proposals generated within one session.
func (d *DB) CountSessionProposals(ctx context.Context, sessionID string) (int, error) {
	var count int
	err := d.db.Handle().QueryRowContext(ctx,
		"SELECT COUNT(*) FROM proposals WHERE session_id = ?", sessionID).Scan(&count)
	if err != nil {
		return 0, derrors.StorageUnavailable(err)
	}
	return count, nil
}

// IsInCooldown reports whether a fingerprint was rejected or ignored within
// the cooldown window, suppressing regeneration of the same proposal.
func (d *DB) IsInCooldown(ctx context.Context, descriptionHash string, cooldownDays int) (bool, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -cooldownDays).Format(time.RFC3339Nano)
	var count int
	err := d.db.Handle().QueryRowContext(ctx,
		`SELECT COUNT(*) FROM proposals p
         JOIN pattern_candidates c ON p.candidate_id = c.id
         WHERE c.description_hash = ?
           AND p.decision IN ('reject', 'ignore')
           AND p.decided_at > ?`,
		descriptionHash, cutoff).Scan(&count)
	if err != nil {
		return false, derrors.StorageUnavailable(err)
	}
	return count > 0, nil
}

// PriorDecisionFactor weights a fingerprint by its accept/reject history:
// 1.0 with no history, rising toward 1.5 as accepts dominate, falling toward
// 0.5 as rejects do. Ignores pull half as hard as rejects.
func (d *DB) PriorDecisionFactor(ctx context.Context, descriptionHash string) (float64, error) {
	var accepts, rejects, ignores float64
	err := d.db.Handle().QueryRowContext(ctx,
		`SELECT
            COALESCE(SUM(CASE WHEN p.decision = 'accept' THEN 1 ELSE 0 END), 0),
            COALESCE(SUM(CASE WHEN p.decision = 'reject' THEN 1 ELSE 0 END), 0),
            COALESCE(SUM(CASE WHEN p.decision = 'ignore' THEN 1 ELSE 0 END), 0)
         FROM proposals p
         JOIN pattern_candidates c ON p.candidate_id = c.id
         WHERE c.description_hash = ?`,
		descriptionHash).Scan(&accepts, &rejects, &ignores)
	if err != nil {
		return 0, derrors.StorageUnavailable(err)
	}
	total := accepts + rejects + 0.5*ignores
	if total == 0 {
		return 1.0, nil
	}
	factor := 0.5 + accepts/total
	if factor > 1.5 {
		factor = 1.5
	}
	if factor < 0.5 {
		factor = 0.5
	}
	return factor, nil
}

// GetAnalysisState returns the incremental analysis cursor.
func (d *DB) GetAnalysisState(ctx context.Context) (AnalysisState, error) {
	var state AnalysisState
	var lastCommit, lastAnalyzedAt sql.NullString
	err := d.db.Handle().QueryRowContext(ctx,
		"SELECT last_commit, last_analyzed_at, total_commits_analyzed FROM analysis_state WHERE id = 1").
		Scan(&lastCommit, &lastAnalyzedAt, &state.TotalCommitsAnalyzed)
	if err == sql.ErrNoRows {
		return AnalysisState{}, nil
	}
	if err != nil {
		return AnalysisState{}, derrors.StorageUnavailable(err)
	}
	state.LastCommit = lastCommit.String
	state.LastAnalyzedAt = lastAnalyzedAt.String
	return state, nil
}

// UpdateAnalysisState advances the cursor after a run.
func (d *DB) UpdateAnalysisState(ctx context.Context, commit string, totalCommits int) error {
	err := d.db.Tx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO analysis_state (id, last_commit, last_analyzed_at, total_commits_analyzed)
             VALUES (1, ?, ?, ?)
             ON CONFLICT(id) DO UPDATE SET
               last_commit = excluded.last_commit,
               last_analyzed_at = excluded.last_analyzed_at,
               total_commits_analyzed = excluded.total_commits_analyzed`,
			commit, NowISO(), totalCommits)
		return err
	})
	if err != nil {
		return derrors.StorageUnavailable(err)
	}
	return nil
}

// GetStats summarizes candidates and proposals by status.
func (d *DB) GetStats(ctx context.Context) (Stats, error) {
	stats := Stats{
		CandidatesByStatus: map[string]int{},
		ProposalsByStatus:  map[string]int{},
	}
	if err := d.db.Handle().QueryRowContext(ctx,
		"SELECT COUNT(*) FROM pattern_candidates").Scan(&stats.CandidatesTotal); err != nil {
		return Stats{}, derrors.StorageUnavailable(err)
	}
	if err := d.db.Handle().QueryRowContext(ctx,
		"SELECT COUNT(*) FROM proposals").Scan(&stats.ProposalsTotal); err != nil {
		return Stats{}, derrors.StorageUnavailable(err)
	}
	for table, dest := range map[string]map[string]int{
		"pattern_candidates": stats.CandidatesByStatus,
		"proposals":          stats.ProposalsByStatus,
	} {
		rows, err := d.db.Handle().QueryContext(ctx,
			"SELECT status, COUNT(*) FROM "+table+" GROUP BY status")
		if err != nil {
			return Stats{}, derrors.StorageUnavailable(err)
		}
		for rows.Next() {
			var status string
			var count int
			if err := rows.Scan(&status, &count); err != nil {
				rows.Close()
				return Stats{}, derrors.StorageUnavailable(err)
			}
			dest[status] = count
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return Stats{}, derrors.StorageUnavailable(err)
		}
		rows.Close()
	}
	return stats, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCandidate(row rowScanner) (PatternCandidate, error) {
	var c PatternCandidate
	var files, instances string
	var hash sql.NullString
	err := row.Scan(&c.ID, (*string)(&c.DetectionType), &c.Count,
		&c.ConfidenceRaw, &c.ConfidenceFinal, &files, &c.Description,
		&instances, &c.DetectedAt, (*string)(&c.Status), &hash)
	if err != nil {
		return PatternCandidate{}, err
	}
	c.DescriptionHash = hash.String
	if err := json.Unmarshal([]byte(files), &c.Files); err != nil {
		return PatternCandidate{}, err
	}
	if err := json.Unmarshal([]byte(instances), &c.Instances); err != nil {
		return PatternCandidate{}, err
	}
	return c, nil
}

func scanProposal(row rowScanner) (Proposal, error) {
	var p Proposal
	var path, presented, decided, decision, edited, session sql.NullString
	err := row.Scan(&p.ID, &p.CandidateID, (*string)(&p.Type), &p.Title,
		&p.Description, &p.ProposedContent, &path, &p.Confidence,
		(*string)(&p.Status), &presented, &decided, &decision, &edited, &session)
	if err != nil {
		return Proposal{}, err
	}
	p.ProposedPath = path.String
	p.PresentedAt = presented.String
	p.DecidedAt = decided.String
	p.Decision = Decision(decision.String)
	p.EditedContent = edited.String
	p.SessionID = session.String
	return p, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func orEmpty(items []string) []string {
	if items == nil {
		return []string{}
	}
	return items
}

func orEmptyInstances(items []map[string]any) []map[string]any {
	if items == nil {
		return []map[string]any{}
	}
	return items
}
