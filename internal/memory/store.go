package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"

	"github.com/oklog/ulid/v2"

	derrors "git.home.luguber.info/inful/stratus/internal/errors"
	"git.home.luguber.info/inful/stratus/internal/storage"
)

var migrations = []storage.Migration{
	{Version: 1, Statements: []string{
		`CREATE TABLE IF NOT EXISTS memory_events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    ts TEXT NOT NULL,
    actor TEXT NOT NULL DEFAULT 'agent',
    scope TEXT NOT NULL DEFAULT 'repo',
    type TEXT NOT NULL DEFAULT 'discovery',
    text TEXT,
    title TEXT,
    tags TEXT NOT NULL DEFAULT '[]',
    refs TEXT NOT NULL DEFAULT '{}',
    ttl TEXT,
    importance REAL NOT NULL DEFAULT 0.5,
    dedupe_key TEXT UNIQUE,
    project TEXT,
    session_id TEXT,
    created_at_epoch INTEGER NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_memory_events_ts ON memory_events(ts)`,
		`CREATE INDEX IF NOT EXISTS idx_memory_events_type ON memory_events(type)`,
		`CREATE INDEX IF NOT EXISTS idx_memory_events_project ON memory_events(project)`,
		`CREATE INDEX IF NOT EXISTS idx_memory_events_session ON memory_events(session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_memory_events_importance ON memory_events(importance)`,
		`CREATE INDEX IF NOT EXISTS idx_memory_events_epoch ON memory_events(created_at_epoch)`,
		`CREATE VIRTUAL TABLE IF NOT EXISTS memory_events_fts USING fts5(
    title,
    text,
    tags,
    content='memory_events',
    content_rowid='id',
    tokenize='porter unicode61'
)`,
		`CREATE TRIGGER IF NOT EXISTS memory_events_ai AFTER INSERT ON memory_events BEGIN
    INSERT INTO memory_events_fts(rowid, title, text, tags)
    VALUES (new.id, new.title, new.text, new.tags);
END`,
		`CREATE TRIGGER IF NOT EXISTS memory_events_ad AFTER DELETE ON memory_events BEGIN
    INSERT INTO memory_events_fts(memory_events_fts, rowid, title, text, tags)
    VALUES ('delete', old.id, old.title, old.text, old.tags);
END`,
		`CREATE TRIGGER IF NOT EXISTS memory_events_au AFTER UPDATE ON memory_events BEGIN
    INSERT INTO memory_events_fts(memory_events_fts, rowid, title, text, tags)
    VALUES ('delete', old.id, old.title, old.text, old.tags);
    INSERT INTO memory_events_fts(rowid, title, text, tags)
    VALUES (new.id, new.title, new.text, new.tags);
END`,
		`CREATE TABLE IF NOT EXISTS sessions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    content_session_id TEXT NOT NULL,
    project TEXT NOT NULL,
    initial_prompt TEXT,
    started_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now')),
    ended_at TEXT
)`,
	}},
}

// Store provides event and session persistence over one memory.db file.
type Store struct {
	db *storage.DB
}

// Open opens (or creates) the memory database at path and migrates it.
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

const eventColumns = `id, ts, actor, scope, type, text, title, tags, refs, ttl,
    importance, dedupe_key, project, session_id, created_at_epoch`

// SaveEvent inserts an event, upserting on dedupe_key conflict: the newer
// payload wins but the row id is stable. Returns the row id.
func (s *Store) SaveEvent(ctx context.Context, event Event) (int64, error) {
	if event.TS == "" {
		filled := NewEvent(event.Type, event.Text)
		event.TS = filled.TS
		event.CreatedAtEpoch = filled.CreatedAtEpoch
	}
	if event.Actor == "" {
		event.Actor = ActorAgent
	}
	if event.Scope == "" {
		event.Scope = ScopeRepo
	}
	if event.Type == "" {
		event.Type = EventDiscovery
	}

	tagsJSON, err := json.Marshal(orEmptyTags(event.Tags))
	if err != nil {
		return 0, derrors.Internal(err, "encode event tags")
	}
	refsJSON, err := json.Marshal(orEmptyRefs(event.Refs))
	if err != nil {
		return 0, derrors.Internal(err, "encode event refs")
	}

	query := `INSERT INTO memory_events
    (ts, actor, scope, type, text, title, tags, refs, ttl,
     importance, dedupe_key, project, session_id, created_at_epoch)
    VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if event.DedupeKey != "" {
		query += `
    ON CONFLICT(dedupe_key) DO UPDATE SET
     ts=excluded.ts, text=excluded.text, title=excluded.title,
     tags=excluded.tags, refs=excluded.refs, importance=excluded.importance`
	}
	query += ` RETURNING id`

	var id int64
	err = s.db.Tx(ctx, func(tx *sql.Tx) error {
		return tx.QueryRowContext(ctx, query,
			event.TS, string(event.Actor), string(event.Scope), string(event.Type),
			event.Text, nullable(event.Title), string(tagsJSON), string(refsJSON),
			nullable(event.TTL), event.Importance, nullable(event.DedupeKey),
			nullable(event.Project), nullable(event.SessionID), event.CreatedAtEpoch,
		).Scan(&id)
	})
	if err != nil {
		return 0, derrors.StorageUnavailable(err)
	}
	return id, nil
}

// Search runs a full-text query with optional filters, newest first.
func (s *Store) Search(ctx context.Context, query string, filter SearchFilter) ([]Event, error) {
	if filter.Limit <= 0 {
		filter.Limit = 20
	}

	clauses := []string{
		"me.id IN (SELECT rowid FROM memory_events_fts WHERE memory_events_fts MATCH ?)",
	}
	args := []any{storage.FTSQuery(query)}

	if filter.Type != "" {
		clauses = append(clauses, "me.type = ?")
		args = append(args, string(filter.Type))
	}
	if filter.Scope != "" {
		clauses = append(clauses, "me.scope = ?")
		args = append(args, string(filter.Scope))
	}
	if filter.Project != "" {
		clauses = append(clauses, "me.project = ?")
		args = append(args, filter.Project)
	}
	if filter.DateStart != "" {
		clauses = append(clauses, "me.ts >= ?")
		args = append(args, filter.DateStart)
	}
	if filter.DateEnd != "" {
		clauses = append(clauses, "me.ts <= ?")
		args = append(args, filter.DateEnd)
	}

	sqlText := `SELECT ` + eventColumns + ` FROM memory_events me WHERE ` +
		strings.Join(clauses, " AND ") + ` ORDER BY me.ts DESC LIMIT ? OFFSET ?`
	args = append(args, filter.Limit, filter.Offset)

	return s.queryEvents(ctx, sqlText, args...)
}

// Timeline returns chronological context around an anchor event: up to
// before events preceding it, the anchor, and up to after events following,
// all ascending by timestamp. Unknown anchors yield an empty slice.
func (s *Store) Timeline(ctx context.Context, anchorID int64, before, after int, project string) ([]Event, error) {
	var anchorTS string
	err := s.db.Handle().QueryRowContext(ctx,
		"SELECT ts FROM memory_events WHERE id = ?", anchorID).Scan(&anchorTS)
	if err == sql.ErrNoRows {
		return []Event{}, nil
	}
	if err != nil {
		return nil, derrors.StorageUnavailable(err)
	}

	projectClause := ""
	projectArgs := []any{}
	if project != "" {
		projectClause = " AND project = ?"
		projectArgs = append(projectArgs, project)
	}

	beforeRows, err := s.queryEvents(ctx,
		`SELECT `+eventColumns+` FROM memory_events WHERE ts < ?`+projectClause+
			` ORDER BY ts DESC LIMIT ?`,
		append(append([]any{anchorTS}, projectArgs...), before)...)
	if err != nil {
		return nil, err
	}
	anchorRows, err := s.queryEvents(ctx,
		`SELECT `+eventColumns+` FROM memory_events WHERE id = ?`+projectClause,
		append([]any{anchorID}, projectArgs...)...)
	if err != nil {
		return nil, err
	}
	afterRows, err := s.queryEvents(ctx,
		`SELECT `+eventColumns+` FROM memory_events WHERE ts > ?`+projectClause+
			` ORDER BY ts ASC LIMIT ?`,
		append(append([]any{anchorTS}, projectArgs...), after)...)
	if err != nil {
		return nil, err
	}

	// before comes back newest-first; flip to ascending.
	for i, j := 0, len(beforeRows)-1; i < j; i, j = i+1, j-1 {
		beforeRows[i], beforeRows[j] = beforeRows[j], beforeRows[i]
	}

	out := make([]Event, 0, len(beforeRows)+len(anchorRows)+len(afterRows))
	out = append(out, beforeRows...)
	out = append(out, anchorRows...)
	out = append(out, afterRows...)
	return out, nil
}

// GetEvents batch-fetches events by id. Missing ids are skipped.
func (s *Store) GetEvents(ctx context.Context, ids []int64) ([]Event, error) {
	if len(ids) == 0 {
		return []Event{}, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return s.queryEvents(ctx,
		`SELECT `+eventColumns+` FROM memory_events WHERE id IN (`+placeholders+`)`,
		args...)
}

// RecentEvents fetches the newest events without full-text matching.
func (s *Store) RecentEvents(ctx context.Context, project string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 10
	}
	if project != "" {
		return s.queryEvents(ctx,
			`SELECT `+eventColumns+` FROM memory_events WHERE project = ? ORDER BY ts DESC LIMIT ?`,
			project, limit)
	}
	return s.queryEvents(ctx,
		`SELECT `+eventColumns+` FROM memory_events ORDER BY ts DESC LIMIT ?`, limit)
}

// InitSession records a new session. An empty contentSessionID gets a
// generated ULID so CLI-started sessions remain addressable.
func (s *Store) InitSession(ctx context.Context, contentSessionID, project, prompt string) (Session, error) {
	if contentSessionID == "" {
		contentSessionID = ulid.Make().String()
	}
	var sess Session
	err := s.db.Tx(ctx, func(tx *sql.Tx) error {
		return tx.QueryRowContext(ctx,
			`INSERT INTO sessions (content_session_id, project, initial_prompt)
             VALUES (?, ?, ?) RETURNING id, started_at`,
			contentSessionID, project, nullable(prompt),
		).Scan(&sess.ID, &sess.StartedAt)
	})
	if err != nil {
		return Session{}, derrors.StorageUnavailable(err)
	}
	sess.ContentSessionID = contentSessionID
	sess.Project = project
	sess.InitialPrompt = prompt
	return sess, nil
}

// EndSession stamps ended_at on the newest open session with this id.
func (s *Store) EndSession(ctx context.Context, contentSessionID, endedAt string) error {
	err := s.db.Tx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE sessions SET ended_at = ?
             WHERE id = (SELECT id FROM sessions
                         WHERE content_session_id = ? AND ended_at IS NULL
                         ORDER BY started_at DESC LIMIT 1)`,
			endedAt, contentSessionID)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return derrors.NotFound("session", contentSessionID)
		}
		return nil
	})
	if derrors.IsCategory(err, derrors.CategoryNotFound) {
		return err
	}
	if err != nil {
		return derrors.StorageUnavailable(err)
	}
	return nil
}

// ListSessions returns sessions newest first.
func (s *Store) ListSessions(ctx context.Context, limit, offset int) ([]Session, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Handle().QueryContext(ctx,
		`SELECT id, content_session_id, project, initial_prompt, started_at, ended_at
         FROM sessions ORDER BY started_at DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, derrors.StorageUnavailable(err)
	}
	defer rows.Close()

	sessions := []Session{}
	for rows.Next() {
		var sess Session
		var prompt, ended sql.NullString
		if err := rows.Scan(&sess.ID, &sess.ContentSessionID, &sess.Project,
			&prompt, &sess.StartedAt, &ended); err != nil {
			return nil, derrors.StorageUnavailable(err)
		}
		sess.InitialPrompt = prompt.String
		sess.EndedAt = ended.String
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// GetStats counts events, sessions, and events per type.
func (s *Store) GetStats(ctx context.Context) (Stats, error) {
	stats := Stats{EventsByType: map[EventType]int{}}

	if err := s.db.Handle().QueryRowContext(ctx,
		"SELECT COUNT(*) FROM memory_events").Scan(&stats.TotalEvents); err != nil {
		return Stats{}, derrors.StorageUnavailable(err)
	}
	if err := s.db.Handle().QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sessions").Scan(&stats.TotalSessions); err != nil {
		return Stats{}, derrors.StorageUnavailable(err)
	}

	rows, err := s.db.Handle().QueryContext(ctx,
		"SELECT type, COUNT(*) FROM memory_events GROUP BY type")
	if err != nil {
		return Stats{}, derrors.StorageUnavailable(err)
	}
	defer rows.Close()
	for rows.Next() {
		var eventType string
		var count int
		if err := rows.Scan(&eventType, &count); err != nil {
			return Stats{}, derrors.StorageUnavailable(err)
		}
		stats.EventsByType[EventType(eventType)] = count
	}
	return stats, rows.Err()
}

func (s *Store) queryEvents(ctx context.Context, query string, args ...any) ([]Event, error) {
	rows, err := s.db.Handle().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, derrors.StorageUnavailable(err)
	}
	defer rows.Close()

	events := []Event{}
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

func scanEvent(rows *sql.Rows) (Event, error) {
	var event Event
	var text, title, tags, refs, ttl, dedupe, project, sessionID sql.NullString
	err := rows.Scan(&event.ID, &event.TS, &event.Actor, &event.Scope, &event.Type,
		&text, &title, &tags, &refs, &ttl, &event.Importance,
		&dedupe, &project, &sessionID, &event.CreatedAtEpoch)
	if err != nil {
		return Event{}, derrors.StorageUnavailable(err)
	}
	event.Text = text.String
	event.Title = title.String
	event.TTL = ttl.String
	event.DedupeKey = dedupe.String
	event.Project = project.String
	event.SessionID = sessionID.String
	if tags.Valid && tags.String != "" {
		if err := json.Unmarshal([]byte(tags.String), &event.Tags); err != nil {
			return Event{}, derrors.Internal(err, "decode event tags")
		}
	}
	if refs.Valid && refs.String != "" {
		if err := json.Unmarshal([]byte(refs.String), &event.Refs); err != nil {
			return Event{}, derrors.Internal(err, "decode event refs")
		}
	}
	return event, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func orEmptyTags(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}

func orEmptyRefs(refs map[string]string) map[string]string {
	if refs == nil {
		return map[string]string{}
	}
	return refs
}
