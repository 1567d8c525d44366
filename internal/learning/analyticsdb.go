package learning

import (
	"context"
	"database/sql"
	"strings"

	"github.com/google/uuid"

	derrors "git.home.luguber.info/inful/stratus/internal/errors"
)

// FailureFilter narrows failure-event queries. Zero values mean "no filter".
type FailureFilter struct {
	Category FailureCategory
	Since    string
	Until    string
	FilePath string
}

func (f FailureFilter) where() (string, []any) {
	clauses := []string{}
	args := []any{}
	if f.Category != "" {
		clauses = append(clauses, "category = ?")
		args = append(args, string(f.Category))
	}
	if f.Since != "" {
		clauses = append(clauses, "recorded_at >= ?")
		args = append(args, f.Since)
	}
	if f.Until != "" {
		clauses = append(clauses, "recorded_at <= ?")
		args = append(args, f.Until)
	}
	if f.FilePath != "" {
		clauses = append(clauses, "file_path = ?")
		args = append(args, f.FilePath)
	}
	if len(clauses) == 0 {
		return "1=1", args
	}
	return strings.Join(clauses, " AND "), args
}

// RecordFailure stores a failure event. The unique signature index collapses
// identical failures within the same UTC day into a single row.
func (d *DB) RecordFailure(ctx context.Context, event FailureEvent) (string, error) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.RecordedAt == "" {
		event.RecordedAt = NowISO()
	}
	if event.Signature == "" {
		event.Signature = FailureSignature(event.Category, event.FilePath, event.Detail)
	}
	err := d.db.Tx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO failure_events
             (id, category, file_path, detail, session_id, recorded_at, signature)
             VALUES (?, ?, ?, ?, ?, ?, ?)`,
			event.ID, string(event.Category), nullable(event.FilePath),
			event.Detail, nullable(event.SessionID), event.RecordedAt,
			event.Signature)
		return err
	})
	if err != nil {
		return "", derrors.StorageUnavailable(err)
	}
	return event.ID, nil
}

// CountFailures counts failure events matching the filter.
func (d *DB) CountFailures(ctx context.Context, filter FailureFilter) (int, error) {
	where, args := filter.where()
	var count int
	err := d.db.Handle().QueryRowContext(ctx,
		"SELECT COUNT(*) FROM failure_events WHERE "+where, args...).Scan(&count)
	if err != nil {
		return 0, derrors.StorageUnavailable(err)
	}
	return count, nil
}

// ListFailures returns the most recent failure events matching the filter.
func (d *DB) ListFailures(ctx context.Context, filter FailureFilter, limit int) ([]FailureEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	where, args := filter.where()
	args = append(args, limit)
	rows, err := d.db.Handle().QueryContext(ctx,
		`SELECT id, category, file_path, detail, session_id, recorded_at, signature
         FROM failure_events WHERE `+where+`
         ORDER BY recorded_at DESC LIMIT ?`, args...)
	if err != nil {
		return nil, derrors.StorageUnavailable(err)
	}
	defer rows.Close()

	events := []FailureEvent{}
	for rows.Next() {
		var event FailureEvent
		var filePath, sessionID sql.NullString
		if err := rows.Scan(&event.ID, (*string)(&event.Category), &filePath,
			&event.Detail, &sessionID, &event.RecordedAt, &event.Signature); err != nil {
			return nil, derrors.StorageUnavailable(err)
		}
		event.FilePath = filePath.String
		event.SessionID = sessionID.String
		events = append(events, event)
	}
	return events, rows.Err()
}

// FailureTrendsSince buckets failures by UTC date and category.
func (d *DB) FailureTrendsSince(ctx context.Context, since string, category FailureCategory) ([]FailureTrend, error) {
	query := `SELECT date(recorded_at) AS period, category, COUNT(*)
         FROM failure_events WHERE recorded_at >= ?`
	args := []any{since}
	if category != "" {
		query += " AND category = ?"
		args = append(args, string(category))
	}
	query += " GROUP BY period, category ORDER BY period"

	rows, err := d.db.Handle().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, derrors.StorageUnavailable(err)
	}
	defer rows.Close()

	trends := []FailureTrend{}
	for rows.Next() {
		var trend FailureTrend
		if err := rows.Scan(&trend.Period, (*string)(&trend.Category), &trend.Count); err != nil {
			return nil, derrors.StorageUnavailable(err)
		}
		trends = append(trends, trend)
	}
	return trends, rows.Err()
}

// FileHotspots ranks files by failure count since the cutoff.
func (d *DB) FileHotspots(ctx context.Context, since string, limit int) ([]FileHotspot, error) {
	if limit <= 0 {
		limit = 10
	}
	query := `SELECT file_path, COUNT(*) AS total, GROUP_CONCAT(category) AS cats
         FROM failure_events WHERE file_path IS NOT NULL`
	args := []any{}
	if since != "" {
		query += " AND recorded_at >= ?"
		args = append(args, since)
	}
	query += " GROUP BY file_path ORDER BY total DESC LIMIT ?"
	args = append(args, limit)

	rows, err := d.db.Handle().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, derrors.StorageUnavailable(err)
	}
	defer rows.Close()

	hotspots := []FileHotspot{}
	for rows.Next() {
		var hotspot FileHotspot
		var cats sql.NullString
		if err := rows.Scan(&hotspot.FilePath, &hotspot.TotalFailures, &cats); err != nil {
			return nil, derrors.StorageUnavailable(err)
		}
		hotspot.ByCategory = map[string]int{}
		if cats.String != "" {
			for _, cat := range strings.Split(cats.String, ",") {
				hotspot.ByCategory[cat]++
			}
		}
		hotspots = append(hotspots, hotspot)
	}
	return hotspots, rows.Err()
}

// SaveBaseline stores a rule baseline snapshot.
func (d *DB) SaveBaseline(ctx context.Context, baseline RuleBaseline) error {
	err := d.db.Tx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO rule_baselines
             (id, proposal_id, rule_path, category, baseline_count,
              baseline_window_days, created_at, category_source)
             VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			baseline.ID, baseline.ProposalID, baseline.RulePath,
			string(baseline.Category), baseline.BaselineCount,
			baseline.BaselineWindowDays, baseline.CreatedAt,
			baseline.CategorySource)
		return err
	})
	if err != nil {
		return derrors.StorageUnavailable(err)
	}
	return nil
}

// ListBaselines returns all baselines, newest first.
func (d *DB) ListBaselines(ctx context.Context) ([]RuleBaseline, error) {
	rows, err := d.db.Handle().QueryContext(ctx,
		`SELECT id, proposal_id, rule_path, category, baseline_count,
            baseline_window_days, created_at, category_source
         FROM rule_baselines ORDER BY created_at DESC`)
	if err != nil {
		return nil, derrors.StorageUnavailable(err)
	}
	defer rows.Close()

	baselines := []RuleBaseline{}
	for rows.Next() {
		var b RuleBaseline
		if err := rows.Scan(&b.ID, &b.ProposalID, &b.RulePath,
			(*string)(&b.Category), &b.BaselineCount, &b.BaselineWindowDays,
			&b.CreatedAt, &b.CategorySource); err != nil {
			return nil, derrors.StorageUnavailable(err)
		}
		baselines = append(baselines, b)
	}
	return baselines, rows.Err()
}
