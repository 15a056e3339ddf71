// Package store persists observations, reports and drift snapshots in
// an embedded sqlite database. All tables are append-only: rows are
// inserted, never updated, so the history read back is exactly the
// history that was written.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/driftgate/driftgate/internal/model"
)

// Store wraps the sqlite handle. Safe for concurrent use; sqlite
// serializes writers internally.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and runs migrations.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// modernc sqlite is a single-writer engine; one connection avoids
	// SQLITE_BUSY churn under concurrent appends.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS observations (
		subject_id TEXT NOT NULL,
		sequence   INTEGER NOT NULL,
		ts         INTEGER NOT NULL,
		payload    TEXT NOT NULL,
		PRIMARY KEY (subject_id, sequence)
	);

	CREATE TABLE IF NOT EXISTS reports (
		report_id   TEXT PRIMARY KEY,
		subject_id  TEXT NOT NULL,
		sequence    INTEGER NOT NULL,
		decision    TEXT NOT NULL,
		reason      TEXT NOT NULL,
		policy_hash TEXT NOT NULL,
		verdicts    TEXT NOT NULL,
		ts          INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_reports_subject ON reports(subject_id, sequence);

	CREATE TABLE IF NOT EXISTS drift_snapshots (
		subject_id   TEXT NOT NULL,
		window_id    TEXT NOT NULL,
		window_start INTEGER NOT NULL,
		window_end   INTEGER NOT NULL,
		sample_count INTEGER NOT NULL,
		score        REAL NOT NULL,
		prev_score   REAL NOT NULL,
		trend        TEXT NOT NULL,
		sequence     INTEGER NOT NULL,
		PRIMARY KEY (subject_id, window_id)
	);
	CREATE INDEX IF NOT EXISTS idx_drift_subject ON drift_snapshots(subject_id, sequence);`

	_, err := s.db.Exec(query)
	return err
}

// AppendEvaluation persists one evaluated observation atomically: the
// observation, its report and the drift snapshot it produced land in a
// single transaction or not at all.
func (s *Store) AppendEvaluation(ctx context.Context, obs *model.Observation, report *model.Report) error {
	payload, err := json.Marshal(obs.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	verdicts, err := json.Marshal(report.Verdicts)
	if err != nil {
		return fmt.Errorf("marshal verdicts: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO observations (subject_id, sequence, ts, payload) VALUES (?, ?, ?, ?)`,
		obs.SubjectID, obs.Sequence, obs.Timestamp, string(payload)); err != nil {
		return fmt.Errorf("insert observation: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO reports (report_id, subject_id, sequence, decision, reason, policy_hash, verdicts, ts)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		report.ReportID, obs.SubjectID, obs.Sequence, string(report.Decision),
		report.Reason, report.PolicyHash, string(verdicts), report.Timestamp); err != nil {
		return fmt.Errorf("insert report: %w", err)
	}

	d := report.Drift
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO drift_snapshots (subject_id, window_id, window_start, window_end, sample_count, score, prev_score, trend, sequence)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.SubjectID, d.WindowID, d.WindowStart, d.WindowEnd, d.SampleCount,
		d.Score, d.PrevScore, string(d.Trend), obs.Sequence); err != nil {
		return fmt.Errorf("insert drift snapshot: %w", err)
	}

	return tx.Commit()
}

// SubjectTail is the last stored sequence and timestamp for a subject,
// used to seed in-memory counters at startup.
type SubjectTail struct {
	Sequence  uint64
	Timestamp int64
}

// Tails returns the newest observation per subject.
func (s *Store) Tails(ctx context.Context) (map[string]SubjectTail, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT subject_id, MAX(sequence), MAX(ts) FROM observations GROUP BY subject_id`)
	if err != nil {
		return nil, fmt.Errorf("query tails: %w", err)
	}
	defer rows.Close()

	tails := make(map[string]SubjectTail)
	for rows.Next() {
		var subject string
		var tail SubjectTail
		if err := rows.Scan(&subject, &tail.Sequence, &tail.Timestamp); err != nil {
			return nil, fmt.Errorf("scan tail: %w", err)
		}
		tails[subject] = tail
	}
	return tails, rows.Err()
}

// Observations returns up to limit observations for a subject with
// sequence greater than afterSeq, in sequence order.
func (s *Store) Observations(ctx context.Context, subjectID string, afterSeq uint64, limit int) ([]model.Observation, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT sequence, ts, payload FROM observations
		 WHERE subject_id = ? AND sequence > ?
		 ORDER BY sequence ASC LIMIT ?`,
		subjectID, afterSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("query observations: %w", err)
	}
	defer rows.Close()

	var out []model.Observation
	for rows.Next() {
		obs := model.Observation{SubjectID: subjectID}
		var payload string
		if err := rows.Scan(&obs.Sequence, &obs.Timestamp, &payload); err != nil {
			return nil, fmt.Errorf("scan observation: %w", err)
		}
		if err := json.Unmarshal([]byte(payload), &obs.Payload); err != nil {
			return nil, fmt.Errorf("decode payload seq %d: %w", obs.Sequence, err)
		}
		out = append(out, obs)
	}
	return out, rows.Err()
}

// Reports returns up to limit reports for a subject with sequence
// greater than afterSeq, in sequence order.
func (s *Store) Reports(ctx context.Context, subjectID string, afterSeq uint64, limit int) ([]model.Report, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT r.report_id, r.sequence, r.decision, r.reason, r.policy_hash, r.verdicts, r.ts,
		        d.window_id, d.window_start, d.window_end, d.sample_count, d.score, d.prev_score, d.trend
		 FROM reports r
		 JOIN drift_snapshots d ON d.subject_id = r.subject_id AND d.sequence = r.sequence
		 WHERE r.subject_id = ? AND r.sequence > ?
		 ORDER BY r.sequence ASC LIMIT ?`,
		subjectID, afterSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("query reports: %w", err)
	}
	defer rows.Close()

	var out []model.Report
	for rows.Next() {
		var r model.Report
		var decision, trend, verdicts string
		r.ObservationRef.SubjectID = subjectID
		r.Drift.SubjectID = subjectID
		if err := rows.Scan(&r.ReportID, &r.ObservationRef.Sequence, &decision, &r.Reason,
			&r.PolicyHash, &verdicts, &r.Timestamp,
			&r.Drift.WindowID, &r.Drift.WindowStart, &r.Drift.WindowEnd,
			&r.Drift.SampleCount, &r.Drift.Score, &r.Drift.PrevScore, &trend); err != nil {
			return nil, fmt.Errorf("scan report: %w", err)
		}
		r.Decision = model.Decision(decision)
		r.Drift.Trend = model.Trend(trend)
		if err := json.Unmarshal([]byte(verdicts), &r.Verdicts); err != nil {
			return nil, fmt.Errorf("decode verdicts %s: %w", r.ReportID, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// DriftHistory returns drift snapshots for a subject whose window end
// falls inside [from, to], oldest first. from or to may be zero for an
// open bound.
func (s *Store) DriftHistory(ctx context.Context, subjectID string, from, to int64) ([]model.DriftState, error) {
	if to == 0 {
		to = 1<<63 - 1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT window_id, window_start, window_end, sample_count, score, prev_score, trend
		 FROM drift_snapshots
		 WHERE subject_id = ? AND window_end >= ? AND window_end <= ?
		 ORDER BY sequence ASC`,
		subjectID, from, to)
	if err != nil {
		return nil, fmt.Errorf("query drift history: %w", err)
	}
	defer rows.Close()

	var out []model.DriftState
	for rows.Next() {
		d := model.DriftState{SubjectID: subjectID}
		var trend string
		if err := rows.Scan(&d.WindowID, &d.WindowStart, &d.WindowEnd,
			&d.SampleCount, &d.Score, &d.PrevScore, &trend); err != nil {
			return nil, fmt.Errorf("scan drift snapshot: %w", err)
		}
		d.Trend = model.Trend(trend)
		out = append(out, d)
	}
	return out, rows.Err()
}

// PruneBefore removes drift snapshots whose window ended before the
// cutoff. Observations and reports are kept; only the derived drift
// rows age out.
func (s *Store) PruneBefore(ctx context.Context, cutoff int64) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM drift_snapshots WHERE window_end < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
