package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const (
	defaultListLimit = 500
	maxListLimit     = 5000
)

// SQLiteRepository stores entries in execution_logs.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository returns a repository over db.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Append inserts e and sets its ID.
func (r *SQLiteRepository) Append(ctx context.Context, e *Entry) error {
	var extra *string
	if len(e.Extra) > 0 {
		b, err := json.Marshal(e.Extra)
		if err != nil {
			return fmt.Errorf("marshalling log extra: %w", err)
		}
		s := string(b)
		extra = &s
	}

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO execution_logs (execution_id, step_id, seq, logged_at, level, message,
			measured_value, expected_value, extra)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ExecutionID, nullableString(e.StepID), e.Seq, e.Time.UTC().Format(time.RFC3339Nano),
		string(e.Level), e.Message, e.Measured, e.Expected, extra,
	)
	if err != nil {
		return fmt.Errorf("inserting execution log: %w", err)
	}
	if e.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("reading log id: %w", err)
	}
	return nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// List returns entries of one execution in seq order.
func (r *SQLiteRepository) List(ctx context.Context, executionID string, filter Filter) ([]Entry, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultListLimit
	}
	if filter.Limit > maxListLimit {
		filter.Limit = maxListLimit
	}

	conditions := []string{"execution_id = ?"}
	args := []any{executionID}
	if filter.Level != "" {
		conditions = append(conditions, "level = ?")
		args = append(args, string(filter.Level))
	}
	if filter.StepID != "" {
		conditions = append(conditions, "step_id = ?")
		args = append(args, filter.StepID)
	}
	if filter.AfterSeq > 0 {
		conditions = append(conditions, "seq > ?")
		args = append(args, filter.AfterSeq)
	}
	args = append(args, filter.Limit)

	query := fmt.Sprintf(`
		SELECT id, execution_id, step_id, seq, logged_at, level, message,
			measured_value, expected_value, extra
		FROM execution_logs
		WHERE %s
		ORDER BY seq
		LIMIT ?`, strings.Join(conditions, " AND ")) //nolint:gosec // WHERE built from fixed fragments

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying execution logs: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var (
			e                  Entry
			stepID, extra      sql.NullString
			loggedAt, level    string
			measured, expected sql.NullFloat64
		)
		if err := rows.Scan(&e.ID, &e.ExecutionID, &stepID, &e.Seq, &loggedAt, &level, &e.Message,
			&measured, &expected, &extra); err != nil {
			return nil, fmt.Errorf("scanning execution log: %w", err)
		}
		e.StepID = stepID.String
		e.Level = Level(level)
		if measured.Valid {
			e.Measured = &measured.Float64
		}
		if expected.Valid {
			e.Expected = &expected.Float64
		}
		if extra.Valid && extra.String != "" {
			if err := json.Unmarshal([]byte(extra.String), &e.Extra); err != nil {
				return nil, fmt.Errorf("decoding log extra: %w", err)
			}
		}
		if e.Time, err = time.Parse(time.RFC3339Nano, loggedAt); err != nil {
			return nil, fmt.Errorf("parsing log timestamp %q: %w", loggedAt, err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating execution logs: %w", err)
	}
	return entries, nil
}

// LastSeq returns the newest seq of an execution.
func (r *SQLiteRepository) LastSeq(ctx context.Context, executionID string) (int64, time.Time, error) {
	var (
		seq      int64
		loggedAt string
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT seq, logged_at FROM execution_logs WHERE execution_id = ? ORDER BY seq DESC LIMIT 1`,
		executionID,
	).Scan(&seq, &loggedAt)
	if err == sql.ErrNoRows {
		return 0, time.Time{}, nil
	}
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("reading last log seq: %w", err)
	}
	t, err := time.Parse(time.RFC3339Nano, loggedAt)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("parsing log timestamp %q: %w", loggedAt, err)
	}
	return seq, t, nil
}
