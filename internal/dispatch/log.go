package dispatch

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Attempt outcomes stored in dcs_commands.
const (
	OutcomeAcked   = "acked"
	OutcomeNacked  = "nacked"
	OutcomeTimeout = "timeout"
	OutcomeError   = "error"
)

// Attempt is one send of one command.
type Attempt struct {
	Command
	Attempt     int       `json:"attempt"`
	Outcome     string    `json:"outcome"`
	Reason      string    `json:"reason,omitempty"`
	SentAt      time.Time `json:"sent_at"`
	CompletedAt time.Time `json:"completed_at"`
}

// CommandLog records command attempts.
type CommandLog interface {
	RecordAttempt(ctx context.Context, a Attempt) error
}

// SQLiteCommandLog stores attempts in dcs_commands.
type SQLiteCommandLog struct {
	db *sql.DB
}

// NewSQLiteCommandLog returns a log over db.
func NewSQLiteCommandLog(db *sql.DB) *SQLiteCommandLog {
	return &SQLiteCommandLog{db: db}
}

// RecordAttempt inserts one attempt row.
func (l *SQLiteCommandLog) RecordAttempt(ctx context.Context, a Attempt) error {
	var value sql.NullString
	if a.Value != nil {
		raw, err := json.Marshal(a.Value)
		if err != nil {
			return fmt.Errorf("marshalling command value: %w", err)
		}
		value = sql.NullString{String: string(raw), Valid: true}
	}

	_, err := l.db.ExecContext(ctx, `
		INSERT INTO dcs_commands (id, attempt, execution_id, step_id, command_type, target_point,
			value, status, reason, sent_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Attempt, a.ExecutionID, nullString(a.StepID), a.Type, a.TargetPoint,
		value, a.Outcome, nullString(a.Reason),
		a.SentAt.UTC().Format(time.RFC3339Nano), a.CompletedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting dcs command %s attempt %d: %w", a.ID, a.Attempt, err)
	}
	return nil
}

// ListByExecution returns every attempt of an execution in send order.
func (l *SQLiteCommandLog) ListByExecution(ctx context.Context, executionID string) ([]Attempt, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, attempt, execution_id, step_id, command_type, target_point,
			value, status, reason, sent_at, completed_at
		FROM dcs_commands
		WHERE execution_id = ?
		ORDER BY rowid`, executionID)
	if err != nil {
		return nil, fmt.Errorf("querying dcs commands: %w", err)
	}
	defer rows.Close()

	var out []Attempt
	for rows.Next() {
		var (
			a                 Attempt
			stepID, reason    sql.NullString
			value             sql.NullString
			sentAt, completed string
		)
		if err := rows.Scan(&a.ID, &a.Attempt, &a.ExecutionID, &stepID, &a.Type, &a.TargetPoint,
			&value, &a.Outcome, &reason, &sentAt, &completed); err != nil {
			return nil, fmt.Errorf("scanning dcs command: %w", err)
		}
		a.StepID = stepID.String
		a.Reason = reason.String
		if value.Valid {
			if err := json.Unmarshal([]byte(value.String), &a.Value); err != nil {
				return nil, fmt.Errorf("decoding command value: %w", err)
			}
		}
		if a.SentAt, err = time.Parse(time.RFC3339Nano, sentAt); err != nil {
			return nil, fmt.Errorf("parsing sent_at: %w", err)
		}
		if a.CompletedAt, err = time.Parse(time.RFC3339Nano, completed); err != nil {
			return nil, fmt.Errorf("parsing completed_at: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
