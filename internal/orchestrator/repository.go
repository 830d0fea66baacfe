package orchestrator

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/gray-logic-esd/internal/sequence"
)

// Repository persists executions with their frozen configuration.
type Repository interface {
	Create(ctx context.Context, exec *Execution, snap *sequence.Snapshot) error
	Update(ctx context.Context, exec *Execution) error
	Get(ctx context.Context, id string) (*Execution, error)
	List(ctx context.Context, filter Filter) ([]Execution, error)
	Snapshot(ctx context.Context, id string) (*sequence.Snapshot, error)
}

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

// SQLiteRepository stores executions in the executions table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository returns a repository over db.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const executionColumns = `id, sequence_id, sequence_name, sequence_type, status, initiated_by,
	initiated_at, completed_at, current_step_id, reason, is_emergency, bypass_interlocks,
	approval_status, approved_by, approved_at, failure_reason, updated_at`

// Create inserts a new execution and its snapshot.
func (r *SQLiteRepository) Create(ctx context.Context, exec *Execution, snap *sequence.Snapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshalling plan snapshot: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO executions (`+executionColumns+`, plan_snapshot)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		exec.ID, exec.SequenceID, exec.SequenceName, string(exec.SequenceType), string(exec.Status),
		exec.InitiatedBy, formatTime(exec.InitiatedAt), formatTimePtr(exec.CompletedAt),
		nullString(exec.CurrentStepID), nullString(exec.Reason),
		boolToInt(exec.IsEmergency), boolToInt(exec.BypassInterlocks),
		string(exec.ApprovalStatus), nullString(exec.ApprovedBy), formatTimePtr(exec.ApprovedAt),
		nullString(exec.FailureReason), formatTime(exec.UpdatedAt), string(raw),
	)
	if err != nil {
		return fmt.Errorf("inserting execution: %w", err)
	}
	return nil
}

// Update writes the mutable fields of an execution.
func (r *SQLiteRepository) Update(ctx context.Context, exec *Execution) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE executions SET
			status = ?, completed_at = ?, current_step_id = ?, approval_status = ?,
			approved_by = ?, approved_at = ?, failure_reason = ?, updated_at = ?
		WHERE id = ?`,
		string(exec.Status), formatTimePtr(exec.CompletedAt), nullString(exec.CurrentStepID),
		string(exec.ApprovalStatus), nullString(exec.ApprovedBy), formatTimePtr(exec.ApprovedAt),
		nullString(exec.FailureReason), formatTime(exec.UpdatedAt), exec.ID,
	)
	if err != nil {
		return fmt.Errorf("updating execution: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrExecutionNotFound
	}
	return nil
}

// Get returns one execution.
func (r *SQLiteRepository) Get(ctx context.Context, id string) (*Execution, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+executionColumns+` FROM executions WHERE id = ?`, id)
	exec, err := scanExecution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrExecutionNotFound
	}
	return exec, err
}

// List returns executions newest first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) ([]Execution, error) {
	if filter.Limit <= 0 || filter.Limit > maxListLimit {
		filter.Limit = defaultListLimit
	}

	var conditions []string
	var args []any
	if len(filter.Statuses) > 0 {
		marks := make([]string, len(filter.Statuses))
		for i, s := range filter.Statuses {
			marks[i] = "?"
			args = append(args, string(s))
		}
		conditions = append(conditions, "status IN ("+strings.Join(marks, ", ")+")")
	}
	if filter.SequenceID != "" {
		conditions = append(conditions, "sequence_id = ?")
		args = append(args, filter.SequenceID)
	}
	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}
	args = append(args, filter.Limit)

	query := fmt.Sprintf(`SELECT %s FROM executions %s ORDER BY initiated_at DESC, id LIMIT ?`, executionColumns, where) //nolint:gosec // WHERE built from fixed fragments
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying executions: %w", err)
	}
	defer rows.Close()

	out := []Execution{}
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *exec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating executions: %w", err)
	}
	return out, nil
}

// Snapshot returns the configuration an execution was started with.
func (r *SQLiteRepository) Snapshot(ctx context.Context, id string) (*sequence.Snapshot, error) {
	var raw string
	err := r.db.QueryRowContext(ctx, `SELECT plan_snapshot FROM executions WHERE id = ?`, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrExecutionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading plan snapshot: %w", err)
	}

	var snap sequence.Snapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		return nil, fmt.Errorf("decoding plan snapshot: %w", err)
	}
	return &snap, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExecution(row rowScanner) (*Execution, error) {
	var (
		e                                           Execution
		seqType, status, approval                   string
		initiatedAt, updatedAt                      string
		completedAt, approvedAt                     sql.NullString
		currentStep, reason, approvedBy, failReason sql.NullString
		emergency, bypass                           int
	)
	if err := row.Scan(&e.ID, &e.SequenceID, &e.SequenceName, &seqType, &status, &e.InitiatedBy,
		&initiatedAt, &completedAt, &currentStep, &reason, &emergency, &bypass,
		&approval, &approvedBy, &approvedAt, &failReason, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning execution: %w", err)
	}

	e.SequenceType = sequence.SequenceType(seqType)
	e.Status = Status(status)
	e.ApprovalStatus = ApprovalStatus(approval)
	e.CurrentStepID = currentStep.String
	e.Reason = reason.String
	e.ApprovedBy = approvedBy.String
	e.FailureReason = failReason.String
	e.IsEmergency = emergency != 0
	e.BypassInterlocks = bypass != 0

	var err error
	if e.InitiatedAt, err = parseTime(initiatedAt); err != nil {
		return nil, err
	}
	if e.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	if e.CompletedAt, err = parseTimePtr(completedAt); err != nil {
		return nil, err
	}
	if e.ApprovedAt, err = parseTimePtr(approvedAt); err != nil {
		return nil, err
	}
	return &e, nil
}

// timeFormat is fixed width so stored timestamps sort as text.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", s, err)
	}
	return t, nil
}

func parseTimePtr(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
