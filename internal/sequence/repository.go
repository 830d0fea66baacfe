package sequence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Repository persists the sequence catalog.
type Repository interface {
	ListLevels(ctx context.Context) ([]ShutdownLevel, error)
	SaveLevel(ctx context.Context, level *ShutdownLevel) error

	GetSequence(ctx context.Context, id string) (*Sequence, error)
	ListSequences(ctx context.Context) ([]Sequence, error)
	CreateSequence(ctx context.Context, seq *Sequence) error
	UpdateSequence(ctx context.Context, seq *Sequence) error
	DeleteSequence(ctx context.Context, id string) error

	ListInterlocks(ctx context.Context) ([]Interlock, error)
	SaveInterlock(ctx context.Context, il *Interlock) error
	DeleteInterlock(ctx context.Context, id string) error

	ListPermissives(ctx context.Context) ([]Permissive, error)
	SavePermissive(ctx context.Context, p *Permissive) error
	DeletePermissive(ctx context.Context, id string) error
}

const sequenceColumns = `id, site_id, name, type, level_code, description, estimated_duration_seconds,
			requires_operator_approval, active, created_at, updated_at`

const stepColumns = `id, sequence_id, step_number, name, description, action_type, target_asset,
			target_tag, action_params, timeout_seconds, requires_confirmation, hold_point,
			parallel_group, non_blocking`

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a SQLite-backed catalog repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// ListLevels returns shutdown levels ordered by severity.
func (r *SQLiteRepository) ListLevels(ctx context.Context) ([]ShutdownLevel, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT code, name, severity, requires_confirmation, auto_trigger_enabled
		FROM shutdown_levels ORDER BY severity, code`)
	if err != nil {
		return nil, fmt.Errorf("querying shutdown levels: %w", err)
	}
	defer rows.Close()

	var levels []ShutdownLevel
	for rows.Next() {
		var l ShutdownLevel
		var confirm, auto int
		if err := rows.Scan(&l.Code, &l.Name, &l.Severity, &confirm, &auto); err != nil {
			return nil, fmt.Errorf("scanning shutdown level: %w", err)
		}
		l.RequiresConfirmation = confirm != 0
		l.AutoTriggerEnabled = auto != 0
		levels = append(levels, l)
	}
	return levels, rows.Err()
}

// SaveLevel inserts or replaces a shutdown level.
func (r *SQLiteRepository) SaveLevel(ctx context.Context, l *ShutdownLevel) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO shutdown_levels (code, name, severity, requires_confirmation, auto_trigger_enabled)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(code) DO UPDATE SET
			name = excluded.name,
			severity = excluded.severity,
			requires_confirmation = excluded.requires_confirmation,
			auto_trigger_enabled = excluded.auto_trigger_enabled`,
		l.Code, l.Name, l.Severity, boolToInt(l.RequiresConfirmation), boolToInt(l.AutoTriggerEnabled),
	)
	if err != nil {
		return fmt.Errorf("saving shutdown level: %w", err)
	}
	return nil
}

// GetSequence retrieves a sequence and its steps.
func (r *SQLiteRepository) GetSequence(ctx context.Context, id string) (*Sequence, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+sequenceColumns+` FROM sequences WHERE id = ?`, id)
	seq, err := scanSequence(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSequenceNotFound
		}
		return nil, fmt.Errorf("querying sequence: %w", err)
	}

	steps, err := r.querySteps(ctx, `SELECT `+stepColumns+` FROM sequence_steps
		WHERE sequence_id = ? ORDER BY step_number`, id)
	if err != nil {
		return nil, err
	}
	seq.Steps = steps[id]
	return seq, nil
}

// ListSequences retrieves all sequences with their steps, ordered by name.
func (r *SQLiteRepository) ListSequences(ctx context.Context) ([]Sequence, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+sequenceColumns+` FROM sequences ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("querying sequences: %w", err)
	}
	defer rows.Close()

	var seqs []Sequence
	for rows.Next() {
		seq, err := scanSequence(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning sequence: %w", err)
		}
		seqs = append(seqs, *seq)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sequences: %w", err)
	}
	rows.Close()

	steps, err := r.querySteps(ctx, `SELECT `+stepColumns+` FROM sequence_steps ORDER BY sequence_id, step_number`)
	if err != nil {
		return nil, err
	}
	for i := range seqs {
		seqs[i].Steps = steps[seqs[i].ID]
	}
	return seqs, nil
}

// CreateSequence inserts a sequence and its steps in one transaction.
func (r *SQLiteRepository) CreateSequence(ctx context.Context, seq *Sequence) error {
	now := time.Now().UTC()
	if seq.CreatedAt.IsZero() {
		seq.CreatedAt = now
	}
	seq.UpdatedAt = now

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sequences (`+sequenceColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		seq.ID, seq.SiteID, seq.Name, string(seq.Type), nullableString(seq.LevelCode),
		nullableString(seq.Description), seq.EstimatedDurationSeconds,
		boolToInt(seq.RequiresOperatorApproval), boolToInt(seq.Active),
		seq.CreatedAt.Format(time.RFC3339), seq.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrSequenceExists
		}
		return fmt.Errorf("inserting sequence: %w", err)
	}

	for i := range seq.Steps {
		if err := upsertStep(ctx, tx, seq.ID, &seq.Steps[i]); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing sequence: %w", err)
	}
	return nil
}

// UpdateSequence rewrites a sequence and reconciles its steps. Steps keep
// their IDs across updates so step-scoped permissives survive renumbering.
func (r *SQLiteRepository) UpdateSequence(ctx context.Context, seq *Sequence) error {
	seq.UpdatedAt = time.Now().UTC()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	res, err := tx.ExecContext(ctx, `
		UPDATE sequences SET
			site_id = ?, name = ?, type = ?, level_code = ?, description = ?,
			estimated_duration_seconds = ?, requires_operator_approval = ?, active = ?, updated_at = ?
		WHERE id = ?`,
		seq.SiteID, seq.Name, string(seq.Type), nullableString(seq.LevelCode),
		nullableString(seq.Description), seq.EstimatedDurationSeconds,
		boolToInt(seq.RequiresOperatorApproval), boolToInt(seq.Active),
		seq.UpdatedAt.Format(time.RFC3339), seq.ID,
	)
	if err != nil {
		return fmt.Errorf("updating sequence: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 { //nolint:errcheck // sqlite always reports
		return ErrSequenceNotFound
	}

	keep := make([]any, 0, len(seq.Steps)+1)
	keep = append(keep, seq.ID)
	for i := range seq.Steps {
		if seq.Steps[i].ID == "" {
			seq.Steps[i].ID = NewID()
		}
		keep = append(keep, seq.Steps[i].ID)
	}

	deleteQuery := `DELETE FROM sequence_steps WHERE sequence_id = ?`
	if len(keep) > 1 {
		deleteQuery += ` AND id NOT IN (?` + strings.Repeat(", ?", len(keep)-2) + `)`
	}
	if _, err := tx.ExecContext(ctx, deleteQuery, keep...); err != nil {
		return fmt.Errorf("removing dropped steps: %w", err)
	}

	// Move surviving rows out of the way of UNIQUE(sequence_id, step_number).
	if _, err := tx.ExecContext(ctx,
		`UPDATE sequence_steps SET step_number = -step_number WHERE sequence_id = ?`, seq.ID,
	); err != nil {
		return fmt.Errorf("renumbering steps: %w", err)
	}

	for i := range seq.Steps {
		if err := upsertStep(ctx, tx, seq.ID, &seq.Steps[i]); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing sequence: %w", err)
	}
	return nil
}

// DeleteSequence removes a sequence. Steps and permissives cascade.
func (r *SQLiteRepository) DeleteSequence(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM sequences WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting sequence: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 { //nolint:errcheck // sqlite always reports
		return ErrSequenceNotFound
	}
	return nil
}

// ListInterlocks returns interlocks with their ordered conditions,
// highest priority first.
func (r *SQLiteRepository) ListInterlocks(ctx context.Context) ([]Interlock, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, site_id, name, type, trigger_action, linked_sequence_id, priority,
			active, bypass_allowed, created_at, updated_at
		FROM interlocks ORDER BY priority DESC, name`)
	if err != nil {
		return nil, fmt.Errorf("querying interlocks: %w", err)
	}
	defer rows.Close()

	var interlocks []Interlock
	index := make(map[string]int)
	for rows.Next() {
		var il Interlock
		var linked sql.NullString
		var active, bypass int
		var createdAt, updatedAt string
		if err := rows.Scan(&il.ID, &il.SiteID, &il.Name, &il.Type, &il.TriggerAction, &linked,
			&il.Priority, &active, &bypass, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scanning interlock: %w", err)
		}
		il.LinkedSequenceID = linked.String
		il.Active = active != 0
		il.BypassAllowed = bypass != 0
		il.CreatedAt = parseTime(createdAt)
		il.UpdatedAt = parseTime(updatedAt)
		index[il.ID] = len(interlocks)
		interlocks = append(interlocks, il)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating interlocks: %w", err)
	}
	rows.Close()

	condRows, err := r.db.QueryContext(ctx, `
		SELECT id, interlock_id, tag_id, operator, setpoint, min_value, max_value, logic_operator
		FROM interlock_conditions ORDER BY interlock_id, position`)
	if err != nil {
		return nil, fmt.Errorf("querying interlock conditions: %w", err)
	}
	defer condRows.Close()

	for condRows.Next() {
		var c InterlockCondition
		var interlockID string
		var setpoint, lo, hi sql.NullFloat64
		if err := condRows.Scan(&c.ID, &interlockID, &c.TagID, &c.Operator, &setpoint, &lo, &hi, &c.LogicOperator); err != nil {
			return nil, fmt.Errorf("scanning interlock condition: %w", err)
		}
		c.Setpoint = floatPtr(setpoint)
		c.Min = floatPtr(lo)
		c.Max = floatPtr(hi)
		if i, ok := index[interlockID]; ok {
			interlocks[i].Conditions = append(interlocks[i].Conditions, c)
		}
	}
	return interlocks, condRows.Err()
}

// SaveInterlock inserts or replaces an interlock and all of its conditions.
func (r *SQLiteRepository) SaveInterlock(ctx context.Context, il *Interlock) error {
	now := time.Now().UTC()
	if il.CreatedAt.IsZero() {
		il.CreatedAt = now
	}
	il.UpdatedAt = now

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	_, err = tx.ExecContext(ctx, `
		INSERT INTO interlocks (id, site_id, name, type, trigger_action, linked_sequence_id,
			priority, active, bypass_allowed, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			site_id = excluded.site_id,
			name = excluded.name,
			type = excluded.type,
			trigger_action = excluded.trigger_action,
			linked_sequence_id = excluded.linked_sequence_id,
			priority = excluded.priority,
			active = excluded.active,
			bypass_allowed = excluded.bypass_allowed,
			updated_at = excluded.updated_at`,
		il.ID, il.SiteID, il.Name, string(il.Type), string(il.TriggerAction),
		nullableString(il.LinkedSequenceID), il.Priority, boolToInt(il.Active),
		boolToInt(il.BypassAllowed), il.CreatedAt.Format(time.RFC3339), il.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("saving interlock: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM interlock_conditions WHERE interlock_id = ?`, il.ID); err != nil {
		return fmt.Errorf("clearing interlock conditions: %w", err)
	}
	for i := range il.Conditions {
		c := &il.Conditions[i]
		if c.ID == "" {
			c.ID = NewID()
		}
		if c.LogicOperator == "" {
			c.LogicOperator = LogicAnd
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO interlock_conditions (id, interlock_id, position, tag_id, operator,
				setpoint, min_value, max_value, logic_operator)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			c.ID, il.ID, i, c.TagID, string(c.Operator.Normalize()),
			nullableFloat(c.Setpoint), nullableFloat(c.Min), nullableFloat(c.Max), string(c.LogicOperator),
		)
		if err != nil {
			return fmt.Errorf("inserting interlock condition %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing interlock: %w", err)
	}
	return nil
}

// DeleteInterlock removes an interlock and its conditions.
func (r *SQLiteRepository) DeleteInterlock(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM interlocks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting interlock: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 { //nolint:errcheck // sqlite always reports
		return ErrInterlockNotFound
	}
	return nil
}

// ListPermissives returns all permissives.
func (r *SQLiteRepository) ListPermissives(ctx context.Context) ([]Permissive, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, sequence_id, step_id, name, tag_id, required_value, required_state, tolerance, active
		FROM permissives ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("querying permissives: %w", err)
	}
	defer rows.Close()

	var out []Permissive
	for rows.Next() {
		var p Permissive
		var seqID, stepID sql.NullString
		var value sql.NullFloat64
		var state sql.NullInt64
		var active int
		if err := rows.Scan(&p.ID, &seqID, &stepID, &p.Name, &p.TagID, &value, &state, &p.Tolerance, &active); err != nil {
			return nil, fmt.Errorf("scanning permissive: %w", err)
		}
		p.SequenceID = seqID.String
		p.StepID = stepID.String
		p.RequiredValue = floatPtr(value)
		if state.Valid {
			p.RequiredState = Bool(state.Int64 != 0)
		}
		p.Active = active != 0
		out = append(out, p)
	}
	return out, rows.Err()
}

// SavePermissive inserts or replaces a permissive.
func (r *SQLiteRepository) SavePermissive(ctx context.Context, p *Permissive) error {
	var state sql.NullInt64
	if p.RequiredState != nil {
		state = sql.NullInt64{Int64: int64(boolToInt(*p.RequiredState)), Valid: true}
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO permissives (id, sequence_id, step_id, name, tag_id, required_value, required_state, tolerance, active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			sequence_id = excluded.sequence_id,
			step_id = excluded.step_id,
			name = excluded.name,
			tag_id = excluded.tag_id,
			required_value = excluded.required_value,
			required_state = excluded.required_state,
			tolerance = excluded.tolerance,
			active = excluded.active`,
		p.ID, nullableString(p.SequenceID), nullableString(p.StepID), p.Name, p.TagID,
		nullableFloat(p.RequiredValue), state, p.Tolerance, boolToInt(p.Active),
	)
	if err != nil {
		return fmt.Errorf("saving permissive: %w", err)
	}
	return nil
}

// DeletePermissive removes a permissive.
func (r *SQLiteRepository) DeletePermissive(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM permissives WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting permissive: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 { //nolint:errcheck // sqlite always reports
		return ErrPermissiveNotFound
	}
	return nil
}

func upsertStep(ctx context.Context, tx *sql.Tx, sequenceID string, st *Step) error {
	if st.ID == "" {
		st.ID = NewID()
	}
	st.SequenceID = sequenceID

	var params sql.NullString
	if st.Params != nil {
		raw, err := json.Marshal(st.Params)
		if err != nil {
			return fmt.Errorf("marshalling step %d params: %w", st.StepNumber, err)
		}
		params = sql.NullString{String: string(raw), Valid: true}
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO sequence_steps (`+stepColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			sequence_id = excluded.sequence_id,
			step_number = excluded.step_number,
			name = excluded.name,
			description = excluded.description,
			action_type = excluded.action_type,
			target_asset = excluded.target_asset,
			target_tag = excluded.target_tag,
			action_params = excluded.action_params,
			timeout_seconds = excluded.timeout_seconds,
			requires_confirmation = excluded.requires_confirmation,
			hold_point = excluded.hold_point,
			parallel_group = excluded.parallel_group,
			non_blocking = excluded.non_blocking`,
		st.ID, sequenceID, st.StepNumber, st.Name, nullableString(st.Description), string(st.ActionType),
		nullableString(st.TargetAsset), nullableString(st.TargetTag), params, st.TimeoutSeconds,
		boolToInt(st.RequiresConfirmation), boolToInt(st.HoldPoint), st.ParallelGroup, boolToInt(st.NonBlocking),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("%w: duplicate step_number %d", ErrInvalidSequence, st.StepNumber)
		}
		return fmt.Errorf("saving step %d: %w", st.StepNumber, err)
	}
	return nil
}

// querySteps returns steps grouped by sequence ID.
func (r *SQLiteRepository) querySteps(ctx context.Context, query string, args ...any) (map[string][]Step, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying steps: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]Step)
	for rows.Next() {
		var st Step
		var description, asset, tag, params sql.NullString
		var confirm, hold, nonBlocking int
		if err := rows.Scan(&st.ID, &st.SequenceID, &st.StepNumber, &st.Name, &description, &st.ActionType,
			&asset, &tag, &params, &st.TimeoutSeconds, &confirm, &hold, &st.ParallelGroup, &nonBlocking); err != nil {
			return nil, fmt.Errorf("scanning step: %w", err)
		}
		st.Description = description.String
		st.TargetAsset = asset.String
		st.TargetTag = tag.String
		st.RequiresConfirmation = confirm != 0
		st.HoldPoint = hold != 0
		st.NonBlocking = nonBlocking != 0

		st.Params, err = DecodeParams(st.ActionType, json.RawMessage(params.String))
		if err != nil {
			return nil, fmt.Errorf("step %s: %w", st.ID, err)
		}
		out[st.SequenceID] = append(out[st.SequenceID], st)
	}
	return out, rows.Err()
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanSequence(scanner rowScanner) (*Sequence, error) {
	var s Sequence
	var level, description sql.NullString
	var approval, active int
	var createdAt, updatedAt string

	if err := scanner.Scan(&s.ID, &s.SiteID, &s.Name, &s.Type, &level, &description,
		&s.EstimatedDurationSeconds, &approval, &active, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	s.LevelCode = level.String
	s.Description = description.String
	s.RequiresOperatorApproval = approval != 0
	s.Active = active != 0
	s.CreatedAt = parseTime(createdAt)
	s.UpdatedAt = parseTime(updatedAt)
	return &s, nil
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339, s) //nolint:errcheck // format is ours
	return t
}

func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullableFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func floatPtr(f sql.NullFloat64) *float64 {
	if !f.Valid {
		return nil
	}
	v := f.Float64
	return &v
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "unique constraint")
}
