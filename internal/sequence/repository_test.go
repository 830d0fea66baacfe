package sequence

import (
	"context"
	"errors"
	"testing"
)

func TestRepositorySequenceRoundTrip(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db.DB)
	ctx := context.Background()

	if err := repo.SaveLevel(ctx, &ShutdownLevel{Code: "ESD-1", Name: "Unit shutdown", Severity: 1}); err != nil {
		t.Fatalf("SaveLevel() error = %v", err)
	}

	seq := testSequence("seq-1")
	seq.LevelCode = "ESD-1"
	seq.Steps[0].Params = &CloseValveParams{Position: Float(10)}
	seq.Steps[1].NonBlocking = true
	if err := repo.CreateSequence(ctx, seq); err != nil {
		t.Fatalf("CreateSequence() error = %v", err)
	}

	got, err := repo.GetSequence(ctx, "seq-1")
	if err != nil {
		t.Fatalf("GetSequence() error = %v", err)
	}
	if got.Name != seq.Name || got.LevelCode != "ESD-1" || !got.Active {
		t.Errorf("sequence = %+v", got)
	}
	if len(got.Steps) != 3 {
		t.Fatalf("steps = %d, want 3", len(got.Steps))
	}
	cv, ok := got.Steps[0].Params.(*CloseValveParams)
	if !ok || cv.Position == nil || *cv.Position != 10 {
		t.Errorf("step 1 params = %#v", got.Steps[0].Params)
	}
	if !got.Steps[1].NonBlocking {
		t.Error("step 2 NonBlocking lost")
	}
	if wp, ok := got.Steps[2].Params.(*WaitParams); !ok || wp.DurationSeconds != 5 {
		t.Errorf("step 3 params = %#v", got.Steps[2].Params)
	}
	if got.CreatedAt.IsZero() {
		t.Error("CreatedAt not set")
	}

	if err := repo.CreateSequence(ctx, testSequence("seq-1")); !errors.Is(err, ErrSequenceExists) {
		t.Errorf("duplicate CreateSequence() error = %v, want ErrSequenceExists", err)
	}
}

func TestRepositoryUpdateReconcilesSteps(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db.DB)
	ctx := context.Background()

	seq := testSequence("seq-u")
	if err := repo.CreateSequence(ctx, seq); err != nil {
		t.Fatalf("CreateSequence() error = %v", err)
	}
	perm := &Permissive{ID: "p1", StepID: "seq-u-s2", Name: "Pump ready", TagID: "P-201.ready", RequiredState: Bool(true), Active: true}
	if err := repo.SavePermissive(ctx, perm); err != nil {
		t.Fatalf("SavePermissive() error = %v", err)
	}

	// Swap step numbers of s1 and s2, drop s3, add a new step.
	seq.Steps[0].StepNumber, seq.Steps[1].StepNumber = 2, 1
	seq.Steps = seq.Steps[:2]
	seq.Steps = append(seq.Steps, Step{
		StepNumber: 3, Name: "Raise alarm", ActionType: ActionAlarm,
		Params: &AlarmParams{Message: "unit down"},
	})
	if err := repo.UpdateSequence(ctx, seq); err != nil {
		t.Fatalf("UpdateSequence() error = %v", err)
	}

	got, err := repo.GetSequence(ctx, "seq-u")
	if err != nil {
		t.Fatalf("GetSequence() error = %v", err)
	}
	if len(got.Steps) != 3 {
		t.Fatalf("steps = %d, want 3", len(got.Steps))
	}
	if got.Steps[0].ID != "seq-u-s2" || got.Steps[1].ID != "seq-u-s1" {
		t.Errorf("step order = %s, %s", got.Steps[0].ID, got.Steps[1].ID)
	}
	if got.Steps[2].ActionType != ActionAlarm || got.Steps[2].ID == "" {
		t.Errorf("new step = %+v", got.Steps[2])
	}

	perms, err := repo.ListPermissives(ctx)
	if err != nil {
		t.Fatalf("ListPermissives() error = %v", err)
	}
	if len(perms) != 1 || perms[0].StepID != "seq-u-s2" {
		t.Errorf("permissives = %+v, want step-scoped permissive kept", perms)
	}

	if err := repo.UpdateSequence(ctx, testSequence("missing")); !errors.Is(err, ErrSequenceNotFound) {
		t.Errorf("UpdateSequence(missing) error = %v", err)
	}
}

func TestRepositoryDeleteCascades(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db.DB)
	ctx := context.Background()

	if err := repo.CreateSequence(ctx, testSequence("seq-d")); err != nil {
		t.Fatalf("CreateSequence() error = %v", err)
	}
	if err := repo.SavePermissive(ctx, &Permissive{
		ID: "p", SequenceID: "seq-d", Name: "Flow low", TagID: "FT-1", RequiredValue: Float(0), Tolerance: 1, Active: true,
	}); err != nil {
		t.Fatalf("SavePermissive() error = %v", err)
	}

	if err := repo.DeleteSequence(ctx, "seq-d"); err != nil {
		t.Fatalf("DeleteSequence() error = %v", err)
	}
	if _, err := repo.GetSequence(ctx, "seq-d"); !errors.Is(err, ErrSequenceNotFound) {
		t.Errorf("GetSequence() error = %v, want ErrSequenceNotFound", err)
	}
	perms, err := repo.ListPermissives(ctx)
	if err != nil {
		t.Fatalf("ListPermissives() error = %v", err)
	}
	if len(perms) != 0 {
		t.Errorf("permissives = %d, want 0 after cascade", len(perms))
	}
	if err := repo.DeleteSequence(ctx, "seq-d"); !errors.Is(err, ErrSequenceNotFound) {
		t.Errorf("second DeleteSequence() error = %v", err)
	}
}

func TestRepositoryInterlocks(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db.DB)
	ctx := context.Background()

	low := testInterlock("il-low", TriggerAlarm)
	low.Priority = 1
	high := testInterlock("il-high", TriggerFullShutdown)
	high.Priority = 50
	high.Conditions = append(high.Conditions, InterlockCondition{
		TagID: "LT-1", Operator: OpOutOfRange, Min: Float(10), Max: Float(90), LogicOperator: LogicOr,
	}, InterlockCondition{
		TagID: "TT-1", Operator: "!=", Setpoint: Float(0),
	})

	for _, il := range []*Interlock{low, high} {
		if err := repo.SaveInterlock(ctx, il); err != nil {
			t.Fatalf("SaveInterlock(%s) error = %v", il.ID, err)
		}
	}

	list, err := repo.ListInterlocks(ctx)
	if err != nil {
		t.Fatalf("ListInterlocks() error = %v", err)
	}
	if len(list) != 2 || list[0].ID != "il-high" {
		t.Fatalf("ListInterlocks() order = %+v", list)
	}
	conds := list[0].Conditions
	if len(conds) != 3 {
		t.Fatalf("conditions = %d, want 3", len(conds))
	}
	if conds[1].Operator != OpOutOfRange || conds[1].LogicOperator != LogicOr || *conds[1].Max != 90 {
		t.Errorf("condition 1 = %+v", conds[1])
	}
	if conds[2].Operator != OpNotEqual || conds[2].LogicOperator != LogicAnd {
		t.Errorf("condition 2 = %+v, want normalized operator and AND", conds[2])
	}

	// Re-saving replaces conditions rather than appending.
	high.Conditions = high.Conditions[:1]
	if err := repo.SaveInterlock(ctx, high); err != nil {
		t.Fatalf("SaveInterlock() error = %v", err)
	}
	list, _ = repo.ListInterlocks(ctx) //nolint:errcheck
	if len(list[0].Conditions) != 1 {
		t.Errorf("conditions after resave = %d, want 1", len(list[0].Conditions))
	}

	if err := repo.DeleteInterlock(ctx, "il-low"); err != nil {
		t.Fatalf("DeleteInterlock() error = %v", err)
	}
	if err := repo.DeleteInterlock(ctx, "il-low"); !errors.Is(err, ErrInterlockNotFound) {
		t.Errorf("DeleteInterlock() error = %v, want ErrInterlockNotFound", err)
	}
}
