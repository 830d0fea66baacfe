package sequence

import (
	"context"
	"testing"

	"github.com/nerrad567/gray-logic-esd/internal/infrastructure/database"
	_ "github.com/nerrad567/gray-logic-esd/migrations"
)

// setupTestDB opens a migrated in-memory database.
func setupTestDB(t *testing.T) *database.DB {
	t.Helper()

	ctx := context.Background()
	db, err := database.Open(ctx, database.Config{Path: database.MemoryPath})
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("migrating test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func closeValveStep(id string, number, group int, asset string) Step {
	return Step{
		ID:            id,
		StepNumber:    number,
		Name:          "Close " + asset,
		ActionType:    ActionCloseValve,
		TargetAsset:   asset,
		Params:        &CloseValveParams{},
		ParallelGroup: group,
	}
}

// testSequence returns a valid three-step shutdown sequence.
func testSequence(id string) *Sequence {
	return &Sequence{
		ID:     id,
		SiteID: "platform-a",
		Name:   "HP separator shutdown " + id,
		Type:   TypeShutdown,
		Active: true,
		Steps: []Step{
			closeValveStep(id+"-s1", 1, 0, "XV-101"),
			{
				ID:          id + "-s2",
				StepNumber:  2,
				Name:        "Stop export pump",
				ActionType:  ActionStopPump,
				TargetAsset: "P-201",
				Params:      &StopPumpParams{},
			},
			{
				ID:         id + "-s3",
				StepNumber: 3,
				Name:       "Settle",
				ActionType: ActionWait,
				Params:     &WaitParams{DurationSeconds: 5},
			},
		},
	}
}

func testInterlock(id string, trigger TriggerAction) *Interlock {
	return &Interlock{
		ID:            id,
		SiteID:        "platform-a",
		Name:          "High pressure " + id,
		Type:          InterlockSafety,
		TriggerAction: trigger,
		Priority:      10,
		Active:        true,
		Conditions: []InterlockCondition{
			{TagID: "PT-101", Operator: OpGreater, Setpoint: Float(150), LogicOperator: LogicAnd},
		},
	}
}
