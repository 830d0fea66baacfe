package sequence

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

const separatorYAML = `
levels:
  - code: ESD-1
    name: Unit shutdown
    severity: 1
    requires_confirmation: true

sequences:
  - id: seq-hp-sep
    site_id: platform-a
    name: HP separator shutdown
    type: shutdown
    level: ESD-1
    requires_operator_approval: true
    steps:
      - number: 1
        name: Close inlet
        action: close_valve
        target_asset: XV-101
        timeout_seconds: 30
      - number: 2
        name: Close outlet
        action: close_valve
        target_asset: XV-102
        parallel_group: 1
      - number: 3
        name: Close gas outlet
        action: close_valve
        target_asset: XV-103
        parallel_group: 1
      - number: 4
        name: Blowdown
        action: depressurize
        target_asset: BDV-101
        params:
          target_pressure: 2.5
      - number: 5
        name: Confirm depressurized
        action: check_condition
        target_tag: PT-101
        params:
          operator: "<"
          setpoint: 3
    permissives:
      - name: Flare pilot lit
        tag: BS-001
        state: true
      - name: Blowdown header clear
        tag: PT-900
        value: 0
        tolerance: 0.5
        step: 4
`

const interlockYAML = `
interlocks:
  - site_id: platform-a
    name: HP separator high pressure
    type: safety
    trigger_action: full_shutdown
    linked_sequence: seq-hp-sep
    priority: 100
    conditions:
      - tag: PT-101
        operator: ">"
        setpoint: 150
      - tag: LT-101
        operator: out_of_range
        min: 10
        max: 90
        logic: or
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
	return path
}

func TestLoadDefinitionsFile(t *testing.T) {
	path := writeFile(t, t.TempDir(), "sep.yaml", separatorYAML)

	defs, err := LoadDefinitions(path)
	if err != nil {
		t.Fatalf("LoadDefinitions() error = %v", err)
	}
	if len(defs.Levels) != 1 || len(defs.Sequences) != 1 {
		t.Fatalf("defs = %+v", defs)
	}

	sd := defs.Sequences[0]
	seq, err := sd.ToSequence(nil)
	if err != nil {
		t.Fatalf("ToSequence() error = %v", err)
	}
	if !seq.Active {
		t.Error("Active should default to true")
	}
	dp, ok := seq.Steps[3].Params.(*DepressurizeParams)
	if !ok || dp.TargetPressure != 2.5 {
		t.Errorf("step 4 params = %#v", seq.Steps[3].Params)
	}
	if _, ok := seq.Steps[0].Params.(*CloseValveParams); !ok {
		t.Errorf("step 1 params = %T, want zero CloseValveParams", seq.Steps[0].Params)
	}
	if err := ValidateSequence(seq); err != nil {
		t.Errorf("ValidateSequence() error = %v", err)
	}

	perms, err := sd.ToPermissives(seq)
	if err != nil {
		t.Fatalf("ToPermissives() error = %v", err)
	}
	if perms[0].SequenceID != "seq-hp-sep" || perms[0].StepID != "" {
		t.Errorf("permissive 0 scope = %+v", perms[0])
	}
	if perms[1].StepID != seq.Steps[3].ID || perms[1].SequenceID != "" {
		t.Errorf("permissive 1 scope = %+v", perms[1])
	}
}

func TestLoadDefinitionsDirectory(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "10-separator.yaml", separatorYAML)
	writeFile(t, dir, "20-interlocks.yml", interlockYAML)
	writeFile(t, dir, "README.md", "not yaml")

	defs, err := LoadDefinitions(dir)
	if err != nil {
		t.Fatalf("LoadDefinitions() error = %v", err)
	}
	if len(defs.Sequences) != 1 || len(defs.Interlocks) != 1 {
		t.Fatalf("defs = %d sequences, %d interlocks", len(defs.Sequences), len(defs.Interlocks))
	}

	il := defs.Interlocks[0].ToInterlock()
	if il.ID == "" || !il.Active {
		t.Errorf("interlock = %+v", il)
	}
	if il.Conditions[0].LogicOperator != LogicAnd || il.Conditions[1].LogicOperator != LogicOr {
		t.Errorf("conditions = %+v", il.Conditions)
	}
	if again := defs.Interlocks[0].ToInterlock(); again.ID != il.ID {
		t.Error("derived interlock ID is not stable")
	}
}

func TestLoadDefinitionsErrors(t *testing.T) {
	dir := t.TempDir()

	if _, err := LoadDefinitions(""); !errors.Is(err, ErrInvalidDefinitions) {
		t.Errorf("LoadDefinitions(\"\") error = %v", err)
	}
	if _, err := LoadDefinitions(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("LoadDefinitions(missing) should fail")
	}

	bad := writeFile(t, dir, "bad.yaml", "sequences:\n  - id: x\n    colour: red\n")
	if _, err := LoadDefinitions(bad); !errors.Is(err, ErrInvalidDefinitions) {
		t.Errorf("unknown key error = %v, want ErrInvalidDefinitions", err)
	}

	empty := writeFile(t, dir, "empty.yaml", "")
	defs, err := LoadDefinitions(empty)
	if err != nil || len(defs.Sequences) != 0 {
		t.Errorf("empty file = %+v, %v", defs, err)
	}
}

func TestSequenceDefRejectsBadParams(t *testing.T) {
	sd := SequenceDef{
		ID: "s", SiteID: "p", Name: "n", Type: TypeShutdown,
		Steps: []StepDef{{Number: 1, Name: "w", Action: ActionWait, Params: map[string]any{"secs": 3}}},
	}
	if _, err := sd.ToSequence(nil); !errors.Is(err, ErrInvalidParams) {
		t.Errorf("ToSequence() error = %v, want ErrInvalidParams", err)
	}

	sd.Steps[0].Params = map[string]any{"duration_seconds": 3}
	sd.Permissives = []PermissiveDef{{Name: "x", Tag: "t", Value: Float(1), Step: 9}}
	seq, err := sd.ToSequence(nil)
	if err != nil {
		t.Fatalf("ToSequence() error = %v", err)
	}
	if _, err := sd.ToPermissives(seq); !errors.Is(err, ErrInvalidDefinitions) {
		t.Errorf("ToPermissives() error = %v, want ErrInvalidDefinitions", err)
	}
}

func TestCatalogImportIsIdempotent(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()

	defs, err := ParseDefinitions([]byte(separatorYAML + interlockYAML))
	if err != nil {
		t.Fatalf("ParseDefinitions() error = %v", err)
	}

	res, err := c.Import(ctx, defs)
	if err != nil {
		t.Fatalf("Import() error = %v", err)
	}
	want := ImportResult{Levels: 1, Sequences: 1, Interlocks: 1, Permissives: 2}
	if res != want {
		t.Errorf("Import() = %+v, want %+v", res, want)
	}

	first, err := c.GetSequence(ctx, "seq-hp-sep")
	if err != nil {
		t.Fatalf("GetSequence() error = %v", err)
	}

	if _, err := c.Import(ctx, defs); err != nil {
		t.Fatalf("second Import() error = %v", err)
	}
	if c.SequenceCount() != 1 {
		t.Errorf("SequenceCount() = %d after re-import", c.SequenceCount())
	}
	if n := len(c.ListInterlocks("platform-a")); n != 1 {
		t.Errorf("interlocks = %d after re-import, want 1", n)
	}
	if n := len(c.ListPermissives("seq-hp-sep")); n != 2 {
		t.Errorf("permissives = %d after re-import, want 2", n)
	}

	second, _ := c.GetSequence(ctx, "seq-hp-sep") //nolint:errcheck
	for i := range first.Steps {
		if first.Steps[i].ID != second.Steps[i].ID {
			t.Errorf("step %d ID changed on re-import", first.Steps[i].StepNumber)
		}
	}

	snap, err := c.Snapshot(ctx, "seq-hp-sep")
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if len(snap.Plan.Stages) != 4 {
		t.Errorf("stages = %d, want 4", len(snap.Plan.Stages))
	}
}
