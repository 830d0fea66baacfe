package sequence

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Definitions is the on-disk catalog format. One file may hold any mix of
// levels, sequences and interlocks; a directory is merged file by file.
type Definitions struct {
	Levels     []ShutdownLevel `yaml:"levels"`
	Sequences  []SequenceDef   `yaml:"sequences"`
	Interlocks []InterlockDef  `yaml:"interlocks"`
}

// SequenceDef describes a sequence, its steps and its permissives.
type SequenceDef struct {
	ID                       string          `yaml:"id"`
	SiteID                   string          `yaml:"site_id"`
	Name                     string          `yaml:"name"`
	Type                     SequenceType    `yaml:"type"`
	Level                    string          `yaml:"level"`
	Description              string          `yaml:"description"`
	EstimatedDurationSeconds int             `yaml:"estimated_duration_seconds"`
	RequiresOperatorApproval bool            `yaml:"requires_operator_approval"`
	Active                   *bool           `yaml:"active"`
	Steps                    []StepDef       `yaml:"steps"`
	Permissives              []PermissiveDef `yaml:"permissives"`
}

// StepDef describes one step. Params is decoded into the typed variant
// for Action.
type StepDef struct {
	Number               int            `yaml:"number"`
	Name                 string         `yaml:"name"`
	Description          string         `yaml:"description"`
	Action               ActionType     `yaml:"action"`
	TargetAsset          string         `yaml:"target_asset"`
	TargetTag            string         `yaml:"target_tag"`
	Params               map[string]any `yaml:"params"`
	TimeoutSeconds       int            `yaml:"timeout_seconds"`
	RequiresConfirmation bool           `yaml:"requires_confirmation"`
	HoldPoint            bool           `yaml:"hold_point"`
	ParallelGroup        int            `yaml:"parallel_group"`
	NonBlocking          bool           `yaml:"non_blocking"`
}

// PermissiveDef gates the enclosing sequence, or one of its steps when
// Step names a step number.
type PermissiveDef struct {
	ID        string   `yaml:"id"`
	Name      string   `yaml:"name"`
	Tag       string   `yaml:"tag"`
	Value     *float64 `yaml:"value"`
	State     *bool    `yaml:"state"`
	Tolerance float64  `yaml:"tolerance"`
	Step      int      `yaml:"step"`
	Active    *bool    `yaml:"active"`
}

// InterlockDef describes an interlock and its ordered conditions.
type InterlockDef struct {
	ID             string         `yaml:"id"`
	SiteID         string         `yaml:"site_id"`
	Name           string         `yaml:"name"`
	Type           InterlockType  `yaml:"type"`
	TriggerAction  TriggerAction  `yaml:"trigger_action"`
	LinkedSequence string         `yaml:"linked_sequence"`
	Priority       int            `yaml:"priority"`
	Active         *bool          `yaml:"active"`
	BypassAllowed  bool           `yaml:"bypass_allowed"`
	Conditions     []ConditionDef `yaml:"conditions"`
}

// ConditionDef is one interlock comparison.
type ConditionDef struct {
	Tag      string        `yaml:"tag"`
	Operator Operator      `yaml:"operator"`
	Setpoint *float64      `yaml:"setpoint"`
	Min      *float64      `yaml:"min"`
	Max      *float64      `yaml:"max"`
	Logic    LogicOperator `yaml:"logic"`
}

// LoadDefinitions reads a YAML file, or every .yaml/.yml file in a
// directory in name order.
func LoadDefinitions(path string) (*Definitions, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("%w: path is required", ErrInvalidDefinitions)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat definitions %s: %w", path, err)
	}
	if !info.IsDir() {
		return loadDefinitionsFile(path)
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("read definitions dir %s: %w", path, err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if entry.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	merged := &Definitions{}
	for _, name := range names {
		defs, err := loadDefinitionsFile(filepath.Join(path, name))
		if err != nil {
			return nil, err
		}
		merged.Levels = append(merged.Levels, defs.Levels...)
		merged.Sequences = append(merged.Sequences, defs.Sequences...)
		merged.Interlocks = append(merged.Interlocks, defs.Interlocks...)
	}
	return merged, nil
}

func loadDefinitionsFile(path string) (*Definitions, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read definitions %s: %w", path, err)
	}
	defs, err := ParseDefinitions(data)
	if err != nil {
		return nil, fmt.Errorf("parse definitions %s: %w", path, err)
	}
	return defs, nil
}

// ParseDefinitions decodes one YAML document. Unknown keys are rejected.
func ParseDefinitions(data []byte) (*Definitions, error) {
	var defs Definitions
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&defs); err != nil {
		if errors.Is(err, io.EOF) {
			return &defs, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidDefinitions, err)
	}
	return &defs, nil
}

// stableID derives a repeatable ID so re-importing a file updates rows
// instead of duplicating them.
func stableID(kind string, parts ...string) string {
	key := kind + "/" + strings.Join(parts, "/")
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(key)).String()
}

func (d SequenceDef) sequenceID() string {
	if d.ID != "" {
		return d.ID
	}
	return stableID("sequence", d.SiteID, strings.TrimSpace(d.Name))
}

// ToSequence builds the Sequence, reusing step IDs from existing by step
// number so step-scoped permissives stay attached.
func (d SequenceDef) ToSequence(existing *Sequence) (*Sequence, error) {
	seq := &Sequence{
		ID:                       d.ID,
		SiteID:                   d.SiteID,
		Name:                     strings.TrimSpace(d.Name),
		Type:                     d.Type,
		LevelCode:                d.Level,
		Description:              strings.TrimSpace(d.Description),
		EstimatedDurationSeconds: d.EstimatedDurationSeconds,
		RequiresOperatorApproval: d.RequiresOperatorApproval,
		Active:                   d.Active == nil || *d.Active,
	}
	seq.ID = d.sequenceID()

	known := make(map[int]string)
	if existing != nil {
		for _, st := range existing.Steps {
			known[st.StepNumber] = st.ID
		}
	}

	for _, sd := range d.Steps {
		raw, err := json.Marshal(sd.Params)
		if err != nil {
			return nil, fmt.Errorf("step %d params: %w", sd.Number, err)
		}
		params, err := DecodeParams(sd.Action, raw)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", sd.Number, err)
		}
		id := known[sd.Number]
		if id == "" {
			id = stableID("step", seq.ID, fmt.Sprint(sd.Number))
		}
		seq.Steps = append(seq.Steps, Step{
			ID:                   id,
			SequenceID:           seq.ID,
			StepNumber:           sd.Number,
			Name:                 strings.TrimSpace(sd.Name),
			Description:          strings.TrimSpace(sd.Description),
			ActionType:           sd.Action,
			TargetAsset:          sd.TargetAsset,
			TargetTag:            sd.TargetTag,
			Params:               params,
			TimeoutSeconds:       sd.TimeoutSeconds,
			RequiresConfirmation: sd.RequiresConfirmation,
			HoldPoint:            sd.HoldPoint,
			ParallelGroup:        sd.ParallelGroup,
			NonBlocking:          sd.NonBlocking,
		})
	}
	return seq, nil
}

// ToPermissives resolves step numbers against the built sequence.
func (d SequenceDef) ToPermissives(seq *Sequence) ([]Permissive, error) {
	stepIDs := make(map[int]string, len(seq.Steps))
	for _, st := range seq.Steps {
		stepIDs[st.StepNumber] = st.ID
	}

	out := make([]Permissive, 0, len(d.Permissives))
	for _, pd := range d.Permissives {
		p := Permissive{
			ID:            pd.ID,
			Name:          strings.TrimSpace(pd.Name),
			TagID:         pd.Tag,
			RequiredValue: pd.Value,
			RequiredState: pd.State,
			Tolerance:     pd.Tolerance,
			Active:        pd.Active == nil || *pd.Active,
		}
		if pd.Step != 0 {
			stepID, ok := stepIDs[pd.Step]
			if !ok {
				return nil, fmt.Errorf("%w: permissive %q references unknown step %d", ErrInvalidDefinitions, pd.Name, pd.Step)
			}
			p.StepID = stepID
		} else {
			p.SequenceID = seq.ID
		}
		if p.ID == "" {
			p.ID = stableID("permissive", seq.ID, p.Name)
		}
		out = append(out, p)
	}
	return out, nil
}

// ToInterlock builds the Interlock.
func (d InterlockDef) ToInterlock() *Interlock {
	il := &Interlock{
		ID:               d.ID,
		SiteID:           d.SiteID,
		Name:             strings.TrimSpace(d.Name),
		Type:             d.Type,
		TriggerAction:    d.TriggerAction,
		LinkedSequenceID: d.LinkedSequence,
		Priority:         d.Priority,
		Active:           d.Active == nil || *d.Active,
		BypassAllowed:    d.BypassAllowed,
	}
	if il.ID == "" {
		il.ID = stableID("interlock", d.SiteID, il.Name)
	}
	for _, cd := range d.Conditions {
		logic := cd.Logic
		if logic == "" {
			logic = LogicAnd
		}
		il.Conditions = append(il.Conditions, InterlockCondition{
			TagID:         cd.Tag,
			Operator:      cd.Operator.Normalize(),
			Setpoint:      cd.Setpoint,
			Min:           cd.Min,
			Max:           cd.Max,
			LogicOperator: LogicOperator(strings.ToUpper(string(logic))),
		})
	}
	return il
}

// ImportResult counts what Import wrote.
type ImportResult struct {
	Levels      int `json:"levels"`
	Sequences   int `json:"sequences"`
	Interlocks  int `json:"interlocks"`
	Permissives int `json:"permissives"`
}

// Import upserts definitions into the catalog: levels first, then
// sequences with their permissives, then interlocks (which may link to
// sequences).
func (c *Catalog) Import(ctx context.Context, defs *Definitions) (ImportResult, error) {
	var res ImportResult

	for _, l := range defs.Levels {
		if err := c.SaveLevel(ctx, l); err != nil {
			return res, fmt.Errorf("level %s: %w", l.Code, err)
		}
		res.Levels++
	}

	for _, sd := range defs.Sequences {
		existing, _ := c.GetSequence(ctx, sd.sequenceID()) //nolint:errcheck // absent means create
		seq, err := sd.ToSequence(existing)
		if err != nil {
			return res, fmt.Errorf("sequence %q: %w", sd.Name, err)
		}

		if existing != nil {
			err = c.UpdateSequence(ctx, seq)
		} else {
			err = c.CreateSequence(ctx, seq)
		}
		if err != nil {
			return res, fmt.Errorf("sequence %q: %w", sd.Name, err)
		}
		res.Sequences++

		perms, err := sd.ToPermissives(seq)
		if err != nil {
			return res, err
		}
		for i := range perms {
			if err := c.SavePermissive(ctx, &perms[i]); err != nil {
				return res, fmt.Errorf("permissive %q: %w", perms[i].Name, err)
			}
			res.Permissives++
		}
	}

	for _, id := range defs.Interlocks {
		il := id.ToInterlock()
		if err := c.SaveInterlock(ctx, il); err != nil {
			return res, fmt.Errorf("interlock %q: %w", il.Name, err)
		}
		res.Interlocks++
	}

	c.logger.Info("definitions imported",
		"levels", res.Levels,
		"sequences", res.Sequences,
		"interlocks", res.Interlocks,
		"permissives", res.Permissives,
	)
	return res, nil
}
