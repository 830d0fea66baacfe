package sequence

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Logger is the logging interface used by the catalog.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Catalog caches the sequence configuration over a Repository.
//
// Reads return deep copies, so callers (and in-flight executions) never
// observe later edits. Writes go to the repository first and then replace
// the cached entry. All methods are safe for concurrent use.
type Catalog struct {
	repo   Repository
	logger Logger

	mu          sync.RWMutex
	levels      map[string]ShutdownLevel
	sequences   map[string]*Sequence
	interlocks  map[string]*Interlock
	permissives map[string]Permissive
}

// NewCatalog creates an empty catalog. Call Refresh before use.
func NewCatalog(repo Repository) *Catalog {
	return &Catalog{
		repo:        repo,
		logger:      noopLogger{},
		levels:      make(map[string]ShutdownLevel),
		sequences:   make(map[string]*Sequence),
		interlocks:  make(map[string]*Interlock),
		permissives: make(map[string]Permissive),
	}
}

// SetLogger sets the logger for the catalog.
func (c *Catalog) SetLogger(logger Logger) {
	c.logger = logger
}

// Refresh reloads everything from the repository.
func (c *Catalog) Refresh(ctx context.Context) error {
	levels, err := c.repo.ListLevels(ctx)
	if err != nil {
		return fmt.Errorf("loading shutdown levels: %w", err)
	}
	seqs, err := c.repo.ListSequences(ctx)
	if err != nil {
		return fmt.Errorf("loading sequences: %w", err)
	}
	interlocks, err := c.repo.ListInterlocks(ctx)
	if err != nil {
		return fmt.Errorf("loading interlocks: %w", err)
	}
	permissives, err := c.repo.ListPermissives(ctx)
	if err != nil {
		return fmt.Errorf("loading permissives: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.levels = make(map[string]ShutdownLevel, len(levels))
	for _, l := range levels {
		c.levels[l.Code] = l
	}
	c.sequences = make(map[string]*Sequence, len(seqs))
	for i := range seqs {
		c.sequences[seqs[i].ID] = seqs[i].DeepCopy()
	}
	c.interlocks = make(map[string]*Interlock, len(interlocks))
	for i := range interlocks {
		c.interlocks[interlocks[i].ID] = interlocks[i].DeepCopy()
	}
	c.permissives = make(map[string]Permissive, len(permissives))
	for _, p := range permissives {
		c.permissives[p.ID] = p.DeepCopy()
	}

	c.logger.Info("sequence catalog refreshed",
		"levels", len(levels),
		"sequences", len(seqs),
		"interlocks", len(interlocks),
		"permissives", len(permissives),
	)
	return nil
}

// GetSequence returns a copy of one sequence.
func (c *Catalog) GetSequence(_ context.Context, id string) (*Sequence, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s, ok := c.sequences[id]
	if !ok {
		return nil, ErrSequenceNotFound
	}
	return s.DeepCopy(), nil
}

// ListSequences returns copies of all sequences, or only those of one site
// when siteID is set, ordered by name.
func (c *Catalog) ListSequences(_ context.Context, siteID string) []Sequence {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Sequence, 0, len(c.sequences))
	for _, s := range c.sequences {
		if siteID != "" && s.SiteID != siteID {
			continue
		}
		out = append(out, *s.DeepCopy())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// ListLevels returns shutdown levels ordered by severity.
func (c *Catalog) ListLevels() []ShutdownLevel {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]ShutdownLevel, 0, len(c.levels))
	for _, l := range c.levels {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Severity != out[j].Severity {
			return out[i].Severity < out[j].Severity
		}
		return out[i].Code < out[j].Code
	})
	return out
}

// ListInterlocks returns interlocks for a site (all sites when empty),
// highest priority first.
func (c *Catalog) ListInterlocks(siteID string) []Interlock {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.interlocksLocked(siteID, false)
}

func (c *Catalog) interlocksLocked(siteID string, activeOnly bool) []Interlock {
	out := make([]Interlock, 0, len(c.interlocks))
	for _, il := range c.interlocks {
		if siteID != "" && il.SiteID != siteID {
			continue
		}
		if activeOnly && !il.Active {
			continue
		}
		out = append(out, *il.DeepCopy())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// ListPermissives returns the permissives gating a sequence or its steps.
func (c *Catalog) ListPermissives(sequenceID string) []Permissive {
	c.mu.RLock()
	defer c.mu.RUnlock()

	seq, ok := c.sequences[sequenceID]
	if !ok {
		return nil
	}
	return c.permissivesLocked(seq, false)
}

func (c *Catalog) permissivesLocked(seq *Sequence, activeOnly bool) []Permissive {
	stepIDs := make(map[string]bool, len(seq.Steps))
	for _, st := range seq.Steps {
		stepIDs[st.ID] = true
	}

	var out []Permissive
	for _, p := range c.permissives {
		if activeOnly && !p.Active {
			continue
		}
		if p.SequenceID == seq.ID || (p.StepID != "" && stepIDs[p.StepID]) {
			out = append(out, p.DeepCopy())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Snapshot is the frozen configuration an execution runs against.
type Snapshot struct {
	Sequence    *Sequence      `json:"sequence"`
	Plan        *Plan          `json:"plan"`
	Level       *ShutdownLevel `json:"level,omitempty"`
	Interlocks  []Interlock    `json:"interlocks"`
	Permissives []Permissive   `json:"permissives"`
	TakenAt     time.Time      `json:"taken_at"`
}

// Snapshot compiles a sequence and captures copies of the active interlocks
// on its site and its active permissives.
func (c *Catalog) Snapshot(_ context.Context, sequenceID string) (*Snapshot, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	seq, ok := c.sequences[sequenceID]
	if !ok {
		return nil, ErrSequenceNotFound
	}
	if !seq.Active {
		return nil, fmt.Errorf("%w: %s", ErrSequenceInactive, sequenceID)
	}

	cpy := seq.DeepCopy()
	plan, err := Compile(cpy)
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{
		Sequence:    cpy,
		Plan:        plan,
		Interlocks:  c.interlocksLocked(seq.SiteID, true),
		Permissives: c.permissivesLocked(seq, true),
		TakenAt:     time.Now().UTC(),
	}
	if l, ok := c.levels[seq.LevelCode]; ok {
		snap.Level = &l
	}
	return snap, nil
}

// SequencePermissives returns permissives gating the start of the sequence.
func (s *Snapshot) SequencePermissives() []Permissive {
	var out []Permissive
	for _, p := range s.Permissives {
		if p.StepID == "" {
			out = append(out, p)
		}
	}
	return out
}

// StagePermissives returns permissives gating any step of the stage.
func (s *Snapshot) StagePermissives(stage Stage) []Permissive {
	ids := make(map[string]bool, len(stage.Steps))
	for _, st := range stage.Steps {
		ids[st.ID] = true
	}
	var out []Permissive
	for _, p := range s.Permissives {
		if p.StepID != "" && ids[p.StepID] {
			out = append(out, p)
		}
	}
	return out
}

// CreateSequence validates, persists and caches a new sequence.
func (c *Catalog) CreateSequence(ctx context.Context, seq *Sequence) error {
	if seq.ID == "" {
		seq.ID = NewID()
	}
	if err := ValidateSequence(seq); err != nil {
		return err
	}
	if err := c.repo.CreateSequence(ctx, seq); err != nil {
		return err
	}

	c.mu.Lock()
	c.sequences[seq.ID] = seq.DeepCopy()
	c.mu.Unlock()

	c.logger.Info("sequence created", "id", seq.ID, "name", seq.Name, "steps", len(seq.Steps))
	return nil
}

// UpdateSequence validates, persists and re-caches a sequence. Executions
// already running keep the snapshot they started with.
func (c *Catalog) UpdateSequence(ctx context.Context, seq *Sequence) error {
	if err := ValidateSequence(seq); err != nil {
		return err
	}
	if err := c.repo.UpdateSequence(ctx, seq); err != nil {
		return err
	}

	c.mu.Lock()
	c.sequences[seq.ID] = seq.DeepCopy()
	c.mu.Unlock()

	c.logger.Info("sequence updated", "id", seq.ID, "name", seq.Name)
	return nil
}

// DeleteSequence removes a sequence and the permissives scoped to it.
func (c *Catalog) DeleteSequence(ctx context.Context, id string) error {
	if err := c.repo.DeleteSequence(ctx, id); err != nil {
		return err
	}

	c.mu.Lock()
	if seq, ok := c.sequences[id]; ok {
		for _, p := range c.permissivesLocked(seq, false) {
			delete(c.permissives, p.ID)
		}
	}
	delete(c.sequences, id)
	c.mu.Unlock()

	c.logger.Info("sequence deleted", "id", id)
	return nil
}

// SaveLevel persists and caches a shutdown level.
func (c *Catalog) SaveLevel(ctx context.Context, l ShutdownLevel) error {
	if l.Code == "" {
		return fmt.Errorf("%w: level code is required", ErrInvalidDefinitions)
	}
	if err := c.repo.SaveLevel(ctx, &l); err != nil {
		return err
	}
	c.mu.Lock()
	c.levels[l.Code] = l
	c.mu.Unlock()
	return nil
}

// SaveInterlock validates, persists and caches an interlock.
func (c *Catalog) SaveInterlock(ctx context.Context, il *Interlock) error {
	if il.ID == "" {
		il.ID = NewID()
	}
	if err := ValidateInterlock(il); err != nil {
		return err
	}
	if err := c.repo.SaveInterlock(ctx, il); err != nil {
		return err
	}
	c.mu.Lock()
	c.interlocks[il.ID] = il.DeepCopy()
	c.mu.Unlock()

	c.logger.Info("interlock saved", "id", il.ID, "name", il.Name, "trigger_action", il.TriggerAction)
	return nil
}

// SavePermissive validates, persists and caches a permissive.
func (c *Catalog) SavePermissive(ctx context.Context, p *Permissive) error {
	if p.ID == "" {
		p.ID = NewID()
	}
	if err := ValidatePermissive(p); err != nil {
		return err
	}
	if err := c.repo.SavePermissive(ctx, p); err != nil {
		return err
	}
	c.mu.Lock()
	c.permissives[p.ID] = p.DeepCopy()
	c.mu.Unlock()
	return nil
}

// SequenceCount returns the number of cached sequences.
func (c *Catalog) SequenceCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.sequences)
}
