// Package pool maintains the roster of model slots and hands them out
// for tasks without double-booking.
package pool

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/jberon/kiln/internal/logging"
	"github.com/jberon/kiln/internal/models"
)

// Pool errors.
var (
	ErrNoSlotAvailable = errors.New("no idle slot available")
	ErrSlotNotFound    = errors.New("slot not found")
	ErrUnknownModel    = errors.New("model not in roster")
	ErrNoProber        = errors.New("no endpoint prober configured")
)

// Config contains pool configuration.
type Config struct {
	// Endpoints are the base URLs probed during discovery.
	// Default: http://localhost:11434.
	Endpoints []string

	// ProbeTimeout bounds a single endpoint probe.
	// Default: 5 seconds.
	ProbeTimeout time.Duration
}

// DefaultConfig returns sensible default configuration.
func DefaultConfig() Config {
	return Config{
		Endpoints:    []string{"http://localhost:11434"},
		ProbeTimeout: 5 * time.Second,
	}
}

// AcquireRequest describes the slot a caller needs.
type AcquireRequest struct {
	// Role narrows selection to slots pinned to this role, with
	// any-role slots as fallback. Empty means any.
	Role models.Role

	// TaskType lets the scorer rank candidate models. Optional.
	TaskType models.TaskType

	// TaskLabel is stamped on the slot while it works.
	TaskLabel string

	// PreferredModel wins over ranking when an idle slot of that model
	// qualifies.
	PreferredModel string
}

// ModelAggregate sums slot counters across one model's slots.
type ModelAggregate struct {
	// Model is the model name.
	Model string `json:"model"`

	// Slots is how many slots serve the model.
	Slots int `json:"slots"`

	// Busy is how many of those are mid-task.
	Busy int `json:"busy"`

	// CompletedTasks sums completions across the model's slots.
	CompletedTasks int `json:"completed_tasks"`

	// TotalTokens sums tokens consumed across the model's slots.
	TotalTokens int64 `json:"total_tokens"`

	// AvgLatency is the completion-weighted mean latency.
	AvgLatency time.Duration `json:"avg_latency"`
}

// Stats is a point-in-time view of the roster.
type Stats struct {
	// TotalSlots counts every slot in the roster.
	TotalSlots int `json:"total_slots"`

	// BusySlots counts slots currently mid-task.
	BusySlots int `json:"busy_slots"`

	// IdleSlots counts slots ready for work.
	IdleSlots int `json:"idle_slots"`

	// ByRole counts slots per pinned role.
	ByRole map[models.Role]int `json:"by_role"`

	// Models aggregates counters per model, sorted by name.
	Models []ModelAggregate `json:"models"`
}

// Scorer ranks candidate models for a task type and ingests completed
// outcomes. *scoring.Service satisfies it.
type Scorer interface {
	Record(outcome models.GenerationOutcome) error
	Best(task models.TaskType, candidates []string) (string, bool)
}

// Service owns the slot roster. All roster access happens under one
// mutex; the scorer has its own lock and is only ever taken after (or
// instead of) the roster's, never the other way around.
type Service struct {
	cfg     Config
	prober  EndpointProber
	mapping *ModelMap
	scorer  Scorer
	logger  zerolog.Logger
	now     func() time.Time

	mu    sync.RWMutex
	slots []*models.ModelSlot
}

// Option configures a Service.
type Option func(*Service)

// WithScorer lets Acquire rank candidates by learned scores and Release
// forward outcomes.
func WithScorer(scorer Scorer) Option {
	return func(s *Service) {
		s.scorer = scorer
	}
}

// WithModelMap overrides the default inference-only mapping.
func WithModelMap(m *ModelMap) Option {
	return func(s *Service) {
		s.mapping = m
	}
}

// WithNow injects the clock used for LastUsed stamps.
func WithNow(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// New creates a pool service. The prober may be nil when discovery is
// never called (tests that seed the roster directly).
func New(cfg Config, prober EndpointProber, opts ...Option) *Service {
	if len(cfg.Endpoints) == 0 {
		cfg.Endpoints = DefaultConfig().Endpoints
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = DefaultConfig().ProbeTimeout
	}

	s := &Service{
		cfg:     cfg,
		prober:  prober,
		mapping: NewModelMap(nil),
		logger:  logging.Component("pool"),
		now:     time.Now,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Mapping returns the tier/role mapping the pool resolves names with.
func (s *Service) Mapping() *ModelMap {
	return s.mapping
}

// Acquire hands out an idle slot and marks it busy, atomically under
// the roster lock. It never blocks and never retries; when nothing is
// idle the caller gets ErrNoSlotAvailable and applies its own policy.
func (s *Service) Acquire(req AcquireRequest) (*models.ModelSlot, error) {
	role, err := requestRole(req)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	candidates := s.candidatesFor(role)
	if len(candidates) == 0 {
		return nil, ErrNoSlotAvailable
	}

	chosen := s.pick(req, candidates)
	if chosen.Busy {
		panic(fmt.Sprintf("pool: slot %s busy after idle selection", chosen.ID))
	}
	chosen.Busy = true
	chosen.TaskLabel = req.TaskLabel

	s.logger.Debug().
		Str("slot_id", chosen.ID).
		Str("model", chosen.Model).
		Str("role", string(role)).
		Str("task_type", string(req.TaskType)).
		Msg("slot acquired")

	out := *chosen
	return &out, nil
}

// Peek reports the slot Acquire would hand out for req right now,
// without marking anything busy or touching counters. Dry runs use it
// so previews never skew completion counts or LRU order.
func (s *Service) Peek(req AcquireRequest) (*models.ModelSlot, error) {
	role, err := requestRole(req)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	candidates := s.candidatesFor(role)
	if len(candidates) == 0 {
		return nil, ErrNoSlotAvailable
	}

	out := *s.pick(req, candidates)
	return &out, nil
}

// requestRole validates an acquire request and resolves its role,
// defaulting to any.
func requestRole(req AcquireRequest) (models.Role, error) {
	role := req.Role
	if role == "" {
		role = models.RoleAny
	}
	if !role.Valid() {
		return "", fmt.Errorf("%w: %q", models.ErrInvalidRole, req.Role)
	}
	if req.TaskType != "" && !req.TaskType.Valid() {
		return "", fmt.Errorf("%w: %q", models.ErrInvalidTaskType, req.TaskType)
	}
	return role, nil
}

// candidatesFor collects idle slots for a role, falling back to
// any-role slots. Callers hold s.mu.
func (s *Service) candidatesFor(role models.Role) []*models.ModelSlot {
	candidates := s.idleSlots(role)
	if len(candidates) == 0 && role != models.RoleAny {
		candidates = s.idleSlots(models.RoleAny)
	}
	return candidates
}

// idleSlots collects idle slots pinned to a role, roster order.
// Callers hold s.mu.
func (s *Service) idleSlots(role models.Role) []*models.ModelSlot {
	var idle []*models.ModelSlot
	for _, slot := range s.slots {
		if !slot.Busy && slot.Role == role {
			idle = append(idle, slot)
		}
	}
	return idle
}

// pick chooses among idle candidates: the preferred model when present,
// then the scorer's ranking, then least recently used. Callers hold
// s.mu; the scorer's own lock nests inside it, never the reverse.
func (s *Service) pick(req AcquireRequest, candidates []*models.ModelSlot) *models.ModelSlot {
	if req.PreferredModel != "" {
		for _, slot := range candidates {
			if slot.Model == req.PreferredModel {
				return slot
			}
		}
	}

	if s.scorer != nil && req.TaskType != "" {
		names := make([]string, 0, len(candidates))
		seen := make(map[string]bool, len(candidates))
		for _, slot := range candidates {
			if !seen[slot.Model] {
				seen[slot.Model] = true
				names = append(names, slot.Model)
			}
		}
		if best, ok := s.scorer.Best(req.TaskType, names); ok {
			for _, slot := range candidates {
				if slot.Model == best {
					return slot
				}
			}
		}
	}

	lru := candidates[0]
	for _, slot := range candidates[1:] {
		if slot.LastUsed.Before(lru.LastUsed) {
			lru = slot
		}
	}
	return lru
}

// Release returns a slot to the idle roster, folds the outcome into the
// slot counters, then forwards the outcome to the scorer outside the
// roster lock. A nil outcome (task abandoned) still frees the slot and
// bumps its counters; nothing is forwarded. The slot goes idle even
// when the scorer rejects the outcome.
func (s *Service) Release(slotID string, outcome *models.GenerationOutcome) error {
	s.mu.Lock()
	slot := s.find(slotID)
	if slot == nil {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrSlotNotFound, slotID)
	}

	slot.Busy = false
	slot.TaskLabel = ""
	slot.CompletedTasks++
	if outcome != nil {
		slot.TotalTokens += outcome.TokensUsed
		slot.AvgLatency = rollLatency(slot.AvgLatency, outcome.Duration, slot.CompletedTasks)
	}
	slot.LastUsed = s.now()
	model := slot.Model
	s.mu.Unlock()

	s.logger.Debug().
		Str("slot_id", slotID).
		Str("model", model).
		Bool("with_outcome", outcome != nil).
		Msg("slot released")

	if outcome == nil || s.scorer == nil {
		return nil
	}
	if err := s.scorer.Record(*outcome); err != nil {
		s.logger.Warn().Err(err).Str("model", model).Msg("scorer rejected outcome")
		return fmt.Errorf("record outcome: %w", err)
	}
	return nil
}

// rollLatency folds one more sample into an incremental mean over n
// completions.
func rollLatency(avg, sample time.Duration, n int) time.Duration {
	if n <= 1 || avg == 0 {
		return sample
	}
	return avg + (sample-avg)/time.Duration(n)
}

// SetRole re-pins every slot of a model. In-flight tasks keep running;
// only future acquisitions see the new role.
func (s *Service) SetRole(model string, role models.Role) error {
	if !role.Valid() {
		return fmt.Errorf("%w: %q", models.ErrInvalidRole, role)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, slot := range s.slots {
		if slot.Model == model {
			slot.Role = role
			n++
		}
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrUnknownModel, model)
	}

	s.logger.Info().
		Str("model", model).
		Str("role", string(role)).
		Int("slots", n).
		Msg("model role pinned")
	return nil
}

// Stats summarizes the roster.
func (s *Service) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := Stats{
		TotalSlots: len(s.slots),
		ByRole:     make(map[models.Role]int),
	}

	byModel := make(map[string]*ModelAggregate)
	latencySums := make(map[string]time.Duration)
	for _, slot := range s.slots {
		if slot.Busy {
			stats.BusySlots++
		} else {
			stats.IdleSlots++
		}
		stats.ByRole[slot.Role]++

		agg, ok := byModel[slot.Model]
		if !ok {
			agg = &ModelAggregate{Model: slot.Model}
			byModel[slot.Model] = agg
		}
		agg.Slots++
		if slot.Busy {
			agg.Busy++
		}
		agg.CompletedTasks += slot.CompletedTasks
		agg.TotalTokens += slot.TotalTokens
		latencySums[slot.Model] += slot.AvgLatency * time.Duration(slot.CompletedTasks)
	}

	for model, agg := range byModel {
		if agg.CompletedTasks > 0 {
			agg.AvgLatency = latencySums[model] / time.Duration(agg.CompletedTasks)
		}
		stats.Models = append(stats.Models, *agg)
	}
	sort.Slice(stats.Models, func(i, j int) bool {
		return stats.Models[i].Model < stats.Models[j].Model
	})

	return stats
}

// Snapshot returns copies of every slot, roster order.
func (s *Service) Snapshot() []models.ModelSlot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.ModelSlot, len(s.slots))
	for i, slot := range s.slots {
		out[i] = *slot
	}
	return out
}

// find locates a slot by id. Callers hold s.mu.
func (s *Service) find(slotID string) *models.ModelSlot {
	for _, slot := range s.slots {
		if slot.ID == slotID {
			return slot
		}
	}
	return nil
}
