// Package scoring learns which model handles which kind of task best.
// Outcomes land in a bounded recency store; every record synchronously
// rebuilds the affected (model, task type) aggregate with exponential
// age decay, so recent evidence counts more and stale evidence fades.
package scoring

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/jberon/kiln/internal/logging"
	"github.com/jberon/kiln/internal/models"
)

// Config tunes the scorer. Zero values fall back to defaults in New.
type Config struct {
	// Capacity bounds the outcome store; the oldest entry is evicted
	// when a record arrives at capacity.
	Capacity int

	// DecayPerDay is the exponent k in weight = e^(-ageDays*k). The
	// default gives roughly a 30-day half-life.
	DecayPerDay float64

	// Component weights of the composite score. They should sum to 1.
	QualityWeight    float64
	SuccessWeight    float64
	SpeedWeight      float64
	ErrorWeight      float64
	RefinementWeight float64

	// ConfidenceSaturation is the sample count at which confidence
	// reaches 1.
	ConfidenceSaturation int

	// UpgradeBelow and UpgradeMinConfidence gate tier upgrades: a model
	// scoring under the threshold with enough confidence should move up.
	UpgradeBelow         float64
	UpgradeMinConfidence float64

	// DowngradeAbove and DowngradeMinConfidence gate tier downgrades: a
	// cheaper tier scoring over the threshold with enough confidence
	// can take over.
	DowngradeAbove         float64
	DowngradeMinConfidence float64
}

// DefaultConfig returns the scoring defaults.
func DefaultConfig() Config {
	return Config{
		Capacity:               1000,
		DecayPerDay:            0.0231,
		QualityWeight:          0.35,
		SuccessWeight:          0.25,
		SpeedWeight:            0.15,
		ErrorWeight:            0.15,
		RefinementWeight:       0.10,
		ConfidenceSaturation:   10,
		UpgradeBelow:           0.4,
		UpgradeMinConfidence:   0.5,
		DowngradeAbove:         0.6,
		DowngradeMinConfidence: 0.3,
	}
}

// TierResolver maps a model name to its cost tier.
type TierResolver interface {
	TierOf(model string) models.ModelTier
}

// TierResolverFunc adapts a function to the TierResolver interface.
type TierResolverFunc func(model string) models.ModelTier

// TierOf calls the function.
func (f TierResolverFunc) TierOf(model string) models.ModelTier { return f(model) }

type pairKey struct {
	model string
	task  models.TaskType
}

// Service is the outcome scorer. All state lives behind one mutex; no
// method blocks or does I/O.
type Service struct {
	mu     sync.Mutex
	cfg    Config
	logger zerolog.Logger
	now    func() time.Time
	tiers  TierResolver

	ring []models.GenerationOutcome
	head int
	size int

	scores map[pairKey]*models.ModelScore
}

// Option configures a Service.
type Option func(*Service)

// WithNow injects the clock, for deterministic decay in tests.
func WithNow(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithTierResolver injects the model-to-tier mapping used by
// recommendations.
func WithTierResolver(tiers TierResolver) Option {
	return func(s *Service) { s.tiers = tiers }
}

// New creates a scorer. Zero config fields fall back to defaults.
func New(cfg Config, opts ...Option) *Service {
	def := DefaultConfig()
	if cfg.Capacity <= 0 {
		cfg.Capacity = def.Capacity
	}
	if cfg.DecayPerDay <= 0 {
		cfg.DecayPerDay = def.DecayPerDay
	}
	if cfg.QualityWeight+cfg.SuccessWeight+cfg.SpeedWeight+cfg.ErrorWeight+cfg.RefinementWeight == 0 {
		cfg.QualityWeight = def.QualityWeight
		cfg.SuccessWeight = def.SuccessWeight
		cfg.SpeedWeight = def.SpeedWeight
		cfg.ErrorWeight = def.ErrorWeight
		cfg.RefinementWeight = def.RefinementWeight
	}
	if cfg.ConfidenceSaturation <= 0 {
		cfg.ConfidenceSaturation = def.ConfidenceSaturation
	}
	if cfg.UpgradeBelow <= 0 {
		cfg.UpgradeBelow = def.UpgradeBelow
	}
	if cfg.UpgradeMinConfidence <= 0 {
		cfg.UpgradeMinConfidence = def.UpgradeMinConfidence
	}
	if cfg.DowngradeAbove <= 0 {
		cfg.DowngradeAbove = def.DowngradeAbove
	}
	if cfg.DowngradeMinConfidence <= 0 {
		cfg.DowngradeMinConfidence = def.DowngradeMinConfidence
	}

	s := &Service{
		cfg:    cfg,
		logger: logging.Component("scoring"),
		now:    time.Now,
		ring:   make([]models.GenerationOutcome, cfg.Capacity),
		scores: make(map[pairKey]*models.ModelScore),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Record stores an outcome and synchronously rebuilds the aggregates it
// touches: the recorded pair, and the evicted entry's pair when the
// store was full.
func (s *Service) Record(outcome models.GenerationOutcome) error {
	if err := outcome.Validate(); err != nil {
		return err
	}
	if outcome.ID == "" {
		outcome.ID = uuid.New().String()
	}
	if outcome.Timestamp.IsZero() {
		outcome.Timestamp = s.now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var evicted *pairKey
	if s.size == s.cfg.Capacity {
		old := s.ring[s.head]
		key := pairKey{old.Model, old.TaskType}
		evicted = &key
	} else {
		s.size++
	}
	s.ring[s.head] = outcome
	s.head = (s.head + 1) % s.cfg.Capacity

	recorded := pairKey{outcome.Model, outcome.TaskType}
	s.recalc(recorded)
	if evicted != nil && *evicted != recorded {
		s.recalc(*evicted)
	}

	score := s.scores[recorded]
	s.logger.Debug().
		Str("model", outcome.Model).
		Str("task_type", string(outcome.TaskType)).
		Int("quality", outcome.QualityScore).
		Dur("duration", outcome.Duration).
		Float64("weighted_score", score.WeightedScore).
		Float64("confidence", score.Confidence).
		Msg("outcome recorded")
	return nil
}

// Seed replays archived outcomes, typically at startup.
func (s *Service) Seed(outcomes []models.GenerationOutcome) (int, error) {
	n := 0
	for _, o := range outcomes {
		if err := s.Record(o); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// recalc rebuilds one pair's aggregate from scratch over the surviving
// store entries. A pair with no entries left loses its aggregate
// entirely, which is different from scoring zero.
func (s *Service) recalc(key pairKey) {
	var entries []models.GenerationOutcome
	for i := 0; i < s.size; i++ {
		o := s.ring[(s.head-s.size+i+s.cfg.Capacity*2)%s.cfg.Capacity]
		if o.Model == key.model && o.TaskType == key.task {
			entries = append(entries, o)
		}
	}
	if len(entries) == 0 {
		delete(s.scores, key)
		return
	}

	now := s.now()
	median := medianDuration(entries)

	var sumW, quality, success, speed, errs, refine float64
	for _, o := range entries {
		w := s.decayWeight(now, o.Timestamp)
		sumW += w
		quality += w * float64(o.QualityScore)
		if o.Success() {
			success += w
		}
		speed += w * speedOf(o.Duration, median)
		if o.ErrorCount > 0 {
			errs += w
		}
		if o.RefinementRounds > 0 {
			refine += w
		}
	}
	if sumW == 0 {
		sumW = 1
	}
	quality /= sumW
	success /= sumW
	speed /= sumW
	errs /= sumW
	refine /= sumW

	weighted := s.cfg.QualityWeight*(quality/100) +
		s.cfg.SuccessWeight*success +
		s.cfg.SpeedWeight*speed +
		s.cfg.ErrorWeight*(1-errs) +
		s.cfg.RefinementWeight*(1-refine)

	confidence := float64(len(entries)) / float64(s.cfg.ConfidenceSaturation)
	if confidence > 1 {
		confidence = 1
	}

	s.scores[key] = &models.ModelScore{
		Model:          key.model,
		TaskType:       key.task,
		SampleCount:    len(entries),
		AvgQuality:     quality,
		SuccessRate:    success,
		SpeedScore:     speed,
		ErrorRate:      errs,
		RefinementRate: refine,
		WeightedScore:  weighted,
		Confidence:     confidence,
		LastUpdated:    now,
	}
}

// decayWeight is e^(-ageDays*k). Timestamps from the future weigh as
// fresh.
func (s *Service) decayWeight(now, at time.Time) float64 {
	ageDays := now.Sub(at).Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}
	return math.Exp(-ageDays * s.cfg.DecayPerDay)
}

// speedOf compares one duration to the pair median, capped at 1 so
// being fast cannot mask being wrong.
func speedOf(d, median time.Duration) float64 {
	if d <= 0 {
		return 1
	}
	ratio := float64(median) / float64(d)
	if ratio > 1 {
		return 1
	}
	return ratio
}

func medianDuration(entries []models.GenerationOutcome) time.Duration {
	ds := make([]time.Duration, len(entries))
	for i, o := range entries {
		ds[i] = o.Duration
	}
	sort.Slice(ds, func(i, j int) bool { return ds[i] < ds[j] })
	mid := len(ds) / 2
	if len(ds)%2 == 1 {
		return ds[mid]
	}
	return (ds[mid-1] + ds[mid]) / 2
}

// Best picks the candidate with the highest effective score for the
// task type. Candidates without an aggregate are skipped rather than
// treated as zero; ties keep the earliest candidate. The second return
// is false when no candidate has any history.
func (s *Service) Best(task models.TaskType, candidates []string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	best := ""
	found := false
	bestScore := 0.0
	for _, model := range candidates {
		entry, ok := s.scores[pairKey{model, task}]
		if !ok {
			continue
		}
		eff := entry.EffectiveScore()
		if !found || eff > bestScore {
			best = model
			bestScore = eff
			found = true
		}
	}
	return best, found
}

// Score returns the aggregate for one pair, if it exists.
func (s *Service) Score(model string, task models.TaskType) (models.ModelScore, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.scores[pairKey{model, task}]
	if !ok {
		return models.ModelScore{}, false
	}
	return *entry, true
}

// Snapshot returns every aggregate, ordered by model then task type.
func (s *Service) Snapshot() []models.ModelScore {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.ModelScore, 0, len(s.scores))
	for _, entry := range s.scores {
		out = append(out, *entry)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Model != out[j].Model {
			return out[i].Model < out[j].Model
		}
		return out[i].TaskType < out[j].TaskType
	})
	return out
}

// Len reports how many outcomes the store currently holds.
func (s *Service) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size
}
