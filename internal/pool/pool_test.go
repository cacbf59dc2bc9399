package pool

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jberon/kiln/internal/models"
)

var testNow = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

// fakeProber serves a canned model list per endpoint.
type fakeProber struct {
	mu      sync.Mutex
	serving map[string][]DiscoveredModel
	errs    map[string]error
}

func (f *fakeProber) Probe(_ context.Context, endpoint string) ([]DiscoveredModel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs[endpoint]; err != nil {
		return nil, err
	}
	return f.serving[endpoint], nil
}

func (f *fakeProber) set(endpoint string, names ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.serving == nil {
		f.serving = make(map[string][]DiscoveredModel)
	}
	discovered := make([]DiscoveredModel, 0, len(names))
	for _, name := range names {
		discovered = append(discovered, DiscoveredModel{Name: name})
	}
	f.serving[endpoint] = discovered
}

// stubScorer records outcomes and returns a fixed ranking.
type stubScorer struct {
	mu         sync.Mutex
	best       string
	ok         bool
	rejectWith error
	recorded   []models.GenerationOutcome
	candidates []string
}

func (s *stubScorer) Record(o models.GenerationOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rejectWith != nil {
		return s.rejectWith
	}
	s.recorded = append(s.recorded, o)
	return nil
}

func (s *stubScorer) Best(_ models.TaskType, candidates []string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.candidates = append([]string(nil), candidates...)
	return s.best, s.ok
}

const testEndpoint = "http://one:11434"

func seedPool(t *testing.T, opts []Option, names ...string) (*Service, *fakeProber) {
	t.Helper()
	prober := &fakeProber{}
	prober.set(testEndpoint, names...)
	s := New(Config{Endpoints: []string{testEndpoint}}, prober, opts...)
	_, err := s.Discover(context.Background())
	require.NoError(t, err)
	return s, prober
}

func TestService_DiscoverAddsSlots(t *testing.T) {
	s, _ := seedPool(t, nil, "qwen2.5-coder:7b", "llama3.3:70b")

	slots := s.Snapshot()
	require.Len(t, slots, 2)
	for _, slot := range slots {
		assert.NotEmpty(t, slot.ID)
		assert.Equal(t, testEndpoint, slot.Endpoint)
		assert.Equal(t, models.RoleAny, slot.Role)
		assert.False(t, slot.Busy)
	}
}

func TestService_DiscoverKeepsExistingSlots(t *testing.T) {
	s, _ := seedPool(t, nil, "m1")
	before := s.Snapshot()
	require.Len(t, before, 1)

	slot, err := s.Acquire(AcquireRequest{})
	require.NoError(t, err)
	require.NoError(t, s.Release(slot.ID, &models.GenerationOutcome{
		Model:    "m1",
		TaskType: models.TaskGenerate,
		Duration: time.Second,
	}))

	report, err := s.Discover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Kept)
	assert.Zero(t, report.Added)
	assert.Zero(t, report.Removed)

	after := s.Snapshot()
	require.Len(t, after, 1)
	assert.Equal(t, before[0].ID, after[0].ID)
	assert.Equal(t, 1, after[0].CompletedTasks)
}

func TestService_DiscoverRemovesVanishedIdleSlots(t *testing.T) {
	s, prober := seedPool(t, nil, "m1", "m2")

	prober.set(testEndpoint, "m2")
	report, err := s.Discover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Removed)
	assert.Equal(t, 1, report.Kept)

	slots := s.Snapshot()
	require.Len(t, slots, 1)
	assert.Equal(t, "m2", slots[0].Model)
}

func TestService_DiscoverKeepsVanishedBusySlotUntilRelease(t *testing.T) {
	s, prober := seedPool(t, nil, "m1")

	slot, err := s.Acquire(AcquireRequest{TaskLabel: "long haul"})
	require.NoError(t, err)

	prober.set(testEndpoint, "m2")
	report, err := s.Discover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Kept, "busy slot survives")
	assert.Equal(t, 1, report.Added)
	assert.Zero(t, report.Removed)
	require.Len(t, s.Snapshot(), 2)

	require.NoError(t, s.Release(slot.ID, nil))
	report, err = s.Discover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Removed, "released straggler falls off")

	slots := s.Snapshot()
	require.Len(t, slots, 1)
	assert.Equal(t, "m2", slots[0].Model)
}

func TestService_DiscoverRecordsEndpointFailures(t *testing.T) {
	prober := &fakeProber{errs: map[string]error{"http://down:11434": errors.New("connection refused")}}
	prober.set("http://up:11434", "m1")

	s := New(Config{Endpoints: []string{"http://down:11434", "http://up:11434"}}, prober)
	report, err := s.Discover(context.Background())
	require.NoError(t, err, "probe failures never fail the pass")

	require.Len(t, report.Endpoints, 2)
	assert.Contains(t, report.Endpoints[0].Err, "connection refused")
	assert.Empty(t, report.Endpoints[1].Err)
	assert.Equal(t, 1, report.Endpoints[1].Models)
	assert.Len(t, s.Snapshot(), 1, "healthy endpoint still merges")
}

func TestService_DiscoverWithoutProber(t *testing.T) {
	s := New(Config{}, nil)
	_, err := s.Discover(context.Background())
	assert.ErrorIs(t, err, ErrNoProber)
}

func TestService_AcquireEmptyRoster(t *testing.T) {
	s := New(Config{}, &fakeProber{})
	_, err := s.Acquire(AcquireRequest{})
	assert.ErrorIs(t, err, ErrNoSlotAvailable)
}

func TestService_AcquireMarksBusy(t *testing.T) {
	s, _ := seedPool(t, nil, "m1")

	slot, err := s.Acquire(AcquireRequest{TaskLabel: "build step 1"})
	require.NoError(t, err)
	assert.True(t, slot.Busy)
	assert.Equal(t, "build step 1", slot.TaskLabel)

	_, err = s.Acquire(AcquireRequest{})
	assert.ErrorIs(t, err, ErrNoSlotAvailable)
}

func TestService_AcquireReturnsCopy(t *testing.T) {
	s, _ := seedPool(t, nil, "m1")

	slot, err := s.Acquire(AcquireRequest{TaskLabel: "original"})
	require.NoError(t, err)
	slot.TaskLabel = "tampered"

	live := s.Snapshot()[0]
	assert.Equal(t, "original", live.TaskLabel)
}

func TestService_AcquireRoleSelection(t *testing.T) {
	s, _ := seedPool(t, nil, "planner-model", "worker-a", "worker-b")
	require.NoError(t, s.SetRole("planner-model", models.RolePlanner))

	// pinned role wins for its own requests
	slot, err := s.Acquire(AcquireRequest{Role: models.RolePlanner})
	require.NoError(t, err)
	assert.Equal(t, "planner-model", slot.Model)

	// with the pinned slot busy, planner requests fall back to any-role
	slot, err = s.Acquire(AcquireRequest{Role: models.RolePlanner})
	require.NoError(t, err)
	assert.NotEqual(t, "planner-model", slot.Model)

	// any-role requests never take a pinned slot
	require.NoError(t, s.Release(s.Snapshot()[0].ID, nil))
	slot, err = s.Acquire(AcquireRequest{})
	require.NoError(t, err)
	assert.NotEqual(t, "planner-model", slot.Model)
}

func TestService_AcquireRejectsInvalidRole(t *testing.T) {
	s, _ := seedPool(t, nil, "m1")
	_, err := s.Acquire(AcquireRequest{Role: "juggler"})
	assert.ErrorIs(t, err, models.ErrInvalidRole)
}

func TestService_AcquirePrefersRequestedModel(t *testing.T) {
	scorer := &stubScorer{best: "alpha", ok: true}
	s, _ := seedPool(t, []Option{WithScorer(scorer)}, "alpha", "beta")

	slot, err := s.Acquire(AcquireRequest{
		TaskType:       models.TaskGenerate,
		PreferredModel: "beta",
	})
	require.NoError(t, err)
	assert.Equal(t, "beta", slot.Model, "preference beats ranking")
}

func TestService_AcquireRanksByScorer(t *testing.T) {
	scorer := &stubScorer{best: "beta", ok: true}
	s, _ := seedPool(t, []Option{WithScorer(scorer)}, "alpha", "beta")

	slot, err := s.Acquire(AcquireRequest{TaskType: models.TaskGenerate})
	require.NoError(t, err)
	assert.Equal(t, "beta", slot.Model)
	assert.ElementsMatch(t, []string{"alpha", "beta"}, scorer.candidates)
}

func TestService_AcquireFallsBackToLeastRecentlyUsed(t *testing.T) {
	current := testNow
	s, _ := seedPool(t, []Option{WithNow(func() time.Time { return current })}, "alpha", "beta")

	// alpha works once, so beta (never used) is up next
	slot, err := s.Acquire(AcquireRequest{})
	require.NoError(t, err)
	require.Equal(t, "alpha", slot.Model)
	require.NoError(t, s.Release(slot.ID, nil))

	slot, err = s.Acquire(AcquireRequest{})
	require.NoError(t, err)
	assert.Equal(t, "beta", slot.Model)

	current = current.Add(time.Minute)
	require.NoError(t, s.Release(slot.ID, nil))

	// alpha is now the stalest again
	slot, err = s.Acquire(AcquireRequest{})
	require.NoError(t, err)
	assert.Equal(t, "alpha", slot.Model)
}

// A burst of concurrent acquisitions against a small roster must hand
// out each slot exactly once.
func TestService_AcquireStorm(t *testing.T) {
	names := []string{"m1", "m2", "m3", "m4"}
	s, _ := seedPool(t, nil, names...)

	const callers = 32
	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		gotIDs     []string
		misses     int
		unexpected []error
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			slot, err := s.Acquire(AcquireRequest{TaskLabel: "storm"})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case errors.Is(err, ErrNoSlotAvailable):
				misses++
			case err != nil:
				unexpected = append(unexpected, err)
			default:
				gotIDs = append(gotIDs, slot.ID)
			}
		}()
	}
	wg.Wait()

	require.Empty(t, unexpected)
	assert.Len(t, gotIDs, len(names))
	assert.Equal(t, callers-len(names), misses)

	seen := make(map[string]bool, len(gotIDs))
	for _, id := range gotIDs {
		assert.False(t, seen[id], "slot %s handed out twice", id)
		seen[id] = true
	}

	stats := s.Stats()
	assert.Equal(t, len(names), stats.BusySlots)
	assert.Zero(t, stats.IdleSlots)
}

func TestService_ReleaseUpdatesCountersAndForwards(t *testing.T) {
	scorer := &stubScorer{}
	s, _ := seedPool(t, []Option{
		WithScorer(scorer),
		WithNow(func() time.Time { return testNow }),
	}, "m1")

	slot, err := s.Acquire(AcquireRequest{TaskLabel: "step"})
	require.NoError(t, err)

	outcome := &models.GenerationOutcome{
		Model:        "m1",
		TaskType:     models.TaskGenerate,
		QualityScore: 88,
		Duration:     2 * time.Second,
		TokensUsed:   420,
	}
	require.NoError(t, s.Release(slot.ID, outcome))

	live := s.Snapshot()[0]
	assert.False(t, live.Busy)
	assert.Empty(t, live.TaskLabel)
	assert.Equal(t, 1, live.CompletedTasks)
	assert.Equal(t, int64(420), live.TotalTokens)
	assert.Equal(t, 2*time.Second, live.AvgLatency)
	assert.Equal(t, testNow, live.LastUsed)

	require.Len(t, scorer.recorded, 1)
	assert.Equal(t, "m1", scorer.recorded[0].Model)
}

func TestService_ReleaseFoldsLatency(t *testing.T) {
	s, _ := seedPool(t, nil, "m1")

	durations := []time.Duration{2 * time.Second, 4 * time.Second}
	for _, d := range durations {
		slot, err := s.Acquire(AcquireRequest{})
		require.NoError(t, err)
		require.NoError(t, s.Release(slot.ID, &models.GenerationOutcome{
			Model:    "m1",
			TaskType: models.TaskGenerate,
			Duration: d,
		}))
	}

	live := s.Snapshot()[0]
	assert.Equal(t, 3*time.Second, live.AvgLatency)
}

func TestService_ReleaseNilOutcome(t *testing.T) {
	scorer := &stubScorer{}
	s, _ := seedPool(t, []Option{WithScorer(scorer)}, "m1")

	slot, err := s.Acquire(AcquireRequest{})
	require.NoError(t, err)
	require.NoError(t, s.Release(slot.ID, nil))

	live := s.Snapshot()[0]
	assert.False(t, live.Busy)
	assert.Equal(t, 1, live.CompletedTasks)
	assert.Zero(t, live.TotalTokens)
	assert.Empty(t, scorer.recorded, "abandoned tasks are not scored")
}

func TestService_ReleaseUnknownSlot(t *testing.T) {
	s, _ := seedPool(t, nil, "m1")
	err := s.Release("no-such-slot", nil)
	assert.ErrorIs(t, err, ErrSlotNotFound)
}

func TestService_ReleaseScorerRejectionStillFreesSlot(t *testing.T) {
	scorer := &stubScorer{rejectWith: models.ErrInvalidTaskType}
	s, _ := seedPool(t, []Option{WithScorer(scorer)}, "m1")

	slot, err := s.Acquire(AcquireRequest{})
	require.NoError(t, err)

	err = s.Release(slot.ID, &models.GenerationOutcome{
		Model:    "m1",
		TaskType: models.TaskGenerate,
		Duration: time.Second,
	})
	assert.ErrorIs(t, err, models.ErrInvalidTaskType)
	assert.False(t, s.Snapshot()[0].Busy)
}

func TestService_SetRole(t *testing.T) {
	s, _ := seedPool(t, nil, "m1", "m2")

	require.NoError(t, s.SetRole("m1", models.RoleReviewer))
	for _, slot := range s.Snapshot() {
		if slot.Model == "m1" {
			assert.Equal(t, models.RoleReviewer, slot.Role)
		} else {
			assert.Equal(t, models.RoleAny, slot.Role)
		}
	}

	err := s.SetRole("ghost", models.RoleBuilder)
	assert.ErrorIs(t, err, ErrUnknownModel)

	err = s.SetRole("m1", "juggler")
	assert.ErrorIs(t, err, models.ErrInvalidRole)
}

func TestService_Stats(t *testing.T) {
	prober := &fakeProber{}
	prober.set("http://one:11434", "m1", "m2")
	prober.set("http://two:11434", "m1")

	s := New(Config{Endpoints: []string{"http://one:11434", "http://two:11434"}}, prober)
	_, err := s.Discover(context.Background())
	require.NoError(t, err)

	_, err = s.Acquire(AcquireRequest{})
	require.NoError(t, err)

	stats := s.Stats()
	assert.Equal(t, 3, stats.TotalSlots)
	assert.Equal(t, 1, stats.BusySlots)
	assert.Equal(t, 2, stats.IdleSlots)
	assert.Equal(t, 3, stats.ByRole[models.RoleAny])

	require.Len(t, stats.Models, 2)
	assert.Equal(t, "m1", stats.Models[0].Model)
	assert.Equal(t, 2, stats.Models[0].Slots)
	assert.Equal(t, "m2", stats.Models[1].Model)
	assert.Equal(t, 1, stats.Models[1].Slots)
}

func TestService_PeekMatchesAcquireWithoutMutating(t *testing.T) {
	scorer := &stubScorer{best: "m2", ok: true}
	s, _ := seedPool(t, []Option{WithScorer(scorer)}, "m1", "m2", "m3")

	peeked, err := s.Peek(AcquireRequest{TaskType: models.TaskGenerate})
	require.NoError(t, err)
	assert.Equal(t, "m2", peeked.Model)

	// repeated peeks see the same roster and make the same call
	again, err := s.Peek(AcquireRequest{TaskType: models.TaskGenerate})
	require.NoError(t, err)
	assert.Equal(t, peeked.ID, again.ID)

	stats := s.Stats()
	assert.Equal(t, 0, stats.BusySlots, "peek must not mark slots busy")
	for _, slot := range s.Snapshot() {
		assert.Zero(t, slot.CompletedTasks, "peek must not count completions")
		assert.True(t, slot.LastUsed.IsZero(), "peek must not stamp LastUsed")
	}

	acquired, err := s.Acquire(AcquireRequest{TaskType: models.TaskGenerate})
	require.NoError(t, err)
	assert.Equal(t, peeked.ID, acquired.ID, "acquire honors the peeked choice")
}

func TestService_PeekNoIdleSlot(t *testing.T) {
	s, _ := seedPool(t, nil, "m1")

	_, err := s.Acquire(AcquireRequest{})
	require.NoError(t, err)

	_, err = s.Peek(AcquireRequest{})
	assert.ErrorIs(t, err, ErrNoSlotAvailable)

	_, err = s.Peek(AcquireRequest{Role: "juggler"})
	assert.ErrorIs(t, err, models.ErrInvalidRole)
}
