package orchestrator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Nixie-Tech-LLC/inkframe/internal/cache"
	"github.com/Nixie-Tech-LLC/inkframe/internal/content"
	"github.com/Nixie-Tech-LLC/inkframe/internal/db"
	"github.com/Nixie-Tech-LLC/inkframe/internal/db/dbtest"
	"github.com/Nixie-Tech-LLC/inkframe/internal/display"
	"github.com/Nixie-Tech-LLC/inkframe/internal/model"
	"github.com/Nixie-Tech-LLC/inkframe/internal/pipeline"
	"github.com/Nixie-Tech-LLC/inkframe/internal/playlist"
	"github.com/Nixie-Tech-LLC/inkframe/internal/plugin"
	"github.com/Nixie-Tech-LLC/inkframe/internal/schedule"
)

// Wednesday; day 2 of a Monday-based week.
var wed0915 = time.Date(2026, 3, 4, 9, 15, 0, 0, time.UTC)

type textGen struct {
	calls   atomic.Int32
	started chan struct{}
	release chan struct{}
	fail    bool
}

func (g *textGen) ValidateSettings(model.Settings) error { return nil }

func (g *textGen) GenerateImage(ctx context.Context, s model.Settings) (plugin.Image, error) {
	g.calls.Add(1)
	if g.started != nil {
		g.started <- struct{}{}
	}
	if g.release != nil {
		<-g.release
	}
	if g.fail {
		return plugin.Image{}, errors.New("upstream unavailable")
	}
	text, _ := s["text"].(string)
	return plugin.Image{Data: []byte("frame:" + text), ContentType: "image/png"}, nil
}

type recordingDriver struct {
	mu     sync.Mutex
	pushed []model.ImageArtifact
}

func (d *recordingDriver) Push(_ context.Context, art model.ImageArtifact) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pushed = append(d.pushed, art)
	return nil
}

func (d *recordingDriver) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pushed)
}

func (d *recordingDriver) last() model.ImageArtifact {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pushed[len(d.pushed)-1]
}

// flakyStore fails instance lookups on demand.
type flakyStore struct {
	db.Store
	fail atomic.Bool
}

func (s *flakyStore) LoadInstance(ctx context.Context, id string) (model.PluginInstance, error) {
	if s.fail.Load() {
		return model.PluginInstance{}, errors.New("connection reset")
	}
	return s.Store.LoadInstance(ctx, id)
}

type harness struct {
	store   *flakyStore
	gen     *textGen
	driver  *recordingDriver
	display *display.Manager
	orch    *Orchestrator
}

func newHarness(t *testing.T, gen *textGen, policy FailurePolicy) *harness {
	t.Helper()
	ctx := context.Background()

	store := &flakyStore{Store: dbtest.NewTestStore(t)}
	reg := plugin.NewRegistry()
	require.NoError(t, reg.Register("text", gen))

	pipe := pipeline.New(reg, cache.New(16, nil, zerolog.Nop()), nil, pipeline.Config{
		GeneratorTimeout: 5 * time.Second,
		ErrorTTL:         time.Minute,
		Width:            200,
		Height:           100,
	}, zerolog.Nop())

	source := content.NewSource(store, playlist.NewResolver(store, time.Hour, zerolog.Nop()), zerolog.Nop())
	catalog := content.NewCatalog(store, reg, pipe, zerolog.Nop())
	grid := schedule.NewGrid(store, source, time.Monday)
	require.NoError(t, grid.Load(ctx))

	driver := &recordingDriver{}
	dm := display.NewManager(driver, store, display.Config{PushTimeout: time.Second, Backoff: time.Millisecond}, zerolog.Nop())
	require.NoError(t, dm.Load(ctx))

	orch := New(grid, source, catalog, pipe, dm, Config{Location: time.UTC, FailurePolicy: policy}, zerolog.Nop())
	orch.now = func() time.Time { return wed0915 }

	_, err := orch.SaveInstance(ctx, model.PluginInstance{ID: "clock-1", PluginID: "text", Settings: model.Settings{"text": "09:15"}, Enabled: true})
	require.NoError(t, err)
	require.NoError(t, orch.SetSlot(ctx, 2, 9, model.ContentTarget{Type: model.TargetInstance, ID: "clock-1"}))

	return &harness{store: store, gen: gen, driver: driver, display: dm, orch: orch}
}

func TestSlotCycleRendersScheduledInstance(t *testing.T) {
	h := newHarness(t, &textGen{}, PolicyPush)
	ctx := context.Background()

	res, ran := h.orch.RunSlot(ctx, wed0915)
	require.True(t, ran)
	require.NoError(t, res.Err)
	assert.Equal(t, OutcomePushed, res.Outcome)
	assert.Equal(t, "clock-1", res.InstanceID)
	assert.NotEmpty(t, res.CycleID)
	assert.Equal(t, []byte("frame:09:15"), h.driver.last().Data)

	health := h.orch.DisplayHealth()
	assert.Equal(t, model.DisplayReady, health.Status)
	assert.EqualValues(t, 1, health.RefreshCount)
	assert.Equal(t, res.ImageID, health.CurrentImageID)

	// the same hour is already resolved
	_, ran = h.orch.RunSlot(ctx, wed0915.Add(30*time.Minute))
	assert.False(t, ran)

	// 10:00 has no slot and no default
	res, ran = h.orch.RunSlot(ctx, wed0915.Add(45*time.Minute))
	require.True(t, ran)
	assert.Equal(t, OutcomeNoContent, res.Outcome)
	assert.Equal(t, 1, h.driver.count())
}

func TestPauseDropsSlotCyclesOnly(t *testing.T) {
	h := newHarness(t, &textGen{}, PolicyPush)
	ctx := context.Background()

	h.orch.Pause()
	assert.True(t, h.orch.SchedulerStatus().Paused)
	assert.Nil(t, h.orch.SchedulerStatus().NextUpdate)

	res, ran := h.orch.RunSlot(ctx, wed0915)
	assert.False(t, ran)
	assert.Equal(t, OutcomeDropped, res.Outcome)
	assert.Equal(t, 0, h.driver.count())

	res = h.orch.TriggerNow(ctx)
	assert.Equal(t, OutcomePushed, res.Outcome)
	assert.Equal(t, 1, h.driver.count())

	h.orch.Resume()
	st := h.orch.SchedulerStatus()
	assert.False(t, st.Paused)
	require.NotNil(t, st.NextUpdate)
	assert.Equal(t, time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC), *st.NextUpdate)
	require.NotNil(t, st.LastUpdate)
}

func TestManualTriggersCoalesceWhileCycleRuns(t *testing.T) {
	gen := &textGen{started: make(chan struct{}, 8), release: make(chan struct{})}
	h := newHarness(t, gen, PolicyPush)
	ctx := context.Background()

	first := make(chan CycleResult, 1)
	go func() { first <- h.orch.TriggerNow(ctx) }()
	<-gen.started

	const joiners = 5
	var wg sync.WaitGroup
	results := make(chan CycleResult, joiners)
	for i := 0; i < joiners; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- h.orch.TriggerNow(ctx)
		}()
	}
	require.Eventually(t, func() bool {
		h.orch.stateMu.Lock()
		defer h.orch.stateMu.Unlock()
		return h.orch.pending != nil && h.orch.pending.waiters == joiners
	}, 2*time.Second, 5*time.Millisecond)

	close(gen.release)
	wg.Wait()
	close(results)

	assert.Equal(t, OutcomePushed, (<-first).Outcome)
	var rerun string
	for res := range results {
		assert.True(t, res.Coalesced)
		assert.Equal(t, OutcomePushed, res.Outcome)
		if rerun == "" {
			rerun = res.CycleID
		}
		assert.Equal(t, rerun, res.CycleID)
	}

	assert.Equal(t, 2, h.driver.count())
	// the re-run is served from the cache
	assert.EqualValues(t, 1, gen.calls.Load())
}

func TestManualTriggerJoinsScheduledCycle(t *testing.T) {
	run := map[Reason]func(o *Orchestrator, ctx context.Context) CycleResult{
		ReasonSlot: func(o *Orchestrator, ctx context.Context) CycleResult {
			res, _ := o.RunSlot(ctx, wed0915)
			return res
		},
		ReasonHealth: func(o *Orchestrator, ctx context.Context) CycleResult {
			return o.RunHealth(ctx, wed0915)
		},
	}
	for reason, start := range run {
		t.Run(string(reason), func(t *testing.T) {
			gen := &textGen{started: make(chan struct{}, 8), release: make(chan struct{})}
			h := newHarness(t, gen, PolicyPush)
			ctx := context.Background()

			scheduled := make(chan CycleResult, 1)
			go func() { scheduled <- start(h.orch, ctx) }()
			<-gen.started

			const joiners = 2
			results := make(chan CycleResult, joiners)
			for i := 0; i < joiners; i++ {
				go func() { results <- h.orch.TriggerNow(ctx) }()
			}
			require.Eventually(t, func() bool {
				h.orch.stateMu.Lock()
				defer h.orch.stateMu.Unlock()
				return h.orch.pending != nil && h.orch.pending.waiters == joiners
			}, 2*time.Second, 5*time.Millisecond)

			close(gen.release)
			first := <-scheduled
			assert.Equal(t, reason, first.Reason)
			assert.Equal(t, OutcomePushed, first.Outcome)
			assert.False(t, first.Coalesced)

			a, b := <-results, <-results
			assert.True(t, a.Coalesced)
			assert.Equal(t, ReasonManual, a.Reason)
			assert.Equal(t, OutcomePushed, a.Outcome)
			assert.Equal(t, a.CycleID, b.CycleID)
			assert.NotEqual(t, first.CycleID, a.CycleID)

			assert.Equal(t, 2, h.driver.count())
			assert.EqualValues(t, 1, gen.calls.Load())
		})
	}
}

func TestManualCycleUsesDisplayTimezone(t *testing.T) {
	h := newHarness(t, &textGen{}, PolicyPush)
	ctx := context.Background()
	est := time.FixedZone("EST", -5*60*60)
	h.orch.cfg.Location = est
	// 09:15 in EST, still slot 2-9
	h.orch.now = func() time.Time { return time.Date(2026, 3, 4, 14, 15, 0, 0, time.UTC) }

	desc, err := h.orch.ResolveCurrent(ctx, h.orch.now())
	require.NoError(t, err)
	assert.Equal(t, "2-9", desc.SlotKey)

	res := h.orch.TriggerNow(ctx)
	require.NoError(t, res.Err)
	assert.Equal(t, OutcomePushed, res.Outcome)
	assert.Equal(t, desc.InstanceID, res.InstanceID)
	assert.Equal(t, est, res.At.Location())

	// the manual cycle resolved the local hour
	_, ran := h.orch.RunSlot(ctx, h.orch.now())
	assert.False(t, ran)
}

func TestCanceledCallerDoesNotAbortCycle(t *testing.T) {
	gen := &textGen{started: make(chan struct{}, 8), release: make(chan struct{})}
	h := newHarness(t, gen, PolicyPush)

	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan CycleResult, 1)
	go func() { out <- h.orch.TriggerNow(ctx) }()
	<-gen.started
	cancel()

	res := <-out
	assert.Equal(t, OutcomeCanceled, res.Outcome)
	assert.ErrorIs(t, res.Err, context.Canceled)

	close(gen.release)
	require.Eventually(t, func() bool {
		return h.driver.count() == 1 && h.orch.DisplayHealth().Status == model.DisplayReady
	}, 2*time.Second, 5*time.Millisecond)
	assert.False(t, h.driver.last().IsError)
	assert.Zero(t, h.orch.DisplayHealth().ErrorCount)

	again := h.orch.TriggerNow(context.Background())
	require.NoError(t, again.Err)
	assert.Equal(t, OutcomePushed, again.Outcome)
	assert.False(t, h.driver.last().IsError)
	assert.EqualValues(t, 1, gen.calls.Load())
}

func TestFailingGeneratorCountsEveryCycle(t *testing.T) {
	h := newHarness(t, &textGen{fail: true}, PolicyPush)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res := h.orch.TriggerNow(ctx)
		assert.Equal(t, OutcomePushed, res.Outcome)
		var failure *pipeline.GenerationFailure
		assert.ErrorAs(t, res.Err, &failure)
	}

	health := h.orch.DisplayHealth()
	assert.EqualValues(t, 3, health.ErrorCount)
	assert.Equal(t, 3, health.ConsecutiveErrors)
	assert.Equal(t, model.DisplayReady, health.Status)
	assert.True(t, h.driver.last().IsError)
}

func TestRetainPolicyKeepsPreviousImage(t *testing.T) {
	gen := &textGen{}
	h := newHarness(t, gen, PolicyRetain)
	ctx := context.Background()

	good := h.orch.TriggerNow(ctx)
	require.Equal(t, OutcomePushed, good.Outcome)

	gen.fail = true
	_, err := h.orch.SaveInstance(ctx, model.PluginInstance{ID: "clock-1", PluginID: "text", Settings: model.Settings{"text": "broken"}, Enabled: true})
	require.NoError(t, err)

	res := h.orch.TriggerNow(ctx)
	assert.Equal(t, OutcomeGenerationFailed, res.Outcome)
	assert.Equal(t, 1, h.driver.count())

	health := h.orch.DisplayHealth()
	assert.Equal(t, model.DisplayError, health.Status)
	assert.Equal(t, good.ImageID, health.CurrentImageID)
	assert.EqualValues(t, 1, health.ErrorCount)

	require.NoError(t, h.orch.ResetDisplay(ctx))
	health = h.orch.DisplayHealth()
	assert.Equal(t, model.DisplayIdle, health.Status)
	assert.Zero(t, health.ErrorCount)
}

func TestStoreErrorAbortsBeforeDisplayChanges(t *testing.T) {
	h := newHarness(t, &textGen{}, PolicyPush)
	ctx := context.Background()
	before := h.display.Snapshot()

	h.store.fail.Store(true)
	res, ran := h.orch.RunSlot(ctx, wed0915)
	require.True(t, ran)
	assert.Equal(t, OutcomeStoreError, res.Outcome)

	var storeErr *ConfigStoreError
	require.ErrorAs(t, res.Err, &storeErr)
	assert.Equal(t, before, h.display.Snapshot())
	assert.Equal(t, 0, h.driver.count())

	// the hour stays open and the next tick retries
	h.store.fail.Store(false)
	res, ran = h.orch.RunSlot(ctx, wed0915.Add(time.Minute))
	require.True(t, ran)
	assert.Equal(t, OutcomePushed, res.Outcome)
}

func TestHealthRefreshRepushesCurrentImage(t *testing.T) {
	gen := &textGen{}
	h := newHarness(t, gen, PolicyPush)
	ctx := context.Background()

	slot, _ := h.orch.RunSlot(ctx, wed0915)
	require.Equal(t, OutcomePushed, slot.Outcome)

	res := h.orch.RunHealth(ctx, wed0915.Add(time.Minute))
	assert.Equal(t, OutcomePushed, res.Outcome)
	assert.Equal(t, slot.ImageID, res.ImageID)
	assert.Nil(t, res.Target)
	assert.Equal(t, 2, h.driver.count())
	assert.EqualValues(t, 1, gen.calls.Load())
	assert.EqualValues(t, 2, h.orch.DisplayHealth().RefreshCount)
}

func TestHealthRefreshFallsBackToContentCycle(t *testing.T) {
	gen := &textGen{}
	h := newHarness(t, gen, PolicyPush)

	res := h.orch.RunHealth(context.Background(), wed0915)
	assert.Equal(t, OutcomePushed, res.Outcome)
	require.NotNil(t, res.Target)
	assert.Equal(t, "clock-1", res.Target.ID)
	assert.EqualValues(t, 1, gen.calls.Load())
}

func TestHealthRefreshIgnoresPause(t *testing.T) {
	h := newHarness(t, &textGen{}, PolicyPush)
	h.orch.Pause()

	res := h.orch.RunHealth(context.Background(), wed0915)
	assert.Equal(t, OutcomePushed, res.Outcome)
}

func TestResolveCurrentDoesNotAdvancePlaylists(t *testing.T) {
	h := newHarness(t, &textGen{}, PolicyPush)
	ctx := context.Background()

	_, err := h.orch.SaveInstance(ctx, model.PluginInstance{ID: "quote-1", PluginID: "text", Settings: model.Settings{"text": "quote"}, Enabled: true})
	require.NoError(t, err)
	_, err = h.orch.SavePlaylist(ctx, model.Playlist{
		ID:      "morning",
		Policy:  model.RotationSequential,
		Enabled: true,
		Items:   []model.PlaylistItem{{InstanceID: "clock-1"}, {InstanceID: "quote-1"}},
	})
	require.NoError(t, err)
	require.NoError(t, h.orch.SetSlot(ctx, 2, 9, model.ContentTarget{Type: model.TargetPlaylist, ID: "morning"}))

	for i := 0; i < 2; i++ {
		desc, err := h.orch.ResolveCurrent(ctx, wed0915)
		require.NoError(t, err)
		assert.Equal(t, "2-9", desc.SlotKey)
		assert.Equal(t, "morning", desc.PlaylistID)
		assert.Equal(t, "clock-1", desc.InstanceID)
	}

	p, err := h.store.LoadPlaylist(ctx, "morning")
	require.NoError(t, err)
	assert.Nil(t, p.Cursor.LastAdvance)
	assert.Equal(t, 0, h.driver.count())

	desc, err := h.orch.ResolveCurrent(ctx, wed0915.Add(time.Hour))
	require.NoError(t, err)
	assert.Nil(t, desc.Target)
}

func TestSetSlotRejectsUnknownTarget(t *testing.T) {
	h := newHarness(t, &textGen{}, PolicyPush)

	err := h.orch.SetSlot(context.Background(), 2, 10, model.ContentTarget{Type: model.TargetInstance, ID: "missing"})
	var invalid *schedule.InvalidTargetError
	assert.ErrorAs(t, err, &invalid)
	assert.Len(t, h.orch.Schedule().Slots, 1)
}

func TestRunCycleDispatchesByReason(t *testing.T) {
	h := newHarness(t, &textGen{}, PolicyPush)
	ctx := context.Background()

	res, ran := h.orch.RunCycle(ctx, ReasonManual, wed0915)
	require.True(t, ran)
	assert.Equal(t, ReasonManual, res.Reason)

	// the manual cycle resolved this hour
	_, ran = h.orch.RunCycle(ctx, ReasonSlot, wed0915)
	assert.False(t, ran)

	res, ran = h.orch.RunCycle(ctx, ReasonHealth, wed0915)
	require.True(t, ran)
	assert.Equal(t, ReasonHealth, res.Reason)
	assert.Equal(t, 2, h.driver.count())
}
