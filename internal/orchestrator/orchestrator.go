// Package orchestrator serializes every display-affecting cycle behind one
// lock and reconciles the slot timer, the daily health refresh and manual
// triggers into a single stream of panel writes.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Nixie-Tech-LLC/inkframe/internal/content"
	"github.com/Nixie-Tech-LLC/inkframe/internal/display"
	"github.com/Nixie-Tech-LLC/inkframe/internal/model"
	"github.com/Nixie-Tech-LLC/inkframe/internal/pipeline"
	"github.com/Nixie-Tech-LLC/inkframe/internal/schedule"
	"github.com/Nixie-Tech-LLC/inkframe/internal/telemetry"
)

type Reason string

const (
	ReasonSlot   Reason = "slot"
	ReasonHealth Reason = "health"
	ReasonManual Reason = "manual"
)

type Outcome string

const (
	OutcomePushed           Outcome = "pushed"
	OutcomeNoContent        Outcome = "no_content"
	OutcomeGenerationFailed Outcome = "generation_failed"
	OutcomePushFailed       Outcome = "push_failed"
	OutcomeStoreError       Outcome = "store_error"
	OutcomeDropped          Outcome = "dropped"
	OutcomeCanceled         Outcome = "canceled"
)

// FailurePolicy decides what a cycle does with an error artifact.
type FailurePolicy string

const (
	// PolicyPush shows the error artifact on the panel.
	PolicyPush FailurePolicy = "push"
	// PolicyRetain keeps the previous image and leaves the display in Error.
	PolicyRetain FailurePolicy = "retain"
)

// ConfigStoreError aborts a cycle before the display is touched.
type ConfigStoreError struct {
	Op  string
	Err error
}

func (e *ConfigStoreError) Error() string {
	return fmt.Sprintf("configuration store: %s: %v", e.Op, e.Err)
}

func (e *ConfigStoreError) Unwrap() error { return e.Err }

// CycleResult describes one completed cycle.
type CycleResult struct {
	CycleID    string               `json:"cycle_id"`
	Reason     Reason               `json:"reason"`
	At         time.Time            `json:"at"`
	Outcome    Outcome              `json:"outcome"`
	Target     *model.ContentTarget `json:"target,omitempty"`
	InstanceID string               `json:"instance_id,omitempty"`
	ImageID    string               `json:"image_id,omitempty"`
	Coalesced  bool                 `json:"coalesced"`
	Err        error                `json:"-"`
	Error      string               `json:"error,omitempty"`
}

type SchedulerStatus struct {
	Paused     bool       `json:"paused"`
	NextUpdate *time.Time `json:"next_update,omitempty"`
	LastUpdate *time.Time `json:"last_update,omitempty"`
}

type Config struct {
	Location      *time.Location
	FailurePolicy FailurePolicy
}

type Orchestrator struct {
	grid     *schedule.Grid
	source   *content.Source
	catalog  *content.Catalog
	pipeline *pipeline.Pipeline
	display  *display.Manager
	cfg      Config
	logger   zerolog.Logger
	now      func() time.Time

	// mu is the orchestration lock: one cycle at a time.
	mu sync.Mutex

	// stateMu guards the fields below and is never held across a cycle.
	stateMu      sync.Mutex
	active       int
	pending      *pendingRun
	paused       bool
	lastSlotHour time.Time
	inFlightSlot time.Time
	lastUpdate   *time.Time
}

// pendingRun is the single manual re-run shared by every manual trigger that
// arrives while a cycle is active.
type pendingRun struct {
	done    chan struct{}
	waiters int
	result  CycleResult
}

func New(grid *schedule.Grid, source *content.Source, catalog *content.Catalog, p *pipeline.Pipeline, d *display.Manager, cfg Config, logger zerolog.Logger) *Orchestrator {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.FailurePolicy == "" {
		cfg.FailurePolicy = PolicyPush
	}
	return &Orchestrator{
		grid:     grid,
		source:   source,
		catalog:  catalog,
		pipeline: p,
		display:  d,
		cfg:      cfg,
		logger:   logger.With().Str("component", "orchestrator").Logger(),
		now:      time.Now,
	}
}

func (o *Orchestrator) hourOf(t time.Time) time.Time {
	t = t.In(o.cfg.Location)
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, o.cfg.Location)
}

// RunSlot runs the periodic cycle for the hour containing now. It returns
// false when the trigger was dropped: scheduling is paused, or that hour was
// already resolved or is in flight.
func (o *Orchestrator) RunSlot(ctx context.Context, now time.Time) (CycleResult, bool) {
	hour := o.hourOf(now)

	o.stateMu.Lock()
	if o.paused || hour.Equal(o.lastSlotHour) || hour.Equal(o.inFlightSlot) {
		o.stateMu.Unlock()
		telemetry.CyclesDropped.WithLabelValues(string(ReasonSlot)).Inc()
		return CycleResult{Reason: ReasonSlot, At: now, Outcome: OutcomeDropped}, false
	}
	o.inFlightSlot = hour
	o.active++
	o.stateMu.Unlock()

	res := o.serialized(ctx, ReasonSlot, now)

	o.stateMu.Lock()
	if o.inFlightSlot.Equal(hour) {
		o.inFlightSlot = time.Time{}
	}
	o.stateMu.Unlock()
	return res, true
}

// RunHealth runs the forced refresh. It is never dropped or paused.
func (o *Orchestrator) RunHealth(ctx context.Context, now time.Time) CycleResult {
	o.stateMu.Lock()
	o.active++
	o.stateMu.Unlock()
	return o.serialized(ctx, ReasonHealth, now)
}

// RunCycle dispatches a trigger by reason. The bool is false when a slot
// trigger was dropped.
func (o *Orchestrator) RunCycle(ctx context.Context, reason Reason, now time.Time) (CycleResult, bool) {
	switch reason {
	case ReasonSlot:
		return o.RunSlot(ctx, now)
	case ReasonHealth:
		return o.RunHealth(ctx, now), true
	default:
		return o.runManual(ctx, now), true
	}
}

// TriggerNow runs a manual cycle. While another cycle is active the call
// joins the single pending re-run instead of queueing its own, and returns
// that re-run's result.
func (o *Orchestrator) TriggerNow(ctx context.Context) CycleResult {
	return o.runManual(ctx, o.now())
}

func (o *Orchestrator) runManual(ctx context.Context, now time.Time) CycleResult {
	o.stateMu.Lock()
	if o.active > 0 {
		if o.pending == nil {
			o.pending = &pendingRun{done: make(chan struct{})}
		}
		p := o.pending
		p.waiters++
		o.stateMu.Unlock()
		telemetry.CyclesDropped.WithLabelValues(string(ReasonManual)).Inc()

		select {
		case <-p.done:
			res := p.result
			res.Coalesced = true
			return res
		case <-ctx.Done():
			return canceled(ctx, now)
		}
	}
	o.active++
	o.stateMu.Unlock()

	// the cycle outlives the caller; only the wait is cancellable
	done := make(chan CycleResult, 1)
	go func() { done <- o.serialized(context.WithoutCancel(ctx), ReasonManual, now) }()
	select {
	case res := <-done:
		return res
	case <-ctx.Done():
		return canceled(ctx, now)
	}
}

func canceled(ctx context.Context, now time.Time) CycleResult {
	return CycleResult{Reason: ReasonManual, At: now, Outcome: OutcomeCanceled, Err: ctx.Err(), Error: ctx.Err().Error()}
}

// serialized runs one cycle under the orchestration lock, then drains the
// pending manual re-run before releasing it. The caller has incremented
// active.
func (o *Orchestrator) serialized(ctx context.Context, reason Reason, now time.Time) CycleResult {
	o.mu.Lock()
	defer o.mu.Unlock()

	res := o.cycle(ctx, reason, now)

	for {
		o.stateMu.Lock()
		p := o.pending
		o.pending = nil
		if p == nil {
			o.active--
			o.stateMu.Unlock()
			return res
		}
		o.stateMu.Unlock()

		o.logger.Debug().Int("waiters", p.waiters).Msg("running coalesced manual trigger")
		// the re-run belongs to its waiters, not to the caller's context
		p.result = o.cycle(context.WithoutCancel(ctx), ReasonManual, o.now())
		close(p.done)
	}
}

// cycle must be called with mu held.
func (o *Orchestrator) cycle(ctx context.Context, reason Reason, now time.Time) CycleResult {
	now = now.In(o.cfg.Location)
	res := CycleResult{CycleID: uuid.NewString(), Reason: reason, At: now}
	logger := o.logger.With().Str("cycle_id", res.CycleID).Str("reason", string(reason)).Logger()
	start := o.now()

	if reason == ReasonHealth {
		if art, ok := o.currentArtifact(); ok {
			logger.Info().Str("image_id", art.ID).Msg("health refresh of current image")
			if err := o.display.BeginPush(ctx); err != nil {
				res.Outcome = OutcomePushFailed
				res.Err = err
			} else {
				res = o.push(ctx, logger, res, art)
			}
			return o.finish(logger, res, start, false)
		}
		logger.Info().Msg("no current image available, health refresh runs a content cycle")
	}

	res = o.contentCycle(ctx, logger, res, now)
	return o.finish(logger, res, start, true)
}

func (o *Orchestrator) currentArtifact() (model.ImageArtifact, bool) {
	if art, ok := o.display.CurrentArtifact(); ok {
		return art, true
	}
	id := o.display.Snapshot().CurrentImageID
	if id == "" {
		return model.ImageArtifact{}, false
	}
	return o.pipeline.Lookup(id)
}

func (o *Orchestrator) contentCycle(ctx context.Context, logger zerolog.Logger, res CycleResult, now time.Time) CycleResult {
	target, ok := o.grid.Resolve(now)
	if !ok {
		logger.Info().Msg("no content scheduled")
		res.Outcome = OutcomeNoContent
		return res
	}
	res.Target = &target

	m, ok, err := o.source.Materialize(ctx, target, now)
	if err != nil {
		res.Outcome = OutcomeStoreError
		res.Err = &ConfigStoreError{Op: "materialize " + target.String(), Err: err}
		return res
	}
	if !ok {
		res.Outcome = OutcomeNoContent
		return res
	}
	res.InstanceID = m.InstanceID

	if err := o.display.BeginGeneration(ctx); err != nil {
		res.Outcome = OutcomeGenerationFailed
		res.Err = err
		return res
	}

	art, err := o.pipeline.Produce(ctx, pipeline.Request{
		PluginID:   m.PluginID,
		InstanceID: m.InstanceID,
		Settings:   m.Settings,
	}, now)

	var failure *pipeline.GenerationFailure
	if err != nil && !errors.As(err, &failure) {
		// abandoned before the generator finished; nothing was cached
		if aerr := o.display.AbortGeneration(ctx); aerr != nil {
			logger.Error().Err(aerr).Msg("failed to abort generation")
		}
		res.Outcome = OutcomeCanceled
		res.Err = err
		return res
	}
	if failure != nil {
		if rerr := o.display.RecordGenerationFailure(ctx); rerr != nil {
			logger.Error().Err(rerr).Msg("failed to record generation failure")
		}
		if o.cfg.FailurePolicy == PolicyRetain {
			if ferr := o.display.FailGeneration(ctx); ferr != nil {
				logger.Error().Err(ferr).Msg("failed to enter error state")
			}
			res.Outcome = OutcomeGenerationFailed
			res.Err = failure
			return res
		}
		logger.Warn().Str("reason", failure.Reason).Msg("pushing error artifact")
	}

	if err := o.display.BeginPush(ctx); err != nil {
		res.Outcome = OutcomePushFailed
		res.Err = err
		return res
	}
	res = o.push(ctx, logger, res, art)
	if res.Err == nil && failure != nil {
		res.Err = failure
	}
	return res
}

// push expects the display in Pushing.
func (o *Orchestrator) push(ctx context.Context, logger zerolog.Logger, res CycleResult, art model.ImageArtifact) CycleResult {
	if err := o.display.Push(ctx, art); err != nil {
		res.Outcome = OutcomePushFailed
		res.Err = err
		return res
	}
	res.Outcome = OutcomePushed
	res.ImageID = art.ID

	at := o.now()
	o.stateMu.Lock()
	o.lastUpdate = &at
	o.stateMu.Unlock()
	logger.Debug().Str("image_id", art.ID).Msg("image pushed")
	return res
}

// finish records metrics and marks the hour as resolved when a content cycle
// reached a final answer. Store and push failures leave the hour open so the
// next tick retries.
func (o *Orchestrator) finish(logger zerolog.Logger, res CycleResult, start time.Time, content bool) CycleResult {
	if res.Err != nil {
		res.Error = res.Err.Error()
	}
	if content {
		switch res.Outcome {
		case OutcomePushed, OutcomeNoContent, OutcomeGenerationFailed:
			o.stateMu.Lock()
			o.lastSlotHour = o.hourOf(res.At)
			o.stateMu.Unlock()
		}
	}

	telemetry.CyclesTotal.WithLabelValues(string(res.Reason), string(res.Outcome)).Inc()
	telemetry.CycleDuration.WithLabelValues(string(res.Reason)).Observe(o.now().Sub(start).Seconds())

	ev := logger.Info()
	if res.Err != nil {
		ev = logger.Warn().Err(res.Err)
	}
	ev.Str("outcome", string(res.Outcome)).Str("image_id", res.ImageID).Msg("cycle finished")
	return res
}

// ResolveCurrent reports what would be rendered at at, without advancing any
// playlist or touching the display.
func (o *Orchestrator) ResolveCurrent(ctx context.Context, at time.Time) (model.ContentDescriptor, error) {
	at = at.In(o.cfg.Location)
	day, hour := o.grid.Coordinates(at)
	desc := model.ContentDescriptor{At: at, SlotKey: model.SlotKey(day, hour)}

	target, ok := o.grid.Resolve(at)
	if !ok {
		return desc, nil
	}
	desc.Target = &target

	m, ok, err := o.source.Peek(ctx, target, at)
	if err != nil {
		return desc, &ConfigStoreError{Op: "peek " + target.String(), Err: err}
	}
	if ok {
		desc.PluginID = m.PluginID
		desc.InstanceID = m.InstanceID
		desc.PlaylistID = m.PlaylistID
		desc.Settings = m.Settings
	}
	return desc, nil
}

// Pause stops slot cycles. Manual and health cycles still run.
func (o *Orchestrator) Pause() {
	o.stateMu.Lock()
	o.paused = true
	o.stateMu.Unlock()
	o.logger.Info().Msg("scheduling paused")
}

func (o *Orchestrator) Resume() {
	o.stateMu.Lock()
	o.paused = false
	o.stateMu.Unlock()
	o.logger.Info().Msg("scheduling resumed")
}

func (o *Orchestrator) SchedulerStatus() SchedulerStatus {
	o.stateMu.Lock()
	defer o.stateMu.Unlock()

	st := SchedulerStatus{Paused: o.paused}
	if o.lastUpdate != nil {
		t := *o.lastUpdate
		st.LastUpdate = &t
	}
	if !o.paused {
		next := o.hourOf(o.now()).Add(time.Hour)
		st.NextUpdate = &next
	}
	return st
}

func (o *Orchestrator) DisplayHealth() model.DisplayHealth {
	return o.display.Health()
}

// ResetDisplay clears the display's error counters once no cycle is running.
func (o *Orchestrator) ResetDisplay(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.display.Reset(ctx)
}

func (o *Orchestrator) Schedule() model.ScheduleGrid {
	return o.grid.Snapshot()
}

func (o *Orchestrator) SetSlot(ctx context.Context, day, hour int, target model.ContentTarget) error {
	return o.grid.SetSlot(ctx, day, hour, target)
}

func (o *Orchestrator) ClearSlot(ctx context.Context, day, hour int) error {
	return o.grid.ClearSlot(ctx, day, hour)
}

func (o *Orchestrator) SetDefault(ctx context.Context, target *model.ContentTarget) error {
	return o.grid.SetDefault(ctx, target)
}

// SaveInstance edits the catalog under the orchestration lock so a running
// cycle never sees a half-applied edit.
func (o *Orchestrator) SaveInstance(ctx context.Context, inst model.PluginInstance) (model.PluginInstance, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.catalog.SaveInstance(ctx, inst)
}

// SavePlaylist resets the playlist cursor, which only cycles otherwise
// write, so it takes the orchestration lock.
func (o *Orchestrator) SavePlaylist(ctx context.Context, p model.Playlist) (model.Playlist, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.catalog.SavePlaylist(ctx, p)
}

func (o *Orchestrator) Instance(ctx context.Context, id string) (model.PluginInstance, error) {
	return o.catalog.Instance(ctx, id)
}

func (o *Orchestrator) Instances(ctx context.Context) ([]model.PluginInstance, error) {
	return o.catalog.Instances(ctx)
}

func (o *Orchestrator) Playlist(ctx context.Context, id string) (model.Playlist, error) {
	return o.catalog.Playlist(ctx, id)
}

func (o *Orchestrator) Playlists(ctx context.Context) ([]model.Playlist, error) {
	return o.catalog.Playlists(ctx)
}
