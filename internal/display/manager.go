// Package display owns the state machine in front of the physical panel.
// Every write to the panel goes through Manager.Push.
package display

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Nixie-Tech-LLC/inkframe/internal/model"
	"github.com/Nixie-Tech-LLC/inkframe/internal/telemetry"
)

// ErrInvalidTransition indicates an event that is not allowed in the current state.
var ErrInvalidTransition = errors.New("invalid display state transition")

// Driver performs the hardware write. Push must honour ctx.
type Driver interface {
	Push(ctx context.Context, artifact model.ImageArtifact) error
}

type StateStore interface {
	LoadDisplayState(ctx context.Context) (model.DisplayState, error)
	PersistDisplayState(ctx context.Context, state model.DisplayState) error
}

type Config struct {
	PushTimeout time.Duration
	MaxRetries  int
	Backoff     time.Duration
}

// PushError is returned once every push attempt failed. The panel keeps
// showing the previous image.
type PushError struct {
	ImageID  string
	Attempts int
	Err      error
}

func (e *PushError) Error() string {
	return fmt.Sprintf("push of %s failed after %d attempts: %v", e.ImageID, e.Attempts, e.Err)
}

func (e *PushError) Unwrap() error { return e.Err }

var allStatuses = []string{
	string(model.DisplayIdle),
	string(model.DisplayGenerating),
	string(model.DisplayPushing),
	string(model.DisplayReady),
	string(model.DisplayError),
}

var validTransitions = map[model.DisplayStatus][]model.DisplayStatus{
	model.DisplayIdle:       {model.DisplayGenerating, model.DisplayPushing},
	model.DisplayGenerating: {model.DisplayPushing, model.DisplayError},
	model.DisplayPushing:    {model.DisplayReady, model.DisplayError},
	model.DisplayReady:      {model.DisplayGenerating, model.DisplayPushing},
	model.DisplayError:      {model.DisplayGenerating, model.DisplayPushing, model.DisplayIdle},
}

func isValidTransition(from, to model.DisplayStatus) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Manager mutates DisplayState. Mutating calls are expected to be serialized
// by the caller; reads are safe from any goroutine.
type Manager struct {
	driver Driver
	store  StateStore
	cfg    Config
	logger zerolog.Logger

	mu      sync.RWMutex
	state   model.DisplayState
	current *model.ImageArtifact

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func NewManager(driver Driver, store StateStore, cfg Config, logger zerolog.Logger) *Manager {
	if cfg.PushTimeout <= 0 {
		cfg.PushTimeout = 30 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = time.Second
	}
	return &Manager{
		driver: driver,
		store:  store,
		cfg:    cfg,
		logger: logger.With().Str("component", "display").Logger(),
		state:  model.DisplayState{Status: model.DisplayIdle},
		now:    time.Now,
		sleep:  sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Load restores the persisted state. A cycle interrupted by a restart leaves
// Generating or Pushing behind; those come back as Idle.
func (m *Manager) Load(ctx context.Context) error {
	st, err := m.store.LoadDisplayState(ctx)
	if err != nil {
		return fmt.Errorf("load display state: %w", err)
	}
	if st.Status == "" || st.Status == model.DisplayGenerating || st.Status == model.DisplayPushing {
		st.Status = model.DisplayIdle
	}

	m.mu.Lock()
	m.state = st
	m.mu.Unlock()
	telemetry.SetDisplayStatus(string(st.Status), allStatuses)
	return nil
}

func (m *Manager) Snapshot() model.DisplayState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

func (m *Manager) Health() model.DisplayHealth {
	st := m.Snapshot()
	return model.DisplayHealth{
		RefreshCount:      st.RefreshCount,
		LastRefresh:       st.LastRefresh,
		Status:            st.Status,
		ErrorCount:        st.ErrorCount,
		ConsecutiveErrors: st.ConsecutiveErrors,
		CurrentImageID:    st.CurrentImageID,
	}
}

// CurrentArtifact returns the artifact last pushed successfully, if it is
// still held in memory.
func (m *Manager) CurrentArtifact() (model.ImageArtifact, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil || m.current.ID != m.state.CurrentImageID {
		return model.ImageArtifact{}, false
	}
	return *m.current, true
}

// update applies fn under the lock and persists the result. Persistence
// failures are logged; the in-memory state stays authoritative.
func (m *Manager) update(ctx context.Context, fn func(st *model.DisplayState) error) error {
	m.mu.Lock()
	next := m.state
	if err := fn(&next); err != nil {
		m.mu.Unlock()
		return err
	}
	next.UpdatedAt = m.now().UTC()
	prev := m.state.Status
	m.state = next
	m.mu.Unlock()

	if err := m.store.PersistDisplayState(context.WithoutCancel(ctx), next); err != nil {
		m.logger.Error().Err(err).Str("status", string(next.Status)).Msg("failed to persist display state")
	}
	if prev != next.Status {
		telemetry.SetDisplayStatus(string(next.Status), allStatuses)
		m.logger.Debug().
			Str("from", string(prev)).
			Str("to", string(next.Status)).
			Msg("display state transition")
	}
	return nil
}

func (m *Manager) transition(ctx context.Context, to model.DisplayStatus) error {
	return m.update(ctx, func(st *model.DisplayState) error {
		if !isValidTransition(st.Status, to) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, st.Status, to)
		}
		st.Status = to
		return nil
	})
}

// BeginGeneration enters Generating.
func (m *Manager) BeginGeneration(ctx context.Context) error {
	return m.transition(ctx, model.DisplayGenerating)
}

// RecordGenerationFailure counts a failed generation. Only valid while
// Generating.
func (m *Manager) RecordGenerationFailure(ctx context.Context) error {
	return m.update(ctx, func(st *model.DisplayState) error {
		if st.Status != model.DisplayGenerating {
			return fmt.Errorf("%w: generation failure recorded in %s", ErrInvalidTransition, st.Status)
		}
		st.ErrorCount++
		st.ConsecutiveErrors++
		return nil
	})
}

// FailGeneration moves Generating to Error without touching the panel.
func (m *Manager) FailGeneration(ctx context.Context) error {
	return m.update(ctx, func(st *model.DisplayState) error {
		if st.Status != model.DisplayGenerating {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, st.Status, model.DisplayError)
		}
		st.Status = model.DisplayError
		return nil
	})
}

// AbortGeneration returns Generating to Idle when a cycle is abandoned
// before it produced anything. Counters are left alone.
func (m *Manager) AbortGeneration(ctx context.Context) error {
	return m.update(ctx, func(st *model.DisplayState) error {
		if st.Status != model.DisplayGenerating {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, st.Status, model.DisplayIdle)
		}
		st.Status = model.DisplayIdle
		return nil
	})
}

// BeginPush enters Pushing.
func (m *Manager) BeginPush(ctx context.Context) error {
	return m.transition(ctx, model.DisplayPushing)
}

// Push writes artifact to the panel, retrying with exponential backoff. It is
// only valid in Pushing and always leaves Pushing: Ready on success, Error
// with the previous image retained on exhaustion.
func (m *Manager) Push(ctx context.Context, artifact model.ImageArtifact) error {
	if st := m.Snapshot().Status; st != model.DisplayPushing {
		return fmt.Errorf("%w: push requested in %s", ErrInvalidTransition, st)
	}

	logger := m.logger.With().Str("image_id", artifact.ID).Logger()
	attempts := m.cfg.MaxRetries + 1
	made := 0
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		made = attempt
		attemptCtx, cancel := context.WithTimeout(ctx, m.cfg.PushTimeout)
		lastErr = m.driver.Push(attemptCtx, artifact)
		cancel()

		if lastErr == nil {
			telemetry.PushAttempts.WithLabelValues("ok").Inc()
			return m.pushed(ctx, artifact)
		}
		telemetry.PushAttempts.WithLabelValues("error").Inc()
		logger.Warn().Err(lastErr).Int("attempt", attempt).Int("max_attempts", attempts).Msg("display push failed")

		if attempt == attempts {
			break
		}
		if err := m.sleep(ctx, m.cfg.Backoff<<(attempt-1)); err != nil {
			lastErr = err
			break
		}
	}

	pushErr := &PushError{ImageID: artifact.ID, Attempts: made, Err: lastErr}
	_ = m.update(ctx, func(st *model.DisplayState) error {
		st.Status = model.DisplayError
		st.ErrorCount++
		st.ConsecutiveErrors++
		return nil
	})
	logger.Error().Err(pushErr).Msg("display push exhausted retries, keeping previous image")
	return pushErr
}

func (m *Manager) pushed(ctx context.Context, artifact model.ImageArtifact) error {
	now := m.now().UTC()
	err := m.update(ctx, func(st *model.DisplayState) error {
		st.Status = model.DisplayReady
		st.CurrentImageID = artifact.ID
		st.LastRefresh = &now
		st.RefreshCount++
		if !artifact.IsError {
			st.ConsecutiveErrors = 0
		}
		return nil
	})
	if err != nil {
		return err
	}

	m.mu.Lock()
	a := artifact
	m.current = &a
	m.mu.Unlock()

	m.logger.Info().Str("image_id", artifact.ID).Bool("error_artifact", artifact.IsError).Msg("display refreshed")
	return nil
}

// Reset clears the error counters and returns the display to Idle. It is
// refused while a cycle is generating or pushing.
func (m *Manager) Reset(ctx context.Context) error {
	return m.update(ctx, func(st *model.DisplayState) error {
		if st.Status == model.DisplayGenerating || st.Status == model.DisplayPushing {
			return fmt.Errorf("%w: reset while %s", ErrInvalidTransition, st.Status)
		}
		st.Status = model.DisplayIdle
		st.ErrorCount = 0
		st.ConsecutiveErrors = 0
		return nil
	})
}
