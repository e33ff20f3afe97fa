package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseClock(t *testing.T) {
	d, err := ParseClock("03:00")
	require.NoError(t, err)
	assert.Equal(t, 3*time.Hour, d)

	d, err = ParseClock("23:45")
	require.NoError(t, err)
	assert.Equal(t, 23*time.Hour+45*time.Minute, d)

	for _, bad := range []string{"", "3am", "24:00", "12:60"} {
		_, err := ParseClock(bad)
		assert.Error(t, err, bad)
	}
}

func newTestLoop(t *testing.T, h *harness, refreshAt string) *Loop {
	t.Helper()
	l, err := NewLoop(h.orch, LoopConfig{Interval: time.Hour, HealthRefreshAt: refreshAt, Location: time.UTC}, zerolog.Nop())
	require.NoError(t, err)
	return l
}

func TestLoopRunsOneSlotCyclePerHour(t *testing.T) {
	h := newHarness(t, &textGen{}, PolicyPush)
	l := newTestLoop(t, h, "03:00")
	l.lastHealthDay = dayKey(wed0915)
	ctx := context.Background()

	for _, m := range []int{0, 1, 10, 44} {
		l.tick(ctx, wed0915.Add(time.Duration(m)*time.Minute))
	}
	assert.Equal(t, 1, h.driver.count())
}

func TestLoopHealthRefreshOncePerDay(t *testing.T) {
	h := newHarness(t, &textGen{}, PolicyPush)
	l := newTestLoop(t, h, "09:30")
	l.lastHealthDay = "2026-03-03"
	ctx := context.Background()

	l.tick(ctx, wed0915)
	require.Equal(t, 1, h.driver.count())

	l.tick(ctx, wed0915.Add(15*time.Minute))
	assert.Equal(t, 2, h.driver.count(), "health refresh at 09:30")

	l.tick(ctx, wed0915.Add(20*time.Minute))
	assert.Equal(t, 2, h.driver.count(), "no second health refresh the same day")
	assert.Equal(t, "2026-03-04", l.lastHealthDay)
}

func TestLoopDoesNotCatchUpMissedHealthRefresh(t *testing.T) {
	h := newHarness(t, &textGen{}, PolicyPush)
	l := newTestLoop(t, h, "03:00")
	l.now = func() time.Time { return wed0915 }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	// the immediate first tick runs the slot cycle only
	require.Eventually(t, func() bool { return h.driver.count() == 1 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	assert.Equal(t, 1, h.driver.count())
	assert.Equal(t, "2026-03-04", l.lastHealthDay)
}

func TestNewLoopRejectsBadRefreshTime(t *testing.T) {
	h := newHarness(t, &textGen{}, PolicyPush)
	_, err := NewLoop(h.orch, LoopConfig{HealthRefreshAt: "noon"}, zerolog.Nop())
	assert.Error(t, err)
}
