package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

type LoopConfig struct {
	// Interval is how often the loop looks at the clock.
	Interval time.Duration
	// HealthRefreshAt is the daily forced refresh time, "HH:MM" local.
	HealthRefreshAt string
	Location        *time.Location
}

// Loop drives the orchestrator from the wall clock: a slot cycle whenever the
// hour changes and one health cycle per day.
type Loop struct {
	orch     *Orchestrator
	interval time.Duration
	refresh  time.Duration // offset from local midnight
	loc      *time.Location
	logger   zerolog.Logger
	now      func() time.Time

	lastHealthDay string
}

// ParseClock parses "HH:MM" into an offset from midnight.
func ParseClock(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid time of day %q: want HH:MM", s)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

func NewLoop(orch *Orchestrator, cfg LoopConfig, logger zerolog.Logger) (*Loop, error) {
	refresh, err := ParseClock(cfg.HealthRefreshAt)
	if err != nil {
		return nil, err
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	return &Loop{
		orch:     orch,
		interval: cfg.Interval,
		refresh:  refresh,
		loc:      cfg.Location,
		logger:   logger.With().Str("component", "loop").Logger(),
		now:      time.Now,
	}, nil
}

// Run ticks until ctx is cancelled. The first tick happens immediately so a
// fresh start shows the current slot. A health refresh whose time already
// passed today is not caught up.
func (l *Loop) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	now := l.now().In(l.loc)
	if !now.Before(l.refreshTime(now)) {
		l.lastHealthDay = dayKey(now)
	}

	l.logger.Info().Dur("interval", l.interval).Msg("orchestration loop started")
	l.tick(ctx, now)
	for {
		select {
		case <-ctx.Done():
			l.logger.Info().Msg("orchestration loop stopped")
			return ctx.Err()
		case <-ticker.C:
			l.tick(ctx, l.now().In(l.loc))
		}
	}
}

func (l *Loop) tick(ctx context.Context, now time.Time) {
	if res, ran := l.orch.RunSlot(ctx, now); ran && res.Err != nil {
		l.logger.Debug().Err(res.Err).Msg("slot cycle did not complete")
	}
	if l.healthDue(now) {
		l.lastHealthDay = dayKey(now)
		l.orch.RunHealth(ctx, now)
	}
}

func (l *Loop) healthDue(now time.Time) bool {
	return dayKey(now) != l.lastHealthDay && !now.Before(l.refreshTime(now))
}

func (l *Loop) refreshTime(now time.Time) time.Time {
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, l.loc)
	return midnight.Add(l.refresh)
}

func dayKey(t time.Time) string {
	return t.Format("2006-01-02")
}
