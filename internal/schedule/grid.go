// Package schedule holds the weekly day-by-hour grid that decides which
// content target is active at a given time.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Nixie-Tech-LLC/inkframe/internal/model"
)

// ErrInvalidSlot is returned for coordinates outside the 7x24 grid.
var ErrInvalidSlot = errors.New("slot out of range")

// InvalidTargetError is returned when a slot or default points at content
// that does not exist or is disabled.
type InvalidTargetError struct {
	Target model.ContentTarget
	Reason string
}

func (e *InvalidTargetError) Error() string {
	return fmt.Sprintf("invalid target %s: %s", e.Target, e.Reason)
}

// TargetValidator checks that a target exists and is enabled.
type TargetValidator interface {
	ValidateTarget(ctx context.Context, target model.ContentTarget) error
}

// Store is the persistence the grid writes through to.
type Store interface {
	LoadScheduleGrid(ctx context.Context) (model.ScheduleGrid, error)
	SaveSlot(ctx context.Context, slot model.ScheduleSlot) error
	DeleteSlot(ctx context.Context, day, hour int) error
	SaveDefaultTarget(ctx context.Context, target *model.ContentTarget) error
}

type slotKey struct{ day, hour int }

// Grid is the in-memory weekly schedule. Reads are lock-free of the store;
// writes persist first and then update memory.
type Grid struct {
	mu        sync.RWMutex
	slots     map[slotKey]model.ContentTarget
	def       *model.ContentTarget
	store     Store
	validator TargetValidator
	weekStart time.Weekday
}

func NewGrid(store Store, validator TargetValidator, weekStart time.Weekday) *Grid {
	return &Grid{
		slots:     make(map[slotKey]model.ContentTarget),
		store:     store,
		validator: validator,
		weekStart: weekStart,
	}
}

// Load replaces the in-memory grid with the persisted one.
func (g *Grid) Load(ctx context.Context) error {
	persisted, err := g.store.LoadScheduleGrid(ctx)
	if err != nil {
		return fmt.Errorf("load schedule grid: %w", err)
	}

	slots := make(map[slotKey]model.ContentTarget, len(persisted.Slots))
	for _, s := range persisted.Slots {
		if !model.ValidSlot(s.Day, s.Hour) {
			continue
		}
		slots[slotKey{s.Day, s.Hour}] = s.Target
	}

	g.mu.Lock()
	g.slots = slots
	g.def = persisted.Default
	g.mu.Unlock()
	return nil
}

// Coordinates returns the grid cell containing now. now must already be in
// the display's time zone.
func (g *Grid) Coordinates(now time.Time) (day, hour int) {
	day = (int(now.Weekday()) - int(g.weekStart) + model.DaysPerWeek) % model.DaysPerWeek
	return day, now.Hour()
}

// Resolve returns the target for now: the slot's target, else the default.
// It has no side effects.
func (g *Grid) Resolve(now time.Time) (model.ContentTarget, bool) {
	day, hour := g.Coordinates(now)

	g.mu.RLock()
	defer g.mu.RUnlock()
	if t, ok := g.slots[slotKey{day, hour}]; ok {
		return t, true
	}
	if g.def != nil {
		return *g.def, true
	}
	return model.ContentTarget{}, false
}

// SetSlot assigns target to (day, hour).
func (g *Grid) SetSlot(ctx context.Context, day, hour int, target model.ContentTarget) error {
	if !model.ValidSlot(day, hour) {
		return fmt.Errorf("%w: %d-%d", ErrInvalidSlot, day, hour)
	}
	if err := g.validate(ctx, target); err != nil {
		return err
	}
	if err := g.store.SaveSlot(ctx, model.ScheduleSlot{Day: day, Hour: hour, Target: target}); err != nil {
		return fmt.Errorf("save slot %s: %w", model.SlotKey(day, hour), err)
	}

	g.mu.Lock()
	g.slots[slotKey{day, hour}] = target
	g.mu.Unlock()
	return nil
}

// ClearSlot removes the assignment at (day, hour). Clearing an empty slot is
// not an error.
func (g *Grid) ClearSlot(ctx context.Context, day, hour int) error {
	if !model.ValidSlot(day, hour) {
		return fmt.Errorf("%w: %d-%d", ErrInvalidSlot, day, hour)
	}
	if err := g.store.DeleteSlot(ctx, day, hour); err != nil {
		return fmt.Errorf("delete slot %s: %w", model.SlotKey(day, hour), err)
	}

	g.mu.Lock()
	delete(g.slots, slotKey{day, hour})
	g.mu.Unlock()
	return nil
}

// SetDefault sets the fallback target used by empty slots; nil clears it.
func (g *Grid) SetDefault(ctx context.Context, target *model.ContentTarget) error {
	if target != nil {
		if err := g.validate(ctx, *target); err != nil {
			return err
		}
	}
	if err := g.store.SaveDefaultTarget(ctx, target); err != nil {
		return fmt.Errorf("save default target: %w", err)
	}

	g.mu.Lock()
	if target == nil {
		g.def = nil
	} else {
		t := *target
		g.def = &t
	}
	g.mu.Unlock()
	return nil
}

// Snapshot returns a copy of the grid ordered by day then hour.
func (g *Grid) Snapshot() model.ScheduleGrid {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := model.ScheduleGrid{Slots: make([]model.ScheduleSlot, 0, len(g.slots))}
	for k, t := range g.slots {
		out.Slots = append(out.Slots, model.ScheduleSlot{Day: k.day, Hour: k.hour, Target: t})
	}
	sort.Slice(out.Slots, func(i, j int) bool {
		if out.Slots[i].Day != out.Slots[j].Day {
			return out.Slots[i].Day < out.Slots[j].Day
		}
		return out.Slots[i].Hour < out.Slots[j].Hour
	})
	if g.def != nil {
		d := *g.def
		out.Default = &d
	}
	return out
}

func (g *Grid) validate(ctx context.Context, target model.ContentTarget) error {
	if !target.Type.Valid() {
		return &InvalidTargetError{Target: target, Reason: "unknown target type"}
	}
	if target.ID == "" {
		return &InvalidTargetError{Target: target, Reason: "missing target id"}
	}
	if g.validator == nil {
		return nil
	}
	return g.validator.ValidateTarget(ctx, target)
}

// ParseWeekday maps an English day name to a time.Weekday.
func ParseWeekday(name string) (time.Weekday, error) {
	for d := time.Sunday; d <= time.Saturday; d++ {
		if strings.EqualFold(d.String(), name) || strings.EqualFold(d.String()[:3], name) {
			return d, nil
		}
	}
	return 0, fmt.Errorf("unknown weekday %q", name)
}
