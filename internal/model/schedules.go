package model

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	DaysPerWeek  = 7
	HoursPerDay  = 24
	SlotsPerWeek = DaysPerWeek * HoursPerDay
)

// ScheduleSlot maps one (day, hour) cell of the weekly grid to a target.
// Day 0 is the configured week start.
type ScheduleSlot struct {
	Day    int           `db:"day"  json:"day"`
	Hour   int           `db:"hour" json:"hour"`
	Target ContentTarget `db:"-"    json:"target"`
}

// Key returns the persisted slot key.
func (s ScheduleSlot) Key() string {
	return SlotKey(s.Day, s.Hour)
}

// ValidSlot reports whether day and hour are inside the weekly grid.
func ValidSlot(day, hour int) bool {
	return day >= 0 && day < DaysPerWeek && hour >= 0 && hour < HoursPerDay
}

// SlotKey formats the persisted key "{day}-{hour}".
func SlotKey(day, hour int) string {
	return fmt.Sprintf("%d-%d", day, hour)
}

// ParseSlotKey is the inverse of SlotKey.
func ParseSlotKey(key string) (day, hour int, err error) {
	d, h, ok := strings.Cut(key, "-")
	if !ok {
		return 0, 0, fmt.Errorf("slot key %q: missing separator", key)
	}
	if day, err = strconv.Atoi(d); err != nil {
		return 0, 0, fmt.Errorf("slot key %q: day: %w", key, err)
	}
	if hour, err = strconv.Atoi(h); err != nil {
		return 0, 0, fmt.Errorf("slot key %q: hour: %w", key, err)
	}
	if !ValidSlot(day, hour) {
		return 0, 0, fmt.Errorf("slot key %q: out of range", key)
	}
	return day, hour, nil
}

// ScheduleGrid is the persisted form of the weekly grid.
type ScheduleGrid struct {
	Slots   []ScheduleSlot `json:"slots"`
	Default *ContentTarget `json:"default,omitempty"`
}
