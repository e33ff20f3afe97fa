package model

import "time"

// RotationPolicy controls how a playlist picks its current item.
type RotationPolicy string

const (
	RotationSequential RotationPolicy = "sequential"
	RotationRandom     RotationPolicy = "random"
	RotationTimeBased  RotationPolicy = "time-based"
)

// Valid reports whether p is a known policy.
func (p RotationPolicy) Valid() bool {
	switch p {
	case RotationSequential, RotationRandom, RotationTimeBased:
		return true
	}
	return false
}

type Playlist struct {
	ID           string         `db:"id"            json:"id"`
	Name         string         `db:"name"          json:"name"`
	Policy       RotationPolicy `db:"policy"        json:"policy"`
	DwellSeconds int            `db:"dwell_seconds" json:"dwell_seconds"`
	Enabled      bool           `db:"enabled"       json:"enabled"`
	CreatedAt    time.Time      `db:"created_at"    json:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at"    json:"updated_at"`
	Cursor       PlaylistCursor `db:"-"             json:"cursor"`
	Items        []PlaylistItem `db:"-"             json:"items"`
}

// Dwell returns the configured dwell interval, or fallback when unset.
func (p Playlist) Dwell(fallback time.Duration) time.Duration {
	if p.DwellSeconds <= 0 {
		return fallback
	}
	return time.Duration(p.DwellSeconds) * time.Second
}

type PlaylistItem struct {
	PlaylistID string `db:"playlist_id" json:"playlist_id"`
	Position   int    `db:"position"    json:"position"`
	InstanceID string `db:"instance_id" json:"instance_id"`
}

// PlaylistCursor is the rotation state persisted between resolutions.
// LastPick is -1 until the first pick.
type PlaylistCursor struct {
	Position    int        `db:"cursor_pos"   json:"position"`
	LastPick    int        `db:"last_pick"    json:"last_pick"`
	LastAdvance *time.Time `db:"last_advance" json:"last_advance,omitempty"`
}
