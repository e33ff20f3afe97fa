package model

import "fmt"

// TargetType identifies what a schedule slot or the default target points at.
type TargetType string

const (
	TargetInstance TargetType = "instance"
	TargetPlaylist TargetType = "playlist"
)

// Valid reports whether t is one of the known target kinds.
func (t TargetType) Valid() bool {
	return t == TargetInstance || t == TargetPlaylist
}

// ContentTarget is a reference to either a plugin instance or a playlist.
type ContentTarget struct {
	Type TargetType `db:"target_type" json:"type"`
	ID   string     `db:"target_id"   json:"id"`
}

func (t ContentTarget) String() string {
	return fmt.Sprintf("%s:%s", t.Type, t.ID)
}
