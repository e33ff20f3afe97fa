package model

import "time"

// DisplayStatus is the state of the display state machine.
type DisplayStatus string

const (
	DisplayIdle       DisplayStatus = "idle"
	DisplayGenerating DisplayStatus = "generating"
	DisplayPushing    DisplayStatus = "pushing"
	DisplayReady      DisplayStatus = "ready"
	DisplayError      DisplayStatus = "error"
)

// DisplayState is the persisted view of the physical panel.
type DisplayState struct {
	CurrentImageID    string        `db:"current_image_id"   json:"current_image_id"`
	LastRefresh       *time.Time    `db:"last_refresh"       json:"last_refresh,omitempty"`
	RefreshCount      int64         `db:"refresh_count"      json:"refresh_count"`
	ErrorCount        int64         `db:"error_count"        json:"error_count"`
	ConsecutiveErrors int           `db:"consecutive_errors" json:"consecutive_errors"`
	Status            DisplayStatus `db:"status"             json:"status"`
	UpdatedAt         time.Time     `db:"updated_at"         json:"updated_at"`
}

// DisplayHealth is the dashboard view of DisplayState.
type DisplayHealth struct {
	RefreshCount      int64         `json:"refresh_count"`
	LastRefresh       *time.Time    `json:"last_refresh,omitempty"`
	Status            DisplayStatus `json:"status"`
	ErrorCount        int64         `json:"error_count"`
	ConsecutiveErrors int           `json:"consecutive_errors"`
	CurrentImageID    string        `json:"current_image_id"`
}

// ContentDescriptor describes what would be rendered at a point in time.
type ContentDescriptor struct {
	At         time.Time      `json:"at"`
	SlotKey    string         `json:"slot_key"`
	Target     *ContentTarget `json:"target,omitempty"`
	PluginID   string         `json:"plugin_id,omitempty"`
	InstanceID string         `json:"instance_id,omitempty"`
	PlaylistID string         `json:"playlist_id,omitempty"`
	Settings   Settings       `json:"settings,omitempty"`
}
