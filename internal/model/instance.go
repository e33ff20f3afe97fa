package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Settings is the free-form key/value configuration of a plugin instance.
// It is stored as a JSON document.
type Settings map[string]any

// Value implements driver.Valuer.
func (s Settings) Value() (driver.Value, error) {
	if s == nil {
		return "{}", nil
	}
	b, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (s *Settings) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*s = Settings{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("settings: unsupported source type %T", src)
	}
	out := Settings{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			return fmt.Errorf("settings: %w", err)
		}
	}
	*s = out
	return nil
}

// Clone returns a shallow copy.
func (s Settings) Clone() Settings {
	out := make(Settings, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// PluginInstance is a configured use of a content generator.
type PluginInstance struct {
	ID        string    `db:"id"         json:"id"`
	PluginID  string    `db:"plugin_id"  json:"plugin_id"`
	Settings  Settings  `db:"settings"   json:"settings"`
	Enabled   bool      `db:"enabled"    json:"enabled"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}
