package model

import "time"

// ImageArtifact is a rendered frame ready to be pushed to the display.
type ImageArtifact struct {
	ID          string    `json:"id"`
	Fingerprint string    `json:"fingerprint"`
	PluginID    string    `json:"plugin_id"`
	InstanceID  string    `json:"instance_id"`
	ContentType string    `json:"content_type"`
	Data        []byte    `json:"data"`
	Ref         string    `json:"ref,omitempty"`
	IsError     bool      `json:"is_error"`
	Reason      string    `json:"reason,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// CacheEntry holds one artifact keyed by its fingerprint. A zero TTL never expires.
type CacheEntry struct {
	Fingerprint string        `json:"fingerprint"`
	Artifact    ImageArtifact `json:"artifact"`
	CreatedAt   time.Time     `json:"created_at"`
	TTL         time.Duration `json:"ttl"`
}

// Expired reports whether the entry is stale at now.
func (e CacheEntry) Expired(now time.Time) bool {
	if e.TTL <= 0 {
		return false
	}
	return !now.Before(e.CreatedAt.Add(e.TTL))
}
