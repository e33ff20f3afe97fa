// Package playlist picks the active item of a playlist according to its
// rotation policy.
package playlist

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog"

	"github.com/Nixie-Tech-LLC/inkframe/internal/model"
)

// CursorStore persists rotation state.
type CursorStore interface {
	SavePlaylistCursor(ctx context.Context, playlistID string, cursor model.PlaylistCursor) error
}

// Resolver advances playlists. Callers serialize Advance; the orchestrator
// only calls it under its lock.
type Resolver struct {
	store        CursorStore
	defaultDwell time.Duration
	logger       zerolog.Logger
	intn         func(n int) int
}

func NewResolver(store CursorStore, defaultDwell time.Duration, logger zerolog.Logger) *Resolver {
	if defaultDwell <= 0 {
		defaultDwell = time.Hour
	}
	return &Resolver{
		store:        store,
		defaultDwell: defaultDwell,
		logger:       logger.With().Str("component", "playlist").Logger(),
		intn:         rand.Intn,
	}
}

// Advance returns the item to show at now and persists the cursor when it
// moved. An empty playlist yields false.
func (r *Resolver) Advance(ctx context.Context, p *model.Playlist, now time.Time) (model.PlaylistItem, bool, error) {
	if len(p.Items) == 0 {
		r.logger.Warn().Str("playlist_id", p.ID).Msg("playlist has no items")
		return model.PlaylistItem{}, false, nil
	}

	idx, next, changed := r.decide(p, now, true)
	if changed {
		if err := r.store.SavePlaylistCursor(ctx, p.ID, next); err != nil {
			return model.PlaylistItem{}, false, fmt.Errorf("save cursor for playlist %s: %w", p.ID, err)
		}
		p.Cursor = next
	}

	r.logger.Debug().
		Str("playlist_id", p.ID).
		Str("policy", string(p.Policy)).
		Int("position", idx).
		Bool("advanced", changed).
		Msg("playlist resolved")
	return p.Items[idx], true, nil
}

// Peek returns the item Advance would most likely return, without touching
// the cursor. A random playlist due for a new pick reports its previous pick.
func (r *Resolver) Peek(p model.Playlist, now time.Time) (model.PlaylistItem, bool) {
	if len(p.Items) == 0 {
		return model.PlaylistItem{}, false
	}
	idx, _, _ := r.decide(&p, now, false)
	return p.Items[idx], true
}

// decide computes the index to show and the cursor to persist. With pick
// false no random draw is made.
func (r *Resolver) decide(p *model.Playlist, now time.Time, pick bool) (int, model.PlaylistCursor, bool) {
	n := len(p.Items)
	dwell := p.Dwell(r.defaultDwell)
	cur := p.Cursor
	due := cur.LastAdvance == nil || now.Sub(*cur.LastAdvance) > dwell

	switch p.Policy {
	case model.RotationTimeBased:
		secs := int64(dwell / time.Second)
		if secs <= 0 {
			secs = 1
		}
		bucket := now.Unix() / secs
		return int(((bucket % int64(n)) + int64(n)) % int64(n)), cur, false

	case model.RotationRandom:
		last := cur.LastPick
		if last < 0 || last >= n {
			last = -1
		}
		if !due && last >= 0 {
			return last, cur, false
		}
		if !pick {
			if last >= 0 {
				return last, cur, false
			}
			return 0, cur, false
		}
		idx := r.randomExcluding(n, last)
		t := now
		return idx, model.PlaylistCursor{Position: idx, LastPick: idx, LastAdvance: &t}, true

	default:
		pos := cur.Position
		if pos < 0 || pos >= n {
			pos = ((pos % n) + n) % n
		}
		if cur.LastAdvance == nil {
			t := now
			return pos, model.PlaylistCursor{Position: pos, LastPick: pos, LastAdvance: &t}, true
		}
		if !due {
			return pos, cur, false
		}
		pos = (pos + 1) % n
		t := now
		return pos, model.PlaylistCursor{Position: pos, LastPick: pos, LastAdvance: &t}, true
	}
}

func (r *Resolver) randomExcluding(n, exclude int) int {
	if n < 2 || exclude < 0 {
		return r.intn(n)
	}
	idx := r.intn(n - 1)
	if idx >= exclude {
		idx++
	}
	return idx
}
