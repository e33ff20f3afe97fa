// Package content turns schedule targets into concrete plugin invocations and
// manages the instance and playlist catalog.
package content

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/Nixie-Tech-LLC/inkframe/internal/db"
	"github.com/Nixie-Tech-LLC/inkframe/internal/model"
	"github.com/Nixie-Tech-LLC/inkframe/internal/playlist"
	"github.com/Nixie-Tech-LLC/inkframe/internal/schedule"
)

// Store is the configuration the source reads.
type Store interface {
	LoadInstance(ctx context.Context, id string) (model.PluginInstance, error)
	LoadPlaylist(ctx context.Context, id string) (model.Playlist, error)
}

// Materialized is a resolved target ready for the pipeline.
type Materialized struct {
	Target     model.ContentTarget
	PluginID   string
	InstanceID string
	PlaylistID string
	Settings   model.Settings
}

type Source struct {
	store    Store
	resolver *playlist.Resolver
	logger   zerolog.Logger
}

func NewSource(store Store, resolver *playlist.Resolver, logger zerolog.Logger) *Source {
	return &Source{
		store:    store,
		resolver: resolver,
		logger:   logger.With().Str("component", "content").Logger(),
	}
}

// Materialize resolves target to the plugin instance to render at now,
// advancing playlists. Missing or disabled content yields false with no error;
// errors are store failures.
func (s *Source) Materialize(ctx context.Context, target model.ContentTarget, now time.Time) (Materialized, bool, error) {
	return s.materialize(ctx, target, now, true)
}

// Peek is Materialize without moving any playlist cursor.
func (s *Source) Peek(ctx context.Context, target model.ContentTarget, now time.Time) (Materialized, bool, error) {
	return s.materialize(ctx, target, now, false)
}

func (s *Source) materialize(ctx context.Context, target model.ContentTarget, now time.Time, advance bool) (Materialized, bool, error) {
	switch target.Type {
	case model.TargetInstance:
		inst, ok, err := s.enabledInstance(ctx, target.ID)
		if err != nil || !ok {
			return Materialized{}, false, err
		}
		return Materialized{
			Target:     target,
			PluginID:   inst.PluginID,
			InstanceID: inst.ID,
			Settings:   inst.Settings.Clone(),
		}, true, nil

	case model.TargetPlaylist:
		p, err := s.store.LoadPlaylist(ctx, target.ID)
		if errors.Is(err, db.ErrNotFound) {
			s.logger.Warn().Str("playlist_id", target.ID).Msg("scheduled playlist does not exist")
			return Materialized{}, false, nil
		}
		if err != nil {
			return Materialized{}, false, fmt.Errorf("load playlist %s: %w", target.ID, err)
		}
		if !p.Enabled {
			s.logger.Warn().Str("playlist_id", p.ID).Msg("scheduled playlist is disabled")
			return Materialized{}, false, nil
		}

		var (
			item model.PlaylistItem
			ok   bool
		)
		if advance {
			item, ok, err = s.resolver.Advance(ctx, &p, now)
			if err != nil {
				return Materialized{}, false, err
			}
		} else {
			item, ok = s.resolver.Peek(p, now)
		}
		if !ok {
			return Materialized{}, false, nil
		}

		inst, ok, err := s.enabledInstance(ctx, item.InstanceID)
		if err != nil || !ok {
			return Materialized{}, false, err
		}
		return Materialized{
			Target:     target,
			PluginID:   inst.PluginID,
			InstanceID: inst.ID,
			PlaylistID: p.ID,
			Settings:   inst.Settings.Clone(),
		}, true, nil
	}

	s.logger.Warn().Str("target", target.String()).Msg("unknown target type")
	return Materialized{}, false, nil
}

func (s *Source) enabledInstance(ctx context.Context, id string) (model.PluginInstance, bool, error) {
	inst, err := s.store.LoadInstance(ctx, id)
	if errors.Is(err, db.ErrNotFound) {
		s.logger.Warn().Str("instance_id", id).Msg("scheduled instance does not exist")
		return model.PluginInstance{}, false, nil
	}
	if err != nil {
		return model.PluginInstance{}, false, fmt.Errorf("load instance %s: %w", id, err)
	}
	if !inst.Enabled {
		s.logger.Warn().Str("instance_id", id).Msg("scheduled instance is disabled")
		return model.PluginInstance{}, false, nil
	}
	return inst, true, nil
}

// ValidateTarget reports whether target may be assigned to the grid: it must
// exist and be enabled, and a playlist's items must all resolve.
func (s *Source) ValidateTarget(ctx context.Context, target model.ContentTarget) error {
	switch target.Type {
	case model.TargetInstance:
		return s.validateInstance(ctx, target, target.ID)

	case model.TargetPlaylist:
		p, err := s.store.LoadPlaylist(ctx, target.ID)
		if errors.Is(err, db.ErrNotFound) {
			return &schedule.InvalidTargetError{Target: target, Reason: "playlist does not exist"}
		}
		if err != nil {
			return err
		}
		if !p.Enabled {
			return &schedule.InvalidTargetError{Target: target, Reason: "playlist is disabled"}
		}
		for _, it := range p.Items {
			if err := s.validateInstance(ctx, target, it.InstanceID); err != nil {
				return err
			}
		}
		return nil
	}
	return &schedule.InvalidTargetError{Target: target, Reason: "unknown target type"}
}

func (s *Source) validateInstance(ctx context.Context, target model.ContentTarget, id string) error {
	inst, err := s.store.LoadInstance(ctx, id)
	if errors.Is(err, db.ErrNotFound) {
		return &schedule.InvalidTargetError{Target: target, Reason: fmt.Sprintf("instance %s does not exist", id)}
	}
	if err != nil {
		return err
	}
	if !inst.Enabled {
		return &schedule.InvalidTargetError{Target: target, Reason: fmt.Sprintf("instance %s is disabled", id)}
	}
	return nil
}
