package content

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/Nixie-Tech-LLC/inkframe/internal/db"
	"github.com/Nixie-Tech-LLC/inkframe/internal/model"
	"github.com/Nixie-Tech-LLC/inkframe/internal/plugin"
	"github.com/Nixie-Tech-LLC/inkframe/internal/schedule"
)

// CatalogStore is the configuration the catalog edits.
type CatalogStore interface {
	LoadInstance(ctx context.Context, id string) (model.PluginInstance, error)
	ListInstances(ctx context.Context) ([]model.PluginInstance, error)
	SaveInstance(ctx context.Context, inst model.PluginInstance) (model.PluginInstance, error)
	LoadPlaylist(ctx context.Context, id string) (model.Playlist, error)
	ListPlaylists(ctx context.Context) ([]model.Playlist, error)
	SavePlaylist(ctx context.Context, p model.Playlist) (model.Playlist, error)
}

// Invalidator drops cached renders of an instance after it is edited.
type Invalidator interface {
	InvalidateInstance(instanceID string) int
}

// Catalog validates and stores plugin instances and playlists.
type Catalog struct {
	store       CatalogStore
	registry    *plugin.Registry
	invalidator Invalidator
	logger      zerolog.Logger
}

func NewCatalog(store CatalogStore, registry *plugin.Registry, invalidator Invalidator, logger zerolog.Logger) *Catalog {
	return &Catalog{
		store:       store,
		registry:    registry,
		invalidator: invalidator,
		logger:      logger.With().Str("component", "catalog").Logger(),
	}
}

func (c *Catalog) Instance(ctx context.Context, id string) (model.PluginInstance, error) {
	return c.store.LoadInstance(ctx, id)
}

func (c *Catalog) Instances(ctx context.Context) ([]model.PluginInstance, error) {
	return c.store.ListInstances(ctx)
}

func (c *Catalog) Playlist(ctx context.Context, id string) (model.Playlist, error) {
	return c.store.LoadPlaylist(ctx, id)
}

func (c *Catalog) Playlists(ctx context.Context) ([]model.Playlist, error) {
	return c.store.ListPlaylists(ctx)
}

// SaveInstance validates the settings against the plugin and stores the
// instance. Lifecycle hooks run when the enabled flag flips.
func (c *Catalog) SaveInstance(ctx context.Context, inst model.PluginInstance) (model.PluginInstance, error) {
	inst.ID = strings.TrimSpace(inst.ID)
	if inst.ID == "" {
		return model.PluginInstance{}, &plugin.ValidationError{PluginID: inst.PluginID, Err: errors.New("instance id is required")}
	}

	p, err := c.registry.Lookup(inst.PluginID)
	if err != nil {
		return model.PluginInstance{}, &plugin.ValidationError{PluginID: inst.PluginID, Err: err}
	}
	if inst.Settings == nil {
		inst.Settings = model.Settings{}
	}
	if err := p.Validate(inst.Settings); err != nil {
		return model.PluginInstance{}, err
	}

	prev, err := c.store.LoadInstance(ctx, inst.ID)
	existed := err == nil
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		return model.PluginInstance{}, err
	}
	if existed {
		inst.CreatedAt = prev.CreatedAt
	}

	saved, err := c.store.SaveInstance(ctx, inst)
	if err != nil {
		return model.PluginInstance{}, fmt.Errorf("save instance %s: %w", inst.ID, err)
	}

	switch {
	case saved.Enabled && (!existed || !prev.Enabled):
		if err := p.Enable(ctx, saved); err != nil {
			c.logger.Warn().Err(err).Str("instance_id", saved.ID).Msg("OnEnable hook failed")
		}
	case !saved.Enabled && existed && prev.Enabled:
		if err := p.Disable(ctx, saved); err != nil {
			c.logger.Warn().Err(err).Str("instance_id", saved.ID).Msg("OnDisable hook failed")
		}
	}

	if existed && c.invalidator != nil {
		n := c.invalidator.InvalidateInstance(saved.ID)
		c.logger.Debug().Str("instance_id", saved.ID).Int("evicted", n).Msg("instance cache invalidated")
	}
	return saved, nil
}

// SavePlaylist validates policy and item references and stores the playlist.
// Saving resets the rotation cursor.
func (c *Catalog) SavePlaylist(ctx context.Context, p model.Playlist) (model.Playlist, error) {
	target := model.ContentTarget{Type: model.TargetPlaylist, ID: p.ID}
	if strings.TrimSpace(p.ID) == "" {
		return model.Playlist{}, &schedule.InvalidTargetError{Target: target, Reason: "playlist id is required"}
	}
	if p.Policy == "" {
		p.Policy = model.RotationSequential
	}
	if !p.Policy.Valid() {
		return model.Playlist{}, &schedule.InvalidTargetError{Target: target, Reason: fmt.Sprintf("unknown rotation policy %q", p.Policy)}
	}
	if p.DwellSeconds < 0 {
		return model.Playlist{}, &schedule.InvalidTargetError{Target: target, Reason: "dwell must not be negative"}
	}
	if p.Name == "" {
		p.Name = p.ID
	}

	for _, it := range p.Items {
		_, err := c.store.LoadInstance(ctx, it.InstanceID)
		if errors.Is(err, db.ErrNotFound) {
			return model.Playlist{}, &schedule.InvalidTargetError{
				Target: model.ContentTarget{Type: model.TargetInstance, ID: it.InstanceID},
				Reason: "playlist item references an unknown instance",
			}
		}
		if err != nil {
			return model.Playlist{}, err
		}
	}

	if prev, err := c.store.LoadPlaylist(ctx, p.ID); err == nil {
		p.CreatedAt = prev.CreatedAt
	}

	saved, err := c.store.SavePlaylist(ctx, p)
	if err != nil {
		return model.Playlist{}, fmt.Errorf("save playlist %s: %w", p.ID, err)
	}
	return saved, nil
}
