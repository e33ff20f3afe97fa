package db

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/Nixie-Tech-LLC/inkframe/internal/model"
)

const instanceColumns = `id, plugin_id, settings, enabled, created_at, updated_at`

func (s *sqlStore) LoadInstance(ctx context.Context, id string) (model.PluginInstance, error) {
	var inst model.PluginInstance
	err := s.db.GetContext(ctx, &inst, s.q(`SELECT `+instanceColumns+` FROM plugin_instances WHERE id = ?;`), id)
	if err != nil {
		err = notFound(err)
		if err != ErrNotFound {
			log.Error().Err(err).Str("instance_id", id).Msg("LoadInstance failed")
		}
		return model.PluginInstance{}, err
	}
	return inst, nil
}

func (s *sqlStore) ListInstances(ctx context.Context) ([]model.PluginInstance, error) {
	var out []model.PluginInstance
	if err := s.db.SelectContext(ctx, &out, `SELECT `+instanceColumns+` FROM plugin_instances ORDER BY id;`); err != nil {
		log.Error().Err(err).Msg("ListInstances failed")
		return nil, err
	}
	return out, nil
}

// SaveInstance inserts or updates an instance. CreatedAt is kept on update.
func (s *sqlStore) SaveInstance(ctx context.Context, inst model.PluginInstance) (model.PluginInstance, error) {
	now := s.now().UTC()
	if inst.CreatedAt.IsZero() {
		inst.CreatedAt = now
	}
	inst.UpdatedAt = now
	if inst.Settings == nil {
		inst.Settings = model.Settings{}
	}

	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO plugin_instances (id, plugin_id, settings, enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE
		   SET plugin_id  = excluded.plugin_id,
		       settings   = excluded.settings,
		       enabled    = excluded.enabled,
		       updated_at = excluded.updated_at;`),
		inst.ID, inst.PluginID, inst.Settings, inst.Enabled, inst.CreatedAt, inst.UpdatedAt,
	)
	if err != nil {
		log.Error().Err(err).Str("instance_id", inst.ID).Msg("SaveInstance failed")
		return model.PluginInstance{}, err
	}
	return s.LoadInstance(ctx, inst.ID)
}
