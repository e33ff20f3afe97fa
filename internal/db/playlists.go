package db

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Nixie-Tech-LLC/inkframe/internal/model"
)

type playlistRow struct {
	ID           string     `db:"id"`
	Name         string     `db:"name"`
	Policy       string     `db:"policy"`
	DwellSeconds int        `db:"dwell_seconds"`
	Enabled      bool       `db:"enabled"`
	CursorPos    int        `db:"cursor_pos"`
	LastPick     int        `db:"last_pick"`
	LastAdvance  *time.Time `db:"last_advance"`
	CreatedAt    time.Time  `db:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at"`
}

func (r playlistRow) toModel() model.Playlist {
	return model.Playlist{
		ID:           r.ID,
		Name:         r.Name,
		Policy:       model.RotationPolicy(r.Policy),
		DwellSeconds: r.DwellSeconds,
		Enabled:      r.Enabled,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
		Cursor: model.PlaylistCursor{
			Position:    r.CursorPos,
			LastPick:    r.LastPick,
			LastAdvance: r.LastAdvance,
		},
	}
}

const playlistColumns = `id, name, policy, dwell_seconds, enabled, cursor_pos, last_pick, last_advance, created_at, updated_at`

func (s *sqlStore) LoadPlaylist(ctx context.Context, id string) (model.Playlist, error) {
	var row playlistRow
	if err := s.db.GetContext(ctx, &row, s.q(`SELECT `+playlistColumns+` FROM playlists WHERE id = ?;`), id); err != nil {
		err = notFound(err)
		if err != ErrNotFound {
			log.Error().Err(err).Str("playlist_id", id).Msg("LoadPlaylist failed")
		}
		return model.Playlist{}, err
	}

	p := row.toModel()
	items, err := s.listPlaylistItems(ctx, id)
	if err != nil {
		return model.Playlist{}, err
	}
	p.Items = items
	return p, nil
}

func (s *sqlStore) ListPlaylists(ctx context.Context) ([]model.Playlist, error) {
	var rows []playlistRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT `+playlistColumns+` FROM playlists ORDER BY id;`); err != nil {
		log.Error().Err(err).Msg("ListPlaylists failed")
		return nil, err
	}

	out := make([]model.Playlist, 0, len(rows))
	for _, r := range rows {
		p := r.toModel()
		items, err := s.listPlaylistItems(ctx, r.ID)
		if err != nil {
			log.Error().Err(err).Msgf("ListPlaylists: failed to load items for playlist %s", r.ID)
			return nil, err
		}
		p.Items = items
		out = append(out, p)
	}
	return out, nil
}

func (s *sqlStore) listPlaylistItems(ctx context.Context, playlistID string) ([]model.PlaylistItem, error) {
	var list []model.PlaylistItem
	const query = `
	SELECT playlist_id, position, instance_id
	  FROM playlist_items
	 WHERE playlist_id = ?
	 ORDER BY position;`
	if err := s.db.SelectContext(ctx, &list, s.q(query), playlistID); err != nil {
		log.Error().Err(err).Str("playlist_id", playlistID).Msg("Failed to list playlist items")
		return nil, err
	}
	return list, nil
}

// SavePlaylist upserts the playlist and replaces its items in one transaction.
// The rotation cursor is reset whenever the item list is replaced.
func (s *sqlStore) SavePlaylist(ctx context.Context, p model.Playlist) (_ model.Playlist, err error) {
	now := s.now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return model.Playlist{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()

	if _, err = tx.ExecContext(ctx, tx.Rebind(`
		INSERT INTO playlists (id, name, policy, dwell_seconds, enabled, cursor_pos, last_pick, last_advance, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 0, -1, NULL, ?, ?)
		ON CONFLICT (id) DO UPDATE
		   SET name          = excluded.name,
		       policy        = excluded.policy,
		       dwell_seconds = excluded.dwell_seconds,
		       enabled       = excluded.enabled,
		       cursor_pos    = 0,
		       last_pick     = -1,
		       last_advance  = NULL,
		       updated_at    = excluded.updated_at;`),
		p.ID, p.Name, string(p.Policy), p.DwellSeconds, p.Enabled, p.CreatedAt, p.UpdatedAt,
	); err != nil {
		log.Error().Err(err).Str("playlist_id", p.ID).Msg("SavePlaylist: upsert failed")
		return model.Playlist{}, err
	}

	if _, err = tx.ExecContext(ctx, tx.Rebind(`DELETE FROM playlist_items WHERE playlist_id = ?;`), p.ID); err != nil {
		return model.Playlist{}, err
	}
	for idx, it := range p.Items {
		if _, err = tx.ExecContext(ctx, tx.Rebind(`
			INSERT INTO playlist_items (playlist_id, position, instance_id)
			VALUES (?, ?, ?);`),
			p.ID, idx, it.InstanceID,
		); err != nil {
			log.Error().Err(err).Str("playlist_id", p.ID).Int("position", idx).Msg("SavePlaylist: item insert failed")
			return model.Playlist{}, err
		}
		p.Items[idx].PlaylistID = p.ID
		p.Items[idx].Position = idx
	}

	p.Cursor = model.PlaylistCursor{Position: 0, LastPick: -1}
	return p, nil
}

func (s *sqlStore) SavePlaylistCursor(ctx context.Context, playlistID string, cursor model.PlaylistCursor) error {
	res, err := s.db.ExecContext(ctx, s.q(`
		UPDATE playlists
		   SET cursor_pos   = ?,
		       last_pick    = ?,
		       last_advance = ?
		 WHERE id = ?;`),
		cursor.Position, cursor.LastPick, cursor.LastAdvance, playlistID,
	)
	if err != nil {
		log.Error().Err(err).Str("playlist_id", playlistID).Msg("SavePlaylistCursor failed")
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
