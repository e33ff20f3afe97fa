// exposes a Store interface that the core and the API depend on
package db

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/Nixie-Tech-LLC/inkframe/internal/model"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

type Store interface {
	// schedule grid
	LoadScheduleGrid(ctx context.Context) (model.ScheduleGrid, error)
	SaveSlot(ctx context.Context, slot model.ScheduleSlot) error
	DeleteSlot(ctx context.Context, day, hour int) error
	SaveDefaultTarget(ctx context.Context, target *model.ContentTarget) error

	// plugin instances
	LoadInstance(ctx context.Context, id string) (model.PluginInstance, error)
	ListInstances(ctx context.Context) ([]model.PluginInstance, error)
	SaveInstance(ctx context.Context, inst model.PluginInstance) (model.PluginInstance, error)

	// playlists
	LoadPlaylist(ctx context.Context, id string) (model.Playlist, error)
	ListPlaylists(ctx context.Context) ([]model.Playlist, error)
	SavePlaylist(ctx context.Context, p model.Playlist) (model.Playlist, error)
	SavePlaylistCursor(ctx context.Context, playlistID string, cursor model.PlaylistCursor) error

	// display state
	LoadDisplayState(ctx context.Context) (model.DisplayState, error)
	PersistDisplayState(ctx context.Context, state model.DisplayState) error

	Close() error
}

type sqlStore struct {
	db  *sqlx.DB
	now func() time.Time
}

// compile-time check that sqlStore implements Store
var _ Store = (*sqlStore)(nil)

func NewStore(conn *sqlx.DB) Store {
	return &sqlStore{db: conn, now: time.Now}
}

func (s *sqlStore) Close() error {
	return s.db.Close()
}

// q rebinds a query written with "?" placeholders for the active driver.
func (s *sqlStore) q(query string) string {
	return s.db.Rebind(query)
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
