package db_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Nixie-Tech-LLC/inkframe/internal/db"
	"github.com/Nixie-Tech-LLC/inkframe/internal/db/dbtest"
	"github.com/Nixie-Tech-LLC/inkframe/internal/model"
)

func TestStoreIntegration(t *testing.T) {
	ctx := context.Background()
	store := dbtest.NewTestStore(t)

	t.Run("Instance Management", func(t *testing.T) {
		inst, err := store.SaveInstance(ctx, model.PluginInstance{
			ID:       "clock-1",
			PluginID: "clock",
			Settings: model.Settings{"format": "24h", "size": float64(3)},
			Enabled:  true,
		})
		require.NoError(t, err)
		assert.Equal(t, "clock", inst.PluginID)
		assert.Equal(t, "24h", inst.Settings["format"])
		assert.False(t, inst.CreatedAt.IsZero())

		inst.Enabled = false
		updated, err := store.SaveInstance(ctx, inst)
		require.NoError(t, err)
		assert.False(t, updated.Enabled)
		assert.WithinDuration(t, inst.CreatedAt, updated.CreatedAt, time.Second)

		_, err = store.LoadInstance(ctx, "missing")
		assert.ErrorIs(t, err, db.ErrNotFound)

		all, err := store.ListInstances(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 1)
	})

	t.Run("Schedule Grid", func(t *testing.T) {
		slot := model.ScheduleSlot{Day: 2, Hour: 9, Target: model.ContentTarget{Type: model.TargetInstance, ID: "clock-1"}}
		require.NoError(t, store.SaveSlot(ctx, slot))

		slot.Target.ID = "clock-2"
		require.NoError(t, store.SaveSlot(ctx, slot))

		def := &model.ContentTarget{Type: model.TargetPlaylist, ID: "rotation"}
		require.NoError(t, store.SaveDefaultTarget(ctx, def))

		grid, err := store.LoadScheduleGrid(ctx)
		require.NoError(t, err)
		require.Len(t, grid.Slots, 1)
		assert.Equal(t, "clock-2", grid.Slots[0].Target.ID)
		assert.Equal(t, "2-9", grid.Slots[0].Key())
		require.NotNil(t, grid.Default)
		assert.Equal(t, *def, *grid.Default)

		require.NoError(t, store.DeleteSlot(ctx, 2, 9))
		require.NoError(t, store.DeleteSlot(ctx, 2, 9))
		require.NoError(t, store.SaveDefaultTarget(ctx, nil))

		grid, err = store.LoadScheduleGrid(ctx)
		require.NoError(t, err)
		assert.Empty(t, grid.Slots)
		assert.Nil(t, grid.Default)

		assert.Error(t, store.SaveSlot(ctx, model.ScheduleSlot{Day: 7, Hour: 0}))
	})

	t.Run("Playlist Management", func(t *testing.T) {
		p, err := store.SavePlaylist(ctx, model.Playlist{
			ID:           "rotation",
			Name:         "Rotation",
			Policy:       model.RotationSequential,
			DwellSeconds: 600,
			Enabled:      true,
			Items: []model.PlaylistItem{
				{InstanceID: "a"}, {InstanceID: "b"}, {InstanceID: "c"},
			},
		})
		require.NoError(t, err)
		assert.Equal(t, -1, p.Cursor.LastPick)

		at := time.Date(2026, 3, 4, 9, 0, 0, 0, time.UTC)
		require.NoError(t, store.SavePlaylistCursor(ctx, "rotation", model.PlaylistCursor{Position: 2, LastPick: 2, LastAdvance: &at}))

		loaded, err := store.LoadPlaylist(ctx, "rotation")
		require.NoError(t, err)
		require.Len(t, loaded.Items, 3)
		assert.Equal(t, "b", loaded.Items[1].InstanceID)
		assert.Equal(t, 2, loaded.Cursor.Position)
		require.NotNil(t, loaded.Cursor.LastAdvance)
		assert.True(t, at.Equal(*loaded.Cursor.LastAdvance))

		// replacing the items resets rotation state
		loaded.Items = loaded.Items[:2]
		_, err = store.SavePlaylist(ctx, loaded)
		require.NoError(t, err)
		loaded, err = store.LoadPlaylist(ctx, "rotation")
		require.NoError(t, err)
		assert.Len(t, loaded.Items, 2)
		assert.Equal(t, 0, loaded.Cursor.Position)
		assert.Nil(t, loaded.Cursor.LastAdvance)

		assert.ErrorIs(t, store.SavePlaylistCursor(ctx, "nope", model.PlaylistCursor{}), db.ErrNotFound)
		_, err = store.LoadPlaylist(ctx, "nope")
		assert.ErrorIs(t, err, db.ErrNotFound)
	})

	t.Run("Display State", func(t *testing.T) {
		st, err := store.LoadDisplayState(ctx)
		require.NoError(t, err)
		assert.Equal(t, model.DisplayIdle, st.Status)

		now := time.Date(2026, 3, 4, 9, 15, 0, 0, time.UTC)
		require.NoError(t, store.PersistDisplayState(ctx, model.DisplayState{
			CurrentImageID: "img-1",
			LastRefresh:    &now,
			RefreshCount:   4,
			ErrorCount:     1,
			Status:         model.DisplayReady,
		}))

		st, err = store.LoadDisplayState(ctx)
		require.NoError(t, err)
		assert.Equal(t, "img-1", st.CurrentImageID)
		assert.Equal(t, int64(4), st.RefreshCount)
		assert.Equal(t, model.DisplayReady, st.Status)
		require.NotNil(t, st.LastRefresh)
		assert.True(t, now.Equal(*st.LastRefresh))
	})
}
