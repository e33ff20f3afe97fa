package db

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/Nixie-Tech-LLC/inkframe/internal/model"
)

// LoadDisplayState returns the persisted display state, or a fresh Idle state
// when nothing has been persisted yet.
func (s *sqlStore) LoadDisplayState(ctx context.Context) (model.DisplayState, error) {
	var st model.DisplayState
	err := s.db.GetContext(ctx, &st, `
		SELECT current_image_id, last_refresh, refresh_count, error_count, consecutive_errors, status, updated_at
		  FROM display_state
		 WHERE id = 1;`)
	if err != nil {
		if notFound(err) == ErrNotFound {
			return model.DisplayState{Status: model.DisplayIdle}, nil
		}
		log.Error().Err(err).Msg("LoadDisplayState failed")
		return model.DisplayState{}, err
	}
	return st, nil
}

func (s *sqlStore) PersistDisplayState(ctx context.Context, st model.DisplayState) error {
	if st.UpdatedAt.IsZero() {
		st.UpdatedAt = s.now().UTC()
	}
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO display_state (id, current_image_id, last_refresh, refresh_count, error_count, consecutive_errors, status, updated_at)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE
		   SET current_image_id   = excluded.current_image_id,
		       last_refresh       = excluded.last_refresh,
		       refresh_count      = excluded.refresh_count,
		       error_count        = excluded.error_count,
		       consecutive_errors = excluded.consecutive_errors,
		       status             = excluded.status,
		       updated_at         = excluded.updated_at;`),
		st.CurrentImageID, st.LastRefresh, st.RefreshCount, st.ErrorCount, st.ConsecutiveErrors, string(st.Status), st.UpdatedAt,
	)
	if err != nil {
		log.Error().Err(err).Str("status", string(st.Status)).Msg("PersistDisplayState failed")
	}
	return err
}
