package endpoints

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Nixie-Tech-LLC/inkframe/internal/db"
	"github.com/Nixie-Tech-LLC/inkframe/internal/display"
	"github.com/Nixie-Tech-LLC/inkframe/internal/http/api"
	"github.com/Nixie-Tech-LLC/inkframe/internal/model"
	"github.com/Nixie-Tech-LLC/inkframe/internal/orchestrator"
	"github.com/Nixie-Tech-LLC/inkframe/internal/plugin"
	"github.com/Nixie-Tech-LLC/inkframe/internal/schedule"
)

// Engine is the orchestrator surface the control API drives.
type Engine interface {
	ResolveCurrent(ctx context.Context, at time.Time) (model.ContentDescriptor, error)
	TriggerNow(ctx context.Context) orchestrator.CycleResult
	DisplayHealth() model.DisplayHealth
	ResetDisplay(ctx context.Context) error

	Pause()
	Resume()
	SchedulerStatus() orchestrator.SchedulerStatus

	Schedule() model.ScheduleGrid
	SetSlot(ctx context.Context, day, hour int, target model.ContentTarget) error
	ClearSlot(ctx context.Context, day, hour int) error
	SetDefault(ctx context.Context, target *model.ContentTarget) error

	Instance(ctx context.Context, id string) (model.PluginInstance, error)
	Instances(ctx context.Context) ([]model.PluginInstance, error)
	SaveInstance(ctx context.Context, inst model.PluginInstance) (model.PluginInstance, error)
	Playlist(ctx context.Context, id string) (model.Playlist, error)
	Playlists(ctx context.Context) ([]model.Playlist, error)
	SavePlaylist(ctx context.Context, p model.Playlist) (model.Playlist, error)
}

var _ Engine = (*orchestrator.Orchestrator)(nil)

// toAPIError maps core errors onto HTTP statuses. what names the resource
// for 404 and 500 messages.
func toAPIError(err error, what string) *api.APIError {
	var (
		invalidTarget *schedule.InvalidTargetError
		validation    *plugin.ValidationError
		storeErr      *orchestrator.ConfigStoreError
	)
	switch {
	case errors.Is(err, db.ErrNotFound):
		return &api.APIError{Code: http.StatusNotFound, Message: what + " not found"}
	case errors.As(err, &invalidTarget), errors.As(err, &validation):
		return &api.APIError{Code: http.StatusUnprocessableEntity, Message: err.Error()}
	case errors.Is(err, schedule.ErrInvalidSlot):
		return &api.APIError{Code: http.StatusBadRequest, Message: err.Error()}
	case errors.Is(err, display.ErrInvalidTransition):
		return &api.APIError{Code: http.StatusConflict, Message: err.Error()}
	case errors.As(err, &storeErr):
		log.Error().Err(err).Msg("[control] configuration store unavailable")
		return &api.APIError{Code: http.StatusServiceUnavailable, Message: "configuration store unavailable"}
	}
	log.Error().Err(err).Str("resource", what).Msg("[control] request failed")
	return &api.APIError{Code: http.StatusInternalServerError, Message: "could not process " + what}
}
