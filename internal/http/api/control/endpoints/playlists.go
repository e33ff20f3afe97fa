package endpoints

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/Nixie-Tech-LLC/inkframe/internal/db"
	"github.com/Nixie-Tech-LLC/inkframe/internal/http/api"
	"github.com/Nixie-Tech-LLC/inkframe/internal/http/api/control/packets"
	"github.com/Nixie-Tech-LLC/inkframe/internal/model"
)

type PlaylistController struct {
	engine Engine
}

func PlaylistModule(engine Engine) api.Module {
	ctl := &PlaylistController{engine: engine}
	return api.ModuleFunc(func(c *api.Controller) {
		c.GET("/playlists", ctl.listPlaylists)
		c.GET("/playlists/:id", ctl.getPlaylist)
		c.PUT("/playlists/:id", ctl.savePlaylist)
	})
}

func (p *PlaylistController) listPlaylists(ctx *gin.Context) (any, *api.APIError) {
	all, err := p.engine.Playlists(ctx.Request.Context())
	if err != nil {
		return nil, toAPIError(err, "playlists")
	}

	response := make([]packets.PlaylistResponse, 0, len(all))
	for _, pl := range all {
		response = append(response, packets.NewPlaylistResponse(pl))
	}
	return response, nil
}

func (p *PlaylistController) getPlaylist(ctx *gin.Context) (any, *api.APIError) {
	pl, err := p.engine.Playlist(ctx.Request.Context(), ctx.Param("id"))
	if err != nil {
		return nil, toAPIError(err, "playlist")
	}
	return packets.NewPlaylistResponse(pl), nil
}

// savePlaylist creates or replaces the playlist. Saving resets its rotation.
func (p *PlaylistController) savePlaylist(ctx *gin.Context) (any, *api.APIError) {
	var request packets.SavePlaylistRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		return nil, &api.APIError{Code: http.StatusBadRequest, Message: err.Error()}
	}

	pl := model.Playlist{
		ID:           ctx.Param("id"),
		Name:         request.Name,
		Policy:       model.RotationPolicy(request.Policy),
		DwellSeconds: request.DwellSeconds,
		Enabled:      true,
	}
	if prev, err := p.engine.Playlist(ctx.Request.Context(), pl.ID); err == nil {
		pl.Enabled = prev.Enabled
		if pl.Name == "" {
			pl.Name = prev.Name
		}
	} else if !errors.Is(err, db.ErrNotFound) {
		return nil, toAPIError(err, "playlist")
	}
	if request.Enabled != nil {
		pl.Enabled = *request.Enabled
	}
	for _, id := range request.Items {
		pl.Items = append(pl.Items, model.PlaylistItem{InstanceID: id})
	}

	saved, err := p.engine.SavePlaylist(ctx.Request.Context(), pl)
	if err != nil {
		return nil, toAPIError(err, "playlist")
	}
	log.Info().Str("playlist_id", saved.ID).Int("items", len(saved.Items)).Msg("[playlists] saved")
	return packets.NewPlaylistResponse(saved), nil
}
