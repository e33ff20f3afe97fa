package endpoints

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/Nixie-Tech-LLC/inkframe/internal/http/api"
	"github.com/Nixie-Tech-LLC/inkframe/internal/orchestrator"
)

type DisplayController struct {
	engine Engine
}

func DisplayModule(engine Engine) api.Module {
	ctl := &DisplayController{engine: engine}
	return api.ModuleFunc(func(c *api.Controller) {
		c.GET("/display/current", ctl.current)
		c.POST("/display/trigger", ctl.trigger)
		c.GET("/display/health", ctl.health)
		c.POST("/display/reset", ctl.reset)
	})
}

// current resolves what would be shown at ?at= (RFC 3339), or now.
func (d *DisplayController) current(ctx *gin.Context) (any, *api.APIError) {
	at := time.Now()
	if raw := ctx.Query("at"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, &api.APIError{Code: http.StatusBadRequest, Message: "at must be an RFC 3339 timestamp"}
		}
		at = parsed
	}

	desc, err := d.engine.ResolveCurrent(ctx.Request.Context(), at)
	if err != nil {
		return nil, toAPIError(err, "current content")
	}
	return desc, nil
}

func (d *DisplayController) trigger(ctx *gin.Context) (any, *api.APIError) {
	res := d.engine.TriggerNow(ctx.Request.Context())
	log.Info().Str("cycle_id", res.CycleID).Str("outcome", string(res.Outcome)).Bool("coalesced", res.Coalesced).Msg("[display] manual trigger")

	if res.Outcome == orchestrator.OutcomeStoreError {
		return nil, toAPIError(res.Err, "trigger")
	}
	return res, nil
}

func (d *DisplayController) health(ctx *gin.Context) (any, *api.APIError) {
	return d.engine.DisplayHealth(), nil
}

func (d *DisplayController) reset(ctx *gin.Context) (any, *api.APIError) {
	if err := d.engine.ResetDisplay(ctx.Request.Context()); err != nil {
		return nil, toAPIError(err, "display")
	}
	return d.engine.DisplayHealth(), nil
}
