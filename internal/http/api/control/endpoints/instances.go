package endpoints

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/Nixie-Tech-LLC/inkframe/internal/http/api"
	"github.com/Nixie-Tech-LLC/inkframe/internal/http/api/control/packets"
	"github.com/Nixie-Tech-LLC/inkframe/internal/model"
)

type InstanceController struct {
	engine Engine
}

func InstanceModule(engine Engine) api.Module {
	ctl := &InstanceController{engine: engine}
	return api.ModuleFunc(func(c *api.Controller) {
		c.GET("/instances", ctl.listInstances)
		c.POST("/instances", ctl.createInstance)
		c.GET("/instances/:id", ctl.getInstance)
		c.PUT("/instances/:id", ctl.updateInstance)
	})
}

func (i *InstanceController) listInstances(ctx *gin.Context) (any, *api.APIError) {
	all, err := i.engine.Instances(ctx.Request.Context())
	if err != nil {
		return nil, toAPIError(err, "instances")
	}
	if all == nil {
		all = []model.PluginInstance{}
	}
	return all, nil
}

func (i *InstanceController) getInstance(ctx *gin.Context) (any, *api.APIError) {
	inst, err := i.engine.Instance(ctx.Request.Context(), ctx.Param("id"))
	if err != nil {
		return nil, toAPIError(err, "instance")
	}
	return inst, nil
}

func (i *InstanceController) createInstance(ctx *gin.Context) (any, *api.APIError) {
	var request packets.CreateInstanceRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		return nil, &api.APIError{Code: http.StatusBadRequest, Message: err.Error()}
	}

	if _, err := i.engine.Instance(ctx.Request.Context(), request.ID); err == nil {
		return nil, &api.APIError{Code: http.StatusConflict, Message: "instance already exists"}
	}

	enabled := true
	if request.Enabled != nil {
		enabled = *request.Enabled
	}
	saved, err := i.engine.SaveInstance(ctx.Request.Context(), model.PluginInstance{
		ID:       request.ID,
		PluginID: request.PluginID,
		Settings: model.Settings(request.Settings),
		Enabled:  enabled,
	})
	if err != nil {
		return nil, toAPIError(err, "instance")
	}

	log.Info().Str("instance_id", saved.ID).Str("plugin_id", saved.PluginID).Msg("[instances] created")
	return saved, nil
}

// updateInstance applies the fields present in the request on top of the
// stored instance.
func (i *InstanceController) updateInstance(ctx *gin.Context) (any, *api.APIError) {
	inst, err := i.engine.Instance(ctx.Request.Context(), ctx.Param("id"))
	if err != nil {
		return nil, toAPIError(err, "instance")
	}

	var request packets.UpdateInstanceRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		return nil, &api.APIError{Code: http.StatusBadRequest, Message: err.Error()}
	}
	if request.PluginID != nil {
		inst.PluginID = *request.PluginID
	}
	if request.Settings != nil {
		inst.Settings = model.Settings(request.Settings)
	}
	if request.Enabled != nil {
		inst.Enabled = *request.Enabled
	}

	saved, err := i.engine.SaveInstance(ctx.Request.Context(), inst)
	if err != nil {
		return nil, toAPIError(err, "instance")
	}
	log.Info().Str("instance_id", saved.ID).Bool("enabled", saved.Enabled).Msg("[instances] updated")
	return saved, nil
}
