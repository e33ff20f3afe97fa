package endpoints

import (
	"github.com/gin-gonic/gin"

	"github.com/Nixie-Tech-LLC/inkframe/internal/http/api"
)

type SchedulerController struct {
	engine Engine
}

func SchedulerModule(engine Engine) api.Module {
	ctl := &SchedulerController{engine: engine}
	return api.ModuleFunc(func(c *api.Controller) {
		c.POST("/scheduler/pause", ctl.pause)
		c.POST("/scheduler/resume", ctl.resume)
		c.GET("/scheduler/status", ctl.status)
	})
}

func (s *SchedulerController) pause(ctx *gin.Context) (any, *api.APIError) {
	s.engine.Pause()
	return s.engine.SchedulerStatus(), nil
}

func (s *SchedulerController) resume(ctx *gin.Context) (any, *api.APIError) {
	s.engine.Resume()
	return s.engine.SchedulerStatus(), nil
}

func (s *SchedulerController) status(ctx *gin.Context) (any, *api.APIError) {
	return s.engine.SchedulerStatus(), nil
}
