package endpoints

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Nixie-Tech-LLC/inkframe/internal/http/api"
	"github.com/Nixie-Tech-LLC/inkframe/internal/http/api/control/packets"
	"github.com/Nixie-Tech-LLC/inkframe/internal/model"
)

type ScheduleController struct {
	engine    Engine
	weekStart time.Weekday
}

func ScheduleModule(engine Engine, weekStart time.Weekday) api.Module {
	ctl := &ScheduleController{engine: engine, weekStart: weekStart}
	return api.ModuleFunc(func(c *api.Controller) {
		c.GET("/schedule", ctl.getSchedule)
		c.PUT("/schedule/slots/:key", ctl.setSlot)
		c.DELETE("/schedule/slots/:key", ctl.clearSlot)
		c.PUT("/schedule/default", ctl.setDefault)
	})
}

func (s *ScheduleController) response() packets.ScheduleResponse {
	grid := s.engine.Schedule()
	slots := make([]packets.SlotResponse, 0, len(grid.Slots))
	for _, slot := range grid.Slots {
		slots = append(slots, packets.SlotResponse{
			Key:    slot.Key(),
			Day:    slot.Day,
			Hour:   slot.Hour,
			Target: slot.Target,
		})
	}
	return packets.ScheduleResponse{
		WeekStart: s.weekStart.String(),
		Slots:     slots,
		Default:   grid.Default,
	}
}

func (s *ScheduleController) getSchedule(ctx *gin.Context) (any, *api.APIError) {
	return s.response(), nil
}

func (s *ScheduleController) setSlot(ctx *gin.Context) (any, *api.APIError) {
	day, hour, err := model.ParseSlotKey(ctx.Param("key"))
	if err != nil {
		return nil, &api.APIError{Code: http.StatusBadRequest, Message: err.Error()}
	}

	var request packets.TargetRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		return nil, &api.APIError{Code: http.StatusBadRequest, Message: err.Error()}
	}

	if err := s.engine.SetSlot(ctx.Request.Context(), day, hour, request.Target()); err != nil {
		return nil, toAPIError(err, "slot")
	}
	return s.response(), nil
}

func (s *ScheduleController) clearSlot(ctx *gin.Context) (any, *api.APIError) {
	day, hour, err := model.ParseSlotKey(ctx.Param("key"))
	if err != nil {
		return nil, &api.APIError{Code: http.StatusBadRequest, Message: err.Error()}
	}

	if err := s.engine.ClearSlot(ctx.Request.Context(), day, hour); err != nil {
		return nil, toAPIError(err, "slot")
	}
	return s.response(), nil
}

func (s *ScheduleController) setDefault(ctx *gin.Context) (any, *api.APIError) {
	var request packets.SetDefaultRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		return nil, &api.APIError{Code: http.StatusBadRequest, Message: err.Error()}
	}

	var target *model.ContentTarget
	if request.Target != nil {
		t := request.Target.Target()
		if !t.Type.Valid() || t.ID == "" {
			return nil, &api.APIError{Code: http.StatusBadRequest, Message: "target needs a type of instance or playlist and an id"}
		}
		target = &t
	}

	if err := s.engine.SetDefault(ctx.Request.Context(), target); err != nil {
		return nil, toAPIError(err, "default target")
	}
	return s.response(), nil
}
