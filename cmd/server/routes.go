package main

import (
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/Nixie-Tech-LLC/inkframe/internal/config"
	"github.com/Nixie-Tech-LLC/inkframe/internal/http/api"
	"github.com/Nixie-Tech-LLC/inkframe/internal/http/api/control/endpoints"
	"github.com/Nixie-Tech-LLC/inkframe/internal/plugin"
	"github.com/Nixie-Tech-LLC/inkframe/internal/telemetry"
)

// RegisterRoutes sets up all application routes.
func RegisterRoutes(r *gin.Engine, cfg *config.Config, engine endpoints.Engine, registry *plugin.Registry) error {
	r.Use(cors.New(cors.Config{
		AllowOriginFunc: func(origin string) bool { return true },
		AllowMethods: []string{
			"GET",
			"POST",
			"PUT",
			"DELETE",
			"OPTIONS",
			"HEAD",
		},
		AllowHeaders: []string{
			"Origin",
			"Content-Type",
			"Authorization",
			"Accept",
		},
		ExposeHeaders: []string{
			"Content-Length",
		},
		AllowCredentials: false,
	}))
	r.Use(telemetry.MetricsMiddleware())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "display": engine.DisplayHealth().Status})
	})
	r.GET("/metrics", gin.WrapH(telemetry.Handler()))

	_, err := api.MountGroup(r, api.GroupConfig{
		Prefix:    "/api",
		Auth:      true,
		SecretKey: cfg.JWTSecret,
	},
		endpoints.DisplayModule(engine),
		endpoints.SchedulerModule(engine),
		endpoints.ScheduleModule(engine, cfg.WeekStart),
		endpoints.InstanceModule(engine),
		endpoints.PlaylistModule(engine),
		endpoints.PluginModule(registry),
	)
	if err != nil {
		return err
	}

	// rendered artifacts, for the dashboard preview
	if !cfg.UseSpaces {
		r.Static("/uploads", cfg.UploadDir)
	}
	return nil
}
