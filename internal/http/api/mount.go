package api

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/Nixie-Tech-LLC/inkframe/internal/http/middleware"
)

// Module is a feature that attaches its endpoints to a Controller.
type Module interface {
	Mount(c *Controller)
}

// ModuleFunc lets you define a Module with a simple function.
type ModuleFunc func(c *Controller)

func (f ModuleFunc) Mount(c *Controller) { f(c) }

// GroupConfig tells the api package how to mount a group.
type GroupConfig struct {
	Prefix     string
	Auth       bool
	SecretKey  string            // required if Auth == true
	Middleware []gin.HandlerFunc // optional additional middleware
}

var ErrMissingSecret = errors.New("api: auth enabled but secret key is empty")

// MountGroup mounts modules under a prefix, behind the JWT middleware when
// cfg.Auth is set.
func MountGroup(parent gin.IRouter, cfg GroupConfig, modules ...Module) (*gin.RouterGroup, error) {
	if cfg.Auth && cfg.SecretKey == "" {
		return nil, ErrMissingSecret
	}

	grp := parent.Group(cfg.Prefix)
	// middleware order is deterministic: extra first, auth last
	for _, mw := range cfg.Middleware {
		grp.Use(mw)
	}
	if cfg.Auth {
		grp.Use(middleware.JWTMiddleware(cfg.SecretKey))
	}

	controller := &Controller{Group: grp}
	for _, m := range modules {
		m.Mount(controller)
	}
	log.Debug().Str("prefix", cfg.Prefix).Bool("auth", cfg.Auth).Int("modules", len(modules)).Msg("api group mounted")
	return grp, nil
}
