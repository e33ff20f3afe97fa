package endpoints

import (
	"github.com/gin-gonic/gin"

	"github.com/Nixie-Tech-LLC/inkframe/internal/http/api"
	"github.com/Nixie-Tech-LLC/inkframe/internal/http/api/control/packets"
	"github.com/Nixie-Tech-LLC/inkframe/internal/plugin"
)

func PluginModule(registry *plugin.Registry) api.Module {
	return api.ModuleFunc(func(c *api.Controller) {
		c.GET("/plugins", func(ctx *gin.Context) (any, *api.APIError) {
			all := registry.List()
			response := make([]packets.PluginResponse, 0, len(all))
			for _, p := range all {
				response = append(response, packets.PluginResponse{
					ID: p.ID,
					Capabilities: packets.CapabilitiesResponse{
						CacheKey:  p.Capabilities.CacheKey,
						CacheTTL:  p.Capabilities.CacheTTL,
						Lifecycle: p.Capabilities.Lifecycle,
					},
				})
			}
			return response, nil
		})
	})
}
