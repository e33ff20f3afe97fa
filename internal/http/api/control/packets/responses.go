package packets

import "github.com/Nixie-Tech-LLC/inkframe/internal/model"

type CapabilitiesResponse struct {
	CacheKey  bool `json:"cache_key"`
	CacheTTL  bool `json:"cache_ttl"`
	Lifecycle bool `json:"lifecycle"`
}

type PluginResponse struct {
	ID           string               `json:"id"`
	Capabilities CapabilitiesResponse `json:"capabilities"`
}

type SlotResponse struct {
	Key    string              `json:"key"`
	Day    int                 `json:"day"`
	Hour   int                 `json:"hour"`
	Target model.ContentTarget `json:"target"`
}

type ScheduleResponse struct {
	WeekStart string               `json:"week_start"`
	Slots     []SlotResponse       `json:"slots"`
	Default   *model.ContentTarget `json:"default"`
}

type PlaylistResponse struct {
	ID           string               `json:"id"`
	Name         string               `json:"name"`
	Policy       model.RotationPolicy `json:"policy"`
	DwellSeconds int                  `json:"dwell_seconds"`
	Enabled      bool                 `json:"enabled"`
	Items        []string             `json:"items"`
	Cursor       model.PlaylistCursor `json:"cursor"`
}

func NewPlaylistResponse(p model.Playlist) PlaylistResponse {
	items := make([]string, len(p.Items))
	for i, it := range p.Items {
		items[i] = it.InstanceID
	}
	return PlaylistResponse{
		ID:           p.ID,
		Name:         p.Name,
		Policy:       p.Policy,
		DwellSeconds: p.DwellSeconds,
		Enabled:      p.Enabled,
		Items:        items,
		Cursor:       p.Cursor,
	}
}
