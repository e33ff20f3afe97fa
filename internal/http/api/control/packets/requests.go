package packets

import "github.com/Nixie-Tech-LLC/inkframe/internal/model"

type TargetRequest struct {
	Type string `json:"type" binding:"required,oneof=instance playlist"`
	ID   string `json:"id"   binding:"required"`
}

func (r TargetRequest) Target() model.ContentTarget {
	return model.ContentTarget{Type: model.TargetType(r.Type), ID: r.ID}
}

// SetDefaultRequest clears the default target when Target is null.
type SetDefaultRequest struct {
	Target *TargetRequest `json:"target"`
}

type CreateInstanceRequest struct {
	ID       string         `json:"id"        binding:"required"`
	PluginID string         `json:"plugin_id" binding:"required"`
	Settings map[string]any `json:"settings"`
	Enabled  *bool          `json:"enabled"`
}

type UpdateInstanceRequest struct {
	PluginID *string        `json:"plugin_id"`
	Settings map[string]any `json:"settings"`
	Enabled  *bool          `json:"enabled"`
}

type SavePlaylistRequest struct {
	Name         string   `json:"name"`
	Policy       string   `json:"policy"`
	DwellSeconds int      `json:"dwell_seconds" binding:"min=0"`
	Enabled      *bool    `json:"enabled"`
	Items        []string `json:"items"`
}
