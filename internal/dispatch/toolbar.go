package dispatch

import (
	"context"
	"strconv"

	"github.com/wdonsong/huntly/internal/config"
)

// ModelOption is one selectable model on the toolbar.
type ModelOption struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

// ToolbarData is everything the toolbar needs to render in one round trip.
type ToolbarData struct {
	Shortcuts       []config.Shortcut `json:"shortcuts"`
	RemoteShortcuts []config.Shortcut `json:"remote_shortcuts,omitempty"`
	Models          []ModelOption     `json:"models"`
	DefaultModel    *ModelOption      `json:"default_model,omitempty"`
	ServerAvailable bool              `json:"server_available"`
	TargetLanguage  string            `json:"target_language,omitempty"`
}

// toolbarData aggregates shortcuts and model options. The remote catalog is
// best effort: a failure degrades to the local catalog with a warning rather
// than failing the whole command.
func (d *Dispatcher) toolbarData(ctx context.Context) (*ToolbarData, error) {
	data := &ToolbarData{
		Shortcuts:       d.cfg.EnabledShortcuts(),
		ServerAvailable: d.cfg.ServerConfigured(),
		TargetLanguage:  d.cfg.TargetLanguageName(),
	}

	if data.ServerAvailable && d.cfg.Get().Server.RemoteShortcuts {
		remote, err := d.lib.Shortcuts(ctx)
		if err != nil {
			d.logger.Warn("remote shortcut catalog unavailable: %v", err)
		} else {
			data.RemoteShortcuts = make([]config.Shortcut, 0, len(remote))
			for _, s := range remote {
				data.RemoteShortcuts = append(data.RemoteShortcuts, config.Shortcut{
					ID:          "remote-" + strconv.FormatInt(s.ID, 10),
					Name:        s.Name,
					Instruction: s.Instruction,
					Enabled:     true,
				})
			}
		}
	}

	for _, p := range d.cfg.EnabledProviders() {
		for _, model := range p.Models {
			option := ModelOption{Provider: p.Name, Model: model}
			data.Models = append(data.Models, option)
			if data.DefaultModel == nil && p.Default {
				opt := option
				data.DefaultModel = &opt
			}
		}
	}
	// A default-flagged provider with no models cannot supply the default;
	// fall back to the first option in aggregation order.
	if data.DefaultModel == nil && len(data.Models) > 0 {
		opt := data.Models[0]
		data.DefaultModel = &opt
	}

	return data, nil
}
