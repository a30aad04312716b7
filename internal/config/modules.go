package config

import (
	"strings"

	"hearth/internal/domain"
)

// DisableModule adds id to cfg.Modules.Disabled if not already present.
func DisableModule(cfg *domain.Config, id string) {
	if cfg == nil {
		return
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return
	}
	for _, d := range cfg.Modules.Disabled {
		if d == id {
			return
		}
	}
	cfg.Modules.Disabled = append(cfg.Modules.Disabled, id)
}

// EnableModule removes id from cfg.Modules.Disabled.
func EnableModule(cfg *domain.Config, id string) {
	if cfg == nil || len(cfg.Modules.Disabled) == 0 {
		return
	}
	id = strings.TrimSpace(id)
	out := make([]string, 0, len(cfg.Modules.Disabled))
	for _, d := range cfg.Modules.Disabled {
		if d != id {
			out = append(out, d)
		}
	}
	cfg.Modules.Disabled = out
}

// ModuleEnabled reports whether the module id should be started. A nil config
// enables everything.
func ModuleEnabled(cfg *domain.Config, id string) bool {
	if cfg == nil {
		return true
	}
	for _, d := range cfg.Modules.Disabled {
		if d == id {
			return false
		}
	}
	return true
}
