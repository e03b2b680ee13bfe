package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

const envPrefix = "FLICAPP_"

// parseEnv overlays FLICAPP_* variables. Unset variables keep the current
// value.
func parseEnv(cfg *Config) error {
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: envPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}
