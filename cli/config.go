package cli

import (
	"fmt"

	"go.hackfix.me/openme/app/config"
	actx "go.hackfix.me/openme/app/context"
)

// loadConfig reads and validates the server configuration file.
func loadConfig(appCtx *actx.Context, path string) (config.Config, error) {
	cfg, err := config.Load(appCtx.FS, path)
	if err != nil {
		return config.Config{}, fmt.Errorf("failed loading configuration from '%s': %w", path, err)
	}

	if err = cfg.Validate(appCtx.FS); err != nil {
		return config.Config{}, fmt.Errorf("invalid configuration in '%s': %w", path, err)
	}

	return cfg, nil
}
