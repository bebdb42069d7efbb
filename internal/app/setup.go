package app

import (
	"fmt"

	"github.com/jmehdipour/cvpay/internal/config"
	"github.com/jmehdipour/cvpay/internal/logger"
	"go.uber.org/zap"
)

// Setup loads config from path and builds the logger at the configured
// level. Callers pass the logger down explicitly.
func Setup(path string) (config.Config, *zap.Logger, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("load config: %w", err)
	}
	l, err := logger.New(cfg.Log.Level)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("build logger: %w", err)
	}
	return cfg, l, nil
}
