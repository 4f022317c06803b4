package batch

import (
	"github.com/rs/zerolog"

	"certgen/internal/config"
	"certgen/internal/registry"
	"certgen/internal/render"
)

// NewFromConfig wires the production registry client and converter for the
// given artifacts.
func NewFromConfig(cfg *config.Config, artifacts *config.Artifacts, logger zerolog.Logger, opts ...Option) (*Driver, error) {
	client, err := registry.New(registry.Options{
		Endpoint:           cfg.Registry.Endpoint,
		CertFile:           artifacts.CertFile,
		KeyFile:            artifacts.KeyFile,
		InsecureSkipVerify: cfg.Registry.InsecureSkipVerify,
		Timeout:            cfg.Registry.Timeout,
	}, logger.With().Str("component", "registry").Logger())
	if err != nil {
		return nil, err
	}

	renderer := render.NewSoffice(cfg.Render.Binary, cfg.Render.Format, logger.With().Str("component", "render").Logger())

	opts = append([]Option{WithLogger(logger.With().Str("component", "batch").Logger())}, opts...)
	return New(cfg, artifacts, client, renderer, opts...), nil
}
