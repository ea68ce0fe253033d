package app

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/pilld/internal/api"
	"github.com/dokzlo13/pilld/internal/config"
)

// APIService wraps the alarm management HTTP server.
type APIService struct {
	cfg    *config.Config
	server *api.Server
}

// NewAPIService creates a new APIService.
func NewAPIService(cfg *config.Config, deps api.Deps) *APIService {
	server := api.NewServer(cfg.API.Host, cfg.API.Port, cfg.API.AllowedOrigins, deps)
	return &APIService{
		cfg:    cfg,
		server: server,
	}
}

// Run serves the API until ctx is cancelled.
func (s *APIService) Run(ctx context.Context) error {
	if err := s.server.Run(ctx, s.cfg.GetShutdownTimeout()); err != nil {
		log.Error().Err(err).Msg("API server error")
		return err
	}
	return nil
}
