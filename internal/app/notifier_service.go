package app

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/dokzlo13/pilld/internal/config"
	"github.com/dokzlo13/pilld/internal/ledger"
	"github.com/dokzlo13/pilld/internal/notify"
)

// NotifierService runs the notification center loop and related periodic tasks.
type NotifierService struct {
	cfg    *config.Config
	center *notify.Center
	ledger *ledger.Ledger
}

// NewNotifierService creates a new NotifierService.
func NewNotifierService(cfg *config.Config, center *notify.Center, l *ledger.Ledger) *NotifierService {
	return &NotifierService{
		cfg:    cfg,
		center: center,
		ledger: l,
	}
}

// Run blocks until ctx is cancelled or the center loop fails.
func (s *NotifierService) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := s.center.Run(gctx); err != nil {
			log.Error().Err(err).Msg("Notification center error")
			return err
		}
		return nil
	})

	g.Go(func() error {
		s.runLedgerCleanup(gctx)
		return nil
	})

	return g.Wait()
}

// runLedgerCleanup periodically cleans up old ledger entries.
func (s *NotifierService) runLedgerCleanup(ctx context.Context) {
	retention := s.cfg.Ledger.Retention()
	interval := s.cfg.Ledger.CleanupInterval.Duration()
	if interval <= 0 || retention <= 0 {
		log.Debug().Msg("Ledger cleanup disabled")
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := s.ledger.DeleteOlderThan(retention)
			if err != nil {
				log.Error().Err(err).Msg("Failed to cleanup old ledger entries")
			} else if deleted > 0 {
				log.Info().Int64("deleted", deleted).Dur("retention", retention).Msg("Cleaned up old ledger entries")
			}
		}
	}
}
