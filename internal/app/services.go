package app

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/dokzlo13/pilld/internal/alarmstore"
	"github.com/dokzlo13/pilld/internal/api"
	"github.com/dokzlo13/pilld/internal/calendar"
	"github.com/dokzlo13/pilld/internal/config"
	"github.com/dokzlo13/pilld/internal/confirm"
	"github.com/dokzlo13/pilld/internal/content"
	"github.com/dokzlo13/pilld/internal/db"
	"github.com/dokzlo13/pilld/internal/eventbus"
	"github.com/dokzlo13/pilld/internal/ledger"
	"github.com/dokzlo13/pilld/internal/metrics"
	"github.com/dokzlo13/pilld/internal/notify"
	"github.com/dokzlo13/pilld/internal/remote"
	"github.com/dokzlo13/pilld/internal/scheduler"
)

// Services is a container for all application services.
// It manages service initialization order and dependencies.
type Services struct {
	cfg *config.Config

	// Core infrastructure
	DB     *db.DB
	Ledger *ledger.Ledger
	Bus    *eventbus.Bus
	Remote *remote.Client

	// Alarm scheduling core
	Center    *notify.Center
	Formatter content.Formatter
	Scheduler *scheduler.TriggerScheduler
	Store     *alarmstore.Store
	Flow      *confirm.Flow
	Exporter  *calendar.Exporter

	// High-level services
	Notifier *NotifierService
	Events   *EventService
	Health   *HealthService
	API      *APIService

	done chan struct{}
}

// NewServices creates all services with proper dependency injection.
func NewServices(cfg *config.Config) (*Services, error) {
	s := &Services{cfg: cfg}

	// Initialize database
	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	s.DB = database

	// Initialize ledger
	s.Ledger = ledger.New(database.DB)

	// Event bus carries deliveries and user actions to the confirmation flow
	s.Bus = eventbus.NewWithConfig(cfg.EventBus.GetWorkers(), cfg.EventBus.GetQueueSize())

	s.Center = notify.NewCenter(database.DB, s.Bus, s.Ledger, notify.Options{
		Location:   loadLocation(cfg.Notifier.Timezone),
		Authorized: cfg.Notifier.IsAuthorized(),
		MaxPending: cfg.Notifier.MaxPending,
	})

	// Notification text, optionally rendered by a Lua script
	if cfg.Notifier.FormatScript != "" {
		f, err := content.NewLuaFormatter(cfg.Notifier.FormatScript)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.Formatter = f
	} else {
		s.Formatter = content.DefaultFormatter{}
	}

	if cfg.Remote.BaseURL == "" {
		log.Warn().Msg("remote.base_url is not set, alarm backend requests will fail")
	}
	s.Remote = remote.NewClient(cfg.Remote.BaseURL, cfg.Remote.RootPath, cfg.Remote.Auth, cfg.Remote.Timeout.Duration())

	s.Scheduler = scheduler.New(s.Center, s.Formatter)
	s.Store = alarmstore.New(s.Remote, s.Scheduler)
	s.Flow = confirm.New(s.Remote, s.Scheduler, s.Ledger, cfg.Notifier.SnoozeDelay.Duration())
	s.Exporter = calendar.NewExporter(s.Formatter)

	s.Notifier = NewNotifierService(cfg, s.Center, s.Ledger)
	s.Events = NewEventService(s.Bus, s.Flow)
	s.Health = NewHealthService(cfg)
	s.API = NewAPIService(cfg, api.Deps{
		Store:     s.Store,
		Flow:      s.Flow,
		Center:    s.Center,
		Scheduler: s.Scheduler,
		Ledger:    s.Ledger,
		Exporter:  s.Exporter,
	})

	return s, nil
}

// Start starts all services in the correct order.
// The onFatalError callback is called when a background service fails.
func (s *Services) Start(ctx context.Context, onFatalError func(error)) error {
	metrics.Init()

	// Handlers must be in place before the center can deliver anything
	s.Events.Start(ctx)

	if _, err := s.Scheduler.RequestPermission(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to request notification permission")
	}

	// Re-sync on launch repairs drift between the backend and the trigger set
	if err := s.Store.ResyncAll(ctx); err != nil {
		log.Warn().Err(err).Msg("Initial alarm sync incomplete")
	}
	s.Health.SetReady(true)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.Notifier.Run(gctx) })
	if s.cfg.Healthcheck.Enabled {
		g.Go(func() error { return s.Health.Run(gctx) })
	}
	if s.cfg.API.Enabled {
		g.Go(func() error { return s.API.Run(gctx) })
	} else {
		log.Debug().Msg("API server disabled")
	}

	s.done = make(chan struct{})
	go func() {
		defer close(s.done)
		if err := g.Wait(); err != nil {
			onFatalError(err)
		}
	}()

	return nil
}

// ClearTriggers cancels every pending notification request.
func (s *Services) ClearTriggers(ctx context.Context) error {
	pending, err := s.Center.Pending(ctx)
	if err != nil {
		return err
	}
	ids := make([]string, 0, len(pending))
	for _, p := range pending {
		ids = append(ids, p.ID)
	}
	if err := s.Center.Cancel(ctx, ids); err != nil {
		return fmt.Errorf("failed to clear triggers: %w", err)
	}
	log.Info().Int("count", len(ids)).Msg("Cleared pending triggers")
	return nil
}

// Stop gracefully stops all services.
func (s *Services) Stop() error {
	timeout := s.cfg.GetShutdownTimeout()

	if s.done != nil {
		select {
		case <-s.done:
		case <-time.After(timeout):
			log.Warn().Msg("Background services did not stop in time")
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	s.Bus.Close(ctx)

	s.Close()
	return nil
}

// Close releases all resources.
func (s *Services) Close() {
	if f, ok := s.Formatter.(*content.LuaFormatter); ok {
		f.Close()
	}
	if s.Remote != nil {
		s.Remote.Close()
	}
	if s.DB != nil {
		s.DB.Close()
	}
}

// loadLocation resolves the notifier timezone, falling back to UTC.
func loadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		log.Warn().Err(err).Str("timezone", name).Msg("Failed to load timezone, using UTC")
		return time.UTC
	}
	return loc
}
