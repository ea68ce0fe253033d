// Package api is the HTTP control surface: alarm list and editing, the
// confirmation prompt, notification actions, history and calendar export.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/pilld/internal/alarmstore"
	"github.com/dokzlo13/pilld/internal/calendar"
	"github.com/dokzlo13/pilld/internal/confirm"
	"github.com/dokzlo13/pilld/internal/ledger"
	"github.com/dokzlo13/pilld/internal/notify"
	"github.com/dokzlo13/pilld/internal/scheduler"
)

// Deps are the components the API drives.
type Deps struct {
	Store     *alarmstore.Store
	Flow      *confirm.Flow
	Center    *notify.Center
	Scheduler *scheduler.TriggerScheduler
	Ledger    *ledger.Ledger
	Exporter  *calendar.Exporter
}

// Server serves the control API.
type Server struct {
	addr           string
	deps           Deps
	allowedOrigins []string
	httpServer     *http.Server
}

// NewServer creates a new API server.
func NewServer(host string, port int, allowedOrigins []string, deps Deps) *Server {
	return &Server{
		addr:           fmt.Sprintf("%s:%d", host, port),
		deps:           deps,
		allowedOrigins: allowedOrigins,
	}
}

// Handler returns the API router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	if len(s.allowedOrigins) > 0 {
		r.Use(cors.New(cors.Options{
			AllowedOrigins: s.allowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
			AllowedHeaders: []string{"Content-Type"},
		}).Handler)
	}

	r.Route("/api", func(r chi.Router) {
		r.Route("/alarms", func(r chi.Router) {
			r.Get("/", s.listAlarms)
			r.Post("/", s.addAlarm)
			r.Post("/refresh", s.refreshAlarms)
			r.Get("/calendar.ics", s.exportCalendar)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.getAlarm)
				r.Put("/", s.updateAlarm)
				r.Delete("/", s.deleteAlarm)
				r.Put("/enabled", s.setEnabled)
				r.Post("/duplicate", s.duplicateAlarm)
			})
		})

		r.Route("/notifications", func(r chi.Router) {
			r.Get("/pending", s.listPending)
			r.Get("/delivered", s.listDelivered)
			r.Post("/test", s.sendTest)
			r.Post("/{id}/{action}", s.respond)
		})

		r.Route("/confirmation", func(r chi.Router) {
			r.Get("/", s.confirmationState)
			r.Post("/confirm", s.confirm)
			r.Post("/snooze", s.snooze)
			r.Post("/dismiss", s.dismiss)
		})

		r.Get("/history", s.history)
	})

	return r
}

// Run starts the API server. It blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context, shutdownTimeout time.Duration) error {
	s.httpServer = &http.Server{
		Addr:    s.addr,
		Handler: s.Handler(),
	}

	log.Info().Str("addr", s.addr).Msg("Starting API server")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("API server shutdown error")
		}
	}()

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}

	return nil
}

// requestLogger logs each request once it completes.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			log.Debug().
				Str("request_id", middleware.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Msg("API request")
		}()
		next.ServeHTTP(ww, r)
	})
}
