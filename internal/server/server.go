// Package server runs the coordinator behind an HTTP and websocket front.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/avanishpal143/meetify/internal/config"
	"github.com/avanishpal143/meetify/internal/coordinator"
	"github.com/avanishpal143/meetify/internal/gateway"
	"github.com/avanishpal143/meetify/internal/identity"
	"github.com/avanishpal143/meetify/internal/room"
)

const shutdownTimeout = 5 * time.Second

// Server owns the coordinator, the gateway hub and the HTTP listener.
type Server struct {
	Coordinator *coordinator.Coordinator
	Hub         *gateway.Hub

	http *http.Server
	log  *slog.Logger
}

func New(cfg *config.Config, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	ids := identity.New()
	coord := coordinator.New(coordinator.Options{
		Registry:           room.NewRegistry(ids),
		IDs:                ids,
		Logger:             log,
		Origin:             cfg.Origin,
		NegotiationTimeout: cfg.NegotiationTimeout,
	})
	hub := gateway.NewHub(coord, ids, gateway.Options{Logger: log})

	return &Server{
		Coordinator: coord,
		Hub:         hub,
		http: &http.Server{
			Addr:    cfg.Addr,
			Handler: NewRouter(hub, coord, log),
		},
		log: log,
	}
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	go s.Hub.Run(ctx)

	errc := make(chan error, 1)
	go func() {
		s.log.Info("Starting coordinator", "addr", s.http.Addr)
		errc <- s.http.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
