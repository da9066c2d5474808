// Package transport is the external-collaborator boundary between REST/
// WebSocket clients and the pipeline (spec §6). It plays the role the
// teacher's internal/net.Server plays for its raw TCP protocol -- an
// interface-typed dependency on the thing that actually processes orders,
// accepting connections and translating wire requests into pipeline
// events -- generalized from a single Engine dependency and a
// length-prefixed socket protocol to the pipeline's queues/correlator and
// HTTP+WebSocket.
package transport

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// Server owns the HTTP listener and routes every REST/WS endpoint of
// spec §6 to a Handlers method.
type Server struct {
	addr   string
	server *http.Server
}

func New(addr string, h *Handlers) *Server {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /game/teams", h.CreateTeam)
	mux.HandleFunc("POST /exchange/orders", h.SubmitOrder)
	mux.HandleFunc("POST /exchange/quotes", h.SubmitQuote)
	mux.HandleFunc("DELETE /exchange/orders/{order_id}", h.CancelOrder)
	mux.HandleFunc("GET /positions", h.Positions)
	mux.HandleFunc("GET /exchange/book/{symbol}", h.BookSnapshot)
	mux.HandleFunc("GET /ws", h.WebSocket)
	mux.HandleFunc("GET /", h.Health)

	return &Server{
		addr: addr,
		server: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}
}

// Run listens until ctx is cancelled, then drains in-flight requests within
// a grace period before returning (spec §5 "each queue receives a
// sentinel; workers drain... then exit" generalized to the HTTP listener).
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.addr).Msg("transport listening")
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("listen: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return <-errCh
	case err := <-errCh:
		return err
	}
}
