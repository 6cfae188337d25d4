// Package server exposes slot status and controls over a small local HTTP
// API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"slotleds/metrics"
	"slotleds/pubsub"
	"slotleds/slot"
)

// Controller is the board as seen by the API.
type Controller interface {
	Statuses() []slot.Status
	Status(name string) (slot.Status, error)
	Press(name string) error
	SetInterval(name string, d time.Duration) error
	SetPower(name string, on bool) error
}

type BuildInfo struct {
	Version   string    `json:"version"`
	BuildTime time.Time `json:"build_time"`
	Commit    string    `json:"commit"`
}

type Options struct {
	Build  BuildInfo
	Driver string
	Logger *zerolog.Logger
}

type Server struct {
	board   Controller
	events  *pubsub.Pubsub[slot.Event]
	history *History
	build   BuildInfo
	driver  string
	log     zerolog.Logger

	router chi.Router
}

func New(board Controller, events *pubsub.Pubsub[slot.Event], history *History, opts Options) *Server {
	base := log.Logger
	if opts.Logger != nil {
		base = *opts.Logger
	}

	s := &Server{
		board:   board,
		events:  events,
		history: history,
		build:   opts.Build,
		driver:  opts.Driver,
		log:     base.With().Str("component", "server").Logger(),
	}
	s.router = s.routes()
	return s
}

type statusResponse struct {
	BuildInfo
	Driver string        `json:"driver"`
	Slots  []slot.Status `json:"slots"`
}

// Largest interval that still fits in a time.Duration.
const maxIntervalMS = math.MaxInt64 / int64(time.Millisecond)

type intervalRequest struct {
	IntervalMS *int64 `json:"interval_ms"`
}

type powerRequest struct {
	On *bool `json:"on"`
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(AccessLogger(s.log))

	r.Get("/metrics", metrics.Handler().ServeHTTP)

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
			RespondJSON(w, statusResponse{
				BuildInfo: s.build,
				Driver:    s.driver,
				Slots:     s.board.Statuses(),
			})
		})

		r.Get("/slots", func(w http.ResponseWriter, r *http.Request) {
			RespondJSON(w, s.board.Statuses())
		})

		r.Get("/slots/{name}", func(w http.ResponseWriter, r *http.Request) {
			st, err := s.board.Status(chi.URLParam(r, "name"))
			if err != nil {
				RespondSlotError(w, err)
				return
			}
			RespondJSON(w, st)
		})

		r.Post("/slots/{name}/press", func(w http.ResponseWriter, r *http.Request) {
			if err := s.board.Press(chi.URLParam(r, "name")); err != nil {
				RespondSlotError(w, err)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		})

		r.Put("/slots/{name}/interval", func(w http.ResponseWriter, r *http.Request) {
			var req intervalRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				RespondBadRequest(w, fmt.Sprintf("bad request body: %s", err))
				return
			}
			if req.IntervalMS == nil {
				RespondBadRequest(w, "interval_ms is required")
				return
			}

			if *req.IntervalMS > maxIntervalMS {
				RespondBadRequest(w, fmt.Sprintf("interval_ms must not exceed %d", maxIntervalMS))
				return
			}
			d := time.Duration(*req.IntervalMS) * time.Millisecond
			if err := s.board.SetInterval(chi.URLParam(r, "name"), d); err != nil {
				RespondSlotError(w, err)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		})

		r.Put("/slots/{name}/power", func(w http.ResponseWriter, r *http.Request) {
			var req powerRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				RespondBadRequest(w, fmt.Sprintf("bad request body: %s", err))
				return
			}
			if req.On == nil {
				RespondBadRequest(w, "on is required")
				return
			}

			if err := s.board.SetPower(chi.URLParam(r, "name"), *req.On); err != nil {
				RespondSlotError(w, err)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		})

		r.Get("/events", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Add("Cache-Control", "no-cache, no-store")
			RespondJSON(w, s.history.Events())
		})

		r.Get("/ws", s.handleWebsocket)
	})

	return r
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on addr until ctx is done, then drains open requests for up to
// five seconds.
func (s *Server) Run(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errc := make(chan error, 1)
	go func() {
		s.log.Info().Str("listen", ln.Addr().String()).Msg("Launching server")
		errc <- srv.Serve(ln)
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}
	s.log.Info().Msg("Server stopped")
	return nil
}
