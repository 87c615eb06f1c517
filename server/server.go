package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/bluele/gcache"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"tidbyt.dev/transit"
	"tidbyt.dev/transit/metrics"
	"tidbyt.dev/transit/model"
	"tidbyt.dev/transit/resolve"
	"tidbyt.dev/transit/routing"
)

const (
	DefaultNearbyLimit     = 10
	DefaultDepartureLimit  = 5
	DefaultMaxClients      = 1024
	DefaultClientTTL       = 10 * time.Minute
	DefaultShutdownTimeout = 5 * time.Second

	ClientIDHeader = "X-Client-ID"
)

// The queries served over HTTP. Satisfied by *transit.Engine.
type Backend interface {
	Stop(id int) *model.Stop
	Stops() []*model.Stop
	NearbyStops(lat, lon float64, limit int) ([]model.Stop, error)
	Resolve(label string) resolve.Match
	Vehicles() []model.Vehicle
	Vehicle(id string) (model.Vehicle, bool)
	VehiclesOnRoute(route string) []model.Vehicle
	Routes() []string
	RouteStops(route string) (model.RouteStopOrder, error)
	RoutePath(ctx context.Context, route string, from, to *int) ([]model.Coord, error)
	Departures(route string, stopID int, limit int) (model.Upcoming, error)
}

type Server struct {
	Backend     Backend
	Metrics     *metrics.Collector
	Logger      *slog.Logger
	CORSOrigins []string

	// One path selector per client. Evicted clients just get a
	// fresh one.
	selectors gcache.Cache
}

func New(b Backend, m *metrics.Collector, logger *slog.Logger, corsOrigins []string) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		Backend:     b,
		Metrics:     m,
		Logger:      logger,
		CORSOrigins: corsOrigins,
		selectors: gcache.New(DefaultMaxClients).
			LRU().
			Expiration(DefaultClientTTL).
			LoaderFunc(func(key interface{}) (interface{}, error) {
				return &routing.Selector{}, nil
			}).
			Build(),
	}
}

func (s *Server) Handler() http.Handler {
	origins := s.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	}))

	r.Get("/healthz", s.health)
	r.Handle("/metrics", s.Metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/vehicles", s.vehicles)
		r.Get("/vehicles/{id}", s.vehicle)
		r.Get("/stops", s.stops)
		r.Get("/stops/nearby", s.nearbyStops)
		r.Get("/stops/{id}", s.stop)
		r.Get("/routes", s.routes)
		r.Get("/routes/{route}/stops", s.routeStops)
		r.Get("/routes/{route}/path", s.routePath)
		r.Get("/routes/{route}/stops/{stop}/departures", s.departures)
		r.Get("/resolve", s.resolve)
	})

	return r
}

// Serves until the context is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.Logger.Info("listening", "addr", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("serving: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	if err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}
	return nil
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type MatchResponse struct {
	Label string       `json:"label"`
	ID    int          `json:"id,omitempty"`
	Kind  resolve.Kind `json:"kind"`
	Score float64      `json:"score"`
	Stop  *model.Stop  `json:"stop,omitempty"`
}

type PathResponse struct {
	Route  string        `json:"route"`
	From   *int          `json:"from,omitempty"`
	To     *int          `json:"to,omitempty"`
	Coords []model.Coord `json:"coords"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	stops := len(s.Backend.Stops())
	if stops == 0 {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status": "unavailable",
			"stops":  0,
		})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "ok",
		"stops":    stops,
		"vehicles": len(s.Backend.Vehicles()),
	})
}

func (s *Server) vehicles(w http.ResponseWriter, r *http.Request) {
	if route := r.URL.Query().Get("route"); route != "" {
		s.writeJSON(w, http.StatusOK, s.Backend.VehiclesOnRoute(route))
		return
	}
	s.writeJSON(w, http.StatusOK, s.Backend.Vehicles())
}

func (s *Server) vehicle(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	v, found := s.Backend.Vehicle(id)
	if !found {
		s.writeError(w, http.StatusNotFound, fmt.Errorf("vehicle %s not found", id))
		return
	}
	s.writeJSON(w, http.StatusOK, v)
}

func (s *Server) stops(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.Backend.Stops())
}

func (s *Server) stop(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid stop id: %w", err))
		return
	}
	stop := s.Backend.Stop(id)
	if stop == nil {
		s.writeError(w, http.StatusNotFound, fmt.Errorf("stop %d not found", id))
		return
	}
	s.writeJSON(w, http.StatusOK, stop)
}

func (s *Server) nearbyStops(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lat, err := strconv.ParseFloat(q.Get("lat"), 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid lat: %w", err))
		return
	}
	lon, err := strconv.ParseFloat(q.Get("lon"), 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid lon: %w", err))
		return
	}
	limit, err := intParam(r, "limit", DefaultNearbyLimit)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	stops, err := s.Backend.NearbyStops(lat, lon, limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, stops)
}

func (s *Server) routes(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.Backend.Routes())
}

func (s *Server) routeStops(w http.ResponseWriter, r *http.Request) {
	order, err := s.Backend.RouteStops(chi.URLParam(r, "route"))
	if err != nil {
		s.writeBackendError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, order)
}

func (s *Server) routePath(w http.ResponseWriter, r *http.Request) {
	route := chi.URLParam(r, "route")
	q := r.URL.Query()

	var from, to *int
	if q.Get("from") != "" || q.Get("to") != "" {
		f, err := strconv.Atoi(q.Get("from"))
		if err != nil {
			s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid from: %w", err))
			return
		}
		t, err := strconv.Atoi(q.Get("to"))
		if err != nil {
			s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid to: %w", err))
			return
		}
		from, to = &f, &t
	}

	selector := s.selector(r)
	path, err := selector.Select(r.Context(), func(ctx context.Context) ([]model.Coord, error) {
		return s.Backend.RoutePath(ctx, route, from, to)
	})
	if err != nil {
		s.writeBackendError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, PathResponse{
		Route:  route,
		From:   from,
		To:     to,
		Coords: path,
	})
}

func (s *Server) departures(w http.ResponseWriter, r *http.Request) {
	stopID, err := strconv.Atoi(chi.URLParam(r, "stop"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid stop id: %w", err))
		return
	}
	limit, err := intParam(r, "limit", DefaultDepartureLimit)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	up, err := s.Backend.Departures(chi.URLParam(r, "route"), stopID, limit)
	if err != nil {
		s.writeBackendError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, up)
}

func (s *Server) resolve(w http.ResponseWriter, r *http.Request) {
	label := r.URL.Query().Get("q")
	if label == "" {
		s.writeError(w, http.StatusBadRequest, errors.New("missing q"))
		return
	}

	m := s.Backend.Resolve(label)
	resp := MatchResponse{
		Label: m.Label,
		Kind:  m.Kind,
		Score: m.Score,
	}
	if m.OK() {
		resp.ID = m.ID
		resp.Stop = s.Backend.Stop(m.ID)
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) selector(r *http.Request) *routing.Selector {
	client := r.Header.Get(ClientIDHeader)
	if client == "" {
		client = r.RemoteAddr
	}
	v, err := s.selectors.Get(client)
	if err != nil {
		return &routing.Selector{}
	}
	return v.(*routing.Selector)
}

func intParam(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s: %q", name, v)
	}
	return n, nil
}

func (s *Server) writeBackendError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, transit.ErrUnknownRoute):
		s.writeError(w, http.StatusNotFound, err)
	case errors.Is(err, routing.ErrSuperseded), errors.Is(err, context.Canceled):
		// Client moved on, or went away
		s.writeError(w, http.StatusConflict, err)
	default:
		s.Logger.Error("request failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, ErrorResponse{Error: err.Error()})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	err := json.NewEncoder(w).Encode(v)
	if err != nil {
		s.Logger.Warn("writing response", "error", err)
	}
}
