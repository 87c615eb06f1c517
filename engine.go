package transit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"tidbyt.dev/transit/metrics"
	"tidbyt.dev/transit/model"
	"tidbyt.dev/transit/resolve"
	"tidbyt.dev/transit/routing"
)

// Ties the registry, schedules, path builder and live tracker
// together, and answers queries against their current state.
type Engine struct {
	RegistryURL string
	Threshold   float64
	Location    *time.Location
	Manager     *Manager
	Tracker     *Tracker
	Builder     *routing.Builder
	Logger      *slog.Logger
	Metrics     *metrics.Collector
	TimeNow     func() time.Time

	routes map[string]Route

	mutex     sync.RWMutex
	registry  *Registry
	resolver  resolve.Resolver
	indexed   *resolve.Indexed
	schedules *Schedules
}

// The builder's stop lookups go through the engine, so they follow
// registry reloads.
func NewEngine(registryURL string, routes []Route, m *Manager, t *Tracker, client routing.Client) *Engine {
	e := &Engine{
		RegistryURL: registryURL,
		Threshold:   resolve.DefaultThreshold,
		Location:    time.UTC,
		Manager:     m,
		Tracker:     t,
		Logger:      slog.Default(),
		TimeNow:     time.Now,
		routes:      map[string]Route{},
	}
	for _, r := range routes {
		e.routes[r.Name] = r
	}
	e.Builder = routing.NewBuilder(client, e)
	return e
}

// Loads the registry and the schedules. On failure, whatever was
// loaded before stays in place. A registry previously persisted in
// storage stands in for one that can't be downloaded.
func (e *Engine) Load(ctx context.Context) error {
	registry, err := e.Manager.RefreshRegistry(ctx, e.RegistryURL)
	if err != nil {
		e.mutex.RLock()
		current := e.registry
		e.mutex.RUnlock()
		if current != nil {
			return fmt.Errorf("refreshing registry: %w", err)
		}

		stored, storedErr := e.Manager.LoadRegistry(e.RegistryURL)
		if storedErr != nil {
			return errors.Join(fmt.Errorf("refreshing registry: %w", err), storedErr)
		}
		e.logger().Warn("registry refresh failed, using stored copy", "error", err)
		registry = stored
	}

	candidates := registry.Candidates()
	resolver := resolve.NewPairwise(candidates, e.Threshold)
	indexed := resolve.NewIndexed(candidates, e.Threshold)

	routes := make([]Route, 0, len(e.routes))
	for _, name := range e.routeNames() {
		routes = append(routes, e.routes[name])
	}
	schedules, schedErr := e.Manager.LoadSchedules(ctx, routes, resolver)

	e.mutex.Lock()
	e.registry = registry
	e.resolver = resolver
	e.indexed = indexed
	e.schedules = schedules
	e.mutex.Unlock()

	if schedErr != nil {
		return fmt.Errorf("loading schedules: %w", schedErr)
	}
	return nil
}

// Runs the live tracker, if any, and reloads the registry and
// schedules every refresh interval, until ctx is done.
func (e *Engine) Run(ctx context.Context, refreshInterval time.Duration) error {
	g, gctx := errgroup.WithContext(ctx)

	if e.Tracker != nil {
		g.Go(func() error {
			return e.Tracker.Run(gctx)
		})
	}

	if refreshInterval > 0 {
		g.Go(func() error {
			ticker := time.NewTicker(refreshInterval)
			defer ticker.Stop()
			for {
				select {
				case <-gctx.Done():
					return gctx.Err()
				case <-ticker.C:
					err := e.Load(gctx)
					if err != nil {
						e.logger().Warn("reloading", "error", err)
					}
				}
			}
		})
	}

	return g.Wait()
}

func (e *Engine) Now() time.Time {
	loc := e.Location
	if loc == nil {
		loc = time.UTC
	}
	return e.TimeNow().In(loc)
}

func (e *Engine) Registry() *Registry {
	e.mutex.RLock()
	defer e.mutex.RUnlock()
	return e.registry
}

// Returns nil for unknown stops, or before the registry has loaded.
func (e *Engine) Stop(id int) *model.Stop {
	return e.Registry().Stop(id)
}

func (e *Engine) Stops() []*model.Stop {
	stops := e.Registry().Stops()
	if stops == nil {
		return []*model.Stop{}
	}
	return stops
}

func (e *Engine) NearbyStops(lat, lon float64, limit int) ([]model.Stop, error) {
	return e.Registry().NearbyStops(lat, lon, limit)
}

// Resolves a free text stop label against the registry.
func (e *Engine) Resolve(label string) resolve.Match {
	e.mutex.RLock()
	resolver := e.resolver
	e.mutex.RUnlock()

	if resolver == nil {
		return resolve.Match{Label: label, Kind: resolve.KindUnresolved}
	}
	m := resolver.Match(label)
	e.Metrics.IncResolution(string(m.Kind))
	return m
}

func (e *Engine) ResolveAll(ctx context.Context, labels []string) ([]resolve.Match, error) {
	e.mutex.RLock()
	indexed := e.indexed
	e.mutex.RUnlock()

	if indexed == nil {
		return nil, ErrNoRegistry
	}
	matches, err := indexed.ResolveAll(ctx, labels)
	if err != nil {
		return nil, err
	}
	for _, m := range matches {
		e.Metrics.IncResolution(string(m.Kind))
	}
	return matches, nil
}

func (e *Engine) Vehicles() []model.Vehicle {
	if e.Tracker == nil {
		return []model.Vehicle{}
	}
	return e.Tracker.Vehicles()
}

func (e *Engine) Vehicle(id string) (model.Vehicle, bool) {
	if e.Tracker == nil {
		return model.Vehicle{}, false
	}
	return e.Tracker.Vehicle(id)
}

func (e *Engine) VehiclesOnRoute(route string) []model.Vehicle {
	if e.Tracker == nil {
		return []model.Vehicle{}
	}
	return e.Tracker.VehiclesOnRoute(route)
}

func (e *Engine) routeNames() []string {
	names := make([]string, 0, len(e.routes))
	for name := range e.routes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Names of the configured routes.
func (e *Engine) Routes() []string {
	return e.routeNames()
}

func (e *Engine) schedule(route string) (*model.RouteSchedule, error) {
	if _, found := e.routes[route]; !found {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRoute, route)
	}
	e.mutex.RLock()
	defer e.mutex.RUnlock()
	return e.schedules.Route(route), nil
}

// Stop order of a route for today's service day. Empty if the
// route's schedule hasn't loaded.
func (e *Engine) RouteStops(route string) (model.RouteStopOrder, error) {
	day := model.ServiceDayOf(e.Now())

	rs, err := e.schedule(route)
	if err != nil {
		return model.RouteStopOrder{}, err
	}
	if rs == nil {
		return model.RouteStopOrder{Route: route, ServiceDay: day, StopIDs: []int{}}, nil
	}
	return rs.Order(day), nil
}

// Polyline of a route for today's service day. Without from and to,
// this is the full round trip. With both, it's the trip between them.
func (e *Engine) RoutePath(ctx context.Context, route string, from, to *int) ([]model.Coord, error) {
	order, err := e.RouteStops(route)
	if err != nil {
		return nil, err
	}
	overrides := e.routes[route].Overrides

	if from == nil || to == nil {
		return e.Builder.BuildRoundTrip(ctx, order.StopIDs, overrides)
	}

	stops, ok := routing.TripStops(order.StopIDs, *from, *to)
	if !ok {
		return []model.Coord{}, nil
	}
	return e.Builder.BuildPath(ctx, stops, overrides)
}

// Upcoming departures of a route from a stop.
func (e *Engine) Departures(route string, stopID int, limit int) (model.Upcoming, error) {
	rs, err := e.schedule(route)
	if err != nil {
		return model.Upcoming{}, err
	}
	return UpcomingDepartures(rs, stopID, e.Now(), limit), nil
}

func (e *Engine) logger() *slog.Logger {
	if e.Logger == nil {
		return slog.Default()
	}
	return e.Logger
}
