package routing

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"tidbyt.dev/transit/metrics"
	"tidbyt.dev/transit/model"
	"tidbyt.dev/transit/resolve"
)

const DefaultMaxCoordsPerRequest = 25

// Looks up stops by id. Returns nil for unknown stops.
type Stops interface {
	Stop(id int) *model.Stop
}

// Hand authored corrections for a single route.
type Overrides struct {
	// Replaces the registry coordinate of a stop.
	StopCoords map[int]model.Coord

	// Waypoints spliced between two consecutive stops instead of
	// asking the routing service. Keyed by WaypointKey.
	Waypoints map[string][]model.Coord
}

func WaypointKey(from, to string) string {
	return resolve.Normalize(from) + "|" + resolve.Normalize(to)
}

type Builder struct {
	Client              Client
	Cache               *SegmentCache
	Stops               Stops
	MaxCoordsPerRequest int
	Logger              *slog.Logger
	Metrics             *metrics.Collector
}

func NewBuilder(client Client, stops Stops) *Builder {
	return &Builder{
		Client:              client,
		Cache:               NewSegmentCache(DefaultCacheSize, DefaultCacheTTL),
		Stops:               stops,
		MaxCoordsPerRequest: DefaultMaxCoordsPerRequest,
		Logger:              slog.Default(),
	}
}

type waypoint struct {
	name  string
	coord model.Coord
}

// A slice of the path. Fixed pieces are spliced as is, the rest go
// through the routing service.
type piece struct {
	coords []model.Coord
	fixed  bool
}

// Builds a polyline through the given stops. Never returns an empty
// path for 2 or more locatable stops: chunks the routing service
// can't handle fall back to straight lines. The only error is the
// context's.
func (b *Builder) BuildPath(ctx context.Context, stopIDs []int, overrides Overrides) ([]model.Coord, error) {
	start := time.Now()
	defer func() { b.Metrics.ObservePath(time.Since(start)) }()

	points := b.waypoints(stopIDs, overrides)
	if len(points) == 0 {
		return []model.Coord{}, nil
	}
	if len(points) == 1 {
		return []model.Coord{points[0].coord}, nil
	}

	pieces := b.pieces(points, overrides)

	results := make([][]model.Coord, len(pieces))
	g, gctx := errgroup.WithContext(ctx)
	for i, p := range pieces {
		i, p := i, p
		if p.fixed {
			results[i] = p.coords
			continue
		}
		g.Go(func() error {
			results[i] = b.routeChunk(gctx, p.coords)
			return nil
		})
	}
	g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path := []model.Coord{}
	for _, r := range results {
		for j, c := range r {
			if j == 0 && len(path) > 0 && path[len(path)-1] == c {
				continue
			}
			path = append(path, c)
		}
	}

	return path, nil
}

// Closes the loop by returning to the first stop.
func (b *Builder) BuildRoundTrip(ctx context.Context, stopIDs []int, overrides Overrides) ([]model.Coord, error) {
	if len(stopIDs) > 1 && stopIDs[0] != stopIDs[len(stopIDs)-1] {
		closed := make([]int, 0, len(stopIDs)+1)
		closed = append(closed, stopIDs...)
		stopIDs = append(closed, stopIDs[0])
	}
	return b.BuildPath(ctx, stopIDs, overrides)
}

func (b *Builder) waypoints(stopIDs []int, overrides Overrides) []waypoint {
	if b.Stops == nil {
		return nil
	}

	points := []waypoint{}
	for _, id := range stopIDs {
		stop := b.Stops.Stop(id)
		if stop == nil {
			continue
		}
		if c, found := overrides.StopCoords[id]; found {
			points = append(points, waypoint{stop.Name, c})
		} else if stop.Coord != nil {
			points = append(points, waypoint{stop.Name, *stop.Coord})
		}
	}
	return points
}

// Splits the stop pairs into fixed waypoint pieces and runs of routed
// pairs, the latter chunked to MaxCoordsPerRequest. Adjacent pieces
// share their boundary point.
func (b *Builder) pieces(points []waypoint, overrides Overrides) []piece {
	max := b.MaxCoordsPerRequest
	if max < 2 {
		max = DefaultMaxCoordsPerRequest
	}

	pieces := []piece{}
	run := []model.Coord{}

	flush := func() {
		for start := 0; start < len(run)-1; {
			end := start + max - 1
			if end > len(run)-1 {
				end = len(run) - 1
			}
			pieces = append(pieces, piece{coords: run[start : end+1]})
			start = end
		}
		run = []model.Coord{}
	}

	for i := 0; i < len(points)-1; i++ {
		from, to := points[i], points[i+1]

		wps, found := overrides.Waypoints[WaypointKey(from.name, to.name)]
		if found {
			flush()
			coords := make([]model.Coord, 0, len(wps)+2)
			coords = append(coords, from.coord)
			coords = append(coords, wps...)
			coords = append(coords, to.coord)
			pieces = append(pieces, piece{coords: coords, fixed: true})
			continue
		}

		if len(run) == 0 {
			run = append(run, from.coord)
		}
		run = append(run, to.coord)
	}
	flush()

	return pieces
}

func (b *Builder) routeChunk(ctx context.Context, coords []model.Coord) []model.Coord {
	if b.Cache != nil {
		if path, ok := b.Cache.Get(coords); ok {
			b.Metrics.IncRouteChunk("cached")
			return path
		}
	}

	var path []model.Coord
	var err error
	if b.Client == nil {
		err = ErrNoGeometry
	} else {
		path, err = b.Client.Route(ctx, coords)
	}
	if err == nil && len(path) == 0 {
		err = ErrNoGeometry
	}
	if err != nil {
		if ctx.Err() == nil {
			b.logger().Warn("routing failed, using straight line", "points", len(coords), "error", err)
		}
		b.Metrics.IncRouteChunk("fallback")
		return coords
	}

	// A cancelled build must not write to the cache
	if b.Cache != nil && ctx.Err() == nil {
		b.Cache.Set(coords, path)
	}
	b.Metrics.IncRouteChunk("routed")

	return path
}

func (b *Builder) logger() *slog.Logger {
	if b.Logger == nil {
		return slog.Default()
	}
	return b.Logger
}

// Stops visited going from one stop to another along a looping stop
// order. Wraps around the end of the order when to precedes from.
// When from equals to, the result is the full loop back to from.
func TripStops(order []int, from, to int) ([]int, bool) {
	fromIdx, toIdx := -1, -1
	for i, id := range order {
		if id == from && fromIdx < 0 {
			fromIdx = i
		}
		if id == to && toIdx < 0 {
			toIdx = i
		}
	}
	if fromIdx < 0 || toIdx < 0 {
		return nil, false
	}

	if fromIdx < toIdx {
		return append([]int{}, order[fromIdx:toIdx+1]...), true
	}

	stops := append([]int{}, order[fromIdx:]...)
	stops = append(stops, order[:toIdx+1]...)
	return stops, true
}
