package transit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"tidbyt.dev/transit/downloader"
	"tidbyt.dev/transit/metrics"
	"tidbyt.dev/transit/model"
	"tidbyt.dev/transit/parse"
)

const (
	DefaultPollInterval   = 10 * time.Second
	DefaultGraceWindow    = 20 * time.Second
	DefaultMaxRetries     = 3
	DefaultInitialBackoff = 500 * time.Millisecond
	DefaultFeedTimeout    = 10 * time.Second
	DefaultFeedMaxSize    = 4 << 20 // 4 MB
)

type FeedFormat string

const (
	FeedFormatJSON   FeedFormat = "json"
	FeedFormatGTFSRT FeedFormat = "gtfsrt"
)

// Receives the live snapshot after every successful poll.
type Sink interface {
	Publish(ctx context.Context, vehicles []model.Vehicle) error
}

type trackedVehicle struct {
	vehicle model.Vehicle
	seenAt  time.Time
}

// Polls the live vehicle feed and maintains the reconciled snapshot.
//
// Polls are sequential. A poll normalizes and merges the whole batch
// before swapping it in, so readers never see a partial poll. Failed
// polls leave the snapshot untouched.
type Tracker struct {
	FeedURL        string
	FeedHeaders    map[string]string
	Format         FeedFormat
	PollInterval   time.Duration
	GraceWindow    time.Duration
	StaleAfter     time.Duration
	MaxRetries     uint64
	InitialBackoff time.Duration
	FeedTimeout    time.Duration
	FeedMaxSize    int
	Downloader     downloader.Downloader
	Sink           Sink
	Logger         *slog.Logger
	Metrics        *metrics.Collector
	TimeNow        func() time.Time

	mutex    sync.RWMutex
	vehicles map[string]trackedVehicle
	lastPoll time.Time
	lastErr  error
}

func NewTracker(feedURL string, d downloader.Downloader) *Tracker {
	return &Tracker{
		FeedURL:        feedURL,
		Format:         FeedFormatJSON,
		PollInterval:   DefaultPollInterval,
		GraceWindow:    DefaultGraceWindow,
		StaleAfter:     parse.DefaultStaleAfter,
		MaxRetries:     DefaultMaxRetries,
		InitialBackoff: DefaultInitialBackoff,
		FeedTimeout:    DefaultFeedTimeout,
		FeedMaxSize:    DefaultFeedMaxSize,
		Downloader:     d,
		Logger:         slog.Default(),
		TimeNow:        time.Now,

		vehicles: map[string]trackedVehicle{},
	}
}

// Polls every PollInterval until ctx is done. Failed polls are
// logged and the loop carries on.
func (t *Tracker) Run(ctx context.Context) error {
	ticker := time.NewTicker(t.PollInterval)
	defer ticker.Stop()

	for {
		t.Poll(ctx)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Fetches the feed, retrying with exponential backoff, and merges it
// into the snapshot. Returns the fetch error once retries run out.
func (t *Tracker) Poll(ctx context.Context) error {
	start := time.Now()

	vehicles, err := t.fetch(ctx)
	if err != nil {
		t.mutex.Lock()
		t.lastErr = err
		t.mutex.Unlock()

		t.Metrics.ObservePoll(false, time.Since(start))
		t.logger().Error("poll failed, keeping last known vehicles", "error", err)
		return err
	}

	now := t.TimeNow()

	t.mutex.Lock()
	merged, evicted := t.merge(vehicles, now)
	t.vehicles = merged
	t.lastPoll = now
	t.lastErr = nil
	snapshot := t.snapshot()
	t.mutex.Unlock()

	stale := 0
	for _, v := range snapshot {
		if v.IsStale {
			stale++
		}
	}
	t.Metrics.SetVehicles(len(snapshot), stale)
	t.Metrics.AddEvictions(evicted)
	t.Metrics.ObservePoll(true, time.Since(start))

	if evicted > 0 {
		t.logger().Debug("evicted vehicles", "count", evicted)
	}

	if t.Sink != nil {
		err = t.Sink.Publish(ctx, snapshot)
		if err != nil {
			t.logger().Warn("publishing snapshot", "error", err)
		}
	}

	return nil
}

func (t *Tracker) fetch(ctx context.Context) ([]model.Vehicle, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = t.InitialBackoff
	b.MaxElapsedTime = 0

	attempt := func() ([]model.Vehicle, error) {
		body, err := t.Downloader.Get(ctx, t.FeedURL, t.FeedHeaders, downloader.GetOptions{
			Timeout: t.FeedTimeout,
			MaxSize: t.FeedMaxSize,
		})
		if err != nil {
			var statusErr *downloader.StatusError
			if errors.As(err, &statusErr) && !statusErr.Temporary() {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}

		feed, err := t.parse(body)
		if err != nil {
			return nil, backoff.Permanent(err)
		}

		for _, s := range feed.Skipped {
			t.logger().Warn("skipping vehicle record", "key", s.Key, "error", s.Err)
		}
		t.Metrics.AddSkipped(len(feed.Skipped))

		return feed.Vehicles, nil
	}

	vehicles, err := backoff.RetryNotifyWithData(
		attempt,
		backoff.WithContext(backoff.WithMaxRetries(b, t.MaxRetries), ctx),
		func(err error, d time.Duration) {
			t.Metrics.IncPollRetry()
			t.logger().Warn("fetching feed failed, retrying", "in", d, "error", err)
		},
	)
	if err != nil {
		return nil, fmt.Errorf("fetching feed: %w", err)
	}

	return vehicles, nil
}

func (t *Tracker) parse(body []byte) (*parse.VehicleFeed, error) {
	now := t.TimeNow()
	switch t.Format {
	case FeedFormatGTFSRT:
		return parse.ParseVehicleFeedGTFSRT(body, now, t.StaleAfter)
	case FeedFormatJSON, "":
		return parse.ParseVehicleFeed(body, now, t.StaleAfter)
	}
	return nil, fmt.Errorf("unknown feed format '%s'", t.Format)
}

// Builds the next snapshot. Placeholder routes keep the previous
// route of the same vehicle, and vehicles not seen within
// PollInterval + GraceWindow are dropped. Must hold the lock.
func (t *Tracker) merge(vehicles []model.Vehicle, now time.Time) (map[string]trackedVehicle, int) {
	next := make(map[string]trackedVehicle, len(t.vehicles)+len(vehicles))
	for id, tv := range t.vehicles {
		next[id] = tv
	}

	for _, v := range vehicles {
		if prev, found := t.vehicles[v.ID]; found && v.Route == "" {
			v.Route = prev.vehicle.Route
		}
		next[v.ID] = trackedVehicle{vehicle: v, seenAt: now}
	}

	evicted := 0
	window := t.PollInterval + t.GraceWindow
	for id, tv := range next {
		if now.Sub(tv.seenAt) > window {
			delete(next, id)
			evicted++
			continue
		}
		if !tv.seenAt.Equal(now) {
			tv.vehicle.IsStale = parse.IsStale(tv.vehicle.UpdatedAt, now, t.StaleAfter)
			next[id] = tv
		}
	}

	return next, evicted
}

// Must hold the lock.
func (t *Tracker) snapshot() []model.Vehicle {
	vehicles := make([]model.Vehicle, 0, len(t.vehicles))
	for _, tv := range t.vehicles {
		vehicles = append(vehicles, tv.vehicle)
	}
	sort.Slice(vehicles, func(i, j int) bool {
		return vehicles[i].ID < vehicles[j].ID
	})
	return vehicles
}

// Current snapshot, ordered by vehicle ID.
func (t *Tracker) Vehicles() []model.Vehicle {
	t.mutex.RLock()
	defer t.mutex.RUnlock()
	return t.snapshot()
}

func (t *Tracker) Vehicle(id string) (model.Vehicle, bool) {
	t.mutex.RLock()
	defer t.mutex.RUnlock()
	tv, found := t.vehicles[id]
	return tv.vehicle, found
}

func (t *Tracker) VehiclesOnRoute(route string) []model.Vehicle {
	vehicles := []model.Vehicle{}
	for _, v := range t.Vehicles() {
		if v.Route == route {
			vehicles = append(vehicles, v)
		}
	}
	return vehicles
}

// Time of the last successful poll, and the error of the most recent
// poll if it failed.
func (t *Tracker) Status() (time.Time, error) {
	t.mutex.RLock()
	defer t.mutex.RUnlock()
	return t.lastPoll, t.lastErr
}

func (t *Tracker) logger() *slog.Logger {
	if t.Logger == nil {
		return slog.Default()
	}
	return t.Logger
}
