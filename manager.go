package transit

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"tidbyt.dev/transit/downloader"
	"tidbyt.dev/transit/metrics"
	"tidbyt.dev/transit/model"
	"tidbyt.dev/transit/parse"
	"tidbyt.dev/transit/resolve"
	"tidbyt.dev/transit/storage"
)

const (
	DefaultRegistryRefreshInterval = 12 * time.Hour
	DefaultRegistryTimeout         = 60 * time.Second
	DefaultRegistryMaxSize         = 64 << 20 // 64 MB
	DefaultScheduleTimeout         = 30 * time.Second
	DefaultScheduleMaxSize         = 4 << 20 // 4 MB
	DefaultScheduleTTL             = 1 * time.Hour
)

var (
	ErrNoRegistry   = errors.New("no registry loaded")
	ErrUnknownRoute = errors.New("unknown route")
)

// Manages the stop registry and route schedules.
type Manager struct {
	RegistryRefreshInterval time.Duration
	RegistryTimeout         time.Duration
	RegistryMaxSize         int
	ScheduleTimeout         time.Duration
	ScheduleMaxSize         int
	ScheduleTTL             time.Duration
	Downloader              downloader.Downloader
	Logger                  *slog.Logger
	Metrics                 *metrics.Collector
	TimeNow                 func() time.Time

	storage storage.Storage
}

// Creates a new Manager on top of the given storage.
//
// Parsed registries are persisted in storage, keyed by content hash,
// so the same asset is only parsed once. Schedules are small and
// kept in the downloader's cache instead.
func NewManager(s storage.Storage) *Manager {
	return &Manager{
		RegistryRefreshInterval: DefaultRegistryRefreshInterval,
		RegistryTimeout:         DefaultRegistryTimeout,
		RegistryMaxSize:         DefaultRegistryMaxSize,
		ScheduleTimeout:         DefaultScheduleTimeout,
		ScheduleMaxSize:         DefaultScheduleMaxSize,
		ScheduleTTL:             DefaultScheduleTTL,
		Downloader:              downloader.NewMemoryDownloader(),
		Logger:                  slog.Default(),
		TimeNow:                 time.Now,

		storage: s,
	}
}

// Loads the most recently retrieved registry for a URL from
// storage. Returns ErrNoRegistry if there is none.
func (m *Manager) LoadRegistry(registryURL string) (*Registry, error) {
	registries, err := m.storage.ListRegistries(storage.ListRegistriesFilter{URL: registryURL})
	if err != nil {
		return nil, fmt.Errorf("listing registries: %w", err)
	}
	if len(registries) == 0 {
		return nil, ErrNoRegistry
	}

	return m.openRegistry(registries[0])
}

// Downloads the registry at a URL unless storage holds a copy
// retrieved within RegistryRefreshInterval.
//
// If the downloaded data is already in storage (under any URL), it
// is not parsed again.
func (m *Manager) RefreshRegistry(ctx context.Context, registryURL string) (*Registry, error) {
	registries, err := m.storage.ListRegistries(storage.ListRegistriesFilter{URL: registryURL})
	if err != nil {
		return nil, fmt.Errorf("listing registries: %w", err)
	}
	now := m.TimeNow().UTC()
	if len(registries) > 0 && registries[0].RetrievedAt.After(now.Add(-m.RegistryRefreshInterval)) {
		m.Metrics.ObserveRegistry("unchanged", registries[0].NumStops)
		return m.openRegistry(registries[0])
	}

	metadata, err := m.processRegistry(ctx, registryURL, now)
	if err != nil {
		m.Metrics.ObserveRegistry("error", 0)
		return nil, err
	}

	return m.openRegistry(metadata)
}

// Downloads and, if needed, parses the registry. Returns the
// metadata record for this URL.
func (m *Manager) processRegistry(ctx context.Context, registryURL string, now time.Time) (*storage.RegistryMetadata, error) {
	body, err := m.Downloader.Get(ctx, registryURL, nil, downloader.GetOptions{
		Timeout: m.RegistryTimeout,
		MaxSize: m.RegistryMaxSize,
	})
	if err != nil {
		return nil, fmt.Errorf("downloading registry at %s: %w", registryURL, err)
	}
	hash := fmt.Sprintf("%x", sha256.Sum256(body))

	// The data we just downloaded may already exist in storage.
	existing, err := m.storage.ListRegistries(storage.ListRegistriesFilter{Hash: hash})
	if err != nil {
		return nil, fmt.Errorf("listing registries: %w", err)
	}
	if len(existing) > 0 {
		metadata := *existing[0]
		metadata.URL = registryURL
		metadata.RetrievedAt = now
		err = m.storage.WriteRegistryMetadata(&metadata)
		if err != nil {
			return nil, fmt.Errorf("writing metadata: %w", err)
		}
		m.Metrics.ObserveRegistry("unchanged", metadata.NumStops)
		return &metadata, nil
	}

	// Hash doesn't exist in storage. Parse the registry.
	writer, err := m.storage.GetWriter(hash)
	if err != nil {
		return nil, fmt.Errorf("getting writer: %w", err)
	}

	metadata, err := parse.ParseRegistry(writer, bytes.TrimSpace(body))
	if err != nil {
		writer.Close()
		return nil, fmt.Errorf("parsing registry: %w", err)
	}

	metadata.Hash = hash
	metadata.URL = registryURL
	metadata.RetrievedAt = now

	err = m.storage.WriteRegistryMetadata(metadata)
	if err != nil {
		return nil, fmt.Errorf("writing metadata: %w", err)
	}

	m.logger().Info(
		"parsed registry",
		"url", registryURL,
		"hash", hash[:12],
		"stops", metadata.NumStops,
		"matched", metadata.NumMatched,
	)
	m.Metrics.ObserveRegistry("parsed", metadata.NumStops)

	return metadata, nil
}

func (m *Manager) openRegistry(metadata *storage.RegistryMetadata) (*Registry, error) {
	reader, err := m.storage.GetReader(metadata.Hash)
	if err != nil {
		return nil, fmt.Errorf("getting reader: %w", err)
	}
	registry, err := NewRegistry(reader, metadata)
	if err != nil {
		return nil, fmt.Errorf("creating registry: %w", err)
	}
	return registry, nil
}

// Downloads and parses the schedule of every route with a schedule
// URL. Routes that fail are left out and reported in the returned
// error, alongside the schedules that did load.
func (m *Manager) LoadSchedules(ctx context.Context, routes []Route, resolver resolve.Resolver) (*Schedules, error) {
	schedules := NewSchedules()

	errs := []error{}
	for _, route := range routes {
		if route.ScheduleURL == "" {
			continue
		}

		rs, err := m.loadSchedule(ctx, route, resolver)
		m.Metrics.IncScheduleLoad(err == nil)
		if err != nil {
			errs = append(errs, fmt.Errorf("route %s: %w", route.Name, err))
			continue
		}

		if len(rs.Unresolved) > 0 {
			m.logger().Warn("unresolved schedule columns", "route", route.Name, "labels", rs.Unresolved)
		}
		m.logger().Info(
			"loaded schedule",
			"route", route.Name,
			"weekday_stops", len(rs.StopOrder.Weekday),
			"weekend_stops", len(rs.StopOrder.Weekend),
		)

		schedules.Add(rs)
	}

	return schedules, errors.Join(errs...)
}

func (m *Manager) loadSchedule(ctx context.Context, route Route, resolver resolve.Resolver) (*model.RouteSchedule, error) {
	body, err := m.Downloader.Get(ctx, route.ScheduleURL, nil, downloader.GetOptions{
		Cache:    true,
		CacheTTL: m.ScheduleTTL,
		Timeout:  m.ScheduleTimeout,
		MaxSize:  m.ScheduleMaxSize,
	})
	if err != nil {
		return nil, fmt.Errorf("downloading schedule: %w", err)
	}

	rs, err := parse.ParseSchedule(route.Name, bytes.NewReader(body), resolver, route.Variant)
	if err != nil {
		return nil, fmt.Errorf("parsing schedule: %w", err)
	}

	return rs, nil
}

func (m *Manager) logger() *slog.Logger {
	if m.Logger == nil {
		return slog.Default()
	}
	return m.Logger
}
