package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"tidbyt.dev/transit"
	"tidbyt.dev/transit/config"
	"tidbyt.dev/transit/downloader"
	"tidbyt.dev/transit/metrics"
	"tidbyt.dev/transit/publisher"
	"tidbyt.dev/transit/routing"
	"tidbyt.dev/transit/storage"
)

var rootCmd = &cobra.Command{
	Use:          "transit",
	Short:        "Live transit tracker",
	Long:         "Tracks buses against a stop registry and timetables",
	SilenceUsage: true,
}

var (
	envFile     string
	registryURL string
	feedURL     string
	feedFormat  string
	routesFile  string
	routingURL  string
	storageKind string
	timezone    string
	cacheFile   string
	feedHeaders []string
	verbose     bool
)

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&envFile, "env-file", "", "", "Read environment from this file (default .env)")
	flags.StringVarP(&registryURL, "registry-url", "", "", "Stop registry URL")
	flags.StringVarP(&feedURL, "feed-url", "", "", "Live vehicle feed URL")
	flags.StringVarP(&feedFormat, "feed-format", "", "json", "Live vehicle feed format (json or gtfsrt)")
	flags.StringVarP(&routesFile, "routes", "", "", "Routes file (YAML)")
	flags.StringVarP(&routingURL, "routing-url", "", "", "OSRM compatible routing service URL")
	flags.StringVarP(&storageKind, "storage", "", "memory", "Registry storage (memory, sqlite or postgres)")
	flags.StringVarP(&timezone, "timezone", "", "UTC", "Timezone of the timetables")
	flags.StringVarP(&cacheFile, "cache", "", "", "Cache downloads in this file")
	flags.StringSliceVarP(&feedHeaders, "header", "", []string{}, "Live feed HTTP header")
	flags.BoolVarP(&verbose, "verbose", "v", false, "Debug logging")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func parseHeaders(headers []string) (map[string]string, error) {
	parsed := map[string]string{}
	for _, header := range headers {
		parts := strings.SplitN(header, ":", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("'%s' is not on form <key>:<value>", header)
		}
		parsed[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
	}
	return parsed, nil
}

func newLogger(w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// Environment first, then whatever flags were given explicitly.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	var files []string
	if envFile != "" {
		files = append(files, envFile)
	}
	cfg, err := config.Load(files...)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	for name, apply := range map[string]func(){
		"registry-url": func() { cfg.RegistryURL = registryURL },
		"feed-url":     func() { cfg.FeedURL = feedURL },
		"feed-format":  func() { cfg.FeedFormat = strings.ToLower(feedFormat) },
		"routes":       func() { cfg.RoutesFile = routesFile },
		"routing-url":  func() { cfg.RoutingURL = routingURL },
		"storage":      func() { cfg.Storage = strings.ToLower(storageKind) },
		"timezone":     func() { cfg.Timezone = timezone },
		"cache":        func() { cfg.CacheFile = cacheFile },
	} {
		if flags.Changed(name) {
			apply()
		}
	}

	err = cfg.Validate()
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Everything a command might need, wired from config.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *metrics.Collector
	engine  *transit.Engine
	tracker *transit.Tracker
	nats    *publisher.NATS
	closers []func() error
}

func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	return errors.Join(errs...)
}

func setup(cmd *cobra.Command) (*app, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:     cfg,
		logger:  newLogger(os.Stderr),
		metrics: metrics.NewCollector(cfg.PollInterval),
	}
	slog.SetDefault(a.logger)

	s, err := openStorage(cfg)
	if err != nil {
		return nil, err
	}
	if c, ok := s.(io.Closer); ok {
		a.closers = append(a.closers, c.Close)
	}

	var d downloader.Downloader = downloader.NewMemoryDownloader()
	if cfg.CacheFile != "" {
		fs, err := downloader.NewFilesystem(cfg.CacheFile)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("creating download cache: %w", err)
		}
		fs.Logger = a.logger
		d = fs
	}

	routes := []transit.Route{}
	if cfg.RoutesFile != "" {
		rf, err := config.LoadRoutes(cfg.RoutesFile)
		if err != nil {
			a.Close()
			return nil, err
		}
		routes, err = rf.EngineRoutes()
		if err != nil {
			a.Close()
			return nil, err
		}
	}

	manager := transit.NewManager(s)
	manager.Downloader = d
	manager.Logger = a.logger
	manager.Metrics = a.metrics

	if cfg.FeedURL != "" {
		headers, err := parseHeaders(feedHeaders)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("invalid header: %w", err)
		}

		t := transit.NewTracker(cfg.FeedURL, d)
		t.FeedHeaders = headers
		t.Format = transit.FeedFormat(cfg.FeedFormat)
		t.PollInterval = cfg.PollInterval
		t.GraceWindow = cfg.GraceWindow
		t.StaleAfter = cfg.StaleAfter
		t.MaxRetries = uint64(cfg.MaxRetries)
		t.Logger = a.logger
		t.Metrics = a.metrics
		a.tracker = t
	}

	if cfg.NATSURL != "" {
		p, err := publisher.NewNATS(cfg.NATSURL, cfg.NATSPrefix, a.logger, a.metrics)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.nats = p
		a.closers = append(a.closers, func() error { p.Close(); return nil })
		if a.tracker != nil {
			a.tracker.Sink = p
		}
	}

	var client routing.Client
	if cfg.RoutingURL != "" {
		osrm := routing.NewOSRM(cfg.RoutingURL, d)
		osrm.Profile = cfg.RoutingProfile
		client = osrm
	}

	e := transit.NewEngine(cfg.RegistryURL, routes, manager, a.tracker, client)
	e.Threshold = cfg.Threshold
	e.Location = cfg.Location
	e.Logger = a.logger
	e.Metrics = a.metrics
	e.Builder.Cache = routing.NewSegmentCache(routing.DefaultCacheSize, routing.DefaultCacheTTL)
	e.Builder.MaxCoordsPerRequest = cfg.MaxCoordsPerRequest
	e.Builder.Logger = a.logger
	e.Builder.Metrics = a.metrics
	a.engine = e

	return a, nil
}

func openStorage(cfg *config.Config) (storage.Storage, error) {
	switch cfg.Storage {
	case "sqlite":
		dir := cfg.SQLiteDir
		if dir == "" {
			dir = "."
		}
		return storage.NewSQLiteStorage(storage.SQLiteConfig{OnDisk: true, Directory: dir})
	case "postgres":
		return storage.NewPSQLStorage(cfg.PostgresURL, false)
	default:
		return storage.NewMemoryStorage(), nil
	}
}

// Loads registry and schedules. Schedule failures are reported but
// don't stop the command.
func (a *app) load(ctx context.Context) error {
	err := a.engine.Load(ctx)
	if err == nil {
		return nil
	}
	if a.engine.Registry() == nil {
		return err
	}
	a.logger.Warn("partial load", "error", err)
	return nil
}
