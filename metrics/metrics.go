package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus metrics for the engine, kept on a private registry.
// All methods are safe to call on a nil Collector, which records
// nothing.
type Collector struct {
	reg *prometheus.Registry

	Polls          *prometheus.CounterVec // result label: ok|error
	PollRetries    prometheus.Counter
	PollDuration   prometheus.Histogram
	LiveVehicles   prometheus.Gauge
	StaleVehicles  prometheus.Gauge
	Evictions      prometheus.Counter
	SkippedRecords prometheus.Counter

	RouteChunks  *prometheus.CounterVec // outcome label: routed|cached|fallback
	PathDuration prometheus.Histogram

	Resolutions *prometheus.CounterVec // kind label: exact|fuzzy|unresolved

	RegistryStops    prometheus.Gauge
	RegistryLoads    *prometheus.CounterVec // result label: parsed|unchanged|error
	ScheduleLoads    *prometheus.CounterVec // result label: ok|error
	NATSPublished    prometheus.Counter
	NATSPublishErrs  prometheus.Counter
	PollIntervalSecs prometheus.Gauge
}

func NewCollector(pollInterval time.Duration) *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		Polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "transit_polls_total",
			Help: "Live feed polls by result.",
		}, []string{"result"}),
		PollRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "transit_poll_retries_total",
			Help: "Live feed fetch attempts that were retried.",
		}),
		PollDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "transit_poll_duration_seconds",
			Help:    "Duration of a full poll, retries included.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		LiveVehicles: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "transit_live_vehicles",
			Help: "Vehicles in the live snapshot.",
		}),
		StaleVehicles: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "transit_stale_vehicles",
			Help: "Vehicles in the live snapshot flagged stale.",
		}),
		Evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "transit_vehicle_evictions_total",
			Help: "Vehicles dropped for not being refreshed.",
		}),
		SkippedRecords: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "transit_skipped_records_total",
			Help: "Feed records skipped as malformed.",
		}),
		RouteChunks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "transit_route_chunks_total",
			Help: "Path chunks by outcome.",
		}, []string{"outcome"}),
		PathDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "transit_path_build_duration_seconds",
			Help:    "Duration of path builds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
		Resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "transit_name_resolutions_total",
			Help: "Stop label resolutions by kind.",
		}, []string{"kind"}),
		RegistryStops: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "transit_registry_stops",
			Help: "Stops in the loaded registry.",
		}),
		RegistryLoads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "transit_registry_loads_total",
			Help: "Registry refreshes by result.",
		}, []string{"result"}),
		ScheduleLoads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "transit_schedule_loads_total",
			Help: "Schedule loads by result.",
		}, []string{"result"}),
		NATSPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "transit_nats_published_total",
			Help: "Total NATS messages published.",
		}),
		NATSPublishErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "transit_nats_publish_errors_total",
			Help: "Total NATS publish errors.",
		}),
		PollIntervalSecs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "transit_poll_interval_seconds",
			Help: "Configured live feed poll interval.",
		}),
	}

	reg.MustRegister(
		c.Polls, c.PollRetries, c.PollDuration,
		c.LiveVehicles, c.StaleVehicles, c.Evictions, c.SkippedRecords,
		c.RouteChunks, c.PathDuration, c.Resolutions,
		c.RegistryStops, c.RegistryLoads, c.ScheduleLoads,
		c.NATSPublished, c.NATSPublishErrs, c.PollIntervalSecs,
	)

	c.PollIntervalSecs.Set(pollInterval.Seconds())

	return c
}

func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{})
}

// Exposed for tests.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.reg
}

func (c *Collector) ObservePoll(ok bool, d time.Duration) {
	if c == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	c.Polls.WithLabelValues(result).Inc()
	c.PollDuration.Observe(d.Seconds())
}

func (c *Collector) IncPollRetry() {
	if c == nil {
		return
	}
	c.PollRetries.Inc()
}

func (c *Collector) SetVehicles(live, stale int) {
	if c == nil {
		return
	}
	c.LiveVehicles.Set(float64(live))
	c.StaleVehicles.Set(float64(stale))
}

func (c *Collector) AddEvictions(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.Evictions.Add(float64(n))
}

func (c *Collector) AddSkipped(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.SkippedRecords.Add(float64(n))
}

func (c *Collector) IncRouteChunk(outcome string) {
	if c == nil {
		return
	}
	c.RouteChunks.WithLabelValues(outcome).Inc()
}

func (c *Collector) ObservePath(d time.Duration) {
	if c == nil {
		return
	}
	c.PathDuration.Observe(d.Seconds())
}

func (c *Collector) IncResolution(kind string) {
	if c == nil {
		return
	}
	c.Resolutions.WithLabelValues(kind).Inc()
}

func (c *Collector) ObserveRegistry(result string, stops int) {
	if c == nil {
		return
	}
	c.RegistryLoads.WithLabelValues(result).Inc()
	if result != "error" {
		c.RegistryStops.Set(float64(stops))
	}
}

func (c *Collector) IncScheduleLoad(ok bool) {
	if c == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	c.ScheduleLoads.WithLabelValues(result).Inc()
}

func (c *Collector) ObservePublish(err error) {
	if c == nil {
		return
	}
	if err != nil {
		c.NATSPublishErrs.Inc()
		return
	}
	c.NATSPublished.Inc()
}
