package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"tidbyt.dev/transit/metrics"
	"tidbyt.dev/transit/model"
)

const DefaultPrefix = "transit"

type conn interface {
	Publish(subject string, data []byte) error
}

// Publishes tracker snapshots to NATS. Each poll produces one
// message on <prefix>.vehicles holding the full snapshot, and one
// per vehicle on <prefix>.vehicle.<route>.<id>.
type NATS struct {
	Prefix  string
	Logger  *slog.Logger
	Metrics *metrics.Collector
	TimeNow func() time.Time

	conn conn
	nc   *nats.Conn
}

type SnapshotMessage struct {
	Timestamp time.Time       `json:"timestamp"`
	Vehicles  []model.Vehicle `json:"vehicles"`
}

func NewNATS(url, prefix string, logger *slog.Logger, m *metrics.Collector) (*NATS, error) {
	if logger == nil {
		logger = slog.Default()
	}

	nc, err := nats.Connect(url,
		nats.Name("transit-tracker"),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			logger.Info("nats closed")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats: %w", err)
	}

	p := newNATS(nc, prefix, logger, m)
	p.nc = nc
	return p, nil
}

func newNATS(c conn, prefix string, logger *slog.Logger, m *metrics.Collector) *NATS {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &NATS{
		Prefix:  prefix,
		Logger:  logger,
		Metrics: m,
		TimeNow: time.Now,
		conn:    c,
	}
}

func (p *NATS) Close() {
	if p.nc != nil {
		p.nc.Drain()
		p.nc.Close()
	}
}

func (p *NATS) SnapshotSubject() string {
	return p.Prefix + ".vehicles"
}

func (p *NATS) VehicleSubject(v model.Vehicle) string {
	return fmt.Sprintf("%s.vehicle.%s.%s", p.Prefix, subjectToken(v.Route), subjectToken(v.ID))
}

func (p *NATS) Publish(ctx context.Context, vehicles []model.Vehicle) error {
	if vehicles == nil {
		vehicles = []model.Vehicle{}
	}

	b, err := json.Marshal(SnapshotMessage{Timestamp: p.TimeNow().UTC(), Vehicles: vehicles})
	if err != nil {
		return fmt.Errorf("marshaling snapshot: %w", err)
	}

	var errs []error
	if err := p.publish(p.SnapshotSubject(), b); err != nil {
		errs = append(errs, err)
	}

	for _, v := range vehicles {
		if err := ctx.Err(); err != nil {
			return err
		}

		b, err := json.Marshal(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("marshaling vehicle %s: %w", v.ID, err))
			continue
		}
		if err := p.publish(p.VehicleSubject(v), b); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func (p *NATS) publish(subject string, data []byte) error {
	err := p.conn.Publish(subject, data)
	p.Metrics.ObservePublish(err)
	if err != nil {
		return fmt.Errorf("publishing %s: %w", subject, err)
	}
	if p.Logger != nil {
		p.Logger.Debug("published", "subject", subject, "bytes", len(data))
	}
	return nil
}

// NATS tokens can't hold whitespace, wildcards or separators.
func subjectToken(s string) string {
	s = strings.TrimSpace(s)
	repl := strings.NewReplacer(" ", "_", ".", "_", ">", "_", "*", "_", "/", "_", "\t", "_")
	s = repl.Replace(s)
	if s == "" {
		s = "_"
	}
	return s
}
