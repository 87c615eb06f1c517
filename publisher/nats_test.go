package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tidbyt.dev/transit/metrics"
	"tidbyt.dev/transit/model"
)

type message struct {
	subject string
	data    []byte
}

type fakeConn struct {
	messages []message
	failOn   string
}

func (f *fakeConn) Publish(subject string, data []byte) error {
	if subject == f.failOn {
		return errors.New("nats: connection closed")
	}
	f.messages = append(f.messages, message{subject, data})
	return nil
}

func TestSubjectToken(t *testing.T) {
	for in, out := range map[string]string{
		"1":          "1",
		" 1A ":       "1A",
		"bus.42":     "bus_42",
		"a b\tc":     "a_b_c",
		"x>*/y":      "x___y",
		"":           "_",
		"   ":        "_",
		"Qinngorput": "Qinngorput",
	} {
		assert.Equal(t, out, subjectToken(in), in)
	}
}

func TestPublish(t *testing.T) {
	c := &fakeConn{}
	m := metrics.NewCollector(time.Second)
	p := newNATS(c, "nuuk", nil, m)
	now := time.Date(2024, 3, 4, 7, 30, 0, 0, time.UTC)
	p.TimeNow = func() time.Time { return now }

	vehicles := []model.Vehicle{
		{ID: "bus.7", Route: "1", Lat: 64.17, Lon: -51.73},
		{ID: "12", Route: ""},
	}
	require.NoError(t, p.Publish(context.Background(), vehicles))

	require.Equal(t, 3, len(c.messages))
	assert.Equal(t, "nuuk.vehicles", c.messages[0].subject)
	assert.Equal(t, "nuuk.vehicle.1.bus_7", c.messages[1].subject)
	assert.Equal(t, "nuuk.vehicle._.12", c.messages[2].subject)

	snapshot := SnapshotMessage{}
	require.NoError(t, json.Unmarshal(c.messages[0].data, &snapshot))
	assert.True(t, snapshot.Timestamp.Equal(now))
	assert.Equal(t, 2, len(snapshot.Vehicles))

	v := model.Vehicle{}
	require.NoError(t, json.Unmarshal(c.messages[1].data, &v))
	assert.Equal(t, "bus.7", v.ID)
	assert.Equal(t, 64.17, v.Lat)

	assert.Equal(t, 3.0, testutil.ToFloat64(m.NATSPublished))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.NATSPublishErrs))
}

func TestPublishEmptySnapshot(t *testing.T) {
	c := &fakeConn{}
	p := newNATS(c, "", nil, nil)

	require.NoError(t, p.Publish(context.Background(), nil))
	require.Equal(t, 1, len(c.messages))
	assert.Equal(t, "transit.vehicles", c.messages[0].subject)
	assert.JSONEq(t, `[]`, string(mustField(t, c.messages[0].data, "vehicles")))
}

func TestPublishContinuesPastFailures(t *testing.T) {
	c := &fakeConn{failOn: "transit.vehicle.1.a"}
	m := metrics.NewCollector(time.Second)
	p := newNATS(c, "transit", nil, m)

	err := p.Publish(context.Background(), []model.Vehicle{
		{ID: "a", Route: "1"},
		{ID: "b", Route: "1"},
	})
	assert.ErrorContains(t, err, "transit.vehicle.1.a")

	require.Equal(t, 2, len(c.messages))
	assert.Equal(t, "transit.vehicle.1.b", c.messages[1].subject)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NATSPublishErrs))
}

func TestPublishCancelled(t *testing.T) {
	c := &fakeConn{}
	p := newNATS(c, "transit", nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := p.Publish(ctx, []model.Vehicle{{ID: "a"}})
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 1, len(c.messages))
}

func mustField(t *testing.T, data []byte, field string) json.RawMessage {
	fields := map[string]json.RawMessage{}
	require.NoError(t, json.Unmarshal(data, &fields))
	return fields[field]
}
