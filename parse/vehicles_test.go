package parse_test

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	gtfsproto "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	proto "google.golang.org/protobuf/proto"

	"tidbyt.dev/transit/model"
	"tidbyt.dev/transit/parse"
)

func intPtr(i int) *int       { return &i }
func strPtr(s string) *string { return &s }

func record(t *testing.T, raw string) parse.VehicleRecord {
	r := parse.VehicleRecord{}
	require.NoError(t, json.Unmarshal([]byte(raw), &r))
	return r
}

func TestParseStopRef(t *testing.T) {
	assert.Equal(t, &parse.StopRef{ID: 54, Name: "Atuarfik Hans Lynge"}, parse.ParseStopRef("54: Atuarfik Hans Lynge"))
	assert.Equal(t, &parse.StopRef{ID: 7, Name: "Qinngorput: Vest"}, parse.ParseStopRef(" 7 :Qinngorput: Vest "))
	assert.Nil(t, parse.ParseStopRef("N/A"))
	assert.Nil(t, parse.ParseStopRef("Unknown"))
	assert.Nil(t, parse.ParseStopRef(""))
	assert.Nil(t, parse.ParseStopRef("54:"))
	assert.Nil(t, parse.ParseStopRef("Nuuk: 54"))
}

func TestNormalizeVehicle(t *testing.T) {
	now := time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC)

	v, err := parse.NormalizeVehicle("k1", record(t, `{
		"current_gps_latitude": 64.1814,
		"current_gps_longitude": "-51.6941",
		"route_short_name": " 3 ",
		"stop_name": "54: Atuarfik Hans Lynge",
		"next_stop_name": "N/A",
		"current_bus_speed": "23.5",
		"at_stop": "true",
		"updated_at": "2024-03-04T11:59:30Z",
		"trip_headsign": "Qinngorput",
		"location_id": 1017,
		"device_id": "dev-9",
		"trip_id": "t-44"
	}`), now, parse.DefaultStaleAfter)
	require.NoError(t, err)

	assert.Equal(t, model.Vehicle{
		ID:              "1017",
		FeedKey:         "k1",
		Route:           "3",
		Lat:             64.1814,
		Lon:             -51.6941,
		UpdatedAt:       time.Date(2024, 3, 4, 11, 59, 30, 0, time.UTC),
		Speed:           23.5,
		AtStop:          true,
		CurrentStopID:   intPtr(54),
		CurrentStopName: strPtr("Atuarfik Hans Lynge"),
		Headsign:        "Qinngorput",
		TripID:          "t-44",
	}, v)
}

func TestNormalizeVehicleDefaults(t *testing.T) {
	now := time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC)

	v, err := parse.NormalizeVehicle("k1", record(t, `{
		"current_gps_latitude": "64.1",
		"current_gps_longitude": -51.7,
		"route_short_name": "N/A",
		"stop_name": null,
		"current_bus_speed": -3,
		"at_stop": "maybe",
		"updated_at": "yesterday-ish",
		"device_id": "dev-9",
		"unexpected": {"nested": [1, 2]}
	}`), now, parse.DefaultStaleAfter)
	require.NoError(t, err)

	assert.Equal(t, "dev-9", v.ID)
	assert.Equal(t, "", v.Route)
	assert.Equal(t, 0.0, v.Speed)
	assert.False(t, v.AtStop)
	assert.Nil(t, v.CurrentStopID)
	assert.Nil(t, v.CurrentStopName)
	assert.Nil(t, v.NextStopID)
	assert.True(t, v.UpdatedAt.IsZero())
	assert.True(t, v.IsStale)

	// Falls back to the feed key
	v, err = parse.NormalizeVehicle("k2", record(t, `{
		"current_gps_latitude": 64.1,
		"current_gps_longitude": -51.7,
		"location_id": "",
		"at_stop": 1
	}`), now, parse.DefaultStaleAfter)
	require.NoError(t, err)
	assert.Equal(t, "k2", v.ID)
	assert.True(t, v.AtStop)
	assert.True(t, v.IsStale)
}

func TestNormalizeVehicleRequiresCoordinates(t *testing.T) {
	now := time.Now()

	for _, raw := range []string{
		`{}`,
		`{"current_gps_latitude": 64.1}`,
		`{"current_gps_latitude": "north", "current_gps_longitude": -51.7}`,
		`{"current_gps_latitude": null, "current_gps_longitude": -51.7}`,
		`{"current_gps_latitude": true, "current_gps_longitude": -51.7}`,
		`{"current_gps_latitude": 164.1, "current_gps_longitude": -51.7}`,
	} {
		_, err := parse.NormalizeVehicle("k", record(t, raw), now, parse.DefaultStaleAfter)
		assert.True(t, errors.Is(err, parse.ErrNoCoordinates), raw)
	}
}

func TestVehicleStaleness(t *testing.T) {
	now := time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC)

	for _, tc := range []struct {
		updatedAt string
		stale     bool
	}{
		{now.Add(-121000 * time.Millisecond).Format(time.RFC3339Nano), true},
		{now.Add(-119000 * time.Millisecond).Format(time.RFC3339Nano), false},
		{now.Add(-120 * time.Second).Format(time.RFC3339), false},
		{now.Add(5 * time.Second).Format(time.RFC3339), false},
		{"2024-03-04 11:59:00", false},
		{"2024-03-04T11:59:00.123+00:00", false},
		{"2024-03-04T13:59:00+02:00", false},
		{"2024-03-04T12:57:00+01:00", true},
		{"", true},
	} {
		raw := `{"current_gps_latitude": 64.1, "current_gps_longitude": -51.7, "updated_at": "` + tc.updatedAt + `"}`
		v, err := parse.NormalizeVehicle("k", record(t, raw), now, parse.DefaultStaleAfter)
		require.NoError(t, err)
		assert.Equal(t, tc.stale, v.IsStale, tc.updatedAt)
	}
}

func TestParseVehicleFeed(t *testing.T) {
	now := time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC)

	feed, err := parse.ParseVehicleFeed([]byte(`{
		"b": {"current_gps_latitude": 64.1, "current_gps_longitude": -51.7, "route_short_name": "1", "updated_at": "2024-03-04T11:59:00Z"},
		"a": {"current_gps_latitude": "x", "current_gps_longitude": -51.7},
		"c": [1, 2, 3],
		"d": {"current_gps_latitude": 64.2, "current_gps_longitude": -51.8, "location_id": "b", "route_short_name": "2", "updated_at": "2024-03-04T11:58:00Z"},
		"e": {"current_gps_latitude": 64.3, "current_gps_longitude": -51.9, "route_short_name": "3"}
	}`), now, parse.DefaultStaleAfter)
	require.NoError(t, err)

	// "d" claims the identity of "b" with older data
	require.Equal(t, 2, len(feed.Vehicles))
	assert.Equal(t, "b", feed.Vehicles[0].ID)
	assert.Equal(t, "1", feed.Vehicles[0].Route)
	assert.Equal(t, "e", feed.Vehicles[1].ID)

	require.Equal(t, 2, len(feed.Skipped))
	assert.Equal(t, "a", feed.Skipped[0].Key)
	assert.True(t, errors.Is(feed.Skipped[0].Err, parse.ErrNoCoordinates))
	assert.Equal(t, "c", feed.Skipped[1].Key)

	_, err = parse.ParseVehicleFeed([]byte(`[1, 2]`), now, parse.DefaultStaleAfter)
	assert.Error(t, err)
}

func TestParseVehicleFeedGTFSRT(t *testing.T) {
	now := time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC)

	stopped := gtfsproto.VehiclePosition_STOPPED_AT
	inTransit := gtfsproto.VehiclePosition_IN_TRANSIT_TO

	msg := &gtfsproto.FeedMessage{
		Header: &gtfsproto.FeedHeader{
			GtfsRealtimeVersion: proto.String("2.0"),
			Timestamp:           proto.Uint64(uint64(now.Add(-10 * time.Second).Unix())),
		},
		Entity: []*gtfsproto.FeedEntity{
			{
				Id: proto.String("e1"),
				Vehicle: &gtfsproto.VehiclePosition{
					Trip:          &gtfsproto.TripDescriptor{TripId: proto.String("t1"), RouteId: proto.String("1")},
					Vehicle:       &gtfsproto.VehicleDescriptor{Id: proto.String("bus-7")},
					Position:      &gtfsproto.Position{Latitude: proto.Float32(64.5), Longitude: proto.Float32(-51.5), Speed: proto.Float32(8)},
					CurrentStatus: &stopped,
					StopId:        proto.String("54"),
					Timestamp:     proto.Uint64(uint64(now.Add(-200 * time.Second).Unix())),
				},
			},
			{
				Id: proto.String("e2"),
				Vehicle: &gtfsproto.VehiclePosition{
					Vehicle:       &gtfsproto.VehicleDescriptor{Label: proto.String("Bus 8")},
					Position:      &gtfsproto.Position{Latitude: proto.Float32(64), Longitude: proto.Float32(-51)},
					CurrentStatus: &inTransit,
					StopId:        proto.String("12"),
				},
			},
			{
				Id:      proto.String("e3"),
				Vehicle: &gtfsproto.VehiclePosition{},
			},
			{
				Id: proto.String("alert"),
			},
		},
	}
	buf, err := proto.Marshal(msg)
	require.NoError(t, err)

	feed, err := parse.ParseVehicleFeedGTFSRT(buf, now, parse.DefaultStaleAfter)
	require.NoError(t, err)

	require.Equal(t, 2, len(feed.Vehicles))

	v := feed.Vehicles[0]
	assert.Equal(t, "Bus 8", v.ID)
	assert.Equal(t, "e2", v.FeedKey)
	assert.False(t, v.AtStop)
	assert.Nil(t, v.CurrentStopID)
	assert.Equal(t, intPtr(12), v.NextStopID)
	assert.False(t, v.IsStale)

	v = feed.Vehicles[1]
	assert.Equal(t, "bus-7", v.ID)
	assert.Equal(t, "1", v.Route)
	assert.Equal(t, "t1", v.TripID)
	assert.InDelta(t, 64.5, v.Lat, 1e-5)
	assert.InDelta(t, 8, v.Speed, 1e-5)
	assert.True(t, v.AtStop)
	assert.Equal(t, intPtr(54), v.CurrentStopID)
	assert.True(t, v.IsStale)

	require.Equal(t, 1, len(feed.Skipped))
	assert.Equal(t, "e3", feed.Skipped[0].Key)

	_, err = parse.ParseVehicleFeedGTFSRT([]byte("garbage"), now, parse.DefaultStaleAfter)
	assert.Error(t, err)

	msg.Header.GtfsRealtimeVersion = proto.String("3.0")
	buf, err = proto.Marshal(msg)
	require.NoError(t, err)
	_, err = parse.ParseVehicleFeedGTFSRT(buf, now, parse.DefaultStaleAfter)
	assert.ErrorContains(t, err, "version 3.0 not supported")

	msg.Header.GtfsRealtimeVersion = proto.String("2.0")
	msg.Header.Incrementality = gtfsproto.FeedHeader_DIFFERENTIAL.Enum()
	buf, err = proto.Marshal(msg)
	require.NoError(t, err)
	_, err = parse.ParseVehicleFeedGTFSRT(buf, now, parse.DefaultStaleAfter)
	assert.ErrorContains(t, err, "incrementality")
}
