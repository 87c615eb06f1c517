package parse

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	gtfsproto "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	proto "google.golang.org/protobuf/proto"

	"tidbyt.dev/transit/model"
)

const DefaultStaleAfter = 120 * time.Second

var ErrNoCoordinates = errors.New("no usable coordinates")

// A stop reference embedded in the feed as "<id>: <name>".
type StopRef struct {
	ID   int
	Name string
}

var stopRefPattern = regexp.MustCompile(`^\s*(\d+)\s*:\s*(.*?)\s*$`)

// Parses "54: Atuarfik Hans Lynge". Returns nil for anything else,
// including placeholders like "N/A".
func ParseStopRef(s string) *StopRef {
	m := stopRefPattern.FindStringSubmatch(s)
	if m == nil || m[2] == "" {
		return nil
	}
	id, err := strconv.Atoi(m[1])
	if err != nil {
		return nil
	}
	return &StopRef{ID: id, Name: m[2]}
}

var placeholderRoutes = map[string]bool{
	"":        true,
	"n/a":     true,
	"na":      true,
	"null":    true,
	"none":    true,
	"-":       true,
	"unknown": true,
}

// Trims the route name, mapping placeholders to "".
func NormalizeRoute(route string) string {
	route = strings.TrimSpace(route)
	if placeholderRoutes[strings.ToLower(route)] {
		return ""
	}
	return route
}

// A single vehicle record as found in the live feed. Values are
// kept raw and coerced field by field.
type VehicleRecord map[string]json.RawMessage

// Converts a feed record into a Vehicle. Only the coordinates are
// required, everything else falls back to zero values.
func NormalizeVehicle(key string, record VehicleRecord, now time.Time, staleAfter time.Duration) (model.Vehicle, error) {
	lat, okLat := asFloat(record["current_gps_latitude"])
	lon, okLon := asFloat(record["current_gps_longitude"])
	if !okLat || !okLon {
		return model.Vehicle{}, fmt.Errorf("vehicle %s: %w", key, ErrNoCoordinates)
	}
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return model.Vehicle{}, fmt.Errorf("vehicle %s: coordinates out of range: %w", key, ErrNoCoordinates)
	}

	v := model.Vehicle{
		ID:      key,
		FeedKey: key,
		Lat:     lat,
		Lon:     lon,
	}

	for _, field := range []string{"location_id", "device_id"} {
		if id, ok := asString(record[field]); ok && strings.TrimSpace(id) != "" {
			v.ID = strings.TrimSpace(id)
			break
		}
	}

	route, _ := asString(record["route_short_name"])
	v.Route = NormalizeRoute(route)

	if speed, ok := asFloat(record["current_bus_speed"]); ok && speed > 0 {
		v.Speed = speed
	}

	v.AtStop = asBool(record["at_stop"])

	if s, ok := asString(record["stop_name"]); ok {
		if ref := ParseStopRef(s); ref != nil {
			v.CurrentStopID = &ref.ID
			v.CurrentStopName = &ref.Name
		}
	}
	if s, ok := asString(record["next_stop_name"]); ok {
		if ref := ParseStopRef(s); ref != nil {
			v.NextStopID = &ref.ID
			v.NextStopName = &ref.Name
		}
	}

	v.Headsign, _ = asString(record["trip_headsign"])
	v.Headsign = strings.TrimSpace(v.Headsign)
	v.TripID, _ = asString(record["trip_id"])
	v.TripID = strings.TrimSpace(v.TripID)

	if s, ok := asString(record["updated_at"]); ok {
		v.UpdatedAt = ParseTimestamp(s)
	}
	v.IsStale = IsStale(v.UpdatedAt, now, staleAfter)

	return v, nil
}

// Zero or too old timestamps are stale. Timestamps from the future
// are not.
func IsStale(updatedAt time.Time, now time.Time, staleAfter time.Duration) bool {
	if updatedAt.IsZero() {
		return true
	}
	return now.Sub(updatedAt) > staleAfter
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// Parses the feed's updated_at. Timestamps without zone are taken
// to be UTC. Returns the zero time on failure.
func ParseTimestamp(s string) time.Time {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

// A parsed feed. Skipped records are kept with their reason for
// logging.
type VehicleFeed struct {
	Vehicles []model.Vehicle
	Skipped  []SkippedRecord
}

type SkippedRecord struct {
	Key string
	Err error
}

// Parses the JSON live feed, an object mapping arbitrary keys to
// vehicle records. Vehicles are ordered by ID. When several records
// share an ID, the most recently updated one is kept.
func ParseVehicleFeed(buf []byte, now time.Time, staleAfter time.Duration) (*VehicleFeed, error) {
	feed := map[string]json.RawMessage{}
	err := json.Unmarshal(buf, &feed)
	if err != nil {
		return nil, fmt.Errorf("unmarshaling feed: %w", err)
	}

	keys := make([]string, 0, len(feed))
	for k := range feed {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	res := &VehicleFeed{}
	vehicles := []model.Vehicle{}

	for _, key := range keys {
		record := VehicleRecord{}
		err := json.Unmarshal(feed[key], &record)
		if err != nil {
			res.Skipped = append(res.Skipped, SkippedRecord{Key: key, Err: fmt.Errorf("unmarshaling record: %w", err)})
			continue
		}

		v, err := NormalizeVehicle(key, record, now, staleAfter)
		if err != nil {
			res.Skipped = append(res.Skipped, SkippedRecord{Key: key, Err: err})
			continue
		}
		vehicles = append(vehicles, v)
	}

	res.Vehicles = dedupeVehicles(vehicles)
	return res, nil
}

// Parses a GTFS-Realtime VehiclePositions feed into the same shape
// as the JSON feed. The position's stop_id is the current stop when
// stopped at it, the next one otherwise.
func ParseVehicleFeedGTFSRT(buf []byte, now time.Time, staleAfter time.Duration) (*VehicleFeed, error) {
	f := &gtfsproto.FeedMessage{}
	err := proto.Unmarshal(buf, f)
	if err != nil {
		return nil, fmt.Errorf("unmarshaling protobuf: %w", err)
	}

	header := f.GetHeader()
	version := header.GetGtfsRealtimeVersion()
	if version != "2.0" && version != "1.0" {
		return nil, fmt.Errorf("version %s not supported", version)
	}
	if header.GetIncrementality() != gtfsproto.FeedHeader_FULL_DATASET {
		return nil, fmt.Errorf("feed incrementality %s not supported", header.GetIncrementality())
	}
	headerTS := header.GetTimestamp()

	res := &VehicleFeed{}
	vehicles := []model.Vehicle{}

	for _, entity := range f.GetEntity() {
		vp := entity.GetVehicle()
		if vp == nil {
			continue
		}

		key := entity.GetId()
		pos := vp.GetPosition()
		if pos == nil || pos.Latitude == nil || pos.Longitude == nil {
			res.Skipped = append(res.Skipped, SkippedRecord{Key: key, Err: fmt.Errorf("vehicle %s: %w", key, ErrNoCoordinates)})
			continue
		}

		v := model.Vehicle{
			ID:      key,
			FeedKey: key,
			Lat:     float64(pos.GetLatitude()),
			Lon:     float64(pos.GetLongitude()),
			Route:   NormalizeRoute(vp.GetTrip().GetRouteId()),
			TripID:  vp.GetTrip().GetTripId(),
			AtStop:  vp.GetCurrentStatus() == gtfsproto.VehiclePosition_STOPPED_AT && vp.StopId != nil,
		}
		if id := vp.GetVehicle().GetId(); id != "" {
			v.ID = id
		} else if label := vp.GetVehicle().GetLabel(); label != "" {
			v.ID = label
		}

		if speed := float64(pos.GetSpeed()); speed > 0 && !math.IsInf(speed, 0) {
			v.Speed = speed
		}

		if stopID, err := strconv.Atoi(vp.GetStopId()); err == nil {
			if v.AtStop {
				v.CurrentStopID = &stopID
			} else {
				v.NextStopID = &stopID
			}
		}

		ts := vp.GetTimestamp()
		if ts == 0 {
			ts = headerTS
		}
		if ts != 0 {
			v.UpdatedAt = time.Unix(int64(ts), 0).UTC()
		}
		v.IsStale = IsStale(v.UpdatedAt, now, staleAfter)

		vehicles = append(vehicles, v)
	}

	res.Vehicles = dedupeVehicles(vehicles)
	return res, nil
}

func dedupeVehicles(vehicles []model.Vehicle) []model.Vehicle {
	byID := map[string]model.Vehicle{}
	for _, v := range vehicles {
		if prev, found := byID[v.ID]; found && prev.UpdatedAt.After(v.UpdatedAt) {
			continue
		}
		byID[v.ID] = v
	}

	res := make([]model.Vehicle, 0, len(byID))
	for _, v := range byID {
		res = append(res, v)
	}
	sort.Slice(res, func(i, j int) bool {
		return res[i].ID < res[j].ID
	})
	return res
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// Strings as is, numbers and bools as their JSON text.
func asString(raw json.RawMessage) (string, bool) {
	if isNull(raw) {
		return "", false
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, true
	}

	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String(), true
	}

	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return strconv.FormatBool(b), true
	}

	return "", false
}

// Numbers or numeric strings. NaN and infinities are rejected.
func asFloat(raw json.RawMessage) (float64, bool) {
	if isNull(raw) {
		return 0, false
	}

	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, false
		}
		f, err = strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return 0, false
		}
	}

	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// Bools, "true"/"false", "yes"/"no", "1"/"0" and numbers. Anything
// else is false.
func asBool(raw json.RawMessage) bool {
	if isNull(raw) {
		return false
	}

	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return b
	}

	if f, ok := asFloat(raw); ok {
		return f != 0
	}

	s, ok := asString(raw)
	if !ok {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "yes", "y", "t":
		return true
	}
	return false
}
