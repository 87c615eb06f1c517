package parse

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"tidbyt.dev/transit/model"
	"tidbyt.dev/transit/storage"
)

type registryJSON struct {
	Type     string        `json:"type"`
	Features []featureJSON `json:"features"`
}

type featureJSON struct {
	ID         *int           `json:"id"`
	Properties propertiesJSON `json:"properties"`
	Geometry   *geometryJSON  `json:"geometry"`
}

type propertiesJSON struct {
	ID      *int    `json:"id"`
	Name    string  `json:"name"`
	AltName *string `json:"alt_name"`
	Match   string  `json:"match"`
}

type geometryJSON struct {
	Type        string    `json:"type"`
	Coordinates []float64 `json:"coordinates"`
}

// Parses a stop registry FeatureCollection and writes its stops to
// writer. Features carry their integer id either at the top level
// or in properties, and geometry is a [lon, lat] Point or null.
//
// Stops lacking coordinates are always tagged unmatched, whatever
// the asset claims.
func ParseRegistry(writer storage.RegistryWriter, buf []byte) (*storage.RegistryMetadata, error) {
	reg := registryJSON{}
	err := json.Unmarshal(buf, &reg)
	if err != nil {
		return nil, fmt.Errorf("unmarshaling registry: %w", err)
	}

	if reg.Type != "" && reg.Type != "FeatureCollection" {
		return nil, fmt.Errorf("unexpected type '%s'", reg.Type)
	}

	seen := map[int]bool{}
	stops := []*model.Stop{}

	for i, f := range reg.Features {
		stop, err := featureToStop(f)
		if err != nil {
			return nil, errors.Wrapf(err, "feature %d", i)
		}

		if seen[stop.ID] {
			return nil, fmt.Errorf("duplicate stop id %d (feature %d)", stop.ID, i)
		}
		seen[stop.ID] = true

		err = writer.WriteStop(stop)
		if err != nil {
			return nil, errors.Wrapf(err, "writing stop %d", stop.ID)
		}
		stops = append(stops, stop)
	}

	err = writer.Close()
	if err != nil {
		return nil, fmt.Errorf("closing registry writer: %w", err)
	}

	return &storage.RegistryMetadata{
		NumStops:   len(stops),
		NumMatched: storage.CountMatched(stops),
	}, nil
}

func featureToStop(f featureJSON) (*model.Stop, error) {
	id := f.Properties.ID
	if id == nil {
		id = f.ID
	}
	if id == nil {
		return nil, fmt.Errorf("missing id")
	}

	name := strings.TrimSpace(f.Properties.Name)
	if name == "" {
		return nil, fmt.Errorf("missing name for stop %d", *id)
	}

	match := model.MatchQuality(strings.ToLower(strings.TrimSpace(f.Properties.Match)))
	if !match.Valid() {
		return nil, fmt.Errorf("unknown match tag '%s' for stop %d", f.Properties.Match, *id)
	}

	stop := &model.Stop{
		ID:    *id,
		Name:  name,
		Match: match,
	}

	if f.Properties.AltName != nil {
		stop.AltName = strings.TrimSpace(*f.Properties.AltName)
	}

	if f.Geometry != nil && len(f.Geometry.Coordinates) > 0 {
		if f.Geometry.Type != "" && f.Geometry.Type != "Point" {
			return nil, fmt.Errorf("unsupported geometry '%s' for stop %d", f.Geometry.Type, *id)
		}
		if len(f.Geometry.Coordinates) < 2 {
			return nil, fmt.Errorf("short coordinates for stop %d", *id)
		}
		lon, lat := f.Geometry.Coordinates[0], f.Geometry.Coordinates[1]
		if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
			return nil, fmt.Errorf("coordinates out of range for stop %d", *id)
		}
		stop.Coord = &model.Coord{Lat: lat, Lon: lon}
	}

	if stop.Coord == nil {
		stop.Match = model.MatchUnmatched
	}

	return stop, nil
}
