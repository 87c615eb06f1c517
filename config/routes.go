package config

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"tidbyt.dev/transit"
	"tidbyt.dev/transit/model"
	"tidbyt.dev/transit/parse"
	"tidbyt.dev/transit/resolve"
	"tidbyt.dev/transit/routing"
)

type CoordConfig struct {
	Lat float64 `yaml:"lat" validate:"gte=-90,lte=90"`
	Lon float64 `yaml:"lon" validate:"gte=-180,lte=180"`
}

type WaypointConfig struct {
	From   string        `yaml:"from" validate:"required"`
	To     string        `yaml:"to" validate:"required"`
	Points []CoordConfig `yaml:"points" validate:"min=1,dive"`
}

// Service day and header keywords of a schedule. Empty lists keep
// the defaults.
type FormatConfig struct {
	Weekday []string `yaml:"weekday"`
	Weekend []string `yaml:"weekend"`
	Header  []string `yaml:"header"`
}

type RouteConfig struct {
	Name        string              `yaml:"name" validate:"required"`
	ScheduleURL string              `yaml:"schedule_url" validate:"omitempty,url"`
	Timecode    string              `yaml:"timecode" validate:"omitempty,oneof=default annotated"`
	Aliases     map[string]string   `yaml:"aliases"`
	StopCoords  map[int]CoordConfig `yaml:"stop_coords" validate:"dive"`
	Waypoints   []WaypointConfig    `yaml:"waypoints" validate:"dive"`
	Format      *FormatConfig       `yaml:"format"`
}

type RoutesFile struct {
	Format *FormatConfig  `yaml:"format"`
	Routes []RouteConfig `yaml:"routes" validate:"dive"`
}

// Reads and validates a routes file.
func LoadRoutes(path string) (*RoutesFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading routes: %w", err)
	}
	return ParseRoutes(data)
}

func ParseRoutes(data []byte) (*RoutesFile, error) {
	rf := &RoutesFile{}
	err := yaml.Unmarshal(data, rf)
	if err != nil {
		return nil, fmt.Errorf("unmarshaling routes: %w", err)
	}

	err = validator.New().Struct(rf)
	if err != nil {
		return nil, fmt.Errorf("validating routes: %w", err)
	}

	seen := map[string]bool{}
	for _, r := range rf.Routes {
		if seen[r.Name] {
			return nil, fmt.Errorf("duplicate route '%s'", r.Name)
		}
		seen[r.Name] = true
	}

	return rf, nil
}

// Converts to the engine's routes. Route level formats take
// precedence over the file level one.
func (rf *RoutesFile) EngineRoutes() ([]transit.Route, error) {
	routes := make([]transit.Route, 0, len(rf.Routes))
	for _, rc := range rf.Routes {
		format := rc.Format
		if format == nil {
			format = rf.Format
		}
		r, err := rc.route(format)
		if err != nil {
			return nil, fmt.Errorf("route %s: %w", rc.Name, err)
		}
		routes = append(routes, r)
	}
	return routes, nil
}

func (rc RouteConfig) route(format *FormatConfig) (transit.Route, error) {
	timecode, err := parse.TimecodeByName(rc.Timecode)
	if err != nil {
		return transit.Route{}, err
	}

	aliases := map[string]string{}
	for from, to := range rc.Aliases {
		aliases[from] = to
	}

	variant := parse.Variant{
		Timecode: timecode,
		Aliases:  aliases,
	}
	if format != nil {
		f := parse.DefaultFormat()
		if len(format.Weekday) > 0 {
			f.WeekdayKeywords = format.Weekday
		}
		if len(format.Weekend) > 0 {
			f.WeekendKeywords = format.Weekend
		}
		if len(format.Header) > 0 {
			f.HeaderKeywords = format.Header
		}
		variant.Format = &f
	}

	overrides := routing.Overrides{
		StopCoords: map[int]model.Coord{},
		Waypoints:  map[string][]model.Coord{},
	}
	for id, c := range rc.StopCoords {
		overrides.StopCoords[id] = model.Coord{Lat: c.Lat, Lon: c.Lon}
	}
	for _, wp := range rc.Waypoints {
		if resolve.Normalize(wp.From) == "" || resolve.Normalize(wp.To) == "" {
			return transit.Route{}, fmt.Errorf("waypoints %q -> %q: empty stop name", wp.From, wp.To)
		}
		key := routing.WaypointKey(wp.From, wp.To)
		points := make([]model.Coord, 0, len(wp.Points))
		for _, p := range wp.Points {
			points = append(points, model.Coord{Lat: p.Lat, Lon: p.Lon})
		}
		overrides.Waypoints[key] = points
	}

	return transit.Route{
		Name:        rc.Name,
		ScheduleURL: rc.ScheduleURL,
		Variant:     variant,
		Overrides:   overrides,
	}, nil
}
