package routing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"tidbyt.dev/transit/downloader"
	"tidbyt.dev/transit/model"
)

const (
	DefaultProfile = "driving"
	DefaultTimeout = 10 * time.Second
	DefaultMaxSize = 4 << 20
)

var ErrNoGeometry = errors.New("routing response has no geometry")

// Produces a road following polyline through the given coordinates.
type Client interface {
	Route(ctx context.Context, coords []model.Coord) ([]model.Coord, error)
}

// Client for OSRM compatible routing services.
type OSRM struct {
	BaseURL    string
	Profile    string
	Timeout    time.Duration
	MaxSize    int
	Downloader downloader.Downloader
}

func NewOSRM(baseURL string, d downloader.Downloader) *OSRM {
	return &OSRM{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		Profile:    DefaultProfile,
		Timeout:    DefaultTimeout,
		MaxSize:    DefaultMaxSize,
		Downloader: d,
	}
}

type osrmResponse struct {
	Code   string `json:"code"`
	Routes []struct {
		Geometry *struct {
			Type        string       `json:"type"`
			Coordinates [][2]float64 `json:"coordinates"`
		} `json:"geometry"`
	} `json:"routes"`
}

func (o *OSRM) URL(coords []model.Coord) string {
	parts := make([]string, 0, len(coords))
	for _, c := range coords {
		parts = append(parts,
			strconv.FormatFloat(c.Lon, 'f', -1, 64)+","+strconv.FormatFloat(c.Lat, 'f', -1, 64),
		)
	}
	profile := o.Profile
	if profile == "" {
		profile = DefaultProfile
	}
	return fmt.Sprintf(
		"%s/route/v1/%s/%s?overview=full&geometries=geojson",
		o.BaseURL, profile, strings.Join(parts, ";"),
	)
}

func (o *OSRM) Route(ctx context.Context, coords []model.Coord) ([]model.Coord, error) {
	if len(coords) < 2 {
		return nil, fmt.Errorf("need at least 2 coordinates, got %d", len(coords))
	}

	body, err := o.Downloader.Get(ctx, o.URL(coords), nil, downloader.GetOptions{
		Timeout: o.Timeout,
		MaxSize: o.MaxSize,
	})
	if err != nil {
		return nil, fmt.Errorf("requesting route: %w", err)
	}

	resp := osrmResponse{}
	err = json.Unmarshal(body, &resp)
	if err != nil {
		return nil, fmt.Errorf("decoding route: %w", err)
	}

	if resp.Code != "" && resp.Code != "Ok" {
		return nil, fmt.Errorf("route code %s: %w", resp.Code, ErrNoGeometry)
	}
	if len(resp.Routes) == 0 || resp.Routes[0].Geometry == nil || len(resp.Routes[0].Geometry.Coordinates) == 0 {
		return nil, ErrNoGeometry
	}

	path := make([]model.Coord, 0, len(resp.Routes[0].Geometry.Coordinates))
	for _, lonLat := range resp.Routes[0].Geometry.Coordinates {
		path = append(path, model.Coord{Lat: lonLat[1], Lon: lonLat[0]})
	}

	return path, nil
}
