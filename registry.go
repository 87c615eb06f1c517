package transit

import (
	"fmt"

	"tidbyt.dev/transit/model"
	"tidbyt.dev/transit/resolve"
	"tidbyt.dev/transit/storage"
)

// In-memory view of a stop registry, indexed by id.
type Registry struct {
	Metadata *storage.RegistryMetadata
	Reader   storage.RegistryReader

	stops []*model.Stop
	byID  map[int]*model.Stop
}

func NewRegistry(reader storage.RegistryReader, metadata *storage.RegistryMetadata) (*Registry, error) {
	stops, err := reader.Stops()
	if err != nil {
		return nil, fmt.Errorf("reading stops: %w", err)
	}

	byID := make(map[int]*model.Stop, len(stops))
	for _, s := range stops {
		byID[s.ID] = s
	}

	return &Registry{
		Metadata: metadata,
		Reader:   reader,
		stops:    stops,
		byID:     byID,
	}, nil
}

// Returns nil for unknown ids. Safe to call on a nil Registry, which
// is what callers hold before the first load.
func (r *Registry) Stop(id int) *model.Stop {
	if r == nil {
		return nil
	}
	return r.byID[id]
}

// All stops, ordered by id.
func (r *Registry) Stops() []*model.Stop {
	if r == nil {
		return nil
	}
	return r.stops
}

// Resolution candidates: primary name first, then the alternate.
func (r *Registry) Candidates() []resolve.Candidate {
	if r == nil {
		return nil
	}

	candidates := make([]resolve.Candidate, 0, len(r.stops))
	for _, s := range r.stops {
		names := []string{s.Name}
		if s.AltName != "" {
			names = append(names, s.AltName)
		}
		candidates = append(candidates, resolve.Candidate{ID: s.ID, Names: names})
	}
	return candidates
}

// Returns stops ordered by distance from lat,lon. Stops without
// coordinates are left out.
//
// If limit is >0, at most limit stops are returned.
func (r *Registry) NearbyStops(lat float64, lon float64, limit int) ([]model.Stop, error) {
	if r == nil {
		return []model.Stop{}, nil
	}
	stops, err := r.Reader.NearbyStops(lat, lon, limit)
	if err != nil {
		return nil, fmt.Errorf("getting nearby stops: %w", err)
	}
	return stops, nil
}
