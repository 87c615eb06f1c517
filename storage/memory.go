package storage

import (
	"fmt"
	"sort"
	"sync"

	"tidbyt.dev/transit/model"
)

// In memory implementation of Storage below

type memoryMetadataKey struct {
	URL  string
	Hash string
}

type MemoryStorage struct {
	Registries map[string]*MemoryRegistry
	Metadata   map[memoryMetadataKey]*RegistryMetadata

	mutex sync.RWMutex
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		Registries: map[string]*MemoryRegistry{},
		Metadata:   map[memoryMetadataKey]*RegistryMetadata{},
	}
}

func (s *MemoryStorage) ListRegistries(filter ListRegistriesFilter) ([]*RegistryMetadata, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	registries := []*RegistryMetadata{}
	for _, metadata := range s.Metadata {
		if filter.URL != "" && metadata.URL != filter.URL {
			continue
		}
		if filter.Hash != "" && metadata.Hash != filter.Hash {
			continue
		}
		registries = append(registries, metadata)
	}
	sort.Slice(registries, func(i, j int) bool {
		return registries[i].RetrievedAt.After(registries[j].RetrievedAt)
	})
	return registries, nil
}

func (s *MemoryStorage) WriteRegistryMetadata(metadata *RegistryMetadata) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	cp := *metadata
	s.Metadata[memoryMetadataKey{metadata.URL, metadata.Hash}] = &cp
	return nil
}

func (s *MemoryStorage) GetReader(hash string) (RegistryReader, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	r, ok := s.Registries[hash]
	if !ok {
		return nil, fmt.Errorf("registry %s not found", hash)
	}
	return r, nil
}

func (s *MemoryStorage) GetWriter(hash string) (RegistryWriter, error) {
	r := &MemoryRegistry{
		stops: map[int]*model.Stop{},
	}

	s.mutex.Lock()
	s.Registries[hash] = r
	s.mutex.Unlock()

	return r, nil
}

func (s *MemoryStorage) Close() error {
	return nil
}

type MemoryRegistry struct {
	stops map[int]*model.Stop
	mutex sync.RWMutex
}

func (r *MemoryRegistry) WriteStop(stop *model.Stop) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, found := r.stops[stop.ID]; found {
		return fmt.Errorf("duplicate stop id %d", stop.ID)
	}

	cp := *stop
	if stop.Coord != nil {
		c := *stop.Coord
		cp.Coord = &c
	}
	r.stops[stop.ID] = &cp
	return nil
}

func (r *MemoryRegistry) Close() error {
	return nil
}

func (r *MemoryRegistry) Stops() ([]*model.Stop, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	stops := make([]*model.Stop, 0, len(r.stops))
	for _, s := range r.stops {
		stops = append(stops, s)
	}
	sort.Slice(stops, func(i, j int) bool {
		return stops[i].ID < stops[j].ID
	})
	return stops, nil
}

func (r *MemoryRegistry) Stop(id int) (*model.Stop, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	s, found := r.stops[id]
	if !found {
		return nil, nil
	}
	return s, nil
}

func (r *MemoryRegistry) NearbyStops(lat float64, lon float64, limit int) ([]model.Stop, error) {
	stops, err := r.Stops()
	if err != nil {
		return nil, err
	}
	return nearest(stops, lat, lon, limit), nil
}
