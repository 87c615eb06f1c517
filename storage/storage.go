package storage

import (
	"time"

	"tidbyt.dev/transit/model"
)

// Persists parsed stop registries. Each downloaded registry asset is
// identified by the hash of its content, so re-downloading an
// unchanged asset never triggers a re-parse.
type Storage interface {
	// Retrieves all registry metadata records matching the given
	// filter, most recently retrieved first.
	ListRegistries(filter ListRegistriesFilter) ([]*RegistryMetadata, error)

	// Writes a RegistryMetadata record. If a record with the same
	// URL and hash exists, it is updated.
	WriteRegistryMetadata(metadata *RegistryMetadata) error

	// Gets a reader for the registry with the given hash.
	GetReader(hash string) (RegistryReader, error)

	// Gets a writer for the registry with the given hash. Any
	// stops already stored under the hash are discarded.
	GetWriter(hash string) (RegistryWriter, error)

	Close() error
}

type ListRegistriesFilter struct {
	// If set, only include registries with the given URL.
	URL string

	// If set, only include registries with the given hash.
	Hash string
}

// Metadata for a downloaded registry asset. The parsed stops can be
// accessed via RegistryReader.
type RegistryMetadata struct {
	URL         string
	Hash        string
	RetrievedAt time.Time
	NumStops    int
	NumMatched  int
}

// Writes stops for a single registry.
type RegistryWriter interface {
	WriteStop(stop *model.Stop) error
	Close() error
}

type RegistryReader interface {
	// All stops, ordered by ID.
	Stops() ([]*model.Stop, error)

	// A single stop. Returns nil (and no error) if there's no
	// stop with the ID.
	Stop(id int) (*model.Stop, error)

	// List of stops near given lat/lon, ordered by distance. At
	// most limit results (pass 0 for no limit.) Stops lacking
	// coordinates are never included.
	NearbyStops(lat float64, lon float64, limit int) ([]model.Stop, error)
}
