package routing

import (
	"strconv"
	"strings"
	"time"

	"github.com/bluele/gcache"

	"tidbyt.dev/transit/model"
)

const (
	DefaultCacheSize = 2048
	DefaultCacheTTL  = 6 * time.Hour
)

// Memoizes routed polylines by a fingerprint of their input
// coordinates. Safe for concurrent use.
type SegmentCache struct {
	cache gcache.Cache
}

// ttl <= 0 disables expiration.
func NewSegmentCache(size int, ttl time.Duration) *SegmentCache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	b := gcache.New(size).LRU()
	if ttl > 0 {
		b = b.Expiration(ttl)
	}
	return &SegmentCache{cache: b.Build()}
}

// Fingerprint of a coordinate sequence. Coordinates are truncated,
// not rounded, to 5 decimals.
func CacheKey(coords []model.Coord) string {
	var sb strings.Builder
	for i, c := range coords {
		if i > 0 {
			sb.WriteByte(';')
		}
		sb.WriteString(truncate5(c.Lat))
		sb.WriteByte(',')
		sb.WriteString(truncate5(c.Lon))
	}
	return sb.String()
}

// Works on the decimal string, so 64.123459999 doesn't turn into
// 64.12346 through float error.
func truncate5(f float64) string {
	s := strconv.FormatFloat(f, 'f', -1, 64)
	dot := strings.IndexByte(s, '.')
	if dot < 0 {
		return s
	}
	if len(s)-dot-1 > 5 {
		s = s[:dot+6]
	}
	s = strings.TrimRight(s, "0")
	s = strings.TrimSuffix(s, ".")
	if s == "-0" {
		s = "0"
	}
	return s
}

func (c *SegmentCache) Get(coords []model.Coord) ([]model.Coord, bool) {
	v, err := c.cache.Get(CacheKey(coords))
	if err != nil {
		return nil, false
	}
	path, ok := v.([]model.Coord)
	return path, ok
}

func (c *SegmentCache) Set(coords []model.Coord, path []model.Coord) {
	c.cache.Set(CacheKey(coords), path)
}

func (c *SegmentCache) Purge() {
	c.cache.Purge()
}
