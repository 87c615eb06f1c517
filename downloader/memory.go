package downloader

import (
	"context"
	"sync"
	"time"
)

// Caches downloaded files in memory. Entries are keyed by URL, so
// headers are assumed not to affect the response body.
type MemoryDownloader struct {
	mutex sync.Mutex
	cache map[string]downloaderCacheEntry

	TimeNow func() time.Time
}

func NewMemoryDownloader() *MemoryDownloader {
	return &MemoryDownloader{
		cache:   make(map[string]downloaderCacheEntry),
		TimeNow: time.Now,
	}
}

type downloaderCacheEntry struct {
	data       []byte
	expiration time.Time
}

func (d *MemoryDownloader) Get(
	ctx context.Context,
	url string,
	headers map[string]string,
	options GetOptions,
) ([]byte, error) {
	if options.Cache {
		d.mutex.Lock()
		entry, ok := d.cache[url]
		d.mutex.Unlock()
		if ok && entry.expiration.After(d.TimeNow()) {
			return entry.data, nil
		}
	}

	body, err := HTTPGet(ctx, url, headers, options)
	if err != nil {
		return nil, err
	}

	if options.Cache {
		d.mutex.Lock()
		d.cache[url] = downloaderCacheEntry{
			data:       body,
			expiration: d.TimeNow().Add(options.CacheTTL),
		}
		d.mutex.Unlock()
	}

	return body, nil
}

// Drops all expired entries.
func (d *MemoryDownloader) Purge() int {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	now := d.TimeNow()
	n := 0
	for url, entry := range d.cache {
		if !entry.expiration.After(now) {
			delete(d.cache, url)
			n++
		}
	}
	return n
}
