package eviction

import (
	"time"

	"github.com/rohmanhakim/media-pipeline/internal/cachestore"
	"github.com/rohmanhakim/media-pipeline/internal/telemetry"
	"github.com/rohmanhakim/media-pipeline/pkg/failure"
)

/*
Manager Responsibilities

- Hold the per-cache entry limits
- After every cache write, trim the written cache back to its limit,
  oldest entries first (FIFO by write time, not LRU)
- Report evictions observationally

The trim itself is one bbolt update transaction inside the store, so a
write racing an eviction pass never sees a partially trimmed cache.
*/

// Default per-cache entry limits.
const (
	DefaultStaticLimit      = 50
	DefaultDynamicLimit     = 150
	DefaultImageLimit       = 200
	DefaultRemoteMediaLimit = 100
)

// DefaultLimits returns the standard limit table.
func DefaultLimits() map[cachestore.CacheName]int {
	return map[cachestore.CacheName]int{
		cachestore.CacheStatic:      DefaultStaticLimit,
		cachestore.CacheDynamic:     DefaultDynamicLimit,
		cachestore.CacheImage:       DefaultImageLimit,
		cachestore.CacheRemoteMedia: DefaultRemoteMediaLimit,
	}
}

type Manager struct {
	store  *cachestore.Store
	limits map[cachestore.CacheName]int
	sink   telemetry.EventSink
}

func NewManager(
	store *cachestore.Store,
	limits map[cachestore.CacheName]int,
	sink telemetry.EventSink,
) Manager {
	return Manager{
		store:  store,
		limits: limits,
		sink:   sink,
	}
}

// AfterWrite trims the cache that was just written to its limit. A cache
// without a configured limit is left unbounded.
func (m *Manager) AfterWrite(cache cachestore.CacheName) failure.ClassifiedError {
	limit, bounded := m.limits[cache]
	if !bounded {
		return nil
	}

	evicted, remaining, err := m.store.EvictOldest(cache, limit)
	if err != nil {
		m.sink.RecordError(
			time.Now(),
			"eviction",
			"Manager.AfterWrite",
			telemetry.CauseStorageFailure,
			err.Error(),
			[]telemetry.Attribute{
				telemetry.NewAttr(telemetry.AttrCache, string(cache)),
			},
		)
		return err
	}

	if evicted > 0 {
		m.sink.RecordEviction(string(cache), evicted, remaining)
	}
	return nil
}

// Limit reports the configured cap for a cache, and whether one exists.
func (m *Manager) Limit(cache cachestore.CacheName) (int, bool) {
	limit, bounded := m.limits[cache]
	return limit, bounded
}
