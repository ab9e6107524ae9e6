package scenario

import (
	"time"

	"github.com/patrickmn/go-cache"
)

// CachingLoader wraps another Loader with an expiring in-memory cache so
// that hosting the same case repeatedly doesn't re-read it from disk.
// Load failures are not cached; a fixed case file is picked up on the
// next attempt.
type CachingLoader struct {
	loader Loader
	cache  *cache.Cache
}

// NewCachingLoader returns a CachingLoader whose entries expire after the
// given duration.
func NewCachingLoader(loader Loader, expiry time.Duration) *CachingLoader {
	return &CachingLoader{
		loader: loader,
		cache:  cache.New(expiry, 2*expiry),
	}
}

func (l *CachingLoader) Load(id string) (*Scenario, error) {
	if cached, found := l.cache.Get(id); found {
		return cached.(*Scenario), nil
	}

	s, err := l.loader.Load(id)
	if err != nil {
		return nil, err
	}

	l.cache.SetDefault(id, s)
	return s, nil
}
