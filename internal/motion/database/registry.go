package database

import (
	"fmt"
	"sync"

	"github.com/dgraph-io/ristretto"

	"github.com/banshee-data/motionmatch/internal/anim"
	"github.com/banshee-data/motionmatch/internal/motion"
	"github.com/banshee-data/motionmatch/internal/motion/features"
)

// DefaultRegistrySize is the number of distinct databases a registry keeps.
const DefaultRegistrySize = 8

// Registry shares built databases between controllers in one process. Entries
// are keyed by fingerprint, so characters with the same skeleton, clip set and
// options search one read-only Database. Evicted databases stay valid for the
// controllers already holding them.
type Registry struct {
	mu    sync.Mutex // one build per fingerprint at a time
	cache *ristretto.Cache
}

// NewRegistry returns a registry holding up to size databases.
func NewRegistry(size int64) (*Registry, error) {
	if size <= 0 {
		size = DefaultRegistrySize
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters:        size * 10,
		MaxCost:            size,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create database registry: %w", err)
	}
	return &Registry{cache: cache}, nil
}

// Lookup returns the shared database for fingerprint.
func (r *Registry) Lookup(fingerprint string) (*Database, bool) {
	v, ok := r.cache.Get(fingerprint)
	if !ok {
		return nil, false
	}
	d, ok := v.(*Database)
	return d, ok
}

// Publish makes a built database available under its fingerprint for opts.
// The database must not be modified afterwards.
func (r *Registry) Publish(d *Database, opts BuildOptions) (string, error) {
	if d == nil || !d.Built() {
		return "", ErrNotBuilt
	}
	fp := d.Fingerprint(opts)
	if !r.cache.Set(fp, d, 1) {
		return fp, fmt.Errorf("database registry dropped %.12s", fp)
	}
	r.cache.Wait()
	return fp, nil
}

// Acquire returns the shared database for the clip set, building it through
// store on the first request. shared reports whether an existing entry was
// reused.
func (r *Registry) Acquire(skel *anim.Skeleton, cfg features.Config, specs []ClipSpec, store CacheStore, name string, opts BuildOptions) (d *Database, shared bool, err error) {
	if skel == nil {
		return nil, false, ErrNoSkeleton
	}
	d = New(skel, cfg)
	for _, spec := range specs {
		if d.AddClip(spec) < 0 {
			return nil, false, fmt.Errorf("failed to add clip %q", spec.Name)
		}
	}
	fp := d.Fingerprint(opts)

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.Lookup(fp); ok {
		motion.Diagf("sharing database %.12s for %q", fp, name)
		return existing, true, nil
	}
	if _, err := d.BuildOrLoad(store, name, opts); err != nil {
		return nil, false, err
	}
	if _, err := r.Publish(d, opts); err != nil {
		// The caller still gets a usable database, only unshared.
		motion.Opsf("%v", err)
	}
	return d, false, nil
}

// Close releases the registry. Databases already handed out stay valid.
func (r *Registry) Close() {
	r.cache.Close()
}
