package database

import (
	"bytes"
	"compress/gzip"
	"encoding/gob"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"

	"github.com/banshee-data/motionmatch/internal/fsutil"
	"github.com/banshee-data/motionmatch/internal/motion"
	"github.com/banshee-data/motionmatch/internal/motion/features"
	"github.com/banshee-data/motionmatch/internal/motion/kdtree"
)

// cacheVersion changes whenever the snapshot layout or extraction math does.
const cacheVersion = 2

// CacheEntry is one stored database snapshot.
type CacheEntry struct {
	Name        string
	Fingerprint string
	BuildID     string
	Blob        []byte // gob+gzip snapshot
}

// CacheStore persists database snapshots. LoadCache returns ErrCacheMiss
// when nothing is stored under name.
type CacheStore interface {
	SaveCache(e *CacheEntry) error
	LoadCache(name string) (*CacheEntry, error)
}

// snapshot is the serialised database.
type snapshot struct {
	Version       int
	Fingerprint   string
	Clips         []Clip
	Poses         []Pose
	Normalization features.Normalization
	TreePoints    []kdtree.Point
	TreeNodes     []kdtree.Node
	TreeRoot      int
	Stats         Stats
}

// serializeSnapshot compresses s using gob encoding and gzip compression.
func serializeSnapshot(s *snapshot) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	enc := gob.NewEncoder(gz)
	if err := enc.Encode(s); err != nil {
		gz.Close()
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// deserializeSnapshot decompresses and decodes a gob+gzip snapshot.
func deserializeSnapshot(blob []byte) (*snapshot, error) {
	if len(blob) == 0 {
		return nil, fmt.Errorf("empty cache blob")
	}
	gz, err := gzip.NewReader(bytes.NewReader(blob))
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip reader: %w", err)
	}
	defer gz.Close()

	var s snapshot
	if err := gob.NewDecoder(gz).Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to decode cache snapshot: %w", err)
	}
	return &s, nil
}

// SaveCache writes the built database to store under name, tagged with the
// fingerprint for opts.
func (d *Database) SaveCache(store CacheStore, name string, opts BuildOptions) error {
	if !d.built {
		return ErrNotBuilt
	}
	s := &snapshot{
		Version:       cacheVersion,
		Fingerprint:   d.Fingerprint(opts),
		Clips:         d.clips,
		Poses:         d.poses,
		Normalization: d.norm,
		TreeRoot:      kdtree.NoChild,
		Stats:         d.stats,
	}
	if d.tree != nil {
		s.TreePoints = d.tree.Points()
		s.TreeNodes = d.tree.Nodes()
		s.TreeRoot = d.tree.Root()
	}
	blob, err := serializeSnapshot(s)
	if err != nil {
		return fmt.Errorf("failed to serialize database: %w", err)
	}
	if err := store.SaveCache(&CacheEntry{
		Name:        name,
		Fingerprint: s.Fingerprint,
		BuildID:     d.stats.BuildID,
		Blob:        blob,
	}); err != nil {
		return fmt.Errorf("failed to save cache %q: %w", name, err)
	}
	motion.Diagf("saved database cache %q: poses=%d blob=%d bytes", name, len(d.poses), len(blob))
	return nil
}

// LoadCache restores the database from store. The registered clips and opts
// must produce the stored fingerprint, otherwise ErrCacheMismatch is
// returned and the database is left unchanged.
func (d *Database) LoadCache(store CacheStore, name string, opts BuildOptions) error {
	e, err := store.LoadCache(name)
	if err != nil {
		return err
	}
	want := d.Fingerprint(opts)
	if e.Fingerprint != want {
		return fmt.Errorf("%w: cache %q has %.12s, want %.12s", ErrCacheMismatch, name, e.Fingerprint, want)
	}
	s, err := deserializeSnapshot(e.Blob)
	if err != nil {
		return err
	}
	if s.Version != cacheVersion || s.Fingerprint != want {
		return fmt.Errorf("%w: snapshot version %d fingerprint %.12s", ErrCacheMismatch, s.Version, s.Fingerprint)
	}
	if len(s.Clips) != len(d.clips) {
		return fmt.Errorf("%w: snapshot has %d clips, database has %d", ErrCacheMismatch, len(s.Clips), len(d.clips))
	}
	for _, p := range s.Poses {
		if p.ClipIndex < 0 || p.ClipIndex >= len(s.Clips) {
			return fmt.Errorf("invalid cache snapshot: pose clip index %d", p.ClipIndex)
		}
	}

	var tree *kdtree.Tree
	if len(s.TreeNodes) > 0 {
		tree, err = kdtree.FromNodes(s.TreePoints, s.TreeNodes, s.TreeRoot)
		if err != nil {
			return fmt.Errorf("invalid cache snapshot: %w", err)
		}
	}

	for i := range s.Clips {
		s.Clips[i].source = d.clips[i].source
	}
	d.clips = s.Clips
	d.poses = s.Poses
	d.norm = s.Normalization
	d.tree = tree
	d.stats = s.Stats
	d.stats.FromCache = true
	d.built = true
	motion.Diagf("loaded database cache %q: build=%s poses=%d", name, e.BuildID, len(d.poses))
	return nil
}

// BuildOrLoad restores the database from store when a matching cache exists
// and otherwise builds it and saves a fresh cache. A nil store always
// builds. Cache failures are logged, never fatal.
func (d *Database) BuildOrLoad(store CacheStore, name string, opts BuildOptions) (loaded bool, err error) {
	if store == nil {
		return false, d.Build(opts)
	}
	err = d.LoadCache(store, name, opts)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrCacheMismatch):
		motion.Opsf("database cache %q is stale, rebuilding: %v", name, err)
	case errors.Is(err, ErrCacheMiss):
		motion.Diagf("no database cache %q, building", name)
	default:
		motion.Opsf("failed to load database cache %q, rebuilding: %v", name, err)
	}

	if err := d.Build(opts); err != nil {
		return false, err
	}
	if err := d.SaveCache(store, name, opts); err != nil {
		motion.Opsf("%v", err)
	}
	return false, nil
}

// FileStore keeps one file per cache name in Dir.
type FileStore struct {
	FS  fsutil.FileSystem
	Dir string
}

// NewFileStore returns a FileStore writing under dir.
func NewFileStore(fsys fsutil.FileSystem, dir string) *FileStore {
	return &FileStore{FS: fsys, Dir: dir}
}

func (s *FileStore) path(name string) string {
	return filepath.Join(s.Dir, name+".mmcache")
}

// SaveCache atomically replaces the named cache file.
func (s *FileStore) SaveCache(e *CacheEntry) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(e); err != nil {
		return fmt.Errorf("failed to encode cache entry: %w", err)
	}
	return fsutil.WriteFileAtomic(s.FS, s.path(e.Name), buf.Bytes(), 0o644)
}

// LoadCache reads the named cache file.
func (s *FileStore) LoadCache(name string) (*CacheEntry, error) {
	data, err := s.FS.ReadFile(s.path(name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cache %q: %w", name, err)
	}
	var e CacheEntry
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&e); err != nil {
		return nil, fmt.Errorf("failed to decode cache entry %q: %w", name, err)
	}
	return &e, nil
}
