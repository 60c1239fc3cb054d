// Package assets resolves tile-set documents and images against the assets
// root directories and caches what it has read.
package assets

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/Faultbox/tilebake/pkg/tiled"
)

// Manager reads asset files from one or more root directories.
type Manager struct {
	roots    []string
	cache    *Cache
	tilesets map[string]*tiled.TileSet
	mu       sync.RWMutex
	log      *zap.Logger
}

// NewManager creates a new asset manager. A nil logger disables logging.
func NewManager(log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		cache:    NewCache(),
		tilesets: make(map[string]*tiled.TileSet),
		log:      log,
	}
}

// AddRoot adds an assets root directory.
// Roots are searched in reverse order (last added = highest priority).
func (m *Manager) AddRoot(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("opening assets root %s: %w", dir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("assets root %s is not a directory", dir)
	}

	m.mu.Lock()
	m.roots = append(m.roots, dir)
	m.mu.Unlock()

	return nil
}

// Roots returns the configured root directories.
func (m *Manager) Roots() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.roots...)
}

// Resolve returns the on-disk path of name in the highest-priority root that
// has it. name is slash-separated and may climb out of the root with "..".
func (m *Manager) Resolve(name string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for i := len(m.roots) - 1; i >= 0; i-- {
		path := filepath.Join(m.roots[i], filepath.FromSlash(name))
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("%w: %s", fs.ErrNotExist, name)
}

// Load loads a file from the roots.
func (m *Manager) Load(name string) ([]byte, error) {
	// Check cache first
	if data, ok := m.cache.Get(name); ok {
		return data, nil
	}

	path, err := m.Resolve(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	m.cache.Set(name, data)
	m.log.Debug("loaded asset", zap.String("name", name), zap.String("path", path), zap.Int("bytes", len(data)))
	return data, nil
}

// Open implements fs.FS over the roots so image checks can read files the
// same way tile-sets are found. Unlike Resolve it only accepts names valid
// under fs.ValidPath, so nothing outside the roots is reachable.
func (m *Manager) Open(name string) (fs.File, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrInvalid}
	}
	path, err := m.Resolve(name)
	if err != nil {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
	}
	return os.Open(path)
}

// TileSet loads and parses the tile-set document source. Parsed tile-sets
// are cached, so every source is read at most once per manager.
func (m *Manager) TileSet(source string) (*tiled.TileSet, error) {
	m.mu.RLock()
	ts, ok := m.tilesets[source]
	m.mu.RUnlock()
	if ok {
		return ts, nil
	}

	data, err := m.Load(source)
	if err != nil {
		return nil, err
	}
	ts, err = tiled.ParseTileSet(data, source)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.tilesets[source] = ts
	m.mu.Unlock()
	return ts, nil
}

// Close drops all roots and cached data.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.roots = nil
	m.tilesets = make(map[string]*tiled.TileSet)
	m.cache.Clear()
}

// Stats returns cache statistics.
func (m *Manager) Stats() (hits, misses int) {
	return m.cache.Stats()
}

// Cache is a simple in-memory cache for loaded assets.
type Cache struct {
	data map[string][]byte
	mu   sync.RWMutex

	// Stats
	hits   int
	misses int
}

// NewCache creates a new cache.
func NewCache() *Cache {
	return &Cache{
		data: make(map[string][]byte),
	}
}

// Get retrieves an item from cache.
func (c *Cache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, ok := c.data[key]
	if ok {
		c.hits++
	} else {
		c.misses++
	}
	return data, ok
}

// Set stores an item in cache.
func (c *Cache) Set(key string, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = data
}

// Clear clears the cache.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = make(map[string][]byte)
	c.hits = 0
	c.misses = 0
}

// Stats returns cache statistics.
func (c *Cache) Stats() (hits, misses int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hits, c.misses
}
