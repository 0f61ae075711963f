package extension

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fxamacker/cbor/v2"
)

// cacheVersion is bumped whenever the cached Record layout changes.
const cacheVersion uint8 = 1

type cacheFile struct {
	Version uint8     `cbor:"0,keyasint"`
	Records []*Record `cbor:"1,keyasint"`
}

// Cache persists the extension catalog as CBOR so a host can start from
// the last known catalog when discovery yields nothing.
type Cache struct {
	path string
}

// NewCache creates a cache stored at path.
func NewCache(path string) *Cache {
	return &Cache{path: path}
}

// Path returns the cache file location.
func (c *Cache) Path() string {
	return c.path
}

// Save writes records to the cache file atomically.
func (c *Cache) Save(records []*Record) error {
	data, err := cbor.Marshal(cacheFile{Version: cacheVersion, Records: records})
	if err != nil {
		return fmt.Errorf("encode catalog: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write catalog: %w", err)
	}
	return os.Rename(tmp, c.path)
}

// Load reads the cached records. A missing file yields no records and no error.
func (c *Cache) Load() ([]*Record, error) {
	data, err := os.ReadFile(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	var f cacheFile
	if err := cbor.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	if f.Version != cacheVersion {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrCacheVersion, f.Version, cacheVersion)
	}
	return f.Records, nil
}
