package dictcache

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"fortio.org/safecast"
	"github.com/vmihailenco/msgpack/v5"
)

// Current schema version - increment when Payload format changes.
const schemaVersion uint16 = 1

// Digest identifies a dictionary source by content hash.
type Digest = [sha256.Size]byte

// Payload stores a compiled word list for fast reloads.
type Payload struct {
	Schema uint16
	Source string
	Count  uint32
	Words  []string
}

// Cache stores compiled dictionaries on disk, keyed by source digest.
// Thread-safe for concurrent access.
type Cache struct {
	mu  sync.RWMutex
	dir string
}

// Open initializes and returns a disk cache at the standard location.
func Open(app string) (*Cache, error) {
	base := os.Getenv("XDG_CACHE_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		base = filepath.Join(home, ".cache")
	}
	dir := filepath.Join(base, app)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Cache{dir: dir}, nil
}

// OpenAt initializes a cache rooted at an explicit directory.
func OpenAt(dir string) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Cache{dir: dir}, nil
}

func (c *Cache) pathFor(key Digest) string {
	hexKey := hex.EncodeToString(key[:])
	return filepath.Join(c.dir, "dicts", hexKey+".mp")
}

// Put serializes and writes a compiled word list to the disk cache.
func (c *Cache) Put(key Digest, source string, words []string) error {
	if c == nil {
		return nil
	}
	count, err := safecast.Conv[uint32](len(words))
	if err != nil {
		return err
	}
	payload := Payload{
		Schema: schemaVersion,
		Source: source,
		Count:  count,
		Words:  words,
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	p := c.pathFor(key)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(filepath.Dir(p), "tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(f.Name())

	enc := msgpack.NewEncoder(f)
	if err := enc.Encode(&payload); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	// Atomic replace.
	return os.Rename(f.Name(), p)
}

// Get reads a compiled word list from the disk cache. The second return is
// false on miss, schema mismatch, or count mismatch.
func (c *Cache) Get(key Digest) ([]string, bool, error) {
	if c == nil {
		return nil, false, nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	f, err := os.Open(c.pathFor(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer f.Close()

	var payload Payload
	dec := msgpack.NewDecoder(f)
	if err := dec.Decode(&payload); err != nil {
		return nil, false, nil
	}
	if payload.Schema != schemaVersion {
		return nil, false, nil
	}
	count, err := safecast.Conv[uint32](len(payload.Words))
	if err != nil || count != payload.Count {
		return nil, false, nil
	}
	return payload.Words, true, nil
}
