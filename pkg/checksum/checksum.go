// Package checksum computes and caches content checksums for downloaded
// artifacts, backing the Artifact Provider's getChecksum contract and the
// release-registry target's per-file checksums map.
package checksum

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"sync"

	"github.com/getsentry/craft/pkg/craft"
)

func newHash(algo craft.ChecksumAlgorithm) (hash.Hash, error) {
	switch algo {
	case craft.SHA1:
		return sha1.New(), nil
	case craft.SHA256:
		return sha256.New(), nil
	case craft.SHA384:
		return sha512.New384(), nil
	case craft.SHA512:
		return sha512.New(), nil
	case craft.MD5:
		return md5.New(), nil
	default:
		return nil, fmt.Errorf("unsupported checksum algorithm %q", algo)
	}
}

func encode(sum []byte, format craft.ChecksumFormat) (string, error) {
	switch format {
	case craft.Hex:
		return hex.EncodeToString(sum), nil
	case craft.Base64:
		return base64.StdEncoding.EncodeToString(sum), nil
	case craft.Base64URL:
		return base64.URLEncoding.EncodeToString(sum), nil
	default:
		return "", fmt.Errorf("unsupported checksum format %q", format)
	}
}

// Of computes the checksum of the file at path, in the given algorithm and
// format. It reads the whole file once per call; use a Cache to avoid
// recomputation across (path, algo, format) repeats in a single run.
func Of(path string, algo craft.ChecksumAlgorithm, format craft.ChecksumFormat) (string, error) {
	h, err := newHash(algo)
	if err != nil {
		return "", err
	}

	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening %s for checksum: %w", path, err)
	}
	defer f.Close()

	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hashing %s: %w", path, err)
	}

	return encode(h.Sum(nil), format)
}

// Cache memoizes Of results per (path, algo, format), matching the Artifact
// Provider contract that getChecksum is cached per (artifact, algo, format)
// for the lifetime of a run.
type Cache struct {
	mu     sync.Mutex
	values map[cacheKey]string
}

type cacheKey struct {
	path   string
	algo   craft.ChecksumAlgorithm
	format craft.ChecksumFormat
}

// NewCache returns an empty Cache.
func NewCache() *Cache {
	return &Cache{values: make(map[cacheKey]string)}
}

// Get returns the cached checksum for (path, algo, format), computing and
// storing it on first access.
func (c *Cache) Get(path string, algo craft.ChecksumAlgorithm, format craft.ChecksumFormat) (string, error) {
	key := cacheKey{path, algo, format}

	c.mu.Lock()
	if v, ok := c.values[key]; ok {
		c.mu.Unlock()
		return v, nil
	}
	c.mu.Unlock()

	v, err := Of(path, algo, format)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	c.values[key] = v
	c.mu.Unlock()

	return v, nil
}
