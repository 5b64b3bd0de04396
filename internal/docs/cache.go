package docs

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"flightlens/internal/logging"
)

const cacheFileName = "docs-cache.json"

// cachedDoc is the persisted record for one source URL.
type cachedDoc struct {
	Content     string      `json:"content"`
	ContentHash string      `json:"content_hash"`
	Chunks      []Chunk     `json:"chunks"`
	Embeddings  [][]float32 `json:"embeddings"`
	Timestamp   time.Time   `json:"timestamp"`
}

// cacheFile is the on-disk layout at ${CACHE_DIR}/docs-cache.json.
type cacheFile struct {
	Docs      map[string]cachedDoc `json:"docs"`
	LastCheck time.Time            `json:"lastCheck"`
}

// contentHash returns the hex SHA-256 of a document body.
func contentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// loadCache reads the cache file; a missing file yields an empty cache.
func loadCache(dir string) (*cacheFile, error) {
	path := filepath.Join(dir, cacheFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &cacheFile{Docs: make(map[string]cachedDoc)}, nil
		}
		return nil, fmt.Errorf("failed to read doc cache: %w", err)
	}

	var cf cacheFile
	if err := json.Unmarshal(data, &cf); err != nil {
		// A corrupt cache is rebuilt, not fatal.
		logging.Get(logging.CategoryDocs).Warnf("doc cache corrupt, rebuilding: %v", err)
		return &cacheFile{Docs: make(map[string]cachedDoc)}, nil
	}
	if cf.Docs == nil {
		cf.Docs = make(map[string]cachedDoc)
	}
	return &cf, nil
}

// saveCache writes the cache file atomically.
func saveCache(dir string, cf *cacheFile) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create cache dir: %w", err)
	}

	data, err := json.Marshal(cf)
	if err != nil {
		return fmt.Errorf("failed to marshal doc cache: %w", err)
	}

	path := filepath.Join(dir, cacheFileName)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write doc cache: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace doc cache: %w", err)
	}
	logging.DocsDebug("doc cache saved: %d docs", len(cf.Docs))
	return nil
}

// clearCache removes the cache file.
func clearCache(dir string) error {
	err := os.Remove(filepath.Join(dir, cacheFileName))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to clear doc cache: %w", err)
	}
	return nil
}
