package docs

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"flightlens/internal/embedding"
	"flightlens/internal/logging"
)

// Fetcher retrieves a document body by URL. Swapped out in tests.
type Fetcher func(ctx context.Context, url string) (string, error)

// Options configures an Index.
type Options struct {
	SourceURLs  []string
	CacheDir    string
	MaxCacheAge time.Duration // Reuse window for cached embeddings
	ChunkBudget int
	TopK        int
	Fetcher     Fetcher // Defaults to an HTTP fetcher
}

// Status reports the index state for the docs/status endpoint.
type Status struct {
	Ready      bool      `json:"ready"`
	ChunkCount int       `json:"chunkCount"`
	Sources    []string  `json:"sources"`
	Fallback   bool      `json:"fallback"`
	LastCheck  time.Time `json:"lastCheck"`
}

// SearchResult is one retrieval hit.
type SearchResult struct {
	Content    string  `json:"content"`
	Type       string  `json:"type"`
	Similarity float64 `json:"similarity"`
}

// Index is the process-wide documentation index. Append-only within a
// process; refresh replaces the chunk set under an exclusive lock.
type Index struct {
	mu       sync.RWMutex
	chunks   []Chunk
	engine   embedding.Engine
	opts     Options
	fallback bool
	last     time.Time
}

// embedBatchSize bounds one embedding request; batches run concurrently
// under embedParallelism.
const (
	embedBatchSize   = 32
	embedParallelism = 4
)

// NewIndex creates an index. Call Initialize before serving searches.
func NewIndex(engine embedding.Engine, opts Options) *Index {
	if opts.ChunkBudget <= 0 {
		opts.ChunkBudget = 1000
	}
	if opts.TopK <= 0 {
		opts.TopK = 3
	}
	if opts.Fetcher == nil {
		opts.Fetcher = httpFetcher
	}
	return &Index{engine: engine, opts: opts}
}

func httpFetcher(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("doc fetch failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("doc fetch returned status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return "", fmt.Errorf("doc fetch read failed: %w", err)
	}
	return string(body), nil
}

// Initialize builds the index: fetch each source, reuse cached embeddings
// when the content hash matches and the cache is fresh, embed otherwise.
// If every fetch fails the built-in corpus keeps the system operational.
func (idx *Index) Initialize(ctx context.Context) error {
	timer := logging.StartTimer(logging.CategoryDocs, "Initialize")
	defer timer.Stop()
	return idx.rebuild(ctx, false)
}

// Refresh re-fetches sources and re-embeds changed content.
func (idx *Index) Refresh(ctx context.Context) error {
	return idx.rebuild(ctx, true)
}

func (idx *Index) rebuild(ctx context.Context, force bool) error {
	cache, err := loadCache(idx.opts.CacheDir)
	if err != nil {
		return err
	}

	var chunks []Chunk
	fallback := false

	for _, url := range idx.opts.SourceURLs {
		docChunks, err := idx.buildSource(ctx, cache, url, force)
		if err != nil {
			logging.Get(logging.CategoryDocs).Warnf("source %s unavailable: %v", url, err)
			continue
		}
		chunks = append(chunks, docChunks...)
	}

	if len(chunks) == 0 {
		logging.Docs("all sources unavailable, seeding built-in corpus")
		chunks, err = idx.embedChunks(ctx, fallbackChunks())
		if err != nil {
			return fmt.Errorf("failed to embed fallback corpus: %w", err)
		}
		fallback = true
	}

	cache.LastCheck = time.Now()
	if !fallback {
		if err := saveCache(idx.opts.CacheDir, cache); err != nil {
			logging.Get(logging.CategoryDocs).Warnf("doc cache save failed: %v", err)
		}
	}

	idx.mu.Lock()
	idx.chunks = chunks
	idx.fallback = fallback
	idx.last = cache.LastCheck
	idx.mu.Unlock()

	logging.Docs("doc index ready: %d chunks (fallback=%v)", len(chunks), fallback)
	return nil
}

// buildSource returns embedded chunks for one URL, reusing the cache when
// hash and age allow.
func (idx *Index) buildSource(ctx context.Context, cache *cacheFile, url string, force bool) ([]Chunk, error) {
	content, err := idx.opts.Fetcher(ctx, url)
	if err != nil {
		return nil, err
	}

	hash := contentHash(content)
	if !force {
		if cached, ok := cache.Docs[url]; ok &&
			cached.ContentHash == hash &&
			time.Since(cached.Timestamp) < idx.opts.MaxCacheAge &&
			len(cached.Chunks) == len(cached.Embeddings) {
			logging.DocsDebug("cache hit for %s: %d chunks", url, len(cached.Chunks))
			chunks := make([]Chunk, len(cached.Chunks))
			for i, c := range cached.Chunks {
				chunks[i] = Chunk{Content: c.Content, Type: c.Type, Embedding: cached.Embeddings[i]}
			}
			return chunks, nil
		}
	}

	units := ExtractUnits(content)
	chunks, err := idx.embedChunks(ctx, ChunkUnits(units, idx.opts.ChunkBudget))
	if err != nil {
		return nil, err
	}

	embeddings := make([][]float32, len(chunks))
	stripped := make([]Chunk, len(chunks))
	for i, c := range chunks {
		embeddings[i] = c.Embedding
		stripped[i] = Chunk{Content: c.Content, Type: c.Type}
	}
	cache.Docs[url] = cachedDoc{
		Content:     content,
		ContentHash: hash,
		Chunks:      stripped,
		Embeddings:  embeddings,
		Timestamp:   time.Now(),
	}
	return chunks, nil
}

// embedChunks fills in embeddings, batching requests with bounded
// parallelism.
func (idx *Index) embedChunks(ctx context.Context, chunks []Chunk) ([]Chunk, error) {
	if len(chunks) == 0 {
		return nil, fmt.Errorf("no chunks to embed")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(embedParallelism)

	for start := 0; start < len(chunks); start += embedBatchSize {
		end := start + embedBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]

		g.Go(func() error {
			texts := make([]string, len(batch))
			for i, c := range batch {
				texts[i] = c.Content
			}
			vecs, err := idx.engine.EmbedBatch(gctx, texts)
			if err != nil {
				return err
			}
			for i := range batch {
				batch[i].Embedding = vecs[i]
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("chunk embedding failed: %w", err)
	}
	return chunks, nil
}

// Search embeds the query and returns the top-K most similar chunks.
func (idx *Index) Search(ctx context.Context, query string, k int) ([]SearchResult, error) {
	if k <= 0 {
		k = idx.opts.TopK
	}

	queryVec, err := idx.engine.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	corpus := make([][]float32, len(idx.chunks))
	for i, c := range idx.chunks {
		corpus[i] = c.Embedding
	}

	hits, err := embedding.FindTopK(queryVec, corpus, k)
	if err != nil {
		return nil, err
	}

	results := make([]SearchResult, len(hits))
	for i, hit := range hits {
		chunk := idx.chunks[hit.Index]
		results[i] = SearchResult{
			Content:    chunk.Content,
			Type:       chunk.Type,
			Similarity: hit.Similarity,
		}
	}
	return results, nil
}

// Status reports the current index state.
func (idx *Index) Status() Status {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return Status{
		Ready:      len(idx.chunks) > 0,
		ChunkCount: len(idx.chunks),
		Sources:    idx.opts.SourceURLs,
		Fallback:   idx.fallback,
		LastCheck:  idx.last,
	}
}

// ClearCache purges the on-disk embedding cache. The in-memory index is
// untouched; the next refresh re-embeds.
func (idx *Index) ClearCache() error {
	return clearCache(idx.opts.CacheDir)
}

// Flush persists nothing beyond what rebuild already saved; kept as the
// shutdown hook so the composition root has a single teardown call.
func (idx *Index) Flush() error {
	return nil
}
