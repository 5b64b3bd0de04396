package docs

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// hashEngine is a deterministic fake embedding engine: a bag-of-words
// vector hashed into 16 buckets. Identical content always embeds
// identically, and texts sharing words score high cosine similarity.
type hashEngine struct {
	calls int
}

func (e *hashEngine) Embed(_ context.Context, text string) ([]float32, error) {
	e.calls++
	vec := make([]float32, 16)
	for _, word := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		h.Write([]byte(word))
		vec[h.Sum32()%16]++
	}
	return vec, nil
}

func (e *hashEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (e *hashEngine) Dimensions() int { return 16 }
func (e *hashEngine) Name() string    { return "hash" }

const sampleHTML = `
<html><body>
<h2>ATT (attitude)</h2>
<p>Roll and Pitch are vehicle attitude in degrees.</p>
<h2>GPS (position)</h2>
<p>Alt is altitude in meters. Spd is ground speed.</p>
<pre>SELECT MAX(Alt) FROM gps_0_data</pre>
<table><tr><th>Field</th><th>Unit</th></tr><tr><td>Alt</td><td>m</td></tr></table>
</body></html>`

func staticFetcher(body string) Fetcher {
	return func(context.Context, string) (string, error) { return body, nil }
}

func failingFetcher(context.Context, string) (string, error) {
	return "", fmt.Errorf("connection refused")
}

func newTestIndex(t *testing.T, engine *hashEngine, fetcher Fetcher) *Index {
	t.Helper()
	return NewIndex(engine, Options{
		SourceURLs:  []string{"https://example.test/logmessages.html"},
		CacheDir:    t.TempDir(),
		MaxCacheAge: 30 * 24 * time.Hour,
		ChunkBudget: 60,
		TopK:        3,
		Fetcher:     fetcher,
	})
}

func TestExtractUnits(t *testing.T) {
	units := ExtractUnits(sampleHTML)

	var types []string
	for _, u := range units {
		types = append(types, u.Type)
	}
	require.Equal(t, []string{
		UnitHeading, UnitParagraph, UnitHeading, UnitParagraph, UnitCode, UnitTable,
	}, types)
	require.Equal(t, "ATT (attitude)", units[0].Text)
	require.Contains(t, units[5].Text, "Alt | m")
}

func TestChunkUnitsRespectsBudget(t *testing.T) {
	units := []Unit{
		{UnitHeading, "Header"},
		{UnitParagraph, "aaaa aaaa aaaa aaaa"},
		{UnitParagraph, "bbbb bbbb bbbb bbbb"},
		{UnitParagraph, "cccc cccc cccc cccc"},
	}
	chunks := ChunkUnits(units, 45)

	require.GreaterOrEqual(t, len(chunks), 2)
	for _, c := range chunks {
		// A chunk only exceeds the budget when a single unit does.
		require.LessOrEqual(t, len(c.Content), 45+len("Header\n"))
	}
	// Units are never split mid-item.
	require.Contains(t, chunks[0].Content, "aaaa aaaa aaaa aaaa")
}

func TestInitializeAndSearch(t *testing.T) {
	engine := &hashEngine{}
	idx := newTestIndex(t, engine, staticFetcher(sampleHTML))

	require.NoError(t, idx.Initialize(context.Background()))
	st := idx.Status()
	require.True(t, st.Ready)
	require.False(t, st.Fallback)
	require.Greater(t, st.ChunkCount, 0)

	results, err := idx.Search(context.Background(), "Alt is altitude in meters. Spd is ground speed.", 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Contains(t, results[0].Content, "altitude in meters")
	require.GreaterOrEqual(t, results[0].Similarity, results[1].Similarity)
}

func TestCacheReuseSkipsReembedding(t *testing.T) {
	engine := &hashEngine{}
	dir := t.TempDir()
	opts := Options{
		SourceURLs:  []string{"https://example.test/doc"},
		CacheDir:    dir,
		MaxCacheAge: 30 * 24 * time.Hour,
		ChunkBudget: 60,
		Fetcher:     staticFetcher(sampleHTML),
	}

	idx1 := NewIndex(engine, opts)
	require.NoError(t, idx1.Initialize(context.Background()))
	callsAfterFirst := engine.calls
	first := idx1.Status().ChunkCount

	// Same content hash: second process reuses embeddings without embedding.
	idx2 := NewIndex(engine, opts)
	require.NoError(t, idx2.Initialize(context.Background()))
	require.Equal(t, callsAfterFirst, engine.calls)
	require.Equal(t, first, idx2.Status().ChunkCount)
}

func TestCacheReembedsOnContentChange(t *testing.T) {
	engine := &hashEngine{}
	dir := t.TempDir()
	opts := Options{
		SourceURLs:  []string{"https://example.test/doc"},
		CacheDir:    dir,
		MaxCacheAge: 30 * 24 * time.Hour,
		ChunkBudget: 60,
		Fetcher:     staticFetcher(sampleHTML),
	}

	idx1 := NewIndex(engine, opts)
	require.NoError(t, idx1.Initialize(context.Background()))
	callsAfterFirst := engine.calls

	opts.Fetcher = staticFetcher(sampleHTML + "<p>New field documented.</p>")
	idx2 := NewIndex(engine, opts)
	require.NoError(t, idx2.Initialize(context.Background()))
	require.Greater(t, engine.calls, callsAfterFirst)
}

func TestFallbackCorpusOnFetchFailure(t *testing.T) {
	engine := &hashEngine{}
	idx := newTestIndex(t, engine, failingFetcher)

	require.NoError(t, idx.Initialize(context.Background()))
	st := idx.Status()
	require.True(t, st.Ready)
	require.True(t, st.Fallback)

	results, err := idx.Search(context.Background(), "battery voltage current", 3)
	require.NoError(t, err)
	require.NotEmpty(t, results)
}

func TestClearCache(t *testing.T) {
	engine := &hashEngine{}
	idx := newTestIndex(t, engine, staticFetcher(sampleHTML))
	require.NoError(t, idx.Initialize(context.Background()))
	require.NoError(t, idx.ClearCache())
	// Idempotent.
	require.NoError(t, idx.ClearCache())
}
