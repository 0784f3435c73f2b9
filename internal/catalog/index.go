package catalog

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	openai "github.com/sashabaranov/go-openai"
)

// Embedder turns texts into fixed-dimension vectors. Batch-in, batch-out;
// the result must be positionally aligned with the input.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// OpenAIEmbedder calls an OpenAI-compatible embeddings endpoint.
type OpenAIEmbedder struct {
	client *openai.Client
	model  openai.EmbeddingModel
}

// NewOpenAIEmbedder builds an embedder for the given endpoint. baseURL may
// be empty to use the public API.
func NewOpenAIEmbedder(apiKey, model, baseURL string) *OpenAIEmbedder {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIEmbedder{
		client: openai.NewClientWithConfig(cfg),
		model:  openai.EmbeddingModel(model),
	}
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: e.model,
	})
	if err != nil {
		return nil, fmt.Errorf("catalog: embed %d texts: %w", len(texts), err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("catalog: embed returned %d vectors for %d texts", len(resp.Data), len(texts))
	}
	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(texts) {
			return nil, fmt.Errorf("catalog: embed returned out-of-range index %d", d.Index)
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}

type indexed struct {
	name   string
	vector []float32
}

// Index is a flat cosine-similarity index over tool names. Entries are
// keyed by tool name; Upsert replaces an existing entry's vector.
type Index struct {
	mu      sync.RWMutex
	entries []indexed
	byName  map[string]int
}

// NewIndex creates an empty index.
func NewIndex() *Index {
	return &Index{byName: make(map[string]int)}
}

// Upsert inserts or replaces the vector for name.
func (ix *Index) Upsert(name string, vector []float32) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if i, ok := ix.byName[name]; ok {
		ix.entries[i].vector = vector
		return
	}
	ix.byName[name] = len(ix.entries)
	ix.entries = append(ix.entries, indexed{name: name, vector: vector})
}

// Delete removes name from the index. The remaining entries are compacted;
// positions are an internal detail.
func (ix *Index) Delete(name string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	i, ok := ix.byName[name]
	if !ok {
		return
	}
	last := len(ix.entries) - 1
	if i != last {
		ix.entries[i] = ix.entries[last]
		ix.byName[ix.entries[i].name] = i
	}
	ix.entries = ix.entries[:last]
	delete(ix.byName, name)
}

// Len reports the number of indexed tools.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.entries)
}

// Search returns up to limit tool names ranked by cosine similarity to the
// query vector, best first. Ties break by name for determinism.
func (ix *Index) Search(query []float32, limit int) []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	type scored struct {
		name  string
		score float64
	}
	results := make([]scored, 0, len(ix.entries))
	for _, e := range ix.entries {
		results = append(results, scored{name: e.name, score: cosine(query, e.vector)})
	}
	sort.Slice(results, func(a, b int) bool {
		if results[a].score != results[b].score {
			return results[a].score > results[b].score
		}
		return results[a].name < results[b].name
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	names := make([]string, len(results))
	for i, r := range results {
		names[i] = r.name
	}
	return names
}

func cosine(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
