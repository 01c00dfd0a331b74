// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package retriever

import (
	"context"
	"errors"
	"log"
	"sort"
	"strings"
	"sync"

	"github.com/odras/ragcore/internal/database"
	"github.com/odras/ragcore/internal/embeddings"
	"github.com/odras/ragcore/internal/vectordb"
)

// ErrQueryTooShort rejects questions under two tokens.
var ErrQueryTooShort = errors.New("query must contain at least two words")

// Request describes one retrieval.
type Request struct {
	Query         string
	ProjectID     string
	Admin         bool
	AssetID       string
	DocumentTypes []string
	TopK          int     // 0 means intent-based default
	Threshold     float32 // 0 means configured default
}

// Result is one ranked chunk with everything a citation needs.
type Result struct {
	ChunkID        string  `json:"chunk_id"`
	AssetID        string  `json:"asset_id"`
	Content        string  `json:"content"`
	SectionPath    string  `json:"section_path,omitempty"`
	Page           *int    `json:"page,omitempty"`
	Seq            int     `json:"seq"`
	Score          float32 `json:"score"`
	EmbeddingModel string  `json:"embedding_model,omitempty"`
}

// Defaults hold the tunable retrieval knobs.
type Defaults struct {
	Threshold         float32
	TopKPoint         int
	TopKComprehensive int
}

// Retriever turns a question into ranked, visibility-filtered chunks. When
// the visible assets span multiple embedding models it fans out one
// sub-search per model and merges the results.
type Retriever struct {
	assets    *database.AssetStore
	vectors   vectordb.VectorDB
	embedders *embeddings.Registry
	defaults  Defaults
}

// New creates a retriever.
func New(assets *database.AssetStore, vectors vectordb.VectorDB, embedders *embeddings.Registry, defaults Defaults) *Retriever {
	if defaults.Threshold == 0 {
		defaults.Threshold = 0.25
	}
	if defaults.TopKPoint == 0 {
		defaults.TopKPoint = 5
	}
	if defaults.TopKComprehensive == 0 {
		defaults.TopKComprehensive = 10
	}
	return &Retriever{assets: assets, vectors: vectors, embedders: embedders, defaults: defaults}
}

// Retrieve runs the full path: normalise, embed, search, threshold, rerank.
// Zero results is a valid outcome, not an error.
func (r *Retriever) Retrieve(ctx context.Context, req Request) ([]Result, error) {
	query := NormalizeQuery(req.Query)
	if len(strings.Fields(query)) < 2 {
		return nil, ErrQueryTooShort
	}

	threshold := req.Threshold
	if threshold <= 0 {
		threshold = r.defaults.Threshold
	}
	topK := req.TopK
	if topK <= 0 {
		if IsComprehensiveQuery(query) {
			topK = r.defaults.TopKComprehensive
		} else {
			topK = r.defaults.TopKPoint
		}
	}

	models, err := r.assets.ModelsForScope(req.ProjectID, req.Admin)
	if err != nil {
		return nil, err
	}
	if len(models) == 0 {
		return []Result{}, nil
	}

	scope := vectordb.Scope{
		ProjectID:     req.ProjectID,
		Admin:         req.Admin,
		AssetID:       req.AssetID,
		DocumentTypes: req.DocumentTypes,
	}

	// Per-model sub-searches run concurrently; each suspends independently
	// on the embedding provider and the index.
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results []Result
	)

	for _, modelID := range models {
		embedder, err := r.embedders.Get(modelID)
		if err != nil {
			// Assets embedded with an unconfigured model are skipped, not
			// failed; the rest of the corpus still answers.
			log.Printf("Retrieve: skipping model %s: %v", modelID, err)
			continue
		}

		wg.Add(1)
		go func(e embeddings.Embedder) {
			defer wg.Done()

			vector, err := e.EmbedText(ctx, query)
			if err != nil {
				log.Printf("Retrieve: query embedding failed for model %s: %v", e.ID(), err)
				return
			}

			matches, err := r.vectors.Search(ctx, e.Dimension(), vector, topK*2, threshold, scope)
			if err != nil {
				log.Printf("Retrieve: vector search failed for model %s: %v", e.ID(), err)
				return
			}

			mu.Lock()
			for _, m := range matches {
				results = append(results, Result{
					ChunkID:        m.ID,
					AssetID:        m.Payload.AssetID,
					Content:        m.Payload.Content,
					SectionPath:    m.Payload.SectionPath,
					Page:           m.Payload.Page,
					Seq:            m.Payload.Seq,
					Score:          m.Score,
					EmbeddingModel: m.Payload.EmbeddingModel,
				})
			}
			mu.Unlock()
		}(embedder)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	results = diversityRerank(results, topK)

	return results, nil
}

// NormalizeQuery strips conversational padding and collapses whitespace so
// prepended context does not pollute the embedding.
func NormalizeQuery(query string) string {
	q := strings.TrimSpace(query)

	// Chat frontends prepend context blocks; only the question embeds well.
	for _, prefix := range []string{"context:", "previous conversation:", "history:"} {
		lower := strings.ToLower(q)
		if idx := strings.Index(lower, prefix); idx == 0 {
			if cut := strings.Index(q, "\n\n"); cut > 0 {
				q = q[cut+2:]
			}
		}
	}

	return strings.Join(strings.Fields(q), " ")
}

// IsComprehensiveQuery guesses the caller's intent: enumeration and summary
// questions get a larger top-K than point questions.
func IsComprehensiveQuery(query string) bool {
	lower := " " + strings.ToLower(query) + " "
	for _, marker := range []string{" list ", " all ", " every ", " summarize ", " summarise ", " summary ", " overview ", " compare ", " explain "} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// diversityRerank keeps the score ordering but guarantees that when several
// assets match, no single asset fills the whole result set: the best chunk
// of each asset is seated first, then remaining slots go by score.
func diversityRerank(results []Result, topK int) []Result {
	if len(results) == 0 {
		return []Result{}
	}

	assetSeen := make(map[string]bool)
	var leaders, rest []Result
	for _, res := range results {
		if !assetSeen[res.AssetID] {
			assetSeen[res.AssetID] = true
			leaders = append(leaders, res)
		} else {
			rest = append(rest, res)
		}
	}

	if len(assetSeen) <= 1 {
		if len(results) > topK {
			return results[:topK]
		}
		return results
	}

	merged := append(leaders, rest...)
	if len(merged) > topK {
		merged = merged[:topK]
	}
	// Final presentation stays score-ordered.
	sort.SliceStable(merged, func(i, j int) bool { return merged[i].Score > merged[j].Score })
	return merged
}
