package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/kdf-labs/empathicbot/pkg/logger"
	"github.com/kdf-labs/empathicbot/pkg/providers"
)

const (
	defaultTopK      = 3
	defaultCacheSize = 256
)

// ServiceConfig tunes retrieval. Zero values fall back to defaults.
type ServiceConfig struct {
	TopK      int
	CacheSize int
}

// Service is the long-term memory facade: embed on write, rank by cosine
// similarity on read, SQLite as the source of truth.
type Service struct {
	store    *SQLiteStore
	index    *ChromemIndex
	embedder providers.Embedder
	topK     int
	// Query embeddings are cached because users often repeat phrasing
	// within a session.
	queryCache *lru.Cache[string, []float32]
}

func NewService(store *SQLiteStore, index *ChromemIndex, embedder providers.Embedder, cfg ServiceConfig) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("memory store is required")
	}
	if index == nil {
		return nil, fmt.Errorf("vector index is required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if cfg.TopK <= 0 {
		cfg.TopK = defaultTopK
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = defaultCacheSize
	}

	cache, err := lru.New[string, []float32](cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("create query cache: %w", err)
	}

	return &Service{
		store:      store,
		index:      index,
		embedder:   embedder,
		topK:       cfg.TopK,
		queryCache: cache,
	}, nil
}

// Save persists one memory and indexes its embedding. The SQLite row is
// written first; an indexing failure leaves a recoverable gap that the
// maintenance sweep closes via Reindex.
func (s *Service) Save(ctx context.Context, userID, summary string, metadata map[string]string) (Record, error) {
	summary = strings.TrimSpace(summary)
	if summary == "" {
		return Record{}, fmt.Errorf("memory summary is empty")
	}

	vectors, err := s.embedder.Embed(ctx, []string{summary})
	if err != nil {
		return Record{}, fmt.Errorf("embed memory summary: %w", err)
	}

	rec := Record{UserID: userID, Summary: summary, Metadata: metadata}
	if err := s.store.Insert(ctx, &rec); err != nil {
		return Record{}, err
	}

	if err := s.index.Add(ctx, userID, rec.ID, summary, vectors[0], metadata); err != nil {
		logger.WarnCF("memory", "record saved but not indexed", map[string]interface{}{
			"user_id":   userID,
			"record_id": rec.ID,
			"error":     err.Error(),
		})
	}
	return rec, nil
}

// Retrieve returns the user's most similar memories, best first, ties
// broken by recency. Backend failures degrade to an empty result rather
// than an error: a turn without memories is still a valid turn.
func (s *Service) Retrieve(ctx context.Context, userID, query string) []Retrieved {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil
	}

	embedding, err := s.queryEmbedding(ctx, query)
	if err != nil {
		logger.WarnCF("memory", "query embedding failed, skipping retrieval", map[string]interface{}{
			"user_id": userID,
			"error":   err.Error(),
		})
		return nil
	}
	if isZeroVector(embedding) {
		return nil
	}

	hits, err := s.index.Query(ctx, userID, embedding, s.topK)
	if err != nil {
		logger.WarnCF("memory", "vector query failed, skipping retrieval", map[string]interface{}{
			"user_id": userID,
			"error":   err.Error(),
		})
		return nil
	}
	if len(hits) == 0 {
		return nil
	}

	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.RecordID
	}
	records, err := s.store.GetMany(ctx, ids)
	if err != nil {
		logger.WarnCF("memory", "record load failed, skipping retrieval", map[string]interface{}{
			"user_id": userID,
			"error":   err.Error(),
		})
		return nil
	}

	out := make([]Retrieved, 0, len(hits))
	for _, h := range hits {
		rec, ok := records[h.RecordID]
		if !ok {
			// Stale index entry, record was deleted from the store.
			continue
		}
		out = append(out, Retrieved{Record: rec, Similarity: h.Similarity})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Similarity != out[j].Similarity {
			return out[i].Similarity > out[j].Similarity
		}
		return out[i].Record.CreatedAtMS > out[j].Record.CreatedAtMS
	})
	if len(out) > s.topK {
		out = out[:s.topK]
	}
	return out
}

// DeleteAll removes every memory for a user. The returned count comes
// from the durable store; dropping the vector collection is best-effort.
func (s *Service) DeleteAll(ctx context.Context, userID string) (int, error) {
	count, err := s.store.DeleteByUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	if err := s.index.DropUser(userID); err != nil {
		logger.WarnCF("memory", "vector collection not dropped", map[string]interface{}{
			"user_id": userID,
			"error":   err.Error(),
		})
	}
	return count, nil
}

// List returns a user's memories newest first, without similarity
// ranking.
func (s *Service) List(ctx context.Context, userID string, limit int) ([]Record, error) {
	return s.store.ListByUser(ctx, userID, limit)
}

// Reindex rebuilds the vector collections from the SQLite rows. Used by
// the maintenance sweep to close gaps left by failed index writes.
func (s *Service) Reindex(ctx context.Context) error {
	users, err := s.store.Users(ctx)
	if err != nil {
		return err
	}
	for _, userID := range users {
		records, err := s.store.ListByUser(ctx, userID, 0)
		if err != nil {
			return err
		}
		if s.index.Count(userID) >= len(records) {
			continue
		}
		for _, rec := range records {
			vectors, err := s.embedder.Embed(ctx, []string{rec.Summary})
			if err != nil {
				return fmt.Errorf("embed record %s: %w", rec.ID, err)
			}
			if err := s.index.Add(ctx, userID, rec.ID, rec.Summary, vectors[0], rec.Metadata); err != nil {
				logger.DebugCF("memory", "reindex skipped record", map[string]interface{}{
					"record_id": rec.ID,
					"error":     err.Error(),
				})
			}
		}
		logger.InfoCF("memory", "reindexed user collection", map[string]interface{}{
			"user_id": userID,
			"records": len(records),
		})
	}
	return nil
}

func (s *Service) queryEmbedding(ctx context.Context, query string) ([]float32, error) {
	if cached, ok := s.queryCache.Get(query); ok {
		return cached, nil
	}
	vectors, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	s.queryCache.Add(query, vectors[0])
	return vectors[0], nil
}

func isZeroVector(vec []float32) bool {
	for _, v := range vec {
		if v != 0 {
			return false
		}
	}
	return true
}
