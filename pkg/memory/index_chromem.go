package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/philippgille/chromem-go"
)

// ChromemIndex keeps one vector collection per user so queries can never
// cross user boundaries. It is derived state over the SQLite rows.
type ChromemIndex struct {
	db          *chromem.DB
	mu          sync.RWMutex
	collections map[string]*chromem.Collection
}

// NewChromemIndex opens (or creates) a persistent vector index rooted at
// path. An empty path yields an in-memory index, used by tests.
func NewChromemIndex(path string) (*ChromemIndex, error) {
	var (
		db  *chromem.DB
		err error
	)
	if strings.TrimSpace(path) == "" {
		db = chromem.NewDB()
	} else {
		db, err = chromem.NewPersistentDB(path, false)
		if err != nil {
			return nil, fmt.Errorf("open vector index: %w", err)
		}
	}
	return &ChromemIndex{
		db:          db,
		collections: make(map[string]*chromem.Collection),
	}, nil
}

func collectionName(userID string) string {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "global"
	}
	return fmt.Sprintf("user_%s", userID)
}

func (ix *ChromemIndex) getOrCreateCollection(userID string) (*chromem.Collection, error) {
	name := collectionName(userID)

	ix.mu.RLock()
	col, ok := ix.collections[name]
	ix.mu.RUnlock()
	if ok {
		return col, nil
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	if col, ok := ix.collections[name]; ok {
		return col, nil
	}

	col, err := ix.db.GetOrCreateCollection(name, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("get or create collection %s: %w", name, err)
	}
	ix.collections[name] = col
	return col, nil
}

// Add indexes one record embedding under the user's collection.
func (ix *ChromemIndex) Add(ctx context.Context, userID, recordID, content string, embedding []float32, metadata map[string]string) error {
	col, err := ix.getOrCreateCollection(userID)
	if err != nil {
		return err
	}
	doc := chromem.Document{
		ID:        recordID,
		Content:   content,
		Embedding: embedding,
		Metadata:  metadata,
	}
	if err := col.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("index record %s: %w", recordID, err)
	}
	return nil
}

// Hit is one vector match: a record id with its cosine similarity.
type Hit struct {
	RecordID   string
	Similarity float64
}

// Query returns up to limit nearest records for the user. Collections
// smaller than limit are retried with a lower limit rather than treated
// as errors.
func (ix *ChromemIndex) Query(ctx context.Context, userID string, embedding []float32, limit int) ([]Hit, error) {
	if limit <= 0 {
		return nil, nil
	}
	col, err := ix.getOrCreateCollection(userID)
	if err != nil {
		return nil, err
	}
	if col.Count() == 0 {
		return nil, nil
	}

	var results []chromem.Result
	for currentLimit := limit; currentLimit >= 1; currentLimit-- {
		results, err = col.QueryEmbedding(ctx, embedding, currentLimit, nil, nil)
		if err == nil {
			break
		}
		if !isInsufficientDocsError(err) {
			return nil, fmt.Errorf("query collection %s: %w", collectionName(userID), err)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("query collection %s: %w", collectionName(userID), err)
	}

	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		hits = append(hits, Hit{RecordID: r.ID, Similarity: float64(r.Similarity)})
	}
	return hits, nil
}

// DropUser discards the user's whole collection.
func (ix *ChromemIndex) DropUser(userID string) error {
	name := collectionName(userID)

	ix.mu.Lock()
	delete(ix.collections, name)
	ix.mu.Unlock()

	if err := ix.db.DeleteCollection(name); err != nil {
		return fmt.Errorf("delete collection %s: %w", name, err)
	}
	return nil
}

// Count reports how many embeddings the user's collection holds.
func (ix *ChromemIndex) Count(userID string) int {
	col, err := ix.getOrCreateCollection(userID)
	if err != nil {
		return 0
	}
	return col.Count()
}

func isInsufficientDocsError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "nResults must be") || strings.Contains(msg, "number of documents")
}
