package results

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/blevesearch/bleve"
	gocache "github.com/patrickmn/go-cache"
)

// Document is what gets indexed for a processed result.
type Document struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
	Domain  string `json:"domain"`
}

// SearchIndex is an in-memory full-text index over one session's results.
type SearchIndex struct {
	mu    sync.RWMutex
	bleve bleve.Index
	size  int
}

// BuildIndex indexes docs into a fresh in-memory index.
func BuildIndex(docs []Document) (*SearchIndex, error) {
	index, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, err
	}
	batch := index.NewBatch()
	for _, d := range docs {
		if err := batch.Index(d.ID, d); err != nil {
			_ = index.Close()
			return nil, err
		}
	}
	if err := index.Batch(batch); err != nil {
		_ = index.Close()
		return nil, err
	}
	return &SearchIndex{bleve: index, size: len(docs)}, nil
}

// Search returns matching document IDs ordered by score.
func (s *SearchIndex) Search(q string, limit int) ([]string, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return nil, nil
	}
	if limit <= 0 || limit > s.size {
		limit = s.size
	}
	if limit == 0 {
		return nil, nil
	}
	query := bleve.NewMatchQuery(q)
	req := bleve.NewSearchRequestOptions(query, limit, 0, false)

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.bleve == nil {
		return nil, fmt.Errorf("search index closed")
	}
	res, err := s.bleve.Search(req)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(res.Hits))
	for _, hit := range res.Hits {
		ids = append(ids, hit.ID)
	}
	return ids, nil
}

func (s *SearchIndex) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bleve == nil {
		return nil
	}
	err := s.bleve.Close()
	s.bleve = nil
	return err
}

// IndexCache keeps built indexes keyed by session and its last update, so a
// re-processed session is re-indexed on the next search.
type IndexCache struct {
	cache *gocache.Cache
	mu    sync.Mutex
}

func NewIndexCache(ttl time.Duration) *IndexCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	c := gocache.New(ttl, ttl)
	c.OnEvicted(func(_ string, v interface{}) {
		if idx, ok := v.(*SearchIndex); ok {
			_ = idx.Close()
		}
	})
	return &IndexCache{cache: c}
}

// IndexKey identifies one version of a session's result set.
func IndexKey(sessionID, version string) string {
	return fmt.Sprintf("%s:%s", sessionID, version)
}

// Get returns the cached index for key, building it with load on a miss.
func (c *IndexCache) Get(key string, load func() ([]Document, error)) (*SearchIndex, error) {
	if v, ok := c.cache.Get(key); ok {
		return v.(*SearchIndex), nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := c.cache.Get(key); ok {
		return v.(*SearchIndex), nil
	}
	docs, err := load()
	if err != nil {
		return nil, err
	}
	idx, err := BuildIndex(docs)
	if err != nil {
		return nil, err
	}
	c.cache.SetDefault(key, idx)
	return idx, nil
}

func (c *IndexCache) Len() int { return c.cache.ItemCount() }
