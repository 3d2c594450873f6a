package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/desertthunder/miroir/internal/models"
	"github.com/desertthunder/miroir/internal/shared"
)

// Storage is the named-generation store the [Manager] writes to.
//
// Match returns an error wrapping [shared.ErrCacheMiss] when nothing is stored. PutAll must be atomic.
type Storage interface {
	Keys(ctx context.Context) ([]string, error)
	Match(ctx context.Context, cacheName, url string) (*models.CachedEntry, error)
	Put(ctx context.Context, cacheName string, entry *models.CachedEntry) error
	PutAll(ctx context.Context, cacheName string, entries []*models.CachedEntry) error
	Delete(ctx context.Context, cacheName string) (bool, error)
	Generations(ctx context.Context) ([]models.CacheGeneration, error)
}

// MemoryStorage is an in-process [Storage] for tests and throwaway runs.
type MemoryStorage struct {
	mu          sync.RWMutex
	order       []string
	created     map[string]time.Time
	generations map[string]map[string]*models.CachedEntry
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		created:     make(map[string]time.Time),
		generations: make(map[string]map[string]*models.CachedEntry),
	}
}

func (s *MemoryStorage) Keys(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.order...), nil
}

func (s *MemoryStorage) Match(ctx context.Context, cacheName, url string) (*models.CachedEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.generations[cacheName][url]
	if !ok {
		return nil, fmt.Errorf("%w: %s", shared.ErrCacheMiss, url)
	}
	return models.NewCachedEntry(entry.URL, entry.Status, entry.Header, entry.Body, entry.StoredAt), nil
}

func (s *MemoryStorage) Put(ctx context.Context, cacheName string, entry *models.CachedEntry) error {
	return s.PutAll(ctx, cacheName, []*models.CachedEntry{entry})
}

// PutAll holds the write lock for the whole batch, so readers see all of it or none of it.
func (s *MemoryStorage) PutAll(ctx context.Context, cacheName string, entries []*models.CachedEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	generation, ok := s.generations[cacheName]
	if !ok {
		generation = make(map[string]*models.CachedEntry)
		s.generations[cacheName] = generation
		s.created[cacheName] = time.Now().UTC()
		s.order = append(s.order, cacheName)
	}

	for _, e := range entries {
		generation[e.URL] = models.NewCachedEntry(e.URL, e.Status, e.Header, e.Body, e.StoredAt)
	}
	return nil
}

func (s *MemoryStorage) Delete(ctx context.Context, cacheName string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.generations[cacheName]; !ok {
		return false, nil
	}

	delete(s.generations, cacheName)
	delete(s.created, cacheName)
	for i, name := range s.order {
		if name == cacheName {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true, nil
}

func (s *MemoryStorage) Generations(ctx context.Context) ([]models.CacheGeneration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.CacheGeneration, 0, len(s.order))
	for _, name := range s.order {
		g := models.CacheGeneration{Name: models.CacheVersion(name), CreatedAt: s.created[name]}
		for _, e := range s.generations[name] {
			g.Entries++
			g.Bytes += int64(len(e.Body))
		}
		out = append(out, g)
	}
	return out, nil
}
