package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/aluiziolira/go-critic/models"
)

// Memory is a process-local Store. Items are copied on the way in and out.
type Memory struct {
	mu    sync.RWMutex
	items map[string]*models.CatalogItem
}

// NewMemory returns an empty store seeded with the given items.
func NewMemory(seed ...*models.CatalogItem) *Memory {
	m := &Memory{items: make(map[string]*models.CatalogItem, len(seed))}
	for _, item := range seed {
		if item != nil && item.ItemID != "" {
			m.items[item.ItemID] = item.Clone()
		}
	}
	return m
}

func (m *Memory) GetItem(_ context.Context, itemID string) (*models.CatalogItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	item, ok := m.items[itemID]
	if !ok {
		return nil, ErrNotFound
	}
	return item.Clone(), nil
}

func (m *Memory) ListStale(_ context.Context, staleCutoff, retryCutoff time.Time, limit int) ([]*models.CatalogItem, error) {
	if limit <= 0 {
		return nil, nil
	}
	m.mu.RLock()
	candidates := make([]*models.CatalogItem, 0, len(m.items))
	for _, item := range m.items {
		if due(item, staleCutoff, retryCutoff) {
			candidates = append(candidates, item.Clone())
		}
	}
	m.mu.RUnlock()

	sort.Slice(candidates, func(i, j int) bool {
		return refreshedBefore(candidates[i], candidates[j])
	})
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates, nil
}

func (m *Memory) Save(_ context.Context, item *models.CatalogItem) error {
	if item == nil || item.ItemID == "" {
		return errors.New("save catalog item: missing item id")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[item.ItemID] = item.Clone()
	return nil
}

// Len returns the number of stored items.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}
