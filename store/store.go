// Package store persists catalog items and selects the ones due for a refresh.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/aluiziolira/go-critic/models"
)

// ErrNotFound is returned when no item has the requested identifier.
var ErrNotFound = errors.New("catalog item not found")

// Store is the persistence boundary shared by the API and the refresh job.
type Store interface {
	GetItem(ctx context.Context, itemID string) (*models.CatalogItem, error)
	// ListStale returns items never refreshed or refreshed at or before
	// staleCutoff, whose last attempt is unset or at or before retryCutoff.
	// Results are ordered oldest-refreshed first, never-refreshed before all
	// others, ties broken by item ID, and capped at limit.
	ListStale(ctx context.Context, staleCutoff, retryCutoff time.Time, limit int) ([]*models.CatalogItem, error)
	// Save inserts or replaces every field of the item in one step.
	Save(ctx context.Context, item *models.CatalogItem) error
}

// due reports whether an item passes both selection clauses.
func due(item *models.CatalogItem, staleCutoff, retryCutoff time.Time) bool {
	if item.LastRefreshedAt != nil && item.LastRefreshedAt.After(staleCutoff) {
		return false
	}
	if item.LastRefreshAttemptAt != nil && item.LastRefreshAttemptAt.After(retryCutoff) {
		return false
	}
	return true
}

// refreshedBefore orders never-refreshed items first, then by refresh time,
// then by ID.
func refreshedBefore(a, b *models.CatalogItem) bool {
	switch {
	case a.LastRefreshedAt == nil && b.LastRefreshedAt != nil:
		return true
	case a.LastRefreshedAt != nil && b.LastRefreshedAt == nil:
		return false
	case a.LastRefreshedAt != nil && !a.LastRefreshedAt.Equal(*b.LastRefreshedAt):
		return a.LastRefreshedAt.Before(*b.LastRefreshedAt)
	}
	return a.ItemID < b.ItemID
}
