// Package models defines data structures shared by the catalog packages.
package models

import (
	"fmt"
	"strings"
	"time"
)

// Unknown marks a normalized field the upstream catalog did not provide.
const Unknown = "N/A"

// Category identifies which kind of media a catalog item describes.
type Category string

const (
	CategoryMovie Category = "movie"
	CategoryGame  Category = "game"
	CategoryAnime Category = "anime"
	CategoryManga Category = "manga"
)

// Categories lists every supported category in display order.
func Categories() []Category {
	return []Category{CategoryMovie, CategoryGame, CategoryAnime, CategoryManga}
}

// ParseCategory converts user input into a Category.
func ParseCategory(raw string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(raw)))
	for _, known := range Categories() {
		if c == known {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown category %q", raw)
}

// ItemSummary is the normalized shape returned by provider searches.
type ItemSummary struct {
	ItemID   string `json:"item_id" csv:"item_id" validate:"required,max=20"`
	Title    string `json:"title" csv:"title" validate:"required,max=100"`
	ImageURL string `json:"image_url" csv:"image_url" validate:"required,max=200"`
	Year     string `json:"year" csv:"year" validate:"required,max=10"`
}

// ItemDetails is the normalized shape returned by provider detail lookups.
type ItemDetails struct {
	ItemSummary
	Attr1       string `json:"attr1" csv:"attr1" validate:"max=300"`
	Attr2       string `json:"attr2" csv:"attr2" validate:"max=300"`
	Attr3       string `json:"attr3" csv:"attr3" validate:"max=300"`
	Description string `json:"description" csv:"description"`
	Rating      string `json:"rating" csv:"rating" validate:"required,max=5"`
}

// CatalogItem is a persisted, normalized item plus its refresh bookkeeping.
type CatalogItem struct {
	ItemDetails
	Category             Category   `json:"category"`
	LastRefreshedAt      *time.Time `json:"last_refreshed_at,omitempty"`
	LastRefreshAttemptAt *time.Time `json:"last_refresh_attempt_at,omitempty"`
	RefreshErrorCount    int        `json:"refresh_error_count"`
}

// NewCatalogItem wraps freshly fetched details for first persistence.
func NewCatalogItem(category Category, details ItemDetails, now time.Time) *CatalogItem {
	item := &CatalogItem{Category: category}
	item.ApplyDetails(details, now)
	return item
}

// ApplyDetails replaces every display field at once and marks the item fresh.
func (c *CatalogItem) ApplyDetails(details ItemDetails, now time.Time) {
	id := c.ItemID
	c.ItemDetails = details
	if id != "" {
		c.ItemID = id
	}
	refreshed := now
	attempted := now
	c.LastRefreshedAt = &refreshed
	c.LastRefreshAttemptAt = &attempted
	c.RefreshErrorCount = 0
}

// MarkAttempt records a refresh attempt that did not produce new data.
func (c *CatalogItem) MarkAttempt(now time.Time) {
	attempted := now
	c.LastRefreshAttemptAt = &attempted
	c.RefreshErrorCount++
}

// Clone returns a deep copy so callers cannot alias stored timestamps.
func (c *CatalogItem) Clone() *CatalogItem {
	if c == nil {
		return nil
	}
	out := *c
	if c.LastRefreshedAt != nil {
		t := *c.LastRefreshedAt
		out.LastRefreshedAt = &t
	}
	if c.LastRefreshAttemptAt != nil {
		t := *c.LastRefreshAttemptAt
		out.LastRefreshAttemptAt = &t
	}
	return &out
}

func (c *CatalogItem) String() string {
	return fmt.Sprintf("%s(%s)", c.Title, c.ItemID)
}
