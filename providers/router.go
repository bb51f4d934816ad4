package providers

import (
	"strings"

	"github.com/aluiziolira/go-critic/models"
	"github.com/aluiziolira/go-critic/upstream"
)

// Router resolves globally namespaced item ids to the provider owning their
// prefix.
type Router struct {
	routes []route
}

type route struct {
	category models.Category
	provider Provider
}

// NewRouter builds a router over the available providers. Nil entries are
// ignored.
func NewRouter(byCategory map[models.Category]Provider) *Router {
	r := &Router{}
	for _, category := range models.Categories() {
		if p := byCategory[category]; p != nil {
			r.routes = append(r.routes, route{category: category, provider: p})
		}
	}
	return r
}

// Owner returns the provider whose prefix matches itemID and its category.
func (r *Router) Owner(itemID string) (models.Category, Provider, bool) {
	for _, rt := range r.routes {
		if _, ok := splitItemID(rt.provider.Prefix(), itemID); ok {
			return rt.category, rt.provider, true
		}
	}
	return "", nil, false
}

// GetDetails dispatches to the owning provider. An id no provider owns
// fails with missing_prefix and makes no upstream call.
func (r *Router) GetDetails(itemID string) upstream.Outcome[models.ItemDetails] {
	_, p, ok := r.Owner(itemID)
	if !ok {
		return missingPrefix[models.ItemDetails]("router")
	}
	return p.GetDetails(itemID)
}

// splitItemID strips prefix from itemID. ok is false when the id does not
// carry the prefix or has nothing after it.
func splitItemID(prefix, itemID string) (string, bool) {
	native, ok := strings.CutPrefix(itemID, prefix)
	if !ok || native == "" {
		return "", false
	}
	return native, true
}
