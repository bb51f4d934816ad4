package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/aluiziolira/go-critic/models"
	"github.com/aluiziolira/go-critic/parser"
	"github.com/aluiziolira/go-critic/providers"
	"github.com/aluiziolira/go-critic/store"
	"github.com/aluiziolira/go-critic/upstream"
)

const (
	msgInvalidCategory     = "Invalid category."
	msgProviderUnavailable = "Provider unavailable."
)

type searchResponse struct {
	Response string               `json:"response"`
	Results  []models.ItemSummary `json:"results"`
}

type itemResponse struct {
	*models.CatalogItem
	Response string `json:"response"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// provider resolves the {category} URL parameter. On failure it has already
// written the response.
func (s *Server) provider(w http.ResponseWriter, r *http.Request) (models.Category, providers.Provider, bool) {
	category, err := models.ParseCategory(chi.URLParam(r, "category"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(msgInvalidCategory))
		return "", nil, false
	}
	p, ok := s.providers[category]
	if !ok {
		s.logger.Warn("request for unavailable provider",
			slog.String("category", string(category)),
			slog.Any("error", s.providerErrs[category]),
		)
		writeJSON(w, http.StatusServiceUnavailable, errorBody(msgProviderUnavailable))
		return "", nil, false
	}
	return category, p, true
}

// search answers with HTTP 200 on upstream failures too; callers inspect the
// "response" field.
func (s *Server) search(w http.ResponseWriter, r *http.Request) {
	category, p, ok := s.provider(w, r)
	if !ok {
		return
	}
	term := strings.TrimSpace(chi.URLParam(r, "term"))
	if term == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("Search term is required."))
		return
	}

	key := cacheKey(category, term)
	if s.cache != nil {
		if results, hit := s.cache.Get(key); hit {
			writeJSON(w, http.StatusOK, searchResponse{Response: "True", Results: results})
			return
		}
	}

	outcome := p.Search(term)
	if !outcome.OK() {
		f := outcome.Failure()
		s.logger.Info("search failed",
			slog.String("category", string(category)),
			slog.String("term", term),
			slog.String("kind", string(f.Kind)),
		)
		writeJSON(w, http.StatusOK, f.Payload())
		return
	}

	results := outcome.Value()
	if s.cache != nil {
		s.cache.Add(key, results)
	}
	writeJSON(w, http.StatusOK, searchResponse{Response: "True", Results: results})
}

// itemDetails serves an item through its category's provider.
func (s *Server) itemDetails(w http.ResponseWriter, r *http.Request) {
	category, p, ok := s.provider(w, r)
	if !ok {
		return
	}
	s.serveItem(w, r, category, p.GetDetails)
}

// itemByID serves an item through whichever provider owns its prefix.
func (s *Server) itemByID(w http.ResponseWriter, r *http.Request) {
	category, _, _ := s.router.Owner(strings.TrimSpace(chi.URLParam(r, "itemID")))
	s.serveItem(w, r, category, s.router.GetDetails)
}

// serveItem answers with the stored item when one exists and otherwise
// fetches it and stores it.
func (s *Server) serveItem(w http.ResponseWriter, r *http.Request, category models.Category, fetch func(string) upstream.Outcome[models.ItemDetails]) {
	itemID := strings.TrimSpace(chi.URLParam(r, "itemID"))

	stored, err := s.store.GetItem(r.Context(), itemID)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, itemResponse{CatalogItem: stored, Response: "True"})
		return
	case !errors.Is(err, store.ErrNotFound):
		s.logger.Error("load item", slog.String("item_id", itemID), slog.Any("error", err))
	}

	outcome := fetch(itemID)
	if !outcome.OK() {
		writeJSON(w, http.StatusBadRequest, outcome.Failure().Payload())
		return
	}

	details := outcome.Value()
	item := models.NewCatalogItem(category, details, s.now())
	if err := parser.ValidateDetails(&details); err != nil {
		s.logger.Warn("upstream item failed validation, not stored",
			slog.String("item_id", itemID),
			slog.Any("error", err),
		)
	} else if err := s.store.Save(r.Context(), item); err != nil {
		s.logger.Error("save item", slog.String("item_id", item.ItemID), slog.Any("error", err))
	}
	writeJSON(w, http.StatusOK, itemResponse{CatalogItem: item, Response: "True"})
}

func cacheKey(category models.Category, term string) string {
	return string(category) + ":" + strings.ToLower(term)
}

func errorBody(message string) map[string]string {
	return map[string]string{"response": "False", "error": message}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Default().Error("encode response", slog.Any("error", err))
	}
}
