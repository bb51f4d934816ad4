package providers

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/aluiziolira/go-critic/models"
	"github.com/aluiziolira/go-critic/parser"
	"github.com/aluiziolira/go-critic/upstream"
)

// rawgRatingScale converts RAWG's 0-5 rating onto the shared 0-10 scale.
const rawgRatingScale = 2.0

const gameNotFound = "Game not found!"

// RAWG serves the game category.
type RAWG struct {
	desc Descriptor
	exec *upstream.Executor
}

type rawgSearchResponse struct {
	Count   int           `json:"count"`
	Results []rawgSummary `json:"results"`
}

type rawgSummary struct {
	ID              int64  `json:"id"`
	Name            string `json:"name"`
	BackgroundImage string `json:"background_image"`
	Released        string `json:"released"`
}

type rawgDetails struct {
	rawgSummary
	Description string      `json:"description"`
	Rating      float64     `json:"rating"`
	Genres      []namedEntry `json:"genres"`
	Developers  []namedEntry `json:"developers"`
	Publishers  []namedEntry `json:"publishers"`
	Platforms   []struct {
		Platform namedEntry `json:"platform"`
	} `json:"platforms"`
}

// NewRAWG builds the game provider. An empty apiKey is a construction error.
func NewRAWG(apiKey, baseURL string, exec *upstream.Executor) (*RAWG, error) {
	if exec == nil {
		return nil, ErrNoExecutor
	}
	desc, err := NewDescriptor("rawg_", baseURL, apiKey, true)
	if err != nil {
		return nil, fmt.Errorf("RAWG_API_KEY required for accessing RAWG data: %w", err)
	}
	return &RAWG{desc: desc, exec: exec}, nil
}

func (p *RAWG) Name() string   { return "RAWG API" }
func (p *RAWG) Prefix() string { return p.desc.Prefix() }

// Search looks up games by name. An empty result list is a not_found
// failure, distinct from an upstream error.
func (p *RAWG) Search(query string) upstream.Outcome[[]models.ItemSummary] {
	q := url.Values{}
	q.Set("key", p.desc.Credential())
	q.Set("search", query)

	out := upstream.Execute[rawgSearchResponse](p.exec, p.desc.endpoint(q, "games"), p.Name())
	if !out.OK() {
		return upstream.Failed[[]models.ItemSummary](out.Failure())
	}
	entries := out.Value().Results
	if len(entries) == 0 {
		return notFound[[]models.ItemSummary](p.Name(), gameNotFound)
	}
	if len(entries) > MaxSearchResults {
		entries = entries[:MaxSearchResults]
	}
	results := make([]models.ItemSummary, 0, len(entries))
	for _, entry := range entries {
		results = append(results, p.summary(entry))
	}
	return upstream.Success(results)
}

// GetDetails fetches one game by its prefixed RAWG id.
func (p *RAWG) GetDetails(itemID string) upstream.Outcome[models.ItemDetails] {
	native, ok := p.desc.nativeID(itemID)
	if !ok {
		return missingPrefix[models.ItemDetails](p.Name())
	}
	q := url.Values{}
	q.Set("key", p.desc.Credential())

	out := upstream.Execute[rawgDetails](p.exec, p.desc.endpoint(q, "games", native), p.Name())
	if !out.OK() {
		return upstream.Failed[models.ItemDetails](out.Failure())
	}
	raw := out.Value()

	summary := p.summary(raw.rawgSummary)
	if raw.ID == 0 {
		summary.ItemID = itemID
	}

	crew := append(names(raw.Developers), names(raw.Publishers)...)
	platforms := make([]string, 0, len(raw.Platforms))
	for _, entry := range raw.Platforms {
		platforms = append(platforms, entry.Platform.Name)
	}

	return upstream.Success(models.ItemDetails{
		ItemSummary: summary,
		Attr1:       parser.JoinUnique(names(raw.Genres)...),
		Attr2:       parser.JoinUnique(crew...),
		Attr3:       parser.JoinUnique(platforms...),
		Description: parser.OrUnknown(raw.Description),
		Rating:      parser.ScaleRating(raw.Rating, rawgRatingScale),
	})
}

func (p *RAWG) summary(raw rawgSummary) models.ItemSummary {
	return models.ItemSummary{
		ItemID:   p.desc.ItemID(strconv.FormatInt(raw.ID, 10)),
		Title:    raw.Name,
		ImageURL: parser.OrUnknown(raw.BackgroundImage),
		Year:     parser.YearFromDate(raw.Released),
	}
}
