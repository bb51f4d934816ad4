package providers

import (
	"fmt"
	"net/url"

	"github.com/aluiziolira/go-critic/models"
	"github.com/aluiziolira/go-critic/parser"
	"github.com/aluiziolira/go-critic/upstream"
)

// OMDB serves the movie category.
type OMDB struct {
	desc Descriptor
	exec *upstream.Executor
}

type omdbEnvelope struct {
	Response string `json:"Response"`
	Error    string `json:"Error"`
}

type omdbSearchResponse struct {
	omdbEnvelope
	Search []omdbSummary `json:"Search"`
}

type omdbSummary struct {
	Title  string `json:"Title"`
	Year   string `json:"Year"`
	IMDbID string `json:"imdbID"`
	Poster string `json:"Poster"`
}

type omdbDetails struct {
	omdbEnvelope
	omdbSummary
	Genre      string `json:"Genre"`
	Director   string `json:"Director"`
	Writer     string `json:"Writer"`
	Actors     string `json:"Actors"`
	Type       string `json:"Type"`
	Plot       string `json:"Plot"`
	IMDbRating string `json:"imdbRating"`
}

// NewOMDB builds the movie provider. An empty apiKey is a construction error.
func NewOMDB(apiKey, baseURL string, exec *upstream.Executor) (*OMDB, error) {
	if exec == nil {
		return nil, ErrNoExecutor
	}
	desc, err := NewDescriptor("omdb_", baseURL, apiKey, true)
	if err != nil {
		return nil, fmt.Errorf("OMDB_API_KEY required for accessing OMDB data: %w", err)
	}
	return &OMDB{desc: desc, exec: exec}, nil
}

func (p *OMDB) Name() string   { return "OMDB API" }
func (p *OMDB) Prefix() string { return p.desc.Prefix() }

func (p *OMDB) query(key, value string) url.Values {
	q := url.Values{}
	q.Set("apikey", p.desc.Credential())
	q.Set(key, value)
	return q
}

// Search looks up movies and series by title.
func (p *OMDB) Search(query string) upstream.Outcome[[]models.ItemSummary] {
	out := upstream.Execute[omdbSearchResponse](p.exec, p.desc.endpoint(p.query("s", query)), p.Name())
	if !out.OK() {
		return upstream.Failed[[]models.ItemSummary](out.Failure())
	}
	raw := out.Value()
	if raw.Response == "False" {
		return notFound[[]models.ItemSummary](p.Name(), parser.OrUnknown(raw.Error))
	}

	entries := raw.Search
	if len(entries) > MaxSearchResults {
		entries = entries[:MaxSearchResults]
	}
	results := make([]models.ItemSummary, 0, len(entries))
	for _, entry := range entries {
		results = append(results, p.summary(entry))
	}
	return upstream.Success(results)
}

// GetDetails fetches one title by its prefixed IMDb id.
func (p *OMDB) GetDetails(itemID string) upstream.Outcome[models.ItemDetails] {
	native, ok := p.desc.nativeID(itemID)
	if !ok {
		return missingPrefix[models.ItemDetails](p.Name())
	}

	out := upstream.Execute[omdbDetails](p.exec, p.desc.endpoint(p.query("i", native)), p.Name())
	if !out.OK() {
		return upstream.Failed[models.ItemDetails](out.Failure())
	}
	raw := out.Value()
	if raw.Response == "False" {
		return notFound[models.ItemDetails](p.Name(), parser.OrUnknown(raw.Error))
	}
	if raw.IMDbID == "" {
		raw.IMDbID = native
	}

	crew := append(parser.SplitNames(raw.Director), parser.SplitNames(raw.Writer)...)
	crew = append(crew, parser.SplitNames(raw.Actors)...)

	return upstream.Success(models.ItemDetails{
		ItemSummary: p.summary(raw.omdbSummary),
		Attr1:       parser.OrUnknown(raw.Genre),
		Attr2:       parser.JoinUnique(crew...),
		Attr3:       parser.OrUnknown(raw.Type),
		Description: parser.OrUnknown(raw.Plot),
		Rating:      parser.NormalizeRating(raw.IMDbRating),
	})
}

func (p *OMDB) summary(raw omdbSummary) models.ItemSummary {
	return models.ItemSummary{
		ItemID:   p.desc.ItemID(raw.IMDbID),
		Title:    raw.Title,
		ImageURL: parser.OrUnknown(raw.Poster),
		Year:     parser.YearSpan(raw.Year),
	}
}
