package providers

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/aluiziolira/go-critic/models"
	"github.com/aluiziolira/go-critic/parser"
	"github.com/aluiziolira/go-critic/upstream"
)

// Jikan serves the anime and manga categories from MyAnimeList data.
type Jikan struct {
	kind models.Category
	desc Descriptor
	exec *upstream.Executor
}

type jikanYear struct {
	Year *int `json:"year"`
}

type jikanDates struct {
	Prop struct {
		From jikanYear `json:"from"`
		To   jikanYear `json:"to"`
	} `json:"prop"`
}

type jikanEntry struct {
	MalID  int64  `json:"mal_id"`
	Title  string `json:"title"`
	Images struct {
		JPG struct {
			ImageURL string `json:"image_url"`
		} `json:"jpg"`
	} `json:"images"`
	Aired     jikanDates   `json:"aired"`
	Published jikanDates   `json:"published"`
	Score     *float64     `json:"score"`
	Type      string       `json:"type"`
	Synopsis  string       `json:"synopsis"`
	Genres    []namedEntry `json:"genres"`
	Studios   []namedEntry `json:"studios"`
	Authors   []namedEntry `json:"authors"`
}

type jikanSearchResponse struct {
	Data []jikanEntry `json:"data"`
}

type jikanDetailsResponse struct {
	Data *jikanEntry `json:"data"`
}

// NewJikan builds the provider for kind, which must be anime or manga.
func NewJikan(kind models.Category, baseURL string, exec *upstream.Executor) (*Jikan, error) {
	if exec == nil {
		return nil, ErrNoExecutor
	}
	if kind != models.CategoryAnime && kind != models.CategoryManga {
		return nil, fmt.Errorf("%w: jikan serves anime or manga, got %q", ErrUnknownCategory, kind)
	}
	desc, err := NewDescriptor("jikan_"+string(kind)+PrefixSeparator, baseURL, "", false)
	if err != nil {
		return nil, err
	}
	return &Jikan{kind: kind, desc: desc, exec: exec}, nil
}

func (p *Jikan) Name() string   { return "Jikan API" }
func (p *Jikan) Prefix() string { return p.desc.Prefix() }

// Search looks up titles. Entries without a score are skipped.
func (p *Jikan) Search(query string) upstream.Outcome[[]models.ItemSummary] {
	q := url.Values{}
	q.Set("q", query)

	out := upstream.Execute[jikanSearchResponse](p.exec, p.desc.endpoint(q, string(p.kind)), p.Name())
	if !out.OK() {
		return upstream.Failed[[]models.ItemSummary](out.Failure())
	}
	results := make([]models.ItemSummary, 0, MaxSearchResults)
	for _, entry := range out.Value().Data {
		if entry.Score == nil || *entry.Score == 0 {
			continue
		}
		results = append(results, p.summary(entry))
		if len(results) == MaxSearchResults {
			break
		}
	}
	return upstream.Success(results)
}

// GetDetails fetches one title by its prefixed MyAnimeList id.
func (p *Jikan) GetDetails(itemID string) upstream.Outcome[models.ItemDetails] {
	native, ok := p.desc.nativeID(itemID)
	if !ok {
		return missingPrefix[models.ItemDetails](p.Name())
	}

	out := upstream.Execute[jikanDetailsResponse](p.exec, p.desc.endpoint(nil, string(p.kind), native), p.Name())
	if !out.OK() {
		return upstream.Failed[models.ItemDetails](out.Failure())
	}
	raw := out.Value().Data
	if raw == nil {
		return notFound[models.ItemDetails](p.Name(), "Title not found!")
	}

	summary := p.summary(*raw)
	if raw.MalID == 0 {
		summary.ItemID = itemID
	}
	crew := raw.Studios
	if p.kind == models.CategoryManga {
		crew = raw.Authors
	}
	rating := models.Unknown
	if raw.Score != nil {
		rating = parser.ScaleRating(*raw.Score, 1)
	}

	return upstream.Success(models.ItemDetails{
		ItemSummary: summary,
		Attr1:       parser.JoinUnique(names(raw.Genres)...),
		Attr2:       parser.JoinUnique(names(crew)...),
		Attr3:       parser.OrUnknown(raw.Type),
		Description: parser.OrUnknown(raw.Synopsis),
		Rating:      rating,
	})
}

func (p *Jikan) summary(raw jikanEntry) models.ItemSummary {
	dates := raw.Aired
	if p.kind == models.CategoryManga {
		dates = raw.Published
	}
	return models.ItemSummary{
		ItemID:   p.desc.ItemID(strconv.FormatInt(raw.MalID, 10)),
		Title:    raw.Title,
		ImageURL: parser.OrUnknown(raw.Images.JPG.ImageURL),
		Year:     parser.YearRange(dates.Prop.From.Year, dates.Prop.To.Year),
	}
}
