// Package providers implements catalog clients for the supported upstream
// services. Every client namespaces its item ids with a prefix and maps the
// upstream schema onto models.ItemSummary and models.ItemDetails.
package providers

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/aluiziolira/go-critic/models"
	"github.com/aluiziolira/go-critic/upstream"
)

// MaxSearchResults bounds the number of entries a search returns.
const MaxSearchResults = 10

// Default upstream base addresses.
const (
	DefaultOMDBBaseURL  = "http://www.omdbapi.com/"
	DefaultRAWGBaseURL  = "https://api.rawg.io/api"
	DefaultJikanBaseURL = "https://api.jikan.moe/v4"
)

var (
	// ErrMissingCredential is returned when a provider that needs an API key gets none.
	ErrMissingCredential = errors.New("missing required credential")
	// ErrInvalidPrefix is returned for an empty prefix or one without a trailing separator.
	ErrInvalidPrefix = errors.New("invalid item id prefix")
	// ErrUnknownCategory is returned when no provider serves a category.
	ErrUnknownCategory = errors.New("unknown category")
	// ErrNoExecutor is returned when a provider is built without an executor.
	ErrNoExecutor = errors.New("executor is required")
)

// PrefixSeparator terminates every item id prefix.
const PrefixSeparator = "_"

const missingPrefixMessage = "Missing prefix in item id."

// Provider is the capability pair every catalog client offers.
type Provider interface {
	Name() string
	Prefix() string
	Search(query string) upstream.Outcome[[]models.ItemSummary]
	GetDetails(itemID string) upstream.Outcome[models.ItemDetails]
}

// Descriptor is the immutable per-provider configuration.
type Descriptor struct {
	prefix     string
	baseURL    string
	credential string
}

// NewDescriptor validates and builds a descriptor.
func NewDescriptor(prefix, baseURL, credential string, requireCredential bool) (Descriptor, error) {
	if prefix == "" || !strings.HasSuffix(prefix, PrefixSeparator) {
		return Descriptor{}, fmt.Errorf("%w: %q", ErrInvalidPrefix, prefix)
	}
	if _, err := url.Parse(baseURL); err != nil || baseURL == "" {
		return Descriptor{}, fmt.Errorf("invalid base url %q for %s", baseURL, prefix)
	}
	if requireCredential && strings.TrimSpace(credential) == "" {
		return Descriptor{}, fmt.Errorf("%w for %s", ErrMissingCredential, strings.TrimSuffix(prefix, PrefixSeparator))
	}
	return Descriptor{prefix: prefix, baseURL: strings.TrimRight(baseURL, "/"), credential: credential}, nil
}

func (d Descriptor) Prefix() string     { return d.prefix }
func (d Descriptor) BaseURL() string    { return d.baseURL }
func (d Descriptor) Credential() string { return d.credential }

// nativeID strips the descriptor prefix. ok is false when the id is not ours.
func (d Descriptor) nativeID(itemID string) (string, bool) {
	return splitItemID(d.prefix, itemID)
}

// ItemID namespaces a native upstream id.
func (d Descriptor) ItemID(native string) string {
	return d.prefix + native
}

// endpoint joins path segments onto the base address and encodes query.
func (d Descriptor) endpoint(query url.Values, segments ...string) string {
	var b strings.Builder
	b.WriteString(d.baseURL)
	for _, s := range segments {
		b.WriteString("/")
		b.WriteString(url.PathEscape(s))
	}
	if len(segments) == 0 {
		b.WriteString("/")
	}
	if len(query) > 0 {
		b.WriteString("?")
		b.WriteString(query.Encode())
	}
	return b.String()
}

func missingPrefix[T any](source string) upstream.Outcome[T] {
	return upstream.Failed[T](upstream.NewFailure(upstream.KindMissingPrefix, source, missingPrefixMessage))
}

func notFound[T any](source, message string) upstream.Outcome[T] {
	return upstream.Failed[T](upstream.NewFailure(upstream.KindNotFound, source, message))
}

// Settings carries credentials and optional base address overrides.
type Settings struct {
	OMDBAPIKey   string
	RAWGAPIKey   string
	OMDBBaseURL  string
	RAWGBaseURL  string
	JikanBaseURL string
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

// New constructs the provider serving category.
func New(category models.Category, settings Settings, exec *upstream.Executor) (Provider, error) {
	switch category {
	case models.CategoryMovie:
		p, err := NewOMDB(settings.OMDBAPIKey, orDefault(settings.OMDBBaseURL, DefaultOMDBBaseURL), exec)
		if err != nil {
			return nil, err
		}
		return p, nil
	case models.CategoryGame:
		p, err := NewRAWG(settings.RAWGAPIKey, orDefault(settings.RAWGBaseURL, DefaultRAWGBaseURL), exec)
		if err != nil {
			return nil, err
		}
		return p, nil
	case models.CategoryAnime, models.CategoryManga:
		p, err := NewJikan(category, orDefault(settings.JikanBaseURL, DefaultJikanBaseURL), exec)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownCategory, category)
}

// Factory builds the provider for a category.
type Factory func(category models.Category) (Provider, error)

// NewFactory binds settings and an executor into a Factory.
func NewFactory(settings Settings, exec *upstream.Executor) Factory {
	return func(category models.Category) (Provider, error) {
		return New(category, settings, exec)
	}
}

type namedEntry struct {
	Name string `json:"name"`
}

func names(entries []namedEntry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Name)
	}
	return out
}
