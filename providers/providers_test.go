package providers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/aluiziolira/go-critic/models"
	"github.com/aluiziolira/go-critic/upstream"
	"github.com/jarcoal/httpmock"
)

const (
	omdbURL       = "http://www.omdbapi.com/"
	rawgSearchURL = "https://api.rawg.io/api/games"
	rawgGameURL   = "https://api.rawg.io/api/games/3498"
	jikanAnimeURL = "https://api.jikan.moe/v4/anime"
	jikanMangaURL = "https://api.jikan.moe/v4/manga"
)

func newMockExecutor(t *testing.T) (*upstream.Executor, *httpmock.MockTransport, *[]time.Duration) {
	t.Helper()
	transport := httpmock.NewMockTransport()
	sleeps := &[]time.Duration{}
	exec := upstream.NewExecutor(upstream.ExecutorOptions{
		Timeout: time.Second,
		Sleep:   func(d time.Duration) { *sleeps = append(*sleeps, d) },
	}, nil).WithTransport(transport)
	return exec, transport, sleeps
}

func testSettings() Settings {
	return Settings{OMDBAPIKey: "omdb-test", RAWGAPIKey: "rawg-test"}
}

func mustProvider(t *testing.T, category models.Category, exec *upstream.Executor) Provider {
	t.Helper()
	p, err := New(category, testSettings(), exec)
	if err != nil {
		t.Fatalf("New(%s): %v", category, err)
	}
	return p
}

func TestOMDBSearchBreakingBad(t *testing.T) {
	exec, transport, _ := newMockExecutor(t)
	transport.RegisterResponder(http.MethodGet, omdbURL, httpmock.NewStringResponder(http.StatusOK, `{
		"Search": [
			{"Title": "Breaking Bad", "Year": "2008–2013", "imdbID": "tt0903747", "Type": "series", "Poster": "https://img.test/bb.jpg"},
			{"Title": "Breaking Bad: Original Minisodes", "Year": "2009–2011", "imdbID": "tt1232248", "Type": "series", "Poster": "N/A"}
		],
		"totalResults": "2",
		"Response": "True"
	}`))

	out := mustProvider(t, models.CategoryMovie, exec).Search("Breaking Bad")
	if !out.OK() {
		t.Fatalf("search failed: %v", out.Failure())
	}
	results := out.Value()
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}
	first := results[0]
	if first.ItemID != "omdb_tt0903747" || first.Title != "Breaking Bad" || first.ImageURL == "" || first.Year != "2008-2013" {
		t.Fatalf("first result = %+v", first)
	}
	if results[1].ImageURL != models.Unknown {
		t.Fatalf("missing poster = %q, want %q", results[1].ImageURL, models.Unknown)
	}
}

func TestOMDBSearchTruncatesResults(t *testing.T) {
	exec, transport, _ := newMockExecutor(t)
	entries := make([]string, 0, 14)
	for i := 0; i < 14; i++ {
		entries = append(entries, `{"Title":"Movie `+strconv.Itoa(i)+`","Year":"2001","imdbID":"tt`+strconv.Itoa(1000+i)+`","Poster":"N/A"}`)
	}
	body := `{"Search":[` + strings.Join(entries, ",") + `],"Response":"True"}`
	transport.RegisterResponder(http.MethodGet, omdbURL, httpmock.NewStringResponder(http.StatusOK, body))

	out := mustProvider(t, models.CategoryMovie, exec).Search("movie")
	if got := len(out.Value()); got != MaxSearchResults {
		t.Fatalf("results = %d, want %d", got, MaxSearchResults)
	}
}

func TestOMDBGetDetails(t *testing.T) {
	exec, transport, _ := newMockExecutor(t)
	transport.RegisterResponder(http.MethodGet, omdbURL, httpmock.NewStringResponder(http.StatusOK, `{
		"Title": "Breaking Bad",
		"Year": "2008–2013",
		"Genre": "Crime, Drama, Thriller",
		"Director": "N/A",
		"Writer": "Vince Gilligan",
		"Actors": "Bryan Cranston, Aaron Paul, Vince Gilligan",
		"Plot": "A chemistry teacher diagnosed with cancer turns to crime.",
		"Poster": "https://img.test/bb.jpg",
		"imdbRating": "9.5",
		"imdbID": "tt0903747",
		"Type": "series",
		"Response": "True"
	}`))

	out := mustProvider(t, models.CategoryMovie, exec).GetDetails("omdb_tt0903747")
	if !out.OK() {
		t.Fatalf("details failed: %v", out.Failure())
	}
	d := out.Value()
	if d.ItemID != "omdb_tt0903747" {
		t.Fatalf("item id = %q", d.ItemID)
	}
	rating, err := strconv.ParseFloat(d.Rating, 64)
	if err != nil || rating < 0 || rating > 10 {
		t.Fatalf("rating = %q, want numeric 0-10", d.Rating)
	}
	if d.Attr2 != "Vince Gilligan, Bryan Cranston, Aaron Paul" {
		t.Fatalf("crew = %q", d.Attr2)
	}
	if d.Attr1 != "Crime, Drama, Thriller" || d.Attr3 != "series" {
		t.Fatalf("attrs = %q / %q", d.Attr1, d.Attr3)
	}

	if got := transport.GetTotalCallCount(); got != 1 {
		t.Fatalf("upstream calls = %d, want 1", got)
	}
}

func TestOMDBResponseFalseIsNotFound(t *testing.T) {
	exec, transport, _ := newMockExecutor(t)
	transport.RegisterResponder(http.MethodGet, omdbURL,
		httpmock.NewStringResponder(http.StatusOK, `{"Response":"False","Error":"Incorrect IMDb ID."}`))

	out := mustProvider(t, models.CategoryMovie, exec).GetDetails("omdb_tt0000000")
	f := out.Failure()
	if f == nil || f.Kind != upstream.KindNotFound || f.Message != "Incorrect IMDb ID." {
		t.Fatalf("failure = %v, want not_found", f)
	}
}

func TestGetDetailsMissingPrefixMakesNoCalls(t *testing.T) {
	categories := []models.Category{models.CategoryMovie, models.CategoryGame, models.CategoryAnime, models.CategoryManga}
	for _, category := range categories {
		t.Run(string(category), func(t *testing.T) {
			exec, transport, _ := newMockExecutor(t)
			transport.RegisterNoResponder(httpmock.NewStringResponder(http.StatusOK, `{}`))

			for _, id := range []string{"tt0903747", "", "other_123", mustProvider(t, category, exec).Prefix()} {
				out := mustProvider(t, category, exec).GetDetails(id)
				if f := out.Failure(); f == nil || f.Kind != upstream.KindMissingPrefix {
					t.Fatalf("GetDetails(%q) = %v, want missing_prefix", id, f)
				}
			}
			if got := transport.GetTotalCallCount(); got != 0 {
				t.Fatalf("upstream calls = %d, want 0", got)
			}
		})
	}
}

func TestRAWGDetailsDoublesRating(t *testing.T) {
	exec, transport, _ := newMockExecutor(t)
	transport.RegisterResponder(http.MethodGet, rawgGameURL, httpmock.NewStringResponder(http.StatusOK, `{
		"id": 3498,
		"name": "Grand Theft Auto V",
		"background_image": null,
		"released": "2013-09-17",
		"description": "<p>Rockstar Games went bigger.</p>",
		"rating": 4.47,
		"genres": [{"name": "Action"}, {"name": "Action"}],
		"developers": [{"name": "Rockstar North"}],
		"publishers": [{"name": "Rockstar Games"}, {"name": "Rockstar North"}],
		"platforms": [{"platform": {"name": "PC"}}, {"platform": {"name": "PlayStation 5"}}]
	}`))

	out := mustProvider(t, models.CategoryGame, exec).GetDetails("rawg_3498")
	if !out.OK() {
		t.Fatalf("details failed: %v", out.Failure())
	}
	d := out.Value()
	if d.Rating != "8.94" {
		t.Fatalf("rating = %q, want 8.94", d.Rating)
	}
	if d.ItemID != "rawg_3498" || d.Year != "2013" || d.ImageURL != models.Unknown {
		t.Fatalf("summary = %+v", d.ItemSummary)
	}
	if d.Attr1 != "Action" || d.Attr2 != "Rockstar North, Rockstar Games" || d.Attr3 != "PC, PlayStation 5" {
		t.Fatalf("attrs = %q / %q / %q", d.Attr1, d.Attr2, d.Attr3)
	}
}

func TestRAWGRatingScale(t *testing.T) {
	for _, raw := range []float64{0, 1.5, 3.25, 4.47, 5} {
		exec, transport, _ := newMockExecutor(t)
		body := `{"id":1,"name":"g","released":null,"rating":` + strconv.FormatFloat(raw, 'f', -1, 64) + `}`
		transport.RegisterResponder(http.MethodGet, "https://api.rawg.io/api/games/1", httpmock.NewStringResponder(http.StatusOK, body))

		d := mustProvider(t, models.CategoryGame, exec).GetDetails("rawg_1").Value()
		got, err := strconv.ParseFloat(d.Rating, 64)
		if err != nil {
			t.Fatalf("rating %q is not numeric", d.Rating)
		}
		if diff := got - raw*2; diff > 0.005 || diff < -0.005 {
			t.Fatalf("rating for %v = %v, want %v", raw, got, raw*2)
		}
		if d.Year != models.Unknown {
			t.Fatalf("null release year = %q", d.Year)
		}
	}
}

func TestRAWGEmptySearchIsNotFound(t *testing.T) {
	exec, transport, _ := newMockExecutor(t)
	transport.RegisterResponder(http.MethodGet, rawgSearchURL,
		httpmock.NewStringResponder(http.StatusOK, `{"count":0,"results":[]}`))

	out := mustProvider(t, models.CategoryGame, exec).Search("zzzz")
	f := out.Failure()
	if f == nil || f.Kind != upstream.KindNotFound || f.Message != gameNotFound {
		t.Fatalf("failure = %v, want not_found", f)
	}
	if f.StatusCode != 0 {
		t.Fatalf("not_found should carry no status, got %d", f.StatusCode)
	}
}

func TestRAWGUpstreamErrorIsNotNotFound(t *testing.T) {
	exec, transport, _ := newMockExecutor(t)
	transport.RegisterResponder(http.MethodGet, rawgSearchURL, httpmock.NewStringResponder(http.StatusUnauthorized, `{}`))

	f := mustProvider(t, models.CategoryGame, exec).Search("portal").Failure()
	if f == nil || f.Kind != upstream.KindHTTPError || f.StatusCode != http.StatusUnauthorized {
		t.Fatalf("failure = %v, want http_error 401", f)
	}
}

func TestJikanSearchSkipsUnscoredEntries(t *testing.T) {
	exec, transport, _ := newMockExecutor(t)
	transport.RegisterResponder(http.MethodGet, jikanAnimeURL, httpmock.NewStringResponder(http.StatusOK, `{
		"data": [
			{"mal_id": 1, "title": "Cowboy Bebop", "score": 8.75,
			 "images": {"jpg": {"image_url": "https://img.test/1.jpg"}},
			 "aired": {"prop": {"from": {"year": 1998}, "to": {"year": 1999}}}},
			{"mal_id": 2, "title": "Unaired Sequel", "score": null,
			 "images": {"jpg": {"image_url": "https://img.test/2.jpg"}},
			 "aired": {"prop": {"from": {"year": null}, "to": {"year": null}}}},
			{"mal_id": 5, "title": "Cowboy Bebop: The Movie", "score": 8.38,
			 "images": {"jpg": {"image_url": "https://img.test/5.jpg"}},
			 "aired": {"prop": {"from": {"year": 2001}, "to": {"year": null}}}}
		]
	}`))

	out := mustProvider(t, models.CategoryAnime, exec).Search("bebop")
	if !out.OK() {
		t.Fatalf("search failed: %v", out.Failure())
	}
	results := out.Value()
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}
	if results[0].ItemID != "jikan_anime_1" || results[0].Year != "1998-1999" {
		t.Fatalf("first = %+v", results[0])
	}
	if results[1].ItemID != "jikan_anime_5" || results[1].Year != "2001" {
		t.Fatalf("second = %+v", results[1])
	}
}

func TestJikanEmptySearchIsNotAnError(t *testing.T) {
	exec, transport, _ := newMockExecutor(t)
	transport.RegisterResponder(http.MethodGet, jikanMangaURL, httpmock.NewStringResponder(http.StatusOK, `{"data":[]}`))

	out := mustProvider(t, models.CategoryManga, exec).Search("nothing")
	if !out.OK() || len(out.Value()) != 0 {
		t.Fatalf("outcome = %+v, want empty success", out)
	}
}

func TestJikanDetailsRetriesOnRateLimit(t *testing.T) {
	exec, transport, sleeps := newMockExecutor(t)
	responder := httpmock.NewStringResponder(http.StatusTooManyRequests, "").
		HeaderSet(http.Header{"Retry-After": []string{"1"}}).
		Then(httpmock.NewStringResponder(http.StatusOK, `{
			"data": {
				"mal_id": 32951,
				"title": "Kuroko no Basket Movie 4: Last Game",
				"images": {"jpg": {"image_url": "https://img.test/poster.jpg"}},
				"aired": {"prop": {"from": {"year": 2017}, "to": {"year": 2017}}},
				"genres": [{"name": "Sports"}],
				"studios": [{"name": "Production I.G"}],
				"type": "Movie",
				"synopsis": "desc",
				"score": 8.1
			}
		}`))
	transport.RegisterResponder(http.MethodGet, jikanAnimeURL+"/32951", responder)

	out := mustProvider(t, models.CategoryAnime, exec).GetDetails("jikan_anime_32951")
	if !out.OK() {
		t.Fatalf("details failed: %v", out.Failure())
	}
	d := out.Value()
	if d.ItemID != "jikan_anime_32951" || d.Year != "2017" || d.Rating != "8.1" || d.Attr2 != "Production I.G" {
		t.Fatalf("details = %+v", d)
	}
	if len(*sleeps) != 1 || (*sleeps)[0] != time.Second {
		t.Fatalf("sleeps = %v, want [1s]", *sleeps)
	}
}

func TestJikanMangaUsesAuthorsAndPublished(t *testing.T) {
	exec, transport, _ := newMockExecutor(t)
	transport.RegisterResponder(http.MethodGet, jikanMangaURL+"/2", httpmock.NewStringResponder(http.StatusOK, `{
		"data": {
			"mal_id": 2,
			"title": "Berserk",
			"images": {"jpg": {"image_url": "https://img.test/berserk.jpg"}},
			"published": {"prop": {"from": {"year": 1989}, "to": {"year": null}}},
			"genres": [{"name": "Action"}, {"name": "Drama"}],
			"authors": [{"name": "Miura, Kentarou"}],
			"studios": [{"name": "ignored"}],
			"type": "Manga",
			"synopsis": "Guts.",
			"score": 9.47
		}
	}`))

	d := mustProvider(t, models.CategoryManga, exec).GetDetails("jikan_manga_2").Value()
	if d.Attr2 != "Miura, Kentarou" || d.Year != "1989" || d.Attr3 != "Manga" {
		t.Fatalf("details = %+v", d)
	}
}

func TestJikanServerErrorExposesStatus(t *testing.T) {
	exec, transport, _ := newMockExecutor(t)
	transport.RegisterResponder(http.MethodGet, jikanAnimeURL+"/32951", httpmock.NewStringResponder(http.StatusServiceUnavailable, ""))

	f := mustProvider(t, models.CategoryAnime, exec).GetDetails("jikan_anime_32951").Failure()
	if f == nil || f.StatusCode != http.StatusServiceUnavailable || f.UpstreamReason != "Service Unavailable" {
		t.Fatalf("failure = %v", f)
	}
	if f.Payload()["response"] != "False" {
		t.Fatalf("payload = %v", f.Payload())
	}
}

func TestNewProviderErrors(t *testing.T) {
	exec, _, _ := newMockExecutor(t)

	if _, err := New(models.CategoryMovie, Settings{}, exec); !errors.Is(err, ErrMissingCredential) {
		t.Fatalf("movie without key: %v, want ErrMissingCredential", err)
	}
	if _, err := New(models.CategoryGame, Settings{OMDBAPIKey: "x"}, exec); !errors.Is(err, ErrMissingCredential) {
		t.Fatalf("game without key: %v, want ErrMissingCredential", err)
	}
	if _, err := New(models.Category("music"), testSettings(), exec); !errors.Is(err, ErrUnknownCategory) {
		t.Fatalf("unknown category: %v, want ErrUnknownCategory", err)
	}
	if _, err := New(models.CategoryAnime, Settings{}, exec); err != nil {
		t.Fatalf("jikan needs no credential: %v", err)
	}
	if _, err := New(models.CategoryAnime, Settings{}, nil); !errors.Is(err, ErrNoExecutor) {
		t.Fatalf("nil executor: %v, want ErrNoExecutor", err)
	}
}

func TestNewDescriptorValidatesPrefix(t *testing.T) {
	for _, prefix := range []string{"", "omdb", "omdb-"} {
		if _, err := NewDescriptor(prefix, "http://x.test", "k", false); !errors.Is(err, ErrInvalidPrefix) {
			t.Fatalf("NewDescriptor(%q) = %v, want ErrInvalidPrefix", prefix, err)
		}
	}
	d, err := NewDescriptor("omdb_", "http://x.test/", "k", true)
	if err != nil {
		t.Fatalf("valid descriptor: %v", err)
	}
	if d.BaseURL() != "http://x.test" || d.ItemID("tt1") != "omdb_tt1" {
		t.Fatalf("descriptor = %+v", d)
	}
}

func TestRouterDispatchesByPrefix(t *testing.T) {
	exec, transport, _ := newMockExecutor(t)
	transport.RegisterResponder(http.MethodGet, rawgGameURL, httpmock.NewStringResponder(http.StatusOK,
		`{"id":3498,"name":"Grand Theft Auto V","released":"2013-09-17","rating":4.47}`))

	router := NewRouter(map[models.Category]Provider{
		models.CategoryMovie: mustProvider(t, models.CategoryMovie, exec),
		models.CategoryGame:  mustProvider(t, models.CategoryGame, exec),
		models.CategoryAnime: mustProvider(t, models.CategoryAnime, exec),
		models.CategoryManga: nil,
	})

	out := router.GetDetails("rawg_3498")
	if !out.OK() || out.Value().Title != "Grand Theft Auto V" {
		t.Fatalf("outcome = %+v", out)
	}
	if got := transport.GetTotalCallCount(); got != 1 {
		t.Fatalf("upstream calls = %d, want 1", got)
	}

	if f := router.GetDetails("imdb_tt1").Failure(); f == nil || f.Kind != upstream.KindMissingPrefix {
		t.Fatalf("unroutable id = %v, want missing_prefix", f)
	}
	if f := router.GetDetails("rawg_").Failure(); f == nil || f.Kind != upstream.KindMissingPrefix {
		t.Fatalf("bare prefix = %v, want missing_prefix", f)
	}
	if got := transport.GetTotalCallCount(); got != 1 {
		t.Fatalf("unroutable ids reached upstream: calls = %d", got)
	}

	tests := []struct {
		itemID   string
		category models.Category
		owned    bool
	}{
		{itemID: "jikan_anime_1", category: models.CategoryAnime, owned: true},
		{itemID: "omdb_tt0903747", category: models.CategoryMovie, owned: true},
		{itemID: "jikan_manga_2", owned: false},
		{itemID: "omdb_", owned: false},
	}
	for _, tt := range tests {
		category, p, ok := router.Owner(tt.itemID)
		if ok != tt.owned || category != tt.category {
			t.Errorf("Owner(%q) = %q, %v, want %q, %v", tt.itemID, category, ok, tt.category, tt.owned)
		}
		if ok && p == nil {
			t.Errorf("Owner(%q) returned nil provider", tt.itemID)
		}
	}
}
