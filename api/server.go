// Package api exposes catalog search, item details and the monitoring
// endpoints over HTTP.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/aluiziolira/go-critic/models"
	"github.com/aluiziolira/go-critic/monitor"
	"github.com/aluiziolira/go-critic/providers"
	"github.com/aluiziolira/go-critic/store"
)

// Options wires the server's collaborators.
type Options struct {
	Factory    providers.Factory
	Store      store.Store
	Aggregator *monitor.Aggregator
	Monitoring monitor.HandlerOptions

	// CacheSize bounds the search cache; zero disables it.
	CacheSize int
	CacheTTL  time.Duration
	// RateLimit is the number of searches per minute per client IP; zero disables it.
	RateLimit int

	Logger *slog.Logger
	Now    func() time.Time
}

// Server holds the per-category providers resolved at startup.
type Server struct {
	providers    map[models.Category]providers.Provider
	providerErrs map[models.Category]error
	router       *providers.Router
	store        store.Store
	agg          *monitor.Aggregator
	monitoring   *monitor.Handlers
	cache        *expirable.LRU[string, []models.ItemSummary]
	rateLimit    int
	logger       *slog.Logger
	now          func() time.Time
}

// NewServer resolves every category's provider once. A category whose
// provider cannot be built is served as unavailable.
func NewServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Aggregator == nil {
		opts.Aggregator = monitor.NewAggregator(monitor.DefaultOptions())
	}
	if opts.Store == nil {
		opts.Store = store.NewMemory()
	}
	if opts.Monitoring.Logger == nil {
		opts.Monitoring.Logger = opts.Logger
	}

	s := &Server{
		providers:    make(map[models.Category]providers.Provider),
		providerErrs: make(map[models.Category]error),
		store:        opts.Store,
		agg:          opts.Aggregator,
		monitoring:   monitor.NewHandlers(opts.Aggregator, opts.Monitoring),
		rateLimit:    opts.RateLimit,
		logger:       opts.Logger,
		now:          opts.Now,
	}
	if opts.CacheSize > 0 {
		s.cache = expirable.NewLRU[string, []models.ItemSummary](opts.CacheSize, nil, opts.CacheTTL)
	}

	for _, category := range models.Categories() {
		if opts.Factory == nil {
			s.providerErrs[category] = providers.ErrNoExecutor
			continue
		}
		p, err := opts.Factory(category)
		if err != nil {
			s.providerErrs[category] = err
			s.logger.Warn("provider unavailable",
				slog.String("category", string(category)),
				slog.Any("error", err),
			)
			continue
		}
		s.providers[category] = p
	}
	s.router = providers.NewRouter(s.providers)
	return s
}

// Routes builds the HTTP handler tree.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(s.agg.Middleware)

	r.Get("/health", s.health)

	r.Get("/api/items/{itemID}", s.itemByID)
	r.Route("/api/{category}", func(r chi.Router) {
		search := r.With()
		if s.rateLimit > 0 {
			search = r.With(httprate.Limit(
				s.rateLimit,
				time.Minute,
				httprate.WithKeyFuncs(httprate.KeyByIP),
				httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
					writeJSON(w, http.StatusTooManyRequests, errorBody("Too many requests."))
				}),
			))
		}
		search.Get("/search/{term}", s.search)
		r.Get("/items/{itemID}", s.itemDetails)
	})

	r.Method(http.MethodGet, "/metrics", s.monitoring.Metrics())
	r.Get("/monitoring/snapshot", s.monitoring.Snapshot)
	r.Get("/monitoring/timeline", s.monitoring.Timeline)
	r.Get("/health/monitoring", s.monitoring.Health)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, errorBody("Not found."))
	})
	return r
}
