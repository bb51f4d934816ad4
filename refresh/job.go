package refresh

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/aluiziolira/go-critic/models"
	"github.com/aluiziolira/go-critic/parser"
	"github.com/aluiziolira/go-critic/providers"
	"github.com/aluiziolira/go-critic/store"
	"github.com/aluiziolira/go-critic/upstream"
)

// Job refreshes stale items one at a time. It is not safe for concurrent Runs.
type Job struct {
	store   store.Store
	factory providers.Factory
	report  ReportWriter
	logger  *slog.Logger
	now     func() time.Time
	sleep   func(time.Duration)
}

// Option customizes a Job.
type Option func(*Job)

// WithLogger sets the job logger.
func WithLogger(logger *slog.Logger) Option {
	return func(j *Job) {
		if logger != nil {
			j.logger = logger
		}
	}
}

// WithReport sends one record per processed item to w.
func WithReport(w ReportWriter) Option {
	return func(j *Job) { j.report = w }
}

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(j *Job) {
		if now != nil {
			j.now = now
		}
	}
}

// WithSleep overrides how the inter-request delay is waited out.
func WithSleep(sleep func(time.Duration)) Option {
	return func(j *Job) {
		if sleep != nil {
			j.sleep = sleep
		}
	}
}

// NewJob binds a store and a provider factory.
func NewJob(s store.Store, factory providers.Factory, opts ...Option) *Job {
	j := &Job{
		store:   s,
		factory: factory,
		logger:  slog.Default(),
		now:     time.Now,
		sleep:   time.Sleep,
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// resolver constructs each category's provider at most once per run.
type resolver struct {
	factory   providers.Factory
	providers map[models.Category]providers.Provider
	errs      map[models.Category]error
}

func (r *resolver) resolve(category models.Category) (providers.Provider, error) {
	if p, ok := r.providers[category]; ok {
		return p, nil
	}
	if err, ok := r.errs[category]; ok {
		return nil, err
	}
	p, err := r.factory(category)
	if err != nil {
		r.errs[category] = err
		return nil, err
	}
	r.providers[category] = p
	return p, nil
}

// Run validates opts, selects the stale batch and refreshes it in order.
// A cancelled context stops the run before the next item and returns the
// partial result.
func (j *Job) Run(ctx context.Context, opts Options) (*models.RefreshResult, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	now := j.now()
	staleCutoff, retryCutoff := opts.cutoffs(now)
	items, err := j.store.ListStale(ctx, staleCutoff, retryCutoff, opts.MaxItems)
	if err != nil {
		return nil, fmt.Errorf("select stale items: %w", err)
	}

	result := &models.RefreshResult{DryRun: opts.DryRun, StartTime: now}
	res := &resolver{
		factory:   j.factory,
		providers: make(map[models.Category]providers.Provider),
		errs:      make(map[models.Category]error),
	}

	j.logger.Debug("refresh batch selected",
		slog.Int("items", len(items)),
		slog.Time("stale_cutoff", staleCutoff),
		slog.Time("retry_cutoff", retryCutoff),
	)

	for _, item := range items {
		if err := ctx.Err(); err != nil {
			result.EndTime = j.now()
			return result, err
		}
		result.Processed++

		record, err := j.refreshItem(ctx, res, item, opts, now)
		switch record.Status {
		case models.RefreshStatusRefreshed:
			result.Refreshed++
		case models.RefreshStatusFailed:
			result.Failed++
		case models.RefreshStatusSkipped:
			result.Skipped++
		}
		j.writeRecord(record)
		if err != nil {
			result.EndTime = j.now()
			return result, err
		}
	}

	result.EndTime = j.now()
	j.logger.Info(Summary(result),
		slog.Int("processed", result.Processed),
		slog.Duration("elapsed", result.EndTime.Sub(result.StartTime)),
	)
	return result, nil
}

// refreshItem runs ResolveProvider, Delay, Fetch and Persist for one item.
// The returned error is a storage failure that must stop the run.
func (j *Job) refreshItem(ctx context.Context, res *resolver, item *models.CatalogItem, opts Options, now time.Time) (models.RefreshRecord, error) {
	record := models.RefreshRecord{ItemID: item.ItemID, Category: item.Category, At: now}

	provider, err := res.resolve(item.Category)
	if err != nil {
		record.Status = models.RefreshStatusSkipped
		record.Error = err.Error()
		j.logger.Warn("skipping item: no provider available",
			slog.String("item_id", item.ItemID),
			slog.String("category", string(item.Category)),
			slog.Any("error", err),
		)
		return record, j.markAttempt(ctx, item, opts, now)
	}

	if opts.RequestDelay > 0 {
		j.sleep(opts.RequestDelay)
	}

	outcome := provider.GetDetails(item.ItemID)
	if !outcome.OK() {
		record.Status = models.RefreshStatusFailed
		record.Error = failureMessage(outcome.Failure())
		j.logger.Warn("refresh failed",
			slog.String("item_id", item.ItemID),
			slog.String("source", outcome.Failure().Source),
			slog.String("kind", string(outcome.Failure().Kind)),
			slog.String("error", record.Error),
		)
		return record, j.markAttempt(ctx, item, opts, now)
	}

	details := outcome.Value()
	if err := parser.ValidateDetails(&details); err != nil {
		record.Status = models.RefreshStatusFailed
		record.Error = err.Error()
		j.logger.Warn("refresh returned invalid details",
			slog.String("item_id", item.ItemID),
			slog.Any("error", err),
		)
		return record, j.markAttempt(ctx, item, opts, now)
	}

	record.Status = models.RefreshStatusRefreshed
	if opts.DryRun {
		return record, nil
	}
	updated := item.Clone()
	updated.ApplyDetails(details, now)
	if err := j.store.Save(ctx, updated); err != nil {
		return record, fmt.Errorf("persist %s: %w", item.ItemID, err)
	}
	return record, nil
}

// markAttempt stamps the attempt and bumps the error counter, leaving every
// display field as it was.
func (j *Job) markAttempt(ctx context.Context, item *models.CatalogItem, opts Options, now time.Time) error {
	if opts.DryRun {
		return nil
	}
	updated := item.Clone()
	updated.MarkAttempt(now)
	if err := j.store.Save(ctx, updated); err != nil {
		return fmt.Errorf("record attempt for %s: %w", item.ItemID, err)
	}
	return nil
}

func (j *Job) writeRecord(record models.RefreshRecord) {
	if j.report == nil {
		return
	}
	if err := j.report.Write([]models.RefreshRecord{record}); err != nil {
		j.logger.Warn("write refresh report", slog.String("item_id", record.ItemID), slog.Any("error", err))
	}
}

// failureMessage folds the upstream status and reason into the message.
func failureMessage(f *upstream.Failure) string {
	msg := f.Message
	if msg == "" {
		msg = "Unknown error"
	}
	if f.StatusCode != 0 {
		msg += " status=" + strconv.Itoa(f.StatusCode)
	}
	if f.UpstreamReason != "" {
		msg += " reason=" + f.UpstreamReason
	}
	return msg
}

// Summary renders the one-line run summary.
func Summary(r *models.RefreshResult) string {
	return fmt.Sprintf("Refresh complete. processed=%d refreshed=%d failed=%d skipped=%d dry_run=%t",
		r.Processed, r.Refreshed, r.Failed, r.Skipped, r.DryRun)
}
