// SPDX-License-Identifier: Apache-2.0

// Package engine wires normalization, categorization, deduplication,
// persistence, statistics, and alerting into one error-reporting facade.
// One Engine instance is constructed at process bootstrap and injected
// into every reporting site; there is no global singleton.
package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/jllopis/vigil/pkg/alert"
	"github.com/jllopis/vigil/pkg/report"
	"github.com/jllopis/vigil/pkg/stats"
	"github.com/jllopis/vigil/pkg/store"
	"github.com/jllopis/vigil/pkg/telemetry"
)

// Config is the runtime-adjustable engine configuration.
type Config struct {
	RetentionDays   int
	CleanupInterval time.Duration
	Fingerprint     report.FingerprintConfig
	AutoResolve     AutoResolve
	Alerts          alert.Policy
}

// AutoResolve controls automatic resolution of stale records during cleanup.
type AutoResolve struct {
	Enabled    bool
	MaxAge     time.Duration
	Categories []report.Category
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		RetentionDays:   30,
		CleanupInterval: 24 * time.Hour,
		Fingerprint:     report.DefaultFingerprintConfig(),
		AutoResolve: AutoResolve{
			Enabled:    true,
			MaxAge:     72 * time.Hour,
			Categories: []report.Category{report.CategoryRateLimit, report.CategoryNetwork},
		},
		Alerts: alert.DefaultPolicy(),
	}
}

// Engine is the error telemetry core. All methods degrade gracefully:
// callers get records, slices, nil, or booleans, never an error.
type Engine struct {
	store      *store.Store
	analyzer   *stats.Analyzer
	dispatcher *alert.Dispatcher
	metrics    *telemetry.EngineMetrics
	log        *slog.Logger
	tracer     trace.Tracer
	now        func() time.Time
	volume     stats.RequestVolumeProvider

	cfg atomicConfig

	// cleanup worker state, see cleanup.go
	worker workerState
}

// atomicConfig guards the runtime-adjustable configuration.
type atomicConfig struct {
	mu  sync.RWMutex
	cfg Config
}

func (a *atomicConfig) get() Config {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.cfg
}

func (a *atomicConfig) set(cfg Config) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cfg = cfg
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(log *slog.Logger) Option {
	return func(e *Engine) {
		if log != nil {
			e.log = log
		}
	}
}

// WithMetrics attaches OTEL engine metrics.
func WithMetrics(m *telemetry.EngineMetrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithVolumeProvider overrides the request-volume heuristic used for
// service health estimates.
func WithVolumeProvider(vp stats.RequestVolumeProvider) Option {
	return func(e *Engine) { e.volume = vp }
}

// WithClock overrides the engine clock. Test use.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// New builds an engine around the given store. A nil store gets an
// in-memory one. The dispatcher is created from cfg.Alerts over the given
// notifiers.
func New(st *store.Store, notifiers []alert.Notifier, cfg Config, opts ...Option) *Engine {
	if st == nil {
		st = store.New(nil)
	}
	e := &Engine{
		store:  st,
		log:    slog.Default(),
		tracer: otel.Tracer("vigil/engine"),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	e.cfg.set(cfg)
	e.dispatcher = alert.NewDispatcher(cfg.Alerts, notifiers, e.log)
	e.analyzer = stats.NewAnalyzer(st, e.volume)
	return e
}

// ReportError ingests one failure: normalize, fingerprint, deduplicate,
// categorize (first occurrence only), persist, and conditionally alert.
// It never panics or returns an error; when the pipeline itself fails, a
// minimal fallback record tagged error-reporting-failure is returned.
func (e *Engine) ReportError(ctx context.Context, err error, src report.Source, extra map[string]interface{}) (rec *report.ErrorRecord) {
	defer func() {
		if r := recover(); r != nil {
			e.log.ErrorContext(ctx, "engine.report.panic", slog.Any("panic", r))
			rec = e.fallbackRecord(ctx, err, src)
		}
	}()

	var span trace.Span
	ctx, span = e.tracer.Start(ctx, "engine.report",
		trace.WithAttributes(telemetry.SourceAttributes(src.Service, src.Method, src.File)...))
	defer span.End()

	cfg := e.cfg.get()
	now := e.now()

	n := report.Normalize(err, extra)
	fp := report.Fingerprint(src, n.Code, n.Message, cfg.Fingerprint)

	if existing := e.store.Get(ctx, fp); existing != nil {
		existing.OccurrenceCount++
		existing.Timestamp = now
		if now.After(existing.LastSeen) {
			existing.LastSeen = now
		}
		// Latest occurrence detail replaces the prior one; category and
		// severity are not re-derived on repeats.
		existing.Message = n.Message
		existing.Code = string(n.Code)
		existing.Source = src
		existing.Context = buildContext(n.Context)

		span.SetAttributes(telemetry.ErrorAttributes(
			existing.ID, fp, existing.Severity.String(), string(existing.Category),
			existing.OccurrenceCount)...)

		e.persist(ctx, existing)
		e.metrics.RecordDedup(ctx, fp)
		e.dispatch(ctx, existing)
		return existing
	}

	cls := report.Classify(n)
	rec = &report.ErrorRecord{
		ID:              fp,
		Timestamp:       now,
		Severity:        cls.Severity,
		Category:        cls.Category,
		Source:          src,
		Context:         buildContext(n.Context),
		Code:            string(n.Code),
		Message:         n.Message,
		OccurrenceCount: 1,
		FirstSeen:       now,
		LastSeen:        now,
		Tags:            []string{},
	}

	span.SetAttributes(telemetry.ErrorAttributes(
		rec.ID, fp, rec.Severity.String(), string(rec.Category), rec.OccurrenceCount)...)

	e.persist(ctx, rec)
	e.metrics.RecordReport(ctx, rec)
	e.dispatch(ctx, rec)
	return rec
}

// GetErrors queries records through the index layer.
func (e *Engine) GetErrors(ctx context.Context, f report.Filter) []*report.ErrorRecord {
	return e.store.Query(ctx, f)
}

// GetError returns a record by id, or nil.
func (e *Engine) GetError(ctx context.Context, id string) *report.ErrorRecord {
	return e.store.Get(ctx, id)
}

// GetStatistics aggregates occurrence-weighted statistics, optionally
// bounded by a time range.
func (e *Engine) GetStatistics(ctx context.Context, tr report.TimeRange) *stats.Statistics {
	return e.analyzer.Statistics(ctx, tr)
}

// GetRealTimeMetrics compares the trailing hour against the prior one.
func (e *Engine) GetRealTimeMetrics(ctx context.Context) *stats.RealTimeMetrics {
	return e.analyzer.RealTimeMetrics(ctx, e.now())
}

// Dashboard bundles every analytics view over one time range.
type Dashboard struct {
	Overview          *stats.Statistics        `json:"overview"`
	RealTimeMetrics   *stats.RealTimeMetrics   `json:"realTimeMetrics"`
	ErrorPatterns     []stats.Pattern          `json:"errorPatterns"`
	ServiceHealth     []stats.ServiceHealth    `json:"serviceHealth"`
	ResolutionMetrics *stats.ResolutionMetrics `json:"resolutionMetrics"`
}

// GetAnalyticsDashboard assembles the full dashboard for a time range.
func (e *Engine) GetAnalyticsDashboard(ctx context.Context, tr report.TimeRange) *Dashboard {
	return &Dashboard{
		Overview:          e.analyzer.Statistics(ctx, tr),
		RealTimeMetrics:   e.analyzer.RealTimeMetrics(ctx, e.now()),
		ErrorPatterns:     e.analyzer.Patterns(ctx, tr),
		ServiceHealth:     e.analyzer.ServiceHealth(ctx, tr),
		ResolutionMetrics: e.analyzer.ResolutionMetrics(ctx, tr),
	}
}

// GetErrorForecast projects daily error counts `days` ahead.
func (e *Engine) GetErrorForecast(ctx context.Context, days int) *stats.Forecast {
	return e.analyzer.Forecast(ctx, days)
}

// ResolveError marks a record resolved. Returns false for unknown ids.
func (e *Engine) ResolveError(ctx context.Context, id string, res report.Resolution) bool {
	rec := e.store.Get(ctx, id)
	if rec == nil {
		return false
	}
	if res.ResolvedAt.IsZero() {
		res.ResolvedAt = e.now()
	}
	if res.Method == "" {
		res.Method = "manual"
	}
	rec.Resolved = true
	rec.Resolution = &res
	e.persist(ctx, rec)
	e.log.InfoContext(ctx, "engine.resolve",
		slog.String("id", id),
		slog.String("method", res.Method),
	)
	return true
}

// UpdateConfig applies a new configuration. The alert policy propagates to
// the dispatcher; a changed rate limit restarts its window.
func (e *Engine) UpdateConfig(cfg Config) {
	e.cfg.set(cfg)
	e.dispatcher.UpdatePolicy(cfg.Alerts)
	e.log.Info("engine.config.updated",
		slog.Int("retention_days", cfg.RetentionDays),
		slog.Bool("alerts_enabled", cfg.Alerts.Enabled),
	)
}

// GetConfig returns the active configuration.
func (e *Engine) GetConfig() Config {
	return e.cfg.get()
}

func (e *Engine) persist(ctx context.Context, rec *report.ErrorRecord) {
	if err := e.store.Put(ctx, rec); err != nil {
		// Degraded durability is not a caller-visible failure.
		e.log.WarnContext(ctx, "engine.persist.degraded",
			slog.String("id", rec.ID),
			slog.String("error", err.Error()),
		)
	}
	e.store.BumpDaily(ctx, rec)
}

func (e *Engine) dispatch(ctx context.Context, rec *report.ErrorRecord) {
	policy := e.dispatcher.Policy()
	if !policy.ShouldAlert(rec) {
		return
	}
	delivered := e.dispatcher.Dispatch(ctx, rec)
	e.metrics.RecordAlert(ctx, rec, delivered)
}

// fallbackRecord is returned when the reporting pipeline itself fails.
func (e *Engine) fallbackRecord(ctx context.Context, err error, src report.Source) *report.ErrorRecord {
	now := e.now()
	rec := &report.ErrorRecord{
		ID:              uuid.NewString(),
		Timestamp:       now,
		Severity:        report.SeverityMedium,
		Category:        report.CategoryUnknown,
		Source:          src,
		Message:         safeMessage(err),
		OccurrenceCount: 1,
		FirstSeen:       now,
		LastSeen:        now,
		Tags:            []string{"error-reporting-failure"},
	}
	// Best effort only; the fallback path must not fail.
	func() {
		defer func() { _ = recover() }()
		e.persist(ctx, rec)
	}()
	return rec
}

// safeMessage extracts an error message even when Error() itself panics,
// which is the very failure the fallback path exists for.
func safeMessage(err error) (msg string) {
	msg = "unknown error"
	if err == nil {
		return
	}
	defer func() { _ = recover() }()
	return err.Error()
}

// buildContext lifts well-known keys out of the merged context map and
// keeps the rest as metadata.
func buildContext(m map[string]interface{}) report.Context {
	c := report.Context{}
	if len(m) == 0 {
		return c
	}
	meta := make(map[string]interface{}, len(m))
	for k, v := range m {
		switch k {
		case "requestId":
			if s, ok := v.(string); ok {
				c.RequestID = s
				continue
			}
		case "sessionId":
			if s, ok := v.(string); ok {
				c.SessionID = s
				continue
			}
		case "stackTrace":
			if s, ok := v.(string); ok {
				c.StackTrace = s
				continue
			}
		case "userAgent":
			if s, ok := v.(string); ok {
				c.UserAgent = s
				continue
			}
		}
		meta[k] = v
	}
	if len(meta) > 0 {
		c.Metadata = meta
	}
	return c
}
