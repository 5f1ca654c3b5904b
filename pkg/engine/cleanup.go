// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jllopis/vigil/pkg/report"
	"github.com/jllopis/vigil/pkg/telemetry"
)

// workerState holds the cleanup worker lifecycle.
type workerState struct {
	cancel  context.CancelFunc
	done    chan struct{}
	running atomic.Bool
}

// Cleanup runs one retention pass: delete records older than the retention
// cutoff together with their index entries, auto-resolve stale records in
// the allowlisted categories, and purge expired or malformed index keys.
// Returns the number of records removed.
func (e *Engine) Cleanup(ctx context.Context) int {
	ctx, span := e.tracer.Start(ctx, "engine.cleanup")
	defer span.End()

	cfg := e.cfg.get()
	now := e.now()
	cutoff := now.AddDate(0, 0, -cfg.RetentionDays)

	removed := 0
	autoResolved := 0
	active := 0
	for _, rec := range e.store.Records(ctx) {
		if rec.LastSeen.Before(cutoff) {
			if e.store.Delete(ctx, rec.ID) {
				removed++
			}
			continue
		}
		if cfg.AutoResolve.Enabled && !rec.Resolved &&
			now.Sub(rec.LastSeen) > cfg.AutoResolve.MaxAge &&
			categoryAllowed(rec.Category, cfg.AutoResolve.Categories) {
			rec.Resolved = true
			rec.Resolution = &report.Resolution{
				Method:     "auto",
				ResolvedAt: now,
				Details:    "auto-resolved after exceeding max age",
			}
			e.persist(ctx, rec)
			autoResolved++
		}
		if !rec.Resolved {
			active++
		}
	}

	purgedIdx := e.store.PurgeIndexesBefore(ctx, cutoff)

	span.SetAttributes(telemetry.CleanupAttributes(
		removed, autoResolved, cutoff.Format(time.RFC3339))...)
	e.metrics.RecordCleanup(ctx, int64(removed))
	e.metrics.RecordActiveErrors(ctx, int64(active))
	e.log.InfoContext(ctx, "engine.cleanup.complete",
		slog.Int("removed", removed),
		slog.Int("auto_resolved", autoResolved),
		slog.Int("purged_index_keys", purgedIdx),
		slog.Time("cutoff", cutoff),
	)
	return removed
}

// StartCleanupWorker launches the periodic retention worker. It must not
// block ingestion; an overlap guard skips a tick while the previous pass is
// still running. Set interval 0 in the config to disable.
func (e *Engine) StartCleanupWorker() {
	interval := e.cfg.get().CleanupInterval
	if interval <= 0 {
		e.log.Info("engine.cleanup.worker.disabled")
		return
	}
	if e.worker.cancel != nil {
		e.StopCleanupWorker()
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	e.worker.cancel = cancel
	e.worker.done = done

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		e.log.Info("engine.cleanup.worker.start",
			slog.Duration("interval", interval),
		)
		for {
			select {
			case <-ctx.Done():
				e.log.Info("engine.cleanup.worker.stop")
				return
			case <-ticker.C:
				if !e.worker.running.CompareAndSwap(false, true) {
					e.log.Warn("engine.cleanup.overlap.skipped")
					continue
				}
				start := time.Now()
				removed := e.Cleanup(ctx)
				e.worker.running.Store(false)
				e.log.Info("engine.cleanup.run",
					slog.Int("removed", removed),
					slog.Duration("duration", time.Since(start)),
				)
			}
		}
	}()
}

// StopCleanupWorker stops the retention worker and waits for it to exit.
func (e *Engine) StopCleanupWorker() {
	if e.worker.cancel == nil {
		return
	}
	e.worker.cancel()
	<-e.worker.done
	e.worker.cancel = nil
	e.worker.done = nil
}

// Shutdown stops background work. Pending writes are synchronous, so
// stopping the worker is all that is needed before process exit.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.StopCleanupWorker()
	e.log.InfoContext(ctx, "engine.shutdown")
	return nil
}

func categoryAllowed(c report.Category, allowed []report.Category) bool {
	for _, a := range allowed {
		if a == c {
			return true
		}
	}
	return false
}
