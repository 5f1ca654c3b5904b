// SPDX-License-Identifier: Apache-2.0

package alert

import (
	"context"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/jllopis/vigil/pkg/report"
	"github.com/jllopis/vigil/pkg/telemetry"
)

// Dispatcher evaluates policy for each new or updated record and fans out
// qualifying alerts to every configured channel concurrently. Rate-limited
// suppression is a logged non-failure: the record stays persisted and
// counted, only the notification is skipped.
type Dispatcher struct {
	mu        sync.RWMutex
	policy    Policy
	limiter   *Limiter
	notifiers []Notifier
	log       *slog.Logger
	tracer    trace.Tracer
}

// NewDispatcher creates a dispatcher with the given policy and channels.
func NewDispatcher(policy Policy, notifiers []Notifier, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		policy:    policy,
		limiter:   NewLimiter(policy.RateLimit.MaxAlerts, policy.RateLimit.Window()),
		notifiers: notifiers,
		log:       log,
		tracer:    otel.Tracer("vigil/alert"),
	}
}

// Dispatch evaluates the record and, when it qualifies and fits the rate
// window, notifies every selected channel. Returns true when at least one
// channel accepted the message. Channels are resolved before the window
// counter is consumed, so a policy naming only unknown channels never
// burns the alert budget; once channels resolve, the counter is consumed
// regardless of per-channel outcome.
func (d *Dispatcher) Dispatch(ctx context.Context, rec *report.ErrorRecord) bool {
	d.mu.RLock()
	policy := d.policy
	limiter := d.limiter
	d.mu.RUnlock()

	if !policy.ShouldAlert(rec) {
		return false
	}

	targets := d.selectChannels(policy)
	if len(targets) == 0 {
		d.log.WarnContext(ctx, "alert.no_channels", slog.String("id", rec.ID))
		return false
	}

	if !limiter.Allow() {
		d.log.InfoContext(ctx, "alert.suppressed",
			slog.String("id", rec.ID),
			slog.String("severity", rec.Severity.String()),
			slog.Int("max_alerts", policy.RateLimit.MaxAlerts),
		)
		return false
	}

	msg := Format(rec, policy.IncludeDetails)

	var wg sync.WaitGroup
	results := make(chan error, len(targets))
	for _, n := range targets {
		wg.Add(1)
		go func(n Notifier) {
			defer wg.Done()
			nctx, span := d.tracer.Start(ctx, "alert.notify")
			err := n.Notify(nctx, msg)
			span.SetAttributes(telemetry.AlertAttributes(n.Name(), err == nil)...)
			span.End()
			if err != nil {
				d.log.WarnContext(ctx, "alert.channel.error",
					slog.String("channel", n.Name()),
					slog.String("id", rec.ID),
					slog.String("error", err.Error()),
				)
			}
			results <- err
		}(n)
	}
	wg.Wait()
	close(results)

	succeeded := 0
	for err := range results {
		if err == nil {
			succeeded++
		}
	}

	d.log.InfoContext(ctx, "alert.dispatched",
		slog.String("id", rec.ID),
		slog.Int("channels", len(targets)),
		slog.Int("succeeded", succeeded),
	)
	return succeeded > 0
}

// UpdatePolicy swaps the policy. The rate-limit window restarts when its
// parameters change.
func (d *Dispatcher) UpdatePolicy(policy Policy) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if policy.RateLimit != d.policy.RateLimit {
		d.limiter = NewLimiter(policy.RateLimit.MaxAlerts, policy.RateLimit.Window())
	}
	d.policy = policy
}

// Policy returns the active policy.
func (d *Dispatcher) Policy() Policy {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.policy
}

// selectChannels returns the notifiers named in the policy's channel list,
// or every notifier when the list is empty.
func (d *Dispatcher) selectChannels(policy Policy) []Notifier {
	if len(policy.Channels) == 0 {
		return d.notifiers
	}
	var out []Notifier
	for _, n := range d.notifiers {
		for _, name := range policy.Channels {
			if n.Name() == name {
				out = append(out, n)
				break
			}
		}
	}
	return out
}
