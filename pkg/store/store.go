// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/jllopis/vigil/pkg/report"
	"github.com/jllopis/vigil/pkg/resilience"
	"github.com/jllopis/vigil/pkg/telemetry"
)

const (
	recordKeyPrefix = "error:"
	indexKeyPrefix  = "index:"
	dailyKeyPrefix  = "stats:daily:"

	// isoLayout is a fixed-width UTC timestamp so index keys sort
	// lexicographically in time order.
	isoLayout = "2006-01-02T15:04:05.000Z"
)

// Indexed dimensions. One index entry per (record, dimension) pair; entries
// share their owning record's lifecycle.
const (
	dimSeverity  = "severity"
	dimCategory  = "category"
	dimService   = "service"
	dimTimestamp = "timestamp"
)

// DailyStats is the derived per-day aggregation bucket. It is incrementally
// updated on ingest and recomputable from raw records, so it is never
// treated as authoritative.
type DailyStats struct {
	Date        string         `json:"date"`
	TotalErrors int            `json:"totalErrors"`
	BySeverity  map[string]int `json:"bySeverity"`
	ByCategory  map[string]int `json:"byCategory"`
	ByService   map[string]int `json:"byService"`
}

// Store persists error records with per-dimension secondary indexes over a
// KV backend. All writes are mirrored into an in-memory KV with the same key
// layout; when the durable backend errors, operations degrade to the mirror
// with identical query semantics, minus cross-process durability.
type Store struct {
	durable KV // optional, nil means memory only
	cache   *MemoryKV
	retry   resilience.RetryConfig
	log     *slog.Logger
	tracer  trace.Tracer
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the store logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Store) {
		if log != nil {
			s.log = log
		}
	}
}

// WithRetry sets the retry policy for durable backend writes.
func WithRetry(rc resilience.RetryConfig) Option {
	return func(s *Store) { s.retry = rc }
}

// New creates a Store over the given durable backend. Pass nil for a purely
// in-memory store.
func New(durable KV, opts ...Option) *Store {
	s := &Store{
		durable: durable,
		cache:   NewMemoryKV(),
		retry:   resilience.DefaultRetryConfig().WithMaxAttempts(2),
		log:     slog.Default(),
		tracer:  otel.Tracer("vigil/store"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Put writes the record under its primary key and one index entry per
// dimension. Existing keys are overwritten, so re-putting an updated record
// is idempotent with respect to its indexes.
func (s *Store) Put(ctx context.Context, rec *report.ErrorRecord) error {
	ctx, span := s.tracer.Start(ctx, "store.put")
	defer span.End()

	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	keys := append([]string{recordKey(rec.ID)}, indexKeys(rec)...)
	values := map[string][]byte{recordKey(rec.ID): payload}
	for _, k := range keys[1:] {
		values[k] = []byte(rec.ID)
	}

	fellBack := false
	for _, k := range keys {
		_ = s.cache.Set(ctx, k, values[k])
		if !s.setDurable(ctx, k, values[k]) {
			fellBack = true
		}
	}
	span.SetAttributes(telemetry.StoreAttributes(s.backend(), fellBack)...)
	return nil
}

// backend names the primary backend for observability purposes.
func (s *Store) backend() string {
	if s.durable != nil {
		return "durable"
	}
	return "memory"
}

// Get returns the record for id, or nil when absent.
func (s *Store) Get(ctx context.Context, id string) *report.ErrorRecord {
	payload, err := s.cache.Get(ctx, recordKey(id))
	if err != nil && s.durable != nil {
		payload, err = s.durable.Get(ctx, recordKey(id))
	}
	if err != nil {
		return nil
	}
	rec, err := decodeRecord(payload)
	if err != nil {
		s.log.Warn("store.record.corrupt", slog.String("id", id), slog.String("error", err.Error()))
		return nil
	}
	return rec
}

// Query resolves records matching the filter. Indexed dimensions present in
// the filter are resolved via index prefix scans (OR within a dimension,
// AND across dimensions); without any indexed dimension it falls back to a
// full primary-key scan. Remaining filter fields are applied as a
// post-filter, results are sorted newest first, then paginated.
func (s *Store) Query(ctx context.Context, f report.Filter) []*report.ErrorRecord {
	var candidates []*report.ErrorRecord

	idSets := s.resolveIndexed(ctx, f)
	if idSets == nil {
		candidates = s.Records(ctx)
	} else {
		ids := intersect(idSets)
		for id := range ids {
			if rec := s.Get(ctx, id); rec != nil {
				candidates = append(candidates, rec)
			}
		}
	}

	var out []*report.ErrorRecord
	for _, rec := range candidates {
		if matchPostFilter(rec, f) {
			out = append(out, rec)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})

	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out
}

// Delete removes the record and every index entry derived from it. The
// read-then-delete is a two-step, non-atomic operation: a crash between the
// steps can leave orphaned index entries, which the cleanup pass removes.
func (s *Store) Delete(ctx context.Context, id string) bool {
	rec := s.Get(ctx, id)
	if rec == nil {
		return false
	}

	keys := append(indexKeys(rec), recordKey(id))
	for _, k := range keys {
		_ = s.cache.Delete(ctx, k)
		if s.durable != nil {
			if err := s.durable.Delete(ctx, k); err != nil {
				s.log.Warn("store.durable.delete.error",
					slog.String("key", k), slog.String("error", err.Error()))
			}
		}
	}
	return true
}

// Records returns every stored record via a full primary-key scan.
// Corrupted entries are deleted outright rather than surfaced.
func (s *Store) Records(ctx context.Context) []*report.ErrorRecord {
	entries := s.scanMerged(ctx, recordKeyPrefix)
	out := make([]*report.ErrorRecord, 0, len(entries))
	for _, e := range entries {
		rec, err := decodeRecord(e.Value)
		if err != nil {
			s.log.Warn("store.record.corrupt.purged", slog.String("key", e.Key))
			_ = s.cache.Delete(ctx, e.Key)
			if s.durable != nil {
				_ = s.durable.Delete(ctx, e.Key)
			}
			continue
		}
		out = append(out, rec)
	}
	return out
}

// BumpDaily increments the daily stats bucket for one occurrence of rec.
func (s *Store) BumpDaily(ctx context.Context, rec *report.ErrorRecord) {
	date := rec.LastSeen.UTC().Format("2006-01-02")
	key := dailyKeyPrefix + date

	stats := &DailyStats{Date: date}
	if payload, err := s.cache.Get(ctx, key); err == nil {
		_ = json.Unmarshal(payload, stats)
	} else if s.durable != nil {
		if payload, err := s.durable.Get(ctx, key); err == nil {
			_ = json.Unmarshal(payload, stats)
		}
	}
	if stats.BySeverity == nil {
		stats.BySeverity = map[string]int{}
	}
	if stats.ByCategory == nil {
		stats.ByCategory = map[string]int{}
	}
	if stats.ByService == nil {
		stats.ByService = map[string]int{}
	}

	stats.TotalErrors++
	stats.BySeverity[rec.Severity.String()]++
	stats.ByCategory[string(rec.Category)]++
	stats.ByService[rec.Source.Service]++

	payload, err := json.Marshal(stats)
	if err != nil {
		return
	}
	_ = s.cache.Set(ctx, key, payload)
	s.setDurable(ctx, key, payload)
}

// DailyStats returns the bucket for a yyyy-mm-dd date, or nil when absent.
func (s *Store) DailyStats(ctx context.Context, date string) *DailyStats {
	key := dailyKeyPrefix + date
	payload, err := s.cache.Get(ctx, key)
	if err != nil && s.durable != nil {
		payload, err = s.durable.Get(ctx, key)
	}
	if err != nil {
		return nil
	}
	var stats DailyStats
	if err := json.Unmarshal(payload, &stats); err != nil {
		return nil
	}
	return &stats
}

// DailyCounts returns total occurrences per bucket date (yyyy-mm-dd)
// across every daily stats bucket. This is the history the forecaster
// fits: bucket totals survive deduplication, record timestamps do not.
func (s *Store) DailyCounts(ctx context.Context) map[string]int {
	out := map[string]int{}
	for _, e := range s.scanMerged(ctx, dailyKeyPrefix) {
		var stats DailyStats
		if err := json.Unmarshal(e.Value, &stats); err != nil {
			continue
		}
		date := stats.Date
		if date == "" {
			date = strings.TrimPrefix(e.Key, dailyKeyPrefix)
		}
		out[date] += stats.TotalErrors
	}
	return out
}

// PurgeIndexesBefore removes index entries whose derivable timestamp
// predates cutoff. Malformed index keys are deleted unconditionally.
// Returns the number of keys removed.
func (s *Store) PurgeIndexesBefore(ctx context.Context, cutoff time.Time) int {
	removed := 0
	for _, e := range s.scanMerged(ctx, indexKeyPrefix) {
		ts, _, ok := parseIndexKey(e.Key)
		if ok && !ts.Before(cutoff) {
			continue
		}
		_ = s.cache.Delete(ctx, e.Key)
		if s.durable != nil {
			_ = s.durable.Delete(ctx, e.Key)
		}
		removed++
	}
	return removed
}

// resolveIndexed returns one candidate id set per indexed dimension present
// in the filter, or nil when no indexed dimension is filtered.
func (s *Store) resolveIndexed(ctx context.Context, f report.Filter) []map[string]struct{} {
	var sets []map[string]struct{}

	if len(f.Severities) > 0 {
		set := map[string]struct{}{}
		for _, sev := range f.Severities {
			s.collectIDs(ctx, indexPrefix(dimSeverity, sev.String()), set)
		}
		sets = append(sets, set)
	}
	if len(f.Categories) > 0 {
		set := map[string]struct{}{}
		for _, cat := range f.Categories {
			s.collectIDs(ctx, indexPrefix(dimCategory, string(cat)), set)
		}
		sets = append(sets, set)
	}
	if len(f.Services) > 0 {
		set := map[string]struct{}{}
		for _, svc := range f.Services {
			s.collectIDs(ctx, indexPrefix(dimService, svc), set)
		}
		sets = append(sets, set)
	}
	return sets
}

func (s *Store) collectIDs(ctx context.Context, prefix string, into map[string]struct{}) {
	for _, e := range s.scanMerged(ctx, prefix) {
		into[string(e.Value)] = struct{}{}
	}
}

// scanMerged overlays the cache scan on top of the durable scan so records
// written during a backend outage and records from previous runs both
// appear. Durable scan failures degrade to the cache alone.
func (s *Store) scanMerged(ctx context.Context, prefix string) []Entry {
	merged := map[string][]byte{}
	if s.durable != nil {
		entries, err := s.durable.ScanPrefix(ctx, prefix)
		if err != nil {
			s.log.Warn("store.durable.scan.error",
				slog.String("prefix", prefix), slog.String("error", err.Error()))
		} else {
			for _, e := range entries {
				merged[e.Key] = e.Value
			}
		}
	}
	cached, _ := s.cache.ScanPrefix(ctx, prefix)
	for _, e := range cached {
		merged[e.Key] = e.Value
	}

	out := make([]Entry, 0, len(merged))
	for k, v := range merged {
		out = append(out, Entry{Key: k, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// setDurable writes to the durable backend with retry; failures are logged
// and ingestion continues on the in-memory mirror only. Reports whether
// the durable write (when one was attempted) went through.
func (s *Store) setDurable(ctx context.Context, key string, value []byte) bool {
	if s.durable == nil {
		return true
	}
	err := s.retry.Do(ctx, func() error {
		return s.durable.Set(ctx, key, value)
	})
	if err != nil {
		s.log.Warn("store.durable.write.error",
			slog.String("key", key), slog.String("error", err.Error()))
		return false
	}
	return true
}

func matchPostFilter(rec *report.ErrorRecord, f report.Filter) bool {
	if !f.Range.IsZero() && !f.Range.Contains(rec.Timestamp) {
		return false
	}
	if f.UserID != "" && rec.Source.UserID != f.UserID {
		return false
	}
	if f.ChannelID != "" && rec.Source.ChannelID != f.ChannelID {
		return false
	}
	if f.TeamID != "" && rec.Source.TeamID != f.TeamID {
		return false
	}
	if f.Resolved != nil && rec.Resolved != *f.Resolved {
		return false
	}
	for _, tag := range f.Tags {
		if !rec.HasTag(tag) {
			return false
		}
	}
	if f.Search != "" &&
		!strings.Contains(strings.ToLower(rec.Message), strings.ToLower(f.Search)) {
		return false
	}
	return true
}

func intersect(sets []map[string]struct{}) map[string]struct{} {
	if len(sets) == 0 {
		return nil
	}
	out := sets[0]
	for _, set := range sets[1:] {
		next := map[string]struct{}{}
		for id := range out {
			if _, ok := set[id]; ok {
				next[id] = struct{}{}
			}
		}
		out = next
	}
	return out
}

func recordKey(id string) string {
	return recordKeyPrefix + id
}

// indexKeys derives every secondary index key for a record. The index
// timestamp is FirstSeen so repeated puts of a mutated record rewrite the
// same keys instead of accumulating stale ones.
func indexKeys(rec *report.ErrorRecord) []string {
	ts := rec.FirstSeen.UTC().Format(isoLayout)
	return []string{
		indexKey(dimSeverity, rec.Severity.String(), ts, rec.ID),
		indexKey(dimCategory, string(rec.Category), ts, rec.ID),
		indexKey(dimService, rec.Source.Service, ts, rec.ID),
		indexKey(dimTimestamp, ts, ts, rec.ID),
	}
}

func indexKey(dim, value, ts, id string) string {
	return indexKeyPrefix + dim + ":" + sanitizeIndexValue(value) + ":" + ts + ":" + id
}

func indexPrefix(dim, value string) string {
	return indexKeyPrefix + dim + ":" + sanitizeIndexValue(value) + ":"
}

// sanitizeIndexValue keeps dimension values from colliding with the key
// separator.
func sanitizeIndexValue(v string) string {
	return strings.ReplaceAll(v, ":", "_")
}

// parseIndexKey recovers the timestamp and record id from an index key.
// The ISO timestamp spans the three segments before the trailing id.
func parseIndexKey(key string) (time.Time, string, bool) {
	parts := strings.Split(key, ":")
	if len(parts) < 6 {
		return time.Time{}, "", false
	}
	id := parts[len(parts)-1]
	iso := strings.Join(parts[len(parts)-4:len(parts)-1], ":")
	ts, err := time.Parse(isoLayout, iso)
	if err != nil {
		return time.Time{}, "", false
	}
	return ts, id, true
}

func decodeRecord(payload []byte) (*report.ErrorRecord, error) {
	var rec report.ErrorRecord
	if err := json.Unmarshal(payload, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}
