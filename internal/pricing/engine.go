package pricing

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"

	"github.com/cuongbtq/quickbook-dispatch/internal/domain"
)

// Guidance is the displayed price range of a category
type Guidance struct {
	CategoryID  string
	P10         decimal.Decimal
	P50         decimal.Decimal
	P90         decimal.Decimal
	SampleCount int
}

// Range is a configured price range used before any sample exists
type Range struct {
	P10 decimal.Decimal
	P50 decimal.Decimal
	P90 decimal.Decimal
}

// Config controls the percentile window and the no-sample defaults
type Config struct {
	// Window limits samples to those completed within it. Zero keeps every sample.
	Window   time.Duration
	Defaults map[string]Range
	Fallback Range
}

// SampleStore persists price samples. Insert reports false when the sample id
// was already stored.
type SampleStore interface {
	Insert(ctx context.Context, sample domain.PriceSample) (bool, error)
	LoadSince(ctx context.Context, since time.Time) ([]domain.PriceSample, error)
}

type snapshot struct {
	builtAt    time.Time
	categories map[string]Guidance
}

// Engine computes per-category percentiles. Readers load an immutable
// snapshot; writers rebuild the affected category and swap the snapshot.
type Engine struct {
	config Config
	clock  clockwork.Clock
	store  SampleStore
	logger *slog.Logger

	mu      sync.Mutex
	samples map[string][]domain.PriceSample
	seen    map[string]struct{}

	snap atomic.Pointer[snapshot]
}

// NewEngine creates an Engine. store may be nil for a memory-only engine.
func NewEngine(config Config, store SampleStore, clock clockwork.Clock, logger *slog.Logger) *Engine {
	e := &Engine{
		config:  config,
		clock:   clock,
		store:   store,
		logger:  logger,
		samples: make(map[string][]domain.PriceSample),
		seen:    make(map[string]struct{}),
	}
	e.snap.Store(&snapshot{categories: map[string]Guidance{}})
	return e
}

// Guidance returns the current range for categoryID. A category without
// samples gets its configured default, or the global fallback.
func (e *Engine) Guidance(categoryID string) Guidance {
	if g, ok := e.snap.Load().categories[categoryID]; ok {
		return g
	}
	r, ok := e.config.Defaults[categoryID]
	if !ok {
		r = e.config.Fallback
	}
	return Guidance{CategoryID: categoryID, P10: r.P10, P50: r.P50, P90: r.P90}
}

// RecordSample appends a completed-job price. Replaying a sample id is a no-op.
func (e *Engine) RecordSample(ctx context.Context, sample domain.PriceSample) error {
	if err := validateSample(sample); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.seen[sample.SampleID]; ok {
		return nil
	}

	if e.store != nil {
		inserted, err := e.store.Insert(ctx, sample)
		if err != nil {
			return fmt.Errorf("failed to store price sample: %w", err)
		}
		if !inserted {
			e.logger.Debug("Price sample already archived",
				slog.String("sample_id", sample.SampleID),
			)
		}
	}

	e.seen[sample.SampleID] = struct{}{}
	e.samples[sample.CategoryID] = append(e.samples[sample.CategoryID], sample)
	e.publishLocked(e.clock.Now(), sample.CategoryID)
	return nil
}

// Load warms the engine from the sample store
func (e *Engine) Load(ctx context.Context) error {
	if e.store == nil {
		return nil
	}

	now := e.clock.Now()
	var since time.Time
	if e.config.Window > 0 {
		since = now.Add(-e.config.Window)
	}

	samples, err := e.store.LoadSince(ctx, since)
	if err != nil {
		return fmt.Errorf("failed to load price samples: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for _, s := range samples {
		if _, ok := e.seen[s.SampleID]; ok {
			continue
		}
		e.seen[s.SampleID] = struct{}{}
		e.samples[s.CategoryID] = append(e.samples[s.CategoryID], s)
	}
	e.publishLocked(now)

	e.logger.Info("Price samples loaded",
		slog.Int("samples", len(samples)),
		slog.Int("categories", len(e.samples)),
	)
	return nil
}

// RecomputeAll drops samples that left the window and rebuilds every category.
func (e *Engine) RecomputeAll(now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.config.Window > 0 {
		cutoff := now.Add(-e.config.Window)
		for cat, list := range e.samples {
			kept := list[:0]
			for _, s := range list {
				if s.CompletedAt.After(cutoff) {
					kept = append(kept, s)
				} else {
					delete(e.seen, s.SampleID)
				}
			}
			if len(kept) == 0 {
				delete(e.samples, cat)
			} else {
				e.samples[cat] = kept
			}
		}
	}
	e.publishLocked(now)
}

// publishLocked rebuilds the given categories (all when none given) and
// swaps in a new snapshot. Callers hold e.mu.
func (e *Engine) publishLocked(now time.Time, categories ...string) {
	prev := e.snap.Load()
	next := &snapshot{builtAt: now, categories: make(map[string]Guidance, len(e.samples))}

	if len(categories) > 0 {
		for k, v := range prev.categories {
			next.categories[k] = v
		}
	} else {
		for k := range e.samples {
			categories = append(categories, k)
		}
	}

	for _, cat := range categories {
		g, ok := e.compute(cat, now)
		if ok {
			next.categories[cat] = g
		} else {
			delete(next.categories, cat)
		}
	}
	e.snap.Store(next)
}

func (e *Engine) compute(categoryID string, now time.Time) (Guidance, bool) {
	var prices []decimal.Decimal
	for _, s := range e.samples[categoryID] {
		if e.config.Window > 0 && !s.CompletedAt.After(now.Add(-e.config.Window)) {
			continue
		}
		prices = append(prices, s.Price)
	}
	if len(prices) == 0 {
		return Guidance{}, false
	}

	sort.Slice(prices, func(a, b int) bool { return prices[a].LessThan(prices[b]) })
	return Guidance{
		CategoryID:  categoryID,
		P10:         nearestRank(prices, 10),
		P50:         nearestRank(prices, 50),
		P90:         nearestRank(prices, 90),
		SampleCount: len(prices),
	}, true
}

// nearestRank returns the p-th percentile of sorted using rank = ceil(p/100 * n).
func nearestRank(sorted []decimal.Decimal, p int) decimal.Decimal {
	n := len(sorted)
	rank := (p*n + 99) / 100
	if rank < 1 {
		rank = 1
	}
	return sorted[rank-1]
}

func validateSample(s domain.PriceSample) error {
	switch {
	case s.SampleID == "":
		return domain.NewValidationError("sample_id", "is required")
	case s.CategoryID == "":
		return domain.NewValidationError("category_id", "is required")
	case !s.Price.IsPositive():
		return domain.NewValidationError("price", "must be greater than zero")
	case s.CompletedAt.IsZero():
		return domain.NewValidationError("completed_at", "is required")
	}
	return nil
}

