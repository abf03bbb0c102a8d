package pricing

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/quickbook-dispatch/internal/domain"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() Config {
	return Config{
		Defaults: map[string]Range{
			"plumbing": {P10: decimal.NewFromInt(40), P50: decimal.NewFromInt(60), P90: decimal.NewFromInt(90)},
		},
		Fallback: Range{P10: decimal.NewFromInt(20), P50: decimal.NewFromInt(50), P90: decimal.NewFromInt(100)},
	}
}

func sample(id, category string, price int64, at time.Time) domain.PriceSample {
	return domain.PriceSample{SampleID: id, CategoryID: category, Price: decimal.NewFromInt(price), CompletedAt: at}
}

type memSampleStore struct {
	mu      sync.Mutex
	samples map[string]domain.PriceSample
}

func newMemSampleStore() *memSampleStore {
	return &memSampleStore{samples: make(map[string]domain.PriceSample)}
}

func (m *memSampleStore) Insert(ctx context.Context, s domain.PriceSample) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.samples[s.SampleID]; ok {
		return false, nil
	}
	m.samples[s.SampleID] = s
	return true, nil
}

func (m *memSampleStore) LoadSince(ctx context.Context, since time.Time) ([]domain.PriceSample, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.PriceSample
	for _, s := range m.samples {
		if s.CompletedAt.After(since) {
			out = append(out, s)
		}
	}
	return out, nil
}

func TestEngine_DefaultsWithoutSamples(t *testing.T) {
	e := NewEngine(testConfig(), nil, clockwork.NewFakeClockAt(t0), testLogger())

	g := e.Guidance("plumbing")
	assert.Equal(t, 0, g.SampleCount)
	assert.True(t, g.P50.Equal(decimal.NewFromInt(60)))

	g = e.Guidance("roofing")
	assert.Equal(t, 0, g.SampleCount)
	assert.True(t, g.P10.Equal(decimal.NewFromInt(20)))
	assert.True(t, g.P90.Equal(decimal.NewFromInt(100)))
}

func TestEngine_NearestRank(t *testing.T) {
	ctx := context.Background()
	e := NewEngine(testConfig(), nil, clockwork.NewFakeClockAt(t0), testLogger())

	// prices 10, 20, ..., 100
	for i := 1; i <= 10; i++ {
		require.NoError(t, e.RecordSample(ctx, sample(fmt.Sprintf("s%d", i), "plumbing", int64(i*10), t0)))
	}

	g := e.Guidance("plumbing")
	assert.Equal(t, 10, g.SampleCount)
	assert.True(t, g.P10.Equal(decimal.NewFromInt(10)), "p10 = %s", g.P10)
	assert.True(t, g.P50.Equal(decimal.NewFromInt(50)), "p50 = %s", g.P50)
	assert.True(t, g.P90.Equal(decimal.NewFromInt(90)), "p90 = %s", g.P90)
}

func TestEngine_SingleSample(t *testing.T) {
	e := NewEngine(testConfig(), nil, clockwork.NewFakeClockAt(t0), testLogger())
	require.NoError(t, e.RecordSample(context.Background(), sample("s1", "plumbing", 75, t0)))

	g := e.Guidance("plumbing")
	assert.Equal(t, 1, g.SampleCount)
	assert.True(t, g.P10.Equal(g.P50))
	assert.True(t, g.P50.Equal(g.P90))
}

func TestEngine_PercentilesOrdered(t *testing.T) {
	ctx := context.Background()
	rng := rand.New(rand.NewSource(42))

	for trial := 0; trial < 25; trial++ {
		e := NewEngine(testConfig(), nil, clockwork.NewFakeClockAt(t0), testLogger())
		n := 1 + rng.Intn(60)
		for i := 0; i < n; i++ {
			price := decimal.NewFromFloat(1 + rng.Float64()*500).Round(2)
			s := domain.PriceSample{SampleID: fmt.Sprintf("s%d", i), CategoryID: "c", Price: price, CompletedAt: t0}
			require.NoError(t, e.RecordSample(ctx, s))
		}

		g := e.Guidance("c")
		assert.Equal(t, n, g.SampleCount)
		assert.True(t, g.P10.LessThanOrEqual(g.P50), "trial %d: p10 %s > p50 %s", trial, g.P10, g.P50)
		assert.True(t, g.P50.LessThanOrEqual(g.P90), "trial %d: p50 %s > p90 %s", trial, g.P50, g.P90)
	}
}

func TestEngine_RecordSampleIdempotent(t *testing.T) {
	ctx := context.Background()
	store := newMemSampleStore()
	e := NewEngine(testConfig(), store, clockwork.NewFakeClockAt(t0), testLogger())

	require.NoError(t, e.RecordSample(ctx, sample("s1", "plumbing", 10, t0)))
	require.NoError(t, e.RecordSample(ctx, sample("s2", "plumbing", 30, t0)))
	before := e.Guidance("plumbing")

	require.NoError(t, e.RecordSample(ctx, sample("s1", "plumbing", 10, t0)))
	after := e.Guidance("plumbing")

	assert.Equal(t, before, after)
	assert.Equal(t, 2, after.SampleCount)
	assert.Len(t, store.samples, 2)
}

func TestEngine_RecordSampleValidation(t *testing.T) {
	e := NewEngine(testConfig(), nil, clockwork.NewFakeClockAt(t0), testLogger())

	tests := []struct {
		name   string
		sample domain.PriceSample
		field  string
	}{
		{name: "missing id", sample: sample("", "c", 10, t0), field: "sample_id"},
		{name: "missing category", sample: sample("s1", "", 10, t0), field: "category_id"},
		{name: "zero price", sample: sample("s1", "c", 0, t0), field: "price"},
		{name: "missing completion time", sample: sample("s1", "c", 10, time.Time{}), field: "completed_at"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := e.RecordSample(context.Background(), tt.sample)
			var verr *domain.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestEngine_Window(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClockAt(t0)
	cfg := testConfig()
	cfg.Window = 24 * time.Hour
	e := NewEngine(cfg, nil, clock, testLogger())

	require.NoError(t, e.RecordSample(ctx, sample("old", "plumbing", 500, t0.Add(-20*time.Hour))))
	require.NoError(t, e.RecordSample(ctx, sample("new", "plumbing", 100, t0)))
	assert.Equal(t, 2, e.Guidance("plumbing").SampleCount)

	e.RecomputeAll(t0.Add(6 * time.Hour))
	g := e.Guidance("plumbing")
	assert.Equal(t, 1, g.SampleCount)
	assert.True(t, g.P90.Equal(decimal.NewFromInt(100)))

	e.RecomputeAll(t0.Add(48 * time.Hour))
	g = e.Guidance("plumbing")
	assert.Equal(t, 0, g.SampleCount)
	assert.True(t, g.P50.Equal(decimal.NewFromInt(60)), "falls back to the category default")
}

func TestEngine_Load(t *testing.T) {
	ctx := context.Background()
	store := newMemSampleStore()
	for i := 1; i <= 5; i++ {
		_, err := store.Insert(ctx, sample(fmt.Sprintf("s%d", i), "electrical", int64(i*100), t0))
		require.NoError(t, err)
	}

	e := NewEngine(testConfig(), store, clockwork.NewFakeClockAt(t0), testLogger())
	require.NoError(t, e.Load(ctx))

	g := e.Guidance("electrical")
	assert.Equal(t, 5, g.SampleCount)
	assert.True(t, g.P50.Equal(decimal.NewFromInt(300)))

	// replay of an archived sample after load is still a no-op
	require.NoError(t, e.RecordSample(ctx, sample("s3", "electrical", 300, t0)))
	assert.Equal(t, 5, e.Guidance("electrical").SampleCount)
}

func TestEngine_ConcurrentReadersSeeWholeSnapshots(t *testing.T) {
	ctx := context.Background()
	e := NewEngine(testConfig(), nil, clockwork.NewFakeClockAt(t0), testLogger())

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				g := e.Guidance("plumbing")
				if !g.P10.LessThanOrEqual(g.P50) || !g.P50.LessThanOrEqual(g.P90) {
					t.Errorf("torn snapshot: %s %s %s", g.P10, g.P50, g.P90)
					return
				}
			}
		}()
	}

	for i := 0; i < 200; i++ {
		require.NoError(t, e.RecordSample(ctx, sample(fmt.Sprintf("s%d", i), "plumbing", int64(1+i%37), t0)))
	}
	close(stop)
	wg.Wait()

	assert.Equal(t, 200, e.Guidance("plumbing").SampleCount)
}
