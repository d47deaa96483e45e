package session

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trendbot/internal/broker"
	"trendbot/internal/config"
	"trendbot/internal/md"
	"trendbot/internal/paper"
	"trendbot/internal/strategy"
)

var start = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// trend falls for 20 days and then rises, producing one upward cross.
func trend(symbol string, base float64) []md.Bar {
	var bars []md.Bar
	prev := base
	for i := 0; i < 60; i++ {
		c := base - float64(i)
		if i >= 20 {
			c = base - 20 + 1.5*float64(i-20)
		}
		bars = append(bars, md.Bar{
			Symbol:    symbol,
			Timestamp: start.AddDate(0, 0, i),
			Open:      prev,
			High:      max(prev, c) + 1,
			Low:       min(prev, c) - 1,
			Close:     c,
			Volume:    1000,
		})
		prev = c
	}
	return bars
}

type memSource map[string][]md.Bar

func (m memSource) Bars(ctx context.Context, symbols []string, from, to time.Time) (map[string][]md.Bar, error) {
	out := map[string][]md.Bar{}
	for _, s := range symbols {
		out[s] = m[s]
	}
	return out, nil
}

type errSource struct{ err error }

func (e errSource) Bars(context.Context, []string, time.Time, time.Time) (map[string][]md.Bar, error) {
	return nil, e.err
}

type panicSource struct{}

func (panicSource) Bars(context.Context, []string, time.Time, time.Time) (map[string][]md.Bar, error) {
	panic("feed exploded")
}

func testConfig(t *testing.T) config.Config {
	cfg := config.Defaults()
	cfg.Symbols = []string{"AAPL", "MSFT"}
	cfg.Start = start
	cfg.End = start.AddDate(0, 3, 0)
	cfg.Source = config.SourceParquet
	cfg.DataDir = t.TempDir()
	cfg.DecisionsPath = filepath.Join(t.TempDir(), "decisions.ndjson")
	cfg.Strategy.FastPeriod = 3
	cfg.Strategy.SlowPeriod = 5
	cfg.Strategy.ATRPeriod = 3
	return cfg
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Symbols = nil
	_, err := New(cfg)
	require.ErrorIs(t, err, config.ErrInvalid)

	cfg = testConfig(t)
	cfg.Strategy.SlowPeriod = cfg.Strategy.FastPeriod
	_, err = New(cfg)
	require.ErrorIs(t, err, config.ErrInvalid)
}

func TestBacktestFromParquetCompletes(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, md.WriteParquet(md.ParquetPath(cfg.DataDir, "AAPL"), trend("AAPL", 100)))
	require.NoError(t, md.WriteParquet(md.ParquetPath(cfg.DataDir, "MSFT"), trend("MSFT", 150)))

	s, err := New(cfg)
	require.NoError(t, err)
	res := s.Run(context.Background())

	require.NoError(t, res.Err)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.EqualValues(t, 120, res.Bars)
	assert.GreaterOrEqual(t, res.Orders, int64(2))
	assert.GreaterOrEqual(t, res.Fills, 2)
	assert.Greater(t, res.FinalEquity, 0.0)
	assert.NotEmpty(t, res.RunID)
}

func TestStopBeforeRunEndsStoppedWithoutOrders(t *testing.T) {
	cfg := testConfig(t)
	s, err := New(cfg, WithSource(memSource{"AAPL": trend("AAPL", 100), "MSFT": trend("MSFT", 150)}))
	require.NoError(t, err)

	s.Stop()
	res := s.Run(context.Background())

	assert.Equal(t, StatusStopped, res.Status)
	assert.Zero(t, res.Orders)
	assert.Zero(t, res.Bars)
	assert.Equal(t, cfg.StartingCash, res.FinalEquity)
}

// stopAt requests a stop while evaluating the bar at day.
type stopAt struct {
	inner strategy.Strategy
	day   time.Time
	stop  func()
}

func (a stopAt) Decide(snapshot strategy.MarketSnapshot) strategy.TradeIntent {
	if snapshot.Timestamp.Equal(a.day) {
		a.stop()
	}
	return a.inner.Decide(snapshot)
}

func TestStopMidRunFlattens(t *testing.T) {
	cfg := testConfig(t)
	cfg.Symbols = []string{"AAPL"}
	bars := trend("AAPL", 100)

	full, err := New(cfg, WithSource(memSource{"AAPL": bars}))
	require.NoError(t, err)
	res := full.Run(context.Background())
	require.Equal(t, StatusCompleted, res.Status)
	require.NotEmpty(t, full.Store().Snapshot().Positions, "trend should end in the market")

	var s *Session
	strat := stopAt{
		inner: strategy.NewSMACross(cfg.Strategy),
		day:   start.AddDate(0, 0, 45),
		stop:  func() { s.Stop() },
	}
	s, err = New(cfg, WithSource(memSource{"AAPL": bars}), WithStrategy(strat))
	require.NoError(t, err)

	res = s.Run(context.Background())
	assert.Equal(t, StatusStopped, res.Status)
	assert.True(t, s.Store().Flat())
	assert.EqualValues(t, 47, res.Bars)
}

func TestSourceErrorFails(t *testing.T) {
	boom := errors.New("no data")
	s, err := New(testConfig(t), WithSource(errSource{err: boom}))
	require.NoError(t, err)

	res := s.Run(context.Background())
	assert.Equal(t, StatusFailed, res.Status)
	assert.ErrorIs(t, res.Err, boom)
}

func TestEmptySourceFails(t *testing.T) {
	s, err := New(testConfig(t), WithSource(memSource{}))
	require.NoError(t, err)

	res := s.Run(context.Background())
	assert.Equal(t, StatusFailed, res.Status)
	assert.ErrorIs(t, res.Err, md.ErrNoBars)
}

func TestPanicBecomesFailedResult(t *testing.T) {
	s, err := New(testConfig(t), WithSource(panicSource{}))
	require.NoError(t, err)

	res := s.Run(context.Background())
	assert.Equal(t, StatusFailed, res.Status)
	assert.Contains(t, res.Err.Error(), "feed exploded")
}

func liveConfig(t *testing.T) config.Config {
	cfg := testConfig(t)
	cfg.Mode = config.ModeLive
	cfg.APIKey = "key"
	cfg.APISecret = "secret"
	cfg.Symbols = []string{"AAPL"}
	return cfg
}

func TestLiveStopsOnceFlat(t *testing.T) {
	bars := trend("AAPL", 100)
	stream := func(ctx context.Context, opts md.StreamOptions, symbols []string, handler md.BarHandler) error {
		assert.True(t, opts.Daily)
		handler(bars[58])
		handler(bars[59])
		<-ctx.Done()
		return ctx.Err()
	}
	s, err := New(liveConfig(t),
		WithBroker(paper.New(10000, 0)),
		WithSource(memSource{"AAPL": bars[:58]}),
		WithStream(stream),
	)
	require.NoError(t, err)
	s.poll = 5 * time.Millisecond

	s.Stop()
	done := make(chan Result, 1)
	go func() { done <- s.Run(context.Background()) }()

	select {
	case res := <-done:
		assert.Equal(t, StatusStopped, res.Status)
		assert.NoError(t, res.Err)
	case <-time.After(5 * time.Second):
		t.Fatal("live session did not stop")
	}
}

func TestLiveContextCancelStops(t *testing.T) {
	stream := func(ctx context.Context, opts md.StreamOptions, symbols []string, handler md.BarHandler) error {
		<-ctx.Done()
		return ctx.Err()
	}
	s, err := New(liveConfig(t), WithBroker(paper.New(10000, 0)), WithSource(memSource{}), WithStream(stream))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	res := s.Run(ctx)
	assert.Equal(t, StatusStopped, res.Status)
}

func TestLiveStreamErrorFails(t *testing.T) {
	boom := errors.New("socket closed")
	stream := func(ctx context.Context, opts md.StreamOptions, symbols []string, handler md.BarHandler) error {
		return boom
	}
	s, err := New(liveConfig(t), WithBroker(paper.New(10000, 0)), WithSource(memSource{}), WithStream(stream))
	require.NoError(t, err)

	res := s.Run(context.Background())
	assert.Equal(t, StatusFailed, res.Status)
	assert.ErrorIs(t, res.Err, boom)
}

// foreignHolding adds a position in a symbol outside the session's basket.
type foreignHolding struct {
	*paper.Broker
}

func (f foreignHolding) Positions(ctx context.Context) ([]broker.Position, error) {
	out, err := f.Broker.Positions(ctx)
	return append(out, broker.Position{Symbol: "SPY", Qty: 5, AvgEntry: 400}), err
}

func blockingStream(ctx context.Context, opts md.StreamOptions, symbols []string, handler md.BarHandler) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestLiveStopIgnoresHoldingsOutsideBasket(t *testing.T) {
	s, err := New(liveConfig(t),
		WithBroker(foreignHolding{paper.New(10000, 0)}),
		WithSource(memSource{}),
		WithStream(blockingStream),
	)
	require.NoError(t, err)
	s.poll = 5 * time.Millisecond

	s.Stop()
	done := make(chan Result, 1)
	go func() { done <- s.Run(context.Background()) }()

	select {
	case res := <-done:
		assert.Equal(t, StatusStopped, res.Status)
	case <-time.After(5 * time.Second):
		t.Fatal("live session did not stop with a foreign position open")
	}
}

type panicStrategy struct{}

func (panicStrategy) Decide(strategy.MarketSnapshot) strategy.TradeIntent {
	panic("decide exploded")
}

func TestLivePanicInBarHandlerFails(t *testing.T) {
	bars := trend("AAPL", 100)
	stream := func(ctx context.Context, opts md.StreamOptions, symbols []string, handler md.BarHandler) error {
		handler(bars[0])
		<-ctx.Done()
		return ctx.Err()
	}
	s, err := New(liveConfig(t),
		WithBroker(paper.New(10000, 0)),
		WithSource(memSource{}),
		WithStream(stream),
		WithStrategy(panicStrategy{}),
	)
	require.NoError(t, err)

	done := make(chan Result, 1)
	go func() { done <- s.Run(context.Background()) }()

	select {
	case res := <-done:
		assert.Equal(t, StatusFailed, res.Status)
		require.Error(t, res.Err)
		assert.Contains(t, res.Err.Error(), "decide exploded")
	case <-time.After(5 * time.Second):
		t.Fatal("live session did not end after a handler panic")
	}
}
