package md

import (
	"context"
	"errors"
	"time"
)

var ErrNoBars = errors.New("no bars")

// Bar is one OHLCV period of a single symbol.
type Bar struct {
	Symbol    string
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

type BarHandler func(Bar)

// Source loads historical bars for a set of symbols over [start, end], with
// end treated as a whole day.
type Source interface {
	Bars(ctx context.Context, symbols []string, start, end time.Time) (map[string][]Bar, error)
}

func endOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location()).AddDate(0, 0, 1).Add(-time.Nanosecond)
}
