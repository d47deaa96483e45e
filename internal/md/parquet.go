package md

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/parquet-go/parquet-go"
)

// Record is the on-disk layout of a bar. The column names follow the
// polygon/massive aggregate format (t in unix milliseconds).
type Record struct {
	Timestamp int64   `parquet:"t"`
	Open      float64 `parquet:"o"`
	High      float64 `parquet:"h"`
	Low       float64 `parquet:"l"`
	Close     float64 `parquet:"c"`
	Volume    float64 `parquet:"v"`
}

func ReadParquet(path, symbol string) ([]Bar, error) {
	records, err := parquet.ReadFile[Record](path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	bars := make([]Bar, 0, len(records))
	for _, r := range records {
		bars = append(bars, Bar{
			Symbol:    symbol,
			Timestamp: time.UnixMilli(r.Timestamp).UTC(),
			Open:      r.Open,
			High:      r.High,
			Low:       r.Low,
			Close:     r.Close,
			Volume:    r.Volume,
		})
	}
	sort.SliceStable(bars, func(i, j int) bool {
		return bars[i].Timestamp.Before(bars[j].Timestamp)
	})
	return bars, nil
}

func WriteParquet(path string, bars []Bar) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	records := make([]Record, 0, len(bars))
	for _, b := range bars {
		records = append(records, Record{
			Timestamp: b.Timestamp.UnixMilli(),
			Open:      b.Open,
			High:      b.High,
			Low:       b.Low,
			Close:     b.Close,
			Volume:    b.Volume,
		})
	}
	return parquet.WriteFile(path, records)
}

// ParquetPath is where bars for symbol live under dir.
func ParquetPath(dir, symbol string) string {
	return filepath.Join(dir, symbol+".parquet")
}

// ParquetSource reads <Dir>/<SYMBOL>.parquet files.
type ParquetSource struct {
	Dir string
}

func (p ParquetSource) Bars(ctx context.Context, symbols []string, start, end time.Time) (map[string][]Bar, error) {
	end = endOfDay(end)
	out := make(map[string][]Bar, len(symbols))
	for _, symbol := range symbols {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		all, err := ReadParquet(ParquetPath(p.Dir, symbol), symbol)
		if err != nil {
			return nil, err
		}
		series := make([]Bar, 0, len(all))
		for _, b := range all {
			if b.Timestamp.Before(start) || b.Timestamp.After(end) {
				continue
			}
			series = append(series, b)
		}
		slog.Info("historical bars loaded", "symbol", symbol, "count", len(series), "source", "parquet")
		out[symbol] = series
	}
	return out, nil
}
