package engine

import (
	"bufio"
	"encoding/json"
	"log/slog"
	"os"
	"sync"
	"time"

	"trendbot/internal/strategy"
)

// Decision is one NDJSON line of the decision log.
type Decision struct {
	RunID          string          `json:"run_id"`
	Timestamp      time.Time       `json:"timestamp"`
	BarTime        time.Time       `json:"bar_time"`
	Symbol         string          `json:"symbol"`
	Close          float64         `json:"close"`
	Fast           float64         `json:"fast_sma"`
	Slow           float64         `json:"slow_sma"`
	ATR            float64         `json:"atr"`
	Cross          float64         `json:"crossover"`
	Ready          bool            `json:"ready"`
	Stopping       bool            `json:"stopping,omitempty"`
	Intent         strategy.Action `json:"intent"`
	IntentQty      float64         `json:"intent_qty"`
	StopPrice      float64         `json:"stop_price,omitempty"`
	LimitPrice     float64         `json:"limit_price,omitempty"`
	Reason         string          `json:"reason"`
	Result         string          `json:"result"`
	ApprovalReason string          `json:"approval_reason,omitempty"`
	RejectReason   string          `json:"reject_reason,omitempty"`
	OrderID        string          `json:"order_id,omitempty"`
	ClientOrderID  string          `json:"client_order_id,omitempty"`
}

type DecisionLogger struct {
	runID  string
	file   *os.File
	writer *bufio.Writer
	mu     sync.Mutex
}

// NewDecisionLogger appends to path. An empty path returns a logger that
// only keeps the run ID.
func NewDecisionLogger(path string, runID string) (*DecisionLogger, error) {
	if path == "" {
		return &DecisionLogger{runID: runID}, nil
	}
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &DecisionLogger{
		runID:  runID,
		file:   file,
		writer: bufio.NewWriter(file),
	}, nil
}

func (d *DecisionLogger) RunID() string {
	return d.runID
}

func (d *DecisionLogger) Append(decision Decision) {
	if d.writer == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	decision.RunID = d.runID
	payload, err := json.Marshal(decision)
	if err != nil {
		slog.Error("failed to marshal decision", "error", err)
		return
	}
	if _, err := d.writer.Write(append(payload, '\n')); err != nil {
		slog.Error("failed to write decision", "error", err)
		return
	}
	if err := d.writer.Flush(); err != nil {
		slog.Error("failed to flush decision log", "error", err)
	}
}

func (d *DecisionLogger) Close() error {
	if d.file == nil {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.writer.Flush(); err != nil {
		_ = d.file.Close()
		return err
	}
	return d.file.Close()
}
