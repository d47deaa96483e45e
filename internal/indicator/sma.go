// Package indicator computes the per-symbol values the crossover strategy
// reads on every bar. Each indicator consumes bars in order and never looks
// ahead.
package indicator

import "trendbot/internal/md"

// SMA is a simple moving average of the last Period inputs.
type SMA struct {
	period int
	buf    *md.RingBuffer
}

func NewSMA(period int) *SMA {
	return &SMA{period: period, buf: md.NewRingBuffer(period)}
}

// Update adds v and returns the average once period values have been seen.
func (s *SMA) Update(v float64) (float64, bool) {
	s.buf.Add(v)
	avg, err := s.buf.SMA(s.period)
	if err != nil {
		return 0, false
	}
	return avg, true
}
