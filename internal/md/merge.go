package md

import (
	"sort"
	"time"
)

// Step groups the bars of all symbols that share a timestamp.
type Step struct {
	Time time.Time
	Bars []Bar
}

// Merge orders per-symbol series into time steps. Symbols missing a bar at a
// given time are simply absent from that step.
func Merge(series map[string][]Bar) ([]Step, error) {
	byTime := map[int64]*Step{}
	for _, bars := range series {
		for _, b := range bars {
			key := b.Timestamp.UnixNano()
			step, ok := byTime[key]
			if !ok {
				step = &Step{Time: b.Timestamp}
				byTime[key] = step
			}
			step.Bars = append(step.Bars, b)
		}
	}
	if len(byTime) == 0 {
		return nil, ErrNoBars
	}

	steps := make([]Step, 0, len(byTime))
	for _, step := range byTime {
		sort.Slice(step.Bars, func(i, j int) bool {
			return step.Bars[i].Symbol < step.Bars[j].Symbol
		})
		steps = append(steps, *step)
	}
	sort.Slice(steps, func(i, j int) bool {
		return steps[i].Time.Before(steps[j].Time)
	})
	return steps, nil
}
