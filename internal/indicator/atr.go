package indicator

import "math"

// ATR is the Average True Range smoothed with Wilder's moving average. The
// first value is the plain average of the first period true ranges, so it is
// available on bar period+1.
type ATR struct {
	period    int
	prevClose float64
	hasPrev   bool
	seedSum   float64
	seen      int
	value     float64
}

func NewATR(period int) *ATR {
	return &ATR{period: period}
}

// TrueRange is the range of a bar extended to the previous close.
func TrueRange(high, low, prevClose float64) float64 {
	return math.Max(high, prevClose) - math.Min(low, prevClose)
}

func (a *ATR) Update(high, low, close float64) (float64, bool) {
	if !a.hasPrev {
		a.prevClose = close
		a.hasPrev = true
		return 0, false
	}
	tr := TrueRange(high, low, a.prevClose)
	a.prevClose = close

	if a.seen < a.period {
		a.seedSum += tr
		a.seen++
		if a.seen < a.period {
			return 0, false
		}
		a.value = a.seedSum / float64(a.period)
		return a.value, true
	}

	n := float64(a.period)
	a.value = (a.value*(n-1) + tr) / n
	return a.value, true
}
