package indicator

// CrossOver reports +1 on the bar a fast line moves above a slow line, -1 on
// the bar it moves below, and 0 otherwise. Touching without crossing does not
// count; the last non-zero difference is remembered across equal bars.
type CrossOver struct {
	lastDiff float64
}

func (c *CrossOver) Update(fast, slow float64) float64 {
	diff := fast - slow
	prev := c.lastDiff
	if diff != 0 {
		c.lastDiff = diff
	}
	switch {
	case prev < 0 && diff > 0:
		return 1
	case prev > 0 && diff < 0:
		return -1
	default:
		return 0
	}
}
