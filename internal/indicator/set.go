package indicator

import "trendbot/internal/md"

// Values is the indicator snapshot for one bar.
type Values struct {
	Fast  float64
	Slow  float64
	ATR   float64
	Cross float64
	Ready bool
}

// Set holds the indicators tracked for one symbol.
type Set struct {
	fast  *SMA
	slow  *SMA
	atr   *ATR
	cross CrossOver
	last  Values
}

func NewSet(fastPeriod, slowPeriod, atrPeriod int) *Set {
	return &Set{
		fast: NewSMA(fastPeriod),
		slow: NewSMA(slowPeriod),
		atr:  NewATR(atrPeriod),
	}
}

func (s *Set) Update(bar md.Bar) Values {
	fast, fastOK := s.fast.Update(bar.Close)
	slow, slowOK := s.slow.Update(bar.Close)
	atr, atrOK := s.atr.Update(bar.High, bar.Low, bar.Close)

	v := Values{Fast: fast, Slow: slow, ATR: atr}
	if fastOK && slowOK {
		v.Cross = s.cross.Update(fast, slow)
	}
	v.Ready = fastOK && slowOK && atrOK
	s.last = v
	return v
}

// Last returns the values computed for the most recent bar.
func (s *Set) Last() Values {
	return s.last
}
