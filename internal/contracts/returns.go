package contracts

// ReturnSeries is an append-only ring buffer of periodic returns,
// bounded by the configured lookback. When full, appending evicts the
// oldest observation.
type ReturnSeries struct {
	lookback int
	buf      []float64
	head     int
	size     int
}

// NewReturnSeries creates a series bounded to lookback observations.
// A non-positive lookback defaults to 252 trading days.
func NewReturnSeries(lookback int) *ReturnSeries {
	if lookback <= 0 {
		lookback = 252
	}
	return &ReturnSeries{
		lookback: lookback,
		buf:      make([]float64, lookback),
	}
}

// Append adds an observation, evicting the oldest when full.
func (s *ReturnSeries) Append(r float64) {
	s.buf[(s.head+s.size)%s.lookback] = r
	if s.size < s.lookback {
		s.size++
	} else {
		s.head = (s.head + 1) % s.lookback
	}
}

// Len returns the number of stored observations.
func (s *ReturnSeries) Len() int {
	return s.size
}

// Lookback returns the configured bound.
func (s *ReturnSeries) Lookback() int {
	return s.lookback
}

// Values returns the observations oldest-first as a fresh slice.
func (s *ReturnSeries) Values() []float64 {
	out := make([]float64, s.size)
	for i := 0; i < s.size; i++ {
		out[i] = s.buf[(s.head+i)%s.lookback]
	}
	return out
}

// Last returns the most recent observation, or false when empty.
func (s *ReturnSeries) Last() (float64, bool) {
	if s.size == 0 {
		return 0, false
	}
	return s.buf[(s.head+s.size-1)%s.lookback], true
}
