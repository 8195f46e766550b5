package telemetry

import "time"

// TokenDataPoint is one sample of the throughput series.
type TokenDataPoint struct {
	Timestamp        time.Time `json:"timestamp"`
	ElapsedSeconds   float64   `json:"elapsedSeconds"`
	InputTokens      int       `json:"inputTokens"`
	OutputTokens     int       `json:"outputTokens"`
	CumulativeInput  int       `json:"cumulativeInput"`
	CumulativeOutput int       `json:"cumulativeOutput"`
}

// Series accumulates one data point per usage-bearing response while a
// session is active.
type Series struct {
	points           []TokenDataPoint
	cumulativeInput  int
	cumulativeOutput int
}

// Append records delta at now. It is a no-op when sessionStart is zero.
func (s *Series) Append(delta TokenCounts, now, sessionStart time.Time) (TokenDataPoint, bool) {
	if sessionStart.IsZero() {
		return TokenDataPoint{}, false
	}
	in := delta.InputTokens()
	out := delta.OutputTokens()
	s.cumulativeInput += in
	s.cumulativeOutput += out
	p := TokenDataPoint{
		Timestamp:        now,
		ElapsedSeconds:   now.Sub(sessionStart).Seconds(),
		InputTokens:      in,
		OutputTokens:     out,
		CumulativeInput:  s.cumulativeInput,
		CumulativeOutput: s.cumulativeOutput,
	}
	s.points = append(s.points, p)
	return p, true
}

// Points returns a copy of the series in append order.
func (s *Series) Points() []TokenDataPoint {
	out := make([]TokenDataPoint, len(s.points))
	copy(out, s.points)
	return out
}

// Reset empties the series and zeroes the cumulative counters.
func (s *Series) Reset() {
	s.points = nil
	s.cumulativeInput = 0
	s.cumulativeOutput = 0
}

func (s *Series) restore(points []TokenDataPoint) {
	s.Reset()
	s.points = append(s.points, points...)
	if n := len(points); n > 0 {
		s.cumulativeInput = points[n-1].CumulativeInput
		s.cumulativeOutput = points[n-1].CumulativeOutput
	}
}
