package telemetry

import "time"

// Diagnostics counts events the router accepted but could not use.
type Diagnostics struct {
	UnmatchedSpeechStops  int `json:"unmatchedSpeechStops"`
	UnmatchedAudioDones   int `json:"unmatchedAudioDones"`
	UnknownEvents         int `json:"unknownEvents"`
	ResponsesWithoutUsage int `json:"responsesWithoutUsage"`
	NegativeDeltas        int `json:"negativeDeltas"`
}

// Dispatch describes what one routed event changed.
type Dispatch struct {
	Segment *TimelineSegment
	Delta   *TokenCounts
	Current TokenStats
	Session TokenStats
	Point   *TokenDataPoint
}

// View is a read-only copy of the router state.
type View struct {
	SessionStart      *time.Time        `json:"sessionStartTime"`
	Current           TokenStats        `json:"currentStats"`
	Session           TokenStats        `json:"sessionStats"`
	SegmenterState    SegmenterState    `json:"segmenterState"`
	PendingTurn       *PendingTurn      `json:"pendingTurn,omitempty"`
	TimelineSegments  []TimelineSegment `json:"timelineSegments"`
	TokenDataPoints   []TokenDataPoint  `json:"tokenDataPoints"`
	Events            []EventLogEntry   `json:"events"`
	TotalInputTokens  int               `json:"totalInputTokens"`
	TotalOutputTokens int               `json:"totalOutputTokens"`
	Diagnostics       Diagnostics       `json:"diagnostics"`
}

// Router is the single writer of session telemetry. It is not safe for
// concurrent use; callers serialize Route and the lifecycle methods.
type Router struct {
	now func() time.Time

	sessionStart time.Time
	ledger       Ledger
	segmenter    Segmenter
	series       Series
	segments     []TimelineSegment
	log          *EventLog
	diag         Diagnostics
	loaded       *loadedTiming
}

// NewRouter creates a router with the given clock and event log capacity.
// A nil clock uses time.Now.
func NewRouter(now func() time.Time, logCapacity int) *Router {
	if now == nil {
		now = time.Now
	}
	return &Router{now: now, log: NewEventLog(logCapacity)}
}

// Route processes one event: log it, feed the segmenter, and for a
// usage-bearing response.done update ledger and series, in that order.
func (r *Router) Route(ev Event, rates PricingConfig) Dispatch {
	now := r.now().UTC()
	var out Dispatch

	r.log.Append(EventLogEntry{Timestamp: now, Event: ev.Raw()})

	if seg, ok := r.segmenter.Observe(ev, now); ok {
		r.segments = append(r.segments, seg)
		out.Segment = &seg
	}
	r.diag.UnmatchedSpeechStops = r.segmenter.unmatchedStops
	r.diag.UnmatchedAudioDones = r.segmenter.unmatchedDones

	switch e := ev.(type) {
	case Unknown:
		r.diag.UnknownEvents++
	case ResponseDone:
		if e.Usage == nil {
			r.diag.ResponsesWithoutUsage++
			break
		}
		delta := ExtractDelta(*e.Usage)
		if delta.HasNegative() {
			r.diag.NegativeDeltas++
		}
		out.Delta = &delta
		r.ledger.Apply(delta, rates)
		if p, ok := r.series.Append(delta, now, r.sessionStart); ok {
			out.Point = &p
		}
	}
	out.Current, out.Session = r.ledger.Current(), r.ledger.Session()
	return out
}

// Begin marks the session start and resets the throughput series.
func (r *Router) Begin() time.Time {
	r.sessionStart = r.now().UTC()
	r.series.Reset()
	r.loaded = nil
	return r.sessionStart
}

// End freezes the session: clears the start time, any open turn and the
// current stats. Session totals, timeline and event log are kept.
func (r *Router) End() {
	r.sessionStart = time.Time{}
	r.segmenter.Clear()
	r.ledger.ClearCurrent()
}

// Active reports whether a session start time is recorded.
func (r *Router) Active() bool { return !r.sessionStart.IsZero() }

// SessionStart returns the recorded start time, zero when inactive.
func (r *Router) SessionStart() time.Time { return r.sessionStart }

// ResetTotals clears session totals, timeline and series. The event log is kept.
func (r *Router) ResetTotals() {
	r.ledger.Reset()
	r.segments = nil
	r.series.Reset()
	r.loaded = nil
}

// ClearEvents empties the raw event log.
func (r *Router) ClearEvents() { r.log.Clear() }

// View copies the current state.
func (r *Router) View() View {
	session := r.ledger.Session()
	v := View{
		Current:           r.ledger.Current(),
		Session:           session,
		SegmenterState:    r.segmenter.State(),
		PendingTurn:       r.segmenter.Pending(),
		TimelineSegments:  r.Segments(),
		TokenDataPoints:   r.series.Points(),
		Events:            r.log.Entries(),
		TotalInputTokens:  session.InputTokens(),
		TotalOutputTokens: session.OutputTokens(),
		Diagnostics:       r.diag,
	}
	if r.Active() {
		start := r.sessionStart
		v.SessionStart = &start
	} else if r.loaded != nil {
		v.SessionStart = r.loaded.start
	}
	return v
}

// Segments returns a copy of the closed timeline segments.
func (r *Router) Segments() []TimelineSegment {
	out := make([]TimelineSegment, len(r.segments))
	copy(out, r.segments)
	return out
}
