package telemetry

import "time"

// Snapshot is the persisted form of one session's telemetry and parameters.
type Snapshot struct {
	Name             string            `json:"name"`
	Model            string            `json:"model"`
	Voice            string            `json:"voice"`
	Prompt           string            `json:"prompt"`
	PricingConfig    PricingConfig     `json:"pricingConfig"`
	SessionStats     TokenStats        `json:"sessionStats"`
	TimelineSegments []TimelineSegment `json:"timelineSegments"`
	TokenDataPoints  []TokenDataPoint  `json:"tokenDataPoints"`
	Events           []EventLogEntry   `json:"events"`
	SessionStartTime *time.Time        `json:"sessionStartTime"`
	SessionEndTime   *time.Time        `json:"sessionEndTime"`
	DurationMs       *int64            `json:"durationMs"`
}

// SessionParams are the caller-owned fields of a snapshot.
type SessionParams struct {
	Name    string
	Model   string
	Voice   string
	Prompt  string
	Pricing PricingConfig
}

// Snapshot captures the router state. End time and duration are set only
// when a session start time is known.
func (r *Router) Snapshot(params SessionParams) Snapshot {
	s := Snapshot{
		Name:             params.Name,
		Model:            params.Model,
		Voice:            params.Voice,
		Prompt:           params.Prompt,
		PricingConfig:    params.Pricing,
		SessionStats:     r.ledger.Session(),
		TimelineSegments: r.Segments(),
		TokenDataPoints:  r.series.Points(),
		Events:           r.log.Entries(),
	}
	if r.Active() {
		start := r.sessionStart
		end := r.now().UTC()
		duration := end.Sub(start).Milliseconds()
		s.SessionStartTime = &start
		s.SessionEndTime = &end
		s.DurationMs = &duration
		return s
	}
	if r.loaded != nil {
		s.SessionStartTime = r.loaded.start
		s.SessionEndTime = r.loaded.end
		s.DurationMs = r.loaded.durationMs
	}
	return s
}

// Restore replaces session totals, timeline, series and event log with the
// snapshot's. The snapshot's timing is kept for display and re-saving but does
// not make the session active. Current stats, any open turn and the
// diagnostics counters are cleared.
func (r *Router) Restore(s Snapshot) {
	r.ledger.restore(s.SessionStats)
	r.segmenter = Segmenter{}
	r.segments = append([]TimelineSegment(nil), s.TimelineSegments...)
	r.series.restore(s.TokenDataPoints)
	r.log.restore(s.Events)
	r.diag = Diagnostics{}
	r.sessionStart = time.Time{}
	r.loaded = &loadedTiming{
		start:      s.SessionStartTime,
		end:        s.SessionEndTime,
		durationMs: s.DurationMs,
	}
}

type loadedTiming struct {
	start      *time.Time
	end        *time.Time
	durationMs *int64
}

// Params returns the caller-owned fields of the snapshot.
func (s Snapshot) Params() SessionParams {
	return SessionParams{
		Name:    s.Name,
		Model:   s.Model,
		Voice:   s.Voice,
		Prompt:  s.Prompt,
		Pricing: s.PricingConfig,
	}
}
