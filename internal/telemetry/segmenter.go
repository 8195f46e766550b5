package telemetry

import "time"

// Speaker identifies who holds a turn.
type Speaker string

const (
	SpeakerUser      Speaker = "user"
	SpeakerAssistant Speaker = "assistant"
)

// TimelineSegment is one closed turn.
type TimelineSegment struct {
	Start    time.Time     `json:"start"`
	End      time.Time     `json:"end"`
	Speaker  Speaker       `json:"speaker"`
	Duration time.Duration `json:"duration"`
}

// PendingTurn is a turn that has started and not yet closed.
type PendingTurn struct {
	Start   time.Time `json:"start"`
	Speaker Speaker   `json:"speaker"`
}

// SegmenterState is the segmenter's position in the turn state machine.
type SegmenterState string

const (
	StateIdle              SegmenterState = "idle"
	StateUserSpeaking      SegmenterState = "user_speaking"
	StateAssistantSpeaking SegmenterState = "assistant_speaking"
)

// Segmenter turns speech-boundary events into timeline segments.
type Segmenter struct {
	pending *PendingTurn

	unmatchedStops int
	unmatchedDones int
}

// State derives the machine state from the pending turn.
func (s *Segmenter) State() SegmenterState {
	if s.pending == nil {
		return StateIdle
	}
	if s.pending.Speaker == SpeakerUser {
		return StateUserSpeaking
	}
	return StateAssistantSpeaking
}

// Pending returns a copy of the open turn, if any.
func (s *Segmenter) Pending() *PendingTurn {
	if s.pending == nil {
		return nil
	}
	p := *s.pending
	return &p
}

// Observe feeds one event at time now and returns the segment it closed.
//
// speech_started always opens a user turn, even over an open assistant turn
// (barge-in). Only the first audio delta of an assistant turn opens it.
// Stops and dones without a matching open turn are counted and ignored.
func (s *Segmenter) Observe(ev Event, now time.Time) (TimelineSegment, bool) {
	switch ev.(type) {
	case SpeechStarted:
		s.pending = &PendingTurn{Start: now, Speaker: SpeakerUser}
	case SpeechStopped:
		return s.close(SpeakerUser, now)
	case AudioDelta:
		if s.pending == nil || s.pending.Speaker != SpeakerAssistant {
			s.pending = &PendingTurn{Start: now, Speaker: SpeakerAssistant}
		}
	case AudioDone:
		return s.close(SpeakerAssistant, now)
	}
	return TimelineSegment{}, false
}

func (s *Segmenter) close(speaker Speaker, now time.Time) (TimelineSegment, bool) {
	if s.pending == nil || s.pending.Speaker != speaker {
		if speaker == SpeakerUser {
			s.unmatchedStops++
		} else {
			s.unmatchedDones++
		}
		return TimelineSegment{}, false
	}
	start := s.pending.Start
	s.pending = nil
	if now.Before(start) {
		now = start
	}
	return TimelineSegment{
		Start:    start,
		End:      now,
		Speaker:  speaker,
		Duration: now.Sub(start),
	}, true
}

// Clear drops any open turn.
func (s *Segmenter) Clear() { s.pending = nil }
