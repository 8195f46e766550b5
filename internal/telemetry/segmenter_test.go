package telemetry

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSegmenterWellFormedUnderRandomStreams(t *testing.T) {
	tags := []string{
		TagSpeechStarted,
		TagSpeechStopped,
		TagAudioDelta,
		TagAudioDone,
		TagResponseDone,
		"conversation.item.created",
	}
	rng := rand.New(rand.NewSource(42))
	base := time.UnixMilli(0).UTC()

	for run := 0; run < 100; run++ {
		var s Segmenter
		now := base
		userSegments := 0
		matchedStops := 0

		for i := 0; i < 200; i++ {
			now = now.Add(time.Duration(rng.Intn(500)) * time.Millisecond)
			ev := NewEvent(tags[rng.Intn(len(tags))])
			if _, ok := ev.(SpeechStopped); ok && s.State() == StateUserSpeaking {
				matchedStops++
			}

			seg, ok := s.Observe(ev, now)
			if !ok {
				continue
			}
			assert.False(t, seg.End.Before(seg.Start))
			assert.Equal(t, seg.End.Sub(seg.Start), seg.Duration)
			if seg.Speaker == SpeakerUser {
				userSegments++
			}
		}

		assert.Equal(t, matchedStops, userSegments)
	}
}

func TestSegmenterIgnoresUnrelatedEvents(t *testing.T) {
	var s Segmenter
	now := time.UnixMilli(0).UTC()
	s.Observe(NewEvent(TagSpeechStarted), now)

	_, ok := s.Observe(NewEvent("session.updated"), now.Add(time.Second))

	assert.False(t, ok)
	assert.Equal(t, StateUserSpeaking, s.State())
	assert.Equal(t, now, s.Pending().Start)
}

func TestSegmenterClampsBackwardClock(t *testing.T) {
	var s Segmenter
	now := time.UnixMilli(5000).UTC()
	s.Observe(NewEvent(TagAudioDelta), now)

	seg, ok := s.Observe(NewEvent(TagAudioDone), now.Add(-time.Second))

	assert.True(t, ok)
	assert.Equal(t, seg.Start, seg.End)
	assert.Zero(t, seg.Duration)
}
