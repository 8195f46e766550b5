// Package telemetry derives turn-taking, token/cost and throughput views from
// the event stream of a realtime voice session.
package telemetry

import (
	"encoding/json"
	"errors"
	"strings"
)

// Event tags as sent by the realtime endpoint.
const (
	TagSpeechStarted    = "input_audio_buffer.speech_started"
	TagSpeechStopped    = "input_audio_buffer.speech_stopped"
	TagAudioDelta       = "response.audio.delta"
	TagAudioDone        = "response.audio.done"
	TagResponseDone     = "response.done"
	tagOutputAudioDelta = "response.output_audio.delta"
	tagOutputAudioDone  = "response.output_audio.done"
)

// Event is one message received on the session event stream.
// Concrete types are SpeechStarted, SpeechStopped, AudioDelta, AudioDone,
// ResponseDone and Unknown.
type Event interface {
	Tag() string
	// Raw returns the undecoded message used for the event log.
	Raw() json.RawMessage
}

type rawEvent struct {
	tag string
	raw json.RawMessage
}

func (e rawEvent) Tag() string          { return e.tag }
func (e rawEvent) Raw() json.RawMessage { return e.raw }

// SpeechStarted marks the start of user speech.
type SpeechStarted struct{ rawEvent }

// SpeechStopped marks the end of user speech.
type SpeechStopped struct{ rawEvent }

// AudioDelta is one partial chunk of assistant audio.
type AudioDelta struct{ rawEvent }

// AudioDone ends one assistant audio turn.
type AudioDone struct{ rawEvent }

// ResponseDone completes one response. Usage is nil when the endpoint sent none.
type ResponseDone struct {
	rawEvent
	Usage *Usage
}

// Unknown is any event whose tag is not interpreted.
type Unknown struct{ rawEvent }

// Usage is the token usage reported with response.done.
type Usage struct {
	Input  InputTokenDetails  `json:"input_token_details"`
	Output OutputTokenDetails `json:"output_token_details"`
}

// InputTokenDetails breaks down input tokens by modality.
type InputTokenDetails struct {
	AudioTokens     int           `json:"audio_tokens"`
	TextTokens      int           `json:"text_tokens"`
	CachedTokens    *int          `json:"cached_tokens,omitempty"`
	CachedBreakdown *CachedTokens `json:"cached_tokens_details,omitempty"`
}

// CachedTokens breaks down cached input tokens by modality.
type CachedTokens struct {
	AudioTokens int `json:"audio_tokens"`
	TextTokens  int `json:"text_tokens"`
}

// OutputTokenDetails breaks down output tokens by modality.
type OutputTokenDetails struct {
	AudioTokens int `json:"audio_tokens"`
	TextTokens  int `json:"text_tokens"`
}

var ErrMissingType = errors.New("event has no type")

type envelope struct {
	Type     string `json:"type"`
	Response *struct {
		Usage *Usage `json:"usage"`
	} `json:"response"`
}

// DecodeEvent parses one raw message into its tagged variant.
// Unrecognized tags decode to Unknown; only malformed JSON or a missing
// type field is an error.
func DecodeEvent(data []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	tag := strings.TrimSpace(env.Type)
	if tag == "" {
		return nil, ErrMissingType
	}
	raw := make(json.RawMessage, len(data))
	copy(raw, data)
	base := rawEvent{tag: tag, raw: raw}

	switch tag {
	case TagSpeechStarted:
		return SpeechStarted{base}, nil
	case TagSpeechStopped:
		return SpeechStopped{base}, nil
	case TagAudioDelta, tagOutputAudioDelta:
		return AudioDelta{base}, nil
	case TagAudioDone, tagOutputAudioDone:
		return AudioDone{base}, nil
	case TagResponseDone:
		done := ResponseDone{rawEvent: base}
		if env.Response != nil {
			done.Usage = env.Response.Usage
		}
		return done, nil
	default:
		return Unknown{base}, nil
	}
}

// NewEvent builds an event of the given tag without a raw payload beyond
// {"type": tag}. Used by tests and replay tooling.
func NewEvent(tag string) Event {
	raw, _ := json.Marshal(map[string]string{"type": tag})
	ev, err := DecodeEvent(raw)
	if err != nil {
		return Unknown{rawEvent{tag: tag, raw: raw}}
	}
	return ev
}

// NewResponseDone builds a response.done event carrying usage.
func NewResponseDone(usage *Usage) ResponseDone {
	payload := map[string]any{"type": TagResponseDone}
	if usage != nil {
		payload["response"] = map[string]any{"usage": usage}
	} else {
		payload["response"] = map[string]any{}
	}
	raw, _ := json.Marshal(payload)
	return ResponseDone{rawEvent: rawEvent{tag: TagResponseDone, raw: raw}, Usage: usage}
}
