package realtime

import (
	"context"
	"errors"
	"sync"

	"realtime-dashboard/internal/session"
)

const relayBuffer = 64

var (
	ErrNoAudioClient = errors.New("no microphone client attached")
	ErrCaptureBusy   = errors.New("microphone already in use")
)

// Relay forwards microphone frames pushed by browser clients to the active
// capture. It implements session.Capture.
type Relay struct {
	mu      sync.Mutex
	clients int
	active  *source
	dropped int
}

func NewRelay() *Relay {
	return &Relay{}
}

// Attach registers a browser client. The returned func detaches it.
func (r *Relay) Attach() func() {
	r.mu.Lock()
	r.clients++
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			r.clients--
			r.mu.Unlock()
		})
	}
}

// Clients returns the number of attached browser clients.
func (r *Relay) Clients() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.clients
}

// Push hands one frame to the active capture. Frames arriving with no
// active capture, or faster than the connection drains them, are dropped.
func (r *Relay) Push(frame []byte) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == nil {
		return false
	}
	select {
	case r.active.frames <- frame:
		return true
	default:
		r.dropped++
		return false
	}
}

// Dropped returns how many frames were dropped on a full buffer.
func (r *Relay) Dropped() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

// Acquire claims the microphone for one session.
func (r *Relay) Acquire(ctx context.Context) (session.AudioSource, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.clients == 0 {
		return nil, ErrNoAudioClient
	}
	if r.active != nil {
		return nil, ErrCaptureBusy
	}
	r.active = &source{relay: r, frames: make(chan []byte, relayBuffer)}
	return r.active, nil
}

type source struct {
	relay  *Relay
	frames chan []byte
	once   sync.Once
}

func (s *source) Frames() <-chan []byte { return s.frames }

// Stop releases the microphone and closes the frame channel.
func (s *source) Stop() {
	s.once.Do(func() {
		s.relay.mu.Lock()
		defer s.relay.mu.Unlock()
		if s.relay.active == s {
			s.relay.active = nil
		}
		close(s.frames)
	})
}
