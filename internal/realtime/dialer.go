// Package realtime speaks the realtime voice protocol over WebSocket and
// relays browser microphone audio into it.
package realtime

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"realtime-dashboard/internal/session"
	"realtime-dashboard/internal/telemetry"
)

const (
	defaultConnectTimeout = 15 * time.Second
	closeGrace            = time.Second

	betaHeader = "realtime=v1"
)

var ErrMissingCredential = errors.New("realtime credential is required")

// Dialer opens realtime connections. It implements session.Connector.
type Dialer struct {
	URL     string
	Timeout time.Duration

	ws *websocket.Dialer
}

// NewDialer returns a dialer for the given endpoint. A non-positive timeout
// falls back to 15s.
func NewDialer(endpoint string, timeout time.Duration) *Dialer {
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}
	return &Dialer{
		URL:     endpoint,
		Timeout: timeout,
		ws:      &websocket.Dialer{HandshakeTimeout: timeout},
	}
}

type sessionUpdate struct {
	Type    string        `json:"type"`
	Session sessionConfig `json:"session"`
}

type sessionConfig struct {
	Modalities        []string      `json:"modalities"`
	Voice             string        `json:"voice,omitempty"`
	Instructions      string        `json:"instructions,omitempty"`
	InputAudioFormat  string        `json:"input_audio_format"`
	OutputAudioFormat string        `json:"output_audio_format"`
	TurnDetection     turnDetection `json:"turn_detection"`
}

type turnDetection struct {
	Type string `json:"type"`
}

type audioAppend struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}

// Connect dials the endpoint, configures the session and starts pumping
// audio out and events in. ctx bounds the handshake only.
func (d *Dialer) Connect(ctx context.Context, audio session.AudioSource, params session.ConnectParams, onEvent func(telemetry.Event)) (session.Connection, error) {
	credential := strings.TrimSpace(params.Credential)
	if credential == "" {
		return nil, ErrMissingCredential
	}
	target, err := d.endpoint(params.Model)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+credential)
	header.Set("OpenAI-Beta", betaHeader)

	dialCtx, cancel := context.WithTimeout(ctx, d.Timeout)
	defer cancel()

	ws, resp, err := d.ws.DialContext(dialCtx, target, header)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			if detail := strings.TrimSpace(string(body)); detail != "" {
				return nil, fmt.Errorf("websocket connect (status %d): %s", resp.StatusCode, detail)
			}
			return nil, fmt.Errorf("websocket connect: status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket connect: %w", err)
	}

	c := &conn{
		id:   uuid.NewString(),
		ws:   ws,
		done: make(chan struct{}),
		lost: make(chan struct{}),
	}
	update := sessionUpdate{
		Type: "session.update",
		Session: sessionConfig{
			Modalities:        []string{"audio", "text"},
			Voice:             params.Voice,
			Instructions:      params.Prompt,
			InputAudioFormat:  "pcm16",
			OutputAudioFormat: "pcm16",
			TurnDetection:     turnDetection{Type: "server_vad"},
		},
	}
	if err := c.writeJSON(update); err != nil {
		_ = ws.Close()
		return nil, fmt.Errorf("send session.update: %w", err)
	}

	c.wg.Add(2)
	go c.readLoop(onEvent)
	go c.writeLoop(audio)
	log.Printf("realtime: connection %s opened model=%s", c.id, params.Model)
	return c, nil
}

func (d *Dialer) endpoint(model string) (string, error) {
	u, err := url.Parse(d.URL)
	if err != nil {
		return "", fmt.Errorf("parse realtime url: %w", err)
	}
	if model = strings.TrimSpace(model); model != "" {
		q := u.Query()
		q.Set("model", model)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

type conn struct {
	id string
	ws *websocket.Conn

	writeMu   sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	// lost is closed when the read loop exits.
	lost  chan struct{}
	errMu sync.Mutex
	err   error
}

func (c *conn) Done() <-chan struct{} { return c.lost }

func (c *conn) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

func (c *conn) writeJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteJSON(v)
}

func (c *conn) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *conn) readLoop(onEvent func(telemetry.Event)) {
	defer c.wg.Done()
	defer close(c.lost)
	for {
		kind, data, err := c.ws.ReadMessage()
		if err != nil {
			if c.closed() {
				return
			}
			c.errMu.Lock()
			c.err = err
			c.errMu.Unlock()
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("realtime: connection %s read: %v", c.id, err)
			}
			return
		}
		if kind != websocket.TextMessage {
			continue
		}
		ev, err := telemetry.DecodeEvent(data)
		if err != nil {
			log.Printf("realtime: connection %s: skipping frame: %v", c.id, err)
			continue
		}
		if c.closed() {
			return
		}
		onEvent(ev)
	}
}

func (c *conn) writeLoop(audio session.AudioSource) {
	defer c.wg.Done()
	if audio == nil {
		return
	}
	frames := audio.Frames()
	for {
		select {
		case <-c.done:
			return
		case frame, ok := <-frames:
			if !ok {
				return
			}
			msg := audioAppend{
				Type:  "input_audio_buffer.append",
				Audio: base64.StdEncoding.EncodeToString(frame),
			}
			if err := c.writeJSON(msg); err != nil {
				if !c.closed() {
					log.Printf("realtime: connection %s write: %v", c.id, err)
				}
				return
			}
		}
	}
}

// Close sends a close frame, drops the socket and waits for both loops.
// After Close returns no further events are delivered.
func (c *conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(closeGrace))
		err = c.ws.Close()
		c.wg.Wait()
		log.Printf("realtime: connection %s closed", c.id)
	})
	return err
}
