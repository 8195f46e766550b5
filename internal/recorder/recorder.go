// Package recorder tees realtime session events into NDJSON capture files
// that cmd/replay can read back.
package recorder

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"realtime-dashboard/internal/session"
	"realtime-dashboard/internal/telemetry"
)

// Connector records every event of a connection before passing it on.
// It implements session.Connector.
type Connector struct {
	next session.Connector
	dir  string
	now  func() time.Time
}

// New wraps next so each connection writes a capture file under dir.
// An empty dir returns next unchanged.
func New(next session.Connector, dir string) session.Connector {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return next
	}
	return &Connector{next: next, dir: dir, now: time.Now}
}

func (c *Connector) Connect(ctx context.Context, audio session.AudioSource, params session.ConnectParams, onEvent func(telemetry.Event)) (session.Connection, error) {
	if err := os.MkdirAll(c.dir, 0755); err != nil {
		return nil, fmt.Errorf("create capture dir: %w", err)
	}
	name := c.now().UTC().Format("20060102T150405Z")
	if model := sanitize(params.Model); model != "" {
		name += "-" + model
	}
	path := filepath.Join(c.dir, name+".ndjson")

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open capture file: %w", err)
	}
	w := &captureWriter{f: f, buf: bufio.NewWriter(f), now: c.now}

	conn, err := c.next.Connect(ctx, audio, params, func(ev telemetry.Event) {
		w.write(ev)
		onEvent(ev)
	})
	if err != nil {
		w.close()
		if w.lines == 0 {
			_ = os.Remove(path)
		}
		return nil, err
	}
	log.Printf("recorder: capturing events to %s", path)
	return &recordedConn{Connection: conn, w: w}, nil
}

type recordedConn struct {
	session.Connection
	w *captureWriter
}

// Close closes the connection first so no event can arrive after the
// capture file is flushed.
func (c *recordedConn) Close() error {
	err := c.Connection.Close()
	c.w.close()
	return err
}

type captureLine struct {
	TS    int64           `json:"ts"`
	Event json.RawMessage `json:"event"`
}

type captureWriter struct {
	mu     sync.Mutex
	f      *os.File
	buf    *bufio.Writer
	now    func() time.Time
	lines  int
	closed bool
}

func (w *captureWriter) write(ev telemetry.Event) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	data, err := json.Marshal(captureLine{TS: w.now().UnixMilli(), Event: compactJSON(ev.Raw())})
	if err != nil {
		log.Printf("recorder: encode %s: %v", ev.Tag(), err)
		return
	}
	w.buf.Write(data)
	w.buf.WriteByte('\n')
	w.lines++
}

func (w *captureWriter) close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.closed = true
	if err := w.buf.Flush(); err != nil {
		log.Printf("recorder: flush %s: %v", w.f.Name(), err)
	}
	if err := w.f.Close(); err != nil {
		log.Printf("recorder: close %s: %v", w.f.Name(), err)
	}
}

// compactJSON strips insignificant whitespace; invalid input is returned as is.
func compactJSON(raw json.RawMessage) json.RawMessage {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return raw
	}
	return buf.Bytes()
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			return r
		default:
			return '-'
		}
	}, strings.TrimSpace(s))
}
