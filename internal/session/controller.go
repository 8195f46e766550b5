// Package session owns the lifecycle of one realtime voice session and the
// single consumer loop that feeds its events into the telemetry router.
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"realtime-dashboard/internal/telemetry"
)

const (
	defaultQueueSize = 256

	statusCapture    = "Requesting microphone access..."
	statusConnecting = "Establishing connection..."
	statusConnected  = "Session established successfully!"
)

var (
	ErrAlreadyConnected = errors.New("session already connected")
	ErrConnected        = errors.New("not allowed while connected")
	ErrStartAborted     = errors.New("session start aborted by stop")
)

// AudioSource is an acquired local audio capture.
type AudioSource interface {
	// Frames yields PCM16 mono chunks until the source is stopped.
	Frames() <-chan []byte
	Stop()
}

// Capture acquires local audio.
type Capture interface {
	Acquire(ctx context.Context) (AudioSource, error)
}

// ConnectParams carries everything the connection needs to open a session.
type ConnectParams struct {
	Credential string
	Voice      string
	Model      string
	Prompt     string
}

// Connection is a live bidirectional connection to the model.
type Connection interface {
	// Done is closed once the connection stops delivering events, whether it
	// was closed locally or dropped by the remote end. Every onEvent call has
	// returned by then.
	Done() <-chan struct{}
	// Err reports why the connection ended when it was not closed locally.
	Err() error
	Close() error
}

// Connector opens connections. ctx bounds establishment only, not the life of
// the connection. onEvent is invoked for every session event in arrival order
// and may be called until Close returns.
type Connector interface {
	Connect(ctx context.Context, audio AudioSource, params ConnectParams, onEvent func(telemetry.Event)) (Connection, error)
}

// RateSource resolves the rate table for a model at the moment of use.
type RateSource interface {
	Rates(model string) telemetry.PricingConfig
}

// Options configures a Controller.
type Options struct {
	QueueSize   int
	LogCapacity int
	// Now overrides the clock; nil uses time.Now.
	Now func() time.Time
}

// Controller starts and stops sessions and serializes all telemetry writes.
type Controller struct {
	capture   Capture
	connector Connector
	rates     RateSource
	queueSize int

	mu      sync.Mutex
	router  *telemetry.Router
	gen     uint64
	attempt *attempt
	state   State
	status  Status
	params  ConnectParams
	pricing telemetry.PricingConfig
	unknown map[string]bool

	subMu  sync.Mutex
	subs   map[int]chan Update
	nextID int
	seq    uint64
	closed bool
}

type attempt struct {
	gen    uint64
	ctx    context.Context
	cancel context.CancelFunc
	events chan telemetry.Event
	audio  AudioSource
	conn   Connection
}

// NewController wires a controller to its collaborators.
func NewController(capture Capture, connector Connector, rates RateSource, opts Options) *Controller {
	queueSize := opts.QueueSize
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	c := &Controller{
		capture:   capture,
		connector: connector,
		rates:     rates,
		queueSize: queueSize,
		router:    telemetry.NewRouter(opts.Now, opts.LogCapacity),
		state:     StateDisconnected,
		status:    Status{Type: StatusIdle},
		subs:      make(map[int]chan Update),
	}
	if rates != nil {
		c.pricing = rates.Rates("")
	} else {
		c.pricing = telemetry.DefaultPricing
	}
	return c
}

// Start acquires audio, opens the connection and begins routing its events.
// Any failure tears down whatever was opened and leaves the controller
// disconnected. A Stop issued while Start is pending wins: Start then returns
// ErrStartAborted and releases what it acquired.
func (c *Controller) Start(ctx context.Context, params ConnectParams) error {
	params = normalizeParams(params)

	c.mu.Lock()
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.gen++
	a := &attempt{
		gen:    c.gen,
		events: make(chan telemetry.Event, c.queueSize),
	}
	a.ctx, a.cancel = context.WithCancel(context.Background())
	c.attempt = a
	c.state = StateConnecting
	c.status = Status{Type: StatusConnecting, Message: statusCapture}
	c.mu.Unlock()
	c.publish()

	// Establishment ends early when Stop cancels the attempt.
	ctx, cancelEstablish := context.WithCancel(ctx)
	defer cancelEstablish()
	stopAfter := context.AfterFunc(a.ctx, cancelEstablish)
	defer stopAfter()

	audio, err := c.capture.Acquire(ctx)
	if err != nil {
		return c.failStart(a, fmt.Errorf("acquire capture: %w", err))
	}
	if !c.setAudio(a, audio) {
		audio.Stop()
		return ErrStartAborted
	}

	c.setStatus(a, Status{Type: StatusConnecting, Message: statusConnecting})

	conn, err := c.connector.Connect(ctx, audio, params, func(ev telemetry.Event) {
		c.enqueue(a, ev)
	})
	if err != nil {
		return c.failStart(a, fmt.Errorf("connect: %w", err))
	}

	c.mu.Lock()
	if c.gen != a.gen {
		c.mu.Unlock()
		// Stop already released the audio.
		_ = conn.Close()
		return ErrStartAborted
	}
	a.conn = conn
	c.params = params
	c.params.Credential = ""
	if c.rates != nil {
		c.pricing = c.rates.Rates(params.Model)
	}
	c.router.Begin()
	c.unknown = make(map[string]bool)
	c.state = StateConnected
	c.status = Status{Type: StatusSuccess, Message: statusConnected}
	c.mu.Unlock()

	go c.consume(a, conn.Done())
	log.Printf("session: connected model=%s voice=%s", params.Model, params.Voice)
	c.publish()
	return nil
}

func (c *Controller) setAudio(a *attempt, audio AudioSource) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != a.gen {
		return false
	}
	a.audio = audio
	return true
}

func (c *Controller) setStatus(a *attempt, status Status) {
	c.mu.Lock()
	if c.gen != a.gen {
		c.mu.Unlock()
		return
	}
	c.status = status
	c.mu.Unlock()
	c.publish()
}

func (c *Controller) failStart(a *attempt, err error) error {
	c.mu.Lock()
	if c.gen != a.gen {
		c.mu.Unlock()
		return ErrStartAborted
	}
	stale := c.teardownLocked()
	c.status = Status{Type: StatusError, Message: "Error: " + err.Error()}
	c.mu.Unlock()
	release(stale)

	log.Printf("session: start failed: %v", err)
	c.publish()
	return err
}

// Stop closes the connection and local capture and freezes the telemetry.
// It is safe to call in any state, including while Start is pending.
func (c *Controller) Stop() {
	c.mu.Lock()
	wasActive := c.state != StateDisconnected
	stale := c.teardownLocked()
	c.status = Status{Type: StatusIdle}
	c.mu.Unlock()
	release(stale)

	if wasActive {
		log.Printf("session: stopped")
	}
	c.publish()
}

// teardownLocked invalidates the current attempt and freezes the telemetry.
// Events still queued for the attempt are discarded. The returned attempt
// must be released after the lock is dropped.
func (c *Controller) teardownLocked() *attempt {
	c.gen++
	a := c.attempt
	c.attempt = nil
	if a != nil {
		a.cancel()
	}
	c.router.End()
	c.state = StateDisconnected
	return a
}

func release(a *attempt) {
	if a == nil {
		return
	}
	if a.conn != nil {
		if err := a.conn.Close(); err != nil {
			log.Printf("session: close connection: %v", err)
		}
	}
	if a.audio != nil {
		a.audio.Stop()
	}
}

// enqueue hands an event from the connection to the consumer loop. It blocks
// when the queue is full and gives up once the attempt is torn down.
func (c *Controller) enqueue(a *attempt, ev telemetry.Event) {
	select {
	case a.events <- ev:
	case <-a.ctx.Done():
	}
}

// consume dispatches queued events until the attempt is torn down or the
// connection ends on its own. Events already queued when the connection
// drops are still routed before the teardown.
func (c *Controller) consume(a *attempt, done <-chan struct{}) {
	for {
		select {
		case ev := <-a.events:
			c.dispatch(a, ev)
		case <-a.ctx.Done():
			return
		case <-done:
			for {
				select {
				case ev := <-a.events:
					c.dispatch(a, ev)
				default:
					c.connectionLost(a)
					return
				}
			}
		}
	}
}

// connectionLost tears the session down after the remote end went away.
func (c *Controller) connectionLost(a *attempt) {
	c.mu.Lock()
	if c.gen != a.gen {
		c.mu.Unlock()
		return
	}
	cause := a.conn.Err()
	stale := c.teardownLocked()
	message := "Error: connection lost"
	if cause != nil {
		message += ": " + cause.Error()
	}
	c.status = Status{Type: StatusError, Message: message}
	c.mu.Unlock()
	release(stale)

	log.Printf("session: connection lost: %v", cause)
	c.publish()
}

func (c *Controller) dispatch(a *attempt, ev telemetry.Event) {
	c.mu.Lock()
	if c.gen != a.gen {
		c.mu.Unlock()
		return
	}
	d := c.router.Route(ev, c.pricing)
	firstUnknown := false
	if _, ok := ev.(telemetry.Unknown); ok && !c.unknown[ev.Tag()] {
		c.unknown[ev.Tag()] = true
		firstUnknown = true
	}
	c.mu.Unlock()

	if firstUnknown {
		log.Printf("session: ignoring event type %q", ev.Tag())
	}

	if d.Delta != nil && d.Delta.HasNegative() {
		log.Printf("session: negative derived token counts %+v", *d.Delta)
	}
	if d.Segment != nil {
		log.Printf("session: %s turn closed after %v", d.Segment.Speaker, d.Segment.Duration)
	}
	c.publish()
}

// ResetTotals clears session totals, timeline and throughput series.
// It is refused while a session is connected or connecting.
func (c *Controller) ResetTotals() error {
	c.mu.Lock()
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return ErrConnected
	}
	c.router.ResetTotals()
	c.mu.Unlock()
	c.publish()
	return nil
}

// ClearEvents empties the raw event log.
func (c *Controller) ClearEvents() {
	c.mu.Lock()
	c.router.ClearEvents()
	c.mu.Unlock()
	c.publish()
}

// Snapshot captures the telemetry with the last session parameters.
// It is refused while connected.
func (c *Controller) Snapshot(name string) (telemetry.Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateDisconnected {
		return telemetry.Snapshot{}, ErrConnected
	}
	return c.router.Snapshot(telemetry.SessionParams{
		Name:    name,
		Model:   c.params.Model,
		Voice:   c.params.Voice,
		Prompt:  c.params.Prompt,
		Pricing: c.pricing,
	}), nil
}

// Load restores a saved snapshot. It is refused while connected.
func (c *Controller) Load(s telemetry.Snapshot) error {
	c.mu.Lock()
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return ErrConnected
	}
	c.router.Restore(s)
	c.params = ConnectParams{
		Voice:  s.Voice,
		Model:  s.Model,
		Prompt: s.Prompt,
	}
	c.pricing = s.PricingConfig
	c.mu.Unlock()
	c.publish()
	return nil
}

// Pricing returns the rate table applied to new usage.
func (c *Controller) Pricing() telemetry.PricingConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pricing
}

// RefreshPricing re-resolves the rate table for the current model. Usage
// already in the ledger keeps the cost it was applied with.
func (c *Controller) RefreshPricing() {
	if c.rates == nil {
		return
	}
	c.mu.Lock()
	c.pricing = c.rates.Rates(c.params.Model)
	c.mu.Unlock()
	c.publish()
}

// State returns the connect state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// View returns a consistent copy of everything the dashboard displays.
func (c *Controller) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewLocked()
}

func (c *Controller) viewLocked() View {
	return View{
		State:   c.state,
		Status:  c.status,
		Model:   c.params.Model,
		Voice:   c.params.Voice,
		Prompt:  c.params.Prompt,
		Pricing: c.pricing,
		View:    c.router.View(),
	}
}

// Params returns the parameters of the last started or loaded session.
// The credential is never retained.
func (c *Controller) Params() ConnectParams {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.params
}

func normalizeParams(p ConnectParams) ConnectParams {
	return ConnectParams{
		Credential: strings.TrimSpace(p.Credential),
		Voice:      strings.TrimSpace(p.Voice),
		Model:      strings.TrimSpace(p.Model),
		Prompt:     strings.TrimSpace(p.Prompt),
	}
}
