package session

import "realtime-dashboard/internal/telemetry"

// State is the connect state of the controller.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
)

// StatusType classifies the user-facing status line.
type StatusType string

const (
	StatusIdle       StatusType = "idle"
	StatusConnecting StatusType = "connecting"
	StatusSuccess    StatusType = "success"
	StatusError      StatusType = "error"
)

// Status is the user-facing status line.
type Status struct {
	Type    StatusType `json:"type"`
	Message string     `json:"message,omitempty"`
}

// View is everything the dashboard renders for the current session.
type View struct {
	State   State                   `json:"state"`
	Status  Status                  `json:"status"`
	Model   string                  `json:"model,omitempty"`
	Voice   string                  `json:"voice,omitempty"`
	Prompt  string                  `json:"prompt,omitempty"`
	Pricing telemetry.PricingConfig `json:"pricingConfig"`
	telemetry.View
}

// Update is one published view, numbered in publish order.
type Update struct {
	Seq  uint64 `json:"seq"`
	View View   `json:"view"`
}

const subscriberBuffer = 8

// Subscribe returns a channel receiving a view after every change, starting
// with the current one. Slow subscribers skip intermediate views. The
// returned func unsubscribes and closes the channel.
func (c *Controller) Subscribe() (<-chan Update, func()) {
	ch := make(chan Update, subscriberBuffer)

	c.subMu.Lock()
	if c.closed {
		c.subMu.Unlock()
		close(ch)
		return ch, func() {}
	}
	c.mu.Lock()
	initial := c.viewLocked()
	c.mu.Unlock()
	id := c.nextID
	c.nextID++
	c.subs[id] = ch
	ch <- Update{Seq: c.seq, View: initial}
	c.subMu.Unlock()

	return ch, func() {
		c.subMu.Lock()
		defer c.subMu.Unlock()
		if sub, ok := c.subs[id]; ok {
			delete(c.subs, id)
			close(sub)
		}
	}
}

// Close stops any session and ends every subscription. Subscribe afterwards
// returns a closed channel.
func (c *Controller) Close() {
	c.Stop()

	c.subMu.Lock()
	defer c.subMu.Unlock()
	c.closed = true
	for id, ch := range c.subs {
		delete(c.subs, id)
		close(ch)
	}
}

// publish must not be called with c.mu held; subMu is always taken first.
func (c *Controller) publish() {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	c.mu.Lock()
	view := c.viewLocked()
	c.mu.Unlock()
	c.seq++
	update := Update{Seq: c.seq, View: view}
	for _, ch := range c.subs {
		select {
		case ch <- update:
		default:
			// Drop the oldest pending view so the newest always lands.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- update:
			default:
			}
		}
	}
}
