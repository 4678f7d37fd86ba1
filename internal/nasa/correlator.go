package nasa

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultRequestTimeout bounds a single read or write round trip.
const DefaultRequestTimeout = 3 * time.Second

// Sender writes a message to the bus.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Request is a single attribute read or write.
type Request struct {
	Device    Address
	Attribute AttributeID

	// Class is ClassReadRequest or ClassWriteRequest.
	Class MessageClass

	// Raw is the encoded value for writes. Reads send a zeroed payload.
	Raw []byte

	// Timeout overrides the correlator default.
	Timeout time.Duration

	// Attempt is written into the frame's retry counter (0-3).
	Attempt uint8
}

// Result is the reply that resolved a Request.
type Result struct {
	Device    Address
	Attribute AttributeID
	Class     MessageClass

	// Raw holds the replied value. Empty when Echo is set.
	Raw []byte

	// Echo is true when a write was acknowledged without a payload.
	Echo bool

	// Latency is the time from send to reply.
	Latency time.Duration
}

// CorrelatorConfig holds request correlation settings.
type CorrelatorConfig struct {
	// Source is the address requests are sent from.
	Source Address

	// Timeout is the default request deadline. Default: 3s.
	Timeout time.Duration
}

// CorrelatorStats holds request counters.
type CorrelatorStats struct {
	Issued    uint64
	Succeeded uint64
	TimedOut  uint64
	Rejected  uint64
	Cancelled uint64
	Unmatched uint64 // Replies with no pending request (late or foreign)
	Pending   int
}

// pendingKey identifies an outstanding request.
// At most one request per key is in flight.
type pendingKey struct {
	device Address
	attr   AttributeID
	reply  MessageClass
}

type outcome struct {
	result Result
	err    error
}

type pendingRequest struct {
	key          pendingKey
	packetNumber uint8
	issued       time.Time
	ch           chan outcome
}

// Correlator matches replies from the bus to outstanding requests.
//
// Replies are matched purely by (device, attribute, reply class), so they
// may arrive in any order. A write acknowledged without fields is matched by
// packet number instead. Every request resolves exactly once: the first of
// reply, NACK, deadline or Close removes it under the lock, and later
// replies are counted as unmatched.
//
// There is no implicit retry; callers resend with Attempt incremented.
type Correlator struct {
	sender Sender
	cfg    CorrelatorConfig

	mu      sync.Mutex
	pending map[pendingKey]*pendingRequest
	closed  bool

	packetNo atomic.Uint32

	issued    atomic.Uint64
	succeeded atomic.Uint64
	timedOut  atomic.Uint64
	rejected  atomic.Uint64
	cancelled atomic.Uint64
	unmatched atomic.Uint64

	log logHolder
}

// NewCorrelator creates a correlator sending through sender.
func NewCorrelator(sender Sender, cfg CorrelatorConfig) *Correlator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultRequestTimeout
	}
	return &Correlator{
		sender:  sender,
		cfg:     cfg,
		pending: make(map[pendingKey]*pendingRequest),
	}
}

// SetLogger sets the logger for this correlator.
func (c *Correlator) SetLogger(logger Logger) {
	c.log.set(logger)
}

// Request sends req and waits for the matching reply.
//
// Returns:
//   - Result: The reply (value or echo)
//   - error: *TimeoutError on deadline, ErrRejected on NACK,
//     ErrRequestInFlight if the same request is pending, ErrCancelled on
//     Close, ctx.Err() on cancellation, or the Sender's error
func (c *Correlator) Request(ctx context.Context, req Request) (Result, error) {
	if req.Class != ClassReadRequest && req.Class != ClassWriteRequest {
		return Result{}, fmt.Errorf("%w: cannot correlate %s", ErrInvalidValue, req.Class)
	}

	raw := req.Raw
	if req.Class == ClassReadRequest && raw == nil {
		if size := req.Attribute.PayloadSize(); size > 0 {
			raw = make([]byte, size)
		}
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = c.cfg.Timeout
	}

	p := &pendingRequest{
		key:          pendingKey{device: req.Device, attr: req.Attribute, reply: req.Class.ReplyClass()},
		packetNumber: uint8(c.packetNo.Add(1)), //nolint:gosec // packet numbers wrap at 256
		issued:       time.Now(),
		ch:           make(chan outcome, 1),
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return Result{}, ErrCancelled
	}
	if _, busy := c.pending[p.key]; busy {
		c.mu.Unlock()
		return Result{}, fmt.Errorf("%w: %s %s/%s", ErrRequestInFlight, req.Class, req.Device, req.Attribute)
	}
	c.pending[p.key] = p
	c.mu.Unlock()

	msg := Message{
		Source:       c.cfg.Source,
		Destination:  req.Device,
		Class:        req.Class,
		PacketType:   PacketNormal,
		PacketNumber: p.packetNumber,
		Retry:        min(req.Attempt, maxRetry),
		Fields:       []Field{{ID: req.Attribute, Raw: raw}},
	}

	c.issued.Add(1)
	if err := c.sender.Send(ctx, msg); err != nil {
		if c.remove(p) {
			return Result{}, err
		}
		return c.await(p)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case o := <-p.ch:
		return o.result, o.err
	case <-timer.C:
		if c.remove(p) {
			c.timedOut.Add(1)
			return Result{}, &TimeoutError{Device: req.Device, Attribute: req.Attribute, Class: req.Class, After: timeout}
		}
		return c.await(p)
	case <-ctx.Done():
		if c.remove(p) {
			return Result{}, ctx.Err()
		}
		return c.await(p)
	}
}

// await returns the outcome delivered by whoever removed p first.
func (c *Correlator) await(p *pendingRequest) (Result, error) {
	o := <-p.ch
	return o.result, o.err
}

// remove deletes p if it is still pending. Returns false when another path
// already resolved it.
func (c *Correlator) remove(p *pendingRequest) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending[p.key] != p {
		return false
	}
	delete(c.pending, p.key)
	return true
}

// resolve removes p and delivers o. Returns false if p was already resolved.
func (c *Correlator) resolve(p *pendingRequest, o outcome) bool {
	if !c.remove(p) {
		return false
	}
	p.ch <- o
	return true
}

// Handle inspects a received message and resolves matching requests.
// It is called for every decoded message; non-replies are ignored.
func (c *Correlator) Handle(msg Message) {
	switch msg.Class {
	case ClassReadResponse, ClassWriteResponse:
		if len(msg.Fields) == 0 {
			if msg.Class == ClassWriteResponse {
				c.resolveByPacket(msg, outcome{result: Result{Class: msg.Class, Echo: true}}, ClassWriteResponse)
			}
			return
		}
		for _, f := range msg.Fields {
			key := pendingKey{device: msg.Source, attr: f.ID, reply: msg.Class}
			res := Result{
				Device:    msg.Source,
				Attribute: f.ID,
				Class:     msg.Class,
				Raw:       f.Raw,
				Echo:      msg.Class == ClassWriteResponse && len(f.Raw) == 0,
			}
			if !c.resolveKey(key, outcome{result: res}) {
				c.unmatched.Add(1)
			}
		}
	case ClassNack:
		if len(msg.Fields) == 0 {
			c.resolveByPacket(msg, outcome{err: c.rejection(msg.Source, 0)}, ClassWriteResponse, ClassReadResponse)
			return
		}
		for _, f := range msg.Fields {
			err := c.rejection(msg.Source, f.ID)
			matched := false
			for _, reply := range []MessageClass{ClassWriteResponse, ClassReadResponse} {
				if c.resolveKey(pendingKey{device: msg.Source, attr: f.ID, reply: reply}, outcome{err: err}) {
					matched = true
				}
			}
			if !matched {
				c.unmatched.Add(1)
			}
		}
	}
}

func (c *Correlator) rejection(device Address, id AttributeID) error {
	if id == 0 {
		return fmt.Errorf("%w: %s", ErrRejected, device)
	}
	return fmt.Errorf("%w: %s/%s", ErrRejected, device, id)
}

func (c *Correlator) resolveKey(key pendingKey, o outcome) bool {
	c.mu.Lock()
	p := c.pending[key]
	c.mu.Unlock()

	if p == nil {
		return false
	}
	return c.finish(p, o)
}

// resolveByPacket matches a fieldless ACK or NACK to the pending request from
// the same device with the same packet number, if that request awaits one
// of replies. A bare ACK carries no value, so it can only settle writes.
func (c *Correlator) resolveByPacket(msg Message, o outcome, replies ...MessageClass) {
	c.mu.Lock()
	var match *pendingRequest
	for _, p := range c.pending {
		if p.key.device == msg.Source && p.packetNumber == msg.PacketNumber && slices.Contains(replies, p.key.reply) {
			match = p
			break
		}
	}
	c.mu.Unlock()

	if match == nil || !c.finish(match, o) {
		c.unmatched.Add(1)
	}
}

// finish resolves p with o. Returns false if p was resolved elsewhere first.
func (c *Correlator) finish(p *pendingRequest, o outcome) bool {
	if o.err == nil {
		o.result.Device = p.key.device
		o.result.Attribute = p.key.attr
		o.result.Latency = time.Since(p.issued)
	}
	if !c.resolve(p, o) {
		return false
	}
	if o.err != nil {
		c.rejected.Add(1)
		c.log.get().Debug("nasa request rejected", "device", p.key.device.String(), "attribute", p.key.attr.String())
		return true
	}
	c.succeeded.Add(1)
	return true
}

// Stats returns request counters.
func (c *Correlator) Stats() CorrelatorStats {
	c.mu.Lock()
	n := len(c.pending)
	c.mu.Unlock()

	return CorrelatorStats{
		Issued:    c.issued.Load(),
		Succeeded: c.succeeded.Load(),
		TimedOut:  c.timedOut.Load(),
		Rejected:  c.rejected.Load(),
		Cancelled: c.cancelled.Load(),
		Unmatched: c.unmatched.Load(),
		Pending:   n,
	}
}

// Close resolves every pending request with ErrCancelled and rejects new
// ones. Safe to call multiple times.
func (c *Correlator) Close() {
	c.mu.Lock()
	c.closed = true
	pending := c.pending
	c.pending = make(map[pendingKey]*pendingRequest)
	c.mu.Unlock()

	for _, p := range pending {
		c.cancelled.Add(1)
		p.ch <- outcome{err: ErrCancelled}
	}
}
