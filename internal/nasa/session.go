package nasa

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// closeOnce wraps a channel with sync.Once to prevent double-close panics.
type closeOnce struct {
	ch   chan struct{}
	once sync.Once
}

func newCloseOnce() *closeOnce {
	return &closeOnce{ch: make(chan struct{})}
}

func (c *closeOnce) Close() {
	c.once.Do(func() { close(c.ch) })
}

func (c *closeOnce) Done() <-chan struct{} {
	return c.ch
}

// Session defaults.
const (
	// defaultWriteTimeout bounds a single frame write.
	defaultWriteTimeout = 5 * time.Second

	// defaultIdleTimeout forces a reconnect when the bus goes silent.
	// EHS units broadcast notifications every few seconds.
	defaultIdleTimeout = 2 * time.Minute

	// readBufferSize is the size of each transport read.
	readBufferSize = 512

	// dispatchQueueSize buffers decoded messages between the read loop and
	// the dispatcher.
	dispatchQueueSize = 256
)

// SessionState is the connection state of a Session.
type SessionState int32

// Session states.
const (
	StateDisconnected SessionState = iota
	StateConnecting
	StateConnected
)

func (s SessionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// SessionConfig holds transport session configuration.
type SessionConfig struct {
	// Endpoint is the bridge location.
	Endpoint Endpoint

	// Dial overrides the dialer derived from Endpoint (used by tests).
	Dial DialFunc

	// Transport tunes the derived dialer.
	Transport TransportOptions

	// WriteTimeout bounds a single frame write. Default: 5s.
	WriteTimeout time.Duration

	// IdleTimeout drops the connection when nothing is received for this
	// long, on transports that support read deadlines. Default: 2m.
	// Negative disables.
	IdleTimeout time.Duration

	// Backoff tunes reconnection delays.
	Backoff BackoffConfig

	// Decoder tunes frame resynchronisation.
	Decoder DecoderConfig
}

// SessionStats holds operational statistics.
type SessionStats struct {
	State         SessionState
	FramesRx      uint64
	FramesTx      uint64
	FramingErrors uint64
	BytesDropped  uint64
	Reconnects    uint64 // Successful connections after the first
	ErrorsTotal   uint64
	LastActivity  time.Time
}

type subscriber struct {
	id int
	fn func(Message)
}

// Session owns the single live connection to the NASA bridge.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Subscribers run on one dispatcher goroutine, in receive order.
//
// Auto-Reconnection:
//   - When the connection is lost, the session reconnects with exponential
//     backoff (1s doubling to 60s by default).
//   - Subscribers and state observers survive reconnects.
//   - Reconnection stops only when Close() is called or the Start context ends.
type Session struct {
	cfg      SessionConfig
	dial     DialFunc
	backoff  *Backoff
	endpoint string

	// Current connection
	connMu sync.RWMutex
	conn   Conn

	// Writes are serialised so frames never interleave
	writeMu sync.Mutex

	// State and observers
	stateMu      sync.Mutex
	state        SessionState
	stateChanged chan struct{}
	observers    []func(SessionState)

	// Subscribers
	subMu          sync.RWMutex
	subs           []subscriber
	nextSubID      int
	framingObs     []func(error)
	dispatchQueue  chan Message
	startOnce      sync.Once
	everConnected  atomic.Bool
	done           *closeOnce
	wg             sync.WaitGroup
	log            logHolder
	framesRx       atomic.Uint64
	framesTx       atomic.Uint64
	framingErrors  atomic.Uint64
	bytesDropped   atomic.Uint64
	reconnects     atomic.Uint64
	errorsTotal    atomic.Uint64
	lastActivityNs atomic.Int64
}

// NewSession creates a session. It does not connect until Start is called.
func NewSession(cfg SessionConfig) (*Session, error) {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = defaultIdleTimeout
	}

	dial := cfg.Dial
	if dial == nil {
		d, err := NewDialer(cfg.Endpoint, cfg.Transport)
		if err != nil {
			return nil, err
		}
		dial = d
	}

	return &Session{
		cfg:           cfg,
		dial:          dial,
		backoff:       NewBackoff(cfg.Backoff),
		endpoint:      cfg.Endpoint.String(),
		stateChanged:  make(chan struct{}),
		dispatchQueue: make(chan Message, dispatchQueueSize),
		done:          newCloseOnce(),
	}, nil
}

// SetLogger sets the logger for this session.
func (s *Session) SetLogger(logger Logger) {
	s.log.set(logger)
}

// Start launches the connection loop and the dispatcher. It returns
// immediately; use WaitConnected to block until the first connection.
// Calling Start more than once has no effect.
func (s *Session) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		s.wg.Add(2) //nolint:mnd // run loop + dispatcher
		go s.runLoop(ctx)
		go s.dispatchLoop()
	})
}

// Subscribe registers fn for every valid decoded message.
// The returned function removes the subscription.
func (s *Session) Subscribe(fn func(Message)) (unsubscribe func()) {
	s.subMu.Lock()
	s.nextSubID++
	id := s.nextSubID
	s.subs = append(s.subs, subscriber{id: id, fn: fn})
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		for i, sub := range s.subs {
			if sub.id == id {
				s.subs = append(s.subs[:i:i], s.subs[i+1:]...)
				return
			}
		}
	}
}

// OnFramingError registers fn for every frame the decoder discards.
// Called from the read loop; fn must not block.
func (s *Session) OnFramingError(fn func(error)) {
	s.subMu.Lock()
	s.framingObs = append(s.framingObs, fn)
	s.subMu.Unlock()
}

// OnStateChange registers fn for connection state transitions.
func (s *Session) OnStateChange(fn func(SessionState)) {
	s.stateMu.Lock()
	s.observers = append(s.observers, fn)
	s.stateMu.Unlock()
}

// State returns the current connection state.
func (s *Session) State() SessionState {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.state
}

// IsConnected returns true while a connection is established.
func (s *Session) IsConnected() bool {
	return s.State() == StateConnected
}

// Endpoint returns the bridge location as a string.
func (s *Session) Endpoint() string {
	return s.endpoint
}

// WaitConnected blocks until the session is connected.
//
// Returns:
//   - error: ctx.Err() if the context ends first, ErrClosed after Close
func (s *Session) WaitConnected(ctx context.Context) error {
	for {
		s.stateMu.Lock()
		st, ch := s.state, s.stateChanged
		s.stateMu.Unlock()

		if st == StateConnected {
			return nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done.Done():
			return ErrClosed
		}
	}
}

// Send encodes and writes one message.
//
// Writes are serialised; a frame is never interleaved with another.
//
// Returns:
//   - error: *ConnectionError when disconnected or the write fails,
//     ErrInvalidValue when the message cannot be encoded
func (s *Session) Send(ctx context.Context, msg Message) error {
	frame, err := Encode(msg)
	if err != nil {
		return err
	}

	if s.isClosed() {
		return &ConnectionError{Op: "send", Endpoint: s.endpoint, Err: ErrClosed}
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.connMu.RLock()
	conn := s.conn
	s.connMu.RUnlock()
	if conn == nil {
		return &ConnectionError{Op: "send", Endpoint: s.endpoint}
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	if dw, ok := conn.(deadlineWriter); ok {
		deadline := time.Now().Add(s.cfg.WriteTimeout)
		if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
			deadline = d
		}
		if err := dw.SetWriteDeadline(deadline); err != nil {
			return &ConnectionError{Op: "send", Endpoint: s.endpoint, Err: fmt.Errorf("set deadline: %w", err)}
		}
	}

	if _, err := conn.Write(frame); err != nil {
		s.errorsTotal.Add(1)
		return &ConnectionError{Op: "send", Endpoint: s.endpoint, Err: err}
	}

	s.framesTx.Add(1)
	s.touch()
	return nil
}

// Stats returns current operational statistics.
func (s *Session) Stats() SessionStats {
	var last time.Time
	if ns := s.lastActivityNs.Load(); ns != 0 {
		last = time.Unix(0, ns)
	}
	return SessionStats{
		State:         s.State(),
		FramesRx:      s.framesRx.Load(),
		FramesTx:      s.framesTx.Load(),
		FramingErrors: s.framingErrors.Load(),
		BytesDropped:  s.bytesDropped.Load(),
		Reconnects:    s.reconnects.Load(),
		ErrorsTotal:   s.errorsTotal.Load(),
		LastActivity:  last,
	}
}

// Close stops the session without reconnecting.
//
// It closes the connection, waits for the loops to exit and reports
// StateDisconnected. Safe to call multiple times.
func (s *Session) Close() error {
	s.done.Close()
	s.closeConn()
	s.wg.Wait()
	s.setState(StateDisconnected)
	return nil
}

// runLoop connects, reads until failure, and reconnects with backoff.
func (s *Session) runLoop(ctx context.Context) {
	defer s.wg.Done()

	// A cancelled context closes the session; Close cancels a pending dial.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-ctx.Done():
		case <-s.done.Done():
		}
		s.done.Close()
		s.closeConn()
		cancel()
	}()

	dec := NewDecoder(s.cfg.Decoder)
	for !s.isClosed() {
		s.setState(StateConnecting)

		conn, err := s.dial(ctx)
		if err != nil {
			s.errorsTotal.Add(1)
			delay := s.backoff.Next()
			s.log.get().Warn("nasa connect failed",
				"endpoint", s.endpoint, "error", err, "retry_in", delay.String())
			if !s.sleep(delay) {
				break
			}
			continue
		}

		s.connMu.Lock()
		if s.isClosed() {
			s.connMu.Unlock()
			conn.Close()
			break
		}
		s.conn = conn
		s.connMu.Unlock()

		s.backoff.Reset()
		if s.everConnected.Swap(true) {
			s.reconnects.Add(1)
		}
		s.log.get().Info("nasa connected", "endpoint", s.endpoint)
		s.setState(StateConnected)

		err = s.readLoop(conn, dec)

		s.closeConn()
		dec.Reset()
		s.setState(StateDisconnected)

		if s.isClosed() {
			break
		}
		s.errorsTotal.Add(1)
		delay := s.backoff.Next()
		s.log.get().Warn("nasa connection lost", "endpoint", s.endpoint, "error", err, "retry_in", delay.String())
		if !s.sleep(delay) {
			break
		}
	}
}

// readLoop feeds received bytes to the decoder until the connection fails.
func (s *Session) readLoop(conn Conn, dec *Decoder) error {
	buf := make([]byte, readBufferSize)
	dr, canDeadline := conn.(deadlineReader)

	for {
		if canDeadline && s.cfg.IdleTimeout > 0 {
			if err := dr.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout)); err != nil {
				return fmt.Errorf("set read deadline: %w", err)
			}
		}

		n, err := conn.Read(buf)
		if n > 0 {
			s.touch()
			if !s.decode(dec, buf[:n]) {
				return ErrClosed
			}
		}
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return fmt.Errorf("no data for %v: %w", s.cfg.IdleTimeout, err)
			}
			return err
		}
	}
}

// decode runs one chunk through the decoder and queues the results.
// Returns false when the session closed while queueing.
func (s *Session) decode(dec *Decoder, chunk []byte) bool {
	before := dec.Stats().BytesDropped
	defer func() {
		s.bytesDropped.Add(dec.Stats().BytesDropped - before)
	}()

	for msg, err := range dec.Decode(chunk) {
		if err != nil {
			s.framingErrors.Add(1)
			s.log.get().Debug("nasa framing error", "error", err)
			s.notifyFramingError(err)
			continue
		}

		s.framesRx.Add(1)
		select {
		case s.dispatchQueue <- msg:
		case <-s.done.Done():
			return false
		}
	}
	return true
}

// dispatchLoop delivers messages to subscribers in receive order.
func (s *Session) dispatchLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.done.Done():
			return
		case msg := <-s.dispatchQueue:
			s.subMu.RLock()
			subs := make([]subscriber, len(s.subs))
			copy(subs, s.subs)
			s.subMu.RUnlock()

			for _, sub := range subs {
				s.deliver(sub.fn, msg)
			}
		}
	}
}

func (s *Session) deliver(fn func(Message), msg Message) {
	defer func() {
		if r := recover(); r != nil {
			s.log.get().Error("nasa subscriber panic", "error", fmt.Sprint(r))
		}
	}()
	fn(msg)
}

func (s *Session) notifyFramingError(err error) {
	s.subMu.RLock()
	obs := make([]func(error), len(s.framingObs))
	copy(obs, s.framingObs)
	s.subMu.RUnlock()

	for _, fn := range obs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.log.get().Error("nasa framing observer panic", "error", fmt.Sprint(r))
				}
			}()
			fn(err)
		}()
	}
}

func (s *Session) setState(st SessionState) {
	s.stateMu.Lock()
	if s.state == st {
		s.stateMu.Unlock()
		return
	}
	s.state = st
	close(s.stateChanged)
	s.stateChanged = make(chan struct{})
	obs := make([]func(SessionState), len(s.observers))
	copy(obs, s.observers)
	s.stateMu.Unlock()

	for _, fn := range obs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.log.get().Error("nasa state observer panic", "error", fmt.Sprint(r))
				}
			}()
			fn(st)
		}()
	}
}

func (s *Session) closeConn() {
	s.connMu.Lock()
	conn := s.conn
	s.conn = nil
	s.connMu.Unlock()

	if conn != nil {
		conn.Close()
	}
}

// sleep waits for d or until the session closes. Returns false on close.
func (s *Session) sleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-s.done.Done():
		return false
	}
}

func (s *Session) touch() {
	s.lastActivityNs.Store(time.Now().UnixNano())
}

func (s *Session) isClosed() bool {
	select {
	case <-s.done.Done():
		return true
	default:
		return false
	}
}
