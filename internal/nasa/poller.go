package nasa

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// Poll defaults.
const (
	DefaultPollInterval   = 15 * time.Second
	DefaultReadTimeout    = 3 * time.Second
	DefaultInterReadDelay = 50 * time.Millisecond
)

// Requester issues correlated requests. Implemented by *Correlator.
type Requester interface {
	Request(ctx context.Context, req Request) (Result, error)
}

// PollerConfig holds poll scheduling settings.
type PollerConfig struct {
	// Interval between cycles. Default: 15s.
	Interval time.Duration

	// ReadTimeout per attribute read; must be shorter than Interval.
	// Default: 3s.
	ReadTimeout time.Duration

	// InterReadDelay spaces reads on the half-duplex bus. Default: 50ms.
	// Negative disables.
	InterReadDelay time.Duration
}

// PollerStats holds poll counters.
type PollerStats struct {
	Cycles       uint64
	Skipped      uint64 // Ticks that found a cycle still running
	Reads        uint64
	Failures     uint64
	Timeouts     uint64
	LastCycle    time.Time
	LastDuration time.Duration
}

// Poller periodically reads an explicit set of tracked attributes.
//
// Cycles never overlap: a tick (or PollNow) arriving while a cycle runs is
// skipped and counted. A failed read is logged and the batch continues;
// a timed-out attribute is marked stale in the registry. Reply values reach
// the registry through the normal receive path, not through the poller.
type Poller struct {
	cfg      PollerConfig
	req      Requester
	registry *Registry

	mu      sync.RWMutex
	tracked map[Address]map[AttributeID]struct{}

	running atomic.Bool
	wg      sync.WaitGroup

	cycles    atomic.Uint64
	skipped   atomic.Uint64
	reads     atomic.Uint64
	failures  atomic.Uint64
	timeouts  atomic.Uint64
	lastCycle atomic.Int64
	lastDur   atomic.Int64

	log logHolder
}

// NewPoller creates a poller.
//
// Returns:
//   - error: If ReadTimeout is not shorter than Interval
func NewPoller(cfg PollerConfig, req Requester, registry *Registry) (*Poller, error) {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultPollInterval
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.InterReadDelay == 0 {
		cfg.InterReadDelay = DefaultInterReadDelay
	}
	if cfg.ReadTimeout >= cfg.Interval {
		return nil, fmt.Errorf("%w: read timeout %v must be shorter than poll interval %v",
			ErrInvalidValue, cfg.ReadTimeout, cfg.Interval)
	}

	return &Poller{
		cfg:      cfg,
		req:      req,
		registry: registry,
		tracked:  make(map[Address]map[AttributeID]struct{}),
	}, nil
}

// SetLogger sets the logger for this poller.
func (p *Poller) SetLogger(logger Logger) {
	p.log.set(logger)
}

// Interval returns the configured poll interval.
func (p *Poller) Interval() time.Duration {
	return p.cfg.Interval
}

// Track adds attributes of device to the poll set.
func (p *Poller) Track(device Address, ids ...AttributeID) {
	p.mu.Lock()
	defer p.mu.Unlock()

	set, ok := p.tracked[device]
	if !ok {
		set = make(map[AttributeID]struct{}, len(ids))
		p.tracked[device] = set
	}
	for _, id := range ids {
		set[id] = struct{}{}
	}
}

// Untrack removes attributes of device from the poll set. With no ids the
// whole device is removed.
func (p *Poller) Untrack(device Address, ids ...AttributeID) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(ids) == 0 {
		delete(p.tracked, device)
		return
	}
	set := p.tracked[device]
	for _, id := range ids {
		delete(set, id)
	}
	if len(set) == 0 {
		delete(p.tracked, device)
	}
}

// Tracked returns the poll set with ids in ascending order.
func (p *Poller) Tracked() map[Address][]AttributeID {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make(map[Address][]AttributeID, len(p.tracked))
	for dev, set := range p.tracked {
		ids := make([]AttributeID, 0, len(set))
		for id := range set {
			ids = append(ids, id)
		}
		slices.Sort(ids)
		out[dev] = ids
	}
	return out
}

// Run polls every Interval until ctx is cancelled, starting immediately.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()
	defer p.wg.Wait()

	p.launch(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.launch(ctx)
		}
	}
}

func (p *Poller) launch(ctx context.Context) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.cycle(ctx)
	}()
}

// PollNow runs one cycle synchronously. Returns false if a cycle was
// already running and this one was skipped.
func (p *Poller) PollNow(ctx context.Context) bool {
	return p.cycle(ctx)
}

type pollTarget struct {
	device Address
	id     AttributeID
}

func (p *Poller) targets() []pollTarget {
	tracked := p.Tracked()
	devices := make([]Address, 0, len(tracked))
	for d := range tracked {
		devices = append(devices, d)
	}
	slices.SortFunc(devices, compareAddress)

	var out []pollTarget
	for _, d := range devices {
		for _, id := range tracked[d] {
			out = append(out, pollTarget{device: d, id: id})
		}
	}
	return out
}

func (p *Poller) cycle(ctx context.Context) bool {
	if !p.running.CompareAndSwap(false, true) {
		p.skipped.Add(1)
		p.log.get().Debug("nasa poll skipped, previous cycle still running")
		return false
	}
	defer p.running.Store(false)

	start := time.Now()
	targets := p.targets()
	failed := 0

	for i, t := range targets {
		if ctx.Err() != nil {
			break
		}
		if i > 0 && p.cfg.InterReadDelay > 0 {
			if !sleepCtx(ctx, p.cfg.InterReadDelay) {
				break
			}
		}

		p.reads.Add(1)
		_, err := p.req.Request(ctx, Request{
			Device:    t.device,
			Attribute: t.id,
			Class:     ClassReadRequest,
			Timeout:   p.cfg.ReadTimeout,
		})
		if err == nil {
			continue
		}
		if errors.Is(err, ErrRequestInFlight) || errors.Is(err, context.Canceled) {
			continue
		}

		failed++
		p.failures.Add(1)
		if errors.Is(err, ErrTimeout) {
			p.timeouts.Add(1)
			if p.registry != nil {
				p.registry.MarkStale(t.device, t.id)
			}
		}
		p.log.get().Debug("nasa poll read failed",
			"device", t.device.String(), "attribute", t.id.String(), "error", err)
	}

	elapsed := time.Since(start)
	p.cycles.Add(1)
	p.lastCycle.Store(start.UnixNano())
	p.lastDur.Store(int64(elapsed))

	if failed > 0 {
		p.log.get().Warn("nasa poll cycle finished with failures",
			"reads", len(targets), "failed", failed, "duration", elapsed.String())
	}
	return true
}

// Stats returns poll counters.
func (p *Poller) Stats() PollerStats {
	var last time.Time
	if ns := p.lastCycle.Load(); ns != 0 {
		last = time.Unix(0, ns)
	}
	return PollerStats{
		Cycles:       p.cycles.Load(),
		Skipped:      p.skipped.Load(),
		Reads:        p.reads.Load(),
		Failures:     p.failures.Load(),
		Timeouts:     p.timeouts.Load(),
		LastCycle:    last,
		LastDuration: time.Duration(p.lastDur.Load()),
	}
}

// sleepCtx waits for d. Returns false if ctx ends first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
