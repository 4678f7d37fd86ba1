package nasa

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"
)

// Device is a unit observed on (or configured for) the bus.
type Device struct {
	Address   Address   `json:"address"`
	FirstSeen time.Time `json:"first_seen,omitzero"`
	LastSeen  time.Time `json:"last_seen,omitzero"`
	Reachable bool      `json:"reachable"`
	Messages  uint64    `json:"messages"`

	// Configured is true for devices listed in configuration, which are
	// known before their first message.
	Configured bool `json:"configured"`
}

// DeviceTable tracks every device and its liveness.
//
// Devices are created on their first message and never removed. A device
// not heard from within the liveness timeout is marked unreachable; since a
// disconnected session delivers nothing, every device goes unreachable once
// the session has been down for longer than the timeout.
//
// Thread Safety: all methods are safe for concurrent use.
type DeviceTable struct {
	timeout time.Duration

	mu        sync.RWMutex
	devices   map[Address]*Device
	listeners []func(Device)

	now func() time.Time
	log logHolder
}

// NewDeviceTable creates a table with the given liveness timeout.
func NewDeviceTable(livenessTimeout time.Duration) *DeviceTable {
	return &DeviceTable{
		timeout: livenessTimeout,
		devices: make(map[Address]*Device),
		now:     time.Now,
	}
}

// SetLogger sets the logger for this table.
func (t *DeviceTable) SetLogger(logger Logger) {
	t.log.set(logger)
}

// Configure registers devices known from configuration.
func (t *DeviceTable) Configure(addrs ...Address) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, a := range addrs {
		if d, ok := t.devices[a]; ok {
			d.Configured = true
			continue
		}
		t.devices[a] = &Device{Address: a, Configured: true}
	}
}

// Observe records a message from source. Returns true when the device was
// created by this call.
func (t *DeviceTable) Observe(source Address) bool {
	now := t.now()

	t.mu.Lock()
	d, ok := t.devices[source]
	if !ok {
		d = &Device{Address: source}
		t.devices[source] = d
	}
	if d.FirstSeen.IsZero() {
		d.FirstSeen = now
	}
	d.LastSeen = now
	d.Messages++
	becameReachable := !d.Reachable
	d.Reachable = true
	snap := *d
	t.mu.Unlock()

	if !ok {
		t.log.get().Info("nasa device discovered", "device", source.String())
	}
	if becameReachable {
		t.notify(snap)
	}
	return !ok
}

// Get returns one device.
func (t *DeviceTable) Get(addr Address) (Device, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	d, ok := t.devices[addr]
	if !ok {
		return Device{}, false
	}
	return *d, true
}

// Known reports whether addr has been seen or configured.
func (t *DeviceTable) Known(addr Address) bool {
	_, ok := t.Get(addr)
	return ok
}

// List returns every device ordered by address.
func (t *DeviceTable) List() []Device {
	t.mu.RLock()
	out := make([]Device, 0, len(t.devices))
	for _, d := range t.devices {
		out = append(out, *d)
	}
	t.mu.RUnlock()

	slices.SortFunc(out, func(a, b Device) int { return compareAddress(a.Address, b.Address) })
	return out
}

// Sweep marks devices silent for longer than the timeout unreachable.
// Returns the devices that changed.
func (t *DeviceTable) Sweep() []Device {
	if t.timeout <= 0 {
		return nil
	}
	now := t.now()

	var changed []Device
	t.mu.Lock()
	for _, d := range t.devices {
		if d.Reachable && now.Sub(d.LastSeen) > t.timeout {
			d.Reachable = false
			changed = append(changed, *d)
		}
	}
	t.mu.Unlock()

	for _, d := range changed {
		t.log.get().Warn("nasa device unreachable", "device", d.Address.String(), "last_seen", d.LastSeen)
		t.notify(d)
	}
	return changed
}

// Run sweeps periodically until ctx is cancelled.
func (t *DeviceTable) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = max(t.timeout/4, time.Second) //nolint:mnd // sweep a few times per timeout
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.Sweep()
		}
	}
}

// OnReachabilityChange registers fn for reachable/unreachable transitions.
func (t *DeviceTable) OnReachabilityChange(fn func(Device)) {
	t.mu.Lock()
	t.listeners = append(t.listeners, fn)
	t.mu.Unlock()
}

func (t *DeviceTable) notify(d Device) {
	t.mu.RLock()
	fns := slices.Clone(t.listeners)
	t.mu.RUnlock()

	for _, fn := range fns {
		func() {
			defer func() {
				if r := recover(); r != nil {
					t.log.get().Error("nasa reachability callback panic", "error", fmt.Sprint(r))
				}
			}()
			fn(d)
		}()
	}
}
