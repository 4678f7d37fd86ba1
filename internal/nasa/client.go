package nasa

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// DefaultClientAddress is the source address of requests: a JIG-tester
// class controller, which indoor units answer like a WiFi kit.
var DefaultClientAddress = Address{Class: ClassJIGTester, Channel: 0xFF, Unit: 0x00}

// ClientConfig holds the configuration of the NASA engine.
type ClientConfig struct {
	// Session configures the bridge connection.
	Session SessionConfig

	// ClientAddress is the source of every request. Default: 80.FF.00.
	ClientAddress Address

	// Devices are known before their first message and polled.
	Devices []Address

	// Tracked overrides the attributes polled per device. Devices missing
	// here poll the catalog defaults for their address class.
	Tracked map[Address][]AttributeID

	// Catalog decodes attribute values. Default: DefaultCatalog().
	Catalog *Catalog

	// Poll configures the scheduler.
	Poll PollerConfig

	// DisablePolling starts the engine without the scheduler.
	DisablePolling bool

	// RequestTimeout bounds Read and Write. Default: 3s.
	RequestTimeout time.Duration

	// LivenessTimeout marks silent devices unreachable.
	// Default: 3x the poll interval.
	LivenessTimeout time.Duration
}

// ClientStats aggregates engine statistics.
type ClientStats struct {
	Session    SessionStats
	Correlator CorrelatorStats
	Poller     PollerStats
	Mismatches uint64
	Devices    int
	Attributes int
}

// DeviceDiagnostics summarises one device for health reporting.
type DeviceDiagnostics struct {
	Address        Address   `json:"address"`
	Online         bool      `json:"online"`
	LastPacket     time.Time `json:"last_packet,omitzero"`
	Attributes     int       `json:"attributes"`
	StaleAttribute int       `json:"stale_attributes"`
	HVACAction     string    `json:"hvac_action,omitempty"`
}

// Client wires the transport session, correlator, registry, device table,
// deriver and poller into one engine, and offers the read/write services.
//
// Message flow: every decoded message is observed by the device table,
// applied to the registry (which drives derivation) and only then offered
// to the correlator, so a completed Read always sees the registry updated.
type Client struct {
	cfg ClientConfig

	session    *Session
	correlator *Correlator
	registry   *Registry
	devices    *DeviceTable
	poller     *Poller
	deriver    *Deriver

	availMu      sync.Mutex
	online       bool
	offlineTimer *time.Timer
	offlineGen   uint64
	availFns     []func(bool)
	notifyMu     sync.Mutex

	cancel context.CancelFunc
	wg     sync.WaitGroup

	log logHolder
}

// NewClient builds the engine. Nothing connects until Start.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.ClientAddress == (Address{}) {
		cfg.ClientAddress = DefaultClientAddress
	}
	if cfg.Catalog == nil {
		cfg.Catalog = DefaultCatalog()
	}
	if cfg.Poll.Interval <= 0 {
		cfg.Poll.Interval = DefaultPollInterval
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.LivenessTimeout <= 0 {
		cfg.LivenessTimeout = 3 * cfg.Poll.Interval //nolint:mnd // three missed cycles
	}

	session, err := NewSession(cfg.Session)
	if err != nil {
		return nil, err
	}
	poller, err := NewPoller(cfg.Poll, nil, nil)
	if err != nil {
		return nil, err
	}

	c := &Client{
		cfg:        cfg,
		session:    session,
		correlator: NewCorrelator(session, CorrelatorConfig{Source: cfg.ClientAddress, Timeout: cfg.RequestTimeout}),
		registry:   NewRegistry(cfg.Catalog),
		devices:    NewDeviceTable(cfg.LivenessTimeout),
	}
	poller.req = c.correlator
	poller.registry = c.registry
	c.poller = poller
	c.deriver = NewDeriver(c.registry, c.outdoorUnit)

	c.devices.Configure(cfg.Devices...)
	for _, dev := range cfg.Devices {
		ids, ok := cfg.Tracked[dev]
		if !ok {
			ids = cfg.Catalog.DefaultTracked(dev.Class)
		}
		if len(ids) > 0 {
			c.poller.Track(dev, ids...)
		}
	}

	session.Subscribe(c.handleMessage)
	session.OnStateChange(c.handleState)
	return c, nil
}

// SetLogger sets the logger on the engine and all of its components.
func (c *Client) SetLogger(logger Logger) {
	c.log.set(logger)
	c.session.SetLogger(logger)
	c.correlator.SetLogger(logger)
	c.registry.SetLogger(logger)
	c.devices.SetLogger(logger)
	c.poller.SetLogger(logger)
	c.deriver.SetLogger(logger)
}

// Start connects to the bridge and starts polling and liveness checks.
// It returns immediately; the session reconnects on its own.
func (c *Client) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.session.Start(ctx)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.devices.Run(ctx, 0)
	}()

	if !c.cfg.DisablePolling {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			if err := c.session.WaitConnected(ctx); err != nil {
				return
			}
			c.poller.Run(ctx)
		}()
	}
}

// Close stops polling, cancels pending requests and closes the session
// without reconnecting. Safe to call multiple times.
func (c *Client) Close() error {
	if c.cancel != nil {
		c.cancel()
	}
	c.correlator.Close()
	err := c.session.Close()
	c.wg.Wait()

	c.availMu.Lock()
	if c.offlineTimer != nil {
		c.offlineTimer.Stop()
		c.offlineTimer = nil
	}
	c.offlineGen++
	c.availMu.Unlock()
	return err
}

// WaitConnected blocks until the bridge connection is up.
func (c *Client) WaitConnected(ctx context.Context) error {
	return c.session.WaitConnected(ctx)
}

// Session returns the transport session.
func (c *Client) Session() *Session { return c.session }

// Registry returns the attribute registry.
func (c *Client) Registry() *Registry { return c.registry }

// Devices returns the device table.
func (c *Client) Devices() *DeviceTable { return c.devices }

// Poller returns the poll scheduler.
func (c *Client) Poller() *Poller { return c.poller }

// Deriver returns the derivation engine.
func (c *Client) Deriver() *Deriver { return c.deriver }

// Catalog returns the attribute catalog.
func (c *Client) Catalog() *Catalog { return c.cfg.Catalog }

// Address returns the client's source address.
func (c *Client) Address() Address { return c.cfg.ClientAddress }

// Read issues a fresh read of one attribute.
//
// Parameters:
//   - ctx: Context for cancellation
//   - device: Target unit
//   - attr: 16-bit hex id, e.g. "0x4201" or "4201"
//
// Returns:
//   - AttributeState: The refreshed state. On timeout, the last known value
//     marked stale if one exists.
//   - error: *UnknownAttributeError without any bus traffic when the device
//     or attribute is unknown; *TimeoutError, ErrRejected or a
//     *ConnectionError from the request
func (c *Client) Read(ctx context.Context, device Address, attr string) (AttributeState, error) {
	id, err := ParseAttributeID(attr)
	if err != nil {
		return AttributeState{}, err
	}
	return c.ReadID(ctx, device, id)
}

// ReadID is Read with a parsed attribute id.
func (c *Client) ReadID(ctx context.Context, device Address, id AttributeID) (AttributeState, error) {
	if err := c.checkKnown(device, id); err != nil {
		return AttributeState{}, err
	}

	res, err := c.correlator.Request(ctx, Request{
		Device:    device,
		Attribute: id,
		Class:     ClassReadRequest,
		Timeout:   c.cfg.RequestTimeout,
	})
	if err != nil {
		if errors.Is(err, ErrTimeout) {
			c.registry.MarkStale(device, id)
			if st, ok := c.registry.Get(device, id); ok {
				return st, err
			}
		}
		return AttributeState{}, err
	}

	if st, ok := c.registry.Get(device, id); ok && !st.Rejected {
		return st, nil
	}

	// The registry refused the reply (kind conflict); report the raw decode.
	v, derr := c.cfg.Catalog.Decode(id, res.Raw)
	if derr != nil {
		return AttributeState{}, derr
	}
	return AttributeState{Device: device, ID: id, Kind: v.Kind, Value: v, Updated: time.Now()}, nil
}

// Write sets one attribute.
//
// value may be a Value, bool, number, numeric string, option name
// ("heat") or hex string for structures; it is encoded per the catalog.
//
// Returns:
//   - Result: The acknowledgement (Echo set when it carried no payload)
//   - error: *UnknownAttributeError, ErrInvalidValue, ErrRejected on NACK,
//     *TimeoutError or a *ConnectionError
func (c *Client) Write(ctx context.Context, device Address, attr string, value any) (Result, error) {
	id, err := ParseAttributeID(attr)
	if err != nil {
		return Result{}, err
	}
	v, err := c.cfg.Catalog.ParseValue(id, value)
	if err != nil {
		return Result{}, err
	}
	return c.WriteID(ctx, device, id, v)
}

// WriteID is Write with a parsed id and value.
func (c *Client) WriteID(ctx context.Context, device Address, id AttributeID, v Value) (Result, error) {
	if err := c.checkKnown(device, id); err != nil {
		return Result{}, err
	}

	raw, err := c.cfg.Catalog.Encode(id, v)
	if err != nil {
		return Result{}, err
	}

	res, err := c.correlator.Request(ctx, Request{
		Device:    device,
		Attribute: id,
		Class:     ClassWriteRequest,
		Raw:       raw,
		Timeout:   c.cfg.RequestTimeout,
	})
	if err != nil {
		return res, err
	}

	if res.Echo {
		// The unit accepted the value without repeating it.
		c.registry.Apply(Message{
			Source:        device,
			Class:         ClassWriteResponse,
			Fields:        []Field{{ID: id, Raw: raw}},
			ChecksumValid: true,
		})
	}
	c.log.get().Info("nasa attribute written", "device", device.String(), "attribute", id.String(), "value", v.String())
	return res, nil
}

// checkKnown fails without bus traffic for unknown devices and attributes.
func (c *Client) checkKnown(device Address, id AttributeID) error {
	if !c.devices.Known(device) {
		return &UnknownAttributeError{Device: device, Attribute: id, UnknownDevice: true}
	}
	if _, ok := c.registry.Get(device, id); ok {
		return nil
	}
	if _, ok := c.cfg.Catalog.Lookup(id); ok {
		return nil
	}
	return &UnknownAttributeError{Device: device, Attribute: id}
}

// Get returns the last known state of an attribute without bus traffic.
func (c *Client) Get(device Address, id AttributeID) (AttributeState, bool) {
	return c.registry.Get(device, id)
}

// OnChange registers fn for every attribute change.
func (c *Client) OnChange(fn ChangeCallback) (unsubscribe func()) {
	return c.registry.SubscribeAll(fn)
}

// OnStaleChange registers fn for transitions of an attribute's stale flag.
func (c *Client) OnStaleChange(fn func(AttributeState)) {
	c.registry.OnStaleChange(fn)
}

// Snapshot returns every known attribute state.
func (c *Client) Snapshot() []AttributeState {
	return c.registry.All()
}

// Restore seeds the registry with persisted states, marked stale.
func (c *Client) Restore(states []AttributeState) int {
	return c.registry.Restore(states)
}

// OnMessage registers fn for every decoded message, before it is applied.
func (c *Client) OnMessage(fn func(Message)) (unsubscribe func()) {
	return c.session.Subscribe(fn)
}

// OnFramingError registers fn for every discarded frame.
func (c *Client) OnFramingError(fn func(error)) {
	c.session.OnFramingError(fn)
}

// OnHVACAction registers fn for derived HVAC action changes.
func (c *Client) OnHVACAction(fn func(DerivedChange)) {
	c.deriver.OnChange(fn)
}

// OnDeviceReachability registers fn for per-device reachability changes.
func (c *Client) OnDeviceReachability(fn func(Device)) {
	c.devices.OnReachabilityChange(fn)
}

// OnAvailability registers fn for bridge availability changes. The bridge
// goes offline once the session has been down for the liveness timeout and
// back online as soon as it reconnects.
func (c *Client) OnAvailability(fn func(online bool)) {
	c.availMu.Lock()
	c.availFns = append(c.availFns, fn)
	c.availMu.Unlock()
}

// Online reports bridge availability.
func (c *Client) Online() bool {
	c.availMu.Lock()
	defer c.availMu.Unlock()
	return c.online
}

// Diagnostics summarises one device.
func (c *Client) Diagnostics(device Address) (DeviceDiagnostics, bool) {
	d, ok := c.devices.Get(device)
	if !ok {
		return DeviceDiagnostics{}, false
	}

	diag := DeviceDiagnostics{
		Address:    device,
		Online:     d.Reachable,
		LastPacket: d.LastSeen,
	}
	for _, st := range c.registry.Snapshot(device) {
		diag.Attributes++
		if st.Stale {
			diag.StaleAttribute++
		}
	}
	if device.IsIndoor() {
		diag.HVACAction = c.deriver.Action(device).String()
	}
	return diag, true
}

// PollNow runs one poll cycle immediately. It returns false when a cycle
// was already running.
func (c *Client) PollNow(ctx context.Context) bool {
	return c.poller.PollNow(ctx)
}

// Track adds attributes to the poll set of device.
func (c *Client) Track(device Address, ids ...AttributeID) {
	c.poller.Track(device, ids...)
}

// DeviceList returns every known device, sorted by address.
func (c *Client) DeviceList() []Device {
	return c.devices.List()
}

// Stats returns aggregated engine statistics.
func (c *Client) Stats() ClientStats {
	return ClientStats{
		Session:    c.session.Stats(),
		Correlator: c.correlator.Stats(),
		Poller:     c.poller.Stats(),
		Mismatches: c.registry.Mismatches(),
		Devices:    len(c.devices.List()),
		Attributes: len(c.registry.All()),
	}
}

func (c *Client) handleMessage(msg Message) {
	if msg.Source == c.cfg.ClientAddress {
		return
	}
	c.devices.Observe(msg.Source)
	c.registry.Apply(msg)
	c.correlator.Handle(msg)
}

func (c *Client) handleState(st SessionState) {
	switch st {
	case StateConnected:
		c.availMu.Lock()
		if c.offlineTimer != nil {
			c.offlineTimer.Stop()
			c.offlineTimer = nil
		}
		// A timer that already fired sees a newer generation and does nothing.
		c.offlineGen++
		c.availMu.Unlock()
		c.setOnline(true)
	case StateDisconnected:
		c.availMu.Lock()
		defer c.availMu.Unlock()
		if c.offlineTimer != nil || !c.online {
			return
		}
		c.offlineGen++
		gen := c.offlineGen
		c.offlineTimer = time.AfterFunc(c.cfg.LivenessTimeout, func() {
			c.expireOnline(gen)
		})
	}
}

// expireOnline marks the client offline unless the timer armed with gen
// was superseded by a reconnect or Close.
func (c *Client) expireOnline(gen uint64) {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	c.availMu.Lock()
	if gen != c.offlineGen {
		c.availMu.Unlock()
		return
	}
	c.offlineTimer = nil
	c.availMu.Unlock()
	c.changeOnline(false)
}

// setOnline updates availability and notifies listeners outside the lock.
func (c *Client) setOnline(online bool) {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()
	c.changeOnline(online)
}

// changeOnline requires notifyMu, which keeps listener calls in the order
// the transitions happened.
func (c *Client) changeOnline(online bool) {
	c.availMu.Lock()
	if c.online == online {
		c.availMu.Unlock()
		return
	}
	c.online = online
	fns := make([]func(bool), len(c.availFns))
	copy(fns, c.availFns)
	c.availMu.Unlock()

	c.log.get().Info("nasa bridge availability changed", "online", online)
	for _, fn := range fns {
		func() {
			defer func() {
				if r := recover(); r != nil {
					c.log.get().Error("nasa availability callback panic", "error", fmt.Sprint(r))
				}
			}()
			fn(online)
		}()
	}
}

// outdoorUnit returns the configured outdoor unit, else the first seen.
func (c *Client) outdoorUnit() (Address, bool) {
	for _, d := range c.cfg.Devices {
		if d.IsOutdoor() {
			return d, true
		}
	}
	for _, d := range c.devices.List() {
		if d.Address.IsOutdoor() {
			return d.Address, true
		}
	}
	return Address{}, false
}
