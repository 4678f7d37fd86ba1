package nasa

import (
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// AttributeState is the registry's view of one attribute on one device.
type AttributeState struct {
	Device  Address     `json:"device"`
	ID      AttributeID `json:"id"`
	Name    string      `json:"name,omitempty"`
	Kind    Kind        `json:"kind"`
	Value   Value       `json:"value"`
	Updated time.Time   `json:"updated"`

	// Stale is set when the value could not be refreshed (read timeout,
	// restored snapshot, kind conflict). The last value is kept.
	Stale bool `json:"stale"`

	// Rejected is set after a kind conflict; later values are ignored.
	Rejected bool `json:"rejected,omitempty"`

	// restored marks a persisted value whose kind a live decode may replace.
	restored bool
}

// Change describes a value update delivered to subscribers.
type Change struct {
	Device Address
	ID     AttributeID
	Name   string
	Old    Value // zero on first observation
	New    Value
	At     time.Time
}

// ChangeCallback receives attribute changes.
type ChangeCallback func(Change)

type attrKey struct {
	device Address
	id     AttributeID
}

type changeSub struct {
	id  int
	key attrKey
	all bool
	fn  ChangeCallback
}

// Registry holds the latest decoded value of every attribute seen on the bus.
//
// Updates are latest-wins: a newer message always overwrites. Subscribers
// are notified synchronously from Apply, only when the value differs, and
// never while the registry lock is held.
//
// Thread Safety: all methods are safe for concurrent use.
type Registry struct {
	catalog *Catalog

	mu    sync.RWMutex
	attrs map[attrKey]*AttributeState

	subMu   sync.RWMutex
	subs    []changeSub
	staleFn []func(AttributeState)
	nextSub int

	mismatches atomic.Uint64
	now        func() time.Time
	log        logHolder
}

// NewRegistry creates an empty registry decoding through catalog.
func NewRegistry(catalog *Catalog) *Registry {
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	return &Registry{
		catalog: catalog,
		attrs:   make(map[attrKey]*AttributeState),
		now:     time.Now,
	}
}

// SetLogger sets the logger for this registry.
func (r *Registry) SetLogger(logger Logger) {
	r.log.set(logger)
}

// Catalog returns the catalog used for decoding.
func (r *Registry) Catalog() *Catalog {
	return r.catalog
}

// carriesState reports whether a message class holds attribute values.
// Requests carry placeholders or proposed values, not device state.
func carriesState(c MessageClass) bool {
	switch c {
	case ClassNormal, ClassNotification, ClassReadResponse, ClassWriteResponse:
		return true
	default:
		return false
	}
}

// Apply decodes the fields of msg and stores them under msg.Source.
//
// Fields that fail to decode are logged and skipped. A field whose kind
// differs from the attribute's established kind marks the attribute stale
// and rejected; the rest of the message is still applied.
//
// Returns the changes delivered to subscribers.
func (r *Registry) Apply(msg Message) []Change {
	if !msg.ChecksumValid || !carriesState(msg.Class) {
		return nil
	}

	now := r.now()
	var (
		changes []Change
		stale   []AttributeState
	)

	r.mu.Lock()
	for _, f := range msg.Fields {
		if len(f.Raw) == 0 {
			continue
		}
		v, err := r.catalog.Decode(f.ID, f.Raw)
		if err != nil {
			r.log.get().Debug("nasa attribute decode failed",
				"device", msg.Source.String(), "attribute", f.ID.String(), "error", err)
			continue
		}

		key := attrKey{device: msg.Source, id: f.ID}
		st, ok := r.attrs[key]
		if !ok {
			st = &AttributeState{Device: msg.Source, ID: f.ID, Kind: v.Kind}
			if spec, found := r.catalog.Lookup(f.ID); found {
				st.Name = spec.Name
			}
			r.attrs[key] = st
		}

		if st.Rejected {
			continue
		}
		if st.restored {
			st.Kind = v.Kind
			st.restored = false
		}
		if st.Kind != v.Kind {
			r.mismatches.Add(1)
			err := &TypeMismatchError{Device: msg.Source, Attribute: f.ID, Established: st.Kind, Got: v.Kind}
			r.log.get().Error("nasa attribute rejected", "error", err)
			st.Rejected = true
			if !st.Stale {
				st.Stale = true
				stale = append(stale, *st)
			}
			continue
		}

		old := st.Value
		wasStale := st.Stale
		st.Value = v
		st.Updated = now
		st.Stale = false

		if wasStale {
			stale = append(stale, *st)
		}
		if !ok || !old.Equal(v) {
			changes = append(changes, Change{Device: msg.Source, ID: f.ID, Name: st.Name, Old: old, New: v, At: now})
		}
	}
	r.mu.Unlock()

	for _, st := range stale {
		r.notifyStale(st)
	}
	for _, c := range changes {
		r.notify(c)
	}
	return changes
}

// Get returns the state of one attribute.
func (r *Registry) Get(device Address, id AttributeID) (AttributeState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.attrs[attrKey{device: device, id: id}]
	if !ok {
		return AttributeState{}, false
	}
	return *st, true
}

// HasDevice reports whether any attribute of device has been observed.
func (r *Registry) HasDevice(device Address) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for k := range r.attrs {
		if k.device == device {
			return true
		}
	}
	return false
}

// MarkStale flags an attribute as stale, keeping its value.
// Returns false if the attribute was never observed.
func (r *Registry) MarkStale(device Address, id AttributeID) bool {
	r.mu.Lock()
	st, ok := r.attrs[attrKey{device: device, id: id}]
	if !ok {
		r.mu.Unlock()
		return false
	}
	changed := !st.Stale
	st.Stale = true
	snap := *st
	r.mu.Unlock()

	if changed {
		r.notifyStale(snap)
	}
	return true
}

// Snapshot returns every attribute of device ordered by id.
func (r *Registry) Snapshot(device Address) []AttributeState {
	r.mu.RLock()
	out := make([]AttributeState, 0)
	for k, st := range r.attrs {
		if k.device == device {
			out = append(out, *st)
		}
	}
	r.mu.RUnlock()

	slices.SortFunc(out, func(a, b AttributeState) int { return int(a.ID) - int(b.ID) })
	return out
}

// All returns every attribute state ordered by device then id.
func (r *Registry) All() []AttributeState {
	r.mu.RLock()
	out := make([]AttributeState, 0, len(r.attrs))
	for _, st := range r.attrs {
		out = append(out, *st)
	}
	r.mu.RUnlock()

	slices.SortFunc(out, compareState)
	return out
}

// Devices returns the addresses with at least one attribute, ordered.
func (r *Registry) Devices() []Address {
	r.mu.RLock()
	seen := make(map[Address]struct{})
	for k := range r.attrs {
		seen[k.device] = struct{}{}
	}
	r.mu.RUnlock()

	out := make([]Address, 0, len(seen))
	for a := range seen {
		out = append(out, a)
	}
	slices.SortFunc(out, compareAddress)
	return out
}

// Restore loads persisted states. Restored attributes are stale until a
// fresh value arrives; existing live values are never overwritten.
// Subscribers are not notified.
func (r *Registry) Restore(states []AttributeState) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, s := range states {
		key := attrKey{device: s.Device, id: s.ID}
		if _, ok := r.attrs[key]; ok {
			continue
		}
		if s.Kind == KindUnknown || s.Kind != s.Value.Kind {
			continue
		}
		st := s
		st.Stale = true
		st.Rejected = false
		st.restored = true
		if st.Name == "" {
			if spec, found := r.catalog.Lookup(s.ID); found {
				st.Name = spec.Name
			}
		}
		r.attrs[key] = &st
		n++
	}
	return n
}

// Mismatches returns the number of kind conflicts seen.
func (r *Registry) Mismatches() uint64 {
	return r.mismatches.Load()
}

// Subscribe registers fn for changes of one attribute.
// The returned function removes the subscription.
func (r *Registry) Subscribe(device Address, id AttributeID, fn ChangeCallback) (unsubscribe func()) {
	return r.addSub(changeSub{key: attrKey{device: device, id: id}, fn: fn})
}

// SubscribeAll registers fn for every change.
func (r *Registry) SubscribeAll(fn ChangeCallback) (unsubscribe func()) {
	return r.addSub(changeSub{all: true, fn: fn})
}

// OnStaleChange registers fn for transitions of an attribute's stale flag.
func (r *Registry) OnStaleChange(fn func(AttributeState)) {
	r.subMu.Lock()
	r.staleFn = append(r.staleFn, fn)
	r.subMu.Unlock()
}

func (r *Registry) addSub(s changeSub) func() {
	r.subMu.Lock()
	r.nextSub++
	s.id = r.nextSub
	r.subs = append(r.subs, s)
	r.subMu.Unlock()

	return func() {
		r.subMu.Lock()
		defer r.subMu.Unlock()
		r.subs = slices.DeleteFunc(r.subs, func(x changeSub) bool { return x.id == s.id })
	}
}

func (r *Registry) notify(c Change) {
	key := attrKey{device: c.Device, id: c.ID}

	r.subMu.RLock()
	var fns []ChangeCallback
	for _, s := range r.subs {
		if s.all || s.key == key {
			fns = append(fns, s.fn)
		}
	}
	r.subMu.RUnlock()

	for _, fn := range fns {
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					r.log.get().Error("nasa change callback panic", "error", fmt.Sprint(rec))
				}
			}()
			fn(c)
		}()
	}
}

func (r *Registry) notifyStale(st AttributeState) {
	r.subMu.RLock()
	fns := slices.Clone(r.staleFn)
	r.subMu.RUnlock()

	for _, fn := range fns {
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					r.log.get().Error("nasa stale callback panic", "error", fmt.Sprint(rec))
				}
			}()
			fn(st)
		}()
	}
}

func compareAddress(a, b Address) int {
	if a.Class != b.Class {
		return int(a.Class) - int(b.Class)
	}
	if a.Channel != b.Channel {
		return int(a.Channel) - int(b.Channel)
	}
	return int(a.Unit) - int(b.Unit)
}

func compareState(a, b AttributeState) int {
	if c := compareAddress(a.Device, b.Device); c != 0 {
		return c
	}
	return int(a.ID) - int(b.ID)
}
