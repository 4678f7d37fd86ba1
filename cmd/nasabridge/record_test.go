package main

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/nasa-bridge/internal/device"
	"github.com/nerrad567/nasa-bridge/internal/infrastructure/config"
	"github.com/nerrad567/nasa-bridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/nasa-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/nasa-bridge/internal/infrastructure/metrics"
	"github.com/nerrad567/nasa-bridge/internal/nasa"
)

var indoor = nasa.MustParseAddress("20.00.00")

type fakeSource struct {
	mu       sync.Mutex
	catalog  *nasa.Catalog
	states   map[nasa.AttributeID]nasa.AttributeState
	stats    nasa.ClientStats
	changeFn nasa.ChangeCallback
	actionFn func(nasa.DerivedChange)
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		catalog: nasa.DefaultCatalog(),
		states:  make(map[nasa.AttributeID]nasa.AttributeState),
	}
}

func (f *fakeSource) Get(_ nasa.Address, id nasa.AttributeID) (nasa.AttributeState, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.states[id]
	return st, ok
}

func (f *fakeSource) Catalog() *nasa.Catalog { return f.catalog }

func (f *fakeSource) Stats() nasa.ClientStats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stats
}

func (f *fakeSource) OnChange(fn nasa.ChangeCallback) func() {
	f.mu.Lock()
	f.changeFn = fn
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		f.changeFn = nil
		f.mu.Unlock()
	}
}

func (f *fakeSource) OnHVACAction(fn func(nasa.DerivedChange)) {
	f.mu.Lock()
	f.actionFn = fn
	f.mu.Unlock()
}

// emit stores st and fires the change callback.
func (f *fakeSource) emit(st nasa.AttributeState) {
	f.mu.Lock()
	f.states[st.ID] = st
	fn := f.changeFn
	f.mu.Unlock()
	if fn != nil {
		fn(nasa.Change{Device: st.Device, ID: st.ID, Name: st.Name, New: st.Value, At: st.Updated})
	}
}

type fakeSeries struct {
	mu      sync.Mutex
	points  []influxdb.AttributePoint
	actions []string
	links   []map[string]uint64
}

func (f *fakeSeries) WriteAttribute(p influxdb.AttributePoint) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.points = append(f.points, p)
}

func (f *fakeSeries) WriteHVACAction(_, action string, _ time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.actions = append(f.actions, action)
}

func (f *fakeSeries) WriteLinkStats(_ string, counters map[string]uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.links = append(f.links, counters)
}

func (f *fakeSeries) linkCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.links)
}

type fakeHistory struct {
	mu      sync.Mutex
	changes []nasa.AttributeState
}

func (f *fakeHistory) RecordChange(_ context.Context, st nasa.AttributeState) error {
	if st.Value.Kind == nasa.KindRaw {
		return device.ErrNotRecorded
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.changes = append(f.changes, st)
	return nil
}

func (f *fakeHistory) GetHistory(context.Context, nasa.Address, nasa.AttributeID, int) ([]device.HistoryEntry, error) {
	return nil, nil
}

func (f *fakeHistory) PruneHistory(context.Context, time.Duration) (int64, error) {
	return 0, nil
}

func (f *fakeHistory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.changes)
}

func quietLogger() *logging.Logger {
	return logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")
}

func TestRecorder_FansOutChanges(t *testing.T) {
	src := newFakeSource()
	series := &fakeSeries{}
	history := &fakeHistory{}
	m := metrics.New("")

	rec := newRecorder(recorderOptions{
		Source:  src,
		Metrics: m,
		Series:  series,
		History: history,
		Logger:  quietLogger(),
	})
	ctx, cancel := context.WithCancel(context.Background())
	rec.Start(ctx, 0)

	src.emit(nasa.AttributeState{
		Device:  indoor,
		ID:      nasa.AttrRoomTemperature,
		Name:    "room_temperature",
		Kind:    nasa.KindNumeric,
		Value:   nasa.NumericValue(21.5),
		Updated: time.Now(),
	})
	src.emit(nasa.AttributeState{
		Device:  indoor,
		ID:      0x4601,
		Kind:    nasa.KindRaw,
		Value:   nasa.RawValue([]byte{0x01, 0x02}),
		Updated: time.Now(),
	})

	require.Eventually(t, func() bool { return history.count() == 1 }, 2*time.Second, 10*time.Millisecond)

	series.mu.Lock()
	require.Len(t, series.points, 1, "raw values are not written to InfluxDB")
	p := series.points[0]
	series.mu.Unlock()
	assert.Equal(t, "20.00.00", p.Device)
	assert.Equal(t, "0x4203", p.Attribute)
	assert.Equal(t, "°C", p.Unit)
	assert.InDelta(t, 21.5, p.Value, 0.001)

	n, err := testutil.GatherAndCount(m.Registry(), "nasabridge_attribute_changes_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	cancel()
	rec.Stop()

	src.mu.Lock()
	assert.Nil(t, src.changeFn, "Stop should unsubscribe")
	src.mu.Unlock()
}

func TestRecorder_HVACAction(t *testing.T) {
	src := newFakeSource()
	series := &fakeSeries{}
	m := metrics.New("")

	rec := newRecorder(recorderOptions{Source: src, Metrics: m, Series: series, Logger: quietLogger()})
	ctx, cancel := context.WithCancel(context.Background())
	rec.Start(ctx, 0)
	defer func() {
		cancel()
		rec.Stop()
	}()

	src.actionFn(nasa.DerivedChange{Device: indoor, Old: nasa.ActionIdle, New: nasa.ActionHeating, At: time.Now()})

	series.mu.Lock()
	assert.Equal(t, []string{"heating"}, series.actions)
	series.mu.Unlock()

	n, err := testutil.GatherAndCount(m.Registry(), "nasabridge_hvac_action")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRecorder_LinkStats(t *testing.T) {
	src := newFakeSource()
	src.stats.Session.FramesRx = 42
	series := &fakeSeries{}

	rec := newRecorder(recorderOptions{Source: src, Series: series, Logger: quietLogger(), Endpoint: "tcp://gw:8899"})
	ctx, cancel := context.WithCancel(context.Background())
	rec.Start(ctx, 20*time.Millisecond)

	require.Eventually(t, func() bool { return series.linkCount() > 0 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	rec.Stop()

	series.mu.Lock()
	defer series.mu.Unlock()
	assert.Equal(t, uint64(42), series.links[0]["frames_rx"])
}

func TestRecorder_NoSinks(t *testing.T) {
	src := newFakeSource()
	rec := newRecorder(recorderOptions{Source: src, Logger: quietLogger()})
	ctx, cancel := context.WithCancel(context.Background())
	rec.Start(ctx, time.Millisecond)

	src.emit(nasa.AttributeState{Device: indoor, ID: nasa.AttrQuietMode, Kind: nasa.KindBoolean, Value: nasa.BoolValue(true)})

	cancel()
	rec.Stop()
}

func TestAttributePoint(t *testing.T) {
	catalog := nasa.DefaultCatalog()
	now := time.Now()

	tests := []struct {
		name  string
		st    nasa.AttributeState
		ok    bool
		label string
		value float64
		pname string
	}{
		{
			name:  "enum carries option label",
			st:    nasa.AttributeState{Device: indoor, ID: nasa.AttrIndoorMode, Value: nasa.EnumValue(4), Updated: now},
			ok:    true,
			label: "heat",
			value: 4,
			pname: "indoor_mode",
		},
		{
			name:  "boolean",
			st:    nasa.AttributeState{Device: indoor, ID: nasa.AttrQuietMode, Name: "quiet_mode", Value: nasa.BoolValue(true), Updated: now},
			ok:    true,
			value: 1,
			pname: "quiet_mode",
		},
		{
			name: "raw skipped",
			st:   nasa.AttributeState{Device: indoor, ID: 0x4601, Value: nasa.RawValue([]byte{0xFF})},
		},
		{
			name: "unknown skipped",
			st:   nasa.AttributeState{Device: indoor, ID: nasa.AttrRoomTemperature},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec, _ := catalog.Lookup(tt.st.ID)
			p, ok := attributePoint(tt.st, spec)
			require.Equal(t, tt.ok, ok)
			if !ok {
				return
			}
			assert.Equal(t, tt.label, p.Label)
			assert.Equal(t, tt.pname, p.Name)
			assert.InDelta(t, tt.value, p.Value, 0.001)
			assert.Equal(t, now, p.Time)
		})
	}
}

func TestLinkCounters(t *testing.T) {
	var st nasa.ClientStats
	st.Session.FramesRx = 10
	st.Session.FramesTx = 4
	st.Session.FramingErrors = 2
	st.Correlator.TimedOut = 1
	st.Poller.Failures = 3

	got := linkCounters(st)
	assert.Equal(t, uint64(10), got["frames_rx"])
	assert.Equal(t, uint64(4), got["frames_tx"])
	assert.Equal(t, uint64(2), got["framing_errors"])
	assert.Equal(t, uint64(1), got["requests_timedout"])
	assert.Equal(t, uint64(3), got["poll_failures"])
	assert.Contains(t, got, "reconnects")
}
