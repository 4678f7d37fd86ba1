package metrics

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/nerrad567/nasa-bridge/internal/nasa"
)

type fakeEngine struct {
	stats   nasa.ClientStats
	online  bool
	devices []nasa.Device
}

func (f *fakeEngine) Stats() nasa.ClientStats   { return f.stats }
func (f *fakeEngine) Online() bool              { return f.online }
func (f *fakeEngine) DeviceList() []nasa.Device { return f.devices }

var (
	indoor  = nasa.MustParseAddress("20.00.00")
	outdoor = nasa.MustParseAddress("10.00.00")
)

func TestObserveAttribute(t *testing.T) {
	m := New("")

	m.ObserveAttribute(nasa.AttributeState{
		Device: indoor, ID: nasa.AttrRoomTemperature, Name: "room_temperature",
		Kind: nasa.KindNumeric, Value: nasa.NumericValue(21.5),
	})
	m.ObserveAttribute(nasa.AttributeState{
		Device: indoor, ID: 0x0600, Kind: nasa.KindRaw, Value: nasa.RawValue([]byte{1, 2}),
	})

	got := testutil.ToFloat64(m.attributeValue.WithLabelValues("20.00.00", "0x4203", "room_temperature"))
	if got != 21.5 {
		t.Errorf("attribute value = %v, want 21.5", got)
	}
	if n := testutil.CollectAndCount(m.attributeValue); n != 1 {
		t.Errorf("attribute series = %d, want 1 (raw values have no gauge)", n)
	}
	if got := testutil.ToFloat64(m.attributeChanges.WithLabelValues("20.00.00")); got != 2 {
		t.Errorf("changes = %v, want 2", got)
	}
}

func TestObserveHVACAction(t *testing.T) {
	m := New("test")

	m.ObserveHVACAction(indoor, nasa.ActionHeating)
	m.ObserveHVACAction(indoor, nasa.ActionDefrosting)

	if got := testutil.ToFloat64(m.hvacAction.WithLabelValues("20.00.00", "heating")); got != 0 {
		t.Errorf("previous action gauge = %v, want 0", got)
	}
	if got := testutil.ToFloat64(m.hvacAction.WithLabelValues("20.00.00", "defrosting")); got != 1 {
		t.Errorf("current action gauge = %v, want 1", got)
	}
}

func TestOutcome(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, OutcomeOK},
		{fmt.Errorf("read: %w", nasa.ErrTimeout), OutcomeTimeout},
		{nasa.ErrRejected, OutcomeRejected},
		{errors.New("boom"), OutcomeError},
	}
	for _, tt := range tests {
		if got := Outcome(tt.err); got != tt.want {
			t.Errorf("Outcome(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestObserveRequestAndCommand(t *testing.T) {
	m := New("")

	m.ObserveRequest("read", 40*time.Millisecond, nil)
	m.ObserveRequest("read", 3*time.Second, nasa.ErrTimeout)
	m.ObserveCommand("set_mode", nil)
	m.ObserveHTTP("GET", "/api/v1/devices", 200)

	if got := testutil.ToFloat64(m.requests.WithLabelValues("read", OutcomeTimeout)); got != 1 {
		t.Errorf("timed out reads = %v", got)
	}
	if n := testutil.CollectAndCount(m.requestDuration); n != 1 {
		t.Errorf("duration series = %d, want 1", n)
	}
	if got := testutil.ToFloat64(m.commands.WithLabelValues("set_mode", OutcomeOK)); got != 1 {
		t.Errorf("commands = %v", got)
	}
	if got := testutil.ToFloat64(m.httpRequests.WithLabelValues("GET", "/api/v1/devices", "200")); got != 1 {
		t.Errorf("http requests = %v", got)
	}
}

func TestEngineCollector(t *testing.T) {
	src := &fakeEngine{
		online: true,
		stats: nasa.ClientStats{
			Session:    nasa.SessionStats{State: nasa.StateConnected, FramesRx: 42, FramesTx: 7, FramingErrors: 3},
			Correlator: nasa.CorrelatorStats{Succeeded: 5, TimedOut: 1, Pending: 2},
			Poller:     nasa.PollerStats{Cycles: 4, Failures: 3, Timeouts: 1, LastDuration: 1500 * time.Millisecond},
			Attributes: 12,
		},
		devices: []nasa.Device{
			{Address: indoor, Reachable: true, Messages: 30},
			{Address: outdoor, Messages: 12},
		},
	}
	c := newEngineCollector("nasabridge", src)

	expected := `
# HELP nasabridge_link_frames_received_total Valid frames decoded from the bridge.
# TYPE nasabridge_link_frames_received_total counter
nasabridge_link_frames_received_total 42
# HELP nasabridge_poller_failures_total Poller reads that failed.
# TYPE nasabridge_poller_failures_total counter
nasabridge_poller_failures_total{reason="error"} 2
nasabridge_poller_failures_total{reason="timeout"} 1
# HELP nasabridge_device_reachable 1 while the unit answers within the liveness window.
# TYPE nasabridge_device_reachable gauge
nasabridge_device_reachable{device="10.00.00"} 0
nasabridge_device_reachable{device="20.00.00"} 1
# HELP nasabridge_correlator_pending_requests Requests awaiting a reply.
# TYPE nasabridge_correlator_pending_requests gauge
nasabridge_correlator_pending_requests 2
`
	err := testutil.CollectAndCompare(c, strings.NewReader(expected),
		"nasabridge_link_frames_received_total",
		"nasabridge_poller_failures_total",
		"nasabridge_device_reachable",
		"nasabridge_correlator_pending_requests",
	)
	if err != nil {
		t.Error(err)
	}
}

func TestWatchEngine_Once(t *testing.T) {
	m := New("")
	src := &fakeEngine{}

	m.WatchEngine(src)
	m.WatchEngine(src) // would panic on duplicate registration
}

func TestHandler(t *testing.T) {
	m := New("nasabridge")
	m.WatchEngine(&fakeEngine{online: true})
	m.ObserveAttribute(nasa.AttributeState{
		Device: outdoor, ID: nasa.AttrOutdoorTemperature, Name: "outdoor_temperature",
		Kind: nasa.KindNumeric, Value: nasa.NumericValue(-3.5),
	})

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	for _, want := range []string{
		`nasabridge_attribute_value{attribute="0x8204",device="10.00.00",name="outdoor_temperature"} -3.5`,
		"nasabridge_link_online 1",
		"go_goroutines",
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("exposition missing %q", want)
		}
	}
}
