package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/nerrad567/nasa-bridge/internal/audit"
	"github.com/nerrad567/nasa-bridge/internal/bridges/ehs"
	"github.com/nerrad567/nasa-bridge/internal/device"
	"github.com/nerrad567/nasa-bridge/internal/gateway"
	"github.com/nerrad567/nasa-bridge/internal/infrastructure/config"
	"github.com/nerrad567/nasa-bridge/internal/infrastructure/database"
	"github.com/nerrad567/nasa-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/nasa-bridge/internal/infrastructure/metrics"
	"github.com/nerrad567/nasa-bridge/internal/nasa"
	_ "github.com/nerrad567/nasa-bridge/migrations" // registers embedded schema
)

var (
	indoor  = nasa.MustParseAddress("20.00.00")
	outdoor = nasa.MustParseAddress("10.00.00")
)

// fakeEngine is an in-memory Engine.
type fakeEngine struct {
	mu      sync.Mutex
	catalog *nasa.Catalog
	states  map[nasa.Address]map[nasa.AttributeID]nasa.AttributeState
	devices []nasa.Device
	online  bool

	readErr  error
	writeErr error
	writes   []nasa.Value
	polls    int

	changeFns []nasa.ChangeCallback
	actionFns []func(nasa.DerivedChange)
	reachFns  []func(nasa.Device)
	availFns  []func(bool)
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		catalog: nasa.DefaultCatalog(),
		states:  make(map[nasa.Address]map[nasa.AttributeID]nasa.AttributeState),
		online:  true,
	}
}

func (f *fakeEngine) addDevice(d nasa.Device) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.devices = append(f.devices, d)
}

func (f *fakeEngine) set(st nasa.AttributeState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.states[st.Device] == nil {
		f.states[st.Device] = make(map[nasa.AttributeID]nasa.AttributeState)
	}
	f.states[st.Device][st.ID] = st
}

func (f *fakeEngine) setOnline(online bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.online = online
}

func (f *fakeEngine) ReadID(_ context.Context, dev nasa.Address, id nasa.AttributeID) (nasa.AttributeState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readErr != nil {
		return nasa.AttributeState{}, f.readErr
	}
	st, ok := f.states[dev][id]
	if !ok {
		return nasa.AttributeState{}, &nasa.TimeoutError{Device: dev, Attribute: id}
	}
	st.Updated = time.Now()
	return st, nil
}

func (f *fakeEngine) WriteID(_ context.Context, dev nasa.Address, id nasa.AttributeID, v nasa.Value) (nasa.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return nasa.Result{}, f.writeErr
	}
	if _, err := f.catalog.Encode(id, v); err != nil {
		return nasa.Result{}, err
	}
	f.writes = append(f.writes, v)
	return nasa.Result{Device: dev, Attribute: id, Echo: true, Latency: 5 * time.Millisecond}, nil
}

func (f *fakeEngine) Get(dev nasa.Address, id nasa.AttributeID) (nasa.AttributeState, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.states[dev][id]
	return st, ok
}

func (f *fakeEngine) Catalog() *nasa.Catalog { return f.catalog }

func (f *fakeEngine) Snapshot() []nasa.AttributeState {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []nasa.AttributeState
	for _, attrs := range f.states {
		for _, st := range attrs {
			out = append(out, st)
		}
	}
	return out
}

func (f *fakeEngine) DeviceList() []nasa.Device {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]nasa.Device(nil), f.devices...)
}

func (f *fakeEngine) Diagnostics(dev nasa.Address) (nasa.DeviceDiagnostics, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, d := range f.devices {
		if d.Address != dev {
			continue
		}
		diag := nasa.DeviceDiagnostics{Address: dev, Online: d.Reachable, LastPacket: d.LastSeen}
		for _, st := range f.states[dev] {
			diag.Attributes++
			if st.Stale {
				diag.StaleAttribute++
			}
		}
		if dev.IsIndoor() {
			diag.HVACAction = nasa.ActionIdle.String()
		}
		return diag, true
	}
	return nasa.DeviceDiagnostics{}, false
}

func (f *fakeEngine) Online() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.online
}

func (f *fakeEngine) Stats() nasa.ClientStats {
	f.mu.Lock()
	defer f.mu.Unlock()
	state := nasa.StateConnected
	if !f.online {
		state = nasa.StateConnecting
	}
	return nasa.ClientStats{
		Session:    nasa.SessionStats{State: state, FramesRx: 42, FramesTx: 7},
		Correlator: nasa.CorrelatorStats{Issued: 7, Succeeded: 6, TimedOut: 1},
		Poller:     nasa.PollerStats{Cycles: 3},
		Devices:    len(f.devices),
	}
}

func (f *fakeEngine) PollNow(context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls++
	return true
}

func (f *fakeEngine) OnChange(fn nasa.ChangeCallback) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.changeFns = append(f.changeFns, fn)
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.changeFns = nil
	}
}

func (f *fakeEngine) OnHVACAction(fn func(nasa.DerivedChange)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.actionFns = append(f.actionFns, fn)
}

func (f *fakeEngine) OnDeviceReachability(fn func(nasa.Device)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reachFns = append(f.reachFns, fn)
}

func (f *fakeEngine) OnAvailability(fn func(bool)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.availFns = append(f.availFns, fn)
}

// emitChange stores st and fires the change callbacks.
func (f *fakeEngine) emitChange(st nasa.AttributeState) {
	f.set(st)
	f.mu.Lock()
	fns := append([]nasa.ChangeCallback(nil), f.changeFns...)
	f.mu.Unlock()
	for _, fn := range fns {
		fn(nasa.Change{Device: st.Device, ID: st.ID, Name: st.Name, New: st.Value, At: st.Updated})
	}
}

func (f *fakeEngine) emitAction(c nasa.DerivedChange) {
	f.mu.Lock()
	fns := slices.Clone(f.actionFns)
	f.mu.Unlock()
	for _, fn := range fns {
		fn(c)
	}
}

// fakeExecutor answers commands without a bus.
type fakeExecutor struct {
	mu   sync.Mutex
	cmds []ehs.CommandMessage
	ack  func(address string, cmd ehs.CommandMessage) ehs.AckMessage
}

func (e *fakeExecutor) Execute(_ context.Context, address string, cmd ehs.CommandMessage) ehs.AckMessage {
	e.mu.Lock()
	e.cmds = append(e.cmds, cmd)
	e.mu.Unlock()
	if e.ack != nil {
		return e.ack(address, cmd)
	}
	return ehs.NewAckMessage(cmd, address, ehs.AckAccepted, []string{"0x406E"})
}

// testEnv bundles a server with its fakes and stores.
type testEnv struct {
	srv      *Server
	engine   *fakeEngine
	commands *fakeExecutor
	devices  *device.SQLiteRepository
	history  *device.SQLiteHistoryRepository
	audit    *audit.Trail
	metrics  *metrics.Metrics
	router   http.Handler
}

func testLogger() *logging.Logger {
	return logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")
}

// setupTestDB opens a temporary database with the real migrations applied.
func setupTestDB(t *testing.T) *database.DB {
	t.Helper()

	db, err := database.Open(database.Config{
		Path:        filepath.Join(t.TempDir(), "api.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return db
}

func testDeps(engine Engine, port int) Deps {
	return Deps{
		Config: config.APIConfig{
			Host: "127.0.0.1",
			Port: port,
			Timeouts: config.APITimeoutConfig{
				Read:  5,
				Write: 5,
				Idle:  5,
			},
		},
		WS: config.WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logger:  testLogger(),
		Engine:  engine,
		Version: "test",
	}
}

// testServer creates a Server over a fake engine with real SQLite stores.
func testServer(t *testing.T) *testEnv {
	t.Helper()

	db := setupTestDB(t)
	env := &testEnv{
		engine:   newFakeEngine(),
		commands: &fakeExecutor{},
		devices:  device.NewSQLiteRepository(db.DB),
		history:  device.NewSQLiteHistoryRepository(db.DB),
		audit:    audit.NewTrail(audit.NewSQLiteRepository(db.DB)),
		metrics:  metrics.New(""),
	}

	deps := testDeps(env.engine, 0)
	deps.Commands = env.commands
	deps.Devices = env.devices
	deps.History = env.history
	deps.Audit = env.audit
	deps.Metrics = env.metrics
	deps.MetricsPath = "/metrics"

	srv, err := New(deps)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	env.srv = srv
	env.router = srv.buildRouter()
	return env
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal %q: %v", w.Body.String(), err)
	}
	return resp
}

func TestNew_RequiresLoggerAndEngine(t *testing.T) {
	if _, err := New(Deps{Engine: newFakeEngine()}); err == nil {
		t.Error("New() without logger should fail")
	}
	if _, err := New(Deps{Logger: testLogger()}); err == nil {
		t.Error("New() without engine should fail")
	}
}

// ─── Health and System ─────────────────────────────────────────────

func TestHealth(t *testing.T) {
	env := testServer(t)
	env.engine.addDevice(nasa.Device{Address: indoor, Reachable: true})

	w := env.do(t, http.MethodGet, "/api/v1/health", "")
	if w.Code != http.StatusOK {
		t.Errorf("health status = %d, want %d", w.Code, http.StatusOK)
	}

	resp := decode(t, w)
	if resp["status"] != "ok" {
		t.Errorf("status = %v, want ok", resp["status"])
	}
	if resp["version"] != "test" {
		t.Errorf("version = %v, want test", resp["version"])
	}
	if resp["connection"] != "connected" {
		t.Errorf("connection = %v, want connected", resp["connection"])
	}
	if resp["devices"] != float64(1) {
		t.Errorf("devices = %v, want 1", resp["devices"])
	}
}

func TestHealth_Degraded(t *testing.T) {
	env := testServer(t)
	env.engine.setOnline(false)

	w := env.do(t, http.MethodGet, "/api/v1/health", "")
	if w.Code != http.StatusOK {
		t.Errorf("health status = %d, want %d", w.Code, http.StatusOK)
	}
	if got := decode(t, w)["status"]; got != "degraded" {
		t.Errorf("status = %v, want degraded", got)
	}
}

func TestHealth_ContentType(t *testing.T) {
	env := testServer(t)

	w := env.do(t, http.MethodGet, "/api/v1/health", "")
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want %q", ct, "application/json")
	}
}

func TestSystemStatus(t *testing.T) {
	env := testServer(t)

	w := env.do(t, http.MethodGet, "/api/v1/system", "")
	if w.Code != http.StatusOK {
		t.Fatalf("system status = %d, want %d", w.Code, http.StatusOK)
	}

	var status SystemStatus
	if err := json.Unmarshal(w.Body.Bytes(), &status); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if status.Version != "test" {
		t.Errorf("Version = %q, want test", status.Version)
	}
	if status.Link.State != "connected" || !status.Link.Online {
		t.Errorf("Link = %+v, want connected and online", status.Link)
	}
	if status.Link.FramesRx != 42 {
		t.Errorf("FramesRx = %d, want 42", status.Link.FramesRx)
	}
	if status.Requests.TimedOut != 1 {
		t.Errorf("Requests.TimedOut = %d, want 1", status.Requests.TimedOut)
	}
	if status.Runtime.Goroutines == 0 {
		t.Error("Runtime.Goroutines = 0")
	}
}

type fakeGateway struct{ stats gateway.Stats }

func (g fakeGateway) Stats() gateway.Stats { return g.stats }

func TestSystemStatus_Gateway(t *testing.T) {
	env := testServer(t)

	status := decode(t, env.do(t, http.MethodGet, "/api/v1/system", ""))
	if _, ok := status["gateway"]; ok {
		t.Errorf("gateway reported without a supervisor: %v", status["gateway"])
	}

	env.srv.gateway = fakeGateway{stats: gateway.Stats{Name: "ser2net", State: gateway.StateRunning, PID: 4242, Restarts: 1}}
	w := env.do(t, http.MethodGet, "/api/v1/system", "")
	gw, ok := decode(t, w)["gateway"].(map[string]any)
	if !ok {
		t.Fatalf("gateway missing: %s", w.Body.String())
	}
	if gw["name"] != "ser2net" || gw["state"] != "running" || gw["pid"] != float64(4242) || gw["restarts"] != float64(1) {
		t.Errorf("gateway = %v", gw)
	}
}

func TestCatalog(t *testing.T) {
	env := testServer(t)

	w := env.do(t, http.MethodGet, "/api/v1/catalog", "")
	if w.Code != http.StatusOK {
		t.Fatalf("catalog status = %d, want %d", w.Code, http.StatusOK)
	}

	var resp struct {
		Attributes []catalogEntry `json:"attributes"`
		Count      int            `json:"count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Count != len(nasa.DefaultCatalog().Specs()) {
		t.Errorf("count = %d, want %d", resp.Count, len(nasa.DefaultCatalog().Specs()))
	}

	var target *catalogEntry
	for i := range resp.Attributes {
		if resp.Attributes[i].Name == "room_target" {
			target = &resp.Attributes[i]
		}
	}
	if target == nil {
		t.Fatal("room_target missing from catalog")
	}
	if target.ID != "0x4201" || !target.Writable || target.Unit != "°C" {
		t.Errorf("room_target = %+v", *target)
	}
	if target.Min == nil || *target.Min != 8 || target.Max == nil || *target.Max != 30 {
		t.Errorf("room_target bounds = %v..%v, want 8..30", target.Min, target.Max)
	}
}

func TestPollNow(t *testing.T) {
	env := testServer(t)

	w := env.do(t, http.MethodPost, "/api/v1/poll", "")
	if w.Code != http.StatusOK {
		t.Fatalf("poll status = %d, want %d", w.Code, http.StatusOK)
	}
	if decode(t, w)["ran"] != true {
		t.Error("ran = false, want true")
	}
	if env.engine.polls != 1 {
		t.Errorf("polls = %d, want 1", env.engine.polls)
	}
}

// ─── Middleware Tests ──────────────────────────────────────────────

func TestRequestID_Generated(t *testing.T) {
	env := testServer(t)

	w := env.do(t, http.MethodGet, "/api/v1/health", "")
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header to be set")
	}
}

func TestRequestID_PreservesClient(t *testing.T) {
	env := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "client-123")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	if got := w.Header().Get("X-Request-ID"); got != "client-123" {
		t.Errorf("X-Request-ID = %q, want %q", got, "client-123")
	}
}

func TestRecoverer(t *testing.T) {
	env := testServer(t)

	var seenID string
	h := requestID(env.srv.accessLog(env.srv.recoverer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seenID = middleware.GetReqID(r.Context())
		panic("decoder exploded")
	}))))

	req := httptest.NewRequest(http.MethodGet, "/boom", nil)
	req.Header.Set("X-Request-ID", "req-7")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
	if seenID != "req-7" {
		t.Errorf("request id in context = %q", seenID)
	}
	if !strings.Contains(w.Body.String(), "internal server error") {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestOriginAllowed(t *testing.T) {
	env := testServer(t)
	tests := []struct {
		allowed []string
		origin  string
		want    bool
	}{
		{nil, "http://anything", true},
		{[]string{"*"}, "http://anything", true},
		{[]string{"http://panel.local"}, "http://panel.local", true},
		{[]string{"http://panel.local"}, "http://evil.example", false},
	}

	for _, tt := range tests {
		env.srv.cfg.CORS.AllowedOrigins = tt.allowed
		if got := env.srv.originAllowed(tt.origin); got != tt.want {
			t.Errorf("originAllowed(%q) with %v = %v", tt.origin, tt.allowed, got)
		}
	}
}

func TestCORS_Preflight(t *testing.T) {
	env := testServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/health", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("ACAO = %q, want %q", got, "http://localhost:3000")
	}
}

func TestCORS_DisallowedOrigin(t *testing.T) {
	env := testServer(t)
	env.srv.cfg.CORS.AllowedOrigins = []string{"http://panel.local"}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("Origin", "http://evil.example")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("ACAO = %q, want empty", got)
	}
}

func TestNotFound(t *testing.T) {
	env := testServer(t)

	w := env.do(t, http.MethodGet, "/api/v1/nonexistent", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown route status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := testServer(t)

	env.do(t, http.MethodGet, "/api/v1/health", "")
	w := env.do(t, http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("metrics status = %d, want %d", w.Code, http.StatusOK)
	}

	body := w.Body.String()
	for _, want := range []string{
		"nasabridge_http_requests_total",
		`code="200"`,
		`method="GET"`,
		"go_goroutines",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestMetricsEndpoint_DisabledWithoutMetrics(t *testing.T) {
	srv, err := New(testDeps(newFakeEngine(), 0))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("metrics status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

// ─── Device Tests ──────────────────────────────────────────────────

func TestListDevices_Empty(t *testing.T) {
	env := testServer(t)

	w := env.do(t, http.MethodGet, "/api/v1/devices", "")
	if w.Code != http.StatusOK {
		t.Fatalf("list status = %d, want %d", w.Code, http.StatusOK)
	}
	resp := decode(t, w)
	if resp["count"] != float64(0) {
		t.Errorf("count = %v, want 0", resp["count"])
	}
	if resp["online"] != true {
		t.Errorf("online = %v, want true", resp["online"])
	}
}

func TestListDevices_MergesPersisted(t *testing.T) {
	env := testServer(t)
	seen := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)
	env.engine.addDevice(nasa.Device{Address: indoor, Reachable: true, FirstSeen: seen, LastSeen: seen, Messages: 10})

	stored := []nasa.Device{
		{Address: indoor, FirstSeen: seen, LastSeen: seen, Messages: 3},
		{Address: outdoor, FirstSeen: seen, LastSeen: seen, Messages: 5},
	}
	if err := env.devices.SaveDevices(context.Background(), stored); err != nil {
		t.Fatalf("SaveDevices() error = %v", err)
	}

	w := env.do(t, http.MethodGet, "/api/v1/devices", "")
	if w.Code != http.StatusOK {
		t.Fatalf("list status = %d, want %d", w.Code, http.StatusOK)
	}

	var resp struct {
		Devices []struct {
			Address    string `json:"address"`
			Class      string `json:"class"`
			Messages   uint64 `json:"messages"`
			HVACAction string `json:"hvac_action"`
			Persisted  bool   `json:"persisted"`
		} `json:"devices"`
		Count int `json:"count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Count != 2 {
		t.Fatalf("count = %d, want 2", resp.Count)
	}

	live, persisted := resp.Devices[0], resp.Devices[1]
	if live.Address != "20.00.00" || live.Persisted || live.Messages != 10 {
		t.Errorf("live device = %+v", live)
	}
	if live.HVACAction != "idle" {
		t.Errorf("live hvac_action = %q, want idle", live.HVACAction)
	}
	if persisted.Address != "10.00.00" || !persisted.Persisted {
		t.Errorf("persisted device = %+v", persisted)
	}
	if persisted.Class != outdoor.Class.String() {
		t.Errorf("persisted class = %q, want %q", persisted.Class, outdoor.Class.String())
	}
}

func TestGetDevice(t *testing.T) {
	env := testServer(t)
	env.engine.addDevice(nasa.Device{Address: indoor, Reachable: true})
	env.engine.set(nasa.AttributeState{Device: indoor, ID: nasa.AttrRoomTemperature, Value: nasa.NumericValue(21.5), Stale: true})

	w := env.do(t, http.MethodGet, "/api/v1/devices/20.00.00", "")
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d, want %d", w.Code, http.StatusOK)
	}
	resp := decode(t, w)
	if resp["address"] != "20.00.00" {
		t.Errorf("address = %v, want 20.00.00", resp["address"])
	}
	if resp["attributes"] != float64(1) || resp["stale_attributes"] != float64(1) {
		t.Errorf("attributes = %v stale = %v, want 1 and 1", resp["attributes"], resp["stale_attributes"])
	}
}

func TestGetDevice_NotFound(t *testing.T) {
	env := testServer(t)

	w := env.do(t, http.MethodGet, "/api/v1/devices/20.00.01", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("get status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestGetDevice_BadAddress(t *testing.T) {
	env := testServer(t)

	w := env.do(t, http.MethodGet, "/api/v1/devices/not-an-address", "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("get status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestForgetDevice(t *testing.T) {
	env := testServer(t)
	ctx := context.Background()
	if err := env.devices.SaveDevices(ctx, []nasa.Device{{Address: outdoor, FirstSeen: time.Now(), LastSeen: time.Now()}}); err != nil {
		t.Fatalf("SaveDevices() error = %v", err)
	}

	w := env.do(t, http.MethodDelete, "/api/v1/devices/10.00.00", "")
	if w.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d, want %d", w.Code, http.StatusNoContent)
	}

	records, err := env.devices.ListDevices(ctx)
	if err != nil {
		t.Fatalf("ListDevices() error = %v", err)
	}
	if len(records) != 0 {
		t.Errorf("records after delete = %d, want 0", len(records))
	}

	w = env.do(t, http.MethodDelete, "/api/v1/devices/10.00.00", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestForgetDevice_NoRepository(t *testing.T) {
	srv, err := New(testDeps(newFakeEngine(), 0))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/devices/10.00.00", nil)
	w := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("delete status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}

// ─── Lifecycle ─────────────────────────────────────────────────────

func TestServer_StartAndClose(t *testing.T) {
	srv, err := New(testDeps(newFakeEngine(), 0))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := srv.HealthCheck(ctx); err == nil {
		t.Error("HealthCheck() before Start should fail")
	}
	if err := srv.Start(ctx); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if err := srv.HealthCheck(ctx); err != nil {
		t.Errorf("HealthCheck() error: %v", err)
	}

	resp, err := http.Get(fmt.Sprintf("http://%s/api/v1/health", srv.Addr()))
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	if err := srv.Close(); err != nil {
		t.Errorf("Close() error: %v", err)
	}
	if _, err := http.Get(fmt.Sprintf("http://%s/api/v1/health", srv.Addr())); err == nil {
		t.Error("expected connection error after Close")
	}
}

func TestServer_CloseWithoutStart(t *testing.T) {
	srv, err := New(testDeps(newFakeEngine(), 0))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if err := srv.Close(); err != nil {
		t.Errorf("Close() error: %v", err)
	}
}
