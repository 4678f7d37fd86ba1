package ehs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/nasa-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/nasa-bridge/internal/nasa"
)

// Bridge operation constants.
const (
	// minTopicParts is the minimum number of parts in a valid MQTT topic.
	minTopicParts = 4

	// commandTimeout bounds a whole command (all of its writes).
	commandTimeout = 15 * time.Second

	// requestTimeout bounds a read or write request.
	requestTimeout = 10 * time.Second

	// topicHVACAction is the attribute segment of the derived action topic.
	topicHVACAction = "hvac_action"

	qosAtLeastOnce byte = 1

	// maxInflightMessages bounds the commands and requests handled at once.
	// Messages arriving beyond it are dropped with a warning.
	maxInflightMessages = 16

	// sourceMQTT marks audit entries for requests received over MQTT.
	sourceMQTT = "mqtt"
)

// Bridge translates between the NASA engine and MQTT.
// It handles:
//   - Publishing attribute changes, derived HVAC actions and availability
//   - Executing commands and requests received over MQTT
//   - Health reporting and graceful shutdown
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	engine Engine
	mqtt   MQTTClient
	health *HealthReporter
	topics mqtt.Topics

	bridgeID           string
	waterOutletControl bool
	recorder           Recorder
	auditor            Auditor

	// State cache for change detection
	stateCache   map[string]stateCacheValue
	stateCacheMu sync.Mutex

	// Inbound MQTT handlers run off the client's delivery goroutine.
	inflight   chan struct{}
	handlers   sync.WaitGroup
	dispatchMu sync.Mutex
	stopping   bool

	// Shutdown coordination
	wg        sync.WaitGroup
	stopOnce  sync.Once
	ctx       context.Context    // Bridge-level context, cancelled on Stop()
	ctxCancel context.CancelFunc // Cancel function for ctx
	unsub     func()

	logger   Logger
	loggerMu sync.RWMutex
}

// Logger is the structured logging interface used by the bridge.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// MQTTClient is the interface for MQTT operations.
// It is satisfied by *mqtt.Client.
type MQTTClient interface {
	// Publish sends a message to a topic.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// Subscribe registers a handler for a topic pattern.
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error

	// IsConnected returns true if connected to the broker.
	IsConnected() bool
}

// Engine is the part of *nasa.Client the bridge drives.
type Engine interface {
	ReadID(ctx context.Context, device nasa.Address, id nasa.AttributeID) (nasa.AttributeState, error)
	WriteID(ctx context.Context, device nasa.Address, id nasa.AttributeID, v nasa.Value) (nasa.Result, error)
	Get(device nasa.Address, id nasa.AttributeID) (nasa.AttributeState, bool)
	Catalog() *nasa.Catalog

	OnChange(fn nasa.ChangeCallback) (unsubscribe func())
	OnStaleChange(fn func(nasa.AttributeState))
	OnHVACAction(fn func(nasa.DerivedChange))
	OnDeviceReachability(fn func(nasa.Device))
	OnAvailability(fn func(online bool))

	Online() bool
	DeviceList() []nasa.Device
	Diagnostics(device nasa.Address) (nasa.DeviceDiagnostics, bool)
	Stats() nasa.ClientStats
	PollNow(ctx context.Context) bool
	Track(device nasa.Address, ids ...nasa.AttributeID)
}

// Recorder receives command and request outcomes, for metrics.
type Recorder interface {
	ObserveCommand(command string, err error)
	ObserveRequest(operation string, took time.Duration, err error)
}

// Auditor records writes and commands. It is satisfied by *audit.Trail.
type Auditor interface {
	RecordWrite(ctx context.Context, source string, device nasa.Address, id nasa.AttributeID, v nasa.Value, err error)
	RecordCommand(ctx context.Context, source, address, command string, params map[string]any, writes []string, err error)
}

// BridgeOptions holds configuration for creating a bridge.
type BridgeOptions struct {
	// BridgeID identifies this bridge in health messages.
	BridgeID string

	// Version is reported in health messages.
	Version string

	// HealthInterval is how often health is published. Default: 30s.
	HealthInterval time.Duration

	// Endpoint is the gateway location reported in health messages.
	Endpoint string

	// WaterOutletControl makes set_target_temperature drive the water
	// outlet target (heat/cool) and the water law offset (auto).
	WaterOutletControl bool

	// Engine is the NASA engine.
	Engine Engine

	// MQTTClient is the MQTT client implementation.
	MQTTClient MQTTClient

	// Recorder is optional.
	Recorder Recorder

	// Auditor is optional.
	Auditor Auditor

	// Logger is optional structured logger.
	Logger Logger
}

// NewBridge creates a new bridge instance.
// Call Start() to begin operation.
func NewBridge(opts BridgeOptions) (*Bridge, error) {
	if opts.Engine == nil {
		return nil, fmt.Errorf("%w: engine is required", ErrInvalidConfig)
	}
	if opts.MQTTClient == nil {
		return nil, fmt.Errorf("%w: MQTT client is required", ErrInvalidConfig)
	}
	if opts.BridgeID == "" {
		return nil, fmt.Errorf("%w: bridge id is required", ErrInvalidConfig)
	}

	ctx, ctxCancel := context.WithCancel(context.Background())

	b := &Bridge{
		engine:             opts.Engine,
		mqtt:               opts.MQTTClient,
		bridgeID:           opts.BridgeID,
		waterOutletControl: opts.WaterOutletControl,
		recorder:           opts.Recorder,
		auditor:            opts.Auditor,
		stateCache:         make(map[string]stateCacheValue),
		inflight:           make(chan struct{}, maxInflightMessages),
		ctx:                ctx,
		ctxCancel:          ctxCancel,
		logger:             opts.Logger,
	}

	b.health = NewHealthReporter(HealthReporterConfig{
		BridgeID:  opts.BridgeID,
		Version:   opts.Version,
		Interval:  opts.HealthInterval,
		Endpoint:  opts.Endpoint,
		Publisher: opts.MQTTClient,
		Engine:    opts.Engine,
	})
	if opts.Logger != nil {
		b.health.SetLogger(opts.Logger)
	}

	return b, nil
}

// Start subscribes to command and request topics, hooks engine events and
// starts health reporting.
func (b *Bridge) Start(ctx context.Context) error {
	if err := b.health.PublishStarting(); err != nil {
		b.logError("failed to publish starting status", err)
	}

	b.unsub = b.engine.OnChange(b.handleChange)
	b.engine.OnStaleChange(b.publishState)
	b.engine.OnHVACAction(b.handleHVACAction)
	b.engine.OnDeviceReachability(func(d nasa.Device) { b.publishAvailability(d.Address, d.Reachable) })
	b.engine.OnAvailability(b.handleAvailability)

	commandTopic := b.topics.AllCommands(mqtt.ProtocolNASA)
	if err := b.mqtt.Subscribe(commandTopic, qosAtLeastOnce, b.handleMQTTMessage); err != nil {
		return fmt.Errorf("subscribe to commands: %w", err)
	}
	b.logInfo("subscribed to commands", "topic", commandTopic)

	requestTopic := b.topics.AllRequests(mqtt.ProtocolNASA)
	if err := b.mqtt.Subscribe(requestTopic, qosAtLeastOnce, b.handleMQTTMessage); err != nil {
		return fmt.Errorf("subscribe to requests: %w", err)
	}
	b.logInfo("subscribed to requests", "topic", requestTopic)

	b.health.Start(ctx)

	b.logInfo("bridge started",
		"bridge_id", b.bridgeID,
		"devices", len(b.engine.DeviceList()))

	return nil
}

// Stop gracefully shuts down the bridge.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		b.dispatchMu.Lock()
		b.stopping = true
		b.dispatchMu.Unlock()

		b.ctxCancel()

		if b.unsub != nil {
			b.unsub()
		}

		// Publishes "stopping"
		b.health.Stop()

		b.handlers.Wait()
		b.wg.Wait()

		b.logInfo("bridge stopped")
	})
}

// PublishAll publishes the current value of every known attribute and the
// availability of every device. Called after a restore or reconnect.
func (b *Bridge) PublishAll(states []nasa.AttributeState) {
	for _, st := range states {
		b.publishState(st)
	}
	online := b.engine.Online()
	for _, d := range b.engine.DeviceList() {
		b.publishAvailability(d.Address, online && d.Reachable)
	}
}

// =============================================================================
// Engine -> MQTT
// =============================================================================

func (b *Bridge) handleChange(c nasa.Change) {
	st, ok := b.engine.Get(c.Device, c.ID)
	if !ok {
		return
	}
	b.publishState(st)
}

// publishState publishes one attribute unless the cache already holds the
// same value and stale flag.
func (b *Bridge) publishState(st nasa.AttributeState) {
	seg := attributeSegment(st)
	cacheKey := st.Device.String() + "/" + seg
	if b.stateUnchanged(cacheKey, stateCacheValue{value: st.Value.Interface(), stale: st.Stale}) {
		return
	}

	spec, _ := b.engine.Catalog().Lookup(st.ID)
	msg := NewStateMessage(st, spec)
	payload, err := json.Marshal(msg)
	if err != nil {
		b.logError("failed to marshal state", err)
		return
	}

	topic := b.topics.AttributeState(mqtt.ProtocolNASA, st.Device.String(), seg)
	if err := b.mqtt.Publish(topic, payload, qosAtLeastOnce, true); err != nil {
		b.logError("failed to publish state", err)
		return
	}
	b.logDebug("published state", "topic", topic, "value", st.Value.String(), "stale", st.Stale)
}

func (b *Bridge) handleHVACAction(c nasa.DerivedChange) {
	msg := ActionMessage{
		Address:   c.Device.String(),
		Action:    c.New.String(),
		Timestamp: c.At.UTC(),
	}
	if c.Old != nasa.ActionUnknown {
		msg.Previous = c.Old.String()
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		b.logError("failed to marshal hvac action", err)
		return
	}

	topic := b.topics.AttributeState(mqtt.ProtocolNASA, c.Device.String(), topicHVACAction)
	if err := b.mqtt.Publish(topic, payload, qosAtLeastOnce, true); err != nil {
		b.logError("failed to publish hvac action", err)
		return
	}
	b.logInfo("hvac action changed", "device", c.Device.String(), "action", msg.Action)
}

// handleAvailability republishes every device when the gateway connection
// goes up or down: a device is online only while both are.
func (b *Bridge) handleAvailability(online bool) {
	for _, d := range b.engine.DeviceList() {
		b.publishAvailability(d.Address, online && d.Reachable)
	}
	if err := b.health.PublishNow(); err != nil {
		b.logError("failed to publish health", err)
	}
}

func (b *Bridge) publishAvailability(device nasa.Address, reachable bool) {
	payload := PayloadOffline
	if reachable && b.engine.Online() {
		payload = PayloadOnline
	}
	topic := b.topics.Availability(mqtt.ProtocolNASA, device.String())
	if err := b.mqtt.Publish(topic, []byte(payload), qosAtLeastOnce, true); err != nil {
		b.logError("failed to publish availability", err)
	}
}

// attributeSegment is the topic segment of an attribute: its catalog name
// when known, else the hex id.
func attributeSegment(st nasa.AttributeState) string {
	if st.Name != "" {
		return st.Name
	}
	return st.ID.String()
}

type stateCacheValue struct {
	value any
	stale bool
}

// stateUnchanged checks if the new value matches the cached state.
// Returns true if unchanged (should skip publish).
func (b *Bridge) stateUnchanged(key string, v stateCacheValue) bool {
	b.stateCacheMu.Lock()
	defer b.stateCacheMu.Unlock()

	if cached, ok := b.stateCache[key]; ok && cached == v {
		return true
	}
	b.stateCache[key] = v
	return false
}

// ClearStateCache forgets published values so the next change of every
// attribute is published again (e.g. after an MQTT reconnect).
func (b *Bridge) ClearStateCache() {
	b.stateCacheMu.Lock()
	defer b.stateCacheMu.Unlock()
	b.stateCache = make(map[string]stateCacheValue)
}

// =============================================================================
// MQTT -> Engine
// =============================================================================

// handleMQTTMessage routes incoming MQTT messages to appropriate handlers.
// Topic layout: nasabridge/{command|request}/nasa/{address|request_id}
//
// It runs on the MQTT client's delivery goroutine, which must not block,
// so the handler itself runs on its own goroutine.
func (b *Bridge) handleMQTTMessage(topic string, payload []byte) error {
	parts := strings.Split(topic, "/")
	if len(parts) < minTopicParts {
		return fmt.Errorf("invalid topic format: %s", topic)
	}

	key := parts[3]
	switch parts[1] {
	case "command":
		b.dispatch(topic, func() { b.handleCommand(key, payload) })
	case "request":
		b.dispatch(topic, func() { b.handleRequest(key, payload) })
	default:
		return fmt.Errorf("unknown message type: %s", parts[1])
	}
	return nil
}

// dispatch runs fn on a new goroutine unless maxInflightMessages handlers
// are already running or the bridge is stopping. It never blocks.
func (b *Bridge) dispatch(topic string, fn func()) bool {
	select {
	case b.inflight <- struct{}{}:
	default:
		b.logWarn("dropping MQTT message, too many in flight",
			"topic", topic,
			"limit", maxInflightMessages)
		return false
	}

	b.dispatchMu.Lock()
	if b.stopping {
		b.dispatchMu.Unlock()
		<-b.inflight
		return false
	}
	b.handlers.Add(1)
	b.dispatchMu.Unlock()

	go func() {
		defer func() {
			<-b.inflight
			b.handlers.Done()
		}()
		fn()
	}()
	return true
}

// handleCommand runs a command received over MQTT and publishes its ack.
func (b *Bridge) handleCommand(address string, payload []byte) {
	var cmd CommandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		b.logError("failed to parse command", err)
		return
	}
	if cmd.Source == "" {
		cmd.Source = sourceMQTT
	}
	b.publishAck(b.Execute(b.ctx, address, cmd))
}

// Execute plans a command and runs its writes in order against the unit
// at address. The ack is returned once every write has been acknowledged
// or the first one fails; it is not published.
func (b *Bridge) Execute(ctx context.Context, address string, cmd CommandMessage) AckMessage {
	if cmd.ID == "" {
		cmd.ID = uuid.NewString()
	}

	b.logInfo("received command",
		"command_id", cmd.ID,
		"address", address,
		"command", cmd.Command)

	device, writes, err := b.planCommand(address, cmd)
	if err != nil {
		return b.commandFailed(cmd, address, errorCode(err), err)
	}

	written, err := b.runWrites(ctx, device, writes)
	if b.auditor != nil {
		b.auditor.RecordCommand(ctx, cmd.Source, address, cmd.Command, cmd.Parameters, written, err)
	}
	if err != nil {
		return b.commandFailed(cmd, address, errorCode(err), err)
	}

	if b.recorder != nil {
		b.recorder.ObserveCommand(cmd.Command, nil)
	}
	return NewAckMessage(cmd, address, AckAccepted, written)
}

// planCommand validates the target address and resolves cmd into writes.
// Nothing is sent to the bus.
func (b *Bridge) planCommand(address string, cmd CommandMessage) (nasa.Address, []attrWrite, error) {
	device, err := nasa.ParseAddress(address)
	if err != nil {
		return nasa.Address{}, nil, err
	}

	p := &planner{
		catalog: b.engine.Catalog(),
		state: func(id nasa.AttributeID) (nasa.AttributeState, bool) {
			return b.engine.Get(device, id)
		},
		waterOutletControl: b.waterOutletControl,
	}
	writes, err := p.plan(cmd.Command, cmd.Parameters)
	if err != nil {
		return nasa.Address{}, nil, err
	}
	return device, writes, nil
}

// runWrites performs writes in order. It returns the attributes written
// before the first failure.
func (b *Bridge) runWrites(ctx context.Context, device nasa.Address, writes []attrWrite) ([]string, error) {
	b.wg.Add(1)
	defer b.wg.Done()

	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	written := make([]string, 0, len(writes))
	for _, w := range writes {
		if _, err := b.engine.WriteID(ctx, device, w.ID, w.Value); err != nil {
			return written, fmt.Errorf("write %s: %w", w.ID, err)
		}
		written = append(written, w.ID.String())
	}
	return written, nil
}

// commandFailed logs and records a failed command and builds its ack.
func (b *Bridge) commandFailed(cmd CommandMessage, address, code string, err error) AckMessage {
	b.logWarn("command failed",
		"command_id", cmd.ID,
		"command", cmd.Command,
		"code", code,
		"message", err.Error())
	if b.recorder != nil {
		b.recorder.ObserveCommand(cmd.Command, err)
	}
	return NewAckError(cmd, address, code, err.Error())
}

// publishAck publishes a command acknowledgment.
func (b *Bridge) publishAck(ack AckMessage) {
	payload, err := json.Marshal(ack)
	if err != nil {
		b.logError("failed to marshal ack", err)
		return
	}

	topic := b.topics.BridgeAck(mqtt.ProtocolNASA, ack.Address)
	if err := b.mqtt.Publish(topic, payload, qosAtLeastOnce, false); err != nil {
		b.logError("failed to publish ack", err)
	}
}

// handleRequest processes a request message and publishes the response.
func (b *Bridge) handleRequest(topicID string, payload []byte) {
	var req RequestMessage
	if err := json.Unmarshal(payload, &req); err != nil {
		b.logError("failed to parse request", err)
		return
	}
	if req.RequestID == "" {
		req.RequestID = topicID
	}

	b.logInfo("received request",
		"request_id", req.RequestID,
		"action", req.Action)

	var resp ResponseMessage
	switch req.Action {
	case "read":
		resp = b.handleRead(req)
	case "write":
		resp = b.handleWrite(req)
	case "poll_now":
		resp = b.handlePollNow(req)
	case "track":
		resp = b.handleTrack(req)
	case "diagnostics":
		resp = b.handleDiagnostics(req)
	default:
		resp = errorResponse(req, ErrCodeInvalidCommand, fmt.Sprintf("unknown action: %s", req.Action))
	}

	respPayload, err := json.Marshal(resp)
	if err != nil {
		b.logError("failed to marshal response", err)
		return
	}

	respTopic := b.topics.BridgeResponse(mqtt.ProtocolNASA, req.RequestID)
	if err := b.mqtt.Publish(respTopic, respPayload, qosAtLeastOnce, false); err != nil {
		b.logError("failed to publish response", err)
	}
}

// target parses the device and attribute of a request.
func (b *Bridge) target(req RequestMessage) (nasa.Address, nasa.AttributeID, *ResponseMessage) {
	if req.Address == "" || req.Attribute == "" {
		resp := errorResponse(req, ErrCodeInvalidParameters, "address and attribute are required")
		return nasa.Address{}, 0, &resp
	}
	device, err := nasa.ParseAddress(req.Address)
	if err != nil {
		resp := errorResponse(req, ErrCodeInvalidParameters, err.Error())
		return nasa.Address{}, 0, &resp
	}
	id, err := b.engine.Catalog().Resolve(req.Attribute)
	if err != nil {
		resp := errorResponse(req, errorCode(err), err.Error())
		return nasa.Address{}, 0, &resp
	}
	return device, id, nil
}

func (b *Bridge) handleRead(req RequestMessage) ResponseMessage {
	device, id, fail := b.target(req)
	if fail != nil {
		return *fail
	}

	ctx, cancel := context.WithTimeout(b.ctx, requestTimeout)
	defer cancel()

	start := time.Now()
	st, err := b.engine.ReadID(ctx, device, id)
	b.observeRequest("read", start, err)
	if err != nil {
		return errorResponse(req, errorCode(err), err.Error())
	}
	return successResponse(req, stateData(st))
}

func (b *Bridge) handleWrite(req RequestMessage) ResponseMessage {
	device, id, fail := b.target(req)
	if fail != nil {
		return *fail
	}
	if req.Value == nil {
		return errorResponse(req, ErrCodeInvalidParameters, "value is required")
	}

	v, err := b.engine.Catalog().ParseValue(id, req.Value)
	if err != nil {
		return errorResponse(req, ErrCodeInvalidParameters, err.Error())
	}

	ctx, cancel := context.WithTimeout(b.ctx, requestTimeout)
	defer cancel()

	start := time.Now()
	res, err := b.engine.WriteID(ctx, device, id, v)
	b.observeRequest("write", start, err)
	if b.auditor != nil {
		b.auditor.RecordWrite(ctx, sourceMQTT, device, id, v, err)
	}
	if err != nil {
		return errorResponse(req, errorCode(err), err.Error())
	}
	return successResponse(req, map[string]any{
		"address":    device.String(),
		"attribute":  id.String(),
		"value":      v.Interface(),
		"echo":       res.Echo,
		"latency_ms": res.Latency.Milliseconds(),
	})
}

func (b *Bridge) handlePollNow(req RequestMessage) ResponseMessage {
	ctx, cancel := context.WithTimeout(b.ctx, requestTimeout)
	defer cancel()

	ran := b.engine.PollNow(ctx)
	return successResponse(req, map[string]any{"ran": ran})
}

func (b *Bridge) handleTrack(req RequestMessage) ResponseMessage {
	if req.Address == "" || len(req.Attributes) == 0 {
		return errorResponse(req, ErrCodeInvalidParameters, "address and attributes are required")
	}
	device, err := nasa.ParseAddress(req.Address)
	if err != nil {
		return errorResponse(req, ErrCodeInvalidParameters, err.Error())
	}

	ids := make([]nasa.AttributeID, 0, len(req.Attributes))
	tracked := make([]string, 0, len(req.Attributes))
	for _, a := range req.Attributes {
		id, err := b.engine.Catalog().Resolve(a)
		if err != nil {
			return errorResponse(req, errorCode(err), err.Error())
		}
		ids = append(ids, id)
		tracked = append(tracked, id.String())
	}
	b.engine.Track(device, ids...)
	return successResponse(req, map[string]any{"address": device.String(), "tracked": tracked})
}

func (b *Bridge) handleDiagnostics(req RequestMessage) ResponseMessage {
	if req.Address == "" {
		devices := b.engine.DeviceList()
		out := make([]nasa.DeviceDiagnostics, 0, len(devices))
		for _, d := range devices {
			if diag, ok := b.engine.Diagnostics(d.Address); ok {
				out = append(out, diag)
			}
		}
		return successResponse(req, map[string]any{"devices": out})
	}

	device, err := nasa.ParseAddress(req.Address)
	if err != nil {
		return errorResponse(req, ErrCodeInvalidParameters, err.Error())
	}
	diag, ok := b.engine.Diagnostics(device)
	if !ok {
		return errorResponse(req, ErrCodeNotConfigured, fmt.Sprintf("unknown device %s", device))
	}
	return successResponse(req, map[string]any{"device": diag})
}

func (b *Bridge) observeRequest(operation string, start time.Time, err error) {
	if b.recorder != nil {
		b.recorder.ObserveRequest(operation, time.Since(start), err)
	}
}

func stateData(st nasa.AttributeState) map[string]any {
	return map[string]any{
		"address":   st.Device.String(),
		"attribute": st.ID.String(),
		"name":      st.Name,
		"value":     st.Value.Interface(),
		"kind":      st.Kind.String(),
		"stale":     st.Stale,
		"updated":   st.Updated.UTC(),
	}
}

func successResponse(req RequestMessage, data map[string]any) ResponseMessage {
	return ResponseMessage{
		RequestID: req.RequestID,
		Timestamp: time.Now().UTC(),
		Success:   true,
		Data:      data,
	}
}

func errorResponse(req RequestMessage, code, message string) ResponseMessage {
	return ResponseMessage{
		RequestID: req.RequestID,
		Timestamp: time.Now().UTC(),
		Success:   false,
		Error:     &ResponseError{Code: code, Message: message},
	}
}

// errorCode maps engine and planning errors onto MQTT error codes.
func errorCode(err error) string {
	switch {
	case errors.Is(err, nasa.ErrTimeout):
		return ErrCodeTimeout
	case errors.Is(err, nasa.ErrNotConnected), errors.Is(err, nasa.ErrClosed), errors.Is(err, nasa.ErrCancelled):
		return ErrCodeDeviceUnreachable
	case errors.Is(err, nasa.ErrRejected):
		return ErrCodeRejected
	case errors.Is(err, ErrInvalidParameters), errors.Is(err, nasa.ErrInvalidValue), errors.Is(err, nasa.ErrInvalidAddress):
		return ErrCodeInvalidParameters
	case errors.Is(err, ErrUnknownCommand):
		return ErrCodeInvalidCommand
	case errors.Is(err, ErrNotSupported), errors.Is(err, nasa.ErrUnknownAttribute), errors.Is(err, nasa.ErrUnknownDevice):
		return ErrCodeNotConfigured
	default:
		return ErrCodeBridgeError
	}
}

// =============================================================================
// Logging
// =============================================================================

// SetLogger sets the logger for the bridge.
func (b *Bridge) SetLogger(logger Logger) {
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()

	if b.health != nil {
		b.health.SetLogger(logger)
	}
}

func (b *Bridge) getLogger() Logger {
	b.loggerMu.RLock()
	defer b.loggerMu.RUnlock()
	return b.logger
}

func (b *Bridge) logInfo(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

func (b *Bridge) logWarn(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}

func (b *Bridge) logError(msg string, err error) {
	if logger := b.getLogger(); logger != nil {
		logger.Error(msg, "error", err)
	}
}

func (b *Bridge) logDebug(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}
