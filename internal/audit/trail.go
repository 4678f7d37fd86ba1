package audit

import (
	"context"
	"sync"
	"time"

	"github.com/nerrad567/nasa-bridge/internal/infrastructure/metrics"
	"github.com/nerrad567/nasa-bridge/internal/nasa"
)

// Sources.
const (
	SourceAPI  = "api"
	SourceMQTT = "mqtt"
)

// storeTimeout bounds one insert. Entries are written after the request
// finished, so the caller's context may already be done.
const storeTimeout = 5 * time.Second

// Logger is the logging interface used by the trail.
type Logger interface {
	Warn(msg string, keysAndValues ...any)
}

// Trail turns service calls into audit entries. A failed insert is logged
// and never fails the call being audited.
//
// Thread Safety: All methods are safe for concurrent use.
type Trail struct {
	repo Repository

	logger   Logger
	loggerMu sync.RWMutex
}

// NewTrail creates a trail over repo.
func NewTrail(repo Repository) *Trail {
	return &Trail{repo: repo}
}

// SetLogger sets the logger for failed inserts.
func (t *Trail) SetLogger(logger Logger) {
	t.loggerMu.Lock()
	defer t.loggerMu.Unlock()
	t.logger = logger
}

// RecordWrite records one attribute write and its result.
func (t *Trail) RecordWrite(ctx context.Context, source string, device nasa.Address, id nasa.AttributeID, v nasa.Value, err error) {
	e := &Entry{
		Action:    ActionWrite,
		Source:    sourceOrDefault(source),
		Device:    device.String(),
		Attribute: id.String(),
		Outcome:   metrics.Outcome(err),
		Details:   map[string]any{"value": v.Interface()},
	}
	if err != nil {
		e.Error = err.Error()
	}
	t.store(ctx, e)
}

// RecordCommand records one high-level command. writes lists the
// attributes written before it finished or failed.
func (t *Trail) RecordCommand(ctx context.Context, source, address, command string, params map[string]any, writes []string, err error) {
	e := &Entry{
		Action:  ActionCommand,
		Source:  sourceOrDefault(source),
		Device:  address,
		Command: command,
		Outcome: metrics.Outcome(err),
	}
	if len(params) > 0 || len(writes) > 0 {
		e.Details = map[string]any{}
		if len(params) > 0 {
			e.Details["parameters"] = params
		}
		if len(writes) > 0 {
			e.Details["writes"] = writes
		}
	}
	if err != nil {
		e.Error = err.Error()
	}
	t.store(ctx, e)
}

// List returns stored entries.
func (t *Trail) List(ctx context.Context, filter Filter) (*ListResult, error) {
	return t.repo.List(ctx, filter)
}

// Prune deletes entries older than olderThan.
func (t *Trail) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	return t.repo.Prune(ctx, olderThan)
}

func (t *Trail) store(ctx context.Context, e *Entry) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), storeTimeout)
	defer cancel()

	if err := t.repo.Create(ctx, e); err != nil {
		t.loggerMu.RLock()
		logger := t.logger
		t.loggerMu.RUnlock()
		if logger != nil {
			logger.Warn("failed to store audit entry", "error", err,
				"action", e.Action, "device", e.Device)
		}
	}
}

func sourceOrDefault(source string) string {
	if source == "" {
		return "unknown"
	}
	return source
}
