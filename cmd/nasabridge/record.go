package main

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/nerrad567/nasa-bridge/internal/device"
	"github.com/nerrad567/nasa-bridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/nasa-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/nasa-bridge/internal/infrastructure/metrics"
	"github.com/nerrad567/nasa-bridge/internal/nasa"
)

// historyQueueSize bounds changes waiting to be written to SQLite.
const historyQueueSize = 512

// recordSource is the part of *nasa.Client the recorder reads.
type recordSource interface {
	Get(device nasa.Address, id nasa.AttributeID) (nasa.AttributeState, bool)
	Catalog() *nasa.Catalog
	Stats() nasa.ClientStats
	OnChange(fn nasa.ChangeCallback) (unsubscribe func())
	OnHVACAction(fn func(nasa.DerivedChange))
}

// timeSeries is the part of *influxdb.Client the recorder writes to.
type timeSeries interface {
	WriteAttribute(p influxdb.AttributePoint)
	WriteHVACAction(device, action string, ts time.Time)
	WriteLinkStats(endpoint string, counters map[string]uint64)
}

// recorder fans engine changes out to metrics, InfluxDB and the SQLite
// change log. Every sink is optional.
//
// History writes go through a bounded queue off the engine's callback
// path. Changes are dropped when it is full.
type recorder struct {
	source   recordSource
	metrics  *metrics.Metrics
	series   timeSeries
	history  device.HistoryRepository
	log      *logging.Logger
	endpoint string

	queue   chan nasa.AttributeState
	dropped uint64
	mu      sync.Mutex
	unsub   func()
	wg      sync.WaitGroup
}

type recorderOptions struct {
	Source   recordSource
	Metrics  *metrics.Metrics
	Series   timeSeries
	History  device.HistoryRepository
	Logger   *logging.Logger
	Endpoint string
}

func newRecorder(opts recorderOptions) *recorder {
	return &recorder{
		source:   opts.Source,
		metrics:  opts.Metrics,
		series:   opts.Series,
		history:  opts.History,
		log:      opts.Logger,
		endpoint: opts.Endpoint,
		queue:    make(chan nasa.AttributeState, historyQueueSize),
	}
}

// Start hooks the engine and starts the history writer. Link counters are
// written to InfluxDB every linkInterval.
func (r *recorder) Start(ctx context.Context, linkInterval time.Duration) {
	r.unsub = r.source.OnChange(r.handleChange)
	r.source.OnHVACAction(r.handleAction)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.writeHistory(ctx)
	}()

	if r.series != nil && linkInterval > 0 {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			r.writeLinkStats(ctx, linkInterval)
		}()
	}
}

// Stop unhooks the engine and waits for the writers. ctx passed to Start
// must be cancelled first.
func (r *recorder) Stop() {
	if r.unsub != nil {
		r.unsub()
	}
	r.wg.Wait()
}

func (r *recorder) handleChange(c nasa.Change) {
	st, ok := r.source.Get(c.Device, c.ID)
	if !ok {
		return
	}

	if r.metrics != nil {
		r.metrics.ObserveAttribute(st)
	}

	if r.series != nil {
		spec, _ := r.source.Catalog().Lookup(st.ID)
		if p, ok := attributePoint(st, spec); ok {
			r.series.WriteAttribute(p)
		}
	}

	if r.history != nil {
		select {
		case r.queue <- st:
		default:
			r.mu.Lock()
			r.dropped++
			n := r.dropped
			r.mu.Unlock()
			r.log.Warn("history queue full, change dropped",
				"device", st.Device.String(), "attribute", st.ID.String(), "dropped", n)
		}
	}
}

func (r *recorder) handleAction(c nasa.DerivedChange) {
	if r.metrics != nil {
		r.metrics.ObserveHVACAction(c.Device, c.New)
	}
	if r.series != nil {
		r.series.WriteHVACAction(c.Device.String(), c.New.String(), c.At)
	}
	r.log.Info("hvac action changed",
		"device", c.Device.String(), "from", c.Old.String(), "to", c.New.String())
}

func (r *recorder) writeHistory(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case st := <-r.queue:
			if r.history == nil {
				continue
			}
			err := r.history.RecordChange(ctx, st)
			if err != nil && !errors.Is(err, device.ErrNotRecorded) && ctx.Err() == nil {
				r.log.Error("failed to record attribute change", "error", err,
					"device", st.Device.String(), "attribute", st.ID.String())
			}
		}
	}
}

func (r *recorder) writeLinkStats(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.series.WriteLinkStats(r.endpoint, linkCounters(r.source.Stats()))
		}
	}
}

// attributePoint converts a state into an InfluxDB point. Raw and unknown
// values have no numeric form and are skipped.
func attributePoint(st nasa.AttributeState, spec nasa.AttributeSpec) (influxdb.AttributePoint, bool) {
	switch st.Value.Kind {
	case nasa.KindNumeric, nasa.KindEnum, nasa.KindBoolean:
	default:
		return influxdb.AttributePoint{}, false
	}

	name := st.Name
	if name == "" {
		name = spec.Name
	}
	p := influxdb.AttributePoint{
		Device:    st.Device.String(),
		Attribute: st.ID.String(),
		Name:      name,
		Unit:      spec.Unit,
		Value:     st.Value.Number,
		Time:      st.Updated,
	}
	if st.Value.Kind == nasa.KindEnum {
		p.Label = spec.Options[st.Value.Int()]
	}
	return p, true
}

func linkCounters(st nasa.ClientStats) map[string]uint64 {
	return map[string]uint64{
		"frames_rx":         st.Session.FramesRx,
		"frames_tx":         st.Session.FramesTx,
		"framing_errors":    st.Session.FramingErrors,
		"bytes_dropped":     st.Session.BytesDropped,
		"reconnects":        st.Session.Reconnects,
		"requests_timedout": st.Correlator.TimedOut,
		"poll_failures":     st.Poller.Failures,
	}
}
