package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/nasa-bridge/internal/nasa"
)

// engineCollector turns a ClientStats snapshot into metrics on every scrape.
type engineCollector struct {
	src StatsSource

	connected     *prometheus.Desc
	online        *prometheus.Desc
	framesRx      *prometheus.Desc
	framesTx      *prometheus.Desc
	framingErrors *prometheus.Desc
	bytesDropped  *prometheus.Desc
	reconnects    *prometheus.Desc
	mismatches    *prometheus.Desc
	correlated    *prometheus.Desc
	unmatched     *prometheus.Desc
	pending       *prometheus.Desc
	pollCycles    *prometheus.Desc
	pollSkipped   *prometheus.Desc
	pollReads     *prometheus.Desc
	pollFailures  *prometheus.Desc
	pollDuration  *prometheus.Desc
	attributes    *prometheus.Desc
	reachable     *prometheus.Desc
	messages      *prometheus.Desc
}

func newEngineCollector(ns string, src StatsSource) *engineCollector {
	desc := func(sub, name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(ns, sub, name), help, labels, nil)
	}
	return &engineCollector{
		src:           src,
		connected:     desc("link", "connected", "1 while the bridge connection is up."),
		online:        desc("link", "online", "1 while the bus is considered available."),
		framesRx:      desc("link", "frames_received_total", "Valid frames decoded from the bridge."),
		framesTx:      desc("link", "frames_sent_total", "Frames written to the bridge."),
		framingErrors: desc("link", "framing_errors_total", "Malformed or corrupt frames discarded."),
		bytesDropped:  desc("link", "bytes_dropped_total", "Bytes skipped while resynchronising."),
		reconnects:    desc("link", "reconnects_total", "Successful reconnections after the first connect."),
		mismatches:    desc("registry", "type_mismatches_total", "Values whose kind disagreed with the catalog."),
		correlated:    desc("correlator", "requests_total", "Correlated requests by result.", "result"),
		unmatched:     desc("correlator", "unmatched_replies_total", "Replies with no pending request."),
		pending:       desc("correlator", "pending_requests", "Requests awaiting a reply."),
		pollCycles:    desc("poller", "cycles_total", "Completed poll cycles."),
		pollSkipped:   desc("poller", "skipped_total", "Ticks skipped because a cycle was still running."),
		pollReads:     desc("poller", "reads_total", "Attribute reads issued by the poller."),
		pollFailures:  desc("poller", "failures_total", "Poller reads that failed.", "reason"),
		pollDuration:  desc("poller", "last_cycle_seconds", "Duration of the last poll cycle."),
		attributes:    desc("registry", "attributes", "Attributes with a known value."),
		reachable:     desc("device", "reachable", "1 while the unit answers within the liveness window.", "device"),
		messages:      desc("device", "messages_total", "Messages received from the unit.", "device"),
	}
}

func (c *engineCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.connected, c.online, c.framesRx, c.framesTx, c.framingErrors, c.bytesDropped,
		c.reconnects, c.mismatches, c.correlated, c.unmatched, c.pending, c.pollCycles,
		c.pollSkipped, c.pollReads, c.pollFailures, c.pollDuration, c.attributes,
		c.reachable, c.messages,
	} {
		ch <- d
	}
}

func (c *engineCollector) Collect(ch chan<- prometheus.Metric) {
	st := c.src.Stats()

	gauge := func(d *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, labels...)
	}
	counter := func(d *prometheus.Desc, v uint64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v), labels...)
	}

	gauge(c.connected, boolFloat(st.Session.State == nasa.StateConnected))
	gauge(c.online, boolFloat(c.src.Online()))
	counter(c.framesRx, st.Session.FramesRx)
	counter(c.framesTx, st.Session.FramesTx)
	counter(c.framingErrors, st.Session.FramingErrors)
	counter(c.bytesDropped, st.Session.BytesDropped)
	counter(c.reconnects, st.Session.Reconnects)
	counter(c.mismatches, st.Mismatches)

	counter(c.correlated, st.Correlator.Succeeded, "succeeded")
	counter(c.correlated, st.Correlator.TimedOut, "timed_out")
	counter(c.correlated, st.Correlator.Rejected, "rejected")
	counter(c.correlated, st.Correlator.Cancelled, "cancelled")
	counter(c.unmatched, st.Correlator.Unmatched)
	gauge(c.pending, float64(st.Correlator.Pending))

	counter(c.pollCycles, st.Poller.Cycles)
	counter(c.pollSkipped, st.Poller.Skipped)
	counter(c.pollReads, st.Poller.Reads)
	counter(c.pollFailures, st.Poller.Timeouts, "timeout")
	counter(c.pollFailures, nonTimeoutFailures(st.Poller), "error")
	gauge(c.pollDuration, st.Poller.LastDuration.Seconds())
	gauge(c.attributes, float64(st.Attributes))

	for _, d := range c.src.DeviceList() {
		addr := d.Address.String()
		gauge(c.reachable, boolFloat(d.Reachable), addr)
		counter(c.messages, d.Messages, addr)
	}
}

// nonTimeoutFailures separates timeouts out of the poller's failure count.
func nonTimeoutFailures(s nasa.PollerStats) uint64 {
	if s.Failures < s.Timeouts {
		return 0
	}
	return s.Failures - s.Timeouts
}

func boolFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func isTimeout(err error) bool { return errors.Is(err, nasa.ErrTimeout) }

func isRejected(err error) bool { return errors.Is(err, nasa.ErrRejected) }
