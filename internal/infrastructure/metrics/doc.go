// Package metrics exports the bridge's Prometheus metrics.
//
// A Metrics value owns a private registry. Engine counters (frames,
// framing errors, correlator results, poll cycles, device reachability)
// are read from the NASA client on every scrape; attribute values, HVAC
// actions and service outcomes are pushed as they happen.
//
//	m := metrics.New(cfg.Metrics.Namespace)
//	m.WatchEngine(client)
//	client.OnChange(func(c nasa.Change) { ... m.ObserveAttribute(st) })
//	router.Handle(cfg.Metrics.Path, m.Handler())
package metrics
