package ehs

import (
	"fmt"
	"strings"

	"github.com/nerrad567/nasa-bridge/internal/infrastructure/config"
	"github.com/nerrad567/nasa-bridge/internal/nasa"
)

// EngineConfig translates the nasa section of the bridge configuration into
// the engine's configuration.
//
// The catalog file (if any) is loaded first so tracked attributes may be
// given by name. Every problem is collected and reported together.
func EngineConfig(cfg config.NASAConfig) (nasa.ClientConfig, error) {
	var errs []string
	out := nasa.ClientConfig{
		Poll: nasa.PollerConfig{
			Interval:    cfg.PollInterval,
			ReadTimeout: cfg.ReadTimeout,
		},
		DisablePolling:  cfg.DisablePolling,
		RequestTimeout:  cfg.RequestTimeout,
		LivenessTimeout: cfg.LivenessTimeout,
	}

	ep, err := nasa.ParseEndpoint(cfg.Endpoint())
	if err != nil {
		errs = append(errs, fmt.Sprintf("nasa endpoint: %v", err))
	}
	out.Session = nasa.SessionConfig{
		Endpoint:    ep,
		IdleTimeout: cfg.IdleTimeout,
		Backoff: nasa.BackoffConfig{
			Initial: cfg.Backoff.Initial,
			Max:     cfg.Backoff.Max,
			Jitter:  cfg.Backoff.Jitter,
		},
	}

	if cfg.Resync.Strategy != "" {
		strategy, err := nasa.ParseResyncStrategy(cfg.Resync.Strategy)
		if err != nil {
			errs = append(errs, err.Error())
		}
		out.Session.Decoder = nasa.DecoderConfig{Resync: strategy, SkipN: cfg.Resync.SkipN}
	}

	if cfg.ClientAddress != "" {
		addr, err := nasa.ParseAddress(cfg.ClientAddress)
		if err != nil {
			errs = append(errs, fmt.Sprintf("nasa.client_address: %v", err))
		}
		out.ClientAddress = addr
	}

	out.Catalog = nasa.DefaultCatalog()
	if cfg.CatalogFile != "" {
		catalog, err := nasa.LoadCatalog(cfg.CatalogFile, out.Catalog)
		if err != nil {
			errs = append(errs, fmt.Sprintf("nasa.catalog_file: %v", err))
		} else {
			out.Catalog = catalog
		}
	}

	for _, s := range cfg.Devices {
		addr, err := nasa.ParseAddress(s)
		if err != nil {
			errs = append(errs, fmt.Sprintf("nasa.devices: %v", err))
			continue
		}
		out.Devices = append(out.Devices, addr)
	}

	if len(cfg.Tracked) > 0 {
		out.Tracked = make(map[nasa.Address][]nasa.AttributeID, len(cfg.Tracked))
		for dev, attrs := range cfg.Tracked {
			addr, err := nasa.ParseAddress(dev)
			if err != nil {
				errs = append(errs, fmt.Sprintf("nasa.tracked: %v", err))
				continue
			}
			ids := make([]nasa.AttributeID, 0, len(attrs))
			for _, a := range attrs {
				id, err := out.Catalog.Resolve(a)
				if err != nil {
					errs = append(errs, fmt.Sprintf("nasa.tracked[%s]: %v", dev, err))
					continue
				}
				ids = append(ids, id)
			}
			out.Tracked[addr] = ids
		}
	}

	if len(errs) > 0 {
		return nasa.ClientConfig{}, fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(errs, "; "))
	}
	return out, nil
}
