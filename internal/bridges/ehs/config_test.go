//nolint:goconst // Test files use repeated literals for clarity
package ehs

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/nasa-bridge/internal/infrastructure/config"
	"github.com/nerrad567/nasa-bridge/internal/nasa"
)

func TestEngineConfig_Valid(t *testing.T) {
	cfg := config.NASAConfig{
		Host:          "192.168.1.50",
		Port:          8899,
		ClientAddress: "80.FF.00",
		Devices:       []string{"20.00.00", "10.00.00"},
		Tracked: map[string][]string{
			"10.00.00": {"outdoor_temperature", "0x8237"},
		},
		PollInterval:   45 * time.Second,
		RequestTimeout: 2 * time.Second,
		Resync:         config.NASAResyncConfig{Strategy: "skip_n", SkipN: 2},
	}

	out, err := EngineConfig(cfg)
	if err != nil {
		t.Fatalf("EngineConfig() error = %v", err)
	}

	if out.Session.Endpoint.Scheme != "tcp" || out.Session.Endpoint.Address != "192.168.1.50:8899" {
		t.Errorf("Endpoint = %+v", out.Session.Endpoint)
	}
	if out.Session.Decoder.Resync != nasa.ResyncSkipN || out.Session.Decoder.SkipN != 2 {
		t.Errorf("Decoder = %+v", out.Session.Decoder)
	}
	if out.ClientAddress != nasa.MustParseAddress("80.FF.00") {
		t.Errorf("ClientAddress = %s", out.ClientAddress)
	}
	if len(out.Devices) != 2 || out.Devices[0] != nasa.MustParseAddress("20.00.00") {
		t.Errorf("Devices = %v", out.Devices)
	}
	if out.Poll.Interval != 45*time.Second || out.RequestTimeout != 2*time.Second {
		t.Errorf("timings = %v / %v", out.Poll.Interval, out.RequestTimeout)
	}
	if out.Catalog == nil {
		t.Fatal("Catalog is nil")
	}

	ids := out.Tracked[nasa.MustParseAddress("10.00.00")]
	if len(ids) != 2 || ids[1] != 0x8237 {
		t.Fatalf("Tracked = %v", ids)
	}
	if want, _ := out.Catalog.Resolve("outdoor_temperature"); ids[0] != want {
		t.Errorf("Tracked[0] = %s, want %s", ids[0], want)
	}
}

func TestEngineConfig_URLOverridesHost(t *testing.T) {
	out, err := EngineConfig(config.NASAConfig{URL: "ws://bridge.local/nasa", Host: "ignored", Port: 1})
	if err != nil {
		t.Fatalf("EngineConfig() error = %v", err)
	}
	if out.Session.Endpoint.Scheme != "ws" {
		t.Errorf("Scheme = %q, want ws", out.Session.Endpoint.Scheme)
	}
}

func TestEngineConfig_CollectsErrors(t *testing.T) {
	cfg := config.NASAConfig{
		Host:          "192.168.1.50",
		Port:          8899,
		ClientAddress: "nope",
		Devices:       []string{"20.00.00", "xyz"},
		Tracked:       map[string][]string{"20.00.00": {"warp_drive"}},
		Resync:        config.NASAResyncConfig{Strategy: "guess"},
	}

	_, err := EngineConfig(cfg)
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("EngineConfig() error = %v, want ErrInvalidConfig", err)
	}
	for _, want := range []string{"client_address", "nasa.devices", "nasa.tracked[20.00.00]", "guess"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing %q", err, want)
		}
	}
}

func TestEngineConfig_CatalogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	data := `attributes:
  - id: "0x42F1"
    name: compressor_frequency_ratio
    kind: numeric
    unsigned: true
    unit: "%"
    writable: true
    min: 50
    max: 150
    step: 10
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	out, err := EngineConfig(config.NASAConfig{
		Host:        "gw",
		Port:        8899,
		CatalogFile: path,
		Tracked:     map[string][]string{"10.00.00": {"compressor_frequency_ratio"}},
	})
	if err != nil {
		t.Fatalf("EngineConfig() error = %v", err)
	}

	spec, ok := out.Catalog.LookupName(nasa.NameCompressorFrequencyRatio)
	if !ok || spec.ID != 0x42F1 || !spec.Writable {
		t.Errorf("catalog entry = %+v, ok=%v", spec, ok)
	}
	if _, ok := out.Catalog.LookupName("room_target"); !ok {
		t.Error("built-in entries lost after layering")
	}
	if ids := out.Tracked[nasa.MustParseAddress("10.00.00")]; len(ids) != 1 || ids[0] != 0x42F1 {
		t.Errorf("Tracked = %v", ids)
	}
}

func TestEngineConfig_MissingCatalogFile(t *testing.T) {
	_, err := EngineConfig(config.NASAConfig{Host: "gw", Port: 8899, CatalogFile: "/nonexistent/catalog.yaml"})
	if !errors.Is(err, ErrInvalidConfig) || !strings.Contains(err.Error(), "catalog_file") {
		t.Errorf("EngineConfig() error = %v", err)
	}
}
