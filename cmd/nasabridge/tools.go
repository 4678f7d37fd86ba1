package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/nasa-bridge/internal/bridges/ehs"
	"github.com/nerrad567/nasa-bridge/internal/infrastructure/config"
	"github.com/nerrad567/nasa-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/nasa-bridge/internal/nasa"
)

// engineConfig builds the engine configuration for one-shot commands.
// --url skips the configuration file entirely. Polling is always off.
func engineConfig(opts *rootOptions) (nasa.ClientConfig, error) {
	var nasaCfg config.NASAConfig
	if opts.url != "" {
		nasaCfg = config.Default().NASA
		nasaCfg.URL = opts.url
	} else {
		cfg, err := config.Load(opts.resolveConfigPath())
		if err != nil {
			return nasa.ClientConfig{}, fmt.Errorf("loading config: %w", err)
		}
		nasaCfg = cfg.NASA
	}

	out, err := ehs.EngineConfig(nasaCfg)
	if err != nil {
		return nasa.ClientConfig{}, err
	}
	if opts.clientAddress != "" {
		addr, err := nasa.ParseAddress(opts.clientAddress)
		if err != nil {
			return nasa.ClientConfig{}, fmt.Errorf("client address: %w", err)
		}
		out.ClientAddress = addr
	}
	out.DisablePolling = true
	return out, nil
}

// openClient starts an engine and waits for the gateway connection.
func openClient(ctx context.Context, cfg nasa.ClientConfig, timeout time.Duration) (*nasa.Client, error) {
	client, err := nasa.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("creating NASA client: %w", err)
	}
	client.SetLogger(logging.Default())
	client.Start(ctx)

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := client.WaitConnected(waitCtx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connecting to %s: %w", cfg.Session.Endpoint, err)
	}
	return client, nil
}

// target resolves the --device and --attr flags.
func target(catalog *nasa.Catalog, device, attr string) (nasa.Address, nasa.AttributeID, error) {
	addr, err := nasa.ParseAddress(device)
	if err != nil {
		return nasa.Address{}, 0, fmt.Errorf("device: %w", err)
	}
	id, err := catalog.Resolve(attr)
	if err != nil {
		return nasa.Address{}, 0, fmt.Errorf("attribute: %w", err)
	}
	return addr, id, nil
}

func newReadCommand(opts *rootOptions) *cobra.Command {
	var device, attr string

	cmd := &cobra.Command{
		Use:   "read",
		Short: "Read one attribute from a unit",
		Example: `  nasabridge read --url tcp://192.168.1.50:8899 --device 20.00.00 --attr room_temperature
  nasabridge read --device 10.00.00 --attr 0x8204`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, err := engineConfig(opts)
			if err != nil {
				return err
			}
			catalog := cfg.Catalog
			addr, id, err := target(catalog, device, attr)
			if err != nil {
				return err
			}

			client, err := openClient(ctx, cfg, opts.connectTimeout)
			if err != nil {
				return err
			}
			defer client.Close()

			st, err := client.ReadID(ctx, addr, id)
			if err != nil {
				return err
			}
			printState(cmd.OutOrStdout(), st, catalog)
			return nil
		},
	}
	cmd.Flags().StringVarP(&device, "device", "d", "", "Unit address, e.g. 20.00.00")
	cmd.Flags().StringVarP(&attr, "attr", "a", "", "Attribute name or hex id")
	_ = cmd.MarkFlagRequired("device")
	_ = cmd.MarkFlagRequired("attr")
	return cmd
}

func newWriteCommand(opts *rootOptions) *cobra.Command {
	var device, attr, value string

	cmd := &cobra.Command{
		Use:   "write",
		Short: "Write one attribute on a unit",
		Example: `  nasabridge write --device 20.00.00 --attr quiet_mode --value on
  nasabridge write --device 20.00.00 --attr room_target --value 21.5`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, err := engineConfig(opts)
			if err != nil {
				return err
			}
			catalog := cfg.Catalog
			addr, id, err := target(catalog, device, attr)
			if err != nil {
				return err
			}
			v, err := catalog.ParseValue(id, value)
			if err != nil {
				return fmt.Errorf("value: %w", err)
			}
			// Reject before connecting.
			if _, err := catalog.Encode(id, v); err != nil {
				return fmt.Errorf("value: %w", err)
			}

			client, err := openClient(ctx, cfg, opts.connectTimeout)
			if err != nil {
				return err
			}
			defer client.Close()

			res, err := client.WriteID(ctx, addr, id, v)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if res.Echo {
				fmt.Fprintf(out, "%s %s acknowledged in %s\n", addr, id, res.Latency.Round(time.Millisecond))
				return nil
			}
			decoded, err := catalog.Decode(id, res.Raw)
			if err != nil {
				fmt.Fprintf(out, "%s %s replied %x in %s\n", addr, id, res.Raw, res.Latency.Round(time.Millisecond))
				return nil
			}
			fmt.Fprintf(out, "%s %s = %s in %s\n", addr, id, formatValue(catalog, id, decoded), res.Latency.Round(time.Millisecond))
			return nil
		},
	}
	cmd.Flags().StringVarP(&device, "device", "d", "", "Unit address, e.g. 20.00.00")
	cmd.Flags().StringVarP(&attr, "attr", "a", "", "Attribute name or hex id")
	cmd.Flags().StringVarP(&value, "value", "v", "", "Value: number, on/off, enum option name or hex bytes")
	_ = cmd.MarkFlagRequired("device")
	_ = cmd.MarkFlagRequired("attr")
	_ = cmd.MarkFlagRequired("value")
	return cmd
}

func newMonitorCommand(opts *rootOptions) *cobra.Command {
	var showInvalid bool

	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Print every frame seen on the bus until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, err := engineConfig(opts)
			if err != nil {
				return err
			}
			client, err := openClient(ctx, cfg, opts.connectTimeout)
			if err != nil {
				return err
			}
			defer client.Close()

			out := cmd.OutOrStdout()
			errOut := cmd.ErrOrStderr()
			catalog := cfg.Catalog

			lines := make(chan string, 64)
			unsub := client.OnMessage(func(msg nasa.Message) {
				if !msg.ChecksumValid && !showInvalid {
					return
				}
				select {
				case lines <- formatMessage(msg, catalog):
				default:
				}
			})
			defer unsub()
			client.OnFramingError(func(err error) {
				fmt.Fprintf(errOut, "framing error: %v\n", err)
			})

			for {
				select {
				case <-ctx.Done():
					return nil
				case line := <-lines:
					fmt.Fprintln(out, line)
				}
			}
		},
	}
	cmd.Flags().BoolVar(&showInvalid, "show-invalid", false, "Also print frames that failed the checksum")
	return cmd
}

func printState(w io.Writer, st nasa.AttributeState, catalog *nasa.Catalog) {
	name := st.Name
	if name == "" {
		if spec, ok := catalog.Lookup(st.ID); ok {
			name = spec.Name
		}
	}
	if name == "" {
		fmt.Fprintf(w, "%s %s = %s\n", st.Device, st.ID, formatValue(catalog, st.ID, st.Value))
		return
	}
	fmt.Fprintf(w, "%s %s %s = %s\n", st.Device, st.ID, name, formatValue(catalog, st.ID, st.Value))
}

// formatValue renders a value with its enum option name or unit.
func formatValue(catalog *nasa.Catalog, id nasa.AttributeID, v nasa.Value) string {
	spec, ok := catalog.Lookup(id)
	if !ok {
		return v.String()
	}
	if v.Kind == nasa.KindEnum {
		if opt, ok := spec.OptionName(v.Int()); ok {
			return fmt.Sprintf("%s (%d)", opt, v.Int())
		}
	}
	if v.Kind == nasa.KindNumeric && spec.Unit != "" {
		return v.String() + " " + spec.Unit
	}
	return v.String()
}

// formatMessage renders a frame on one line:
//
//	10.00.00 -> B0.FF.20 notification 0x8204=7.5 °C 0x8061=1
func formatMessage(msg nasa.Message, catalog *nasa.Catalog) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s -> %s %s", msg.Source, msg.Destination, msg.Class)
	if !msg.ChecksumValid {
		b.WriteString(" [bad crc]")
	}
	for _, f := range msg.Fields {
		b.WriteByte(' ')
		b.WriteString(f.ID.String())
		b.WriteByte('=')
		v, err := catalog.Decode(f.ID, f.Raw)
		if err != nil {
			fmt.Fprintf(&b, "%x", f.Raw)
			continue
		}
		b.WriteString(formatValue(catalog, f.ID, v))
	}
	return b.String()
}
