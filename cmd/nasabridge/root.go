package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

// rootOptions holds flags shared by every command.
type rootOptions struct {
	configPath     string
	url            string
	clientAddress  string
	connectTimeout time.Duration
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "nasabridge",
		Short: "Samsung NASA heat pump bridge",
		Long: `nasabridge connects to a Samsung EHS heat pump through an RS485 gateway
and publishes its state to MQTT, an HTTP API, Prometheus and InfluxDB.

Gateway endpoints:
  TCP:       --url tcp://192.168.1.50:8899
  WebSocket: --url ws://gateway/nasa
  Serial:    --url serial:///dev/ttyUSB0?baud=9600

Without --url the endpoint is taken from the configuration file, which is
read from --config, NASABRIDGE_CONFIG or configs/config.yaml.`,
		Version:       fmt.Sprintf("%s (commit %s, built %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
		// Running without a subcommand starts the daemon.
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), opts.resolveConfigPath())
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "Configuration file (default $NASABRIDGE_CONFIG or "+defaultConfigPath+")")
	flags.StringVarP(&opts.url, "url", "u", "", "Gateway endpoint, overrides nasa.url for one-shot commands")
	flags.StringVar(&opts.clientAddress, "client-address", "", "Source address for requests (default from config, 80.FF.00)")
	flags.DurationVar(&opts.connectTimeout, "connect-timeout", 10*time.Second, "How long one-shot commands wait for the gateway")

	root.AddCommand(
		newServeCommand(opts),
		newReadCommand(opts),
		newWriteCommand(opts),
		newMonitorCommand(opts),
		newVersionCommand(),
	)
	return root
}

// resolveConfigPath returns the configuration file path: the --config flag,
// then NASABRIDGE_CONFIG, then the default.
func (o *rootOptions) resolveConfigPath() string {
	if o.configPath != "" {
		return o.configPath
	}
	return getConfigPath()
}

// getConfigPath returns the configuration file path.
// Uses NASABRIDGE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("NASABRIDGE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the bridge daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), opts.resolveConfigPath())
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "nasabridge %s\ncommit: %s\nbuilt:  %s\n", version, commit, date)
		},
	}
}
