// opcua-browser discovers live numeric variables of an OPC UA server,
// samples them, and labels them into a Cumulocity device protocol.
//
// Usage:
//
//	opcua-browser discover --endpoint opc.tcp://plc:4840
//	opcua-browser label --simulate --confirm auto -o output/new_template.json
//	opcua-browser serve --config browser.yaml
//	opcua-browser runs show <run-id>
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/GeraldRistow/opcua-browser/internal/config"
	"github.com/GeraldRistow/opcua-browser/internal/logging"
	"github.com/GeraldRistow/opcua-browser/internal/metrics"
	"github.com/GeraldRistow/opcua-browser/internal/store"
)

// version is set at build time via -ldflags.
var version = "dev"

var globalFlags struct {
	configPath  string
	endpoint    string
	simulate    bool
	dbPath      string
	metricsAddr string
	logLevel    string
	logFormat   string
}

// cfg is the effective configuration after file, environment and flags.
var cfg config.Config

var metricsServer *metrics.Server

var rootCmd = &cobra.Command{
	Use:   "opcua-browser",
	Short: "Find and label live measurements in an OPC UA address space",
	Long: `opcua-browser walks an OPC UA server's address space, keeps the numeric
variables whose values actually change, samples them over a fixed window,
and labels each series with a confirmed measurement name. The result is
written as a Cumulocity OPC UA device protocol.

Settings come from --config (YAML, TOML or JSON), then .env and the
environment (OPCUA_ENDPOINT, OPCUA_BROWSER_LLM_API_KEY), then flags.`,
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
	SilenceUsage:       true,
	PersistentPreRunE:  setup,
	PersistentPostRunE: teardown,
}

func init() {
	f := rootCmd.PersistentFlags()
	f.StringVarP(&globalFlags.configPath, "config", "c", "", "Config file (YAML, TOML or JSON)")
	f.StringVar(&globalFlags.endpoint, "endpoint", "", "OPC UA endpoint URL (default: $OPCUA_ENDPOINT)")
	f.BoolVar(&globalFlags.simulate, "simulate", false, "Use the built-in simulated plant instead of a server")
	f.StringVar(&globalFlags.dbPath, "db", store.DefaultDBPath, "Run store DB path (empty disables the store)")
	f.StringVar(&globalFlags.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9464")
	f.StringVar(&globalFlags.logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	f.StringVar(&globalFlags.logFormat, "log-format", "text", "Log format: text or json")

	rootCmd.AddCommand(discoverCmd)
	rootCmd.AddCommand(labelCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(templateCmd)
	rootCmd.Version = version
}

func setup(cmd *cobra.Command, _ []string) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}

	c := config.Default()
	if globalFlags.configPath != "" {
		var err error
		if c, err = config.LoadFromPath(globalFlags.configPath); err != nil {
			return err
		}
	}
	c.ApplyEnv(os.Getenv)

	flags := cmd.Flags()
	if flags.Changed("endpoint") {
		c.Source.Endpoint = globalFlags.endpoint
	}
	if flags.Changed("simulate") {
		c.Source.Simulate = globalFlags.simulate
	}
	if flags.Changed("db") {
		c.Store.Path = globalFlags.dbPath
	}
	if flags.Changed("metrics-addr") {
		c.Metrics.Addr = globalFlags.metricsAddr
	}
	if flags.Changed("log-level") {
		c.Log.Level = globalFlags.logLevel
	}
	if flags.Changed("log-format") {
		c.Log.Format = globalFlags.logFormat
	}

	level, err := logging.ParseLevel(c.Log.Level)
	if err != nil {
		return err
	}
	logging.Init(level, c.Log.Format, cmd.ErrOrStderr())

	if c.Metrics.Addr != "" {
		metricsServer = metrics.NewServer(c.Metrics.Addr, logging.New("metrics"))
		metricsServer.Start()
	}
	cfg = c
	return nil
}

func teardown(_ *cobra.Command, _ []string) error {
	if metricsServer == nil {
		return nil
	}
	err := metricsServer.Shutdown(context.Background())
	metricsServer = nil
	return err
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
