package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/zendure-tools/zendure-poller/internal/config"
	"github.com/zendure-tools/zendure-poller/internal/device"
	"github.com/zendure-tools/zendure-poller/internal/discovery"
	"github.com/zendure-tools/zendure-poller/internal/sensor"
	"github.com/zendure-tools/zendure-poller/internal/setup"
	"github.com/zendure-tools/zendure-poller/internal/ui"
	"github.com/zendure-tools/zendure-poller/internal/urls"
)

// Device selection flags shared by resolve, run and watch
var (
	serial   string
	model    string
	interval int
	timeout  int
)

// Scan flags
var (
	scanTimeout int
	jsonOutput  bool
)

// Resolve flags
var fetchAfterResolve bool

func init() {
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(watchCmd)
}

func addDeviceFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&serial, "serial", "", "Device serial number")
	cmd.Flags().StringVar(&model, "model", config.ModelSolarFlow800, "Device model")
	cmd.Flags().IntVar(&timeout, "timeout", 0, "mDNS resolve timeout in seconds (default from config)")
}

// scanCmd lists every Zendure device advertising itself
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for Zendure devices on the network",
	Long: `Listen for mDNS advertisements of Zendure devices and list every device
seen before the timeout, with its address and the serial and model parsed
from the instance name.`,
	Example: `  # Scan for 10 seconds (default)
  zendure-poller scan

  # Machine-readable output
  zendure-poller scan --timeout 3 --json`,
	RunE: runScan,
}

func init() {
	scanCmd.Flags().IntVar(&scanTimeout, "timeout", int(discovery.DefaultScanTimeout/time.Second), "Scan timeout in seconds")
	scanCmd.Flags().BoolVar(&jsonOutput, "json", false, "Print results as JSON")
}

func runScan(cmd *cobra.Command, args []string) error {
	wait := time.Duration(scanTimeout) * time.Second
	p := ui.NewPrinter(cmd.OutOrStdout())
	if !jsonOutput {
		p.PrintHeader("Scan", "zendure-poller scan", ui.Param{Key: "Timeout", Value: wait.String()})
	}

	endpoints, err := discovery.NewResolver().Scan(cmd.Context(), wait)
	if err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(endpoints)
	}

	p.PrintEndpoints(endpoints)
	if len(endpoints) > 0 {
		p.Println("")
		p.Println("Use 'zendure-poller device add --serial <serial>' to poll a device")
	}
	return nil
}

// resolveCmd resolves one device by serial
var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Resolve a device's address by serial number",
	Long: `Wait for the mDNS advertisement "Zendure-<model>-<serial>" and print the
address it resolves to. With --fetch, the device report is read once and
its properties are printed.`,
	Example: `  zendure-poller resolve --serial HOA1B2C3
  zendure-poller resolve --serial HOA1B2C3 --timeout 10 --fetch`,
	RunE: runResolve,
}

func init() {
	addDeviceFlags(resolveCmd)
	resolveCmd.Flags().BoolVar(&fetchAfterResolve, "fetch", false, "Fetch and print the device report once")
	_ = resolveCmd.MarkFlagRequired("serial")
}

func runResolve(cmd *cobra.Command, args []string) error {
	reg, prefs, err := loadConfig()
	if err != nil {
		return err
	}

	entry, err := selectEntry(reg)
	if err != nil {
		return err
	}

	query := discovery.NewQuery(entry.Model, entry.Serial)
	query.Timeout = resolveTimeout(prefs)

	p := ui.NewPrinter(cmd.OutOrStdout())
	p.PrintHeader("Resolve", "zendure-poller resolve",
		ui.Param{Key: "Name", Value: query.ExpectedName},
		ui.Param{Key: "Timeout", Value: query.Timeout.String()},
	)

	ep, err := discovery.NewResolver().Resolve(cmd.Context(), query)
	if err != nil {
		p.PrintError("Device not found", err)
		p.Println("")
		p.Println("  Check that the device is on this network and its local API is enabled")
		p.Println("  (see " + urls.ZenSDK + ")")
		return err
	}
	p.PrintSuccess(ep.Name, ui.EndpointDetails(ep)...)

	if !fetchAfterResolve {
		return nil
	}

	client := device.NewClient(ep.IP, ep.Port)
	client.Path = prefs.ReportPath

	ctx, cancel := context.WithTimeout(cmd.Context(), device.DefaultTimeout)
	defer cancel()

	report, err := client.Fetch(ctx)
	if err != nil {
		p.PrintError("Fetch failed", err)
		p.Println("")
		p.Println("  " + device.GetShortErrorMessage(err))
		return err
	}

	tr := sensor.DefaultTranslator()
	details := make([]ui.Param, 0, len(report.Properties))
	for _, name := range report.PropertyNames() {
		details = append(details, ui.Param{Key: tr.Translate(name), Value: ui.FormatValue(report.Properties[name])})
	}
	p.Println("")
	p.PrintSuccess(fmt.Sprintf("Report from %s (%d properties)", client.URL(), len(details)), details...)
	return nil
}

// watchCmd shows a live dashboard for one device
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Show live telemetry of one device",
	Long: `Resolve a device, poll it at its configured interval and show the
latest values in an interactive terminal screen. Press "r" to refresh
immediately and "q" to quit.

Without --serial, the only configured device is used.`,
	Example: `  zendure-poller watch --serial HOA1B2C3 --interval 10`,
	RunE:    runWatch,
}

func init() {
	addDeviceFlags(watchCmd)
	watchCmd.Flags().IntVar(&interval, "interval", 0, "Polling interval in seconds (10-600, default from config or 30)")
}

func runWatch(cmd *cobra.Command, args []string) error {
	reg, prefs, err := loadConfig()
	if err != nil {
		return err
	}

	entry, err := selectEntry(reg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	orch := newOrchestrator(prefs)
	defer closeOrchestrator(orch)

	fmt.Fprintf(cmd.OutOrStdout(), "Looking for %s...\n", discovery.InstanceName(entry.Model, entry.Serial))
	d, err := orch.Setup(ctx, entry)
	if err != nil {
		if errors.Is(err, setup.ErrNotReady) {
			return fmt.Errorf("%w\nCheck that the local API is enabled (see %s)", err, urls.ZenSDK)
		}
		return err
	}

	return ui.RunWatch(ctx, d.Title(), d.Coordinator)
}

// loadConfig loads the registry and its preferences with environment
// overrides applied.
func loadConfig() (*config.Registry, *config.Preferences, error) {
	reg, err := config.LoadRegistry()
	if err != nil {
		return nil, nil, err
	}

	prefs := config.DefaultPreferences()
	if reg.Preferences != nil {
		p := *reg.Preferences
		prefs = &p
	}
	prefs.ApplyEnv()
	return reg, prefs, nil
}

// selectEntry builds the entry named by the flags. A configured entry for
// the same serial supplies the defaults for anything not given on the
// command line. Without --serial, the single configured entry is used.
func selectEntry(reg *config.Registry) (config.Entry, error) {
	var entry config.Entry

	switch {
	case serial != "":
		if saved := reg.GetEntry(serial); saved != nil {
			entry = *saved
		} else {
			entry = config.Entry{Serial: serial, Model: model}
		}
	case len(reg.Entries) == 1:
		entry = *reg.GetEntry(reg.EntryIDs()[0])
	case len(reg.Entries) == 0:
		return entry, fmt.Errorf("no devices configured: pass --serial or run 'zendure-poller device add'")
	default:
		return entry, fmt.Errorf("%d devices configured: pass --serial to pick one", len(reg.Entries))
	}

	if interval > 0 {
		entry.UpdateInterval = interval
	}
	if err := entry.Validate(); err != nil {
		return entry, err
	}
	return entry, nil
}

func resolveTimeout(prefs *config.Preferences) time.Duration {
	return secondsOrDefault(timeout, prefs.DiscoverTimeoutDuration())
}

func secondsOrDefault(seconds int, def time.Duration) time.Duration {
	if seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return def
}

func newOrchestrator(prefs *config.Preferences) *setup.Orchestrator {
	return setup.New(discovery.NewResolver(), setup.Options{
		ResolveTimeout: resolveTimeout(prefs),
		ReportPath:     prefs.ReportPath,
	})
}

func closeOrchestrator(orch *setup.Orchestrator) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := orch.Close(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: shutdown did not finish: %v\n", err)
	}
}

func formatInterval(seconds int) string {
	return strconv.Itoa(config.ClampUpdateInterval(seconds)) + "s"
}
