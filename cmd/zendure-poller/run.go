package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/zendure-tools/zendure-poller/internal/config"
	"github.com/zendure-tools/zendure-poller/internal/coordinator"
	"github.com/zendure-tools/zendure-poller/internal/logging"
	"github.com/zendure-tools/zendure-poller/internal/publish"
	"github.com/zendure-tools/zendure-poller/internal/sensor"
	"github.com/zendure-tools/zendure-poller/internal/server"
	"github.com/zendure-tools/zendure-poller/internal/setup"
)

// Run flags
var (
	listenAddr     string
	printSnapshots bool
	redisURL       string
	redisTTL       int
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Poll configured devices until interrupted",
	Long: `Set up every configured device (or the one given by --serial) and poll
it at its interval until SIGINT or SIGTERM.

SIGHUP re-reads the configuration file: devices whose model, interval or
nickname changed are set up again, removed devices stop polling and new ones
are set up. Status API and Redis settings are only read at startup.

Devices that are not reachable yet are retried in the background with an
exponential backoff. With --listen, the latest values are served over HTTP
and WebSocket:

  GET /api/devices
  GET /api/devices/<serial>
  GET /api/devices/<serial>/properties/<name>
  GET /api/devices/<serial>/ws

With --redis, the latest snapshot of each device is also written to the key
"zendure:<serial>" and published on "zendure:<serial>:updates".`,
	Example: `  # Poll every configured device and serve the status API
  zendure-poller run --listen :8080

  # Poll one device every 10 seconds, printing each snapshot as JSON
  zendure-poller run --serial HOA1B2C3 --interval 10 --print

  # Mirror snapshots into Redis
  zendure-poller run --redis redis://localhost:6379/0`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVar(&serial, "serial", "", "Poll only this device")
	runCmd.Flags().StringVar(&model, "model", config.ModelSolarFlow800, "Device model (with --serial)")
	runCmd.Flags().IntVar(&interval, "interval", 0, "Polling interval in seconds (10-600, default from config or 30)")
	runCmd.Flags().IntVar(&timeout, "timeout", 0, "mDNS resolve timeout in seconds (default from config)")
	runCmd.Flags().StringVar(&listenAddr, "listen", "", "Serve the status API on this address (default from config)")
	runCmd.Flags().BoolVar(&printSnapshots, "print", false, "Print every snapshot to stdout as a JSON line")
	runCmd.Flags().StringVar(&redisURL, "redis", "", "Mirror snapshots to this Redis URL (default from config)")
	runCmd.Flags().IntVar(&redisTTL, "redis-ttl", 300, "Seconds a mirrored snapshot lives without a refresh (0 keeps it)")
}

func runRun(cmd *cobra.Command, args []string) error {
	reg, prefs, err := loadConfig()
	if err != nil {
		return err
	}

	entries, err := runEntries(reg)
	if err != nil {
		return err
	}
	if listenAddr != "" {
		prefs.Listen = listenAddr
	}
	if redisURL != "" {
		prefs.RedisURL = redisURL
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	var publisher *publish.RedisPublisher
	if prefs.RedisURL != "" {
		client, err := publish.NewRedisClient(prefs.RedisURL)
		if err != nil {
			return err
		}
		defer client.Close()
		publisher = publish.NewRedisPublisher(client, publish.DefaultPrefix, time.Duration(max(redisTTL, 0))*time.Second)
		fmt.Fprintln(cmd.ErrOrStderr(), "Mirroring snapshots to Redis")
	}

	// Last seen addresses are only recorded for devices from the configuration file.
	var configPath string
	if serial == "" {
		if configPath, err = config.GetConfigPath(); err != nil {
			return err
		}
	}

	orch := newOrchestrator(prefs)
	defer closeOrchestrator(orch)

	var srv *server.Server
	serverErr := make(chan error, 1)
	if prefs.Listen != "" {
		srv = server.New(server.Config{Addr: prefs.Listen}, orch)
		go func() { serverErr <- srv.Start() }()
		fmt.Fprintf(cmd.ErrOrStderr(), "Status API listening on %s\n", srv.Addr())
	}

	runner := newDeviceRunner(orch, cmd.OutOrStdout(), cmd.ErrOrStderr())
	runner.print = printSnapshots
	runner.configPath = configPath
	runner.publisher = publisher
	defer runner.close()

	for _, entry := range entries {
		runner.start(ctx, entry, false)
	}

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case err := <-serverErr:
			if err != nil {
				stop()
				runner.wait()
				return fmt.Errorf("status server: %w", err)
			}
			break loop
		case <-hup:
			diff, err := runner.reload(ctx)
			if err != nil {
				logging.Error("Configuration reload failed", zap.Error(err))
				fmt.Fprintf(cmd.ErrOrStderr(), "Error: reload failed, keeping current devices: %v\n", err)
				continue
			}
			logging.Info("Configuration reloaded",
				zap.Int("added", len(diff.Added)),
				zap.Int("changed", len(diff.Changed)),
				zap.Int("removed", len(diff.Removed)),
			)
			if diff.empty() {
				fmt.Fprintln(cmd.ErrOrStderr(), "Configuration reloaded, no device changes")
			}
		}
	}
	runner.wait()

	fmt.Fprintln(cmd.ErrOrStderr(), "Shutting down...")
	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
			logging.Warn("Status server shutdown failed", zap.Error(err))
		}
	}
	return nil
}

// runEntries returns the entries run should poll
func runEntries(reg *config.Registry) ([]config.Entry, error) {
	if serial != "" {
		entry, err := selectEntry(reg)
		if err != nil {
			return nil, err
		}
		return []config.Entry{entry}, nil
	}

	ids := reg.EntryIDs()
	if len(ids) == 0 {
		return nil, fmt.Errorf("no devices configured: pass --serial or run 'zendure-poller device add'")
	}

	entries := make([]config.Entry, 0, len(ids))
	for _, id := range ids {
		entry := *reg.GetEntry(id)
		if interval > 0 {
			entry.UpdateInterval = interval
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// entryDiff is the work needed to move the running devices to a new
// set of entries
type entryDiff struct {
	Added   []config.Entry
	Changed []config.Entry
	Removed []string
}

func (d entryDiff) empty() bool {
	return len(d.Added) == 0 && len(d.Changed) == 0 && len(d.Removed) == 0
}

// diffEntries compares the running entries with the wanted ones.
// Added and Changed keep the order of wanted; Removed is sorted.
func diffEntries(current map[string]config.Entry, wanted []config.Entry) entryDiff {
	var diff entryDiff
	seen := make(map[string]bool, len(wanted))
	for _, entry := range wanted {
		id := entry.ID()
		seen[id] = true
		old, ok := current[id]
		switch {
		case !ok:
			diff.Added = append(diff.Added, entry)
		case !sameSettings(old, entry):
			diff.Changed = append(diff.Changed, entry)
		}
	}
	for id := range current {
		if !seen[id] {
			diff.Removed = append(diff.Removed, id)
		}
	}
	sort.Strings(diff.Removed)
	return diff
}

// sameSettings ignores the last seen fields, which run itself writes
func sameSettings(a, b config.Entry) bool {
	return a.Model == b.Model && a.Interval() == b.Interval() && a.Nickname == b.Nickname
}

type pendingSetup struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// deviceRunner sets up entries in the background and wires sensors and
// output to every device that comes online
type deviceRunner struct {
	orch       *setup.Orchestrator
	out        io.Writer
	errOut     io.Writer
	print      bool
	configPath string
	publisher  *publish.RedisPublisher

	g errgroup.Group

	mu       sync.Mutex
	entries  map[string]config.Entry
	pending  map[string]*pendingSetup
	platform map[string]*sensor.Platform
}

func newDeviceRunner(orch *setup.Orchestrator, out, errOut io.Writer) *deviceRunner {
	return &deviceRunner{
		orch:     orch,
		out:      out,
		errOut:   errOut,
		entries:  make(map[string]config.Entry),
		pending:  make(map[string]*pendingSetup),
		platform: make(map[string]*sensor.Platform),
	}
}

// start brings entry online in the background. Each device retries on its
// own; one missing device does not hold up the rest. With reload set, a
// loaded device for the same id is replaced.
func (r *deviceRunner) start(ctx context.Context, entry config.Entry, reload bool) {
	id := entry.ID()
	setupCtx, cancel := context.WithCancel(ctx)
	p := &pendingSetup{cancel: cancel, done: make(chan struct{})}

	r.mu.Lock()
	r.entries[id] = entry
	r.pending[id] = p
	r.mu.Unlock()

	r.g.Go(func() error {
		defer close(p.done)
		defer cancel()
		defer r.settled(id, p)

		d, err := r.bringUp(setupCtx, entry, reload)
		if err != nil {
			if setupCtx.Err() == nil {
				logging.Error("Device setup failed", zap.String("id", id), zap.Error(err))
				fmt.Fprintf(r.errOut, "Error: %s: %v\n", entry.Title(), err)
			}
			return nil
		}
		r.attach(d)
		fmt.Fprintf(r.errOut, "Polling %s at %s every %s\n", d.Title(), d.Coordinator.Address(), d.Coordinator.Interval())
		return nil
	})
}

func (r *deviceRunner) bringUp(ctx context.Context, entry config.Entry, reload bool) (*setup.Device, error) {
	if reload {
		d, err := r.orch.Reload(ctx, entry)
		if err == nil || !errors.Is(err, setup.ErrNotReady) {
			return d, err
		}
	}
	return r.orch.SetupWithRetry(ctx, entry, setup.DefaultBackOff())
}

func (r *deviceRunner) settled(id string, p *pendingSetup) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pending[id] == p {
		delete(r.pending, id)
	}
}

// detach cancels a setup still in progress for id and closes its sensors
func (r *deviceRunner) detach(id string) {
	r.mu.Lock()
	p := r.pending[id]
	r.mu.Unlock()
	if p != nil {
		p.cancel()
		<-p.done
	}

	r.mu.Lock()
	platform := r.platform[id]
	delete(r.platform, id)
	r.mu.Unlock()
	if platform != nil {
		platform.Close()
	}
}

// reload re-reads the configuration file and applies the difference to
// the running devices
func (r *deviceRunner) reload(ctx context.Context) (entryDiff, error) {
	reg, err := config.ReloadRegistry()
	if err != nil {
		return entryDiff{}, err
	}

	var wanted []config.Entry
	if serial != "" || len(reg.Entries) > 0 {
		if wanted, err = runEntries(reg); err != nil {
			return entryDiff{}, err
		}
	}

	diff := r.apply(ctx, wanted)
	return diff, nil
}

// apply moves the running devices to wanted
func (r *deviceRunner) apply(ctx context.Context, wanted []config.Entry) entryDiff {
	r.mu.Lock()
	diff := diffEntries(r.entries, wanted)
	r.mu.Unlock()

	for _, id := range diff.Removed {
		r.detach(id)
		r.orch.Unload(id)
		r.mu.Lock()
		delete(r.entries, id)
		r.mu.Unlock()
		fmt.Fprintf(r.errOut, "Stopped polling %s\n", id)
	}
	for _, entry := range diff.Changed {
		r.detach(entry.ID())
		r.start(ctx, entry, true)
	}
	for _, entry := range diff.Added {
		r.start(ctx, entry, false)
	}
	return diff
}

// wait blocks until every background setup has finished
func (r *deviceRunner) wait() {
	_ = r.g.Wait()
}

func (r *deviceRunner) attach(d *setup.Device) {
	info := sensor.NewDeviceInfo(d.Entry.Serial, d.Entry.Model)
	p := sensor.NewPlatform(d.Coordinator, info, sensor.DefaultTranslator(), func(s *sensor.Sensor) {
		logging.Debug("Sensor added",
			zap.String("unique_id", s.UniqueID),
			zap.String("name", s.Name),
		)
	})

	if r.print {
		r.printSnapshot(d.ID, d.Coordinator.ConsecutiveFailures(), d.Coordinator.Snapshot())
		d.Coordinator.AddListener(coordinator.ListenerFunc(func(s coordinator.Snapshot) {
			r.printSnapshot(d.ID, d.Coordinator.ConsecutiveFailures(), s)
		}))
	}
	if r.publisher != nil {
		d.Coordinator.AddListener(r.publisher.Listener(d.ID, d.Coordinator))
	}

	r.mu.Lock()
	r.platform[d.ID] = p
	r.mu.Unlock()

	if r.configPath != "" && d.Endpoint != nil {
		if err := config.UpdateLastSeen(r.configPath, d.ID, d.Endpoint.IP); err != nil {
			logging.Warn("Failed to record last seen address", zap.String("id", d.ID), zap.Error(err))
		}
	}
}

func (r *deviceRunner) printSnapshot(id string, failures int, s coordinator.Snapshot) {
	line, err := json.Marshal(publish.NewMessage(id, failures, s))
	if err != nil {
		logging.Warn("Failed to encode snapshot", zap.String("id", id), zap.Error(err))
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	_, _ = fmt.Fprintln(r.out, string(line))
}

func (r *deviceRunner) close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, p := range r.platform {
		p.Close()
		delete(r.platform, id)
	}
}
