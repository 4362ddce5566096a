package setup

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/zendure-tools/zendure-poller/internal/config"
	"github.com/zendure-tools/zendure-poller/internal/coordinator"
	"github.com/zendure-tools/zendure-poller/internal/device"
	"github.com/zendure-tools/zendure-poller/internal/discovery"
	"github.com/zendure-tools/zendure-poller/internal/logging"
)

// Resolver finds a device on the network. *discovery.Resolver implements it.
type Resolver interface {
	Resolve(ctx context.Context, q discovery.Query) (*discovery.Endpoint, error)
}

// Options configures an Orchestrator
type Options struct {
	// ResolveTimeout overrides the query's default mDNS wait
	ResolveTimeout time.Duration

	// ReportPath is the HTTP path of the device report (default "/")
	ReportPath string

	// HTTPTimeout bounds each HTTP request (default device.DefaultTimeout)
	HTTPTimeout time.Duration
}

// Orchestrator sets up, tracks and tears down devices
type Orchestrator struct {
	resolver Resolver
	registry *Registry
	opts     Options

	// Polling loops outlive the Setup call; they stop on Unload or Close.
	base   context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
}

// New creates an orchestrator using resolver for discovery
func New(resolver Resolver, opts Options) *Orchestrator {
	base, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		resolver: resolver,
		registry: NewRegistry(),
		opts:     opts,
		base:     base,
		cancel:   cancel,
	}
}

// Registry returns the registry of loaded devices
func (o *Orchestrator) Registry() *Registry {
	return o.registry
}

// Setup brings one entry online.
//
// On success the device is registered under entry.ID() and polling has
// started. If the device is not advertised in time, or it is found but its
// first refresh fails, the returned error wraps ErrNotReady and nothing is
// registered.
func (o *Orchestrator) Setup(ctx context.Context, entry config.Entry) (*Device, error) {
	if o.isClosed() {
		return nil, ErrClosed
	}
	if err := entry.Validate(); err != nil {
		return nil, fmt.Errorf("invalid entry: %w", err)
	}

	id := entry.ID()
	if o.registry.Has(id) {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyLoaded, id)
	}

	query := discovery.NewQuery(entry.Model, entry.Serial)
	if o.opts.ResolveTimeout > 0 {
		query.Timeout = o.opts.ResolveTimeout
	}

	ep, err := o.resolver.Resolve(ctx, query)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %w", ErrNotReady, err)
	}

	client := device.NewClient(ep.IP, ep.Port)
	if o.opts.ReportPath != "" {
		client.Path = o.opts.ReportPath
	}
	if o.opts.HTTPTimeout > 0 {
		client.SetTimeout(o.opts.HTTPTimeout)
	}

	c := coordinator.New(entry.Title(), device.PropertyFetcher{Client: client}, coordinator.Options{
		Interval: entry.Interval(),
		Address:  client.BaseURL,
	})

	if err := c.RefreshNow(ctx); err != nil {
		c.Shutdown()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %w: %w", ErrNotReady, ErrDeviceNotResponding, err)
	}

	d := &Device{
		ID:          id,
		Entry:       entry,
		Endpoint:    ep,
		Coordinator: c,
	}
	if err := o.registry.Register(d); err != nil {
		c.Shutdown()
		return nil, err
	}
	if o.isClosed() {
		o.registry.Remove(id)
		c.Shutdown()
		return nil, ErrClosed
	}

	if err := c.Start(o.base); err != nil {
		o.registry.Remove(id)
		c.Shutdown()
		return nil, err
	}

	logging.Info("Device set up",
		zap.String("id", id),
		zap.String("title", entry.Title()),
		zap.String("instance", ep.Name),
		zap.String("addr", client.BaseURL),
		zap.Duration("interval", c.Interval()),
	)
	return d, nil
}

// SetupWithRetry repeats Setup while it fails with ErrNotReady, waiting
// between attempts as policy dictates. It gives up when policy returns
// backoff.Stop or ctx ends. Other errors are returned immediately.
func (o *Orchestrator) SetupWithRetry(ctx context.Context, entry config.Entry, policy backoff.BackOff) (*Device, error) {
	policy.Reset()

	for attempt := 1; ; attempt++ {
		d, err := o.Setup(ctx, entry)
		if err == nil || !errors.Is(err, ErrNotReady) {
			return d, err
		}

		wait := policy.NextBackOff()
		if wait == backoff.Stop {
			return nil, err
		}

		logging.Warn("Device not ready, retrying",
			zap.String("id", entry.ID()),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.String("error_kind", device.ErrorKind(err)),
			zap.Error(err),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

// DefaultBackOff returns the retry policy the CLI uses: exponential from 5s
// up to 5 minutes between attempts, retrying forever.
func DefaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 5 * time.Second
	b.MaxInterval = 5 * time.Minute
	b.MaxElapsedTime = 0
	return b
}

// Get returns a loaded device
func (o *Orchestrator) Get(id string) (*Device, bool) {
	return o.registry.Get(id)
}

// IDs returns the ids of all loaded devices
func (o *Orchestrator) IDs() []string {
	return o.registry.IDs()
}

// Unload stops polling for id and removes it. It reports whether id was loaded.
func (o *Orchestrator) Unload(id string) bool {
	d, ok := o.registry.Remove(id)
	if !ok {
		return false
	}
	d.Coordinator.Shutdown()
	logging.Info("Device unloaded", zap.String("id", id))
	return true
}

// Reload unloads the entry, if loaded, and sets it up again
func (o *Orchestrator) Reload(ctx context.Context, entry config.Entry) (*Device, error) {
	o.Unload(entry.ID())
	return o.Setup(ctx, entry)
}

// Close shuts down every loaded device in parallel. It returns ctx.Err()
// if ctx ends before all coordinators have stopped.
func (o *Orchestrator) Close(ctx context.Context) error {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()

	var g errgroup.Group
	for _, d := range o.registry.drain() {
		g.Go(func() error {
			d.Coordinator.Shutdown()
			return nil
		})
	}

	done := make(chan error, 1)
	go func() {
		done <- g.Wait()
		o.cancel()
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		o.cancel()
		return ctx.Err()
	}
}

func (o *Orchestrator) isClosed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}
