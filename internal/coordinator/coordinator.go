package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/zendure-tools/zendure-poller/internal/logging"
)

const (
	// DefaultInterval is the polling interval when none is configured
	DefaultInterval = 30 * time.Second

	// MinInterval is the shortest allowed polling interval
	MinInterval = 10 * time.Second

	// MaxInterval is the longest allowed polling interval
	MaxInterval = 600 * time.Second
)

var (
	// ErrRefreshFailed wraps the fetch error of a failed refresh
	ErrRefreshFailed = errors.New("refresh failed")

	// ErrShutdown is returned by operations on a coordinator that was shut down
	ErrShutdown = errors.New("coordinator is shut down")

	// ErrAlreadyStarted is returned when Start is called twice
	ErrAlreadyStarted = errors.New("coordinator already started")
)

// Fetcher retrieves the current property map of a device
type Fetcher interface {
	Fetch(ctx context.Context) (map[string]any, error)
}

// FetcherFunc adapts a plain function to the Fetcher interface
type FetcherFunc func(ctx context.Context) (map[string]any, error)

// Fetch calls f(ctx)
func (f FetcherFunc) Fetch(ctx context.Context) (map[string]any, error) {
	return f(ctx)
}

// ClampInterval bounds d to [MinInterval, MaxInterval].
// A zero or negative interval selects DefaultInterval.
func ClampInterval(d time.Duration) time.Duration {
	switch {
	case d <= 0:
		return DefaultInterval
	case d < MinInterval:
		return MinInterval
	case d > MaxInterval:
		return MaxInterval
	default:
		return d
	}
}

// Options configures a Coordinator
type Options struct {
	// Interval between scheduled refreshes, clamped with ClampInterval
	Interval time.Duration

	// RefreshTimeout bounds a single fetch. Zero leaves it to the fetcher.
	RefreshTimeout time.Duration

	// Address is the polled base URL, used in log output only
	Address string
}

// ticker abstracts time.Ticker so tests can drive the schedule
type ticker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct {
	t *time.Ticker
}

func (t timeTicker) C() <-chan time.Time { return t.t.C }
func (t timeTicker) Stop()               { t.t.Stop() }

func newTimeTicker(d time.Duration) ticker {
	return timeTicker{t: time.NewTicker(d)}
}

// Coordinator polls one device and publishes snapshots to listeners
type Coordinator struct {
	name    string
	fetcher Fetcher
	opts    Options

	snapshot atomic.Pointer[Snapshot]
	group    singleflight.Group

	mu        sync.Mutex
	failures  int
	listeners []registration
	nextID    ListenerID
	started   bool
	closed    bool
	cancel    context.CancelFunc
	done      chan struct{}

	// notifying counts refreshes delivering a snapshot to listeners
	notifying sync.WaitGroup

	newTicker func(time.Duration) ticker
	now       func() time.Time
}

// New creates a coordinator for one device. The coordinator starts with an
// empty snapshot and does not poll until RefreshNow or Start is called.
func New(name string, fetcher Fetcher, opts Options) *Coordinator {
	opts.Interval = ClampInterval(opts.Interval)

	c := &Coordinator{
		name:      name,
		fetcher:   fetcher,
		opts:      opts,
		newTicker: newTimeTicker,
		now:       time.Now,
	}
	c.snapshot.Store(emptySnapshot())
	return c
}

// Name returns the coordinator name used in logs
func (c *Coordinator) Name() string {
	return c.name
}

// Address returns the polled base URL
func (c *Coordinator) Address() string {
	return c.opts.Address
}

// Interval returns the effective (clamped) polling interval
func (c *Coordinator) Interval() time.Duration {
	return c.opts.Interval
}

// RefreshNow fetches once and publishes the result.
//
// If a refresh is already in flight, the call waits for it and returns its
// outcome instead of fetching again. A failed fetch returns an error wrapping
// ErrRefreshFailed and the fetch error; the snapshot keeps the previous
// properties with Success false.
func (c *Coordinator) RefreshNow(ctx context.Context) error {
	if c.isClosed() {
		return ErrShutdown
	}

	_, err, _ := c.group.Do("refresh", func() (any, error) {
		return nil, c.refresh(ctx)
	})
	return err
}

func (c *Coordinator) refresh(ctx context.Context) error {
	fetchCtx := ctx
	if c.opts.RefreshTimeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, c.opts.RefreshTimeout)
		defer cancel()
	}

	props, fetchErr := c.fetcher.Fetch(fetchCtx)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		logging.Debug("Discarding refresh result after shutdown",
			zap.String("name", c.name),
		)
		return ErrShutdown
	}

	prev := c.snapshot.Load()
	next := &Snapshot{FetchedAt: c.now()}
	if fetchErr != nil {
		c.failures++
		next.Properties = prev.Properties
	} else {
		c.failures = 0
		next.Properties = copyProperties(props)
		next.Success = true
	}
	c.snapshot.Store(next)

	failures := c.failures
	listeners := make([]registration, len(c.listeners))
	copy(listeners, c.listeners)
	c.notifying.Add(1)
	c.mu.Unlock()
	defer c.notifying.Done()

	logging.LogRefresh(c.name, c.opts.Address, next.Success, failures, fetchErr)

	for _, reg := range listeners {
		if c.isClosed() {
			break
		}
		reg.listener.OnSnapshot(*next)
	}

	if fetchErr != nil {
		return fmt.Errorf("%w: %s at %s: %w", ErrRefreshFailed, c.name, c.opts.Address, fetchErr)
	}
	return nil
}

// Start launches the scheduled refresh loop. The loop runs until ctx is
// cancelled or Shutdown is called; refresh failures do not stop it.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrShutdown
	}
	if c.started {
		return ErrAlreadyStarted
	}

	loopCtx, cancel := context.WithCancel(ctx)
	c.started = true
	c.cancel = cancel
	c.done = make(chan struct{})

	t := c.newTicker(c.opts.Interval)
	go c.loop(loopCtx, t, c.done)

	logging.Info("Polling started",
		zap.String("name", c.name),
		zap.String("addr", c.opts.Address),
		zap.Duration("interval", c.opts.Interval),
	)
	return nil
}

func (c *Coordinator) loop(ctx context.Context, t ticker, done chan struct{}) {
	defer close(done)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C():
			// Errors are already logged and published as Success=false
			_ = c.RefreshNow(ctx)
		}
	}
}

// AddListener registers l and returns an id for RemoveListener
func (c *Coordinator) AddListener(l Listener) ListenerID {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	c.listeners = append(c.listeners, registration{id: c.nextID, listener: l})
	return c.nextID
}

// RemoveListener unregisters a listener. It reports whether id was registered.
func (c *Coordinator) RemoveListener(id ListenerID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, reg := range c.listeners {
		if reg.id == id {
			c.listeners = append(c.listeners[:i:i], c.listeners[i+1:]...)
			return true
		}
	}
	return false
}

// ListenerCount returns the number of registered listeners
func (c *Coordinator) ListenerCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.listeners)
}

// Shutdown stops the scheduled loop and clears all listeners. A refresh in
// flight is allowed to finish but its result is dropped. If listeners are
// being notified, Shutdown waits for the current one to return and the rest
// are skipped, so no listener runs once Shutdown has returned. Calling
// Shutdown more than once has no further effect.
func (c *Coordinator) Shutdown() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.listeners = nil
	cancel, done := c.cancel, c.done
	c.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	c.notifying.Wait()

	logging.Info("Coordinator shut down", zap.String("name", c.name))
}

func (c *Coordinator) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Snapshot returns the most recently published snapshot
func (c *Coordinator) Snapshot() Snapshot {
	return *c.snapshot.Load()
}

// Property returns a value from the last snapshot. It never fetches.
func (c *Coordinator) Property(name string) (any, bool) {
	return c.snapshot.Load().Get(name)
}

// ConsecutiveFailures returns the number of failed refreshes since the last success
func (c *Coordinator) ConsecutiveFailures() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failures
}

// LastSuccess reports whether the most recent refresh succeeded
func (c *Coordinator) LastSuccess() bool {
	return c.snapshot.Load().Success
}
