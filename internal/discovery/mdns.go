package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/grandcat/zeroconf"
	"go.uber.org/zap"

	"github.com/zendure-tools/zendure-poller/internal/logging"
)

const (
	// ServiceType is the DNS-SD service type Zendure devices advertise
	ServiceType = "_http._tcp"

	// ServiceDomain is the mDNS domain (typically "local.")
	ServiceDomain = "local."

	// FullServiceType is ServiceType qualified with ServiceDomain
	FullServiceType = ServiceType + "." + ServiceDomain

	// InstancePrefix starts every Zendure instance name
	InstancePrefix = "Zendure"

	// DefaultResolveTimeout is how long Resolve waits for the device by default
	DefaultResolveTimeout = 5 * time.Second

	// DefaultScanTimeout is the default timeout for Scan
	DefaultScanTimeout = 10 * time.Second

	// DefaultPort is used when an advertisement carries no port
	DefaultPort = 80

	// DefaultReleaseTimeout bounds the wait for a browser to shut down
	DefaultReleaseTimeout = 2 * time.Second
)

// ErrTimeout is returned when no matching advertisement arrived in time.
// It is an expected outcome: the device is absent or not yet online.
var ErrTimeout = errors.New("mDNS resolve timed out")

// instancePattern matches Zendure instance names (e.g., "Zendure-SolarFlow800-12345")
var instancePattern = regexp.MustCompile(`^Zendure-([A-Za-z0-9]+)-([A-Za-z0-9]+)$`)

// Browser streams service entries for a service type.
//
// Browse must return quickly and keep delivering entries in the background
// until ctx is done, then close entries and release its sockets. Callers keep
// receiving from entries until it is closed. *zeroconf.Resolver satisfies
// this contract.
type Browser interface {
	Browse(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error
}

// BrowserFactory opens a fresh Browser for one Resolve or Scan call.
type BrowserFactory func() (Browser, error)

// newZeroconfBrowser opens a multicast resolver on all interfaces
func newZeroconfBrowser() (Browser, error) {
	r, err := zeroconf.NewResolver()
	if err != nil {
		return nil, err
	}
	return r, nil
}

// Resolver handles mDNS name resolution
type Resolver struct {
	newBrowser BrowserFactory

	// ReleaseTimeout is the maximum time to wait for the browser to shut
	// down after a call has its answer
	ReleaseTimeout time.Duration
}

// NewResolver creates a resolver backed by zeroconf
func NewResolver() *Resolver {
	return NewResolverWithBrowser(newZeroconfBrowser)
}

// NewResolverWithBrowser creates a resolver using a custom browser factory
func NewResolverWithBrowser(factory BrowserFactory) *Resolver {
	return &Resolver{
		newBrowser:     factory,
		ReleaseTimeout: DefaultReleaseTimeout,
	}
}

// Resolve waits for the first advertisement matching q and returns its
// endpoint. It returns an error wrapping ErrTimeout when q.Timeout elapses
// first, or ctx.Err() when ctx ends first.
func (r *Resolver) Resolve(ctx context.Context, q Query) (*Endpoint, error) {
	service, domain := SplitServiceType(q.ServiceType)
	timeout := q.Timeout
	if timeout <= 0 {
		timeout = DefaultResolveTimeout
	}

	browseCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	browser, err := r.newBrowser()
	if err != nil {
		return nil, fmt.Errorf("failed to create mDNS resolver: %w", err)
	}

	entries := make(chan *zeroconf.ServiceEntry)
	found := make(chan *Endpoint, 1)
	drained := make(chan struct{})

	go func() {
		defer close(drained)
		matched := false
		for entry := range entries {
			// Keep draining after a match so the browser never blocks on send
			if matched {
				continue
			}
			if !q.MatchesEntry(entry, service, domain) {
				continue
			}
			ep := endpointFromEntry(entry)
			if ep == nil {
				logging.Debug("Ignoring advertisement without address",
					zap.String("name", q.ExpectedName),
					zap.String("instance", entry.Instance),
				)
				continue
			}
			matched = true
			found <- ep
		}
	}()

	// Release the listener on every exit path before handing control back
	defer r.awaitRelease(cancel, drained)

	if err := browser.Browse(browseCtx, service, domain, entries); err != nil {
		return nil, fmt.Errorf("failed to browse for mDNS services: %w", err)
	}

	select {
	case ep := <-found:
		logging.LogResolve(q.ExpectedName, ep.Address(), nil)
		return ep, nil
	case <-browseCtx.Done():
	}

	// A match may have landed together with the deadline
	select {
	case ep := <-found:
		logging.LogResolve(q.ExpectedName, ep.Address(), nil)
		return ep, nil
	default:
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	err = fmt.Errorf("%w: %s not seen within %s", ErrTimeout, q.ExpectedName, timeout)
	logging.LogResolve(q.ExpectedName, "", err)
	return nil, err
}

// Scan collects every Zendure advertisement seen within timeout, sorted by name
func (r *Resolver) Scan(ctx context.Context, timeout time.Duration) ([]*Endpoint, error) {
	if timeout <= 0 {
		timeout = DefaultScanTimeout
	}

	browseCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	browser, err := r.newBrowser()
	if err != nil {
		return nil, fmt.Errorf("failed to create mDNS resolver: %w", err)
	}

	entries := make(chan *zeroconf.ServiceEntry)
	drained := make(chan struct{})
	byName := make(map[string]*Endpoint)

	go func() {
		defer close(drained)
		for entry := range entries {
			if _, _, ok := ParseInstanceName(entry.Instance); !ok {
				continue
			}
			if ep := endpointFromEntry(entry); ep != nil {
				byName[ep.Name] = ep
			}
		}
	}()

	service, domain := SplitServiceType(FullServiceType)
	if err := browser.Browse(browseCtx, service, domain, entries); err != nil {
		r.awaitRelease(cancel, drained)
		return nil, fmt.Errorf("failed to browse for mDNS services: %w", err)
	}

	<-browseCtx.Done()
	if !r.awaitRelease(cancel, drained) {
		return nil, fmt.Errorf("mDNS browser did not shut down within %s", r.ReleaseTimeout)
	}

	endpoints := make([]*Endpoint, 0, len(byName))
	for _, ep := range byName {
		endpoints = append(endpoints, ep)
	}
	sort.Slice(endpoints, func(i, j int) bool { return endpoints[i].Name < endpoints[j].Name })

	return endpoints, ctx.Err()
}

// awaitRelease cancels the browse context and waits, bounded by
// ReleaseTimeout, until the browser has closed its entries channel.
// Returns false if the browser did not finish in time.
func (r *Resolver) awaitRelease(cancel context.CancelFunc, drained <-chan struct{}) bool {
	cancel()

	wait := r.ReleaseTimeout
	if wait <= 0 {
		wait = DefaultReleaseTimeout
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-drained:
		return true
	case <-timer.C:
		logging.Warn("mDNS browser still running after release timeout",
			zap.Duration("timeout", wait),
		)
		return false
	}
}

// MatchesEntry reports whether entry advertises the instance q is waiting for.
// The instance name and host name are both compared after suffix normalization.
func (q Query) MatchesEntry(entry *zeroconf.ServiceEntry, service, domain string) bool {
	if entry == nil {
		return false
	}
	want := normalizeName(q.ExpectedName, service, domain)
	if want == "" {
		return false
	}
	for _, candidate := range []string{entry.Instance, entry.HostName} {
		if candidate != "" && strings.EqualFold(normalizeName(candidate, service, domain), want) {
			return true
		}
	}
	return false
}

// normalizeName strips the trailing dot, the service/domain suffix and the
// ".local" suffix from an mDNS name
func normalizeName(name, service, domain string) string {
	n := strings.TrimSuffix(strings.TrimSpace(name), ".")
	d := strings.TrimSuffix(domain, ".")

	for _, suffix := range []string{"." + service + "." + d, "." + d} {
		if len(n) > len(suffix) && strings.EqualFold(n[len(n)-len(suffix):], suffix) {
			n = n[:len(n)-len(suffix)]
		}
	}
	return n
}

// SplitServiceType splits "_http._tcp.local." into "_http._tcp" and "local."
func SplitServiceType(full string) (service, domain string) {
	full = strings.TrimSuffix(full, ".")
	if full == "" {
		return ServiceType, ServiceDomain
	}

	parts := strings.Split(full, ".")
	// Service types are "_name._proto"; everything after is the domain
	if len(parts) <= 2 {
		return full, ServiceDomain
	}
	return strings.Join(parts[:2], "."), strings.Join(parts[2:], ".") + "."
}

// ParseInstanceName extracts model and serial from a Zendure instance name
func ParseInstanceName(name string) (model, serial string, ok bool) {
	matches := instancePattern.FindStringSubmatch(strings.TrimSuffix(name, "."))
	if len(matches) < 3 {
		return "", "", false
	}
	return matches[1], matches[2], true
}

// endpointFromEntry converts a zeroconf service entry to an Endpoint.
// Returns nil if the entry carries no usable address.
func endpointFromEntry(entry *zeroconf.ServiceEntry) *Endpoint {
	ip := firstIP(entry.AddrIPv4)
	if ip == "" {
		ip = firstIP(entry.AddrIPv6)
	}
	if ip == "" {
		return nil
	}

	port := entry.Port
	if port == 0 {
		port = DefaultPort
	}
	if port < 1 || port > 65535 {
		return nil
	}

	text := make(map[string]string)
	for _, txt := range entry.Text {
		// TXT records are in "key=value" format
		parts := strings.SplitN(txt, "=", 2)
		if len(parts) == 2 {
			text[parts[0]] = parts[1]
		} else {
			text[parts[0]] = ""
		}
	}

	return &Endpoint{
		Name:       entry.Instance,
		Hostname:   entry.HostName,
		IP:         ip,
		Port:       port,
		Text:       text,
		ResolvedAt: time.Now(),
	}
}

func firstIP(addrs []net.IP) string {
	for _, addr := range addrs {
		if addr != nil && !addr.IsUnspecified() {
			return addr.String()
		}
	}
	return ""
}
