package device

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/zendure-tools/zendure-poller/internal/version"
)

const (
	// DefaultTimeout is the default HTTP request timeout
	DefaultTimeout = 10 * time.Second

	// DefaultPath is the path the report is fetched from
	DefaultPath = "/"

	// MaxBodySize caps how much of a response body is read
	MaxBodySize = 1 << 20
)

// Client represents an HTTP client for reading a Zendure device's report
type Client struct {
	// BaseURL is the base URL for the device (e.g., "http://192.168.1.50:80")
	BaseURL string

	// Path is appended to BaseURL for every fetch (default "/")
	Path string

	// UserAgent is sent with every request
	UserAgent string

	// HTTPClient is the underlying HTTP client
	HTTPClient *http.Client
}

// NewClient creates a new device client
// ip: Device IP address (e.g., "192.168.1.50")
// port: Device HTTP port (typically 80)
func NewClient(ip string, port int) *Client {
	return NewClientWithURL("http://" + net.JoinHostPort(ip, strconv.Itoa(port)))
}

// NewClientWithURL creates a new client with a full base URL
// baseURL: Full base URL (e.g., "http://192.168.1.50:80")
func NewClientWithURL(baseURL string) *Client {
	return &Client{
		BaseURL:    strings.TrimSuffix(baseURL, "/"),
		Path:       DefaultPath,
		UserAgent:  version.UserAgent,
		HTTPClient: &http.Client{Timeout: DefaultTimeout},
	}
}

// SetTimeout sets the HTTP request timeout
func (c *Client) SetTimeout(timeout time.Duration) {
	c.HTTPClient.Timeout = timeout
}

// URL returns the full URL a fetch requests
func (c *Client) URL() string {
	path := c.Path
	if path == "" {
		path = DefaultPath
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return c.BaseURL + path
}

// Fetch performs a single GET and parses the response into a Report.
// There is no retry; every failure is returned as a *DeviceError.
func (c *Client) Fetch(ctx context.Context) (*Report, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL(), nil)
	if err != nil {
		return nil, NewNetworkError("failed to create GET request", c.BaseURL, err)
	}
	req.Header.Set("Accept", "application/json")
	if c.UserAgent != "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, NewNetworkError("GET request failed", c.BaseURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain a little so the connection can be reused
		_, _ = io.CopyN(io.Discard, resp.Body, 4096)
		return nil, NewHTTPError(resp.StatusCode, c.BaseURL, fmt.Sprintf("unexpected status code: %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxBodySize))
	if err != nil {
		return nil, NewNetworkError("failed to read response body", c.BaseURL, err)
	}

	report, err := ParseReport(body)
	if err != nil {
		return nil, NewParseError("failed to parse response", c.BaseURL, err)
	}

	return report, nil
}

// FetchProperties fetches a report and returns only its property map
func (c *Client) FetchProperties(ctx context.Context) (map[string]any, error) {
	report, err := c.Fetch(ctx)
	if err != nil {
		return nil, err
	}
	return report.Properties, nil
}

// PropertyFetcher adapts a Client to the coordinator's fetch contract,
// returning only the property map of each report.
type PropertyFetcher struct {
	Client *Client
}

// Fetch implements coordinator.Fetcher
func (f PropertyFetcher) Fetch(ctx context.Context) (map[string]any, error) {
	return f.Client.FetchProperties(ctx)
}

// Address returns the base URL the fetcher polls
func (f PropertyFetcher) Address() string {
	return f.Client.BaseURL
}
