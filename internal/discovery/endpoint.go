package discovery

import (
	"fmt"
	"net"
	"strconv"
	"time"
)

// Query describes the single service instance a Resolve call waits for.
type Query struct {
	// ServiceType is the full DNS-SD service type (e.g., "_http._tcp.local.")
	ServiceType string

	// ExpectedName is the instance name without service/domain suffix
	// (e.g., "Zendure-SolarFlow800-12345")
	ExpectedName string

	// Timeout bounds how long Resolve waits for a matching advertisement
	Timeout time.Duration
}

// NewQuery builds the query for a device identified by model and serial number.
func NewQuery(model, serial string) Query {
	return Query{
		ServiceType:  FullServiceType,
		ExpectedName: InstanceName(model, serial),
		Timeout:      DefaultResolveTimeout,
	}
}

// InstanceName returns the mDNS instance name a device advertises.
func InstanceName(model, serial string) string {
	return fmt.Sprintf("%s-%s-%s", InstancePrefix, model, serial)
}

// Endpoint is a resolved device address
type Endpoint struct {
	// Name is the advertised instance name (e.g., "Zendure-SolarFlow800-12345")
	Name string `json:"name"`

	// Hostname is the mDNS hostname (e.g., "Zendure-SolarFlow800-12345.local.")
	Hostname string `json:"hostname"`

	// IP is the device address, IPv4 preferred
	IP string `json:"ip"`

	// Port is the HTTP port (DefaultPort when the advertisement carries none)
	Port int `json:"port"`

	// Text contains the TXT record key/value pairs
	Text map[string]string `json:"txt,omitempty"`

	// ResolvedAt is when the advertisement was received
	ResolvedAt time.Time `json:"resolved_at"`
}

// String returns a human-readable string representation of the endpoint
func (e *Endpoint) String() string {
	return fmt.Sprintf("%s at %s", e.Name, e.Address())
}

// Address returns host:port, bracketing IPv6 addresses
func (e *Endpoint) Address() string {
	return net.JoinHostPort(e.IP, strconv.Itoa(e.Port))
}

// BaseURL returns the HTTP base URL for the device
func (e *Endpoint) BaseURL() string {
	return "http://" + e.Address()
}
