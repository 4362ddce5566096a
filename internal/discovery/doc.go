// Package discovery resolves Zendure devices advertised over mDNS/DNS-SD.
//
// Zendure devices announce themselves as "_http._tcp" services in the
// "local." domain with an instance name of the form
// "Zendure-<model>-<serial>", for example "Zendure-SolarFlow800-12345".
//
// # Resolve
//
// Resolve waits for the first advertisement whose name matches the query and
// returns its address. The wait is bounded by the query timeout; running out
// of time is reported as ErrTimeout, which callers treat as "device not
// ready yet" rather than a configuration problem:
//
//	q := discovery.NewQuery("SolarFlow800", "12345")
//	ep, err := discovery.NewResolver().Resolve(ctx, q)
//	if errors.Is(err, discovery.ErrTimeout) {
//	    // retry later
//	}
//	fmt.Println(ep.BaseURL()) // http://192.168.1.50:80
//
// Every call opens its own multicast listener and releases it before
// returning, whichever way the call ends.
//
// # Scan
//
// Scan collects all Zendure advertisements seen within a timeout. It backs the
// "scan" command and is not used by the polling path.
//
// # Network Requirements
//
//   - Requires multicast support on the network interface
//   - Devices must be on the same local network segment
//   - Firewall must allow mDNS (UDP port 5353)
package discovery
