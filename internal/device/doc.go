// Package device provides the HTTP client for the Zendure ZenSDK local API.
//
// A device answers a plain GET with a JSON report whose "properties" object
// maps property names (e.g. "electricLevel", "outputHomePower") to scalar
// values. Client.Fetch issues exactly one request per call and never retries;
// retrying is the polling coordinator's job.
//
// # Usage Example
//
//	client := device.NewClient("192.168.1.50", 80)
//	report, err := client.Fetch(ctx)
//	if err != nil {
//	    fmt.Println(device.GetShortErrorMessage(err))
//	    return
//	}
//	fmt.Println(report.Properties["electricLevel"])
//
// # Error Handling
//
// Every failure is returned as a *DeviceError carrying a category (network,
// timeout, connection refused, DNS, HTTP status, parse) and the address that
// was attempted. Use the Is* helpers or errors.As to inspect it.
package device
