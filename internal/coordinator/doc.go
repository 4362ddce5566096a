// Package coordinator owns the polling lifecycle of a single Zendure device.
//
// A Coordinator wraps a Fetcher, refreshes it on a fixed interval and keeps
// the last known good property map. Each refresh publishes a new immutable
// Snapshot and hands it to every registered Listener, whether the fetch
// succeeded or not:
//
//	c := coordinator.New("SolarFlow800 (2345)", device.PropertyFetcher{Client: client}, coordinator.Options{
//	    Interval: 30 * time.Second,
//	    Address:  client.BaseURL,
//	})
//	if err := c.RefreshNow(ctx); err != nil {
//	    // device found but not answering
//	}
//	c.AddListener(coordinator.ListenerFunc(func(s coordinator.Snapshot) {
//	    fmt.Println(s.Success, s.Properties["electricLevel"])
//	}))
//	_ = c.Start(ctx)
//	defer c.Shutdown()
//
// # Failure Semantics
//
// A failed refresh never clears data. The snapshot it publishes carries the
// properties of the most recent successful fetch with Success set to false,
// so consumers can show stale values instead of nothing. Failures never stop
// the scheduled loop; it keeps polling until Shutdown.
//
// # Concurrency
//
// At most one fetch runs at a time. A RefreshNow issued while another refresh
// is in flight joins that refresh and returns its result. Listeners are
// called synchronously, in registration order, before the refresh completes.
package coordinator
