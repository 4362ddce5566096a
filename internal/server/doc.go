// Package server exposes loaded devices over HTTP.
//
// It is a read-only status API on top of the setup registry. Nothing in it
// triggers a device fetch; every response is built from the last snapshot of
// the device's coordinator.
//
// # Routes
//
//	GET /api/devices                          all loaded devices
//	GET /api/devices/:id                      one device with its properties
//	GET /api/devices/:id/properties/:name     one property
//	GET /api/devices/:id/ws                   WebSocket snapshot stream
//
// The WebSocket stream sends the current snapshot on connect and then one
// JSON message per refresh, successful or not. The connection is closed when
// the device is unloaded.
//
// # Usage Example
//
//	srv := server.New(server.Config{Addr: ":8080"}, orchestrator)
//	go func() {
//	    if err := srv.Start(); err != nil {
//	        log.Fatal(err)
//	    }
//	}()
//	defer srv.Shutdown(ctx)
package server
