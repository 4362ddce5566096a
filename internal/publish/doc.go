// Package publish mirrors device snapshots to external systems.
//
// RedisPublisher keeps the last known snapshot of each device under a key
// with a TTL and publishes every snapshot on a per-device channel, so other
// processes can read current telemetry without talking to the device:
//
//	client, err := publish.NewRedisClient("redis://localhost:6379/0")
//	pub := publish.NewRedisPublisher(client, "zendure", 5*time.Minute)
//	id := device.Coordinator.AddListener(pub.Listener(device.ID, device.Coordinator))
//
// Only the latest value is kept; no history is written.
package publish
