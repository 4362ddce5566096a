package server

import (
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/zendure-tools/zendure-poller/internal/coordinator"
	"github.com/zendure-tools/zendure-poller/internal/logging"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 512

	// Snapshots queued per stream before new ones are dropped
	sendBuffer = 8
)

// streamDevice upgrades to a WebSocket and pushes the current snapshot, then
// one message per completed refresh, until the client goes away or the
// device is unloaded.
func (s *Server) streamDevice(c echo.Context) error {
	d, err := s.lookup(c)
	if err != nil {
		return err
	}

	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// Upgrade has already written an error response
		logging.Warn("WebSocket upgrade failed", zap.String("id", d.ID), zap.Error(err))
		return nil
	}
	remoteAddr := conn.RemoteAddr().String()
	if !s.trackStream(conn) {
		closeStream(conn, "server shutting down")
		return nil
	}
	defer s.untrackStream(conn)
	logging.Debug("WebSocket stream opened", zap.String("id", d.ID), zap.String("remote_addr", remoteAddr))

	send := make(chan coordinator.Snapshot, sendBuffer)
	send <- d.Coordinator.Snapshot()

	listenerID := d.Coordinator.AddListener(coordinator.ListenerFunc(func(snap coordinator.Snapshot) {
		select {
		case send <- snap:
		default:
			logging.Debug("WebSocket client too slow, dropping snapshot", zap.String("id", d.ID))
		}
	}))
	defer d.Coordinator.RemoveListener(listenerID)

	// The reader only handles control frames and detects disconnects
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(maxMessageSize)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingPeriod)
	defer func() {
		ping.Stop()
		_ = conn.Close()
		logging.Debug("WebSocket stream closed", zap.String("id", d.ID), zap.String("remote_addr", remoteAddr))
	}()

	for {
		select {
		case snap := <-send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(snapshotMessage(d, snap)); err != nil {
				return nil
			}

		case <-ping.C:
			if current, ok := s.devices.Get(d.ID); !ok || current != d {
				closeStream(conn, "device unloaded")
				return nil
			}
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return nil
			}

		case <-closed:
			return nil
		}
	}
}

// closeStream sends a going-away close frame and closes conn. It is safe to
// call concurrently with the stream's writer.
func closeStream(conn *websocket.Conn, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, reason),
		time.Now().Add(writeWait))
	_ = conn.Close()
}
