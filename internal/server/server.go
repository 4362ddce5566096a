package server

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/zendure-tools/zendure-poller/internal/logging"
	"github.com/zendure-tools/zendure-poller/internal/sensor"
	"github.com/zendure-tools/zendure-poller/internal/setup"
)

// DefaultAddr is the listen address when none is configured
const DefaultAddr = ":8080"

// Config holds the server configuration
type Config struct {
	Addr string
}

// DeviceSource looks up loaded devices. *setup.Orchestrator implements it.
type DeviceSource interface {
	Get(id string) (*setup.Device, bool)
	IDs() []string
}

// Server is the HTTP status server
type Server struct {
	config     Config
	devices    DeviceSource
	echo       *echo.Echo
	upgrader   websocket.Upgrader
	translator *sensor.Translator

	mu       sync.Mutex
	streams  map[*websocket.Conn]struct{}
	shutdown bool
}

// New creates a server and registers its routes
func New(config Config, devices DeviceSource) *Server {
	if config.Addr == "" {
		config.Addr = DefaultAddr
	}

	s := &Server{
		config:     config,
		devices:    devices,
		translator: sensor.DefaultTranslator(),
		streams:    make(map[*websocket.Conn]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(requestLogger)

	api := e.Group("/api")
	api.GET("/devices", s.listDevices)
	api.GET("/devices/:id", s.getDevice)
	api.GET("/devices/:id/properties/:name", s.getProperty)
	api.GET("/devices/:id/ws", s.streamDevice)

	s.echo = e
	return s
}

// Handler returns the HTTP handler serving all routes
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Addr returns the configured listen address
func (s *Server) Addr() string {
	return s.config.Addr
}

// Start listens on the configured address and blocks until Shutdown
func (s *Server) Start() error {
	logging.Info("Starting status server", zap.String("addr", s.config.Addr))

	if err := s.echo.Start(s.config.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones. Open
// WebSocket streams are hijacked and not tracked by the HTTP server, so
// each one is sent a going-away close frame and closed here.
func (s *Server) Shutdown(ctx context.Context) error {
	logging.Info("Shutting down status server...")

	s.mu.Lock()
	s.shutdown = true
	streams := make([]*websocket.Conn, 0, len(s.streams))
	for conn := range s.streams {
		streams = append(streams, conn)
	}
	s.mu.Unlock()

	for _, conn := range streams {
		closeStream(conn, "server shutting down")
	}
	return s.echo.Shutdown(ctx)
}

// trackStream registers an open stream. It reports false once Shutdown has
// started, in which case the caller must close conn.
func (s *Server) trackStream(conn *websocket.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shutdown {
		return false
	}
	s.streams[conn] = struct{}{}
	return true
}

func (s *Server) untrackStream(conn *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.streams, conn)
}

// StreamCount returns the number of open WebSocket streams
func (s *Server) StreamCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.streams)
}

// requestLogger logs every request at debug level
func requestLogger(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)
		if err != nil {
			c.Error(err)
		}

		req := c.Request()
		logging.Debug("HTTP request",
			zap.String("remote_addr", c.RealIP()),
			zap.String("method", req.Method),
			zap.String("path", req.URL.Path),
			zap.Int("status", c.Response().Status),
			zap.Duration("latency", time.Since(start)),
		)
		return nil
	}
}
