package server

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/zendure-tools/zendure-poller/internal/coordinator"
	"github.com/zendure-tools/zendure-poller/internal/sensor"
	"github.com/zendure-tools/zendure-poller/internal/setup"
)

// DeviceSummary is one entry of GET /api/devices
type DeviceSummary struct {
	ID                  string            `json:"id"`
	Device              sensor.DeviceInfo `json:"device"`
	Address             string            `json:"address"`
	IntervalSeconds     int               `json:"interval_seconds"`
	Success             bool              `json:"success"`
	ConsecutiveFailures int               `json:"consecutive_failures"`
	FetchedAt           *time.Time        `json:"fetched_at,omitempty"`
}

// PropertyView is one property of a device
type PropertyView struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	Value       any    `json:"value"`
}

// DeviceDetail is the response of GET /api/devices/:id
type DeviceDetail struct {
	DeviceSummary
	Properties []PropertyView `json:"properties"`
}

// PropertyResponse is the response of GET /api/devices/:id/properties/:name
type PropertyResponse struct {
	PropertyView
	Success   bool       `json:"success"`
	FetchedAt *time.Time `json:"fetched_at,omitempty"`
}

// SnapshotMessage is one WebSocket stream message
type SnapshotMessage struct {
	ID                  string         `json:"id"`
	Success             bool           `json:"success"`
	ConsecutiveFailures int            `json:"consecutive_failures"`
	FetchedAt           *time.Time     `json:"fetched_at,omitempty"`
	Properties          map[string]any `json:"properties"`
}

func (s *Server) listDevices(c echo.Context) error {
	ids := s.devices.IDs()
	out := make([]DeviceSummary, 0, len(ids))
	for _, id := range ids {
		d, ok := s.devices.Get(id)
		if !ok {
			// Unloaded between IDs and Get
			continue
		}
		out = append(out, summarize(d, d.Coordinator.Snapshot()))
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) getDevice(c echo.Context) error {
	d, err := s.lookup(c)
	if err != nil {
		return err
	}

	snap := d.Coordinator.Snapshot()
	detail := DeviceDetail{
		DeviceSummary: summarize(d, snap),
		Properties:    make([]PropertyView, 0, len(snap.Properties)),
	}
	for _, name := range snap.Names() {
		detail.Properties = append(detail.Properties, s.propertyView(name, snap.Properties[name]))
	}
	return c.JSON(http.StatusOK, detail)
}

func (s *Server) getProperty(c echo.Context) error {
	d, err := s.lookup(c)
	if err != nil {
		return err
	}

	name := c.Param("name")
	snap := d.Coordinator.Snapshot()
	value, ok := snap.Get(name)
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "property not found: "+name)
	}

	return c.JSON(http.StatusOK, PropertyResponse{
		PropertyView: s.propertyView(name, value),
		Success:      snap.Success,
		FetchedAt:    fetchedAt(snap),
	})
}

func (s *Server) lookup(c echo.Context) (*setup.Device, error) {
	id := c.Param("id")
	d, ok := s.devices.Get(id)
	if !ok {
		return nil, echo.NewHTTPError(http.StatusNotFound, "device not found: "+id)
	}
	return d, nil
}

func (s *Server) propertyView(name string, value any) PropertyView {
	return PropertyView{
		Name:        name,
		DisplayName: s.translator.Translate(name),
		Value:       value,
	}
}

func summarize(d *setup.Device, snap coordinator.Snapshot) DeviceSummary {
	return DeviceSummary{
		ID:                  d.ID,
		Device:              sensor.NewDeviceInfo(d.Entry.Serial, d.Entry.Model),
		Address:             d.Coordinator.Address(),
		IntervalSeconds:     int(d.Coordinator.Interval() / time.Second),
		Success:             snap.Success,
		ConsecutiveFailures: d.Coordinator.ConsecutiveFailures(),
		FetchedAt:           fetchedAt(snap),
	}
}

func snapshotMessage(d *setup.Device, snap coordinator.Snapshot) SnapshotMessage {
	return SnapshotMessage{
		ID:                  d.ID,
		Success:             snap.Success,
		ConsecutiveFailures: d.Coordinator.ConsecutiveFailures(),
		FetchedAt:           fetchedAt(snap),
		Properties:          snap.Properties,
	}
}

func fetchedAt(snap coordinator.Snapshot) *time.Time {
	if snap.IsZero() {
		return nil
	}
	t := snap.FetchedAt
	return &t
}
