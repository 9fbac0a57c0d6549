// Package device provides handles for Quarch modules attached to a QIS
// instance: a base Device for command traffic and a PowerModule with
// streaming controls.
package device

import (
	"context"
	"strings"

	"github.com/quarchtech/qis-go/pkg/qis"
)

// Device is a handle for one module reachable through a QIS control
// connection. Commands are scoped with the device identifier.
type Device struct {
	conn *qis.Conn
	id   string
}

// New creates a device handle. The identifier includes the connection
// type prefix ("TCP:QTL2789-01-001").
func New(conn *qis.Conn, id string) *Device {
	return &Device{conn: conn, id: id}
}

// ID returns the full device identifier.
func (d *Device) ID() string {
	return d.id
}

// Serial returns the identifier without the connection-type prefix
// ("QTL2789-01-001"). Used for file names and display.
func (d *Device) Serial() string {
	return Serial(d.id)
}

// RunCommand sends a device-scoped command and returns the response.
func (d *Device) RunCommand(ctx context.Context, cmd string) (string, error) {
	return d.conn.DeviceCommand(ctx, d.id, cmd)
}

// Serial strips the connection-type prefix from a device identifier.
// Identifiers without a recognizable prefix are returned unchanged.
func Serial(id string) string {
	prefix, rest, ok := strings.Cut(id, ":")
	if !ok || prefix == "" || rest == "" {
		return id
	}
	for _, r := range prefix {
		if (r < 'A' || r > 'Z') && (r < 'a' || r > 'z') {
			return id
		}
	}
	return rest
}
