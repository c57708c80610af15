// Package ble abstracts the Bluetooth LE transport used to drive a
// peripheral through bootloader/application mode cycles. It handles
// device discovery, connection management, and GATT enumeration.
package ble

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

// Device represents a discovered BLE peripheral.
type Device struct {
	Name    string
	Address string
	RSSI    int
}

// Characteristic is one GATT characteristic from a single connection's
// service snapshot. Handles are opaque and only meaningful within the
// connection that produced them; the stack may return a structurally
// identical table with different handles after a reconnect.
type Characteristic interface {
	// UUID returns the characteristic's 128-bit type identifier.
	UUID() uuid.UUID
	// Handle returns the per-connection access handle.
	Handle() uint16
	// Write sends data to the characteristic. withResponse selects an
	// acknowledged write.
	Write(data []byte, withResponse bool) error
	// Read returns the characteristic's current value.
	Read() ([]byte, error)
}

// Service is one GATT service entry from a connection's snapshot.
// The same service UUID can appear more than once when the stack
// serves stale cached entries alongside live ones.
type Service interface {
	UUID() uuid.UUID
	Handle() uint16
	Characteristics() []Characteristic
}

// Connection represents one physical link, from connect to disconnect.
// After a disconnect a new Connection must be obtained; services and
// characteristics discovered on an old Connection must not be reused.
type Connection interface {
	// DiscoverServices enumerates the peripheral's full service table.
	DiscoverServices() ([]Service, error)
	// Connected reports whether the link is still up.
	Connected() bool
	// Disconnect terminates the connection.
	Disconnect() error
}

// Adapter abstracts the BLE hardware adapter for testing.
type Adapter interface {
	// Enable powers on the BLE adapter.
	Enable() error
	// FindDevice scans until a peripheral matching identifier by address
	// or advertised name is found, or ctx is done.
	FindDevice(ctx context.Context, identifier string) (Device, error)
	// Connect establishes a connection to the device. onDisconnect is
	// invoked when the link drops; it fires at most once per connection.
	Connect(ctx context.Context, device Device, onDisconnect func()) (Connection, error)
}

// MatchIdentifier reports whether a scan result with the given address
// and advertised name matches the operator-supplied identifier, and
// whether it matched by "address" or by "name".
func MatchIdentifier(address, name, identifier string) (string, bool) {
	if strings.EqualFold(address, identifier) {
		return "address", true
	}
	if name != "" && name == identifier {
		return "name", true
	}
	return "", false
}
