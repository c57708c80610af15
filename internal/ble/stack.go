package ble

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"tinygo.org/x/bluetooth"
)

// StackAdapter wraps tinygo-org/bluetooth. On Linux it talks to BlueZ
// over D-Bus; on macOS the device "address" is a CoreBluetooth UUID
// rather than a MAC, which is fine because the identifier is only used
// as an opaque discovery filter.
type StackAdapter struct {
	adapter *bluetooth.Adapter

	// mu protects the connections map.
	mu          sync.Mutex
	connections map[string]*stackConnection // keyed by device address
}

// NewStackAdapter creates a BLE adapter backed by the platform stack.
func NewStackAdapter() *StackAdapter {
	return &StackAdapter{
		adapter:     bluetooth.DefaultAdapter,
		connections: make(map[string]*stackConnection),
	}
}

func (a *StackAdapter) Enable() error {
	if err := a.adapter.Enable(); err != nil {
		return err
	}

	// The stack delivers disconnects through a single adapter-level
	// handler (connected=false). Route them to the connection that owns
	// the address.
	a.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		if connected {
			return
		}
		addr := device.Address.String()
		a.mu.Lock()
		conn, ok := a.connections[addr]
		delete(a.connections, addr)
		a.mu.Unlock()
		if ok {
			conn.handleDisconnect()
		}
	})

	return nil
}

func (a *StackAdapter) FindDevice(ctx context.Context, identifier string) (Device, error) {
	var (
		mu    sync.Mutex
		found Device
		ok    bool
	)

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			a.adapter.StopScan()
		case <-done:
		}
	}()

	err := a.adapter.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
		addr := result.Address.String()
		name := result.LocalName()
		matchedBy, match := MatchIdentifier(addr, name, identifier)
		if !match {
			slog.Debug("[BLE] ignoring", "address", addr, "name", name)
			return
		}
		slog.Info("[BLE] matched device", "by", matchedBy, "address", addr, "name", name)
		mu.Lock()
		if !ok {
			found = Device{Name: name, Address: addr, RSSI: int(result.RSSI)}
			ok = true
		}
		mu.Unlock()
		adapter.StopScan()
	})
	close(done)

	if err != nil && ctx.Err() == nil {
		return Device{}, fmt.Errorf("ble: scan: %w", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if !ok {
		if ctx.Err() != nil {
			return Device{}, fmt.Errorf("ble: no device matching %q: %w", identifier, ctx.Err())
		}
		return Device{}, fmt.Errorf("ble: no device matching %q", identifier)
	}
	return found, nil
}

func (a *StackAdapter) Connect(ctx context.Context, device Device, onDisconnect func()) (Connection, error) {
	var addr bluetooth.Address
	addr.Set(device.Address)

	// The stack's Connect blocks internally with its own timeout. Wrap
	// it so our ctx cancellation returns promptly as well.
	type connectResult struct {
		device bluetooth.Device
		err    error
	}
	ch := make(chan connectResult, 1)
	go func() {
		dev, err := a.adapter.Connect(addr, bluetooth.ConnectionParams{})
		ch <- connectResult{dev, err}
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("ble: connect to %s: %w", device.Address, ctx.Err())
	case result := <-ch:
		if result.err != nil {
			return nil, fmt.Errorf("ble: connect to %s: %w", device.Address, result.err)
		}
		conn := &stackConnection{
			device:       result.device,
			onDisconnect: onDisconnect,
			connected:    true,
		}

		// Track the connection so the adapter-level disconnect handler
		// can find it.
		a.mu.Lock()
		a.connections[device.Address] = conn
		a.mu.Unlock()

		return conn, nil
	}
}

// Compile-time check that StackAdapter implements Adapter.
var _ Adapter = (*StackAdapter)(nil)

type stackConnection struct {
	device       bluetooth.Device
	onDisconnect func()
	once         sync.Once

	mu        sync.Mutex
	connected bool
}

func (c *stackConnection) handleDisconnect() {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
	c.once.Do(func() {
		if c.onDisconnect != nil {
			c.onDisconnect()
		}
	})
}

// DiscoverServices enumerates every service and characteristic the
// peripheral currently exposes. The stack does not surface raw ATT
// handles portably, so per-connection ordinals are assigned during
// enumeration; they identify entries within this snapshot only.
func (c *stackConnection) DiscoverServices() ([]Service, error) {
	svcs, err := c.device.DiscoverServices(nil)
	if err != nil {
		return nil, fmt.Errorf("ble: discover services: %w", err)
	}

	var handle uint16
	table := make([]Service, 0, len(svcs))
	for i := range svcs {
		handle++
		entry := &stackService{
			uuid:   fromStackUUID(svcs[i].UUID()),
			handle: handle,
		}
		chars, err := svcs[i].DiscoverCharacteristics(nil)
		if err != nil {
			return nil, fmt.Errorf("ble: discover characteristics of %s: %w", entry.uuid, err)
		}
		for j := range chars {
			handle++
			entry.chars = append(entry.chars, &stackCharacteristic{
				char:   chars[j],
				uuid:   fromStackUUID(chars[j].UUID()),
				handle: handle,
			})
		}
		table = append(table, entry)
	}
	return table, nil
}

func (c *stackConnection) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *stackConnection) Disconnect() error {
	return c.device.Disconnect()
}

type stackService struct {
	uuid   uuid.UUID
	handle uint16
	chars  []Characteristic
}

func (s *stackService) UUID() uuid.UUID                   { return s.uuid }
func (s *stackService) Handle() uint16                    { return s.handle }
func (s *stackService) Characteristics() []Characteristic { return s.chars }

type stackCharacteristic struct {
	char   bluetooth.DeviceCharacteristic
	uuid   uuid.UUID
	handle uint16
}

func (c *stackCharacteristic) UUID() uuid.UUID { return c.uuid }
func (c *stackCharacteristic) Handle() uint16  { return c.handle }

func (c *stackCharacteristic) Write(data []byte, withResponse bool) error {
	var err error
	if withResponse {
		_, err = c.char.Write(data)
	} else {
		_, err = c.char.WriteWithoutResponse(data)
	}
	return err
}

func (c *stackCharacteristic) Read() ([]byte, error) {
	buf := make([]byte, 512)
	n, err := c.char.Read(buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

// fromStackUUID converts the stack's UUID type to a value-comparable
// 128-bit UUID. The stack always renders the canonical form.
func fromStackUUID(u bluetooth.UUID) uuid.UUID {
	return uuid.MustParse(u.String())
}
