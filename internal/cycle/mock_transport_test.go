package cycle

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/chaz8081/blk-reconnect/internal/ble"
	"github.com/chaz8081/blk-reconnect/internal/ota"
)

// write records one characteristic write and its acknowledgment mode.
type write struct {
	data         []byte
	withResponse bool
}

// mockChar records writes and serves a fixed value on reads. onWrite,
// when set, simulates the device-side effect of a command (a reboot
// that drops the link).
type mockChar struct {
	uuid   uuid.UUID
	handle uint16
	value  []byte

	mu      sync.Mutex
	writes  []write
	reads   int
	onWrite func()
}

func (c *mockChar) UUID() uuid.UUID { return c.uuid }
func (c *mockChar) Handle() uint16  { return c.handle }

func (c *mockChar) Write(data []byte, withResponse bool) error {
	c.mu.Lock()
	cp := make([]byte, len(data))
	copy(cp, data)
	c.writes = append(c.writes, write{cp, withResponse})
	cb := c.onWrite
	c.mu.Unlock()
	if cb != nil {
		cb()
	}
	return nil
}

func (c *mockChar) Read() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reads++
	return c.value, nil
}

func (c *mockChar) recordedWrites() []write {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]write(nil), c.writes...)
}

func (c *mockChar) readCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reads
}

type mockService struct {
	uuid   uuid.UUID
	handle uint16
	chars  []ble.Characteristic
}

func (s *mockService) UUID() uuid.UUID                       { return s.uuid }
func (s *mockService) Handle() uint16                        { return s.handle }
func (s *mockService) Characteristics() []ble.Characteristic { return s.chars }

// mockConn simulates one connection serving a fixed service table.
type mockConn struct {
	mu           sync.Mutex
	services     []ble.Service
	discoveries  int
	connected    bool
	onDisconnect func()
}

func (c *mockConn) DiscoverServices() ([]ble.Service, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.discoveries++
	return c.services, nil
}

func (c *mockConn) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *mockConn) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
	return nil
}

// SimulateDisconnect drops the link and fires the disconnect callback,
// like a peripheral rebooting out from under us.
func (c *mockConn) SimulateDisconnect() {
	c.mu.Lock()
	c.connected = false
	cb := c.onDisconnect
	c.mu.Unlock()
	if cb != nil {
		cb()
	}
}

func (c *mockConn) discoveryCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.discoveries
}

// connectStep is one scripted outcome of mockAdapter.Connect.
type connectStep struct {
	conn *mockConn
	err  error
}

// mockAdapter serves scripted connections in order.
type mockAdapter struct {
	device  ble.Device
	findErr error

	mu       sync.Mutex
	script   []connectStep
	connects int
}

func newMockAdapter(steps ...connectStep) *mockAdapter {
	return &mockAdapter{
		device: ble.Device{Name: "blinky", Address: "D0:CF:5E:D9:12:3D", RSSI: -52},
		script: steps,
	}
}

func (a *mockAdapter) Enable() error { return nil }

func (a *mockAdapter) FindDevice(_ context.Context, _ string) (ble.Device, error) {
	if a.findErr != nil {
		return ble.Device{}, a.findErr
	}
	return a.device, nil
}

func (a *mockAdapter) Connect(_ context.Context, _ ble.Device, onDisconnect func()) (ble.Connection, error) {
	a.mu.Lock()
	a.connects++
	if len(a.script) == 0 {
		a.mu.Unlock()
		return nil, errors.New("mock: no scripted connection left")
	}
	step := a.script[0]
	a.script = a.script[1:]
	a.mu.Unlock()

	if step.err != nil {
		return nil, step.err
	}
	step.conn.mu.Lock()
	step.conn.connected = true
	step.conn.onDisconnect = onDisconnect
	step.conn.mu.Unlock()
	return step.conn, nil
}

func (a *mockAdapter) connectCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connects
}

// bootloaderConn builds a connection whose table looks like the OTA
// bootloader image: one OTA entry with control and data characteristics.
func bootloaderConn() (*mockConn, *mockChar) {
	control := &mockChar{uuid: ota.ControlUUID, handle: 11}
	data := &mockChar{uuid: ota.DataUUID, handle: 12}
	conn := &mockConn{services: []ble.Service{
		&mockService{uuid: ota.ServiceUUID, handle: 10, chars: []ble.Characteristic{control, data}},
	}}
	return conn, control
}

// applicationConn builds a connection whose table looks like the
// application image: the OTA entry has a control characteristic only.
func applicationConn() (*mockConn, *mockChar) {
	control := &mockChar{uuid: ota.ControlUUID, handle: 11}
	conn := &mockConn{services: []ble.Service{
		&mockService{uuid: ota.ServiceUUID, handle: 10, chars: []ble.Characteristic{control}},
	}}
	return conn, control
}

// rebootOnWrite makes every write to ch drop conn's link, the way a
// real mode-transition command does.
func rebootOnWrite(conn *mockConn, ch *mockChar) {
	ch.onWrite = conn.SimulateDisconnect
}

func TestMockAdapterImplementsInterface(t *testing.T) {
	var _ ble.Adapter = (*mockAdapter)(nil)
}

func TestMockConnImplementsInterface(t *testing.T) {
	var _ ble.Connection = (*mockConn)(nil)
}

func TestMockCharImplementsInterface(t *testing.T) {
	var _ ble.Characteristic = (*mockChar)(nil)
}
