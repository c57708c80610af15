// Package cycle drives a single peripheral through endless
// bootloader/application mode alternation. Every command it sends makes
// the peripheral reboot and drop the link, so a disconnect is the
// expected outcome of each cycle, not a failure.
package cycle

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chaz8081/blk-reconnect/internal/ble"
	"github.com/chaz8081/blk-reconnect/internal/ota"
)

// Options configures the cycler behavior.
type Options struct {
	ReliableWrites    bool          // acknowledged writes to the control characteristic
	ReconnectInterval time.Duration // constant delay between reconnect attempts
	SettleDelay       time.Duration // pause after reconnecting, lets the GATT server stabilize post-reboot
	MaxCycles         int           // stop after this many transitions; 0 runs until ctx is cancelled
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		ReconnectInterval: 1 * time.Second,
		SettleDelay:       5 * time.Second,
	}
}

// Cycler owns the connection lifecycle for one peripheral: connect,
// classify the firmware mode, send the mode-transition command, wait
// out the resulting disconnect, reconnect, repeat.
type Cycler struct {
	adapter    ble.Adapter
	identifier string // device address or advertised name
	opts       Options
}

// New creates a cycler for the peripheral matching identifier.
func New(adapter ble.Adapter, identifier string, opts Options) *Cycler {
	if opts.ReconnectInterval <= 0 {
		opts.ReconnectInterval = 1 * time.Second
	}
	if opts.SettleDelay <= 0 {
		opts.SettleDelay = 5 * time.Second
	}
	return &Cycler{
		adapter:    adapter,
		identifier: identifier,
		opts:       opts,
	}
}

// session couples one connection with its one-shot disconnect signal.
// All derived state (service table, mode, control characteristic) lives
// on the stack of runCycle and dies with the session.
type session struct {
	conn         ble.Connection
	disconnected chan struct{}
}

// connect establishes a connection and arms a fresh disconnect signal
// for it. The signal fires at most once per session.
func (c *Cycler) connect(ctx context.Context, dev ble.Device) (*session, error) {
	s := &session{disconnected: make(chan struct{})}
	var once sync.Once
	conn, err := c.adapter.Connect(ctx, dev, func() {
		once.Do(func() {
			slog.Info("[CYCLE] lost connection (this is expected)", "address", dev.Address)
			close(s.disconnected)
		})
	})
	if err != nil {
		return nil, err
	}
	s.conn = conn
	return s, nil
}

// Run executes the mode-alternation loop until ctx is cancelled, the
// configured cycle count is reached, or a fatal condition occurs (no
// matching peripheral, or a connected peripheral without the OTA
// service).
func (c *Cycler) Run(ctx context.Context) error {
	if err := c.adapter.Enable(); err != nil {
		return fmt.Errorf("cycle: enable adapter: %w", err)
	}

	dev, err := c.adapter.FindDevice(ctx, c.identifier)
	if err != nil {
		return fmt.Errorf("cycle: couldn't find a matching device for %q: %w", c.identifier, err)
	}

	sess, err := c.connect(ctx, dev)
	if err != nil {
		return fmt.Errorf("cycle: %w", err)
	}
	slog.Info("[CYCLE] connected", "address", dev.Address, "name", dev.Name)

	cycles := 0
	for {
		if err := c.runCycle(sess); err != nil {
			sess.conn.Disconnect()
			return err
		}
		cycles++
		if c.opts.MaxCycles > 0 && cycles >= c.opts.MaxCycles {
			slog.Info("[CYCLE] cycle limit reached", "cycles", cycles)
			sess.conn.Disconnect()
			return nil
		}

		// The command provokes a reboot, so the disconnect always
		// eventually arrives.
		slog.Info("[CYCLE] waiting for the disconnect event")
		select {
		case <-ctx.Done():
			sess.conn.Disconnect()
			return ctx.Err()
		case <-sess.disconnected:
		}

		sess, err = c.reconnect(ctx, dev)
		if err != nil {
			return err
		}

		slog.Info("[CYCLE] connected, going around the loop again shortly")
		select {
		case <-ctx.Done():
			sess.conn.Disconnect()
			return ctx.Err()
		case <-time.After(c.opts.SettleDelay):
		}
	}
}

// runCycle enumerates the service table, classifies the current mode,
// and writes the command that flips the peripheral to the other mode.
func (c *Cycler) runCycle(sess *session) error {
	table, err := sess.conn.DiscoverServices()
	if err != nil {
		return fmt.Errorf("cycle: enumerate services: %w", err)
	}
	c.logOTAEntries(table)

	mode, err := ota.DetectMode(table)
	if err != nil {
		return fmt.Errorf("cycle: device doesn't appear to have the OTA service: %w", err)
	}

	var cmd []byte
	var transition string
	switch mode {
	case ota.ModeBootloader:
		cmd, transition = ota.CmdDisconnect, "OTA -> APP"
	default:
		cmd, transition = ota.CmdStart, "APP -> OTA"
	}
	slog.Info("[CYCLE] requesting transition", "mode", mode.String(), "transition", transition)

	control, err := ota.FindControlPoint(table, mode)
	if err != nil {
		// Lenient on purpose: the device reboots on its own schedule and
		// the loop's job is to survive the disconnect either way.
		slog.Warn("[CYCLE] no usable control characteristic, waiting for disconnect anyway",
			"mode", mode.String(), "error", err)
		return nil
	}

	if err := control.Write(cmd, c.opts.ReliableWrites); err != nil {
		slog.Warn("[CYCLE] no reply to control command, already disconnected?",
			"handle", control.Handle(), "error", err)
	}
	return nil
}

// reconnect polls at a fixed interval until the peripheral comes back.
// It only gives up when ctx is cancelled.
func (c *Cycler) reconnect(ctx context.Context, dev ble.Device) (*session, error) {
	for attempt := 1; ; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.opts.ReconnectInterval):
		}

		slog.Info("[CYCLE] attempting to reconnect", "attempt", attempt)
		sess, err := c.connect(ctx, dev)
		if err != nil {
			slog.Warn("[CYCLE] reconnect failed", "attempt", attempt, "error", err)
			continue
		}
		slog.Info("[CYCLE] reconnected", "address", dev.Address, "attempt", attempt)
		return sess, nil
	}
}

// logOTAEntries reports every OTA service entry with its per-connection
// handles, and any firmware version characteristics it can read. Seeing
// more than one entry means the stack served stale cached copies.
func (c *Cycler) logOTAEntries(table []ble.Service) {
	entries := 0
	for _, s := range table {
		if s.UUID() != ota.ServiceUUID {
			continue
		}
		entries++
		for _, ch := range s.Characteristics() {
			slog.Debug("[CYCLE] SL OTA entry",
				"service_handle", s.Handle(),
				"char_handle", ch.Handle(),
				"uuid", ch.UUID().String(),
				"name", ota.Name(ch.UUID()))
			if isVersionChar(ch.UUID()) {
				value, err := ch.Read()
				if err != nil {
					slog.Debug("[CYCLE] version read failed", "name", ota.Name(ch.UUID()), "error", err)
					continue
				}
				slog.Info("[CYCLE] firmware version", "name", ota.Name(ch.UUID()), "value", fmt.Sprintf("% x", value))
			}
		}
	}
	if entries > 1 {
		slog.Warn("[CYCLE] multiple OTA service entries, stack is serving stale cache copies", "count", entries)
	}
}

func isVersionChar(u uuid.UUID) bool {
	for _, v := range ota.VersionUUIDs {
		if u == v {
			return true
		}
	}
	return false
}
