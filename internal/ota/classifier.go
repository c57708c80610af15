package ota

import (
	"errors"

	"github.com/chaz8081/blk-reconnect/internal/ble"
)

// Mode is the firmware image a peripheral is currently running.
type Mode int

const (
	// ModeApplication is the normal application image.
	ModeApplication Mode = iota
	// ModeBootloader is the OTA bootloader (AppLoader) image.
	ModeBootloader
)

func (m Mode) String() string {
	switch m {
	case ModeApplication:
		return "application"
	case ModeBootloader:
		return "bootloader"
	default:
		return "unknown"
	}
}

var (
	// ErrServiceNotFound means the table has no OTA service at all; the
	// peripheral is not a supported device.
	ErrServiceNotFound = errors.New("ota: service not found")
	// ErrControlPointNotFound means no OTA service entry carries a
	// control characteristic consistent with the expected mode.
	ErrControlPointNotFound = errors.New("ota: control characteristic not found")
)

// DetectMode reports which firmware image produced the given service
// table. The bootloader image exposes the data characteristic inside
// the OTA service; the application image does not.
func DetectMode(services []ble.Service) (Mode, error) {
	found := false
	for _, s := range services {
		if s.UUID() != ServiceUUID {
			continue
		}
		found = true
		for _, c := range s.Characteristics() {
			if c.UUID() == DataUUID {
				return ModeBootloader, nil
			}
		}
	}
	if !found {
		return ModeApplication, ErrServiceNotFound
	}
	return ModeApplication, nil
}

// FindControlPoint returns the control characteristic to write commands
// to, given the mode the peripheral is expected to be in.
//
// The stack can serve stale cached copies of the OTA service alongside
// the live one, each with different handles. Selecting the control
// characteristic by UUID alone risks writing to a dead handle, so each
// service entry is judged on its own: it must carry a control
// characteristic AND its data-characteristic presence must agree with
// the expected mode. The first agreeing entry wins; entries that
// disagree are discarded, never combined.
func FindControlPoint(services []ble.Service, expected Mode) (ble.Characteristic, error) {
	for _, s := range services {
		if s.UUID() != ServiceUUID {
			continue
		}
		var control ble.Characteristic
		hasData := false
		for _, c := range s.Characteristics() {
			switch c.UUID() {
			case ControlUUID:
				control = c
			case DataUUID:
				hasData = true
			}
		}
		if control != nil && hasData == (expected == ModeBootloader) {
			return control, nil
		}
	}
	return nil, ErrControlPointNotFound
}
