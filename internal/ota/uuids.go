// Package ota classifies Silicon Labs Gecko OTA peripherals. A device
// built on the Gecko bootloader (UG489, AN1086) exposes the same OTA
// service in both firmware images, but only the bootloader image
// carries the data characteristic used for image transfer — that
// difference is what tells the two modes apart.
package ota

import "github.com/google/uuid"

// Silicon Labs OTA service and characteristic UUIDs (AN1086).
var (
	ServiceUUID = uuid.MustParse("1d14d6ee-fd63-4fa1-bfa4-8f47b42119f0")
	ControlUUID = uuid.MustParse("f7bf3564-fb6d-4e53-88a4-5e37e0326063")
	DataUUID    = uuid.MustParse("984227f3-34fc-4045-a5d0-2c581f81a153")

	AppLoaderVersionUUID  = uuid.MustParse("4f4a2368-8cca-451e-bfff-cf0e2ee23e9f")
	OTAVersionUUID        = uuid.MustParse("4cc07bcf-0868-4b32-9dad-ba4cc41e5316")
	BootloaderVersionUUID = uuid.MustParse("25f05c0a-e917-46e9-b2a5-aa2be1245afe")
	AppVersionUUID        = uuid.MustParse("0d77cc11-4ac1-49f2-bfa9-cd96ac7a92f8")
)

// Control characteristic command words.
var (
	CmdStart  = []byte{0x00}
	CmdFinish = []byte{0x03}
	// CmdDisconnect also reboots the peripheral, which is fine.
	CmdDisconnect = []byte{0x04}
)

var names = map[uuid.UUID]string{
	ServiceUUID:           "SiLabs OTA service",
	ControlUUID:           "SL OTA Control",
	DataUUID:              "SL OTA Data",
	AppLoaderVersionUUID:  "SL OTA AppLoader Version",
	OTAVersionUUID:        "SL OTA Version",
	BootloaderVersionUUID: "SL OTA Gecko BL Version",
	AppVersionUUID:        "SL OTA App Version",
}

// Name returns the human-readable name of a known OTA UUID, or the
// canonical UUID string for anything else.
func Name(u uuid.UUID) string {
	if n, ok := names[u]; ok {
		return n
	}
	return u.String()
}

// VersionUUIDs lists the read-only version characteristics a Gecko OTA
// service may expose, in a stable reporting order.
var VersionUUIDs = []uuid.UUID{
	AppLoaderVersionUUID,
	OTAVersionUUID,
	BootloaderVersionUUID,
	AppVersionUUID,
}
