package transport

import "knx2mqtt/internal/knx"

func report(b ...byte) knx.Frame {
	var f knx.Frame
	copy(f[:], b)
	return f
}

// Configuration reports the interface needs before it relays bus traffic:
// bus-access-server feature queries and the cEMI filter/mode property writes.
var (
	featureGetActiveEMI = report(0x01, 0x13, 0x09, 0x00, 0x08, 0x00, 0x01, 0x0F, 0x01, 0x00, 0x00, 0x01)
	featureSetEMI       = report(0x01, 0x13, 0x0A, 0x00, 0x08, 0x00, 0x02, 0x0F, 0x03, 0x00, 0x00, 0x05, 0x03)
	featureGetBusStatus = report(0x01, 0x13, 0x09, 0x00, 0x08, 0x00, 0x01, 0x0F, 0x01, 0x00, 0x00, 0x03)
	propReadAddrTable   = report(0x01, 0x13, 0x0F, 0x00, 0x08, 0x00, 0x07, 0x01, 0x03, 0x00, 0x00, 0xFC, 0x00, 0x00, 0x01, 0x39, 0x10, 0x01)
	propReadFilter      = report(0x01, 0x13, 0x0F, 0x00, 0x08, 0x00, 0x07, 0x01, 0x03, 0x00, 0x00, 0xFC, 0x00, 0x00, 0x01, 0x3A, 0x10, 0x01)
	propWriteCommMode   = report(0x01, 0x13, 0x10, 0x00, 0x08, 0x00, 0x08, 0x01, 0x03, 0x00, 0x00, 0xF6, 0x00, 0x08, 0x01, 0x34, 0x10, 0x01)
	propReadCommMode    = report(0x01, 0x13, 0x0F, 0x00, 0x08, 0x00, 0x07, 0x01, 0x03, 0x00, 0x00, 0xFC, 0x00, 0x08, 0x01, 0x34, 0x10, 0x01)
)

// handshake is sent once, in order, right after the interface is claimed.
var handshake = []knx.Frame{
	featureGetActiveEMI,
	featureSetEMI,
	featureGetBusStatus,
	propReadAddrTable,
	propReadFilter,
	featureGetActiveEMI,
	featureSetEMI,
	propWriteCommMode,
	propReadCommMode,
	featureGetBusStatus,
	propReadAddrTable,
	propReadFilter,
}
