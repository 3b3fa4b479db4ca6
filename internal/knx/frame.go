package knx

import (
	"fmt"
	"math"

	"github.com/vapourismo/knx-go/knx/cemi"
	"github.com/vapourismo/knx-go/knx/dpt"
)

// FrameSize is the fixed HID report length exchanged with the USB interface.
const FrameSize = 64

// Frame is one raw report, zero padded to FrameSize.
type Frame [FrameSize]byte

// Report layout. Bytes 0-2 are the HID report header (report id, packet
// info, data length), 3-10 the KNX USB transfer header, 11+ the cEMI frame.
const (
	offReportID   = 0
	offPacketInfo = 1
	offDataLength = 2
	offBodyLength = 6
	offMessage    = 11
	offSource     = 15
	offDest       = 17
	offAPDULength = 19
	offTPCI       = 20
	offAPCI       = 21
	offData       = 22

	reportID        = 0x01
	singlePacket    = 0x13 // start + end of a single-report packet
	protocolVersion = 0x00
	headerLength    = 0x08
	protocolKNX     = 0x01
	emiCEMI         = 0x03

	msgLDataInd = 0x29

	// cEMI bytes before the APDU: message code, additional info length,
	// two control fields, source and destination.
	cemiFixed = 8
)

// Control field bits not named by the cemi package.
const (
	ctrl1PrioLow = 0x0C
	ctrl2Group   = 0x80
	hopCount     = 6
)

// Data length codes at offDataLength, which double as payload type codes for
// inbound frames.
const (
	TypeShort  byte = 0x13 // 6-bit value packed into the APCI byte
	TypeByte   byte = 0x14 // one data byte
	TypeFloat2 byte = 0x15 // two data bytes
)

// request wraps an L_Data.req for dst into a single HID report.
func request(dst GroupAddress, app *cemi.AppData) Frame {
	apdu := len(app.Data)
	if apdu < 1 {
		apdu = 1
	}
	body := cemiFixed + 2 + apdu

	var f Frame
	f[offReportID] = reportID
	f[offPacketInfo] = singlePacket
	f[offDataLength] = byte(headerLength + body)
	f[3] = protocolVersion
	f[4] = headerLength
	f[5] = 0x00
	f[offBodyLength] = byte(body)
	f[7] = protocolKNX
	f[8] = emiCEMI
	// manufacturer code 0x0000 at 9-10

	// source 0.0.0: the interface fills in its own address
	cemi.Pack(f[offMessage:], &cemi.LDataReq{
		LData: cemi.LData{
			Control1:    cemi.Control1StdFrame | cemi.Control1NoRepeat | cemi.Control1NoSysBroadcast | ctrl1PrioLow,
			Control2:    cemi.Control2Hops(hopCount) | ctrl2Group,
			Destination: dst.Uint16(),
			Data:        app,
		},
	})
	return f
}

// ReadRequest builds a group-value-read for dst.
func ReadRequest(dst GroupAddress) Frame {
	return request(dst, &cemi.AppData{Command: cemi.GroupValueRead})
}

// BoolWrite builds a 1-bit group-value-write for dst.
func BoolWrite(dst GroupAddress, on bool) Frame {
	return request(dst, &cemi.AppData{Command: cemi.GroupValueWrite, Data: dpt.DPT_1001(on).Pack()})
}

// ByteWrite builds a 1-byte group-value-write for dst.
func ByteWrite(dst GroupAddress, v uint8) Frame {
	return request(dst, &cemi.AppData{Command: cemi.GroupValueWrite, Data: dpt.DPT_5004(v).Pack()})
}

// PercentWrite scales percent to 0-255 and builds a 1-byte write.
func PercentWrite(dst GroupAddress, percent float64) (Frame, error) {
	v, err := ScalePercent(percent)
	if err != nil {
		return Frame{}, err
	}
	return ByteWrite(dst, v), nil
}

// ScalePercent maps 0-100 onto 0-255 as round(percent * 2.55).
func ScalePercent(percent float64) (uint8, error) {
	if math.IsNaN(percent) || percent < 0 || percent > 100 {
		return 0, fmt.Errorf("%w: percent must be 0-100, got %v", ErrValueRange, percent)
	}
	return uint8(math.Round(percent * 2.55)), nil
}
