package knx

import (
	"fmt"
	"strconv"

	"github.com/vapourismo/knx-go/knx/cemi"
	"github.com/vapourismo/knx-go/knx/dpt"
)

// Kind is the payload type of a decoded telegram.
type Kind uint8

const (
	KindBoolean Kind = iota + 1
	KindByte
	KindFloat2
)

func (k Kind) String() string {
	switch k {
	case KindBoolean:
		return "boolean"
	case KindByte:
		return "byte"
	case KindFloat2:
		return "float2"
	}
	return "unknown"
}

// Telegram is a decoded group value seen on the bus. Only the field matching
// Kind is meaningful.
type Telegram struct {
	Source      IndividualAddress
	Destination GroupAddress
	Kind        Kind
	Bool        bool
	Byte        uint8
	Float       float64
}

// Float64 returns the value as a number regardless of kind (booleans are 0/1).
func (t Telegram) Float64() float64 {
	switch t.Kind {
	case KindBoolean:
		if t.Bool {
			return 1
		}
		return 0
	case KindByte:
		return float64(t.Byte)
	}
	return t.Float
}

// ValueString formats the value the way it is published: on/off, integer or
// shortest float.
func (t Telegram) ValueString() string {
	switch t.Kind {
	case KindBoolean:
		if t.Bool {
			return "on"
		}
		return "off"
	case KindByte:
		return strconv.Itoa(int(t.Byte))
	}
	return strconv.FormatFloat(t.Float, 'f', -1, 64)
}

func (t Telegram) String() string {
	return fmt.Sprintf("Telegram{%s -> %s, %s: %s}", t.Source, t.Destination, t.Kind, t.ValueString())
}

// ParseFrame decodes an inbound report.
//
// Reports that are not data indications, and group-value-read requests,
// return ErrNotDataFrame. Truncated reports return ErrTelegramParse. Unknown
// type codes and undefined values return ErrUnsupportedPayload.
func ParseFrame(b []byte) (Telegram, error) {
	if len(b) <= offMessage {
		return Telegram{}, fmt.Errorf("%w: %d bytes, message code missing", ErrTelegramParse, len(b))
	}
	if b[offMessage] != msgLDataInd {
		return Telegram{}, fmt.Errorf("%w: message code 0x%02X", ErrNotDataFrame, b[offMessage])
	}
	if len(b) <= offAPCI {
		return Telegram{}, fmt.Errorf("%w: %d bytes, need at least %d", ErrTelegramParse, len(b), offAPCI+1)
	}

	code := b[offDataLength]
	switch code {
	case TypeShort:
	case TypeByte:
		if len(b) <= offData {
			return Telegram{}, fmt.Errorf("%w: byte value missing", ErrTelegramParse)
		}
	case TypeFloat2:
		if len(b) <= offData+1 {
			return Telegram{}, fmt.Errorf("%w: float value truncated", ErrTelegramParse)
		}
	default:
		return Telegram{}, fmt.Errorf("%w: type code 0x%02X", ErrUnsupportedPayload, code)
	}

	var msg cemi.Message
	if _, err := cemi.Unpack(b[offMessage:], &msg); err != nil {
		return Telegram{}, fmt.Errorf("%w: %w", ErrTelegramParse, err)
	}
	ind, ok := msg.(*cemi.LDataInd)
	if !ok {
		return Telegram{}, fmt.Errorf("%w: %T", ErrNotDataFrame, msg)
	}
	app, ok := ind.Data.(*cemi.AppData)
	if !ok {
		return Telegram{}, fmt.Errorf("%w: transport control frame", ErrNotDataFrame)
	}

	t := Telegram{
		Source:      IndividualAddressFromUint16(uint16(ind.Source)),
		Destination: GroupAddressFromUint16(uint16(ind.Destination)),
	}

	switch app.Command {
	case cemi.GroupValueWrite, cemi.GroupValueResponse:
	case cemi.GroupValueRead:
		return Telegram{}, fmt.Errorf("%w: group read request to %s", ErrNotDataFrame, t.Destination)
	default:
		return Telegram{}, fmt.Errorf("%w: APCI %d", ErrUnsupportedPayload, app.Command)
	}
	if len(app.Data) == 0 {
		return Telegram{}, fmt.Errorf("%w: empty APDU", ErrTelegramParse)
	}

	switch code {
	case TypeShort:
		// the cemi package masks the APCI bits off, leaving the 6-bit value
		if app.Data[0] > 1 {
			return Telegram{}, fmt.Errorf("%w: short value 0x%X", ErrUnsupportedPayload, app.Data[0])
		}
		var v dpt.DPT_1001
		if err := v.Unpack(app.Data[:1]); err != nil {
			return Telegram{}, fmt.Errorf("%w: %w", ErrUnsupportedPayload, err)
		}
		t.Kind, t.Bool = KindBoolean, bool(v)
	case TypeByte:
		var v dpt.DPT_5004
		if err := v.Unpack(app.Data); err != nil {
			return Telegram{}, fmt.Errorf("%w: %w", ErrTelegramParse, err)
		}
		t.Kind, t.Byte = KindByte, uint8(v)
	case TypeFloat2:
		if len(app.Data) < 3 {
			return Telegram{}, fmt.Errorf("%w: float value truncated", ErrTelegramParse)
		}
		v, err := DecodeFloat2(app.Data[1], app.Data[2])
		if err != nil {
			return Telegram{}, err
		}
		t.Kind, t.Float = KindFloat2, v
	}

	return t, nil
}
