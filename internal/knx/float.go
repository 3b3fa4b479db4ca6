package knx

import (
	"fmt"
	"math"

	"github.com/vapourismo/knx-go/knx/dpt"
)

// 2-byte float layout:
//
//	byte 0: S EEEE MMM
//	byte 1: MMMM MMMM
//
// value = 0.01 * mantissa * 2^exponent.
const float2Invalid = 0x7FFF

// DecodeFloat2 decodes a KNX 2-byte float (DPT 9). Values outside the DPT 9.001
// range and the 0x7FFF invalid-data marker return ErrUnsupportedPayload.
func DecodeFloat2(hi, lo byte) (float64, error) {
	if uint16(hi)<<8|uint16(lo) == float2Invalid {
		return 0, fmt.Errorf("%w: 2-byte float carries the invalid-data marker 0x7FFF", ErrUnsupportedPayload)
	}

	var v dpt.DPT_9001
	if err := v.Unpack([]byte{0, hi, lo}); err != nil {
		return 0, fmt.Errorf("%w: 2-byte float 0x%02X%02X: %w", ErrUnsupportedPayload, hi, lo, err)
	}

	// dpt works in float32; every DPT 9 value is a multiple of 0.01 * 2^exp
	step := float64(int(1) << ((hi >> 3) & 0x0F))
	return math.Round(float64(v)*100/step) * step / 100, nil
}
