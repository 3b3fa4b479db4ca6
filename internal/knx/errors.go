package knx

import "errors"

// Codec errors. Use errors.Is to classify.
var (
	// ErrAddressRange is returned when an address field exceeds its bit width.
	ErrAddressRange = errors.New("knx: address field out of range")

	// ErrAddressFormat is returned when an address string cannot be parsed.
	ErrAddressFormat = errors.New("knx: malformed address")

	// ErrTelegramParse is returned for truncated or malformed inbound frames.
	ErrTelegramParse = errors.New("knx: telegram parse error")

	// ErrNotDataFrame marks inbound traffic that carries no group value
	// (device confirmations, read requests). Such frames are discarded.
	ErrNotDataFrame = errors.New("knx: not a data telegram")

	// ErrUnsupportedPayload is returned for type codes or values this codec does not map.
	ErrUnsupportedPayload = errors.New("knx: unsupported payload")

	// ErrValueRange is returned when an outbound value does not fit its encoding.
	ErrValueRange = errors.New("knx: value out of range")
)
