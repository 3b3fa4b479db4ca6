package knx

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"github.com/vapourismo/knx-go/knx/cemi"
)

// GroupAddress is a 3-level KNX group address.
//
// Layout: MMMM MIII SSSS SSSS (main 5 bits, middle 3 bits, sub 8 bits).
type GroupAddress struct {
	Main   uint8
	Middle uint8
	Sub    uint8
}

// IndividualAddress is the physical address of a bus device.
//
// Layout: AAAA LLLL DDDD DDDD (area 4 bits, line 4 bits, device 8 bits).
type IndividualAddress struct {
	Area   uint8
	Line   uint8
	Device uint8
}

const (
	maxMain   = 31
	maxMiddle = 7
	maxArea   = 15
	maxLine   = 15

	addressLevels = 3
)

// NewGroupAddress validates the fields and returns the address.
func NewGroupAddress(main, middle, sub int) (GroupAddress, error) {
	if err := checkField("main", main, maxMain); err != nil {
		return GroupAddress{}, err
	}
	if err := checkField("middle", middle, maxMiddle); err != nil {
		return GroupAddress{}, err
	}
	if err := checkField("sub", sub, 0xFF); err != nil {
		return GroupAddress{}, err
	}
	return GroupAddress{Main: uint8(main), Middle: uint8(middle), Sub: uint8(sub)}, nil
}

// MustGroupAddress is NewGroupAddress for constants; it panics on range errors.
func MustGroupAddress(main, middle, sub int) GroupAddress {
	ga, err := NewGroupAddress(main, middle, sub)
	if err != nil {
		panic(err)
	}
	return ga
}

// EncodeGroup packs the fields into the 2-byte big-endian wire form.
func EncodeGroup(main, middle, sub int) ([2]byte, error) {
	ga, err := NewGroupAddress(main, middle, sub)
	if err != nil {
		return [2]byte{}, err
	}
	return ga.Bytes(), nil
}

// DecodeGroup unpacks the 2-byte wire form.
func DecodeGroup(b [2]byte) GroupAddress {
	return GroupAddressFromUint16(binary.BigEndian.Uint16(b[:]))
}

// ParseGroupAddress parses "main/middle/sub".
func ParseGroupAddress(s string) (GroupAddress, error) {
	v, err := parseLevels(s, "/")
	if err != nil {
		return GroupAddress{}, err
	}
	return NewGroupAddress(v[0], v[1], v[2])
}

// GroupAddressFromUint16 decodes a packed group address.
func GroupAddressFromUint16(v uint16) GroupAddress {
	return GroupAddress{
		Main:   uint8(v>>11) & maxMain,
		Middle: uint8(v>>8) & maxMiddle,
		Sub:    uint8(v),
	}
}

// Uint16 packs the address as sub | middle<<8 | main<<11.
func (ga GroupAddress) Uint16() uint16 {
	return uint16(cemi.NewGroupAddr3(ga.Main&maxMain, ga.Middle&maxMiddle, ga.Sub))
}

// Bytes returns the big-endian wire form.
func (ga GroupAddress) Bytes() [2]byte {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], ga.Uint16())
	return b
}

// String returns "main/middle/sub".
func (ga GroupAddress) String() string {
	return cemi.GroupAddr(ga.Uint16()).String()
}

// NewIndividualAddress validates the fields and returns the address.
func NewIndividualAddress(area, line, device int) (IndividualAddress, error) {
	if err := checkField("area", area, maxArea); err != nil {
		return IndividualAddress{}, err
	}
	if err := checkField("line", line, maxLine); err != nil {
		return IndividualAddress{}, err
	}
	if err := checkField("device", device, 0xFF); err != nil {
		return IndividualAddress{}, err
	}
	return IndividualAddress{Area: uint8(area), Line: uint8(line), Device: uint8(device)}, nil
}

// EncodeIndividual packs the fields into the 2-byte big-endian wire form.
func EncodeIndividual(area, line, device int) ([2]byte, error) {
	ia, err := NewIndividualAddress(area, line, device)
	if err != nil {
		return [2]byte{}, err
	}
	return ia.Bytes(), nil
}

// DecodeIndividual unpacks the 2-byte wire form.
func DecodeIndividual(b [2]byte) IndividualAddress {
	return IndividualAddressFromUint16(binary.BigEndian.Uint16(b[:]))
}

// ParseIndividualAddress parses "area.line.device".
func ParseIndividualAddress(s string) (IndividualAddress, error) {
	v, err := parseLevels(s, ".")
	if err != nil {
		return IndividualAddress{}, err
	}
	return NewIndividualAddress(v[0], v[1], v[2])
}

// IndividualAddressFromUint16 decodes a packed individual address.
func IndividualAddressFromUint16(v uint16) IndividualAddress {
	return IndividualAddress{
		Area:   uint8(v>>12) & maxArea,
		Line:   uint8(v>>8) & maxLine,
		Device: uint8(v),
	}
}

// Uint16 packs the address as device | line<<8 | area<<12.
func (ia IndividualAddress) Uint16() uint16 {
	return uint16(cemi.NewIndividualAddr3(ia.Area&maxArea, ia.Line&maxLine, ia.Device))
}

// Bytes returns the big-endian wire form.
func (ia IndividualAddress) Bytes() [2]byte {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], ia.Uint16())
	return b
}

// String returns "area.line.device".
func (ia IndividualAddress) String() string {
	return cemi.IndividualAddr(ia.Uint16()).String()
}

func checkField(name string, v, max int) error {
	if v < 0 || v > max {
		return fmt.Errorf("%w: %s must be 0-%d, got %d", ErrAddressRange, name, max, v)
	}
	return nil
}

func parseLevels(s, sep string) ([addressLevels]int, error) {
	var out [addressLevels]int
	parts := strings.Split(s, sep)
	if len(parts) != addressLevels {
		return out, fmt.Errorf("%w: expected 3 fields separated by %q, got %q", ErrAddressFormat, sep, s)
	}
	for i, p := range parts {
		v, err := strconv.Atoi(p)
		if err != nil || strings.HasPrefix(p, "+") {
			return out, fmt.Errorf("%w: field %d of %q is not a number", ErrAddressFormat, i+1, s)
		}
		out[i] = v
	}
	return out, nil
}
