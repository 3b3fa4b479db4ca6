package knx

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGroupRoundTrip(t *testing.T) {
	for main := 0; main <= 31; main++ {
		for middle := 0; middle <= 7; middle++ {
			for sub := 0; sub <= 255; sub++ {
				b, err := EncodeGroup(main, middle, sub)
				if err != nil {
					t.Fatalf("EncodeGroup(%d, %d, %d): %v", main, middle, sub, err)
				}
				got := DecodeGroup(b)
				if int(got.Main) != main || int(got.Middle) != middle || int(got.Sub) != sub {
					t.Fatalf("round trip %d/%d/%d = %s", main, middle, sub, got)
				}
			}
		}
	}
}

func TestIndividualRoundTrip(t *testing.T) {
	for area := 0; area <= 15; area++ {
		for line := 0; line <= 15; line++ {
			for device := 0; device <= 255; device++ {
				b, err := EncodeIndividual(area, line, device)
				if err != nil {
					t.Fatalf("EncodeIndividual(%d, %d, %d): %v", area, line, device, err)
				}
				got := DecodeIndividual(b)
				if int(got.Area) != area || int(got.Line) != line || int(got.Device) != device {
					t.Fatalf("round trip %d.%d.%d = %s", area, line, device, got)
				}
			}
		}
	}
}

func TestGroupPacking(t *testing.T) {
	tests := []struct {
		ga   GroupAddress
		want [2]byte
	}{
		{GroupAddress{1, 1, 1}, [2]byte{0x09, 0x01}},
		{GroupAddress{2, 1, 8}, [2]byte{0x11, 0x08}},
		{GroupAddress{3, 1, 2}, [2]byte{0x19, 0x02}},
		{GroupAddress{31, 7, 255}, [2]byte{0xFF, 0xFF}},
		{GroupAddress{0, 0, 0}, [2]byte{0x00, 0x00}},
	}

	for _, tt := range tests {
		t.Run(tt.ga.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.ga.Bytes())
			assert.Equal(t, tt.ga, DecodeGroup(tt.want))
		})
	}
}

func TestIndividualPacking(t *testing.T) {
	ia := IndividualAddress{Area: 1, Line: 1, Device: 5}
	assert.Equal(t, [2]byte{0x11, 0x05}, ia.Bytes())
	assert.Equal(t, "1.1.5", ia.String())
	assert.Equal(t, IndividualAddress{15, 15, 255}, DecodeIndividual([2]byte{0xFF, 0xFF}))
}

func TestEncodeRangeErrors(t *testing.T) {
	tests := []struct {
		name            string
		main, mid, sub  int
		area, line, dev int
		individual      bool
	}{
		{name: "main 32", main: 32},
		{name: "middle 8", mid: 8},
		{name: "sub 256", sub: 256},
		{name: "negative sub", sub: -1},
		{name: "area 16", area: 16, individual: true},
		{name: "line 16", line: 16, individual: true},
		{name: "device 256", dev: 256, individual: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var err error
			if tt.individual {
				_, err = EncodeIndividual(tt.area, tt.line, tt.dev)
			} else {
				_, err = EncodeGroup(tt.main, tt.mid, tt.sub)
			}
			assert.ErrorIs(t, err, ErrAddressRange)
		})
	}
}

func TestParseGroupAddress(t *testing.T) {
	ga, err := ParseGroupAddress("2/1/8")
	require.NoError(t, err)
	assert.Equal(t, GroupAddress{Main: 2, Middle: 1, Sub: 8}, ga)
	assert.Equal(t, "2/1/8", ga.String())

	tests := []struct {
		in      string
		wantErr error
	}{
		{"1.1.1", ErrAddressFormat},
		{"1/1", ErrAddressFormat},
		{"1/1/1/1", ErrAddressFormat},
		{"a/1/1", ErrAddressFormat},
		{"1//1", ErrAddressFormat},
		{"", ErrAddressFormat},
		{"32/0/0", ErrAddressRange},
		{"0/8/0", ErrAddressRange},
		{"0/0/256", ErrAddressRange},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			_, err := ParseGroupAddress(tt.in)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestParseIndividualAddress(t *testing.T) {
	ia, err := ParseIndividualAddress("1.2.30")
	require.NoError(t, err)
	assert.Equal(t, IndividualAddress{Area: 1, Line: 2, Device: 30}, ia)

	_, err = ParseIndividualAddress("1/2/30")
	assert.ErrorIs(t, err, ErrAddressFormat)
	_, err = ParseIndividualAddress("16.0.0")
	assert.ErrorIs(t, err, ErrAddressRange)
	_, err = ParseIndividualAddress("1.x.3")
	assert.ErrorIs(t, err, ErrAddressFormat)
}
