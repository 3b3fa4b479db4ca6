package transport

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/gousb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadResult(t *testing.T) {
	data := []byte{0x01, 0x13, 0x0A, 0x00}
	generic := errors.New("LIBUSB_ERROR_IO")

	tests := []struct {
		name    string
		n       int
		err     error
		want    []byte
		wantErr error
	}{
		{"report", 3, nil, data[:3], nil},
		{"nothing read", 0, nil, nil, ErrReadTimeout},
		{"transfer timed out", 0, gousb.TransferTimedOut, nil, ErrReadTimeout},
		{"transfer cancelled", 0, gousb.TransferCancelled, nil, ErrReadTimeout},
		{"deadline exceeded", 0, context.DeadlineExceeded, nil, ErrReadTimeout},
		{"wrapped deadline", 0, fmt.Errorf("bulk in: %w", context.DeadlineExceeded), nil, ErrReadTimeout},
		{"libusb timeout", 0, gousb.ErrorTimeout, nil, ErrReadTimeout},
		{"partial read before deadline", 2, gousb.TransferTimedOut, data[:2], nil},
		{"io error", 0, generic, nil, generic},
		{"io error after partial read", 2, generic, nil, generic},
		{"device gone", 0, gousb.ErrorNoDevice, nil, gousb.ErrorNoDevice},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := readResult(data, tt.n, tt.err)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, got)
				if tt.wantErr != ErrReadTimeout {
					assert.NotErrorIs(t, err, ErrReadTimeout)
				}
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
