package transport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/gousb"

	"knx2mqtt/internal/knx"
)

// Link is the raw report channel to the interface device.
type Link interface {
	// Write sends one report.
	Write(f knx.Frame) error
	// Read waits up to timeout for one report. It returns ErrReadTimeout
	// when nothing arrived.
	Read(timeout time.Duration) ([]byte, error)
	Close() error
}

// Dialer opens a Link. It is called once by Transport.Start.
type Dialer func() (Link, error)

// USBConf identifies the interface device and its bulk endpoints.
type USBConf struct {
	VendorID    uint16
	ProductID   uint16
	Interface   int
	OutEndpoint int // endpoint address, e.g. 0x01
	InEndpoint  int // endpoint address, e.g. 0x81
}

const writeTimeout = time.Second

// USBLink is a Link over libusb bulk transfers.
type USBLink struct {
	ctx  *gousb.Context
	dev  *gousb.Device
	cfg  *gousb.Config
	intf *gousb.Interface
	out  *gousb.OutEndpoint
	in   *gousb.InEndpoint
}

// DialUSB returns a Dialer for OpenUSB.
func DialUSB(cfg USBConf) Dialer {
	return func() (Link, error) {
		l, err := OpenUSB(cfg)
		if err != nil {
			return nil, err
		}
		return l, nil
	}
}

// OpenUSB finds the device, detaches a kernel driver bound to it, resets it
// and claims its configuration and interface.
func OpenUSB(cfg USBConf) (*USBLink, error) {
	l := &USBLink{ctx: gousb.NewContext()}

	dev, err := l.ctx.OpenDeviceWithVIDPID(gousb.ID(cfg.VendorID), gousb.ID(cfg.ProductID))
	if err != nil {
		l.Close()
		return nil, fmt.Errorf("open %04x:%04x: %w", cfg.VendorID, cfg.ProductID, err)
	}
	if dev == nil {
		l.Close()
		return nil, fmt.Errorf("%w: %04x:%04x", ErrDeviceNotFound, cfg.VendorID, cfg.ProductID)
	}
	l.dev = dev

	if err := dev.SetAutoDetach(true); err != nil {
		l.Close()
		return nil, fmt.Errorf("detach kernel driver: %w", err)
	}
	if err := dev.Reset(); err != nil {
		l.Close()
		return nil, fmt.Errorf("reset device: %w", err)
	}

	num, err := dev.ActiveConfigNum()
	if err != nil || num == 0 {
		num = 1
	}
	if l.cfg, err = dev.Config(num); err != nil {
		l.Close()
		return nil, fmt.Errorf("set configuration %d: %w", num, err)
	}
	if l.intf, err = l.cfg.Interface(cfg.Interface, 0); err != nil {
		l.Close()
		return nil, fmt.Errorf("claim interface %d: %w", cfg.Interface, err)
	}
	if l.out, err = l.intf.OutEndpoint(cfg.OutEndpoint & 0x0F); err != nil {
		l.Close()
		return nil, fmt.Errorf("out endpoint 0x%02x: %w", cfg.OutEndpoint, err)
	}
	if l.in, err = l.intf.InEndpoint(cfg.InEndpoint & 0x0F); err != nil {
		l.Close()
		return nil, fmt.Errorf("in endpoint 0x%02x: %w", cfg.InEndpoint, err)
	}

	return l, nil
}

func (l *USBLink) Write(f knx.Frame) error {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	_, err := l.out.WriteContext(ctx, f[:])
	return err
}

func (l *USBLink) Read(timeout time.Duration) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	buf := make([]byte, l.in.Desc.MaxPacketSize)
	n, err := l.in.ReadContext(ctx, buf)
	return readResult(buf, n, err)
}

// readResult maps the outcome of one bulk read. A timed out read yields
// whatever arrived before the deadline, or ErrReadTimeout when nothing did.
func readResult(buf []byte, n int, err error) ([]byte, error) {
	switch {
	case err != nil && !isTimeout(err):
		return nil, fmt.Errorf("read report: %w", err)
	case n <= 0:
		return nil, ErrReadTimeout
	}
	return buf[:n], nil
}

// Close releases the interface, configuration, device and libusb context.
func (l *USBLink) Close() error {
	var errs []error
	if l.intf != nil {
		l.intf.Close()
	}
	if l.cfg != nil {
		errs = append(errs, l.cfg.Close())
	}
	if l.dev != nil {
		errs = append(errs, l.dev.Close())
	}
	if l.ctx != nil {
		errs = append(errs, l.ctx.Close())
	}
	return errors.Join(errs...)
}

// isTimeout reports whether err means "the read deadline passed". libusb
// reports it either as a timed out or as a cancelled transfer.
func isTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, gousb.TransferTimedOut) ||
		errors.Is(err, gousb.TransferCancelled) ||
		errors.Is(err, gousb.ErrorTimeout)
}
