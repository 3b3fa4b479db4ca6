package transport

import "errors"

var (
	// ErrLinkSetup is returned when the link cannot be brought up. Fatal.
	ErrLinkSetup = errors.New("transport: link setup failed")

	// ErrDeviceNotFound is returned when no device matches the vendor/product id.
	ErrDeviceNotFound = errors.New("transport: usb device not found")

	// ErrQueueFull is returned by Enqueue when the outbound queue is at capacity.
	ErrQueueFull = errors.New("transport: outbound queue full")

	// ErrReadTimeout is returned by Link.Read when nothing arrived in time.
	// It is the normal end-of-burst signal for Drain.
	ErrReadTimeout = errors.New("transport: read timeout")

	// ErrNotReady is returned by Flush and Drain before Start succeeded.
	ErrNotReady = errors.New("transport: link not ready")
)
