package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"knx2mqtt/internal/knx"
	"knx2mqtt/internal/logger"
)

// State of the link.
type State int32

const (
	StateDisconnected State = iota
	StateInitializing
	StateReady
	StateWriting
	StateDraining
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateWriting:
		return "writing"
	case StateDraining:
		return "draining"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// DefaultQueueSize is the capacity of both the outbound and inbound queues.
const DefaultQueueSize = 300

// Conf structure of the transport settings.
type Conf struct {
	ReadTimeout time.Duration // ReadTimeout ends a drain when no report arrives in time.
	QueueSize   int           // QueueSize is the capacity of each queue.
}

// Transport owns the interface device. Enqueue is safe from any goroutine;
// Start, Stop, Flush, Drain and PopInbound belong to the control loop.
//
// Outbound overflow is rejected with ErrQueueFull. Inbound overflow drops the
// oldest queued telegram so the newest bus state is kept.
type Transport struct {
	log  logger.Logger
	dial Dialer
	cfg  Conf

	state    atomic.Int32
	mu       sync.Mutex
	link     Link
	outbound chan knx.Frame
	inbound  chan knx.Telegram
	dropped  atomic.Uint64
}

// New creates a transport in StateDisconnected. Call Start to bring the link up.
func New(log logger.Logger, cfg Conf, dial Dialer) *Transport {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = time.Millisecond
	}
	return &Transport{
		log:      log,
		dial:     dial,
		cfg:      cfg,
		outbound: make(chan knx.Frame, cfg.QueueSize),
		inbound:  make(chan knx.Telegram, cfg.QueueSize),
	}
}

// State returns the current link state.
func (t *Transport) State() State {
	return State(t.state.Load())
}

func (t *Transport) setState(s State) {
	if old := State(t.state.Swap(int32(s))); old != s {
		t.log.Module("transport").Tracef("state %s -> %s", old, s)
	}
}

// Start opens the link and sends the handshake. Every failure is wrapped in
// ErrLinkSetup and leaves the transport in StateFailed.
func (t *Transport) Start() error {
	t.setState(StateInitializing)

	link, err := t.dial()
	if err != nil {
		t.setState(StateFailed)
		return fmt.Errorf("%w: %w", ErrLinkSetup, err)
	}

	for i, f := range handshake {
		if err := link.Write(f); err != nil {
			link.Close()
			t.setState(StateFailed)
			return fmt.Errorf("%w: handshake report %d of %d: %w", ErrLinkSetup, i+1, len(handshake), err)
		}
	}

	t.mu.Lock()
	t.link = link
	t.mu.Unlock()

	t.setState(StateReady)
	t.log.Module("transport").Info("usb link ready")
	return nil
}

// Stop closes the link.
func (t *Transport) Stop() {
	t.mu.Lock()
	link := t.link
	t.link = nil
	t.mu.Unlock()

	if link != nil {
		if err := link.Close(); err != nil {
			t.log.Module("transport").Warnf("close usb link: %v", err)
		}
	}
	t.setState(StateDisconnected)
}

// Enqueue appends f to the outbound queue without blocking.
func (t *Transport) Enqueue(f knx.Frame) error {
	select {
	case t.outbound <- f:
		return nil
	default:
		return fmt.Errorf("%w (%d frames)", ErrQueueFull, cap(t.outbound))
	}
}

// Pending returns the number of queued outbound frames.
func (t *Transport) Pending() int {
	return len(t.outbound)
}

// Dropped returns how many inbound telegrams were discarded on overflow.
func (t *Transport) Dropped() uint64 {
	return t.dropped.Load()
}

func (t *Transport) current() (Link, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.link == nil {
		return nil, ErrNotReady
	}
	return t.link, nil
}

// Flush writes every frame queued at the time of the call, in FIFO order.
// A write error is fatal.
func (t *Transport) Flush() (int, error) {
	link, err := t.current()
	if err != nil {
		return 0, err
	}

	n := len(t.outbound)
	if n == 0 {
		return 0, nil
	}

	t.setState(StateWriting)
	for i := 0; i < n; i++ {
		f := <-t.outbound
		if err := link.Write(f); err != nil {
			t.setState(StateFailed)
			return i, fmt.Errorf("transport: write report: %w", err)
		}
	}
	t.setState(StateReady)
	return n, nil
}

// Drain reads reports until one read times out and queues every usable
// telegram. The timeout is the normal end of a drain and is not returned.
// Frames that do not decode are skipped. Any other read error is fatal.
//
// One drain reads at most QueueSize reports so a busy bus cannot starve the
// rest of the control loop.
func (t *Transport) Drain(ctx context.Context) (int, error) {
	link, err := t.current()
	if err != nil {
		return 0, err
	}

	t.setState(StateDraining)
	defer func() {
		if t.State() == StateDraining {
			t.setState(StateReady)
		}
	}()

	queued := 0
	for reads := 0; reads < t.cfg.QueueSize; reads++ {
		if ctx.Err() != nil {
			break
		}

		b, err := link.Read(t.cfg.ReadTimeout)
		if errors.Is(err, ErrReadTimeout) {
			break
		}
		if err != nil {
			t.setState(StateFailed)
			return queued, fmt.Errorf("transport: read report: %w", err)
		}

		tg, err := knx.ParseFrame(b)
		if err != nil {
			t.skip(b, err)
			continue
		}
		t.push(tg)
		queued++
	}
	return queued, nil
}

func (t *Transport) skip(b []byte, err error) {
	log := t.log.Module("transport")
	switch {
	case errors.Is(err, knx.ErrNotDataFrame):
		log.Tracef("skip report: %v", err)
	case errors.Is(err, knx.ErrUnsupportedPayload):
		log.Debugf("skip report: %v", err)
	default:
		log.With(logger.Fields{"report": fmt.Sprintf("% X", b)}).Warnf("drop malformed report: %v", err)
	}
}

func (t *Transport) push(tg knx.Telegram) {
	select {
	case t.inbound <- tg:
		return
	default:
	}

	select {
	case old := <-t.inbound:
		t.dropped.Add(1)
		t.log.Module("transport").Warnf("inbound queue full, dropped %s", old)
	default:
	}
	select {
	case t.inbound <- tg:
	default:
	}
}

// PopInbound returns the oldest queued telegram.
func (t *Transport) PopInbound() (knx.Telegram, bool) {
	select {
	case tg := <-t.inbound:
		return tg, true
	default:
		return knx.Telegram{}, false
	}
}
