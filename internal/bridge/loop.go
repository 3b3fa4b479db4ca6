package bridge

import (
	"context"
	"fmt"
	"time"

	"knx2mqtt/internal/knx"
)

// Run drives the bus until ctx is done or the link fails. Every PollInterval
// it flushes queued commands, drains the bus and publishes what was read.
// With Sweep enabled one entry per SweepPeriod/len(entries) gets a read-state
// request, so every entry is refreshed once per SweepPeriod.
func (b *Bridge) Run(ctx context.Context) error {
	log := b.log.Module("bridge")

	poll := time.NewTicker(b.cfg.PollInterval)
	defer poll.Stop()

	var sweep <-chan time.Time
	if d := b.sweepInterval(); d > 0 {
		t := time.NewTicker(d)
		defer t.Stop()
		sweep = t.C
		log.Debugf("sweep every %s", d)
	}

	log.Info("control loop started")
	for {
		select {
		case <-ctx.Done():
			log.Info("control loop stopped")
			return nil

		case <-sweep:
			if err := b.SweepNext(); err != nil {
				log.Warnf("sweep: %v", err)
			}

		case <-poll.C:
			if err := b.Step(ctx); err != nil {
				return err
			}
		}
	}
}

func (b *Bridge) sweepInterval() time.Duration {
	n := b.registry.Len()
	if !b.cfg.Sweep || n == 0 || b.cfg.SweepPeriod <= 0 {
		return 0
	}
	d := b.cfg.SweepPeriod / time.Duration(n)
	if d < b.cfg.PollInterval {
		d = b.cfg.PollInterval
	}
	return d
}

// Step runs one flush, drain and publish cycle. Only link failures are returned.
func (b *Bridge) Step(ctx context.Context) error {
	if _, err := b.bus.Flush(); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	if _, err := b.bus.Drain(ctx); err != nil {
		return fmt.Errorf("drain: %w", err)
	}
	b.Process()
	return nil
}

// Process publishes every queued inbound telegram.
func (b *Bridge) Process() int {
	n := 0
	for {
		t, ok := b.bus.PopInbound()
		if !ok {
			return n
		}
		b.OnBusTelegram(t)
		n++
	}
}

// SweepNext queues a read-state request for the next entry in key order.
func (b *Bridge) SweepNext() error {
	keys := b.registry.Keys()
	if len(keys) == 0 {
		return nil
	}
	key := keys[b.sweepNext%len(keys)]
	b.sweepNext = (b.sweepNext + 1) % len(keys)

	e, _ := b.registry.Lookup(key)
	if err := b.bus.Enqueue(knx.ReadRequest(e.Primary)); err != nil {
		return fmt.Errorf("read %s: %w", key, err)
	}
	return nil
}
