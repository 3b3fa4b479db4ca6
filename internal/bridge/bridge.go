// Package bridge translates between broker messages and bus telegrams.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"knx2mqtt/internal/knx"
	"knx2mqtt/internal/logger"
	"knx2mqtt/internal/registry"
	"knx2mqtt/internal/transport"
)

// Topic verbs.
const (
	VerbSwitch = "switch"
	VerbUpdate = "update"
)

// Payloads of non-dimmable entries and the on/off shortcuts of dimmable ones.
const (
	PayloadOn  = "on"
	PayloadOff = "off"

	dimOn  = 255
	dimOff = 0
)

var (
	// ErrBadTopic is returned for topics outside <prefix>/<verb>/<key>.
	ErrBadTopic = errors.New("bridge: malformed topic")

	// ErrUnknownVerb is returned for verbs other than switch and update.
	ErrUnknownVerb = errors.New("bridge: unknown verb")

	// ErrInvalidPayload is returned when a payload does not fit the entry.
	ErrInvalidPayload = errors.New("bridge: invalid payload")
)

// Publisher delivers state to the broker. Publish must not block.
type Publisher interface {
	Publish(topic, payload string)
}

// Bus is the part of transport.Transport the bridge drives.
type Bus interface {
	Enqueue(f knx.Frame) error
	Flush() (int, error)
	Drain(ctx context.Context) (int, error)
	PopInbound() (knx.Telegram, bool)
}

// Recorder receives every telegram that matched a registry entry.
type Recorder interface {
	Record(m registry.Match, t knx.Telegram)
}

// Conf structure of the bridge settings.
type Conf struct {
	Prefix       string        // Prefix is prepended to every topic.
	PollInterval time.Duration // PollInterval paces flush/drain.
	Sweep        bool          // Sweep enables the periodic read-state cycle.
	SweepPeriod  time.Duration // SweepPeriod is one full cycle over all entries.
}

// Bridge holds everything the message and telegram handlers need.
type Bridge struct {
	log      logger.Logger
	cfg      Conf
	bus      Bus
	registry *registry.Registry
	pub      Publisher
	rec      Recorder

	sweepNext int
}

// New конструктор.
func New(log logger.Logger, cfg Conf, bus Bus, reg *registry.Registry, pub Publisher) *Bridge {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 20 * time.Millisecond
	}
	return &Bridge{
		log:      log,
		cfg:      cfg,
		bus:      bus,
		registry: reg,
		pub:      pub,
	}
}

// SetRecorder attaches an optional telemetry sink.
func (b *Bridge) SetRecorder(r Recorder) {
	b.rec = r
}

// Subscriptions returns the topic filters the broker client must subscribe to.
func (c Conf) Subscriptions() []string {
	return []string{
		c.Prefix + "/" + VerbSwitch + "/#",
		c.Prefix + "/" + VerbUpdate + "/#",
	}
}

// StatusTopic carries the retained online/offline state of the bridge.
func (c Conf) StatusTopic() string {
	return c.Prefix + "/bridge/status"
}

// Subscriptions returns the topic filters of the bridge configuration.
func (b *Bridge) Subscriptions() []string {
	return b.cfg.Subscriptions()
}

// StateTopic returns the topic state of key is published on.
func (b *Bridge) StateTopic(key string) string {
	return b.cfg.Prefix + registry.NormalizeKey(key)
}

func (b *Bridge) split(topic string) (verb, key string, err error) {
	rest, ok := strings.CutPrefix(topic, b.cfg.Prefix)
	if !ok || (b.cfg.Prefix != "" && !strings.HasPrefix(rest, "/")) {
		return "", "", fmt.Errorf("%w: %q lacks prefix %q", ErrBadTopic, topic, b.cfg.Prefix)
	}
	parts := strings.SplitN(strings.TrimPrefix(rest, "/"), "/", 2)
	if len(parts) != 2 || strings.Trim(parts[1], "/") == "" {
		return "", "", fmt.Errorf("%w: %q", ErrBadTopic, topic)
	}
	if verb = parts[0]; verb != VerbSwitch && verb != VerbUpdate {
		return "", "", fmt.Errorf("%w: %q", ErrUnknownVerb, verb)
	}
	return verb, registry.NormalizeKey(parts[1]), nil
}

// OnBrokerMessage turns a switch or update message into a queued bus command.
// Switch commands are echoed on the state topic once queued. It never blocks.
func (b *Bridge) OnBrokerMessage(topic string, payload []byte) error {
	verb, key, err := b.split(topic)
	if err != nil {
		return err
	}
	entry, ok := b.registry.Lookup(key)
	if !ok {
		return fmt.Errorf("%w: %s", registry.ErrUnknownDevice, key)
	}

	switch verb {
	case VerbUpdate:
		if err := b.bus.Enqueue(knx.ReadRequest(entry.Primary)); err != nil {
			return fmt.Errorf("update %s: %w", key, err)
		}
		return nil

	case VerbSwitch:
		frame, echo, err := command(entry, strings.TrimSpace(string(payload)))
		if err != nil {
			return fmt.Errorf("switch %s: %w", key, err)
		}
		if err := b.bus.Enqueue(frame); err != nil {
			return fmt.Errorf("switch %s: %w", key, err)
		}
		b.pub.Publish(b.StateTopic(key), echo)
		return nil
	}
	return fmt.Errorf("%w: %q", ErrUnknownVerb, verb)
}

// command builds the frame for a switch payload and the payload to echo.
func command(e registry.Entry, payload string) (knx.Frame, string, error) {
	if !e.Dimmable {
		switch payload {
		case PayloadOn:
			return knx.BoolWrite(e.Primary, true), payload, nil
		case PayloadOff:
			return knx.BoolWrite(e.Primary, false), payload, nil
		}
		return knx.Frame{}, "", fmt.Errorf("%w: want %q or %q, got %q", ErrInvalidPayload, PayloadOn, PayloadOff, payload)
	}

	v, err := strconv.Atoi(payload)
	if err != nil {
		return knx.Frame{}, "", fmt.Errorf("%w: %q is not an integer", ErrInvalidPayload, payload)
	}
	echo := strconv.Itoa(v)

	switch {
	case v == dimOn && e.Secondary != nil:
		return knx.BoolWrite(*e.Secondary, true), echo, nil
	case v == dimOff && e.Secondary != nil:
		return knx.BoolWrite(*e.Secondary, false), echo, nil
	case e.Percent:
		f, err := knx.PercentWrite(e.Primary, float64(v))
		if err != nil {
			return knx.Frame{}, "", fmt.Errorf("%w: %w", ErrInvalidPayload, err)
		}
		return f, echo, nil
	case v < 0 || v > 255:
		return knx.Frame{}, "", fmt.Errorf("%w: %d is outside 0-255", ErrInvalidPayload, v)
	}
	return knx.ByteWrite(e.Primary, uint8(v)), echo, nil
}

// HandleMessage is the broker callback. It logs every error and never fails.
func (b *Bridge) HandleMessage(topic string, payload []byte) {
	log := b.log.Module("bridge").With(logger.Fields{"topic": topic})
	log.Debugf("received %q", payload)

	err := b.OnBrokerMessage(topic, payload)
	switch {
	case err == nil:
	case errors.Is(err, transport.ErrQueueFull):
		log.Warnf("command dropped: %v", err)
	case errors.Is(err, registry.ErrUnknownDevice), errors.Is(err, ErrBadTopic):
		log.Warnf("message ignored: %v", err)
	default:
		log.Errorf("message rejected: %v", err)
	}
}

// OnBusTelegram publishes a telegram on the topic of the entry owning its
// destination. Telegrams for unknown addresses are dropped.
func (b *Bridge) OnBusTelegram(t knx.Telegram) {
	m, ok := b.registry.Match(t.Destination)
	if !ok {
		b.log.Module("bridge").Tracef("no entry for %s", t)
		return
	}

	payload := t.ValueString()
	if t.Kind == knx.KindBoolean && m.ViaSecondary {
		payload = strconv.Itoa(dimOff)
		if t.Bool {
			payload = strconv.Itoa(dimOn)
		}
	}

	b.pub.Publish(b.StateTopic(m.Key), payload)
	if b.rec != nil {
		b.rec.Record(m, t)
	}
}

// RequestAll queues a read-state request for every entry.
func (b *Bridge) RequestAll() error {
	for _, key := range b.registry.Keys() {
		e, _ := b.registry.Lookup(key)
		if err := b.bus.Enqueue(knx.ReadRequest(e.Primary)); err != nil {
			return fmt.Errorf("read %s: %w", key, err)
		}
	}
	return nil
}
