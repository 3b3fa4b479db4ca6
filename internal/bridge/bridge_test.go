package bridge

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"knx2mqtt/internal/knx"
	"knx2mqtt/internal/logger"
	"knx2mqtt/internal/registry"
	"knx2mqtt/internal/transport"
)

type fakeBus struct {
	mu       sync.Mutex
	queued   []knx.Frame
	inbound  []knx.Telegram
	limit    int
	flushes  int
	drains   int
	flushErr error
}

func (f *fakeBus) Enqueue(fr knx.Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.limit > 0 && len(f.queued) >= f.limit {
		return transport.ErrQueueFull
	}
	f.queued = append(f.queued, fr)
	return nil
}

func (f *fakeBus) Flush() (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flushes++
	if f.flushErr != nil {
		return 0, f.flushErr
	}
	n := len(f.queued)
	f.queued = nil
	return n, nil
}

func (f *fakeBus) Drain(context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.drains++
	return len(f.inbound), nil
}

func (f *fakeBus) PopInbound() (knx.Telegram, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.inbound) == 0 {
		return knx.Telegram{}, false
	}
	t := f.inbound[0]
	f.inbound = f.inbound[1:]
	return t, true
}

type message struct {
	topic, payload string
}

type fakePublisher struct {
	mu   sync.Mutex
	sent []message
}

func (p *fakePublisher) Publish(topic, payload string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, message{topic, payload})
}

type fakeRecorder struct {
	keys []string
}

func (r *fakeRecorder) Record(m registry.Match, _ knx.Telegram) {
	r.keys = append(r.keys, m.Key)
}

var (
	bigLight    = knx.MustGroupAddress(1, 1, 1)
	bigSwitch   = knx.MustGroupAddress(2, 1, 8)
	floorOutlet = knx.MustGroupAddress(2, 1, 1)
	hallTemp    = knx.MustGroupAddress(3, 1, 2)
	blinds      = knx.MustGroupAddress(4, 0, 1)
)

func testRegistry() *registry.Registry {
	sw := bigSwitch
	return registry.New(map[string]registry.Entry{
		"/light/living/big":        {Primary: bigLight, Dimmable: true, Secondary: &sw},
		"/outlet/living/floor":     {Primary: floorOutlet},
		"/sensor/hall/temperature": {Primary: hallTemp},
		"/blinds/kitchen":          {Primary: blinds, Dimmable: true, Percent: true},
	})
}

func newTestBridge(t *testing.T, prefix string) (*Bridge, *fakeBus, *fakePublisher, *test.Hook) {
	t.Helper()
	l, hook := test.NewNullLogger()
	l.SetLevel(logrus.TraceLevel)
	bus := &fakeBus{}
	pub := &fakePublisher{}
	b := New(logger.Wrap(l), Conf{Prefix: prefix, PollInterval: time.Millisecond}, bus, testRegistry(), pub)
	return b, bus, pub, hook
}

func TestSwitchDimmable(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		frame   knx.Frame
	}{
		{"on shortcut", "255", knx.BoolWrite(bigSwitch, true)},
		{"off shortcut", "0", knx.BoolWrite(bigSwitch, false)},
		{"brightness", "128", knx.ByteWrite(bigLight, 128)},
		{"padded", " 17\n", knx.ByteWrite(bigLight, 17)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, bus, pub, _ := newTestBridge(t, "")

			require.NoError(t, b.OnBrokerMessage("/switch/light/living/big", []byte(tt.payload)))
			require.Len(t, bus.queued, 1)
			assert.Equal(t, tt.frame, bus.queued[0])
			require.Len(t, pub.sent, 1)
			assert.Equal(t, "/light/living/big", pub.sent[0].topic)
		})
	}
}

func TestSwitchEchoesPayload(t *testing.T) {
	b, _, pub, _ := newTestBridge(t, "")

	require.NoError(t, b.OnBrokerMessage("switch/light/living/big", []byte("255")))
	assert.Equal(t, []message{{"/light/living/big", "255"}}, pub.sent)
}

func TestSwitchOnOff(t *testing.T) {
	b, bus, pub, _ := newTestBridge(t, "")

	require.NoError(t, b.OnBrokerMessage("/switch/outlet/living/floor", []byte("on")))
	require.NoError(t, b.OnBrokerMessage("/switch/outlet/living/floor", []byte("off")))

	assert.Equal(t, []knx.Frame{knx.BoolWrite(floorOutlet, true), knx.BoolWrite(floorOutlet, false)}, bus.queued)
	assert.Equal(t, []message{
		{"/outlet/living/floor", "on"},
		{"/outlet/living/floor", "off"},
	}, pub.sent)
}

func TestSwitchPercent(t *testing.T) {
	b, bus, _, _ := newTestBridge(t, "")

	require.NoError(t, b.OnBrokerMessage("/switch/blinds/kitchen", []byte("40")))
	want, err := knx.PercentWrite(blinds, 40)
	require.NoError(t, err)
	assert.Equal(t, []knx.Frame{want}, bus.queued)
	assert.Equal(t, byte(102), bus.queued[0][22])

	err = b.OnBrokerMessage("/switch/blinds/kitchen", []byte("128"))
	assert.ErrorIs(t, err, ErrInvalidPayload)
	assert.Len(t, bus.queued, 1)
}

func TestSwitchInvalidPayload(t *testing.T) {
	b, bus, pub, _ := newTestBridge(t, "")

	for topic, payload := range map[string]string{
		"/switch/outlet/living/floor": "toggle",
		"/switch/light/living/big":    "bright",
	} {
		assert.ErrorIs(t, b.OnBrokerMessage(topic, []byte(payload)), ErrInvalidPayload, topic)
	}
	assert.ErrorIs(t, b.OnBrokerMessage("/switch/light/living/big", []byte("256")), ErrInvalidPayload)
	assert.ErrorIs(t, b.OnBrokerMessage("/switch/light/living/big", []byte("-1")), ErrInvalidPayload)

	assert.Empty(t, bus.queued)
	assert.Empty(t, pub.sent)
}

func TestUpdateQueuesRead(t *testing.T) {
	b, bus, pub, _ := newTestBridge(t, "")

	require.NoError(t, b.OnBrokerMessage("/update/light/living/big", nil))
	assert.Equal(t, []knx.Frame{knx.ReadRequest(bigLight)}, bus.queued)
	assert.Empty(t, pub.sent)
}

func TestBrokerMessageRejects(t *testing.T) {
	b, bus, pub, _ := newTestBridge(t, "home")

	assert.ErrorIs(t, b.OnBrokerMessage("home/switch/unknown/device", []byte("on")), registry.ErrUnknownDevice)
	assert.ErrorIs(t, b.OnBrokerMessage("home/toggle/outlet/living/floor", []byte("on")), ErrUnknownVerb)
	assert.ErrorIs(t, b.OnBrokerMessage("office/switch/outlet/living/floor", []byte("on")), ErrBadTopic)
	assert.ErrorIs(t, b.OnBrokerMessage("home/switch", []byte("on")), ErrBadTopic)
	assert.ErrorIs(t, b.OnBrokerMessage("home/switch/", []byte("on")), ErrBadTopic)

	assert.Empty(t, bus.queued)
	assert.Empty(t, pub.sent)
}

func TestPrefix(t *testing.T) {
	b, bus, pub, _ := newTestBridge(t, "home")

	assert.Equal(t, []string{"home/switch/#", "home/update/#"}, b.Subscriptions())
	require.NoError(t, b.OnBrokerMessage("home/switch/outlet/living/floor", []byte("on")))
	assert.Len(t, bus.queued, 1)
	assert.Equal(t, []message{{"home/outlet/living/floor", "on"}}, pub.sent)

	assert.Equal(t, "home/bridge/status", Conf{Prefix: "home"}.StatusTopic())

	b, _, _, _ = newTestBridge(t, "")
	assert.Equal(t, []string{"/switch/#", "/update/#"}, b.Subscriptions())
	assert.Equal(t, "/bridge/status", Conf{}.StatusTopic())
}

func TestQueueFullIsNotEchoed(t *testing.T) {
	b, bus, pub, hook := newTestBridge(t, "")
	bus.limit = 1

	require.NoError(t, b.OnBrokerMessage("/switch/outlet/living/floor", []byte("on")))
	err := b.OnBrokerMessage("/switch/outlet/living/floor", []byte("off"))
	assert.ErrorIs(t, err, transport.ErrQueueFull)
	assert.Len(t, pub.sent, 1)

	hook.Reset()
	b.HandleMessage("/switch/outlet/living/floor", []byte("off"))
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
}

func TestHandleMessageLogs(t *testing.T) {
	b, _, _, hook := newTestBridge(t, "")

	b.HandleMessage("/switch/light/living/big", []byte("bright"))
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)
	assert.Equal(t, "bridge", hook.LastEntry().Data["module"])

	b.HandleMessage("/switch/nowhere", []byte("on"))
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
}

func TestBusTelegram(t *testing.T) {
	tests := []struct {
		name string
		tg   knx.Telegram
		want message
	}{
		{"secondary on", knx.Telegram{Destination: bigSwitch, Kind: knx.KindBoolean, Bool: true}, message{"/light/living/big", "255"}},
		{"secondary off", knx.Telegram{Destination: bigSwitch, Kind: knx.KindBoolean}, message{"/light/living/big", "0"}},
		{"primary byte", knx.Telegram{Destination: bigLight, Kind: knx.KindByte, Byte: 77}, message{"/light/living/big", "77"}},
		{"primary bool", knx.Telegram{Destination: floorOutlet, Kind: knx.KindBoolean, Bool: true}, message{"/outlet/living/floor", "on"}},
		{"float", knx.Telegram{Destination: hallTemp, Kind: knx.KindFloat2, Float: 22.52}, message{"/sensor/hall/temperature", "22.52"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, _, pub, _ := newTestBridge(t, "")
			b.OnBusTelegram(tt.tg)
			assert.Equal(t, []message{tt.want}, pub.sent)
		})
	}
}

func TestBusTelegramUnknownAddress(t *testing.T) {
	b, _, pub, _ := newTestBridge(t, "")
	rec := &fakeRecorder{}
	b.SetRecorder(rec)

	b.OnBusTelegram(knx.Telegram{Destination: knx.MustGroupAddress(9, 1, 9), Kind: knx.KindBoolean, Bool: true})
	assert.Empty(t, pub.sent)
	assert.Empty(t, rec.keys)

	b.OnBusTelegram(knx.Telegram{Destination: bigSwitch, Kind: knx.KindBoolean, Bool: true})
	assert.Equal(t, []string{"/light/living/big"}, rec.keys)
}

func TestRequestAll(t *testing.T) {
	b, bus, _, _ := newTestBridge(t, "")

	require.NoError(t, b.RequestAll())
	assert.Equal(t, []knx.Frame{
		knx.ReadRequest(blinds),
		knx.ReadRequest(bigLight),
		knx.ReadRequest(floorOutlet),
		knx.ReadRequest(hallTemp),
	}, bus.queued)

	bus.queued, bus.limit = nil, 2
	assert.ErrorIs(t, b.RequestAll(), transport.ErrQueueFull)
}

func TestSweepNextCycles(t *testing.T) {
	b, bus, _, _ := newTestBridge(t, "")

	for i := 0; i < 5; i++ {
		require.NoError(t, b.SweepNext())
	}
	assert.Equal(t, []knx.Frame{
		knx.ReadRequest(blinds),
		knx.ReadRequest(bigLight),
		knx.ReadRequest(floorOutlet),
		knx.ReadRequest(hallTemp),
		knx.ReadRequest(blinds),
	}, bus.queued)
}

func TestSweepInterval(t *testing.T) {
	b, _, _, _ := newTestBridge(t, "")
	assert.Zero(t, b.sweepInterval())

	b.cfg.Sweep = true
	b.cfg.SweepPeriod = 8 * time.Minute
	assert.Equal(t, 2*time.Minute, b.sweepInterval())

	b.cfg.SweepPeriod = time.Microsecond
	assert.Equal(t, b.cfg.PollInterval, b.sweepInterval())
}

func TestStepPublishesInbound(t *testing.T) {
	b, bus, pub, _ := newTestBridge(t, "")
	require.NoError(t, bus.Enqueue(knx.ReadRequest(bigLight)))
	bus.inbound = []knx.Telegram{
		{Destination: bigLight, Kind: knx.KindByte, Byte: 10},
		{Destination: floorOutlet, Kind: knx.KindBoolean},
	}

	require.NoError(t, b.Step(context.Background()))
	assert.Empty(t, bus.queued)
	assert.Equal(t, []message{
		{"/light/living/big", "10"},
		{"/outlet/living/floor", "off"},
	}, pub.sent)
}

func TestRunStopsOnLinkFailure(t *testing.T) {
	b, bus, _, _ := newTestBridge(t, "")
	bus.flushErr = errors.New("no such device")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := b.Run(ctx)
	assert.ErrorContains(t, err, "no such device")
	assert.NoError(t, ctx.Err())
}

func TestRunStopsOnCancel(t *testing.T) {
	b, bus, _, _ := newTestBridge(t, "")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	require.Eventually(t, func() bool {
		bus.mu.Lock()
		defer bus.mu.Unlock()
		return bus.drains > 2
	}, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
