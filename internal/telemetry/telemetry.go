// Package telemetry records bus telegrams as InfluxDB points.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"knx2mqtt/internal/knx"
	"knx2mqtt/internal/logger"
	"knx2mqtt/internal/registry"
)

// Measurement is the name of every point written.
const Measurement = "knx_telegram"

const (
	pingTimeout   = 5 * time.Second
	batchSize     = 100
	flushInterval = 1000 // ms
)

// ErrConnectionFailed is returned when the server does not answer a ping.
var ErrConnectionFailed = errors.New("telemetry: connection failed")

// Conf structure of the InfluxDB settings.
type Conf struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

type pointWriter interface {
	WritePoint(p *write.Point)
	Flush()
}

// Sink writes one point per published telegram. Writes are batched and never
// block the control loop; write failures are logged.
type Sink struct {
	log    logger.Logger
	client influxdb2.Client
	writer pointWriter
	now    func() time.Time
}

// Connect pings the server and opens a non-blocking write API.
func Connect(ctx context.Context, log logger.Logger, cfg Conf) (*Sink, error) {
	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(batchSize).
			SetFlushInterval(flushInterval))

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	healthy, err := client.Ping(pingCtx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: ping %s: %w", ErrConnectionFailed, cfg.URL, err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("%w: %s not healthy", ErrConnectionFailed, cfg.URL)
	}

	writeAPI := client.WriteAPI(cfg.Org, cfg.Bucket)
	s := newSink(log, writeAPI)
	s.client = client

	go func() {
		for err := range writeAPI.Errors() {
			s.log.Module("telemetry").Warnf("write: %v", err)
		}
	}()

	return s, nil
}

func newSink(log logger.Logger, w pointWriter) *Sink {
	return &Sink{log: log, writer: w, now: time.Now}
}

// Record implements bridge.Recorder.
func (s *Sink) Record(m registry.Match, t knx.Telegram) {
	s.writer.WritePoint(NewPoint(m, t, s.now()))
}

// NewPoint builds the point for a telegram:
//
//	knx_telegram,group_address=1/1/1,kind=byte,source=1.1.5,topic=/light/living/big value=128
func NewPoint(m registry.Match, t knx.Telegram, ts time.Time) *write.Point {
	return write.NewPoint(
		Measurement,
		map[string]string{
			"topic":         m.Key,
			"group_address": t.Destination.String(),
			"source":        t.Source.String(),
			"kind":          t.Kind.String(),
		},
		map[string]interface{}{
			"value": t.Float64(),
		},
		ts,
	)
}

// Close flushes pending points and closes the client.
func (s *Sink) Close() {
	s.writer.Flush()
	if s.client != nil {
		s.client.Close()
	}
}
