package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"knx2mqtt/internal/bridge"
	"knx2mqtt/internal/clientmqtt"
	"knx2mqtt/internal/config"
	"knx2mqtt/internal/logger"
	"knx2mqtt/internal/registry"
	"knx2mqtt/internal/telemetry"
	"knx2mqtt/internal/transport"
)

var configFile string

func init() {
	flag.StringVar(&configFile, "config", "configs/knx2mqtt.toml", "Path to configuration file")
}

func main() {
	flag.Parse()
	cfg, err := config.NewConfig(configFile)
	if err != nil {
		fmt.Printf("configuration file read error: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(cfg.Logger)
	if err != nil {
		fmt.Printf("failed to create a logger: %v\n", err)
		os.Exit(1)
	}
	log.Module("logger").Debug("newLogger created ok")

	if err := run(log, cfg); err != nil {
		log.Error(err)
		os.Exit(1)
	}
	log.Info("shutdown complete")
}

func run(log *logger.Log, cfg *config.Config) error {
	reg, rejected, err := registry.LoadFile(cfg.Bridge.Devices)
	if err != nil {
		return err
	}
	for _, r := range rejected {
		log.Module("registry").Warn(r)
	}
	log.Module("registry").Infof("%d devices loaded from %s", reg.Len(), cfg.Bridge.Devices)

	tr := transport.New(log, ConvertConfigTransport(cfg.Bus), transport.DialUSB(ConvertConfigUSB(cfg.Bus)))
	if err := tr.Start(); err != nil {
		return err
	}
	defer tr.Stop()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer cancel()

	bridgeCfg := ConvertConfigBridge(cfg.Bridge)
	client := clientmqtt.NewClient(log, ConvertConfigClientMQTT(cfg.MQTT, bridgeCfg))
	log.Module("mqtt").Debugf("NewClient created ok, id %s", client.ClientID())

	b := bridge.New(log, bridgeCfg, tr, reg, client)

	if cfg.Influx.Enabled {
		sink, err := telemetry.Connect(ctx, log, ConvertConfigTelemetry(cfg.Influx))
		if err != nil {
			log.Module("telemetry").Errorf("disabled: %v", err)
		} else {
			defer sink.Close()
			b.SetRecorder(sink)
		}
	}

	var onConnect func()
	if cfg.Bridge.InitialRead {
		onConnect = func() {
			if err := b.RequestAll(); err != nil {
				log.Module("bridge").Warnf("initial read: %v", err)
			}
		}
	}

	if err := client.Start(ctx, b.HandleMessage, onConnect); err != nil {
		return fmt.Errorf("failed to start MQTT service: %w", err)
	}
	defer func() {
		if err := client.Stop(); err != nil {
			log.Error("failed to stop MQTT service: ", err)
		}
	}()

	return b.Run(ctx)
}

// ConvertConfigClientMQTT преобразует структуры.
func ConvertConfigClientMQTT(cfg config.MQTTConf, b bridge.Conf) clientmqtt.MQTTConf {
	return clientmqtt.MQTTConf{
		ClientID:      cfg.ClientID,
		Schema:        "tcp",
		Host:          cfg.Host,
		Port:          cfg.Port,
		User:          cfg.User,
		Password:      cfg.Password,
		Qos:           cfg.Qos,
		Retain:        cfg.Retain,
		StatusTopic:   b.StatusTopic(),
		Subscriptions: b.Subscriptions(),
	}
}

// ConvertConfigBridge преобразует структуры.
func ConvertConfigBridge(cfg config.BridgeConf) bridge.Conf {
	return bridge.Conf{
		Prefix:       cfg.Prefix,
		PollInterval: cfg.PollInterval.Duration,
		Sweep:        cfg.Sweep,
		SweepPeriod:  cfg.SweepPeriod.Duration,
	}
}

// ConvertConfigUSB преобразует структуры.
func ConvertConfigUSB(cfg config.BusConf) transport.USBConf {
	return transport.USBConf{
		VendorID:    cfg.VendorID,
		ProductID:   cfg.ProductID,
		Interface:   cfg.Interface,
		OutEndpoint: cfg.OutEndpoint,
		InEndpoint:  cfg.InEndpoint,
	}
}

// ConvertConfigTransport преобразует структуры.
func ConvertConfigTransport(cfg config.BusConf) transport.Conf {
	return transport.Conf{
		ReadTimeout: cfg.ReadTimeout.Duration,
		QueueSize:   transport.DefaultQueueSize,
	}
}

// ConvertConfigTelemetry преобразует структуры.
func ConvertConfigTelemetry(cfg config.InfluxConf) telemetry.Conf {
	return telemetry.Conf{
		URL:    cfg.URL,
		Token:  cfg.Token,
		Org:    cfg.Org,
		Bucket: cfg.Bucket,
	}
}
