package config

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
)

// Config структура конфигурации.
type Config struct {
	Logger LogConf    // Logger - конфигурация регистратора.
	MQTT   MQTTConf   // MQTT - конфигурация MQTT клиента.
	Bus    BusConf    // Bus - параметры USB интерфейса KNX.
	Bridge BridgeConf // Bridge - параметры моста.
	Influx InfluxConf // Influx - запись телеметрии (опционально).
}

// LogConf структура конфигурации.
type LogConf struct {
	Level string `toml:"log-level"` // Level - уровень логирования.
}

// MQTTConf структура конфигурации.
type MQTTConf struct {
	ClientID string `toml:"clientID"` // ClientID - имя клиента.
	Host     string `toml:"server"`   // Host - адрес MQTT сервера.
	Port     string `toml:"port"`     // Port - порт MQTT сервера.
	User     string `toml:"user"`     // User - логин для подключения к MQTT серверу.
	Password string `toml:"password"` // Password - пароль для подключения к MQTT серверу.
	Qos      byte   `toml:"qos"`      // Qos - качество обслуживания.
	Retain   bool   `toml:"retain"`   // Retain - публиковать состояния с флагом retain.
}

// BusConf describes the USB interface device.
type BusConf struct {
	VendorID    uint16   `toml:"vendor-id"`
	ProductID   uint16   `toml:"product-id"`
	Interface   int      `toml:"interface"`
	OutEndpoint int      `toml:"out-endpoint"`
	InEndpoint  int      `toml:"in-endpoint"`
	ReadTimeout Duration `toml:"read-timeout"` // ReadTimeout - таймаут чтения, признак конца пачки.
}

// BridgeConf структура конфигурации.
type BridgeConf struct {
	Prefix       string   `toml:"prefix"`        // Prefix - префикс топиков.
	Devices      string   `toml:"devices"`       // Devices - путь к реестру устройств (YAML).
	PollInterval Duration `toml:"poll-interval"` // PollInterval - период цикла flush/drain.
	Sweep        bool     `toml:"sweep"`         // Sweep - периодический опрос всех устройств.
	SweepPeriod  Duration `toml:"sweep-period"`  // SweepPeriod - полный цикл опроса.
	InitialRead  bool     `toml:"initial-read"`  // InitialRead - опрос всех устройств при подключении.
}

// InfluxConf структура конфигурации.
type InfluxConf struct {
	Enabled bool   `toml:"enabled"`
	URL     string `toml:"url"`
	Token   string `toml:"token"`
	Org     string `toml:"org"`
	Bucket  string `toml:"bucket"`
}

// Duration is a time.Duration read from a TOML string like "20ms".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Default returns the configuration used for every key missing in the file.
func Default() Config {
	return Config{
		Logger: LogConf{Level: "info"},
		MQTT: MQTTConf{
			Host: "localhost",
			Port: "1883",
		},
		Bus: BusConf{
			VendorID:    0x0E77,
			ProductID:   0x0104,
			Interface:   0,
			OutEndpoint: 0x01,
			InEndpoint:  0x81,
			ReadTimeout: Duration{time.Millisecond},
		},
		Bridge: BridgeConf{
			Devices:      "configs/devices.yaml",
			PollInterval: Duration{20 * time.Millisecond},
			SweepPeriod:  Duration{480 * time.Second},
			InitialRead:  true,
		},
	}
}

// NewConfig конструктор.
func NewConfig(path string) (*Config, error) {
	// default values
	cfg := Default()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return &cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return &cfg, err
	}
	return &cfg, nil
}

// Validate проверяет значения, которые нельзя исправить по умолчанию.
func (c *Config) Validate() error {
	if c.MQTT.Qos > 2 {
		return fmt.Errorf("mqtt: qos must be 0, 1 or 2, got %d", c.MQTT.Qos)
	}
	if c.Bus.ReadTimeout.Duration <= 0 {
		return fmt.Errorf("bus: read-timeout must be positive, got %v", c.Bus.ReadTimeout)
	}
	if c.Bridge.PollInterval.Duration <= 0 {
		return fmt.Errorf("bridge: poll-interval must be positive, got %v", c.Bridge.PollInterval)
	}
	if c.Bridge.Sweep && c.Bridge.SweepPeriod.Duration <= 0 {
		return fmt.Errorf("bridge: sweep-period must be positive when sweep is enabled")
	}
	if c.Influx.Enabled && c.Influx.URL == "" {
		return fmt.Errorf("influx: url is required when enabled")
	}
	return nil
}
