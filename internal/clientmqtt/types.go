package clientmqtt

import "time"

type MQTTConf struct {
	ClientID      string        // ClientID - уникальное имя клиента для брокеров.
	Schema        string        // Schema - тип подключения.
	Host          string        // Host - адрес MQTT сервера.
	Port          string        // Port - порт MQTT сервера.
	User          string        // User - логин для подключения к MQTT серверу.
	Password      string        // Password - пароль для подключения к MQTT серверу.
	Qos           byte          // Qos - качество обслуживания для публикаций и подписок.
	Retain        bool          // Retain - флаг retain для публикаций состояния.
	StatusTopic   string        // StatusTopic - топик online/offline (LWT).
	Subscriptions []string      // Subscriptions - фильтры, восстанавливаемые при каждом подключении.
	RetryInterval time.Duration // RetryInterval - пауза между попытками подключения.
}

// Status payloads published on StatusTopic.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// MessageHandler receives every message on the subscribed filters.
type MessageHandler func(topic string, payload []byte)
