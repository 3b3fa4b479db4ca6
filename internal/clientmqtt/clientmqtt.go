package clientmqtt

import (
	"context"
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"knx2mqtt/internal/logger"
)

const (
	defaultRetryInterval = 5 * time.Second
	keepAlive            = 30 * time.Second
	disconnectQuiesce    = 500 // ms
	statusTimeout        = time.Second
)

// ClientMQTT структура клиента MQTT.
type ClientMQTT struct {
	ctx       context.Context
	log       logger.Logger
	cfgClient MQTTConf
	client    mqtt.Client
	opts      *mqtt.ClientOptions
	handler   MessageHandler
	onConnect func()
}

// NewClient конструктор. Пустой ClientID заменяется на knx2mqtt-<uuid>.
func NewClient(log logger.Logger, cfgClient MQTTConf) *ClientMQTT {
	if cfgClient.ClientID == "" {
		cfgClient.ClientID = "knx2mqtt-" + uuid.NewString()
	}
	if cfgClient.Schema == "" {
		cfgClient.Schema = "tcp"
	}
	if cfgClient.RetryInterval <= 0 {
		cfgClient.RetryInterval = defaultRetryInterval
	}
	return &ClientMQTT{
		ctx:       context.Background(),
		log:       log,
		cfgClient: cfgClient,
	}
}

// ClientID returns the identifier presented to the broker.
func (c *ClientMQTT) ClientID() string {
	return c.cfgClient.ClientID
}

// Start connects to the broker. handler receives every message on the
// configured subscriptions; onConnect, if set, runs after each (re)connect
// once the subscriptions are in place.
func (c *ClientMQTT) Start(ctx context.Context, handler MessageHandler, onConnect func()) error {
	if c.log.GetLevel() == "debug" || c.log.GetLevel() == "trace" {
		paho := c.log.Module("paho")
		mqtt.ERROR = paho
		mqtt.CRITICAL = paho
		mqtt.WARN = paho
	}

	c.ctx = ctx
	c.handler = handler
	c.onConnect = onConnect
	c.opts = c.options()
	c.client = mqtt.NewClient(c.opts)

	token := c.client.Connect()
	select {
	case <-token.Done():
		if token.Error() != nil {
			return fmt.Errorf("mqtt connect: %w", token.Error())
		}
	case <-c.ctx.Done():
		return errors.New("context canceled")
	}

	c.log.Module("mqtt").Infof("Status: %v", c.client.IsConnected())
	return nil
}

func (c *ClientMQTT) options() *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("%s://%s:%s", c.cfgClient.Schema, c.cfgClient.Host, c.cfgClient.Port)).
		SetUsername(c.cfgClient.User).
		SetPassword(c.cfgClient.Password).
		SetDefaultPublishHandler(c.messageHandler).
		SetOnConnectHandler(c.connectHandler).
		SetConnectionLostHandler(c.connectLostHandler).
		SetClientID(c.cfgClient.ClientID).
		// handlers run one at a time on the router goroutine, so commands
		// reach the bus in arrival order and must not block
		SetOrderMatters(true).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(c.cfgClient.RetryInterval).
		SetMaxReconnectInterval(c.cfgClient.RetryInterval).
		SetKeepAlive(keepAlive)

	if c.cfgClient.StatusTopic != "" {
		opts.SetWill(c.cfgClient.StatusTopic, StatusOffline, c.cfgClient.Qos, true)
	}
	return opts
}

func (c *ClientMQTT) Stop() error {
	if c.client == nil || !c.client.IsConnected() {
		return nil
	}

	var err error
	if c.cfgClient.StatusTopic != "" {
		token := c.client.Publish(c.cfgClient.StatusTopic, c.cfgClient.Qos, true, StatusOffline)
		if !token.WaitTimeout(statusTimeout) {
			err = fmt.Errorf("publish %s: timeout", c.cfgClient.StatusTopic)
		} else if token.Error() != nil {
			err = fmt.Errorf("publish %s: %w", c.cfgClient.StatusTopic, token.Error())
		}
	}
	c.client.Disconnect(disconnectQuiesce)
	return err
}

// connectHandler restores the subscriptions and announces the bridge. It is
// called by paho on every successful (re)connect.
func (c *ClientMQTT) connectHandler(_ mqtt.Client) {
	log := c.log.Module("mqtt")
	log.Info("client connected to server")

	for _, topic := range c.cfgClient.Subscriptions {
		c.sub(topic)
	}
	if c.cfgClient.StatusTopic != "" {
		c.publish(c.cfgClient.StatusTopic, StatusOnline, true)
	}
	if c.onConnect != nil {
		c.onConnect()
	}
}

func (c *ClientMQTT) connectLostHandler(_ mqtt.Client, err error) {
	c.log.Module("mqtt").Errorf("server connect lost: %v", err)
}

// messageHandler передает сообщение мосту. Паника в обработчике не должна
// останавливать сетевой цикл paho.
func (c *ClientMQTT) messageHandler(_ mqtt.Client, msg mqtt.Message) {
	log := c.log.Module("mqtt")
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("handler panic on topic %s: %v", msg.Topic(), r)
		}
	}()

	if c.handler == nil {
		log.Debugf("no handler, message on %s dropped", msg.Topic())
		return
	}
	c.handler(msg.Topic(), msg.Payload())
}

func (c *ClientMQTT) sub(topic string) {
	token := c.client.Subscribe(topic, c.cfgClient.Qos, c.messageHandler)
	go func() {
		select {
		case <-c.ctx.Done():
			return
		case <-token.Done():
			if token.Error() != nil {
				c.log.Module("mqtt").Errorf("topic %s subscription error. %v", topic, token.Error())
				return
			}
		}
		c.log.Module("mqtt").Debugf("topic %s subscribed", topic)
	}()
}

// Publish sends a state payload without waiting for the broker.
func (c *ClientMQTT) Publish(topic, payload string) {
	c.publish(topic, payload, c.cfgClient.Retain)
}

func (c *ClientMQTT) publish(topic, payload string, retain bool) {
	if c.client == nil {
		c.log.Module("mqtt").Warnf("not started, %s dropped", topic)
		return
	}

	token := c.client.Publish(topic, c.cfgClient.Qos, retain, payload)
	go func() {
		select {
		case <-c.ctx.Done():
			return
		case <-token.Done():
			if token.Error() != nil {
				c.log.Module("mqtt").Errorf("error publish topic %s. %v", topic, token.Error())
				return
			}
		}
		c.log.Module("mqtt").Tracef("published %s = %s", topic, payload)
	}()
}
