// Package mqtt is the transport sink: it wraps the paho client with the topic
// layout, connectivity status publishing and the inbound command subscriptions.
package mqtt

import (
	"errors"
	"fmt"
	"time"

	paho_mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/anicoll/sonos-mqtt/internal/pkg/config"
)

const (
	connectTimeout = 5 * time.Second
	publishTimeout = 10 * time.Second
)

// DeviceCommandHandler receives the selector from a <prefix>/<selector>/control
// topic together with the raw envelope payload.
type DeviceCommandHandler func(selector string, payload []byte)

// GlobalCommandHandler receives the command from a <prefix>/cmd/<command> topic
// together with the raw payload.
type GlobalCommandHandler func(command string, payload []byte)

type service struct {
	client          paho_mqtt.Client
	topics          Topics
	discoveryPrefix string
	logger          *zap.Logger
	onDevice        DeviceCommandHandler
	onGlobal        GlobalCommandHandler
	onConnChange    func(connected bool)
}

// New wires a paho client for cfg but does not connect yet. Handlers must be
// set before Connect so the initial subscription installs them.
func New(cfg *config.MqttConfig) *service {
	s := &service{
		topics:          Topics{Prefix: cfg.Prefix},
		discoveryPrefix: cfg.DiscoveryPrefix,
		logger:          zap.L(),
	}

	opts := paho_mqtt.NewClientOptions()
	opts.AddBroker(cfg.Host)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetOrderMatters(false)
	opts.SetKeepAlive(60 * time.Second)
	// Broker-side last will so subscribers see the bridge drop without a
	// graceful close.
	opts.SetBinaryWill(s.topics.Connected(), []byte("0"), 1, true)
	opts.SetOnConnectHandler(func(paho_mqtt.Client) {
		s.logger.Info("mqtt connected")
		s.subscribe()
		if s.onConnChange != nil {
			s.onConnChange(true)
		}
	})
	opts.SetConnectionLostHandler(func(_ paho_mqtt.Client, err error) {
		s.logger.Warn("mqtt connection lost", zap.Error(err))
		if s.onConnChange != nil {
			s.onConnChange(false)
		}
	})

	s.client = paho_mqtt.NewClient(opts)
	return s
}

// Handlers installs the inbound command and connectivity callbacks. Call this
// before Connect; the broker starts delivering as soon as the subscriptions go
// in.
func (s *service) Handlers(onDevice DeviceCommandHandler, onGlobal GlobalCommandHandler, onConnChange func(bool)) {
	s.onDevice = onDevice
	s.onGlobal = onGlobal
	s.onConnChange = onConnChange
}

func (s *service) Connect() error {
	token := s.client.Connect()
	if res := token.WaitTimeout(connectTimeout); res {
		return token.Error()
	}
	if err := token.Error(); err != nil {
		return err
	}
	return errors.New("unable to connect in time")
}

// Disconnect publishes the closing status before dropping the connection.
func (s *service) Disconnect() {
	_ = s.PublishStatus(0)
	s.client.Disconnect(1000)
}

func (s *service) Topics() Topics {
	return s.topics
}

func (s *service) subscribe() {
	subs := map[string]paho_mqtt.MessageHandler{
		s.topics.DeviceControl(): s.handleDeviceControl,
		s.topics.GlobalCommand(): s.handleGlobalCommand,
	}
	for filter, handler := range subs {
		token := s.client.Subscribe(filter, 1, handler)
		if !token.WaitTimeout(connectTimeout) || token.Error() != nil {
			s.logger.Error("mqtt subscribe failed", zap.String("filter", filter), zap.Error(token.Error()))
		}
	}
}

func (s *service) handleDeviceControl(_ paho_mqtt.Client, msg paho_mqtt.Message) {
	selector := s.topics.ControlSelector(msg.Topic())
	if selector == "" {
		s.logger.Debug("ignoring message on unexpected topic", zap.String("topic", msg.Topic()))
		return
	}
	if s.onDevice != nil {
		s.onDevice(selector, msg.Payload())
	}
}

func (s *service) handleGlobalCommand(_ paho_mqtt.Client, msg paho_mqtt.Message) {
	command := s.topics.CommandName(msg.Topic())
	if command == "" {
		s.logger.Debug("ignoring message on unexpected topic", zap.String("topic", msg.Topic()))
		return
	}
	if s.onGlobal != nil {
		s.onGlobal(command, msg.Payload())
	}
}

func (s *service) publish(topic string, qos byte, retain bool, payload []byte) error {
	token := s.client.Publish(topic, qos, retain, payload)
	if res := token.WaitTimeout(publishTimeout); res {
		return token.Error()
	}
	if err := token.Error(); err != nil {
		return err
	}
	return fmt.Errorf("publish to %s timed out", topic)
}
