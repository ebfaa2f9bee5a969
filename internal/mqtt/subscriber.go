package mqtt

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

var (
	ErrNotConnected     = errors.New("mqtt: client not connected")
	ErrConnectionFailed = errors.New("mqtt: connection failed")
	ErrSubscribeFailed  = errors.New("mqtt: subscribe failed")
	ErrInvalidTopic     = errors.New("mqtt: topic cannot be empty")
	ErrInvalidQoS       = errors.New("mqtt: invalid QoS level (must be 0, 1, or 2)")
)

const (
	defaultConnectTimeout = 10 * time.Second
	subscribeTimeout      = 5 * time.Second
	disconnectQuiesceMS   = 250
	keepAlive             = 30 * time.Second
	maxReconnectInterval  = 30 * time.Second
)

type Config struct {
	// Broker is a URL such as tcp://localhost:1883.
	Broker         string
	ClientID       string
	Username       string
	Password       string
	ConnectTimeout time.Duration
}

// MessageHandler is invoked on a paho goroutine for every message.
type MessageHandler func(topic string, payload []byte)

type subscription struct {
	qos     byte
	handler MessageHandler
}

// Subscriber is a receive-only MQTT client. Subscriptions survive broker
// reconnects.
type Subscriber struct {
	client pahomqtt.Client

	mu   sync.RWMutex
	subs map[string]subscription
}

func buildClientOptions(cfg Config) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(maxReconnectInterval)
	opts.SetKeepAlive(keepAlive)
	opts.SetConnectTimeout(cfg.ConnectTimeout)
	// Each message gets its own goroutine so commands contend for the
	// admission gate like UDP datagrams do.
	opts.SetOrderMatters(false)
	return opts
}

func Connect(cfg Config) (*Subscriber, error) {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	s := &Subscriber{subs: make(map[string]subscription)}

	opts := buildClientOptions(cfg)
	opts.SetOnConnectHandler(func(pahomqtt.Client) { s.restoreSubscriptions() })
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		log.Printf("mqtt connection lost: %v", err)
	})

	s.client = pahomqtt.NewClient(opts)
	token := s.client.Connect()
	if !token.WaitTimeout(cfg.ConnectTimeout) {
		s.client.Disconnect(0)
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, cfg.ConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	log.Printf("mqtt connected broker=%s client_id=%s", cfg.Broker, cfg.ClientID)
	return s, nil
}

func (s *Subscriber) IsConnected() bool {
	return s.client != nil && s.client.IsConnected()
}

func (s *Subscriber) Subscribe(topic string, qos byte, handler MessageHandler) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > 2 {
		return ErrInvalidQoS
	}
	if handler == nil {
		return fmt.Errorf("%w: handler cannot be nil", ErrSubscribeFailed)
	}
	if !s.IsConnected() {
		return ErrNotConnected
	}

	s.mu.Lock()
	s.subs[topic] = subscription{qos: qos, handler: handler}
	s.mu.Unlock()

	token := s.client.Subscribe(topic, qos, wrapHandler(handler))
	if !token.WaitTimeout(subscribeTimeout) {
		s.forget(topic)
		return fmt.Errorf("%w: timeout after %v", ErrSubscribeFailed, subscribeTimeout)
	}
	if err := token.Error(); err != nil {
		s.forget(topic)
		return fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}
	log.Printf("mqtt subscribed topic=%s qos=%d", topic, qos)
	return nil
}

func (s *Subscriber) forget(topic string) {
	s.mu.Lock()
	delete(s.subs, topic)
	s.mu.Unlock()
}

func (s *Subscriber) restoreSubscriptions() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for topic, sub := range s.subs {
		s.client.Subscribe(topic, sub.qos, wrapHandler(sub.handler))
	}
}

func (s *Subscriber) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	s.client.Disconnect(disconnectQuiesceMS)
	return nil
}

func wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("mqtt handler panic recovered topic=%s panic=%v", msg.Topic(), r)
			}
		}()
		handler(msg.Topic(), msg.Payload())
	}
}
