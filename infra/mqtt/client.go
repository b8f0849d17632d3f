// Package mqtt maintains a live session against one of several
// interchangeable brokers, rotating through the endpoint list on failure.
package mqtt

import (
	"context"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/easycab/dispatch/core/broker"
	"github.com/easycab/dispatch/infra/logger"
)

// State is the connection state machine position.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateSwitching
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateSwitching:
		return "switching"
	}
	return "unknown"
}

// pahoClient is the narrow slice of the Paho API the manager uses. Tests
// substitute a fake through newPahoClient.
type pahoClient interface {
	IsConnected() bool
	Connect() paho.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
}

var newPahoClient = func(opts *paho.ClientOptions) pahoClient {
	return paho.NewClient(opts)
}

type subscription struct {
	filter  string
	handler broker.Handler
}

// Manager implements broker.PubSub over Paho with endpoint failover.
// Reconnection is driven iteratively from Run, never from inside a
// network callback.
type Manager struct {
	cfg Config
	log logger.Logger

	mu    sync.Mutex
	idx   int // current endpoint, rotated circularly
	cli   pahoClient
	subs  []subscription
	state State

	lost chan struct{}

	// OnConnected and OnDisconnected are optional hooks, invoked outside
	// the manager lock.
	OnConnected    func(Endpoint)
	OnDisconnected func(Endpoint, error)
}

// NewManager creates a Manager. Call Start to establish the first
// session and Run to supervise it.
func NewManager(cfg Config, log logger.Logger) (*Manager, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.NopLogger{}
	}
	return &Manager{cfg: cfg, log: log, lost: make(chan struct{}, 1)}, nil
}

// Start connects to the first reachable endpoint. Every endpoint is tried
// once; if the whole cycle fails the error is fatal to the caller. A
// cancelled context stops the cycle between attempts.
func (m *Manager) Start(ctx context.Context) error {
	var lastErr error
	for range m.cfg.Endpoints {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := m.connectCurrent(); err != nil {
			lastErr = err
			m.rotate(err)
			continue
		}
		return nil
	}
	return fmt.Errorf("no configured broker reachable: %w", lastErr)
}

// Run supervises the session, reconnecting with backoff and endpoint
// rotation whenever the connection drops. It returns when the context is
// cancelled.
func (m *Manager) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			m.Close()
			return ctx.Err()
		case <-m.lost:
			m.reconnect(ctx)
		}
	}
}

func (m *Manager) reconnect(ctx context.Context) {
	backoff := m.cfg.reconnectBackoff()
	for ctx.Err() == nil {
		err := m.connectCurrent()
		if err == nil {
			return
		}
		m.rotate(err)
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
	}
}

// connectCurrent attempts a single bounded connect to the current
// endpoint and resubscribes every registered filter on success.
func (m *Manager) connectCurrent() error {
	m.mu.Lock()
	ep := m.cfg.Endpoints[m.idx]
	m.state = StateConnecting
	m.mu.Unlock()

	opts := paho.NewClientOptions().
		AddBroker(ep.URI()).
		SetClientID(fmt.Sprintf("%s-%s", m.cfg.ClientID, uuid.NewString()[:8])).
		SetConnectTimeout(m.cfg.connectTimeout()).
		SetAutoReconnect(false).
		SetConnectRetry(false)
	if m.cfg.Username != "" {
		opts.SetUsername(m.cfg.Username)
	}
	if m.cfg.Password != "" {
		opts.SetPassword(m.cfg.Password)
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		m.handleLost(ep, err)
	}

	cli := newPahoClient(opts)
	token := cli.Connect()
	if !token.WaitTimeout(m.cfg.connectTimeout()) {
		m.setState(StateDisconnected)
		return fmt.Errorf("connect to %s: timeout", ep)
	}
	if err := token.Error(); err != nil {
		m.setState(StateDisconnected)
		return fmt.Errorf("connect to %s: %w", ep, err)
	}

	m.mu.Lock()
	m.cli = cli
	m.state = StateConnected
	subs := append([]subscription(nil), m.subs...)
	m.mu.Unlock()

	m.log.Infof("connected to broker %s", ep)
	m.log.Debugw("broker session established", map[string]any{
		"endpoint":      ep.String(),
		"subscriptions": len(subs),
	})
	for _, s := range subs {
		if err := m.subscribe(cli, s); err != nil {
			m.log.Errorf("resubscribe %s: %v", s.filter, err)
		}
	}
	if m.OnConnected != nil {
		m.OnConnected(ep)
	}
	return nil
}

// rotate advances to the next endpoint in the ring.
func (m *Manager) rotate(cause error) {
	m.mu.Lock()
	m.state = StateSwitching
	m.idx = (m.idx + 1) % len(m.cfg.Endpoints)
	next := m.cfg.Endpoints[m.idx]
	m.mu.Unlock()
	m.log.Warnf("broker unavailable (%v), switching to %s", cause, next)
}

func (m *Manager) handleLost(ep Endpoint, err error) {
	m.setState(StateDisconnected)
	m.log.Errorf("connection to broker %s lost: %v", ep, err)
	if m.OnDisconnected != nil {
		m.OnDisconnected(ep, err)
	}
	select {
	case m.lost <- struct{}{}:
	default:
	}
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// CurrentEndpoint returns the endpoint the manager is using or trying.
func (m *Manager) CurrentEndpoint() Endpoint {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg.Endpoints[m.idx]
}

// Publish sends a payload. While disconnected the message is logged and
// dropped; the caller is never blocked on a dead session.
func (m *Manager) Publish(topic string, payload []byte) error {
	m.mu.Lock()
	cli, state := m.cli, m.state
	m.mu.Unlock()
	if cli == nil || state != StateConnected {
		m.log.Warnf("not connected (%s), dropping publish to %s", state, topic)
		return nil
	}
	token := cli.Publish(topic, m.cfg.QoS, false, payload)
	if !token.WaitTimeout(m.cfg.publishTimeout()) {
		return fmt.Errorf("publish %s: timeout", topic)
	}
	return token.Error()
}

// Subscribe registers a topic filter. The subscription survives
// reconnects and endpoint switches.
func (m *Manager) Subscribe(filter string, h broker.Handler) error {
	s := subscription{filter: filter, handler: h}
	m.mu.Lock()
	m.subs = append(m.subs, s)
	cli, state := m.cli, m.state
	m.mu.Unlock()
	if cli == nil || state != StateConnected {
		return nil
	}
	return m.subscribe(cli, s)
}

func (m *Manager) subscribe(cli pahoClient, s subscription) error {
	token := cli.Subscribe(s.filter, m.cfg.QoS, func(_ paho.Client, msg paho.Message) {
		s.handler(msg.Topic(), msg.Payload())
	})
	if !token.WaitTimeout(m.cfg.connectTimeout()) {
		return fmt.Errorf("subscribe %s: timeout", s.filter)
	}
	return token.Error()
}

// Close disconnects the session.
func (m *Manager) Close() {
	m.mu.Lock()
	cli := m.cli
	m.cli = nil
	m.state = StateDisconnected
	m.mu.Unlock()
	if cli != nil && cli.IsConnected() {
		cli.Disconnect(250)
	}
}
