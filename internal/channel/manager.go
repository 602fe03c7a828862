// Package channel maintains the live progress event stream. A Manager keeps
// at most one WebSocket connection open, decodes each text message into a
// model.ProgressEvent, and redials after a fixed delay whenever the
// connection closes or a dial fails.
package channel

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/JakeFAU/ingest-progress/internal/metrics"
	"github.com/JakeFAU/ingest-progress/internal/model"
)

// DefaultPath is the stream endpoint on the backend host.
const DefaultPath = "/ws"

const (
	defaultReconnectDelay   = 3 * time.Second
	defaultHandshakeTimeout = 10 * time.Second
	closeGracePeriod        = time.Second
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Handler receives one decoded event. Handlers run on the reader goroutine in
// delivery order and must not call Disconnect.
type Handler func(model.ProgressEvent)

// Config controls dialing and reconnect behavior.
type Config struct {
	// URL is the ws:// or wss:// stream endpoint.
	URL string
	// ReconnectDelay is the fixed wait before redialing (default 3s).
	ReconnectDelay time.Duration
	// Backoff overrides the reconnect policy. A policy returning
	// backoff.Stop leaves the manager disconnected.
	Backoff          backoff.BackOff
	HandshakeTimeout time.Duration
	Header           http.Header
	// OnStateChange is called with the manager's lock held on every
	// transition; it must not call back into the Manager.
	OnStateChange func(from, to State)
}

type subscription struct {
	id uint64
	fn Handler
}

// Manager owns the event channel connection and its reconnect timer.
type Manager struct {
	cfg    Config
	logger *zap.Logger
	dialer *websocket.Dialer
	policy backoff.BackOff

	mu         sync.Mutex
	state      State
	gen        uint64
	conn       *websocket.Conn
	timer      *time.Timer
	cancelDial context.CancelFunc
	subs       []subscription
	nextSub    uint64

	wg sync.WaitGroup
}

// New constructs a disconnected Manager.
func New(cfg Config, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = defaultReconnectDelay
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaultHandshakeTimeout
	}
	policy := cfg.Backoff
	if policy == nil {
		policy = backoff.NewConstantBackOff(cfg.ReconnectDelay)
	}
	return &Manager{
		cfg:    cfg,
		logger: logger.Named("channel"),
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		policy: policy,
	}
}

// URLFromBase derives the stream URL from the backend's HTTP base URL using
// DefaultPath.
func URLFromBase(base string) (string, error) {
	return ResolveURL(base, DefaultPath)
}

// ResolveURL derives the stream URL at path from an HTTP base URL. A secure
// origin yields a secure channel.
func ResolveURL(base, path string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(base))
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported base url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", errors.New("base url has no host")
	}
	if path == "" {
		path = DefaultPath
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/" + strings.TrimLeft(path, "/")
	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), nil
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Subscribe registers h for every subsequently delivered event and returns a
// function that removes it.
func (m *Manager) Subscribe(h Handler) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextSub++
	id := m.nextSub
	m.subs = append(m.subs, subscription{id: id, fn: h})
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, s := range m.subs {
			if s.id == id {
				m.subs = append(m.subs[:i:i], m.subs[i+1:]...)
				return
			}
		}
	}
}

// Connect starts dialing in the background. It is a no-op unless the manager
// is disconnected.
func (m *Manager) Connect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateDisconnected {
		return
	}
	m.policy.Reset()
	m.dialLocked()
}

// Disconnect closes the connection, cancels any pending reconnect or
// in-flight dial, and waits for the manager's goroutines to exit.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.gen++
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	if m.cancelDial != nil {
		m.cancelDial()
		m.cancelDial = nil
	}
	conn := m.conn
	m.conn = nil
	m.setStateLocked(StateDisconnected)
	m.mu.Unlock()

	if conn != nil {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGracePeriod))
		_ = conn.Close()
	}
	m.wg.Wait()
}

// Run connects and blocks until ctx is done, then disconnects.
func (m *Manager) Run(ctx context.Context) {
	m.Connect()
	<-ctx.Done()
	m.Disconnect()
}

func (m *Manager) dialLocked() {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancelDial = cancel
	m.setStateLocked(StateConnecting)
	m.wg.Add(1)
	go m.dial(ctx, cancel, m.gen)
}

func (m *Manager) dial(ctx context.Context, cancel context.CancelFunc, gen uint64) {
	defer m.wg.Done()
	defer cancel()

	conn, resp, err := m.dialer.DialContext(ctx, m.cfg.URL, m.cfg.Header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	m.cancelDial = nil
	if err != nil {
		m.logger.Warn("event channel dial failed", zap.String("url", m.cfg.URL), zap.Error(err))
		m.scheduleReconnectLocked()
		m.mu.Unlock()
		return
	}
	m.conn = conn
	m.policy.Reset()
	m.setStateLocked(StateConnected)
	metrics.ObserveChannelConnect()
	m.logger.Info("event channel connected", zap.String("url", m.cfg.URL))
	m.wg.Add(1)
	m.mu.Unlock()

	go m.read(conn, gen)
}

func (m *Manager) read(conn *websocket.Conn, gen uint64) {
	defer m.wg.Done()
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			m.connectionLost(conn, gen, err)
			return
		}
		if msgType != websocket.TextMessage {
			m.drop("unexpected binary message", nil)
			continue
		}
		var evt model.ProgressEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			m.drop("malformed event payload", err)
			continue
		}
		if err := evt.Validate(); err != nil {
			m.drop("invalid event payload", err)
			continue
		}
		m.deliver(gen, evt)
	}
}

func (m *Manager) connectionLost(conn *websocket.Conn, gen uint64, err error) {
	m.mu.Lock()
	if gen == m.gen && m.conn == conn {
		m.conn = nil
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			m.logger.Info("event channel closed by server", zap.Error(err))
		} else {
			m.logger.Warn("event channel lost", zap.Error(err))
		}
		m.scheduleReconnectLocked()
	}
	m.mu.Unlock()
	_ = conn.Close()
}

func (m *Manager) deliver(gen uint64, evt model.ProgressEvent) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	handlers := make([]Handler, len(m.subs))
	for i, s := range m.subs {
		handlers[i] = s.fn
	}
	m.mu.Unlock()

	metrics.ObserveChannelMessage("delivered")
	for _, h := range handlers {
		h(evt)
	}
}

func (m *Manager) drop(reason string, err error) {
	metrics.ObserveChannelMessage("dropped")
	m.logger.Warn(reason, zap.Error(err))
}

func (m *Manager) scheduleReconnectLocked() {
	delay := m.policy.NextBackOff()
	if delay == backoff.Stop {
		m.logger.Warn("reconnect policy exhausted; event channel stays disconnected")
		m.setStateLocked(StateDisconnected)
		return
	}
	m.setStateLocked(StateReconnectScheduled)
	metrics.ObserveChannelReconnect()
	m.logger.Info("event channel reconnect scheduled", zap.Duration("delay", delay))
	gen := m.gen
	m.timer = time.AfterFunc(delay, func() { m.reconnect(gen) })
}

func (m *Manager) reconnect(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen || m.state != StateReconnectScheduled {
		return
	}
	m.timer = nil
	m.dialLocked()
}

func (m *Manager) setStateLocked(next State) {
	prev := m.state
	if prev == next {
		return
	}
	m.state = next
	metrics.SetChannelState(next.String(), AllStates())
	if m.cfg.OnStateChange != nil {
		m.cfg.OnStateChange(prev, next)
	}
}
