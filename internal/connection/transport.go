package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Hooks are the event slots a Transport reports through. They are called
// from the transport's single reader goroutine, in the order the socket
// produced the events. Any hook may be nil.
type Hooks struct {
	OnOpen    func()
	OnClose   func(code int, reason string)
	OnError   func(err error)
	OnMessage func(msg Message)
}

// Transport owns exactly one websocket connection attempt. It never retries:
// once closed it stays closed, and a new Transport is needed to reconnect.
type Transport struct {
	cfg    TransportConfig
	hooks  Hooks
	logger *slog.Logger

	writeMu sync.Mutex

	mu         sync.RWMutex
	conn       *websocket.Conn
	state      ReadyState
	started    bool
	closing    bool // Close called
	aborting   bool // Abort called
	abortMsg   string
	cancelDial context.CancelFunc
	lastPongAt time.Time
}

// NewTransport creates a transport in the closed ready state.
func NewTransport(cfg TransportConfig, hooks Hooks, logger *slog.Logger) *Transport {
	if logger == nil {
		logger = slog.Default()
	}
	return &Transport{
		cfg:    cfg,
		hooks:  hooks,
		logger: logger,
		state:  StateClosed,
	}
}

// URL returns the socket address this transport dials.
func (t *Transport) URL() string {
	return t.cfg.URL
}

// Connect starts dialing in the background and returns immediately.
// The outcome is reported through Hooks: OnOpen on success, otherwise OnError
// followed by OnClose.
func (t *Transport) Connect(ctx context.Context) error {
	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return ErrAlreadyStarted
	}
	t.started = true
	t.state = StateConnecting

	timeout := t.cfg.HandshakeTimeout
	if timeout <= 0 {
		timeout = DefaultTransportConfig().HandshakeTimeout
	}
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	t.cancelDial = cancel
	t.mu.Unlock()

	go t.run(dialCtx, cancel, timeout)
	return nil
}

func (t *Transport) run(ctx context.Context, cancel context.CancelFunc, timeout time.Duration) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: timeout,
	}

	conn, _, err := dialer.DialContext(ctx, t.cfg.URL, nil)
	cancel()

	t.mu.Lock()
	closing := t.closing
	if err != nil {
		t.state = StateClosed
		t.mu.Unlock()

		if closing {
			t.emitClose(CloseNormal, "closed before open")
			return
		}
		t.logger.Debug("websocket dial failed", "url", t.cfg.URL, "error", err)
		t.emitError(fmt.Errorf("dial: %w", err))
		t.emitClose(CloseAbnormal, err.Error())
		return
	}
	if closing {
		t.state = StateClosed
		t.mu.Unlock()
		conn.Close()
		t.emitClose(CloseNormal, "closed before open")
		return
	}
	t.conn = conn
	t.state = StateOpen
	t.lastPongAt = time.Now()
	t.mu.Unlock()

	conn.SetPongHandler(func(string) error {
		t.mu.Lock()
		t.lastPongAt = time.Now()
		t.mu.Unlock()
		return nil
	})

	t.logger.Debug("websocket connected", "url", t.cfg.URL)
	if t.hooks.OnOpen != nil {
		t.hooks.OnOpen()
	}

	t.readLoop(conn)
}

// readLoop delivers messages until the connection fails or is closed, then
// reports exactly one OnClose.
func (t *Transport) readLoop(conn *websocket.Conn) {
	for {
		typ, data, err := conn.ReadMessage()
		receivedAt := time.Now()

		if err != nil {
			code, reason := t.closeDetails(err)

			t.mu.Lock()
			t.state = StateClosed
			t.conn = nil
			t.mu.Unlock()
			conn.Close()

			t.emitClose(code, reason)
			return
		}

		if t.hooks.OnMessage != nil {
			t.hooks.OnMessage(Message{
				Data:       data,
				Binary:     typ == websocket.BinaryMessage,
				ReceivedAt: receivedAt,
			})
		}
	}
}

// closeDetails maps a read error to a close code and reason.
func (t *Transport) closeDetails(err error) (int, string) {
	t.mu.RLock()
	closing, aborting, abortMsg := t.closing, t.aborting, t.abortMsg
	t.mu.RUnlock()

	var ce *websocket.CloseError
	switch {
	case aborting:
		return CloseAbnormal, abortMsg
	case errors.As(err, &ce):
		return ce.Code, ce.Text
	case closing:
		return CloseNormal, "client close"
	default:
		return CloseAbnormal, err.Error()
	}
}

func (t *Transport) emitError(err error) {
	if t.hooks.OnError != nil {
		t.hooks.OnError(err)
	}
}

func (t *Transport) emitClose(code int, reason string) {
	t.logger.Debug("websocket closed", "code", code, "reason", reason)
	if t.hooks.OnClose != nil {
		t.hooks.OnClose(code, reason)
	}
}

// Send writes a text frame. It fails without side effects unless the
// connection is open.
func (t *Transport) Send(data []byte) error {
	t.mu.RLock()
	conn, state := t.conn, t.state
	t.mu.RUnlock()

	switch state {
	case StateConnecting:
		return ErrStillConnecting
	case StateClosing:
		return ErrClosing
	case StateClosed:
		return ErrNotConnected
	}
	if conn == nil {
		return ErrNotConnected
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if t.cfg.WriteTimeout > 0 {
		conn.SetWriteDeadline(time.Now().Add(t.cfg.WriteTimeout))
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

// Ping writes a ping control frame.
func (t *Transport) Ping() error {
	t.mu.RLock()
	conn, state := t.conn, t.state
	t.mu.RUnlock()

	if state != StateOpen || conn == nil {
		return ErrNotConnected
	}
	deadline := time.Now().Add(time.Second)
	if t.cfg.WriteTimeout > 0 {
		deadline = time.Now().Add(t.cfg.WriteTimeout)
	}
	return conn.WriteControl(websocket.PingMessage, []byte("keepalive"), deadline)
}

// LastPong returns when the server last answered a ping (or when the
// connection opened).
func (t *Transport) LastPong() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lastPongAt
}

// ReadyState returns the current ready state. It has no side effects.
func (t *Transport) ReadyState() ReadyState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

// IsReady reports whether Send can succeed.
func (t *Transport) IsReady() bool {
	return t.ReadyState() == StateOpen
}

// Close requests a normal shutdown (code 1000). It is safe to call more
// than once and before Connect.
func (t *Transport) Close() error {
	return t.shutdown(false, "")
}

// Abort drops the connection so that OnClose reports an abnormal code,
// which lets the owner retry.
func (t *Transport) Abort(reason string) error {
	return t.shutdown(true, reason)
}

func (t *Transport) shutdown(abort bool, reason string) error {
	t.mu.Lock()
	if t.closing || t.aborting || t.state == StateClosed {
		t.mu.Unlock()
		return nil
	}
	if abort {
		t.aborting = true
		t.abortMsg = reason
	} else {
		t.closing = true
	}
	conn, cancel := t.conn, t.cancelDial
	if t.state == StateOpen {
		t.state = StateClosing
	}
	t.mu.Unlock()

	if conn == nil {
		if cancel != nil {
			cancel()
		}
		return nil
	}

	code, text := CloseNormal, "client close"
	if abort {
		code, text = CloseGoingAway, reason
	}
	conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(code, text),
		time.Now().Add(time.Second),
	)
	return conn.Close()
}
