package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rickgao/imsession/internal/connection"
	"github.com/rickgao/imsession/internal/environment"
	"github.com/rickgao/imsession/internal/inbox"
	"github.com/rickgao/imsession/internal/observe"
	"github.com/rickgao/imsession/internal/reconnect"
	"github.com/rickgao/imsession/internal/timers"
	"github.com/rickgao/imsession/internal/token"
)

// Status is a point-in-time view of a session.
type Status struct {
	SessionID         uuid.UUID
	State             connection.State
	ReadyState        connection.ReadyState
	ReconnectAttempts int
	PendingReconnect  bool
	HasToken          bool
	Kicked            bool
	Metadata          connection.Metadata
	Timers            []string
}

// Orchestrator owns one session's connection and background tasks.
type Orchestrator struct {
	cfg    Config
	id     uuid.UUID
	logger *slog.Logger

	api      TokenAPI
	store    token.Store
	probe    environment.Probe
	dial     Dialer
	strategy *reconnect.Strategy

	loop       *loop
	dispatcher *loop
	timers     *timers.Manager
	state      *connection.StateMachine
	reconnects *reconnect.Manager

	events       *observe.Registry[Event]
	stateChanges *observe.Registry[connection.Transition]
	messages     *observe.Registry[connection.Message]

	inboundMu sync.Mutex
	inbound   *inbox.Queue[connection.Message]

	tokenMu   sync.RWMutex
	tokenView string

	runCtx    context.Context
	runCancel context.CancelFunc
	closeOnce sync.Once

	// Owned by the loop goroutine.
	transport Socket
	token     string
	pageURL   string
	params    url.Values
	active    bool // Connect called since the last Cleanup
	kicked    bool
	epoch     uint64 // bumped whenever in-flight requests become stale
	reqCtx    context.Context
	reqCancel context.CancelFunc
	unwatch   func()
}

// New creates a session. The token is taken from cfg.PageURL's "token"
// parameter if present, otherwise from the token store. The session does not
// connect until Connect is called.
func New(ctx context.Context, cfg Config, opts ...Option) (*Orchestrator, error) {
	o := &Orchestrator{
		cfg:    cfg,
		id:     uuid.New(),
		logger: slog.Default(),
		dial:   dialTransport,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.With("session_id", o.id)

	if o.probe == nil {
		o.probe = environment.NewSignals(o.logger)
	}
	if o.strategy == nil {
		o.strategy = reconnect.NewStrategy(cfg.Reconnect)
	}

	tok, err := token.Resolve(ctx, cfg.PageURL, o.store)
	switch {
	case errors.Is(err, token.ErrNotFound):
		o.logger.Warn("no session token available")
	case err != nil:
		return nil, fmt.Errorf("resolve token: %w", err)
	}
	o.pageURL = cfg.PageURL
	o.setToken(tok)

	if tok != "" && o.store != nil && token.FromPageURL(cfg.PageURL) == tok {
		if err := o.store.Save(ctx, tok); err != nil {
			o.logger.Warn("failed to persist page token", "error", err)
		}
	}

	o.runCtx, o.runCancel = context.WithCancel(context.Background())
	o.reqCtx, o.reqCancel = context.WithCancel(o.runCtx)

	o.loop = newLoop("session loop", o.logger)
	o.dispatcher = newLoop("session dispatcher", o.logger)

	o.timers = timers.NewManager(
		timers.WithExecutor(func(fn func()) { o.loop.post(fn) }),
		timers.WithLogger(o.logger),
	)
	o.state = connection.NewStateMachine(o.logger)
	o.reconnects = reconnect.NewManager(o.strategy, o.timers, o.logger)
	o.reconnects.OnReconnect(o.handleReconnectFire)

	o.events = observe.NewRegistry[Event]("session events", o.logger)
	o.stateChanges = observe.NewRegistry[connection.Transition]("session state", o.logger)
	o.messages = observe.NewRegistry[connection.Message]("session messages", o.logger)

	o.state.OnStateChange(func(tr connection.Transition) {
		o.dispatcher.post(func() { o.stateChanges.Notify(tr) })
	})

	if w, ok := o.probe.(Watcher); ok {
		o.unwatch = w.Watch(func(c environment.Change) {
			o.loop.post(func() { o.handleEnvironment(c) })
		})
	}

	return o, nil
}

// SessionID identifies this session in logs and the journal.
func (o *Orchestrator) SessionID() uuid.UUID {
	return o.id
}

// Connect opens a connection unless one is already open or opening. A
// caller-initiated connect resets the reconnect attempt counter, which is how
// a session that gave up is restarted.
func (o *Orchestrator) Connect() error {
	var err error
	if derr := o.loop.do(func() { err = o.connect(true, "connect") }); derr != nil {
		return derr
	}
	return err
}

// Send writes data if the connection is open. Otherwise it reports why not;
// when the connection is closed it also starts a new connect.
func (o *Orchestrator) Send(data []byte) error {
	var err error
	if derr := o.loop.do(func() { err = o.send(data) }); derr != nil {
		return derr
	}
	return err
}

// Cleanup cancels every timer, closes the transport and resets the state
// machine. It may be called any number of times.
func (o *Orchestrator) Cleanup() error {
	return o.loop.do(o.cleanup)
}

// Kick applies an external "session replaced elsewhere" notification.
func (o *Orchestrator) Kick(reason string) error {
	return o.loop.do(func() { o.kick(reason) })
}

// Close cleans up and stops the session's goroutines. Every later call
// returns ErrShutdown.
func (o *Orchestrator) Close() error {
	o.closeOnce.Do(func() {
		o.loop.do(func() {
			o.cleanup()
			if o.unwatch != nil {
				o.unwatch()
				o.unwatch = nil
			}
		})
		o.loop.stop()
		o.runCancel()
		o.dispatcher.stop()

		o.inboundMu.Lock()
		if o.inbound != nil {
			o.inbound.Close()
		}
		o.inboundMu.Unlock()

		o.logger.Info("session shut down")
	})
	return nil
}

// Token returns the current session token.
func (o *Orchestrator) Token() string {
	o.tokenMu.RLock()
	defer o.tokenMu.RUnlock()
	return o.tokenView
}

// PageURL returns the page URL with its token parameter kept current.
func (o *Orchestrator) PageURL() string {
	var u string
	if err := o.loop.do(func() { u = o.pageURL }); err != nil {
		return ""
	}
	return u
}

// State returns the connection state.
func (o *Orchestrator) State() connection.State {
	return o.state.State()
}

// Status returns a snapshot for health reporting.
func (o *Orchestrator) Status() Status {
	st := Status{
		SessionID:  o.id,
		State:      o.state.State(),
		ReadyState: connection.StateClosed,
		Metadata:   o.state.Metadata(),
		HasToken:   o.Token() != "",
	}

	o.loop.do(func() {
		if o.transport != nil {
			st.ReadyState = o.transport.ReadyState()
		}
		st.Kicked = o.kicked
		st.State = o.state.State()
		st.Metadata = o.state.Metadata()
		st.Timers = o.timers.Names()
	})
	st.ReconnectAttempts = st.Metadata.ReconnectAttempts
	st.PendingReconnect = o.reconnects.Pending()
	return st
}

// Timers lists the live timers.
func (o *Orchestrator) Timers() []timers.Entry {
	names := o.timers.Names()
	out := make([]timers.Entry, 0, len(names))
	for _, n := range names {
		if e, ok := o.timers.Get(n); ok {
			out = append(out, e)
		}
	}
	return out
}

// OnEvent registers fn for session notifications.
func (o *Orchestrator) OnEvent(fn func(Event)) func() {
	return o.events.Add(fn)
}

// OnStateChange registers fn for connection state transitions.
func (o *Orchestrator) OnStateChange(fn func(connection.Transition)) func() {
	return o.stateChanges.Add(fn)
}

// OnMessage registers fn for inbound messages.
func (o *Orchestrator) OnMessage(fn func(connection.Message)) func() {
	return o.messages.Add(fn)
}

// Messages returns a queue that receives every inbound message from now on,
// for callers that prefer pulling. It is closed by Close.
func (o *Orchestrator) Messages() *inbox.Queue[connection.Message] {
	o.inboundMu.Lock()
	defer o.inboundMu.Unlock()
	if o.inbound == nil {
		o.inbound = inbox.New[connection.Message](64)
	}
	return o.inbound
}

// --- loop-confined ---

func (o *Orchestrator) connect(manual bool, reason string) error {
	if o.kicked {
		return ErrKicked
	}
	if o.state.Is(connection.Closed) {
		return ErrSessionClosed
	}

	if sock := o.transport; sock != nil {
		switch sock.ReadyState() {
		case connection.StateOpen, connection.StateConnecting:
			return nil
		case connection.StateClosing:
			return connection.ErrClosing
		}
		// Closed, but its close event has not been handled yet.
		o.transport = nil
		o.stopBackgroundTasks()
		if o.state.Is(connection.Connected) {
			o.state.Transition(connection.Disconnected, "transport closed")
		}
	}

	o.reconnects.Cancel()
	o.active = true
	if manual {
		o.state.ResetReconnectAttempts()
	}

	if o.token == "" {
		if tok, err := token.Resolve(o.reqCtx, o.pageURL, o.store); err == nil {
			o.setToken(tok)
		}
	}

	cfg := o.cfg.Transport
	cfg.URL = connection.BuildURL(o.cfg.Endpoint, o.params)

	o.state.Transition(connection.Connecting, reason)

	var sock Socket
	hooks := connection.Hooks{
		OnOpen: func() {
			o.loop.post(func() { o.handleOpen(sock) })
		},
		OnClose: func(code int, reason string) {
			o.loop.post(func() { o.handleClose(sock, code, reason) })
		},
		OnError: func(err error) {
			o.loop.post(func() { o.handleError(sock, err) })
		},
		OnMessage: func(msg connection.Message) {
			o.loop.post(func() { o.handleMessage(sock, msg) })
		},
	}
	sock = o.dial(cfg, hooks, o.logger)
	o.transport = sock

	o.logger.Info("connecting",
		"host", o.cfg.Endpoint.Host,
		"attempt", o.state.ReconnectAttempts(),
		"reason", reason,
	)

	if err := sock.Connect(o.runCtx); err != nil {
		o.transport = nil
		o.state.Transition(connection.Disconnected, err.Error())
		return fmt.Errorf("open transport: %w", err)
	}
	return nil
}

func (o *Orchestrator) send(data []byte) error {
	sock := o.transport
	if sock != nil && sock.IsReady() {
		if err := sock.Send(data); err != nil {
			return fmt.Errorf("send: %w", err)
		}
		return nil
	}

	rs := connection.StateClosed
	if sock != nil {
		rs = sock.ReadyState()
	}
	switch rs {
	case connection.StateConnecting:
		return connection.ErrStillConnecting
	case connection.StateClosing:
		return connection.ErrClosing
	}

	o.logger.Debug("send on closed connection, reconnecting")
	if err := o.connect(false, "send while closed"); err != nil {
		return fmt.Errorf("%w: %w", connection.ErrAlreadyClosed, err)
	}
	return connection.ErrAlreadyClosed
}

func (o *Orchestrator) handleOpen(sock Socket) {
	if sock != o.transport {
		return
	}
	o.state.Transition(connection.Connected, "open")
	o.startBackgroundTasks()
	o.emit(Event{Kind: EventConnected})
}

func (o *Orchestrator) handleClose(sock Socket, code int, reason string) {
	if sock != o.transport {
		o.logger.Debug("ignoring close from stale transport", "code", code)
		return
	}
	o.transport = nil
	o.stopBackgroundTasks()

	if code == connection.CloseNormal {
		o.state.Transition(connection.Closed, closeReason(code, reason))
		o.emit(Event{Kind: EventClosed, Code: code, Reason: reason})
		return
	}

	o.state.Transition(connection.Disconnected, strconv.Itoa(code))
	o.emit(Event{Kind: EventDisconnected, Code: code, Reason: reason})
	o.scheduleReconnect(code)
}

func closeReason(code int, reason string) string {
	if reason == "" {
		return strconv.Itoa(code)
	}
	return strconv.Itoa(code) + " " + reason
}

func (o *Orchestrator) handleError(sock Socket, err error) {
	if sock != o.transport {
		return
	}
	o.logger.Warn("transport error", "error", err)
	o.emit(Event{Kind: EventError, Err: err})
}

func (o *Orchestrator) handleMessage(sock Socket, msg connection.Message) {
	if sock != o.transport {
		return
	}
	o.dispatcher.post(func() { o.messages.Notify(msg) })

	o.inboundMu.Lock()
	q := o.inbound
	o.inboundMu.Unlock()
	if q != nil {
		q.Push(msg)
	}
}

func (o *Orchestrator) scheduleReconnect(code int) {
	d := o.reconnects.Schedule(o.state.ReconnectAttempts(), reconnect.Context{
		IsKicked:           o.kicked,
		IsPageHidden:       o.probe.PageHidden(),
		IsOffline:          o.probe.Offline(),
		CloseCode:          code,
		ConnectionDuration: o.state.ConnectionDuration(),
		OnKicked: func() {
			o.kick("duplicate connection detected")
		},
	})

	switch d.Outcome {
	case reconnect.Scheduled:
		o.emit(Event{Kind: EventReconnectScheduled, Attempt: d.Attempt, Delay: d.Delay})
	case reconnect.GaveUp:
		o.logger.Warn("giving up on reconnecting", "attempts", d.Attempt)
		o.emit(Event{Kind: EventGaveUp, Attempt: d.Attempt})
	}
}

func (o *Orchestrator) handleReconnectFire(attempt int) {
	if o.kicked || o.state.Is(connection.Closed) {
		return
	}
	o.state.Transition(connection.Reconnecting, "reconnect attempt "+strconv.Itoa(attempt+1))
	o.emit(Event{Kind: EventReconnecting, Attempt: o.state.ReconnectAttempts()})

	if err := o.connect(false, "reconnect"); err != nil {
		o.logger.Warn("reconnect failed", "error", err)
	}
}

func (o *Orchestrator) handleEnvironment(c environment.Change) {
	if !c.BecameUsable() {
		return
	}
	if !o.active || o.kicked || o.transport != nil || !o.state.Is(connection.Disconnected) {
		return
	}
	o.logger.Info("page visible and online again, reconnecting")
	if err := o.connect(true, "environment resumed"); err != nil {
		o.logger.Warn("resume connect failed", "error", err)
	}
}

func (o *Orchestrator) kick(reason string) {
	if o.kicked {
		return
	}
	o.kicked = true
	o.timers.ClearAll()
	o.cancelRequests()
	if sock := o.transport; sock != nil {
		o.transport = nil
		sock.Close()
	}
	o.state.Transition(connection.Closed, "kicked: "+reason)
	o.logger.Warn("session kicked", "reason", reason)
	o.emit(Event{Kind: EventKicked, Reason: reason})
}

func (o *Orchestrator) cleanup() {
	o.timers.ClearAll()
	o.cancelRequests()
	if sock := o.transport; sock != nil {
		o.transport = nil
		if err := sock.Close(); err != nil {
			o.logger.Debug("transport close failed", "error", err)
		}
	}
	o.active = false
	o.kicked = false
	o.state.Reset()
}

// cancelRequests makes every in-flight HTTP call stale.
func (o *Orchestrator) cancelRequests() {
	o.epoch++
	o.reqCancel()
	o.reqCtx, o.reqCancel = context.WithCancel(o.runCtx)
}

func (o *Orchestrator) setToken(tok string) {
	o.token = tok
	o.params = connection.TokenParams(tok)

	o.tokenMu.Lock()
	o.tokenView = tok
	o.tokenMu.Unlock()
}

func (o *Orchestrator) emit(ev Event) {
	ev.At = time.Now()
	o.dispatcher.post(func() { o.events.Notify(ev) })
}

// requestContext bounds one HTTP call by RequestTimeout.
func (o *Orchestrator) requestContext(parent context.Context) (context.Context, context.CancelFunc) {
	if o.cfg.RequestTimeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, o.cfg.RequestTimeout)
}
