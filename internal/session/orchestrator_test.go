package session

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/imsession/internal/connection"
	"github.com/rickgao/imsession/internal/environment"
	"github.com/rickgao/imsession/internal/reconnect"
	"github.com/rickgao/imsession/internal/timers"
	"github.com/rickgao/imsession/internal/token"
)

const waitTimeout = 2 * time.Second

// fakeSocket is a Socket driven by the test.
type fakeSocket struct {
	cfg   connection.TransportConfig
	hooks connection.Hooks

	mu       sync.Mutex
	state    connection.ReadyState
	sent     [][]byte
	pings    int
	lastPong time.Time
	aborted  string
}

func (s *fakeSocket) Connect(ctx context.Context) error {
	s.mu.Lock()
	s.state = connection.StateConnecting
	s.mu.Unlock()
	return nil
}

func (s *fakeSocket) open() {
	s.mu.Lock()
	s.state = connection.StateOpen
	s.lastPong = time.Now()
	s.mu.Unlock()
	s.hooks.OnOpen()
}

func (s *fakeSocket) drop(code int, reason string) {
	s.mu.Lock()
	s.state = connection.StateClosed
	s.mu.Unlock()
	s.hooks.OnClose(code, reason)
}

func (s *fakeSocket) Send(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != connection.StateOpen {
		return connection.ErrNotConnected
	}
	s.sent = append(s.sent, data)
	return nil
}

func (s *fakeSocket) Ping() error {
	s.mu.Lock()
	s.pings++
	s.mu.Unlock()
	return nil
}

func (s *fakeSocket) LastPong() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastPong
}

func (s *fakeSocket) ReadyState() connection.ReadyState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *fakeSocket) IsReady() bool {
	return s.ReadyState() == connection.StateOpen
}

func (s *fakeSocket) Close() error {
	s.mu.Lock()
	if s.state == connection.StateClosed {
		s.mu.Unlock()
		return nil
	}
	s.state = connection.StateClosed
	s.mu.Unlock()
	s.hooks.OnClose(connection.CloseNormal, "client close")
	return nil
}

func (s *fakeSocket) Abort(reason string) error {
	s.mu.Lock()
	s.state = connection.StateClosed
	s.aborted = reason
	s.mu.Unlock()
	s.hooks.OnClose(connection.CloseAbnormal, reason)
	return nil
}

func (s *fakeSocket) sentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

type fakeDialer struct {
	sockets chan *fakeSocket
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{sockets: make(chan *fakeSocket, 16)}
}

func (d *fakeDialer) dial(cfg connection.TransportConfig, hooks connection.Hooks, _ *slog.Logger) Socket {
	s := &fakeSocket{cfg: cfg, hooks: hooks, state: connection.StateClosed}
	d.sockets <- s
	return s
}

func (d *fakeDialer) next(t *testing.T) *fakeSocket {
	t.Helper()
	select {
	case s := <-d.sockets:
		return s
	case <-time.After(waitTimeout):
		t.Fatal("timeout waiting for dial")
		return nil
	}
}

func (d *fakeDialer) none(t *testing.T) {
	t.Helper()
	select {
	case s := <-d.sockets:
		t.Fatalf("unexpected dial to %s", s.cfg.URL)
	default:
	}
}

type fakeAPI struct {
	mu             sync.Mutex
	minutes        int
	expiryErr      error
	renewed        string
	renewErr       error
	renewGate      chan struct{}
	heartbeatToken string
	heartbeatErr   error

	checks     int
	renewals   int
	heartbeats int
}

func (f *fakeAPI) CheckTokenExpiry(ctx context.Context, tok string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checks++
	return f.minutes, f.expiryErr
}

func (f *fakeAPI) RenewToken(ctx context.Context, oldToken string) (string, error) {
	f.mu.Lock()
	f.renewals++
	gate := f.renewGate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.renewed, f.renewErr
}

func (f *fakeAPI) Heartbeat(ctx context.Context, tok string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.heartbeats++
	if f.heartbeatToken == "" {
		return tok, f.heartbeatErr
	}
	return f.heartbeatToken, f.heartbeatErr
}

func (f *fakeAPI) counts() (checks, renewals, heartbeats int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.checks, f.renewals, f.heartbeats
}

type eventRecorder struct {
	ch chan Event
}

func recordEvents(o *Orchestrator) *eventRecorder {
	r := &eventRecorder{ch: make(chan Event, 256)}
	o.OnEvent(func(ev Event) { r.ch <- ev })
	return r
}

func (r *eventRecorder) waitFor(t *testing.T, kind EventKind) Event {
	t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case ev := <-r.ch:
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("timeout waiting for %s event", kind)
			return Event{}
		}
	}
}

// drain returns the kinds of every event delivered so far.
func (r *eventRecorder) drain() []EventKind {
	var kinds []EventKind
	for {
		select {
		case ev := <-r.ch:
			kinds = append(kinds, ev.Kind)
		default:
			return kinds
		}
	}
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Endpoint = connection.Endpoint{Protocol: "wss", Host: "im.example.com", Path: "/socket"}
	cfg.PageURL = "https://app.example.com/chat?token=abc"
	cfg.Reconnect = reconnect.Config{
		MaxAttempts:   2,
		BaseDelay:     10 * time.Millisecond,
		MaxDelay:      50 * time.Millisecond,
		BackoffFactor: 2,
	}
	cfg.HeartbeatInterval = time.Hour
	cfg.RenewalInterval = time.Hour
	cfg.RenewalInitialDelay = time.Hour
	cfg.RequestTimeout = time.Second
	return cfg
}

func newTestOrchestrator(t *testing.T, cfg Config, opts ...Option) (*Orchestrator, *fakeDialer) {
	t.Helper()
	d := newFakeDialer()
	opts = append([]Option{WithDialer(d.dial)}, opts...)
	o, err := New(context.Background(), cfg, opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { o.Close() })
	return o, d
}

// connectOpen connects and opens the first socket.
func connectOpen(t *testing.T, o *Orchestrator, d *fakeDialer, r *eventRecorder) *fakeSocket {
	t.Helper()
	if err := o.Connect(); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	sock := d.next(t)
	sock.open()
	r.waitFor(t, EventConnected)
	return sock
}

func TestNew_ResolvesToken(t *testing.T) {
	t.Run("page URL wins and is persisted", func(t *testing.T) {
		store := token.NewMemoryStore("stored")
		o, _ := newTestOrchestrator(t, testConfig(), WithTokenStore(store))

		if got := o.Token(); got != "abc" {
			t.Errorf("Token() = %q, want abc", got)
		}
		if got, _ := store.Load(context.Background()); got != "abc" {
			t.Errorf("store = %q, want abc", got)
		}
	})

	t.Run("falls back to store", func(t *testing.T) {
		cfg := testConfig()
		cfg.PageURL = "https://app.example.com/chat"
		o, _ := newTestOrchestrator(t, cfg, WithTokenStore(token.NewMemoryStore("stored")))

		if got := o.Token(); got != "stored" {
			t.Errorf("Token() = %q, want stored", got)
		}
	})

	t.Run("no token anywhere", func(t *testing.T) {
		cfg := testConfig()
		cfg.PageURL = ""
		o, _ := newTestOrchestrator(t, cfg)

		if got := o.Token(); got != "" {
			t.Errorf("Token() = %q, want empty", got)
		}
	})
}

func TestConnect_BuildsURL(t *testing.T) {
	o, d := newTestOrchestrator(t, testConfig())

	if err := o.Connect(); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	sock := d.next(t)

	if want := "wss://im.example.com/socket?token=abc"; sock.cfg.URL != want {
		t.Errorf("URL = %q, want %q", sock.cfg.URL, want)
	}
	if o.State() != connection.Connecting {
		t.Errorf("State() = %v, want Connecting", o.State())
	}

	// A second connect while one is in flight is a no-op.
	if err := o.Connect(); err != nil {
		t.Fatalf("second Connect() error = %v", err)
	}
	d.none(t)
}

func TestOpen_StartsBackgroundTasks(t *testing.T) {
	cfg := testConfig()
	cfg.PingInterval = time.Hour
	cfg.PingTimeout = time.Hour
	o, d := newTestOrchestrator(t, cfg, WithTokenAPI(&fakeAPI{minutes: 60}))
	r := recordEvents(o)

	connectOpen(t, o, d, r)

	if o.State() != connection.Connected {
		t.Fatalf("State() = %v, want Connected", o.State())
	}
	st := o.Status()
	for _, name := range []string{timers.Heartbeat, timers.TokenRenewal, timers.TokenRenewalNow, timers.SocketPing} {
		found := false
		for _, n := range st.Timers {
			if n == name {
				found = true
			}
		}
		if !found {
			t.Errorf("timer %q not registered, have %v", name, st.Timers)
		}
	}
	if st.ReadyState != connection.StateOpen {
		t.Errorf("ReadyState = %v, want open", st.ReadyState)
	}
}

func TestCleanClose_IsTerminalUntilCleanup(t *testing.T) {
	o, d := newTestOrchestrator(t, testConfig(), WithTokenAPI(&fakeAPI{minutes: 60}))
	r := recordEvents(o)

	sock := connectOpen(t, o, d, r)
	sock.drop(connection.CloseNormal, "bye")

	ev := r.waitFor(t, EventClosed)
	if ev.Code != connection.CloseNormal || ev.Reason != "bye" {
		t.Errorf("closed event = %+v", ev)
	}
	if o.State() != connection.Closed {
		t.Fatalf("State() = %v, want Closed", o.State())
	}
	if names := o.Status().Timers; len(names) != 0 {
		t.Errorf("timers after close = %v, want none", names)
	}

	if err := o.Connect(); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("Connect() after close error = %v, want ErrSessionClosed", err)
	}
	d.none(t)

	if err := o.Cleanup(); err != nil {
		t.Fatalf("Cleanup() error = %v", err)
	}
	if o.State() != connection.Disconnected {
		t.Errorf("State() after Cleanup = %v, want Disconnected", o.State())
	}
	if err := o.Connect(); err != nil {
		t.Fatalf("Connect() after Cleanup error = %v", err)
	}
	d.next(t)
}

func TestAbnormalClose_SchedulesReconnect(t *testing.T) {
	o, d := newTestOrchestrator(t, testConfig())
	r := recordEvents(o)

	sock := connectOpen(t, o, d, r)
	sock.drop(connection.CloseAbnormal, "network")

	ev := r.waitFor(t, EventDisconnected)
	if ev.Code != connection.CloseAbnormal {
		t.Errorf("disconnected code = %d, want 1006", ev.Code)
	}

	sched := r.waitFor(t, EventReconnectScheduled)
	if sched.Attempt != 0 {
		t.Errorf("scheduled attempt = %d, want 0", sched.Attempt)
	}
	// base * factor^(0-1), doubled because the connection was short.
	if sched.Delay != 10*time.Millisecond {
		t.Errorf("scheduled delay = %v, want 10ms", sched.Delay)
	}

	rc := r.waitFor(t, EventReconnecting)
	if rc.Attempt != 1 {
		t.Errorf("reconnecting attempt = %d, want 1", rc.Attempt)
	}

	next := d.next(t)
	if next.cfg.URL != sock.cfg.URL {
		t.Errorf("reconnect URL = %q, want %q", next.cfg.URL, sock.cfg.URL)
	}
	if o.State() != connection.Connecting {
		t.Errorf("State() = %v, want Connecting", o.State())
	}

	next.open()
	r.waitFor(t, EventConnected)
	if got := o.Status().ReconnectAttempts; got != 0 {
		t.Errorf("attempts after reconnect = %d, want 0", got)
	}
}

func TestGiveUp_ThenManualConnect(t *testing.T) {
	o, d := newTestOrchestrator(t, testConfig())
	r := recordEvents(o)

	sock := connectOpen(t, o, d, r)
	sock.drop(connection.CloseAbnormal, "network")

	// MaxAttempts is 2: two retries fail, the third close gives up.
	for i := 0; i < 2; i++ {
		retry := d.next(t)
		retry.drop(connection.CloseAbnormal, "refused")
	}

	ev := r.waitFor(t, EventGaveUp)
	if ev.Attempt != 2 {
		t.Errorf("gave-up attempt = %d, want 2", ev.Attempt)
	}
	if st := o.Status(); st.PendingReconnect || st.State != connection.Disconnected {
		t.Errorf("status after give up = %+v", st)
	}
	d.none(t)

	if err := o.Connect(); err != nil {
		t.Fatalf("manual Connect() error = %v", err)
	}
	d.next(t)
	if got := o.Status().ReconnectAttempts; got != 0 {
		t.Errorf("attempts after manual connect = %d, want 0", got)
	}
}

func TestHeartbeat_RotatesToken(t *testing.T) {
	cfg := testConfig()
	cfg.HeartbeatInterval = 20 * time.Millisecond
	store := token.NewMemoryStore("")
	api := &fakeAPI{minutes: 60, heartbeatToken: "def"}
	o, d := newTestOrchestrator(t, cfg, WithTokenAPI(api), WithTokenStore(store))
	r := recordEvents(o)

	sock := connectOpen(t, o, d, r)

	ev := r.waitFor(t, EventTokenRotated)
	if ev.Source != SourceHeartbeat {
		t.Errorf("source = %q, want heartbeat", ev.Source)
	}
	if got := o.Token(); got != "def" {
		t.Errorf("Token() = %q, want def", got)
	}
	if got, _ := store.Load(context.Background()); got != "def" {
		t.Errorf("store = %q, want def", got)
	}
	if got := o.PageURL(); !strings.Contains(got, "token=def") {
		t.Errorf("PageURL() = %q, want token=def", got)
	}

	sock.drop(connection.CloseAbnormal, "network")
	next := d.next(t)
	if want := "wss://im.example.com/socket?token=def"; next.cfg.URL != want {
		t.Errorf("reconnect URL = %q, want %q", next.cfg.URL, want)
	}
}

func TestHeartbeat_ErrorsAreLoggedOnly(t *testing.T) {
	cfg := testConfig()
	cfg.HeartbeatInterval = 10 * time.Millisecond
	api := &fakeAPI{heartbeatErr: errors.New("boom")}
	o, d := newTestOrchestrator(t, cfg, WithTokenAPI(api))
	r := recordEvents(o)

	connectOpen(t, o, d, r)
	waitUntil(t, "two heartbeats", func() bool {
		_, _, hb := api.counts()
		return hb >= 2
	})

	if o.State() != connection.Connected {
		t.Errorf("State() = %v, want Connected", o.State())
	}
	if got := o.Token(); got != "abc" {
		t.Errorf("Token() = %q, want abc", got)
	}
}

func TestRenewal(t *testing.T) {
	t.Run("renews when expiring", func(t *testing.T) {
		cfg := testConfig()
		cfg.RenewalInitialDelay = 10 * time.Millisecond
		store := token.NewMemoryStore("")
		api := &fakeAPI{minutes: 5, renewed: "fresh"}
		o, d := newTestOrchestrator(t, cfg, WithTokenAPI(api), WithTokenStore(store))
		r := recordEvents(o)

		connectOpen(t, o, d, r)

		ev := r.waitFor(t, EventTokenRotated)
		if ev.Source != SourceRenewal {
			t.Errorf("source = %q, want renewal", ev.Source)
		}
		if got := o.Token(); got != "fresh" {
			t.Errorf("Token() = %q, want fresh", got)
		}
		if got, _ := store.Load(context.Background()); got != "fresh" {
			t.Errorf("store = %q, want fresh", got)
		}
	})

	t.Run("renews when the check fails", func(t *testing.T) {
		cfg := testConfig()
		cfg.RenewalInitialDelay = 10 * time.Millisecond
		api := &fakeAPI{expiryErr: errors.New("unavailable"), renewed: "fresh"}
		o, d := newTestOrchestrator(t, cfg, WithTokenAPI(api))
		r := recordEvents(o)

		connectOpen(t, o, d, r)
		r.waitFor(t, EventTokenRotated)
	})

	t.Run("skips when valid", func(t *testing.T) {
		cfg := testConfig()
		cfg.RenewalInitialDelay = 10 * time.Millisecond
		api := &fakeAPI{minutes: 30, renewed: "fresh"}
		o, d := newTestOrchestrator(t, cfg, WithTokenAPI(api))
		r := recordEvents(o)

		connectOpen(t, o, d, r)
		waitUntil(t, "expiry check", func() bool {
			checks, _, _ := api.counts()
			return checks >= 1
		})
		time.Sleep(50 * time.Millisecond)

		if _, renewals, _ := api.counts(); renewals != 0 {
			t.Errorf("renewals = %d, want 0", renewals)
		}
		if got := o.Token(); got != "abc" {
			t.Errorf("Token() = %q, want abc", got)
		}
	})

	t.Run("failure emits session expiring", func(t *testing.T) {
		cfg := testConfig()
		cfg.RenewalInitialDelay = 10 * time.Millisecond
		api := &fakeAPI{minutes: 1, renewErr: errors.New("denied")}
		o, d := newTestOrchestrator(t, cfg, WithTokenAPI(api))
		r := recordEvents(o)

		connectOpen(t, o, d, r)

		ev := r.waitFor(t, EventSessionExpiring)
		if ev.Err == nil {
			t.Error("session-expiring event has no error")
		}
		if got := o.Token(); got != "abc" {
			t.Errorf("Token() = %q, want abc", got)
		}
	})
}

func TestRenewal_StaleResultDiscarded(t *testing.T) {
	cfg := testConfig()
	cfg.RenewalInitialDelay = 10 * time.Millisecond
	gate := make(chan struct{})
	api := &fakeAPI{minutes: 0, renewed: "late", renewGate: gate}
	o, d := newTestOrchestrator(t, cfg, WithTokenAPI(api))
	r := recordEvents(o)

	connectOpen(t, o, d, r)
	waitUntil(t, "renewal in flight", func() bool {
		_, renewals, _ := api.counts()
		return renewals == 1
	})

	if err := o.Cleanup(); err != nil {
		t.Fatalf("Cleanup() error = %v", err)
	}
	close(gate)
	time.Sleep(50 * time.Millisecond)
	o.PageURL() // round trip through the loop

	for _, k := range r.drain() {
		if k == EventTokenRotated || k == EventSessionExpiring {
			t.Errorf("unexpected %s event after Cleanup", k)
		}
	}
	if got := o.Token(); got != "abc" {
		t.Errorf("Token() = %q, want abc", got)
	}
}

func TestSend(t *testing.T) {
	o, d := newTestOrchestrator(t, testConfig())
	r := recordEvents(o)

	if err := o.Send([]byte("early")); !errors.Is(err, connection.ErrAlreadyClosed) {
		t.Fatalf("Send() before connect error = %v, want ErrAlreadyClosed", err)
	}
	sock := d.next(t)

	if err := o.Send([]byte("early")); !errors.Is(err, connection.ErrStillConnecting) {
		t.Fatalf("Send() while connecting error = %v, want ErrStillConnecting", err)
	}

	sock.open()
	r.waitFor(t, EventConnected)

	if err := o.Send([]byte("hello")); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if sock.sentCount() != 1 || string(sock.sent[0]) != "hello" {
		t.Errorf("sent = %q", sock.sent)
	}
}

func TestKick(t *testing.T) {
	o, d := newTestOrchestrator(t, testConfig(), WithTokenAPI(&fakeAPI{minutes: 60}))
	r := recordEvents(o)

	sock := connectOpen(t, o, d, r)

	if err := o.Kick("signed in elsewhere"); err != nil {
		t.Fatalf("Kick() error = %v", err)
	}
	ev := r.waitFor(t, EventKicked)
	if ev.Reason != "signed in elsewhere" {
		t.Errorf("kick reason = %q", ev.Reason)
	}

	st := o.Status()
	if st.State != connection.Closed || !st.Kicked {
		t.Errorf("status after kick = %+v", st)
	}
	if len(st.Timers) != 0 {
		t.Errorf("timers after kick = %v, want none", st.Timers)
	}
	if sock.ReadyState() != connection.StateClosed {
		t.Errorf("socket ready state = %v, want closed", sock.ReadyState())
	}

	if err := o.Connect(); !errors.Is(err, ErrKicked) {
		t.Errorf("Connect() after kick error = %v, want ErrKicked", err)
	}
	d.none(t)

	if err := o.Cleanup(); err != nil {
		t.Fatalf("Cleanup() error = %v", err)
	}
	if err := o.Connect(); err != nil {
		t.Fatalf("Connect() after Cleanup error = %v", err)
	}
	d.next(t)
}

func TestCleanup_Idempotent(t *testing.T) {
	o, d := newTestOrchestrator(t, testConfig(), WithTokenAPI(&fakeAPI{minutes: 60}))
	r := recordEvents(o)

	sock := connectOpen(t, o, d, r)

	for i := 0; i < 3; i++ {
		if err := o.Cleanup(); err != nil {
			t.Fatalf("Cleanup() #%d error = %v", i, err)
		}
	}

	st := o.Status()
	if st.State != connection.Disconnected || len(st.Timers) != 0 || st.ReadyState != connection.StateClosed {
		t.Errorf("status after Cleanup = %+v", st)
	}
	if sock.ReadyState() != connection.StateClosed {
		t.Errorf("socket still %v", sock.ReadyState())
	}
	if st.Metadata != (connection.Metadata{}) {
		t.Errorf("metadata after Cleanup = %+v, want zero", st.Metadata)
	}
}

func TestStaleTransportEventsIgnored(t *testing.T) {
	o, d := newTestOrchestrator(t, testConfig())
	r := recordEvents(o)
	var msgs []string
	var mu sync.Mutex
	o.OnMessage(func(m connection.Message) {
		mu.Lock()
		msgs = append(msgs, string(m.Data))
		mu.Unlock()
	})

	if err := o.Connect(); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	old := d.next(t)
	if err := o.Cleanup(); err != nil {
		t.Fatalf("Cleanup() error = %v", err)
	}
	if err := o.Connect(); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	current := d.next(t)

	old.hooks.OnOpen()
	old.hooks.OnMessage(connection.Message{Data: []byte("ghost")})
	old.hooks.OnClose(connection.CloseAbnormal, "late")
	o.PageURL() // round trip through the loop

	if o.State() != connection.Connecting {
		t.Errorf("State() = %v, want Connecting", o.State())
	}

	current.open()
	r.waitFor(t, EventConnected)
	current.hooks.OnMessage(connection.Message{Data: []byte("real")})
	waitUntil(t, "message", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(msgs) > 0
	})

	mu.Lock()
	defer mu.Unlock()
	if len(msgs) != 1 || msgs[0] != "real" {
		t.Errorf("messages = %v, want [real]", msgs)
	}
}

func TestMessagesQueue(t *testing.T) {
	o, d := newTestOrchestrator(t, testConfig())
	r := recordEvents(o)
	q := o.Messages()

	sock := connectOpen(t, o, d, r)
	for _, s := range []string{"a", "b", "c"} {
		sock.hooks.OnMessage(connection.Message{Data: []byte(s)})
	}

	for _, want := range []string{"a", "b", "c"} {
		m, ok := q.Pop()
		if !ok || string(m.Data) != want {
			t.Fatalf("Pop() = %q, %v, want %q", m.Data, ok, want)
		}
	}

	o.Close()
	if _, ok := q.Pop(); ok {
		t.Error("queue open after Close")
	}
}

func TestEnvironment(t *testing.T) {
	signals := environment.NewSignals(nil)
	o, d := newTestOrchestrator(t, testConfig(), WithProbe(signals))
	r := recordEvents(o)

	sock := connectOpen(t, o, d, r)

	signals.SetOffline(true)
	sock.drop(connection.CloseAbnormal, "network")
	r.waitFor(t, EventDisconnected)

	if st := o.Status(); st.PendingReconnect {
		t.Fatal("reconnect scheduled while offline")
	}
	d.none(t)

	signals.SetOffline(false)
	next := d.next(t)
	if next.cfg.URL != sock.cfg.URL {
		t.Errorf("resume URL = %q", next.cfg.URL)
	}
}

func TestEnvironment_IgnoredBeforeConnect(t *testing.T) {
	signals := environment.NewSignals(nil)
	signals.SetPageHidden(true)
	o, d := newTestOrchestrator(t, testConfig(), WithProbe(signals))

	signals.SetPageHidden(false)
	o.PageURL() // round trip through the loop
	d.none(t)
}

func TestPingTimeout_AbortsSocket(t *testing.T) {
	cfg := testConfig()
	cfg.PingInterval = 10 * time.Millisecond
	cfg.PingTimeout = time.Millisecond
	o, d := newTestOrchestrator(t, cfg)
	r := recordEvents(o)

	sock := connectOpen(t, o, d, r)

	ev := r.waitFor(t, EventDisconnected)
	if ev.Code != connection.CloseAbnormal || ev.Reason != "pong timeout" {
		t.Errorf("disconnected event = %+v", ev)
	}
	sock.mu.Lock()
	aborted := sock.aborted
	sock.mu.Unlock()
	if aborted != "pong timeout" {
		t.Errorf("aborted = %q", aborted)
	}
}

func TestListenerMayCallBack(t *testing.T) {
	o, d := newTestOrchestrator(t, testConfig())
	got := make(chan Status, 1)
	o.OnEvent(func(ev Event) {
		if ev.Kind == EventConnected {
			got <- o.Status()
		}
	})

	if err := o.Connect(); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	d.next(t).open()

	select {
	case st := <-got:
		if st.State != connection.Connected {
			t.Errorf("State = %v, want Connected", st.State)
		}
	case <-time.After(waitTimeout):
		t.Fatal("listener deadlocked")
	}
}

func TestClose(t *testing.T) {
	o, d := newTestOrchestrator(t, testConfig())
	r := recordEvents(o)
	sock := connectOpen(t, o, d, r)

	if err := o.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if sock.ReadyState() != connection.StateClosed {
		t.Errorf("socket still %v", sock.ReadyState())
	}
	if err := o.Connect(); !errors.Is(err, ErrShutdown) {
		t.Errorf("Connect() after Close error = %v, want ErrShutdown", err)
	}
	if err := o.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestOrchestrator_RealTransport(t *testing.T) {
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("token") != "abc" {
			http.Error(w, "bad token", http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if string(data) == "bye" {
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
				return
			}
			conn.WriteMessage(mt, data)
		}
	}))
	defer server.Close()

	u, _ := url.Parse(server.URL)
	cfg := testConfig()
	cfg.Endpoint = connection.Endpoint{Protocol: "ws", Host: u.Hostname(), Port: u.Port(), Path: "/socket"}

	o, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer o.Close()
	r := recordEvents(o)
	echoes := make(chan string, 4)
	o.OnMessage(func(m connection.Message) { echoes <- string(m.Data) })

	if err := o.Connect(); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	r.waitFor(t, EventConnected)

	if err := o.Send([]byte("hello")); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	select {
	case got := <-echoes:
		if got != "hello" {
			t.Errorf("echo = %q, want hello", got)
		}
	case <-time.After(waitTimeout):
		t.Fatal("timeout waiting for echo")
	}

	if err := o.Send([]byte("bye")); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	ev := r.waitFor(t, EventClosed)
	if ev.Code != connection.CloseNormal {
		t.Errorf("close code = %d, want 1000", ev.Code)
	}
	if o.State() != connection.Closed {
		t.Errorf("State() = %v, want Closed", o.State())
	}
}
