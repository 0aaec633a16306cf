package router

import (
	"context"
	"log/slog"
	"sync"

	"github.com/rickgao/imsession/internal/connection"
	"github.com/rickgao/imsession/internal/inbox"
	"github.com/rickgao/imsession/internal/model"
)

// Router decodes inbound socket frames and sorts them into per-kind queues.
type Router interface {
	// Handle queues a frame for routing. It never blocks and is safe to
	// register as a session message listener.
	Handle(msg connection.Message)

	// Start begins routing.
	Start(ctx context.Context) error

	// Stop drains queued frames and closes the output queues.
	Stop(ctx context.Context) error

	// Buffers returns the output queues.
	Buffers() Buffers

	// Stats returns current router statistics.
	Stats() Stats
}

// Buffers are the router's output queues. Presence updates go to System.
type Buffers struct {
	Private *inbox.Queue[model.ChatMessage]
	Group   *inbox.Queue[model.ChatMessage]
	System  *inbox.Queue[model.ChatMessage]
}

type router struct {
	cfg    Config
	logger *slog.Logger

	input   *inbox.Queue[connection.Message]
	private *inbox.Queue[model.ChatMessage]
	group   *inbox.Queue[model.ChatMessage]
	system  *inbox.Queue[model.ChatMessage]

	wg sync.WaitGroup

	mu          sync.RWMutex
	received    int64
	routed      int64
	parseErrors int64
	dropped     int64
}

// NewRouter creates a Router.
func NewRouter(cfg Config, logger *slog.Logger) Router {
	if logger == nil {
		logger = slog.Default()
	}

	return &router{
		cfg:     cfg,
		logger:  logger.With("component", "router"),
		input:   inbox.New[connection.Message](cfg.InputBufferSize),
		private: inbox.New[model.ChatMessage](cfg.PrivateBufferSize),
		group:   inbox.New[model.ChatMessage](cfg.GroupBufferSize),
		system:  inbox.New[model.ChatMessage](cfg.SystemBufferSize),
	}
}

func (r *router) Handle(msg connection.Message) {
	r.mu.Lock()
	r.received++
	r.mu.Unlock()

	if !r.input.Push(msg) {
		r.mu.Lock()
		r.dropped++
		r.mu.Unlock()
	}
}

func (r *router) Start(ctx context.Context) error {
	r.wg.Add(1)
	go r.routeLoop()

	r.logger.Info("message router started",
		"private_buffer", r.cfg.PrivateBufferSize,
		"group_buffer", r.cfg.GroupBufferSize,
		"system_buffer", r.cfg.SystemBufferSize,
	)

	return nil
}

func (r *router) Stop(ctx context.Context) error {
	r.logger.Info("stopping message router")

	r.input.Close()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("message router stopped")
	case <-ctx.Done():
		r.logger.Warn("message router stop timed out")
	}

	r.private.Close()
	r.group.Close()
	r.system.Close()

	return nil
}

func (r *router) Buffers() Buffers {
	return Buffers{
		Private: r.private,
		Group:   r.group,
		System:  r.system,
	}
}

func (r *router) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return Stats{
		Received:    r.received,
		Routed:      r.routed,
		ParseErrors: r.parseErrors,
		Dropped:     r.dropped,
		Private:     r.private.Stats(),
		Group:       r.group.Stats(),
		System:      r.system.Stats(),
	}
}

// routeLoop runs until the input queue is closed and drained.
func (r *router) routeLoop() {
	defer r.wg.Done()

	for {
		raw, ok := r.input.Pop()
		if !ok {
			return
		}
		r.route(raw)
	}
}

func (r *router) route(raw connection.Message) {
	if raw.Binary {
		r.logger.Debug("skipping binary frame", "bytes", len(raw.Data))
		return
	}

	msg, err := model.Decode(raw.Data, raw.ReceivedAt)
	if err != nil {
		r.logger.Warn("failed to decode chat frame", "error", err)
		r.mu.Lock()
		r.parseErrors++
		r.mu.Unlock()
		return
	}

	var sent bool
	switch msg.Kind() {
	case model.KindPrivate:
		sent = r.private.Push(msg)
	case model.KindGroup:
		sent = r.group.Push(msg)
	default:
		sent = r.system.Push(msg)
	}

	r.mu.Lock()
	if sent {
		r.routed++
	} else {
		r.dropped++
	}
	r.mu.Unlock()
}
