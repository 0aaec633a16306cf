package poller

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Source is one thing worth sampling, such as a session or a queue.
type Source interface {
	Name() string
	Sample(ctx context.Context) (any, error)
}

type funcSource struct {
	name string
	fn   func(context.Context) (any, error)
}

func (s funcSource) Name() string { return s.name }

func (s funcSource) Sample(ctx context.Context) (any, error) { return s.fn(ctx) }

// NewSource adapts a function to a Source.
func NewSource(name string, fn func(context.Context) (any, error)) Source {
	return funcSource{name: name, fn: fn}
}

// Snapshot is the result of one poll cycle.
type Snapshot struct {
	Taken  time.Time
	Values map[string]any
	Errors map[string]error
}

// SnapshotHandler receives every snapshot.
type SnapshotHandler interface {
	HandleSnapshot(snapshot Snapshot) error
}

// SnapshotHandlerFunc is a function adapter for SnapshotHandler.
type SnapshotHandlerFunc func(Snapshot) error

func (f SnapshotHandlerFunc) HandleSnapshot(s Snapshot) error {
	return f(s)
}

// Config holds poller configuration.
type Config struct {
	Interval    time.Duration // Poll interval (default: 30s)
	Concurrency int           // Max concurrent samples (default: 4)
	Timeout     time.Duration // Per-sample timeout (default: 5s)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval:    30 * time.Second,
		Concurrency: 4,
		Timeout:     5 * time.Second,
	}
}

// Poller periodically samples its sources.
type Poller struct {
	cfg     Config
	sources []Source
	handler SnapshotHandler
	logger  *slog.Logger

	mu     sync.RWMutex
	latest Snapshot

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new Poller.
func New(cfg Config, sources []Source, handler SnapshotHandler, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	return &Poller{
		cfg:     cfg,
		sources: sources,
		handler: handler,
		logger:  logger.With("component", "poller"),
	}
}

// Start begins the polling loop.
func (p *Poller) Start(ctx context.Context) error {
	p.ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)
	go p.run()

	p.logger.Info("status poller started",
		"interval", p.cfg.Interval,
		"sources", len(p.sources),
	)

	return nil
}

// Stop gracefully shuts down the poller.
func (p *Poller) Stop(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("status poller stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Latest returns the most recent snapshot. Taken is zero before the first
// cycle completes.
func (p *Poller) Latest() Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.latest
}

func (p *Poller) run() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	// Poll immediately on start.
	p.pollAll()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.pollAll()
		}
	}
}

// pollAll samples every source, at most Concurrency at a time.
func (p *Poller) pollAll() {
	start := time.Now()

	snap := Snapshot{
		Taken:  start,
		Values: make(map[string]any, len(p.sources)),
		Errors: make(map[string]error),
	}
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(p.ctx)
	g.SetLimit(p.cfg.Concurrency)

	for _, src := range p.sources {
		g.Go(func() error {
			v, err := p.sample(ctx, src)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				snap.Errors[src.Name()] = err
				p.logger.Warn("failed to sample source",
					"source", src.Name(),
					"err", err,
				)
				return nil
			}
			snap.Values[src.Name()] = v
			return nil
		})
	}
	g.Wait()

	if p.ctx.Err() != nil {
		return
	}

	p.mu.Lock()
	p.latest = snap
	p.mu.Unlock()

	p.logger.Debug("poll cycle complete",
		"sampled", len(snap.Values),
		"errors", len(snap.Errors),
		"duration", time.Since(start),
	)

	if p.handler != nil {
		if err := p.handler.HandleSnapshot(snap); err != nil {
			p.logger.Warn("snapshot handler failed", "err", err)
		}
	}
}

func (p *Poller) sample(ctx context.Context, src Source) (any, error) {
	if p.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.Timeout)
		defer cancel()
	}
	return src.Sample(ctx)
}
