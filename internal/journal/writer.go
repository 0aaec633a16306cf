package journal

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/rickgao/imsession/internal/connection"
	"github.com/rickgao/imsession/internal/database"
	"github.com/rickgao/imsession/internal/inbox"
)

// Config holds batching settings.
type Config struct {
	BatchSize     int
	FlushInterval time.Duration
	BufferSize    int // pending transitions beyond this are dropped
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:     100,
		FlushInterval: 2 * time.Second,
		BufferSize:    1000,
	}
}

// Copier is the subset of pgxpool.Pool used for bulk inserts.
type Copier interface {
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// Metrics tracks writer activity.
type Metrics struct {
	Recorded int64
	Dropped  int64
	Inserts  int64
	Errors   int64
	Flushes  int64
}

var columns = []string{
	"id", "session_id", "instance_id", "from_state", "to_state", "reason", "attempts", "at",
}

type row struct {
	ID       uuid.UUID
	From     string
	To       string
	Reason   string
	Attempts int
	At       time.Time
}

// Writer consumes transitions and writes them in batches.
type Writer struct {
	cfg        Config
	logger     *slog.Logger
	db         Copier
	sessionID  uuid.UUID
	instanceID string

	input *inbox.Queue[connection.Transition]

	// Batching
	batch       []row
	batchMu     sync.Mutex
	flushTicker *time.Ticker

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	metrics Metrics
}

// NewWriter creates a writer for one session.
func NewWriter(cfg Config, db Copier, sessionID uuid.UUID, instanceID string, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultConfig().FlushInterval
	}
	return &Writer{
		cfg:        cfg,
		logger:     logger.With("component", "journal"),
		db:         db,
		sessionID:  sessionID,
		instanceID: instanceID,
		input:      inbox.New[connection.Transition](cfg.BatchSize),
		batch:      make([]row, 0, cfg.BatchSize),
	}
}

// Record queues a transition. It never blocks; transitions arriving while
// the buffer is full or after Stop are counted as dropped.
func (w *Writer) Record(tr connection.Transition) {
	if w.cfg.BufferSize > 0 && w.input.Len() >= w.cfg.BufferSize {
		w.countDrop()
		return
	}
	if !w.input.Push(tr) {
		w.countDrop()
		return
	}
	w.batchMu.Lock()
	w.metrics.Recorded++
	w.batchMu.Unlock()
}

func (w *Writer) countDrop() {
	w.batchMu.Lock()
	w.metrics.Dropped++
	w.batchMu.Unlock()
}

// Start begins consuming transitions and writing to the database.
func (w *Writer) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.flushTicker = time.NewTicker(w.cfg.FlushInterval)

	w.wg.Add(1)
	go w.consumeLoop()

	w.wg.Add(1)
	go w.flushLoop()

	w.logger.Info("journal writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
		"session_id", w.sessionID,
	)
	return nil
}

// Stop drains queued transitions, flushes, and shuts down.
func (w *Writer) Stop(ctx context.Context) error {
	w.logger.Info("stopping journal writer")

	// Both loops exit once the closed queue is drained.
	w.input.Close()
	if w.flushTicker != nil {
		w.flushTicker.Stop()
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		w.logger.Warn("journal writer stop timed out")
	}

	if w.cancel != nil {
		w.cancel()
	}

	// Final flush
	w.flush(ctx)
	w.logger.Info("journal writer stopped")
	return nil
}

// Stats returns current metrics.
func (w *Writer) Stats() Metrics {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	return w.metrics
}

func (w *Writer) consumeLoop() {
	defer w.wg.Done()

	for {
		tr, ok := w.input.Pop()
		if !ok {
			return
		}
		w.handle(tr)
	}
}

func (w *Writer) flushLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-w.input.Done():
			return
		case <-w.flushTicker.C:
			w.flush(w.ctx)
		}
	}
}

// handle transforms and adds a transition to the batch.
func (w *Writer) handle(tr connection.Transition) {
	r := transform(tr)

	w.batchMu.Lock()
	w.batch = append(w.batch, r)
	shouldFlush := len(w.batch) >= w.cfg.BatchSize
	w.batchMu.Unlock()

	if shouldFlush {
		w.flush(w.ctx)
	}
}

func transform(tr connection.Transition) row {
	return row{
		ID:       uuid.New(),
		From:     tr.From.String(),
		To:       tr.To.String(),
		Reason:   tr.Reason,
		Attempts: tr.Metadata.ReconnectAttempts,
		At:       tr.At,
	}
}

// flush writes the current batch to the database.
func (w *Writer) flush(ctx context.Context) {
	w.batchMu.Lock()
	if len(w.batch) == 0 {
		w.batchMu.Unlock()
		return
	}

	// Take ownership of current batch
	batch := w.batch
	w.batch = make([]row, 0, w.cfg.BatchSize)
	w.batchMu.Unlock()

	if ctx == nil || ctx.Err() != nil {
		ctx = context.Background()
	}

	start := time.Now()
	n, err := w.copy(ctx, batch)
	if err != nil {
		w.logger.Error("journal copy failed", "error", err, "count", len(batch))
		w.batchMu.Lock()
		w.metrics.Errors++
		w.batchMu.Unlock()
		return
	}

	w.batchMu.Lock()
	w.metrics.Inserts += n
	w.metrics.Flushes++
	w.batchMu.Unlock()

	w.logger.Debug("flushed transitions",
		"count", n,
		"duration", time.Since(start),
	)
}

func (w *Writer) copy(ctx context.Context, rows []row) (int64, error) {
	return w.db.CopyFrom(ctx,
		pgx.Identifier{database.TransitionsTable},
		columns,
		pgx.CopyFromSlice(len(rows), func(i int) ([]any, error) {
			r := rows[i]
			return []any{r.ID, w.sessionID, w.instanceID, r.From, r.To, r.Reason, r.Attempts, r.At}, nil
		}),
	)
}
