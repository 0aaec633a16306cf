package journal

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/rickgao/imsession/internal/connection"
)

// fakeCopier records every COPY it receives.
type fakeCopier struct {
	mu     sync.Mutex
	table  pgx.Identifier
	cols   []string
	rows   [][]any
	copies int
	err    error
}

func (f *fakeCopier) CopyFrom(_ context.Context, table pgx.Identifier, cols []string, src pgx.CopyFromSource) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.err != nil {
		return 0, f.err
	}
	f.table, f.cols = table, cols
	f.copies++

	var n int64
	for src.Next() {
		vals, err := src.Values()
		if err != nil {
			return n, err
		}
		f.rows = append(f.rows, vals)
		n++
	}
	return n, src.Err()
}

func (f *fakeCopier) rowCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rows)
}

func transition(from, to connection.State, reason string, attempts int) connection.Transition {
	return connection.Transition{
		From:     from,
		To:       to,
		Reason:   reason,
		At:       time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Metadata: connection.Metadata{ReconnectAttempts: attempts},
	}
}

func TestWriter_Transform(t *testing.T) {
	r := transform(transition(connection.Connected, connection.Reconnecting, "1006", 3))

	if r.ID == uuid.Nil {
		t.Error("ID should be set")
	}
	if r.From != "connected" || r.To != "reconnecting" {
		t.Errorf("from/to = %s/%s, want connected/reconnecting", r.From, r.To)
	}
	if r.Reason != "1006" {
		t.Errorf("Reason = %q, want 1006", r.Reason)
	}
	if r.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", r.Attempts)
	}
}

func TestWriter_FlushOnBatchSize(t *testing.T) {
	db := &fakeCopier{}
	sessionID := uuid.New()
	w := NewWriter(Config{BatchSize: 2, FlushInterval: time.Hour}, db, sessionID, "client-a", nil)

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer w.Stop(context.Background())

	w.Record(transition(connection.Disconnected, connection.Connecting, "connect", 0))
	w.Record(transition(connection.Connecting, connection.Connected, "open", 0))

	deadline := time.Now().Add(time.Second)
	for db.rowCount() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := db.rowCount(); got != 2 {
		t.Fatalf("rows = %d, want 2", got)
	}

	db.mu.Lock()
	defer db.mu.Unlock()
	if db.table[0] != "im_connection_transitions" {
		t.Errorf("table = %v", db.table)
	}
	if len(db.cols) != 8 {
		t.Errorf("columns = %v", db.cols)
	}
	first := db.rows[0]
	if first[1] != sessionID || first[2] != "client-a" || first[4] != "connecting" {
		t.Errorf("first row = %v", first)
	}
}

func TestWriter_StopFlushesRemainder(t *testing.T) {
	db := &fakeCopier{}
	w := NewWriter(Config{BatchSize: 100, FlushInterval: time.Hour}, db, uuid.New(), "client-a", nil)

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	for i := 0; i < 5; i++ {
		w.Record(transition(connection.Connected, connection.Disconnected, "drop", i))
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := w.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	if got := db.rowCount(); got != 5 {
		t.Errorf("rows after Stop = %d, want 5", got)
	}
	stats := w.Stats()
	if stats.Recorded != 5 || stats.Inserts != 5 {
		t.Errorf("stats = %+v", stats)
	}

	w.Record(transition(connection.Disconnected, connection.Connecting, "late", 0))
	if got := w.Stats().Dropped; got != 1 {
		t.Errorf("Dropped = %d, want 1", got)
	}
}

func TestWriter_FlushInterval(t *testing.T) {
	db := &fakeCopier{}
	w := NewWriter(Config{BatchSize: 100, FlushInterval: 20 * time.Millisecond}, db, uuid.New(), "client-a", nil)

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer w.Stop(context.Background())

	w.Record(transition(connection.Disconnected, connection.Connecting, "connect", 0))

	deadline := time.Now().Add(time.Second)
	for db.rowCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if db.rowCount() != 1 {
		t.Error("interval flush did not write the pending row")
	}
}

func TestWriter_CopyError(t *testing.T) {
	db := &fakeCopier{err: errors.New("relation does not exist")}
	w := NewWriter(Config{BatchSize: 1, FlushInterval: time.Hour}, db, uuid.New(), "client-a", nil)

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	w.Record(transition(connection.Disconnected, connection.Connecting, "connect", 0))
	w.Stop(context.Background())

	if got := w.Stats().Errors; got != 1 {
		t.Errorf("Errors = %d, want 1", got)
	}
}

func TestWriter_BufferLimit(t *testing.T) {
	w := NewWriter(Config{BatchSize: 10, FlushInterval: time.Hour, BufferSize: 2}, &fakeCopier{}, uuid.New(), "client-a", nil)

	// not started: nothing consumes
	for i := 0; i < 4; i++ {
		w.Record(transition(connection.Disconnected, connection.Connecting, "connect", 0))
	}

	stats := w.Stats()
	if stats.Recorded != 2 || stats.Dropped != 2 {
		t.Errorf("stats = %+v, want 2 recorded and 2 dropped", stats)
	}
}
