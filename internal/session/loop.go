package session

import (
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/rickgao/imsession/internal/inbox"
)

// loop runs closures one at a time on a single goroutine, in FIFO order.
type loop struct {
	name   string
	logger *slog.Logger
	queue  *inbox.Queue[func()]
	done   chan struct{}
}

func newLoop(name string, logger *slog.Logger) *loop {
	l := &loop{
		name:   name,
		logger: logger,
		queue:  inbox.New[func()](64),
		done:   make(chan struct{}),
	}
	go l.run()
	return l
}

func (l *loop) run() {
	defer close(l.done)
	for {
		fn, ok := l.queue.Pop()
		if !ok {
			return
		}
		l.call(fn)
	}
}

func (l *loop) call(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("panic in "+l.name,
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()),
			)
		}
	}()
	fn()
}

// post queues fn. It reports false once the loop is stopped.
func (l *loop) post(fn func()) bool {
	return l.queue.Push(fn)
}

// do runs fn on the loop and waits for it to return. It must not be called
// from the loop goroutine.
func (l *loop) do(fn func()) error {
	finished := make(chan struct{})
	if !l.post(func() {
		defer close(finished)
		fn()
	}) {
		return ErrShutdown
	}
	<-finished
	return nil
}

// stop refuses new work, runs what is already queued, and waits for the
// goroutine to exit.
func (l *loop) stop() {
	l.queue.Close()
	<-l.done
}
