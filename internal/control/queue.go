package control

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
)

// DefaultQueueSize bounds the number of lines waiting for the next drain
const DefaultQueueSize = 64

// maxLineBytes bounds a single control line
const maxLineBytes = 1 << 20

// Queue carries raw command lines from producers to the session loop.
// Any number of producers may push; only the session loop drains.
type Queue struct {
	lines   chan string
	dropped atomic.Uint64
}

// NewQueue creates a queue with the given capacity
func NewQueue(size int) *Queue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Queue{lines: make(chan string, size)}
}

// Push blocks until the line is queued or ctx is done
func (q *Queue) Push(ctx context.Context, line string) error {
	select {
	case q.lines <- line:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryPush queues the line without blocking, dropping it when the queue is full
func (q *Queue) TryPush(line string) bool {
	select {
	case q.lines <- line:
		return true
	default:
		q.dropped.Add(1)
		return false
	}
}

// Drain returns every line queued right now, in arrival order. It never blocks.
func (q *Queue) Drain() []string {
	var out []string
	for {
		select {
		case line := <-q.lines:
			out = append(out, line)
		default:
			return out
		}
	}
}

// Dropped returns how many lines TryPush discarded
func (q *Queue) Dropped() uint64 {
	return q.dropped.Load()
}

// Listener reads newline-delimited commands from a reader into a Queue
type Listener struct {
	queue *Queue
	done  chan struct{}
	err   error
	lines atomic.Uint64
}

// Listen starts a goroutine that pushes every non-empty line of r onto q.
// The goroutine exits on EOF, on a read error, or when ctx is done and it
// next gets a chance to push.
func Listen(ctx context.Context, r io.Reader, q *Queue) *Listener {
	l := &Listener{queue: q, done: make(chan struct{})}
	go l.run(ctx, r)
	return l
}

func (l *Listener) run(ctx context.Context, r io.Reader) {
	defer close(l.done)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), maxLineBytes)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := l.queue.Push(ctx, line); err != nil {
			return
		}
		l.lines.Add(1)
	}

	if err := scanner.Err(); err != nil && !errors.Is(err, io.ErrClosedPipe) {
		l.err = err
		slog.Error("control: error reading commands", "error", err)
		return
	}
	slog.Debug("control: command input closed", "lines", l.lines.Load())
}

// Done is closed when the input is exhausted
func (l *Listener) Done() <-chan struct{} {
	return l.done
}

// Err returns the read error that stopped the listener, if any.
// Only valid after Done is closed.
func (l *Listener) Err() error {
	return l.err
}

// Lines returns how many lines were queued
func (l *Listener) Lines() uint64 {
	return l.lines.Load()
}
