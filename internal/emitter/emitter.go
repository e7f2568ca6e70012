// Package emitter writes the line-delimited JSON telemetry protocol.
//
// Every message is one JSON object with exactly one top-level key, written
// and flushed immediately. Mirrors get a copy of each line for secondary
// sinks (MQTT, websocket preview) and must never block the caller.
package emitter

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// Mirror receives a copy of every emitted message
type Mirror interface {
	Mirror(msg Message, line []byte)
}

// Emitter writes protocol messages to the host
type Emitter struct {
	mu      sync.Mutex
	w       *bufio.Writer
	mirrors []Mirror

	sent   map[string]uint64
	errors uint64
}

// Stats contains emitter statistics
type Stats struct {
	Sent   map[string]uint64 // count per message key
	Errors uint64
}

// New creates an emitter writing to w
func New(w io.Writer, mirrors ...Mirror) *Emitter {
	return &Emitter{
		w:       bufio.NewWriter(w),
		mirrors: mirrors,
		sent:    make(map[string]uint64),
	}
}

// AddMirror attaches a secondary sink
func (e *Emitter) AddMirror(m Mirror) {
	e.mu.Lock()
	e.mirrors = append(e.mirrors, m)
	e.mu.Unlock()
}

// Emit writes one message as a line and flushes it
func (e *Emitter) Emit(msg Message) error {
	line, err := Marshal(msg)
	if err != nil {
		e.countError()
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, err := e.w.Write(line); err != nil {
		e.errors++
		return fmt.Errorf("failed to write %s message: %w", msg.Key(), err)
	}
	if err := e.w.WriteByte('\n'); err != nil {
		e.errors++
		return fmt.Errorf("failed to write %s message: %w", msg.Key(), err)
	}
	if err := e.w.Flush(); err != nil {
		e.errors++
		return fmt.Errorf("failed to flush %s message: %w", msg.Key(), err)
	}
	e.sent[msg.Key()]++

	for _, m := range e.mirrors {
		m.Mirror(msg, line)
	}
	return nil
}

// Statusf emits a status message
func (e *Emitter) Statusf(format string, args ...any) {
	e.emitLogged(Status{Text: fmt.Sprintf(format, args...)})
}

// Debugf emits a debug message
func (e *Emitter) Debugf(format string, args ...any) {
	e.emitLogged(Debug{Text: fmt.Sprintf(format, args...)})
}

// Errorf emits an error message
func (e *Emitter) Errorf(format string, args ...any) {
	e.emitLogged(Error{Text: fmt.Sprintf(format, args...)})
}

// emitLogged is for fire-and-forget messages: a write failure is logged
// and the caller continues
func (e *Emitter) emitLogged(msg Message) {
	if err := e.Emit(msg); err != nil {
		slog.Error("emitter: failed to emit message", "key", msg.Key(), "error", err)
	}
}

// Stats returns emitter statistics
func (e *Emitter) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()

	sent := make(map[string]uint64, len(e.sent))
	for k, v := range e.sent {
		sent[k] = v
	}
	return Stats{Sent: sent, Errors: e.errors}
}

func (e *Emitter) countError() {
	e.mu.Lock()
	e.errors++
	e.mu.Unlock()
}
