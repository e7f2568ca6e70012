package emitter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Preview serves live telemetry over websocket for local debugging.
// Video frames go out as binary JPEG messages, faceData and blink lines as
// text messages. Slow clients are disconnected instead of buffered.
type Preview struct {
	addr     string
	server   *http.Server
	listener net.Listener
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*previewClient]bool
}

type previewClient struct {
	conn *websocket.Conn
	send chan previewMessage
}

type previewMessage struct {
	kind int
	data []byte
}

func newPreviewClient(conn *websocket.Conn) *previewClient {
	c := &previewClient{
		conn: conn,
		send: make(chan previewMessage, 16),
	}
	go c.writePump()
	return c
}

func (c *previewClient) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
		if err := c.conn.WriteMessage(msg.kind, msg.data); err != nil {
			return
		}
	}
}

// NewPreview creates a preview server for addr (host:port)
func NewPreview(addr string) *Preview {
	return &Preview{
		addr: addr,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*previewClient]bool),
	}
}

// Handler returns the HTTP handler, exposed for embedding and tests
func (p *Preview) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", p.handleWebSocket)
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "blinkd preview: connect a websocket to /ws\n")
	})
	return mux
}

// Start begins listening; it returns once the socket is bound
func (p *Preview) Start() error {
	ln, err := net.Listen("tcp", p.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", p.addr, err)
	}
	p.listener = ln
	p.server = &http.Server{
		Handler:           p.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := p.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("emitter: preview server error", "error", err)
		}
	}()

	slog.Info("emitter: preview server listening", "addr", ln.Addr().String())
	return nil
}

// Addr returns the bound address (useful with port 0)
func (p *Preview) Addr() string {
	if p.listener == nil {
		return p.addr
	}
	return p.listener.Addr().String()
}

// Stop shuts the server down and disconnects every client
func (p *Preview) Stop(ctx context.Context) error {
	p.mu.Lock()
	for c := range p.clients {
		delete(p.clients, c)
		close(c.send)
	}
	p.mu.Unlock()

	if p.server == nil {
		return nil
	}
	if err := p.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("preview shutdown error: %w", err)
	}
	slog.Info("emitter: preview server stopped")
	return nil
}

func (p *Preview) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := p.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("emitter: preview upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	c := newPreviewClient(conn)
	p.mu.Lock()
	p.clients[c] = true
	p.mu.Unlock()
	slog.Debug("emitter: preview client connected", "remote", r.RemoteAddr)

	// Reads only detect the close; the preview is one-way
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	p.removeClient(c)
	slog.Debug("emitter: preview client disconnected", "remote", r.RemoteAddr)
}

func (p *Preview) removeClient(c *previewClient) {
	p.mu.Lock()
	if _, ok := p.clients[c]; ok {
		delete(p.clients, c)
		close(c.send)
	}
	p.mu.Unlock()
}

// Mirror forwards video frames, face data and blink events to connected clients
func (p *Preview) Mirror(msg Message, line []byte) {
	var out previewMessage
	switch m := msg.(type) {
	case VideoFrame:
		out = previewMessage{kind: websocket.BinaryMessage, data: m.JPEG}
	case FaceData, Blink:
		out = previewMessage{kind: websocket.TextMessage, data: line}
	default:
		return
	}

	p.mu.RLock()
	var slow []*previewClient
	for c := range p.clients {
		select {
		case c.send <- out:
		default:
			slow = append(slow, c)
		}
	}
	p.mu.RUnlock()

	for _, c := range slow {
		slog.Debug("emitter: preview client too slow, disconnecting")
		p.removeClient(c)
	}
}

// ClientCount returns the number of connected clients
func (p *Preview) ClientCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.clients)
}
