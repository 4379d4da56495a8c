// Package gateway handles WebSocket connection management: upgrading and
// authenticating HTTP connections, maintaining live transport state, and
// dispatching incoming frames to the session layer.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"

	"github.com/dressly/chat-service/internal/auth"
	"github.com/dressly/chat-service/internal/metrics"
	"github.com/dressly/chat-service/internal/protocol"
)

// ServerConfig holds tunable parameters for the WebSocket server.
type ServerConfig struct {
	ListenAddr     string        // address to listen on, e.g. ":8080"
	WorkerPoolSize int           // max concurrent read-worker goroutines
	MaxConnections int           // hard cap on total connections
	ReadTimeout    time.Duration // timeout for WebSocket read operations
	WriteTimeout   time.Duration // timeout for WebSocket write operations
}

// DefaultServerConfig returns a ServerConfig with sensible production defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		ListenAddr:     ":8080",
		WorkerPoolSize: 256,
		MaxConnections: 100000,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
	}
}

// Server is the WebSocket transport built on gobwas/ws and Linux epoll. It
// upgrades HTTP connections, authenticates them against a JWT verifier,
// registers them with the poller for I/O readiness notifications, and
// dispatches ready connections to a bounded worker pool for frame reading.
//
// The server knows nothing about conversations; the session layer attaches
// behavior through the OnConnect, OnMessage and OnDisconnect callbacks.
type Server struct {
	config       ServerConfig
	verifier     *auth.Verifier
	poller       *Poller
	conns        *Manager
	workerPool   chan struct{} // semaphore limiting concurrent read workers
	onConnect    func(conn *Connection)
	onMessage    func(conn *Connection, data []byte)
	onDisconnect func(connID string)
	onHeartbeat  func(conn *Connection)
	httpServer   *http.Server
	extraRoutes  func(mux *http.ServeMux)
	bufPool      sync.Pool
	done         chan struct{}
	startedAt    time.Time
}

// NewServer creates a Server with the given configuration and JWT verifier.
func NewServer(config ServerConfig, verifier *auth.Verifier) *Server {
	return &Server{
		config:     config,
		verifier:   verifier,
		conns:      NewManager(),
		workerPool: make(chan struct{}, config.WorkerPoolSize),
		done:       make(chan struct{}),
		bufPool: sync.Pool{
			New: func() interface{} {
				buf := make([]byte, 4096)
				return &buf
			},
		},
	}
}

// SetOnConnect registers a callback invoked once a connection has been
// authenticated and registered with the transport.
func (s *Server) SetOnConnect(fn func(conn *Connection)) {
	s.onConnect = fn
}

// SetOnMessage registers the callback invoked from a worker goroutine
// whenever a complete WebSocket text frame is received from a client.
func (s *Server) SetOnMessage(fn func(conn *Connection, data []byte)) {
	s.onMessage = fn
}

// SetOnHeartbeat registers a callback invoked for each connection that
// survives a heartbeat sweep, for refreshing external liveness state.
func (s *Server) SetOnHeartbeat(fn func(conn *Connection)) {
	s.onHeartbeat = fn
}

// SetOnDisconnect registers a callback invoked when a connection is removed
// due to read error, heartbeat timeout, or graceful close.
func (s *Server) SetOnDisconnect(fn func(connID string)) {
	s.onDisconnect = fn
}

// SetExtraRoutes registers additional HTTP routes (the REST API, metrics)
// on the same listener.
func (s *Server) SetExtraRoutes(fn func(mux *http.ServeMux)) {
	s.extraRoutes = fn
}

// Start initializes the poller, configures the HTTP server, and begins
// accepting WebSocket connections. It starts the event loop in a background
// goroutine and blocks on http.Server.ListenAndServe.
func (s *Server) Start() error {
	var err error
	s.poller, err = NewPoller()
	if err != nil {
		return fmt.Errorf("gateway: failed to create poller: %w", err)
	}

	s.startedAt = time.Now()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleUpgrade)
	mux.HandleFunc("/health", s.handleHealth)
	if s.extraRoutes != nil {
		s.extraRoutes(mux)
	}

	s.httpServer = &http.Server{
		Addr:    s.config.ListenAddr,
		Handler: mux,
	}

	go s.startEventLoop()

	StartHeartbeat(s, DefaultHeartbeatConfig())

	log.Printf("gateway: server listening on %s (workers=%d, max_conns=%d)",
		s.config.ListenAddr, s.config.WorkerPoolSize, s.config.MaxConnections)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("gateway: http server error: %w", err)
	}
	return nil
}

// TokenFromRequest extracts the client's JWT from the upgrade request: the
// "token" query parameter first, then a Bearer Authorization header.
func TokenFromRequest(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return ""
}

// handleUpgrade upgrades an HTTP request to a WebSocket connection and
// authenticates it. Authentication failures are reported over the socket
// as an error event before closing, so browser clients can read the code.
func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	if s.conns.Count() >= s.config.MaxConnections {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	token := TokenFromRequest(r)

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		log.Printf("gateway: upgrade failed: %v", err)
		return
	}

	if token == "" {
		s.rejectConn(conn, "Authentication token required", protocol.CodeNoToken)
		return
	}
	userID, err := s.verifier.Verify(token)
	if err != nil {
		log.Printf("gateway: auth failed: %v", err)
		s.rejectConn(conn, "Authentication failed", protocol.CodeAuthFailed)
		return
	}

	fd := socketFD(conn)
	c := &Connection{
		ID:        uuid.New().String(),
		UserID:    userID,
		Conn:      conn,
		Fd:        fd,
		CreatedAt: time.Now(),
		LastPing:  time.Now(),
	}

	s.conns.Add(c)
	if err := s.poller.Add(conn); err != nil {
		log.Printf("gateway: poller add failed conn=%s: %v", c.ID, err)
		s.conns.Remove(c.ID)
		return
	}
	metrics.ConnectionsTotal.Inc()

	if s.onConnect != nil {
		s.onConnect(c)
	}

	log.Printf("gateway: new connection conn=%s user=%s fd=%d (total=%d)",
		c.ID, userID, fd, s.conns.Count())
}

// rejectConn delivers an authentication error event over the fresh socket
// and closes it. The connection never reaches the manager or poller.
func (s *Server) rejectConn(conn net.Conn, message, code string) {
	data, err := protocol.NewServerEvent(protocol.TypeError, protocol.ErrorEvt{
		Message: message,
		Code:    code,
	})
	if err == nil {
		_ = wsutil.WriteServerMessage(conn, ws.OpText, data)
	}
	conn.Close()
}

// handleHealth responds with the server's health status as JSON, including
// the current connection count and uptime. Load balancers poll it.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	resp := struct {
		Status      string `json:"status"`
		Connections int    `json:"connections"`
		Uptime      string `json:"uptime"`
	}{
		Status:      "ok",
		Connections: s.conns.Count(),
		Uptime:      time.Since(s.startedAt).Round(time.Second).String(),
	}

	_ = json.NewEncoder(w).Encode(resp)
}

// startEventLoop runs the poller wait loop. For each batch of ready
// connections, it dispatches each to a worker goroutine (bounded by the
// worker pool semaphore) that reads and processes the WebSocket frame.
func (s *Server) startEventLoop() {
	for {
		select {
		case <-s.done:
			return
		default:
		}

		conns, err := s.poller.Wait()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
				// EINTR is expected during signal handling.
				if isEINTR(err) {
					continue
				}
				log.Printf("gateway: poller wait error: %v", err)
				continue
			}
		}

		for _, conn := range conns {
			conn := conn // capture for goroutine

			s.workerPool <- struct{}{}

			go func() {
				defer func() { <-s.workerPool }()
				s.handleConn(conn)
			}()
		}
	}
}

// handleConn reads a single WebSocket frame from a ready connection using
// wsutil.NextReader so that control frames (ping, pong) are handled without
// blocking on a data frame that may never arrive. If the read fails the
// connection is removed from the poller and the manager.
func (s *Server) handleConn(netConn net.Conn) {
	c := s.conns.GetByConn(netConn)
	if c == nil {
		return
	}

	// Guard against duplicate dispatch from level-triggered epoll.
	if !atomic.CompareAndSwapInt32(&c.processing, 0, 1) {
		return
	}
	defer atomic.StoreInt32(&c.processing, 0)

	if s.config.ReadTimeout > 0 {
		_ = netConn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
	}

	header, reader, err := wsutil.NextReader(netConn, ws.StateServerSide)
	if err != nil {
		// A read timeout means no data was available (stale poller
		// dispatch). The heartbeat handles dead connections.
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			return
		}
		s.RemoveConnection(c)
		return
	}

	_ = netConn.SetReadDeadline(time.Time{})

	// Any frame proves the connection is alive.
	c.LastPing = time.Now()

	// Handle control frames without removing the connection.
	if header.OpCode.IsControl() {
		if header.OpCode == ws.OpClose {
			s.RemoveConnection(c)
		}
		return
	}

	data := make([]byte, header.Length)
	if header.Length > 0 {
		_, err = io.ReadFull(reader, data)
		if err != nil {
			s.RemoveConnection(c)
			return
		}
	}

	if len(data) == 0 {
		return
	}

	if s.onMessage != nil {
		s.onMessage(c, data)
	}
}

// RemoveConnection removes a connection from both the poller and the
// manager, and closes the underlying network connection. It is exported so
// that the heartbeat monitor can evict dead connections.
func (s *Server) RemoveConnection(c *Connection) {
	_ = s.poller.Remove(c.Conn)

	// Only proceed if the connection was actually in the manager. This
	// prevents double cleanup when multiple goroutines race to remove the
	// same connection (read error + heartbeat timeout).
	if !s.conns.Remove(c.ID) {
		return
	}
	metrics.ConnectionsTotal.Dec()

	if s.onDisconnect != nil {
		s.onDisconnect(c.ID)
	}

	log.Printf("gateway: connection closed conn=%s user=%s (total=%d)",
		c.ID, c.UserID, s.conns.Count())
}

// Connections returns the Manager for external access to transport state.
func (s *Server) Connections() *Manager {
	return s.conns
}

// StartedAt returns the server start time for uptime reporting.
func (s *Server) StartedAt() time.Time {
	return s.startedAt
}

// Shutdown performs a graceful shutdown: it stops the HTTP listener, signals
// the event loop to exit, closes all active connections, and tears down the
// poller.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Println("gateway: shutting down server...")

	close(s.done)

	if err := s.httpServer.Shutdown(ctx); err != nil {
		log.Printf("gateway: http shutdown error: %v", err)
	}

	for _, c := range s.conns.All() {
		_ = s.poller.Remove(c.Conn)
		s.conns.Remove(c.ID)
	}

	if s.poller != nil {
		_ = s.poller.Close()
	}

	log.Printf("gateway: server stopped, all connections closed")
	return nil
}

// isEINTR checks if the error is a syscall interrupted error (EINTR),
// which is expected during signal handling and should be retried.
func isEINTR(err error) bool {
	if err == nil {
		return false
	}
	return err.Error() == "interrupted system call" ||
		err.Error() == "errno 4"
}
