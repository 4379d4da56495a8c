package gateway

import (
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// Connection represents a single authenticated WebSocket client connection
// with its associated metadata and a write mutex for serializing outbound
// frames.
type Connection struct {
	ID         string    // connection ID (UUID)
	UserID     string    // authenticated user
	Conn       net.Conn  // underlying TCP connection
	Fd         int       // file descriptor for poller lookups
	CreatedAt  time.Time // when the connection was established
	LastPing   time.Time  // last activity observed from the client
	writeMu    sync.Mutex // serializes writes to this connection
	processing int32      // atomic flag: 0 = idle, 1 = being read by handleConn
}

// Send writes a WebSocket text frame to this connection. The write mutex
// ensures that concurrent goroutines do not interleave frame bytes.
func (c *Connection) Send(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return wsutil.WriteServerMessage(c.Conn, ws.OpText, data)
}

// Close closes the underlying network connection.
func (c *Connection) Close() error {
	return c.Conn.Close()
}

// WritePing sends a WebSocket protocol-level ping frame (opcode 0x9) on the
// connection. The write mutex ensures this does not interleave with other
// outbound frames.
func (c *Connection) WritePing() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return ws.WriteFrame(c.Conn, ws.NewPingFrame(nil))
}

// Manager is a thread-safe map of live transport connections, keyed by both
// connection ID and file descriptor for O(1) lookups from either direction.
type Manager struct {
	mu   sync.RWMutex
	byID map[string]*Connection
	byFd map[int]*Connection
}

// NewManager creates an empty Manager ready for use.
func NewManager() *Manager {
	return &Manager{
		byID: make(map[string]*Connection),
		byFd: make(map[int]*Connection),
	}
}

// Add registers a new connection in both lookup maps.
func (m *Manager) Add(conn *Connection) {
	m.mu.Lock()
	m.byID[conn.ID] = conn
	m.byFd[conn.Fd] = conn
	m.mu.Unlock()
}

// Remove removes a connection by ID, closes the underlying network
// connection, and removes it from both lookup maps. Returns true if the
// connection was found and removed, false if it was already gone.
func (m *Manager) Remove(id string) bool {
	m.mu.Lock()
	conn, ok := m.byID[id]
	if ok {
		delete(m.byID, id)
		delete(m.byFd, conn.Fd)
	}
	m.mu.Unlock()

	if ok {
		conn.Close()
	}
	return ok
}

// Get returns the connection for the given ID, or nil if not found.
func (m *Manager) Get(id string) *Connection {
	m.mu.RLock()
	conn := m.byID[id]
	m.mu.RUnlock()
	return conn
}

// GetByFd returns the connection for the given file descriptor, or nil if
// not found.
func (m *Manager) GetByFd(fd int) *Connection {
	m.mu.RLock()
	conn := m.byFd[fd]
	m.mu.RUnlock()
	return conn
}

// GetByConn returns the connection for the given net.Conn by extracting
// its file descriptor. Returns nil if not found.
func (m *Manager) GetByConn(c net.Conn) *Connection {
	return m.GetByFd(socketFD(c))
}

// Count returns the current number of live transport connections.
func (m *Manager) Count() int {
	m.mu.RLock()
	n := len(m.byID)
	m.mu.RUnlock()
	return n
}

// All returns a snapshot of all current connections. The returned slice is
// safe to iterate without holding the lock.
func (m *Manager) All() []*Connection {
	m.mu.RLock()
	conns := make([]*Connection, 0, len(m.byID))
	for _, conn := range m.byID {
		conns = append(conns, conn)
	}
	m.mu.RUnlock()
	return conns
}
