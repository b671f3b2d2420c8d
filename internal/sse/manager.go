package sse

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"schednotify/pkg/metrics"
)

// queueSize is the per-connection delivery buffer. A client that falls more
// than this far behind starts losing events; the pending-notification poll
// path is the recovery mechanism.
const queueSize = 64

// Event is one frame queued for a connection.
type Event struct {
	Name string
	Data any
}

// Connection is one live SSE stream for a user. Created on stream open,
// destroyed on disconnect, never persisted.
type Connection struct {
	id     string
	userID string
	ch     chan Event
}

func (c *Connection) UserID() string { return c.userID }

// Events is the queue the stream-serving edge drains.
func (c *Connection) Events() <-chan Event { return c.ch }

// Manager tracks live connections per user and fans published events out to
// every queue a user holds. A user may hold any number of simultaneous
// connections (multi-tab, multi-device).
type Manager struct {
	mu     sync.RWMutex
	conns  map[string]map[string]*Connection // user_id -> conn_id -> conn
	logger *zap.Logger
}

func NewManager(logger *zap.Logger) *Manager {
	return &Manager{
		conns:  make(map[string]map[string]*Connection),
		logger: logger,
	}
}

// Connect registers a new delivery queue for the user and returns it.
func (m *Manager) Connect(userID string) *Connection {
	conn := &Connection{
		id:     uuid.New().String(),
		userID: userID,
		ch:     make(chan Event, queueSize),
	}

	m.mu.Lock()
	if m.conns[userID] == nil {
		m.conns[userID] = make(map[string]*Connection)
	}
	m.conns[userID][conn.id] = conn
	m.mu.Unlock()

	metrics.SSEConnections.Inc()
	m.logger.Debug("SSE connection opened",
		zap.String("user_id", userID),
		zap.String("conn_id", conn.id),
	)
	return conn
}

// Disconnect removes exactly that connection from the registry. Safe to call
// more than once; other connections of the same user are unaffected.
func (m *Manager) Disconnect(conn *Connection) {
	m.mu.Lock()
	defer m.mu.Unlock()

	subs, ok := m.conns[conn.userID]
	if !ok {
		return
	}
	if _, exists := subs[conn.id]; !exists {
		return
	}

	delete(subs, conn.id)
	if len(subs) == 0 {
		delete(m.conns, conn.userID)
	}
	close(conn.ch)

	metrics.SSEConnections.Dec()
	m.logger.Debug("SSE connection closed",
		zap.String("user_id", conn.userID),
		zap.String("conn_id", conn.id),
	)
}

// Send enqueues an event onto every live queue the user holds. With no live
// queue this is a silent no-op: the event is neither requeued nor persisted
// here, because the poll path is the delivery backstop. Sends never block; a
// full queue drops the event for that connection only. The read lock is held
// across the sends so Disconnect cannot close a channel mid-fanout.
func (m *Manager) Send(userID, name string, data any) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, conn := range m.conns[userID] {
		select {
		case conn.ch <- Event{Name: name, Data: data}:
		default:
			metrics.SSEEventsDropped.Inc()
			m.logger.Warn("Dropped event for slow SSE connection",
				zap.String("user_id", userID),
				zap.String("conn_id", conn.id),
				zap.String("event", name),
			)
		}
	}
}

// ConnectionCount returns the total number of live connections.
func (m *Manager) ConnectionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	total := 0
	for _, subs := range m.conns {
		total += len(subs)
	}
	return total
}

// UserConnectionCount returns the number of live connections one user holds.
func (m *Manager) UserConnectionCount(userID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.conns[userID])
}
