package services

import (
	"log"
	"sync"

	"mockpit/internal/models"
)

// ConnectionManager manages all active dashboard WebSocket connections and
// fans cache change events out to them.
type ConnectionManager struct {
	connections map[string]*models.DashboardConnection
	mutex       sync.RWMutex
}

// NewConnectionManager creates a new connection manager
func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{
		connections: make(map[string]*models.DashboardConnection),
	}
}

// Add adds a new connection
func (cm *ConnectionManager) Add(conn *models.DashboardConnection) {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()
	cm.connections[conn.ConnID] = conn
	log.Printf("✅ Connection added: %s (Total: %d)", conn.ConnID, len(cm.connections))
}

// Remove removes a connection
func (cm *ConnectionManager) Remove(connID string) {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()
	if conn, exists := cm.connections[connID]; exists {
		conn.MarkClosed()
		close(conn.WriteChan)
		close(conn.StopChan)
		delete(cm.connections, connID)
		log.Printf("❌ Connection removed: %s (Total: %d)", connID, len(cm.connections))
	}
}

// Get retrieves a connection by ID
func (cm *ConnectionManager) Get(connID string) (*models.DashboardConnection, bool) {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()
	conn, exists := cm.connections[connID]
	return conn, exists
}

// Count returns the number of active connections
func (cm *ConnectionManager) Count() int {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()
	return len(cm.connections)
}

// BroadcastChange delivers a cache change event to every subscriber. Slow
// or closed connections are skipped, never waited on.
func (cm *ConnectionManager) BroadcastChange(event models.ChangeEvent) {
	cm.mutex.RLock()
	conns := make([]*models.DashboardConnection, 0, len(cm.connections))
	for _, conn := range cm.connections {
		conns = append(conns, conn)
	}
	cm.mutex.RUnlock()

	for _, conn := range conns {
		conn.SafeSend(event)
	}
	if m := GetMetrics(); m != nil {
		m.RecordChangeEvent(event.Kind)
	}
}
