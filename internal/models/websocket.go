package models

import (
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
)

// DashboardConnection represents a single dashboard WebSocket subscriber
// receiving cache change events.
type DashboardConnection struct {
	ConnID    string
	ClientIP  string
	Conn      *websocket.Conn
	CreatedAt time.Time
	WriteChan chan ChangeEvent
	StopChan  chan bool
	Mutex     sync.Mutex
	closed    bool
}

// SafeSend sends an event to WriteChan safely, returning false if the
// connection is closed. A slow subscriber drops the event instead of
// blocking the broadcaster.
func (dc *DashboardConnection) SafeSend(event ChangeEvent) bool {
	dc.Mutex.Lock()
	if dc.closed {
		dc.Mutex.Unlock()
		return false
	}
	dc.Mutex.Unlock()

	defer func() {
		if r := recover(); r != nil {
			// Channel was closed under us; mark the connection closed.
			dc.Mutex.Lock()
			dc.closed = true
			dc.Mutex.Unlock()
		}
	}()

	select {
	case dc.WriteChan <- event:
		return true
	default:
		return false
	}
}

// MarkClosed marks the connection as closed.
func (dc *DashboardConnection) MarkClosed() {
	dc.Mutex.Lock()
	dc.closed = true
	dc.Mutex.Unlock()
}

// IsClosed returns true if the connection has been marked as closed.
func (dc *DashboardConnection) IsClosed() bool {
	dc.Mutex.Lock()
	defer dc.Mutex.Unlock()
	return dc.closed
}
