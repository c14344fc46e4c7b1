package handlers

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"

	"mockpit/internal/cache"
	"mockpit/internal/models"
	"mockpit/internal/services"
)

// WebSocketHandler serves the dashboard change feed. Every cache change is
// pushed to subscribers so the mapping list re-renders without polling.
type WebSocketHandler struct {
	connManager *services.ConnectionManager
	engine      *cache.Engine
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(connManager *services.ConnectionManager, engine *cache.Engine) *WebSocketHandler {
	return &WebSocketHandler{
		connManager: connManager,
		engine:      engine,
	}
}

// Handle handles a new WebSocket connection
func (h *WebSocketHandler) Handle(c *websocket.Conn) {
	connID := uuid.New().String()
	clientIP, _ := c.Locals("client_ip").(string)

	done := make(chan struct{})

	conn := &models.DashboardConnection{
		ConnID:    connID,
		ClientIP:  clientIP,
		Conn:      c,
		CreatedAt: time.Now(),
		WriteChan: make(chan models.ChangeEvent, 64),
		StopChan:  make(chan bool, 1),
	}

	h.connManager.Add(conn)
	if m := services.GetMetrics(); m != nil {
		m.RecordWebSocketConnect()
	}
	defer func() {
		close(done)
		h.connManager.Remove(connID)
		if m := services.GetMetrics(); m != nil {
			m.RecordWebSocketDisconnect()
		}
	}()

	c.SetReadDeadline(time.Now().Add(120 * time.Second))
	c.SetPongHandler(func(appData string) error {
		c.SetReadDeadline(time.Now().Add(120 * time.Second))
		return nil
	})

	go h.pingLoop(conn, done)
	go h.writeLoop(conn)

	// Tell the new subscriber what it is looking at right away.
	status := h.engine.Status()
	conn.SafeSend(models.ChangeEvent{
		Kind:      "connected",
		Source:    status.Source,
		Count:     status.Count,
		Timestamp: time.Now(),
	})

	h.readLoop(conn)
}

// pingLoop sends periodic pings to keep the connection alive through
// proxies that idle out quiet sockets.
func (h *WebSocketHandler) pingLoop(conn *models.DashboardConnection, done <-chan struct{}) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			conn.Mutex.Lock()
			if err := conn.Conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(10*time.Second)); err != nil {
				log.Printf("⚠️ Ping failed for %s: %v", conn.ConnID, err)
				conn.Mutex.Unlock()
				return
			}
			conn.Mutex.Unlock()
		}
	}
}

// readLoop handles incoming messages from the client
func (h *WebSocketHandler) readLoop(conn *models.DashboardConnection) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("❌ Panic in readLoop: %v", r)
		}
	}()

	for {
		_, msg, err := conn.Conn.ReadMessage()
		if err != nil {
			log.Printf("❌ WebSocket read error for %s: %v", conn.ConnID, err)
			break
		}
		conn.Conn.SetReadDeadline(time.Now().Add(120 * time.Second))

		var clientMsg struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(msg, &clientMsg); err != nil {
			log.Printf("⚠️  Invalid message format from %s: %v", conn.ConnID, err)
			continue
		}

		switch clientMsg.Type {
		case "refresh":
			// A subscriber may request a fresh authoritative fetch; the
			// result arrives as a reconcile event on the feed.
			go func() {
				if _, err := h.engine.Refresh(context.Background()); err != nil {
					log.Printf("⚠️  Subscriber-requested refresh failed: %v", err)
				}
			}()
		default:
			log.Printf("⚠️  Unknown message type: %s", clientMsg.Type)
		}
	}
}

// writeLoop handles outgoing events to the client
func (h *WebSocketHandler) writeLoop(conn *models.DashboardConnection) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("❌ Panic in writeLoop: %v", r)
		}
	}()

	for event := range conn.WriteChan {
		if err := conn.Conn.WriteJSON(event); err != nil {
			log.Printf("❌ WebSocket write error for %s: %v", conn.ConnID, err)
			return
		}
	}
}
