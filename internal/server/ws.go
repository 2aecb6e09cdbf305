package server

import (
	"encoding/json"
	nethttp "net/http"
	"sync"
	"time"

	"GradeLane/internal/model"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/gorilla/websocket"
)

const (
	wsWriteTimeout = 5 * time.Second
	// wsSendBuffer bounds the per-client queue; a slow consumer is dropped
	// rather than blocking the grading pipeline.
	wsSendBuffer = 16
)

// ProgressEvent is one progress update pushed to websocket subscribers.
type ProgressEvent struct {
	TaskID    string           `json:"taskId"`
	Status    model.TaskStatus `json:"status"`
	Progress  int32            `json:"progress"`
	Timestamp time.Time        `json:"timestamp"`
}

type wsClient struct {
	conn *websocket.Conn
	// taskID filters delivery; empty subscribes to every task.
	taskID string
	send   chan []byte
}

// ProgressHub fans grading progress out to websocket subscribers. It
// implements biz.ProgressNotifier; delivery is best-effort.
type ProgressHub struct {
	mu       sync.RWMutex
	clients  map[*wsClient]struct{}
	upgrader websocket.Upgrader
	logger   *log.Helper
}

// NewProgressHub creates the hub.
func NewProgressHub(logger log.Logger) *ProgressHub {
	return &ProgressHub{
		clients: make(map[*wsClient]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The admin surface sits behind the reverse proxy; origin
			// enforcement happens there.
			CheckOrigin: func(r *nethttp.Request) bool { return true },
		},
		logger: log.NewHelper(logger),
	}
}

// NotifyProgress implements biz.ProgressNotifier.
func (h *ProgressHub) NotifyProgress(taskID string, status model.TaskStatus, progress int32) {
	event := &ProgressEvent{
		TaskID:    taskID,
		Status:    status,
		Progress:  progress,
		Timestamp: time.Now(),
	}
	payload, err := json.Marshal(event)
	if err != nil {
		h.logger.Errorf("failed to marshal progress event: %v", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if c.taskID != "" && c.taskID != taskID {
			continue
		}
		select {
		case c.send <- payload:
		default:
			// queue full, the writer will notice on its next send
		}
	}
}

// ServeHTTP upgrades the connection and streams progress events. The
// optional task_id query parameter narrows the feed to one task.
func (h *ProgressHub) ServeHTTP(w nethttp.ResponseWriter, r *nethttp.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warnf("websocket upgrade failed: %v", err)
		return
	}

	client := &wsClient{
		conn:   conn,
		taskID: r.URL.Query().Get("task_id"),
		send:   make(chan []byte, wsSendBuffer),
	}

	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()
	h.logger.Infof("websocket subscriber connected, task filter %q, %d active", client.taskID, h.subscribers())

	go h.writeLoop(client)
	h.readLoop(client)
}

// writeLoop drains the send queue onto the wire until the client goes away.
func (h *ProgressHub) writeLoop(c *wsClient) {
	for payload := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			h.drop(c)
			return
		}
	}
}

// readLoop discards inbound frames; it exists to observe the close
// handshake and surface disconnects.
func (h *ProgressHub) readLoop(c *wsClient) {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			h.drop(c)
			return
		}
	}
}

func (h *ProgressHub) subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *ProgressHub) drop(c *wsClient) {
	h.mu.Lock()
	dropped := false
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
		dropped = true
	}
	h.mu.Unlock()
	_ = c.conn.Close()
	if dropped {
		h.logger.Infof("websocket subscriber disconnected, %d active", h.subscribers())
	}
}
