// SPDX-License-Identifier: MIT
package transport

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	applog "termviz/internal/log"
)

// WebSocketTransport broadcasts analysis frames to connected clients as
// JSON, rate limited so a fast analyzer cannot flood slow clients.
type WebSocketTransport struct {
	clients      map[*websocket.Conn]bool
	clientsMutex sync.Mutex
	upgrader     websocket.Upgrader
	server       *http.Server

	lastSend        time.Time
	minSendInterval time.Duration
}

// NewWebSocketTransport starts an HTTP server exposing /frames on the
// given port. minSendInterval of 0 disables rate limiting.
func NewWebSocketTransport(port string, minSendInterval time.Duration) *WebSocketTransport {
	t := &WebSocketTransport{
		clients:         make(map[*websocket.Conn]bool),
		minSendInterval: minSendInterval,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // renderers connect from file:// and localhost
			},
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/frames", t.handleWebSocket)
	t.server = &http.Server{Addr: ":" + port, Handler: mux}

	go func() {
		applog.Infof("transport: WebSocket listening on :%s", port)
		if err := t.server.ListenAndServe(); err != http.ErrServerClosed {
			applog.Errorf("transport: WebSocket server: %v", err)
		}
	}()

	return t
}

func (t *WebSocketTransport) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		applog.Warnf("transport: WebSocket upgrade: %v", err)
		return
	}

	t.clientsMutex.Lock()
	t.clients[conn] = true
	t.clientsMutex.Unlock()

	// Drain the connection to notice disconnects.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				t.clientsMutex.Lock()
				delete(t.clients, conn)
				t.clientsMutex.Unlock()
				conn.Close()
				return
			}
		}
	}()
}

// Send broadcasts data to every client. Frames arriving faster than the
// send interval are dropped, never queued.
func (t *WebSocketTransport) Send(data any) error {
	t.clientsMutex.Lock()
	defer t.clientsMutex.Unlock()

	now := time.Now()
	if t.minSendInterval > 0 && now.Sub(t.lastSend) < t.minSendInterval {
		return nil
	}
	t.lastSend = now

	if len(t.clients) == 0 {
		return nil
	}

	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}

	for client := range t.clients {
		if err := client.WriteMessage(websocket.TextMessage, payload); err != nil {
			client.Close()
			delete(t.clients, client)
		}
	}
	return nil
}

// Close disconnects all clients and shuts the server down.
func (t *WebSocketTransport) Close() error {
	t.clientsMutex.Lock()
	for client := range t.clients {
		client.Close()
		delete(t.clients, client)
	}
	t.clientsMutex.Unlock()
	return t.server.Close()
}

var _ Transport = (*WebSocketTransport)(nil)
