// SPDX-License-Identifier: MIT
package transport

import (
	"net/http"
	"sync"
	"sync/atomic"

	applog "paulring/internal/log"

	"github.com/gorilla/websocket"
)

// WebSocketTransport broadcasts JSON messages to every connected websocket
// client and hands inbound text frames to a callback. It does not own an
// HTTP server; mount it on a mux with ServeHTTP.
//
// Thread Safety:
// - Send never blocks: messages are dropped when the broadcast queue is full
// - The client map is guarded by a mutex
// - Close waits for the broadcast and reader goroutines to exit
type WebSocketTransport struct {
	upgrader  websocket.Upgrader
	clients   map[*websocket.Conn]bool
	clientsMu sync.Mutex
	broadcast chan any
	onMessage func([]byte)

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
	dropped   atomic.Uint64
}

// NewWebSocketTransport creates the transport and starts its broadcast
// goroutine. onMessage may be nil.
func NewWebSocketTransport(onMessage func([]byte)) *WebSocketTransport {
	wst := &WebSocketTransport{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // Control surfaces connect from arbitrary origins.
			},
		},
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan any, 256),
		onMessage: onMessage,
		done:      make(chan struct{}),
	}
	wst.wg.Add(1)
	go wst.handleBroadcasts()
	return wst
}

// ServeHTTP upgrades the connection and registers the client.
func (wst *WebSocketTransport) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	select {
	case <-wst.done:
		http.Error(w, "transport closed", http.StatusServiceUnavailable)
		return
	default:
	}

	conn, err := wst.upgrader.Upgrade(w, r, nil)
	if err != nil {
		applog.Warnf("WebSocketTransport: Upgrade error: %v", err)
		return
	}

	// Registration and Close are ordered by clientsMu so no reader starts
	// after Close begins waiting.
	wst.clientsMu.Lock()
	select {
	case <-wst.done:
		wst.clientsMu.Unlock()
		conn.Close()
		return
	default:
	}
	wst.clients[conn] = true
	total := len(wst.clients)
	wst.wg.Add(1)
	wst.clientsMu.Unlock()
	applog.Infof("WebSocketTransport: Client connected from %s, total: %d", r.RemoteAddr, total)

	go wst.readLoop(conn)
}

// readLoop forwards inbound text frames until the connection fails.
func (wst *WebSocketTransport) readLoop(conn *websocket.Conn) {
	defer wst.wg.Done()
	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			wst.drop(conn)
			return
		}
		if kind == websocket.TextMessage && wst.onMessage != nil {
			wst.onMessage(data)
		}
	}
}

func (wst *WebSocketTransport) drop(conn *websocket.Conn) {
	wst.clientsMu.Lock()
	_, known := wst.clients[conn]
	delete(wst.clients, conn)
	total := len(wst.clients)
	wst.clientsMu.Unlock()
	conn.Close()
	if known {
		applog.Infof("WebSocketTransport: Client disconnected, total: %d", total)
	}
}

// handleBroadcasts sends queued messages to all connected clients.
func (wst *WebSocketTransport) handleBroadcasts() {
	defer wst.wg.Done()
	for {
		select {
		case data := <-wst.broadcast:
			wst.clientsMu.Lock()
			for client := range wst.clients {
				if err := client.WriteJSON(data); err != nil {
					applog.Warnf("WebSocketTransport: Error sending to client: %v", err)
					client.Close()
					delete(wst.clients, client)
				}
			}
			wst.clientsMu.Unlock()
		case <-wst.done:
			return
		}
	}
}

// Send queues data for every connected client. When the queue is full the
// message is dropped and counted.
func (wst *WebSocketTransport) Send(data any) error {
	select {
	case wst.broadcast <- data:
	default:
		wst.dropped.Add(1)
	}
	return nil
}

// Dropped returns the number of messages discarded by Send.
func (wst *WebSocketTransport) Dropped() uint64 {
	return wst.dropped.Load()
}

// ClientCount returns the number of connected clients.
func (wst *WebSocketTransport) ClientCount() int {
	wst.clientsMu.Lock()
	defer wst.clientsMu.Unlock()
	return len(wst.clients)
}

// Close disconnects every client and stops the transport goroutines.
func (wst *WebSocketTransport) Close() error {
	wst.closeOnce.Do(func() {
		applog.Infof("WebSocketTransport: Closing")

		wst.clientsMu.Lock()
		close(wst.done)
		for client := range wst.clients {
			client.Close()
		}
		wst.clientsMu.Unlock()

		wst.wg.Wait()
	})
	return nil
}

// Ensure WebSocketTransport satisfies the interface.
var _ Transport = (*WebSocketTransport)(nil)
