package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const clientSendBuffer = 64

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// checkOrigin accepts any origin unless server.allowed_origins is set.
func (s *Server) checkOrigin(r *http.Request) bool {
	s.cfg.mu.RLock()
	allowed := s.cfg.Server.AllowedOrigins
	s.cfg.mu.RUnlock()

	if len(allowed) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range allowed {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}

func (s *Server) handleWS(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}

	client := &wsClient{
		conn: conn,
		send: make(chan []byte, clientSendBuffer),
	}

	// Queue the full state before the client becomes visible to broadcast,
	// so it is always the first frame.
	if data, err := json.Marshal(s.fullFrame()); err == nil {
		client.send <- data
	}

	s.clientsMu.Lock()
	s.clients[client] = struct{}{}
	n := len(s.clients)
	s.clientsMu.Unlock()
	s.log.Info("WebSocket client connected", zap.Int("clients", n))

	// Writer goroutine
	go func() {
		defer conn.Close()
		for msg := range client.send {
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				break
			}
		}
	}()

	// Reader goroutine (keep-alive; clients do not send commands)
	go func() {
		defer func() {
			s.clientsMu.Lock()
			delete(s.clients, client)
			n := len(s.clients)
			s.clientsMu.Unlock()
			close(client.send)
			s.log.Info("WebSocket client disconnected", zap.Int("clients", n))
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

// fullFrame is the complete state sent to a new client.
func (s *Server) fullFrame() Frame {
	snap := s.board.Snapshot()
	st := s.link.Status()
	return Frame{
		Lights: snap.Lights,
		Events: snap.Events,
		Counts: &snap.Counts,
		Link:   &st,
		Stamp:  time.Now().UnixMilli(),
	}
}

func (s *Server) broadcast(frame Frame) {
	if frame.Stamp == 0 {
		frame.Stamp = time.Now().UnixMilli()
	}
	data, err := json.Marshal(frame)
	if err != nil {
		s.log.Error("Failed to encode frame", zap.Error(err))
		return
	}

	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	for client := range s.clients {
		select {
		case client.send <- data:
		default:
			// Client too slow, skip
		}
	}
}

func (s *Server) clientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}
