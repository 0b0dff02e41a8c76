package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/muurk/otafleet/internal/api"
	"github.com/muurk/otafleet/internal/logging"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 8192
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// handleLive upgrades to a websocket and pushes a snapshot every poll
// interval. A client may send {"type":"refresh"} to get one immediately.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn("Failed to upgrade to WebSocket",
			zap.String("remote_addr", r.RemoteAddr),
			zap.Error(err),
		)
		return
	}

	session := uuid.NewString()
	logging.LogConnection(r.RemoteAddr, "live_opened")
	defer func() {
		_ = conn.Close()
		logging.LogConnection(r.RemoteAddr, "live_closed")
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	refresh := make(chan struct{}, 1)
	go s.readLive(ctx, conn, cancel, refresh)

	if err := s.sendSnapshot(conn, session); err != nil {
		return
	}

	poll := time.NewTicker(s.cfg.PollInterval)
	defer poll.Stop()
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-poll.C:
			if err := s.sendSnapshot(conn, session); err != nil {
				return
			}
		case <-refresh:
			if err := s.sendSnapshot(conn, session); err != nil {
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				logging.Debug("Live ping failed", zap.String("session", session), zap.Error(err))
				return
			}
		}
	}
}

func (s *Server) sendSnapshot(conn *websocket.Conn, session string) error {
	snap := s.snapshot()
	msg := api.LiveMessage{Type: api.LiveSnapshot, Session: session, Snapshot: &snap}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(msg); err != nil {
		logging.Debug("Live write failed", zap.String("session", session), zap.Error(err))
		return err
	}
	return nil
}

// readLive drains client frames, handling refresh requests, until the peer
// goes away.
func (s *Server) readLive(ctx context.Context, conn *websocket.Conn, cancel context.CancelFunc, refresh chan<- struct{}) {
	defer cancel()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logging.Debug("Live connection closed unexpectedly", zap.Error(err))
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		var msg api.LiveMessage
		if err := json.Unmarshal(data, &msg); err != nil || msg.Type != api.LiveRefresh {
			continue
		}
		select {
		case refresh <- struct{}{}:
		case <-ctx.Done():
			return
		default:
		}
	}
}
