package diagnostics

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"spellforge/server/internal/runtime"
)

const writeWait = 5 * time.Second

// stream pushes snapshots to one websocket client and accepts cast intents
// from it.
type stream struct {
	server *Server
	conn   *websocket.Conn
	mu     sync.Mutex
}

func newStream(server *Server, conn *websocket.Conn) *stream {
	return &stream{server: server, conn: conn}
}

func (s *stream) serve(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer s.conn.Close()

	if !s.writeJSON(s.server.Snapshot()) {
		return
	}

	go s.push(ctx, cancel)

	for {
		_, payload, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg castRequest
		if err := json.Unmarshal(payload, &msg); err != nil {
			s.server.cfg.Logger.Printf("discarding malformed diagnostics message: %v", err)
			continue
		}
		switch msg.Type {
		case "cast":
			if !s.handleCast(msg) {
				return
			}
		case "snapshot":
			if !s.writeJSON(s.server.Snapshot()) {
				return
			}
		default:
			s.server.cfg.Logger.Printf("discarding diagnostics message type %q", msg.Type)
		}
	}
}

func (s *stream) handleCast(msg castRequest) bool {
	intake := s.server.cfg.Intake
	if intake == nil {
		return s.writeJSON(intentRejectMessage{Type: "intentReject", Seq: msg.Seq, Reason: "intake_disabled"})
	}
	intent, ok := msg.intent()
	if !ok {
		return s.writeJSON(intentRejectMessage{Type: "intentReject", Seq: msg.Seq, Reason: "invalid_intent"})
	}
	if accepted, reason := intake.Enqueue(intent); !accepted {
		return s.writeJSON(intentRejectMessage{
			Type:   "intentReject",
			Seq:    msg.Seq,
			Reason: reason,
			Retry:  reason == runtime.IntentRejectQueueLimit,
		})
	}
	return s.writeJSON(intentAckMessage{Type: "intentAck", Seq: msg.Seq, Tick: intake.Tick()})
}

func (s *stream) push(ctx context.Context, cancel context.CancelFunc) {
	ticker := time.NewTicker(s.server.cfg.PushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !s.writeJSON(s.server.Snapshot()) {
				cancel()
				s.conn.Close()
				return
			}
		}
	}
}

// writeJSON serialises writes; gorilla connections allow one writer at a time.
func (s *stream) writeJSON(payload any) bool {
	data, err := json.Marshal(payload)
	if err != nil {
		s.server.cfg.Logger.Printf("failed to marshal diagnostics payload: %v", err)
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(websocket.TextMessage, data) == nil
}
