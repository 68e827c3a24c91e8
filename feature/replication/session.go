package replication

import (
	"context"
	"errors"
	"sync"
	"time"

	"perishable-ledger/core/command"
	"perishable-ledger/core/metrics"
	"perishable-ledger/core/protocol"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Session is one connected replica.
type Session struct {
	id        string
	name      string
	remote    string
	admin     bool
	host      bool
	connected time.Time

	conn   *websocket.Conn
	hub    *Hub
	logger *zap.Logger

	out    chan []byte
	done   chan struct{}
	once   sync.Once
	cancel context.CancelFunc
	ctx    context.Context
}

func (s *Session) privileged() bool {
	return s.admin || s.host
}

func (s *Session) actor() command.Actor {
	return command.Actor{Name: s.name, Admin: s.admin, Host: s.host}
}

func (s *Session) info() SessionInfo {
	return SessionInfo{
		ID:        s.id,
		Name:      s.name,
		Admin:     s.admin,
		Host:      s.host,
		Remote:    s.remote,
		Connected: s.connected,
		Queued:    len(s.out),
	}
}

// enqueue hands a frame to the writer without blocking. A full queue closes
// the session. The caller holds hub.mu.
func (s *Session) enqueue(frame []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.out <- frame:
		return true
	default:
		s.logger.Warn("Outbound queue full, dropping replica", zap.Int("queue", cap(s.out)))
		go s.close("too slow")
		return false
	}
}

func (s *Session) respond(requestID uint32, kind command.Kind, res command.Result) error {
	frame, err := protocol.Marshal(&protocol.CommandResponse{
		RequestID: requestID,
		Success:   res.Success,
		Message:   res.Message,
		Action:    kind,
	})
	if err != nil {
		return err
	}
	s.hub.mu.Lock()
	ok := s.enqueue(frame)
	s.hub.mu.Unlock()
	if ok {
		s.hub.metrics.Message(protocol.MsgCommandResponse.String(), metrics.DirectionOut)
	}
	return nil
}

func (s *Session) close(reason string) {
	s.once.Do(func() {
		close(s.done)
		s.cancel()
		if reason != "" {
			_ = s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, reason),
				time.Now().Add(time.Second))
		}
		_ = s.conn.Close()
	})
}

func (s *Session) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case frame := <-s.out:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := s.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				s.logger.Debug("Write failed", zap.Error(err))
				s.close("")
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.close("")
				return
			}
		}
	}
}

func (s *Session) readLoop() {
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		msgType, frame, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("Read failed", zap.Error(err))
			}
			return
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
		if msgType != websocket.BinaryMessage {
			continue
		}
		m, err := s.hub.table.DispatchFrame(s, frame)
		if m != nil {
			s.hub.metrics.Message(m.Type().String(), metrics.DirectionIn)
		}
		if err != nil {
			// Malformed or unexpected frames are discarded; the session stays up.
			lvl := zap.WarnLevel
			if errors.Is(err, protocol.ErrUnknownMessage) {
				lvl = zap.InfoLevel
			}
			s.logger.Check(lvl, "Discarded replica message").Write(zap.Error(err))
		}
	}
}
