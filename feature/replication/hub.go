package replication

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"perishable-ledger/core/command"
	"perishable-ledger/core/metrics"
	"perishable-ledger/core/protocol"
	"perishable-ledger/core/registry"
	"perishable-ledger/core/settings"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// DefaultQueueSize is the outbound frame buffer per session.
	DefaultQueueSize = 256

	handshakeTimeout = 5 * time.Second
	writeTimeout     = 5 * time.Second
	pongWait         = 60 * time.Second
	pingPeriod       = pongWait * 9 / 10
	maxFrameSize     = 1 << 20
)

// Metrics receives replication counters. metrics.Recorder implements it.
type Metrics interface {
	Message(msgType, direction string)
	SessionOpened()
	SessionClosed()
}

type nopMetrics struct{}

func (nopMetrics) Message(string, string) {}
func (nopMetrics) SessionOpened()         {}
func (nopMetrics) SessionClosed()         {}

// Config holds hub settings.
type Config struct {
	// AdminToken grants admin to sessions presenting it in Hello.
	AdminToken string
	// QueueSize bounds each session's outbound queue.
	QueueSize int
}

// SessionInfo describes a connected session.
type SessionInfo struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Admin     bool      `json:"admin"`
	Host      bool      `json:"host"`
	Remote    string    `json:"remote"`
	Connected time.Time `json:"connected"`
	Queued    int       `json:"queued"`
}

// Hub fans registry changes out to every session and executes their requests.
type Hub struct {
	engine  *command.Engine
	cfg     Config
	metrics Metrics
	logger  *zap.Logger
	table   *protocol.Table[*Session]

	upgrader websocket.Upgrader

	mu       sync.Mutex
	sessions map[string]*Session
	seq      atomic.Uint64
	closed   bool
}

// NewHub creates a hub. Call Attach to start receiving registry and settings changes.
func NewHub(engine *command.Engine, cfg Config, rec Metrics, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	if rec == nil {
		rec = nopMetrics{}
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	h := &Hub{
		engine:   engine,
		cfg:      cfg,
		metrics:  rec,
		logger:   logger,
		sessions: make(map[string]*Session),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	h.table = protocol.NewTable[*Session]().
		Register(protocol.MsgCommandRequest, protocol.Typed(h.handleCommand)).
		Register(protocol.MsgSettingsChangeRequest, protocol.Typed(h.handleSettingsChange)).
		Register(protocol.MsgHello, protocol.Typed(func(s *Session, _ *protocol.Hello) error {
			return fmt.Errorf("%w: duplicate hello", protocol.ErrUnknownMessage)
		}))
	return h
}

// Attach subscribes the hub to the engine's registry deltas and settings changes.
func (h *Hub) Attach() {
	h.engine.Registry().SetSink(h)
	h.engine.Resolver().OnChange(h.BroadcastSettings)
}

// Publish implements registry.Sink. It runs under the registry lock and never blocks.
func (h *Hub) Publish(d registry.Delta) {
	h.broadcast(protocol.NewDelta(d))
}

// BroadcastSettings sends the full override layer to every session.
func (h *Hub) BroadcastSettings(o settings.Overrides) {
	h.broadcast(&protocol.SettingsSync{Overrides: o})
}

func (h *Hub) broadcast(m protocol.Message) {
	frame, err := protocol.Marshal(m)
	if err != nil {
		h.logger.Error("Failed to encode broadcast", zap.String("type", m.Type().String()), zap.Error(err))
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, s := range h.sessions {
		if s.enqueue(frame) {
			h.metrics.Message(m.Type().String(), metrics.DirectionOut)
		}
	}
}

// Sessions lists connected sessions ordered by id.
func (h *Hub) Sessions() []SessionInfo {
	h.mu.Lock()
	out := make([]SessionInfo, 0, len(h.sessions))
	for _, s := range h.sessions {
		out = append(out, s.info())
	}
	h.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Close disconnects every session and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	sessions := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.Unlock()
	for _, s := range sessions {
		s.close("server shutting down")
	}
}

// Handler returns the HTTP handler serving the WebSocket endpoint.
func (h *Hub) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", h.ServeHTTP)
	return mux
}

// ServeHTTP upgrades the connection and runs the session until it ends.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("Upgrade failed", zap.Error(err))
		return
	}
	conn.SetReadLimit(maxFrameSize)

	s, err := h.handshake(conn, r)
	if err != nil {
		h.logger.Warn("Handshake rejected", zap.String("remote", r.RemoteAddr), zap.Error(err))
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, err.Error()),
			time.Now().Add(time.Second))
		_ = conn.Close()
		return
	}

	go s.writeLoop()
	s.readLoop()
	h.detach(s)
}

func (h *Hub) handshake(conn *websocket.Conn, r *http.Request) (*Session, error) {
	_ = conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	_, frame, err := conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("read hello: %w", err)
	}
	m, err := protocol.Unmarshal(frame)
	if err != nil {
		return nil, err
	}
	hello, ok := m.(*protocol.Hello)
	if !ok {
		return nil, fmt.Errorf("expected hello, got %s", m.Type())
	}
	h.metrics.Message(protocol.MsgHello.String(), metrics.DirectionIn)

	name := hello.Name
	if name == "" {
		name = "replica"
	}
	s := &Session{
		id:        fmt.Sprintf("s%d", h.seq.Add(1)),
		name:      name,
		remote:    r.RemoteAddr,
		connected: time.Now().UTC(),
		conn:      conn,
		hub:       h,
		out:       make(chan []byte, h.cfg.QueueSize),
		done:      make(chan struct{}),
	}
	switch {
	case h.cfg.AdminToken != "" && hello.Token == h.cfg.AdminToken:
		s.admin = true
	case h.cfg.AdminToken == "" && isLoopback(r.RemoteAddr):
		s.host = true
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.logger = h.logger.With(zap.String("session", s.id), zap.String("name", s.name))

	if err := h.attach(s); err != nil {
		s.cancel()
		return nil, err
	}
	s.logger.Info("Replica connected", zap.Bool("admin", s.admin), zap.Bool("host", s.host))
	return s, nil
}

// attach queues the initial messages and registers the session while no
// mutation can interleave, so the first delta it sees follows its full sync.
func (h *Hub) attach(s *Session) error {
	var err error
	h.engine.Observe(func(st registry.State, o settings.Overrides) {
		var frames [][]byte
		for _, m := range []protocol.Message{
			&protocol.Welcome{SessionID: s.id, Admin: s.privileged()},
			&protocol.SettingsSync{Overrides: o},
			protocol.NewFullSync(st),
		} {
			frame, merr := protocol.Marshal(m)
			if merr != nil {
				err = merr
				return
			}
			frames = append(frames, frame)
		}

		h.mu.Lock()
		defer h.mu.Unlock()
		if h.closed {
			err = fmt.Errorf("hub closed")
			return
		}
		for _, f := range frames {
			if !s.enqueue(f) {
				err = fmt.Errorf("initial sync exceeds queue size %d", h.cfg.QueueSize)
				return
			}
		}
		h.sessions[s.id] = s
	})
	if err == nil {
		h.metrics.SessionOpened()
		h.metrics.Message(protocol.MsgWelcome.String(), metrics.DirectionOut)
		h.metrics.Message(protocol.MsgSettingsSync.String(), metrics.DirectionOut)
		h.metrics.Message(protocol.MsgFullSync.String(), metrics.DirectionOut)
	}
	return err
}

func (h *Hub) detach(s *Session) {
	s.close("")
	h.mu.Lock()
	_, ok := h.sessions[s.id]
	delete(h.sessions, s.id)
	h.mu.Unlock()
	if ok {
		h.metrics.SessionClosed()
		s.logger.Info("Replica disconnected")
	}
}

func (h *Hub) handleCommand(s *Session, m *protocol.CommandRequest) error {
	res, err := h.engine.Execute(s.ctx, s.actor(), m.Command)
	if err != nil {
		s.logger.Debug("Command failed", zap.String("action", m.Command.Kind().String()), zap.Error(err))
	}
	return s.respond(m.RequestID, m.Command.Kind(), res)
}

func (h *Hub) handleSettingsChange(s *Session, m *protocol.SettingsChangeRequest) error {
	res, err := h.engine.Execute(s.ctx, s.actor(), m.Change)
	if err != nil {
		s.logger.Debug("Settings change failed", zap.Error(err))
	}
	return s.respond(m.RequestID, command.KindChangeSettings, res)
}

func isLoopback(remote string) bool {
	host, _, err := net.SplitHostPort(remote)
	if err != nil {
		host = remote
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
