package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	ws "github.com/gorilla/websocket"

	"github.com/ProjectRStore/itemsync/internal/channel"
	"github.com/ProjectRStore/itemsync/pkg/streaming"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 1 << 20
)

// ErrSendBufferFull means a peer is not draining its socket fast enough.
var ErrSendBufferFull = errors.New("send buffer full")

// ServerConfig configures the websocket front of a Hub.
type ServerConfig struct {
	Path       string
	SendBuffer int
}

// Server accepts peer websockets and feeds them into a Hub.
type Server struct {
	hub      *Hub
	codec    streaming.Codec
	cfg      ServerConfig
	upgrader ws.Upgrader
	logger   *slog.Logger
}

// NewServer creates a Server in front of hub.
func NewServer(hub *Hub, cfg ServerConfig) *Server {
	if cfg.Path == "" {
		cfg.Path = "/ws"
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 1024
	}
	return &Server{
		hub:      hub,
		codec:    hub.deps.Codec,
		cfg:      cfg,
		upgrader: ws.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		logger:   hub.deps.Logger,
	}
}

// Router returns the HTTP routes of the relay.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "sessions": s.hub.Sessions()})
	})
	r.Get("/sessions/{session}", func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "session")
		peers := s.hub.Peers(name)
		if len(peers) == 0 {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown session"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"session":     name,
			"coordinator": s.hub.Coordinator(name),
			"peers":       peers,
		})
	})
	r.Get(s.cfg.Path, s.serveWS)
	return r
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	session := r.URL.Query().Get("session")
	if session == "" {
		http.Error(w, "missing session", http.StatusBadRequest)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed", "error", err)
		return
	}

	pc := &peerConn{
		conn:   conn,
		codec:  s.codec,
		sendCh: channel.New[[]byte](s.cfg.SendBuffer),
		done:   make(chan struct{}),
		logger: s.logger,
	}
	pc.frameType = ws.TextMessage
	if s.codec.Name() == "msgpack" {
		pc.frameType = ws.BinaryMessage
	}

	actor, err := s.hub.Join(session, pc)
	if err != nil {
		s.logger.Error("Join failed", "session", session, "error", err)
		_ = conn.Close()
		return
	}
	go pc.writeLoop()
	pc.readLoop(func(env streaming.Envelope) {
		if _, err := s.hub.Route(session, actor, env); err != nil {
			s.logger.Warn("Route refused", "session", session, "actor", actor, "type", env.Type, "error", err)
		}
	})
	s.hub.Leave(session, actor)
	pc.close()
}

// peerConn is one connected peer with a single write goroutine.
type peerConn struct {
	conn      *ws.Conn
	codec     streaming.Codec
	frameType int
	backlog   [][]byte // written before sendCh; set only before writeLoop starts
	sendCh    channel.Channel[[]byte]
	done      chan struct{}
	once      sync.Once
	logger    *slog.Logger
}

// Deliver queues env for the write loop without blocking.
func (p *peerConn) Deliver(env streaming.Envelope) error {
	data, err := streaming.Encode(p.codec, env)
	if err != nil {
		return err
	}
	if !p.sendCh.TrySend(data) {
		return ErrSendBufferFull
	}
	return nil
}

// Preload keeps the join backlog in full. It is called by Hub.Join before
// the write loop starts, which sends it ahead of the send buffer.
func (p *peerConn) Preload(envs []streaming.Envelope) error {
	for _, env := range envs {
		data, err := streaming.Encode(p.codec, env)
		if err != nil {
			return fmt.Errorf("encoding %s: %w", env.Type, err)
		}
		p.backlog = append(p.backlog, data)
	}
	return nil
}

func (p *peerConn) writeLoop() {
	for _, data := range p.backlog {
		if !p.write(data) {
			return
		}
	}
	p.backlog = nil

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-p.done:
			return
		case data := <-p.sendCh.Receive():
			if !p.write(data) {
				return
			}
		case <-ticker.C:
			if err := p.conn.WriteControl(ws.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				_ = p.conn.Close()
				return
			}
		}
	}
}

func (p *peerConn) write(data []byte) bool {
	if err := p.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		p.logger.Warn("WebSocket SetWriteDeadline error", "error", err)
		_ = p.conn.Close()
		return false
	}
	if err := p.conn.WriteMessage(p.frameType, data); err != nil {
		p.logger.Warn("WebSocket write error", "error", err)
		_ = p.conn.Close()
		return false
	}
	return true
}

func (p *peerConn) readLoop(route func(streaming.Envelope)) {
	p.conn.SetReadLimit(maxMessageSize)
	_ = p.conn.SetReadDeadline(time.Now().Add(pongWait))
	p.conn.SetPongHandler(func(string) error {
		return p.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			if ws.IsUnexpectedCloseError(err, ws.CloseNormalClosure, ws.CloseGoingAway) {
				p.logger.Warn("WebSocket read error", "error", err)
			}
			return
		}
		_ = p.conn.SetReadDeadline(time.Now().Add(pongWait))
		env, err := streaming.Decode(p.codec, data)
		if err != nil {
			p.logger.Debug("Dropping malformed frame", "error", err)
			continue
		}
		route(env)
	}
}

func (p *peerConn) close() {
	p.once.Do(func() {
		close(p.done)
		_ = p.conn.WriteControl(ws.CloseMessage,
			ws.FormatCloseMessage(ws.CloseNormalClosure, ""), time.Now().Add(writeWait))
		_ = p.conn.Close()
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

var _ Peer = (*peerConn)(nil)
