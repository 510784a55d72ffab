// Package ws exposes the engine to clients over websocket. One connection is
// one session; identity is trusted from the upstream auth layer.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Zereker/social/internal/action"
	"github.com/Zereker/social/internal/domain"
	"github.com/Zereker/social/internal/i18n"
	"github.com/Zereker/social/pkg/log"
)

// UserHeader carries the authenticated user id when no userId query
// parameter is given.
const UserHeader = "X-User-ID"

var connections = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "social",
	Subsystem: "ws",
	Name:      "connections",
	Help:      "Open websocket connections.",
})

// Engine is the part of action.Friends the gateway drives.
type Engine interface {
	OnSessionConnect(ctx context.Context, userID, sessionID string, sink action.Sink, opts ...action.SessionOption) error
	OnSessionDisconnect(ctx context.Context, userID, sessionID string)
	HandleInbound(ctx context.Context, sessionID string, env domain.Envelope) error
	SendError(sessionID string, err error)
}

// Config contains websocket gateway configuration
type Config struct {
	ReadLimit    int64
	SendBuffer   int
	PingInterval time.Duration
	PongWait     time.Duration
	WriteWait    time.Duration
}

// DefaultConfig returns default gateway configuration
func DefaultConfig() Config {
	return Config{
		ReadLimit:    64 * 1024,
		SendBuffer:   64,
		PingInterval: 30 * time.Second,
		PongWait:     60 * time.Second,
		WriteWait:    10 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ReadLimit <= 0 {
		c.ReadLimit = d.ReadLimit
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = d.SendBuffer
	}
	if c.PingInterval <= 0 {
		c.PingInterval = d.PingInterval
	}
	if c.PongWait <= 0 {
		c.PongWait = d.PongWait
	}
	if c.WriteWait <= 0 {
		c.WriteWait = d.WriteWait
	}
	return c
}

// Gateway upgrades HTTP requests to websocket sessions.
type Gateway struct {
	logger   *slog.Logger
	engine   Engine
	cfg      Config
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
}

// NewGateway creates a gateway in front of engine.
func NewGateway(engine Engine, cfg Config) *Gateway {
	return &Gateway{
		logger: log.Logger("ws"),
		engine: engine,
		cfg:    cfg.withDefaults(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
	}
}

// ServeHTTP handles GET /ws?userId=&lang=
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.URL.Query().Get("userId"))
	if userID == "" {
		userID = strings.TrimSpace(r.Header.Get(UserHeader))
	}
	if userID == "" {
		http.Error(w, "userId is required", http.StatusUnauthorized)
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn("upgrade failed", "user_id", userID, "error", err)
		return
	}

	lang := i18n.ResolveTag(r)
	c := newClient(conn, uuid.NewString(), userID, g.cfg.SendBuffer)
	go c.writePump(g.cfg)

	// 会话生命周期不随请求取消
	ctx := context.WithoutCancel(r.Context())
	if err := g.engine.OnSessionConnect(ctx, userID, c.sessionID, c, action.WithLanguage(lang)); err != nil {
		g.logger.Info("session rejected", "user_id", userID, "error", err)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, i18n.Message(lang, err)),
			time.Now().Add(g.cfg.WriteWait))
		c.Close()
		return
	}

	g.track(c)
	connections.Inc()
	g.logger.Info("session connected", "user_id", userID, "session_id", c.sessionID)

	defer func() {
		g.untrack(c)
		connections.Dec()
		g.engine.OnSessionDisconnect(ctx, userID, c.sessionID)
		c.Close()
		g.logger.Info("session disconnected", "user_id", userID, "session_id", c.sessionID)
	}()

	g.readPump(ctx, c)
}

// readPump 读取客户端帧直到连接关闭
func (g *Gateway) readPump(ctx context.Context, c *client) {
	c.conn.SetReadLimit(g.cfg.ReadLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(g.cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(g.cfg.PongWait))
	})

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && !c.closed() {
				g.logger.Debug("read failed", "session_id", c.sessionID, "error", err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			g.engine.SendError(c.sessionID, domain.NewValidationError("", "text frames only"))
			continue
		}

		var env domain.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			g.engine.SendError(c.sessionID, domain.NewValidationError("", "malformed frame: %v", err))
			continue
		}

		if err := g.engine.HandleInbound(ctx, c.sessionID, env); err != nil {
			g.logger.Debug("inbound rejected", "session_id", c.sessionID, "action", env.Action, "error", err)
		}
	}
}

func (g *Gateway) track(c *client) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.clients[c] = struct{}{}
}

func (g *Gateway) untrack(c *client) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.clients, c)
}

// Sessions returns the number of open connections.
func (g *Gateway) Sessions() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.clients)
}

// Close closes every open connection. The read loops then report the
// disconnects to the engine.
func (g *Gateway) Close() {
	g.mu.Lock()
	clients := make([]*client, 0, len(g.clients))
	for c := range g.clients {
		clients = append(clients, c)
	}
	g.mu.Unlock()

	for _, c := range clients {
		c.Close()
	}
	g.logger.Info("gateway closed", "sessions", len(clients))
}
