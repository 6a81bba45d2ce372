package ws

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"canvasServer/backend/internal/canvas"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// 默认允许本地开发环境的来源
var defaultAllowedOrigins = []string{
	"http://localhost",
	"http://127.0.0.1",
	"https://localhost",
	"https://127.0.0.1",
}

func newUpgrader(allowed []string) websocket.Upgrader {
	if len(allowed) == 0 {
		allowed = defaultAllowedOrigins
	}
	return websocket.Upgrader{CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || origin == "null" { // 一些环境可能不发送 Origin，或为 "null"
			return true
		}
		for _, p := range allowed {
			if p == "*" || strings.HasPrefix(origin, p) {
				return true
			}
		}
		return false
	}}
}

type ManagerOptions struct {
	SendBuffer     int
	WriteTimeout   time.Duration
	AllowedOrigins []string
	Metrics        *canvas.Metrics
	Logger         *slog.Logger
}

type Manager struct {
	// 进程级 ctx，取消时关闭所有连接
	ctx      context.Context
	h        *Hub
	svc      *canvas.Service
	bridges  *canvas.Bridges
	upgrader websocket.Upgrader

	sendBuffer   int
	writeTimeout time.Duration
	metrics      *canvas.Metrics
	logger       *slog.Logger
}

func NewManager(ctx context.Context, h *Hub, svc *canvas.Service, bridges *canvas.Bridges, opt ManagerOptions) *Manager {
	if opt.SendBuffer <= 0 {
		opt.SendBuffer = 256
	}
	if opt.WriteTimeout <= 0 {
		opt.WriteTimeout = 5 * time.Second
	}
	logger := opt.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		ctx:          ctx,
		h:            h,
		svc:          svc,
		bridges:      bridges,
		upgrader:     newUpgrader(opt.AllowedOrigins),
		sendBuffer:   opt.SendBuffer,
		writeTimeout: opt.WriteTimeout,
		metrics:      opt.Metrics,
		logger:       logger.With("component", "ws"),
	}
}

// WebSocketConnect 处理 /ws/:canvasId，阻塞到连接关闭
func (m *Manager) WebSocketConnect(c *gin.Context) {
	canvasID := c.Param("canvasId")
	if !canvas.ValidID(canvasID) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid canvas id"})
		return
	}

	conn, err := m.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade 失败时已经写过 HTTP 错误
		m.logger.Warn("websocket upgrade error", "error", err, "origin", c.Request.Header.Get("Origin"))
		return
	}

	wsConn := newConn(conn, m.h, canvasID, m.svc, m.bridges, connOptions{
		sendBuffer:   m.sendBuffer,
		writeTimeout: m.writeTimeout,
		metrics:      m.metrics,
		logger:       m.logger,
	})
	m.h.Register(canvasID, wsConn)
	m.metrics.ConnectionOpened()

	ctx, cancel := context.WithCancel(m.ctx)
	defer cancel()
	// 进程退出时主动关闭 socket，readLoop 随之返回
	stop := context.AfterFunc(ctx, func() { _ = wsConn.Close() })
	defer stop()

	// 先启动写循环，确保后续写入 send 通道的消息可以被及时发送
	go wsConn.writeLoop()
	// 最后再进入读循环（阻塞至连接关闭）
	wsConn.readLoop(ctx)
}
