package handlers

import (
	"context"
	"net/http"
	"time"

	"canvasServer/backend/internal/canvas"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// PingFunc 检查后端是否可用，nil 表示没有外部依赖（内存后端）
type PingFunc func(ctx context.Context) error

type CanvasHandler struct {
	bridges *canvas.Bridges
	ping    PingFunc
}

func NewCanvasHandler(bridges *canvas.Bridges, ping PingFunc) *CanvasHandler {
	return &CanvasHandler{bridges: bridges, ping: ping}
}

// NewCanvasID 生成一个新的画布 ID
func (h *CanvasHandler) NewCanvasID(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"uuid": uuid.NewString()})
}

// Subscribe 是带外的订阅触发：画布没有桥接时启动一个，重复调用无副作用
func (h *CanvasHandler) Subscribe(c *gin.Context) {
	canvasID := c.Param("canvasId")
	if !canvas.ValidID(canvasID) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid canvas id"})
		return
	}
	started := h.bridges.Ensure(canvasID)
	c.JSON(http.StatusOK, gin.H{"canvasId": canvasID, "started": started})
}

func (h *CanvasHandler) Healthz(c *gin.Context) {
	if h.ping != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), time.Second)
		defer cancel()
		if err := h.ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"message": "ok"})
}
