package ws

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"canvasServer/backend/internal/canvas"
	"canvasServer/backend/internal/event"

	"golang.org/x/sync/errgroup"
)

// Handle 是注册在 Hub 里的一条客户端连接
type Handle interface {
	Deliver(ctx context.Context, d event.Delivered) error
	Close() error
}

// room 是一个画布在本进程内的状态：连接集合（值为连续投递失败次数）和桥接标记
type room struct {
	conns        map[Handle]int
	bridgeActive bool
}

type Hub struct {
	// 读写锁保护 rooms，加入/离开房间、广播取快照、桥接标记都先加锁
	mu    sync.RWMutex
	rooms map[string]*room

	workers        int
	deliverTimeout time.Duration
	maxFailures    int

	metrics *canvas.Metrics
	logger  *slog.Logger
}

var _ canvas.Registry = (*Hub)(nil)

type HubOptions struct {
	BroadcastWorkers int
	DeliverTimeout   time.Duration
	MaxFailures      int
	Metrics          *canvas.Metrics
	Logger           *slog.Logger
}

func NewHub(opt HubOptions) *Hub {
	if opt.BroadcastWorkers <= 0 {
		opt.BroadcastWorkers = 16
	}
	if opt.DeliverTimeout <= 0 {
		opt.DeliverTimeout = time.Second
	}
	if opt.MaxFailures <= 0 {
		opt.MaxFailures = 3
	}
	logger := opt.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		rooms:          make(map[string]*room),
		workers:        opt.BroadcastWorkers,
		deliverTimeout: opt.DeliverTimeout,
		maxFailures:    opt.MaxFailures,
		metrics:        opt.Metrics,
		logger:         logger.With("component", "hub"),
	}
}

// roomLocked 需要持有写锁
func (h *Hub) roomLocked(canvasID string) *room {
	r := h.rooms[canvasID]
	if r == nil {
		r = &room{conns: make(map[Handle]int)}
		h.rooms[canvasID] = r
	}
	return r
}

// dropIfIdleLocked 没有连接也没有桥接的房间直接回收
func (h *Hub) dropIfIdleLocked(canvasID string, r *room) {
	if len(r.conns) == 0 && !r.bridgeActive {
		delete(h.rooms, canvasID)
	}
}

// Register 将连接加入指定画布
func (h *Hub) Register(canvasID string, c Handle) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.roomLocked(canvasID).conns[c] = 0
}

// Unregister 将连接从指定画布移除，重复调用无副作用。返回本次是否真的移除了
func (h *Hub) Unregister(canvasID string, c Handle) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	r := h.rooms[canvasID]
	if r == nil {
		return false
	}
	if _, ok := r.conns[c]; !ok {
		return false
	}
	delete(r.conns, c)
	h.dropIfIdleLocked(canvasID, r)
	return true
}

// Count 返回画布当前的本地连接数
func (h *Hub) Count(canvasID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if r := h.rooms[canvasID]; r != nil {
		return len(r.conns)
	}
	return 0
}

// BroadcastLocal 把事件投递给画布上的每个本地连接，返回成功投递数。
// 单个连接失败不影响其他连接；连续失败达到上限的连接会被移除并关闭。
func (h *Hub) BroadcastLocal(ctx context.Context, canvasID string, d event.Delivered) int {
	h.mu.RLock()
	r := h.rooms[canvasID]
	if r == nil || len(r.conns) == 0 {
		h.mu.RUnlock()
		return 0
	}
	targets := make([]Handle, 0, len(r.conns))
	for c := range r.conns {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	var delivered atomic.Int64
	var g errgroup.Group
	g.SetLimit(h.workers)
	for _, c := range targets {
		g.Go(func() error {
			dctx, cancel := context.WithTimeout(ctx, h.deliverTimeout)
			defer cancel()
			err := c.Deliver(dctx, d)
			if err == nil {
				delivered.Add(1)
			}
			h.recordDelivery(canvasID, c, err)
			// 不向上传播
			return nil
		})
	}
	_ = g.Wait()
	return int(delivered.Load())
}

func (h *Hub) recordDelivery(canvasID string, c Handle, err error) {
	h.mu.Lock()
	r := h.rooms[canvasID]
	if r == nil {
		h.mu.Unlock()
		return
	}
	failures, ok := r.conns[c]
	if !ok {
		h.mu.Unlock()
		return
	}
	if err == nil {
		r.conns[c] = 0
		h.mu.Unlock()
		return
	}
	failures++
	evict := failures >= h.maxFailures
	if evict {
		delete(r.conns, c)
		h.dropIfIdleLocked(canvasID, r)
	} else {
		r.conns[c] = failures
	}
	h.mu.Unlock()

	h.metrics.RecordDeliveryFailure()
	if evict {
		h.metrics.RecordEviction()
		h.logger.Warn("evict connection after repeated delivery failures",
			"canvas_id", canvasID, "failures", failures, "error", err)
		_ = c.Close()
	}
}

func (h *Hub) IsBridgeActive(canvasID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	r := h.rooms[canvasID]
	return r != nil && r.bridgeActive
}

// MarkBridgeActive 是原子的 test-and-set：只有把标记从 false 改成 true 的调用返回 true
func (h *Hub) MarkBridgeActive(canvasID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	r := h.roomLocked(canvasID)
	if r.bridgeActive {
		return false
	}
	r.bridgeActive = true
	return true
}

func (h *Hub) MarkBridgeInactive(canvasID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if r := h.rooms[canvasID]; r != nil {
		r.bridgeActive = false
		h.dropIfIdleLocked(canvasID, r)
	}
}
