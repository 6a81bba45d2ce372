package canvas

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"canvasServer/backend/internal/event"
	"canvasServer/backend/internal/pubsub"
)

// ErrTransportLost 表示订阅连接意外断开，桥接退出，下一次 Ensure 会重新启动
var ErrTransportLost = errors.New("canvas: pub/sub transport lost")

// Registry 是桥接需要的本地连接表能力，ws.Hub 实现了它
type Registry interface {
	MarkBridgeActive(canvasID string) bool
	MarkBridgeInactive(canvasID string)
	BroadcastLocal(ctx context.Context, canvasID string, d event.Delivered) int
}

// Bridges 管理每个画布最多一个的订阅桥接：
// 订阅画布的绘图和聊天频道，把收到的事件附上 sdelay 后广播给本地连接
type Bridges struct {
	ctx     context.Context
	sub     pubsub.Subscriber
	reg     Registry
	metrics *Metrics
	logger  *slog.Logger
	now     func() time.Time

	wg sync.WaitGroup
}

type BridgeOptions struct {
	Metrics *Metrics
	Logger  *slog.Logger
}

// NewBridges 的 ctx 是进程级的，取消后所有桥接退出
func NewBridges(ctx context.Context, sub pubsub.Subscriber, reg Registry, opt BridgeOptions) *Bridges {
	logger := opt.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridges{
		ctx:     ctx,
		sub:     sub,
		reg:     reg,
		metrics: opt.Metrics,
		logger:  logger.With("component", "bridge"),
		now:     time.Now,
	}
}

// Ensure 在画布没有运行中的桥接时启动一个，返回是否由本次调用启动。
// 并发调用只有一个会真正启动。
func (b *Bridges) Ensure(canvasID string) bool {
	if b.ctx.Err() != nil {
		return false
	}
	if !b.reg.MarkBridgeActive(canvasID) {
		return false
	}
	b.wg.Add(1)
	go b.run(canvasID)
	return true
}

// Wait 等待所有桥接退出
func (b *Bridges) Wait() {
	b.wg.Wait()
}

func (b *Bridges) run(canvasID string) {
	defer b.wg.Done()
	defer b.reg.MarkBridgeInactive(canvasID)

	b.metrics.BridgeStarted()
	defer b.metrics.BridgeStopped()

	logger := b.logger.With("canvas_id", canvasID)
	err := b.forward(canvasID)
	switch {
	case err == nil, errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		logger.Debug("bridge stopped")
	default:
		logger.Error("bridge exited", "error", err)
	}
}

func (b *Bridges) forward(canvasID string) error {
	sub, err := b.sub.Subscribe(b.ctx, DrawChannel(canvasID), ChatChannel(canvasID))
	if err != nil {
		if b.ctx.Err() != nil {
			return b.ctx.Err()
		}
		return errors.Join(ErrTransportLost, err)
	}
	defer sub.Close()
	// Redis 的 Receive 不看 ctx 取消，进程退出时主动关闭订阅把它唤醒
	stop := context.AfterFunc(b.ctx, func() { _ = sub.Close() })
	defer stop()

	for {
		msg, err := sub.Receive(b.ctx)
		if err != nil {
			if b.ctx.Err() != nil {
				return b.ctx.Err()
			}
			return errors.Join(ErrTransportLost, err)
		}
		if msg.Control {
			continue
		}
		d, err := event.NewDelivered(msg.Payload, b.now())
		if err != nil {
			b.logger.Warn("drop malformed message", "canvas_id", canvasID, "channel", msg.Channel, "error", err)
			continue
		}
		b.metrics.ObserveDelay(d.DelayMs)
		b.reg.BroadcastLocal(b.ctx, canvasID, d)
	}
}
