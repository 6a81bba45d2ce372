package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"canvasServer/backend/internal/canvas"
	"canvasServer/backend/internal/event"
	"canvasServer/backend/internal/store"

	"github.com/gorilla/websocket"
)

var (
	ErrConnClosed     = errors.New("ws: connection closed")
	ErrDeliverTimeout = errors.New("ws: deliver timed out")
)

// 回放期间缓存的实时事件上限，超出按投递失败处理
const maxPendingFactor = 8

// Conn 是一条画布连接：readLoop 处理客户端消息，writeLoop 独占写 socket
type Conn struct {
	ws       *websocket.Conn
	hub      *Hub
	canvasID string
	svc      *canvas.Service
	bridges  *canvas.Bridges

	// send 里放的是已经编码好的 JSON 帧
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	writeTimeout time.Duration

	// 回放中收到的实时事件先缓存，回放结束后按序补发
	mu        sync.Mutex
	replaying bool
	pending   []event.Delivered

	metrics *canvas.Metrics
	logger  *slog.Logger
}

var _ Handle = (*Conn)(nil)

type connOptions struct {
	sendBuffer   int
	writeTimeout time.Duration
	metrics      *canvas.Metrics
	logger       *slog.Logger
}

func newConn(ws *websocket.Conn, hub *Hub, canvasID string, svc *canvas.Service, bridges *canvas.Bridges, opt connOptions) *Conn {
	return &Conn{
		ws:           ws,
		hub:          hub,
		canvasID:     canvasID,
		svc:          svc,
		bridges:      bridges,
		send:         make(chan []byte, opt.sendBuffer),
		done:         make(chan struct{}),
		writeTimeout: opt.writeTimeout,
		metrics:      opt.metrics,
		logger:       opt.logger.With("canvas_id", canvasID, "remote", ws.RemoteAddr().String()),
	}
}

// Deliver 由 Hub 在广播时调用
func (c *Conn) Deliver(ctx context.Context, d event.Delivered) error {
	b, err := json.Marshal(d)
	if err != nil {
		return err
	}
	// 判断和入队在同一把锁里完成，replay 开始前已进入的实时帧不会插到历史中间
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.replaying {
		if len(c.pending) >= cap(c.send)*maxPendingFactor {
			return ErrDeliverTimeout
		}
		c.pending = append(c.pending, d)
		return nil
	}
	return c.enqueue(ctx, b)
}

func (c *Conn) enqueue(ctx context.Context, frame []byte) error {
	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}
	select {
	case c.send <- frame:
		return nil
	case <-c.done:
		return ErrConnClosed
	case <-ctx.Done():
		return ErrDeliverTimeout
	}
}

// Close 可以重复调用；关闭 socket 会让 readLoop 退出并注销
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.ws.Close()
	})
	return err
}

func (c *Conn) reply(ctx context.Context, text string) {
	c.metrics.RecordClientError(text)
	b, _ := json.Marshal(ErrorMessage{Error: text})
	rctx, cancel := context.WithTimeout(ctx, c.writeTimeout)
	defer cancel()
	if err := c.enqueue(rctx, b); err != nil {
		c.logger.Debug("drop error reply", "reply", text, "error", err)
	}
}

func (c *Conn) readLoop(ctx context.Context) {
	defer func() {
		c.hub.Unregister(c.canvasID, c)
		_ = c.Close()
		c.metrics.ConnectionClosed()
	}()
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Info("read message error", "error", err)
			}
			return
		}
		c.handle(ctx, data)
	}
}

func (c *Conn) handle(ctx context.Context, data []byte) {
	msg, err := event.ParseMessage(data)
	if err != nil {
		c.reply(ctx, ReplyInvalidMessage)
		return
	}
	t, err := msg.Type()
	if err != nil {
		c.replyValidation(ctx, err)
		return
	}
	if t == event.TypeConnected {
		c.bridges.Ensure(c.canvasID)
		c.replay(ctx)
		return
	}

	ev, err := event.Validate(msg, time.Now())
	if err != nil {
		c.replyValidation(ctx, err)
		return
	}
	if err := c.svc.Ingest(ctx, c.canvasID, ev); err != nil {
		if errors.Is(err, canvas.ErrBusy) {
			c.reply(ctx, ReplyServerBusy)
			return
		}
		reason := backendFailure(err)
		c.metrics.RecordBackendError(reason)
		c.logger.Error("ingest event failed", "type", t, "reason", reason, "error", err)
		c.reply(ctx, ReplyServerError)
		return
	}
	c.bridges.Ensure(c.canvasID)
}

// backendFailure 区分后端连接失效和其他后端错误，用作日志和指标的 reason
func backendFailure(err error) string {
	if errors.Is(err, store.ErrUnavailable) {
		return "backend_unavailable"
	}
	return "backend_error"
}

func (c *Conn) replyValidation(ctx context.Context, err error) {
	switch {
	case errors.Is(err, event.ErrMissingType):
		c.reply(ctx, ReplyNoType)
	case errors.Is(err, event.ErrUnknownType):
		c.reply(ctx, ReplyInvalidType)
	default:
		c.reply(ctx, ReplyInvalidMessage)
	}
}

// replay 先发完历史再恢复实时投递。回放期间到达的实时事件先缓存，
// 回放结束后补发，已经在历史里发过的（同一份字节）跳过。
func (c *Conn) replay(ctx context.Context) {
	c.mu.Lock()
	c.replaying = true
	c.mu.Unlock()

	sent := make(map[string]struct{})
	n, err := c.svc.Replay(ctx, c.canvasID, func(payload []byte) error {
		sent[string(payload)] = struct{}{}
		return c.enqueue(ctx, append([]byte(nil), payload...))
	})
	if err != nil && !errors.Is(err, ErrConnClosed) {
		reason := backendFailure(err)
		c.metrics.RecordBackendError(reason)
		c.logger.Error("replay failed", "replayed", n, "reason", reason, "error", err)
		c.reply(ctx, ReplyServerError)
	}
	c.flushPending(ctx, sent)
	c.logger.Debug("replay done", "replayed", n)
}

func (c *Conn) flushPending(ctx context.Context, sent map[string]struct{}) {
	for {
		c.mu.Lock()
		batch := c.pending
		c.pending = nil
		if len(batch) == 0 {
			c.replaying = false
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()

		for _, d := range batch {
			if _, dup := sent[string(d.Payload)]; dup {
				continue
			}
			// sdelay 按实际发出的时间重新计算
			b, err := json.Marshal(d.At(time.Now()))
			if err != nil {
				continue
			}
			if err := c.enqueue(ctx, b); err != nil {
				// 连接已经关了，剩下的不用再发
				c.mu.Lock()
				c.pending = nil
				c.replaying = false
				c.mu.Unlock()
				return
			}
		}
	}
}

func (c *Conn) writeLoop() {
	for {
		select {
		case frame := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.logger.Info("write message error", "error", err)
				_ = c.Close()
				return
			}
		case <-c.done:
			return
		}
	}
}
