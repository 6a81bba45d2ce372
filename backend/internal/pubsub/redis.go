package pubsub

import (
	"context"
	"fmt"
	"sync/atomic"

	redis "github.com/redis/go-redis/v9"
)

// 具体实现：基于 Redis PUBLISH/SUBSCRIBE
type redisClient struct {
	rdb redis.UniversalClient
}

var _ Client = (*redisClient)(nil)

func NewRedis(rdb redis.UniversalClient) Client {
	return &redisClient{rdb: rdb}
}

func (c *redisClient) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := c.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe 等到第一条订阅确认才返回，返回后发布的消息一定能收到。
// 一条 SUBSCRIBE 命令里的多个频道是一起生效的，剩下的确认作为控制消息留给 Receive。
func (c *redisClient) Subscribe(ctx context.Context, channels ...string) (Subscription, error) {
	ps := c.rdb.Subscribe(ctx, channels...)
	// PubSub.Receive 只认 ctx 的 deadline，取消时关闭连接来打断等待
	stop := context.AfterFunc(ctx, func() { _ = ps.Close() })
	msg, err := ps.Receive(ctx)
	stop()
	if err != nil {
		_ = ps.Close()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("subscribe %v: %w", channels, err)
	}
	if ctx.Err() != nil {
		_ = ps.Close()
		return nil, ctx.Err()
	}
	if _, ok := msg.(*redis.Subscription); !ok {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %v: unexpected reply %T", channels, msg)
	}
	return &redisSubscription{ps: ps}, nil
}

type redisSubscription struct {
	ps     *redis.PubSub
	closed atomic.Bool
}

// Receive 用 PubSub.Receive 而不是 Channel()：Channel() 会在断线后静默重连，
// 这里需要把连接错误交给调用方
func (s *redisSubscription) Receive(ctx context.Context) (Message, error) {
	msg, err := s.ps.Receive(ctx)
	if err != nil {
		if s.closed.Load() {
			return Message{}, ErrClosed
		}
		return Message{}, err
	}
	switch m := msg.(type) {
	case *redis.Message:
		return Message{Channel: m.Channel, Payload: []byte(m.Payload)}, nil
	case *redis.Subscription:
		return Message{Channel: m.Channel, Control: true}, nil
	default:
		// *redis.Pong 等
		return Message{Control: true}, nil
	}
}

func (s *redisSubscription) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.ps.Close()
}
