package pubsub

import (
	"context"
	"errors"
)

// ErrClosed 表示订阅已经被关闭（本地主动关闭或后端断开）
var ErrClosed = errors.New("pubsub: subscription closed")

// Message 是从订阅流里收到的一条消息。
// Control 为 true 时是订阅确认之类的控制消息，没有事件载荷。
type Message struct {
	Channel string
	Payload []byte
	Control bool
}

type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

type Subscriber interface {
	Subscribe(ctx context.Context, channels ...string) (Subscription, error)
}

// Subscription 是一个实时消息流。Receive 阻塞到下一条消息；
// 返回的错误（ctx 取消除外）都表示与后端的连接不可恢复。
type Subscription interface {
	Receive(ctx context.Context) (Message, error)
	Close() error
}

// Client 同时具备发布和订阅能力
type Client interface {
	Publisher
	Subscriber
}
