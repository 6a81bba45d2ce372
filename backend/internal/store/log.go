package store

import (
	"context"
	"errors"
	"fmt"
)

// Kind 区分同一画布下的两条有序日志
type Kind string

const (
	KindDraw Kind = "draw"
	KindChat Kind = "chat"
)

// StartCursor 表示“从头开始读”，所有后端都认这个值
const StartCursor = "0"

var (
	ErrInvalidCursor = errors.New("store: invalid cursor")
	ErrUnknownKind   = errors.New("store: unknown log kind")
	// ErrUnavailable 表示后端连接已失效（区别于普通的查询错误），各后端按自己的驱动错误归类
	ErrUnavailable   = errors.New("store: backend unavailable")
)

// Entry 是日志中的一条记录：游标 + 序列化后的事件
type Entry struct {
	Cursor  string
	Payload []byte
}

// OrderedLog 是按画布、按类型分开的追加型有序日志。
// ReadFrom 返回游标严格大于 cursor 的至多 limit 条记录，升序；
// 返回空切片表示已经追平。
type OrderedLog interface {
	Append(ctx context.Context, canvasID string, kind Kind, payload []byte) (string, error)
	Clear(ctx context.Context, canvasID string) error
	ReadFrom(ctx context.Context, canvasID string, kind Kind, cursor string, limit int) ([]Entry, error)
}

func checkKind(kind Kind) error {
	switch kind {
	case KindDraw, KindChat:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
}
