package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"

	redis "github.com/redis/go-redis/v9"
)

// 具体实现：基于 Redis Stream 的有序日志
type redisStreamLog struct {
	rdb redis.UniversalClient
}

var _ OrderedLog = (*redisStreamLog)(nil)

func NewRedisStreamLog(rdb redis.UniversalClient) OrderedLog {
	return &redisStreamLog{rdb: rdb}
}

func (l *redisStreamLog) Append(ctx context.Context, canvasID string, kind Kind, payload []byte) (string, error) {
	if err := checkKind(kind); err != nil {
		return "", err
	}
	// ID 用 "*"，由 Redis 生成单调递增的 <ms>-<seq>
	id, err := l.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: streamKey(canvasID, kind),
		Values: map[string]interface{}{streamField: payload},
	}).Result()
	if err != nil {
		return "", classifyRedis("xadd "+streamKey(canvasID, kind), err)
	}
	return id, nil
}

// Clear 只删除绘图日志，聊天日志不动
func (l *redisStreamLog) Clear(ctx context.Context, canvasID string) error {
	if err := l.rdb.Del(ctx, drawKey(canvasID)).Err(); err != nil {
		return classifyRedis("del "+drawKey(canvasID), err)
	}
	return nil
}

func (l *redisStreamLog) ReadFrom(ctx context.Context, canvasID string, kind Kind, cursor string, limit int) ([]Entry, error) {
	if err := checkKind(kind); err != nil {
		return nil, err
	}
	if !validStreamID(cursor) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidCursor, cursor)
	}
	if limit <= 0 {
		limit = 100
	}
	key := streamKey(canvasID, kind)
	// Block: -1 表示不带 BLOCK 参数，没有数据时立刻返回 redis.Nil
	streams, err := l.rdb.XRead(ctx, &redis.XReadArgs{
		Streams: []string{key, cursor},
		Count:   int64(limit),
		Block:   -1,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, classifyRedis("xread "+key, err)
	}
	if len(streams) == 0 {
		return nil, nil
	}

	entries := make([]Entry, 0, len(streams[0].Messages))
	for _, m := range streams[0].Messages {
		// 字段缺失的记录保留游标、载荷为空，调用方跳过即可，游标照常前进
		var payload []byte
		switch x := m.Values[streamField].(type) {
		case string:
			payload = []byte(x)
		case []byte:
			payload = x
		}
		entries = append(entries, Entry{Cursor: m.ID, Payload: payload})
	}
	return entries, nil
}

// 连不上、连接被断开、客户端已关闭都归为 ErrUnavailable
func classifyRedis(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) || errors.Is(err, io.EOF) || errors.Is(err, redis.ErrClosed) {
		return fmt.Errorf("%s: %w: %v", op, ErrUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// Stream ID 形如 "0"、"1700000000000" 或 "1700000000000-3"
func validStreamID(id string) bool {
	ms, seq, hasSeq := strings.Cut(id, "-")
	if _, err := strconv.ParseUint(ms, 10, 64); err != nil {
		return false
	}
	if hasSeq {
		if _, err := strconv.ParseUint(seq, 10, 64); err != nil {
			return false
		}
	}
	return true
}
