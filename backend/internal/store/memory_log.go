package store

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
)

// 内存实现：单进程开发/测试用，进程重启即丢失
type memoryLog struct {
	mu   sync.RWMutex
	seq  uint64
	logs map[logKey][]memoryEntry
}

type logKey struct {
	canvasID string
	kind     Kind
}

type memoryEntry struct {
	seq     uint64
	payload []byte
}

var _ OrderedLog = (*memoryLog)(nil)

func NewMemoryLog() OrderedLog {
	return &memoryLog{logs: make(map[logKey][]memoryEntry)}
}

func (l *memoryLog) Append(ctx context.Context, canvasID string, kind Kind, payload []byte) (string, error) {
	if err := checkKind(kind); err != nil {
		return "", err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seq++
	k := logKey{canvasID: canvasID, kind: kind}
	l.logs[k] = append(l.logs[k], memoryEntry{seq: l.seq, payload: append([]byte(nil), payload...)})
	return strconv.FormatUint(l.seq, 10), nil
}

func (l *memoryLog) Clear(ctx context.Context, canvasID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.logs, logKey{canvasID: canvasID, kind: KindDraw})
	return nil
}

func (l *memoryLog) ReadFrom(ctx context.Context, canvasID string, kind Kind, cursor string, limit int) ([]Entry, error) {
	if err := checkKind(kind); err != nil {
		return nil, err
	}
	after, err := strconv.ParseUint(cursor, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidCursor, cursor)
	}
	if limit <= 0 {
		limit = 100
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	entries := l.logs[logKey{canvasID: canvasID, kind: kind}]
	// seq 递增，二分找到第一个 > after 的位置
	i := sort.Search(len(entries), func(i int) bool { return entries[i].seq > after })
	if i == len(entries) {
		return nil, nil
	}
	end := min(i+limit, len(entries))
	out := make([]Entry, 0, end-i)
	for _, e := range entries[i:end] {
		out = append(out, Entry{Cursor: strconv.FormatUint(e.seq, 10), Payload: append([]byte(nil), e.payload...)})
	}
	return out, nil
}
