package pubsub

import (
	"context"
	"sync"
)

const memoryBuffer = 1024

// Memory 是进程内的 pub/sub，单实例部署和测试用。
// 与 Redis 一样，订阅者跟不上时消息会被丢弃。
type Memory struct {
	mu   sync.RWMutex
	subs map[string]map[*memorySubscription]struct{}
}

var _ Client = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{subs: make(map[string]map[*memorySubscription]struct{})}
}

func (m *Memory) Publish(ctx context.Context, channel string, payload []byte) error {
	msg := Message{Channel: channel, Payload: append([]byte(nil), payload...)}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for s := range m.subs[channel] {
		s.push(msg)
	}
	return nil
}

func (m *Memory) Subscribe(ctx context.Context, channels ...string) (Subscription, error) {
	s := &memorySubscription{
		m:        m,
		channels: channels,
		ch:       make(chan Message, memoryBuffer),
		done:     make(chan struct{}),
	}
	m.mu.Lock()
	for _, c := range channels {
		if m.subs[c] == nil {
			m.subs[c] = make(map[*memorySubscription]struct{})
		}
		m.subs[c][s] = struct{}{}
		// 模拟订阅确认
		s.push(Message{Channel: c, Control: true})
	}
	m.mu.Unlock()
	return s, nil
}

// Disconnect 关闭所有订阅，相当于与后端断开连接
func (m *Memory) Disconnect() {
	m.mu.Lock()
	all := make(map[*memorySubscription]struct{})
	for _, set := range m.subs {
		for s := range set {
			all[s] = struct{}{}
		}
	}
	m.subs = make(map[string]map[*memorySubscription]struct{})
	m.mu.Unlock()

	for s := range all {
		s.shutdown()
	}
}

// Subscribers 返回某个频道当前的订阅数
func (m *Memory) Subscribers(channel string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subs[channel])
}

func (m *Memory) remove(s *memorySubscription) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range s.channels {
		if set := m.subs[c]; set != nil {
			delete(set, s)
			if len(set) == 0 {
				delete(m.subs, c)
			}
		}
	}
}

type memorySubscription struct {
	m        *Memory
	channels []string
	ch       chan Message
	done     chan struct{}
	once     sync.Once
}

func (s *memorySubscription) push(msg Message) {
	select {
	case s.ch <- msg:
	default:
		// 队列满了，丢弃
	}
}

func (s *memorySubscription) Receive(ctx context.Context) (Message, error) {
	select {
	case msg := <-s.ch:
		return msg, nil
	case <-s.done:
		return Message{}, ErrClosed
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

func (s *memorySubscription) Close() error {
	s.m.remove(s)
	s.shutdown()
	return nil
}

func (s *memorySubscription) shutdown() {
	s.once.Do(func() { close(s.done) })
}
