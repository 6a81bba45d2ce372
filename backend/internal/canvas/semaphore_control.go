package canvas

import (
	"context"
	"errors"
)

// DefaultSemaphoreSize 是并发写后端（发布 + 写日志）的默认上限
const DefaultSemaphoreSize = 100

var (
	ErrBusy        = errors.New("canvas: acquire reached time limit")
	ErrNotAcquired = errors.New("canvas: release failed, semaphore is not acquired")
)

type SemaphoreControl struct {
	ch chan struct{}
}

func NewSemaphoreControl(size int) *SemaphoreControl {
	if size <= 0 {
		size = DefaultSemaphoreSize
	}
	return &SemaphoreControl{ch: make(chan struct{}, size)}
}

func (s *SemaphoreControl) Acquire(ctx context.Context) error {
	select {
	case s.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ErrBusy
	}
}

func (s *SemaphoreControl) Release() error {
	select {
	case <-s.ch:
		return nil
	default:
		return ErrNotAcquired
	}
}
