package canvas

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"canvasServer/backend/internal/event"
	"canvasServer/backend/internal/pubsub"
	"canvasServer/backend/internal/store"
)

const (
	DefaultReplayBatch    = 100
	DefaultAcquireTimeout = 200 * time.Millisecond
	exportEnqueueTimeout  = 50 * time.Millisecond
)

// Exporter 接收已写入的事件做异步导出，KafkaDispatcher 实现了它
type Exporter interface {
	Enqueue(ctx context.Context, evt ExportEvent) error
}

var _ Exporter = (*KafkaDispatcher)(nil)

// Service 负责校验后事件的落地：发布到画布频道并写入有序日志，
// 以及新连接的历史回放
type Service struct {
	pub      pubsub.Publisher
	log      store.OrderedLog
	sem      *SemaphoreControl
	exporter Exporter
	metrics  *Metrics
	logger   *slog.Logger

	replayBatch    int
	acquireTimeout time.Duration
}

type ServiceOptions struct {
	ReplayBatch    int
	AcquireTimeout time.Duration
	Semaphore      *SemaphoreControl
	Exporter       Exporter
	Metrics        *Metrics
	Logger         *slog.Logger
}

func NewService(pub pubsub.Publisher, log store.OrderedLog, opt ServiceOptions) *Service {
	if opt.ReplayBatch <= 0 {
		opt.ReplayBatch = DefaultReplayBatch
	}
	if opt.AcquireTimeout <= 0 {
		opt.AcquireTimeout = DefaultAcquireTimeout
	}
	logger := opt.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		pub:            pub,
		log:            log,
		sem:            opt.Semaphore,
		exporter:       opt.Exporter,
		metrics:        opt.Metrics,
		logger:         logger.With("component", "canvas_service"),
		replayBatch:    opt.ReplayBatch,
		acquireTimeout: opt.AcquireTimeout,
	}
}

// Ingest 发布事件并写日志。chat 走聊天频道和聊天日志；
// clear 发布到绘图频道后清空绘图日志（clear 本身不入日志）；其余追加到绘图日志。
func (s *Service) Ingest(ctx context.Context, canvasID string, ev event.Event) error {
	if s.sem != nil {
		actx, cancel := context.WithTimeout(ctx, s.acquireTimeout)
		err := s.sem.Acquire(actx)
		cancel()
		if err != nil {
			return err
		}
		defer s.sem.Release()
	}

	payload, err := event.Encode(ev)
	if err != nil {
		return err
	}

	var channel string
	var kind store.Kind
	switch ev.(type) {
	case event.Chat:
		channel, kind = ChatChannel(canvasID), store.KindChat
	case event.Point, event.Line, event.Clear:
		channel, kind = DrawChannel(canvasID), store.KindDraw
	default:
		return fmt.Errorf("%w: %T", event.ErrUnknownType, ev)
	}

	if err := s.pub.Publish(ctx, channel, payload); err != nil {
		return err
	}
	if ev.Type() == event.TypeClear {
		if err := s.log.Clear(ctx, canvasID); err != nil {
			return fmt.Errorf("clear canvas %s: %w", canvasID, err)
		}
	} else {
		if _, err := s.log.Append(ctx, canvasID, kind, payload); err != nil {
			return fmt.Errorf("append %s log of canvas %s: %w", kind, canvasID, err)
		}
	}
	s.metrics.RecordIngest(string(ev.Type()))
	s.export(ctx, canvasID, ev.Type(), payload)
	return nil
}

func (s *Service) export(ctx context.Context, canvasID string, t event.Type, payload []byte) {
	if s.exporter == nil {
		return
	}
	ectx, cancel := context.WithTimeout(ctx, exportEnqueueTimeout)
	defer cancel()
	err := s.exporter.Enqueue(ectx, ExportEvent{
		CanvasID:   canvasID,
		Type:       string(t),
		Payload:    payload,
		IngestedAt: time.Now(),
	})
	if err != nil {
		s.logger.Debug("export enqueue skipped", "canvas_id", canvasID, "error", err)
	}
}

// Replay 依次回放绘图日志和聊天日志，每条记录调用一次 fn，返回回放条数。
// 空记录会跳过但游标照常前进。
func (s *Service) Replay(ctx context.Context, canvasID string, fn func(payload []byte) error) (int, error) {
	total := 0
	for _, kind := range []store.Kind{store.KindDraw, store.KindChat} {
		n, err := s.replayKind(ctx, canvasID, kind, fn)
		total += n
		if err != nil {
			s.metrics.RecordReplay(total)
			return total, err
		}
	}
	s.metrics.RecordReplay(total)
	return total, nil
}

func (s *Service) replayKind(ctx context.Context, canvasID string, kind store.Kind, fn func([]byte) error) (int, error) {
	cursor := store.StartCursor
	n := 0
	for {
		entries, err := s.log.ReadFrom(ctx, canvasID, kind, cursor, s.replayBatch)
		if err != nil {
			return n, fmt.Errorf("read %s log of canvas %s: %w", kind, canvasID, err)
		}
		// 读到空批次才算追平
		if len(entries) == 0 {
			return n, nil
		}
		for _, e := range entries {
			cursor = e.Cursor
			if len(e.Payload) == 0 {
				continue
			}
			if err := fn(e.Payload); err != nil {
				return n, err
			}
			n++
		}
	}
}
