package store

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
)

// LogRecord 是 MySQL 中的一条日志记录，自增 id 即游标
type LogRecord struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement"`
	CanvasID  string    `gorm:"type:varchar(128);not null;index:idx_canvas_kind_id,priority:1"`
	Kind      string    `gorm:"type:varchar(16);not null;index:idx_canvas_kind_id,priority:2"`
	Payload   string    `gorm:"type:text;not null"`
	CreatedAt time.Time
}

func (LogRecord) TableName() string { return "canvas_log_entries" }

type mysqlLog struct {
	db *gorm.DB
}

var _ OrderedLog = (*mysqlLog)(nil)

func NewMySQLLog(db *gorm.DB) OrderedLog {
	return &mysqlLog{db: db}
}

func (l *mysqlLog) Append(ctx context.Context, canvasID string, kind Kind, payload []byte) (string, error) {
	if err := checkKind(kind); err != nil {
		return "", err
	}
	rec := LogRecord{CanvasID: canvasID, Kind: string(kind), Payload: string(payload)}
	if err := l.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return "", classify("insert log entry", err)
	}
	return strconv.FormatUint(rec.ID, 10), nil
}

func (l *mysqlLog) Clear(ctx context.Context, canvasID string) error {
	err := l.db.WithContext(ctx).
		Where("canvas_id = ? AND kind = ?", canvasID, string(KindDraw)).
		Delete(&LogRecord{}).Error
	if err != nil {
		return classify("delete draw log", err)
	}
	return nil
}

func (l *mysqlLog) ReadFrom(ctx context.Context, canvasID string, kind Kind, cursor string, limit int) ([]Entry, error) {
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

	var recs []LogRecord
	err = l.db.WithContext(ctx).
		Where("canvas_id = ? AND kind = ? AND id > ?", canvasID, string(kind), after).
		Order("id").
		Limit(limit).
		Find(&recs).Error
	if err != nil {
		return nil, classify("read log entries", err)
	}
	if len(recs) == 0 {
		return nil, nil
	}
	out := make([]Entry, 0, len(recs))
	for _, r := range recs {
		out = append(out, Entry{Cursor: strconv.FormatUint(r.ID, 10), Payload: []byte(r.Payload)})
	}
	return out, nil
}

// 连接类错误归为 ErrUnavailable，其余原样包装
func classify(op string, err error) error {
	if errors.Is(err, mysql.ErrInvalidConn) || errors.Is(err, driver.ErrBadConn) {
		return fmt.Errorf("%s: %w: %v", op, ErrUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
