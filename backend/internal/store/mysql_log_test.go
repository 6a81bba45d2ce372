package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	mysqldriver "github.com/go-sql-driver/mysql"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newMockLog(t *testing.T) (OrderedLog, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })

	db, err := gorm.Open(mysql.New(mysql.Config{Conn: sqlDB, SkipInitializeWithVersion: true}), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("gorm.Open: %v", err)
	}
	return NewMySQLLog(db), mock
}

func TestMySQLLog_AppendReturnsInsertID(t *testing.T) {
	l, mock := newMockLog(t)
	mock.ExpectExec("INSERT INTO `canvas_log_entries`").
		WillReturnResult(sqlmock.NewResult(42, 1))

	cursor, err := l.Append(context.Background(), "c1", KindDraw, []byte(`{"t":"point"}`))
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if cursor != "42" {
		t.Fatalf("cursor = %q, want 42", cursor)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestMySQLLog_ReadFromMapsRows(t *testing.T) {
	l, mock := newMockLog(t)
	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "canvas_id", "kind", "payload", "created_at"}).
		AddRow(5, "c1", "chat", `{"t":"chat","m":"a"}`, now).
		AddRow(9, "c1", "chat", `{"t":"chat","m":"b"}`, now)
	mock.ExpectQuery("SELECT \\* FROM `canvas_log_entries` WHERE").
		WillReturnRows(rows)

	entries, err := l.ReadFrom(context.Background(), "c1", KindChat, "3", 2)
	if err != nil {
		t.Fatalf("ReadFrom: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	if entries[0].Cursor != "5" || entries[1].Cursor != "9" {
		t.Fatalf("cursors = %s,%s", entries[0].Cursor, entries[1].Cursor)
	}
	if string(entries[1].Payload) != `{"t":"chat","m":"b"}` {
		t.Fatalf("payload = %s", entries[1].Payload)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestMySQLLog_ReadFromEmpty(t *testing.T) {
	l, mock := newMockLog(t)
	mock.ExpectQuery("SELECT \\* FROM `canvas_log_entries` WHERE").
		WillReturnRows(sqlmock.NewRows([]string{"id", "canvas_id", "kind", "payload", "created_at"}))

	entries, err := l.ReadFrom(context.Background(), "c1", KindDraw, StartCursor, 100)
	if err != nil {
		t.Fatalf("ReadFrom: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("entries = %d, want 0", len(entries))
	}
}

func TestMySQLLog_ClearDeletesDrawOnly(t *testing.T) {
	l, mock := newMockLog(t)
	mock.ExpectExec("DELETE FROM `canvas_log_entries` WHERE").
		WithArgs("c1", "draw").
		WillReturnResult(sqlmock.NewResult(0, 3))

	if err := l.Clear(context.Background(), "c1"); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestMySQLLog_ConnectionLossIsUnavailable(t *testing.T) {
	l, mock := newMockLog(t)
	mock.ExpectExec("INSERT INTO `canvas_log_entries`").
		WillReturnError(mysqldriver.ErrInvalidConn)

	_, err := l.Append(context.Background(), "c1", KindChat, []byte(`{}`))
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Append error = %v, want ErrUnavailable", err)
	}
}

func TestMySQLLog_BadCursor(t *testing.T) {
	l, _ := newMockLog(t)
	if _, err := l.ReadFrom(context.Background(), "c1", KindDraw, "1700000000000-0", 10); !errors.Is(err, ErrInvalidCursor) {
		t.Fatalf("ReadFrom error = %v, want ErrInvalidCursor", err)
	}
}
