package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Type 是消息里的 "t" 字段
type Type string

const (
	TypePoint Type = "point"
	TypeLine  Type = "line"
	TypeClear Type = "clear"
	TypeChat  Type = "chat"

	// TypeConnected 不是事件：客户端用它请求全量回放，既不持久化也不发布
	TypeConnected Type = "connected"
)

var (
	ErrMissingType    = errors.New("event: missing type")
	ErrUnknownType    = errors.New("event: unknown type")
	ErrInvalidPayload = errors.New("event: invalid payload")
)

// Event 是画布事件的闭合集合：Point / Line / Clear / Chat。
// isEvent 未导出，包外无法新增实现。
type Event interface {
	Type() Type
	ServerTime() float64
	isEvent()
}

type Point struct {
	T     Type    `json:"t"`
	C     string  `json:"c"`
	X     int     `json:"x"`
	Y     int     `json:"y"`
	Color *string `json:"color"`
	Width int     `json:"width"`
	STime float64 `json:"stime"`
	CTime float64 `json:"ctime"`
}

type Line struct {
	T     Type    `json:"t"`
	C     string  `json:"c"`
	FX    int     `json:"fx"`
	FY    int     `json:"fy"`
	TX    int     `json:"tx"`
	TY    int     `json:"ty"`
	Color *string `json:"color"`
	Width int     `json:"width"`
	STime float64 `json:"stime"`
	CTime int64   `json:"ctime"`
}

// Clear 清空画布的绘图历史（聊天历史保留）
type Clear struct {
	T     Type    `json:"t"`
	C     *string `json:"c"`
	STime float64 `json:"stime"`
	CTime int64   `json:"ctime"`
}

type Chat struct {
	T     Type    `json:"t"`
	M     string  `json:"m"`
	STime float64 `json:"stime"`
}

func (Point) Type() Type { return TypePoint }
func (Line) Type() Type  { return TypeLine }
func (Clear) Type() Type { return TypeClear }
func (Chat) Type() Type  { return TypeChat }

func (p Point) ServerTime() float64 { return p.STime }
func (l Line) ServerTime() float64  { return l.STime }
func (c Clear) ServerTime() float64 { return c.STime }
func (c Chat) ServerTime() float64  { return c.STime }

func (Point) isEvent() {}
func (Line) isEvent()  {}
func (Clear) isEvent() {}
func (Chat) isEvent()  {}

// Timestamp 把时间转成 Unix 秒（带小数），即 stime 的格式
func Timestamp(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

// Encode 序列化事件。发布到 pub/sub 和写入日志的是同一份字节。
func Encode(ev Event) ([]byte, error) {
	if ev == nil {
		return nil, errors.New("event: nil event")
	}
	return json.Marshal(ev)
}

// Decode 解析已经通过校验、由服务端写出的事件（stime 可信）。
func Decode(payload []byte) (Event, error) {
	var head struct {
		T     Type     `json:"t"`
		STime *float64 `json:"stime"`
	}
	if err := json.Unmarshal(payload, &head); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if head.STime == nil {
		return nil, fmt.Errorf("%w: stime missing", ErrInvalidPayload)
	}

	var (
		ev  Event
		err error
	)
	switch head.T {
	case TypePoint:
		var p Point
		err = json.Unmarshal(payload, &p)
		ev = p
	case TypeLine:
		var l Line
		err = json.Unmarshal(payload, &l)
		ev = l
	case TypeClear:
		var c Clear
		err = json.Unmarshal(payload, &c)
		ev = c
	case TypeChat:
		var c Chat
		err = json.Unmarshal(payload, &c)
		ev = c
	case "":
		return nil, ErrMissingType
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, head.T)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return ev, nil
}
