package event

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Delivered 是投递给订阅者的事件：原始事件 JSON + 投递时计算的 sdelay。
// 只在投递时生成，从不持久化。
type Delivered struct {
	Payload json.RawMessage
	DelayMs float64
	// STime 是载荷里的服务端时间，用来在延后投递时重算 DelayMs
	STime float64
}

// NewDelivered 解析 pub/sub 收到的载荷并计算 sdelay = now - stime（毫秒）。
// 载荷不是事件时返回错误，调用方直接跳过。
func NewDelivered(payload []byte, now time.Time) (Delivered, error) {
	ev, err := Decode(payload)
	if err != nil {
		return Delivered{}, err
	}
	d := Delivered{Payload: append(json.RawMessage(nil), payload...), STime: ev.ServerTime()}
	return d.At(now), nil
}

// At 返回以 now 为投递时间重算 sdelay 后的副本
func (d Delivered) At(now time.Time) Delivered {
	d.DelayMs = (Timestamp(now) - d.STime) * 1000
	// 跨进程时钟偏差可能算出负数
	if d.DelayMs < 0 {
		d.DelayMs = 0
	}
	return d
}

// SDelay 是 sdelay 字段的值，保留三位小数
func (d Delivered) SDelay() string {
	return strconv.FormatFloat(d.DelayMs, 'f', 3, 64)
}

// MarshalJSON 在事件对象末尾追加 "sdelay"
func (d Delivered) MarshalJSON() ([]byte, error) {
	body := bytes.TrimSpace(d.Payload)
	if len(body) < 2 || body[0] != '{' || body[len(body)-1] != '}' {
		return nil, fmt.Errorf("%w: delivered payload is not an object", ErrInvalidPayload)
	}
	inner := bytes.TrimSpace(body[1 : len(body)-1])

	var buf bytes.Buffer
	buf.Grow(len(body) + 24)
	buf.WriteByte('{')
	if len(inner) > 0 {
		buf.Write(inner)
		buf.WriteByte(',')
	}
	buf.WriteString(`"sdelay":"`)
	buf.WriteString(d.SDelay())
	buf.WriteString(`"}`)
	return buf.Bytes(), nil
}
