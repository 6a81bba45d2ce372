package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// 单例：validator 会缓存结构体的解析结果
var validate = validator.New(validator.WithRequiredStructEnabled())

// Message 是客户端发来的原始 JSON 对象（字段名 -> 原始值）
type Message map[string]json.RawMessage

// ParseMessage 把一帧文本解析成 Message；不是 JSON 对象时返回 ErrInvalidPayload
func ParseMessage(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	// "null" 能解析成功，但得到的是 nil map
	if msg == nil {
		return nil, fmt.Errorf("%w: not an object", ErrInvalidPayload)
	}
	return msg, nil
}

// Type 读取 "t"。缺失返回 ErrMissingType；存在但不是字符串视为未知类型。
func (m Message) Type() (Type, error) {
	raw, ok := m["t"]
	if !ok {
		return "", ErrMissingType
	}
	var t string
	if err := json.Unmarshal(raw, &t); err != nil {
		return "", fmt.Errorf("%w: %s", ErrUnknownType, raw)
	}
	return Type(t), nil
}

// 入站结构：指针用于区分“缺失”和“零值”，stime 不在其中，客户端传了也会被忽略
type pointInput struct {
	C     *string  `json:"c" validate:"required"`
	X     *int     `json:"x" validate:"required"`
	Y     *int     `json:"y" validate:"required"`
	Color *string  `json:"color" validate:"omitempty,max=9,startswith=#"`
	Width *int     `json:"width" validate:"required,min=1,max=10"`
	CTime *float64 `json:"ctime" validate:"required"`
}

type lineInput struct {
	C     *string `json:"c" validate:"required"`
	FX    *int    `json:"fx" validate:"required"`
	FY    *int    `json:"fy" validate:"required"`
	TX    *int    `json:"tx" validate:"required"`
	TY    *int    `json:"ty" validate:"required"`
	Color *string `json:"color" validate:"omitempty,max=9,startswith=#"`
	Width *int    `json:"width" validate:"required,min=1,max=10"`
	CTime *int64  `json:"ctime" validate:"required"`
}

type clearInput struct {
	C     *string `json:"c"`
	CTime *int64  `json:"ctime" validate:"required"`
}

type chatInput struct {
	M *string `json:"m" validate:"required,max=512"`
}

// Validate 按 "t" 校验并规范化消息，stime 一律用 now 覆盖。
func Validate(msg Message, now time.Time) (Event, error) {
	t, err := msg.Type()
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	stime := Timestamp(now)

	switch t {
	case TypePoint:
		var in pointInput
		if err := decodeInput(body, &in); err != nil {
			return nil, err
		}
		return Point{
			T: TypePoint, C: *in.C, X: *in.X, Y: *in.Y,
			Color: in.Color, Width: *in.Width,
			STime: stime, CTime: *in.CTime,
		}, nil

	case TypeLine:
		var in lineInput
		if err := decodeInput(body, &in); err != nil {
			return nil, err
		}
		return Line{
			T: TypeLine, C: *in.C,
			FX: *in.FX, FY: *in.FY, TX: *in.TX, TY: *in.TY,
			Color: in.Color, Width: *in.Width,
			STime: stime, CTime: *in.CTime,
		}, nil

	case TypeClear:
		var in clearInput
		if err := decodeInput(body, &in); err != nil {
			return nil, err
		}
		return Clear{T: TypeClear, C: in.C, STime: stime, CTime: *in.CTime}, nil

	case TypeChat:
		var in chatInput
		if err := decodeInput(body, &in); err != nil {
			return nil, err
		}
		return Chat{T: TypeChat, M: *in.M, STime: stime}, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, t)
	}
}

func decodeInput(body []byte, dst any) error {
	// 类型不匹配（比如 width 传了字符串）由 json 报错
	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := validate.Struct(dst); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}
