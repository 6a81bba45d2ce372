package canvas

import (
	"encoding/json"
	"time"
)

// ExportEvent 是写入 Kafka 的画布事件，按 canvasId 分区
type ExportEvent struct {
	CanvasID   string          `json:"canvasId"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	IngestedAt time.Time       `json:"ingestedAt"`
}
