package store

import "fmt"

// 键语义：
// - drawKey(canvasID): 绘图日志（Stream，字段 json=事件）
// - chatKey(canvasID): 聊天日志（Stream，字段 json=事件）
//
// {canvas:%s} 是集群哈希标签，同一画布的两条日志落在同一个 slot
const (
	keyDrawStreamFmt = "drawstream:{canvas:%s}"
	keyChatStreamFmt = "chatstream:{canvas:%s}"

	// 与原有客户端约定的字段名
	streamField = "json"
)

func drawKey(canvasID string) string { return fmt.Sprintf(keyDrawStreamFmt, canvasID) }
func chatKey(canvasID string) string { return fmt.Sprintf(keyChatStreamFmt, canvasID) }

func streamKey(canvasID string, kind Kind) string {
	if kind == KindChat {
		return chatKey(canvasID)
	}
	return drawKey(canvasID)
}
