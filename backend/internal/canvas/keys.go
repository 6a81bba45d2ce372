package canvas

import "fmt"

// 频道名带 {canvas:id} hash tag，Redis Cluster 下同一画布落在同一个 slot
const (
	keyDrawChannelFmt = "draw:{canvas:%s}"
	keyChatChannelFmt = "chat:{canvas:%s}"
)

func DrawChannel(canvasID string) string {
	return fmt.Sprintf(keyDrawChannelFmt, canvasID)
}

func ChatChannel(canvasID string) string {
	return fmt.Sprintf(keyChatChannelFmt, canvasID)
}

const maxIDLength = 128

// ValidID 检查画布 ID：非空、不超过 128 个字符，只允许字母数字、'-' 和 '_'
func ValidID(id string) bool {
	if id == "" || len(id) > maxIDLength {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return false
		}
	}
	return true
}
