package ws

// 回给客户端的错误文案，客户端按字符串匹配
const (
	ReplyNoType         = "no message type specified"
	ReplyInvalidType    = "invalid type"
	ReplyInvalidMessage = "invalid message"
	ReplyServerBusy     = "server busy"
	ReplyServerError    = "server error"
)

// ErrorMessage 是发给单个连接的错误回复，不会广播
type ErrorMessage struct {
	Error string `json:"error"`
}
