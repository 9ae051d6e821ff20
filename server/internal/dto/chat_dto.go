package dto

import (
	"encoding/json"

	"DocChat/server/internal/model"
)

// Realtime event names.
const (
	EventAsk           = "ask"
	EventReply         = "reply"
	EventReplyError    = "reply-error"
	EventHistoryLoaded = "history-loaded"
)

// Envelope wraps every websocket frame in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// AskReq is the client's question. It carries no user field:
// identity comes from the connection.
type AskReq struct {
	FileID       string `json:"fileId"`
	UserQuestion string `json:"userQuestion"`
}

type Reply struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

type ReplyError struct {
	Error string `json:"error"`
}

type HistoryLoaded struct {
	Turns []model.Turn `json:"turns"`
}
