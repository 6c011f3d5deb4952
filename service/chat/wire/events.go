package wire

import (
	"encoding/json"

	"CProject/module/chat/model"
)

// Connection events are tagged JSON frames: {"op": ..., "data": ...}. The
// dispatcher decodes the tag and hands the raw data to the handler for that
// op, which keeps the connection state machine in one visible table instead
// of nested callbacks.

// Inbound ops.
const (
	OpAuth          = "auth"
	OpSendMessage   = "send_message"
	OpMarkRead      = "mark_read"
	OpUpdateMessage = "update_message"
	OpDeleteMessage = "delete_message"
	OpTyping        = "typing"
	OpFetchHistory  = "fetch_history"
	OpPing          = "ping"
)

// Outbound ops.
const (
	OpAuthOK             = "auth_ok"
	OpAuthError          = "auth_error"
	OpMessageSent        = "message_sent"
	OpMessageSendError   = "message_send_error"
	OpNewMessage         = "new_message"
	OpMessagesMarkedRead = "messages_marked_read"
	OpMessageUpdated     = "message_updated"
	OpMessageDeleted     = "message_deleted"
	OpUserTyping         = "user_typing"
	OpUserOnline         = "user_online"
	OpUserOffline        = "user_offline"
	OpOfflineReplay      = "offline_replay"
	OpHistory            = "history"
	OpPong               = "pong"
	OpError              = "error"
)

type Event struct {
	Op   string          `json:"op"`
	Data json.RawMessage `json:"data,omitempty"`
}

func Encode(op string, data any) ([]byte, error) {
	var raw json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		raw = b
	}
	return json.Marshal(Event{Op: op, Data: raw})
}

func Decode(raw []byte) (*Event, error) {
	var e Event
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

func (e *Event) Bind(out any) error {
	if len(e.Data) == 0 {
		return nil
	}
	return json.Unmarshal(e.Data, out)
}

// ===== inbound payloads =====

type AuthReq struct {
	Token string `json:"token"`
}

type SendMessageReq struct {
	ReceiverID     string               `json:"receiver_id,omitempty"`
	ConversationID string               `json:"conversation_id,omitempty"`
	ContextID      string               `json:"context_id,omitempty"`
	Type           string               `json:"type"`
	Content        model.MessageContent `json:"content"`
	ClientTempID   string               `json:"client_temp_id,omitempty"`
}

type MarkReadReq struct {
	MessageIDs     []string `json:"message_ids,omitempty"`
	ConversationID string   `json:"conversation_id,omitempty"`
}

type UpdateMessageReq struct {
	MessageID  string               `json:"message_id"`
	NewContent model.MessageContent `json:"new_content"`
}

type DeleteMessageReq struct {
	MessageID string `json:"message_id"`
}

type TypingReq struct {
	ConversationID string `json:"conversation_id"`
	IsTyping       bool   `json:"is_typing"`
}

type FetchHistoryReq struct {
	ConversationID string `json:"conversation_id"`
	BeforeMS       int64  `json:"before_ms,omitempty"`
	Limit          int64  `json:"limit,omitempty"`
}

// ===== outbound payloads =====

type AuthOK struct {
	UserID string `json:"user_id"`
	ConnID string `json:"conn_id"`
}

type MessageSent struct {
	ID             string `json:"id"`
	ClientTempID   string `json:"client_temp_id,omitempty"`
	ConversationID string `json:"conversation_id"`
}

type SendError struct {
	ClientTempID string `json:"client_temp_id,omitempty"`
	Error        string `json:"error"`
	Code         string `json:"code"`
}

type MarkedRead struct {
	ConversationID string   `json:"conversation_id,omitempty"`
	MessageIDs     []string `json:"message_ids"`
	ReaderID       string   `json:"reader_id"`
}

type MessageUpdated struct {
	Message model.Message `json:"message"`
}

type MessageDeleted struct {
	MessageID      string `json:"message_id"`
	ConversationID string `json:"conversation_id"`
}

type Typing struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
	IsTyping       bool   `json:"is_typing"`
}

type PresenceChange struct {
	UserID string `json:"user_id"`
}

type History struct {
	ConversationID string          `json:"conversation_id"`
	Messages       []model.Message `json:"messages"`
}

type OfflineReplay struct {
	Count int `json:"count"`
}
