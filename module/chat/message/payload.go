package message

import "CProject/module/chat/model"

// Queue payload shapes. Each carries the minimum needed to apply its effect
// idempotently on a re-drain.

type NewMessagePayload struct {
	ID             string               `json:"id"`
	ConversationID string               `json:"conversation_id"`
	SenderID       string               `json:"sender_id"`
	ReceiverID     string               `json:"receiver_id,omitempty"`
	Type           string               `json:"type"`
	Content        model.MessageContent `json:"content"`
	ClientTempID   string               `json:"client_temp_id,omitempty"`
	CreateTime     int64                `json:"create_time"`
}

type ReceiptPayload struct {
	UserID         string   `json:"user_id"`
	MessageIDs     []string `json:"message_ids"`
	ConversationID string   `json:"conversation_id,omitempty"`
}
