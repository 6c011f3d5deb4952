package model

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"CProject/service/mgo"
)

const (
	MsgTypeText   = "text"
	MsgTypeImage  = "image"
	MsgTypeFile   = "file"
	MsgTypeEmoji  = "emoji"
	MsgTypeAudio  = "audio"
	MsgTypeSystem = "system"
)

const (
	StatusSent      = "sent"
	StatusDelivered = "delivered"
	StatusRead      = "read"
)

// statusRank orders the delivery states; updates only move rank upward.
var statusRank = map[string]int{
	StatusSent:      0,
	StatusDelivered: 1,
	StatusRead:      2,
}

// StatusesBelow lists the states a message may be in before reaching target.
func StatusesBelow(target string) []string {
	r, ok := statusRank[target]
	if !ok {
		return nil
	}
	var out []string
	for _, s := range []string{StatusSent, StatusDelivered, StatusRead} {
		if statusRank[s] < r {
			out = append(out, s)
		}
	}
	return out
}

type MessageContent struct {
	Text        string   `bson:"text,omitempty" json:"text,omitempty"`
	Images      []string `bson:"images,omitempty" json:"images,omitempty"`
	Audio       string   `bson:"audio,omitempty" json:"audio,omitempty"`
	Attachments []string `bson:"attachments,omitempty" json:"attachments,omitempty"`
	ReplyToID   string   `bson:"reply_to_id,omitempty" json:"reply_to_id,omitempty"`
}

// Empty reports whether the content carries nothing sendable.
func (c MessageContent) Empty() bool {
	return c.Text == "" && len(c.Images) == 0 && c.Audio == "" && len(c.Attachments) == 0
}

// Message rows are never physically deleted; Deleted flags them out of
// history. ClientTempID is the client idempotency token.
type Message struct {
	MessageID      string         `bson:"message_id" json:"id"`
	ConversationID string         `bson:"conversation_id" json:"conversation_id"`
	SenderID       string         `bson:"sender_id" json:"sender_id"`
	ReceiverID     string         `bson:"receiver_id,omitempty" json:"receiver_id,omitempty"`
	Type           string         `bson:"type" json:"type"`
	Content        MessageContent `bson:"content" json:"content"`
	Status         string         `bson:"status" json:"status"`
	Deleted        bool           `bson:"deleted" json:"deleted"`
	ClientTempID   string         `bson:"client_temp_id,omitempty" json:"client_temp_id,omitempty"`
	CreateTime     int64          `bson:"create_time" json:"create_time"` // unix ms
	UpdateTime     int64          `bson:"update_time" json:"update_time"`
}

func (*Message) TableName() string { return "messages" }

func (m *Message) Collection() *mongo.Collection {
	return mgo.GetDB().Collection(m.TableName())
}

func (m *Message) EnsureIndexes(ctx context.Context) error {
	_, err := m.Collection().Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "message_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			// Idempotency token: one persisted row per (sender, token),
			// skipping rows without a token.
			Keys: bson.D{
				{Key: "sender_id", Value: 1},
				{Key: "client_temp_id", Value: 1},
			},
			Options: options.Index().SetUnique(true).SetPartialFilterExpression(
				bson.M{"client_temp_id": bson.M{"$gt": ""}},
			),
		},
		{
			Keys: bson.D{
				{Key: "conversation_id", Value: 1},
				{Key: "create_time", Value: -1},
			},
		},
	})
	return err
}

func (m *Message) Insert(ctx context.Context) error {
	_, err := m.Collection().InsertOne(ctx, m)
	return err
}

func (m *Message) FindByID(ctx context.Context, messageID string) (*Message, error) {
	res := m.Collection().FindOne(ctx, bson.M{"message_id": messageID})
	var out Message
	if err := res.Decode(&out); err != nil {
		return nil, err
	}
	return &out, nil
}

// FindByClientTemp resolves a retried submit to its already-persisted row.
func (m *Message) FindByClientTemp(ctx context.Context, senderID, clientTempID string) (*Message, error) {
	res := m.Collection().FindOne(ctx, bson.M{
		"sender_id":      senderID,
		"client_temp_id": clientTempID,
	})
	var out Message
	if err := res.Decode(&out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AdvanceStatus moves the listed messages to target, touching only rows in a
// strictly lower state. Re-applying a receipt is a no-op and status never
// regresses.
func (m *Message) AdvanceStatus(ctx context.Context, messageIDs []string, target string) (int64, error) {
	below := StatusesBelow(target)
	if len(below) == 0 {
		return 0, nil
	}
	res, err := m.Collection().UpdateMany(ctx,
		bson.M{
			"message_id": bson.M{"$in": messageIDs},
			"status":     bson.M{"$in": below},
		},
		bson.M{"$set": bson.M{
			"status":      target,
			"update_time": time.Now().UnixMilli(),
		}},
	)
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

// ListUnreadIDs returns ids a reader still has to ack inside a conversation.
func (m *Message) ListUnreadIDs(ctx context.Context, conversationID, readerID string) ([]string, error) {
	cur, err := m.Collection().Find(ctx,
		bson.M{
			"conversation_id": conversationID,
			"sender_id":       bson.M{"$ne": readerID},
			"status":          bson.M{"$ne": StatusRead},
			"deleted":         false,
		},
		options.Find().SetProjection(bson.M{"message_id": 1}),
	)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var out []string
	for cur.Next(ctx) {
		var row Message
		if derr := cur.Decode(&row); derr == nil {
			out = append(out, row.MessageID)
		}
	}
	return out, cur.Err()
}

// UpdateContent swaps the body after the current one was snapshotted.
func (m *Message) UpdateContent(ctx context.Context, messageID string, content MessageContent) error {
	_, err := m.Collection().UpdateOne(ctx,
		bson.M{"message_id": messageID},
		bson.M{"$set": bson.M{
			"content":     content,
			"update_time": time.Now().UnixMilli(),
		}},
	)
	return err
}

// SoftDelete flags the row; history queries filter on deleted.
func (m *Message) SoftDelete(ctx context.Context, messageID string) error {
	_, err := m.Collection().UpdateOne(ctx,
		bson.M{"message_id": messageID},
		bson.M{"$set": bson.M{
			"deleted":     true,
			"update_time": time.Now().UnixMilli(),
		}},
	)
	return err
}

// History pages backwards from beforeMS (0 means newest).
func (m *Message) History(ctx context.Context, conversationID string, beforeMS int64, limit int64) ([]Message, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	filter := bson.M{"conversation_id": conversationID, "deleted": false}
	if beforeMS > 0 {
		filter["create_time"] = bson.M{"$lt": beforeMS}
	}
	cur, err := m.Collection().Find(ctx, filter,
		options.Find().SetSort(bson.D{{Key: "create_time", Value: -1}}).SetLimit(limit),
	)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var out []Message
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	// oldest first for the client
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}
