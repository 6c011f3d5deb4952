package model

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"CProject/service/mgo"
)

// Participant is one (conversation, user) membership row. Removal is soft:
// LeftAt set, row kept.
type Participant struct {
	ConversationID string     `bson:"conversation_id"`
	UserID         string     `bson:"user_id"`
	UnreadCount    int64      `bson:"unread_count"`
	JoinedAt       time.Time  `bson:"joined_at"`
	LeftAt         *time.Time `bson:"left_at,omitempty"`
}

func (*Participant) TableName() string { return "conversation_participants" }

func (p *Participant) Collection() *mongo.Collection {
	return mgo.GetDB().Collection(p.TableName())
}

func (p *Participant) EnsureIndexes(ctx context.Context) error {
	_, err := p.Collection().Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "conversation_id", Value: 1},
			{Key: "user_id", Value: 1},
		},
		Options: options.Index().SetUnique(true),
	})
	return err
}

func (p *Participant) Insert(ctx context.Context) error {
	_, err := p.Collection().InsertOne(ctx, p)
	return err
}

// ListActive returns the members who have not left.
func (p *Participant) ListActive(ctx context.Context, conversationID string) ([]Participant, error) {
	cur, err := p.Collection().Find(ctx, bson.M{
		"conversation_id": conversationID,
		"left_at":         nil,
	})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var out []Participant
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// IsMember reports active membership, for the authorization check.
func (p *Participant) IsMember(ctx context.Context, conversationID, userID string) (bool, error) {
	n, err := p.Collection().CountDocuments(ctx, bson.M{
		"conversation_id": conversationID,
		"user_id":         userID,
		"left_at":         nil,
	})
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// IncUnreadExcept bumps the unread counter for everyone but the sender.
func (p *Participant) IncUnreadExcept(ctx context.Context, conversationID, senderID string) error {
	_, err := p.Collection().UpdateMany(ctx,
		bson.M{
			"conversation_id": conversationID,
			"user_id":         bson.M{"$ne": senderID},
			"left_at":         nil,
		},
		bson.M{"$inc": bson.M{"unread_count": 1}},
	)
	return err
}

// ResetUnread zeroes the counter for one reader. This is the only path that
// lowers it, and applying it twice is the same as once.
func (p *Participant) ResetUnread(ctx context.Context, conversationID, userID string) error {
	_, err := p.Collection().UpdateOne(ctx,
		bson.M{"conversation_id": conversationID, "user_id": userID},
		bson.M{"$set": bson.M{"unread_count": 0}},
	)
	return err
}

// MarkLeft soft-removes the membership.
func (p *Participant) MarkLeft(ctx context.Context, conversationID, userID string) error {
	now := time.Now()
	_, err := p.Collection().UpdateOne(ctx,
		bson.M{"conversation_id": conversationID, "user_id": userID, "left_at": nil},
		bson.M{"$set": bson.M{"left_at": now}},
	)
	return err
}
