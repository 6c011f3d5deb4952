package model

import (
	"context"
	"sort"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"CProject/service/mgo"
)

const (
	ConversationTypeDirect  = "direct"
	ConversationTypeJobChat = "job_chat"
)

// Conversation is a persistent two-party thread, optionally scoped to an
// external context (a job). PairKey is the normalized identity of the thread:
// at most one conversation may exist per pair key, enforced by a unique index.
type Conversation struct {
	ConversationID string    `bson:"conversation_id"`
	Type           string    `bson:"type"`
	ContextID      string    `bson:"context_id,omitempty"`
	PairKey        string    `bson:"pair_key"`
	Participants   []string  `bson:"participants"`
	LastMessageAt  int64     `bson:"last_message_at"` // unix ms
	CreateTime     time.Time `bson:"create_time"`
	Deleted        bool      `bson:"deleted"`
}

// PairKey normalizes (unordered user pair, context id) into the thread
// identity. An empty context id is its own bucket.
func PairKey(userA, userB, contextID string) string {
	p := []string{userA, userB}
	sort.Strings(p)
	return strings.Join([]string{p[0], p[1], contextID}, "|")
}

func (*Conversation) TableName() string { return "conversations" }

func (c *Conversation) Collection() *mongo.Collection {
	return mgo.GetDB().Collection(c.TableName())
}

// EnsureIndexes backs the single-conversation-per-pair invariant.
func (c *Conversation) EnsureIndexes(ctx context.Context) error {
	_, err := c.Collection().Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "pair_key", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "conversation_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
	})
	return err
}

// Insert accepts a session context when called inside a transaction.
func (c *Conversation) Insert(ctx context.Context) error {
	_, err := c.Collection().InsertOne(ctx, c)
	return err
}

// FindByPairKey returns all matches ordered oldest-first. More than one row is
// the defensive case; callers take the first.
func (c *Conversation) FindByPairKey(ctx context.Context, pairKey string) ([]Conversation, error) {
	cur, err := c.Collection().Find(ctx,
		bson.M{"pair_key": pairKey},
		options.Find().SetSort(bson.D{{Key: "create_time", Value: 1}}),
	)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var out []Conversation
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Conversation) FindByID(ctx context.Context, conversationID string) (*Conversation, error) {
	res := c.Collection().FindOne(ctx, bson.M{"conversation_id": conversationID})
	var out Conversation
	if err := res.Decode(&out); err != nil {
		return nil, err
	}
	return &out, nil
}

// BumpLastMessage only moves the timestamp forward; concurrent writers
// applying out of order cannot regress it.
func (c *Conversation) BumpLastMessage(ctx context.Context, conversationID string, ts int64) error {
	_, err := c.Collection().UpdateOne(ctx,
		bson.M{"conversation_id": conversationID},
		bson.M{"$max": bson.M{"last_message_at": ts}},
	)
	return err
}
