package model

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"CProject/service/mgo"
)

// MessageVersion is an append-only snapshot of a message body taken before
// every edit. Rows are immutable once written.
type MessageVersion struct {
	MessageID string         `bson:"message_id"`
	Content   MessageContent `bson:"content"`
	EditedBy  string         `bson:"edited_by"`
	EditedAt  time.Time      `bson:"edited_at"`
}

func (*MessageVersion) TableName() string { return "message_versions" }

func (v *MessageVersion) Collection() *mongo.Collection {
	return mgo.GetDB().Collection(v.TableName())
}

func (v *MessageVersion) Insert(ctx context.Context) error {
	_, err := v.Collection().InsertOne(ctx, v)
	return err
}

func (v *MessageVersion) ListByMessage(ctx context.Context, messageID string) ([]MessageVersion, error) {
	cur, err := v.Collection().Find(ctx,
		bson.M{"message_id": messageID},
		options.Find().SetSort(bson.D{{Key: "edited_at", Value: 1}}),
	)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var out []MessageVersion
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}
