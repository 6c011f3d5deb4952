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
	PlatformIOS     = "ios"
	PlatformAndroid = "android"
)

// DeviceToken holds one push credential. At most one active token per
// (user, device); a re-register overwrites in place. Provider-reported
// invalid tokens are deactivated, never deleted.
type DeviceToken struct {
	UserID    string    `bson:"user_id"`
	Token     string    `bson:"token"`
	Platform  string    `bson:"platform"`
	DeviceID  string    `bson:"device_id"`
	Active    bool      `bson:"active"`
	UpdatedAt time.Time `bson:"updated_at"`
}

func (*DeviceToken) TableName() string { return "device_tokens" }

func (t *DeviceToken) Collection() *mongo.Collection {
	return mgo.GetDB().Collection(t.TableName())
}

func (t *DeviceToken) EnsureIndexes(ctx context.Context) error {
	_, err := t.Collection().Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "user_id", Value: 1},
			{Key: "device_id", Value: 1},
		},
		Options: options.Index().SetUnique(true),
	})
	return err
}

// Register upserts on (user, device) so the invariant holds under re-install.
func (t *DeviceToken) Register(ctx context.Context) error {
	t.UpdatedAt = time.Now()
	t.Active = true
	_, err := t.Collection().UpdateOne(ctx,
		bson.M{"user_id": t.UserID, "device_id": t.DeviceID},
		bson.M{"$set": t},
		options.Update().SetUpsert(true),
	)
	return err
}

func (t *DeviceToken) ListActiveByUser(ctx context.Context, userID string) ([]DeviceToken, error) {
	cur, err := t.Collection().Find(ctx, bson.M{"user_id": userID, "active": true})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var out []DeviceToken
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Deactivate is the invalid-credential self-healing path.
func (t *DeviceToken) Deactivate(ctx context.Context, token string) error {
	_, err := t.Collection().UpdateMany(ctx,
		bson.M{"token": token},
		bson.M{"$set": bson.M{"active": false, "updated_at": time.Now()}},
	)
	return err
}
