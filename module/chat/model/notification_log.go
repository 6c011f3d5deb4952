package model

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"CProject/service/mgo"
)

const (
	NotifyStatusQueued    = "queued"
	NotifyStatusSent      = "sent"
	NotifyStatusFailed    = "failed"
	NotifyStatusDelivered = "delivered"
)

// NotificationLog tracks one dispatch from queue to terminal state. Created
// only when at least one device send will be attempted.
type NotificationLog struct {
	LogID       string            `bson:"log_id"`
	RecipientID string            `bson:"recipient_id"`
	EventKey    string            `bson:"event_key"`
	Title       string            `bson:"title"`
	Body        string            `bson:"body"`
	Payload     map[string]string `bson:"payload,omitempty"`
	Status      string            `bson:"status"`
	ErrorDetail string            `bson:"error_detail,omitempty"`
	CreateTime  time.Time         `bson:"create_time"`
	UpdateTime  time.Time         `bson:"update_time"`
}

func (*NotificationLog) TableName() string { return "notification_logs" }

func (l *NotificationLog) Collection() *mongo.Collection {
	return mgo.GetDB().Collection(l.TableName())
}

func (l *NotificationLog) Insert(ctx context.Context) error {
	now := time.Now()
	l.CreateTime = now
	l.UpdateTime = now
	if l.Status == "" {
		l.Status = NotifyStatusQueued
	}
	_, err := l.Collection().InsertOne(ctx, l)
	return err
}

// SetStatus writes a terminal (or delivered) state with optional error detail.
func (l *NotificationLog) SetStatus(ctx context.Context, logID, status, errDetail string) error {
	_, err := l.Collection().UpdateOne(ctx,
		bson.M{"log_id": logID},
		bson.M{"$set": bson.M{
			"status":       status,
			"error_detail": errDetail,
			"update_time":  time.Now(),
		}},
	)
	return err
}

func (l *NotificationLog) FindByID(ctx context.Context, logID string) (*NotificationLog, error) {
	res := l.Collection().FindOne(ctx, bson.M{"log_id": logID})
	var out NotificationLog
	if err := res.Decode(&out); err != nil {
		return nil, err
	}
	return &out, nil
}
