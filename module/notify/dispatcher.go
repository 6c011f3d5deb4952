package notify

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"CProject/logger"
	"CProject/module/chat/model"
	"CProject/service/queue"
	"CProject/tools/ids"
)

// Outcome says what Dispatch did with a request. Only OutcomeQueued creates a
// log row; suppressed requests leave no trace beyond a debug line.
type Outcome string

const (
	OutcomeQueued   Outcome = "queued"
	OutcomeDisabled Outcome = "disabled"
	OutcomeNoTokens Outcome = "no_tokens"
)

// DeviceRef is the per-device slice of a job payload.
type DeviceRef struct {
	Token    string `json:"token"`
	Platform string `json:"platform"`
}

// NotificationJobPayload carries everything the sender needs so the worker
// never goes back to the preference or template layer.
type NotificationJobPayload struct {
	LogID       string            `json:"log_id"`
	RecipientID string            `json:"recipient_id"`
	EventKey    string            `json:"event_key"`
	Title       string            `json:"title"`
	Body        string            `json:"body"`
	Priority    string            `json:"priority"`
	Data        map[string]string `json:"data,omitempty"`
	Devices     []DeviceRef       `json:"devices"`
}

// PrefStore answers whether a user wants a given event. Absent preference
// falls back to the template default.
type PrefStore interface {
	Enabled(ctx context.Context, userID, eventKey string, def bool) (bool, error)
	Set(ctx context.Context, userID, eventKey string, enabled bool) error
}

type redisPrefStore struct {
	rdb *redis.Client
}

func NewRedisPrefStore(rdb *redis.Client) PrefStore {
	return &redisPrefStore{rdb: rdb}
}

func prefKey(userID string) string { return "im:notify:pref:" + userID }

func (s *redisPrefStore) Enabled(ctx context.Context, userID, eventKey string, def bool) (bool, error) {
	v, err := s.rdb.HGet(ctx, prefKey(userID), eventKey).Result()
	if err == redis.Nil {
		return def, nil
	}
	if err != nil {
		return def, err
	}
	return v != "0", nil
}

func (s *redisPrefStore) Set(ctx context.Context, userID, eventKey string, enabled bool) error {
	v := "1"
	if !enabled {
		v = "0"
	}
	return s.rdb.HSet(ctx, prefKey(userID), eventKey, v).Err()
}

// TokenStore and LogStore are the mongo surfaces the dispatcher touches,
// narrowed so tests can fake them.
type TokenStore interface {
	ListActive(ctx context.Context, userID string) ([]model.DeviceToken, error)
	Deactivate(ctx context.Context, token string) error
}

type LogStore interface {
	Create(ctx context.Context, l *model.NotificationLog) error
	SetStatus(ctx context.Context, logID, status, errDetail string) error
}

type mongoTokenStore struct{}

func NewMongoTokenStore() TokenStore { return mongoTokenStore{} }

func (mongoTokenStore) ListActive(ctx context.Context, userID string) ([]model.DeviceToken, error) {
	return (&model.DeviceToken{}).ListActiveByUser(ctx, userID)
}

func (mongoTokenStore) Deactivate(ctx context.Context, token string) error {
	return (&model.DeviceToken{}).Deactivate(ctx, token)
}

type mongoLogStore struct{}

func NewMongoLogStore() LogStore { return mongoLogStore{} }

func (mongoLogStore) Create(ctx context.Context, l *model.NotificationLog) error {
	return l.Insert(ctx)
}

func (mongoLogStore) SetStatus(ctx context.Context, logID, status, errDetail string) error {
	return (&model.NotificationLog{}).SetStatus(ctx, logID, status, errDetail)
}

// Dispatcher turns an app event into a queued notification job, or suppresses
// it. It sits on the hot path of message fan-out, so everything slow happens
// in the sender worker.
type Dispatcher struct {
	app    string
	tpl    *Registry
	prefs  PrefStore
	tokens TokenStore
	logs   LogStore
	q      *queue.Queue
}

func NewDispatcher(app string, tpl *Registry, prefs PrefStore, tokens TokenStore, logs LogStore, q *queue.Queue) *Dispatcher {
	return &Dispatcher{app: app, tpl: tpl, prefs: prefs, tokens: tokens, logs: logs, q: q}
}

// Dispatch resolves template, preference and tokens, writes the queued log
// row, and hands the job to the notify queue.
func (d *Dispatcher) Dispatch(ctx context.Context, recipientID, eventKey string, data map[string]string) (Outcome, error) {
	tpl, ok := d.tpl.Get(d.app, eventKey)
	if !ok {
		logger.Debugf("[notify] no template for %s/%s, dropping", d.app, eventKey)
		return OutcomeDisabled, nil
	}

	enabled, err := d.prefs.Enabled(ctx, recipientID, eventKey, tpl.DefaultEnabled)
	if err != nil {
		// Preference lookup failure falls back to the template default
		// rather than blocking the send.
		logger.Warnf("[notify] pref lookup for %s failed: %v", recipientID, err)
		enabled = tpl.DefaultEnabled
	}
	if !enabled {
		return OutcomeDisabled, nil
	}

	devices, err := d.tokens.ListActive(ctx, recipientID)
	if err != nil {
		return "", err
	}
	if len(devices) == 0 {
		return OutcomeNoTokens, nil
	}

	title, body, payload := tpl.Compile(data)

	log := &model.NotificationLog{
		LogID:       ids.GenerateString(),
		RecipientID: recipientID,
		EventKey:    eventKey,
		Title:       title,
		Body:        body,
		Payload:     payload,
		Status:      model.NotifyStatusQueued,
		CreateTime:  time.Now(),
	}
	if err := d.logs.Create(ctx, log); err != nil {
		return "", err
	}

	refs := make([]DeviceRef, 0, len(devices))
	for _, dev := range devices {
		refs = append(refs, DeviceRef{Token: dev.Token, Platform: dev.Platform})
	}
	job := NotificationJobPayload{
		LogID:       log.LogID,
		RecipientID: recipientID,
		EventKey:    eventKey,
		Title:       title,
		Body:        body,
		Priority:    tpl.Priority,
		Data:        payload,
		Devices:     refs,
	}
	env, err := queue.NewEnvelope(queue.KindNotification, job)
	if err != nil {
		return "", err
	}
	if err := d.q.Push(ctx, queue.QueueNotify, env); err != nil {
		return "", err
	}
	return OutcomeQueued, nil
}

// Notify adapts Dispatch to the fan-out hook signature.
func (d *Dispatcher) Notify(ctx context.Context, recipientID, eventKey string, data map[string]string) error {
	_, err := d.Dispatch(ctx, recipientID, eventKey, data)
	return err
}
