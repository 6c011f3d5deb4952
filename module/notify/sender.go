package notify

import (
	"context"
	"fmt"
	"strings"

	"CProject/logger"
	"CProject/module/chat/model"
	"CProject/service/queue"
	errs "CProject/tools/errs"
)

// Sender drains notification jobs and talks to the providers. Jobs are
// terminal here: per-device failures are recorded on the log row instead of
// re-driving the whole job, so a flaky device cannot double-push the rest.
type Sender struct {
	providers map[string]Provider // keyed by platform
	tokens    TokenStore
	logs      LogStore
}

func NewSender(tokens TokenStore, logs LogStore, providers ...Provider) *Sender {
	byPlatform := make(map[string]Provider, len(providers))
	for _, p := range providers {
		switch p.Name() {
		case "apns":
			byPlatform[model.PlatformIOS] = p
		case "fcm":
			byPlatform[model.PlatformAndroid] = p
		}
	}
	return &Sender{providers: byPlatform, tokens: tokens, logs: logs}
}

// HandleNotificationJob pushes one job to every device and settles the log
// row. An invalid token deactivates the credential and is not a send failure.
func (s *Sender) HandleNotificationJob(ctx context.Context, e *queue.Envelope) error {
	var job NotificationJobPayload
	if err := e.Decode(&job); err != nil {
		return errs.WrapMsg(err, "decode notification job")
	}

	n := Notification{
		Title:    job.Title,
		Body:     job.Body,
		Data:     job.Data,
		Priority: job.Priority,
	}

	var sent int
	var details []string
	for _, dev := range job.Devices {
		p, ok := s.providers[dev.Platform]
		if !ok {
			details = append(details, fmt.Sprintf("%s: no provider for platform %s", short(dev.Token), dev.Platform))
			continue
		}
		err := p.Send(ctx, dev.Token, n)
		if err == nil {
			sent++
			continue
		}
		if IsInvalidToken(err) {
			logger.Infof("[notify] provider %s revoked token for %s, deactivating", p.Name(), job.RecipientID)
			if derr := s.tokens.Deactivate(ctx, dev.Token); derr != nil {
				logger.Errorf("[notify] deactivate token failed: %v", derr)
			}
			details = append(details, fmt.Sprintf("%s: revoked (%v)", short(dev.Token), err))
			continue
		}
		details = append(details, fmt.Sprintf("%s: %v", short(dev.Token), err))
	}

	status := model.NotifyStatusFailed
	if sent > 0 {
		status = model.NotifyStatusSent
	}
	if err := s.logs.SetStatus(ctx, job.LogID, status, strings.Join(details, "; ")); err != nil {
		return errs.ErrTransientInfra.WrapMsg("settle notification log: " + err.Error())
	}
	return nil
}

// short truncates a token for log and detail strings.
func short(token string) string {
	if len(token) <= 8 {
		return token
	}
	return token[:8] + "..."
}
