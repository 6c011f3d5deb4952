package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"CProject/global/config"
)

// fcmInvalidCodes are the provider errors that mean the registration token is
// dead and must be deactivated rather than retried.
var fcmInvalidCodes = map[string]bool{
	"NotRegistered":       true,
	"InvalidRegistration": true,
	"MismatchSenderId":    true,
}

type FCMProvider struct {
	endpoint  string
	serverKey string
	client    *http.Client
}

func NewFCMProvider(conf config.FCMProviderConf) *FCMProvider {
	endpoint := conf.Endpoint
	if endpoint == "" {
		endpoint = "https://fcm.googleapis.com/fcm/send"
	}
	return &FCMProvider{
		endpoint:  endpoint,
		serverKey: conf.ServerKey,
		client:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (p *FCMProvider) Name() string { return "fcm" }

type fcmRequest struct {
	To           string            `json:"to"`
	Priority     string            `json:"priority,omitempty"`
	Notification map[string]string `json:"notification"`
	Data         map[string]string `json:"data,omitempty"`
}

type fcmResponse struct {
	Success int `json:"success"`
	Failure int `json:"failure"`
	Results []struct {
		Error string `json:"error"`
	} `json:"results"`
}

func (p *FCMProvider) Send(ctx context.Context, token string, n Notification) error {
	body := fcmRequest{
		To:       token,
		Priority: n.Priority,
		Notification: map[string]string{
			"title": n.Title,
			"body":  n.Body,
		},
		Data: n.Data,
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "key="+p.serverKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fcm returned status %d", resp.StatusCode)
	}

	var out fcmResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("decode fcm response: %w", err)
	}
	if out.Failure == 0 {
		return nil
	}
	for _, res := range out.Results {
		if res.Error == "" {
			continue
		}
		if fcmInvalidCodes[res.Error] {
			return &InvalidTokenError{Provider: p.Name(), Code: res.Error}
		}
		return fmt.Errorf("fcm send failed: %s", res.Error)
	}
	return fmt.Errorf("fcm reported %d failures", out.Failure)
}
