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

var apnsInvalidReasons = map[string]bool{
	"BadDeviceToken":         true,
	"Unregistered":           true,
	"DeviceTokenNotForTopic": true,
}

type APNSProvider struct {
	endpoint string
	topic    string
	token    string
	client   *http.Client
}

func NewAPNSProvider(conf config.APNSProviderConf) *APNSProvider {
	endpoint := conf.Endpoint
	if endpoint == "" {
		endpoint = "https://api.push.apple.com"
	}
	return &APNSProvider{
		endpoint: endpoint,
		topic:    conf.Topic,
		token:    conf.Token,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (p *APNSProvider) Name() string { return "apns" }

type apnsAlert struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

type apnsAps struct {
	Alert apnsAlert `json:"alert"`
	Badge int       `json:"badge"`
	Sound string    `json:"sound,omitempty"`
}

type apnsRequest struct {
	Aps  apnsAps           `json:"aps"`
	Data map[string]string `json:"data,omitempty"`
}

type apnsResponse struct {
	Reason string `json:"reason"`
}

func (p *APNSProvider) Send(ctx context.Context, token string, n Notification) error {
	body := apnsRequest{
		Aps: apnsAps{
			Alert: apnsAlert{Title: n.Title, Body: n.Body},
			Badge: 1,
			Sound: "default",
		},
		Data: n.Data,
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}

	url := p.endpoint + "/3/device/" + token
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apns-topic", p.topic)
	if n.Priority == "high" {
		req.Header.Set("apns-priority", "10")
	} else {
		req.Header.Set("apns-priority", "5")
	}
	if p.token != "" {
		req.Header.Set("Authorization", "bearer "+p.token)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		return nil
	}

	var out apnsResponse
	_ = json.NewDecoder(resp.Body).Decode(&out)
	// 410 means the token is gone regardless of the reason string.
	if resp.StatusCode == http.StatusGone || apnsInvalidReasons[out.Reason] {
		reason := out.Reason
		if reason == "" {
			reason = "Unregistered"
		}
		return &InvalidTokenError{Provider: p.Name(), Code: reason}
	}
	return fmt.Errorf("apns returned status %d reason=%s", resp.StatusCode, out.Reason)
}
