package presence

import (
	"encoding/json"

	"CProject/service/natsx"
)

// ChangeEvent rides the NATS presence subject so every gateway can tell its
// local connections who came and went.
type ChangeEvent struct {
	UserID    string `json:"user_id"`
	Online    bool   `json:"online"`
	GatewayID string `json:"gateway_id"`
}

type natsBroadcaster struct {
	subject   string
	gatewayID string
}

func NewNatsBroadcaster(subject, gatewayID string) Broadcaster {
	return &natsBroadcaster{subject: subject, gatewayID: gatewayID}
}

func (b *natsBroadcaster) BroadcastPresence(user string, online bool) error {
	raw, err := json.Marshal(ChangeEvent{UserID: user, Online: online, GatewayID: b.gatewayID})
	if err != nil {
		return err
	}
	return natsx.Publish(b.subject, raw)
}

// SubscribeChanges feeds decoded presence transitions to cb.
func SubscribeChanges(subject string, cb func(ChangeEvent)) error {
	_, err := natsx.Subscribe(subject, func(data []byte) {
		var ev ChangeEvent
		if json.Unmarshal(data, &ev) != nil {
			return
		}
		if ev.UserID == "" {
			return
		}
		cb(ev)
	})
	return err
}
