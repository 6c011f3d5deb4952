package notify

import (
	"context"
	"errors"
	"fmt"
)

// Notification is the provider-neutral body; each provider shapes it into its
// own envelope.
type Notification struct {
	Title    string            `json:"title"`
	Body     string            `json:"body"`
	Data     map[string]string `json:"data,omitempty"`
	Priority string            `json:"priority,omitempty"`
}

// Provider sends to one device token. Implementations exist per mobile
// platform; selection happens by the token's platform field.
type Provider interface {
	Name() string
	Send(ctx context.Context, token string, n Notification) error
}

// InvalidTokenError marks the fixed set of provider codes that mean the
// credential itself is dead. It triggers token deactivation instead of retry.
type InvalidTokenError struct {
	Provider string
	Code     string
}

func (e *InvalidTokenError) Error() string {
	return fmt.Sprintf("%s reported invalid token: %s", e.Provider, e.Code)
}

func IsInvalidToken(err error) bool {
	var ite *InvalidTokenError
	return errors.As(err, &ite)
}
