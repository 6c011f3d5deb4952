package natsx

import (
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"CProject/logger"
)

var (
	once sync.Once
	conn *nats.Conn
)

// Init connects the shared NATS client (singleton). Core NATS only; the
// subjects carried here are fire-and-forget fan-out hints, the durable path
// is the Redis queue.
func Init(url string) error {
	var initErr error
	once.Do(func() {
		nc, err := nats.Connect(url,
			nats.MaxReconnects(-1),
			nats.ReconnectWait(2*time.Second),
			nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
				logger.Warnf("[natsx] disconnected: %v", err)
			}),
			nats.ReconnectHandler(func(nc *nats.Conn) {
				logger.Infof("[natsx] reconnected to %s", nc.ConnectedUrl())
			}),
		)
		if err != nil {
			initErr = err
			return
		}
		conn = nc
	})
	return initErr
}

func Publish(subject string, data []byte) error {
	if conn == nil {
		return nats.ErrInvalidConnection
	}
	return conn.Publish(subject, data)
}

func Subscribe(subject string, cb func(data []byte)) (*nats.Subscription, error) {
	if conn == nil {
		return nil, nats.ErrInvalidConnection
	}
	return conn.Subscribe(subject, func(m *nats.Msg) {
		cb(m.Data)
	})
}

func Close() {
	if conn != nil {
		conn.Close()
	}
}
