package message

import (
	"context"

	"CProject/logger"
	"CProject/service/presence"
	errs "CProject/tools/errs"
)

// PresenceAPI is the slice of the presence tracker the fan-out needs.
type PresenceAPI interface {
	Lookup(ctx context.Context, user string) (presence.Record, bool, error)
}

// OfflineAPI stores events for replay on reconnect.
type OfflineAPI interface {
	Enqueue(ctx context.Context, user, from string, payload []byte) error
}

// Notifier hands a recipient off to the push-notification pipeline.
type Notifier interface {
	Notify(ctx context.Context, recipientID, eventKey string, data map[string]string) error
}

// LocalSender pushes a payload to a user connected to this gateway instance.
type LocalSender interface {
	SendToUser(user string, payload []byte) error
}

// Forwarder carries a payload to the gateway instance holding the user's
// connection (the Kafka leg).
type Forwarder interface {
	Forward(user string, payload []byte) error
}

// Deliverer routes one event to one recipient: live push when the shared
// store says the user is online (locally or on a peer gateway), otherwise
// offline queue plus push notification.
type Deliverer struct {
	gatewayID string
	presence  PresenceAPI
	offline   OfflineAPI
	notifier  Notifier
	local     LocalSender
	forward   Forwarder
}

func NewDeliverer(gatewayID string, p PresenceAPI, o OfflineAPI, n Notifier, local LocalSender, fwd Forwarder) *Deliverer {
	return &Deliverer{
		gatewayID: gatewayID,
		presence:  p,
		offline:   o,
		notifier:  n,
		local:     local,
		forward:   fwd,
	}
}

// NotifyHint describes the push notification used when the recipient is
// offline. Nil means no notification for this event class.
type NotifyHint struct {
	EventKey string
	Data     map[string]string
}

// DeliverOpts selects the offline behaviour per event class: messages are
// stored for replay and trigger a push, transient signals (typing, read
// state) are simply dropped for absent users.
type DeliverOpts struct {
	StoreOffline bool
	Notify       *NotifyHint
}

// Deliver returns whether the event reached a live connection. Shared-store
// errors come back as transient so the queue layer re-drives the envelope.
func (d *Deliverer) Deliver(ctx context.Context, user, from string, payload []byte, opts DeliverOpts) (bool, error) {
	rec, online, err := d.presence.Lookup(ctx, user)
	if err != nil {
		return false, errs.ErrTransientInfra.WrapMsg("presence lookup: " + err.Error())
	}

	if online {
		if rec.GatewayID == d.gatewayID {
			if serr := d.local.SendToUser(user, payload); serr == nil {
				return true, nil
			}
			// The local connection died between lookup and write; fall
			// through to the offline path.
			logger.Warnf("[deliver] local push user=%s failed, routing offline", user)
		} else if d.forward != nil {
			if ferr := d.forward.Forward(user, payload); ferr != nil {
				return false, errs.ErrTransientInfra.WrapMsg("forward: " + ferr.Error())
			}
			return true, nil
		}
	}

	if opts.StoreOffline && d.offline != nil {
		if oerr := d.offline.Enqueue(ctx, user, from, payload); oerr != nil {
			return false, errs.ErrTransientInfra.WrapMsg("offline enqueue: " + oerr.Error())
		}
	}
	if opts.Notify != nil && d.notifier != nil {
		// Push dispatch has its own queue and failure handling; a failure
		// here must not re-drive message fan-out.
		if nerr := d.notifier.Notify(ctx, user, opts.Notify.EventKey, opts.Notify.Data); nerr != nil {
			logger.Warnf("[deliver] notify user=%s event=%s: %v", user, opts.Notify.EventKey, nerr)
		}
	}
	return false, nil
}
