package message

import (
	"context"

	"CProject/logger"
	"CProject/module/chat/model"
	"CProject/service/chat/wire"
	"CProject/service/queue"
	errs "CProject/tools/errs"
)

// Handlers binds queue envelopes to their effects. One handler per envelope
// kind; each is registered on its own Worker so drain cycles never overlap
// per class.
type Handlers struct {
	Svc *Service
	Del *Deliverer
}

func NewHandlers(svc *Service, del *Deliverer) *Handlers {
	return &Handlers{Svc: svc, Del: del}
}

// HandleNewMessage fans a persisted message out to every other active
// participant. Reprocessing is safe: recipients dedupe by message id and the
// delivery receipt path is monotone.
func (h *Handlers) HandleNewMessage(ctx context.Context, e *queue.Envelope) error {
	var p NewMessagePayload
	if err := e.Decode(&p); err != nil {
		return errs.WrapMsg(err, "decode new-message payload")
	}

	parts, err := h.Svc.part.ListActive(ctx, p.ConversationID)
	if err != nil {
		return errs.ErrTransientInfra.WrapMsg("list participants: " + err.Error())
	}

	evt, err := wire.Encode(wire.OpNewMessage, model.Message{
		MessageID:      p.ID,
		ConversationID: p.ConversationID,
		SenderID:       p.SenderID,
		ReceiverID:     p.ReceiverID,
		Type:           p.Type,
		Content:        p.Content,
		Status:         model.StatusSent,
		ClientTempID:   p.ClientTempID,
		CreateTime:     p.CreateTime,
	})
	if err != nil {
		return errs.WrapMsg(err, "encode new_message event")
	}

	opts := DeliverOpts{
		StoreOffline: true,
		Notify: &NotifyHint{
			EventKey: "message.new",
			Data: map[string]string{
				"sender_id":       p.SenderID,
				"conversation_id": p.ConversationID,
				"message_id":      p.ID,
				"preview":         preview(p.Content),
			},
		},
	}

	var firstErr error
	for _, member := range parts {
		if member.UserID == p.SenderID {
			continue
		}
		live, derr := h.Del.Deliver(ctx, member.UserID, p.SenderID, evt, opts)
		if derr != nil {
			// Keep going: one undeliverable participant must not stall the
			// rest; the transient error re-drives the whole envelope.
			if firstErr == nil {
				firstErr = derr
			}
			continue
		}
		if live {
			if qerr := h.Svc.EnqueueDelivered(ctx, member.UserID, []string{p.ID}); qerr != nil {
				logger.Warnf("[fanout] enqueue delivery receipt msg=%s: %v", p.ID, qerr)
			}
		}
	}
	return firstErr
}

// HandleDelivery advances sent→delivered.
func (h *Handlers) HandleDelivery(ctx context.Context, e *queue.Envelope) error {
	var p ReceiptPayload
	if err := e.Decode(&p); err != nil {
		return errs.WrapMsg(err, "decode delivery payload")
	}
	if len(p.MessageIDs) == 0 {
		return nil
	}
	if _, err := h.Svc.msg.AdvanceStatus(ctx, p.MessageIDs, model.StatusDelivered); err != nil {
		return errs.ErrTransientInfra.WrapMsg("advance delivered: " + err.Error())
	}
	return nil
}

// HandleRead advances to read, resets the reader's unread counter and tells
// the other participants. Applying twice gives the same end state as once.
func (h *Handlers) HandleRead(ctx context.Context, e *queue.Envelope) error {
	var p ReceiptPayload
	if err := e.Decode(&p); err != nil {
		return errs.WrapMsg(err, "decode read payload")
	}

	ids := p.MessageIDs
	if len(ids) == 0 && p.ConversationID != "" {
		var err error
		ids, err = h.Svc.msg.ListUnreadIDs(ctx, p.ConversationID, p.UserID)
		if err != nil {
			return errs.ErrTransientInfra.WrapMsg("list unread: " + err.Error())
		}
	}
	if len(ids) > 0 {
		if _, err := h.Svc.msg.AdvanceStatus(ctx, ids, model.StatusRead); err != nil {
			return errs.ErrTransientInfra.WrapMsg("advance read: " + err.Error())
		}
	}
	if p.ConversationID != "" {
		if err := h.Svc.part.ResetUnread(ctx, p.ConversationID, p.UserID); err != nil {
			return errs.ErrTransientInfra.WrapMsg("reset unread: " + err.Error())
		}
	}

	if p.ConversationID != "" && len(ids) > 0 {
		evt, err := wire.Encode(wire.OpMessagesMarkedRead, wire.MarkedRead{
			ConversationID: p.ConversationID,
			MessageIDs:     ids,
			ReaderID:       p.UserID,
		})
		if err == nil {
			// The reader is included: the acking device gets its reply and
			// the user's other devices converge on the same read state.
			h.broadcastToPeers(ctx, p.ConversationID, "", evt)
		}
	}
	return nil
}

// broadcastToPeers delivers an event to every participant except exceptUser
// ("" excludes nobody), best-effort and without the offline/notify fallback
// (read state is recoverable from the message rows).
func (h *Handlers) broadcastToPeers(ctx context.Context, conversationID, exceptUser string, evt []byte) {
	parts, err := h.Svc.part.ListActive(ctx, conversationID)
	if err != nil {
		logger.Warnf("[receipts] list participants conv=%s: %v", conversationID, err)
		return
	}
	for _, uid := range recipients(parts, exceptUser) {
		if _, derr := h.Del.Deliver(ctx, uid, exceptUser, evt, DeliverOpts{}); derr != nil {
			logger.Warnf("[receipts] deliver to %s: %v", uid, derr)
		}
	}
}

// recipients filters a participant set down to broadcast targets.
func recipients(parts []model.Participant, except string) []string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if except != "" && p.UserID == except {
			continue
		}
		out = append(out, p.UserID)
	}
	return out
}

func preview(c model.MessageContent) string {
	if c.Text != "" {
		// Truncate on a rune boundary so multi-byte text stays valid.
		if r := []rune(c.Text); len(r) > 120 {
			return string(r[:120])
		}
		return c.Text
	}
	switch {
	case len(c.Images) > 0:
		return "[image]"
	case c.Audio != "":
		return "[audio]"
	case len(c.Attachments) > 0:
		return "[file]"
	}
	return ""
}
