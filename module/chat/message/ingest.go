package message

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/mongo"

	"CProject/logger"
	"CProject/module/chat/model"
	"CProject/service/queue"
	errs "CProject/tools/errs"
	"CProject/tools/ids"
)

// ConversationResolver finds or creates the conversation for a user pair.
type ConversationResolver interface {
	Resolve(ctx context.Context, userA, userB, contextID string) (string, error)
}

// Service owns message ingestion and the receipt entry points. The sender
// gets a durable message id synchronously; all fan-out is queued work.
type Service struct {
	resolver ConversationResolver
	q        *queue.Queue

	msg  *model.Message
	conv *model.Conversation
	part *model.Participant
	ver  *model.MessageVersion
}

func NewService(resolver ConversationResolver, q *queue.Queue) *Service {
	return &Service{
		resolver: resolver,
		q:        q,
		msg:      &model.Message{},
		conv:     &model.Conversation{},
		part:     &model.Participant{},
		ver:      &model.MessageVersion{},
	}
}

type SendReq struct {
	SenderID       string
	ConversationID string
	ReceiverID     string
	ContextID      string
	Type           string
	Content        model.MessageContent
	ClientTempID   string
}

type SendAck struct {
	MessageID      string
	ClientTempID   string
	ConversationID string
}

// Send validates, resolves the target conversation, persists synchronously
// and only then enqueues the fan-out envelope. Any persistence error surfaces
// as a typed failure with nothing enqueued.
func (s *Service) Send(ctx context.Context, req SendReq) (SendAck, error) {
	if req.Content.Empty() {
		return SendAck{}, errs.ErrEmptyContent.WrapMsg("no text/images/audio/attachments")
	}
	if req.ConversationID == "" && req.ReceiverID == "" {
		return SendAck{}, errs.ErrMissingTarget.WrapMsg("need conversation_id or receiver_id")
	}
	if req.Type == "" {
		req.Type = model.MsgTypeText
	}

	convID := req.ConversationID
	if convID == "" {
		resolved, err := s.resolver.Resolve(ctx, req.SenderID, req.ReceiverID, req.ContextID)
		if err != nil {
			return SendAck{}, err
		}
		convID = resolved
	} else {
		ok, err := s.part.IsMember(ctx, convID, req.SenderID)
		if err != nil {
			return SendAck{}, errs.ErrTransientInfra.WrapMsg(err.Error())
		}
		if !ok {
			return SendAck{}, errs.ErrNotParticipant.WrapMsg("sender not in conversation")
		}
	}

	// Idempotency token: a retried submit resolves to the already-persisted
	// row instead of creating a second one. The retry means the client never
	// saw an ack, so the fan-out envelope goes out again; the handlers apply
	// it idempotently.
	if req.ClientTempID != "" {
		if existing, err := s.msg.FindByClientTemp(ctx, req.SenderID, req.ClientTempID); err == nil {
			if qerr := s.enqueueFanout(ctx, existing); qerr != nil {
				return SendAck{}, qerr
			}
			return SendAck{
				MessageID:      existing.MessageID,
				ClientTempID:   req.ClientTempID,
				ConversationID: existing.ConversationID,
			}, nil
		}
	}

	now := time.Now().UnixMilli()
	m := &model.Message{
		MessageID:      ids.GenerateString(),
		ConversationID: convID,
		SenderID:       req.SenderID,
		ReceiverID:     req.ReceiverID,
		Type:           req.Type,
		Content:        req.Content,
		Status:         model.StatusSent,
		ClientTempID:   req.ClientTempID,
		CreateTime:     now,
		UpdateTime:     now,
	}
	if err := m.Insert(ctx); err != nil {
		if mongo.IsDuplicateKeyError(err) && req.ClientTempID != "" {
			// Lost the idempotency race; the winner's row is the message.
			existing, ferr := s.msg.FindByClientTemp(ctx, req.SenderID, req.ClientTempID)
			if ferr == nil {
				if qerr := s.enqueueFanout(ctx, existing); qerr != nil {
					return SendAck{}, qerr
				}
				return SendAck{
					MessageID:      existing.MessageID,
					ClientTempID:   req.ClientTempID,
					ConversationID: existing.ConversationID,
				}, nil
			}
		}
		return SendAck{}, errs.ErrTransientInfra.WrapMsg(err.Error())
	}

	if err := s.conv.BumpLastMessage(ctx, convID, now); err != nil {
		logger.Warnf("[ingest] bump last_message conv=%s: %v", convID, err)
	}
	if err := s.part.IncUnreadExcept(ctx, convID, req.SenderID); err != nil {
		logger.Warnf("[ingest] inc unread conv=%s: %v", convID, err)
	}

	if err := s.enqueueFanout(ctx, m); err != nil {
		// The message row is durable, but without the envelope nobody gets
		// it. No ack: the client retries with the same client_temp_id and
		// the dedupe path above re-enqueues.
		return SendAck{}, err
	}

	return SendAck{
		MessageID:      m.MessageID,
		ClientTempID:   req.ClientTempID,
		ConversationID: convID,
	}, nil
}

// enqueueFanout pushes the new-message envelope for an already-persisted row.
// A push failure surfaces as transient, carrying the message id so the caller
// can reconcile.
func (s *Service) enqueueFanout(ctx context.Context, m *model.Message) error {
	env, err := queue.NewEnvelope(queue.KindNewMessage, NewMessagePayload{
		ID:             m.MessageID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		ReceiverID:     m.ReceiverID,
		Type:           m.Type,
		Content:        m.Content,
		ClientTempID:   m.ClientTempID,
		CreateTime:     m.CreateTime,
	})
	if err != nil {
		return errs.WrapMsg(err, "build fan-out envelope")
	}
	if err := s.q.Push(ctx, queue.QueueMessage, env); err != nil {
		logger.Errorf("[ingest] enqueue fan-out msg=%s: %v", m.MessageID, err)
		return errs.ErrTransientInfra.WrapMsg("fan-out enqueue for message " + m.MessageID + ": " + err.Error())
	}
	return nil
}

// EnqueueRead queues a read receipt; the read worker applies it.
func (s *Service) EnqueueRead(ctx context.Context, userID string, messageIDs []string, conversationID string) error {
	if len(messageIDs) == 0 && conversationID == "" {
		return errs.ErrInvalidParam.WrapMsg("mark_read needs message ids or a conversation")
	}
	env, err := queue.NewEnvelope(queue.KindReadReceipt, ReceiptPayload{
		UserID:         userID,
		MessageIDs:     messageIDs,
		ConversationID: conversationID,
	})
	if err != nil {
		return err
	}
	return s.q.Push(ctx, queue.QueueRead, env)
}

// EnqueueDelivered queues a delivery receipt after a live push.
func (s *Service) EnqueueDelivered(ctx context.Context, userID string, messageIDs []string) error {
	if len(messageIDs) == 0 {
		return nil
	}
	env, err := queue.NewEnvelope(queue.KindDeliveryReceipt, ReceiptPayload{
		UserID:     userID,
		MessageIDs: messageIDs,
	})
	if err != nil {
		return err
	}
	return s.q.Push(ctx, queue.QueueDelivery, env)
}

// History pages a conversation backwards for the reconnect/recovery path.
func (s *Service) History(ctx context.Context, userID, conversationID string, beforeMS, limit int64) ([]model.Message, error) {
	ok, err := s.part.IsMember(ctx, conversationID, userID)
	if err != nil {
		return nil, errs.ErrTransientInfra.WrapMsg(err.Error())
	}
	if !ok {
		return nil, errs.ErrNotParticipant.WrapMsg("reader not in conversation")
	}
	return s.msg.History(ctx, conversationID, beforeMS, limit)
}
