package chat

import (
	"context"
	"time"

	"CProject/logger"
	"CProject/module/chat/message"
	"CProject/service/chat/wire"
)

func (s *Server) handleSendMessage(ctx context.Context, c *Conn, ev *wire.Event) error {
	var req wire.SendMessageReq
	if err := ev.Bind(&req); err != nil {
		s.sendError(c, ev.Op, "BAD_FRAME", err.Error())
		return nil
	}
	ack, err := s.svc.Send(ctx, message.SendReq{
		SenderID:       c.UserID,
		ConversationID: req.ConversationID,
		ReceiverID:     req.ReceiverID,
		ContextID:      req.ContextID,
		Type:           req.Type,
		Content:        req.Content,
		ClientTempID:   req.ClientTempID,
	})
	if err != nil {
		s.sendOp(c, wire.OpMessageSendError, wire.SendError{
			ClientTempID: req.ClientTempID,
			Error:        err.Error(),
			Code:         codeKey(err),
		})
		return nil
	}
	s.sendOp(c, wire.OpMessageSent, wire.MessageSent{
		ID:             ack.MessageID,
		ClientTempID:   ack.ClientTempID,
		ConversationID: ack.ConversationID,
	})
	return nil
}

func (s *Server) handleMarkRead(ctx context.Context, c *Conn, ev *wire.Event) error {
	var req wire.MarkReadReq
	if err := ev.Bind(&req); err != nil {
		s.sendError(c, ev.Op, "BAD_FRAME", err.Error())
		return nil
	}
	if err := s.svc.EnqueueRead(ctx, c.UserID, req.MessageIDs, req.ConversationID); err != nil {
		s.sendError(c, ev.Op, codeKey(err), err.Error())
	}
	return nil
}

func (s *Server) handleUpdateMessage(ctx context.Context, c *Conn, ev *wire.Event) error {
	var req wire.UpdateMessageReq
	if err := ev.Bind(&req); err != nil {
		s.sendError(c, ev.Op, "BAD_FRAME", err.Error())
		return nil
	}
	m, err := s.svc.Update(ctx, c.UserID, req.MessageID, req.NewContent)
	if err != nil {
		s.sendError(c, ev.Op, codeKey(err), err.Error())
		return nil
	}
	raw, err := wire.Encode(wire.OpMessageUpdated, wire.MessageUpdated{Message: *m})
	if err != nil {
		return err
	}
	s.sendOp(c, wire.OpMessageUpdated, wire.MessageUpdated{Message: *m})
	s.broadcastToPeers(ctx, c.UserID, m.ConversationID, raw, true)
	return nil
}

func (s *Server) handleDeleteMessage(ctx context.Context, c *Conn, ev *wire.Event) error {
	var req wire.DeleteMessageReq
	if err := ev.Bind(&req); err != nil {
		s.sendError(c, ev.Op, "BAD_FRAME", err.Error())
		return nil
	}
	m, err := s.svc.Delete(ctx, c.UserID, req.MessageID)
	if err != nil {
		s.sendError(c, ev.Op, codeKey(err), err.Error())
		return nil
	}
	raw, err := wire.Encode(wire.OpMessageDeleted, wire.MessageDeleted{
		MessageID:      m.MessageID,
		ConversationID: m.ConversationID,
	})
	if err != nil {
		return err
	}
	s.sendOp(c, wire.OpMessageDeleted, wire.MessageDeleted{
		MessageID:      m.MessageID,
		ConversationID: m.ConversationID,
	})
	s.broadcastToPeers(ctx, c.UserID, m.ConversationID, raw, true)
	return nil
}

func (s *Server) handleTyping(ctx context.Context, c *Conn, ev *wire.Event) error {
	var req wire.TypingReq
	if err := ev.Bind(&req); err != nil || req.ConversationID == "" {
		s.sendError(c, ev.Op, "BAD_FRAME", "typing needs a conversation")
		return nil
	}
	ok, err := s.svc.IsMember(ctx, req.ConversationID, c.UserID)
	if err != nil || !ok {
		return err
	}
	if req.IsTyping {
		s.typing.Start(req.ConversationID, c.UserID)
	} else {
		s.typing.Stop(req.ConversationID, c.UserID)
	}
	s.broadcastTyping(ctx, req.ConversationID, c.UserID, req.IsTyping)
	return nil
}

// expireTyping is the timer callback: silence for the expiry window stops the
// indicator for everyone as if the client had sent the stop event.
func (s *Server) expireTyping(conversationID, userID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.broadcastTyping(ctx, conversationID, userID, false)
}

func (s *Server) broadcastTyping(ctx context.Context, conversationID, userID string, isTyping bool) {
	raw, err := wire.Encode(wire.OpUserTyping, wire.Typing{
		ConversationID: conversationID,
		UserID:         userID,
		IsTyping:       isTyping,
	})
	if err != nil {
		return
	}
	// Typing is ephemeral: live connections only, nothing stored.
	s.broadcastToPeers(ctx, userID, conversationID, raw, false)
}

func (s *Server) handleFetchHistory(ctx context.Context, c *Conn, ev *wire.Event) error {
	var req wire.FetchHistoryReq
	if err := ev.Bind(&req); err != nil || req.ConversationID == "" {
		s.sendError(c, ev.Op, "BAD_FRAME", "fetch_history needs a conversation")
		return nil
	}
	msgs, err := s.svc.History(ctx, c.UserID, req.ConversationID, req.BeforeMS, req.Limit)
	if err != nil {
		s.sendError(c, ev.Op, codeKey(err), err.Error())
		return nil
	}
	s.sendOp(c, wire.OpHistory, wire.History{ConversationID: req.ConversationID, Messages: msgs})
	return nil
}

// broadcastToPeers delivers a frame to every other active participant.
// storeOffline keeps the frame for disconnected peers to replay.
func (s *Server) broadcastToPeers(ctx context.Context, senderID, conversationID string, raw []byte, storeOffline bool) {
	members, err := s.svc.Participants(ctx, conversationID)
	if err != nil {
		logger.Warnf("[gateway] broadcast participants conv=%s: %v", conversationID, err)
		return
	}
	opts := message.DeliverOpts{StoreOffline: storeOffline}
	for _, p := range members {
		if p.UserID == senderID {
			continue
		}
		if _, err := s.del.Deliver(ctx, p.UserID, senderID, raw, opts); err != nil {
			logger.Warnf("[gateway] broadcast to %s conv=%s: %v", p.UserID, conversationID, err)
		}
	}
}
