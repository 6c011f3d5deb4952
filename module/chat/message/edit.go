package message

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/mongo"

	"CProject/module/chat/model"
	errs "CProject/tools/errs"
)

// Update snapshots the current body into message_versions, then swaps the
// content. Only the sender may edit.
func (s *Service) Update(ctx context.Context, editorID, messageID string, newContent model.MessageContent) (*model.Message, error) {
	if newContent.Empty() {
		return nil, errs.ErrEmptyContent.WrapMsg("edit with empty content")
	}
	m, err := s.msg.FindByID(ctx, messageID)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, errs.ErrRecordNotFound.WrapMsg("message " + messageID)
		}
		return nil, errs.ErrTransientInfra.WrapMsg(err.Error())
	}
	if m.SenderID != editorID {
		return nil, errs.ErrNotParticipant.WrapMsg("only the sender may edit")
	}
	if m.Deleted {
		return nil, errs.ErrRecordNotFound.WrapMsg("message deleted")
	}

	snap := &model.MessageVersion{
		MessageID: messageID,
		Content:   m.Content,
		EditedBy:  editorID,
		EditedAt:  time.Now(),
	}
	if err := snap.Insert(ctx); err != nil {
		return nil, errs.ErrTransientInfra.WrapMsg("snapshot version: " + err.Error())
	}
	if err := s.msg.UpdateContent(ctx, messageID, newContent); err != nil {
		return nil, errs.ErrTransientInfra.WrapMsg("update content: " + err.Error())
	}

	m.Content = newContent
	m.UpdateTime = time.Now().UnixMilli()
	return m, nil
}

// Delete soft-deletes; the row and its versions stay.
func (s *Service) Delete(ctx context.Context, requesterID, messageID string) (*model.Message, error) {
	m, err := s.msg.FindByID(ctx, messageID)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, errs.ErrRecordNotFound.WrapMsg("message " + messageID)
		}
		return nil, errs.ErrTransientInfra.WrapMsg(err.Error())
	}
	if m.SenderID != requesterID {
		return nil, errs.ErrNotParticipant.WrapMsg("only the sender may delete")
	}
	if err := s.msg.SoftDelete(ctx, messageID); err != nil {
		return nil, errs.ErrTransientInfra.WrapMsg("soft delete: " + err.Error())
	}
	m.Deleted = true
	return m, nil
}

// Participants exposes active membership for the gateway broadcast path.
func (s *Service) Participants(ctx context.Context, conversationID string) ([]model.Participant, error) {
	return s.part.ListActive(ctx, conversationID)
}

// IsMember is the authorization check used by connection handlers.
func (s *Service) IsMember(ctx context.Context, conversationID, userID string) (bool, error) {
	return s.part.IsMember(ctx, conversationID, userID)
}
