package conversation

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readconcern"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"

	"CProject/logger"
	"CProject/module/chat/model"
	"CProject/service/mgo"
	"CProject/tools/ids"
	errs "CProject/tools/errs"
)

// Resolver finds or atomically creates the conversation for an (unordered
// pair, context id). Concurrent resolution is the one race in the system that
// can corrupt data, so creation runs in a snapshot/majority transaction and
// the pair-key unique index backs it up. A loser in the race re-queries and
// returns the winner's row, so callers never see the conflict.
type Resolver struct {
	conv *model.Conversation
	part *model.Participant
}

func NewResolver() *Resolver {
	return &Resolver{
		conv: &model.Conversation{},
		part: &model.Participant{},
	}
}

func (r *Resolver) Resolve(ctx context.Context, userA, userB, contextID string) (string, error) {
	if userA == "" || userB == "" || userA == userB {
		return "", errs.ErrInvalidParam.WrapMsg("resolve needs two distinct users")
	}
	pairKey := model.PairKey(userA, userB, contextID)

	// Fast path: the common case is an existing thread.
	if found, err := r.lookup(ctx, pairKey); err != nil {
		return "", err
	} else if found != "" {
		return found, nil
	}

	convID, err := r.createTx(ctx, userA, userB, contextID, pairKey)
	if err == nil {
		return convID, nil
	}

	// Commit conflict or duplicate key: the concurrent winner has committed,
	// so the row we wanted now exists. Return it instead of failing.
	logger.Warnf("[resolver] create conflict pair=%s, re-querying: %v", pairKey, err)
	if found, lerr := r.lookup(ctx, pairKey); lerr == nil && found != "" {
		return found, nil
	}
	return "", errs.WrapMsg(err, "resolve conversation")
}

// lookup returns the conversation id for the pair key, preferring the oldest
// row when the defensive multi-match case shows up.
func (r *Resolver) lookup(ctx context.Context, pairKey string) (string, error) {
	rows, err := r.conv.FindByPairKey(ctx, pairKey)
	if err != nil {
		return "", errs.WrapMsg(err, "lookup by pair key")
	}
	if len(rows) == 0 {
		return "", nil
	}
	if len(rows) > 1 {
		logger.Warnf("[resolver] %d conversations for pair=%s, using oldest", len(rows), pairKey)
	}
	return Oldest(rows).ConversationID, nil
}

func (r *Resolver) createTx(ctx context.Context, userA, userB, contextID, pairKey string) (string, error) {
	cli := mgo.Client()
	sess, err := cli.StartSession()
	if err != nil {
		return "", errs.WrapMsg(err, "start session")
	}
	defer sess.EndSession(ctx)

	txnOpts := options.Transaction().
		SetReadConcern(readconcern.Snapshot()).
		SetWriteConcern(writeconcern.Majority())

	convType := model.ConversationTypeDirect
	if contextID != "" {
		convType = model.ConversationTypeJobChat
	}

	res, err := sess.WithTransaction(ctx, func(sctx mongo.SessionContext) (interface{}, error) {
		// Re-check inside the transaction: a writer that committed between
		// our fast path and here wins.
		rows, err := r.conv.FindByPairKey(sctx, pairKey)
		if err != nil {
			return nil, err
		}
		if len(rows) > 0 {
			return Oldest(rows).ConversationID, nil
		}

		now := time.Now()
		conv := &model.Conversation{
			ConversationID: ids.GenerateString(),
			Type:           convType,
			ContextID:      contextID,
			PairKey:        pairKey,
			Participants:   []string{userA, userB},
			LastMessageAt:  now.UnixMilli(),
			CreateTime:     now,
		}
		if err := conv.Insert(sctx); err != nil {
			return nil, err
		}
		for _, uid := range []string{userA, userB} {
			p := &model.Participant{
				ConversationID: conv.ConversationID,
				UserID:         uid,
				JoinedAt:       now,
			}
			if err := p.Insert(sctx); err != nil {
				return nil, err
			}
		}
		return conv.ConversationID, nil
	}, txnOpts)
	if err != nil {
		return "", err
	}
	return res.(string), nil
}

// Oldest picks the earliest-created row; deterministic tie-break for the
// should-not-happen multi-match case.
func Oldest(rows []model.Conversation) model.Conversation {
	best := rows[0]
	for _, row := range rows[1:] {
		if row.CreateTime.Before(best.CreateTime) {
			best = row
		}
	}
	return best
}
