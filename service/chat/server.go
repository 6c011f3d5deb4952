package chat

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"CProject/global/config"
	"CProject/logger"
	"CProject/module/chat/message"
	"CProject/module/chat/model"
	"CProject/service/chat/wire"
	"CProject/service/offline"
	"CProject/service/presence"
	errs "CProject/tools/errs"
	"CProject/tools/ids"
	"CProject/tools/security"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// HandlerFunc applies one inbound event on an authenticated connection.
type HandlerFunc func(ctx context.Context, c *Conn, ev *wire.Event) error

// Server is the websocket gateway: it owns the connection table, the op
// dispatch table and the reconnect replay path. Everything durable lives
// behind the message service; the server only moves frames.
type Server struct {
	cfg     *config.AppConfig
	mgr     *ConnManager
	tracker *presence.Tracker
	offline *offline.Router
	svc     *message.Service
	del     *message.Deliverer
	typing  *typingTracker

	handlers map[string]HandlerFunc
}

func NewServer(cfg *config.AppConfig, mgr *ConnManager, tracker *presence.Tracker, off *offline.Router, svc *message.Service, del *message.Deliverer) *Server {
	s := &Server{
		cfg:     cfg,
		mgr:     mgr,
		tracker: tracker,
		offline: off,
		svc:     svc,
		del:     del,
	}
	s.typing = newTypingTracker(s.expireTyping)
	s.handlers = map[string]HandlerFunc{
		wire.OpSendMessage:   s.handleSendMessage,
		wire.OpMarkRead:      s.handleMarkRead,
		wire.OpUpdateMessage: s.handleUpdateMessage,
		wire.OpDeleteMessage: s.handleDeleteMessage,
		wire.OpTyping:        s.handleTyping,
		wire.OpFetchHistory:  s.handleFetchHistory,
	}
	mgr.OnLastClose(func(user string) {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := tracker.SetOffline(ctx, user); err != nil {
			logger.Warnf("[gateway] set offline on expiry user=%s: %v", user, err)
		}
	})
	return s
}

func (s *Server) ConnManager() *ConnManager { return s.mgr }

// StartPresenceFeed subscribes to the cross-gateway presence subject and
// relays transitions to local connections.
func (s *Server) StartPresenceFeed() error {
	return presence.SubscribeChanges(s.cfg.Nats.PresenceSubject, func(ev presence.ChangeEvent) {
		op := wire.OpUserOnline
		if !ev.Online {
			op = wire.OpUserOffline
		}
		raw, err := wire.Encode(op, wire.PresenceChange{UserID: ev.UserID})
		if err != nil {
			return
		}
		for _, u := range s.mgr.Users() {
			if u == ev.UserID {
				continue
			}
			_ = s.mgr.SendToUser(u, raw)
		}
	})
}

// HandleWS upgrades and runs the read loop. One goroutine per connection;
// writes go through Conn.Send which serializes them.
func (s *Server) HandleWS(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Infof("[gateway] upgrade failed: %v", err)
		return
	}

	connID := ids.GenerateString()
	conn, err := s.mgr.AddUnauth(connID, ws)
	if err != nil {
		logger.Errorf("[gateway] register conn failed: %v", err)
		_ = ws.Close()
		return
	}
	ws.SetPongHandler(func(string) error {
		_ = s.mgr.Heartbeat(connID)
		if conn.Authorized {
			hctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = s.tracker.Heartbeat(hctx, conn.UserID)
		}
		return nil
	})

	s.readLoop(conn, ws)
	s.disconnect(conn)
}

func (s *Server) readLoop(conn *Conn, ws *websocket.Conn) {
	for {
		mt, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				logger.Infof("[gateway] peer closed conn=%s", conn.ConnID)
			} else if ne, ok := err.(net.Error); ok && ne.Timeout() {
				logger.Infof("[gateway] read timeout conn=%s", conn.ConnID)
			} else {
				logger.Infof("[gateway] read err conn=%s: %v", conn.ConnID, err)
			}
			return
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}

		ev, err := wire.Decode(data)
		if err != nil || ev.Op == "" {
			s.sendError(conn, "", "BAD_FRAME", "unparseable frame")
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		s.dispatch(ctx, conn, ev)
		cancel()
	}
}

func (s *Server) dispatch(ctx context.Context, conn *Conn, ev *wire.Event) {
	switch ev.Op {
	case wire.OpPing:
		raw, _ := wire.Encode(wire.OpPong, nil)
		_ = conn.Send(raw)
		_ = s.mgr.Heartbeat(conn.ConnID)
		return
	case wire.OpAuth:
		s.handleAuth(ctx, conn, ev)
		return
	}

	if !conn.Authorized {
		s.sendError(conn, ev.Op, "UNAUTHORIZED", "authenticate first")
		return
	}
	h, ok := s.handlers[ev.Op]
	if !ok {
		s.sendError(conn, ev.Op, "UNKNOWN_OP", "no handler for op")
		return
	}
	if err := h(ctx, conn, ev); err != nil {
		logger.Warnf("[gateway] op=%s conn=%s user=%s: %v", ev.Op, conn.ConnID, conn.UserID, err)
	}
}

func (s *Server) handleAuth(ctx context.Context, conn *Conn, ev *wire.Event) {
	var req wire.AuthReq
	if err := ev.Bind(&req); err != nil || req.Token == "" {
		s.sendOp(conn, wire.OpAuthError, wire.SendError{Code: "INVALID_TOKEN", Error: "missing token"})
		return
	}
	userID, err := security.VerifySubject(security.DefaultOptions([]byte(s.cfg.JWT.Secret)), req.Token)
	if err != nil {
		s.sendOp(conn, wire.OpAuthError, wire.SendError{Code: "INVALID_TOKEN", Error: err.Error()})
		return
	}
	if err := s.mgr.Bind(conn.ConnID, userID); err != nil {
		s.sendOp(conn, wire.OpAuthError, wire.SendError{Code: "BIND_FAILED", Error: err.Error()})
		return
	}
	s.sendOp(conn, wire.OpAuthOK, wire.AuthOK{UserID: userID, ConnID: conn.ConnID})

	batch := s.cfg.Offline.ReplayBatch
	if batch <= 0 {
		batch = 100
	}
	total, deliveredIDs := replayThenOnline(ctx, userID, batch,
		s.offline.Drain,
		func(ctx context.Context) error { return s.tracker.SetOnline(ctx, userID, conn.ConnID) },
		conn.Send,
	)
	if len(deliveredIDs) > 0 {
		if err := s.svc.EnqueueDelivered(ctx, userID, deliveredIDs); err != nil {
			logger.Warnf("[gateway] replay receipts user=%s: %v", userID, err)
		}
	}
	if total > 0 {
		s.sendOp(conn, wire.OpOfflineReplay, wire.OfflineReplay{Count: total})
	}
}

// replayThenOnline runs the reconnect protocol. Queued history drains before
// the user becomes visible to fan-out workers, so live pushes cannot overtake
// it; a second drain then collects the sliver enqueued while the first pass
// ran. Returns the replayed frame count and the message ids owed a delivery
// receipt.
func replayThenOnline(ctx context.Context, userID string, batch int,
	drain func(ctx context.Context, user string, n int) ([]offline.Msg, error),
	setOnline func(ctx context.Context) error,
	send func([]byte) error,
) (int, []string) {
	total := 0
	var deliveredIDs []string
	drainAll := func() {
		for {
			msgs, err := drain(ctx, userID, batch)
			if err != nil {
				logger.Errorf("[gateway] offline drain user=%s: %v", userID, err)
				return
			}
			if len(msgs) == 0 {
				return
			}
			for _, m := range msgs {
				if err := send(m.Payload); err != nil {
					logger.Warnf("[gateway] replay send user=%s: %v", userID, err)
					continue
				}
				total++
				if id := replayedMessageID(m.Payload); id != "" {
					deliveredIDs = append(deliveredIDs, id)
				}
			}
		}
	}

	drainAll()
	if err := setOnline(ctx); err != nil {
		logger.Warnf("[gateway] set online user=%s: %v", userID, err)
	}
	drainAll()
	return total, deliveredIDs
}

// replayedMessageID extracts the message id when the stored frame is a
// new_message event; other replayed ops carry no receipt.
func replayedMessageID(payload []byte) string {
	ev, err := wire.Decode(payload)
	if err != nil || ev.Op != wire.OpNewMessage {
		return ""
	}
	var m model.Message
	if ev.Bind(&m) != nil {
		return ""
	}
	return m.MessageID
}

func (s *Server) disconnect(conn *Conn) {
	user := conn.UserID
	if user != "" {
		s.typing.StopAll(user)
	}
	last := s.mgr.Remove(conn.ConnID)
	if last != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.tracker.SetOffline(ctx, last); err != nil {
			logger.Warnf("[gateway] set offline user=%s: %v", last, err)
		}
	}
}

func (s *Server) sendOp(conn *Conn, op string, data any) {
	raw, err := wire.Encode(op, data)
	if err != nil {
		logger.Errorf("[gateway] encode %s: %v", op, err)
		return
	}
	if err := conn.Send(raw); err != nil {
		logger.Infof("[gateway] send %s conn=%s: %v", op, conn.ConnID, err)
	}
}

func (s *Server) sendError(conn *Conn, op, code, detail string) {
	s.sendOp(conn, wire.OpError, gin.H{"op": op, "code": code, "error": detail})
}

// codeKey maps a service error to the wire code the client switches on.
func codeKey(err error) string {
	if ce := errs.CodeOf(err); ce != nil {
		return ce.Key
	}
	return "INTERNAL"
}
