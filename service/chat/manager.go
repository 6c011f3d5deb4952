package chat

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"CProject/logger"
)

type ManagerConf struct {
	UnauthTTL  time.Duration    // grace period to authenticate, default 60s
	AuthTTL    time.Duration    // idle TTL for authenticated conns, refreshed by heartbeat
	SweepEvery time.Duration    // eviction scan period
	MaxPerUser int              // connections per user, oldest evicted past the cap (<=0 unlimited)
	Clock      func() time.Time // injectable for tests
}

func (c *ManagerConf) norm() {
	if c.Clock == nil {
		c.Clock = time.Now
	}
	if c.UnauthTTL <= 0 {
		c.UnauthTTL = 60 * time.Second
	}
	if c.AuthTTL <= 0 {
		c.AuthTTL = 5 * time.Minute
	}
	if c.SweepEvery <= 0 {
		c.SweepEvery = 10 * time.Second
	}
}

// Conn is one websocket connection tracked by the manager. A user may hold
// several at once (phone plus desktop); byUser fans a send out to all of them.
type Conn struct {
	ConnID     string
	UserID     string
	Authorized bool

	ws      *websocket.Conn
	writeMu sync.Mutex // gorilla allows one concurrent writer

	CreatedAt time.Time
	TTL       time.Duration
	ExpireAt  time.Time
}

// Send writes one text frame with a deadline. Safe for concurrent callers.
func (c *Conn) Send(data []byte) error {
	if c == nil || c.ws == nil {
		return errors.New("nil conn")
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *Conn) close() {
	if c.ws != nil {
		_ = c.ws.Close()
	}
}

// ConnManager indexes live connections by connID and by user, and evicts
// expired ones. It is the process-local half of presence; the shared store in
// redis stays authoritative across gateways.
type ConnManager struct {
	mu     sync.RWMutex
	byConn map[string]*Conn
	byUser map[string]map[string]*Conn

	conf      ManagerConf
	gatewayID string

	// onLastClose fires outside the lock when a user's last local
	// connection goes away, so the server can mark them offline.
	onLastClose func(userID string)

	stopOnce sync.Once
	stopCh   chan struct{}
}

func NewConnManager(gatewayID string, conf ManagerConf) *ConnManager {
	conf.norm()
	m := &ConnManager{
		byConn:    make(map[string]*Conn),
		byUser:    make(map[string]map[string]*Conn),
		conf:      conf,
		gatewayID: gatewayID,
		stopCh:    make(chan struct{}),
	}
	go m.sweeper()
	return m
}

func (m *ConnManager) GatewayID() string { return m.gatewayID }

func (m *ConnManager) OnLastClose(f func(userID string)) { m.onLastClose = f }

// AddUnauth registers a fresh connection with the short pre-auth TTL.
func (m *ConnManager) AddUnauth(connID string, ws *websocket.Conn) (*Conn, error) {
	if connID == "" || ws == nil {
		return nil, errors.New("connID/ws empty")
	}
	now := m.conf.Clock()
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byConn[connID]; exists {
		return nil, errors.New("connID exists")
	}
	c := &Conn{
		ConnID:    connID,
		ws:        ws,
		CreatedAt: now,
		TTL:       m.conf.UnauthTTL,
		ExpireAt:  now.Add(m.conf.UnauthTTL),
	}
	m.byConn[connID] = c
	return c, nil
}

// Bind attaches an authenticated user to the connection and switches it to
// the long TTL. Past MaxPerUser the user's oldest connection is evicted.
func (m *ConnManager) Bind(connID, userID string) error {
	if connID == "" || userID == "" {
		return errors.New("connID/userID empty")
	}
	now := m.conf.Clock()

	var evicted *Conn
	m.mu.Lock()
	c, ok := m.byConn[connID]
	if !ok {
		m.mu.Unlock()
		return errors.New("connID not found")
	}
	if m.conf.MaxPerUser > 0 {
		if mm := m.byUser[userID]; len(mm) >= m.conf.MaxPerUser {
			for _, w := range mm {
				if evicted == nil || w.CreatedAt.Before(evicted.CreatedAt) {
					evicted = w
				}
			}
			if evicted != nil {
				delete(mm, evicted.ConnID)
				delete(m.byConn, evicted.ConnID)
			}
		}
	}
	c.UserID = userID
	c.Authorized = true
	c.TTL = m.conf.AuthTTL
	c.ExpireAt = now.Add(m.conf.AuthTTL)
	if m.byUser[userID] == nil {
		m.byUser[userID] = make(map[string]*Conn)
	}
	m.byUser[userID][connID] = c
	m.mu.Unlock()

	if evicted != nil {
		logger.Infof("[connmgr] evict oldest conn=%s user=%s over cap", evicted.ConnID, userID)
		evicted.close()
	}
	return nil
}

// Heartbeat pushes the expiry forward. Wired to the websocket pong handler.
func (m *ConnManager) Heartbeat(connID string) error {
	now := m.conf.Clock()
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.byConn[connID]
	if !ok {
		return errors.New("connID not found")
	}
	c.ExpireAt = now.Add(c.TTL)
	return nil
}

// Remove drops and closes one connection. Returns the user whose last local
// connection this was, or "".
func (m *ConnManager) Remove(connID string) string {
	m.mu.Lock()
	c, ok := m.byConn[connID]
	if !ok {
		m.mu.Unlock()
		return ""
	}
	delete(m.byConn, connID)
	last := ""
	if c.Authorized && c.UserID != "" {
		if mm := m.byUser[c.UserID]; mm != nil {
			delete(mm, connID)
			if len(mm) == 0 {
				delete(m.byUser, c.UserID)
				last = c.UserID
			}
		}
	}
	m.mu.Unlock()
	c.close()
	return last
}

// Get returns a tracked connection by id.
func (m *ConnManager) Get(connID string) (*Conn, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.byConn[connID]
	return c, ok
}

// SendToUser fans one payload out to every local connection of the user.
// Errors on individual connections do not stop the rest; the last one wins.
func (m *ConnManager) SendToUser(user string, data []byte) error {
	m.mu.RLock()
	conns := make([]*Conn, 0, len(m.byUser[user]))
	for _, c := range m.byUser[user] {
		conns = append(conns, c)
	}
	m.mu.RUnlock()

	if len(conns) == 0 {
		return errors.New("user has no local connection")
	}
	var lastErr error
	for _, c := range conns {
		if err := c.Send(data); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// HasUser reports whether the user holds any local connection.
func (m *ConnManager) HasUser(user string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byUser[user]) > 0
}

// Users snapshots the locally connected user set.
func (m *ConnManager) Users() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.byUser))
	for u := range m.byUser {
		out = append(out, u)
	}
	return out
}

func (m *ConnManager) sweeper() {
	t := time.NewTicker(m.conf.SweepEvery)
	defer t.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case now := <-t.C:
			m.sweepOnce(now)
		}
	}
}

func (m *ConnManager) sweepOnce(now time.Time) {
	var expired []*Conn
	var lastUsers []string

	m.mu.Lock()
	for id, c := range m.byConn {
		if !now.After(c.ExpireAt) {
			continue
		}
		expired = append(expired, c)
		delete(m.byConn, id)
		if c.Authorized && c.UserID != "" {
			if mm := m.byUser[c.UserID]; mm != nil {
				delete(mm, id)
				if len(mm) == 0 {
					delete(m.byUser, c.UserID)
					lastUsers = append(lastUsers, c.UserID)
				}
			}
		}
	}
	m.mu.Unlock()

	// Close sockets outside the lock.
	for _, c := range expired {
		logger.Infof("[connmgr] expire conn=%s user=%s", c.ConnID, c.UserID)
		c.close()
	}
	if m.onLastClose != nil {
		for _, u := range lastUsers {
			m.onLastClose(u)
		}
	}
}

func (m *ConnManager) Close() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.mu.Lock()
	conns := make([]*Conn, 0, len(m.byConn))
	for _, c := range m.byConn {
		conns = append(conns, c)
	}
	m.byConn = map[string]*Conn{}
	m.byUser = map[string]map[string]*Conn{}
	m.mu.Unlock()
	for _, c := range conns {
		c.close()
	}
}
