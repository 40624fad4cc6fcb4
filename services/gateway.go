package services

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"securechat/models"

	"go.uber.org/zap"
)

// ClientState is the protocol state of one connection.
type ClientState int

const (
	StateUnauthenticated ClientState = iota
	StateAuthenticated
	StateJoined
	StateClosed
)

func (s ClientState) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticated:
		return "authenticated"
	case StateJoined:
		return "joined"
	default:
		return "closed"
	}
}

// GatewayDeps wires a Gateway. Notifier defaults to local delivery and
// Logger to a no-op logger.
type GatewayDeps struct {
	Auth      *AuthService
	Friends   *RelationshipStore
	Log       MessageLog
	Registry  *ConnRegistry
	Notifier  Notifier
	Metrics   *Metrics
	Logger    *zap.Logger
	Transport TransportConfig
	PageSize  int
}

// Gateway owns the shared collaborators of every client connection.
type Gateway struct {
	auth      *AuthService
	friends   *RelationshipStore
	log       MessageLog
	registry  *ConnRegistry
	router    *RoomRouter
	notifier  Notifier
	convLocks *KeyedMutex
	metrics   *Metrics
	logger    *zap.Logger
	transport TransportConfig
	pageSize  int
}

func NewGateway(deps GatewayDeps) *Gateway {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Notifier == nil {
		deps.Notifier = NewLocalNotifier(deps.Registry)
	}
	if deps.PageSize <= 0 {
		deps.PageSize = 100
	}
	return &Gateway{
		auth:      deps.Auth,
		friends:   deps.Friends,
		log:       deps.Log,
		registry:  deps.Registry,
		router:    NewRoomRouter(deps.Registry, deps.Friends),
		notifier:  deps.Notifier,
		convLocks: NewKeyedMutex(),
		metrics:   deps.Metrics,
		logger:    deps.Logger,
		transport: deps.Transport.withDefaults(),
		pageSize:  deps.PageSize,
	}
}

func (g *Gateway) Auth() *AuthService               { return g.auth }
func (g *Gateway) Friends() *RelationshipStore      { return g.friends }
func (g *Gateway) Log() MessageLog                  { return g.log }
func (g *Gateway) Registry() *ConnRegistry          { return g.registry }
func (g *Gateway) Router() *RoomRouter              { return g.router }
func (g *Gateway) TransportConfig() TransportConfig { return g.transport }
func (g *Gateway) PageSize() int                    { return g.pageSize }

// SubmitRequest stores a friend request and hints the recipient. Both the
// HTTP API and the socket protocol go through here.
func (g *Gateway) SubmitRequest(ctx context.Context, from, to string) (*models.FriendRequest, error) {
	req, err := g.friends.SubmitRequest(ctx, from, to)
	if err != nil {
		return nil, err
	}
	g.notify(ctx, to, Event{Name: EventNewRequest, Data: NewRequestData{From: from, ReqID: req.ID}})
	return req, nil
}

// ResolveRequest resolves a request and hints the original sender.
func (g *Gateway) ResolveRequest(ctx context.Context, id int64, actor string, decision Decision) (*models.FriendRequest, error) {
	req, err := g.friends.ResolveRequest(ctx, id, actor, decision)
	if err != nil {
		return nil, err
	}
	g.notify(ctx, req.FromUser, Event{Name: EventRequestResolved, Data: RequestResolvedData{
		ReqID:  req.ID,
		By:     actor,
		Status: req.Status,
	}})
	return req, nil
}

// Logout ends the session and closes the sockets on this node that were
// opened with it. Sockets on other nodes notice at their next pong.
func (g *Gateway) Logout(ctx context.Context, token string) error {
	if err := g.auth.Logout(ctx, token); err != nil {
		return err
	}
	if n := g.registry.CloseSession(token); n > 0 {
		g.logger.Debug("closed sockets of ended session", zap.Int("count", n))
	}
	return nil
}

func (g *Gateway) notify(ctx context.Context, user string, ev Event) {
	if err := g.notifier.NotifyUser(ctx, user, ev); err != nil {
		g.logger.Warn("failed to notify user",
			zap.String("user", user),
			zap.String("event", ev.Name),
			zap.Error(err))
	}
}

// Client is the protocol state of one connection. It is driven by a
// single goroutine and is not safe for concurrent use.
type Client struct {
	gw     *Gateway
	out    Outbound
	state  ClientState
	connID string
	user   string
	token  string
	room   string
	peer   string
}

func (g *Gateway) NewClient(out Outbound) *Client {
	return &Client{gw: g, out: out, state: StateUnauthenticated}
}

func (c *Client) State() ClientState { return c.state }
func (c *Client) User() string       { return c.user }
func (c *Client) Room() string       { return c.room }
func (c *Client) ConnID() string     { return c.connID }

func (c *Client) Authenticated() bool {
	return c.state == StateAuthenticated || c.state == StateJoined
}

func (c *Client) emit(name string, data any) {
	c.out.Deliver(Event{Name: name, Data: data})
}

// AuthenticateToken binds the connection to the owner of a session token.
func (c *Client) AuthenticateToken(ctx context.Context, token string) error {
	if c.state != StateUnauthenticated {
		return ErrAlreadyAuthed
	}
	sess, err := c.gw.auth.Resolve(ctx, token)
	if err != nil {
		return err
	}
	c.token = token
	c.bind(sess.Username)
	return nil
}

// AuthenticatePassword checks credentials directly, without a session.
func (c *Client) AuthenticatePassword(ctx context.Context, username, password string) error {
	if c.state != StateUnauthenticated {
		return ErrAlreadyAuthed
	}
	if err := c.gw.auth.Identity().Verify(ctx, username, password); err != nil {
		return err
	}
	c.bind(username)
	return nil
}

// CheckSession reports whether the session the connection authenticated
// with is still live. Connections authenticated by password have no
// session and always pass.
func (c *Client) CheckSession(ctx context.Context) error {
	if c.token == "" {
		return nil
	}
	_, err := c.gw.auth.Resolve(ctx, c.token)
	return err
}

func (c *Client) bind(user string) {
	c.user = user
	c.connID = c.gw.registry.RegisterSession(user, c.token, c.out)
	c.state = StateAuthenticated
	c.emit(EventAuthenticated, AuthenticatedData{Username: user, ConnID: c.connID})
}

// Join switches the connection to the conversation with target and pushes
// the history after since. Live messages of the conversation cannot
// interleave with the history because both run under its lock.
func (c *Client) Join(ctx context.Context, target string, since int64) error {
	if !c.Authenticated() {
		return ErrNotAuthenticated
	}
	if since < 0 {
		since = 0
	}
	unlock := c.gw.convLocks.Lock(ConversationID(c.user, target))
	defer unlock()

	conv, err := c.gw.router.Join(ctx, c.connID, c.user, target)
	if err != nil {
		return err
	}
	c.state = StateJoined
	c.room = conv
	c.peer = target
	c.emit(EventJoined, JoinedData{Room: conv, Target: target})

	return c.pushHistory(ctx, conv, since)
}

func (c *Client) pushHistory(ctx context.Context, conv string, since int64) error {
	pageSize := c.gw.pageSize
	batch := make([]HistoryItem, 0, pageSize)
	for m, err := range HistorySeq(ctx, c.gw.log, conv, since, pageSize) {
		if err != nil {
			return err
		}
		if len(batch) == pageSize {
			c.emit(EventHistory, HistoryData{Room: conv, Messages: batch, HasMore: true})
			batch = make([]HistoryItem, 0, pageSize)
		}
		batch = append(batch, historyItem(m))
	}
	c.emit(EventHistory, HistoryData{Room: conv, Messages: batch, HasMore: false})
	return nil
}

// Send appends a message to the joined conversation and fans it out to its
// subscribers, the sender's own connection included.
func (c *Client) Send(ctx context.Context, p SendPayload) error {
	if !c.Authenticated() {
		return ErrNotAuthenticated
	}
	if c.state != StateJoined {
		return ErrNotJoined
	}
	if p.Target != "" && p.Target != c.peer && p.Target != c.room {
		return ErrRoomMismatch
	}

	unlock := c.gw.convLocks.Lock(c.room)
	defer unlock()

	msg, err := c.gw.log.Append(ctx, c.room, c.user, p.Content, AppendOptions{MsgType: p.MsgType, FileName: p.FileName})
	if err != nil {
		return err
	}
	c.gw.metrics.recordAppend()
	c.gw.registry.BroadcastToConversation(c.room, newMessageEvent(msg))
	return nil
}

func (c *Client) Leave() error {
	if !c.Authenticated() {
		return ErrNotAuthenticated
	}
	prev := c.gw.router.Leave(c.connID)
	c.state = StateAuthenticated
	c.room, c.peer = "", ""
	c.emit(EventLeft, LeftData{Room: prev})
	return nil
}

func (c *Client) FriendRequest(ctx context.Context, target string) error {
	if !c.Authenticated() {
		return ErrNotAuthenticated
	}
	req, err := c.gw.SubmitRequest(ctx, c.user, target)
	if err != nil {
		return err
	}
	c.emit(EventRequestResult, RequestResultData{ReqID: req.ID, Target: target, Status: req.Status, Msg: "friend request sent"})
	return nil
}

func (c *Client) HandleRequest(ctx context.Context, id int64, action string) error {
	if !c.Authenticated() {
		return ErrNotAuthenticated
	}
	req, err := c.gw.ResolveRequest(ctx, id, c.user, Decision(strings.ToLower(action)))
	if err != nil {
		return err
	}
	c.emit(EventRequestResult, RequestResultData{ReqID: req.ID, Target: req.FromUser, Status: req.Status, Msg: "friend request " + string(req.Status)})
	if req.Status == models.RequestAccepted {
		return c.ListFriends(ctx)
	}
	return nil
}

func (c *Client) ListRequests(ctx context.Context) error {
	if !c.Authenticated() {
		return ErrNotAuthenticated
	}
	requests, err := c.gw.friends.ListPending(ctx, c.user)
	if err != nil {
		return err
	}
	c.emit(EventPendingRequests, PendingData{Requests: PendingItems(requests)})
	return nil
}

func (c *Client) ListFriends(ctx context.Context) error {
	if !c.Authenticated() {
		return ErrNotAuthenticated
	}
	friends, err := c.gw.friends.ListFriends(ctx, c.user)
	if err != nil {
		return err
	}
	c.emit(EventFriends, FriendsData{Friends: friends})
	return nil
}

// Handle dispatches one inbound event. Failures are reported to the client
// as error events and returned; they never end the connection.
func (c *Client) Handle(ctx context.Context, in Inbound) error {
	start := time.Now()
	err := c.dispatch(ctx, in)
	code := "ok"
	if err != nil {
		code, _ = Public(err)
		if KindOf(err) == KindInternal {
			c.gw.logger.Error("event failed",
				zap.String("event", in.Event),
				zap.String("user", c.user),
				zap.String("conn_id", c.connID),
				zap.Error(err))
		}
		c.out.Deliver(errorEvent(err, in.Event))
	}
	c.gw.metrics.recordEvent(in.Event, code, time.Since(start))
	return err
}

func decode(in Inbound, dst any) error {
	if len(in.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(in.Data, dst); err != nil {
		return ErrMalformedPayload
	}
	return nil
}

func (c *Client) dispatch(ctx context.Context, in Inbound) error {
	if c.state == StateClosed {
		return ErrConnectionClosed
	}
	switch in.Event {
	case EventAuthenticate:
		var p AuthenticatePayload
		if err := decode(in, &p); err != nil {
			return err
		}
		if p.Token != "" {
			return c.AuthenticateToken(ctx, p.Token)
		}
		return c.AuthenticatePassword(ctx, p.Username, p.Password)
	case EventPing:
		c.emit(EventPong, nil)
		return nil
	}

	if !c.Authenticated() {
		if !knownEvent(in.Event) {
			return ErrUnknownEvent
		}
		return ErrNotAuthenticated
	}

	switch in.Event {
	case EventJoinChat:
		var p JoinPayload
		if err := decode(in, &p); err != nil {
			return err
		}
		return c.Join(ctx, p.Target, p.Since)
	case EventSendMessage:
		var p SendPayload
		if err := decode(in, &p); err != nil {
			return err
		}
		return c.Send(ctx, p)
	case EventLeaveChat:
		return c.Leave()
	case EventFriendRequest:
		var p FriendRequestPayload
		if err := decode(in, &p); err != nil {
			return err
		}
		return c.FriendRequest(ctx, p.Target)
	case EventHandleRequest:
		var p HandleRequestPayload
		if err := decode(in, &p); err != nil {
			return err
		}
		return c.HandleRequest(ctx, p.ReqID, p.Action)
	case EventListRequests:
		return c.ListRequests(ctx)
	case EventListFriends:
		return c.ListFriends(ctx)
	}
	return ErrUnknownEvent
}

func knownEvent(name string) bool {
	switch name {
	case EventJoinChat, EventSendMessage, EventLeaveChat, EventFriendRequest,
		EventHandleRequest, EventListRequests, EventListFriends:
		return true
	}
	return false
}

// Close releases the room and the registry entry. Safe to call twice.
func (c *Client) Close() {
	if c.state == StateClosed {
		return
	}
	if c.connID != "" {
		c.gw.router.Leave(c.connID)
		c.gw.registry.Unregister(c.connID)
	}
	c.state = StateClosed
	c.room, c.peer = "", ""
}
