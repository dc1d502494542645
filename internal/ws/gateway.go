package ws

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"chatroom-service/internal/config"
	"chatroom-service/internal/models"
	"chatroom-service/internal/observability"
	"chatroom-service/internal/repositories"
	"chatroom-service/internal/telemetry"
)

const storeTimeout = 5 * time.Second

// Options configures the gateway and every client it accepts.
type Options struct {
	CookieName     string
	ReplayLimit    int
	AllowedOrigins []string
	Client         ClientOptions
}

// OptionsFromConfig maps service configuration onto gateway options.
func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		CookieName:     cfg.SessionCookieName,
		ReplayLimit:    cfg.HistoryReplayLimit,
		AllowedOrigins: cfg.AllowedOrigins,
		Client: ClientOptions{
			QueueSize:       cfg.SendQueueSize,
			OverflowPolicy:  cfg.OverflowPolicy,
			PingInterval:    cfg.PingInterval,
			WriteTimeout:    cfg.WriteTimeout,
			MaxMessageSize:  cfg.MaxMessageSize,
			RateLimitBurst:  cfg.RateLimitBurst,
			RateLimitRefill: cfg.RateLimitRefill,
		},
	}
}

// Gateway authenticates sockets and runs the chat protocol on top of the hub.
// mu serializes every persist-then-fan-out step so all recipients observe the
// same order within a scope, and keeps presence broadcasts consistent.
type Gateway struct {
	hub      *Hub
	presence *Presence
	sessions repositories.SessionStore
	messages repositories.MessageRepository
	audit    *telemetry.AuditEmitter
	opts     Options
	upgrader websocket.Upgrader

	mu sync.Mutex
	wg sync.WaitGroup
}

// NewGateway wires a gateway. audit may be nil.
func NewGateway(hub *Hub, sessions repositories.SessionStore, messages repositories.MessageRepository, audit *telemetry.AuditEmitter, opts Options) *Gateway {
	if opts.CookieName == "" {
		opts.CookieName = "chat_session"
	}
	if opts.ReplayLimit <= 0 {
		opts.ReplayLimit = 50
	}
	if opts.Client.PingInterval <= 0 {
		opts.Client.PingInterval = 30 * time.Second
	}
	if opts.Client.WriteTimeout <= 0 {
		opts.Client.WriteTimeout = 10 * time.Second
	}

	g := &Gateway{
		hub:      hub,
		presence: NewPresence(hub, messages),
		sessions: sessions,
		messages: messages,
		audit:    audit,
		opts:     opts,
	}
	if policy := newOriginPolicy(opts.AllowedOrigins); policy.configured() {
		g.upgrader.CheckOrigin = policy.check
	}
	return g
}

// Presence exposes the presence tracker backed by this gateway's hub.
func (g *Gateway) Presence() *Presence {
	return g.presence
}

// Handle upgrades the request and runs the connection until it closes.
func (g *Gateway) Handle(c *gin.Context) {
	ctx, span := observability.Tracer().Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	username, authErr := g.authenticate(ctx, c)

	conn, err := g.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("ws upgrade failed: %v", err)
		span.RecordError(err)
		return
	}

	traceID := span.SpanContext().TraceID().String()
	info := ConnInfo{
		ConnID:      newConnID(),
		Username:    username,
		DeviceID:    observability.DeviceIDFromRequest(c.Request),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   observability.RequestIDFromRequest(c.Request),
		TraceID:     traceID,
		ConnectedAt: time.Now(),
	}

	if authErr != nil {
		span.SetStatus(codes.Error, authErr.Error())
		g.reject(conn, authErr)
		g.publishWSEvent(ctx, "ws_auth_failed", info, authErr.Error())
		return
	}
	span.SetAttributes(attribute.String("chat.user", username), attribute.String("ws.conn_id", info.ConnID))

	client := NewClient(conn, username, info, g.opts.Client)
	if err := g.connect(ctx, client); err != nil {
		log.Printf("ws connect user=%s conn_id=%s: %v", username, info.ConnID, err)
	}
	observability.IncWSActive()
	g.publishWSEvent(ctx, "ws_connect", info, "")
	log.Printf("ws connect user=%s conn_id=%s ip=%s", username, info.ConnID, info.IP)

	g.wg.Add(2)
	go func() {
		defer g.wg.Done()
		client.writePump()
	}()
	go func() {
		defer g.wg.Done()
		client.readPump(g.dispatch, g.disconnect)
	}()
}

// authenticate resolves the session cookie, falling back to a token query parameter.
func (g *Gateway) authenticate(ctx context.Context, c *gin.Context) (string, error) {
	token, err := c.Cookie(g.opts.CookieName)
	if err != nil || token == "" {
		token = c.Query("token")
	}
	if token == "" {
		return "", repositories.ErrSessionNotFound
	}
	return g.sessions.Validate(ctx, token)
}

// reject closes an unauthenticated socket with a policy violation code.
func (g *Gateway) reject(conn *websocket.Conn, authErr error) {
	code, text := websocket.ClosePolicyViolation, "authentication required"
	if !errors.Is(authErr, repositories.ErrSessionNotFound) {
		code, text = websocket.CloseInternalServerErr, "session lookup failed"
		log.Printf("ws session lookup failed: %v", authErr)
	}
	deadline := time.Now().Add(g.opts.Client.WriteTimeout)
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), deadline)
	_ = conn.Close()
}

// connect registers client, broadcasts presence and primes the new socket with
// unread counts and the recent group history.
func (g *Gateway) connect(ctx context.Context, client *Client) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.hub.Register(client, client.username)
	g.presence.BroadcastOnlineUsers()

	if err := g.presence.PushUnreadCounts(ctx, client.username); err != nil {
		log.Printf("ws unread counts failed user=%s conn_id=%s: %v", client.username, client.info.ConnID, err)
	}

	history, err := g.messages.Recent(ctx, repositories.RecentQuery{
		Scope: models.ScopeGroup,
		Limit: g.opts.ReplayLimit,
	})
	if err != nil {
		return fmt.Errorf("replay history: %w", err)
	}
	for i := range history {
		client.Enqueue(encode(models.ChatEvent{Type: models.EventChat, Data: &history[i]}))
	}
	return nil
}

// disconnect is the single cleanup path for every way a connection can end.
func (g *Gateway) disconnect(client *Client, reason string) {
	client.cleanupOnce.Do(func() {
		client.Close()

		g.mu.Lock()
		removed := g.hub.Unregister(client)
		if removed {
			g.presence.BroadcastOnlineUsers()
		}
		g.mu.Unlock()

		if !removed {
			return
		}
		observability.DecWSActive()
		log.Printf("ws disconnect user=%s conn_id=%s reason=%s", client.username, client.info.ConnID, reason)
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		defer cancel()
		g.publishWSEvent(ctx, "ws_disconnect", client.info, reason)
	})
}

// dispatch handles one inbound frame. Invalid or unauthorized envelopes are
// logged and dropped; the connection stays open.
func (g *Gateway) dispatch(client *Client, data []byte) {
	env, err := parseInbound(data)
	if err != nil {
		log.Printf("ws invalid envelope user=%s conn_id=%s: %v", client.username, client.info.ConnID, err)
		observability.IncEnvelope("invalid", "dropped")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	ctx, span := observability.Tracer().Start(ctx, "ws.envelope", trace.WithAttributes(
		attribute.String("ws.envelope_type", env.Type),
		attribute.String("chat.user", client.username),
	))
	defer span.End()

	switch env.Type {
	case envChat:
		err = g.handleChat(ctx, client, env)
	case envEdit:
		err = g.handleEdit(ctx, client, env)
	case envDelete:
		err = g.handleDelete(ctx, client, env)
	case envMarkRead:
		if strings.TrimSpace(env.Sender) == "" {
			err = ErrInvalidEnvelope
			break
		}
		_, err = g.MarkRead(ctx, client.username, env.Sender)
	case envGetUnreadCounts:
		err = g.presence.PushUnreadCounts(ctx, client.username)
	case envHeartbeat:
		// the read pump already extended the deadline
	default:
		if isSignaling(env.Type) {
			err = g.forwardSignal(client, env, data)
		} else {
			err = ErrUnknownEnvelope
		}
	}

	outcome := "ok"
	switch {
	case err == nil:
	case errors.Is(err, errTargetOffline):
		outcome = "dropped"
	case errors.Is(err, ErrForbidden):
		outcome = "forbidden"
		log.Printf("ws forbidden envelope type=%s user=%s message_id=%d", env.Type, client.username, env.MessageID)
	default:
		outcome = "dropped"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Printf("ws envelope dropped type=%s user=%s conn_id=%s: %v", env.Type, client.username, client.info.ConnID, err)
	}
	label := env.Type
	if errors.Is(err, ErrUnknownEnvelope) {
		label = "unknown"
	}
	observability.IncEnvelope(label, outcome)
}

func (g *Gateway) handleChat(ctx context.Context, client *Client, env inbound) error {
	if strings.TrimSpace(env.Text) == "" {
		return ErrInvalidEnvelope
	}
	scope := models.Scope(env.ChatType)
	if scope == "" {
		scope = models.ScopeGroup
	}
	if !scope.Valid() {
		return ErrInvalidEnvelope
	}
	kind := env.MessageType
	if kind == "" {
		kind = models.KindText
	}

	recipient := ""
	if scope == models.ScopePrivate {
		recipient = strings.TrimSpace(env.Recipient)
		if recipient == "" {
			return ErrInvalidEnvelope
		}
		if recipient == client.username {
			return fmt.Errorf("%w: private message to self", ErrInvalidEnvelope)
		}
		exists, err := g.sessions.UserExists(ctx, recipient)
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("%w: unknown recipient %q", ErrInvalidEnvelope, recipient)
		}
	}

	msg, err := g.appendAndDeliver(ctx, client.username, env.Text, kind, scope, recipient)
	if err != nil {
		return err
	}
	g.publishMessageEvent(ctx, "message_created", msg, client.info)
	return nil
}

func (g *Gateway) appendAndDeliver(ctx context.Context, author, text, kind string, scope models.Scope, recipient string) (models.Message, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	msg, err := g.messages.Append(ctx, author, text, kind, scope, recipient)
	if err != nil {
		return models.Message{}, err
	}
	observability.IncMessagePersisted(string(scope))

	deliver(g.targetsFor(msg), encode(models.ChatEvent{Type: models.EventChat, Data: &msg}))
	if scope == models.ScopePrivate {
		_ = g.presence.PushUnreadCounts(ctx, recipient)
	}
	return msg, nil
}

// ownedLive loads a live message and checks that username wrote it.
func (g *Gateway) ownedLive(ctx context.Context, messageID int64, username string) (models.Message, error) {
	if messageID <= 0 {
		return models.Message{}, ErrInvalidEnvelope
	}
	msg, err := g.messages.GetByID(ctx, messageID)
	if err != nil {
		return models.Message{}, err
	}
	if msg.Deleted {
		return models.Message{}, repositories.ErrMessageNotFound
	}
	if msg.Author != username {
		return models.Message{}, ErrForbidden
	}
	return msg, nil
}

func (g *Gateway) handleEdit(ctx context.Context, client *Client, env inbound) error {
	if strings.TrimSpace(env.NewText) == "" {
		return ErrInvalidEnvelope
	}

	g.mu.Lock()
	msg, err := g.ownedLive(ctx, env.MessageID, client.username)
	if err == nil {
		err = g.messages.Edit(ctx, msg.ID, env.NewText)
	}
	if err == nil {
		msg, err = g.messages.GetByID(ctx, msg.ID)
	}
	if err == nil {
		targets := g.targetsFor(msg)
		deliver(targets, encode(models.ChatEvent{Type: models.EventUpdate, Data: &msg}))
		deliver(targets, encode(refreshFor(msg)))
	}
	g.mu.Unlock()
	if err != nil {
		return err
	}

	g.audit.Emit(ctx, telemetry.LevelInfo, "message_edit", fmt.Sprintf("message %d edited", msg.ID), client.info.RequestID, client.username)
	g.publishMessageEvent(ctx, "message_edited", msg, client.info)
	return nil
}

func (g *Gateway) handleDelete(ctx context.Context, client *Client, env inbound) error {
	g.mu.Lock()
	msg, err := g.ownedLive(ctx, env.MessageID, client.username)
	if err == nil {
		err = g.messages.SoftDelete(ctx, msg.ID)
	}
	if err == nil {
		targets := g.targetsFor(msg)
		deliver(targets, encode(models.DeleteEvent{Type: models.EventDelete, MessageID: msg.ID}))
		deliver(targets, encode(refreshFor(msg)))
		if msg.Scope == models.ScopePrivate && !msg.Read {
			_ = g.presence.PushUnreadCounts(ctx, msg.RecipientName())
		}
	}
	g.mu.Unlock()
	if err != nil {
		return err
	}

	g.audit.Emit(ctx, telemetry.LevelInfo, "message_delete", fmt.Sprintf("message %d deleted", msg.ID), client.info.RequestID, client.username)
	g.publishMessageEvent(ctx, "message_deleted", msg, client.info)
	return nil
}

// MarkRead marks sender's private messages to reader as read. When anything
// changed the sender is told and both parties get fresh unread counts.
func (g *Gateway) MarkRead(ctx context.Context, reader, sender string) (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	count, err := g.messages.MarkRead(ctx, reader, sender)
	if err != nil || count == 0 {
		return count, err
	}

	deliver(g.hub.ConnectionsFor(sender), encode(models.MessagesReadEvent{
		Type:     models.EventMessagesRead,
		Reader:   reader,
		Sender:   sender,
		ChatWith: reader,
	}))
	_ = g.presence.PushUnreadCounts(ctx, sender)
	_ = g.presence.PushUnreadCounts(ctx, reader)
	return count, nil
}

// forwardSignal relays an opaque signaling envelope to every connection of its target.
func (g *Gateway) forwardSignal(client *Client, env inbound, data []byte) error {
	target := strings.TrimSpace(env.Target)
	if target == "" {
		return ErrInvalidEnvelope
	}
	conns := g.hub.ConnectionsFor(target)
	if len(conns) == 0 {
		return errTargetOffline
	}
	payload, err := rewriteSignal(data, client.username)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	deliver(conns, payload)
	return nil
}

// targetsFor returns the connections that may see msg: everyone for group
// messages, the two participants for private ones.
func (g *Gateway) targetsFor(msg models.Message) []*Client {
	if msg.Scope == models.ScopeGroup {
		return g.hub.All()
	}
	targets := g.hub.ConnectionsFor(msg.Author)
	if recipient := msg.RecipientName(); recipient != msg.Author {
		targets = append(targets, g.hub.ConnectionsFor(recipient)...)
	}
	return targets
}

func refreshFor(msg models.Message) models.RefreshEvent {
	return models.RefreshEvent{
		Type: models.EventRefresh,
		Data: models.RefreshHint{ChatType: msg.Scope, Recipient: msg.Recipient},
	}
}

// Shutdown closes every connection and waits for their pumps to exit.
func (g *Gateway) Shutdown(ctx context.Context) error {
	closed := g.hub.CloseAll()
	log.Printf("ws shutdown closing %d connections", closed)

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

