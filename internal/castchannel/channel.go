// Package castchannel implements the Cast v2 messaging collaborators the
// plex controller consumes: a namespace-addressed channel with reply
// correlation, and the receiver-level launch and volume services.
package castchannel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/buger/jsonparser"
	"github.com/google/uuid"
	"github.com/vishen/go-chromecast/cast"
	pb "github.com/vishen/go-chromecast/cast/proto"
	"go2tv.app/plexcast/internal/adapters"
	"go2tv.app/plexcast/internal/metrics"
)

const (
	NamespaceConnection = "urn:x-cast:com.google.cast.tp.connection"
	NamespaceHeartbeat  = "urn:x-cast:com.google.cast.tp.heartbeat"
	NamespaceReceiver   = "urn:x-cast:com.google.cast.receiver"

	ReceiverID = "receiver-0"

	defaultReplyTTL = 2 * time.Minute
)

var (
	ErrNoTransport = errors.New("no application transport; launch the receiver app first")
	ErrClosed      = errors.New("cast channel is closed")
)

// MessageHandler handles an unsolicited message on one namespace and reports
// whether it recognized it.
type MessageHandler func(payload []byte) (bool, error)

type Config struct {
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
	SenderID string

	RetryAttempts    int
	RetryBaseBackoff time.Duration
	RetryMaxBackoff  time.Duration

	// ReplyTTL bounds how long an unanswered reply handler is kept.
	ReplyTTL time.Duration
}

type pendingReply struct {
	handler func([]byte) error
	sentAt  time.Time
}

type Channel struct {
	conn     adapters.CastConn
	senderID string
	logger   *slog.Logger
	metrics  *metrics.Metrics
	retry    retryPolicy
	replyTTL time.Duration
	now      func() time.Time

	mu          sync.Mutex
	lastID      int
	pending     map[int]pendingReply
	handlers    map[string]MessageHandler
	transportID string
	connected   map[string]bool
	closed      bool
}

func New(conn adapters.CastConn, cfg Config) *Channel {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	if cfg.SenderID == "" {
		cfg.SenderID = "sender-" + uuid.NewString()
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = defaultRetryAttempts
	}
	if cfg.RetryBaseBackoff <= 0 {
		cfg.RetryBaseBackoff = defaultRetryBaseBackoff
	}
	if cfg.RetryMaxBackoff <= 0 {
		cfg.RetryMaxBackoff = defaultRetryMaxBackoff
	}
	if cfg.ReplyTTL <= 0 {
		cfg.ReplyTTL = defaultReplyTTL
	}

	return &Channel{
		conn:     conn,
		senderID: cfg.SenderID,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
		retry: retryPolicy{
			attempts:    cfg.RetryAttempts,
			baseBackoff: cfg.RetryBaseBackoff,
			maxBackoff:  cfg.RetryMaxBackoff,
			logger:      cfg.Logger,
		},
		replyTTL:  cfg.ReplyTTL,
		now:       time.Now,
		pending:   map[int]pendingReply{},
		handlers:  map[string]MessageHandler{},
		connected: map[string]bool{},
	}
}

// SenderID is the source id stamped on every outbound message.
func (c *Channel) SenderID() string {
	return c.senderID
}

// Connect opens the connection to the receiver and joins the platform
// receiver's virtual connection.
func (c *Channel) Connect(ctx context.Context, host string, port int) error {
	err := c.retry.do(ctx, "cast_connect", func() error {
		return c.conn.Start(host, port)
	})
	if err != nil {
		return fmt.Errorf("connect %s:%d: %w", host, port, err)
	}
	c.logger.Info("cast_connected", slog.String("host", host), slog.Int("port", port), slog.String("sender_id", c.senderID))
	return c.joinVirtualConnection(ReceiverID)
}

func (c *Channel) joinVirtualConnection(destination string) error {
	c.mu.Lock()
	if c.connected[destination] {
		c.mu.Unlock()
		return nil
	}
	c.connected[destination] = true
	c.mu.Unlock()

	if err := c.conn.Send(0, &cast.PayloadHeader{Type: "CONNECT"}, c.senderID, destination, NamespaceConnection); err != nil {
		c.mu.Lock()
		delete(c.connected, destination)
		c.mu.Unlock()
		return fmt.Errorf("join %s: %w", destination, err)
	}
	return nil
}

// SetTransport routes application namespaces to transportID. An empty id
// detaches the application.
func (c *Channel) SetTransport(transportID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.transportID == transportID {
		return
	}
	c.logger.Debug("cast_transport", slog.String("transport_id", transportID))
	if c.transportID != "" {
		delete(c.connected, c.transportID)
	}
	c.transportID = transportID
}

func (c *Channel) Transport() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transportID
}

// Handle registers fn for unsolicited messages on namespace, replacing any
// previous handler.
func (c *Channel) Handle(namespace string, fn MessageHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[namespace] = fn
}

func (c *Channel) Unhandle(namespace string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.handlers, namespace)
}

// Send delivers payload on namespace. When onReply is set the wire requestId
// is replaced with a fresh correlation id and onReply runs once when the
// matching reply arrives.
func (c *Channel) Send(ctx context.Context, namespace string, payload cast.Payload, onReply func([]byte) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	destination, err := c.destinationFor(namespace)
	if err != nil {
		return err
	}
	if err := c.joinVirtualConnection(destination); err != nil {
		return err
	}

	// The connection marshals payload as given, so the correlation id has to
	// be stamped on it here.
	requestID := 0
	if onReply != nil {
		requestID = c.registerReply(onReply)
		payload.SetRequestId(requestID)
	}
	if err := c.conn.Send(requestID, payload, c.senderID, destination, namespace); err != nil {
		if requestID != 0 {
			c.takeReply(requestID)
		}
		return fmt.Errorf("send on %s: %w", namespace, err)
	}
	c.metrics.IncMessagesSent(namespace)
	return nil
}

func (c *Channel) destinationFor(namespace string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return "", ErrClosed
	}

	switch namespace {
	case NamespaceConnection, NamespaceHeartbeat, NamespaceReceiver:
		return ReceiverID, nil
	}
	if c.transportID == "" {
		return "", ErrNoTransport
	}
	return c.transportID, nil
}

func (c *Channel) registerReply(handler func([]byte) error) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for id, p := range c.pending {
		if now.Sub(p.sentAt) > c.replyTTL {
			delete(c.pending, id)
		}
	}
	c.lastID++
	c.pending[c.lastID] = pendingReply{handler: handler, sentAt: now}
	return c.lastID
}

func (c *Channel) takeReply(requestID int) (func([]byte) error, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pending[requestID]
	if !ok {
		return nil, false
	}
	delete(c.pending, requestID)
	return p.handler, true
}

// Run reads inbound messages until ctx ends or the connection's message
// channel is closed.
func (c *Channel) Run(ctx context.Context) error {
	msgs := c.conn.MsgChan()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return ErrClosed
			}
			c.dispatch(msg)
		}
	}
}

func (c *Channel) dispatch(msg *pb.CastMessage) {
	if msg == nil {
		return
	}
	namespace := msg.GetNamespace()
	payload := []byte(msg.GetPayloadUtf8())
	msgType, _ := jsonparser.GetString(payload, "type")

	// Heartbeats never get here; the connection answers PING itself.
	if namespace == NamespaceConnection {
		if msgType == "CLOSE" && msg.GetSourceId() == c.Transport() {
			c.logger.Info("cast_transport_closed", slog.String("transport_id", msg.GetSourceId()))
			c.SetTransport("")
		}
		return
	}

	if requestID, err := jsonparser.GetInt(payload, "requestId"); err == nil && requestID != 0 {
		if handler, ok := c.takeReply(int(requestID)); ok {
			c.metrics.IncRepliesDispatched()
			if err := handler(payload); err != nil {
				c.metrics.IncHandlerErrors()
				c.logger.Warn("cast_reply_error", slog.String("namespace", namespace), slog.Int64("request_id", requestID), slog.String("error", err.Error()))
			}
			return
		}
	}

	c.mu.Lock()
	handler := c.handlers[namespace]
	c.mu.Unlock()
	if handler == nil {
		c.metrics.IncMessagesDropped()
		c.logger.Debug("cast_message_dropped", slog.String("namespace", namespace), slog.String("type", msgType))
		return
	}

	handled, err := handler(payload)
	if err != nil {
		c.metrics.IncHandlerErrors()
		c.logger.Warn("cast_message_error", slog.String("namespace", namespace), slog.String("type", msgType), slog.String("error", err.Error()))
	}
	if !handled {
		c.metrics.IncMessagesDropped()
		c.logger.Debug("cast_message_unhandled", slog.String("namespace", namespace), slog.String("type", msgType))
	}
}

// Close leaves the receiver and closes the connection. Pending reply
// handlers are discarded.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.pending = map[int]pendingReply{}
	connected := make([]string, 0, len(c.connected))
	for destination := range c.connected {
		connected = append(connected, destination)
	}
	c.mu.Unlock()

	for _, destination := range connected {
		_ = c.conn.Send(0, &cast.PayloadHeader{Type: "CLOSE"}, c.senderID, destination, NamespaceConnection)
	}
	return c.conn.Close()
}
