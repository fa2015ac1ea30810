package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/vedran77/mavis/internal/fanout"
	"github.com/vedran77/mavis/internal/service"
)

const (
	writeWait      = 10 * time.Second
	pingInterval   = 30 * time.Second
	maxMessageSize = 4096
	sendBufSize    = 256
)

// Client represents a single WebSocket connection.
type Client struct {
	hub     *Hub
	conn    *websocket.Conn
	userID  string
	session *service.Session
	logger  *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	// subs tracks the live subscriptions of this connection by key.
	subs map[fanout.Key]*forwarder
	mu   sync.Mutex

	send chan *Event
}

func NewClient(ctx context.Context, hub *Hub, conn *websocket.Conn, userID string) *Client {
	ctx, cancel := context.WithCancel(ctx)
	return &Client{
		hub:    hub,
		conn:   conn,
		userID: userID,
		logger: hub.logger.With(zap.String("user_id", userID)),
		ctx:    ctx,
		cancel: cancel,
		subs:   make(map[fanout.Key]*forwarder),
		send:   make(chan *Event, sendBufSize),
	}
}

// Run pumps the connection until either side closes it, then cancels every
// subscription and disconnects the presence session.
func (c *Client) Run() {
	c.conn.SetReadLimit(maxMessageSize)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writePump()
	}()

	c.readPump()

	c.cancel()
	c.unsubscribeAll()
	<-writerDone
	if c.session != nil {
		c.session.Disconnect(context.Background())
	}
	c.conn.Close(websocket.StatusNormalClosure, "")
	c.hub.unregister(c)
}

// readPump reads client events until the connection fails or ctx is done.
func (c *Client) readPump() {
	for {
		var event Event
		err := wsjson.Read(c.ctx, c.conn, &event)
		if err != nil {
			switch {
			case websocket.CloseStatus(err) != -1, errors.Is(err, context.Canceled):
				c.logger.Debug("ws client disconnected")
			default:
				c.logger.Debug("ws read error", zap.Error(err))
			}
			return
		}

		c.handleEvent(&event)
	}
}

// writePump is the only writer on the connection. It also pings the peer and
// refreshes the presence mark on every tick.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case event := <-c.send:
			ctx, cancel := context.WithTimeout(c.ctx, writeWait)
			err := wsjson.Write(ctx, c.conn, event)
			cancel()
			if err != nil {
				c.logger.Debug("ws write error", zap.Error(err))
				c.cancel()
				return
			}

		case <-ticker.C:
			ctx, cancel := context.WithTimeout(c.ctx, writeWait)
			err := c.conn.Ping(ctx)
			cancel()
			if err != nil {
				c.logger.Debug("ws ping error", zap.Error(err))
				c.cancel()
				return
			}
			if c.session != nil {
				if err := c.session.Heartbeat(c.ctx); err != nil {
					c.logger.Warn("presence heartbeat failed", zap.Error(err))
				}
			}

		case <-c.ctx.Done():
			return
		}
	}
}

// enqueue hands event to the writer. It blocks while the buffer is full and
// reports false once the client is closing.
func (c *Client) enqueue(event *Event) bool {
	select {
	case c.send <- event:
		return true
	case <-c.ctx.Done():
		return false
	}
}

// handleEvent routes an incoming client event.
func (c *Client) handleEvent(event *Event) {
	switch event.Type {
	case EventTypeSubscribe:
		var p SubscriptionPayload
		if err := json.Unmarshal(event.Payload, &p); err != nil {
			c.sendError("INVALID_PAYLOAD", "invalid subscribe payload", fanout.Key{})
			return
		}
		c.subscribe(p)

	case EventTypeUnsubscribe:
		var p SubscriptionPayload
		if err := json.Unmarshal(event.Payload, &p); err != nil {
			c.sendError("INVALID_PAYLOAD", "invalid unsubscribe payload", fanout.Key{})
			return
		}
		c.unsubscribe(c.normalize(p))

	case EventTypePing:
		c.sendEvent(EventTypePong, nil)

	default:
		c.sendError("UNKNOWN_EVENT", "unknown event type: "+event.Type, fanout.Key{})
	}
}

// normalize fills in the implicit id of a chats subscription.
func (c *Client) normalize(key fanout.Key) fanout.Key {
	if key.Kind == fanout.KindChats && key.ID == "" {
		key.ID = c.userID
	}
	return key
}

func (c *Client) subscribe(key fanout.Key) {
	key = c.normalize(key)
	if !key.Kind.Valid() {
		c.sendError("INVALID_PAYLOAD", "unknown subscription kind", key)
		return
	}
	if key.ID == "" {
		c.sendError("INVALID_PAYLOAD", "id is required", key)
		return
	}

	c.mu.Lock()
	_, exists := c.subs[key]
	c.mu.Unlock()
	if exists {
		c.sendError("ALREADY_SUBSCRIBED", "already subscribed", key)
		return
	}

	f, err := c.open(key)
	if err != nil {
		code, message := errorCode(err)
		c.sendError(code, message, key)
		return
	}

	c.mu.Lock()
	c.subs[key] = f
	c.mu.Unlock()
	c.logger.Debug("subscribed", zap.String("kind", string(key.Kind)), zap.String("id", key.ID))
}

func (c *Client) open(key fanout.Key) (*forwarder, error) {
	rt := c.hub.realtime
	switch key.Kind {
	case fanout.KindChats:
		if key.ID != c.userID {
			return nil, service.ErrForbidden
		}
		return forward(c, rt.SubscribeChats(c.ctx, c.userID)), nil
	case fanout.KindMessages:
		sub, err := rt.SubscribeMessages(c.ctx, c.userID, key.ID)
		if err != nil {
			return nil, err
		}
		return forward(c, sub), nil
	case fanout.KindUnread:
		sub, err := rt.SubscribeUnread(c.ctx, c.userID, key.ID)
		if err != nil {
			return nil, err
		}
		return forward(c, sub), nil
	default:
		sub, err := rt.SubscribePresence(c.ctx, key.ID)
		if err != nil {
			return nil, err
		}
		return forward(c, sub), nil
	}
}

// unsubscribe stops the subscription and then acknowledges it. Every
// snapshot the subscription produced is queued before the acknowledgment.
func (c *Client) unsubscribe(key fanout.Key) {
	c.mu.Lock()
	f, ok := c.subs[key]
	delete(c.subs, key)
	c.mu.Unlock()

	if ok {
		f.stop()
	}
	c.sendEvent(EventTypeUnsubscribed, key)
}

func (c *Client) unsubscribeAll() {
	c.mu.Lock()
	subs := c.subs
	c.subs = make(map[fanout.Key]*forwarder)
	c.mu.Unlock()

	for _, f := range subs {
		f.stop()
	}
}

func (c *Client) sendEvent(eventType string, payload any) {
	evt, err := NewEvent(eventType, payload)
	if err != nil {
		c.logger.Error("ws marshal error", zap.String("type", eventType), zap.Error(err))
		return
	}
	c.enqueue(evt)
}

func (c *Client) sendError(code, message string, key fanout.Key) {
	c.sendEvent(EventTypeError, ErrorPayload{Code: code, Message: message, Kind: key.Kind, ID: key.ID})
}

// forwarder copies one subscription's updates onto the client's send queue.
type forwarder struct {
	cancel func()
	done   chan struct{}
}

func forward[T any](c *Client, sub *fanout.Subscription[T]) *forwarder {
	f := &forwarder{cancel: sub.Cancel, done: make(chan struct{})}
	key := sub.Key()
	go func() {
		defer close(f.done)
		for u := range sub.Updates() {
			evt, err := NewEvent(EventTypeSnapshot, SnapshotPayload{
				Kind: key.Kind,
				ID:   key.ID,
				Seq:  u.Seq,
				Data: u.Value,
			})
			if err != nil {
				c.logger.Error("ws marshal error", zap.String("kind", string(key.Kind)), zap.Error(err))
				continue
			}
			if !c.enqueue(evt) {
				return
			}
		}
	}()
	return f
}

// stop cancels the subscription and waits until nothing more will be queued.
func (f *forwarder) stop() {
	f.cancel()
	<-f.done
}

func errorCode(err error) (string, string) {
	switch {
	case errors.Is(err, service.ErrChatNotFound):
		return "CHAT_NOT_FOUND", "Chat not found"
	case errors.Is(err, service.ErrNotFound):
		return "NOT_FOUND", "Resource not found"
	case errors.Is(err, service.ErrForbidden):
		return "FORBIDDEN", err.Error()
	default:
		return "INTERNAL", "Something went wrong"
	}
}
