// Package kick subscribes to a Kick channel's chat over Kick's Pusher
// websocket and translates chat events into domain types.
package kick

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/hammamikhairi/kickvox/internal/domain"
	"github.com/hammamikhairi/kickvox/internal/logger"
)

// Compile-time interface check.
var _ domain.ChatSource = (*Client)(nil)

const (
	// DefaultWSURL is Kick's public Pusher endpoint.
	DefaultWSURL = "wss://ws-us2.pusher.com/app/32cbd69e4b950bf97679?protocol=7&client=js&version=8.4.0-rc2&flash=false"
	// DefaultAPIBase serves channel metadata.
	DefaultAPIBase = "https://kick.com"

	handshakeTimeout = 15 * time.Second
	eventBuffer      = 256
)

// Option configures a Client.
type Option func(*Client)

// WithWSURL overrides the websocket endpoint.
func WithWSURL(u string) Option {
	return func(c *Client) {
		c.wsURL = u
	}
}

// WithAPIBase overrides the channel lookup base URL.
func WithAPIBase(base string) Option {
	return func(c *Client) {
		c.apiBase = strings.TrimRight(base, "/")
	}
}

// WithChatroomID skips the channel lookup.
func WithChatroomID(id int64) Option {
	return func(c *Client) {
		c.chatroomID = id
	}
}

// WithHTTPClient sets the client used for the channel lookup.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// Client is a read-only subscription to one channel's chat.
type Client struct {
	channel    string
	wsURL      string
	apiBase    string
	httpClient *http.Client
	log        *logger.Logger
	events     chan domain.ChatEvent

	mu         sync.Mutex
	chatroomID int64
	conn       *websocket.Conn
	stopRead   context.CancelFunc
	readDone   chan struct{}
	writeMu    sync.Mutex
}

// New creates a client for channel (the slug from kick.com/<slug>).
func New(channel string, log *logger.Logger, opts ...Option) (*Client, error) {
	slug := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(channel), "@")))
	if slug == "" {
		return nil, domain.ErrNoChannel
	}
	c := &Client{
		channel:    slug,
		wsURL:      DefaultWSURL,
		apiBase:    DefaultAPIBase,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		log:        log,
		events:     make(chan domain.ChatEvent, eventBuffer),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Events implements domain.ChatSource. The channel lives as long as the
// Client and carries events from every Connect.
func (c *Client) Events() <-chan domain.ChatEvent {
	return c.events
}

// Connect resolves the chatroom, dials the websocket and subscribes. A
// Ready event follows once the subscription is confirmed. Calling Connect
// again replaces the previous connection.
func (c *Client) Connect(ctx context.Context) error {
	c.Close()

	id, err := c.resolveChatroom(ctx)
	if err != nil {
		return err
	}

	dialCtx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	defer cancel()
	conn, _, err := websocket.Dial(dialCtx, c.wsURL, nil)
	if err != nil {
		return fmt.Errorf("kick: ws dial: %w", err)
	}
	conn.SetReadLimit(1 << 20)

	if err := c.awaitEstablished(dialCtx, conn); err != nil {
		conn.Close(websocket.StatusProtocolError, "handshake failed")
		return err
	}

	channel := fmt.Sprintf("chatrooms.%d.v2", id)
	sub, err := encodeFrame(eventSubscribe, map[string]string{"auth": "", "channel": channel})
	if err != nil {
		conn.Close(websocket.StatusInternalError, "")
		return err
	}
	if err := conn.Write(dialCtx, websocket.MessageText, sub); err != nil {
		conn.Close(websocket.StatusInternalError, "")
		return fmt.Errorf("kick: subscribe: %w", err)
	}

	readCtx, stop := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.mu.Lock()
	c.conn = conn
	c.stopRead = stop
	c.readDone = done
	c.mu.Unlock()

	go c.readLoop(readCtx, conn, done)
	c.log.Debug("kick: subscribed to %s (channel %s)", channel, c.channel)
	return nil
}

// Close implements domain.ChatSource. It is safe to call at any time.
func (c *Client) Close() error {
	c.mu.Lock()
	conn, stop, done := c.conn, c.stopRead, c.readDone
	c.conn, c.stopRead, c.readDone = nil, nil, nil
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	stop()
	err := conn.Close(websocket.StatusNormalClosure, "bye")
	<-done
	return err
}

func (c *Client) resolveChatroom(ctx context.Context) (int64, error) {
	c.mu.Lock()
	id := c.chatroomID
	c.mu.Unlock()
	if id > 0 {
		return id, nil
	}

	u := fmt.Sprintf("%s/api/v2/channels/%s", c.apiBase, url.PathEscape(c.channel))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, fmt.Errorf("kick: channel request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; kickvox/1.0)")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("kick: channel lookup: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return 0, fmt.Errorf("kick: channel %q: %w", c.channel, domain.ErrNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("kick: channel lookup: status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, fmt.Errorf("kick: channel lookup: %w", err)
	}
	id, err = decodeChatroomID(body)
	if err != nil {
		return 0, fmt.Errorf("kick: %w", err)
	}

	c.mu.Lock()
	c.chatroomID = id
	c.mu.Unlock()
	c.log.Debug("kick: channel %s has chatroom %d", c.channel, id)
	return id, nil
}

func (c *Client) awaitEstablished(ctx context.Context, conn *websocket.Conn) error {
	for {
		_, raw, err := conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("kick: handshake: %w", err)
		}
		f, err := parseFrame(raw)
		if err != nil {
			continue
		}
		switch f.Event {
		case eventConnected:
			return nil
		case eventError:
			return fmt.Errorf("kick: handshake: %s", pusherErrorText(f))
		}
	}
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		_, raw, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			var ce websocket.CloseError
			if errors.As(err, &ce) {
				c.emit(ctx, domain.ChatEvent{Kind: domain.EventClose, Err: fmt.Errorf("kick: closed: %d %s", ce.Code, ce.Reason)})
			} else {
				c.emit(ctx, domain.ChatEvent{Kind: domain.EventDisconnect, Err: fmt.Errorf("kick: read: %w", err)})
			}
			return
		}
		c.handle(ctx, conn, raw)
	}
}

func (c *Client) handle(ctx context.Context, conn *websocket.Conn, raw []byte) {
	f, err := parseFrame(raw)
	if err != nil {
		c.log.Debug("kick: %v", err)
		return
	}

	switch f.Event {
	case eventPing:
		pong, _ := encodeFrame(eventPong, map[string]any{})
		c.writeMu.Lock()
		err := conn.Write(ctx, websocket.MessageText, pong)
		c.writeMu.Unlock()
		if err != nil && ctx.Err() == nil {
			c.log.Debug("kick: pong: %v", err)
		}
	case eventSubscribed:
		c.emit(ctx, domain.ChatEvent{Kind: domain.EventReady})
	case eventError:
		c.emit(ctx, domain.ChatEvent{Kind: domain.EventError, Err: fmt.Errorf("kick: %s", pusherErrorText(f))})
	case eventChat:
		msg, err := decodeChatMessage(f.payload(), time.Now())
		if err != nil {
			c.emit(ctx, domain.ChatEvent{Kind: domain.EventError, Err: err})
			return
		}
		c.emit(ctx, domain.ChatEvent{Kind: domain.EventMessage, Message: msg})
	default:
		c.log.Debug("kick: ignoring %s", f.Event)
	}
}

// emit delivers ev unless the connection is being torn down.
func (c *Client) emit(ctx context.Context, ev domain.ChatEvent) {
	select {
	case c.events <- ev:
	case <-ctx.Done():
	}
}

func pusherErrorText(f frame) string {
	var pe pusherError
	if err := json.Unmarshal(f.payload(), &pe); err != nil || pe.Message == "" {
		return "pusher error " + string(f.Data)
	}
	return fmt.Sprintf("pusher error %d: %s", pe.Code, pe.Message)
}
