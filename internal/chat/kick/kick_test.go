package kick

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/hammamikhairi/kickvox/internal/domain"
	"github.com/hammamikhairi/kickvox/internal/logger"
)

const sampleChat = `{"id":"9f1c","chatroom_id":668,"content":"hello chat","type":"message","created_at":"2024-05-01T12:00:00+00:00","sender":{"id":4242,"username":"ModGuy","slug":"modguy","identity":{"color":"#fff","badges":[{"type":"moderator","text":"Moderator"},{"type":"subscriber","text":"Subscriber","count":3}]}}}`

func TestDecodeChatMessage(t *testing.T) {
	now := time.Now()
	msg, err := decodeChatMessage([]byte(sampleChat), now)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.Content != "hello chat" || msg.Sender.Username != "ModGuy" || msg.Sender.ID != "4242" {
		t.Fatalf("unexpected message: %+v", msg)
	}
	if !msg.Sender.IsModerator || !msg.Sender.IsSubscriber || msg.Sender.IsBroadcaster {
		t.Fatalf("badges not mapped: %+v", msg.Sender)
	}
	if !msg.Sender.HasRole("moderator") {
		t.Fatal("raw role tags should be kept")
	}
	if msg.SentAt.Year() != 2024 {
		t.Fatalf("created_at not parsed: %v", msg.SentAt)
	}
}

func TestFramePayloadUnwrapsString(t *testing.T) {
	encoded, _ := json.Marshal(sampleChat)
	raw := `{"event":"App\\Events\\ChatMessageEvent","channel":"chatrooms.668.v2","data":` + string(encoded) + `}`
	f, err := parseFrame([]byte(raw))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if f.Event != eventChat {
		t.Fatalf("event = %q", f.Event)
	}
	if _, err := decodeChatMessage(f.payload(), time.Now()); err != nil {
		t.Fatalf("payload not unwrapped: %v", err)
	}

	obj, _ := parseFrame([]byte(`{"event":"pusher:error","data":{"code":4200,"message":"reconnect"}}`))
	if got := pusherErrorText(obj); got != "pusher error 4200: reconnect" {
		t.Fatalf("error text = %q", got)
	}

	if _, err := parseFrame([]byte(`{"data":1}`)); err == nil {
		t.Fatal("expected error for frame without event")
	}
}

func TestDecodeChatroomID(t *testing.T) {
	id, err := decodeChatroomID([]byte(`{"id":1,"slug":"xqc","chatroom":{"id":668,"channel_id":1}}`))
	if err != nil || id != 668 {
		t.Fatalf("got %d, %v", id, err)
	}
	if _, err := decodeChatroomID([]byte(`{"id":1}`)); err == nil {
		t.Fatal("expected error without chatroom")
	}
}

func TestNewRequiresChannel(t *testing.T) {
	if _, err := New("  @ ", logger.New(logger.LevelOff, nil)); !errors.Is(err, domain.ErrNoChannel) {
		t.Fatalf("expected ErrNoChannel, got %v", err)
	}
}

// fakePusher plays the server side of one subscription.
func fakePusher(t *testing.T, pong chan<- struct{}) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v2/channels/streamer" {
			w.Write([]byte(`{"id":1,"slug":"streamer","chatroom":{"id":668}}`))
			return
		}
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("accept: %v", err)
			return
		}
		defer conn.CloseNow()
		ctx := r.Context()

		send := func(s string) {
			if err := conn.Write(ctx, websocket.MessageText, []byte(s)); err != nil {
				t.Errorf("write: %v", err)
			}
		}
		send(`{"event":"pusher:connection_established","data":"{\"socket_id\":\"1.2\",\"activity_timeout\":120}"}`)

		_, raw, err := conn.Read(ctx)
		if err != nil {
			return
		}
		if !strings.Contains(string(raw), `"chatrooms.668.v2"`) || !strings.Contains(string(raw), eventSubscribe) {
			t.Errorf("unexpected subscribe frame: %s", raw)
		}
		send(`{"event":"pusher_internal:subscription_succeeded","data":"{}","channel":"chatrooms.668.v2"}`)
		send(`{"event":"pusher:ping","data":{}}`)

		_, raw, err = conn.Read(ctx)
		if err == nil && strings.Contains(string(raw), eventPong) {
			pong <- struct{}{}
		}

		encoded, _ := json.Marshal(sampleChat)
		send(`{"event":"App\\Events\\ChatMessageEvent","channel":"chatrooms.668.v2","data":` + string(encoded) + `}`)
		conn.Close(websocket.StatusGoingAway, "server restart")
	}
}

func nextEvent(t *testing.T, c *Client) domain.ChatEvent {
	t.Helper()
	select {
	case ev := <-c.Events():
		return ev
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for event")
		return domain.ChatEvent{}
	}
}

func TestClientSubscribesAndReceives(t *testing.T) {
	pong := make(chan struct{}, 1)
	srv := httptest.NewServer(fakePusher(t, pong))
	defer srv.Close()

	c, err := New("Streamer", logger.New(logger.LevelOff, nil),
		WithAPIBase(srv.URL),
		WithWSURL("ws"+strings.TrimPrefix(srv.URL, "http")+"/app/key"),
	)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if ev := nextEvent(t, c); ev.Kind != domain.EventReady {
		t.Fatalf("expected ready, got %v", ev.Kind)
	}

	select {
	case <-pong:
	case <-time.After(3 * time.Second):
		t.Fatal("ping was not answered")
	}

	ev := nextEvent(t, c)
	if ev.Kind != domain.EventMessage || ev.Message.Content != "hello chat" {
		t.Fatalf("expected chat message, got %+v", ev)
	}

	if ev := nextEvent(t, c); ev.Kind != domain.EventClose && ev.Kind != domain.EventDisconnect {
		t.Fatalf("expected close or disconnect, got %v", ev.Kind)
	}
}

func TestClientLookupNotFound(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	c, _ := New("ghost", logger.New(logger.LevelOff, nil), WithAPIBase(srv.URL))
	err := c.Connect(context.Background())
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
