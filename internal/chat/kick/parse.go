package kick

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/hammamikhairi/kickvox/internal/domain"
)

// Pusher protocol event names.
const (
	eventConnected  = "pusher:connection_established"
	eventSubscribe  = "pusher:subscribe"
	eventSubscribed = "pusher_internal:subscription_succeeded"
	eventPing       = "pusher:ping"
	eventPong       = "pusher:pong"
	eventError      = "pusher:error"
	eventChat       = `App\Events\ChatMessageEvent`
)

// frame is one Pusher message. Data is usually a JSON document encoded as
// a string, but some servers send it as an object.
type frame struct {
	Event   string          `json:"event"`
	Channel string          `json:"channel,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// payload returns Data with one level of string encoding removed.
func (f frame) payload() []byte {
	if len(f.Data) > 0 && f.Data[0] == '"' {
		var s string
		if err := json.Unmarshal(f.Data, &s); err == nil {
			return []byte(s)
		}
	}
	return f.Data
}

func parseFrame(raw []byte) (frame, error) {
	var f frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return frame{}, fmt.Errorf("decode frame: %w", err)
	}
	if f.Event == "" {
		return frame{}, fmt.Errorf("frame without event")
	}
	return f, nil
}

func encodeFrame(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(frame{Event: event, Data: raw})
}

type pusherError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type chatPayload struct {
	ID        string `json:"id"`
	Content   string `json:"content"`
	Type      string `json:"type"`
	CreatedAt string `json:"created_at"`
	Sender    struct {
		ID       json.Number `json:"id"`
		Username string      `json:"username"`
		Slug     string      `json:"slug"`
		Identity struct {
			Badges []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"badges"`
		} `json:"identity"`
	} `json:"sender"`
}

// decodeChatMessage turns a ChatMessageEvent payload into a ChatMessage.
// Badges are translated into SenderInfo flags here; nothing downstream
// sees the raw payload.
func decodeChatMessage(data []byte, received time.Time) (domain.ChatMessage, error) {
	var p chatPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return domain.ChatMessage{}, fmt.Errorf("decode chat message: %w", err)
	}

	sender := domain.SenderInfo{
		ID:       p.Sender.ID.String(),
		Username: p.Sender.Username,
		Slug:     p.Sender.Slug,
	}
	for _, b := range p.Sender.Identity.Badges {
		tag := strings.ToLower(strings.TrimSpace(b.Type))
		if tag == "" {
			continue
		}
		sender.Roles = append(sender.Roles, tag)
		switch tag {
		case "broadcaster":
			sender.IsBroadcaster = true
		case "owner":
			sender.IsOwner = true
		case "moderator":
			sender.IsModerator = true
		case "staff", "admin", "super_admin":
			sender.IsAdmin = true
		case "subscriber", "sub_gifter":
			sender.IsSubscriber = true
		case "vip":
			sender.IsVIP = true
		case "founder":
			sender.IsFounder = true
		case "og":
			sender.IsOG = true
		}
	}

	msg := domain.ChatMessage{
		ID:       p.ID,
		Sender:   sender,
		Content:  p.Content,
		Received: received,
	}
	if t, err := time.Parse(time.RFC3339, p.CreatedAt); err == nil {
		msg.SentAt = t
	} else {
		msg.SentAt = received
	}
	return msg, nil
}

type channelInfo struct {
	ID       json.Number `json:"id"`
	Slug     string      `json:"slug"`
	Chatroom struct {
		ID json.Number `json:"id"`
	} `json:"chatroom"`
}

func decodeChatroomID(data []byte) (int64, error) {
	var info channelInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return 0, fmt.Errorf("decode channel: %w", err)
	}
	id, err := strconv.ParseInt(info.Chatroom.ID.String(), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("channel has no chatroom id")
	}
	return id, nil
}
