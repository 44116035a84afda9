package chat

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/roomlink/roomlink/internal/proto"
)

// Message is one entry in a room's materialized window. A message authored
// locally starts Pending with only a ClientID; the server echo carries the
// authoritative ServerID and clears Pending. Messages from other
// participants and assistant replies are never pending.
type Message struct {
	ServerID string `json:"server_id,omitempty"` // server-assigned, empty while pending
	ClientID string `json:"client_id,omitempty"` // correlation id, set for locally authored messages
	Sender   string `json:"sender"`
	UserID   string `json:"user_id,omitempty"`
	Text     string `json:"text"`
	ImageURL string `json:"image_url,omitempty"`

	Timestamp int64 `json:"timestamp"` // unix millis
	Pending   bool  `json:"pending"`

	// Assistant replies.
	FromAI     bool   `json:"from_ai,omitempty"`
	AIName     string `json:"ai_name,omitempty"`
	Questioner string `json:"questioner,omitempty"`
}

// NewLocalMessage builds the optimistic local entry for a just-authored text.
func NewLocalMessage(sender, userID, text, imageURL string) *Message {
	return &Message{
		ClientID:  NewCorrelationID(),
		Sender:    sender,
		UserID:    userID,
		Text:      text,
		ImageURL:  imageURL,
		Timestamp: time.Now().UnixMilli(),
		Pending:   true,
	}
}

// NewCorrelationID returns a client-generated id unique enough to never
// collide within a session: millisecond timestamp plus a random suffix.
func NewCorrelationID() string {
	return fmt.Sprintf("%d-%s", time.Now().UnixMilli(), uuid.NewString()[:8])
}

// FromUserFrame converts an inbound user_message frame to a Message.
func FromUserFrame(f *proto.Frame) *Message {
	ts := f.Timestamp
	if ts == 0 {
		ts = proto.NowMillis()
	}
	return &Message{
		ServerID:  f.ID,
		ClientID:  f.ClientID,
		Sender:    f.Sender,
		UserID:    f.UserID,
		Text:      f.Message,
		ImageURL:  f.ImageURL,
		Timestamp: ts,
	}
}

// FromAIFrame converts an inbound ai_message frame to a Message.
func FromAIFrame(f *proto.Frame) *Message {
	ts := f.Timestamp
	if ts == 0 {
		ts = proto.NowMillis()
	}
	return &Message{
		ServerID:   f.ID,
		Sender:     f.AIName,
		Text:       f.Message,
		Timestamp:  ts,
		FromAI:     true,
		AIName:     f.AIName,
		Questioner: f.Questioner,
	}
}
