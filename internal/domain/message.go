package domain

import (
	"fmt"
	"time"
)

type MessageType string

const (
	MessageTypeText    MessageType = "text"
	MessageTypeSticker MessageType = "sticker"
	MessageTypeGif     MessageType = "gif"
	MessageTypeSystem  MessageType = "system"
)

// ParseMessageType maps a wire value to a MessageType. An empty value means text.
func ParseMessageType(s string) (MessageType, error) {
	switch t := MessageType(s); t {
	case "":
		return MessageTypeText, nil
	case MessageTypeText, MessageTypeSticker, MessageTypeGif, MessageTypeSystem:
		return t, nil
	default:
		return "", fmt.Errorf("unknown message type %q", s)
	}
}

type MessageStatus string

const (
	MessageStatusSent MessageStatus = "sent"
	// MessageStatusDelivered is reserved; nothing transitions into it.
	MessageStatusDelivered MessageStatus = "delivered"
	MessageStatusRead      MessageStatus = "read"
)

type Message struct {
	ID        string        `json:"id"`
	ChatID    string        `json:"chat_id"`
	SenderID  string        `json:"sender_id"`
	Text      string        `json:"text"`
	Timestamp time.Time     `json:"timestamp"`
	Status    MessageStatus `json:"status"`
	Type      MessageType   `json:"type"`
	// Seq is the per-chat insertion order, used to break timestamp ties.
	Seq int64 `json:"seq"`
}

// Content is the tagged view of a message body.
type Content interface {
	isContent()
}

type TextContent struct{ Text string }
type StickerContent struct{ Emoji string }
type GifContent struct{ URL string }
type SystemContent struct{ Text string }

func (TextContent) isContent()    {}
func (StickerContent) isContent() {}
func (GifContent) isContent()     {}
func (SystemContent) isContent()  {}

// Content decodes the message body according to its type tag.
func (m *Message) Content() (Content, error) {
	switch m.Type {
	case MessageTypeText:
		return TextContent{Text: m.Text}, nil
	case MessageTypeSticker:
		return StickerContent{Emoji: m.Text}, nil
	case MessageTypeGif:
		return GifContent{URL: m.Text}, nil
	case MessageTypeSystem:
		return SystemContent{Text: m.Text}, nil
	default:
		return nil, fmt.Errorf("unknown message type %q", m.Type)
	}
}

// IsUnreadFor reports whether the message counts as unread for viewerID.
func (m *Message) IsUnreadFor(viewerID string) bool {
	return m.SenderID != viewerID && m.Status != MessageStatusRead
}

// Before orders messages by timestamp, then by insertion sequence.
func (m *Message) Before(o *Message) bool {
	if !m.Timestamp.Equal(o.Timestamp) {
		return m.Timestamp.Before(o.Timestamp)
	}
	return m.Seq < o.Seq
}
