package model

import (
	"encoding/json"
	"errors"
	"time"
)

// ErrEmptyFrame is returned by Decode for an empty payload.
var ErrEmptyFrame = errors.New("empty frame")

// Kind classifies a chat frame by its addressing.
type Kind int

const (
	KindSystem Kind = iota
	KindPrivate
	KindGroup
	KindPresence
)

func (k Kind) String() string {
	switch k {
	case KindPrivate:
		return "private"
	case KindGroup:
		return "group"
	case KindPresence:
		return "presence"
	default:
		return "system"
	}
}

// ChatMessage is one frame pushed by the chat server or sent by the client.
type ChatMessage struct {
	MessageType int    `json:"messageType,omitempty"`
	Content     string `json:"content,omitempty"`
	FromID      int    `json:"fromId,omitempty"`
	ToID        int    `json:"toId,omitempty"`
	GroupID     int    `json:"groupId,omitempty"`
	Avatar      string `json:"avatar,omitempty"`
	Username    string `json:"username,omitempty"`
	OnlineCount int    `json:"onlineCount,omitempty"`

	ReceivedAt time.Time `json:"-"`
}

// Kind reports how the frame is addressed. A group ID wins over a recipient;
// a frame with neither but an online count is a presence update.
func (m ChatMessage) Kind() Kind {
	switch {
	case m.GroupID != 0:
		return KindGroup
	case m.ToID != 0:
		return KindPrivate
	case m.OnlineCount != 0 && m.Content == "":
		return KindPresence
	default:
		return KindSystem
	}
}

// Decode parses a frame.
func Decode(data []byte, receivedAt time.Time) (ChatMessage, error) {
	if len(data) == 0 {
		return ChatMessage{}, ErrEmptyFrame
	}
	var m ChatMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return ChatMessage{}, err
	}
	m.ReceivedAt = receivedAt
	return m, nil
}

// Encode renders a frame for sending.
func (m ChatMessage) Encode() ([]byte, error) {
	return json.Marshal(m)
}
