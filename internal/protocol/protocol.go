// Package protocol defines the portal messaging wire contract: the closed
// set of event names exchanged over the websocket and their payloads. The
// event names are compatibility-critical and must stay bit-exact.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ClientEvent is an operation invoked by a connected client.
type ClientEvent string

const (
	GetChannels          ClientEvent = "GetChannels"
	GetUnreadMessages    ClientEvent = "GetUnreadMessages"
	GetNotifications     ClientEvent = "GetNotifications"
	JoinChannel          ClientEvent = "JoinChannel"
	JoinPrivateChannel   ClientEvent = "JoinPrivateChannel"
	CreateChannel        ClientEvent = "CreateChannel"
	AddUsersToChannel    ClientEvent = "AddUsersToChannel"
	LeaveChannel         ClientEvent = "LeaveChannel"
	SendMessageToChannel ClientEvent = "SendMessageToChannel"
	MarkMessagesAsRead   ClientEvent = "MarkMessagesAsRead"
)

// ServerEvent is a push from the server to a client.
type ServerEvent string

const (
	LoadChannels       ServerEvent = "LoadChannels"
	LoadChannel        ServerEvent = "LoadChannel"
	LoadMessages       ServerEvent = "LoadMessages"
	LoadUnreadMessages ServerEvent = "LoadUnreadMessages"
	LoadNotifications  ServerEvent = "LoadNotifications"
	LoadNotification   ServerEvent = "LoadNotification"
	LoadIsReadMessage  ServerEvent = "LoadIsReadMessage"
)

// ErrorEvent reports an operation failure back to the calling connection.
const ErrorEvent ServerEvent = "Error"

// CloseUnauthorized is the websocket close code for an authentication
// failure. Clients must not reconnect on it; they clear the local session
// and re-authenticate instead.
const (
	CloseUnauthorized       = 4401
	CloseReasonUnauthorized = "Unauthorized"
)

// Frame is the envelope for every message in either direction.
type Frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// NewFrame marshals a payload into a frame.
func NewFrame(eventType string, payload interface{}) (Frame, error) {
	if payload == nil {
		return Frame{Type: eventType}, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, fmt.Errorf("failed to encode %s payload: %w", eventType, err)
	}
	return Frame{Type: eventType, Data: data}, nil
}

// Decode unmarshals the frame payload into dst.
func (f Frame) Decode(dst interface{}) error {
	if len(f.Data) == 0 {
		return fmt.Errorf("frame %s has no payload", f.Type)
	}
	if err := json.Unmarshal(f.Data, dst); err != nil {
		return fmt.Errorf("invalid %s payload: %w", f.Type, err)
	}
	return nil
}

// UserDTO mirrors the portal's user shape inside messaging payloads.
type UserDTO struct {
	ID        string `json:"id"`
	UserName  string `json:"userName"`
	Name      string `json:"name,omitempty"`
	LastName  string `json:"lastName,omitempty"`
	Email     string `json:"email,omitempty"`
	IsDeleted bool   `json:"isDeleted,omitempty"`
}

// ChannelDTO carries a channel with its member list. Name is the display
// name already resolved for the receiving viewer: for a private channel it
// is the other member's username.
type ChannelDTO struct {
	ID        string       `json:"id"`
	Name      string       `json:"name"`
	IsPrivate bool         `json:"isPrivate"`
	Users     []UserDTO    `json:"users,omitempty"`
	Messages  []MessageDTO `json:"messages,omitempty"`
}

// MessageDTO carries a message with the delivery state derived for the
// receiving viewer. State values: 0 Send, 1 Received, 2 Read.
type MessageDTO struct {
	ID               uuid.UUID   `json:"id"`
	Text             string      `json:"text"`
	Timestamp        time.Time   `json:"timestamp"`
	State            int         `json:"state"`
	User             UserDTO     `json:"user"`
	MessagingChannel *ChannelDTO `json:"messagingChannel,omitempty"`
	IsAction         bool        `json:"isAction"`
}

// Client -> server payloads.

type JoinChannelRequest struct {
	ChannelID uuid.UUID `json:"channelId"`
}

type JoinPrivateChannelRequest struct {
	UserID string `json:"userId"`
}

type CreateChannelRequest struct {
	Name  string    `json:"name"`
	Users []UserDTO `json:"users"`
}

type AddUsersToChannelRequest struct {
	ChannelID uuid.UUID `json:"channelId"`
	Users     []UserDTO `json:"users"`
}

type LeaveChannelRequest struct {
	ChannelID uuid.UUID `json:"channelId"`
}

type SendMessageRequest struct {
	ChannelID uuid.UUID  `json:"channelId"`
	Message   MessageDTO `json:"message"`
}

type MarkMessagesAsReadRequest struct {
	MessageIDs []uuid.UUID `json:"messageIds"`
	ChannelID  uuid.UUID   `json:"channelId"`
}

// ErrorPayload reports an operation failure back to the caller.
type ErrorPayload struct {
	Content string `json:"content"`
}
