package messaging

import (
	"time"

	"github.com/google/uuid"
)

// MessageState is the per-viewer delivery state of a message. The values
// mirror the portal wire contract and must not be reordered.
type MessageState int

const (
	MessageStateSend MessageState = iota
	MessageStateReceived
	MessageStateRead
)

// Channel is a private (exactly two members) or named group conversation.
// A private channel is identified by its unordered member pair; the stored
// name of a private channel is "<idA>-<idB>" and is never shown directly,
// each viewer resolves it to the other member's username.
type Channel struct {
	ID        uuid.UUID
	Name      string
	IsPrivate bool
	MemberIDs []string
}

// HasMember reports whether userID belongs to the channel.
func (c *Channel) HasMember(userID string) bool {
	for _, id := range c.MemberIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// OtherMember returns the member of a private channel that is not userID.
func (c *Channel) OtherMember(userID string) string {
	for _, id := range c.MemberIDs {
		if id != userID {
			return id
		}
	}
	return ""
}

// Message is immutable once persisted. IsAction marks system-generated
// membership-change messages, which render differently on the client but
// follow the same delivery rules.
type Message struct {
	ID        uuid.UUID
	ChannelID uuid.UUID
	AuthorID  string
	Text      string
	Timestamp time.Time
	IsAction  bool
}

// DeliveryRecord is the per-recipient fan-out row created at send time for
// every channel member except the author.
type DeliveryRecord struct {
	MessageID   uuid.UUID
	RecipientID string
	IsRead      bool
}

// MessageWithState pairs a message with its state as derived for one viewer.
type MessageWithState struct {
	Message *Message
	State   MessageState
}

// ChannelSummary is a channel plus its most recent message, used for the
// portal sidebar preview.
type ChannelSummary struct {
	Channel     *Channel
	LastMessage *Message
}

// ReadReceipt reports that a message has been read by every recipient, so
// its author can be notified.
type ReadReceipt struct {
	MessageID uuid.UUID
	AuthorID  string
}
