package messaging

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"portalchat/infrastructure"
)

// Service owns channel identity/membership and validated, durable message
// creation. All durable state lives behind the Repository; the service
// never holds locks across repository calls.
type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// GetOrCreatePrivateChannel returns the private channel for the unordered
// pair (userA, userB), creating it when absent. Safe under concurrent calls
// for the same pair: the repository's unique pair constraint makes one
// insert win, and the loser re-reads the winner's channel.
func (s *Service) GetOrCreatePrivateChannel(ctx context.Context, userA, userB string) (*Channel, error) {
	if userA == "" || userB == "" || userA == userB {
		return nil, infrastructure.ErrInvalidInput
	}

	channel, err := s.repo.FindPrivateChannel(ctx, userA, userB)
	if err != nil {
		return nil, fmt.Errorf("failed to look up private channel: %w", err)
	}
	if channel != nil {
		return channel, nil
	}

	channel = &Channel{
		ID:        uuid.New(),
		Name:      userA + "-" + userB,
		IsPrivate: true,
		MemberIDs: []string{userA, userB},
	}
	err = s.repo.CreateChannel(ctx, channel)
	if errors.Is(err, ErrDuplicatePrivateChannel) {
		return s.repo.FindPrivateChannel(ctx, userA, userB)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create private channel: %w", err)
	}
	return channel, nil
}

// CreateGroupChannel creates a named group channel. The creator is always a
// member; names are not unique.
func (s *Service) CreateGroupChannel(ctx context.Context, name, creatorID string, memberIDs []string) (*Channel, error) {
	if strings.TrimSpace(name) == "" || len(memberIDs) == 0 {
		return nil, infrastructure.ErrInvalidInput
	}

	members := make([]string, 0, len(memberIDs)+1)
	seen := make(map[string]bool, len(memberIDs)+1)
	for _, id := range append(memberIDs, creatorID) {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		members = append(members, id)
	}

	channel := &Channel{
		ID:        uuid.New(),
		Name:      name,
		IsPrivate: false,
		MemberIDs: members,
	}
	if err := s.repo.CreateChannel(ctx, channel); err != nil {
		return nil, fmt.Errorf("failed to create group channel: %w", err)
	}
	return channel, nil
}

// AddMember appends userID to the channel membership. Adding an existing
// member is a no-op.
func (s *Service) AddMember(ctx context.Context, channelID uuid.UUID, userID string) error {
	channel, err := s.repo.GetChannel(ctx, channelID)
	if err != nil {
		return err
	}
	if channel == nil {
		return infrastructure.ErrChannelNotFound
	}
	return s.repo.AddMember(ctx, channelID, userID)
}

// Channel returns the channel with its membership, or ErrChannelNotFound.
func (s *Service) Channel(ctx context.Context, channelID uuid.UUID) (*Channel, error) {
	channel, err := s.repo.GetChannel(ctx, channelID)
	if err != nil {
		return nil, err
	}
	if channel == nil {
		return nil, infrastructure.ErrChannelNotFound
	}
	return channel, nil
}

// SendMessage persists a message and one delivery record per member except
// the author, in a single transaction. The author must be a channel member.
func (s *Service) SendMessage(ctx context.Context, channelID uuid.UUID, authorID, text string, isAction bool) (*Message, error) {
	channel, err := s.repo.GetChannel(ctx, channelID)
	if err != nil {
		return nil, err
	}
	if channel == nil {
		return nil, infrastructure.ErrChannelNotFound
	}
	if !channel.HasMember(authorID) {
		return nil, infrastructure.ErrAuthorNotMember
	}

	message := &Message{
		ID:        uuid.New(),
		ChannelID: channelID,
		AuthorID:  authorID,
		Text:      text,
		Timestamp: time.Now().UTC(),
		IsAction:  isAction,
	}

	recipients := make([]string, 0, len(channel.MemberIDs)-1)
	for _, memberID := range channel.MemberIDs {
		if memberID != authorID {
			recipients = append(recipients, memberID)
		}
	}

	if err := s.repo.InsertMessage(ctx, message, recipients); err != nil {
		return nil, fmt.Errorf("failed to persist message: %w", err)
	}
	return message, nil
}

// MarkRead marks the reader's delivery records for the given messages as
// read. Unknown or foreign message IDs are skipped silently; marking an
// already-read record again is a no-op. It returns a receipt for every
// message that became fully read, so the author can be notified.
func (s *Service) MarkRead(ctx context.Context, messageIDs []uuid.UUID, readerID string) ([]ReadReceipt, error) {
	var receipts []ReadReceipt
	for _, messageID := range messageIDs {
		changed, err := s.repo.SetDeliveryRead(ctx, messageID, readerID)
		if err != nil {
			return receipts, err
		}
		if !changed {
			continue
		}

		message, fullyRead, err := s.MessageReadState(ctx, messageID, readerID)
		if err != nil {
			return receipts, err
		}
		if message != nil && fullyRead {
			receipts = append(receipts, ReadReceipt{MessageID: messageID, AuthorID: message.AuthorID})
		}
	}
	return receipts, nil
}

// MessageReadState returns the message and whether no unread delivery
// record remains among recipients other than the viewer. A missing message
// is a valid negative outcome: (nil, false, nil).
func (s *Service) MessageReadState(ctx context.Context, messageID uuid.UUID, viewerID string) (*Message, bool, error) {
	message, err := s.repo.GetMessage(ctx, messageID)
	if err != nil {
		return nil, false, err
	}
	if message == nil {
		return nil, false, nil
	}
	hasUnread, err := s.repo.HasUnreadRecipients(ctx, messageID, viewerID)
	if err != nil {
		return nil, false, err
	}
	return message, !hasUnread, nil
}

// UserChannels lists every channel the user belongs to, each with its most
// recent message for the sidebar preview.
func (s *Service) UserChannels(ctx context.Context, userID string) ([]ChannelSummary, error) {
	channels, err := s.repo.ListChannelsForUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	summaries := make([]ChannelSummary, 0, len(channels))
	for _, channel := range channels {
		last, err := s.repo.LastChannelMessage(ctx, channel.ID)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, ChannelSummary{Channel: channel, LastMessage: last})
	}
	return summaries, nil
}

// UnreadMessages lists every message with an unread delivery record for the
// user. This is the durable catch-up path for clients that were offline.
func (s *Service) UnreadMessages(ctx context.Context, userID string) ([]*Message, error) {
	return s.repo.ListUnreadForUser(ctx, userID)
}

// ChannelMessages returns the channel history with the delivery state
// derived for the viewer: the author sees Read only once every recipient
// has read; a recipient sees their own record's state.
func (s *Service) ChannelMessages(ctx context.Context, channelID uuid.UUID, viewerID string) ([]MessageWithState, error) {
	messages, err := s.repo.ListChannelMessages(ctx, channelID)
	if err != nil {
		return nil, err
	}

	result := make([]MessageWithState, 0, len(messages))
	for _, message := range messages {
		state := MessageStateRead
		if message.AuthorID == viewerID {
			hasUnread, err := s.repo.HasUnreadRecipients(ctx, message.ID, viewerID)
			if err != nil {
				return nil, err
			}
			if hasUnread {
				state = MessageStateReceived
			}
		} else {
			isRead, err := s.repo.IsDeliveryRead(ctx, message.ID, viewerID)
			if err != nil {
				return nil, err
			}
			if !isRead {
				state = MessageStateReceived
			}
		}
		result = append(result, MessageWithState{Message: message, State: state})
	}
	return result, nil
}
