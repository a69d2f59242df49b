package messaging

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// MemoryRepository is an in-memory persistence gateway with the same
// contract as the Postgres one, including the unique private-pair
// constraint. It backs tests and local development without a database.
type MemoryRepository struct {
	mu          sync.Mutex
	channels    map[uuid.UUID]*Channel
	pairIndex   map[string]uuid.UUID
	messages    map[uuid.UUID]*Message
	byChannel   map[uuid.UUID][]uuid.UUID
	deliveries  map[uuid.UUID]map[string]*DeliveryRecord
	memberOrder map[uuid.UUID][]string
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		channels:    make(map[uuid.UUID]*Channel),
		pairIndex:   make(map[string]uuid.UUID),
		messages:    make(map[uuid.UUID]*Message),
		byChannel:   make(map[uuid.UUID][]uuid.UUID),
		deliveries:  make(map[uuid.UUID]map[string]*DeliveryRecord),
		memberOrder: make(map[uuid.UUID][]string),
	}
}

func (r *MemoryRepository) CreateChannel(_ context.Context, channel *Channel) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if channel.IsPrivate {
		key := PairKey(channel.MemberIDs[0], channel.MemberIDs[1])
		if _, exists := r.pairIndex[key]; exists {
			return ErrDuplicatePrivateChannel
		}
		r.pairIndex[key] = channel.ID
	}

	stored := &Channel{ID: channel.ID, Name: channel.Name, IsPrivate: channel.IsPrivate}
	r.channels[channel.ID] = stored
	r.memberOrder[channel.ID] = append([]string(nil), channel.MemberIDs...)
	return nil
}

func (r *MemoryRepository) GetChannel(_ context.Context, channelID uuid.UUID) (*Channel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.channelLocked(channelID), nil
}

func (r *MemoryRepository) channelLocked(channelID uuid.UUID) *Channel {
	stored, ok := r.channels[channelID]
	if !ok {
		return nil
	}
	return &Channel{
		ID:        stored.ID,
		Name:      stored.Name,
		IsPrivate: stored.IsPrivate,
		MemberIDs: append([]string(nil), r.memberOrder[channelID]...),
	}
}

func (r *MemoryRepository) FindPrivateChannel(_ context.Context, userA, userB string) (*Channel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	channelID, ok := r.pairIndex[PairKey(userA, userB)]
	if !ok {
		return nil, nil
	}
	return r.channelLocked(channelID), nil
}

func (r *MemoryRepository) AddMember(_ context.Context, channelID uuid.UUID, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range r.memberOrder[channelID] {
		if id == userID {
			return nil
		}
	}
	r.memberOrder[channelID] = append(r.memberOrder[channelID], userID)
	return nil
}

func (r *MemoryRepository) GetMembers(_ context.Context, channelID uuid.UUID) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.memberOrder[channelID]...), nil
}

func (r *MemoryRepository) ListChannelsForUser(_ context.Context, userID string) ([]*Channel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var channels []*Channel
	for channelID, members := range r.memberOrder {
		for _, id := range members {
			if id == userID {
				channels = append(channels, r.channelLocked(channelID))
				break
			}
		}
	}
	sort.Slice(channels, func(i, j int) bool {
		return channels[i].ID.String() < channels[j].ID.String()
	})
	return channels, nil
}

func (r *MemoryRepository) InsertMessage(_ context.Context, message *Message, recipientIDs []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored := *message
	r.messages[message.ID] = &stored
	r.byChannel[message.ChannelID] = append(r.byChannel[message.ChannelID], message.ID)

	records := make(map[string]*DeliveryRecord, len(recipientIDs))
	for _, recipientID := range recipientIDs {
		records[recipientID] = &DeliveryRecord{
			MessageID:   message.ID,
			RecipientID: recipientID,
		}
	}
	r.deliveries[message.ID] = records
	return nil
}

func (r *MemoryRepository) GetMessage(_ context.Context, messageID uuid.UUID) (*Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.messages[messageID]
	if !ok {
		return nil, nil
	}
	copied := *stored
	return &copied, nil
}

func (r *MemoryRepository) ListChannelMessages(_ context.Context, channelID uuid.UUID) ([]*Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var messages []*Message
	for _, messageID := range r.byChannel[channelID] {
		copied := *r.messages[messageID]
		messages = append(messages, &copied)
	}
	return messages, nil
}

func (r *MemoryRepository) LastChannelMessage(_ context.Context, channelID uuid.UUID) (*Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := r.byChannel[channelID]
	if len(ids) == 0 {
		return nil, nil
	}
	copied := *r.messages[ids[len(ids)-1]]
	return &copied, nil
}

func (r *MemoryRepository) SetDeliveryRead(_ context.Context, messageID uuid.UUID, recipientID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.deliveries[messageID][recipientID]
	if !ok || record.IsRead {
		return false, nil
	}
	record.IsRead = true
	return true, nil
}

func (r *MemoryRepository) IsDeliveryRead(_ context.Context, messageID uuid.UUID, recipientID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.deliveries[messageID][recipientID]
	return ok && record.IsRead, nil
}

func (r *MemoryRepository) HasUnreadRecipients(_ context.Context, messageID uuid.UUID, excludeUserID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for recipientID, record := range r.deliveries[messageID] {
		if recipientID != excludeUserID && !record.IsRead {
			return true, nil
		}
	}
	return false, nil
}

func (r *MemoryRepository) ListUnreadForUser(_ context.Context, userID string) ([]*Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var messages []*Message
	for messageID, records := range r.deliveries {
		record, ok := records[userID]
		if ok && !record.IsRead {
			copied := *r.messages[messageID]
			messages = append(messages, &copied)
		}
	}
	sort.Slice(messages, func(i, j int) bool {
		return messages[i].Timestamp.Before(messages[j].Timestamp)
	})
	return messages, nil
}

// DeliveryCount reports how many delivery records exist for a message.
func (r *MemoryRepository) DeliveryCount(messageID uuid.UUID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.deliveries[messageID])
}
