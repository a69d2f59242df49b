package hub

import (
	"context"

	"portalchat/internal/messaging"
	"portalchat/internal/protocol"
	"portalchat/internal/user"
)

func userDTO(u *user.User) protocol.UserDTO {
	return protocol.UserDTO{
		ID:        u.ID,
		UserName:  u.UserName,
		Name:      u.Name,
		LastName:  u.LastName,
		Email:     u.Email,
		IsDeleted: u.IsDeleted,
	}
}

// channelDTO builds the wire shape of a channel. For a private channel a
// non-empty viewerID replaces the stored pair name with the other member's
// username; an empty viewerID keeps the stored name, which is what the
// shared fan-out payloads carry.
func (h *Hub) channelDTO(ctx context.Context, channel *messaging.Channel, viewerID string, withUsers bool) protocol.ChannelDTO {
	name := channel.Name
	if channel.IsPrivate && viewerID != "" {
		name = h.users.UserName(ctx, channel.OtherMember(viewerID))
	}

	dto := protocol.ChannelDTO{
		ID:        channel.ID.String(),
		Name:      name,
		IsPrivate: channel.IsPrivate,
	}
	if withUsers {
		dto.Users = make([]protocol.UserDTO, 0, len(channel.MemberIDs))
		for _, memberID := range channel.MemberIDs {
			if u, err := h.users.Get(ctx, memberID); err == nil {
				dto.Users = append(dto.Users, userDTO(u))
			} else {
				dto.Users = append(dto.Users, protocol.UserDTO{ID: memberID, UserName: memberID})
			}
		}
	}
	return dto
}

// messageDTO builds the wire shape of a message with the state already
// derived for the receiving side.
func (h *Hub) messageDTO(ctx context.Context, message *messaging.Message, state messaging.MessageState, channel *messaging.Channel, viewerID string) protocol.MessageDTO {
	author := protocol.UserDTO{ID: message.AuthorID, UserName: h.users.UserName(ctx, message.AuthorID)}
	channelRef := h.channelDTO(ctx, channel, viewerID, false)
	// Broadcast frames share one payload across recipients; a private
	// channel there displays as the sender's username, which is the name
	// every recipient sees it under.
	if channel.IsPrivate && viewerID == "" {
		channelRef.Name = author.UserName
	}
	return protocol.MessageDTO{
		ID:               message.ID,
		Text:             message.Text,
		Timestamp:        message.Timestamp,
		State:            int(state),
		User:             author,
		MessagingChannel: &channelRef,
		IsAction:         message.IsAction,
	}
}
