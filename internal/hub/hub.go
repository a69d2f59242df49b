package hub

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"portalchat/infrastructure"
	"portalchat/internal/messaging"
	"portalchat/internal/presence"
	"portalchat/internal/protocol"
	"portalchat/internal/user"
	"portalchat/pkg/jwt"
)

// Hub terminates websocket connections and implements the portal messaging
// operations over them. Every inbound frame runs on its connection's
// goroutine; shared state lives in the messaging service, the directory and
// the presence registry, which are safe under concurrent use.
type Hub struct {
	tokens     *jwt.JWT
	messages   *messaging.Service
	users      *user.Directory
	registry   *presence.Registry
	dispatcher *Dispatcher
	upgrader   websocket.Upgrader
}

func NewHub(tokens *jwt.JWT, messages *messaging.Service, users *user.Directory,
	registry *presence.Registry, dispatcher *Dispatcher) *Hub {
	return &Hub{
		tokens:     tokens,
		messages:   messages,
		users:      users,
		registry:   registry,
		dispatcher: dispatcher,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func bearerToken(r *http.Request) string {
	if token := r.URL.Query().Get("access_token"); token != "" {
		return token
	}
	return strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
}

// HandleSocket upgrades the connection after validating the bearer token.
// The client is not auto-joined to any channel; it must request each join.
func (h *Hub) HandleSocket(w http.ResponseWriter, r *http.Request) {
	claims, err := h.tokens.ValidateToken(bearerToken(r))
	if err != nil {
		http.Error(w, protocol.CloseReasonUnauthorized, http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade failed: %v", err)
		return
	}
	conn.SetReadLimit(256 * 1024)

	var expiresAt time.Time
	if claims.ExpiresAt != nil {
		expiresAt = claims.ExpiresAt.Time
	}
	client := newClient(uuid.NewString(), claims.UserID, conn, expiresAt)
	h.registry.Register(client.ID, client.UserID)
	h.dispatcher.Attach(client.ID, client)
	go client.writePump()

	// The token expiry must end the session even when the connection sits
	// idle, otherwise an expired session keeps receiving pushes.
	if !expiresAt.IsZero() {
		expiry := time.AfterFunc(time.Until(expiresAt), func() {
			client.closeWith(protocol.CloseUnauthorized, protocol.CloseReasonUnauthorized)
		})
		defer expiry.Stop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.readLoop(ctx, client)

	h.dispatcher.Detach(client.ID)
	h.registry.Unregister(client.ID)
	client.shutdown()
}

// readLoop pumps inbound frames into the dispatch switch until the
// connection drops. The context is cancelled on return so handlers with
// repository calls in flight stop with the connection.
func (h *Hub) readLoop(ctx context.Context, client *Client) {
	for {
		var frame protocol.Frame
		if err := client.conn.ReadJSON(&frame); err != nil {
			return
		}
		if client.expired() {
			client.closeWith(protocol.CloseUnauthorized, protocol.CloseReasonUnauthorized)
			return
		}
		h.dispatch(ctx, client.ID, client.UserID, frame)
	}
}

func (h *Hub) dispatch(ctx context.Context, connID, userID string, frame protocol.Frame) {
	var err error
	switch protocol.ClientEvent(frame.Type) {
	case protocol.GetChannels:
		err = h.handleGetChannels(ctx, connID, userID)
	case protocol.GetUnreadMessages:
		err = h.handleUnread(ctx, connID, userID, protocol.LoadUnreadMessages)
	case protocol.GetNotifications:
		err = h.handleUnread(ctx, connID, userID, protocol.LoadNotifications)
	case protocol.JoinChannel:
		err = h.handleJoinChannel(ctx, connID, userID, frame)
	case protocol.JoinPrivateChannel:
		err = h.handleJoinPrivateChannel(ctx, connID, userID, frame)
	case protocol.CreateChannel:
		err = h.handleCreateChannel(ctx, connID, userID, frame)
	case protocol.AddUsersToChannel:
		err = h.handleAddUsersToChannel(ctx, connID, userID, frame)
	case protocol.LeaveChannel:
		err = h.handleLeaveChannel(connID, frame)
	case protocol.SendMessageToChannel:
		err = h.handleSendMessage(ctx, connID, userID, frame)
	case protocol.MarkMessagesAsRead:
		err = h.handleMarkRead(ctx, userID, frame)
	default:
		log.Printf("hub: unknown event type %q from %s", frame.Type, userID)
		return
	}
	if err != nil {
		log.Printf("hub: %s failed for %s: %v", frame.Type, userID, err)
		h.dispatcher.NotifyConnection(connID, protocol.ErrorEvent,
			protocol.ErrorPayload{Content: publicError(err)})
	}
}

func publicError(err error) string {
	switch {
	case errors.Is(err, infrastructure.ErrChannelNotFound),
		errors.Is(err, infrastructure.ErrUserNotFound),
		errors.Is(err, infrastructure.ErrAuthorNotMember),
		errors.Is(err, infrastructure.ErrInvalidInput):
		return err.Error()
	default:
		return infrastructure.ErrInternalServer.Error()
	}
}

func (h *Hub) handleGetChannels(ctx context.Context, connID, userID string) error {
	summaries, err := h.messages.UserChannels(ctx, userID)
	if err != nil {
		return err
	}

	channels := make([]protocol.ChannelDTO, 0, len(summaries))
	for _, summary := range summaries {
		dto := h.channelDTO(ctx, summary.Channel, userID, true)
		if summary.LastMessage != nil {
			dto.Messages = []protocol.MessageDTO{
				h.messageDTO(ctx, summary.LastMessage, messaging.MessageStateRead, summary.Channel, userID),
			}
		}
		channels = append(channels, dto)
	}

	h.dispatcher.NotifyConnection(connID, protocol.LoadChannels, channels)
	return nil
}

func (h *Hub) handleUnread(ctx context.Context, connID, userID string, event protocol.ServerEvent) error {
	unread, err := h.messages.UnreadMessages(ctx, userID)
	if err != nil {
		return err
	}

	channels := make(map[uuid.UUID]*messaging.Channel)
	messagesOut := make([]protocol.MessageDTO, 0, len(unread))
	for _, message := range unread {
		channel, ok := channels[message.ChannelID]
		if !ok {
			channel, err = h.messages.Channel(ctx, message.ChannelID)
			if err != nil {
				return err
			}
			channels[message.ChannelID] = channel
		}
		messagesOut = append(messagesOut,
			h.messageDTO(ctx, message, messaging.MessageStateReceived, channel, userID))
	}

	h.dispatcher.NotifyConnection(connID, event, messagesOut)
	return nil
}

func (h *Hub) handleJoinChannel(ctx context.Context, connID, userID string, frame protocol.Frame) error {
	var req protocol.JoinChannelRequest
	if err := frame.Decode(&req); err != nil {
		return fmt.Errorf("%w: %v", infrastructure.ErrInvalidInput, err)
	}

	if _, err := h.messages.Channel(ctx, req.ChannelID); err != nil {
		return err
	}
	h.registry.JoinChannel(connID, req.ChannelID)
	return h.sendChannelHistory(ctx, connID, userID, req.ChannelID)
}

func (h *Hub) handleJoinPrivateChannel(ctx context.Context, connID, userID string, frame protocol.Frame) error {
	var req protocol.JoinPrivateChannelRequest
	if err := frame.Decode(&req); err != nil {
		return fmt.Errorf("%w: %v", infrastructure.ErrInvalidInput, err)
	}

	channel, err := h.messages.GetOrCreatePrivateChannel(ctx, userID, req.UserID)
	if err != nil {
		return err
	}
	h.registry.JoinChannel(connID, channel.ID)

	h.dispatcher.NotifyConnection(connID, protocol.LoadChannel, h.channelDTO(ctx, channel, userID, true))
	return h.sendChannelHistory(ctx, connID, userID, channel.ID)
}

func (h *Hub) sendChannelHistory(ctx context.Context, connID, userID string, channelID uuid.UUID) error {
	channel, err := h.messages.Channel(ctx, channelID)
	if err != nil {
		return err
	}
	history, err := h.messages.ChannelMessages(ctx, channelID, userID)
	if err != nil {
		return err
	}

	messagesOut := make([]protocol.MessageDTO, 0, len(history))
	for _, entry := range history {
		messagesOut = append(messagesOut, h.messageDTO(ctx, entry.Message, entry.State, channel, userID))
	}
	h.dispatcher.NotifyConnection(connID, protocol.LoadMessages, messagesOut)
	return nil
}

func (h *Hub) handleCreateChannel(ctx context.Context, connID, userID string, frame protocol.Frame) error {
	var req protocol.CreateChannelRequest
	if err := frame.Decode(&req); err != nil {
		return fmt.Errorf("%w: %v", infrastructure.ErrInvalidInput, err)
	}

	memberIDs := h.resolveMembers(ctx, req.Users)
	channel, err := h.messages.CreateGroupChannel(ctx, req.Name, userID, memberIDs)
	if err != nil {
		return err
	}

	h.dispatcher.NotifyConnection(connID, protocol.LoadChannel, h.channelDTO(ctx, channel, userID, true))

	// One synthetic action message per added member, fanned out to the
	// whole channel, same as a regular send.
	for _, memberID := range channel.MemberIDs {
		if memberID == userID {
			continue
		}
		if err := h.announceMembership(ctx, channel.ID, userID, memberID, true); err != nil {
			return err
		}
	}
	return nil
}

func (h *Hub) handleAddUsersToChannel(ctx context.Context, connID, userID string, frame protocol.Frame) error {
	var req protocol.AddUsersToChannelRequest
	if err := frame.Decode(&req); err != nil {
		return fmt.Errorf("%w: %v", infrastructure.ErrInvalidInput, err)
	}

	for _, addedID := range h.resolveMembers(ctx, req.Users) {
		if err := h.messages.AddMember(ctx, req.ChannelID, addedID); err != nil {
			return err
		}
		if err := h.announceMembership(ctx, req.ChannelID, userID, addedID, false); err != nil {
			return err
		}
	}
	return nil
}

// announceMembership persists the "Agregó a X" action message and notifies
// every channel member. withNotification additionally emits the singular
// LoadNotification event, matching group creation.
func (h *Hub) announceMembership(ctx context.Context, channelID uuid.UUID, authorID, addedID string, withNotification bool) error {
	text := fmt.Sprintf("Agregó a %s", h.users.UserName(ctx, addedID))
	message, err := h.messages.SendMessage(ctx, channelID, authorID, text, true)
	if err != nil {
		return err
	}

	channel, err := h.messages.Channel(ctx, channelID)
	if err != nil {
		return err
	}

	dto := h.messageDTO(ctx, message, messaging.MessageStateReceived, channel, "")
	h.dispatcher.NotifyUsers(channel.MemberIDs, protocol.LoadUnreadMessages, []protocol.MessageDTO{dto})
	if withNotification {
		h.dispatcher.NotifyUsers(channel.MemberIDs, protocol.LoadNotification, []protocol.MessageDTO{dto})
	}
	return nil
}

func (h *Hub) handleLeaveChannel(connID string, frame protocol.Frame) error {
	var req protocol.LeaveChannelRequest
	if err := frame.Decode(&req); err != nil {
		return fmt.Errorf("%w: %v", infrastructure.ErrInvalidInput, err)
	}
	h.registry.LeaveChannel(connID, req.ChannelID)
	return nil
}

func (h *Hub) handleSendMessage(ctx context.Context, connID, userID string, frame protocol.Frame) error {
	var req protocol.SendMessageRequest
	if err := frame.Decode(&req); err != nil {
		return fmt.Errorf("%w: %v", infrastructure.ErrInvalidInput, err)
	}

	message, err := h.messages.SendMessage(ctx, req.ChannelID, userID, req.Message.Text, req.Message.IsAction)
	if err != nil {
		return err
	}
	channel, err := h.messages.Channel(ctx, req.ChannelID)
	if err != nil {
		return err
	}

	dto := h.messageDTO(ctx, message, messaging.MessageStateReceived, channel, "")
	payload := []protocol.MessageDTO{dto}
	h.dispatcher.NotifyUsers(channel.MemberIDs, protocol.LoadUnreadMessages, payload)
	h.dispatcher.NotifyUsers(channel.MemberIDs, protocol.LoadNotification, payload)
	return nil
}

func (h *Hub) handleMarkRead(ctx context.Context, userID string, frame protocol.Frame) error {
	var req protocol.MarkMessagesAsReadRequest
	if err := frame.Decode(&req); err != nil {
		return fmt.Errorf("%w: %v", infrastructure.ErrInvalidInput, err)
	}

	receipts, err := h.messages.MarkRead(ctx, req.MessageIDs, userID)
	if err != nil {
		return err
	}
	for _, receipt := range receipts {
		h.dispatcher.NotifyUsers([]string{receipt.AuthorID}, protocol.LoadIsReadMessage, receipt.MessageID)
	}
	return nil
}

// resolveMembers maps payload user references to directory IDs; entries the
// directory does not know are skipped, as the portal always did.
func (h *Hub) resolveMembers(ctx context.Context, refs []protocol.UserDTO) []string {
	ids := make([]string, 0, len(refs))
	for _, ref := range refs {
		if ref.ID != "" {
			ids = append(ids, ref.ID)
			continue
		}
		if u, err := h.users.GetByUserName(ctx, ref.UserName); err == nil {
			ids = append(ids, u.ID)
		}
	}
	return ids
}
