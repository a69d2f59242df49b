package hub

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"portalchat/internal/messaging"
	"portalchat/internal/presence"
	"portalchat/internal/protocol"
	"portalchat/internal/user"
	"portalchat/pkg/jwt"
)

type fakeSender struct {
	mu     sync.Mutex
	frames []protocol.Frame
}

func (s *fakeSender) Send(frame protocol.Frame) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, frame)
	return true
}

func (s *fakeSender) byType(event protocol.ServerEvent) []protocol.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []protocol.Frame
	for _, frame := range s.frames {
		if frame.Type == string(event) {
			out = append(out, frame)
		}
	}
	return out
}

type testEnv struct {
	hub      *Hub
	registry *presence.Registry
}

func newTestEnv(t *testing.T, userNames ...string) *testEnv {
	t.Helper()

	storage := user.NewMemoryStorage()
	for _, name := range userNames {
		if err := storage.Save(context.Background(), &user.User{ID: name, UserName: name}); err != nil {
			t.Fatalf("failed to seed user %s: %v", name, err)
		}
	}

	registry := presence.NewRegistry()
	dispatcher := NewDispatcher(registry)
	hub := NewHub(
		jwt.NewJWT([]byte("test-secret"), 3600),
		messaging.NewService(messaging.NewMemoryRepository()),
		user.NewDirectory(storage, nil),
		registry,
		dispatcher,
	)
	return &testEnv{hub: hub, registry: registry}
}

// connect registers a fake connection for the user and returns its sink.
func (e *testEnv) connect(userID string) (string, *fakeSender) {
	connID := uuid.NewString()
	sender := &fakeSender{}
	e.registry.Register(connID, userID)
	e.hub.dispatcher.Attach(connID, sender)
	return connID, sender
}

func (e *testEnv) invoke(t *testing.T, connID, userID string, event protocol.ClientEvent, payload interface{}) {
	t.Helper()
	frame, err := protocol.NewFrame(string(event), payload)
	if err != nil {
		t.Fatalf("failed to build %s frame: %v", event, err)
	}
	e.hub.dispatch(context.Background(), connID, userID, frame)
}

func decodeMessages(t *testing.T, frame protocol.Frame) []protocol.MessageDTO {
	t.Helper()
	var messages []protocol.MessageDTO
	if err := json.Unmarshal(frame.Data, &messages); err != nil {
		t.Fatalf("failed to decode %s payload: %v", frame.Type, err)
	}
	return messages
}

func TestCreateChannelFansOutToAddedMembers(t *testing.T) {
	env := newTestEnv(t, "alice", "bob", "carol")
	aliceConn, aliceSink := env.connect("alice")
	_, bobSink := env.connect("bob")
	_, carolSink := env.connect("carol")

	env.invoke(t, aliceConn, "alice", protocol.CreateChannel, protocol.CreateChannelRequest{
		Name:  "team",
		Users: []protocol.UserDTO{{ID: "bob"}, {ID: "carol"}},
	})

	loaded := aliceSink.byType(protocol.LoadChannel)
	if len(loaded) != 1 {
		t.Fatalf("expected 1 LoadChannel for the creator, got %d", len(loaded))
	}
	var channel protocol.ChannelDTO
	if err := json.Unmarshal(loaded[0].Data, &channel); err != nil {
		t.Fatalf("failed to decode channel: %v", err)
	}
	if channel.Name != "team" || channel.IsPrivate {
		t.Fatalf("unexpected channel %+v", channel)
	}
	if len(channel.Users) != 3 {
		t.Fatalf("expected 3 members in LoadChannel, got %d", len(channel.Users))
	}

	// One action message per added member, visible to every member.
	for name, sink := range map[string]*fakeSender{"bob": bobSink, "carol": carolSink} {
		unread := sink.byType(protocol.LoadUnreadMessages)
		if len(unread) != 2 {
			t.Fatalf("%s: expected 2 LoadUnreadMessages, got %d", name, len(unread))
		}
		messages := decodeMessages(t, unread[0])
		if len(messages) != 1 || !messages[0].IsAction {
			t.Fatalf("%s: expected a single action message, got %+v", name, messages)
		}
		if got := sink.byType(protocol.LoadNotification); len(got) != 2 {
			t.Fatalf("%s: expected 2 LoadNotification, got %d", name, len(got))
		}
	}

	texts := map[string]bool{}
	for _, frame := range bobSink.byType(protocol.LoadUnreadMessages) {
		for _, message := range decodeMessages(t, frame) {
			texts[message.Text] = true
		}
	}
	if !texts["Agregó a bob"] || !texts["Agregó a carol"] {
		t.Fatalf("unexpected action texts: %v", texts)
	}
}

func TestPrivateMessageRoundTrip(t *testing.T) {
	env := newTestEnv(t, "alice", "bob")
	aliceConn, aliceSink := env.connect("alice")
	bobConn, bobSink := env.connect("bob")

	env.invoke(t, aliceConn, "alice", protocol.JoinPrivateChannel,
		protocol.JoinPrivateChannelRequest{UserID: "bob"})

	loaded := aliceSink.byType(protocol.LoadChannel)
	if len(loaded) != 1 {
		t.Fatalf("expected LoadChannel after join, got %d frames", len(loaded))
	}
	var channel protocol.ChannelDTO
	if err := json.Unmarshal(loaded[0].Data, &channel); err != nil {
		t.Fatalf("failed to decode channel: %v", err)
	}
	if channel.Name != "bob" {
		t.Fatalf("private channel should display the other member's username, got %q", channel.Name)
	}
	if history := aliceSink.byType(protocol.LoadMessages); len(history) != 1 {
		t.Fatalf("expected an empty LoadMessages history, got %d frames", len(history))
	}

	channelID, err := uuid.Parse(channel.ID)
	if err != nil {
		t.Fatalf("channel id is not a uuid: %v", err)
	}
	env.invoke(t, aliceConn, "alice", protocol.SendMessageToChannel, protocol.SendMessageRequest{
		ChannelID: channelID,
		Message:   protocol.MessageDTO{Text: "hi"},
	})

	unread := bobSink.byType(protocol.LoadUnreadMessages)
	if len(unread) != 1 {
		t.Fatalf("expected 1 LoadUnreadMessages at bob, got %d", len(unread))
	}
	messages := decodeMessages(t, unread[0])
	if len(messages) != 1 || messages[0].Text != "hi" {
		t.Fatalf("unexpected unread payload: %+v", messages)
	}
	if messages[0].State != int(messaging.MessageStateReceived) {
		t.Fatalf("expected state Received, got %d", messages[0].State)
	}
	if messages[0].MessagingChannel == nil || messages[0].MessagingChannel.Name != "alice" {
		t.Fatalf("broadcast frames must name a private channel after the sender, got %+v",
			messages[0].MessagingChannel)
	}
	if len(bobSink.byType(protocol.LoadNotification)) != 1 {
		t.Fatalf("expected LoadNotification alongside LoadUnreadMessages")
	}

	env.invoke(t, bobConn, "bob", protocol.MarkMessagesAsRead, protocol.MarkMessagesAsReadRequest{
		MessageIDs: []uuid.UUID{messages[0].ID},
		ChannelID:  channelID,
	})

	receipts := aliceSink.byType(protocol.LoadIsReadMessage)
	if len(receipts) != 1 {
		t.Fatalf("expected LoadIsReadMessage at the author, got %d", len(receipts))
	}
	var readID uuid.UUID
	if err := json.Unmarshal(receipts[0].Data, &readID); err != nil {
		t.Fatalf("failed to decode read receipt: %v", err)
	}
	if readID != messages[0].ID {
		t.Fatalf("receipt for wrong message: got %s want %s", readID, messages[0].ID)
	}
}

func TestSendToUnknownChannelReturnsError(t *testing.T) {
	env := newTestEnv(t, "alice")
	aliceConn, aliceSink := env.connect("alice")

	env.invoke(t, aliceConn, "alice", protocol.SendMessageToChannel, protocol.SendMessageRequest{
		ChannelID: uuid.New(),
		Message:   protocol.MessageDTO{Text: "hello?"},
	})

	if got := aliceSink.byType(protocol.ErrorEvent); len(got) != 1 {
		t.Fatalf("expected an Error frame, got %d", len(got))
	}
	if got := aliceSink.byType(protocol.LoadUnreadMessages); len(got) != 0 {
		t.Fatalf("no notification should be sent for a failed send")
	}
}

func TestNonMemberCannotSend(t *testing.T) {
	env := newTestEnv(t, "alice", "bob", "mallory")
	aliceConn, aliceSink := env.connect("alice")
	malloryConn, mallorySink := env.connect("mallory")

	env.invoke(t, aliceConn, "alice", protocol.JoinPrivateChannel,
		protocol.JoinPrivateChannelRequest{UserID: "bob"})
	loaded := aliceSink.byType(protocol.LoadChannel)
	var channel protocol.ChannelDTO
	if err := json.Unmarshal(loaded[0].Data, &channel); err != nil {
		t.Fatalf("failed to decode channel: %v", err)
	}
	channelID, _ := uuid.Parse(channel.ID)

	env.invoke(t, malloryConn, "mallory", protocol.SendMessageToChannel, protocol.SendMessageRequest{
		ChannelID: channelID,
		Message:   protocol.MessageDTO{Text: "let me in"},
	})

	if got := mallorySink.byType(protocol.ErrorEvent); len(got) != 1 {
		t.Fatalf("expected an Error frame for the outsider, got %d", len(got))
	}
	if got := aliceSink.byType(protocol.LoadUnreadMessages); len(got) != 0 {
		t.Fatalf("members must not be notified of a rejected send")
	}
}

func TestGetChannelsIncludesLastMessagePreview(t *testing.T) {
	env := newTestEnv(t, "alice", "bob")
	aliceConn, aliceSink := env.connect("alice")

	env.invoke(t, aliceConn, "alice", protocol.JoinPrivateChannel,
		protocol.JoinPrivateChannelRequest{UserID: "bob"})
	loaded := aliceSink.byType(protocol.LoadChannel)
	var channel protocol.ChannelDTO
	if err := json.Unmarshal(loaded[0].Data, &channel); err != nil {
		t.Fatalf("failed to decode channel: %v", err)
	}
	channelID, _ := uuid.Parse(channel.ID)

	env.invoke(t, aliceConn, "alice", protocol.SendMessageToChannel, protocol.SendMessageRequest{
		ChannelID: channelID,
		Message:   protocol.MessageDTO{Text: "first"},
	})
	env.invoke(t, aliceConn, "alice", protocol.SendMessageToChannel, protocol.SendMessageRequest{
		ChannelID: channelID,
		Message:   protocol.MessageDTO{Text: "latest"},
	})

	env.invoke(t, aliceConn, "alice", protocol.GetChannels, nil)
	frames := aliceSink.byType(protocol.LoadChannels)
	if len(frames) != 1 {
		t.Fatalf("expected 1 LoadChannels frame, got %d", len(frames))
	}
	var channels []protocol.ChannelDTO
	if err := json.Unmarshal(frames[0].Data, &channels); err != nil {
		t.Fatalf("failed to decode channels: %v", err)
	}
	if len(channels) != 1 {
		t.Fatalf("expected 1 channel, got %d", len(channels))
	}
	if len(channels[0].Messages) != 1 || channels[0].Messages[0].Text != "latest" {
		t.Fatalf("expected latest message preview, got %+v", channels[0].Messages)
	}
}

func TestUnreadCatchUpAfterOfflineSend(t *testing.T) {
	env := newTestEnv(t, "alice", "bob")
	aliceConn, aliceSink := env.connect("alice")

	env.invoke(t, aliceConn, "alice", protocol.JoinPrivateChannel,
		protocol.JoinPrivateChannelRequest{UserID: "bob"})
	loaded := aliceSink.byType(protocol.LoadChannel)
	var channel protocol.ChannelDTO
	if err := json.Unmarshal(loaded[0].Data, &channel); err != nil {
		t.Fatalf("failed to decode channel: %v", err)
	}
	channelID, _ := uuid.Parse(channel.ID)

	// Bob is offline while alice sends.
	env.invoke(t, aliceConn, "alice", protocol.SendMessageToChannel, protocol.SendMessageRequest{
		ChannelID: channelID,
		Message:   protocol.MessageDTO{Text: "missed me?"},
	})

	bobConn, bobSink := env.connect("bob")
	env.invoke(t, bobConn, "bob", protocol.GetUnreadMessages, nil)

	frames := bobSink.byType(protocol.LoadUnreadMessages)
	if len(frames) != 1 {
		t.Fatalf("expected 1 LoadUnreadMessages on catch-up, got %d", len(frames))
	}
	messages := decodeMessages(t, frames[0])
	if len(messages) != 1 || messages[0].Text != "missed me?" {
		t.Fatalf("unexpected catch-up payload: %+v", messages)
	}
}

func TestMultiDeviceDelivery(t *testing.T) {
	env := newTestEnv(t, "alice", "bob")
	aliceConn, aliceSink := env.connect("alice")
	_, bobPhone := env.connect("bob")
	_, bobLaptop := env.connect("bob")

	env.invoke(t, aliceConn, "alice", protocol.JoinPrivateChannel,
		protocol.JoinPrivateChannelRequest{UserID: "bob"})
	loaded := aliceSink.byType(protocol.LoadChannel)
	var channel protocol.ChannelDTO
	if err := json.Unmarshal(loaded[0].Data, &channel); err != nil {
		t.Fatalf("failed to decode channel: %v", err)
	}
	channelID, _ := uuid.Parse(channel.ID)

	env.invoke(t, aliceConn, "alice", protocol.SendMessageToChannel, protocol.SendMessageRequest{
		ChannelID: channelID,
		Message:   protocol.MessageDTO{Text: "both of you"},
	})

	for name, sink := range map[string]*fakeSender{"phone": bobPhone, "laptop": bobLaptop} {
		if got := sink.byType(protocol.LoadUnreadMessages); len(got) != 1 {
			t.Fatalf("%s: expected delivery on every device, got %d frames", name, len(got))
		}
	}
}

func dialSocket(t *testing.T, srv *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	url := "ws://" + strings.TrimPrefix(srv.URL, "http://") + "?access_token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("failed to dial hub: %v", err)
	}
	return conn
}

func TestExpiredTokenForcesDisconnect(t *testing.T) {
	env := newTestEnv(t, "alice")
	srv := httptest.NewServer(http.HandlerFunc(env.hub.HandleSocket))
	defer srv.Close()

	// Mint with the hub's secret but a one-second lifetime, so the token is
	// valid at the handshake and expires while the connection idles.
	token, err := jwt.NewJWT([]byte("test-secret"), 1).GenerateToken("alice")
	if err != nil {
		t.Fatalf("failed to generate token: %v", err)
	}

	conn := dialSocket(t, srv, token)
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		_, _, err := conn.ReadMessage()
		if err == nil {
			continue
		}
		closeErr, ok := err.(*websocket.CloseError)
		if !ok {
			t.Fatalf("expected a close frame at expiry, got %v", err)
		}
		if closeErr.Code != protocol.CloseUnauthorized || closeErr.Text != protocol.CloseReasonUnauthorized {
			t.Fatalf("expected close %d %q, got %d %q",
				protocol.CloseUnauthorized, protocol.CloseReasonUnauthorized, closeErr.Code, closeErr.Text)
		}
		return
	}
}

type ctxCapturingRepo struct {
	messaging.Repository
	mu  sync.Mutex
	ctx context.Context
}

func (r *ctxCapturingRepo) ListChannelsForUser(ctx context.Context, userID string) ([]*messaging.Channel, error) {
	r.mu.Lock()
	r.ctx = ctx
	r.mu.Unlock()
	return r.Repository.ListChannelsForUser(ctx, userID)
}

func (r *ctxCapturingRepo) captured() context.Context {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ctx
}

func TestHandlerContextCancelledOnDisconnect(t *testing.T) {
	storage := user.NewMemoryStorage()
	if err := storage.Save(context.Background(), &user.User{ID: "alice", UserName: "alice"}); err != nil {
		t.Fatalf("failed to seed user: %v", err)
	}
	repo := &ctxCapturingRepo{Repository: messaging.NewMemoryRepository()}
	registry := presence.NewRegistry()
	tokens := jwt.NewJWT([]byte("test-secret"), 3600)
	h := NewHub(tokens, messaging.NewService(repo), user.NewDirectory(storage, nil),
		registry, NewDispatcher(registry))

	srv := httptest.NewServer(http.HandlerFunc(h.HandleSocket))
	defer srv.Close()

	token, err := tokens.GenerateToken("alice")
	if err != nil {
		t.Fatalf("failed to generate token: %v", err)
	}
	conn := dialSocket(t, srv, token)

	frame, err := protocol.NewFrame(string(protocol.GetChannels), nil)
	if err != nil {
		t.Fatalf("failed to build frame: %v", err)
	}
	if err := conn.WriteJSON(frame); err != nil {
		t.Fatalf("failed to send frame: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	var handlerCtx context.Context
	for handlerCtx == nil {
		if time.Now().After(deadline) {
			t.Fatal("repository never saw the GetChannels call")
		}
		handlerCtx = repo.captured()
		time.Sleep(10 * time.Millisecond)
	}
	if handlerCtx.Err() != nil {
		t.Fatal("handler context cancelled while the connection is live")
	}

	_ = conn.Close()
	select {
	case <-handlerCtx.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("handler context not cancelled after disconnect")
	}
}
