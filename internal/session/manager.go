// Package session implements the client side of the portal messaging
// connection: dialing, event dispatch and automatic reconnection.
package session

import (
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"portalchat/internal/protocol"
)

// State is the connection lifecycle state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

const (
	reconnectBase = time.Second
	reconnectMax  = 30 * time.Second
)

// Handler consumes one server event payload.
type Handler func(data json.RawMessage)

// Manager owns a single logical connection to the messaging hub. It
// reconnects on transport failure: the first retry is immediate, later
// retries back off exponentially with jitter up to a cap. An authentication
// rejection is terminal; the manager stops and reports it instead of
// retrying a token the server already refused.
type Manager struct {
	url    string
	token  string
	dialer *websocket.Dialer

	mu       sync.Mutex
	state    State
	conn     *websocket.Conn
	handlers map[protocol.ServerEvent]Handler

	onState       func(State)
	onAuthFailure func()

	closed chan struct{}
}

func NewManager(url, token string) *Manager {
	return &Manager{
		url:      url,
		token:    token,
		dialer:   websocket.DefaultDialer,
		state:    StateDisconnected,
		handlers: make(map[protocol.ServerEvent]Handler),
		closed:   make(chan struct{}),
	}
}

// On registers the handler for a server event. Handlers must be registered
// before Run; registration is not synchronized with dispatch.
func (m *Manager) On(event protocol.ServerEvent, handler Handler) {
	m.handlers[event] = handler
}

// OnStateChange registers an observer for lifecycle transitions.
func (m *Manager) OnStateChange(fn func(State)) { m.onState = fn }

// OnAuthFailure registers the callback fired when the server rejects the
// token. The manager will not reconnect after it fires.
func (m *Manager) OnAuthFailure(fn func()) { m.onAuthFailure = fn }

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) setState(next State) {
	m.mu.Lock()
	m.state = next
	fn := m.onState
	m.mu.Unlock()
	if fn != nil {
		fn(next)
	}
}

// Run connects and keeps the session alive until Close or an auth failure.
// It blocks; callers run it on its own goroutine.
func (m *Manager) Run() {
	attempt := 0
	for {
		select {
		case <-m.closed:
			m.setState(StateClosed)
			return
		default:
		}

		m.setState(StateConnecting)
		conn, authFailed, err := m.dial()
		if authFailed {
			m.setState(StateDisconnected)
			if m.onAuthFailure != nil {
				m.onAuthFailure()
			}
			return
		}
		if err != nil {
			m.setState(StateDisconnected)
			m.sleep(attempt)
			attempt++
			continue
		}

		m.mu.Lock()
		m.conn = conn
		m.mu.Unlock()
		m.setState(StateConnected)
		attempt = 0

		authFailed = m.readLoop(conn)
		m.mu.Lock()
		m.conn = nil
		m.mu.Unlock()

		if authFailed {
			m.setState(StateDisconnected)
			if m.onAuthFailure != nil {
				m.onAuthFailure()
			}
			return
		}
		m.setState(StateDisconnected)
		// Immediate first retry after a dropped connection.
		attempt = 0
	}
}

func (m *Manager) dial() (conn *websocket.Conn, authFailed bool, err error) {
	header := http.Header{"Authorization": []string{"Bearer " + m.token}}
	conn, resp, err := m.dialer.Dial(m.url, header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, true, err
		}
		return nil, false, fmt.Errorf("failed to dial %s: %w", m.url, err)
	}
	return conn, false, nil
}

// readLoop pumps inbound frames to their handlers. It returns true when the
// server closed the connection for an authentication failure.
func (m *Manager) readLoop(conn *websocket.Conn) (authFailed bool) {
	for {
		var frame protocol.Frame
		if err := conn.ReadJSON(&frame); err != nil {
			if closeErr, ok := err.(*websocket.CloseError); ok {
				if closeErr.Code == protocol.CloseUnauthorized ||
					strings.Contains(closeErr.Text, protocol.CloseReasonUnauthorized) {
					return true
				}
			}
			return false
		}
		if handler, ok := m.handlers[protocol.ServerEvent(frame.Type)]; ok {
			handler(frame.Data)
		} else {
			log.Printf("session: no handler for %s", frame.Type)
		}
	}
}

// backoffDelay computes the wait before retry n. Retry 0 is immediate; after
// that the delay doubles from the base up to the cap, with up to half the
// delay added as jitter so a fleet of clients does not reconnect in lockstep.
func backoffDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	delay := reconnectBase << uint(attempt-1)
	if delay > reconnectMax {
		delay = reconnectMax
	}
	return delay + time.Duration(rand.Int63n(int64(delay)/2+1))
}

func (m *Manager) sleep(attempt int) {
	delay := backoffDelay(attempt)
	if delay == 0 {
		return
	}
	select {
	case <-time.After(delay):
	case <-m.closed:
	}
}

// Close ends the session; the manager will not reconnect afterwards.
func (m *Manager) Close() {
	m.setState(StateClosing)
	m.mu.Lock()
	select {
	case <-m.closed:
	default:
		close(m.closed)
	}
	conn := m.conn
	m.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

func (m *Manager) send(event protocol.ClientEvent, payload interface{}) error {
	frame, err := protocol.NewFrame(string(event), payload)
	if err != nil {
		return err
	}

	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("session is not connected")
	}
	if err := conn.WriteJSON(frame); err != nil {
		return fmt.Errorf("failed to send %s: %w", event, err)
	}
	return nil
}

// Invoke helpers, one per hub operation.

func (m *Manager) GetChannels() error {
	return m.send(protocol.GetChannels, nil)
}

func (m *Manager) GetUnreadMessages() error {
	return m.send(protocol.GetUnreadMessages, nil)
}

func (m *Manager) GetNotifications() error {
	return m.send(protocol.GetNotifications, nil)
}

func (m *Manager) JoinChannel(channelID uuid.UUID) error {
	return m.send(protocol.JoinChannel, protocol.JoinChannelRequest{ChannelID: channelID})
}

func (m *Manager) JoinPrivateChannel(userID string) error {
	return m.send(protocol.JoinPrivateChannel, protocol.JoinPrivateChannelRequest{UserID: userID})
}

func (m *Manager) CreateChannel(name string, users []protocol.UserDTO) error {
	return m.send(protocol.CreateChannel, protocol.CreateChannelRequest{Name: name, Users: users})
}

func (m *Manager) AddUsersToChannel(channelID uuid.UUID, users []protocol.UserDTO) error {
	return m.send(protocol.AddUsersToChannel, protocol.AddUsersToChannelRequest{ChannelID: channelID, Users: users})
}

func (m *Manager) LeaveChannel(channelID uuid.UUID) error {
	return m.send(protocol.LeaveChannel, protocol.LeaveChannelRequest{ChannelID: channelID})
}

func (m *Manager) SendMessageToChannel(channelID uuid.UUID, text string) error {
	return m.send(protocol.SendMessageToChannel, protocol.SendMessageRequest{
		ChannelID: channelID,
		Message:   protocol.MessageDTO{Text: text},
	})
}

func (m *Manager) MarkMessagesAsRead(channelID uuid.UUID, messageIDs []uuid.UUID) error {
	return m.send(protocol.MarkMessagesAsRead, protocol.MarkMessagesAsReadRequest{
		MessageIDs: messageIDs,
		ChannelID:  channelID,
	})
}
