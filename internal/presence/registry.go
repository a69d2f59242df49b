// Package presence maps authenticated users to their live transport
// connections and connections to the channel rooms they joined. It is pure
// in-memory routing state: joining a room here does not imply durable
// channel membership, and nothing in it survives a disconnect.
package presence

import (
	"sync"

	"github.com/google/uuid"
)

type Registry struct {
	mu           sync.RWMutex
	userConns    map[string]map[string]struct{}
	connUser     map[string]string
	connChannels map[string]map[uuid.UUID]struct{}
	channelConns map[uuid.UUID]map[string]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		userConns:    make(map[string]map[string]struct{}),
		connUser:     make(map[string]string),
		connChannels: make(map[string]map[uuid.UUID]struct{}),
		channelConns: make(map[uuid.UUID]map[string]struct{}),
	}
}

// Register binds a live connection to a user. One user may own several
// connections at once (multiple devices or tabs).
func (r *Registry) Register(connID, userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.userConns[userID]; !ok {
		r.userConns[userID] = make(map[string]struct{})
	}
	r.userConns[userID][connID] = struct{}{}
	r.connUser[connID] = userID
}

// Unregister removes the connection and every room it joined.
func (r *Registry) Unregister(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	userID, ok := r.connUser[connID]
	if !ok {
		return
	}
	delete(r.connUser, connID)

	if conns, ok := r.userConns[userID]; ok {
		delete(conns, connID)
		if len(conns) == 0 {
			delete(r.userConns, userID)
		}
	}

	for channelID := range r.connChannels[connID] {
		if conns, ok := r.channelConns[channelID]; ok {
			delete(conns, connID)
			if len(conns) == 0 {
				delete(r.channelConns, channelID)
			}
		}
	}
	delete(r.connChannels, connID)
}

func (r *Registry) JoinChannel(connID string, channelID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.connUser[connID]; !ok {
		return
	}
	if _, ok := r.connChannels[connID]; !ok {
		r.connChannels[connID] = make(map[uuid.UUID]struct{})
	}
	r.connChannels[connID][channelID] = struct{}{}

	if _, ok := r.channelConns[channelID]; !ok {
		r.channelConns[channelID] = make(map[string]struct{})
	}
	r.channelConns[channelID][connID] = struct{}{}
}

func (r *Registry) LeaveChannel(connID string, channelID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if channels, ok := r.connChannels[connID]; ok {
		delete(channels, channelID)
	}
	if conns, ok := r.channelConns[channelID]; ok {
		delete(conns, connID)
		if len(conns) == 0 {
			delete(r.channelConns, channelID)
		}
	}
}

// ConnectionsFor returns every live connection of the user; empty when the
// user is offline.
func (r *Registry) ConnectionsFor(userID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := make([]string, 0, len(r.userConns[userID]))
	for connID := range r.userConns[userID] {
		conns = append(conns, connID)
	}
	return conns
}

// UserOf resolves a connection back to its user.
func (r *Registry) UserOf(connID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	userID, ok := r.connUser[connID]
	return userID, ok
}

// JoinedChannels returns the rooms a connection currently views.
func (r *Registry) JoinedChannels(connID string) []uuid.UUID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	channels := make([]uuid.UUID, 0, len(r.connChannels[connID]))
	for channelID := range r.connChannels[connID] {
		channels = append(channels, channelID)
	}
	return channels
}
