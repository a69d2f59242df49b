package hub

import (
	"log"
	"sync"

	"portalchat/internal/presence"
	"portalchat/internal/protocol"
)

// Sender pushes one frame onto a connection's outbound stream. Send
// reports false when the frame was dropped.
type Sender interface {
	Send(frame protocol.Frame) bool
}

// Dispatcher fans an event out to every live connection of a set of users.
// Delivery is best-effort and at-most-once: there is no retry, no ack and
// no queueing for offline users; durability comes from the delivery
// records, which disconnected clients re-query on reconnect.
type Dispatcher struct {
	registry *presence.Registry

	mu      sync.RWMutex
	senders map[string]Sender
}

func NewDispatcher(registry *presence.Registry) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		senders:  make(map[string]Sender),
	}
}

func (d *Dispatcher) Attach(connID string, sender Sender) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.senders[connID] = sender
}

func (d *Dispatcher) Detach(connID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.senders, connID)
}

// NotifyUsers pushes the event to every live connection of every target
// user. Offline users are skipped silently.
func (d *Dispatcher) NotifyUsers(userIDs []string, event protocol.ServerEvent, payload interface{}) {
	frame, err := protocol.NewFrame(string(event), payload)
	if err != nil {
		log.Printf("dispatcher: %v", err)
		return
	}

	seen := make(map[string]bool, len(userIDs))
	for _, userID := range userIDs {
		if seen[userID] {
			continue
		}
		seen[userID] = true
		for _, connID := range d.registry.ConnectionsFor(userID) {
			d.send(connID, frame)
		}
	}
}

// NotifyConnection pushes the event to a single connection.
func (d *Dispatcher) NotifyConnection(connID string, event protocol.ServerEvent, payload interface{}) {
	frame, err := protocol.NewFrame(string(event), payload)
	if err != nil {
		log.Printf("dispatcher: %v", err)
		return
	}
	d.send(connID, frame)
}

func (d *Dispatcher) send(connID string, frame protocol.Frame) {
	d.mu.RLock()
	sender, ok := d.senders[connID]
	d.mu.RUnlock()
	if !ok {
		return
	}
	if !sender.Send(frame) {
		log.Printf("dispatcher: dropped %s for connection %s, queue full", frame.Type, connID)
	}
}
