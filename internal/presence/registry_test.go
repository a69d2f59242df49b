package presence

import (
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
)

func TestRegisterAndMultiDevice(t *testing.T) {
	r := NewRegistry()

	r.Register("conn-1", "alice")
	r.Register("conn-2", "alice")
	r.Register("conn-3", "bob")

	conns := r.ConnectionsFor("alice")
	if len(conns) != 2 {
		t.Fatalf("expected 2 connections for alice, got %v", conns)
	}
	if user, ok := r.UserOf("conn-3"); !ok || user != "bob" {
		t.Fatalf("expected conn-3 to belong to bob, got %q %v", user, ok)
	}
	if conns := r.ConnectionsFor("carol"); len(conns) != 0 {
		t.Fatalf("offline user must have no connections, got %v", conns)
	}
}

func TestUnregisterRemovesRooms(t *testing.T) {
	r := NewRegistry()
	channelID := uuid.New()

	r.Register("conn-1", "alice")
	r.JoinChannel("conn-1", channelID)
	r.Unregister("conn-1")

	if conns := r.ConnectionsFor("alice"); len(conns) != 0 {
		t.Fatalf("expected no connections after unregister, got %v", conns)
	}
	if channels := r.JoinedChannels("conn-1"); len(channels) != 0 {
		t.Fatalf("expected no joined channels after unregister, got %v", channels)
	}
	if _, ok := r.UserOf("conn-1"); ok {
		t.Fatalf("connection must be forgotten after unregister")
	}
}

func TestJoinRequiresRegisteredConnection(t *testing.T) {
	r := NewRegistry()
	channelID := uuid.New()

	r.JoinChannel("ghost", channelID)
	if channels := r.JoinedChannels("ghost"); len(channels) != 0 {
		t.Fatalf("unregistered connection must not join rooms, got %v", channels)
	}
}

func TestLeaveChannel(t *testing.T) {
	r := NewRegistry()
	channelID := uuid.New()

	r.Register("conn-1", "alice")
	r.JoinChannel("conn-1", channelID)
	r.LeaveChannel("conn-1", channelID)

	if channels := r.JoinedChannels("conn-1"); len(channels) != 0 {
		t.Fatalf("expected no joined channels after leave, got %v", channels)
	}
	// Leaving again or leaving unknown rooms must not panic.
	r.LeaveChannel("conn-1", channelID)
	r.LeaveChannel("ghost", uuid.New())
}

func TestConcurrentMutation(t *testing.T) {
	r := NewRegistry()
	channelID := uuid.New()

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			connID := fmt.Sprintf("conn-%d", i)
			userID := fmt.Sprintf("user-%d", i%4)
			r.Register(connID, userID)
			r.JoinChannel(connID, channelID)
			r.ConnectionsFor(userID)
			if i%2 == 0 {
				r.LeaveChannel(connID, channelID)
				r.Unregister(connID)
			}
		}(i)
	}
	wg.Wait()

	total := 0
	for i := 0; i < 4; i++ {
		total += len(r.ConnectionsFor(fmt.Sprintf("user-%d", i)))
	}
	if total != 16 {
		t.Fatalf("expected 16 surviving connections, got %d", total)
	}
}
