package hub

import (
	"github.com/google/wire"

	"portalchat/internal/presence"
)

// ProvideDispatcher is a Wire provider function that creates the Dispatcher.
func ProvideDispatcher(registry *presence.Registry) *Dispatcher {
	return NewDispatcher(registry)
}

var Set = wire.NewSet(presence.NewRegistry, ProvideDispatcher, NewHub)
