package ports

import (
	"context"

	"github.com/mikey-austin/kodibridge/pkg/kb"
)

// Broker publishes commands and reads retained node state and presence.
type Broker interface {
	ReplyTopic() string
	PublishCommand(ctx context.Context, nodeID string, cmd kb.CommandEnvelope) (kb.ReplyEnvelope, error)
	ListPresence(ctx context.Context) ([]kb.Presence, error)
	GetNodeState(ctx context.Context, nodeID string) (kb.NodeState, error)
	WatchNode(ctx context.Context, nodeID string) (<-chan kb.NodeState, <-chan kb.Event, <-chan error)
}

// IDGen returns unique correlation IDs.
type IDGen interface {
	NewID() string
}
