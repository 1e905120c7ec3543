package core

import "github.com/mikey-austin/kodibridge/pkg/kb"

// NodesResult holds a list of presence records.
type NodesResult struct {
	Nodes []kb.Presence
}

// StatusResult holds a node's presence and retained state.
type StatusResult struct {
	Node  kb.Presence
	State kb.NodeState
}

// PlayResult reports what a play command started.
type PlayResult struct {
	Node    kb.Presence
	Movie   *kb.Movie   `json:",omitempty"`
	Episode *kb.Episode `json:",omitempty"`
	Songs   []kb.Song   `json:",omitempty"`
	Addon   *kb.Addon   `json:",omitempty"`
}

// PlayingResult answers whether Kodi is playing a kind of item.
type PlayingResult struct {
	Node    kb.Presence
	Item    string
	Playing bool
}

// AckResult reports a command that returned no body.
type AckResult struct {
	Node    kb.Presence
	Command string
}

// EventResult is one event observed while watching a node.
type EventResult struct {
	Node  kb.Presence
	Event kb.Event
}
