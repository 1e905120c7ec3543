package kb

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// BaseTopic is the default MQTT topic prefix for the protocol.
const BaseTopic = "kb/v1"

// NodeKind is the presence kind published for Kodi nodes.
const NodeKind = "kodi"

// Reply error codes.
const (
	CodeInvalid     = "INVALID"
	CodeNotFound    = "NOT_FOUND"
	CodeUnavailable = "UNAVAILABLE"
	CodeRuntime     = "RUNTIME"
)

// Command types understood by a Kodi node.
const (
	CmdPlayMovie   = "kodi.playMovie"
	CmdPlayEpisode = "kodi.playEpisode"
	CmdPlayMusic   = "kodi.playMusic"
	CmdStartAddon  = "kodi.startAddon"
	CmdNext        = "kodi.next"
	CmdPrev        = "kodi.prev"
	CmdPauseResume = "kodi.pauseResume"
	CmdStop        = "kodi.stop"
	CmdSetMute     = "kodi.setMute"
	CmdSetSubtitle = "kodi.setSubtitle"
	CmdSetVolume   = "kodi.setVolume"
	CmdPartyMode   = "kodi.partyMode"
	CmdIsPlaying   = "kodi.isPlaying"
	CmdReboot      = "kodi.reboot"
	CmdHibernate   = "kodi.hibernate"
	CmdShutdown    = "kodi.shutdown"
)

var commandTypes = map[string]bool{
	CmdPlayMovie: true, CmdPlayEpisode: true, CmdPlayMusic: true, CmdStartAddon: true,
	CmdNext: true, CmdPrev: true, CmdPauseResume: true, CmdStop: true,
	CmdSetMute: true, CmdSetSubtitle: true, CmdSetVolume: true, CmdPartyMode: true,
	CmdIsPlaying: true, CmdReboot: true, CmdHibernate: true, CmdShutdown: true,
}

// KnownCommand reports whether cmdType is a Kodi node command.
func KnownCommand(cmdType string) bool {
	return commandTypes[cmdType]
}

// CommandEnvelope is the common controller command envelope for MQTT.
type CommandEnvelope struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	TS      int64           `json:"ts"`
	From    string          `json:"from"`
	ReplyTo string          `json:"replyTo,omitempty"`
	Body    json.RawMessage `json:"body"`
}

// ReplyEnvelope is the response envelope for commands.
type ReplyEnvelope struct {
	ID   string          `json:"id"`
	Type string          `json:"type"`
	OK   bool            `json:"ok"`
	TS   int64           `json:"ts"`
	Body json.RawMessage `json:"body,omitempty"`
	Err  *ReplyError     `json:"err,omitempty"`
}

// ReplyError describes an error response. Reason carries the stable
// resolution failure code for NOT_FOUND replies.
type ReplyError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Reason  string `json:"reason,omitempty"`
}

// Presence describes a node presence payload.
type Presence struct {
	NodeID string         `json:"nodeId"`
	Kind   string         `json:"kind"`
	Name   string         `json:"name"`
	Caps   map[string]any `json:"caps,omitempty"`
	EPs    map[string]any `json:"endpoints,omitempty"`
	TS     int64          `json:"ts"`
}

// NodeState is the retained availability state of a Kodi node.
type NodeState struct {
	Available   bool   `json:"available"`
	Reconnected bool   `json:"reconnected,omitempty"`
	Endpoint    string `json:"endpoint"`
	Since       int64  `json:"since"`
	LastError   string `json:"lastError,omitempty"`
	TS          int64  `json:"ts"`
}

// Event is a domain event published on a node's evt topic.
type Event struct {
	Type    string            `json:"type"`
	TS      int64             `json:"ts"`
	Args    map[string]string `json:"args,omitempty"`
	Movie   *Movie            `json:"movie,omitempty"`
	Episode *Episode          `json:"episode,omitempty"`
	Song    *Song             `json:"song,omitempty"`
	Error   string            `json:"error,omitempty"`
}

// Availability event types.
const (
	EventAvailable   = "available"
	EventUnavailable = "unavailable"
	EventReconnected = "reconnected"
)

// NewCommand builds a command envelope with a JSON body.
func NewCommand(cmdType string, body any) (CommandEnvelope, error) {
	if body == nil {
		body = struct{}{}
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return CommandEnvelope{}, fmt.Errorf("marshal body: %w", err)
	}

	return CommandEnvelope{
		Type: cmdType,
		Body: payload,
	}, nil
}

// ValidateCommandEnvelope validates required envelope fields.
func ValidateCommandEnvelope(cmd CommandEnvelope) error {
	if strings.TrimSpace(cmd.ID) == "" {
		return errors.New("id is required")
	}
	if strings.TrimSpace(cmd.Type) == "" {
		return errors.New("type is required")
	}
	if cmd.TS <= 0 {
		return errors.New("ts must be a positive unix timestamp")
	}
	if strings.TrimSpace(cmd.From) == "" {
		return errors.New("from is required")
	}
	if len(cmd.Body) == 0 {
		return errors.New("body is required")
	}
	if !json.Valid(cmd.Body) {
		return errors.New("body must be valid json")
	}
	return nil
}

// TopicPresence builds the presence topic for a node.
func TopicPresence(topicBase, nodeID string) string {
	return fmt.Sprintf("%s/node/%s/presence", topicBase, nodeID)
}

// TopicState builds the state topic for a node.
func TopicState(topicBase, nodeID string) string {
	return fmt.Sprintf("%s/node/%s/state", topicBase, nodeID)
}

// TopicCommands builds the command topic for a node.
func TopicCommands(topicBase, nodeID string) string {
	return fmt.Sprintf("%s/node/%s/cmd", topicBase, nodeID)
}

// TopicEvents builds the events topic for a node.
func TopicEvents(topicBase, nodeID string) string {
	return fmt.Sprintf("%s/node/%s/evt", topicBase, nodeID)
}

// TopicReply builds the reply topic for a controller instance.
func TopicReply(topicBase, controllerID string) string {
	return fmt.Sprintf("%s/reply/%s", topicBase, controllerID)
}
