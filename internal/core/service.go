package core

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/mikey-austin/kodibridge/internal/ports"
	"github.com/mikey-austin/kodibridge/pkg/kb"
)

// Service orchestrates kodictl use cases.
type Service struct {
	Broker   ports.Broker
	Resolver Resolver
	IDGen    ports.IDGen
	Config   Config
	Now      func() time.Time
}

// ListNodes returns Kodi presence entries sorted by name.
func (s Service) ListNodes(ctx context.Context) (NodesResult, error) {
	nodes, err := s.Broker.ListPresence(ctx)
	if err != nil {
		return NodesResult{}, WrapError(ExitRuntime, "list nodes", err)
	}
	nodes = filterPresenceByKind(nodes, kb.NodeKind)
	sort.Slice(nodes, func(i, j int) bool {
		return strings.ToLower(nodes[i].Name) < strings.ToLower(nodes[j].Name)
	})
	return NodesResult{Nodes: nodes}, nil
}

// Status returns a node's retained availability state.
func (s Service) Status(ctx context.Context, selector string) (StatusResult, error) {
	node, err := s.Resolver.ResolveKodi(ctx, selector)
	if err != nil {
		return StatusResult{}, err
	}
	state, err := s.Broker.GetNodeState(ctx, node.NodeID)
	if err != nil {
		return StatusResult{}, WrapError(ExitRuntime, "get node state", err)
	}
	return StatusResult{Node: node, State: state}, nil
}

// Watch streams state changes and events for a node.
func (s Service) Watch(ctx context.Context, selector string) (kb.Presence, <-chan kb.NodeState, <-chan kb.Event, <-chan error, error) {
	node, err := s.Resolver.ResolveKodi(ctx, selector)
	if err != nil {
		return kb.Presence{}, nil, nil, nil, err
	}
	states, events, errs := s.Broker.WatchNode(ctx, node.NodeID)
	return node, states, events, errs, nil
}

// PlayMovie plays the movie best matching title.
func (s Service) PlayMovie(ctx context.Context, selector, title string) (PlayResult, error) {
	if strings.TrimSpace(title) == "" {
		return PlayResult{}, &CLIError{Code: ExitUsage, Msg: "movie title required"}
	}
	var reply kb.PlayMovieReply
	node, err := s.request(ctx, selector, kb.CmdPlayMovie, kb.PlayMovieBody{Title: title}, &reply)
	if err != nil {
		return PlayResult{}, err
	}
	return PlayResult{Node: node, Movie: &reply.Movie}, nil
}

// PlayEpisode plays the oldest unwatched episode of the show best matching show.
func (s Service) PlayEpisode(ctx context.Context, selector, show string) (PlayResult, error) {
	if strings.TrimSpace(show) == "" {
		return PlayResult{}, &CLIError{Code: ExitUsage, Msg: "show title required"}
	}
	var reply kb.PlayEpisodeReply
	node, err := s.request(ctx, selector, kb.CmdPlayEpisode, kb.PlayEpisodeBody{Show: show}, &reply)
	if err != nil {
		return PlayResult{}, err
	}
	return PlayResult{Node: node, Episode: &reply.Episode}, nil
}

// PlayMusic queues every song of the matching artist or album.
func (s Service) PlayMusic(ctx context.Context, selector, kind, query string, shuffle bool) (PlayResult, error) {
	switch strings.ToLower(kind) {
	case "artist", "album":
	default:
		return PlayResult{}, &CLIError{Code: ExitUsage, Msg: fmt.Sprintf("music kind must be artist or album, got %q", kind)}
	}
	if strings.TrimSpace(query) == "" {
		return PlayResult{}, &CLIError{Code: ExitUsage, Msg: kind + " name required"}
	}
	body := kb.PlayMusicBody{Kind: strings.ToUpper(kind), Query: query, Shuffle: &shuffle}
	var reply kb.PlayMusicReply
	node, err := s.request(ctx, selector, kb.CmdPlayMusic, body, &reply)
	if err != nil {
		return PlayResult{}, err
	}
	return PlayResult{Node: node, Songs: reply.Songs}, nil
}

// StartAddon launches the addon best matching name.
func (s Service) StartAddon(ctx context.Context, selector, name string) (PlayResult, error) {
	if strings.TrimSpace(name) == "" {
		return PlayResult{}, &CLIError{Code: ExitUsage, Msg: "addon name required"}
	}
	var reply kb.StartAddonReply
	node, err := s.request(ctx, selector, kb.CmdStartAddon, kb.StartAddonBody{Name: name}, &reply)
	if err != nil {
		return PlayResult{}, err
	}
	return PlayResult{Node: node, Addon: &reply.Addon}, nil
}

// PauseResume toggles playback.
func (s Service) PauseResume(ctx context.Context, selector string) (AckResult, error) {
	return s.ack(ctx, selector, kb.CmdPauseResume, nil)
}

// Stop stops playback.
func (s Service) Stop(ctx context.Context, selector string) (AckResult, error) {
	return s.ack(ctx, selector, kb.CmdStop, nil)
}

// Next skips to the next item.
func (s Service) Next(ctx context.Context, selector string) (AckResult, error) {
	return s.ack(ctx, selector, kb.CmdNext, nil)
}

// Prev goes back to the previous item.
func (s Service) Prev(ctx context.Context, selector string) (AckResult, error) {
	return s.ack(ctx, selector, kb.CmdPrev, nil)
}

// SetVolume sets the volume in percent.
func (s Service) SetVolume(ctx context.Context, selector string, volume int) (AckResult, error) {
	if volume < 0 || volume > 100 {
		return AckResult{}, &CLIError{Code: ExitUsage, Msg: "volume must be between 0 and 100"}
	}
	return s.ack(ctx, selector, kb.CmdSetVolume, kb.SetVolumeBody{Volume: volume})
}

// SetMute mutes or unmutes.
func (s Service) SetMute(ctx context.Context, selector string, mute bool) (AckResult, error) {
	return s.ack(ctx, selector, kb.CmdSetMute, kb.SetMuteBody{Mute: mute})
}

// SetSubtitle turns subtitles on or off.
func (s Service) SetSubtitle(ctx context.Context, selector string, on bool) (AckResult, error) {
	return s.ack(ctx, selector, kb.CmdSetSubtitle, kb.SetSubtitleBody{On: on})
}

// PartyMode starts music party mode.
func (s Service) PartyMode(ctx context.Context, selector string) (AckResult, error) {
	return s.ack(ctx, selector, kb.CmdPartyMode, nil)
}

// Power reboots, hibernates or shuts down Kodi.
func (s Service) Power(ctx context.Context, selector, action string) (AckResult, error) {
	var cmdType string
	switch strings.ToLower(action) {
	case "reboot":
		cmdType = kb.CmdReboot
	case "hibernate":
		cmdType = kb.CmdHibernate
	case "shutdown":
		cmdType = kb.CmdShutdown
	default:
		return AckResult{}, &CLIError{Code: ExitUsage, Msg: fmt.Sprintf("power action must be reboot, hibernate or shutdown, got %q", action)}
	}
	return s.ack(ctx, selector, cmdType, nil)
}

// IsPlaying reports whether the active item matches item (movie, episode,
// song or empty for anything).
func (s Service) IsPlaying(ctx context.Context, selector, item string) (PlayingResult, error) {
	var reply kb.IsPlayingReply
	node, err := s.request(ctx, selector, kb.CmdIsPlaying, kb.IsPlayingBody{Item: item}, &reply)
	if err != nil {
		return PlayingResult{}, err
	}
	if item == "" {
		item = "anything"
	}
	return PlayingResult{Node: node, Item: item, Playing: reply.Playing}, nil
}

func (s Service) ack(ctx context.Context, selector, cmdType string, body any) (AckResult, error) {
	node, err := s.request(ctx, selector, cmdType, body, nil)
	if err != nil {
		return AckResult{}, err
	}
	return AckResult{Node: node, Command: cmdType}, nil
}

// request resolves the node, sends one command and decodes the reply body into out.
func (s Service) request(ctx context.Context, selector, cmdType string, body any, out any) (kb.Presence, error) {
	node, err := s.Resolver.ResolveKodi(ctx, selector)
	if err != nil {
		return kb.Presence{}, err
	}

	cmd, err := kb.NewCommand(cmdType, body)
	if err != nil {
		return kb.Presence{}, WrapError(ExitRuntime, "build command", err)
	}
	cmd = s.decorateCommand(cmd)

	reply, err := s.Broker.PublishCommand(ctx, node.NodeID, cmd)
	if err != nil {
		return kb.Presence{}, WrapError(ExitRuntime, "publish command", err)
	}
	if reply.Err != nil {
		cliErr := ErrorForReplyCode(reply.Err.Code, reply.Err.Message)
		cliErr.Reason = reply.Err.Reason
		return kb.Presence{}, cliErr
	}
	if !reply.OK {
		return kb.Presence{}, &CLIError{Code: ExitRuntime, Msg: cmdType + " failed"}
	}
	if out != nil && len(reply.Body) > 0 {
		if err := json.Unmarshal(reply.Body, out); err != nil {
			return kb.Presence{}, WrapError(ExitRuntime, "decode reply", err)
		}
	}
	return node, nil
}

func (s Service) decorateCommand(cmd kb.CommandEnvelope) kb.CommandEnvelope {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	cmd.ID = s.IDGen.NewID()
	cmd.TS = now().Unix()
	cmd.From = s.Config.Identity
	cmd.ReplyTo = s.Broker.ReplyTopic()
	return cmd
}
