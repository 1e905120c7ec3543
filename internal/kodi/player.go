package kodi

import (
	"context"
	"fmt"
	"math/rand"
	"strings"

	"go.uber.org/zap"
)

// musicPlaylist is Kodi's audio playlist id.
const musicPlaylist = 0

// Direction is a Player.GoTo target.
type Direction string

const (
	Next     Direction = "next"
	Previous Direction = "previous"
)

// ParseDirection accepts next/previous and the short form prev.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "next":
		return Next, nil
	case "previous", "prev":
		return Previous, nil
	default:
		return "", fmt.Errorf("unknown direction %q", s)
	}
}

// PlayingItem is what IsPlaying checks the active item against.
type PlayingItem string

const (
	PlayingAnything PlayingItem = "anything"
	PlayingMovie    PlayingItem = "movie"
	PlayingEpisode  PlayingItem = "episode"
	PlayingSong     PlayingItem = "song"
)

// ParsePlayingItem accepts movie, episode, song or anything (the default).
func ParsePlayingItem(s string) (PlayingItem, error) {
	switch item := PlayingItem(strings.ToLower(strings.TrimSpace(s))); item {
	case "", "any":
		return PlayingAnything, nil
	case PlayingAnything, PlayingMovie, PlayingEpisode, PlayingSong:
		return item, nil
	default:
		return "", fmt.Errorf("unknown playing item %q", s)
	}
}

// Player issues playback commands.
type Player struct {
	log     *zap.Logger
	rpc     Caller
	shuffle func(n int, swap func(i, j int))
}

func NewPlayer(log *zap.Logger, rpc Caller) *Player {
	if log == nil {
		log = zap.NewNop()
	}
	return &Player{log: log, rpc: rpc, shuffle: rand.Shuffle}
}

func (p *Player) PlayMovie(ctx context.Context, movie Movie) error {
	p.log.Debug("play movie", zap.Stringer("movie", movie))
	return call(ctx, p.rpc, "Player.Open", movie.ParamID(), nil)
}

func (p *Player) PlayEpisode(ctx context.Context, episode Episode) error {
	p.log.Debug("play episode", zap.Stringer("episode", episode))
	return call(ctx, p.rpc, "Player.Open", episode.ParamID(), nil)
}

// PlayMusic replaces the music playlist with songs and plays it on repeat.
func (p *Player) PlayMusic(ctx context.Context, songs []Song, shuffle bool) error {
	p.log.Debug("play music", zap.Int("songs", len(songs)), zap.Bool("shuffle", shuffle))
	if err := call(ctx, p.rpc, "Playlist.Clear", map[string]any{"playlistid": musicPlaylist}, nil); err != nil {
		return err
	}

	items := make([]map[string]any, 0, len(songs))
	for _, s := range songs {
		items = append(items, s.ParamID())
	}
	if shuffle {
		p.shuffle(len(items), func(i, j int) { items[i], items[j] = items[j], items[i] })
	}
	if err := call(ctx, p.rpc, "Playlist.Add", map[string]any{"playlistid": musicPlaylist, "item": items}, nil); err != nil {
		return err
	}

	params := map[string]any{
		"item":    map[string]any{"playlistid": musicPlaylist},
		"options": map[string]any{"repeat": "all"},
	}
	return call(ctx, p.rpc, "Player.Open", params, nil)
}

func (p *Player) StartAddon(ctx context.Context, addon Addon) error {
	p.log.Debug("start addon", zap.String("addon", addon.ID))
	return call(ctx, p.rpc, "Addons.ExecuteAddon", addon.ParamID(), nil)
}

// SetPartyMode starts music party mode.
func (p *Player) SetPartyMode(ctx context.Context) error {
	return call(ctx, p.rpc, "Player.Open", map[string]any{"item": map[string]any{"partymode": "music"}}, nil)
}

func (p *Player) SetMute(ctx context.Context, mute bool) error {
	return call(ctx, p.rpc, "Application.SetMute", map[string]any{"mute": mute}, nil)
}

// SetVolume sets the application volume, clamped to 0-100.
func (p *Player) SetVolume(ctx context.Context, volume int) error {
	volume = max(0, min(100, volume))
	return call(ctx, p.rpc, "Application.SetVolume", map[string]any{"volume": volume}, nil)
}

// The commands below act on the active player and do nothing without one.

func (p *Player) NextOrPrevious(ctx context.Context, dir Direction) error {
	return p.withActivePlayer(ctx, func(id int) error {
		return call(ctx, p.rpc, "Player.GoTo", map[string]any{"playerid": id, "to": string(dir)}, nil)
	})
}

func (p *Player) PauseResume(ctx context.Context) error {
	return p.withActivePlayer(ctx, func(id int) error {
		return call(ctx, p.rpc, "Player.PlayPause", map[string]any{"playerid": id}, nil)
	})
}

func (p *Player) Stop(ctx context.Context) error {
	return p.withActivePlayer(ctx, func(id int) error {
		return call(ctx, p.rpc, "Player.Stop", map[string]any{"playerid": id}, nil)
	})
}

func (p *Player) SetSubtitle(ctx context.Context, on bool) error {
	value := "off"
	if on {
		value = "on"
	}
	return p.withActivePlayer(ctx, func(id int) error {
		return call(ctx, p.rpc, "Player.SetSubtitle", map[string]any{"playerid": id, "subtitle": value}, nil)
	})
}

// IsPlaying reports whether the active player is playing an item of the given kind.
func (p *Player) IsPlaying(ctx context.Context, item PlayingItem) (bool, error) {
	id, ok, err := p.activePlayer(ctx)
	if err != nil || !ok {
		return false, err
	}
	if item == PlayingAnything || item == "" {
		return true, nil
	}
	var res activeItem
	if err := call(ctx, p.rpc, "Player.GetItem", map[string]any{"playerid": id}, &res); err != nil {
		return false, err
	}
	return normalizeType(res.Item.Type) == string(item), nil
}

type activePlayer struct {
	PlayerID int    `json:"playerid"`
	Type     string `json:"type"`
}

type activeItem struct {
	Item struct {
		ID    int    `json:"id"`
		Type  string `json:"type"`
		Label string `json:"label"`
	} `json:"item"`
}

func (p *Player) activePlayer(ctx context.Context) (int, bool, error) {
	var players []activePlayer
	if err := call(ctx, p.rpc, "Player.GetActivePlayers", nil, &players); err != nil {
		return 0, false, err
	}
	if len(players) == 0 {
		return 0, false, nil
	}
	return players[0].PlayerID, true, nil
}

func (p *Player) withActivePlayer(ctx context.Context, fn func(id int) error) error {
	id, ok, err := p.activePlayer(ctx)
	if err != nil {
		return err
	}
	if !ok {
		p.log.Debug("no active player")
		return nil
	}
	return fn(id)
}

// System issues power commands.
type System struct {
	log *zap.Logger
	rpc Caller
}

func NewSystem(log *zap.Logger, rpc Caller) *System {
	if log == nil {
		log = zap.NewNop()
	}
	return &System{log: log, rpc: rpc}
}

func (s *System) Reboot(ctx context.Context) error {
	s.log.Info("rebooting kodi host")
	return call(ctx, s.rpc, "System.Reboot", nil, nil)
}

func (s *System) Hibernate(ctx context.Context) error {
	s.log.Info("hibernating kodi host")
	return call(ctx, s.rpc, "System.Hibernate", nil, nil)
}

func (s *System) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down kodi host")
	return call(ctx, s.rpc, "System.Shutdown", nil, nil)
}
