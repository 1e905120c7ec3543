package kodi

import (
	"context"
	"reflect"
	"testing"

	"go.uber.org/zap"
)

func TestPlayMusicQueuesAndStartsPlaylist(t *testing.T) {
	rpc := newFakeTransport().
		reply("Playlist.Clear", "OK").
		reply("Playlist.Add", "OK").
		reply("Player.Open", "OK")
	player := NewPlayer(zap.NewNop(), rpc)

	songs := []Song{{ID: 1, Title: "a"}, {ID: 2, Title: "b"}, {ID: 3, Title: "c"}}
	if err := player.PlayMusic(context.Background(), songs, false); err != nil {
		t.Fatalf("play music: %v", err)
	}

	want := []string{"Playlist.Clear", "Playlist.Add", "Player.Open"}
	if got := rpc.methods(); !reflect.DeepEqual(got, want) {
		t.Fatalf("calls = %v, want %v", got, want)
	}

	add, _ := rpc.lastCall("Playlist.Add")
	items, _ := add.Params["item"].([]any)
	if len(items) != 3 {
		t.Fatalf("expected 3 items, got %v", add.Params["item"])
	}
	for i, item := range items {
		m, _ := item.(map[string]any)
		if m["songid"] != float64(i+1) {
			t.Fatalf("item %d = %v", i, item)
		}
	}

	open, _ := rpc.lastCall("Player.Open")
	options, _ := open.Params["options"].(map[string]any)
	if options["repeat"] != "all" {
		t.Fatalf("expected repeat all, got %v", open.Params)
	}
}

func TestPlayMusicShuffles(t *testing.T) {
	rpc := newFakeTransport().
		reply("Playlist.Clear", "OK").
		reply("Playlist.Add", "OK").
		reply("Player.Open", "OK")
	player := NewPlayer(zap.NewNop(), rpc)
	player.shuffle = func(n int, swap func(i, j int)) {
		// reverse
		for i := 0; i < n/2; i++ {
			swap(i, n-1-i)
		}
	}

	songs := []Song{{ID: 1}, {ID: 2}, {ID: 3}}
	if err := player.PlayMusic(context.Background(), songs, true); err != nil {
		t.Fatalf("play music: %v", err)
	}
	add, _ := rpc.lastCall("Playlist.Add")
	items, _ := add.Params["item"].([]any)
	first, _ := items[0].(map[string]any)
	if first["songid"] != float64(3) {
		t.Fatalf("expected shuffled order, got %v", items)
	}
	if songs[0].ID != 1 {
		t.Fatalf("caller's slice was reordered")
	}
}

func TestActivePlayerCommandsNoopWithoutPlayer(t *testing.T) {
	rpc := newFakeTransport().reply("Player.GetActivePlayers", []any{})
	player := NewPlayer(zap.NewNop(), rpc)
	ctx := context.Background()

	if err := player.PauseResume(ctx); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if err := player.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := player.NextOrPrevious(ctx, Next); err != nil {
		t.Fatalf("next: %v", err)
	}
	if err := player.SetSubtitle(ctx, true); err != nil {
		t.Fatalf("subtitle: %v", err)
	}
	for _, m := range rpc.methods() {
		if m != "Player.GetActivePlayers" {
			t.Fatalf("unexpected call %s", m)
		}
	}
}

func TestActivePlayerCommandsTargetPlayer(t *testing.T) {
	rpc := newFakeTransport().
		reply("Player.GetActivePlayers", []map[string]any{{"playerid": 1, "type": "video"}}).
		reply("Player.GoTo", "OK").
		reply("Player.SetSubtitle", "OK")
	player := NewPlayer(zap.NewNop(), rpc)
	ctx := context.Background()

	if err := player.NextOrPrevious(ctx, Previous); err != nil {
		t.Fatalf("previous: %v", err)
	}
	goTo, _ := rpc.lastCall("Player.GoTo")
	if goTo.Params["playerid"] != float64(1) || goTo.Params["to"] != "previous" {
		t.Fatalf("unexpected GoTo params %v", goTo.Params)
	}

	if err := player.SetSubtitle(ctx, false); err != nil {
		t.Fatalf("subtitle: %v", err)
	}
	sub, _ := rpc.lastCall("Player.SetSubtitle")
	if sub.Params["subtitle"] != "off" {
		t.Fatalf("unexpected subtitle params %v", sub.Params)
	}
}

func TestSetVolumeClamps(t *testing.T) {
	rpc := newFakeTransport().reply("Application.SetVolume", 100)
	player := NewPlayer(zap.NewNop(), rpc)

	cases := map[int]float64{150: 100, -5: 0, 42: 42}
	for in, want := range cases {
		if err := player.SetVolume(context.Background(), in); err != nil {
			t.Fatalf("volume %d: %v", in, err)
		}
		call, _ := rpc.lastCall("Application.SetVolume")
		if call.Params["volume"] != want {
			t.Fatalf("volume %d sent as %v", in, call.Params["volume"])
		}
	}
}

func TestSetMuteSendsBool(t *testing.T) {
	rpc := newFakeTransport().reply("Application.SetMute", true)
	player := NewPlayer(zap.NewNop(), rpc)
	if err := player.SetMute(context.Background(), true); err != nil {
		t.Fatalf("mute: %v", err)
	}
	call, _ := rpc.lastCall("Application.SetMute")
	if call.Params["mute"] != true {
		t.Fatalf("unexpected params %v", call.Params)
	}
}

func TestIsPlaying(t *testing.T) {
	rpc := newFakeTransport().
		reply("Player.GetActivePlayers", []map[string]any{{"playerid": 1, "type": "video"}}).
		reply("Player.GetItem", map[string]any{"item": map[string]any{"id": 4, "type": "episode", "label": "Pilot"}})
	player := NewPlayer(zap.NewNop(), rpc)
	ctx := context.Background()

	for item, want := range map[PlayingItem]bool{
		PlayingAnything: true,
		PlayingEpisode:  true,
		PlayingMovie:    false,
		PlayingSong:     false,
	} {
		got, err := player.IsPlaying(ctx, item)
		if err != nil {
			t.Fatalf("%s: %v", item, err)
		}
		if got != want {
			t.Fatalf("IsPlaying(%s) = %v", item, got)
		}
	}

	idle := NewPlayer(zap.NewNop(), newFakeTransport().reply("Player.GetActivePlayers", []any{}))
	if playing, err := idle.IsPlaying(ctx, PlayingAnything); err != nil || playing {
		t.Fatalf("idle player reported playing=%v err=%v", playing, err)
	}
}

func TestSystemCommands(t *testing.T) {
	rpc := newFakeTransport().
		reply("System.Reboot", "OK").
		reply("System.Hibernate", "OK").
		reply("System.Shutdown", "OK")
	system := NewSystem(zap.NewNop(), rpc)
	ctx := context.Background()
	for _, fn := range []func(context.Context) error{system.Reboot, system.Hibernate, system.Shutdown} {
		if err := fn(ctx); err != nil {
			t.Fatalf("system command: %v", err)
		}
	}
	want := []string{"System.Reboot", "System.Hibernate", "System.Shutdown"}
	if got := rpc.methods(); !reflect.DeepEqual(got, want) {
		t.Fatalf("calls = %v", got)
	}
}

func TestParseDirectionAndPlayingItem(t *testing.T) {
	if d, err := ParseDirection("prev"); err != nil || d != Previous {
		t.Fatalf("prev: %v %v", d, err)
	}
	if _, err := ParseDirection("sideways"); err == nil {
		t.Fatalf("expected error")
	}
	if item, err := ParsePlayingItem(""); err != nil || item != PlayingAnything {
		t.Fatalf("empty item: %v %v", item, err)
	}
	if _, err := ParsePlayingItem("podcast"); err == nil {
		t.Fatalf("expected error")
	}
}
