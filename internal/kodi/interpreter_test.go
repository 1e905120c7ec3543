package kodi

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) record(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *eventRecorder) kinds() []EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventKind, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Kind)
	}
	return out
}

func (r *eventRecorder) last() Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}

func newTestInterpreter(rpc *fakeTransport) *eventRecorder {
	rec := &eventRecorder{}
	NewInterpreter(context.Background(), zap.NewNop(), rpc, rpc, rec.record, time.Second)
	return rec
}

func playPayload(playerID int, itemType string, id int) map[string]any {
	return map[string]any{
		"item":   map[string]any{"id": id, "type": itemType},
		"player": map[string]any{"playerid": playerID, "speed": 1},
	}
}

func TestOnPlayAddonPlayerSongStartsNew(t *testing.T) {
	rpc := newFakeTransport().
		reply("Player.GetProperties", map[string]any{"percentage": 0.05}).
		reply("Player.GetItem", map[string]any{"item": map[string]any{"id": 77, "type": "song", "label": "Halo"}}).
		reply("AudioLibrary.GetSongDetails", map[string]any{
			"songdetails": map[string]any{"songid": 77, "label": "Halo", "title": "Halo", "artist": []string{"Beyoncé", "Someone Else"}},
		})
	rec := newTestInterpreter(rpc)

	rpc.notify("Player.OnPlay", playPayload(-1, "song", 77))

	if got, want := rec.kinds(), []EventKind{EventPlay, EventSongStart}; !reflect.DeepEqual(got, want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	song := rec.last().Song
	if song == nil || *song != (Song{ID: 77, Title: "Halo", Artist: "Beyoncé"}) {
		t.Fatalf("unexpected song %+v", song)
	}
	props, _ := rpc.lastCall("Player.GetProperties")
	if props.Params["playerid"] != float64(1) {
		t.Fatalf("addon player id not normalised: %v", props.Params)
	}
}

func TestOnPlayResume(t *testing.T) {
	rpc := newFakeTransport().reply("Player.GetProperties", map[string]any{"percentage": 12.5})
	rec := newTestInterpreter(rpc)

	rpc.notify("Player.OnPlay", playPayload(1, "movie", 12))

	if got, want := rec.kinds(), []EventKind{EventPlay, EventResume}; !reflect.DeepEqual(got, want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for _, m := range rpc.methods() {
		if m == "Player.GetItem" {
			t.Fatalf("resume should not look up the item")
		}
	}
}

func TestOnPlaySongBelowResumeThresholdButAboveVideo(t *testing.T) {
	rpc := newFakeTransport().
		reply("Player.GetProperties", map[string]any{"percentage": 0.5}).
		reply("Player.GetItem", map[string]any{"item": map[string]any{"id": 5, "type": "song"}}).
		reply("AudioLibrary.GetSongDetails", map[string]any{
			"songdetails": map[string]any{"title": "Yesterday", "artist": []string{"The Beatles"}},
		})
	rec := newTestInterpreter(rpc)

	rpc.notify("Player.OnPlay", playPayload(0, "song", 5))

	if got, want := rec.kinds(), []EventKind{EventPlay, EventSongStart}; !reflect.DeepEqual(got, want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
}

func TestOnPlayMovieStart(t *testing.T) {
	rpc := newFakeTransport().
		reply("Player.GetProperties", map[string]any{"percentage": 0}).
		reply("Player.GetItem", map[string]any{"item": map[string]any{"id": 12, "type": "movie", "label": "interstellar.mkv"}}).
		reply("VideoLibrary.GetMovieDetails", map[string]any{
			"moviedetails": map[string]any{"movieid": 12, "label": "Interstellar", "title": "Interstellar"},
		})
	rec := newTestInterpreter(rpc)

	rpc.notify("Player.OnPlay", playPayload(1, "movie", 12))

	if got, want := rec.kinds(), []EventKind{EventPlay, EventMovieStart}; !reflect.DeepEqual(got, want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	movie := rec.last().Movie
	if movie == nil || *movie != (Movie{ID: 12, Title: "Interstellar"}) {
		t.Fatalf("unexpected movie %+v", movie)
	}
	if args := rec.last().FlowArgs(); args["movie_title"] != "Interstellar" {
		t.Fatalf("unexpected flow args %v", args)
	}
}

func TestOnPlayMovieFallsBackToItemLabel(t *testing.T) {
	rpc := newFakeTransport().
		reply("Player.GetProperties", map[string]any{"percentage": 0}).
		reply("Player.GetItem", map[string]any{"item": map[string]any{"id": 12, "type": "movies", "label": "Interstellar"}}).
		reply("VideoLibrary.GetMovieDetails", map[string]any{"moviedetails": map[string]any{}})
	rec := newTestInterpreter(rpc)

	rpc.notify("Player.OnPlay", playPayload(1, "movie", 12))

	movie := rec.last().Movie
	if movie == nil || movie.Title != "Interstellar" {
		t.Fatalf("expected payload label fallback, got %+v", rec.last())
	}
}

func TestOnPlayEpisodeMergesPayload(t *testing.T) {
	rpc := newFakeTransport().
		reply("Player.GetProperties", map[string]any{"percentage": 0}).
		reply("Player.GetItem", map[string]any{"item": map[string]any{"id": 8, "type": "episode"}}).
		reply("VideoLibrary.GetEpisodeDetails", map[string]any{
			"episodedetails": map[string]any{"episodeid": 8, "label": "Pilot", "showtitle": "Breaking Bad"},
		})
	rec := newTestInterpreter(rpc)

	rpc.notify("Player.OnPlay", map[string]any{
		"item":   map[string]any{"id": 8, "type": "episode", "title": "Pilot (payload)", "season": 1, "episode": 1},
		"player": map[string]any{"playerid": 1},
	})

	if got, want := rec.kinds(), []EventKind{EventPlay, EventEpisodeStart}; !reflect.DeepEqual(got, want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	want := Episode{ID: 8, Title: "Pilot", ShowTitle: "Breaking Bad", Season: 1, Episode: 1}
	if ep := rec.last().Episode; ep == nil || *ep != want {
		t.Fatalf("episode = %+v, want %+v", ep, want)
	}
}

func TestOnPlayEpisodeWithoutShowTitleIsSuppressed(t *testing.T) {
	rpc := newFakeTransport().
		reply("Player.GetProperties", map[string]any{"percentage": 0}).
		reply("Player.GetItem", map[string]any{"item": map[string]any{"id": 8, "type": "episode"}}).
		reply("VideoLibrary.GetEpisodeDetails", map[string]any{
			"episodedetails": map[string]any{"episodeid": 8, "label": "Pilot"},
		})
	rec := newTestInterpreter(rpc)

	rpc.notify("Player.OnPlay", playPayload(1, "episode", 8))

	if got, want := rec.kinds(), []EventKind{EventPlay}; !reflect.DeepEqual(got, want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
}

func TestOnPlayLookupFailureSuppressesFineEvent(t *testing.T) {
	rpc := newFakeTransport().fail("Player.GetProperties", errors.New("timeout"))
	rec := newTestInterpreter(rpc)

	rpc.notify("Player.OnPlay", playPayload(1, "movie", 12))

	if got, want := rec.kinds(), []EventKind{EventPlay}; !reflect.DeepEqual(got, want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
}

func TestOnPlayUnknownTypeEmitsOnlyPlay(t *testing.T) {
	rpc := newFakeTransport().
		reply("Player.GetProperties", map[string]any{"percentage": 0}).
		reply("Player.GetItem", map[string]any{"item": map[string]any{"type": "unknown", "label": "stream"}})
	rec := newTestInterpreter(rpc)

	rpc.notify("Player.OnPlay", playPayload(1, "unknown", 0))

	if got, want := rec.kinds(), []EventKind{EventPlay}; !reflect.DeepEqual(got, want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
}

func TestOnPlayMalformedPayload(t *testing.T) {
	rpc := newFakeTransport()
	rec := newTestInterpreter(rpc)

	rpc.mu.Lock()
	handlers := rpc.handlers["Player.OnPlay"]
	rpc.mu.Unlock()
	for _, h := range handlers {
		h(json.RawMessage(`{"data": "not an object"}`))
	}

	if got, want := rec.kinds(), []EventKind{EventPlay}; !reflect.DeepEqual(got, want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	if len(rpc.methods()) != 0 {
		t.Fatalf("no lookups expected, got %v", rpc.methods())
	}
}

func TestOnStopInterrupted(t *testing.T) {
	rpc := newFakeTransport()
	rec := newTestInterpreter(rpc)

	rpc.notify("Player.OnStop", map[string]any{"item": map[string]any{"id": 12, "type": "movie"}, "end": false})

	if got, want := rec.kinds(), []EventKind{EventStop}; !reflect.DeepEqual(got, want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	if len(rpc.methods()) != 0 {
		t.Fatalf("no lookups expected, got %v", rpc.methods())
	}
}

func TestOnStopEndedEpisode(t *testing.T) {
	rpc := newFakeTransport().reply("VideoLibrary.GetEpisodeDetails", map[string]any{
		"episodedetails": map[string]any{"label": "Ozymandias", "showtitle": "Breaking Bad", "season": 5, "episode": 14},
	})
	rec := newTestInterpreter(rpc)

	rpc.notify("Player.OnStop", map[string]any{"item": map[string]any{"id": 60, "type": "episode"}, "end": true})

	if got, want := rec.kinds(), []EventKind{EventStop, EventEpisodeStop}; !reflect.DeepEqual(got, want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	want := Episode{ID: 60, Title: "Ozymandias", ShowTitle: "Breaking Bad", Season: 5, Episode: 14}
	if ep := rec.last().Episode; ep == nil || *ep != want {
		t.Fatalf("episode = %+v", ep)
	}
	if args := rec.last().FlowArgs(); args["season"] != "5" || args["episode"] != "14" {
		t.Fatalf("unexpected flow args %v", args)
	}
}

func TestOnStopEndedMovie(t *testing.T) {
	rpc := newFakeTransport().reply("VideoLibrary.GetMovieDetails", map[string]any{
		"moviedetails": map[string]any{"label": "Heat"},
	})
	rec := newTestInterpreter(rpc)

	rpc.notify("Player.OnStop", map[string]any{"item": map[string]any{"id": 4, "type": "movie"}, "end": true})

	if got, want := rec.kinds(), []EventKind{EventStop, EventMovieStop}; !reflect.DeepEqual(got, want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
}

func TestOnStopEndedSongHasNoFineEvent(t *testing.T) {
	rpc := newFakeTransport()
	rec := newTestInterpreter(rpc)

	rpc.notify("Player.OnStop", map[string]any{"item": map[string]any{"id": 4, "type": "song"}, "end": true})

	if got, want := rec.kinds(), []EventKind{EventStop}; !reflect.DeepEqual(got, want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
}

func TestSimpleNotifications(t *testing.T) {
	rpc := newFakeTransport()
	rec := newTestInterpreter(rpc)

	for _, method := range []string{
		"Player.OnPause",
		"System.OnQuit",
		"System.OnSleep",
		"System.OnRestart",
		"System.OnWake",
		"GUI.OnScreensaverActivated",
		"GUI.OnScreensaverDeactivated",
	} {
		rpc.notify(method, nil)
	}

	want := []EventKind{
		EventPause,
		EventShutdown,
		EventHibernate,
		EventReboot,
		EventWake,
		EventScreensaverOn,
		EventScreensaverOff,
	}
	if got := rec.kinds(); !reflect.DeepEqual(got, want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	if rec.last().At.IsZero() {
		t.Fatalf("events should be timestamped")
	}
}
