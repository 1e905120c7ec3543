package kodisession

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/mikey-austin/kodibridge/internal/kodi"
	"github.com/mikey-austin/kodibridge/pkg/kb"
)

const testNode = "kb:kodi:living-room"

// fakeMQTTClient implements mqttClient for testing.
type fakeMQTTClient struct {
	mu        sync.Mutex
	subs      map[string]paho.MessageHandler
	published []publishedMessage
}

type publishedMessage struct {
	Topic    string
	Payload  []byte
	Retained bool
}

func (f *fakeMQTTClient) Publish(topic string, qos byte, retained bool, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, publishedMessage{Topic: topic, Payload: payload, Retained: retained})
	return nil
}

func (f *fakeMQTTClient) Subscribe(topic string, qos byte, handler paho.MessageHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subs == nil {
		f.subs = make(map[string]paho.MessageHandler)
	}
	f.subs[topic] = handler
	return nil
}

func (f *fakeMQTTClient) Unsubscribe(topic string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.subs, topic)
	return nil
}

func (f *fakeMQTTClient) subscribed(topic string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subs[topic] != nil
}

func (f *fakeMQTTClient) emit(topic string, payload []byte) {
	f.mu.Lock()
	handler := f.subs[topic]
	f.mu.Unlock()
	if handler != nil {
		handler(nil, fakeMessage{topic: topic, payload: payload})
	}
}

func (f *fakeMQTTClient) on(topic string) []publishedMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []publishedMessage
	for _, p := range f.published {
		if p.Topic == topic {
			out = append(out, p)
		}
	}
	return out
}

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 0 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 0 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

// fakeSession records commands and returns scripted results.
type fakeSession struct {
	mu      sync.Mutex
	calls   []string
	err     error
	movie   kodi.Movie
	songs   []kodi.Song
	playing bool
	shuffle *bool
	volume  int
	status  kodi.Status
	events  kodi.Hub[kodi.Event]
	avail   kodi.Hub[kodi.AvailabilityChange]
	started chan struct{}
	closed  bool
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		started: make(chan struct{}),
		status:  kodi.Status{Endpoint: kodi.Endpoint{Host: "10.0.0.5", Port: 9090, Transport: "ws"}},
	}
}

func (f *fakeSession) record(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
	return f.err
}

func (f *fakeSession) lastCall() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		return ""
	}
	return f.calls[len(f.calls)-1]
}

func (f *fakeSession) Start(context.Context) { close(f.started) }
func (f *fakeSession) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}
func (f *fakeSession) Endpoint() kodi.Endpoint { return f.status.Endpoint }
func (f *fakeSession) Subscribe(fn func(kodi.Event)) func() {
	return f.events.Subscribe(fn)
}
func (f *fakeSession) SubscribeAvailability(fn func(kodi.AvailabilityChange)) func() {
	return f.avail.Subscribe(fn)
}
func (f *fakeSession) Status() kodi.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakeSession) PlayMovie(_ context.Context, title string) (kodi.Movie, error) {
	return f.movie, f.record("PlayMovie:" + title)
}
func (f *fakeSession) PlayLatestUnwatchedEpisode(_ context.Context, show string) (kodi.Episode, error) {
	return kodi.Episode{ID: 9, ShowTitle: show, Title: "Pilot", Season: 1, Episode: 1}, f.record("PlayEpisode:" + show)
}
func (f *fakeSession) PlayMusic(_ context.Context, kind kodi.MusicKind, query string, shuffle bool) ([]kodi.Song, error) {
	f.mu.Lock()
	f.shuffle = &shuffle
	f.mu.Unlock()
	return f.songs, f.record("PlayMusic:" + string(kind) + ":" + query)
}
func (f *fakeSession) StartAddon(_ context.Context, name string) (kodi.Addon, error) {
	return kodi.Addon{ID: "plugin.video.youtube", Name: "YouTube"}, f.record("StartAddon:" + name)
}
func (f *fakeSession) NextOrPrevious(_ context.Context, dir kodi.Direction) error {
	return f.record("NextOrPrevious:" + string(dir))
}
func (f *fakeSession) PauseResume(context.Context) error  { return f.record("PauseResume") }
func (f *fakeSession) Stop(context.Context) error         { return f.record("Stop") }
func (f *fakeSession) SetPartyMode(context.Context) error { return f.record("SetPartyMode") }
func (f *fakeSession) SetMute(_ context.Context, mute bool) error {
	if mute {
		return f.record("SetMute:true")
	}
	return f.record("SetMute:false")
}
func (f *fakeSession) SetSubtitle(_ context.Context, on bool) error {
	if on {
		return f.record("SetSubtitle:on")
	}
	return f.record("SetSubtitle:off")
}
func (f *fakeSession) SetVolume(_ context.Context, volume int) error {
	f.mu.Lock()
	f.volume = volume
	f.mu.Unlock()
	return f.record("SetVolume")
}
func (f *fakeSession) IsPlaying(_ context.Context, item kodi.PlayingItem) (bool, error) {
	return f.playing, f.record("IsPlaying:" + string(item))
}
func (f *fakeSession) Reboot(context.Context) error    { return f.record("Reboot") }
func (f *fakeSession) Hibernate(context.Context) error { return f.record("Hibernate") }
func (f *fakeSession) Shutdown(context.Context) error  { return f.record("Shutdown") }

func newTestModule(s *fakeSession) (*Module, *fakeMQTTClient) {
	client := &fakeMQTTClient{}
	m := newModule(zap.NewNop(), client, s, Config{NodeID: testNode, Name: "Living Room"})
	m.now = func() time.Time { return time.Unix(1700000000, 0) }
	return m, client
}

func command(t *testing.T, cmdType string, body any) kb.CommandEnvelope {
	t.Helper()
	cmd, err := kb.NewCommand(cmdType, body)
	if err != nil {
		t.Fatalf("new command: %v", err)
	}
	cmd.ID = "cmd-1"
	cmd.TS = 1
	cmd.From = "tester"
	cmd.ReplyTo = kb.TopicReply(kb.BaseTopic, "tester")
	return cmd
}

func TestDispatchPlayMovie(t *testing.T) {
	s := newFakeSession()
	s.movie = kodi.Movie{ID: 12, Title: "Interstellar"}
	m, _ := newTestModule(s)

	reply := m.dispatch(context.Background(), command(t, kb.CmdPlayMovie, kb.PlayMovieBody{Title: "interstelar"}))
	if !reply.OK || reply.ID != "cmd-1" {
		t.Fatalf("unexpected reply %+v", reply)
	}
	var body kb.PlayMovieReply
	if err := json.Unmarshal(reply.Body, &body); err != nil {
		t.Fatalf("decode reply: %v", err)
	}
	if body.Movie.ID != 12 || body.Movie.Title != "Interstellar" {
		t.Fatalf("unexpected body %+v", body)
	}
	if s.lastCall() != "PlayMovie:interstelar" {
		t.Fatalf("unexpected call %s", s.lastCall())
	}
}

func TestDispatchErrorCodes(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		code   string
		reason string
	}{
		{"not found", &kodi.ResolveError{Reason: kodi.ReasonSeriesNotFound, Query: "lost"}, kb.CodeNotFound, "series_not_found"},
		{"unavailable", kodi.ErrUnavailable, kb.CodeUnavailable, ""},
		{"runtime", errors.New("Player.Open: boom"), kb.CodeRuntime, ""},
	}
	for _, tc := range cases {
		s := newFakeSession()
		s.err = tc.err
		m, _ := newTestModule(s)

		reply := m.dispatch(context.Background(), command(t, kb.CmdPlayEpisode, kb.PlayEpisodeBody{Show: "lost"}))
		if reply.OK || reply.Err == nil {
			t.Fatalf("%s: expected error reply, got %+v", tc.name, reply)
		}
		if reply.Err.Code != tc.code || reply.Err.Reason != tc.reason {
			t.Fatalf("%s: got code=%s reason=%s", tc.name, reply.Err.Code, reply.Err.Reason)
		}
	}
}

func TestDispatchRejectsInvalidCommands(t *testing.T) {
	m, _ := newTestModule(newFakeSession())
	ctx := context.Background()

	bad := command(t, kb.CmdSetVolume, nil)
	bad.Body = json.RawMessage(`{"volume":"loud"}`)
	unknown := command(t, "playback.play", nil)
	kind := command(t, kb.CmdPlayMusic, kb.PlayMusicBody{Kind: "GENRE", Query: "jazz"})
	missingID := command(t, kb.CmdStop, nil)
	missingID.ID = ""

	for _, cmd := range []kb.CommandEnvelope{bad, unknown, kind, missingID} {
		reply := m.dispatch(ctx, cmd)
		if reply.OK || reply.Err == nil || reply.Err.Code != kb.CodeInvalid {
			t.Fatalf("%s: expected INVALID, got %+v", cmd.Type, reply)
		}
	}
}

func TestDispatchPlayMusicShufflesByDefault(t *testing.T) {
	s := newFakeSession()
	s.songs = []kodi.Song{{ID: 1, Title: "Taxman", Artist: "The Beatles"}}
	m, _ := newTestModule(s)

	reply := m.dispatch(context.Background(), command(t, kb.CmdPlayMusic, kb.PlayMusicBody{Kind: "album", Query: "revolver"}))
	if !reply.OK {
		t.Fatalf("unexpected reply %+v", reply)
	}
	if s.shuffle == nil || !*s.shuffle {
		t.Fatalf("expected shuffle by default")
	}
	if s.lastCall() != "PlayMusic:ALBUM:revolver" {
		t.Fatalf("unexpected call %s", s.lastCall())
	}

	off := false
	m.dispatch(context.Background(), command(t, kb.CmdPlayMusic, kb.PlayMusicBody{Kind: "ARTIST", Query: "beatles", Shuffle: &off}))
	if *s.shuffle {
		t.Fatalf("explicit shuffle=false ignored")
	}
}

func TestDispatchSimpleCommands(t *testing.T) {
	s := newFakeSession()
	s.playing = true
	m, _ := newTestModule(s)
	ctx := context.Background()

	cases := []struct {
		cmd  kb.CommandEnvelope
		call string
	}{
		{command(t, kb.CmdNext, nil), "NextOrPrevious:next"},
		{command(t, kb.CmdPrev, nil), "NextOrPrevious:previous"},
		{command(t, kb.CmdPauseResume, nil), "PauseResume"},
		{command(t, kb.CmdStop, nil), "Stop"},
		{command(t, kb.CmdPartyMode, nil), "SetPartyMode"},
		{command(t, kb.CmdSetMute, kb.SetMuteBody{Mute: true}), "SetMute:true"},
		{command(t, kb.CmdSetSubtitle, kb.SetSubtitleBody{On: false}), "SetSubtitle:off"},
		{command(t, kb.CmdSetVolume, kb.SetVolumeBody{Volume: 30}), "SetVolume"},
		{command(t, kb.CmdStartAddon, kb.StartAddonBody{Name: "youtube"}), "StartAddon:youtube"},
		{command(t, kb.CmdReboot, nil), "Reboot"},
		{command(t, kb.CmdHibernate, nil), "Hibernate"},
		{command(t, kb.CmdShutdown, nil), "Shutdown"},
	}
	for _, tc := range cases {
		reply := m.dispatch(ctx, tc.cmd)
		if !reply.OK {
			t.Fatalf("%s: unexpected reply %+v", tc.cmd.Type, reply)
		}
		if got := s.lastCall(); got != tc.call {
			t.Fatalf("%s: call = %s, want %s", tc.cmd.Type, got, tc.call)
		}
	}
	if s.volume != 30 {
		t.Fatalf("volume = %d", s.volume)
	}

	reply := m.dispatch(ctx, command(t, kb.CmdIsPlaying, kb.IsPlayingBody{Item: "movie"}))
	var playing kb.IsPlayingReply
	if err := json.Unmarshal(reply.Body, &playing); err != nil || !playing.Playing {
		t.Fatalf("unexpected isPlaying reply %s (%v)", reply.Body, err)
	}
}

func TestPublishEvent(t *testing.T) {
	m, client := newTestModule(newFakeSession())

	m.publishEvent(kodi.Event{
		Kind:    kodi.EventEpisodeStart,
		Episode: &kodi.Episode{ID: 3, ShowTitle: "Lost", Title: "Pilot", Season: 1, Episode: 2},
		At:      time.Unix(1700000001, 0),
	})

	msgs := client.on(kb.TopicEvents(kb.BaseTopic, testNode))
	if len(msgs) != 1 || msgs[0].Retained {
		t.Fatalf("unexpected messages %+v", msgs)
	}
	var evt kb.Event
	if err := json.Unmarshal(msgs[0].Payload, &evt); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if evt.Type != "episode_start" || evt.TS != 1700000001 {
		t.Fatalf("unexpected event %+v", evt)
	}
	if evt.Args["tvshow_title"] != "Lost" || evt.Args["season"] != "1" || evt.Args["episode"] != "2" {
		t.Fatalf("unexpected args %v", evt.Args)
	}
	if evt.Episode == nil || evt.Episode.Title != "Pilot" {
		t.Fatalf("episode payload missing: %+v", evt)
	}
}

func TestPublishAvailability(t *testing.T) {
	s := newFakeSession()
	m, client := newTestModule(s)

	s.status.Available = true
	s.status.Since = time.Unix(1699999999, 0)
	m.publishAvailability(kodi.AvailabilityChange{Available: true, Reconnected: true, At: time.Unix(1700000000, 0)})

	states := client.on(kb.TopicState(kb.BaseTopic, testNode))
	if len(states) != 1 || !states[0].Retained {
		t.Fatalf("expected one retained state, got %+v", states)
	}
	var st kb.NodeState
	if err := json.Unmarshal(states[0].Payload, &st); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	if !st.Available || !st.Reconnected || st.Endpoint != "10.0.0.5:9090" || st.Since != 1699999999 {
		t.Fatalf("unexpected state %+v", st)
	}

	events := client.on(kb.TopicEvents(kb.BaseTopic, testNode))
	var evt kb.Event
	if err := json.Unmarshal(events[0].Payload, &evt); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if evt.Type != kb.EventReconnected {
		t.Fatalf("event type = %s", evt.Type)
	}

	s.status.Available = false
	s.status.LastError = errors.New("connection refused")
	m.publishAvailability(kodi.AvailabilityChange{Err: s.status.LastError, At: time.Unix(1700000002, 0)})
	events = client.on(kb.TopicEvents(kb.BaseTopic, testNode))
	if err := json.Unmarshal(events[1].Payload, &evt); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if evt.Type != kb.EventUnavailable || evt.Error != "connection refused" {
		t.Fatalf("unexpected event %+v", evt)
	}
}

func TestRunServesCommandsAndClearsPresence(t *testing.T) {
	s := newFakeSession()
	m, client := newTestModule(s)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	select {
	case <-s.started:
	case <-time.After(time.Second):
		t.Fatalf("session not started")
	}

	cmdTopic := kb.TopicCommands(kb.BaseTopic, testNode)
	if !client.subscribed(cmdTopic) {
		t.Fatalf("command topic not subscribed")
	}
	payload, _ := json.Marshal(command(t, kb.CmdStop, nil))
	client.emit(cmdTopic, payload)

	replies := client.on(kb.TopicReply(kb.BaseTopic, "tester"))
	if len(replies) != 1 {
		t.Fatalf("expected a reply, got %d", len(replies))
	}

	s.events.Publish(kodi.Event{Kind: kodi.EventPause, At: time.Unix(1, 0)})
	if len(client.on(kb.TopicEvents(kb.BaseTopic, testNode))) != 1 {
		t.Fatalf("session event not forwarded")
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}
	if client.subscribed(cmdTopic) {
		t.Fatalf("command topic still subscribed")
	}

	presence := client.on(kb.TopicPresence(kb.BaseTopic, testNode))
	if len(presence) != 2 {
		t.Fatalf("expected presence publish and clear, got %d", len(presence))
	}
	var p kb.Presence
	if err := json.Unmarshal(presence[0].Payload, &p); err != nil {
		t.Fatalf("decode presence: %v", err)
	}
	if p.Kind != kb.NodeKind || p.Name != "Living Room" || p.EPs["host"] != "10.0.0.5" {
		t.Fatalf("unexpected presence %+v", p)
	}
	if len(presence[1].Payload) != 0 || !presence[1].Retained {
		t.Fatalf("presence not cleared")
	}

	// events after shutdown are no longer forwarded
	s.events.Publish(kodi.Event{Kind: kodi.EventPause, At: time.Unix(2, 0)})
	if len(client.on(kb.TopicEvents(kb.BaseTopic, testNode))) != 1 {
		t.Fatalf("event forwarded after shutdown")
	}
	if !s.closed {
		t.Fatalf("session not closed")
	}
}
