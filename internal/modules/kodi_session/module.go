package kodisession

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/mikey-austin/kodibridge/internal/adapters/mqttserver"
	"github.com/mikey-austin/kodibridge/internal/kodi"
	"github.com/mikey-austin/kodibridge/pkg/kb"
)

// mqttClient abstracts MQTT operations.
type mqttClient interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
	Subscribe(topic string, qos byte, handler paho.MessageHandler) error
	Unsubscribe(topic string) error
}

// session is the part of kodi.Session the module drives.
type session interface {
	Start(ctx context.Context)
	Close()
	Endpoint() kodi.Endpoint
	Subscribe(fn func(kodi.Event)) func()
	SubscribeAvailability(fn func(kodi.AvailabilityChange)) func()
	Status() kodi.Status

	PlayMovie(ctx context.Context, title string) (kodi.Movie, error)
	PlayLatestUnwatchedEpisode(ctx context.Context, showTitle string) (kodi.Episode, error)
	PlayMusic(ctx context.Context, kind kodi.MusicKind, query string, shuffle bool) ([]kodi.Song, error)
	StartAddon(ctx context.Context, name string) (kodi.Addon, error)
	NextOrPrevious(ctx context.Context, dir kodi.Direction) error
	PauseResume(ctx context.Context) error
	Stop(ctx context.Context) error
	SetPartyMode(ctx context.Context) error
	SetMute(ctx context.Context, mute bool) error
	SetSubtitle(ctx context.Context, on bool) error
	SetVolume(ctx context.Context, volume int) error
	IsPlaying(ctx context.Context, item kodi.PlayingItem) (bool, error)
	Reboot(ctx context.Context) error
	Hibernate(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

// Config configures one Kodi node.
type Config struct {
	NodeID            string
	TopicBase         string
	Name              string
	Endpoint          kodi.Endpoint
	ReconnectInterval time.Duration
	CallTimeout       time.Duration
}

// Module exposes one Kodi session as an MQTT node.
type Module struct {
	log     *zap.Logger
	client  mqttClient
	session session
	config  Config
	now     func() time.Time
}

// NewModule creates a Kodi node module backed by a persistent session.
func NewModule(log *zap.Logger, client *mqttserver.Client, cfg Config) (*Module, error) {
	if strings.TrimSpace(cfg.NodeID) == "" {
		return nil, errors.New("kodi node_id is required")
	}
	if strings.TrimSpace(cfg.Endpoint.Host) == "" {
		return nil, errors.New("kodi host is required")
	}
	log = log.With(zap.String("module", "kodi_session"), zap.String("node_id", cfg.NodeID))
	s := kodi.NewSession(log, kodi.Config{
		Endpoint:          cfg.Endpoint,
		ReconnectInterval: cfg.ReconnectInterval,
		CallTimeout:       cfg.CallTimeout,
	})
	return newModule(log, client, s, cfg), nil
}

func newModule(log *zap.Logger, client mqttClient, s session, cfg Config) *Module {
	if cfg.TopicBase == "" {
		cfg.TopicBase = kb.BaseTopic
	}
	if cfg.Name == "" {
		cfg.Name = cfg.Endpoint.Host
	}
	return &Module{log: log, client: client, session: s, config: cfg, now: time.Now}
}

// Run starts the session and serves commands until ctx is done.
func (m *Module) Run(ctx context.Context) error {
	m.log.Info("starting kodi session module", zap.String("endpoint", m.session.Endpoint().URL()))

	unsubEvents := m.session.Subscribe(m.publishEvent)
	defer unsubEvents()
	unsubAvail := m.session.SubscribeAvailability(m.publishAvailability)
	defer unsubAvail()

	cmdTopic := kb.TopicCommands(m.config.TopicBase, m.config.NodeID)
	handler := func(_ paho.Client, msg paho.Message) { m.handleMessage(ctx, msg) }
	if err := m.client.Subscribe(cmdTopic, 1, handler); err != nil {
		return fmt.Errorf("subscribe cmd: %w", err)
	}
	defer m.client.Unsubscribe(cmdTopic)

	if err := m.publishPresence(); err != nil {
		m.log.Warn("failed to publish presence", zap.Error(err))
	}
	if err := m.publishState(kb.NodeState{}); err != nil {
		m.log.Warn("failed to publish state", zap.Error(err))
	}

	m.session.Start(ctx)
	<-ctx.Done()
	m.session.Close()

	if err := m.publishState(kb.NodeState{LastError: "stopped"}); err != nil {
		m.log.Debug("failed to publish final state", zap.Error(err))
	}
	if err := m.client.Publish(kb.TopicPresence(m.config.TopicBase, m.config.NodeID), 1, true, nil); err != nil {
		m.log.Debug("failed to clear presence", zap.Error(err))
	}
	return nil
}

func (m *Module) publishPresence() error {
	ep := m.session.Endpoint()
	presence := kb.Presence{
		NodeID: m.config.NodeID,
		Kind:   kb.NodeKind,
		Name:   m.config.Name,
		Caps: map[string]any{
			"commands": commandNames(),
			"events":   eventNames(),
		},
		EPs: map[string]any{
			"host":      ep.Host,
			"port":      ep.Port,
			"transport": ep.Transport,
		},
		TS: m.now().Unix(),
	}
	return m.publishJSON(kb.TopicPresence(m.config.TopicBase, m.config.NodeID), true, presence)
}

// publishState merges the session status into base and publishes it retained.
func (m *Module) publishState(base kb.NodeState) error {
	st := m.session.Status()
	base.Available = st.Available
	base.Endpoint = st.Endpoint.String()
	if !st.Since.IsZero() {
		base.Since = st.Since.Unix()
	}
	if base.LastError == "" && st.LastError != nil {
		base.LastError = st.LastError.Error()
	}
	base.TS = m.now().Unix()
	return m.publishJSON(kb.TopicState(m.config.TopicBase, m.config.NodeID), true, base)
}

func (m *Module) publishAvailability(change kodi.AvailabilityChange) {
	evt := kb.Event{Type: kb.EventUnavailable, TS: change.At.Unix()}
	switch {
	case change.Available && change.Reconnected:
		evt.Type = kb.EventReconnected
	case change.Available:
		evt.Type = kb.EventAvailable
	case change.Err != nil:
		evt.Error = change.Err.Error()
	}
	m.log.Info("kodi availability changed", zap.String("event", evt.Type))

	if err := m.publishState(kb.NodeState{Reconnected: change.Reconnected}); err != nil {
		m.log.Warn("failed to publish state", zap.Error(err))
	}
	if err := m.publishJSON(kb.TopicEvents(m.config.TopicBase, m.config.NodeID), false, evt); err != nil {
		m.log.Warn("failed to publish availability event", zap.Error(err))
	}
}

func (m *Module) publishEvent(e kodi.Event) {
	evt := kb.Event{
		Type:    string(e.Kind),
		TS:      e.At.Unix(),
		Movie:   movieBody(e.Movie),
		Episode: episodeBody(e.Episode),
		Song:    songBody(e.Song),
	}
	if args := e.FlowArgs(); len(args) > 0 {
		evt.Args = args
	}
	if err := m.publishJSON(kb.TopicEvents(m.config.TopicBase, m.config.NodeID), false, evt); err != nil {
		m.log.Warn("failed to publish event", zap.String("event", evt.Type), zap.Error(err))
	}
}

func (m *Module) publishJSON(topic string, retained bool, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return m.client.Publish(topic, 1, retained, payload)
}

func (m *Module) handleMessage(ctx context.Context, msg paho.Message) {
	var cmd kb.CommandEnvelope
	if err := json.Unmarshal(msg.Payload(), &cmd); err != nil {
		m.log.Debug("invalid command payload", zap.Error(err))
		return
	}
	reply := m.dispatch(ctx, cmd)
	m.publishReply(cmd.ReplyTo, reply)
}

func (m *Module) dispatch(ctx context.Context, cmd kb.CommandEnvelope) kb.ReplyEnvelope {
	if err := kb.ValidateCommandEnvelope(cmd); err != nil {
		return m.errorReply(cmd, kb.CodeInvalid, err.Error(), "")
	}
	if !kb.KnownCommand(cmd.Type) {
		return m.errorReply(cmd, kb.CodeInvalid, "unsupported command "+cmd.Type, "")
	}

	log := m.log.With(zap.String("cmd_id", cmd.ID), zap.String("cmd_type", cmd.Type))
	log.Debug("kodi command")

	body, err := m.execute(ctx, cmd)
	if err != nil {
		code, reason := classify(err)
		if code == kb.CodeRuntime {
			log.Warn("kodi command failed", zap.Error(err))
		} else {
			log.Debug("kodi command rejected", zap.String("code", code), zap.Error(err))
		}
		return m.errorReply(cmd, code, err.Error(), reason)
	}
	return m.okReply(cmd, body)
}

// invalidBody marks malformed command bodies.
type invalidBody struct{ err error }

func (e invalidBody) Error() string { return "invalid body: " + e.err.Error() }
func (e invalidBody) Unwrap() error { return e.err }

func decodeBody(raw json.RawMessage, v any) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return invalidBody{err: err}
	}
	return nil
}

func (m *Module) execute(ctx context.Context, cmd kb.CommandEnvelope) (any, error) {
	s := m.session
	switch cmd.Type {
	case kb.CmdPlayMovie:
		var body kb.PlayMovieBody
		if err := decodeBody(cmd.Body, &body); err != nil {
			return nil, err
		}
		movie, err := s.PlayMovie(ctx, body.Title)
		if err != nil {
			return nil, err
		}
		return kb.PlayMovieReply{Movie: *movieBody(&movie)}, nil
	case kb.CmdPlayEpisode:
		var body kb.PlayEpisodeBody
		if err := decodeBody(cmd.Body, &body); err != nil {
			return nil, err
		}
		episode, err := s.PlayLatestUnwatchedEpisode(ctx, body.Show)
		if err != nil {
			return nil, err
		}
		return kb.PlayEpisodeReply{Episode: *episodeBody(&episode)}, nil
	case kb.CmdPlayMusic:
		var body kb.PlayMusicBody
		if err := decodeBody(cmd.Body, &body); err != nil {
			return nil, err
		}
		kind, err := kodi.ParseMusicKind(body.Kind)
		if err != nil {
			return nil, invalidBody{err: err}
		}
		shuffle := body.Shuffle == nil || *body.Shuffle
		songs, err := s.PlayMusic(ctx, kind, body.Query, shuffle)
		if err != nil {
			return nil, err
		}
		reply := kb.PlayMusicReply{Songs: make([]kb.Song, 0, len(songs))}
		for i := range songs {
			reply.Songs = append(reply.Songs, *songBody(&songs[i]))
		}
		return reply, nil
	case kb.CmdStartAddon:
		var body kb.StartAddonBody
		if err := decodeBody(cmd.Body, &body); err != nil {
			return nil, err
		}
		addon, err := s.StartAddon(ctx, body.Name)
		if err != nil {
			return nil, err
		}
		return kb.StartAddonReply{Addon: kb.Addon{ID: addon.ID, Name: addon.Name}}, nil
	case kb.CmdNext:
		return nil, s.NextOrPrevious(ctx, kodi.Next)
	case kb.CmdPrev:
		return nil, s.NextOrPrevious(ctx, kodi.Previous)
	case kb.CmdPauseResume:
		return nil, s.PauseResume(ctx)
	case kb.CmdStop:
		return nil, s.Stop(ctx)
	case kb.CmdPartyMode:
		return nil, s.SetPartyMode(ctx)
	case kb.CmdSetMute:
		var body kb.SetMuteBody
		if err := decodeBody(cmd.Body, &body); err != nil {
			return nil, err
		}
		return nil, s.SetMute(ctx, body.Mute)
	case kb.CmdSetSubtitle:
		var body kb.SetSubtitleBody
		if err := decodeBody(cmd.Body, &body); err != nil {
			return nil, err
		}
		return nil, s.SetSubtitle(ctx, body.On)
	case kb.CmdSetVolume:
		var body kb.SetVolumeBody
		if err := decodeBody(cmd.Body, &body); err != nil {
			return nil, err
		}
		return nil, s.SetVolume(ctx, body.Volume)
	case kb.CmdIsPlaying:
		var body kb.IsPlayingBody
		if err := decodeBody(cmd.Body, &body); err != nil {
			return nil, err
		}
		item, err := kodi.ParsePlayingItem(body.Item)
		if err != nil {
			return nil, invalidBody{err: err}
		}
		playing, err := s.IsPlaying(ctx, item)
		if err != nil {
			return nil, err
		}
		return kb.IsPlayingReply{Playing: playing}, nil
	case kb.CmdReboot:
		return nil, s.Reboot(ctx)
	case kb.CmdHibernate:
		return nil, s.Hibernate(ctx)
	case kb.CmdShutdown:
		return nil, s.Shutdown(ctx)
	default:
		return nil, invalidBody{err: fmt.Errorf("unsupported command %s", cmd.Type)}
	}
}

// classify maps a command error to a reply code and resolution reason.
func classify(err error) (string, string) {
	var invalid invalidBody
	var resolve *kodi.ResolveError
	switch {
	case errors.As(err, &invalid):
		return kb.CodeInvalid, ""
	case errors.As(err, &resolve):
		return kb.CodeNotFound, string(resolve.Reason)
	case errors.Is(err, kodi.ErrUnavailable):
		return kb.CodeUnavailable, ""
	default:
		return kb.CodeRuntime, ""
	}
}

func (m *Module) okReply(cmd kb.CommandEnvelope, body any) kb.ReplyEnvelope {
	reply := kb.ReplyEnvelope{ID: cmd.ID, Type: "ack", OK: true, TS: m.now().Unix()}
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return m.errorReply(cmd, kb.CodeRuntime, err.Error(), "")
		}
		reply.Body = payload
	}
	return reply
}

func (m *Module) errorReply(cmd kb.CommandEnvelope, code, message, reason string) kb.ReplyEnvelope {
	return kb.ReplyEnvelope{
		ID:   cmd.ID,
		Type: "error",
		OK:   false,
		TS:   m.now().Unix(),
		Err:  &kb.ReplyError{Code: code, Message: message, Reason: reason},
	}
}

func (m *Module) publishReply(replyTo string, reply kb.ReplyEnvelope) {
	if replyTo == "" {
		return
	}
	if err := m.publishJSON(replyTo, false, reply); err != nil {
		m.log.Debug("failed to publish reply", zap.String("reply_to", replyTo), zap.Error(err))
	}
}

func movieBody(m *kodi.Movie) *kb.Movie {
	if m == nil {
		return nil
	}
	return &kb.Movie{ID: m.ID, Title: m.Title}
}

func episodeBody(e *kodi.Episode) *kb.Episode {
	if e == nil {
		return nil
	}
	return &kb.Episode{ID: e.ID, Title: e.Title, ShowTitle: e.ShowTitle, Season: e.Season, Episode: e.Episode}
}

func songBody(s *kodi.Song) *kb.Song {
	if s == nil {
		return nil
	}
	return &kb.Song{ID: s.ID, Title: s.Title, Artist: s.Artist}
}

func commandNames() []string {
	return []string{
		kb.CmdPlayMovie, kb.CmdPlayEpisode, kb.CmdPlayMusic, kb.CmdStartAddon,
		kb.CmdNext, kb.CmdPrev, kb.CmdPauseResume, kb.CmdStop,
		kb.CmdSetMute, kb.CmdSetSubtitle, kb.CmdSetVolume, kb.CmdPartyMode,
		kb.CmdIsPlaying, kb.CmdReboot, kb.CmdHibernate, kb.CmdShutdown,
	}
}

func eventNames() []string {
	return []string{
		string(kodi.EventPause), string(kodi.EventResume), string(kodi.EventPlay), string(kodi.EventStop),
		string(kodi.EventMovieStart), string(kodi.EventMovieStop),
		string(kodi.EventEpisodeStart), string(kodi.EventEpisodeStop), string(kodi.EventSongStart),
		string(kodi.EventShutdown), string(kodi.EventHibernate), string(kodi.EventReboot), string(kodi.EventWake),
		string(kodi.EventScreensaverOn), string(kodi.EventScreensaverOff),
		kb.EventAvailable, kb.EventUnavailable, kb.EventReconnected,
	}
}
