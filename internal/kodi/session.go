package kodi

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const defaultCallTimeout = 10 * time.Second

// Config configures a Session.
type Config struct {
	Endpoint          Endpoint
	ReconnectInterval time.Duration
	// CallTimeout bounds each command and each notification's lookups.
	CallTimeout time.Duration
	// Dial overrides how transports are opened. Defaults to the jsonrpc adapter.
	Dial Dialer
}

// Status is a snapshot of the session's connection state.
type Status struct {
	Endpoint         Endpoint
	Available        bool
	ReconnectPending bool
	Since            time.Time
	LastError        error
}

// Session is a long-lived connection to one Kodi instance. It rebuilds its
// interpreter and command layer on every reconnect and exposes domain events
// and availability changes to subscribers.
type Session struct {
	log          *zap.Logger
	cfg          Config
	sup          *Supervisor
	events       Hub[Event]
	availability Hub[AvailabilityChange]
	now          func() time.Time

	mu       sync.RWMutex
	ctx      context.Context
	cancel   context.CancelFunc
	conn     *connection
	since    time.Time
	lastErr  error
	reported bool
}

// connection holds everything bound to a single transport.
type connection struct {
	transport Transport
	library   *Library
	player    *Player
	system    *System
	interp    *Interpreter
}

func NewSession(log *zap.Logger, cfg Config) *Session {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = defaultCallTimeout
	}
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = DefaultReconnectInterval
	}
	if cfg.Dial == nil {
		cfg.Dial = DialJSONRPC(log)
	}
	log = log.With(zap.String("endpoint", cfg.Endpoint.String()))

	s := &Session{
		log: log,
		cfg: cfg,
		now: time.Now,
		ctx: context.Background(),
	}
	s.sup = NewSupervisor(log, SupervisorConfig{
		Endpoint:      cfg.Endpoint,
		Interval:      cfg.ReconnectInterval,
		Dial:          cfg.Dial,
		OnAvailable:   s.onAvailable,
		OnUnavailable: s.onUnavailable,
	})
	return s
}

// Start begins connecting. It returns immediately; watch SubscribeAvailability
// for the outcome.
func (s *Session) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx, s.cancel = context.WithCancel(ctx)
	ctx = s.ctx
	s.mu.Unlock()
	s.sup.Start(ctx)
}

// Close disconnects and stops reconnecting. The session cannot be restarted.
func (s *Session) Close() {
	s.sup.Close()
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.conn = nil
	s.mu.Unlock()
}

// Endpoint returns the configured endpoint.
func (s *Session) Endpoint() Endpoint {
	return s.cfg.Endpoint
}

// Subscribe registers fn for domain events and returns an unsubscribe function.
func (s *Session) Subscribe(fn func(Event)) func() {
	return s.events.Subscribe(fn)
}

// SubscribeAvailability registers fn for availability changes.
func (s *Session) SubscribeAvailability(fn func(AvailabilityChange)) func() {
	return s.availability.Subscribe(fn)
}

func (s *Session) Available() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conn != nil
}

func (s *Session) Status() Status {
	s.mu.RLock()
	st := Status{
		Endpoint:  s.cfg.Endpoint,
		Available: s.conn != nil,
		Since:     s.since,
		LastError: s.lastErr,
	}
	s.mu.RUnlock()
	st.ReconnectPending = s.sup.ReconnectPending()
	return st
}

func (s *Session) onAvailable(t Transport, reconnected bool) {
	now := s.now()
	s.mu.Lock()
	conn := &connection{
		transport: t,
		library:   NewLibrary(s.log.Named("library"), t),
		player:    NewPlayer(s.log.Named("player"), t),
		system:    NewSystem(s.log.Named("system"), t),
	}
	conn.interp = NewInterpreter(s.ctx, s.log.Named("interpreter"), t, t, s.events.Publish, s.cfg.CallTimeout)
	s.conn = conn
	s.since = now
	s.lastErr = nil
	s.reported = true
	s.mu.Unlock()

	s.availability.Publish(AvailabilityChange{Available: true, Reconnected: reconnected, At: now})
}

// onUnavailable publishes only transitions; repeated failed attempts while
// already unavailable just update the last error.
func (s *Session) onUnavailable(err error) {
	now := s.now()
	s.mu.Lock()
	changed := s.conn != nil || !s.reported
	s.conn = nil
	s.lastErr = err
	s.reported = true
	if changed {
		s.since = now
	}
	s.mu.Unlock()

	if changed {
		s.availability.Publish(AvailabilityChange{Available: false, Err: err, At: now})
	}
}

func (s *Session) current(ctx context.Context) (*connection, context.Context, context.CancelFunc, error) {
	s.mu.RLock()
	conn := s.conn
	s.mu.RUnlock()
	if conn == nil {
		return nil, nil, nil, ErrUnavailable
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
	return conn, ctx, cancel, nil
}

// PlayMovie resolves title and starts the movie.
func (s *Session) PlayMovie(ctx context.Context, title string) (Movie, error) {
	conn, ctx, cancel, err := s.current(ctx)
	if err != nil {
		return Movie{}, err
	}
	defer cancel()
	movie, err := conn.library.SearchMovie(ctx, title)
	if err != nil {
		return Movie{}, err
	}
	return movie, conn.player.PlayMovie(ctx, movie)
}

// PlayLatestUnwatchedEpisode resolves showTitle and starts its earliest unwatched episode.
func (s *Session) PlayLatestUnwatchedEpisode(ctx context.Context, showTitle string) (Episode, error) {
	conn, ctx, cancel, err := s.current(ctx)
	if err != nil {
		return Episode{}, err
	}
	defer cancel()
	episode, err := conn.library.LatestUnwatchedEpisode(ctx, showTitle)
	if err != nil {
		return Episode{}, err
	}
	return episode, conn.player.PlayEpisode(ctx, episode)
}

// PlayMusic resolves query to an artist or album and plays its songs.
func (s *Session) PlayMusic(ctx context.Context, kind MusicKind, query string, shuffle bool) ([]Song, error) {
	conn, ctx, cancel, err := s.current(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()
	songs, err := conn.library.SearchMusic(ctx, kind, query)
	if err != nil {
		return nil, err
	}
	if len(songs) == 0 {
		if kind == MusicAlbum {
			return nil, notFound(ReasonAlbumNotFound, query)
		}
		return nil, notFound(ReasonArtistNotFound, query)
	}
	return songs, conn.player.PlayMusic(ctx, songs, shuffle)
}

// StartAddon resolves name and executes the addon.
func (s *Session) StartAddon(ctx context.Context, name string) (Addon, error) {
	conn, ctx, cancel, err := s.current(ctx)
	if err != nil {
		return Addon{}, err
	}
	defer cancel()
	addon, err := conn.library.SearchAddon(ctx, name)
	if err != nil {
		return Addon{}, err
	}
	return addon, conn.player.StartAddon(ctx, addon)
}

func (s *Session) NextOrPrevious(ctx context.Context, dir Direction) error {
	return s.withPlayer(ctx, func(p *Player, ctx context.Context) error { return p.NextOrPrevious(ctx, dir) })
}

func (s *Session) PauseResume(ctx context.Context) error {
	return s.withPlayer(ctx, (*Player).PauseResume)
}

func (s *Session) Stop(ctx context.Context) error {
	return s.withPlayer(ctx, (*Player).Stop)
}

func (s *Session) SetPartyMode(ctx context.Context) error {
	return s.withPlayer(ctx, (*Player).SetPartyMode)
}

func (s *Session) SetMute(ctx context.Context, mute bool) error {
	return s.withPlayer(ctx, func(p *Player, ctx context.Context) error { return p.SetMute(ctx, mute) })
}

func (s *Session) SetSubtitle(ctx context.Context, on bool) error {
	return s.withPlayer(ctx, func(p *Player, ctx context.Context) error { return p.SetSubtitle(ctx, on) })
}

func (s *Session) SetVolume(ctx context.Context, volume int) error {
	return s.withPlayer(ctx, func(p *Player, ctx context.Context) error { return p.SetVolume(ctx, volume) })
}

// IsPlaying reports whether Kodi is playing an item of the given kind.
// An unavailable Kodi is not playing anything.
func (s *Session) IsPlaying(ctx context.Context, item PlayingItem) (bool, error) {
	conn, ctx, cancel, err := s.current(ctx)
	if err != nil {
		return false, nil
	}
	defer cancel()
	return conn.player.IsPlaying(ctx, item)
}

func (s *Session) Reboot(ctx context.Context) error {
	return s.withSystem(ctx, (*System).Reboot)
}

func (s *Session) Hibernate(ctx context.Context) error {
	return s.withSystem(ctx, (*System).Hibernate)
}

func (s *Session) Shutdown(ctx context.Context) error {
	return s.withSystem(ctx, (*System).Shutdown)
}

func (s *Session) withPlayer(ctx context.Context, fn func(*Player, context.Context) error) error {
	conn, ctx, cancel, err := s.current(ctx)
	if err != nil {
		return err
	}
	defer cancel()
	return fn(conn.player, ctx)
}

func (s *Session) withSystem(ctx context.Context, fn func(*System, context.Context) error) error {
	conn, ctx, cancel, err := s.current(ctx)
	if err != nil {
		return err
	}
	defer cancel()
	return fn(conn.system, ctx)
}
