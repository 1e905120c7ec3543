package kodi

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/mikey-austin/kodibridge/internal/adapters/jsonrpc"
)

// DefaultReconnectInterval is the fixed delay between connection attempts.
const DefaultReconnectInterval = 10 * time.Second

// Endpoint is the address of a Kodi JSON-RPC server.
type Endpoint struct {
	Host      string
	Port      int
	Transport string // "ws" (default) or "tcp"
}

func (e Endpoint) String() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// URL returns the JSON-RPC URL of the endpoint.
func (e Endpoint) URL() string {
	return jsonrpc.URL(e.Transport, e.Host, e.Port)
}

// Dialer opens a transport to an endpoint.
type Dialer func(ctx context.Context, ep Endpoint) (Transport, error)

// DialJSONRPC returns a Dialer backed by the jsonrpc adapter.
func DialJSONRPC(log *zap.Logger) Dialer {
	return func(ctx context.Context, ep Endpoint) (Transport, error) {
		client, err := jsonrpc.Dial(ctx, log, ep.URL())
		if err != nil {
			return nil, err
		}
		return client, nil
	}
}

type stopper interface {
	Stop() bool
}

// SupervisorConfig configures a Supervisor.
type SupervisorConfig struct {
	Endpoint Endpoint
	Interval time.Duration
	Dial     Dialer
	// OnAvailable receives every new transport. reconnected is set when an
	// earlier attempt failed or an earlier transport was lost.
	OnAvailable func(t Transport, reconnected bool)
	// OnUnavailable is called for every failed attempt and every loss.
	OnUnavailable func(err error)
}

// Supervisor keeps one transport to Kodi alive, retrying at a fixed interval
// forever. At most one reconnect timer is pending at any time.
type Supervisor struct {
	log       *zap.Logger
	cfg       SupervisorConfig
	afterFunc func(time.Duration, func()) stopper

	mu        sync.Mutex
	ctx       context.Context
	cancel    context.CancelFunc
	transport Transport
	timer     stopper
	started   bool
	closed    bool
	failures  int

	// gen advances under mu on every state change. A callback whose
	// generation is no longer current when it reaches notifyMu is dropped, so
	// subscribers only ever see the latest state last.
	gen     atomic.Uint64
	pending atomic.Bool

	// notifyMu serialises availability callbacks. It is never acquired while
	// holding mu, so callbacks may query the supervisor.
	notifyMu sync.Mutex
}

func NewSupervisor(log *zap.Logger, cfg SupervisorConfig) *Supervisor {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultReconnectInterval
	}
	if cfg.Dial == nil {
		cfg.Dial = DialJSONRPC(log)
	}
	if cfg.OnAvailable == nil {
		cfg.OnAvailable = func(Transport, bool) {}
	}
	if cfg.OnUnavailable == nil {
		cfg.OnUnavailable = func(error) {}
	}
	return &Supervisor{
		log: log,
		cfg: cfg,
		afterFunc: func(d time.Duration, f func()) stopper {
			return time.AfterFunc(d, f)
		},
	}
}

// Start makes the first connection attempt in the background.
func (s *Supervisor) Start(ctx context.Context) {
	if s.begin(ctx) {
		go s.connect()
	}
}

func (s *Supervisor) begin(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.closed {
		return false
	}
	s.started = true
	s.ctx, s.cancel = context.WithCancel(ctx)
	return true
}

// ReconnectPending reports whether a reconnect timer is armed.
func (s *Supervisor) ReconnectPending() bool {
	return s.pending.Load()
}

// notify runs fn unless a newer state change happened after generation g.
func (s *Supervisor) notify(g uint64, fn func()) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	if s.gen.Load() != g {
		return
	}
	fn()
}

func (s *Supervisor) connect() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	ctx := s.ctx
	s.mu.Unlock()

	s.log.Debug("connecting", zap.String("endpoint", s.cfg.Endpoint.URL()))
	t, err := s.cfg.Dial(ctx, s.cfg.Endpoint)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		if t != nil {
			_ = t.Close()
		}
		return
	}
	if err != nil {
		s.failures++
		s.armLocked()
		failures := s.failures
		g := s.gen.Add(1)
		s.mu.Unlock()

		if failures == 1 {
			s.log.Warn("kodi unreachable, retrying", zap.Duration("interval", s.cfg.Interval), zap.Error(err))
		} else {
			s.log.Debug("reconnect failed", zap.Int("attempt", failures), zap.Error(err))
		}
		err = fmt.Errorf("connect %s: %w", s.cfg.Endpoint, err)
		s.notify(g, func() { s.cfg.OnUnavailable(err) })
		return
	}

	reconnected := s.timer != nil
	s.stopTimerLocked()
	s.failures = 0
	s.transport = t
	g := s.gen.Add(1)
	s.mu.Unlock()

	t.OnClose(func(err error) { s.lost(t, err) })
	t.OnError(func(err error) { s.lost(t, err) })
	if reconnected {
		s.log.Info("reconnected to kodi")
	} else {
		s.log.Info("connected to kodi")
	}
	s.notify(g, func() { s.cfg.OnAvailable(t, reconnected) })
}

// lost handles close and error signals. Duplicates, and signals from a
// transport that has already been replaced, are ignored.
func (s *Supervisor) lost(t Transport, err error) {
	s.mu.Lock()
	if s.closed || s.transport != t || s.timer != nil {
		s.mu.Unlock()
		return
	}
	s.transport = nil
	s.armLocked()
	g := s.gen.Add(1)
	s.mu.Unlock()

	t.RemoveAllListeners()
	_ = t.Close()
	if err == nil {
		err = fmt.Errorf("connection to %s closed", s.cfg.Endpoint)
	}
	s.log.Warn("lost connection to kodi", zap.Error(err))
	s.notify(g, func() { s.cfg.OnUnavailable(err) })
}

// armLocked replaces any pending timer with a fresh one. mu must be held.
func (s *Supervisor) armLocked() {
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = s.afterFunc(s.cfg.Interval, s.connect)
	s.pending.Store(true)
}

// stopTimerLocked cancels any pending timer. mu must be held.
func (s *Supervisor) stopTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.pending.Store(false)
}

// Close tears the supervisor down for good. It is safe to call before Start
// and more than once.
func (s *Supervisor) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.stopTimerLocked()
	s.gen.Add(1)
	if s.cancel != nil {
		s.cancel()
	}
	t := s.transport
	s.transport = nil
	s.mu.Unlock()

	if t != nil {
		t.RemoveAllListeners()
		_ = t.Close()
	}
}
