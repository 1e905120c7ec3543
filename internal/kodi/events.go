package kodi

import (
	"sync"
	"time"
)

// EventKind names a domain event derived from Kodi notifications.
type EventKind string

const (
	EventPause          EventKind = "pause"
	EventResume         EventKind = "resume"
	EventPlay           EventKind = "play"
	EventStop           EventKind = "stop"
	EventMovieStart     EventKind = "movie_start"
	EventMovieStop      EventKind = "movie_stop"
	EventEpisodeStart   EventKind = "episode_start"
	EventEpisodeStop    EventKind = "episode_stop"
	EventSongStart      EventKind = "song_start"
	EventShutdown       EventKind = "shutdown"
	EventHibernate      EventKind = "hibernate"
	EventReboot         EventKind = "reboot"
	EventWake           EventKind = "wake"
	EventScreensaverOn  EventKind = "screensaver_on"
	EventScreensaverOff EventKind = "screensaver_off"
)

// Event is a domain event. At most one of Movie, Episode and Song is set.
type Event struct {
	Kind    EventKind
	Movie   *Movie
	Episode *Episode
	Song    *Song
	At      time.Time
}

// FlowArgs returns the automation arguments of the attached entity, if any.
func (e Event) FlowArgs() map[string]string {
	switch {
	case e.Movie != nil:
		return e.Movie.FlowArgs()
	case e.Episode != nil:
		return e.Episode.FlowArgs()
	case e.Song != nil:
		return e.Song.FlowArgs()
	default:
		return map[string]string{}
	}
}

// AvailabilityChange reports the session becoming reachable or unreachable.
type AvailabilityChange struct {
	Available bool
	// Reconnected is set when Kodi became reachable again after a loss or failed attempt.
	Reconnected bool
	Err         error
	At          time.Time
}

// Hub fans values out to subscribed callbacks in subscription order.
// Callbacks run on the publishing goroutine.
type Hub[T any] struct {
	mu   sync.RWMutex
	next int
	subs []subscriber[T]
}

type subscriber[T any] struct {
	id int
	fn func(T)
}

// Subscribe registers fn and returns a function that removes it.
func (h *Hub[T]) Subscribe(fn func(T)) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.next++
	id := h.next
	h.subs = append(h.subs, subscriber[T]{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() { h.remove(id) })
	}
}

func (h *Hub[T]) remove(id int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, s := range h.subs {
		if s.id == id {
			h.subs = append(h.subs[:i:i], h.subs[i+1:]...)
			return
		}
	}
}

// Publish delivers v to every current subscriber.
func (h *Hub[T]) Publish(v T) {
	h.mu.RLock()
	subs := make([]subscriber[T], len(h.subs))
	copy(subs, h.subs)
	h.mu.RUnlock()
	for _, s := range subs {
		s.fn(v)
	}
}
