package kodi

import (
	"errors"
	"fmt"
)

// ErrUnavailable is returned by session commands while Kodi is unreachable.
var ErrUnavailable = errors.New("kodi is unavailable")

// Reason identifies why a library query could not be resolved.
type Reason string

const (
	ReasonNoMoviesInLibrary  Reason = "no_movies_in_library"
	ReasonMovieNotFound      Reason = "movie_not_found"
	ReasonNoMusicInLibrary   Reason = "no_music_in_library"
	ReasonArtistNotFound     Reason = "artist_not_found"
	ReasonAlbumNotFound      Reason = "album_not_found"
	ReasonNoTvShowsInLibrary Reason = "no_tvshows_in_library"
	ReasonSeriesNotFound     Reason = "series_not_found"
	ReasonNoUnwatchedEpisode Reason = "no_unwatched_episode"
	ReasonNoAddonsInstalled  Reason = "no_addons_installed"
	ReasonAddonNotFound      Reason = "addon_not_found"
)

var reasonMessages = map[Reason]string{
	ReasonNoMoviesInLibrary:  "there are no movies in the library",
	ReasonMovieNotFound:      "no movie matches",
	ReasonNoMusicInLibrary:   "there is no music in the library",
	ReasonArtistNotFound:     "no artist matches",
	ReasonAlbumNotFound:      "no album matches",
	ReasonNoTvShowsInLibrary: "there are no tv shows in the library",
	ReasonSeriesNotFound:     "no tv show matches",
	ReasonNoUnwatchedEpisode: "there are no unwatched episodes of",
	ReasonNoAddonsInstalled:  "there are no addons installed",
	ReasonAddonNotFound:      "no addon matches",
}

// ResolveError reports a library query that resolved to nothing.
type ResolveError struct {
	Reason Reason
	Query  string
}

func (e *ResolveError) Error() string {
	msg, ok := reasonMessages[e.Reason]
	if !ok {
		msg = string(e.Reason)
	}
	if e.Query == "" {
		return msg
	}
	return fmt.Sprintf("%s %q", msg, e.Query)
}

// Is matches any ResolveError with the same reason, so the sentinels below
// work with errors.Is regardless of the query.
func (e *ResolveError) Is(target error) bool {
	t, ok := target.(*ResolveError)
	return ok && t.Reason == e.Reason
}

var (
	ErrNoMoviesInLibrary  = &ResolveError{Reason: ReasonNoMoviesInLibrary}
	ErrMovieNotFound      = &ResolveError{Reason: ReasonMovieNotFound}
	ErrNoMusicInLibrary   = &ResolveError{Reason: ReasonNoMusicInLibrary}
	ErrArtistNotFound     = &ResolveError{Reason: ReasonArtistNotFound}
	ErrAlbumNotFound      = &ResolveError{Reason: ReasonAlbumNotFound}
	ErrNoTvShowsInLibrary = &ResolveError{Reason: ReasonNoTvShowsInLibrary}
	ErrSeriesNotFound     = &ResolveError{Reason: ReasonSeriesNotFound}
	ErrNoUnwatchedEpisode = &ResolveError{Reason: ReasonNoUnwatchedEpisode}
	ErrNoAddonsInstalled  = &ResolveError{Reason: ReasonNoAddonsInstalled}
	ErrAddonNotFound      = &ResolveError{Reason: ReasonAddonNotFound}
)

func notFound(reason Reason, query string) error {
	return &ResolveError{Reason: reason, Query: query}
}
