package kodi

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// MusicKind selects what a music query is matched against.
type MusicKind string

const (
	MusicArtist MusicKind = "ARTIST"
	MusicAlbum  MusicKind = "ALBUM"
)

// ParseMusicKind accepts "artist" or "album" in any case.
func ParseMusicKind(s string) (MusicKind, error) {
	switch MusicKind(strings.ToUpper(strings.TrimSpace(s))) {
	case MusicArtist:
		return MusicArtist, nil
	case MusicAlbum:
		return MusicAlbum, nil
	default:
		return "", fmt.Errorf("unknown music kind %q (want artist or album)", s)
	}
}

// Library resolves free-text queries against the Kodi libraries.
// Listings are fetched on every call; nothing is cached.
type Library struct {
	log *zap.Logger
	rpc Caller
}

// NewLibrary creates a resolver bound to rpc.
func NewLibrary(log *zap.Logger, rpc Caller) *Library {
	if log == nil {
		log = zap.NewNop()
	}
	return &Library{log: log, rpc: rpc}
}

type movieEntry struct {
	MovieID int    `json:"movieid"`
	Label   string `json:"label"`
}

type movieListing struct {
	Movies []movieEntry `json:"movies"`
}

// SearchMovie resolves title to a single movie.
func (l *Library) SearchMovie(ctx context.Context, title string) (Movie, error) {
	l.log.Debug("search movie", zap.String("query", title))
	var res movieListing
	if err := call(ctx, l.rpc, "VideoLibrary.GetMovies", nil, &res); err != nil {
		return Movie{}, err
	}
	if len(res.Movies) == 0 {
		return Movie{}, notFound(ReasonNoMoviesInLibrary, "")
	}
	hit, ok := BestMatch(title, res.Movies, func(m movieEntry) string { return m.Label })
	if !ok {
		return Movie{}, notFound(ReasonMovieNotFound, title)
	}
	return Movie{ID: hit.MovieID, Title: hit.Label}, nil
}

type musicItem struct {
	ID    int
	Label string
}

type artistListing struct {
	Artists []struct {
		ArtistID int    `json:"artistid"`
		Artist   string `json:"artist"`
		Label    string `json:"label"`
	} `json:"artists"`
}

type albumListing struct {
	Albums []struct {
		AlbumID int    `json:"albumid"`
		Label   string `json:"label"`
	} `json:"albums"`
}

type songListing struct {
	Songs []struct {
		SongID int      `json:"songid"`
		Label  string   `json:"label"`
		Title  string   `json:"title"`
		Artist []string `json:"artist"`
	} `json:"songs"`
}

// SearchMusic resolves query to an artist or album and returns its songs.
func (l *Library) SearchMusic(ctx context.Context, kind MusicKind, query string) ([]Song, error) {
	l.log.Debug("search music", zap.String("kind", string(kind)), zap.String("query", query))

	var (
		items      []musicItem
		filterKey  string
		missReason Reason
	)
	switch kind {
	case MusicArtist:
		var res artistListing
		if err := call(ctx, l.rpc, "AudioLibrary.GetArtists", nil, &res); err != nil {
			return nil, err
		}
		for _, a := range res.Artists {
			items = append(items, musicItem{ID: a.ArtistID, Label: prefer(a.Artist, a.Label)})
		}
		filterKey, missReason = "artistid", ReasonArtistNotFound
	case MusicAlbum:
		var res albumListing
		if err := call(ctx, l.rpc, "AudioLibrary.GetAlbums", nil, &res); err != nil {
			return nil, err
		}
		for _, a := range res.Albums {
			items = append(items, musicItem{ID: a.AlbumID, Label: a.Label})
		}
		filterKey, missReason = "albumid", ReasonAlbumNotFound
	default:
		return nil, fmt.Errorf("unknown music kind %q", kind)
	}

	if len(items) == 0 {
		return nil, notFound(ReasonNoMusicInLibrary, "")
	}
	hit, ok := BestMatch(query, items, func(m musicItem) string { return m.Label })
	if !ok {
		return nil, notFound(missReason, query)
	}

	var res songListing
	params := map[string]any{
		"filter":     map[string]any{filterKey: hit.ID},
		"properties": []string{"title", "artist"},
	}
	if err := call(ctx, l.rpc, "AudioLibrary.GetSongs", params, &res); err != nil {
		return nil, err
	}
	songs := make([]Song, 0, len(res.Songs))
	for _, s := range res.Songs {
		artist := firstOf(s.Artist)
		if artist == "" && kind == MusicArtist {
			artist = hit.Label
		}
		songs = append(songs, Song{ID: s.SongID, Title: prefer(s.Title, s.Label), Artist: artist})
	}
	return songs, nil
}

type showEntry struct {
	TVShowID int    `json:"tvshowid"`
	Label    string `json:"label"`
}

type showListing struct {
	TVShows []showEntry `json:"tvshows"`
}

type episodeListing struct {
	Episodes []episodeDetails `json:"episodes"`
}

// LatestUnwatchedEpisode resolves showTitle and returns its earliest unwatched episode.
// Kodi is asked to sort by episode number; the result is re-sorted by season and
// episode before selection so a remote that ignores the sort cannot skew the pick.
func (l *Library) LatestUnwatchedEpisode(ctx context.Context, showTitle string) (Episode, error) {
	l.log.Debug("search unwatched episode", zap.String("query", showTitle))
	var shows showListing
	if err := call(ctx, l.rpc, "VideoLibrary.GetTVShows", nil, &shows); err != nil {
		return Episode{}, err
	}
	if len(shows.TVShows) == 0 {
		return Episode{}, notFound(ReasonNoTvShowsInLibrary, "")
	}
	hit, ok := BestMatch(showTitle, shows.TVShows, func(s showEntry) string { return s.Label })
	if !ok {
		return Episode{}, notFound(ReasonSeriesNotFound, showTitle)
	}

	params := map[string]any{
		"tvshowid":   hit.TVShowID,
		"properties": []string{"playcount", "showtitle", "season", "episode", "title"},
		"sort": map[string]any{
			"order":         "ascending",
			"method":        "episode",
			"ignorearticle": true,
		},
	}
	var res episodeListing
	if err := call(ctx, l.rpc, "VideoLibrary.GetEpisodes", params, &res); err != nil {
		return Episode{}, err
	}
	episodes := res.Episodes
	sort.SliceStable(episodes, func(i, j int) bool {
		if episodes[i].Season != episodes[j].Season {
			return episodes[i].Season < episodes[j].Season
		}
		return episodes[i].Episode < episodes[j].Episode
	})
	for _, e := range episodes {
		if e.PlayCount != 0 {
			continue
		}
		ep := e.episode()
		ep.ShowTitle = prefer(ep.ShowTitle, hit.Label)
		return ep, nil
	}
	return Episode{}, notFound(ReasonNoUnwatchedEpisode, hit.Label)
}

type addonListing struct {
	Addons []struct {
		AddonID string `json:"addonid"`
		Name    string `json:"name"`
	} `json:"addons"`
}

// SearchAddon resolves name to an installed addon.
func (l *Library) SearchAddon(ctx context.Context, name string) (Addon, error) {
	l.log.Debug("search addon", zap.String("query", name))
	var res addonListing
	params := map[string]any{"properties": []string{"name"}}
	if err := call(ctx, l.rpc, "Addons.GetAddons", params, &res); err != nil {
		return Addon{}, err
	}
	if len(res.Addons) == 0 {
		return Addon{}, notFound(ReasonNoAddonsInstalled, "")
	}
	addons := make([]Addon, 0, len(res.Addons))
	for _, a := range res.Addons {
		addons = append(addons, Addon{ID: a.AddonID, Name: a.Name})
	}
	hit, ok := BestMatch(name, addons, func(a Addon) string { return prefer(a.Name, a.ID) })
	if !ok {
		return Addon{}, notFound(ReasonAddonNotFound, name)
	}
	return hit, nil
}
