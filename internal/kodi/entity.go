package kodi

import (
	"fmt"
	"strconv"
)

// Movie is a movie in the Kodi video library.
type Movie struct {
	ID    int    `json:"id"`
	Title string `json:"title"`
}

// ParamID returns the Player.Open item parameter for the movie.
func (m Movie) ParamID() map[string]any {
	return map[string]any{"item": map[string]any{"movieid": m.ID}}
}

// FlowArgs returns the automation arguments attached to movie events.
func (m Movie) FlowArgs() map[string]string {
	return map[string]string{"movie_title": m.Title}
}

func (m Movie) String() string {
	if m.Title == "" {
		return "Unknown movie"
	}
	return m.Title
}

// Episode is a single TV episode.
type Episode struct {
	ID        int    `json:"id"`
	Title     string `json:"title"`
	ShowTitle string `json:"showTitle"`
	Season    int    `json:"season"`
	Episode   int    `json:"episode"`
}

func (e Episode) ParamID() map[string]any {
	return map[string]any{"item": map[string]any{"episodeid": e.ID}}
}

func (e Episode) FlowArgs() map[string]string {
	return map[string]string{
		"tvshow_title":  e.ShowTitle,
		"episode_title": e.Title,
		"season":        strconv.Itoa(e.Season),
		"episode":       strconv.Itoa(e.Episode),
	}
}

func (e Episode) String() string {
	return fmt.Sprintf("%s - S%dE%d - %s", e.ShowTitle, e.Season, e.Episode, e.Title)
}

// Song is a song in the Kodi music library.
type Song struct {
	ID     int    `json:"id"`
	Title  string `json:"title"`
	Artist string `json:"artist"`
}

// ParamID returns the Playlist.Add item parameter for the song.
func (s Song) ParamID() map[string]any {
	return map[string]any{"songid": s.ID}
}

func (s Song) FlowArgs() map[string]string {
	return map[string]string{"artist": s.Artist, "song_title": s.Title}
}

func (s Song) String() string {
	artist, title := s.Artist, s.Title
	if artist == "" {
		artist = "Unknown artist"
	}
	if title == "" {
		title = "Unknown song"
	}
	return artist + " - " + title
}

// Addon is an installed Kodi addon.
type Addon struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (a Addon) ParamID() map[string]any {
	return map[string]any{"addonid": a.ID}
}

func (a Addon) String() string {
	if a.Name == "" {
		return a.ID
	}
	return a.Name
}
