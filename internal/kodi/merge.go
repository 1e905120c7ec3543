package kodi

// prefer returns detailed unless it is the zero value, in which case fallback.
// Every merge of a details lookup with notification payload fields goes through it.
func prefer[T comparable](detailed, fallback T) T {
	var zero T
	if detailed != zero {
		return detailed
	}
	return fallback
}

func mergeMovie(detailed, payload Movie) Movie {
	return Movie{
		ID:    prefer(detailed.ID, payload.ID),
		Title: prefer(detailed.Title, payload.Title),
	}
}

func mergeEpisode(detailed, payload Episode) Episode {
	return Episode{
		ID:        prefer(detailed.ID, payload.ID),
		Title:     prefer(detailed.Title, payload.Title),
		ShowTitle: prefer(detailed.ShowTitle, payload.ShowTitle),
		Season:    prefer(detailed.Season, payload.Season),
		Episode:   prefer(detailed.Episode, payload.Episode),
	}
}

func mergeSong(detailed, payload Song) Song {
	return Song{
		ID:     prefer(detailed.ID, payload.ID),
		Title:  prefer(detailed.Title, payload.Title),
		Artist: prefer(detailed.Artist, payload.Artist),
	}
}

type movieDetails struct {
	MovieID int    `json:"movieid"`
	Label   string `json:"label"`
	Title   string `json:"title"`
}

func (d movieDetails) movie() Movie {
	return Movie{ID: d.MovieID, Title: prefer(d.Title, d.Label)}
}

type episodeDetails struct {
	EpisodeID int    `json:"episodeid"`
	Label     string `json:"label"`
	Title     string `json:"title"`
	ShowTitle string `json:"showtitle"`
	Season    int    `json:"season"`
	Episode   int    `json:"episode"`
	PlayCount int    `json:"playcount"`
}

func (d episodeDetails) episode() Episode {
	return Episode{
		ID:        d.EpisodeID,
		Title:     prefer(d.Title, d.Label),
		ShowTitle: d.ShowTitle,
		Season:    d.Season,
		Episode:   d.Episode,
	}
}

type songDetails struct {
	SongID int      `json:"songid"`
	Label  string   `json:"label"`
	Title  string   `json:"title"`
	Artist []string `json:"artist"`
}

func (d songDetails) song() Song {
	return Song{ID: d.SongID, Title: prefer(d.Title, d.Label), Artist: firstOf(d.Artist)}
}
