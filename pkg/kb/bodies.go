package kb

// Movie is the wire form of a resolved movie.
type Movie struct {
	ID    int    `json:"id"`
	Title string `json:"title"`
}

// Episode is the wire form of a resolved episode.
type Episode struct {
	ID        int    `json:"id"`
	Title     string `json:"title"`
	ShowTitle string `json:"showTitle"`
	Season    int    `json:"season"`
	Episode   int    `json:"episode"`
}

// Song is the wire form of a song.
type Song struct {
	ID     int    `json:"id"`
	Title  string `json:"title"`
	Artist string `json:"artist"`
}

// Addon is the wire form of an installed addon.
type Addon struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// PlayMovieBody is the payload for kodi.playMovie.
type PlayMovieBody struct {
	Title string `json:"title"`
}

// PlayMovieReply is the reply for kodi.playMovie.
type PlayMovieReply struct {
	Movie Movie `json:"movie"`
}

// PlayEpisodeBody is the payload for kodi.playEpisode.
type PlayEpisodeBody struct {
	Show string `json:"show"`
}

// PlayEpisodeReply is the reply for kodi.playEpisode.
type PlayEpisodeReply struct {
	Episode Episode `json:"episode"`
}

// PlayMusicBody is the payload for kodi.playMusic. Kind is ARTIST or ALBUM.
// Shuffle defaults to true when omitted.
type PlayMusicBody struct {
	Kind    string `json:"kind"`
	Query   string `json:"query"`
	Shuffle *bool  `json:"shuffle,omitempty"`
}

// PlayMusicReply is the reply for kodi.playMusic.
type PlayMusicReply struct {
	Songs []Song `json:"songs"`
}

// StartAddonBody is the payload for kodi.startAddon.
type StartAddonBody struct {
	Name string `json:"name"`
}

// StartAddonReply is the reply for kodi.startAddon.
type StartAddonReply struct {
	Addon Addon `json:"addon"`
}

// SetMuteBody is the payload for kodi.setMute.
type SetMuteBody struct {
	Mute bool `json:"mute"`
}

// SetSubtitleBody is the payload for kodi.setSubtitle.
type SetSubtitleBody struct {
	On bool `json:"on"`
}

// SetVolumeBody is the payload for kodi.setVolume.
type SetVolumeBody struct {
	Volume int `json:"volume"`
}

// IsPlayingBody is the payload for kodi.isPlaying. Item is movie, episode,
// song or empty for anything.
type IsPlayingBody struct {
	Item string `json:"item,omitempty"`
}

// IsPlayingReply is the reply for kodi.isPlaying.
type IsPlayingReply struct {
	Playing bool `json:"playing"`
}
