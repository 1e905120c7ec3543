package kodi

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"
)

const (
	// addonPlayerID is what Kodi reports for addon-driven players; they play on the video player.
	addonPlayerID   = -1
	defaultPlayerID = 1

	// Playback already past these percentages is treated as a resume.
	songResumePercent  = 1.0
	videoResumePercent = 0.1
)

// notification is the params object of every Kodi push notification.
type notification struct {
	Data   json.RawMessage `json:"data"`
	Sender string          `json:"sender"`
}

type payloadItem struct {
	ID        int    `json:"id"`
	Type      string `json:"type"`
	Title     string `json:"title"`
	ShowTitle string `json:"showtitle"`
	Season    int    `json:"season"`
	Episode   int    `json:"episode"`
}

type playData struct {
	Item   payloadItem `json:"item"`
	Player *struct {
		PlayerID int     `json:"playerid"`
		Speed    float64 `json:"speed"`
	} `json:"player"`
}

type stopData struct {
	Item payloadItem `json:"item"`
	End  bool        `json:"end"`
}

// Interpreter turns Kodi notifications into domain events. Follow-up lookups
// for one notification run in sequence; separate notifications are independent.
type Interpreter struct {
	log     *zap.Logger
	ctx     context.Context
	rpc     Caller
	emit    func(Event)
	timeout time.Duration
	now     func() time.Time
}

// NewInterpreter subscribes to notifications on n and emits events through emit.
// Lookups are bounded by timeout and abandoned when ctx is cancelled.
func NewInterpreter(ctx context.Context, log *zap.Logger, rpc Caller, n Notifier, emit func(Event), timeout time.Duration) *Interpreter {
	if log == nil {
		log = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}
	i := &Interpreter{log: log, ctx: ctx, rpc: rpc, emit: emit, timeout: timeout, now: time.Now}

	i.subscribe(n, "Player.OnPlay", i.onPlay)
	i.subscribe(n, "Player.OnPause", i.simple(EventPause))
	i.subscribe(n, "Player.OnStop", i.onStop)
	i.subscribe(n, "System.OnQuit", i.simple(EventShutdown))
	i.subscribe(n, "System.OnSleep", i.simple(EventHibernate))
	i.subscribe(n, "System.OnRestart", i.simple(EventReboot))
	i.subscribe(n, "System.OnWake", i.simple(EventWake))
	i.subscribe(n, "GUI.OnScreensaverActivated", i.simple(EventScreensaverOn))
	i.subscribe(n, "GUI.OnScreensaverDeactivated", i.simple(EventScreensaverOff))
	return i
}

func (i *Interpreter) subscribe(n Notifier, method string, handle func(json.RawMessage)) {
	n.Subscribe(method, func(params json.RawMessage) {
		defer func() {
			if r := recover(); r != nil {
				i.log.Error("notification handler panicked", zap.String("method", method), zap.Any("panic", r))
			}
		}()
		i.log.Debug("notification", zap.String("method", method))
		handle(params)
	})
}

func (i *Interpreter) simple(kind EventKind) func(json.RawMessage) {
	return func(json.RawMessage) { i.publish(Event{Kind: kind}) }
}

func (i *Interpreter) publish(e Event) {
	if e.At.IsZero() {
		e.At = i.now()
	}
	i.emit(e)
}

func decodeData(params json.RawMessage, out any) error {
	var n notification
	if err := json.Unmarshal(params, &n); err != nil {
		return err
	}
	if len(n.Data) == 0 {
		return nil
	}
	return json.Unmarshal(n.Data, out)
}

func (i *Interpreter) onPlay(params json.RawMessage) {
	i.publish(Event{Kind: EventPlay})

	var data playData
	if err := decodeData(params, &data); err != nil {
		i.log.Debug("malformed OnPlay payload", zap.Error(err))
		return
	}
	if data.Player == nil {
		return
	}
	playerID := data.Player.PlayerID
	if playerID == addonPlayerID {
		playerID = defaultPlayerID
	}

	ctx, cancel := context.WithTimeout(i.ctx, i.timeout)
	defer cancel()

	var props struct {
		Percentage float64 `json:"percentage"`
	}
	query := map[string]any{"playerid": playerID, "properties": []string{"percentage"}}
	if err := call(ctx, i.rpc, "Player.GetProperties", query, &props); err != nil {
		i.log.Debug("percentage lookup failed", zap.Error(err))
		return
	}
	threshold := videoResumePercent
	if normalizeType(data.Item.Type) == itemSong {
		threshold = songResumePercent
	}
	if props.Percentage >= threshold {
		i.publish(Event{Kind: EventResume})
		return
	}

	var current activeItem
	if err := call(ctx, i.rpc, "Player.GetItem", map[string]any{"playerid": playerID}, &current); err != nil {
		i.log.Debug("active item lookup failed", zap.Error(err))
		return
	}

	switch normalizeType(current.Item.Type) {
	case itemMovie:
		movie, ok := i.lookupMovie(ctx, current.Item.ID, Movie{ID: current.Item.ID, Title: prefer(current.Item.Label, data.Item.Title)})
		if ok {
			i.publish(Event{Kind: EventMovieStart, Movie: &movie})
		}
	case itemEpisode:
		payload := Episode{
			ID:        current.Item.ID,
			Title:     data.Item.Title,
			ShowTitle: data.Item.ShowTitle,
			Season:    data.Item.Season,
			Episode:   data.Item.Episode,
		}
		episode, ok := i.lookupEpisode(ctx, current.Item.ID, payload)
		if ok {
			i.publish(Event{Kind: EventEpisodeStart, Episode: &episode})
		}
	case itemSong:
		id := prefer(current.Item.ID, data.Item.ID)
		song, ok := i.lookupSong(ctx, id, Song{ID: id, Title: prefer(data.Item.Title, current.Item.Label)})
		if ok {
			i.publish(Event{Kind: EventSongStart, Song: &song})
		}
	default:
		i.log.Debug("ignoring start of unsupported item", zap.String("type", current.Item.Type))
	}
}

func (i *Interpreter) onStop(params json.RawMessage) {
	i.publish(Event{Kind: EventStop})

	var data stopData
	if err := decodeData(params, &data); err != nil {
		i.log.Debug("malformed OnStop payload", zap.Error(err))
		return
	}
	if !data.End {
		return
	}

	ctx, cancel := context.WithTimeout(i.ctx, i.timeout)
	defer cancel()

	switch normalizeType(data.Item.Type) {
	case itemEpisode:
		payload := Episode{
			ID:        data.Item.ID,
			Title:     data.Item.Title,
			ShowTitle: data.Item.ShowTitle,
			Season:    data.Item.Season,
			Episode:   data.Item.Episode,
		}
		if episode, ok := i.lookupEpisode(ctx, data.Item.ID, payload); ok {
			i.publish(Event{Kind: EventEpisodeStop, Episode: &episode})
		}
	case itemMovie:
		if movie, ok := i.lookupMovie(ctx, data.Item.ID, Movie{ID: data.Item.ID, Title: data.Item.Title}); ok {
			i.publish(Event{Kind: EventMovieStop, Movie: &movie})
		}
	}
}

func (i *Interpreter) lookupMovie(ctx context.Context, id int, payload Movie) (Movie, bool) {
	if id <= 0 {
		i.log.Debug("movie without library id")
		return Movie{}, false
	}
	var res struct {
		Details movieDetails `json:"moviedetails"`
	}
	params := map[string]any{"movieid": id, "properties": []string{"title"}}
	if err := call(ctx, i.rpc, "VideoLibrary.GetMovieDetails", params, &res); err != nil {
		i.log.Debug("movie details lookup failed", zap.Int("movieid", id), zap.Error(err))
		return Movie{}, false
	}
	movie := mergeMovie(res.Details.movie(), payload)
	movie.ID = id
	return movie, movie.Title != ""
}

func (i *Interpreter) lookupEpisode(ctx context.Context, id int, payload Episode) (Episode, bool) {
	if id <= 0 {
		i.log.Debug("episode without library id")
		return Episode{}, false
	}
	var res struct {
		Details episodeDetails `json:"episodedetails"`
	}
	params := map[string]any{"episodeid": id, "properties": []string{"showtitle", "season", "episode", "title"}}
	if err := call(ctx, i.rpc, "VideoLibrary.GetEpisodeDetails", params, &res); err != nil {
		i.log.Debug("episode details lookup failed", zap.Int("episodeid", id), zap.Error(err))
		return Episode{}, false
	}
	episode := mergeEpisode(res.Details.episode(), payload)
	episode.ID = id
	return episode, episode.ShowTitle != "" && episode.Title != ""
}

func (i *Interpreter) lookupSong(ctx context.Context, id int, payload Song) (Song, bool) {
	if id <= 0 {
		i.log.Debug("song without library id")
		return Song{}, false
	}
	var res struct {
		Details songDetails `json:"songdetails"`
	}
	params := map[string]any{"songid": id, "properties": []string{"artist", "title"}}
	if err := call(ctx, i.rpc, "AudioLibrary.GetSongDetails", params, &res); err != nil {
		i.log.Debug("song details lookup failed", zap.Int("songid", id), zap.Error(err))
		return Song{}, false
	}
	song := mergeSong(res.Details.song(), payload)
	song.ID = id
	return song, song.Title != ""
}
