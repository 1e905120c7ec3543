package kodi

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Caller issues JSON-RPC requests against Kodi.
type Caller interface {
	Call(ctx context.Context, method string, params any) (json.RawMessage, error)
}

// Notifier delivers Kodi push notifications by method name.
type Notifier interface {
	Subscribe(method string, handler func(params json.RawMessage))
}

// Transport is a live connection to Kodi.
type Transport interface {
	Caller
	Notifier
	OnClose(handler func(err error))
	OnError(handler func(err error))
	RemoveAllListeners()
	Close() error
}

func call(ctx context.Context, c Caller, method string, params any, out any) error {
	if params == nil {
		params = map[string]any{}
	}
	raw, err := c.Call(ctx, method, params)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s: %w", method, err)
	}
	return nil
}

// Item types as reported by Kodi, which uses both singular and plural forms.
const (
	itemMovie   = "movie"
	itemEpisode = "episode"
	itemSong    = "song"
)

func normalizeType(t string) string {
	switch strings.ToLower(strings.TrimSpace(t)) {
	case "movie", "movies":
		return itemMovie
	case "episode", "episodes":
		return itemEpisode
	case "song", "songs":
		return itemSong
	default:
		return strings.ToLower(t)
	}
}

func firstOf(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[0]
}
