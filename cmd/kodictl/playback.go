package main

import (
	"context"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mikey-austin/kodibridge/internal/core"
)

func movieCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "movie <title>",
		Short: "Play the movie best matching title",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(ctx context.Context, a *app) (core.PlayResult, error) {
				return a.service.PlayMovie(ctx, a.selector, joinArgs(args))
			})
		},
	}
}

func episodeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "episode <show>",
		Short: "Play the next unwatched episode of a show",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(ctx context.Context, a *app) (core.PlayResult, error) {
				return a.service.PlayEpisode(ctx, a.selector, joinArgs(args))
			})
		},
	}
}

func musicCommand() *cobra.Command {
	var noShuffle bool

	cmd := &cobra.Command{
		Use:       "music artist|album <name>",
		Short:     "Queue and play every song of an artist or album",
		Args:      cobra.MinimumNArgs(2),
		ValidArgs: []string{"artist", "album"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(ctx context.Context, a *app) (core.PlayResult, error) {
				return a.service.PlayMusic(ctx, a.selector, args[0], joinArgs(args[1:]), !noShuffle)
			})
		},
	}
	cmd.Flags().BoolVar(&noShuffle, "no-shuffle", false, "play in library order")
	return cmd
}

func addonCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "addon <name>",
		Short: "Start the addon best matching name",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(ctx context.Context, a *app) (core.PlayResult, error) {
				return a.service.StartAddon(ctx, a.selector, joinArgs(args))
			})
		},
	}
}

// simpleCommand builds a no-argument command backed by an ack-only service call.
func simpleCommand(use, short string, fn func(s core.Service, ctx context.Context, selector string) (core.AckResult, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(ctx context.Context, a *app) (core.AckResult, error) {
				return fn(a.service, ctx, a.selector)
			})
		},
	}
}

func toggleCommand() *cobra.Command {
	return simpleCommand("toggle", "Pause or resume playback", core.Service.PauseResume)
}

func stopCommand() *cobra.Command {
	return simpleCommand("stop", "Stop playback", core.Service.Stop)
}

func nextCommand() *cobra.Command {
	return simpleCommand("next", "Skip to the next item", core.Service.Next)
}

func prevCommand() *cobra.Command {
	return simpleCommand("prev", "Go back to the previous item", core.Service.Prev)
}

func partyModeCommand() *cobra.Command {
	return simpleCommand("partymode", "Start music party mode", core.Service.PartyMode)
}

func playingCommand() *cobra.Command {
	return &cobra.Command{
		Use:       "playing [movie|episode|song]",
		Short:     "Report whether kodi is playing",
		Args:      cobra.RangeArgs(0, 1),
		ValidArgs: []string{"movie", "episode", "song"},
		RunE: func(cmd *cobra.Command, args []string) error {
			item := ""
			if len(args) == 1 {
				item = args[0]
			}
			return run(cmd, func(ctx context.Context, a *app) (core.PlayingResult, error) {
				return a.service.IsPlaying(ctx, a.selector, item)
			})
		},
	}
}

func joinArgs(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}
