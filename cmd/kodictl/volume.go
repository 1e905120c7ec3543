package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mikey-austin/kodibridge/internal/core"
)

func volumeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "vol <0..100>",
		Short: "Set volume",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			volume, err := parseVolume(args[0])
			if err != nil {
				return err
			}
			return run(cmd, func(ctx context.Context, a *app) (core.AckResult, error) {
				return a.service.SetVolume(ctx, a.selector, volume)
			})
		},
	}
}

func muteCommand(mute bool) *cobra.Command {
	use, short := "mute", "Mute audio"
	if !mute {
		use, short = "unmute", "Unmute audio"
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(ctx context.Context, a *app) (core.AckResult, error) {
				return a.service.SetMute(ctx, a.selector, mute)
			})
		},
	}
}

func subsCommand() *cobra.Command {
	return &cobra.Command{
		Use:       "subs on|off",
		Short:     "Turn subtitles on or off",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"on", "off"},
		RunE: func(cmd *cobra.Command, args []string) error {
			on, err := parseOnOff(args[0])
			if err != nil {
				return err
			}
			return run(cmd, func(ctx context.Context, a *app) (core.AckResult, error) {
				return a.service.SetSubtitle(ctx, a.selector, on)
			})
		},
	}
}

func powerCommand() *cobra.Command {
	return &cobra.Command{
		Use:       "power reboot|hibernate|shutdown",
		Short:     "Reboot, hibernate or shut down the kodi host",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"reboot", "hibernate", "shutdown"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(ctx context.Context, a *app) (core.AckResult, error) {
				return a.service.Power(ctx, a.selector, args[0])
			})
		},
	}
}

func parseVolume(arg string) (int, error) {
	volume, err := strconv.Atoi(strings.TrimSuffix(strings.TrimSpace(arg), "%"))
	if err != nil {
		return 0, &core.CLIError{Code: core.ExitUsage, Msg: fmt.Sprintf("invalid volume %q", arg)}
	}
	return volume, nil
}

func parseOnOff(arg string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(arg)) {
	case "on", "true", "yes", "1":
		return true, nil
	case "off", "false", "no", "0":
		return false, nil
	default:
		return false, &core.CLIError{Code: core.ExitUsage, Msg: fmt.Sprintf("expected on or off, got %q", arg)}
	}
}
