package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mikey-austin/kodibridge/internal/core"
)

func lsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "ls",
		Short: "List online kodi nodes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(ctx context.Context, a *app) (core.NodesResult, error) {
				return a.service.ListNodes(ctx)
			})
		},
	}
}

func statusCommand() *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "status [kodi]",
		Short: "Show kodi availability",
		Args:  cobra.RangeArgs(0, 1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := fromContext(cmd)
			selector := selectorArg(a, args)
			if watch {
				return watchNode(a, selector, false)
			}
			return run(cmd, func(ctx context.Context, a *app) (core.StatusResult, error) {
				return a.service.Status(ctx, selector)
			})
		},
	}
	cmd.Flags().BoolVar(&watch, "watch", false, "keep printing availability changes")
	return cmd
}

func eventsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "events [kodi]",
		Short: "Stream playback and availability events",
		Args:  cobra.RangeArgs(0, 1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := fromContext(cmd)
			return watchNode(a, selectorArg(a, args), true)
		},
	}
}

func selectorArg(a *app, args []string) string {
	if len(args) == 1 {
		return args[0]
	}
	return a.selector
}

// watchNode prints state updates (and events when withEvents is set) until interrupted.
func watchNode(a *app, selector string, withEvents bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	node, states, events, errs, err := a.service.Watch(ctx, selector)
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case state, ok := <-states:
			if !ok {
				return nil
			}
			if err := a.printer.Print(core.StatusResult{Node: node, State: state}); err != nil {
				return err
			}
		case evt, ok := <-events:
			if !ok {
				return nil
			}
			if !withEvents {
				continue
			}
			if err := a.printer.Print(core.EventResult{Node: node, Event: evt}); err != nil {
				return err
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if err != nil {
				return core.WrapError(core.ExitRuntime, "watch", err)
			}
		}
	}
}
