package core

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/mikey-austin/kodibridge/internal/ports"
	"github.com/mikey-austin/kodibridge/pkg/kb"
)

// nodePrefix marks a selector that is already a full node ID.
const nodePrefix = "kb:"

// Resolver resolves selectors to node presence.
type Resolver struct {
	Presence ports.Broker
	Config   Config
}

// ResolveKodi resolves a Kodi selector using config defaults.
func (r Resolver) ResolveKodi(ctx context.Context, selector string) (kb.Presence, error) {
	return r.resolveByKind(ctx, selector, kb.NodeKind, r.Config.Defaults.Kodi)
}

func (r Resolver) resolveByKind(ctx context.Context, selector string, kind string, def string) (kb.Presence, error) {
	if selector == "" {
		selector = def
	}

	presence, err := r.Presence.ListPresence(ctx)
	if err != nil {
		return kb.Presence{}, WrapError(ExitRuntime, "list presence", err)
	}

	filtered := filterPresenceByKind(presence, kind)
	if selector == "" {
		switch len(filtered) {
		case 1:
			return filtered[0], nil
		case 0:
			return kb.Presence{}, &CLIError{Code: ExitNotFound, Msg: "no " + kind + " nodes online"}
		}
		return kb.Presence{}, &CLIError{Code: ExitUsage, Msg: "selector required: " + suggestionList(filtered)}
	}
	return resolveSelector(selector, filtered, r.Config.Aliases)
}

func filterPresenceByKind(presence []kb.Presence, kind string) []kb.Presence {
	if kind == "" {
		return presence
	}
	out := make([]kb.Presence, 0, len(presence))
	for _, p := range presence {
		if p.Kind == kind {
			out = append(out, p)
		}
	}
	return out
}

func resolveSelector(selector string, presence []kb.Presence, aliases map[string]string) (kb.Presence, error) {
	selector = strings.TrimSpace(selector)
	if selector == "" {
		return kb.Presence{}, &CLIError{Code: ExitUsage, Msg: "selector required"}
	}

	if strings.HasPrefix(selector, nodePrefix) {
		return resolveExact(selector, presence)
	}

	if alias, ok := aliases[selector]; ok {
		if strings.HasPrefix(alias, nodePrefix) {
			return resolveExact(alias, presence)
		}
		selector = alias
	}

	matches := make([]kb.Presence, 0)
	for _, p := range presence {
		if strings.EqualFold(p.Name, selector) || strings.EqualFold(p.NodeID, selector) {
			matches = append(matches, p)
		}
	}

	switch len(matches) {
	case 1:
		return matches[0], nil
	case 0:
		return kb.Presence{}, &CLIError{Code: ExitNotFound, Msg: fmt.Sprintf("no match for %q", selector)}
	}
	return kb.Presence{}, &CLIError{Code: ExitUsage, Msg: fmt.Sprintf("ambiguous selector %q: %s", selector, suggestionList(matches))}
}

func resolveExact(nodeID string, presence []kb.Presence) (kb.Presence, error) {
	for _, p := range presence {
		if p.NodeID == nodeID {
			return p, nil
		}
	}
	return kb.Presence{}, &CLIError{Code: ExitNotFound, Msg: fmt.Sprintf("node not found: %s", nodeID)}
}

func suggestionList(matches []kb.Presence) string {
	names := make([]string, 0, len(matches))
	for _, p := range matches {
		names = append(names, fmt.Sprintf("%s (%s)", p.Name, p.NodeID))
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}
