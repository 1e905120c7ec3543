package output

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/pterm/pterm"

	"github.com/mikey-austin/kodibridge/internal/core"
	"github.com/mikey-austin/kodibridge/pkg/kb"
)

var (
	okStyle    = pterm.NewStyle(pterm.FgGreen)
	errStyle   = pterm.NewStyle(pterm.FgRed)
	dimStyle   = pterm.NewStyle(pterm.FgGray)
	titleStyle = pterm.NewStyle(pterm.FgCyan, pterm.Bold)
)

// HumanPrinter prints human-readable output.
type HumanPrinter struct {
	Out   io.Writer
	Color bool
}

// Print renders human output.
func (p HumanPrinter) Print(v any) error {
	switch data := v.(type) {
	case core.NodesResult:
		return p.printNodes(data)
	case core.StatusResult:
		return p.printStatus(data)
	case core.PlayResult:
		return p.printPlay(data)
	case core.PlayingResult:
		return p.printPlaying(data)
	case core.AckResult:
		return p.line("%s %s", p.style(okStyle, "ok"), data.Command)
	case core.EventResult:
		return p.printEvent(data)
	default:
		return p.line("ok")
	}
}

func (p HumanPrinter) style(s *pterm.Style, text string) string {
	if !p.Color {
		return text
	}
	return s.Sprint(text)
}

func (p HumanPrinter) line(format string, args ...any) error {
	_, err := fmt.Fprintf(p.Out, format+"\n", args...)
	return err
}

func (p HumanPrinter) printNodes(result core.NodesResult) error {
	if len(result.Nodes) == 0 {
		return p.line("no kodi nodes online")
	}
	data := pterm.TableData{{"NAME", "NODE_ID", "ENDPOINT"}}
	for _, node := range result.Nodes {
		data = append(data, []string{node.Name, node.NodeID, endpoint(node)})
	}
	return pterm.DefaultTable.WithHasHeader(p.Color).WithData(data).WithWriter(p.Out).Render()
}

func endpoint(node kb.Presence) string {
	host, _ := node.EPs["host"].(string)
	if host == "" {
		return ""
	}
	port, ok := node.EPs["port"].(float64)
	if !ok {
		return host
	}
	return fmt.Sprintf("%s:%d", host, int(port))
}

func (p HumanPrinter) printStatus(result core.StatusResult) error {
	state := result.State
	status := p.style(errStyle, "unavailable")
	if state.Available {
		status = p.style(okStyle, "available")
	}
	line := fmt.Sprintf("%s  [%s]  %s", p.style(titleStyle, result.Node.Name), status, state.Endpoint)
	if state.Since > 0 {
		line += p.style(dimStyle, "  since "+time.Unix(state.Since, 0).Format(time.RFC3339))
	}
	if err := p.line("%s", line); err != nil {
		return err
	}
	if !state.Available && state.LastError != "" {
		return p.line("last error: %s", state.LastError)
	}
	return nil
}

func (p HumanPrinter) printPlay(result core.PlayResult) error {
	switch {
	case result.Movie != nil:
		return p.line("playing %s", p.style(titleStyle, result.Movie.Title))
	case result.Episode != nil:
		ep := result.Episode
		return p.line("playing %s", p.style(titleStyle, fmt.Sprintf("%s - S%dE%d - %s", ep.ShowTitle, ep.Season, ep.Episode, ep.Title)))
	case result.Addon != nil:
		return p.line("started %s", p.style(titleStyle, result.Addon.Name))
	case len(result.Songs) > 0:
		if err := p.line("queued %d songs", len(result.Songs)); err != nil {
			return err
		}
		data := pterm.TableData{{"#", "ARTIST", "TITLE"}}
		for i, song := range result.Songs {
			data = append(data, []string{fmt.Sprint(i + 1), song.Artist, song.Title})
		}
		return pterm.DefaultTable.WithHasHeader(p.Color).WithData(data).WithWriter(p.Out).Render()
	default:
		return p.line("ok")
	}
}

func (p HumanPrinter) printPlaying(result core.PlayingResult) error {
	if result.Playing {
		return p.line("%s is playing %s", result.Node.Name, result.Item)
	}
	return p.line("%s is not playing %s", result.Node.Name, result.Item)
}

func (p HumanPrinter) printEvent(result core.EventResult) error {
	evt := result.Event
	ts := time.Unix(evt.TS, 0).Format("15:04:05")
	parts := []string{p.style(dimStyle, ts), p.style(titleStyle, evt.Type)}
	switch {
	case evt.Movie != nil:
		parts = append(parts, evt.Movie.Title)
	case evt.Episode != nil:
		parts = append(parts, fmt.Sprintf("%s - S%dE%d - %s", evt.Episode.ShowTitle, evt.Episode.Season, evt.Episode.Episode, evt.Episode.Title))
	case evt.Song != nil:
		parts = append(parts, evt.Song.Artist+" - "+evt.Song.Title)
	case evt.Error != "":
		parts = append(parts, p.style(errStyle, evt.Error))
	}
	return p.line("%s", strings.Join(parts, "  "))
}
