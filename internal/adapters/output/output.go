package output

import (
	"io"
	"os"

	"github.com/mattn/go-isatty"
)

// Printer renders command results.
type Printer interface {
	Print(v any) error
}

// New returns a JSON printer when jsonOut is set and a human printer otherwise.
// Human output is colourised only when stdout is a terminal.
func New(jsonOut bool) Printer {
	if jsonOut {
		return JSONPrinter{Out: os.Stdout}
	}
	return HumanPrinter{Out: os.Stdout, Color: shouldColorize(os.Stdout)}
}

func shouldColorize(w io.Writer) bool {
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
