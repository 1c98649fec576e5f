package observability

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

const (
	colorReset    = "\033[0m"
	colorBold     = "\033[1m"
	colorPurple   = "\033[35m"
	colorNeonCyan = "\033[96m"
	colorNeonMag  = "\033[95m"
)

// termMu serialises all terminal output so progress lines and log lines never
// interleave.
var termMu sync.Mutex

// IsTerminal reports whether f is attached to a TTY.
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

func termWidth() int {
	w, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil {
		return 80
	}
	return w
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

type termWriter struct {
	out io.Writer
}

func (tw termWriter) Write(p []byte) (n int, err error) {
	termMu.Lock()
	defer termMu.Unlock()
	return tw.out.Write(p)
}

// NewTermWriter returns an io.Writer suitable for log.SetOutput().
// It serialises writes with PrintProgress via termMu.
func NewTermWriter() io.Writer {
	return termWriter{out: os.Stderr}
}

// ProgressLine renders one progress event. Colour escapes are only added when
// color is true.
func ProgressLine(evt ProgressEvent, color bool) string {
	const barWidth = 20
	filled := clamp(evt.Percent*barWidth/100, 0, barWidth)
	bar := strings.Repeat("█", filled) + strings.Repeat("▒", barWidth-filled)

	stageColor := colorNeonCyan
	switch evt.Stage {
	case StageFailed:
		stageColor = colorNeonMag
	case StageEvaluate:
		stageColor = colorPurple
	}

	detail := ""
	if evt.TotalIterations > 0 {
		detail = fmt.Sprintf(" iter %d/%d scored %d ordered %d", evt.Iteration, evt.TotalIterations, evt.TasksScored, evt.TasksOrdered)
	}
	if evt.Message != "" {
		detail += " " + evt.Message
	}

	if !color {
		return fmt.Sprintf("[%s] %-10s [%s] %3d%%%s", evt.SessionID, evt.Stage, bar, evt.Percent, detail)
	}
	return fmt.Sprintf("%s[%s]%s %s%-10s%s [%s%s%s] %3d%%%s",
		colorBold, evt.SessionID, colorReset,
		stageColor, evt.Stage, colorReset,
		stageColor, bar, colorReset,
		evt.Percent, detail)
}

// PrintProgress writes a progress line to stdout.
func PrintProgress(evt ProgressEvent, color bool) {
	line := ProgressLine(evt, color)
	termMu.Lock()
	fmt.Println(line)
	termMu.Unlock()
}

// PrintBanner prints the CLI header centred on the terminal.
func PrintBanner(color bool) {
	banner := []string{
		"priorities",
		">> task prioritization engine <<",
	}
	width := termWidth()
	termMu.Lock()
	defer termMu.Unlock()
	for _, l := range banner {
		padding := (width - len(l)) / 2
		if padding < 0 {
			padding = 0
		}
		if color {
			fmt.Printf("%s%s%s%s\n", strings.Repeat(" ", padding), colorNeonCyan, l, colorReset)
		} else {
			fmt.Printf("%s%s\n", strings.Repeat(" ", padding), l)
		}
	}
}
