package render

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/fatih/color"
	"golang.org/x/term"

	"github.com/jpalmerr/jobprogress"
)

const (
	defaultBarCells = 30
	minBarCells     = 10
	// room left on the line for label, counters and status
	barReserve = 40
)

// spinner frames shown while a request is in flight
var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// Bar draws a single-line progress bar:
//
//	⠙ build [██████████░░░░░░░░░░░░░░░░░░░░] 3/10 30% Rendering pages
//
// On a terminal the line is redrawn in place with a carriage return. On any
// other writer a line is written only when its text changes, so logs stay
// readable when output is piped.
type Bar struct {
	mu sync.Mutex

	w       io.Writer
	isTTY   bool
	cells   int
	label   string
	fill    *color.Color
	empty   *color.Color
	accent  *color.Color
	spinner *color.Color

	fraction float64
	percent  string
	value    int
	max      int
	status   string
	visible  map[jobprogress.Section]bool
	busy     bool
	frame    int
	last     string
	released bool
}

// BarOption configures a [Bar].
type BarOption func(*Bar)

// WithLabel sets the text printed before the bar.
func WithLabel(label string) BarOption {
	return func(b *Bar) {
		b.label = label
	}
}

// WithCells sets the bar width in characters. Values below 10 are raised
// to 10. Defaults to the terminal width minus room for the text, capped at 30.
func WithCells(n int) BarOption {
	return func(b *Bar) {
		b.cells = max(minBarCells, n)
	}
}

// WithColor enables or disables ANSI colours. Defaults to enabled on a
// terminal.
func WithColor(enabled bool) BarOption {
	return func(b *Bar) {
		for _, c := range []*color.Color{b.fill, b.empty, b.accent, b.spinner} {
			if enabled {
				c.EnableColor()
			} else {
				c.DisableColor()
			}
		}
	}
}

// WithTTY overrides terminal detection.
func WithTTY(isTTY bool) BarOption {
	return func(b *Bar) {
		b.isTTY = isTTY
	}
}

// NewBar creates a [Bar] writing to w.
func NewBar(w io.Writer, opts ...BarOption) *Bar {
	fd, isFile := fileDescriptor(w)
	isTTY := isFile && term.IsTerminal(fd)

	cells := defaultBarCells
	if isTTY {
		if cols, _, err := term.GetSize(fd); err == nil {
			cells = min(defaultBarCells, max(minBarCells, cols-barReserve))
		}
	}

	b := &Bar{
		w:       w,
		isTTY:   isTTY,
		cells:   cells,
		fill:    color.New(color.FgGreen),
		empty:   color.New(color.Faint),
		accent:  color.New(color.Bold),
		spinner: color.New(color.FgCyan),
		percent: "0%",
		visible: map[jobprogress.Section]bool{
			jobprogress.SectionStatus:  true,
			jobprogress.SectionSteps:   true,
			jobprogress.SectionPercent: true,
		},
	}
	WithColor(isTTY)(b)

	for _, opt := range opts {
		opt(b)
	}
	return b
}

// SetWidth sets the filled portion from a percentage string such as "30%".
func (b *Bar) SetWidth(percent string) {
	f, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(percent), "%"), 64)
	if err != nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fraction = min(1, max(0, f/100))
	b.drawLocked()
}

func (b *Bar) SetStepText(value int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.value = value
	b.drawLocked()
}

func (b *Bar) SetMaxText(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.max = n
	b.drawLocked()
}

func (b *Bar) SetPercentText(percent string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.percent = percent
	b.drawLocked()
}

func (b *Bar) SetStatusText(status string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.status = status
	b.drawLocked()
}

// SetAriaAttributes has no terminal equivalent; value and max are already
// shown by the step counter.
func (b *Bar) SetAriaAttributes(int, int) {}

func (b *Bar) SetVisibility(section jobprogress.Section, visible bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.visible[section] = visible
	b.drawLocked()
}

// SetBusy shows a spinner while a request is in flight. Each request advances
// the spinner by one frame.
func (b *Bar) SetBusy(busy bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if busy && !b.busy {
		b.frame = (b.frame + 1) % len(spinnerFrames)
	}
	b.busy = busy
	b.drawLocked()
}

// Release finishes the line so subsequent output starts on a fresh one.
// Later updates are ignored.
func (b *Bar) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.released {
		return
	}
	b.busy = false
	b.drawLocked()
	b.released = true
	if b.isTTY && b.last != "" {
		_, _ = io.WriteString(b.w, "\n")
	}
}

// Line returns the text of the bar as it would currently be drawn.
func (b *Bar) Line() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lineLocked()
}

func (b *Bar) drawLocked() {
	if b.released {
		return
	}
	line := b.lineLocked()
	if line == b.last {
		return
	}
	b.last = line

	if b.isTTY {
		// \x1b[K clears whatever a longer previous line left behind
		_, _ = fmt.Fprintf(b.w, "\r%s\x1b[K", line)
		return
	}
	_, _ = fmt.Fprintln(b.w, line)
}

func (b *Bar) lineLocked() string {
	var sb strings.Builder

	if b.busy {
		sb.WriteString(b.spinner.Sprint(spinnerFrames[b.frame]))
	} else {
		sb.WriteString(" ")
	}
	if b.label != "" {
		sb.WriteString(" ")
		sb.WriteString(b.label)
	}

	filled := int(b.fraction * float64(b.cells))
	sb.WriteString(" [")
	sb.WriteString(b.fill.Sprint(strings.Repeat("█", filled)))
	sb.WriteString(b.empty.Sprint(strings.Repeat("░", b.cells-filled)))
	sb.WriteString("]")

	if b.visible[jobprogress.SectionSteps] {
		fmt.Fprintf(&sb, " %d/%d", b.value, b.max)
	}
	if b.visible[jobprogress.SectionPercent] {
		sb.WriteString(" ")
		sb.WriteString(b.accent.Sprint(b.percent))
	}
	if b.visible[jobprogress.SectionStatus] && b.status != "" {
		sb.WriteString(" ")
		sb.WriteString(b.status)
	}
	return sb.String()
}

func fileDescriptor(w io.Writer) (int, bool) {
	f, ok := w.(*os.File)
	if !ok {
		return 0, false
	}
	return int(f.Fd()), true
}
