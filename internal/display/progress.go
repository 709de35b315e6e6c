package display

import (
	"fmt"
	"io"
	"strings"
)

// ProgressBar draws sampling progress. On a terminal it redraws one line in
// place; otherwise it prints a line per ten percent.
type ProgressBar struct {
	out   io.Writer
	tty   bool
	width int

	lastDecile int
	drawn      bool
}

func NewProgressBar(out io.Writer) *ProgressBar {
	return &ProgressBar{
		out:        out,
		tty:        IsTerminal(out),
		width:      Width(out),
		lastDecile: -1,
	}
}

// Update draws step out of total.
func (p *ProgressBar) Update(step, total int) {
	if total <= 0 {
		return
	}
	if step > total {
		step = total
	}
	if step < 0 {
		step = 0
	}

	if !p.tty {
		decile := step * 10 / total
		if decile == p.lastDecile {
			return
		}
		p.lastDecile = decile
		fmt.Fprintf(p.out, "step %d/%d\n", step, total)
		return
	}

	fmt.Fprintf(p.out, "\r%s", renderBar(step, total, p.width))
	p.drawn = true
}

// Done ends the current bar so following output starts on a fresh line.
func (p *ProgressBar) Done() {
	if p.drawn {
		fmt.Fprintln(p.out)
	}
	p.drawn = false
	p.lastDecile = -1
}

// renderBar renders "[####    ] step/total" fitting in width columns.
func renderBar(step, total, width int) string {
	counter := fmt.Sprintf(" %d/%d", step, total)
	barWidth := width - len(counter) - 2
	if barWidth > 50 {
		barWidth = 50
	}
	if barWidth < 10 {
		barWidth = 10
	}
	filled := step * barWidth / total
	return "[" + strings.Repeat("#", filled) + strings.Repeat(" ", barWidth-filled) + "]" + counter
}
