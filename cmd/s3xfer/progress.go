package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/input-output-hk/catalyst-forge-libs/aws/transfer/xfertypes"
)

const barWidth = 30

// progressBar redraws a single status line. When out is not a terminal only
// the final line is written.
type progressBar struct {
	out       io.Writer
	label     string
	redraw    bool
	lastWidth int
}

func newProgressBar(out io.Writer, label string) *progressBar {
	return &progressBar{out: out, label: label, redraw: stdoutIsTerminal(out)}
}

// Update redraws the line for a non-terminal event.
func (p *progressBar) Update(ev xfertypes.Event) {
	if !p.redraw || ev.State.Terminal() {
		return
	}
	p.draw(renderProgress(p.label, ev))
}

// Finish writes the final line and a newline.
func (p *progressBar) Finish(ev xfertypes.Event) {
	line := renderProgress(p.label, ev)
	if p.redraw {
		p.draw(line)
		fmt.Fprintln(p.out)
		return
	}
	fmt.Fprintln(p.out, line)
}

func (p *progressBar) draw(line string) {
	padding := ""
	if p.lastWidth > len(line) {
		padding = strings.Repeat(" ", p.lastWidth-len(line))
	}
	p.lastWidth = len(line)
	fmt.Fprintf(p.out, "\r%s%s", line, padding)
}

// renderProgress formats an event as
// "label [#####.....]  50.0% 4.0 MiB / 8.0 MiB 1.0 MiB/s ETA 4s".
func renderProgress(label string, ev xfertypes.Event) string {
	filled := int(ev.Percent / 100 * barWidth)
	if filled > barWidth {
		filled = barWidth
	}
	bar := strings.Repeat("#", filled) + strings.Repeat(".", barWidth-filled)

	line := fmt.Sprintf("%s [%s] %5.1f%% %s / %s",
		label, bar, ev.Percent,
		humanize.IBytes(uint64(ev.BytesDone)), humanize.IBytes(uint64(ev.TotalBytes)))

	switch ev.State {
	case xfertypes.StateCompleted:
		return line + " done"
	case xfertypes.StateFailed, xfertypes.StateCancelled:
		return line + " " + string(ev.State)
	case xfertypes.StateQueued:
		return line + " queued"
	}

	if ev.Throughput > 0 {
		line += fmt.Sprintf(" %s/s", humanize.IBytes(uint64(ev.Throughput)))
		if remaining := ev.TotalBytes - ev.BytesDone; remaining > 0 {
			eta := time.Duration(float64(remaining) / ev.Throughput * float64(time.Second))
			line += " ETA " + eta.Round(time.Second).String()
		}
	}
	return line
}
