package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/halfmap/gameclient/internal/events"
)

const (
	colorInfo  = "#9999CC"
	colorWarn  = "#FFCC00"
	colorError = "#FF3333"
	colorMuted = "#52526A"
)

// progressPrinter writes one line per session event. Colors are dropped when
// out is not a terminal.
type progressPrinter struct {
	out      io.Writer
	muted    lipgloss.Style
	severity map[string]lipgloss.Style
}

func newProgressPrinter(out io.Writer) *progressPrinter {
	return newProgressPrinterWithRenderer(out, lipgloss.NewRenderer(out))
}

func newProgressPrinterWithRenderer(out io.Writer, renderer *lipgloss.Renderer) *progressPrinter {
	return &progressPrinter{
		out:   out,
		muted: renderer.NewStyle().Foreground(lipgloss.Color(colorMuted)),
		severity: map[string]lipgloss.Style{
			events.SeverityInfo:  renderer.NewStyle().Foreground(lipgloss.Color(colorInfo)),
			events.SeverityWarn:  renderer.NewStyle().Foreground(lipgloss.Color(colorWarn)).Bold(true),
			events.SeverityError: renderer.NewStyle().Foreground(lipgloss.Color(colorError)).Bold(true),
		},
	}
}

func (p *progressPrinter) Print(event events.Event) {
	fmt.Fprintln(p.out, p.format(event))
}

func (p *progressPrinter) format(event events.Event) string {
	style, ok := p.severity[event.Severity]
	if !ok {
		style = p.muted
	}
	return formatEvent(event, p.muted, style)
}

func formatEvent(event events.Event, timestamp, severity lipgloss.Style) string {
	var builder strings.Builder
	builder.WriteString(timestamp.Render(event.Timestamp.Format(time.TimeOnly)))
	builder.WriteString(" ")
	builder.WriteString(severity.Render(fmt.Sprintf("%-5s", event.Severity)))
	fmt.Fprintf(&builder, " %s", event.Type)
	if event.Turn > 0 {
		fmt.Fprintf(&builder, " turn=%d", event.Turn)
	}
	if event.Message != "" {
		fmt.Fprintf(&builder, " %s", event.Message)
	}
	return builder.String()
}
