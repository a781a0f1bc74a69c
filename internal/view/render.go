package view

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
)

var groupTitles = map[Group]string{
	GroupToday:     "Today",
	GroupYesterday: "Yesterday",
	GroupEarlier:   "Earlier",
}

// Renderer writes views as terminal text. Colors are dropped when w is
// not a terminal.
type Renderer struct {
	w io.Writer

	title  lipgloss.Style
	muted  lipgloss.Style
	live   lipgloss.Style
	down   lipgloss.Style
	unread lipgloss.Style
}

// NewRenderer creates a Renderer for w.
func NewRenderer(w io.Writer) *Renderer {
	r := lipgloss.NewRenderer(w)
	return &Renderer{
		w:      w,
		title:  r.NewStyle().Bold(true),
		muted:  r.NewStyle().Foreground(lipgloss.Color("8")),
		live:   r.NewStyle().Foreground(lipgloss.Color("2")).Bold(true),
		down:   r.NewStyle().Foreground(lipgloss.Color("1")),
		unread: r.NewStyle().Bold(true),
	}
}

// Dashboard writes d. now anchors relative times.
func (r *Renderer) Dashboard(d Dashboard, now time.Time) error {
	var b strings.Builder

	state := r.down.Render(d.Connection)
	if d.Live {
		state = r.live.Render(d.Connection)
	}
	fmt.Fprintf(&b, "%s  [%s]\n", r.title.Render("Realtime dashboard"), state)

	for _, c := range d.Counters {
		fmt.Fprintf(&b, "  %-22s %d\n", c.Label, c.Value)
	}
	fmt.Fprintf(&b, "%s\n", r.muted.Render("Last update: "+relative(d.LastUpdate, now)))

	fmt.Fprintf(&b, "\n%s\n", r.title.Render(fmt.Sprintf("Recent events (%d of %d)", len(d.Events), d.Buffered)))
	if len(d.Events) == 0 {
		fmt.Fprintf(&b, "  %s\n", r.muted.Render("no events yet"))
	}
	for _, ev := range d.Events {
		fmt.Fprintf(&b, "  %s  %-26s %-16s %s\n",
			ev.At.In(now.Location()).Format("15:04:05"), ev.Type, ev.Source, r.muted.Render(ev.ID))
	}

	_, err := io.WriteString(r.w, b.String())
	return err
}

// Panel writes p. now anchors record times.
func (r *Renderer) Panel(p Panel, now time.Time) error {
	var b strings.Builder

	fmt.Fprintf(&b, "%s  %s\n",
		r.title.Render("Notifications: "+string(p.Tab)),
		r.muted.Render(fmt.Sprintf("all %d, unread %d, archived %d", p.Counts.All, p.Counts.Unread, p.Counts.Archived)))

	switch {
	case !p.Loaded && p.Empty():
		fmt.Fprintf(&b, "  %s\n", r.muted.Render("loading"))
	case p.Empty():
		fmt.Fprintf(&b, "  %s\n", r.muted.Render("no notifications"))
	}

	for _, s := range p.Sections {
		if len(s.Records) == 0 {
			continue
		}
		fmt.Fprintf(&b, "%s\n", r.title.Render(groupTitles[s.Group]))
		for _, rec := range s.Records {
			marker, title := " ", rec.Title
			if !rec.IsRead {
				marker, title = "*", r.unread.Render(rec.Title)
			}
			when := rec.CreatedAt.In(now.Location()).Format("15:04")
			if s.Group == GroupEarlier {
				when = rec.CreatedAt.In(now.Location()).Format("Jan 2")
			}
			fmt.Fprintf(&b, "  %s %s  %s  %s\n", marker, when, title, rec.Message)
		}
	}

	_, err := io.WriteString(r.w, b.String())
	return err
}

func relative(t, now time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return humanize.RelTime(t, now, "ago", "from now")
}
