package report

import (
	"fmt"
	"math"
	"strings"
	"time"

	"application_stats_bot/internal/domain/chat"
)

const (
	embedColor = 0x0099FF
	spacer     = "\u200b"
)

// Render turns a snapshot into the embed posted to the stats channel.
func Render(s *Snapshot, interval time.Duration, now time.Time) *chat.Embed {
	e := &chat.Embed{
		Title:       "Current Application Stats",
		Description: fmt.Sprintf("Updated every %s.", humanInterval(interval)),
		Color:       embedColor,
		Footer:      "Last updated " + now.Format("2006-01-02 15:04:05 MST"),
		Timestamp:   now,
	}

	add := func(name, value string, inline bool) {
		e.Fields = append(e.Fields, chat.EmbedField{Name: name, Value: value, Inline: inline})
	}
	gap := func() { add(spacer, spacer, false) }

	add("Time Until Apps Close", fmt.Sprintf("%d days / %.2f weeks", s.DaysUntilClose, float64(s.DaysUntilClose)/7), true)
	add("Overall Application Period Length", fmt.Sprintf("%d days / %.2f weeks", s.TotalPeriodDays, float64(s.TotalPeriodDays)/7), true)
	for _, r := range Rates {
		add(fmt.Sprintf("%s Avg Show-up Rate", r.Label), fmt.Sprintf("%g%%", r.ShowUp*100), true)
	}
	gap()

	add("Current Apps", fmt.Sprintf("%d", s.SubmittedCount), true)
	add("Current Drafts", fmt.Sprintf("%d", s.DraftCount()), true)
	add("Current Overall APD", number(s.OverallAppsPerDay), false)
	add("Current APD", number(s.CurrentAppsPerDay), false)
	add("Current DPD", number(s.DraftsPerDay), true)
	gap()

	add("Projected Final Apps", number(s.ProjectedFinalCount), false)
	for _, a := range s.ProjectedAttendance {
		add(fmt.Sprintf("Projected attendees @ %g%%", a.Rate.ShowUp*100), number(a.Count), true)
	}
	gap()

	for _, req := range s.Requirements {
		add(fmt.Sprintf("Apps needed for %s attendees @ %g%%", thousands(req.Attendees), req.Rate.ShowUp*100), number(req.AppsRequired), false)
	}
	gap()
	for _, req := range s.Requirements {
		add(fmt.Sprintf("oAPD needed for %s attendees @ %g%%", thousands(req.Attendees), req.Rate.ShowUp*100), number(req.OverallPerDay), false)
	}
	gap()
	for _, req := range s.Requirements {
		add(fmt.Sprintf("cAPD needed for %s attendees @ %g%%", thousands(req.Attendees), req.Rate.ShowUp*100), number(req.RemainingPerDay), false)
	}
	return e
}

// RenderText is the plain-text fallback for platforms without embeds.
func RenderText(e *chat.Embed) string {
	var b strings.Builder
	b.WriteString(e.Title)
	b.WriteString("\n")
	if e.Description != "" {
		b.WriteString(e.Description)
		b.WriteString("\n")
	}
	for _, f := range e.Fields {
		if f.Name == spacer {
			b.WriteString("\n")
			continue
		}
		fmt.Fprintf(&b, "%s: %s\n", f.Name, f.Value)
	}
	if e.Footer != "" {
		b.WriteString("\n")
		b.WriteString(e.Footer)
	}
	return b.String()
}

func number(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "n/a"
	}
	return fmt.Sprintf("%.2f", v)
}

func thousands(n int) string {
	s := fmt.Sprintf("%d", n)
	if len(s) <= 3 {
		return s
	}
	var b strings.Builder
	pre := len(s) % 3
	if pre > 0 {
		b.WriteString(s[:pre])
	}
	for i := pre; i < len(s); i += 3 {
		if b.Len() > 0 {
			b.WriteString(",")
		}
		b.WriteString(s[i : i+3])
	}
	return b.String()
}

func humanInterval(d time.Duration) string {
	switch {
	case d == time.Hour:
		return "hour"
	case d%time.Hour == 0:
		return fmt.Sprintf("%d hours", d/time.Hour)
	case d%time.Minute == 0:
		return fmt.Sprintf("%d minutes", d/time.Minute)
	default:
		return d.String()
	}
}
