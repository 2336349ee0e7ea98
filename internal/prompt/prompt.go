// Package prompt builds the model-ready message sequence. Building is
// pure: the same base instructions, inbound messages, and profile
// always produce byte-identical output.
package prompt

import (
	"strconv"
	"strings"

	"github.com/pacerhq/pacer/internal/coach"
	"github.com/pacerhq/pacer/internal/llm"
	"github.com/pacerhq/pacer/internal/payload"
)

// Build assembles the outbound sequence: one leading system entry
// (base instructions plus the rendered profile), then the retained
// inbound messages in their original order. Messages with a role
// outside {system, user, assistant} or with blank content are dropped
// silently.
func Build(base string, msgs []payload.Message, p *coach.Profile) []llm.Message {
	system := base
	if p != nil {
		if rendered := Render(p); rendered != "" {
			system = base + "\n\n" + rendered
		}
	}

	out := make([]llm.Message, 0, len(msgs)+1)
	out = append(out, llm.Message{Role: "system", Content: system})

	for _, m := range msgs {
		role := strings.ToLower(m.Role)
		switch role {
		case "system", "user", "assistant":
		default:
			continue
		}
		content := strings.TrimSpace(m.Content)
		if content == "" {
			continue
		}
		out = append(out, llm.Message{Role: role, Content: content})
	}
	return out
}

// Render produces the plain-text profile block. Absent fields are
// omitted entirely, never rendered as placeholders.
func Render(p *coach.Profile) string {
	var b strings.Builder
	line := func(label, value string) {
		if value == "" {
			return
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(label)
		b.WriteString(": ")
		b.WriteString(value)
	}

	line("Identity", p.Identity)
	line("Name", p.Name)
	line("Experience", string(p.Experience))
	line("Goal", p.Goal)
	line("Availability", p.Availability)
	line("Upcoming event", p.Event)
	line("Notes", p.Notes)
	line("Coaching feedback", p.Feedback)

	if n := len(p.Activities); n > 0 {
		line("Logged activities", strconv.Itoa(n))
		line("Latest activity", activityLine(p.Activities[n-1]))
	}
	if n := len(p.Plans); n > 0 {
		line("Saved plans", strconv.Itoa(n))
		latest := p.Plans[n-1]
		title := latest.Title
		if title == "" {
			title = latest.Summary
		}
		line("Latest plan", title)
	}

	if b.Len() == 0 {
		return ""
	}
	return "Runner profile:\n" + b.String()
}

// activityLine summarizes one logged activity on a single line.
func activityLine(e coach.ActivityEntry) string {
	var parts []string
	if !e.Date.IsZero() {
		parts = append(parts, e.Date.Format("2006-01-02"))
	}
	switch {
	case e.Distance != "" && e.Duration != "":
		parts = append(parts, e.Distance+" in "+e.Duration)
	case e.Distance != "":
		parts = append(parts, e.Distance)
	case e.Duration != "":
		parts = append(parts, e.Duration)
	}
	if e.Effort != "" {
		parts = append(parts, "("+string(e.Effort)+")")
	}
	s := strings.Join(parts, " ")
	if e.Notes != "" {
		if s != "" {
			s += ", "
		}
		s += e.Notes
	}
	return s
}
