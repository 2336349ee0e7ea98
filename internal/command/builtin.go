package command

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/pacerhq/pacer/internal/coach"
	"github.com/pacerhq/pacer/internal/payload"
	"github.com/pacerhq/pacer/internal/prompt"
)

// ---------------------------------------------------------------------------
// Interfaces the builtin commands call into.
// ---------------------------------------------------------------------------

// Coach is the dispatcher surface commands call into.
type Coach interface {
	Snapshot(ctx context.Context, identity string) (*coach.Profile, error)
	LogActivity(ctx context.Context, identity string, e coach.ActivityEntry) (*coach.Profile, error)
	Usage(ctx context.Context, identity string) (coach.UsageWindow, int, error)
}

// Linker stores platform-user to identity bindings.
type Linker interface {
	BindIdentity(ctx context.Context, platform, userID, identity string) error
	ResolveBinding(ctx context.Context, platform, userID string) (string, error)
	Unbind(ctx context.Context, platform, userID string) error
}

const notLinkedHint = "Not linked yet. Use /link <email> first."

// ---------------------------------------------------------------------------
// RegisterBuiltins wires up the built-in slash commands.
// ---------------------------------------------------------------------------

// RegisterBuiltins registers /help, /link, /unlink, /whoami, /profile,
// /log, and /usage.
func RegisterBuiltins(reg *Registry, coaching Coach, links Linker) {
	reg.Register(helpCommand(reg))
	reg.Register(linkCommand(links))
	reg.Register(unlinkCommand(links))
	reg.Register(whoamiCommand(links))
	reg.Register(profileCommand(coaching, links))
	reg.Register(logCommand(coaching, links))
	reg.Register(usageCommand(coaching, links))
}

// resolve maps the sender to their linked identity.
func resolve(ctx context.Context, links Linker, cc *CommandContext) (string, bool) {
	identity, err := links.ResolveBinding(ctx, cc.Platform, cc.UserID)
	if err != nil {
		return "", false
	}
	return identity, true
}

// ---------------------------------------------------------------------------
// /help
// ---------------------------------------------------------------------------

func helpCommand(reg *Registry) *Command {
	return &Command{
		Name:        "help",
		Description: "List all available commands",
		Usage:       "/help",
		Handler: func(_ context.Context, _ string, _ *CommandContext) (*CommandResult, error) {
			cmds := reg.List()
			var b strings.Builder
			b.WriteString("Available commands:\n")
			for _, c := range cmds {
				fmt.Fprintf(&b, "  /%s — %s\n", c.Name, c.Description)
				if c.Usage != "" {
					fmt.Fprintf(&b, "    Usage: %s\n", c.Usage)
				}
			}
			return &CommandResult{Content: b.String()}, nil
		},
	}
}

// ---------------------------------------------------------------------------
// /link, /unlink, /whoami
// ---------------------------------------------------------------------------

func linkCommand(links Linker) *Command {
	return &Command{
		Name:        "link",
		Description: "Link this chat account to your coaching identity",
		Usage:       "/link you@example.com",
		Handler: func(ctx context.Context, args string, cc *CommandContext) (*CommandResult, error) {
			identity := coach.NormalizeIdentity(args)
			if !payload.ValidIdentity(identity) {
				return &CommandResult{Content: "That does not look like an email address. Usage: /link you@example.com"}, nil
			}
			if err := links.BindIdentity(ctx, cc.Platform, cc.UserID, identity); err != nil {
				return nil, fmt.Errorf("bind identity: %w", err)
			}
			return &CommandResult{Content: "Linked to " + identity + "."}, nil
		},
	}
}

func unlinkCommand(links Linker) *Command {
	return &Command{
		Name:        "unlink",
		Description: "Remove the link to your coaching identity",
		Usage:       "/unlink",
		Handler: func(ctx context.Context, _ string, cc *CommandContext) (*CommandResult, error) {
			if _, ok := resolve(ctx, links, cc); !ok {
				return &CommandResult{Content: notLinkedHint}, nil
			}
			if err := links.Unbind(ctx, cc.Platform, cc.UserID); err != nil {
				return nil, fmt.Errorf("unbind identity: %w", err)
			}
			return &CommandResult{Content: "Unlinked."}, nil
		},
	}
}

func whoamiCommand(links Linker) *Command {
	return &Command{
		Name:        "whoami",
		Description: "Show which identity this account is linked to",
		Usage:       "/whoami",
		Handler: func(ctx context.Context, _ string, cc *CommandContext) (*CommandResult, error) {
			identity, ok := resolve(ctx, links, cc)
			if !ok {
				return &CommandResult{Content: notLinkedHint}, nil
			}
			return &CommandResult{Content: "Linked to " + identity + "."}, nil
		},
	}
}

// ---------------------------------------------------------------------------
// /profile
// ---------------------------------------------------------------------------

func profileCommand(coaching Coach, links Linker) *Command {
	return &Command{
		Name:        "profile",
		Description: "Show your coaching profile",
		Usage:       "/profile",
		Handler: func(ctx context.Context, _ string, cc *CommandContext) (*CommandResult, error) {
			identity, ok := resolve(ctx, links, cc)
			if !ok {
				return &CommandResult{Content: notLinkedHint}, nil
			}
			p, err := coaching.Snapshot(ctx, identity)
			if err != nil {
				return nil, fmt.Errorf("load profile: %w", err)
			}
			if p == nil {
				return &CommandResult{Content: "No profile yet. Say hello to your coach to start one."}, nil
			}
			return &CommandResult{Content: prompt.Render(p), Data: p}, nil
		},
	}
}

// ---------------------------------------------------------------------------
// /log
// ---------------------------------------------------------------------------

var (
	logDateRe     = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	logDistanceRe = regexp.MustCompile(`^\d+(\.\d+)?(km|mi)$`)
	logDurationRe = regexp.MustCompile(`^(\d+h)?\d+m$`)
)

// parseLogArgs reads the free-form /log grammar: an optional
// YYYY-MM-DD date, a distance like 8km, a duration like 42m or
// 1h05m, an effort word, and anything left over becomes notes.
func parseLogArgs(args string) coach.ActivityEntry {
	var e coach.ActivityEntry
	var notes []string
	for _, tok := range strings.Fields(args) {
		if e.Date.IsZero() && logDateRe.MatchString(tok) {
			if d, err := time.Parse("2006-01-02", tok); err == nil {
				e.Date = d
				continue
			}
		}
		if e.Distance == "" && logDistanceRe.MatchString(tok) {
			e.Distance = tok
			continue
		}
		if e.Duration == "" && logDurationRe.MatchString(tok) {
			e.Duration = tok
			continue
		}
		if e.Effort == "" {
			if eff, err := coach.ParseEffort(tok); err == nil {
				e.Effort = eff
				continue
			}
		}
		notes = append(notes, tok)
	}
	e.Notes = strings.Join(notes, " ")
	return e
}

func logCommand(coaching Coach, links Linker) *Command {
	return &Command{
		Name:        "log",
		Description: "Log a run",
		Usage:       "/log [date] [distance] [duration] [effort] [notes...]",
		Handler: func(ctx context.Context, args string, cc *CommandContext) (*CommandResult, error) {
			identity, ok := resolve(ctx, links, cc)
			if !ok {
				return &CommandResult{Content: notLinkedHint}, nil
			}
			entry := parseLogArgs(args)
			p, err := coaching.LogActivity(ctx, identity, entry)
			if err != nil {
				return nil, fmt.Errorf("log activity: %w", err)
			}
			return &CommandResult{
				Content: fmt.Sprintf("Logged. %d activities on record.", len(p.Activities)),
			}, nil
		},
	}
}

// ---------------------------------------------------------------------------
// /usage
// ---------------------------------------------------------------------------

func usageCommand(coaching Coach, links Linker) *Command {
	return &Command{
		Name:        "usage",
		Description: "Show your request budget for the current window",
		Usage:       "/usage",
		Handler: func(ctx context.Context, _ string, cc *CommandContext) (*CommandResult, error) {
			identity, ok := resolve(ctx, links, cc)
			if !ok {
				return &CommandResult{Content: notLinkedHint}, nil
			}
			window, remaining, err := coaching.Usage(ctx, identity)
			if err != nil {
				return nil, fmt.Errorf("load usage: %w", err)
			}
			return &CommandResult{
				Content: fmt.Sprintf("Used %d requests since %s, %d remaining.",
					window.Count, window.WindowStart.Format(time.RFC3339), remaining),
			}, nil
		},
	}
}
