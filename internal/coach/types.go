package coach

import (
	"fmt"
	"strings"
	"time"
)

// ExperienceTier grades how seasoned a runner is.
type ExperienceTier string

const (
	TierBeginner     ExperienceTier = "beginner"
	TierIntermediate ExperienceTier = "intermediate"
	TierAdvanced     ExperienceTier = "advanced"
	TierElite        ExperienceTier = "elite"
)

// ParseTier validates a tier label. Input is trimmed and lowercased first.
func ParseTier(s string) (ExperienceTier, error) {
	t := ExperienceTier(strings.ToLower(strings.TrimSpace(s)))
	switch t {
	case TierBeginner, TierIntermediate, TierAdvanced, TierElite:
		return t, nil
	}
	return "", fmt.Errorf("unknown experience tier: %q", s)
}

// Effort is the qualitative intensity tag on a logged activity.
type Effort string

const (
	EffortEasy     Effort = "easy"
	EffortModerate Effort = "moderate"
	EffortHard     Effort = "hard"
	EffortRace     Effort = "race"
)

// ParseEffort validates an effort label. Input is trimmed and lowercased first.
func ParseEffort(s string) (Effort, error) {
	e := Effort(strings.ToLower(strings.TrimSpace(s)))
	switch e {
	case EffortEasy, EffortModerate, EffortHard, EffortRace:
		return e, nil
	}
	return "", fmt.Errorf("unknown effort tag: %q", s)
}

// ActivityEntry is one logged workout. Immutable once appended.
type ActivityEntry struct {
	ID       string    `json:"id"`
	Date     time.Time `json:"date"`
	Distance string    `json:"distance,omitempty"`
	Duration string    `json:"duration,omitempty"`
	Effort   Effort    `json:"effort,omitempty"`
	Notes    string    `json:"notes,omitempty"`
}

// PlanRecord is one saved training plan. Immutable once appended.
type PlanRecord struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Title     string    `json:"title,omitempty"`
	Focus     string    `json:"focus,omitempty"`
	Summary   string    `json:"summary"`
	Schedule  string    `json:"schedule,omitempty"`
}

// UsageWindow counts requests admitted since WindowStart.
type UsageWindow struct {
	Count       int       `json:"count"`
	WindowStart time.Time `json:"window_start"`
}

// NormalizeIdentity reduces an identity string to its canonical form.
// Two identities differing only by case or surrounding whitespace
// normalize to the same key. Idempotent.
func NormalizeIdentity(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
