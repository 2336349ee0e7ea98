package coach

import "time"

const (
	// MaxActivities caps the activity log. Appending beyond the cap
	// evicts the oldest entry.
	MaxActivities = 30

	// MaxPlans caps the saved plan list, oldest evicted first.
	MaxPlans = 12
)

// Profile is everything the coach remembers about one runner.
type Profile struct {
	Identity     string          `json:"identity"`
	Name         string          `json:"name,omitempty"`
	Experience   ExperienceTier  `json:"experience,omitempty"`
	Goal         string          `json:"goal,omitempty"`
	Availability string          `json:"availability,omitempty"`
	Event        string          `json:"event,omitempty"`
	Notes        string          `json:"notes,omitempty"`
	Feedback     string          `json:"feedback,omitempty"`
	Activities   []ActivityEntry `json:"activities,omitempty"`
	Plans        []PlanRecord    `json:"plans,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// NewProfile returns an empty profile for a normalized identity.
func NewProfile(identity string, now time.Time) *Profile {
	return &Profile{
		Identity:  identity,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// AppendActivity adds an entry to the log, evicting the oldest entry
// once the log is full.
func (p *Profile) AppendActivity(e ActivityEntry) {
	p.Activities = append(p.Activities, e)
	if len(p.Activities) > MaxActivities {
		p.Activities = p.Activities[len(p.Activities)-MaxActivities:]
	}
}

// AppendPlan adds a plan record, evicting the oldest once full.
func (p *Profile) AppendPlan(r PlanRecord) {
	p.Plans = append(p.Plans, r)
	if len(p.Plans) > MaxPlans {
		p.Plans = p.Plans[len(p.Plans)-MaxPlans:]
	}
}

// LatestPlan returns the most recently saved plan, or nil.
func (p *Profile) LatestPlan() *PlanRecord {
	if len(p.Plans) == 0 {
		return nil
	}
	return &p.Plans[len(p.Plans)-1]
}

// Facts is a partial profile update. Nil fields are left untouched,
// non-nil fields overwrite.
type Facts struct {
	Name         *string         `json:"name,omitempty"`
	Experience   *ExperienceTier `json:"experience,omitempty"`
	Goal         *string         `json:"goal,omitempty"`
	Availability *string         `json:"availability,omitempty"`
	Event        *string         `json:"event,omitempty"`
	Notes        *string         `json:"notes,omitempty"`
	Feedback     *string         `json:"feedback,omitempty"`
}

// Empty reports whether no field is set.
func (f Facts) Empty() bool {
	return f.Name == nil && f.Experience == nil && f.Goal == nil &&
		f.Availability == nil && f.Event == nil && f.Notes == nil && f.Feedback == nil
}

// Apply merges the set fields into the profile.
func (p *Profile) Apply(f Facts) {
	if f.Name != nil {
		p.Name = *f.Name
	}
	if f.Experience != nil {
		p.Experience = *f.Experience
	}
	if f.Goal != nil {
		p.Goal = *f.Goal
	}
	if f.Availability != nil {
		p.Availability = *f.Availability
	}
	if f.Event != nil {
		p.Event = *f.Event
	}
	if f.Notes != nil {
		p.Notes = *f.Notes
	}
	if f.Feedback != nil {
		p.Feedback = *f.Feedback
	}
}

// Clone returns a deep copy. Callers that hand profiles across
// goroutine boundaries copy first so no two holders share slices.
func (p *Profile) Clone() *Profile {
	if p == nil {
		return nil
	}
	cp := *p
	if p.Activities != nil {
		cp.Activities = make([]ActivityEntry, len(p.Activities))
		copy(cp.Activities, p.Activities)
	}
	if p.Plans != nil {
		cp.Plans = make([]PlanRecord, len(p.Plans))
		copy(cp.Plans, p.Plans)
	}
	return &cp
}

// Record is the full per-identity state snapshot a store holds: the
// profile plus the usage window, persisted and loaded as one unit.
type Record struct {
	Profile Profile      `json:"profile"`
	Usage   *UsageWindow `json:"usage,omitempty"`
}

// Clone returns a deep copy of the record.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	cp := Record{Profile: *r.Profile.Clone()}
	if r.Usage != nil {
		u := *r.Usage
		cp.Usage = &u
	}
	return &cp
}
