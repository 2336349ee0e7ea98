// Package actor serializes all work for one identity behind a keyed
// mutex and runs the chat pipeline: validate, ensure the record,
// charge the budget, build the context, hand off to the model.
package actor

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pacerhq/pacer/internal/coach"
	"github.com/pacerhq/pacer/internal/llm"
	"github.com/pacerhq/pacer/internal/payload"
	"github.com/pacerhq/pacer/internal/prompt"
	"github.com/pacerhq/pacer/internal/ratelimit"
	"github.com/pacerhq/pacer/internal/state"
)

// Stream is an accepted chat request's reply: the provider's raw
// event stream, ready to relay. The consumer closes Body.
type Stream struct {
	Identity string
	Body     io.ReadCloser
}

// Dispatcher routes every identity-bearing operation through the
// identity's section.
type Dispatcher struct {
	registry *Registry
	store    state.Store
	limiter  *ratelimit.Limiter
	client   llm.Client
	base     string
	logger   *zap.Logger
}

// NewDispatcher wires the pipeline. base is the system instruction
// text every conversation starts from.
func NewDispatcher(store state.Store, limiter *ratelimit.Limiter, client llm.Client, base string, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		registry: NewRegistry(),
		store:    store,
		limiter:  limiter,
		client:   client,
		base:     base,
		logger:   logger,
	}
}

// begin acquires the identity's section and runs the shared pipeline
// steps: ensure the record exists, charge the budget, load the
// profile, build the outbound context. On success the section is
// still held and the returned release must be called. On error the
// section has already been released.
func (d *Dispatcher) begin(ctx context.Context, identity string, msgs []payload.Message) ([]llm.Message, func(), error) {
	unlock := d.registry.Lock(identity)
	if err := d.store.EnsureActive(ctx, identity); err != nil {
		unlock()
		return nil, nil, fmt.Errorf("ensure record: %w", err)
	}
	if err := d.limiter.Admit(ctx, identity); err != nil {
		unlock()
		return nil, nil, err
	}
	profile, err := d.store.GetProfile(ctx, identity)
	if err != nil {
		unlock()
		return nil, nil, fmt.Errorf("load profile: %w", err)
	}
	return prompt.Build(d.base, msgs, profile), unlock, nil
}

// Handle parses a chat request body and opens the reply stream.
// Parsing is stateless and runs before the section; the section
// covers everything from the record touch through the stream handoff,
// and is released once the handoff returns so the relay never blocks
// the identity's next request.
func (d *Dispatcher) Handle(ctx context.Context, body io.Reader) (*Stream, error) {
	req, err := payload.Parse(body)
	if err != nil {
		return nil, err
	}

	msgs, release, err := d.begin(ctx, req.Identity, req.Messages)
	if err != nil {
		return nil, err
	}
	defer release()

	out, err := d.client.Stream(ctx, msgs)
	if err != nil {
		return nil, fmt.Errorf("open stream: %w", err)
	}
	d.logger.Debug("chat dispatched",
		zap.String("identity", req.Identity),
		zap.Int("messages", len(msgs)))
	return &Stream{Identity: req.Identity, Body: out}, nil
}

// Converse runs the buffered pipeline for chat gateways: one user
// message in, the full reply text out. The section is released before
// the completion call; generation does not block the identity.
func (d *Dispatcher) Converse(ctx context.Context, identity, text string) (string, error) {
	identity = coach.NormalizeIdentity(identity)
	text = payload.Truncate(strings.TrimSpace(text))
	if text == "" {
		return "", &payload.ValidationError{Issues: []payload.Issue{
			{Path: []string{"text"}, Message: "message text is required"},
		}}
	}

	msgs, release, err := d.begin(ctx, identity, []payload.Message{{Role: "user", Content: text}})
	if err != nil {
		return "", err
	}
	release()

	reply, err := d.client.Complete(ctx, msgs)
	if err != nil {
		return "", fmt.Errorf("complete: %w", err)
	}
	return reply, nil
}

// LogActivity appends a workout to the identity's log, evicting the
// oldest entry past the cap.
func (d *Dispatcher) LogActivity(ctx context.Context, identity string, e coach.ActivityEntry) (*coach.Profile, error) {
	identity = coach.NormalizeIdentity(identity)
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Date.IsZero() {
		e.Date = time.Now().UTC()
	}

	unlock := d.registry.Lock(identity)
	defer unlock()

	p, err := d.store.UpsertProfile(ctx, identity, func(p *coach.Profile) {
		p.AppendActivity(e)
	})
	if err != nil {
		return nil, fmt.Errorf("log activity: %w", err)
	}
	d.logger.Info("activity logged",
		zap.String("identity", identity),
		zap.String("activity", e.ID))
	return p, nil
}

// SavePlan appends a training plan, evicting the oldest past the cap.
// Summary is required.
func (d *Dispatcher) SavePlan(ctx context.Context, identity string, r coach.PlanRecord) (*coach.Profile, error) {
	identity = coach.NormalizeIdentity(identity)
	if strings.TrimSpace(r.Summary) == "" {
		return nil, &payload.ValidationError{Issues: []payload.Issue{
			{Path: []string{"summary"}, Message: "summary is required"},
		}}
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}

	unlock := d.registry.Lock(identity)
	defer unlock()

	p, err := d.store.UpsertProfile(ctx, identity, func(p *coach.Profile) {
		p.AppendPlan(r)
	})
	if err != nil {
		return nil, fmt.Errorf("save plan: %w", err)
	}
	d.logger.Info("plan saved",
		zap.String("identity", identity),
		zap.String("plan", r.ID))
	return p, nil
}

// UpdateFacts overwrites the supplied profile fields and leaves the
// rest untouched.
func (d *Dispatcher) UpdateFacts(ctx context.Context, identity string, f coach.Facts) (*coach.Profile, error) {
	identity = coach.NormalizeIdentity(identity)

	unlock := d.registry.Lock(identity)
	defer unlock()

	p, err := d.store.UpsertProfile(ctx, identity, func(p *coach.Profile) {
		p.Apply(f)
	})
	if err != nil {
		return nil, fmt.Errorf("update facts: %w", err)
	}
	return p, nil
}

// Snapshot reads the identity's profile inside the section, so the
// caller observes a settled record rather than a mid-mutation one.
// Returns nil when the identity has no record.
func (d *Dispatcher) Snapshot(ctx context.Context, identity string) (*coach.Profile, error) {
	identity = coach.NormalizeIdentity(identity)

	unlock := d.registry.Lock(identity)
	defer unlock()

	p, err := d.store.GetProfile(ctx, identity)
	if err != nil {
		return nil, fmt.Errorf("load profile: %w", err)
	}
	return p, nil
}

// Usage reports the identity's current window and remaining budget.
func (d *Dispatcher) Usage(ctx context.Context, identity string) (coach.UsageWindow, int, error) {
	identity = coach.NormalizeIdentity(identity)

	unlock := d.registry.Lock(identity)
	defer unlock()

	return d.limiter.Status(ctx, identity)
}

// ActiveIdentity returns the most recently served identity, or "".
func (d *Dispatcher) ActiveIdentity(ctx context.Context) (string, error) {
	return d.store.ActiveIdentity(ctx)
}
