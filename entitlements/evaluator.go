package entitlements

import (
	"fmt"
	"strings"
	"time"
)

// DefaultTrialDuration is the length of a pro_trial window.
const DefaultTrialDuration = 14 * 24 * time.Hour

// ReasonTrialExpired is the LimitResult reason once a trial has lapsed.
const ReasonTrialExpired = "trial expired"

var defaultExemptRoutes = []string{"/billing", "/support", "/login", "/signup"}

// Evaluator answers entitlement questions against an immutable Catalog.
// It holds no mutable state and is safe for concurrent use. Its answers are
// advisory: the authoritative check belongs in the transaction that allocates.
type Evaluator struct {
	catalog       *Catalog
	trialDuration time.Duration
	exemptRoutes  []string
	now           func() time.Time
}

type Option func(*Evaluator)

// WithTrialDuration sets the window used when a state has no explicit end.
func WithTrialDuration(d time.Duration) Option {
	return func(e *Evaluator) {
		if d > 0 {
			e.trialDuration = d
		}
	}
}

// WithBillingExemptRoutes replaces the routes that stay reachable after a trial expires.
func WithBillingExemptRoutes(routes ...string) Option {
	return func(e *Evaluator) {
		e.exemptRoutes = append([]string(nil), routes...)
	}
}

// WithClock sets the time source for CheckFeature and CheckLimit.
func WithClock(now func() time.Time) Option {
	return func(e *Evaluator) {
		if now != nil {
			e.now = now
		}
	}
}

// NewEvaluator builds an evaluator. A nil catalog selects DefaultCatalog.
func NewEvaluator(catalog *Catalog, opts ...Option) *Evaluator {
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	e := &Evaluator{
		catalog:       catalog,
		trialDuration: DefaultTrialDuration,
		exemptRoutes:  defaultExemptRoutes,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Evaluator) Catalog() *Catalog { return e.catalog }

func (e *Evaluator) TrialDuration() time.Duration { return e.trialDuration }

// Now returns the evaluator's current instant.
func (e *Evaluator) Now() time.Time { return e.now() }

// TrialDeadline returns the instant a trial ends: TrialEndsAt when set,
// otherwise TrialStartedAt plus the trial duration.
func (e *Evaluator) TrialDeadline(s State) (time.Time, bool) {
	if s.TrialEndsAt != nil {
		return *s.TrialEndsAt, true
	}
	if s.TrialStartedAt != nil {
		return s.TrialStartedAt.Add(e.trialDuration), true
	}
	return time.Time{}, false
}

func (e *Evaluator) features(s State) (PlanFeatures, error) {
	return e.catalog.Lookup(s.Plan)
}

// IsTrialExpired reports whether s is on pro_trial and now is at or past the deadline.
func (e *Evaluator) IsTrialExpired(s State, now time.Time) (bool, error) {
	if _, err := e.features(s); err != nil {
		return false, err
	}
	return e.expired(s, now), nil
}

func (e *Evaluator) expired(s State, now time.Time) bool {
	if s.Plan != PlanProTrial {
		return false
	}
	deadline, ok := e.TrialDeadline(s)
	return ok && !now.Before(deadline)
}

// DaysLeftInTrial returns ceil(remaining / 24h), floored at 0. ok is false when
// s is not on pro_trial or carries no trial window.
func (e *Evaluator) DaysLeftInTrial(s State, now time.Time) (days int, ok bool, err error) {
	return e.unitsLeft(s, now, 24*time.Hour)
}

// HoursLeftInTrial is DaysLeftInTrial in whole hours.
func (e *Evaluator) HoursLeftInTrial(s State, now time.Time) (hours int, ok bool, err error) {
	return e.unitsLeft(s, now, time.Hour)
}

func (e *Evaluator) unitsLeft(s State, now time.Time, unit time.Duration) (int, bool, error) {
	if _, err := e.features(s); err != nil {
		return 0, false, err
	}
	if s.Plan != PlanProTrial {
		return 0, false, nil
	}
	deadline, ok := e.TrialDeadline(s)
	if !ok {
		return 0, false, nil
	}
	remaining := deadline.Sub(now)
	if remaining <= 0 {
		return 0, true, nil
	}
	n := remaining / unit
	if remaining%unit != 0 {
		n++
	}
	return int(n), true, nil
}

// CheckFeature reports whether feature is enabled for s right now. An expired
// trial disables every feature. Numeric limits count as enabled when non-zero.
func (e *Evaluator) CheckFeature(s State, feature Feature) (bool, error) {
	f, err := e.features(s)
	if err != nil {
		return false, err
	}
	on, err := f.enabled(feature)
	if err != nil {
		return false, err
	}
	if e.expired(s, e.now()) {
		return false, nil
	}
	return on, nil
}

// CheckLimit reports whether allocating additional units of resource on top of
// current stays within the plan limit.
func (e *Evaluator) CheckLimit(s State, resource Resource, current, additional int64) (LimitResult, error) {
	f, err := e.features(s)
	if err != nil {
		return LimitResult{}, err
	}
	switch resource {
	case ResourceProjects, ResourceStorage, ResourceTeamMembers:
	default:
		return LimitResult{}, invalidArgf("unknown resource %q", resource)
	}
	if current < 0 || additional < 0 {
		return LimitResult{}, invalidArgf("negative count for %s (current=%d additional=%d)", resource, current, additional)
	}
	if e.expired(s, e.now()) {
		return LimitResult{Allowed: false, Reason: ReasonTrialExpired}, nil
	}
	limit := f.limit(resource)
	if limit == Unlimited {
		return LimitResult{Allowed: true}, nil
	}
	// current > limit-additional avoids overflowing current+additional.
	if current > limit-additional {
		return LimitResult{
			Allowed: false,
			Reason:  fmt.Sprintf("You've reached the %s limit for your %s plan (%d max)", resource.label(), s.Plan, limit),
			Limit:   &limit,
		}, nil
	}
	return LimitResult{Allowed: true, Limit: &limit}, nil
}

// RequiresBillingRedirect reports whether a request for path must be sent to
// the billing surface because the trial has expired.
func (e *Evaluator) RequiresBillingRedirect(s State, now time.Time, path string) (bool, error) {
	expired, err := e.IsTrialExpired(s, now)
	if err != nil || !expired {
		return false, err
	}
	return !e.exempt(path), nil
}

func (e *Evaluator) exempt(path string) bool {
	for _, r := range e.exemptRoutes {
		r = strings.TrimRight(r, "/")
		if r == "" {
			continue
		}
		if path == r || strings.HasPrefix(path, r+"/") {
			return true
		}
	}
	return false
}
