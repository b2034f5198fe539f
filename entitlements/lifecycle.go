package entitlements

import (
	"fmt"
	"time"
)

// TrialPhase is where an organization sits in the trial lifecycle at one instant.
// Transitions out of expired are made by the sweep, never by the evaluator.
type TrialPhase string

const (
	PhaseNone         TrialPhase = "none"
	PhaseActive       TrialPhase = "active"
	PhaseExpiringSoon TrialPhase = "expiring_soon"
	PhaseExpired      TrialPhase = "expired"
	PhaseDowngraded   TrialPhase = "downgraded"
	PhaseUpgraded     TrialPhase = "upgraded"
)

const (
	expiringSoonDays  = 3
	upgradeBannerDays = 7
)

// TrialStatus is the presentation view of a state's trial.
type TrialStatus struct {
	Plan              PlanID     `json:"plan"`
	Phase             TrialPhase `json:"phase"`
	IsProTrial        bool       `json:"is_pro_trial"`
	IsTrialExpired    bool       `json:"is_trial_expired"`
	TrialEndsAt       *time.Time `json:"trial_ends_at,omitempty"`
	DaysLeft          int        `json:"days_left"`
	HoursLeft         int        `json:"hours_left"`
	ShowUpgradeBanner bool       `json:"show_upgrade_banner"`
}

// Phase classifies s at now.
func (e *Evaluator) Phase(s State, now time.Time) (TrialPhase, error) {
	st, err := e.TrialStatus(s, now)
	if err != nil {
		return "", err
	}
	return st.Phase, nil
}

// TrialStatus summarizes the trial of s at now.
func (e *Evaluator) TrialStatus(s State, now time.Time) (TrialStatus, error) {
	if _, err := e.features(s); err != nil {
		return TrialStatus{}, err
	}
	st := TrialStatus{Plan: s.Plan, IsProTrial: s.Plan == PlanProTrial}
	switch s.Plan {
	case PlanSolo:
		st.Phase = PhaseDowngraded
		return st, nil
	case PlanPro:
		st.Phase = PhaseUpgraded
		return st, nil
	case PlanProTrial:
	default:
		st.Phase = PhaseNone
		return st, nil
	}

	deadline, ok := e.TrialDeadline(s)
	if !ok {
		st.Phase = PhaseNone
		return st, nil
	}
	st.TrialEndsAt = &deadline
	st.DaysLeft, _, _ = e.unitsLeft(s, now, 24*time.Hour)
	st.HoursLeft, _, _ = e.unitsLeft(s, now, time.Hour)
	st.IsTrialExpired = e.expired(s, now)

	switch {
	case st.IsTrialExpired:
		st.Phase = PhaseExpired
	case st.DaysLeft <= expiringSoonDays:
		st.Phase = PhaseExpiringSoon
	default:
		st.Phase = PhaseActive
	}
	st.ShowUpgradeBanner = st.IsTrialExpired || st.DaysLeft <= upgradeBannerDays
	return st, nil
}

// Notice is a short user-facing message with a billing call to action.
type Notice struct {
	Title   string `json:"title"`
	Message string `json:"message"`
	Action  string `json:"action"`
	Href    string `json:"href"`
}

// TrialNotice returns the banner for an expired or expiring trial, if any.
func TrialNotice(st TrialStatus) (Notice, bool) {
	switch st.Phase {
	case PhaseExpired:
		return Notice{
			Title:   "Trial Expired",
			Message: "Your 14-day Pro trial has ended. Upgrade now to continue using all features.",
			Action:  "Upgrade Now",
			Href:    "/billing",
		}, true
	case PhaseExpiringSoon:
		msg := fmt.Sprintf("Your trial expires in %d days.", st.DaysLeft)
		if st.DaysLeft == 1 {
			unit := "hours"
			if st.HoursLeft == 1 {
				unit = "hour"
			}
			msg = fmt.Sprintf("Your trial expires in %d %s!", st.HoursLeft, unit)
		}
		return Notice{
			Title:   "Trial Ending Soon",
			Message: msg + " Upgrade to Pro to keep all your features.",
			Action:  "View Plans",
			Href:    "/billing",
		}, true
	}
	return Notice{}, false
}

// UpgradePrompt explains that feature is not part of plan.
func UpgradePrompt(feature Feature, plan PlanID) Notice {
	return Notice{
		Title:   "Upgrade Required",
		Message: fmt.Sprintf("The %s feature requires an upgraded plan. Your current plan is %s.", feature, plan),
		Action:  "View Plans",
		Href:    "/billing",
	}
}
