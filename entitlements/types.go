package entitlements

import (
	"strings"
	"time"
)

// PlanID names a subscription tier.
type PlanID string

const (
	PlanProTrial PlanID = "pro_trial"
	PlanSolo     PlanID = "solo"
	PlanPro      PlanID = "pro"
)

// KnownPlans lists the plans every catalog must define.
var KnownPlans = []PlanID{PlanProTrial, PlanSolo, PlanPro}

// Unlimited marks a numeric limit with no ceiling.
const Unlimited int64 = -1

type SupportLevel string

const (
	SupportStandard SupportLevel = "standard"
	SupportPriority SupportLevel = "priority"
)

// PlanFeatures is the fixed entitlement record of one plan.
type PlanFeatures struct {
	MaxProjects            int64        `json:"max_projects" mapstructure:"max_projects"`
	MaxStorageBytes        int64        `json:"max_storage_bytes" mapstructure:"max_storage_bytes"`
	MaxTeamMembers         int64        `json:"max_team_members" mapstructure:"max_team_members"`
	CanInviteMembers       bool         `json:"can_invite_members" mapstructure:"can_invite_members"`
	CanUseAdvancedFeatures bool         `json:"can_use_advanced_features" mapstructure:"can_use_advanced_features"`
	CanExportData          bool         `json:"can_export_data" mapstructure:"can_export_data"`
	HasSupport             bool         `json:"has_support" mapstructure:"has_support"`
	SupportLevel           SupportLevel `json:"support_level" mapstructure:"support_level"`
}

// Feature names a checkable entry of PlanFeatures.
type Feature string

const (
	FeatureMaxProjects    Feature = "max_projects"
	FeatureMaxStorage     Feature = "max_storage"
	FeatureMaxTeamMembers Feature = "max_team_members"
	FeatureInviteMembers  Feature = "can_invite_members"
	FeatureAdvanced       Feature = "can_use_advanced_features"
	FeatureExportData     Feature = "can_export_data"
	FeatureSupport        Feature = "has_support"
)

// BooleanFeatures are the on/off features surfaced to clients.
var BooleanFeatures = []Feature{FeatureInviteMembers, FeatureAdvanced, FeatureExportData, FeatureSupport}

// Resource is a countable allocation bounded by a plan limit.
type Resource string

const (
	ResourceProjects    Resource = "projects"
	ResourceStorage     Resource = "storage"
	ResourceTeamMembers Resource = "team_members"
)

// Resources lists every limited resource in display order.
var Resources = []Resource{ResourceProjects, ResourceTeamMembers, ResourceStorage}

// ParseResource accepts the canonical names plus the camelCase form used by web clients.
func ParseResource(s string) (Resource, error) {
	switch strings.TrimSpace(s) {
	case "projects":
		return ResourceProjects, nil
	case "storage":
		return ResourceStorage, nil
	case "team_members", "teamMembers":
		return ResourceTeamMembers, nil
	}
	return "", invalidArgf("unknown resource %q", s)
}

func (r Resource) label() string {
	if r == ResourceTeamMembers {
		return "team members"
	}
	return string(r)
}

// State is an organization's subscription state as seen by the evaluator.
// It is written only by billing and webhook flows.
type State struct {
	Plan           PlanID     `json:"plan"`
	TrialStartedAt *time.Time `json:"trial_started_at,omitempty"`
	TrialEndsAt    *time.Time `json:"trial_ends_at,omitempty"`
}

// NewTrialState opens a trial window starting at now.
func NewTrialState(now time.Time, duration time.Duration) State {
	if duration <= 0 {
		duration = DefaultTrialDuration
	}
	start := now.UTC()
	end := start.Add(duration)
	return State{Plan: PlanProTrial, TrialStartedAt: &start, TrialEndsAt: &end}
}

// LimitResult is a point-in-time answer to a limit check.
type LimitResult struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
	Limit   *int64 `json:"limit,omitempty"`
}

// UsageSnapshot holds current resource counts for one organization.
type UsageSnapshot struct {
	Projects     int64 `json:"projects"`
	TeamMembers  int64 `json:"team_members"`
	StorageBytes int64 `json:"storage_bytes"`
}

// Count returns the usage figure CheckLimit compares against r's limit.
func (u UsageSnapshot) Count(r Resource) int64 {
	switch r {
	case ResourceProjects:
		return u.Projects
	case ResourceTeamMembers:
		return u.TeamMembers
	default:
		return u.StorageBytes
	}
}
