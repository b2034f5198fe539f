package entitlements

import "sort"

const gib = int64(1) << 30

var defaultPlans = map[PlanID]PlanFeatures{
	PlanProTrial: {
		MaxProjects:            Unlimited,
		MaxStorageBytes:        100 * gib,
		MaxTeamMembers:         Unlimited,
		CanInviteMembers:       true,
		CanUseAdvancedFeatures: true,
		CanExportData:          true,
		HasSupport:             true,
		SupportLevel:           SupportPriority,
	},
	PlanSolo: {
		MaxProjects:            3,
		MaxStorageBytes:        5 * gib,
		MaxTeamMembers:         0,
		CanInviteMembers:       false,
		CanUseAdvancedFeatures: false,
		CanExportData:          true,
		HasSupport:             true,
		SupportLevel:           SupportStandard,
	},
	PlanPro: {
		MaxProjects:            Unlimited,
		MaxStorageBytes:        100 * gib,
		MaxTeamMembers:         Unlimited,
		CanInviteMembers:       true,
		CanUseAdvancedFeatures: true,
		CanExportData:          true,
		HasSupport:             true,
		SupportLevel:           SupportPriority,
	},
}

// Catalog is the immutable plan table. Build it once at startup and share it.
type Catalog struct {
	plans map[PlanID]PlanFeatures
}

// DefaultCatalog returns the built-in plan table.
func DefaultCatalog() *Catalog {
	c, err := NewCatalog(defaultPlans)
	if err != nil {
		panic("entitlements: default catalog invalid: " + err.Error())
	}
	return c
}

// NewCatalog copies and validates plans. Every plan in KnownPlans must be present.
func NewCatalog(plans map[PlanID]PlanFeatures) (*Catalog, error) {
	for _, id := range KnownPlans {
		if _, ok := plans[id]; !ok {
			return nil, invalidArgf("catalog missing plan %q", id)
		}
	}
	out := make(map[PlanID]PlanFeatures, len(plans))
	for id, f := range plans {
		if id == "" {
			return nil, invalidArgf("catalog has empty plan id")
		}
		for _, v := range []int64{f.MaxProjects, f.MaxStorageBytes, f.MaxTeamMembers} {
			if v < Unlimited {
				return nil, invalidArgf("plan %q has limit %d below -1", id, v)
			}
		}
		switch f.SupportLevel {
		case SupportStandard, SupportPriority:
		default:
			return nil, invalidArgf("plan %q has unknown support level %q", id, f.SupportLevel)
		}
		out[id] = f
	}
	return &Catalog{plans: out}, nil
}

// WithOverrides returns a new catalog with the given plans replaced or added.
func (c *Catalog) WithOverrides(overrides map[PlanID]PlanFeatures) (*Catalog, error) {
	merged := make(map[PlanID]PlanFeatures, len(c.plans)+len(overrides))
	for id, f := range c.plans {
		merged[id] = f
	}
	for id, f := range overrides {
		merged[id] = f
	}
	return NewCatalog(merged)
}

// Lookup returns the features for id. Unknown ids are an error, never a default.
func (c *Catalog) Lookup(id PlanID) (PlanFeatures, error) {
	f, ok := c.plans[id]
	if !ok {
		return PlanFeatures{}, invalidArgf("unknown plan %q", id)
	}
	return f, nil
}

// Plans returns the plan ids in sorted order.
func (c *Catalog) Plans() []PlanID {
	ids := make([]PlanID, 0, len(c.plans))
	for id := range c.plans {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (f PlanFeatures) limit(r Resource) int64 {
	switch r {
	case ResourceProjects:
		return f.MaxProjects
	case ResourceTeamMembers:
		return f.MaxTeamMembers
	default:
		return f.MaxStorageBytes
	}
}

func (f PlanFeatures) enabled(name Feature) (bool, error) {
	switch name {
	case FeatureInviteMembers:
		return f.CanInviteMembers, nil
	case FeatureAdvanced:
		return f.CanUseAdvancedFeatures, nil
	case FeatureExportData:
		return f.CanExportData, nil
	case FeatureSupport:
		return f.HasSupport, nil
	case FeatureMaxProjects:
		return f.MaxProjects != 0, nil
	case FeatureMaxStorage:
		return f.MaxStorageBytes != 0, nil
	case FeatureMaxTeamMembers:
		return f.MaxTeamMembers != 0, nil
	}
	return false, invalidArgf("unknown feature %q", name)
}
