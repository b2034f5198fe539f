package entitlements

import (
	"math"
	"strconv"

	"github.com/dustin/go-humanize"
)

// Meter is one resource's usage against its plan limit.
type Meter struct {
	Resource     Resource `json:"resource"`
	Used         int64    `json:"used"`
	Limit        int64    `json:"limit"`
	Unlimited    bool     `json:"unlimited"`
	Percentage   int      `json:"percentage"`
	UsedDisplay  string   `json:"used_display"`
	LimitDisplay string   `json:"limit_display"`
}

type UsageReport struct {
	Plan   PlanID  `json:"plan"`
	Meters []Meter `json:"meters"`
}

// Usage renders snapshot against the plan of s. Meters reflect nominal plan
// limits; use CheckLimit to decide whether an allocation may proceed.
func (e *Evaluator) Usage(s State, snapshot UsageSnapshot) (UsageReport, error) {
	f, err := e.features(s)
	if err != nil {
		return UsageReport{}, err
	}
	report := UsageReport{Plan: s.Plan, Meters: make([]Meter, 0, len(Resources))}
	for _, r := range Resources {
		used := snapshot.Count(r)
		if used < 0 {
			return UsageReport{}, invalidArgf("negative usage for %s: %d", r, used)
		}
		report.Meters = append(report.Meters, meter(r, used, f.limit(r)))
	}
	return report, nil
}

func meter(r Resource, used, limit int64) Meter {
	m := Meter{Resource: r, Used: used, Limit: limit, Unlimited: limit == Unlimited}
	switch {
	case m.Unlimited:
		m.Percentage = 0
	case limit == 0:
		if used > 0 {
			m.Percentage = 100
		}
	default:
		m.Percentage = int(math.Round(float64(used) * 100 / float64(limit)))
	}
	m.UsedDisplay = display(r, used)
	if m.Unlimited {
		m.LimitDisplay = "unlimited"
	} else {
		m.LimitDisplay = display(r, limit)
	}
	return m
}

func display(r Resource, v int64) string {
	if r == ResourceStorage {
		return humanize.IBytes(uint64(v))
	}
	return strconv.FormatInt(v, 10)
}
