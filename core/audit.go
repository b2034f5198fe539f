package core

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Decision is one entitlement answer given to a caller.
type Decision struct {
	OrgID   uuid.UUID
	Kind    string // feature, limit, redirect or provision
	Subject string // feature, resource or path
	Allowed bool
	Reason  string
	At      time.Time
}

// DecisionLogger records entitlement decisions to an external sink.
// Implementations should be non-blocking and best-effort.
type DecisionLogger interface {
	LogDecision(ctx context.Context, d Decision) error
}

// LogrusDecisionLogger writes decisions as structured log lines.
type LogrusDecisionLogger struct {
	Log logrus.FieldLogger
}

func (l LogrusDecisionLogger) LogDecision(_ context.Context, d Decision) error {
	entry := l.Log.WithFields(logrus.Fields{
		"org_id":  d.OrgID,
		"kind":    d.Kind,
		"subject": d.Subject,
		"allowed": d.Allowed,
		"at":      d.At.Format(time.RFC3339),
	})
	if d.Reason != "" {
		entry = entry.WithField("reason", d.Reason)
	}
	if d.Allowed {
		entry.Debug("entitlement decision")
	} else {
		entry.Info("entitlement denied")
	}
	return nil
}
