package entitlements

import (
	"context"
	"time"
)

// AuditAction classifies what produced an audit entry.
type AuditAction string

const (
	AuditCheck   AuditAction = "check"
	AuditConsume AuditAction = "consume"
	AuditGuard   AuditAction = "guard"
)

// AuditEntry records one evaluated or attempted operation for observability
// and later reconciliation.
type AuditEntry struct {
	UserID          string
	FeatureID       FeatureID
	Action          AuditAction
	Allow           bool
	Reason          Reason
	Remaining       int
	UsageAfter      int
	PolicyVersion   int
	Plan            Plan
	StorageLocation StorageLocation
	At              time.Time
	Metadata        map[string]string
}

// AuditSink receives audit entries. Sink failures are logged by callers but
// never block or change a decision.
type AuditSink interface {
	Record(ctx context.Context, entry *AuditEntry) error
}

// NoopAuditSink discards all entries.
type NoopAuditSink struct{}

func (NoopAuditSink) Record(_ context.Context, _ *AuditEntry) error { return nil }

// LogAuditSink writes audit entries to the structured logger. Useful when a
// log pipeline is the audit system of record.
type LogAuditSink struct {
	Logger Logger
}

func (s LogAuditSink) Record(_ context.Context, entry *AuditEntry) error {
	if s.Logger == nil {
		return nil
	}
	s.Logger.Info("audit",
		Field{Key: "user_id", Value: entry.UserID},
		Field{Key: "feature_id", Value: string(entry.FeatureID)},
		Field{Key: "action", Value: string(entry.Action)},
		Field{Key: "allow", Value: entry.Allow},
		Field{Key: "reason", Value: string(entry.Reason)},
		Field{Key: "remaining", Value: entry.Remaining},
		Field{Key: "policy_version", Value: entry.PolicyVersion},
		Field{Key: "plan", Value: string(entry.Plan)},
		Field{Key: "storage_location", Value: string(entry.StorageLocation)},
	)
	return nil
}
