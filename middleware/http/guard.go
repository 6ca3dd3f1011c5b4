package http

import (
	"context"
	"net/http"
	"time"

	"github.com/HelyeFab/moshimoshi-sub019/pkg/entitlements"
)

// GuardConfig configures the storage routing guard.
type GuardConfig struct {
	// Resolver resolves the authoritative tier (required).
	Resolver *entitlements.TierResolver

	// GetSession resolves the request identity (required).
	GetSession SessionResolver

	// Audit receives an entry for every invocation, rejections included
	// (default: noop).
	Audit entitlements.AuditSink

	// Logger is used for structured logging (default: NoopLogger).
	Logger entitlements.Logger

	// Metrics tracks guard outcomes (default: NoopMetrics).
	Metrics entitlements.Metrics

	// OnUnauthorized overrides the rejection response. The default replies
	// 401 with a "please sign in" body; it deliberately does not
	// distinguish a missing session from a failed tier resolution, so an
	// unauthenticated caller learns nothing about billing state.
	OnUnauthorized func(w http.ResponseWriter, r *http.Request)

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// StorageGuard wraps a write-bearing handler with the dual-storage routing
// gate. On each invocation it resolves the session, reads the current
// authoritative tier (never the cache, never a session claim), derives the
// StorageDecision, and injects it into the request context for the handler
// to branch on. The guard itself performs no writes.
//
// Fail-closed: when tier resolution fails the handler still runs, but with
// a free-plan, local-only decision. No session means rejection before any
// tier determination.
func StorageGuard(config GuardConfig) func(http.Handler) http.Handler {
	if config.Audit == nil {
		config.Audit = entitlements.NoopAuditSink{}
	}
	if config.Logger == nil {
		config.Logger = &entitlements.NoopLogger{}
	}
	if config.Metrics == nil {
		config.Metrics = &entitlements.NoopMetrics{}
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			now := config.Now().UTC()

			session, err := config.GetSession(r)
			if err != nil || session == nil || session.UserID == "" {
				config.Metrics.RecordGuardOutcome(entitlements.StorageNone, false)
				recordGuardAudit(r.Context(), config.Audit, config.Logger, "", entitlements.StorageNone, false, now)
				if config.OnUnauthorized != nil {
					config.OnUnauthorized(w, r)
				} else {
					writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "please sign in"})
				}
				return
			}

			sub, err := config.Resolver.ResolveAuthoritative(r.Context(), session.UserID)
			failedClosed := err != nil
			if failedClosed {
				config.Logger.Warn("storage guard failed closed",
					entitlements.Field{Key: "user_id", Value: session.UserID},
					entitlements.Field{Key: "error", Value: err.Error()},
				)
			}

			decision := entitlements.DeriveStorageDecision(sub, now)
			if failedClosed {
				// Belt and braces: a degraded resolution must never grant
				// shared writes, whatever the stale record said.
				decision = entitlements.StorageDecision{
					ShouldWriteToShared: false,
					Location:            entitlements.StorageLocal,
					IsPremium:           false,
					Plan:                entitlements.PlanFree,
				}
			}

			config.Metrics.RecordGuardOutcome(decision.Location, failedClosed)
			recordGuardAudit(r.Context(), config.Audit, config.Logger, session.UserID, decision.Location, failedClosed, now)

			ctx := context.WithValue(r.Context(), storageDecisionKey, decision)
			ctx = context.WithValue(ctx, sessionKey, session)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func recordGuardAudit(ctx context.Context, sink entitlements.AuditSink, logger entitlements.Logger,
	userID string, location entitlements.StorageLocation, failedClosed bool, at time.Time,
) {
	entry := &entitlements.AuditEntry{
		UserID:          userID,
		Action:          entitlements.AuditGuard,
		Allow:           location != entitlements.StorageNone,
		StorageLocation: location,
		At:              at,
	}
	if failedClosed {
		entry.Metadata = map[string]string{"failed_closed": "true"}
	}
	if err := sink.Record(ctx, entry); err != nil {
		logger.Error("guard audit record failed",
			entitlements.Field{Key: "user_id", Value: userID},
			entitlements.Field{Key: "error", Value: err.Error()},
		)
	}
}
