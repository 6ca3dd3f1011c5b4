// Package api provides HTTP endpoints for entitlement evaluation,
// usage inspection, and tier cache invalidation.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/HelyeFab/moshimoshi-sub019/pkg/entitlements"
)

const maxUserIDLen = 255

// Handler provides HTTP endpoints for entitlement evaluation and inspection
type Handler struct {
	config Config
}

// Evaluate handles POST /v1/entitlements/evaluate. The decision is
// computed server side from the authoritative subscription record; the
// request body only names the feature and whether to consume a unit.
func (h *Handler) Evaluate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID := h.config.GetUserID(r)
	if userID == "" {
		h.handleError(w, r, fmt.Errorf("user ID not found"), http.StatusUnauthorized)
		return
	}
	if len(userID) > maxUserIDLen {
		h.handleError(w, r, fmt.Errorf("invalid user ID format"), http.StatusBadRequest)
		return
	}

	var req EvaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.handleError(w, r, fmt.Errorf("invalid request body: %w", err), http.StatusBadRequest)
		return
	}
	if req.FeatureID == "" {
		h.handleError(w, r, fmt.Errorf("feature_id is required"), http.StatusBadRequest)
		return
	}

	var (
		decision entitlements.Decision
		err      error
	)
	if req.Consume {
		decision, err = h.config.Manager.Consume(ctx, userID, req.FeatureID)
	} else {
		decision, err = h.config.Manager.Check(ctx, userID, req.FeatureID)
	}
	if err != nil {
		if errors.Is(err, entitlements.ErrInvalidFeature) {
			h.handleError(w, r, err, http.StatusBadRequest)
			return
		}
		// Storage problems never leak details to the caller.
		h.config.Logger.Error("evaluate failed",
			entitlements.Field{Key: "user_id", Value: userID},
			entitlements.Field{Key: "feature_id", Value: string(req.FeatureID)},
			entitlements.Field{Key: "error", Value: err.Error()},
		)
		h.handleError(w, r, fmt.Errorf("feature unavailable, try again"), http.StatusServiceUnavailable)
		return
	}

	writeJSON(w, http.StatusOK, decision)
}

// Usage handles GET /v1/entitlements/usage: a standardized JSON response
// of the user's current standing across every registered feature.
func (h *Handler) Usage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID := h.config.GetUserID(r)
	if userID == "" {
		h.handleError(w, r, fmt.Errorf("user ID not found"), http.StatusUnauthorized)
		return
	}
	if len(userID) > maxUserIDLen {
		h.handleError(w, r, fmt.Errorf("invalid user ID format"), http.StatusBadRequest)
		return
	}

	decisions, err := h.config.Manager.Snapshot(ctx, userID)
	if err != nil {
		h.config.Logger.Error("usage snapshot failed",
			entitlements.Field{Key: "user_id", Value: userID},
			entitlements.Field{Key: "error", Value: err.Error()},
		)
		h.handleError(w, r, fmt.Errorf("feature unavailable, try again"), http.StatusServiceUnavailable)
		return
	}

	plan := entitlements.PlanFree
	for _, d := range decisions {
		plan = d.Plan
		break
	}

	writeJSON(w, http.StatusOK, UsageResponse{
		UserID:   userID,
		Plan:     plan,
		Features: decisions,
	})
}

// Invalidate handles POST /v1/entitlements/invalidate. Billing events and
// admin tools call this to evict a cached tier so the next evaluation
// re-reads the authoritative record.
func (h *Handler) Invalidate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.config.InvalidateAuth == nil || !h.config.InvalidateAuth(r) {
		h.handleError(w, r, fmt.Errorf("unauthorized"), http.StatusUnauthorized)
		return
	}

	var req InvalidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.handleError(w, r, fmt.Errorf("invalid request body: %w", err), http.StatusBadRequest)
		return
	}
	if (req.UserID == "") == (req.CustomerID == "") {
		h.handleError(w, r, fmt.Errorf("exactly one of user_id or customer_id is required"), http.StatusBadRequest)
		return
	}

	resolver := h.config.Manager.Resolver()
	userID := req.UserID
	if userID != "" {
		resolver.Invalidate(userID)
	} else {
		var err error
		userID, err = resolver.InvalidateByCustomerID(ctx, req.CustomerID)
		if err != nil {
			if errors.Is(err, entitlements.ErrCustomerNotFound) {
				h.handleError(w, r, fmt.Errorf("unknown customer"), http.StatusNotFound)
				return
			}
			h.config.Logger.Error("invalidate by customer failed",
				entitlements.Field{Key: "customer_id", Value: req.CustomerID},
				entitlements.Field{Key: "error", Value: err.Error()},
			)
			h.handleError(w, r, fmt.Errorf("feature unavailable, try again"), http.StatusServiceUnavailable)
			return
		}
	}

	writeJSON(w, http.StatusOK, InvalidateResponse{
		UserID:      userID,
		Invalidated: true,
	})
}

// Routes registers the handler's endpoints on a ServeMux compatible router.
func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/entitlements/evaluate", h.Evaluate)
	mux.HandleFunc("GET /v1/entitlements/usage", h.Usage)
	mux.HandleFunc("POST /v1/entitlements/invalidate", h.Invalidate)
}

// handleError handles errors with appropriate HTTP status codes
func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error, statusCode int) {
	if h.config.OnError != nil {
		h.config.OnError(w, r, err)
		return
	}
	writeJSON(w, statusCode, ErrorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		// Response already committed, nothing left to do.
		_ = err
	}
}
