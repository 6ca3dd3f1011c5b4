package fiber

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/HelyeFab/moshimoshi-sub019/pkg/entitlements"
	"github.com/HelyeFab/moshimoshi-sub019/storage/memory"
)

var testNow = time.Date(2025, 1, 14, 12, 0, 0, 0, time.UTC)

func setupTestManager(t *testing.T) (*entitlements.Manager, *memory.Store) {
	t.Helper()

	store := memory.New()
	resolver, err := entitlements.NewTierResolver(entitlements.TierResolverConfig{Store: store})
	if err != nil {
		t.Fatalf("Failed to create resolver: %v", err)
	}
	manager, err := entitlements.NewManager(entitlements.Config{
		Catalog:  entitlements.DefaultCatalog(),
		Policy:   entitlements.DefaultPolicy(),
		Usage:    store,
		Resolver: resolver,
		Now:      func() time.Time { return testNow },
	})
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}
	return manager, store
}

func setupPremium(t *testing.T, store *memory.Store, userID string) {
	t.Helper()

	err := store.SetSubscription(context.Background(), &entitlements.Subscription{
		UserID:           userID,
		Plan:             entitlements.PlanPremiumMonthly,
		Status:           entitlements.StatusActive,
		CurrentPeriodEnd: testNow.Add(30 * 24 * time.Hour),
	})
	if err != nil {
		t.Fatalf("Failed to set subscription: %v", err)
	}
}

func TestMiddleware_Success(t *testing.T) {
	manager, store := setupTestManager(t)
	setupPremium(t, store, "user1")

	app := fiber.New()
	app.Use(Middleware(Config{
		Manager:    manager,
		GetUserID:  FromHeader("X-User-ID"),
		GetFeature: FixedFeature(entitlements.FeatureTTSGeneration),
	}))
	app.Post("/api/tts", func(c *fiber.Ctx) error {
		d, ok := DecisionFromContext(c)
		if !ok {
			t.Error("decision missing from locals")
		}
		if d.Plan != entitlements.PlanPremiumMonthly {
			t.Errorf("plan = %s", d.Plan)
		}
		return c.SendString("success")
	})

	req := httptest.NewRequest(http.MethodPost, "/api/tts", http.NoBody)
	req.Header.Set("X-User-ID", "user1")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("Test request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != fiber.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "success" {
		t.Errorf("Expected body 'success', got %q", string(body))
	}
}

func TestMiddleware_Unauthorized(t *testing.T) {
	manager, _ := setupTestManager(t)

	app := fiber.New()
	app.Use(Middleware(Config{
		Manager:    manager,
		GetUserID:  FromHeader("X-User-ID"),
		GetFeature: FixedFeature(entitlements.FeatureSentenceAnalysis),
	}))
	app.Post("/api/analyze", func(c *fiber.Ctx) error {
		return c.SendString("success")
	})

	req := httptest.NewRequest(http.MethodPost, "/api/analyze", http.NoBody)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("Test request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != fiber.StatusUnauthorized {
		t.Errorf("Expected status 401, got %d", resp.StatusCode)
	}
}

func TestMiddleware_LimitReached(t *testing.T) {
	manager, _ := setupTestManager(t)

	app := fiber.New()
	app.Use(Middleware(Config{
		Manager:    manager,
		GetUserID:  FromHeader("X-User-ID"),
		GetFeature: FixedFeature(entitlements.FeatureSentenceAnalysis),
	}))
	app.Post("/api/analyze", func(c *fiber.Ctx) error {
		return c.SendString("success")
	})

	// Free plan: 5 per day.
	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/analyze", http.NoBody)
		req.Header.Set("X-User-ID", "user1")
		resp, err := app.Test(req)
		if err != nil {
			t.Fatalf("Request %d failed: %v", i, err)
		}
		resp.Body.Close()
		if resp.StatusCode != fiber.StatusOK {
			t.Fatalf("Request %d: expected status 200, got %d", i, resp.StatusCode)
		}
	}

	req := httptest.NewRequest(http.MethodPost, "/api/analyze", http.NoBody)
	req.Header.Set("X-User-ID", "user1")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("Test request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != fiber.StatusTooManyRequests {
		t.Fatalf("Expected status 429, got %d", resp.StatusCode)
	}
	var d entitlements.Decision
	if err := json.NewDecoder(resp.Body).Decode(&d); err != nil {
		t.Fatalf("Failed to decode body: %v", err)
	}
	if d.Reason != entitlements.ReasonLimitReached {
		t.Errorf("reason = %s", d.Reason)
	}
	if d.Remaining != 0 {
		t.Errorf("remaining = %d, want 0", d.Remaining)
	}
}

func TestMiddleware_NoPermission(t *testing.T) {
	manager, _ := setupTestManager(t)

	app := fiber.New()
	app.Use(Middleware(Config{
		Manager:    manager,
		GetUserID:  FromHeader("X-User-ID"),
		GetFeature: FixedFeature(entitlements.FeatureTTSGeneration),
	}))
	app.Post("/api/tts", func(c *fiber.Ctx) error {
		return c.SendString("success")
	})

	req := httptest.NewRequest(http.MethodPost, "/api/tts", http.NoBody)
	req.Header.Set("X-User-ID", "free-user")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("Test request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != fiber.StatusForbidden {
		t.Errorf("Expected status 403, got %d", resp.StatusCode)
	}
}

func TestMiddleware_AllowGuests(t *testing.T) {
	manager, _ := setupTestManager(t)

	app := fiber.New()
	app.Use(Middleware(Config{
		Manager:     manager,
		GetUserID:   FromHeader("X-User-ID"),
		GetFeature:  FixedFeature(entitlements.FeatureSentenceAnalysis),
		AllowGuests: true,
	}))
	app.Post("/api/analyze", func(c *fiber.Ctx) error {
		d, _ := DecisionFromContext(c)
		return c.JSON(d)
	})

	req := httptest.NewRequest(http.MethodPost, "/api/analyze", http.NoBody)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("Test request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}
	var d entitlements.Decision
	if err := json.NewDecoder(resp.Body).Decode(&d); err != nil {
		t.Fatalf("Failed to decode body: %v", err)
	}
	if d.Plan != entitlements.PlanGuest {
		t.Errorf("plan = %s, want guest", d.Plan)
	}
}

func TestMiddleware_InvalidFeature(t *testing.T) {
	manager, _ := setupTestManager(t)

	app := fiber.New()
	app.Use(Middleware(Config{
		Manager:    manager,
		GetUserID:  FromHeader("X-User-ID"),
		GetFeature: FeatureFromParam("feature"),
	}))
	app.Post("/api/:feature", func(c *fiber.Ctx) error {
		return c.SendString("success")
	})

	req := httptest.NewRequest(http.MethodPost, "/api/nonexistent", http.NoBody)
	req.Header.Set("X-User-ID", "user1")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("Test request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != fiber.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", resp.StatusCode)
	}
}

func TestMiddleware_CustomOnDenied(t *testing.T) {
	manager, _ := setupTestManager(t)

	app := fiber.New()
	app.Use(Middleware(Config{
		Manager:    manager,
		GetUserID:  FromHeader("X-User-ID"),
		GetFeature: FixedFeature(entitlements.FeatureTTSGeneration),
		OnDenied: func(c *fiber.Ctx, d entitlements.Decision) error {
			return c.Status(fiber.StatusPaymentRequired).JSON(fiber.Map{"upgrade": "required"})
		},
	}))
	app.Post("/api/tts", func(c *fiber.Ctx) error {
		return c.SendString("success")
	})

	req := httptest.NewRequest(http.MethodPost, "/api/tts", http.NoBody)
	req.Header.Set("X-User-ID", "free-user")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("Test request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != fiber.StatusPaymentRequired {
		t.Errorf("Expected status 402, got %d", resp.StatusCode)
	}
}

func TestMiddleware_PanicsOnMissingConfig(t *testing.T) {
	manager, _ := setupTestManager(t)

	tests := []struct {
		name string
		cfg  Config
	}{
		{"missing manager", Config{GetUserID: FromHeader("X"), GetFeature: FixedFeature("f")}},
		{"missing extractor", Config{Manager: manager, GetFeature: FixedFeature("f")}},
		{"missing feature", Config{Manager: manager, GetUserID: FromHeader("X")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Error("expected panic")
				}
			}()
			Middleware(tt.cfg)
		})
	}
}
