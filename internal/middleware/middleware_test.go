package middleware

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dubstudio/api/internal/auth"
	"github.com/gofiber/fiber/v2"
)

func newApp(handlers ...fiber.Handler) *fiber.App {
	app := fiber.New()
	handlers = append(handlers, func(c *fiber.Ctx) error {
		return c.SendString(GetUserID(c))
	})
	app.Get("/", handlers...)
	return app
}

func TestAuthenticate(t *testing.T) {
	v := auth.NewHMACVerifier("s3cret")
	token, _ := v.Issue("user-1", "", time.Hour)
	app := newApp(NewAuthMiddleware(v).Authenticate())

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", 401},
		{"wrong scheme", "Basic abc", 401},
		{"bad token", "Bearer nope", 401},
		{"valid", "Bearer " + token, 200},
		{"lowercase scheme", "bearer " + token, 200},
	}
	for _, tt := range tests {
		req := httptest.NewRequest("GET", "/", nil)
		if tt.header != "" {
			req.Header.Set("Authorization", tt.header)
		}
		resp, err := app.Test(req)
		if err != nil {
			t.Fatalf("%s: %v", tt.name, err)
		}
		if resp.StatusCode != tt.want {
			t.Errorf("%s: expected %d, got %d", tt.name, tt.want, resp.StatusCode)
		}
	}
}

func TestGatewayAuth(t *testing.T) {
	app := newApp(GatewayAuthMiddleware())

	resp, _ := app.Test(httptest.NewRequest("GET", "/", nil))
	if resp.StatusCode != 401 {
		t.Errorf("expected 401 without identity headers, got %d", resp.StatusCode)
	}

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-User-Id", "user-9")
	resp, _ = app.Test(req)
	if resp.StatusCode != 200 {
		t.Errorf("expected 200 with identity headers, got %d", resp.StatusCode)
	}
}

func TestRateLimiter_InMemory(t *testing.T) {
	app := newApp(NewRateLimiter(nil).Limit("test", 2, time.Hour))

	for i, want := range []int{200, 200, 429} {
		resp, err := app.Test(httptest.NewRequest("GET", "/", nil))
		if err != nil {
			t.Fatal(err)
		}
		if resp.StatusCode != want {
			t.Errorf("request %d: expected %d, got %d", i+1, want, resp.StatusCode)
		}
	}
}

func TestRateLimiter_Disabled(t *testing.T) {
	app := newApp(NewRateLimiter(nil).UploadLimit(0))
	for i := 0; i < 5; i++ {
		resp, _ := app.Test(httptest.NewRequest("GET", "/", nil))
		if resp.StatusCode != 200 {
			t.Fatalf("request %d: expected 200, got %d", i+1, resp.StatusCode)
		}
	}
}
