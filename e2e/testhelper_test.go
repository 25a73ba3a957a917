package e2e

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/dubstudio/api/internal/auth"
	"github.com/dubstudio/api/internal/config"
	"github.com/dubstudio/api/internal/handler"
	"github.com/dubstudio/api/internal/history"
	"github.com/dubstudio/api/internal/middleware"
	"github.com/dubstudio/api/internal/model"
	"github.com/dubstudio/api/internal/service"
	"github.com/dubstudio/api/internal/status"
	ws "github.com/dubstudio/api/internal/websocket"
	"github.com/dubstudio/api/internal/worker"
)

const testJWTSecret = "test-secret-for-e2e"

// testApp holds all components needed for testing
type testApp struct {
	app       *fiber.App
	tracker   status.Tracker
	history   *history.Store
	uploadDir string
	resultDir string
	release   chan struct{}
}

type appOptions struct {
	capacity int
	// hold keeps every job in "processing" until release is closed.
	hold bool
	// noVerifier mounts /auth/verify without a token verifier.
	noVerifier bool
}

// setupApp creates a Fiber app wired like main.go on the in-memory backend.
// The worker pool runs a stand-in pipeline that walks the job through its
// stages and writes a placeholder result, so no ffmpeg or model API is needed.
func setupApp(t *testing.T) *testApp {
	return setupAppWith(t, appOptions{capacity: 8})
}

func setupAppWith(t *testing.T, opts appOptions) *testApp {
	t.Helper()

	root := t.TempDir()
	ta := &testApp{
		uploadDir: filepath.Join(root, "uploads"),
		resultDir: filepath.Join(root, "results"),
		release:   make(chan struct{}),
	}
	for _, dir := range []string{ta.uploadDir, ta.resultDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
	}

	store, err := history.Open(filepath.Join(root, "history.db"))
	if err != nil {
		t.Fatalf("failed to open history: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	ta.history = store

	hub := ws.NewHub()
	go hub.Run()
	ta.tracker = status.Notifying(status.NewMemoryTracker(), hub)

	pool := worker.NewPool(1, opts.capacity, func(ctx context.Context, p model.DubbingTaskPayload) error {
		return ta.fakePipeline(ctx, p, opts.hold)
	})
	ctx, cancel := context.WithCancel(context.Background())
	pool.Start(ctx)
	t.Cleanup(func() {
		select {
		case <-ta.release:
		default:
			close(ta.release)
		}
		cancel()
		pool.Stop()
	})

	svc := service.NewDubbingService(service.DubbingServiceOptions{
		Upload: config.UploadConfig{
			MaxSizeMB:         1,
			AllowedExtensions: []string{"mp4", "mov", "avi"},
		},
		UploadDir:  ta.uploadDir,
		ResultDir:  ta.resultDir,
		Tracker:    ta.tracker,
		Dispatcher: service.NewPoolDispatcher(pool),
		History:    store,
	})

	verifier := auth.NewHMACVerifier(testJWTSecret)
	rateLimiter := middleware.NewRateLimiter(nil)

	authHandler := handler.NewAuthHandler(verifier)
	if opts.noVerifier {
		authHandler = handler.NewAuthHandler(nil)
	}

	app := handler.NewApp(handler.AppConfig{BodyLimitMB: 4, Quiet: true})
	handler.Register(app, handler.Routes{
		Dubbing:     handler.NewDubbingHandler(svc),
		Auth:        authHandler,
		Hub:         hub,
		APIAuth:     middleware.NewAuthMiddleware(verifier).Authenticate(),
		UploadLimit: rateLimiter.UploadLimit(10000),
		Health: func() fiber.Map {
			return fiber.Map{
				"queue":   "memory",
				"asr":     "whisper",
				"tts":     "openai",
				"history": true,
				"pending": pool.Pending(),
			}
		},
	})
	ta.app = app
	return ta
}

// fakePipeline follows the orchestrator's stage and progress schedule.
func (ta *testApp) fakePipeline(ctx context.Context, p model.DubbingTaskPayload, hold bool) error {
	steps := []struct {
		status   model.JobStatus
		progress int
	}{
		{model.JobStatusProcessing, 0},
		{model.JobStatusTranscribing, 20},
		{model.JobStatusSynthesizing, 40},
		{model.JobStatusCombining, 60},
	}
	for i, s := range steps {
		if _, err := ta.tracker.SetStatus(ctx, p.JobID, s.status, s.progress, ""); err != nil {
			return err
		}
		if i == 0 && hold {
			<-ta.release
		}
	}

	out := filepath.Join(ta.resultDir, p.JobID+".mp4")
	if err := os.WriteFile(out, []byte("dubbed:"+p.SourceName), 0o644); err != nil {
		return err
	}
	// history first, so pollers that see "completed" also find the entry
	if err := ta.history.Record(ctx, model.JobHistoryEntry{
		JobID:       p.JobID,
		SourceName:  p.SourceName,
		Status:      model.JobStatusCompleted,
		Segments:    1,
		Clips:       1,
		CompletedAt: time.Now(),
	}); err != nil {
		return err
	}
	_, err := ta.tracker.SetStatus(ctx, p.JobID, model.JobStatusCompleted, 100, "")
	return err
}

// generateToken creates an HMAC JWT token for test requests.
func generateToken(t *testing.T) string {
	t.Helper()
	signed, err := auth.NewHMACVerifier(testJWTSecret).Issue("test-user-123", "test@example.com", time.Hour)
	if err != nil {
		t.Fatalf("failed to generate test token: %v", err)
	}
	return signed
}

// doRequest is a helper to perform HTTP requests against the test app.
func doRequest(app *fiber.App, method, path string, body string, headers map[string]string) (*http.Response, error) {
	var bodyReader io.Reader
	if body != "" {
		bodyReader = strings.NewReader(body)
	}

	req, err := http.NewRequest(method, path, bodyReader)
	if err != nil {
		return nil, err
	}

	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return app.Test(req, -1)
}

// doAuthRequest performs an authenticated request.
func doAuthRequest(t *testing.T, app *fiber.App, method, path, body string) (*http.Response, error) {
	t.Helper()
	token := generateToken(t)
	return doRequest(app, method, path, body, map[string]string{
		"Authorization": "Bearer " + token,
	})
}

// readBody reads and returns the response body as a string.
func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	return string(b)
}

// parseJSON parses response body into a map.
func parseJSON(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	body := readBody(t, resp)
	var result map[string]interface{}
	if err := json.Unmarshal([]byte(body), &result); err != nil {
		t.Fatalf("failed to parse JSON: %v\nbody: %s", err, body)
	}
	return result
}

// assertStatus checks the HTTP status code.
func assertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("expected status %d, got %d", expected, resp.StatusCode)
	}
}

// waitForStatus polls the status endpoint until the job reaches want.
func waitForStatus(t *testing.T, app *fiber.App, jobID string, want model.JobStatus) map[string]interface{} {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		resp, err := doAuthRequest(t, app, http.MethodGet, "/api/status/"+jobID, "")
		if err != nil {
			t.Fatalf("status request failed: %v", err)
		}
		body := parseJSON(t, resp)
		if body["status"] == string(want) {
			return body
		}
		if time.Now().After(deadline) {
			t.Fatalf("job %s never reached %s, last: %v", jobID, want, body)
		}
		time.Sleep(20 * time.Millisecond)
	}
}
