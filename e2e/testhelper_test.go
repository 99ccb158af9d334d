package e2e

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/signcast/api/internal/client"
	"github.com/signcast/api/internal/config"
	"github.com/signcast/api/internal/handler"
	"github.com/signcast/api/internal/model"
	"github.com/signcast/api/internal/plan"
	"github.com/signcast/api/internal/resolver"
	"github.com/signcast/api/internal/server"
	"github.com/signcast/api/internal/service"
	"github.com/signcast/api/internal/store"
	"github.com/signcast/api/internal/worker"
)

// testApp holds all components needed for testing
type testApp struct {
	app       *fiber.App
	pool      *worker.Pool
	merger    *recordingMerger
	outputDir string
	audioDir  string
}

// appOptions tweak the fake collaborators behind the test app
type appOptions struct {
	words        []model.Word
	transcriptOK bool
	signs        map[string][]string // token -> clip paths served by the fake sign site
	mergeErr     error
}

func defaultAppOptions() appOptions {
	return appOptions{
		words: []model.Word{
			{Text: "Hello,", Start: 0, End: 400},
			{Text: "zz9", Start: 400, End: 700},
		},
		transcriptOK: true,
		signs: map[string][]string{
			"hello": {"/media/hello.mp4"},
			"z":     {"/media/z.mp4"},
			"9":     {"/media/9.mp4"},
		},
	}
}

// setupApp creates a Fiber app identical to main.go, with the transcription
// and sign lookup services replaced by local fakes and ffmpeg by a recorder.
func setupApp(t *testing.T) *testApp {
	return setupAppWith(t, defaultAppOptions())
}

func setupAppWith(t *testing.T, opts appOptions) *testApp {
	t.Helper()

	aai := newFakeAssemblyAI(t, opts.words, opts.transcriptOK)
	signs := newFakeSignSite(t, opts.signs)

	transcriber := client.NewAssemblyAIClient(&config.AssemblyAIConfig{
		APIKey:       "test-key",
		BaseURL:      aai.URL,
		PollInterval: 10 * time.Millisecond,
		MaxWait:      5 * time.Second,
	})
	signClient := client.NewSignASLClient(&config.SignASLConfig{
		BaseURLs: []string{signs.URL},
		Timeout:  5 * time.Second,
	})

	clipResolver := resolver.New(signClient)
	planBuilder := plan.NewBuilder(clipResolver, 0, 0)
	merger := &recordingMerger{err: opts.mergeErr}

	outputDir := t.TempDir()
	audioDir := t.TempDir()
	svc := service.NewTranslateService(service.TranslateDeps{
		Store:       store.NewMemoryStore(),
		Transcriber: transcriber,
		Planner:     planBuilder,
		Merger:      merger,
		OutputDir:   outputDir,
		AudioDir:    audioDir,
	})
	pool := worker.NewPool(svc, 2)
	svc.SetDispatcher(pool)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		pool.Shutdown(ctx)
	})

	validate := validator.New()
	app := server.NewApp(server.Options{
		Translate: handler.NewTranslateHandler(svc, validate),
		Health: handler.NewHealthHandler(map[string]handler.HealthCheck{
			"transcription": func(context.Context) bool { return transcriber.IsConfigured() },
		}),
		OutputDir: outputDir,
	})

	return &testApp{app: app, pool: pool, merger: merger, outputDir: outputDir, audioDir: audioDir}
}

// newFakeAssemblyAI serves the upload, create and poll endpoints
func newFakeAssemblyAI(t *testing.T, words []model.Word, ok bool) *httptest.Server {
	t.Helper()
	var mu sync.Mutex
	polls := 0

	mux := http.NewServeMux()
	mux.HandleFunc("/v2/upload", func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		json.NewEncoder(w).Encode(map[string]string{"upload_url": "https://cdn.fake/audio"})
	})
	mux.HandleFunc("/v2/transcript", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"id": "tr-1", "status": "queued"})
	})
	mux.HandleFunc("/v2/transcript/tr-1", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		polls++
		n := polls
		mu.Unlock()

		if n < 2 {
			json.NewEncoder(w).Encode(map[string]string{"id": "tr-1", "status": "processing"})
			return
		}
		if !ok {
			json.NewEncoder(w).Encode(map[string]string{"id": "tr-1", "status": "error", "error": "audio has no speech"})
			return
		}
		var text []string
		for _, word := range words {
			text = append(text, word.Text)
		}
		json.NewEncoder(w).Encode(client.TranscriptResult{
			ID:     "tr-1",
			Status: "completed",
			Text:   strings.Join(text, " "),
			Words:  words,
		})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

// newFakeSignSite answers the JSON lookup API for the given tokens
func newFakeSignSite(t *testing.T, signs map[string][]string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/sign/", func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.URL.Path, "/api/sign/")
		paths, ok := signs[token]
		if !ok {
			http.NotFound(w, r)
			return
		}
		var items []map[string]string
		for _, p := range paths {
			items = append(items, map[string]string{"video_url": p})
		}
		json.NewEncoder(w).Encode(items)
	})
	mux.HandleFunc("/sign/", http.NotFound)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

// recordingMerger stands in for ffmpeg: it records the plan and writes a
// placeholder output file.
type recordingMerger struct {
	mu   sync.Mutex
	plan []model.PlanEntry
	err  error
}

func (m *recordingMerger) Merge(_ context.Context, p []model.PlanEntry, outputPath string) error {
	m.mu.Lock()
	m.plan = p
	m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	return os.WriteFile(outputPath, []byte("fake mp4"), 0o644)
}

func (m *recordingMerger) lastPlan() []model.PlanEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.plan
}

// wavBase64 is a RIFF/WAVE payload large enough to pass validation
func wavBase64() string {
	data := make([]byte, 4096)
	copy(data, "RIFF\x00\x10\x00\x00WAVEfmt ")
	return base64.StdEncoding.EncodeToString(data)
}

// waitForJob blocks until the pool settles jobID
func (ta *testApp) waitForJob(t *testing.T, jobID string) {
	t.Helper()
	done := ta.pool.Done(jobID)
	if done == nil {
		t.Fatalf("job %s was not dispatched", jobID)
	}
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatalf("job %s did not settle", jobID)
	}
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
