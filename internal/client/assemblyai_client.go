package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/signcast/api/internal/config"
	"github.com/signcast/api/internal/model"
)

// ErrTranscriberNotConfigured is returned when no API key is available
var ErrTranscriberNotConfigured = errors.New("transcription service not configured")

// Transcriber turns an audio file into a time-aligned transcript
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) (*model.Transcript, error)
	IsConfigured() bool
}

// AssemblyAIClient implements Transcriber for the AssemblyAI v2 API
type AssemblyAIClient struct {
	httpClient   *http.Client
	baseURL      string
	apiKey       string
	pollInterval time.Duration
	maxWait      time.Duration
	dualChannel  bool
}

// UploadResponse is returned by the upload endpoint
type UploadResponse struct {
	UploadURL string `json:"upload_url"`
}

// CreateTranscriptRequest represents the request for a new transcript
type CreateTranscriptRequest struct {
	AudioURL      string `json:"audio_url"`
	Punctuate     bool   `json:"punctuate"`
	FormatText    bool   `json:"format_text"`
	SpeakerLabels bool   `json:"speaker_labels"`
	DualChannel   bool   `json:"dual_channel"`
}

// TranscriptResult represents a transcript in any state
type TranscriptResult struct {
	ID     string       `json:"id"`
	Status string       `json:"status"`
	Text   string       `json:"text"`
	Words  []model.Word `json:"words"`
	Error  string       `json:"error,omitempty"`
}

// Transcript states reported by the service
const (
	TranscriptStatusQueued     = "queued"
	TranscriptStatusProcessing = "processing"
	TranscriptStatusCompleted  = "completed"
	TranscriptStatusError      = "error"
)

// NewAssemblyAIClient creates a new AssemblyAI API client
func NewAssemblyAIClient(cfg *config.AssemblyAIConfig) *AssemblyAIClient {
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &AssemblyAIClient{
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		baseURL:      cfg.BaseURL,
		apiKey:       cfg.APIKey,
		pollInterval: interval,
		maxWait:      cfg.MaxWait,
		dualChannel:  cfg.DualChannel,
	}
}

// Transcribe uploads the audio file, creates a transcript and waits for it
func (c *AssemblyAIClient) Transcribe(ctx context.Context, audioPath string) (*model.Transcript, error) {
	if !c.IsConfigured() {
		return nil, ErrTranscriberNotConfigured
	}

	uploadURL, err := c.Upload(ctx, audioPath)
	if err != nil {
		return nil, err
	}

	created, err := c.CreateTranscript(ctx, &CreateTranscriptRequest{
		AudioURL:    uploadURL,
		Punctuate:   true,
		FormatText:  true,
		DualChannel: c.dualChannel,
	})
	if err != nil {
		return nil, err
	}
	log.Printf("[AssemblyAI] Transcript ID: %s", created.ID)

	result, err := c.PollTranscript(ctx, created.ID, c.pollInterval, c.maxWait)
	if err != nil {
		return nil, err
	}

	return &model.Transcript{Text: result.Text, Words: result.Words}, nil
}

// Upload sends the raw audio bytes and returns the service-side URL
func (c *AssemblyAIClient) Upload(ctx context.Context, audioPath string) (string, error) {
	f, err := os.Open(audioPath)
	if err != nil {
		return "", fmt.Errorf("failed to open audio: %w", err)
	}
	defer f.Close()

	if info, err := f.Stat(); err == nil {
		log.Printf("[AssemblyAI] Uploading audio (%d bytes)", info.Size())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v2/upload", f)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	var result UploadResponse
	if err := c.doRequest(req, &result); err != nil {
		return "", err
	}
	if result.UploadURL == "" {
		return "", fmt.Errorf("assemblyai upload returned no url")
	}
	return result.UploadURL, nil
}

// CreateTranscript starts transcription of an uploaded file
func (c *AssemblyAIClient) CreateTranscript(ctx context.Context, body *CreateTranscriptRequest) (*TranscriptResult, error) {
	var result TranscriptResult
	if err := c.post(ctx, "/v2/transcript", body, &result); err != nil {
		return nil, err
	}
	if result.ID == "" {
		return nil, fmt.Errorf("assemblyai returned no transcript id")
	}
	return &result, nil
}

// GetTranscript retrieves a transcript in its current state
func (c *AssemblyAIClient) GetTranscript(ctx context.Context, id string) (*TranscriptResult, error) {
	var result TranscriptResult
	if err := c.get(ctx, "/v2/transcript/"+id, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// PollTranscript polls until the transcript completes or fails.
// A maxWait of zero polls for as long as the service reports progress.
func (c *AssemblyAIClient) PollTranscript(ctx context.Context, id string, interval time.Duration, maxWait time.Duration) (*TranscriptResult, error) {
	var deadline time.Time
	if maxWait > 0 {
		deadline = time.Now().Add(maxWait)
	}
	attempt := 0

	for deadline.IsZero() || time.Now().Before(deadline) {
		attempt++
		result, err := c.GetTranscript(ctx, id)
		if err != nil {
			log.Printf("[AssemblyAI] Poll #%d (transcript=%s) — error: %v", attempt, id, err)
			return nil, err
		}

		log.Printf("[AssemblyAI] Poll #%d (transcript=%s) — status: %s", attempt, id, result.Status)

		switch result.Status {
		case TranscriptStatusCompleted:
			return result, nil
		case TranscriptStatusError:
			return nil, fmt.Errorf("assemblyai error: %s", result.Error)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
			continue
		}
	}

	return nil, fmt.Errorf("transcription timed out after %v", maxWait)
}

// post sends a POST request with JSON body
func (c *AssemblyAIClient) post(ctx context.Context, endpoint string, body interface{}, result interface{}) error {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.doRequest(req, result)
}

// get sends a GET request and parses JSON response
func (c *AssemblyAIClient) get(ctx context.Context, endpoint string, result interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	return c.doRequest(req, result)
}

// doRequest executes an HTTP request and parses the response
func (c *AssemblyAIClient) doRequest(req *http.Request, result interface{}) error {
	req.Header.Set("Authorization", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Printf("[AssemblyAI] ✗ %s %s — request failed: %v", req.Method, req.URL.Path, err)
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("assemblyai API error (status %d): %s", resp.StatusCode, truncate(string(respBody), 300))
	}

	if err := json.Unmarshal(respBody, result); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return nil
}

// IsConfigured returns true if the client has valid configuration
func (c *AssemblyAIClient) IsConfigured() bool {
	return c.apiKey != ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
