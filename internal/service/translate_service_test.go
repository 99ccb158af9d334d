package service

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/signcast/api/internal/model"
	"github.com/signcast/api/internal/store"
)

type fakeTranscriber struct {
	transcript *model.Transcript
	err        error
}

func (f *fakeTranscriber) Transcribe(context.Context, string) (*model.Transcript, error) {
	return f.transcript, f.err
}

func (f *fakeTranscriber) IsConfigured() bool { return true }

type stubPlanner struct {
	plan []model.PlanEntry
}

func (p *stubPlanner) Build(context.Context, []model.Word) []model.PlanEntry {
	return p.plan
}

type fakeMerger struct {
	err error
}

func (m *fakeMerger) Merge(_ context.Context, _ []model.PlanEntry, outputPath string) error {
	if m.err != nil {
		return m.err
	}
	return os.WriteFile(outputPath, []byte("mp4"), 0o644)
}

type recordingDispatcher struct {
	mu       sync.Mutex
	payloads []*model.TranslateJobPayload
	err      error
}

func (d *recordingDispatcher) Dispatch(_ context.Context, p *model.TranslateJobPayload) error {
	if d.err != nil {
		return d.err
	}
	d.mu.Lock()
	d.payloads = append(d.payloads, p)
	d.mu.Unlock()
	return nil
}

func (d *recordingDispatcher) last(t *testing.T) *model.TranslateJobPayload {
	t.Helper()
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.payloads) == 0 {
		t.Fatal("nothing dispatched")
	}
	return d.payloads[len(d.payloads)-1]
}

type fakePublisher struct {
	err  error
	keys []string
}

func (p *fakePublisher) Upload(_ context.Context, key string, body io.Reader, _ string) (string, error) {
	if p.err != nil {
		return "", p.err
	}
	io.Copy(io.Discard, body)
	p.keys = append(p.keys, key)
	return p.GetPublicURL(key), nil
}

func (p *fakePublisher) GetPublicURL(key string) string {
	return "https://cdn.example.com/" + key
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *recordingNotifier) add(e string) {
	n.mu.Lock()
	n.events = append(n.events, e)
	n.mu.Unlock()
}

func (n *recordingNotifier) BroadcastProgress(_ string, _ int, _ model.JobStatus, step string) {
	n.add("progress:" + step)
}

func (n *recordingNotifier) BroadcastComplete(_ string, r model.VideoStatusResponse) {
	n.add("complete:" + r.VideoURL)
}

func (n *recordingNotifier) BroadcastError(_ string, code, _ string) {
	n.add("error:" + code)
}

type fixture struct {
	svc        *TranslateService
	store      *store.MemoryStore
	dispatcher *recordingDispatcher
	transcribe *fakeTranscriber
	planner    *stubPlanner
	merger     *fakeMerger
	notifier   *recordingNotifier
	outputDir  string
	audioDir   string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:      store.NewMemoryStore(),
		dispatcher: &recordingDispatcher{},
		transcribe: &fakeTranscriber{transcript: &model.Transcript{
			Text:  "hello world",
			Words: []model.Word{{Text: "hello", Start: 0, End: 400}, {Text: "world", Start: 400, End: 900}},
		}},
		planner: &stubPlanner{plan: []model.PlanEntry{
			{Clip: model.ClipRef{URL: "https://x/hello.mp4"}, Duration: 0.4, Token: "hello"},
		}},
		merger:    &fakeMerger{},
		notifier:  &recordingNotifier{},
		outputDir: t.TempDir(),
		audioDir:  t.TempDir(),
	}
	f.svc = NewTranslateService(TranslateDeps{
		Store:       f.store,
		Transcriber: f.transcribe,
		Planner:     f.planner,
		Merger:      f.merger,
		Notifier:    f.notifier,
		Dispatcher:  f.dispatcher,
		OutputDir:   f.outputDir,
		AudioDir:    f.audioDir,
	})
	return f
}

// wavBytes is a RIFF/WAVE header padded past the minimum size
func wavBytes() []byte {
	data := make([]byte, 2048)
	copy(data, "RIFF\x00\x08\x00\x00WAVEfmt ")
	return data
}

func encodedWav() string {
	return base64.StdEncoding.EncodeToString(wavBytes())
}

func (f *fixture) submitAndRun(t *testing.T) (string, error) {
	t.Helper()
	ctx := context.Background()
	jobID, err := f.svc.Submit(ctx, "clip.wav", encodedWav())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	p := f.dispatcher.last(t)
	return jobID, f.svc.Run(ctx, p.JobID, p.AudioPath)
}

func TestSubmit_QueuesProcessingJob(t *testing.T) {
	f := newFixture(t)

	jobID, err := f.svc.Submit(context.Background(), "voice.wav", encodedWav())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	st := f.svc.Status(context.Background(), jobID)
	if st.Status != model.JobStatusProcessing {
		t.Fatalf("expected processing, got %s", st.Status)
	}

	p := f.dispatcher.last(t)
	if p.JobID != jobID {
		t.Errorf("dispatched %s, want %s", p.JobID, jobID)
	}
	if want := filepath.Join(f.audioDir, "temp_"+jobID+".wav"); p.AudioPath != want {
		t.Errorf("audio path %s, want %s", p.AudioPath, want)
	}
	if _, err := os.Stat(p.AudioPath); err != nil {
		t.Errorf("expected temp audio file: %v", err)
	}
}

func TestSubmit_ExtensionFallsBackToSniffedType(t *testing.T) {
	f := newFixture(t)

	if _, err := f.svc.Submit(context.Background(), "voice.exe", encodedWav()); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if ext := filepath.Ext(f.dispatcher.last(t).AudioPath); ext != ".wav" {
		t.Errorf("expected sniffed .wav, got %s", ext)
	}
}

func TestRun_Ready(t *testing.T) {
	f := newFixture(t)

	jobID, err := f.submitAndRun(t)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	st := f.svc.Status(context.Background(), jobID)
	if st.Status != model.JobStatusReady {
		t.Fatalf("expected ready, got %+v", st)
	}
	if st.VideoURL != "/videos/output_"+jobID+".mp4" {
		t.Errorf("unexpected video url %s", st.VideoURL)
	}
	if st.Transcript == nil || *st.Transcript != "hello world" {
		t.Errorf("unexpected transcript %v", st.Transcript)
	}
	if st.Error != "" {
		t.Errorf("ready job carries error %q", st.Error)
	}

	again := f.svc.Status(context.Background(), jobID)
	if again.Status != st.Status || again.VideoURL != st.VideoURL || *again.Transcript != *st.Transcript {
		t.Errorf("repeated status differs: %+v vs %+v", again, st)
	}

	assertNoAudioLeft(t, f.audioDir)
	if _, err := os.Stat(filepath.Join(f.outputDir, OutputFileName(jobID))); err != nil {
		t.Errorf("expected output file: %v", err)
	}

	f.notifier.mu.Lock()
	defer f.notifier.mu.Unlock()
	lastEvent := f.notifier.events[len(f.notifier.events)-1]
	if !strings.HasPrefix(lastEvent, "complete:") {
		t.Errorf("expected complete event last, got %v", f.notifier.events)
	}
}

func TestRun_TerminalStateIsFinal(t *testing.T) {
	f := newFixture(t)
	jobID, err := f.submitAndRun(t)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	f.transcribe.err = errors.New("should not be called")
	if err := f.svc.Run(context.Background(), jobID, filepath.Join(f.audioDir, "gone.wav")); err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if st := f.svc.Status(context.Background(), jobID); st.Status != model.JobStatusReady {
		t.Errorf("terminal job changed to %s", st.Status)
	}
}

func TestSubmit_InvalidInput(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"not base64", "%%%not-base64%%%"},
		{"empty", "   "},
		{"too small", base64.StdEncoding.EncodeToString([]byte("RIFF\x00\x00\x00\x00WAVE"))},
		{"not audio", base64.StdEncoding.EncodeToString([]byte(strings.Repeat("plain text ", 200)))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)

			jobID, err := f.svc.Submit(context.Background(), "x.mp3", tt.content)
			if !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("expected ErrInvalidInput, got %v", err)
			}
			if jobID == "" {
				t.Fatal("expected a job id for the rejected submission")
			}

			st := f.svc.Status(context.Background(), jobID)
			if st.Status != model.JobStatusError || !strings.HasPrefix(st.Error, "invalid audio input") {
				t.Errorf("unexpected status %+v", st)
			}
			if len(f.dispatcher.payloads) != 0 {
				t.Errorf("invalid input was dispatched")
			}
			assertNoAudioLeft(t, f.audioDir)
		})
	}
}

func TestSubmit_DispatchFailure(t *testing.T) {
	f := newFixture(t)
	f.dispatcher.err = errors.New("queue down")

	jobID, err := f.svc.Submit(context.Background(), "a.wav", encodedWav())
	if err == nil {
		t.Fatal("expected error")
	}
	if st := f.svc.Status(context.Background(), jobID); st.Status != model.JobStatusError {
		t.Errorf("expected error status, got %+v", st)
	}
	assertNoAudioLeft(t, f.audioDir)
}

func TestRun_StageFailures(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(f *fixture)
		sentinel error
		code     string
	}{
		{
			name:     "transcription",
			setup:    func(f *fixture) { f.transcribe.err = errors.New("assemblyai error: bad audio") },
			sentinel: ErrTranscription,
			code:     "TRANSCRIPTION_FAILED",
		},
		{
			name:     "empty plan",
			setup:    func(f *fixture) { f.planner.plan = nil },
			sentinel: ErrEmptyPlan,
			code:     "EMPTY_PLAN",
		},
		{
			name:     "no clips",
			setup:    func(f *fixture) { f.merger.err = ErrNoClips },
			sentinel: ErrNoClips,
			code:     "NO_CLIPS",
		},
		{
			name:     "merge",
			setup:    func(f *fixture) { f.merger.err = errors.New("disk full") },
			sentinel: ErrMerge,
			code:     "MERGE_FAILED",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			tt.setup(f)

			jobID, err := f.submitAndRun(t)
			if !errors.Is(err, tt.sentinel) {
				t.Fatalf("expected %v, got %v", tt.sentinel, err)
			}

			st := f.svc.Status(context.Background(), jobID)
			if st.Status != model.JobStatusError || st.Error == "" || st.VideoURL != "" {
				t.Errorf("unexpected status %+v", st)
			}
			if !strings.Contains(st.Error, tt.sentinel.Error()) {
				t.Errorf("error detail %q does not name the cause", st.Error)
			}
			assertNoAudioLeft(t, f.audioDir)

			f.notifier.mu.Lock()
			lastEvent := f.notifier.events[len(f.notifier.events)-1]
			f.notifier.mu.Unlock()
			if lastEvent != "error:"+tt.code {
				t.Errorf("expected error:%s, got %s", tt.code, lastEvent)
			}
		})
	}
}

func TestRun_EmptyPlanIsDistinctFromMergeFailure(t *testing.T) {
	f := newFixture(t)
	f.planner.plan = nil

	_, err := f.submitAndRun(t)
	if errors.Is(err, ErrNoClips) || errors.Is(err, ErrMerge) {
		t.Errorf("empty plan reported as merge failure: %v", err)
	}
}

func TestStatus_NotFoundAndRecovery(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if st := f.svc.Status(ctx, "no-such-job"); st.Status != model.JobStatusNotFound {
		t.Errorf("expected not_found, got %s", st.Status)
	}

	orphan := "5f0c1f0e-2f7a-4c55-9a53-3c2d1c8b9e10"
	if err := os.WriteFile(filepath.Join(f.outputDir, OutputFileName(orphan)), []byte("mp4"), 0o644); err != nil {
		t.Fatal(err)
	}
	st := f.svc.Status(ctx, orphan)
	if st.Status != model.JobStatusReady || st.VideoURL != "/videos/output_"+orphan+".mp4" {
		t.Errorf("expected recovered ready status, got %+v", st)
	}
	if st.Transcript == nil || *st.Transcript != "" {
		t.Errorf("expected empty transcript on recovery, got %v", st.Transcript)
	}
}

func TestRun_PublishesToObjectStorage(t *testing.T) {
	f := newFixture(t)
	pub := &fakePublisher{}
	f.svc.publisher = pub

	jobID, err := f.submitAndRun(t)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	st := f.svc.Status(context.Background(), jobID)
	if want := "https://cdn.example.com/videos/output_" + jobID + ".mp4"; st.VideoURL != want {
		t.Errorf("video url %s, want %s", st.VideoURL, want)
	}
}

func TestRun_PublishFailureFallsBackToLocal(t *testing.T) {
	f := newFixture(t)
	f.svc.publisher = &fakePublisher{err: errors.New("403")}
	f.svc.publicBaseURL = "https://api.example.com"

	jobID, err := f.submitAndRun(t)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	st := f.svc.Status(context.Background(), jobID)
	if want := "https://api.example.com/videos/output_" + jobID + ".mp4"; st.VideoURL != want {
		t.Errorf("video url %s, want %s", st.VideoURL, want)
	}
}

func TestDecodeAudio(t *testing.T) {
	raw := []byte{0xfb, 0xff, 0xfe, 0x00, 0x10}
	std := base64.StdEncoding.EncodeToString(raw)
	tests := []struct {
		name  string
		input string
	}{
		{"standard", std},
		{"url safe", base64.URLEncoding.EncodeToString(raw)},
		{"no padding", base64.RawStdEncoding.EncodeToString(raw)},
		{"data uri", "data:audio/mpeg;base64," + std},
		{"line wrapped", std[:4] + "\n" + std[4:]},
		{"percent encoded", url.PathEscape(std)},
		{"percent encoded data uri", "data:audio/mpeg;base64," + strings.ReplaceAll(std, "+", "%2B")},
		{"stray characters", "*" + std[:4] + " \t!" + std[4:] + "\""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeAudio(tt.input)
			if err != nil {
				t.Fatalf("DecodeAudio: %v", err)
			}
			if string(got) != string(raw) {
				t.Errorf("got %v, want %v", got, raw)
			}
		})
	}

	if _, err := DecodeAudio("data:audio/mpeg;base64"); err == nil {
		t.Error("expected error for data URI without payload")
	}
	if _, err := DecodeAudio("%%%!!!"); err == nil {
		t.Error("expected error when nothing of the alphabet is left")
	}
}

func assertNoAudioLeft(t *testing.T, dir string) {
	t.Helper()
	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "temp_") {
			t.Errorf("temp audio left behind: %s", e.Name())
		}
	}
}
