package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/signcast/api/internal/client"
	"github.com/signcast/api/internal/model"
	"github.com/signcast/api/internal/store"
)

const TaskTypeTranslate = "translate:process"

// Dispatcher hands an accepted job to a worker
type Dispatcher interface {
	Dispatch(ctx context.Context, payload *model.TranslateJobPayload) error
}

// ProgressNotifier receives job events for live subscribers
type ProgressNotifier interface {
	BroadcastProgress(jobID string, progress int, status model.JobStatus, step string)
	BroadcastComplete(jobID string, result model.VideoStatusResponse)
	BroadcastError(jobID string, code, message string)
}

// PlanBuilder turns transcript words into a video plan
type PlanBuilder interface {
	Build(ctx context.Context, words []model.Word) []model.PlanEntry
}

// Merger renders a video plan to a single file
type Merger interface {
	Merge(ctx context.Context, plan []model.PlanEntry, outputPath string) error
}

// TranslateDeps are the collaborators of a TranslateService.
// Publisher and Notifier are optional.
type TranslateDeps struct {
	Store       store.JobStore
	Transcriber client.Transcriber
	Planner     PlanBuilder
	Merger      Merger
	Publisher   client.StorageClient
	Notifier    ProgressNotifier
	Dispatcher  Dispatcher

	OutputDir     string // where output_<id>.mp4 files are written and served from
	AudioDir      string // where uploaded audio waits for its worker; "" uses the OS temp dir
	PublicBaseURL string // prefix for locally served video URLs
}

// TranslateService owns the job lifecycle: submission, the synthesis
// pipeline run by workers, and status reads.
type TranslateService struct {
	store       store.JobStore
	transcriber client.Transcriber
	planner     PlanBuilder
	merger      Merger
	publisher   client.StorageClient
	notifier    ProgressNotifier
	dispatcher  Dispatcher

	outputDir     string
	audioDir      string
	publicBaseURL string
}

func NewTranslateService(deps TranslateDeps) *TranslateService {
	audioDir := deps.AudioDir
	if audioDir == "" {
		audioDir = os.TempDir()
	}
	notifier := deps.Notifier
	if notifier == nil {
		notifier = nopNotifier{}
	}
	return &TranslateService{
		store:         deps.Store,
		transcriber:   deps.Transcriber,
		planner:       deps.Planner,
		merger:        deps.Merger,
		publisher:     deps.Publisher,
		notifier:      notifier,
		dispatcher:    deps.Dispatcher,
		outputDir:     deps.OutputDir,
		audioDir:      audioDir,
		publicBaseURL: deps.PublicBaseURL,
	}
}

// SetDispatcher wires the dispatcher after construction, for pools that
// need the service's Run as their handler.
func (s *TranslateService) SetDispatcher(d Dispatcher) {
	s.dispatcher = d
}

// Submit records a new job and queues it. The job id is returned even when
// the input is rejected, since the rejection is recorded on the job.
func (s *TranslateService) Submit(ctx context.Context, filename, content string) (string, error) {
	jobID := uuid.New().String()
	job := &model.Job{
		ID:        jobID,
		Status:    model.JobStatusProcessing,
		CreatedAt: time.Now().UTC(),
	}
	if filename != "" {
		job.Filename = filepath.Base(filename)
	}

	data, err := DecodeAudio(content)
	if err == nil {
		var ext string
		ext, err = ValidateAudio(data, filename)
		if err == nil {
			return jobID, s.accept(ctx, job, data, ext)
		}
	}

	invalid := fmt.Errorf("%w: %v", ErrInvalidInput, err)
	s.settleError(ctx, job, invalid)
	return jobID, invalid
}

func (s *TranslateService) accept(ctx context.Context, job *model.Job, data []byte, ext string) error {
	if err := os.MkdirAll(s.audioDir, 0o755); err != nil {
		return fmt.Errorf("create audio dir: %w", err)
	}
	audioPath := filepath.Join(s.audioDir, "temp_"+job.ID+ext)
	if err := os.WriteFile(audioPath, data, 0o644); err != nil {
		s.settleError(ctx, job, fmt.Errorf("failed to store audio: %w", err))
		return fmt.Errorf("write audio: %w", err)
	}

	job.CurrentStep = "Queued"
	if err := s.store.Save(ctx, job); err != nil {
		os.Remove(audioPath)
		return fmt.Errorf("save job: %w", err)
	}

	if s.dispatcher == nil {
		os.Remove(audioPath)
		s.settleError(ctx, job, errors.New("no worker available"))
		return errors.New("no dispatcher configured")
	}
	payload := &model.TranslateJobPayload{JobID: job.ID, AudioPath: audioPath}
	if err := s.dispatcher.Dispatch(ctx, payload); err != nil {
		os.Remove(audioPath)
		s.settleError(ctx, job, fmt.Errorf("failed to queue job: %w", err))
		return fmt.Errorf("dispatch job: %w", err)
	}

	log.Printf("[job %s] queued (%d bytes, %s)", job.ID, len(data), ext)
	return nil
}

// Run executes the synthesis pipeline for one job and settles it. The
// uploaded audio is removed whatever the outcome.
func (s *TranslateService) Run(ctx context.Context, jobID, audioPath string) error {
	defer os.Remove(audioPath)

	job, err := s.store.Get(ctx, jobID)
	if errors.Is(err, store.ErrNotFound) {
		job = &model.Job{ID: jobID, Status: model.JobStatusProcessing, CreatedAt: time.Now().UTC()}
	} else if err != nil {
		return fmt.Errorf("load job %s: %w", jobID, err)
	}
	if job.Status.IsTerminal() {
		log.Printf("[job %s] already %s, skipping", jobID, job.Status)
		return nil
	}

	started := time.Now().UTC()
	job.StartedAt = &started
	log.Printf("[job %s] start", jobID)

	// 1) Transcription
	s.updateProgress(ctx, job, 10, "Transcribing audio...")
	transcript, err := s.transcriber.Transcribe(ctx, audioPath)
	if err == nil && transcript == nil {
		err = errors.New("empty transcription result")
	}
	if err != nil {
		return s.fail(ctx, job, fmt.Errorf("%w: %v", ErrTranscription, err))
	}
	text := transcript.Text
	job.Transcript = &text
	log.Printf("[job %s] transcript len=%d, words=%d", jobID, len(text), len(transcript.Words))

	// 2) Plan
	s.updateProgress(ctx, job, 35, "Looking up signs...")
	plan := s.planner.Build(ctx, transcript.Words)
	if len(plan) == 0 {
		return s.fail(ctx, job, ErrEmptyPlan)
	}
	log.Printf("[job %s] plan has %d clips, %.2fs", jobID, len(plan), model.TotalDuration(plan))

	// 3) Merge
	s.updateProgress(ctx, job, 60, "Rendering video...")
	name := OutputFileName(jobID)
	outputPath := filepath.Join(s.outputDir, name)
	if err := s.merger.Merge(ctx, plan, outputPath); err != nil {
		if !errors.Is(err, ErrNoClips) && !errors.Is(err, ErrMerge) {
			err = fmt.Errorf("%w: %v", ErrMerge, err)
		}
		return s.fail(ctx, job, err)
	}

	// 4) Publish
	s.updateProgress(ctx, job, 90, "Publishing video...")
	videoURL := s.publish(ctx, name, outputPath)

	completed := time.Now().UTC()
	job.Status = model.JobStatusReady
	job.VideoURL = &videoURL
	job.Error = nil
	job.Progress = 100
	job.CurrentStep = ""
	job.CompletedAt = &completed
	if err := s.store.Save(ctx, job); err != nil {
		log.Printf("[job %s] failed to save result: %v", jobID, err)
		return err
	}

	s.notifier.BroadcastComplete(jobID, view(job))
	log.Printf("[job %s] done, %s", jobID, videoURL)
	return nil
}

// Status reports a job's outward state. It never fails: unknown ids are
// not_found, and a finished output file reads as ready even when the
// record was never settled.
func (s *TranslateService) Status(ctx context.Context, jobID string) model.VideoStatusResponse {
	job, err := s.store.Get(ctx, jobID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		log.Printf("[job %s] status lookup failed: %v", jobID, err)
	}
	if err == nil && job.Status.IsTerminal() {
		return view(job)
	}

	if name, ok := s.finishedOutput(jobID); ok {
		v := model.VideoStatusResponse{Status: model.JobStatusReady, VideoURL: s.localURL(name)}
		if job != nil && job.Transcript != nil {
			v.Transcript = job.Transcript
		} else {
			empty := ""
			v.Transcript = &empty
		}
		return v
	}
	if err == nil {
		return view(job)
	}
	return model.VideoStatusResponse{Status: model.JobStatusNotFound}
}

// Recover settles records a previous process left unsettled. Jobs whose
// video was written become ready, the rest fail as interrupted. Call it
// before any worker starts.
func (s *TranslateService) Recover(ctx context.Context) (int, error) {
	jobs, err := s.store.Unsettled(ctx)
	if err != nil {
		return 0, fmt.Errorf("list unsettled jobs: %w", err)
	}

	for _, job := range jobs {
		s.removeAudio(job.ID)

		name, ok := s.finishedOutput(job.ID)
		if !ok {
			log.Printf("[job %s] interrupted by restart", job.ID)
			s.settleError(ctx, job, ErrInterrupted)
			continue
		}

		videoURL := s.localURL(name)
		completed := time.Now().UTC()
		job.Status = model.JobStatusReady
		job.VideoURL = &videoURL
		job.Error = nil
		job.Progress = 100
		job.CurrentStep = ""
		job.CompletedAt = &completed
		if err := s.store.Save(ctx, job); err != nil {
			log.Printf("[job %s] failed to save recovered result: %v", job.ID, err)
			continue
		}
		log.Printf("[job %s] recovered finished video %s", job.ID, name)
	}
	return len(jobs), nil
}

// finishedOutput reports whether jobID has a complete video on disk
func (s *TranslateService) finishedOutput(jobID string) (string, bool) {
	if _, err := uuid.Parse(jobID); err != nil {
		return "", false
	}
	name := OutputFileName(jobID)
	info, err := os.Stat(filepath.Join(s.outputDir, name))
	if err != nil || info.Size() == 0 {
		return "", false
	}
	return name, true
}

func (s *TranslateService) removeAudio(jobID string) {
	matches, _ := filepath.Glob(filepath.Join(s.audioDir, "temp_"+jobID+"*"))
	for _, m := range matches {
		os.Remove(m)
	}
}

// OutputFileName is the name a job's video is written under
func OutputFileName(jobID string) string {
	return "output_" + jobID + ".mp4"
}

func (s *TranslateService) localURL(name string) string {
	return s.publicBaseURL + "/videos/" + name
}

// publish uploads the video to object storage when configured and falls
// back to the locally served copy.
func (s *TranslateService) publish(ctx context.Context, name, path string) string {
	local := s.localURL(name)
	if s.publisher == nil {
		return local
	}

	f, err := os.Open(path)
	if err != nil {
		log.Printf("[job] open %s for upload: %v", path, err)
		return local
	}
	defer f.Close()

	url, err := s.publisher.Upload(ctx, "videos/"+name, f, "video/mp4")
	if err != nil {
		log.Printf("[job] upload %s failed, serving locally: %v", name, err)
		return local
	}
	return url
}

func (s *TranslateService) updateProgress(ctx context.Context, job *model.Job, progress int, step string) {
	job.Progress = progress
	job.CurrentStep = step
	if err := s.store.Save(ctx, job); err != nil {
		log.Printf("[job %s] failed to update progress: %v", job.ID, err)
	}
	s.notifier.BroadcastProgress(job.ID, progress, model.JobStatusProcessing, step)
}

func (s *TranslateService) fail(ctx context.Context, job *model.Job, cause error) error {
	log.Printf("[job %s] failed: %v", job.ID, cause)
	s.settleError(ctx, job, cause)
	return cause
}

func (s *TranslateService) settleError(ctx context.Context, job *model.Job, cause error) {
	msg := cause.Error()
	completed := time.Now().UTC()
	job.Status = model.JobStatusError
	job.Error = &msg
	job.VideoURL = nil
	job.CurrentStep = ""
	job.CompletedAt = &completed
	if err := s.store.Save(ctx, job); err != nil {
		log.Printf("[job %s] failed to record error: %v", job.ID, err)
	}
	s.notifier.BroadcastError(job.ID, ErrorCode(cause), msg)
}

func view(job *model.Job) model.VideoStatusResponse {
	switch job.Status {
	case model.JobStatusReady:
		v := model.VideoStatusResponse{Status: job.Status, Transcript: job.Transcript}
		if job.VideoURL != nil {
			v.VideoURL = *job.VideoURL
		}
		return v
	case model.JobStatusError:
		v := model.VideoStatusResponse{Status: job.Status}
		if job.Error != nil {
			v.Error = *job.Error
		}
		return v
	default:
		return model.VideoStatusResponse{
			Status:   job.Status,
			Progress: job.Progress,
			Step:     job.CurrentStep,
		}
	}
}

type nopNotifier struct{}

func (nopNotifier) BroadcastProgress(string, int, model.JobStatus, string) {}
func (nopNotifier) BroadcastComplete(string, model.VideoStatusResponse) {}
func (nopNotifier) BroadcastError(string, string, string) {}
