package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/hibiken/asynq"

	"github.com/signcast/api/internal/model"
	"github.com/signcast/api/internal/service"
)

// JobRunner executes the pipeline for one job
type JobRunner interface {
	Run(ctx context.Context, jobID, audioPath string) error
}

// TranslateWorker processes translate tasks pulled from the asynq queue
type TranslateWorker struct {
	runner JobRunner
}

// NewTranslateWorker creates a new translate worker
func NewTranslateWorker(runner JobRunner) *TranslateWorker {
	return &TranslateWorker{runner: runner}
}

// ProcessTask handles translate task processing
func (w *TranslateWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload model.TranslateJobPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal task payload: %w", err)
	}
	if payload.JobID == "" {
		return fmt.Errorf("task payload has no job id")
	}

	log.Printf("Starting translate job: %s", payload.JobID)
	return w.runner.Run(ctx, payload.JobID, payload.AudioPath)
}

// AsynqDispatcher enqueues jobs on the Redis-backed task queue
type AsynqDispatcher struct {
	client *asynq.Client
}

func NewAsynqDispatcher(client *asynq.Client) *AsynqDispatcher {
	return &AsynqDispatcher{client: client}
}

// Dispatch enqueues a single-attempt task; a job is settled exactly once
func (d *AsynqDispatcher) Dispatch(ctx context.Context, payload *model.TranslateJobPayload) error {
	task, err := NewTranslateTask(payload)
	if err != nil {
		return err
	}
	info, err := d.client.EnqueueContext(ctx, task, asynq.MaxRetry(0), asynq.TaskID(payload.JobID))
	if err != nil {
		return fmt.Errorf("failed to enqueue task: %w", err)
	}
	log.Printf("Enqueued translate job %s on queue %s", payload.JobID, info.Queue)
	return nil
}

func NewTranslateTask(payload *model.TranslateJobPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(service.TaskTypeTranslate, data), nil
}
