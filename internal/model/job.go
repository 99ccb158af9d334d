package model

import "time"

// Job represents one audio submission and its synthesis lifecycle
type Job struct {
	ID          string     `json:"id"`
	Status      JobStatus  `json:"status"`
	Filename    string     `json:"filename,omitempty"`
	Progress    int        `json:"progress"`
	CurrentStep string     `json:"currentStep,omitempty"`
	Transcript  *string    `json:"transcript,omitempty"`
	VideoURL    *string    `json:"videoUrl,omitempty"`
	Error       *string    `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// Clone returns a deep copy so callers never share pointer fields with a store.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	c.Transcript = cloneString(j.Transcript)
	c.VideoURL = cloneString(j.VideoURL)
	c.Error = cloneString(j.Error)
	c.StartedAt = cloneTime(j.StartedAt)
	c.CompletedAt = cloneTime(j.CompletedAt)
	return &c
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// TranslateJobPayload is the task payload handed to a worker
type TranslateJobPayload struct {
	JobID     string `json:"jobId"`
	AudioPath string `json:"audioPath"`
}
