package model

// TranslateAudioRequest is the body of POST /translate_audio/
type TranslateAudioRequest struct {
	Filename      string `json:"filename" validate:"max=255"`
	ContentBase64 string `json:"content_base64" validate:"required"`
}

// TranslateAudioResponse is returned once a job has been accepted
type TranslateAudioResponse struct {
	JobID string `json:"job_id"`
}

// VideoStatusResponse is the outward view of a job.
// Only the fields belonging to Status are populated.
type VideoStatusResponse struct {
	Status     JobStatus `json:"status"`
	VideoURL   string    `json:"video_url,omitempty"`
	Transcript *string   `json:"transcript,omitempty"`
	Error      string    `json:"error,omitempty"`
	Progress   int       `json:"progress,omitempty"`
	Step       string    `json:"step,omitempty"`
}
