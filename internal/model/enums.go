package model

// Job status
type JobStatus string

const (
	JobStatusProcessing JobStatus = "processing"
	JobStatusReady      JobStatus = "ready"
	JobStatusError      JobStatus = "error"

	// JobStatusNotFound is only ever reported by status queries; no job is stored with it.
	JobStatusNotFound JobStatus = "not_found"
)

// IsTerminal reports whether a job in this status will never change again.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusReady || s == JobStatusError
}

// Source kinds a clip locator can point at
type SourceKind string

const (
	SourceProgressive SourceKind = "progressive"
	SourceHLS         SourceKind = "hls"
)

// Supported input audio extensions
var AllowedAudioExtensions = map[string]bool{
	".mp3": true,
	".wav": true,
	".m4a": true,
	".aac": true,
	".mp4": true,
}
