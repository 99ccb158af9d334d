package service

import (
	"errors"

	"github.com/signcast/api/internal/media"
)

var (
	ErrInvalidInput  = errors.New("invalid audio input")
	ErrTranscription = errors.New("transcription failed")
	ErrEmptyPlan     = errors.New("no sign clips found for transcript")
	ErrInterrupted   = errors.New("interrupted by restart")
	ErrNoClips       = media.ErrNoClips
	ErrMerge         = media.ErrMerge
)

// ErrorCode maps a pipeline failure to the code sent to WebSocket subscribers
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrInvalidInput):
		return "INVALID_INPUT"
	case errors.Is(err, ErrTranscription):
		return "TRANSCRIPTION_FAILED"
	case errors.Is(err, ErrEmptyPlan):
		return "EMPTY_PLAN"
	case errors.Is(err, ErrNoClips):
		return "NO_CLIPS"
	case errors.Is(err, ErrMerge):
		return "MERGE_FAILED"
	case errors.Is(err, ErrInterrupted):
		return "INTERRUPTED"
	default:
		return "JOB_FAILED"
	}
}
