package model

// Word is one transcript token with its offsets in milliseconds
type Word struct {
	Text       string  `json:"text"`
	Start      int64   `json:"start"`
	End        int64   `json:"end"`
	Confidence float64 `json:"confidence,omitempty"`
}

// Transcript is the time-aligned result of a transcription
type Transcript struct {
	Text  string `json:"text"`
	Words []Word `json:"words"`
}

// ClipRef locates one sign-language video segment.
// Token is the lookup token the clip was found under; it selects the origin
// page used to warm a fetch session.
type ClipRef struct {
	URL   string `json:"url"`
	Token string `json:"token,omitempty"`
}

// PlanEntry is one slot of the output timeline
type PlanEntry struct {
	Clip     ClipRef `json:"clip"`
	Duration float64 `json:"duration"` // seconds
	Token    string  `json:"token"`    // word the entry was planned for
}

// TotalDuration sums the planned durations of a video plan
func TotalDuration(plan []PlanEntry) float64 {
	var total float64
	for _, e := range plan {
		total += e.Duration
	}
	return total
}
