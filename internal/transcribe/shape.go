package transcribe

import (
	"strings"

	"github.com/tidwall/gjson"
)

// JobState is the normalized state of a provider job.
type JobState int

const (
	JobPending JobState = iota
	JobCompleted
	JobFailed
)

// Shape maps one provider's response payload onto a Transcript. Paths use
// gjson syntax; for each list the first path present in the payload wins.
type Shape struct {
	StatusField     string   // JSON field carrying the job status
	CompletedStates []string // statuses meaning "done, transcript available"
	FailedStates    []string // statuses meaning "provider gave up"
	ErrorPaths      []string // where the provider puts its failure detail
	TextPaths       []string
	ConfidencePaths []string

	// DefaultConfidence is reported when no confidence path is present.
	// It is set explicitly per provider because vendors disagree on what a
	// missing value means.
	DefaultConfidence float64
}

// Shapes holds the adapter for every built-in provider.
var Shapes = map[ProviderID]Shape{
	// Deepgram answers synchronously; the payload has no status field.
	Deepgram: {
		TextPaths:         []string{"results.channels.0.alternatives.0.transcript"},
		ConfidencePaths:   []string{"results.channels.0.alternatives.0.confidence"},
		DefaultConfidence: 0,
	},
	AssemblyAI: {
		StatusField:       "status",
		CompletedStates:   []string{"completed"},
		FailedStates:      []string{"error"},
		ErrorPaths:        []string{"error"},
		TextPaths:         []string{"text"},
		ConfidencePaths:   []string{"confidence"},
		DefaultConfidence: 0,
	},
	// Gladia rarely reports an overall confidence; its documented behavior
	// treats a finished transcript as fully confident.
	Gladia: {
		StatusField:       "status",
		CompletedStates:   []string{"done", "completed"},
		FailedStates:      []string{"error"},
		ErrorPaths:        []string{"error", "error_code"},
		TextPaths:         []string{"result.transcription.full_transcript", "transcription"},
		ConfidencePaths:   []string{"result.transcription.confidence", "confidence"},
		DefaultConfidence: 1.0,
	},
}

// State classifies a poll response. Statuses that are neither completed nor
// failed count as pending.
func (s Shape) State(body []byte) (JobState, string) {
	status := gjson.GetBytes(body, s.StatusField).String()
	if matchState(status, s.CompletedStates) {
		return JobCompleted, status
	}
	if matchState(status, s.FailedStates) {
		return JobFailed, status
	}
	return JobPending, status
}

// ErrorDetail returns the provider's own failure message, or "" if absent.
func (s Shape) ErrorDetail(body []byte) string {
	if r, ok := firstPath(body, s.ErrorPaths); ok {
		return r.String()
	}
	return ""
}

// Extract pulls the transcript and confidence out of a terminal payload.
// A missing transcript is an empty transcript, not an error; a payload that
// is not a JSON object is.
func (s Shape) Extract(body []byte) (*Transcript, error) {
	if !gjson.ValidBytes(body) || !gjson.ParseBytes(body).IsObject() {
		return nil, ErrUnexpectedResponse
	}

	t := &Transcript{Confidence: s.DefaultConfidence}
	if r, ok := firstPath(body, s.TextPaths); ok {
		t.Text = strings.TrimSpace(r.String())
	}
	if r, ok := firstPath(body, s.ConfidencePaths); ok && r.Type == gjson.Number {
		t.Confidence = clamp01(r.Float())
	}
	return t, nil
}

func firstPath(body []byte, paths []string) (gjson.Result, bool) {
	for _, p := range paths {
		r := gjson.GetBytes(body, p)
		if r.Exists() && r.Type != gjson.Null {
			return r, true
		}
	}
	return gjson.Result{}, false
}

func matchState(status string, states []string) bool {
	for _, s := range states {
		if strings.EqualFold(status, s) {
			return true
		}
	}
	return false
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
