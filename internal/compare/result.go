package compare

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/snarg/stt-compare/internal/transcribe"
)

// Outcome is the normalized result of running one provider against one
// audio file. Error is non-empty iff Succeeded is false.
type Outcome struct {
	Provider       transcribe.ProviderID
	Succeeded      bool
	Transcript     string
	Confidence     float64 // 0..1
	ProcessingTime float64 // seconds, wall clock around the provider call
	Error          string
}

type outcomeJSON struct {
	Success        bool     `json:"success"`
	Transcript     *string  `json:"transcript,omitempty"`
	ProcessingTime *float64 `json:"processing_time,omitempty"`
	Confidence     *float64 `json:"confidence,omitempty"`
	Error          string   `json:"error,omitempty"`
}

// MarshalJSON writes successes as {success, transcript, processing_time,
// confidence} and failures as {success, error}.
func (o Outcome) MarshalJSON() ([]byte, error) {
	if !o.Succeeded {
		return json.Marshal(outcomeJSON{Success: false, Error: o.Error})
	}
	return json.Marshal(outcomeJSON{
		Success:        true,
		Transcript:     &o.Transcript,
		ProcessingTime: &o.ProcessingTime,
		Confidence:     &o.Confidence,
	})
}

func (o *Outcome) UnmarshalJSON(data []byte) error {
	var raw outcomeJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*o = Outcome{Provider: o.Provider, Succeeded: raw.Success, Error: raw.Error}
	if raw.Transcript != nil {
		o.Transcript = *raw.Transcript
	}
	if raw.ProcessingTime != nil {
		o.ProcessingTime = *raw.ProcessingTime
	}
	if raw.Confidence != nil {
		o.Confidence = *raw.Confidence
	}
	if !o.Succeeded && o.Error == "" {
		o.Error = "unknown error"
	}
	return nil
}

// ComparisonResult holds every provider's outcome for one audio file. It is
// built once by the Orchestrator and not modified afterwards.
type ComparisonResult struct {
	RunID     string
	AudioName string
	FileSize  int64
	Timestamp time.Time
	Outcomes  map[transcribe.ProviderID]Outcome
}

type resultJSON struct {
	RunID     string                            `json:"run_id,omitempty"`
	FileName  string                            `json:"file_name"`
	FileSize  int64                             `json:"file_size"`
	Timestamp string                            `json:"timestamp"`
	Services  map[transcribe.ProviderID]Outcome `json:"services"`
}

// timestampLayouts are tried in order when reading results. The last two
// accept timestamps written without a zone offset.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

func (r ComparisonResult) MarshalJSON() ([]byte, error) {
	return json.Marshal(resultJSON{
		RunID:     r.RunID,
		FileName:  r.AudioName,
		FileSize:  r.FileSize,
		Timestamp: r.Timestamp.Format(time.RFC3339Nano),
		Services:  r.Outcomes,
	})
}

func (r *ComparisonResult) UnmarshalJSON(data []byte) error {
	var raw resultJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	ts, err := parseTimestamp(raw.Timestamp)
	if err != nil {
		return err
	}
	outcomes := make(map[transcribe.ProviderID]Outcome, len(raw.Services))
	for id, o := range raw.Services {
		o.Provider = id
		outcomes[id] = o
	}
	*r = ComparisonResult{
		RunID:     raw.RunID,
		AudioName: raw.FileName,
		FileSize:  raw.FileSize,
		Timestamp: ts,
		Outcomes:  outcomes,
	}
	return nil
}

func parseTimestamp(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("parse timestamp %q: unrecognized format", s)
}

// Key returns the audio file name without its extension. Results are stored
// under this key, so comparing the same file again replaces the old result.
func (r *ComparisonResult) Key() string {
	return Stem(r.AudioName)
}

// Stem strips directory and extension from an audio file name.
func Stem(name string) string {
	base := filepath.Base(name)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Ordered returns the outcomes with known providers first in display order,
// then any other providers sorted by id.
func (r *ComparisonResult) Ordered(order []transcribe.ProviderID) []Outcome {
	if order == nil {
		order = transcribe.KnownProviders()
	}
	out := make([]Outcome, 0, len(r.Outcomes))
	seen := make(map[transcribe.ProviderID]bool, len(order))
	for _, id := range order {
		seen[id] = true
		if o, ok := r.Outcomes[id]; ok {
			out = append(out, o)
		}
	}
	var rest []transcribe.ProviderID
	for id := range r.Outcomes {
		if !seen[id] {
			rest = append(rest, id)
		}
	}
	sort.Slice(rest, func(i, j int) bool { return rest[i] < rest[j] })
	for _, id := range rest {
		out = append(out, r.Outcomes[id])
	}
	return out
}

// SuccessCount returns how many providers succeeded.
func (r *ComparisonResult) SuccessCount() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Succeeded {
			n++
		}
	}
	return n
}
