package mqttclient

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/snarg/stt-compare/internal/compare"
	"github.com/snarg/stt-compare/internal/transcribe"
)

func TestNewSummary(t *testing.T) {
	r := &compare.ComparisonResult{
		RunID:     "run-9",
		AudioName: "dispatch.wav",
		Timestamp: time.Date(2024, 2, 3, 4, 5, 6, 0, time.UTC),
		Outcomes: map[transcribe.ProviderID]compare.Outcome{
			transcribe.Gladia:   {Provider: transcribe.Gladia, Error: "gladia: upload failed"},
			transcribe.Deepgram: {Provider: transcribe.Deepgram, Succeeded: true, Transcript: "long text", ProcessingTime: 2, Confidence: 0.8},
		},
	}
	s := NewSummary(r)
	if s.Key != "dispatch" || s.Succeeded != 1 || len(s.Providers) != 2 {
		t.Fatalf("summary = %+v", s)
	}
	if s.Providers[0].Provider != transcribe.Deepgram || s.Providers[1].Provider != transcribe.Gladia {
		t.Errorf("providers not in display order: %+v", s.Providers)
	}

	data, err := json.Marshal(s)
	if err != nil {
		t.Fatal(err)
	}
	var doc map[string]any
	json.Unmarshal(data, &doc)
	if _, ok := doc["transcript"]; ok {
		t.Error("summary must not carry transcripts")
	}
}

func TestParseRequest(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    string
		wantErr bool
	}{
		{"json", `{"path":"call.mp3"}`, "call.mp3", false},
		{"bare_path", "  /audio/call.wav\n", "/audio/call.wav", false},
		{"empty", "   ", "", true},
		{"json_without_path", `{"file":"x"}`, "", true},
		{"bad_json", `{"path":`, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseRequest([]byte(tt.payload))
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got.Path != tt.want {
				t.Errorf("Path = %q, want %q", got.Path, tt.want)
			}
		})
	}
}
