package transcribe

import (
	"errors"
	"testing"
)

func TestShapeExtract(t *testing.T) {
	tests := []struct {
		name     string
		provider ProviderID
		body     string
		wantText string
		wantConf float64
	}{
		{
			"deepgram_nested_channels",
			Deepgram,
			`{"results":{"channels":[{"alternatives":[{"transcript":" hello world ","confidence":0.91}]}]}}`,
			"hello world", 0.91,
		},
		{
			"deepgram_missing_confidence_defaults_to_zero",
			Deepgram,
			`{"results":{"channels":[{"alternatives":[{"transcript":"hi"}]}]}}`,
			"hi", 0,
		},
		{
			"assemblyai_flat_fields",
			AssemblyAI,
			`{"status":"completed","text":"flat text","confidence":0.87}`,
			"flat text", 0.87,
		},
		{
			"assemblyai_null_confidence_defaults_to_zero",
			AssemblyAI,
			`{"status":"completed","text":"x","confidence":null}`,
			"x", 0,
		},
		{
			"gladia_v2_result",
			Gladia,
			`{"status":"done","result":{"transcription":{"full_transcript":"bonjour"}}}`,
			"bonjour", 1.0,
		},
		{
			"gladia_legacy_fields",
			Gladia,
			`{"transcription":"legacy","confidence":0.5}`,
			"legacy", 0.5,
		},
		{
			"empty_transcript_is_not_an_error",
			AssemblyAI,
			`{"status":"completed","text":"","confidence":0}`,
			"", 0,
		},
		{
			"confidence_clamped",
			AssemblyAI,
			`{"text":"x","confidence":1.7}`,
			"x", 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Shapes[tt.provider].Extract([]byte(tt.body))
			if err != nil {
				t.Fatalf("Extract: %v", err)
			}
			if got.Text != tt.wantText {
				t.Errorf("Text = %q, want %q", got.Text, tt.wantText)
			}
			if got.Confidence != tt.wantConf {
				t.Errorf("Confidence = %v, want %v", got.Confidence, tt.wantConf)
			}
		})
	}
}

func TestShapeExtract_Malformed(t *testing.T) {
	for _, body := range []string{"", "not json", `["array"]`, `"string"`} {
		_, err := Shapes[AssemblyAI].Extract([]byte(body))
		if !errors.Is(err, ErrUnexpectedResponse) {
			t.Errorf("Extract(%q) err = %v, want ErrUnexpectedResponse", body, err)
		}
	}
}

func TestShapeState(t *testing.T) {
	tests := []struct {
		provider ProviderID
		body     string
		want     JobState
	}{
		{AssemblyAI, `{"status":"queued"}`, JobPending},
		{AssemblyAI, `{"status":"processing"}`, JobPending},
		{AssemblyAI, `{"status":"completed"}`, JobCompleted},
		{AssemblyAI, `{"status":"error","error":"bad audio"}`, JobFailed},
		{AssemblyAI, `{}`, JobPending},
		{Gladia, `{"status":"done"}`, JobCompleted},
		{Gladia, `{"status":"error"}`, JobFailed},
	}
	for _, tt := range tests {
		got, _ := Shapes[tt.provider].State([]byte(tt.body))
		if got != tt.want {
			t.Errorf("%s State(%s) = %v, want %v", tt.provider, tt.body, got, tt.want)
		}
	}
}

func TestShapeErrorDetail(t *testing.T) {
	if got := Shapes[AssemblyAI].ErrorDetail([]byte(`{"status":"error","error":"audio too short"}`)); got != "audio too short" {
		t.Errorf("ErrorDetail = %q, want %q", got, "audio too short")
	}
	if got := Shapes[Gladia].ErrorDetail([]byte(`{"status":"error","error_code":422}`)); got != "422" {
		t.Errorf("ErrorDetail = %q, want %q", got, "422")
	}
	if got := Shapes[AssemblyAI].ErrorDetail([]byte(`{"status":"error"}`)); got != "" {
		t.Errorf("ErrorDetail = %q, want empty", got)
	}
}

func TestDefaultConfidencePerProvider(t *testing.T) {
	want := map[ProviderID]float64{Deepgram: 0, AssemblyAI: 0, Gladia: 1.0}
	for id, conf := range want {
		if Shapes[id].DefaultConfidence != conf {
			t.Errorf("%s DefaultConfidence = %v, want %v", id, Shapes[id].DefaultConfidence, conf)
		}
	}
}
