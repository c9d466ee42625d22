package transcribe

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// fakeVendor is an httptest server speaking a minimal upload/submit/poll API.
type fakeVendor struct {
	uploadStatus int
	uploadBody   string
	submitStatus int
	submitBody   string
	// polls returns the body for the nth poll (1-based).
	polls func(n int) string

	pollCount   atomic.Int32
	gotAuth     atomic.Value
	gotUpload   atomic.Value
	gotSubmitID atomic.Value
}

func (f *fakeVendor) server(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /upload", func(w http.ResponseWriter, r *http.Request) {
		f.gotAuth.Store(r.Header.Get("authorization"))
		data, _ := io.ReadAll(r.Body)
		f.gotUpload.Store(string(data))
		w.WriteHeader(orDefault(f.uploadStatus, http.StatusOK))
		io.WriteString(w, orDefaultStr(f.uploadBody, `{"upload_url":"https://cdn.example/audio/1"}`))
	})
	mux.HandleFunc("POST /submit", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		json.NewDecoder(r.Body).Decode(&req)
		if ref, ok := req["audio_url"].(string); ok {
			f.gotSubmitID.Store(ref)
		}
		w.WriteHeader(orDefault(f.submitStatus, http.StatusOK))
		io.WriteString(w, orDefaultStr(f.submitBody, `{"id":"job-1"}`))
	})
	mux.HandleFunc("GET /poll/{id}", func(w http.ResponseWriter, r *http.Request) {
		n := int(f.pollCount.Add(1))
		io.WriteString(w, f.polls(n))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func orDefault(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

func orDefaultStr(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func writeAudio(t *testing.T) Audio {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sample.mp3")
	data := []byte("ID3-fake-audio-bytes")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return Audio{Path: path, Name: "sample.mp3", Size: int64(len(data)), ContentType: "audio/mpeg"}
}

func newFakeClient(t *testing.T, srv *httptest.Server, timeout time.Duration) *AsyncClient {
	t.Helper()
	c, err := NewAsyncClient(AsyncConfig{
		ID:             "fake",
		APIKey:         "secret",
		AuthHeader:     "authorization",
		UploadURL:      srv.URL + "/upload",
		UploadRefField: "upload_url",
		SubmitURL:      srv.URL + "/submit",
		JobIDField:     "id",
		PollURL:        srv.URL + "/poll",
		PollInterval:   10 * time.Millisecond,
		PollTimeout:    timeout,
		Shape:          Shapes[AssemblyAI],
		Log:            zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("NewAsyncClient: %v", err)
	}
	return c
}

func TestAsyncClient_CompletesAfterPolling(t *testing.T) {
	fv := &fakeVendor{polls: func(n int) string {
		if n < 3 {
			return `{"status":"processing"}`
		}
		return `{"status":"completed","text":"hello world","confidence":0.95}`
	}}
	srv := fv.server(t)
	c := newFakeClient(t, srv, 5*time.Second)

	got, err := c.Transcribe(context.Background(), writeAudio(t))
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if got.Text != "hello world" || got.Confidence != 0.95 {
		t.Errorf("got %+v, want hello world / 0.95", got)
	}
	if n := fv.pollCount.Load(); n != 3 {
		t.Errorf("polls = %d, want 3", n)
	}
	if auth, _ := fv.gotAuth.Load().(string); auth != "secret" {
		t.Errorf("auth header = %q, want raw key", auth)
	}
	if body, _ := fv.gotUpload.Load().(string); body != "ID3-fake-audio-bytes" {
		t.Errorf("upload body = %q", body)
	}
	if ref, _ := fv.gotSubmitID.Load().(string); ref != "https://cdn.example/audio/1" {
		t.Errorf("submitted audio_url = %q", ref)
	}
}

func TestAsyncClient_ProviderError(t *testing.T) {
	fv := &fakeVendor{polls: func(int) string {
		return `{"status":"error","error":"audio too short"}`
	}}
	c := newFakeClient(t, fv.server(t), 5*time.Second)

	_, err := c.Transcribe(context.Background(), writeAudio(t))
	if !errors.Is(err, ErrProviderProcessing) {
		t.Fatalf("err = %v, want ErrProviderProcessing", err)
	}
	var pe *Error
	if !errors.As(err, &pe) || pe.Detail != "audio too short" {
		t.Errorf("detail = %+v, want provider message", pe)
	}
}

func TestAsyncClient_PollTimeout(t *testing.T) {
	fv := &fakeVendor{polls: func(int) string { return `{"status":"queued"}` }}
	c := newFakeClient(t, fv.server(t), 80*time.Millisecond)

	start := time.Now()
	_, err := c.Transcribe(context.Background(), writeAudio(t))
	if !errors.Is(err, ErrPollTimeout) {
		t.Fatalf("err = %v, want ErrPollTimeout", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("poll loop ran %s, want it bounded by the timeout", elapsed)
	}
	if fv.pollCount.Load() < 2 {
		t.Errorf("polls = %d, want repeated polling before timeout", fv.pollCount.Load())
	}
}

func TestAsyncClient_CallerCancel(t *testing.T) {
	fv := &fakeVendor{polls: func(int) string { return `{"status":"queued"}` }}
	c := newFakeClient(t, fv.server(t), time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.Transcribe(ctx, writeAudio(t))
	if err == nil {
		t.Fatal("expected error after caller cancellation")
	}
	if errors.Is(err, ErrPollTimeout) {
		t.Errorf("caller cancellation reported as poll timeout: %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want context.DeadlineExceeded", err)
	}
}

func TestAsyncClient_UploadFailures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"non_success_status", http.StatusUnauthorized, `{"error":"invalid key"}`},
		{"missing_upload_reference", http.StatusOK, `{"something_else":"x"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fv := &fakeVendor{uploadStatus: tt.status, uploadBody: tt.body, polls: func(int) string { return "{}" }}
			c := newFakeClient(t, fv.server(t), time.Second)
			_, err := c.Transcribe(context.Background(), writeAudio(t))
			if !errors.Is(err, ErrUpload) {
				t.Errorf("err = %v, want ErrUpload", err)
			}
			if fv.pollCount.Load() != 0 {
				t.Error("should not poll after failed upload")
			}
		})
	}
}

func TestAsyncClient_SubmitFailures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"rejected", http.StatusBadRequest, `{"error":"unsupported language"}`},
		{"missing_job_id", http.StatusOK, `{"status":"queued"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fv := &fakeVendor{submitStatus: tt.status, submitBody: tt.body, polls: func(int) string { return "{}" }}
			c := newFakeClient(t, fv.server(t), time.Second)
			_, err := c.Transcribe(context.Background(), writeAudio(t))
			if !errors.Is(err, ErrSubmission) {
				t.Errorf("err = %v, want ErrSubmission", err)
			}
		})
	}
}

func TestAsyncClient_MalformedPoll(t *testing.T) {
	fv := &fakeVendor{polls: func(int) string { return "<html>bad gateway</html>" }}
	c := newFakeClient(t, fv.server(t), time.Second)
	_, err := c.Transcribe(context.Background(), writeAudio(t))
	if !errors.Is(err, ErrUnexpectedResponse) {
		t.Errorf("err = %v, want ErrUnexpectedResponse", err)
	}
}

func TestNewAsyncClient_MissingKey(t *testing.T) {
	_, err := NewAsyncClient(AsyncConfig{ID: AssemblyAI, UploadURL: "u", SubmitURL: "s", PollURL: "p"})
	if !errors.Is(err, ErrConfiguration) {
		t.Fatalf("err = %v, want ErrConfiguration", err)
	}
}
