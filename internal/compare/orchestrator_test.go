package compare

import (
	"context"
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
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snarg/stt-compare/internal/transcribe"
)

// stubProvider returns a canned transcript or error after an optional delay.
type stubProvider struct {
	id    transcribe.ProviderID
	text  string
	conf  float64
	err   error
	delay time.Duration
	panic bool

	calls   atomic.Int32
	running *atomic.Int32 // shared across stubs to observe parallelism
	peak    *atomic.Int32
}

func (s *stubProvider) ID() transcribe.ProviderID { return s.id }
func (s *stubProvider) Name() string              { return string(s.id) }

func (s *stubProvider) Transcribe(ctx context.Context, a transcribe.Audio) (*transcribe.Transcript, error) {
	s.calls.Add(1)
	if s.running != nil {
		n := s.running.Add(1)
		defer s.running.Add(-1)
		for {
			p := s.peak.Load()
			if n <= p || s.peak.CompareAndSwap(p, n) {
				break
			}
		}
	}
	if s.panic {
		panic("boom")
	}
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	return &transcribe.Transcript{Text: s.text, Confidence: s.conf}, nil
}

func testAudio() transcribe.Audio {
	return transcribe.Audio{Path: "/tmp/sample.mp3", Name: "sample.mp3", Size: 1234}
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, Options{})
	require.ErrorIs(t, err, transcribe.ErrConfiguration)

	a := &stubProvider{id: "a"}
	_, err = New([]transcribe.Provider{a, &stubProvider{id: "a"}}, Options{})
	require.ErrorIs(t, err, transcribe.ErrConfiguration)
	assert.Contains(t, err.Error(), "duplicate")

	o, err := New([]transcribe.Provider{a, &stubProvider{id: "b"}}, Options{Log: zerolog.Nop()})
	require.NoError(t, err)
	assert.Equal(t, []transcribe.ProviderID{"a", "b"}, o.Providers())
}

func TestCompare_OneOutcomePerProvider(t *testing.T) {
	providers := []transcribe.Provider{
		&stubProvider{id: "ok", text: "hello", conf: 0.9},
		&stubProvider{id: "err", err: errors.New("HTTP 500")},
		&stubProvider{id: "panics", panic: true},
		&stubProvider{id: "empty", text: "", conf: 0},
	}
	o, err := New(providers, Options{Log: zerolog.Nop()})
	require.NoError(t, err)

	r := o.Compare(context.Background(), testAudio())
	require.Len(t, r.Outcomes, 4)
	assert.NotEmpty(t, r.RunID)
	assert.Equal(t, "sample.mp3", r.AudioName)
	assert.Equal(t, int64(1234), r.FileSize)

	ok := r.Outcomes["ok"]
	assert.True(t, ok.Succeeded)
	assert.Equal(t, "hello", ok.Transcript)
	assert.Equal(t, 0.9, ok.Confidence)
	assert.GreaterOrEqual(t, ok.ProcessingTime, 0.0)
	assert.Empty(t, ok.Error)

	failed := r.Outcomes["err"]
	assert.False(t, failed.Succeeded)
	assert.Contains(t, failed.Error, "HTTP 500")

	p := r.Outcomes["panics"]
	assert.False(t, p.Succeeded)
	assert.Contains(t, p.Error, "panicked")

	empty := r.Outcomes["empty"]
	assert.True(t, empty.Succeeded, "empty transcript is still a success")
	assert.Equal(t, "", empty.Transcript)

	for id, oc := range r.Outcomes {
		assert.Equal(t, id, oc.Provider)
		assert.Equal(t, !oc.Succeeded, oc.Error != "", "error set iff failed for %s", id)
	}
}

func TestCompare_ProviderTimeout(t *testing.T) {
	slow := &stubProvider{id: "slow", text: "late", delay: time.Second}
	fast := &stubProvider{id: "fast", text: "quick"}
	o, err := New([]transcribe.Provider{slow, fast}, Options{ProviderTimeout: 20 * time.Millisecond, Log: zerolog.Nop()})
	require.NoError(t, err)

	start := time.Now()
	r := o.Compare(context.Background(), testAudio())
	assert.Less(t, time.Since(start), 500*time.Millisecond)

	assert.False(t, r.Outcomes["slow"].Succeeded)
	assert.Contains(t, r.Outcomes["slow"].Error, "timed out")
	assert.True(t, r.Outcomes["fast"].Succeeded)
}

func TestCompare_ConcurrencyLimit(t *testing.T) {
	var running, peak atomic.Int32
	var providers []transcribe.Provider
	for _, id := range []transcribe.ProviderID{"a", "b", "c", "d"} {
		providers = append(providers, &stubProvider{id: id, text: "x", delay: 10 * time.Millisecond, running: &running, peak: &peak})
	}

	o, err := New(providers, Options{Concurrency: 1, Log: zerolog.Nop()})
	require.NoError(t, err)
	r := o.Compare(context.Background(), testAudio())
	assert.Len(t, r.Outcomes, 4)
	assert.Equal(t, int32(1), peak.Load(), "sequential run must not overlap providers")

	peak.Store(0)
	o, err = New(providers, Options{Log: zerolog.Nop()})
	require.NoError(t, err)
	o.Compare(context.Background(), testAudio())
	assert.Greater(t, peak.Load(), int32(1), "unbounded run should overlap providers")
}

func TestCompare_ClampsConfidence(t *testing.T) {
	o, err := New([]transcribe.Provider{&stubProvider{id: "x", text: "t", conf: 3}}, Options{Log: zerolog.Nop()})
	require.NoError(t, err)
	assert.Equal(t, 1.0, o.Compare(context.Background(), testAudio()).Outcomes["x"].Confidence)
}

// TestCompare_EndToEnd drives three real async clients against fake vendor
// APIs: A completes, B never finishes, C reports an error. The vendors speak
// a generic shape with the text under "transcript".
func TestCompare_EndToEnd(t *testing.T) {
	vendor := func(final string) *httptest.Server {
		mux := http.NewServeMux()
		mux.HandleFunc("POST /upload", func(w http.ResponseWriter, r *http.Request) {
			io.Copy(io.Discard, r.Body)
			io.WriteString(w, `{"upload_url":"ref"}`)
		})
		mux.HandleFunc("POST /submit", func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, `{"id":"j1"}`)
		})
		mux.HandleFunc("GET /poll/{id}", func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, final)
		})
		srv := httptest.NewServer(mux)
		t.Cleanup(srv.Close)
		return srv
	}
	shape := transcribe.Shape{
		StatusField:     "status",
		CompletedStates: []string{"completed"},
		FailedStates:    []string{"error"},
		ErrorPaths:      []string{"error"},
		TextPaths:       []string{"transcript"},
		ConfidencePaths: []string{"confidence"},
	}
	client := func(id transcribe.ProviderID, srv *httptest.Server, shape transcribe.Shape) transcribe.Provider {
		c, err := transcribe.NewAsyncClient(transcribe.AsyncConfig{
			ID:             id,
			APIKey:         "k",
			AuthHeader:     "authorization",
			UploadURL:      srv.URL + "/upload",
			UploadRefField: "upload_url",
			SubmitURL:      srv.URL + "/submit",
			JobIDField:     "id",
			PollURL:        srv.URL + "/poll",
			PollInterval:   5 * time.Millisecond,
			PollTimeout:    60 * time.Millisecond,
			Shape:          shape,
			Log:            zerolog.Nop(),
		})
		require.NoError(t, err)
		return c
	}

	path := filepath.Join(t.TempDir(), "sample.mp3")
	require.NoError(t, os.WriteFile(path, []byte("audio"), 0o644))
	a := transcribe.Audio{Path: path, Name: "sample.mp3", Size: 5, ContentType: "audio/mpeg"}

	o, err := New([]transcribe.Provider{
		client("A", vendor(`{"status":"completed","transcript":"hello world","confidence":0.95}`), shape),
		client("B", vendor(`{"status":"processing"}`), shape),
		client("C", vendor(`{"status":"error","error":"bad audio"}`), shape),
		client("D", vendor(`{"status":"completed","text":"from assemblyai","confidence":0.8}`), transcribe.Shapes[transcribe.AssemblyAI]),
	}, Options{Log: zerolog.Nop()})
	require.NoError(t, err)

	r := o.Compare(context.Background(), a)
	require.Len(t, r.Outcomes, 4)

	assert.True(t, r.Outcomes["A"].Succeeded)
	assert.Equal(t, "hello world", r.Outcomes["A"].Transcript)
	assert.Equal(t, 0.95, r.Outcomes["A"].Confidence)

	assert.False(t, r.Outcomes["B"].Succeeded)
	assert.Contains(t, r.Outcomes["B"].Error, transcribe.ErrPollTimeout.Error())

	assert.False(t, r.Outcomes["C"].Succeeded)
	assert.Contains(t, r.Outcomes["C"].Error, "bad audio")

	assert.True(t, r.Outcomes["D"].Succeeded)
	assert.Equal(t, "from assemblyai", r.Outcomes["D"].Transcript)
}
