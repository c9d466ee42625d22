package transcribe

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// maxResponseBytes caps how much of a provider response is read into memory.
const maxResponseBytes = 32 << 20

// auth describes the single authentication header a provider expects.
type auth struct {
	header string // e.g. "authorization", "x-gladia-key"
	prefix string // e.g. "Token ", "" for a raw key
	key    string
}

func (a auth) apply(req *http.Request) {
	req.Header.Set(a.header, a.prefix+a.key)
}

func newHTTPClient(c *http.Client, timeout time.Duration) *http.Client {
	if c != nil {
		return c
	}
	return &http.Client{Timeout: timeout}
}

// send performs one request and returns the status code and body. Transport
// failures are returned as-is; status handling is left to the caller.
func send(client *http.Client, req *http.Request) (int, []byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, body, nil
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}

func statusDetail(status int, body []byte) string {
	return fmt.Sprintf("status %d: %s", status, truncate(string(bytes.TrimSpace(body)), 300))
}

// newAudioRequest builds a POST carrying the audio bytes, either as the raw
// body (field == "") or as a multipart form file under field.
func newAudioRequest(ctx context.Context, url string, audio Audio, field string) (*http.Request, error) {
	f, err := os.Open(audio.Path)
	if err != nil {
		return nil, fmt.Errorf("open audio file: %w", err)
	}

	if field == "" {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("create request: %w", err)
		}
		req.ContentLength = audio.Size
		ct := audio.ContentType
		if ct == "" {
			ct = "application/octet-stream"
		}
		req.Header.Set("Content-Type", ct)
		return req, nil
	}
	defer f.Close()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile(field, filepath.Base(audio.Path))
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, fmt.Errorf("copy audio data: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req, nil
}
