package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"github.com/snarg/stt-compare/internal/metrics"
)

// errJobPending marks a poll that saw a non-terminal status.
var errJobPending = errors.New("job pending")

// AsyncConfig describes a provider that follows the upload -> submit -> poll
// protocol. Field names and URLs differ per vendor, so they are all explicit.
type AsyncConfig struct {
	ID   ProviderID
	Name string

	APIKey     string
	AuthHeader string
	AuthPrefix string // prepended to APIKey, e.g. "Bearer "

	UploadURL      string
	UploadField    string // multipart field name; "" sends the raw bytes
	UploadRefField string // gjson path of the uploaded-audio reference

	SubmitURL  string
	SubmitBody func(ref string) map[string]any
	JobIDField string // gjson path of the job id in the submit response

	PollURL      string // job id is appended as a path segment
	PollInterval time.Duration
	PollTimeout  time.Duration

	Shape Shape

	HTTPClient     *http.Client // optional; built from RequestTimeout otherwise
	RequestTimeout time.Duration
	Log            zerolog.Logger
}

// AsyncClient drives an asynchronous transcription job to a terminal state.
type AsyncClient struct {
	cfg    AsyncConfig
	auth   auth
	client *http.Client
	log    zerolog.Logger
}

// NewAsyncClient validates cfg and returns a client. A missing API key is a
// configuration error.
func NewAsyncClient(cfg AsyncConfig) (*AsyncClient, error) {
	if cfg.ID == "" {
		return nil, fmt.Errorf("%w: provider id is empty", ErrConfiguration)
	}
	if cfg.APIKey == "" {
		return nil, newError(cfg.ID, ErrConfiguration, "API key not configured (set "+apiKeyEnv(cfg.ID)+")", nil)
	}
	if cfg.UploadURL == "" || cfg.SubmitURL == "" || cfg.PollURL == "" {
		return nil, newError(cfg.ID, ErrConfiguration, "upload, submit and poll URLs are required", nil)
	}
	if cfg.UploadRefField == "" || cfg.JobIDField == "" {
		return nil, newError(cfg.ID, ErrConfiguration, "upload reference and job id fields are required", nil)
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 3 * time.Second
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 10 * time.Minute
	}
	if cfg.Name == "" {
		cfg.Name = cfg.ID.DisplayName()
	}
	if cfg.SubmitBody == nil {
		cfg.SubmitBody = func(ref string) map[string]any {
			return map[string]any{"audio_url": ref}
		}
	}

	return &AsyncClient{
		cfg:    cfg,
		auth:   auth{header: cfg.AuthHeader, prefix: cfg.AuthPrefix, key: cfg.APIKey},
		client: newHTTPClient(cfg.HTTPClient, cfg.RequestTimeout),
		log:    cfg.Log.With().Str("provider", string(cfg.ID)).Logger(),
	}, nil
}

func (c *AsyncClient) ID() ProviderID { return c.cfg.ID }

func (c *AsyncClient) Name() string { return c.cfg.Name }

// Transcribe uploads the audio, submits a job and polls until it completes,
// fails, or the poll timeout elapses.
func (c *AsyncClient) Transcribe(ctx context.Context, audio Audio) (*Transcript, error) {
	ref, err := c.upload(ctx, audio)
	if err != nil {
		return nil, err
	}
	c.log.Debug().Str("file", audio.Name).Msg("audio uploaded")

	jobID, err := c.submit(ctx, ref)
	if err != nil {
		return nil, err
	}
	c.log.Debug().Str("job_id", jobID).Msg("transcription submitted")

	body, err := c.poll(ctx, jobID)
	if err != nil {
		return nil, err
	}

	t, err := c.cfg.Shape.Extract(body)
	if err != nil {
		return nil, newError(c.cfg.ID, ErrUnexpectedResponse, truncate(string(body), 300), nil)
	}
	return t, nil
}

func (c *AsyncClient) upload(ctx context.Context, audio Audio) (string, error) {
	req, err := newAudioRequest(ctx, c.cfg.UploadURL, audio, c.cfg.UploadField)
	if err != nil {
		return "", newError(c.cfg.ID, ErrUpload, "", err)
	}
	c.auth.apply(req)

	status, body, err := send(c.client, req)
	if err != nil {
		return "", newError(c.cfg.ID, ErrUpload, "", err)
	}
	if !isSuccess(status) {
		return "", newError(c.cfg.ID, ErrUpload, statusDetail(status, body), nil)
	}

	ref := gjson.GetBytes(body, c.cfg.UploadRefField).String()
	if ref == "" {
		return "", newError(c.cfg.ID, ErrUpload, "response has no "+c.cfg.UploadRefField, nil)
	}
	return ref, nil
}

func (c *AsyncClient) submit(ctx context.Context, ref string) (string, error) {
	payload, err := json.Marshal(c.cfg.SubmitBody(ref))
	if err != nil {
		return "", newError(c.cfg.ID, ErrSubmission, "encode request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.SubmitURL, bytes.NewReader(payload))
	if err != nil {
		return "", newError(c.cfg.ID, ErrSubmission, "", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.auth.apply(req)

	status, body, err := send(c.client, req)
	if err != nil {
		return "", newError(c.cfg.ID, ErrSubmission, "", err)
	}
	if !isSuccess(status) {
		return "", newError(c.cfg.ID, ErrSubmission, statusDetail(status, body), nil)
	}

	id := gjson.GetBytes(body, c.cfg.JobIDField).String()
	if id == "" {
		return "", newError(c.cfg.ID, ErrSubmission, "response has no "+c.cfg.JobIDField, nil)
	}
	return id, nil
}

// poll queries the job at a fixed interval until it reaches a terminal state.
// The wait is bounded by PollTimeout in addition to the caller's context.
func (c *AsyncClient) poll(ctx context.Context, jobID string) ([]byte, error) {
	pollCtx, cancel := context.WithTimeout(ctx, c.cfg.PollTimeout)
	defer cancel()

	attempts := 0
	body, err := backoff.Retry(pollCtx, func() ([]byte, error) {
		attempts++
		metrics.ProviderPollsTotal.WithLabelValues(string(c.cfg.ID)).Inc()

		body, err := c.pollOnce(pollCtx, jobID)
		if err != nil {
			return nil, backoff.Permanent(err)
		}

		state, status := c.cfg.Shape.State(body)
		switch state {
		case JobCompleted:
			return body, nil
		case JobFailed:
			detail := c.cfg.Shape.ErrorDetail(body)
			if detail == "" {
				detail = "job status " + status
			}
			return nil, backoff.Permanent(newError(c.cfg.ID, ErrProviderProcessing, detail, nil))
		}

		c.log.Trace().Str("job_id", jobID).Str("status", status).Int("attempt", attempts).Msg("job not finished")
		return nil, errJobPending
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(c.cfg.PollInterval)),
		backoff.WithMaxElapsedTime(c.cfg.PollTimeout),
	)
	if err == nil {
		return body, nil
	}

	if ctx.Err() != nil {
		return nil, fmt.Errorf("%s: polling job %s: %w", c.cfg.ID, jobID, ctx.Err())
	}
	if errors.Is(err, errJobPending) || pollCtx.Err() != nil {
		detail := fmt.Sprintf("job %s not finished after %s (%d polls)", jobID, c.cfg.PollTimeout, attempts)
		return nil, newError(c.cfg.ID, ErrPollTimeout, detail, nil)
	}
	return nil, err
}

func (c *AsyncClient) pollOnce(ctx context.Context, jobID string) ([]byte, error) {
	u := strings.TrimRight(c.cfg.PollURL, "/") + "/" + url.PathEscape(jobID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, newError(c.cfg.ID, ErrUnexpectedResponse, "", err)
	}
	c.auth.apply(req)

	status, body, err := send(c.client, req)
	if err != nil {
		return nil, newError(c.cfg.ID, ErrUnexpectedResponse, "poll request", err)
	}
	if !isSuccess(status) {
		return nil, newError(c.cfg.ID, ErrUnexpectedResponse, "poll "+statusDetail(status, body), nil)
	}
	if !gjson.ValidBytes(body) {
		return nil, newError(c.cfg.ID, ErrUnexpectedResponse, "poll response is not JSON", nil)
	}
	return body, nil
}

func apiKeyEnv(id ProviderID) string {
	return strings.ToUpper(string(id)) + "_API_KEY"
}
