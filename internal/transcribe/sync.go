package transcribe

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
)

// SyncConfig describes a provider whose upload request returns the finished
// transcript in the same response. Such providers have no submit or poll step.
type SyncConfig struct {
	ID   ProviderID
	Name string

	APIKey     string
	AuthHeader string
	AuthPrefix string

	URL         string
	Query       url.Values // transcription options sent as query parameters
	UploadField string     // multipart field name; "" sends the raw bytes

	Shape Shape

	HTTPClient     *http.Client
	RequestTimeout time.Duration
	Log            zerolog.Logger
}

// SyncClient transcribes with a single request.
type SyncClient struct {
	cfg      SyncConfig
	auth     auth
	endpoint string
	client   *http.Client
	log      zerolog.Logger
}

// NewSyncClient validates cfg and returns a client.
func NewSyncClient(cfg SyncConfig) (*SyncClient, error) {
	if cfg.ID == "" {
		return nil, fmt.Errorf("%w: provider id is empty", ErrConfiguration)
	}
	if cfg.APIKey == "" {
		return nil, newError(cfg.ID, ErrConfiguration, "API key not configured (set "+apiKeyEnv(cfg.ID)+")", nil)
	}
	u, err := url.Parse(cfg.URL)
	if err != nil || cfg.URL == "" {
		return nil, newError(cfg.ID, ErrConfiguration, "invalid URL "+cfg.URL, err)
	}
	if len(cfg.Query) > 0 {
		q := u.Query()
		for k, vs := range cfg.Query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}
	if cfg.Name == "" {
		cfg.Name = cfg.ID.DisplayName()
	}

	return &SyncClient{
		cfg:      cfg,
		auth:     auth{header: cfg.AuthHeader, prefix: cfg.AuthPrefix, key: cfg.APIKey},
		endpoint: u.String(),
		client:   newHTTPClient(cfg.HTTPClient, cfg.RequestTimeout),
		log:      cfg.Log.With().Str("provider", string(cfg.ID)).Logger(),
	}, nil
}

func (c *SyncClient) ID() ProviderID { return c.cfg.ID }

func (c *SyncClient) Name() string { return c.cfg.Name }

// Transcribe sends the audio and parses the transcript from the response.
func (c *SyncClient) Transcribe(ctx context.Context, audio Audio) (*Transcript, error) {
	req, err := newAudioRequest(ctx, c.endpoint, audio, c.cfg.UploadField)
	if err != nil {
		return nil, newError(c.cfg.ID, ErrUpload, "", err)
	}
	c.auth.apply(req)

	status, body, err := send(c.client, req)
	if err != nil {
		return nil, newError(c.cfg.ID, ErrUpload, "", err)
	}
	if !isSuccess(status) {
		return nil, newError(c.cfg.ID, ErrUpload, statusDetail(status, body), nil)
	}

	t, err := c.cfg.Shape.Extract(body)
	if err != nil {
		return nil, newError(c.cfg.ID, ErrUnexpectedResponse, truncate(string(body), 300), nil)
	}
	c.log.Debug().Str("file", audio.Name).Int("chars", len(t.Text)).Msg("transcript received")
	return t, nil
}
