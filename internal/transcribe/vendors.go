package transcribe

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Default vendor endpoints. Base URLs are overridable for self-hosted
// gateways and tests.
const (
	DefaultDeepgramURL   = "https://api.deepgram.com"
	DefaultAssemblyAIURL = "https://api.assemblyai.com"
	DefaultGladiaURL     = "https://api.gladia.io"
)

// VendorSettings holds the credentials and endpoint of one vendor.
type VendorSettings struct {
	APIKey  string
	BaseURL string
	Model   string // only used where the vendor takes a model name
}

// Settings configures the built-in providers.
type Settings struct {
	Deepgram   VendorSettings
	AssemblyAI VendorSettings
	Gladia     VendorSettings

	Language       string // ISO-639-1, e.g. "en"
	PollInterval   time.Duration
	PollTimeout    time.Duration
	RequestTimeout time.Duration
	Log            zerolog.Logger
}

func (s Settings) language() string {
	if s.Language == "" {
		return "en"
	}
	return s.Language
}

func baseURL(v VendorSettings, def string) string {
	if v.BaseURL == "" {
		return def
	}
	return strings.TrimRight(v.BaseURL, "/")
}

// NewDeepgram returns a Deepgram client for the pre-recorded /v1/listen API,
// which answers synchronously.
func NewDeepgram(s Settings) (*SyncClient, error) {
	model := s.Deepgram.Model
	if model == "" {
		model = "nova-2"
	}
	return NewSyncClient(SyncConfig{
		ID:         Deepgram,
		APIKey:     s.Deepgram.APIKey,
		AuthHeader: "Authorization",
		AuthPrefix: "Token ",
		URL:        baseURL(s.Deepgram, DefaultDeepgramURL) + "/v1/listen",
		Query: url.Values{
			"model":        {model},
			"language":     {s.language()},
			"punctuate":    {"true"},
			"smart_format": {"true"},
			"diarize":      {"true"},
		},
		Shape:          Shapes[Deepgram],
		RequestTimeout: s.RequestTimeout,
		Log:            s.Log,
	})
}

// NewAssemblyAI returns an AssemblyAI client: raw-body upload, JSON submit,
// then polling /v2/transcript/{id}.
func NewAssemblyAI(s Settings) (*AsyncClient, error) {
	base := baseURL(s.AssemblyAI, DefaultAssemblyAIURL)
	lang := s.language()
	return NewAsyncClient(AsyncConfig{
		ID:             AssemblyAI,
		APIKey:         s.AssemblyAI.APIKey,
		AuthHeader:     "authorization",
		UploadURL:      base + "/v2/upload",
		UploadRefField: "upload_url",
		SubmitURL:      base + "/v2/transcript",
		SubmitBody: func(ref string) map[string]any {
			return map[string]any{
				"audio_url":        ref,
				"language_code":    lang,
				"punctuate":        true,
				"format_text":      true,
				"speaker_labels":   true,
				"filter_profanity": false,
			}
		},
		JobIDField:     "id",
		PollURL:        base + "/v2/transcript",
		PollInterval:   s.PollInterval,
		PollTimeout:    s.PollTimeout,
		Shape:          Shapes[AssemblyAI],
		RequestTimeout: s.RequestTimeout,
		Log:            s.Log,
	})
}

// NewGladia returns a Gladia client: multipart upload under "audio", a
// pre-recorded job submit, then polling /v2/pre-recorded/{id}.
func NewGladia(s Settings) (*AsyncClient, error) {
	base := baseURL(s.Gladia, DefaultGladiaURL)
	lang := s.language()
	return NewAsyncClient(AsyncConfig{
		ID:             Gladia,
		APIKey:         s.Gladia.APIKey,
		AuthHeader:     "x-gladia-key",
		UploadURL:      base + "/v2/upload",
		UploadField:    "audio",
		UploadRefField: "audio_url",
		SubmitURL:      base + "/v2/pre-recorded",
		SubmitBody: func(ref string) map[string]any {
			return map[string]any{
				"audio_url":   ref,
				"diarization": true,
				"language_config": map[string]any{
					"languages":      []string{lang},
					"code_switching": false,
				},
			}
		},
		JobIDField:     "id",
		PollURL:        base + "/v2/pre-recorded",
		PollInterval:   s.PollInterval,
		PollTimeout:    s.PollTimeout,
		Shape:          Shapes[Gladia],
		RequestTimeout: s.RequestTimeout,
		Log:            s.Log,
	})
}

// New builds the built-in provider with the given id.
func New(id ProviderID, s Settings) (Provider, error) {
	// Each constructor returns a concrete pointer; check err before widening
	// it to Provider so a failure never yields a non-nil interface.
	switch id {
	case Deepgram:
		c, err := NewDeepgram(s)
		if err != nil {
			return nil, err
		}
		return c, nil
	case AssemblyAI:
		c, err := NewAssemblyAI(s)
		if err != nil {
			return nil, err
		}
		return c, nil
	case Gladia:
		c, err := NewGladia(s)
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("%w: unsupported provider %q", ErrConfiguration, id)
	}
}

// BuildProviders constructs every requested provider. Providers that cannot be
// built are left out; their configuration errors are joined into err so the
// caller can report each one and carry on with the rest.
func BuildProviders(ids []ProviderID, s Settings) ([]Provider, error) {
	var providers []Provider
	var errs []error
	for _, id := range ids {
		p, err := New(id, s)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		providers = append(providers, p)
	}
	return providers, errors.Join(errs...)
}
