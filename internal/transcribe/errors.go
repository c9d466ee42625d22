package transcribe

import (
	"errors"
	"fmt"
)

// Error kinds. Match with errors.Is on any error returned by a provider.
var (
	ErrConfiguration      = errors.New("configuration error")
	ErrUpload             = errors.New("upload failed")
	ErrSubmission         = errors.New("submission failed")
	ErrProviderProcessing = errors.New("provider processing failed")
	ErrPollTimeout        = errors.New("poll timeout")
	ErrUnexpectedResponse = errors.New("unexpected response")
)

// Error is a provider-scoped failure of one transcription attempt.
type Error struct {
	Provider ProviderID
	Kind     error  // one of the Err* sentinels
	Detail   string // provider message or response excerpt
	Err      error  // underlying cause, may be nil
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %v", e.Provider, e.Kind)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Is reports whether target is this error's kind.
func (e *Error) Is(target error) bool {
	return e.Kind == target
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(id ProviderID, kind error, detail string, cause error) *Error {
	return &Error{Provider: id, Kind: kind, Detail: detail, Err: cause}
}

// truncate keeps error details readable when a provider echoes a large body.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
