package transcribe

import (
	"context"
	"strings"
)

// ProviderID identifies a speech-to-text vendor. The set is open: custom
// providers built with NewAsyncClient may use any non-empty id.
type ProviderID string

const (
	Deepgram   ProviderID = "deepgram"
	AssemblyAI ProviderID = "assemblyai"
	Gladia     ProviderID = "gladia"
)

// KnownProviders returns the built-in providers in their fixed display order.
// Reports break ties by this order.
func KnownProviders() []ProviderID {
	return []ProviderID{Deepgram, AssemblyAI, Gladia}
}

var displayNames = map[ProviderID]string{
	Deepgram:   "Deepgram",
	AssemblyAI: "AssemblyAI",
	Gladia:     "Gladia",
}

// DisplayName returns the human-readable vendor name, falling back to the id.
func (id ProviderID) DisplayName() string {
	if n, ok := displayNames[id]; ok {
		return n
	}
	return string(id)
}

// ParseProviderIDs splits a comma-separated list ("deepgram, gladia") into ids,
// dropping blanks and duplicates while keeping order.
func ParseProviderIDs(raw string) []ProviderID {
	var ids []ProviderID
	seen := make(map[ProviderID]bool)
	for _, p := range strings.Split(raw, ",") {
		id := ProviderID(strings.ToLower(strings.TrimSpace(p)))
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids
}

// Provider is the interface for speech-to-text backends.
type Provider interface {
	ID() ProviderID
	Name() string // display name for logs and reports
	Transcribe(ctx context.Context, audio Audio) (*Transcript, error)
}

// Audio identifies a single audio asset on local disk.
type Audio struct {
	Path        string
	Name        string // base file name
	Size        int64  // bytes
	ContentType string // sniffed MIME type, e.g. "audio/mpeg"
}

// Transcript is the normalized text and confidence extracted from a
// provider's response.
type Transcript struct {
	Text       string
	Confidence float64 // 0..1
}
