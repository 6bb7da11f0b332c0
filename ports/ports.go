// Package ports declares the interfaces the core depends on but does not
// implement. Every concrete adapter (HTTP clients, OS clocks, vendor SDKs)
// lives outside this package; core code only ever imports ports.
package ports

import (
	"context"
	"time"
)

// Clock returns the current instant. Production code uses a thin wrapper
// around time.Now; tests use a fixed or steppable clock so transition and
// scheduling logic is deterministic.
type Clock interface {
	Now() time.Time
}

// RandomSource produces identifiers and jitter. Production code backs this
// with google/uuid; tests use a deterministic sequence.
type RandomSource interface {
	NewID() string
	// Float64 returns a value in [0, 1), used for jitter in backoff.
	Float64() float64
}

// Message is one turn in a conversation sent to an LLM.
type Message struct {
	Role    string // "system", "user", "assistant"
	Content string
}

// CompletionRequest carries the fully-assembled prompt for one AI Adapter
// call, already layered per the prompt-assembly contract.
type CompletionRequest struct {
	Tier        string // "daily" or "governance"
	Purpose     string // e.g. "extract_signals", "weekly_brief"
	Messages    []Message
	SchemaName  string
	MaxTokens   int
	Temperature float64
}

// CompletionResponse is the raw model output before schema validation.
type CompletionResponse struct {
	Text             string
	InputTokens      int
	OutputTokens     int
	CacheReadTokens  int
	CacheWriteTokens int
}

// LLMPort is the boundary between the AI Adapter and whatever model
// provider backs it. The core never imports a vendor SDK directly; only
// adapter implementations constructed at the process edge do.
type LLMPort interface {
	Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error)
	Name() string
	Available() bool
}

// TranscriptionPort turns recorded audio into text. Implementations may
// wrap a vendor streaming or batch API; the core only sees the result.
type TranscriptionPort interface {
	Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error)
	Name() string
	Available() bool
}

// SecretStore isolates API keys and device credentials from the rest of
// the core so no component formats or logs a raw secret.
type SecretStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
}

// Delta is one entity mutation exchanged with a remote sync peer.
type Delta struct {
	EntityType     string
	EntityID       string
	Operation      string // "upsert" or "delete"
	Payload        []byte // JSON-encoded entity snapshot
	ServerVersion  int64
	UpdatedAtUTC   time.Time
	ClientDeviceID string
}

// PullResult is one page of remote deltas plus a cursor for the next page.
type PullResult struct {
	Deltas     []Delta
	NextCursor string
	HasMore    bool
}

// RemoteSyncPort is the boundary to whatever backend reconciles deltas
// across a user's devices. The core never performs a wire call directly.
type RemoteSyncPort interface {
	Push(ctx context.Context, deltas []Delta) error
	Pull(ctx context.Context, sinceCursor string) (PullResult, error)
}

// Scheduler lets a component ask to be woken at or after a given instant,
// best-effort. It is not a guarantee of exact delivery.
type Scheduler interface {
	WakeAt(ctx context.Context, t time.Time) <-chan time.Time
}
