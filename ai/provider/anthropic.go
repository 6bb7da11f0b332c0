// Package provider contains concrete ports.LLMPort adapters. Each wraps
// one vendor's HTTP API and never leaks vendor-shaped types past its own
// file; callers only see ports.CompletionRequest/Response.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/boardroomjournal/core/ports"
)

const (
	anthropicBaseURL    = "https://api.anthropic.com"
	anthropicAPIVersion = "2023-06-01"
	anthropicBeta       = "prompt-caching-2024-07-31"

	// ModelDaily backs extraction, brief, micro-review, and vagueness
	// confirmation calls - cheap and fast.
	ModelDaily = "claude-3-5-haiku-20241022"
	// ModelGovernance backs setup and quarterly calls - higher quality,
	// worth the cost for sessions that happen a handful of times a year.
	ModelGovernance = "claude-sonnet-4-20250514"
)

// ModelForTier maps a ports.CompletionRequest.Tier to the model id used
// for that tier, mirroring DefaultModels constant table.
var ModelForTier = map[string]string{
	"daily":      ModelDaily,
	"governance": ModelGovernance,
}

// Anthropic adapts the Anthropic Messages API to ports.LLMPort, carrying
// forward a prompt-caching header and token-usage ledger.
type Anthropic struct {
	apiKey     string
	httpClient *http.Client

	mu    sync.Mutex
	usage ports.CompletionResponse // cumulative, not per-call
}

// NewAnthropic returns nil-safe even with an empty apiKey; Available()
// reports false in that case rather than erroring at construction.
func NewAnthropic(apiKey string) *Anthropic {
	return &Anthropic{
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 2 * time.Minute},
	}
}

func (a *Anthropic) Name() string    { return "anthropic" }
func (a *Anthropic) Available() bool { return a.apiKey != "" }

type anthropicMessage struct {
	Role    string              `json:"role"`
	Content []anthropicContent  `json:"content"`
}

type anthropicContent struct {
	Type         string        `json:"type"`
	Text         string        `json:"text,omitempty"`
	CacheControl *cacheControl `json:"cache_control,omitempty"`
}

type cacheControl struct {
	Type string `json:"type"`
}

type anthropicSystemBlock struct {
	Type         string        `json:"type"`
	Text         string        `json:"text"`
	CacheControl *cacheControl `json:"cache_control,omitempty"`
}

type anthropicRequest struct {
	Model       string                 `json:"model"`
	MaxTokens   int                    `json:"max_tokens"`
	System      []anthropicSystemBlock `json:"system,omitempty"`
	Messages    []anthropicMessage     `json:"messages"`
	Temperature *float64               `json:"temperature,omitempty"`
}

type anthropicResponse struct {
	Content []anthropicContent `json:"content"`
	Model   string             `json:"model"`
	Usage   struct {
		InputTokens        int `json:"input_tokens"`
		OutputTokens       int `json:"output_tokens"`
		CacheCreationInput int `json:"cache_creation_input_tokens"`
		CacheReadInput     int `json:"cache_read_input_tokens"`
	} `json:"usage"`
}

// Complete sends req to the Messages API. The first message (layer 1,
// system policy) is always sent as a cached system block; the remaining
// conversation turns are sent uncached since they vary per request.
func (a *Anthropic) Complete(ctx context.Context, req ports.CompletionRequest) (ports.CompletionResponse, error) {
	if !a.Available() {
		return ports.CompletionResponse{}, fmt.Errorf("anthropic: no API key configured")
	}

	model := ModelForTier[req.Tier]
	if model == "" {
		model = ModelDaily
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}

	areq := anthropicRequest{Model: model, MaxTokens: maxTokens}
	if req.Temperature != 0 {
		t := req.Temperature
		areq.Temperature = &t
	}

	for _, m := range req.Messages {
		if m.Role == "system" {
			block := anthropicSystemBlock{Type: "text", Text: m.Content}
			if len(areq.System) == 0 {
				block.CacheControl = &cacheControl{Type: "ephemeral"}
			}
			areq.System = append(areq.System, block)
			continue
		}
		areq.Messages = append(areq.Messages, anthropicMessage{
			Role:    m.Role,
			Content: []anthropicContent{{Type: "text", Text: m.Content}},
		})
	}

	body, err := json.Marshal(areq)
	if err != nil {
		return ports.CompletionResponse{}, fmt.Errorf("anthropic: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, anthropicBaseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return ports.CompletionResponse{}, fmt.Errorf("anthropic: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", a.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicAPIVersion)
	httpReq.Header.Set("anthropic-beta", anthropicBeta)

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return ports.CompletionResponse{}, fmt.Errorf("anthropic: send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return ports.CompletionResponse{}, fmt.Errorf("anthropic: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return ports.CompletionResponse{}, classifyHTTPError(resp.StatusCode, respBody)
	}

	var aresp anthropicResponse
	if err := json.Unmarshal(respBody, &aresp); err != nil {
		return ports.CompletionResponse{}, fmt.Errorf("anthropic: unmarshal response: %w", err)
	}

	var text string
	for _, c := range aresp.Content {
		if c.Type == "text" {
			text += c.Text
		}
	}

	out := ports.CompletionResponse{
		Text:             text,
		InputTokens:      aresp.Usage.InputTokens,
		OutputTokens:     aresp.Usage.OutputTokens,
		CacheReadTokens:  aresp.Usage.CacheReadInput,
		CacheWriteTokens: aresp.Usage.CacheCreationInput,
	}
	a.trackUsage(out)
	return out, nil
}

func (a *Anthropic) trackUsage(r ports.CompletionResponse) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.usage.InputTokens += r.InputTokens
	a.usage.OutputTokens += r.OutputTokens
	a.usage.CacheReadTokens += r.CacheReadTokens
	a.usage.CacheWriteTokens += r.CacheWriteTokens
}

// Usage returns cumulative token counts across every Complete call.
func (a *Anthropic) Usage() ports.CompletionResponse {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.usage
}
