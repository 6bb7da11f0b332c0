// Package ai implements the AI Adapter: prompt assembly, provider
// dispatch, schema-validated extraction with bounded regeneration,
// retry/circuit-breaking, and per-day cost guardrails.
package ai

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/boardroomjournal/core/domain"
	"github.com/boardroomjournal/core/internal/db"
	"github.com/boardroomjournal/core/internal/retry"
	"github.com/boardroomjournal/core/ports"
)

// AuditRecorder is the narrow interface the Adapter needs from the
// Store, mirrored on the agents.AuditStore pattern: this
// package only depends on the one method it calls, not the rest of
// *db.Store's surface.
type AuditRecorder interface {
	RecordCompletion(ctx context.Context, a db.CompletionAudit) error
}

// DailyCaps are soft, informational-only per-day limits; exceeding one
// never blocks a request, it only flags a warning the caller can
// surface to the user.
type DailyCaps struct {
	Entries       int
	Regenerations int
	SessionStarts int
}

var DefaultDailyCaps = DailyCaps{Entries: 10, Regenerations: 15, SessionStarts: 5}

type dailyCounters struct {
	day     string
	entries int
	regens  int
	starts  int
}

func (c *dailyCounters) reset(today string) {
	c.day = today
	c.entries, c.regens, c.starts = 0, 0, 0
}

// Adapter is the single entry point every Workflow Spec calls through
// to reach an LLMPort. It owns the circuit breaker, retry policy, and
// schema-validated regeneration loop so no workflow re-implements any
// of that.
type Adapter struct {
	llm     ports.LLMPort
	clock   ports.Clock
	random  ports.RandomSource
	audit   AuditRecorder
	breaker *gobreaker.CircuitBreaker

	mu       sync.Mutex
	counters dailyCounters
}

// NewAdapter wires one LLMPort behind a failure-ratio circuit breaker:
// the breaker trips once at least 5 requests in a one-minute window
// have failed at a rate of 40% or more, and half-opens again a minute
// later. While it is open, Complete returns the breaker's error without
// calling the provider. The breaker does not track request cost, and
// there is no cached-output or queue fallback.
func NewAdapter(llm ports.LLMPort, clock ports.Clock, random ports.RandomSource, audit AuditRecorder) *Adapter {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "ai-adapter",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= 5 && float64(counts.TotalFailures)/float64(counts.Requests) >= 0.4
		},
	})
	return &Adapter{llm: llm, clock: clock, random: random, audit: audit, breaker: breaker}
}

// Complete assembles ctx into a request for the given schema and purpose,
// runs it through retry + circuit breaker, and validates the result
// against Schemas[schemaName], regenerating up to 2 times with a
// corrective note appended to the workflow-excerpt layer before returning
// domain.SchemaFailure.
func (a *Adapter) Complete(ctx context.Context, tier, purpose, schemaName string, promptCtx PromptContext) (map[string]any, error) {
	schema, ok := Schemas[schemaName]
	if !ok {
		return nil, fmt.Errorf("ai: unknown schema %q", schemaName)
	}

	var lastErr error
	for attempt := 1; attempt <= 3; attempt++ {
		if attempt > 1 {
			promptCtx.WorkflowExcerpt = promptCtx.WorkflowExcerpt + "\n\nYour previous response did not match the required schema: " + lastErr.Error() + ". Correct this and respond again with valid JSON only."
		}

		msgs := Assemble(promptCtx)
		req := ports.CompletionRequest{Tier: tier, Purpose: purpose, Messages: msgs, SchemaName: schemaName, MaxTokens: 2048}

		start := a.clock.Now()
		resp, err := a.callWithReliability(ctx, req)
		latency := a.clock.Now().Sub(start)

		outcome := "ok"
		if err != nil {
			outcome = outcomeFor(err)
		}
		a.recordAudit(ctx, tier, purpose, schemaName, attempt, latency, resp, outcome)

		if err != nil {
			return nil, err
		}

		doc, verr := schema.Validate(resp.Text)
		if verr == nil {
			return doc, nil
		}
		lastErr = verr
	}

	return nil, domain.SchemaFailure(schemaName, 3)
}

// callWithReliability runs one provider call through the circuit
// breaker and, inside that, the 1s/2s/4s retry schedule for transient
// errors - the breaker governs whether to even attempt the call series,
// the retry governs what happens within an attempted series.
func (a *Adapter) callWithReliability(ctx context.Context, req ports.CompletionRequest) (ports.CompletionResponse, error) {
	out, err := a.breaker.Execute(func() (interface{}, error) {
		var resp ports.CompletionResponse
		err := retry.Do(ctx, retry.CompletionSchedule(), func() error {
			r, err := a.llm.Complete(ctx, req)
			if err != nil {
				return err
			}
			resp = r
			return nil
		})
		return resp, err
	})
	if err != nil {
		return ports.CompletionResponse{}, err
	}
	return out.(ports.CompletionResponse), nil
}

func outcomeFor(err error) string {
	var ce *domain.CoreError
	if errors.As(err, &ce) {
		return string(ce.Kind)
	}
	return "error"
}

func (a *Adapter) recordAudit(ctx context.Context, tier, purpose, schemaName string, attempt int, latency time.Duration, resp ports.CompletionResponse, outcome string) {
	if a.audit == nil {
		return
	}
	_ = a.audit.RecordCompletion(ctx, db.CompletionAudit{
		ID:           a.random.NewID(),
		AtUTC:        a.clock.Now(),
		Tier:         tier,
		Purpose:      purpose,
		SchemaName:   schemaName,
		Attempt:      attempt,
		LatencyMS:    latency.Milliseconds(),
		InputTokens:  resp.InputTokens,
		OutputTokens: resp.OutputTokens,
		Outcome:      outcome,
	})
}

// PromptHash returns a stable, non-reversible identifier for a prompt's
// content - never the raw text. recordAudit does not store it: audit
// rows carry no prompt identifier.
func PromptHash(messages []ports.Message) string {
	var b strings.Builder
	for _, m := range messages {
		b.WriteString(m.Role)
		b.WriteString(":")
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:8])
}

// CheckDailyCaps reports which soft caps, if any, the day's activity
// has crossed - informational only; callers surface these as warnings
// and never block on them.
func (a *Adapter) CheckDailyCaps(caps DailyCaps) (warnings []string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	today := a.clock.Now().Format("2006-01-02")
	if a.counters.day != today {
		a.counters.reset(today)
	}
	if a.counters.entries > caps.Entries {
		warnings = append(warnings, fmt.Sprintf("entries today (%d) exceed the usual pace of %d", a.counters.entries, caps.Entries))
	}
	if a.counters.regens > caps.Regenerations {
		warnings = append(warnings, fmt.Sprintf("regenerations today (%d) exceed the usual pace of %d", a.counters.regens, caps.Regenerations))
	}
	if a.counters.starts > caps.SessionStarts {
		warnings = append(warnings, fmt.Sprintf("session starts today (%d) exceed the usual pace of %d", a.counters.starts, caps.SessionStarts))
	}
	return warnings
}

// NoteEntry/NoteRegeneration/NoteSessionStart bump the day's soft
// counters; callers invoke exactly one of these per corresponding
// workflow event.
func (a *Adapter) NoteEntry()         { a.bump(func(c *dailyCounters) { c.entries++ }) }
func (a *Adapter) NoteRegeneration()  { a.bump(func(c *dailyCounters) { c.regens++ }) }
func (a *Adapter) NoteSessionStart()  { a.bump(func(c *dailyCounters) { c.starts++ }) }

func (a *Adapter) bump(f func(*dailyCounters)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	today := a.clock.Now().Format("2006-01-02")
	if a.counters.day != today {
		a.counters.reset(today)
	}
	f(&a.counters)
}
