package ai

import (
	"fmt"
	"strings"

	"github.com/boardroomjournal/core/ai/retrieval"
	"github.com/boardroomjournal/core/domain"
	"github.com/boardroomjournal/core/ports"
)

// systemPolicy is layer 1: fixed across every call, ask-one-question
// discipline, the output schema contract, and the quote-user-words
// directive - the part of the prompt PromptBuilder would
// mark cached, since it never varies per request.
const systemPolicy = `You are the Boardroom Journal facilitator. Ask exactly one question at a
time. Respond only with JSON matching the declared schema for this turn - no
prose outside the JSON object. When citing the user's own words, quote them
verbatim; never paraphrase a quote.`

// RoleContext carries layer 3 (board-role layer), populated only during
// a governance session.
type RoleContext struct {
	Persona          domain.Persona
	AnchoredProblem  string
	AnchoredDemand   string
}

// UserContext carries layer 4: the active portfolio/board/bet/quarterly
// state the model needs without re-deriving it from raw history.
type UserContext struct {
	ActiveProblems   []domain.Problem
	ActiveBoard      []domain.BoardMember
	LastBet          *domain.Bet
	LastQuarterlyMD  string
}

// PromptContext assembles the six prompt layers in fixed order.
// Any layer left zero-valued is simply omitted from the message list.
type PromptContext struct {
	WorkflowExcerpt string // layer 2
	Role            *RoleContext
	User            UserContext
	SessionInput    string // layer 5, the user's latest answer only
	Retrieved       []retrieval.Match
}

// Assemble renders ctx into the ordered message list an LLMPort.Complete
// call expects, with layer 1 always first as a "system" role message so
// providers carrying their own caching (the Anthropic adapter) can
// mark it cached independent of what follows.
func Assemble(ctx PromptContext) []ports.Message {
	msgs := []ports.Message{{Role: "system", Content: systemPolicy}}

	if ctx.WorkflowExcerpt != "" {
		msgs = append(msgs, ports.Message{Role: "system", Content: "Workflow state:\n" + ctx.WorkflowExcerpt})
	}

	if ctx.Role != nil {
		msgs = append(msgs, ports.Message{Role: "system", Content: renderRole(*ctx.Role)})
	}

	if userCtx := renderUserContext(ctx.User); userCtx != "" {
		msgs = append(msgs, ports.Message{Role: "system", Content: userCtx})
	}

	if len(ctx.Retrieved) > 0 {
		msgs = append(msgs, ports.Message{Role: "system", Content: renderRetrieved(ctx.Retrieved)})
	}

	if ctx.SessionInput != "" {
		msgs = append(msgs, ports.Message{Role: "user", Content: ctx.SessionInput})
	}

	return msgs
}

func renderRole(r RoleContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are speaking as %s (%s). Communication style: %s. Signature phrase: %q.\n",
		r.Persona.Name, r.Persona.Background, r.Persona.CommunicationStyle, r.Persona.SignaturePhrase)
	if r.AnchoredProblem != "" {
		fmt.Fprintf(&b, "Anchored problem: %s. Anchored demand: %s.\n", r.AnchoredProblem, r.AnchoredDemand)
	}
	return b.String()
}

func renderUserContext(u UserContext) string {
	if len(u.ActiveProblems) == 0 && len(u.ActiveBoard) == 0 && u.LastBet == nil && u.LastQuarterlyMD == "" {
		return ""
	}
	var b strings.Builder
	b.WriteString("User context:\n")
	for _, p := range u.ActiveProblems {
		fmt.Fprintf(&b, "- Problem %q: %s (%s, %d%% allocation)\n", p.Name, p.WhatBreaks, p.Direction, p.TimeAllocationPct)
	}
	for _, m := range u.ActiveBoard {
		fmt.Fprintf(&b, "- Board member %s (%s)\n", m.Persona.Name, m.RoleType)
	}
	if u.LastBet != nil {
		fmt.Fprintf(&b, "- Last bet: %q (wrong if: %q, status: %s)\n", u.LastBet.Prediction, u.LastBet.WrongIf, u.LastBet.Status)
	}
	if u.LastQuarterlyMD != "" {
		fmt.Fprintf(&b, "- Last quarterly output:\n%s\n", u.LastQuarterlyMD)
	}
	return b.String()
}

func renderRetrieved(matches []retrieval.Match) string {
	var b strings.Builder
	b.WriteString("Relevant prior context (bounded, explicitly retrieved):\n")
	for _, m := range matches {
		fmt.Fprintf(&b, "- (%s, similarity %.2f): %s\n", m.Span.SourceType, m.Similarity, m.Span.Content)
	}
	return b.String()
}
