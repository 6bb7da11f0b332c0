package export

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/boardroomjournal/core/domain"
)

var titleCase = cases.Title(language.English)

// spaceWords splits a PascalCase role type like "LongTermPositioning"
// into "Long Term Positioning" before title-casing.
func spaceWords(s string) string {
	var out strings.Builder
	for i, r := range s {
		if i > 0 && unicode.IsUpper(r) {
			out.WriteRune(' ')
		}
		out.WriteRune(r)
	}
	return out.String()
}

// Markdown renders a Backup as a single human-readable digest: current
// portfolio, board, open bets, and the most recent weekly briefs. It is
// lossy by design - session transcripts and evidence rows are left out
// since they exist to feed sessions back in, not to be read standalone.
func Markdown(b Backup) string {
	var out strings.Builder

	fmt.Fprintf(&out, "# Boardroom Journal Export\n\n_Generated %s_\n\n", b.ExportedAtUTC.Format("2006-01-02 15:04 MST"))

	out.WriteString("## Portfolio\n\n")
	if len(b.Problems) == 0 {
		out.WriteString("_No active problems._\n\n")
	}
	for _, p := range b.Problems {
		fmt.Fprintf(&out, "### %s\n\n", p.Name)
		fmt.Fprintf(&out, "- What breaks: %s\n", p.WhatBreaks)
		fmt.Fprintf(&out, "- Direction: %s (%s)\n", p.Direction, p.DirectionRationale)
		fmt.Fprintf(&out, "- Time allocation: %d%%\n\n", p.TimeAllocationPct)
	}

	out.WriteString("## Board\n\n")
	for _, m := range b.Board {
		status := "inactive"
		if m.IsActive {
			status = "active"
		}
		fmt.Fprintf(&out, "- **%s** (%s, %s)\n", m.Persona.Name, titleCase.String(spaceWords(m.RoleType)), status)
	}
	out.WriteString("\n")

	out.WriteString("## Open Bets\n\n")
	openCount := 0
	for _, bet := range b.Bets {
		if bet.Status != domain.BetOpen {
			continue
		}
		openCount++
		fmt.Fprintf(&out, "- %s (due %s)\n  - Wrong if: %s\n", bet.Prediction, bet.DueAtUTC.Format("2006-01-02"), bet.WrongIf)
	}
	if openCount == 0 {
		out.WriteString("_No open bets._\n")
	}
	out.WriteString("\n")

	out.WriteString("## Recent Weekly Briefs\n\n")
	limit := len(b.WeeklyBriefs)
	if limit > 8 {
		limit = 8
	}
	for _, brief := range b.WeeklyBriefs[:limit] {
		fmt.Fprintf(&out, "### Week of %s\n\n%s\n\n", brief.WeekStart, brief.BriefMarkdown)
	}

	return out.String()
}
