package pipeline

import (
	"fmt"
	"strings"

	"vizguard/internal/dataset"
	"vizguard/internal/proposal"
	"vizguard/internal/security"
	"vizguard/internal/types"
)

// promptBuilder accumulates repair context for one run. Every repair
// prompt restates the whole defect history, not just the latest failure.
type promptBuilder struct {
	base    string
	history []historyEntry
}

type historyEntry struct {
	attempt   int
	candidate string
	failure   *Failure
}

func newPromptBuilder(question string, mode Mode, ds *dataset.Dataset, required int) *promptBuilder {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Question: %s\n\n", question)
	sb.WriteString(ds.Summary())
	sb.WriteString("\n")

	switch mode {
	case ModeCode:
		fmt.Fprintf(&sb, "Write one Go source file in package main that defines\n\n\t%s\n\n", security.EntrypointSignature)
		fmt.Fprintf(&sb, "and imports only %q and these standard packages: %s.\n",
			security.ChartImportPath, strings.Join(security.AllowedStdlib, ", "))
		sb.WriteString("Read columns with f.Numbers(name) and f.Strings(name); build the figure with chart.NewFigure and fig.AddSeries.\n")
		sb.WriteString("Do not define main or init, start goroutines, or call panic. Return the file in a ```go fence.\n")
	default:
		fmt.Fprintf(&sb, "Propose exactly %d alternative charts. Answer with one JSON object matching this schema:\n\n", required)
		sb.Write(proposal.ContractSchema())
		sb.WriteString("\n\nUse column names exactly as listed. Aggregate y when x repeats.\n")
	}
	return &promptBuilder{base: sb.String()}
}

// initial is the first request of a run.
func (p *promptBuilder) initial() string {
	return p.base
}

// record adds one failed attempt to the history and returns the repair
// prompt for the next attempt together with its delta.
func (p *promptBuilder) record(attempt int, candidate *types.Candidate, f *Failure) (prompt, delta string) {
	entry := historyEntry{attempt: attempt, failure: f}
	if candidate != nil {
		entry.candidate = candidate.Text()
	}
	p.history = append(p.history, entry)

	delta = p.section(entry)
	var sb strings.Builder
	sb.WriteString(p.base)
	sb.WriteString("\nPrevious attempts were rejected. Every defect found so far is listed; none may reappear.\n")
	for _, e := range p.history {
		sb.WriteString("\n")
		sb.WriteString(p.section(e))
	}
	sb.WriteString("\nCorrect exactly these defects, keep everything that was already correct, and return the complete corrected answer.\n")
	return sb.String(), delta
}

func (p *promptBuilder) section(e historyEntry) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Attempt %d failed with %s:\n", e.attempt, e.failure.Kind)
	sb.WriteString(e.failure.Defects())
	if e.candidate != "" {
		fmt.Fprintf(&sb, "Attempt %d answer:\n```\n%s\n```\n", e.attempt, e.candidate)
	}
	return sb.String()
}
