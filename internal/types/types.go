// Package types provides shared value types used across vizguard packages.
// It exists to break import cycles between extract, proposal and pipeline.
package types

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// =============================================================================
// CANDIDATES
// =============================================================================

// CandidateKind distinguishes declarative payloads from executable snippets.
type CandidateKind string

const (
	CandidateStructured CandidateKind = "structured"
	CandidateCode       CandidateKind = "code"
)

// Candidate is an unvalidated payload extracted from one model response.
type Candidate struct {
	Kind CandidateKind `json:"kind"`

	// Object is set for structured candidates.
	Object map[string]any `json:"object,omitempty"`
	// Source is set for code candidates.
	Source string `json:"source,omitempty"`

	// Provenance
	Attempt  int  `json:"attempt"`
	Offset   int  `json:"offset"`   // byte offset of the payload in the raw text
	Repaired bool `json:"repaired"` // true when the repair pass was needed
}

// Text returns a printable form of the candidate for repair prompts.
func (c *Candidate) Text() string {
	if c == nil {
		return ""
	}
	if c.Kind == CandidateCode {
		return c.Source
	}
	data, err := json.MarshalIndent(c.Object, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", c.Object)
	}
	return string(data)
}

// =============================================================================
// VALIDATION ERRORS
// =============================================================================

// ViolationKind classifies a single field-level defect.
type ViolationKind string

const (
	KindUnparseable         ViolationKind = "unparseable"
	KindMissingField        ViolationKind = "missing_field"
	KindUnknownField        ViolationKind = "unknown_field"
	KindTypeMismatch        ViolationKind = "type_mismatch"
	KindInvalidEnum         ViolationKind = "invalid_enum"
	KindUnknownColumn       ViolationKind = "unknown_column"
	KindAggregationMismatch ViolationKind = "aggregation_mismatch"
	KindAggregationRequired ViolationKind = "aggregation_required"
	KindCountMismatch       ViolationKind = "count_mismatch"
	KindOutOfRange          ViolationKind = "out_of_range"
)

// Severity of a validation error. Both severities block acceptance.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// ValidationError is one defect found in a candidate.
type ValidationError struct {
	Field    string        `json:"field"`
	Kind     ViolationKind `json:"kind"`
	Detail   string        `json:"detail"`
	Severity Severity      `json:"severity"`
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
	}
	return fmt.Sprintf("%s: %s: %s", e.Field, e.Kind, e.Detail)
}

// SortValidationErrors orders errors by field then kind for stable output.
func SortValidationErrors(errs []ValidationError) {
	sort.SliceStable(errs, func(i, j int) bool {
		if errs[i].Field != errs[j].Field {
			return errs[i].Field < errs[j].Field
		}
		return errs[i].Kind < errs[j].Kind
	})
}

// FormatValidationErrors renders errors as a bullet list.
func FormatValidationErrors(errs []ValidationError) string {
	var sb strings.Builder
	for _, e := range errs {
		sb.WriteString("- ")
		sb.WriteString(e.Error())
		sb.WriteString("\n")
	}
	return sb.String()
}
