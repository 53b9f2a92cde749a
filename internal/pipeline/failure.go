package pipeline

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"

	"vizguard/internal/llm"
	"vizguard/internal/sandbox"
	"vizguard/internal/security"
	"vizguard/internal/types"
)

// FailureKind is the error taxonomy of a run.
type FailureKind string

const (
	UnparseableOutput      FailureKind = "UnparseableOutput"
	SchemaViolation        FailureKind = "SchemaViolation"
	SecurityViolation      FailureKind = "SecurityViolation"
	ExecutionTimeout       FailureKind = "ExecutionTimeout"
	ExecutionRuntimeError  FailureKind = "ExecutionRuntimeError"
	ModelUnavailable       FailureKind = "ModelUnavailable"
	AttemptBudgetExhausted FailureKind = "AttemptBudgetExhausted"
)

// ErrAttemptBudgetExhausted is the terminal error of a run that never
// succeeded. It wraps the last concrete failure.
var ErrAttemptBudgetExhausted = errors.New(string(AttemptBudgetExhausted))

// Failure is the concrete defect produced by one attempt. The detail field
// matching Kind is set; a SecurityViolation may also carry the snippet's
// column errors.
type Failure struct {
	Kind      FailureKind             `json:"kind"`
	Errors    []types.ValidationError `json:"errors,omitempty"`
	Verdict   *security.Verdict       `json:"verdict,omitempty"`
	Execution *sandbox.Result         `json:"execution,omitempty"`
	Model     *llm.ModelError         `json:"-"`
	ModelKind llm.ErrorKind           `json:"model_kind,omitempty"`
	Message   string                  `json:"message"`
}

func (f *Failure) Error() string {
	return string(f.Kind) + ": " + f.Message
}

func validationFailure(kind FailureKind, errs []types.ValidationError) *Failure {
	msg := fmt.Sprintf("%d defect(s)", len(errs))
	if len(errs) == 1 {
		msg = errs[0].Error()
	}
	return &Failure{Kind: kind, Errors: errs, Message: msg}
}

func securityFailure(v *security.Verdict) *Failure {
	return &Failure{
		Kind:    SecurityViolation,
		Verdict: v,
		Message: "denied by rule(s) " + strings.Join(v.RuleIDs(), ", "),
	}
}

func executionFailure(res *sandbox.Result) *Failure {
	kind := ExecutionRuntimeError
	if res.Kind == sandbox.KindTimeout {
		kind = ExecutionTimeout
	}
	return &Failure{Kind: kind, Execution: res, Message: res.Message}
}

func modelFailure(err error) *Failure {
	me := llm.AsModelError(err)
	return &Failure{Kind: ModelUnavailable, Model: me, ModelKind: me.Kind, Message: me.Error()}
}

// Defects renders the failure as the bullet list a repair prompt carries.
func (f *Failure) Defects() string {
	var sb strings.Builder
	switch f.Kind {
	case UnparseableOutput, SchemaViolation:
		sb.WriteString(types.FormatValidationErrors(f.Errors))
	case SecurityViolation:
		for _, v := range f.Verdict.Violations {
			fmt.Fprintf(&sb, "- %s %q", v.RuleID, v.Construct)
			if v.Line > 0 {
				fmt.Fprintf(&sb, " (line %d)", v.Line)
			}
			fmt.Fprintf(&sb, ": %s\n", v.Description)
		}
		sb.WriteString(types.FormatValidationErrors(f.Errors))
	default:
		fmt.Fprintf(&sb, "- %s\n", f.Error())
	}
	return sb.String()
}

// hint is the user-facing next step for a run that ended on f.
func (f *Failure) hint() string {
	switch f.Kind {
	case UnparseableOutput:
		return "the model never returned a parseable payload; check that the model follows the output format"
	case SchemaViolation:
		errs := f.Errors
		if len(errs) > 3 {
			errs = errs[:3]
		}
		parts := make([]string, len(errs))
		for i, e := range errs {
			parts[i] = e.Error()
		}
		return "remaining defects: " + strings.Join(parts, "; ")
	case SecurityViolation:
		return "the generated code kept using denied constructs (" + strings.Join(f.Verdict.RuleIDs(), ", ") + "); try spec mode"
	case ExecutionTimeout:
		return "the chart exceeded the execution budget; narrow the question or raise execution_timeout"
	case ExecutionRuntimeError:
		return "the chart failed at run time: " + f.Message
	case ModelUnavailable:
		return "the model was unavailable (" + string(f.ModelKind) + "); retry later"
	}
	return ""
}

// exhausted builds the terminal error for a run that used every attempt.
func exhausted(attempts int, last *Failure) error {
	err := errors.Wrapf(ErrAttemptBudgetExhausted, "%d attempt(s) failed; last failure %s", attempts, last.Error())
	if h := last.hint(); h != "" {
		err = errors.WithHint(err, h)
	}
	return err
}
