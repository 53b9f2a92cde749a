package sandbox

import (
	"time"

	"vizguard/internal/chart"
	"vizguard/internal/dataset"
	"vizguard/internal/proposal"
)

// WorkerCommand is the CLI subcommand that runs the worker side.
const WorkerCommand = "sandbox-worker"

// Mode selects what the worker executes.
type Mode string

const (
	ModeSpec Mode = "spec"
	ModeCode Mode = "code"
)

// Request is the only input a worker receives, on stdin.
type Request struct {
	Mode        Mode            `json:"mode"`
	Source      string          `json:"source,omitempty"`
	Proposals   []proposal.Spec `json:"proposals,omitempty"`
	Dataset     dataset.Payload `json:"dataset"`
	MemoryLimit int64           `json:"memory_limit,omitempty"`
	MaxReply    int             `json:"max_reply,omitempty"`
}

// Reply is the worker's single JSON document on stdout.
type Reply struct {
	OK      bool            `json:"ok"`
	Kind    FailureKind     `json:"kind,omitempty"`
	Message string          `json:"message,omitempty"`
	Figures []*chart.Figure `json:"figures,omitempty"`
	Stdout  string          `json:"stdout,omitempty"`
}

// FailureKind classifies an execution failure.
type FailureKind string

const (
	KindTimeout      FailureKind = "timeout"
	KindRuntimeError FailureKind = "runtime_error"
)

// Result is the outcome of one execution: either success with figures or a
// failure with a kind and message, never both.
type Result struct {
	OK      bool            `json:"ok"`
	Figures []*chart.Figure `json:"figures,omitempty"`
	Stdout  string          `json:"stdout,omitempty"`
	Elapsed time.Duration   `json:"elapsed"`
	Kind    FailureKind     `json:"kind,omitempty"`
	Message string          `json:"message,omitempty"`
}

func succeeded(figs []*chart.Figure, stdout string, elapsed time.Duration) *Result {
	return &Result{OK: true, Figures: figs, Stdout: stdout, Elapsed: elapsed}
}

func failed(kind FailureKind, elapsed time.Duration, message string) *Result {
	return &Result{Kind: kind, Message: message, Elapsed: elapsed}
}

// Error renders a failed result for repair prompts; "" on success.
func (r *Result) Error() string {
	if r.OK {
		return ""
	}
	return string(r.Kind) + ": " + r.Message
}
