// Package pipeline is the repair orchestrator. A run asks the model for a
// candidate, pushes it through extraction, validation, the security filter
// (code mode) and the sandbox, and re-prompts with the accumulated defects
// until it succeeds or the attempt budget is spent.
package pipeline

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"vizguard/internal/config"
	"vizguard/internal/dataset"
	"vizguard/internal/extract"
	"vizguard/internal/llm"
	"vizguard/internal/logging"
	"vizguard/internal/proposal"
	"vizguard/internal/sandbox"
	"vizguard/internal/security"
	"vizguard/internal/types"
)

// Mode selects what the model is asked to produce.
type Mode string

const (
	ModeSpec Mode = "spec"
	ModeCode Mode = "code"
)

// Config is the complete configuration surface of a run.
type Config struct {
	MaxAttempts       int
	ExecutionTimeout  time.Duration
	RequiredProposals int
	SecurityRuleSet   string
}

// DefaultConfig returns 3 attempts, a 30s execution budget, 3 proposals and
// the v2 rule set.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:       3,
		ExecutionTimeout:  30 * time.Second,
		RequiredProposals: 3,
		SecurityRuleSet:   "v2",
	}
}

// FromConfig converts the file configuration.
func FromConfig(pc config.PipelineConfig) Config {
	return Config{
		MaxAttempts:       pc.MaxAttempts,
		ExecutionTimeout:  pc.GetExecutionTimeout(),
		RequiredProposals: pc.RequiredProposals,
		SecurityRuleSet:   pc.SecurityRuleSet,
	}
}

func (c Config) validate() error {
	switch {
	case c.MaxAttempts < 1:
		return errors.Newf("max attempts must be at least 1, got %d", c.MaxAttempts)
	case c.ExecutionTimeout <= 0:
		return errors.Newf("execution timeout must be positive, got %v", c.ExecutionTimeout)
	case c.RequiredProposals < 1:
		return errors.Newf("required proposals must be at least 1, got %d", c.RequiredProposals)
	}
	return nil
}

// Executor is the sandbox as the orchestrator sees it.
type Executor interface {
	ExecuteCode(ctx context.Context, snippet *security.Approved, ds *dataset.Dataset) *sandbox.Result
	ExecuteSpec(ctx context.Context, set *proposal.Set, ds *dataset.Dataset) *sandbox.Result
}

// FigureHandle references a figure produced by a Renderer.
type FigureHandle string

// Renderer is the optional charting backend, called once per proposal after
// a spec-mode run succeeds.
type Renderer interface {
	Render(ctx context.Context, spec proposal.Spec, ds *dataset.Dataset) (FigureHandle, error)
}

// Option customises a Pipeline.
type Option func(*Pipeline)

// WithRenderer sets the charting backend.
func WithRenderer(r Renderer) Option {
	return func(p *Pipeline) { p.renderer = r }
}

// Pipeline runs questions. It holds no per-run state; concurrent Runs share
// only the read-only dataset they are given.
type Pipeline struct {
	cfg       Config
	gen       llm.Generator
	exec      Executor
	renderer  Renderer
	extractor *extract.Extractor
	validator *proposal.Validator
	filter    *security.Filter
}

// New validates cfg and loads the configured security rule set.
func New(cfg Config, gen llm.Generator, exec Executor, opts ...Option) (*Pipeline, error) {
	if err := cfg.validate(); err != nil {
		return nil, errors.Wrap(err, "invalid pipeline config")
	}
	if gen == nil || exec == nil {
		return nil, errors.New("pipeline needs a generator and an executor")
	}
	filter, err := security.NewFilter(cfg.SecurityRuleSet)
	if err != nil {
		return nil, err
	}
	p := &Pipeline{
		cfg:       cfg,
		gen:       gen,
		exec:      exec,
		extractor: extract.New(),
		validator: proposal.NewValidator(cfg.RequiredProposals),
		filter:    filter,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Config returns the run configuration.
func (p *Pipeline) Config() Config { return p.cfg }

// Request is one user question.
type Request struct {
	Question string `json:"question"`
	Mode     Mode   `json:"mode,omitempty"`
}

// RepairAttempt is one model round trip and what became of it.
type RepairAttempt struct {
	Index       int              `json:"index"`
	PromptDelta string           `json:"prompt_delta"`
	Candidate   *types.Candidate `json:"candidate,omitempty"`
	Failure     *Failure         `json:"failure,omitempty"`
	Terminal    bool             `json:"terminal"`
	Elapsed     time.Duration    `json:"elapsed"`
}

// Result is the caller-facing outcome of a run. Attempts is populated on
// success and failure alike.
type Result struct {
	RunID        string          `json:"run_id"`
	Question     string          `json:"question"`
	Mode         Mode            `json:"mode"`
	State        StateKind       `json:"state"`
	Set          *proposal.Set   `json:"proposals,omitempty"`
	Execution    *sandbox.Result `json:"execution,omitempty"`
	Failure      *Failure        `json:"failure,omitempty"`
	Attempts     []RepairAttempt `json:"attempts"`
	Renders      []FigureHandle  `json:"renders,omitempty"`
	RenderErrors []string        `json:"render_errors,omitempty"`
	Elapsed      time.Duration   `json:"elapsed"`

	// Err is set on Failed: ErrAttemptBudgetExhausted or the cancellation.
	Err       error  `json:"-"`
	ErrorText string `json:"error,omitempty"`
	Hint      string `json:"hint,omitempty"`
}

// Succeeded reports whether the run reached Succeeded.
func (r *Result) Succeeded() bool { return r.State == Succeeded }

// Run executes one question against ds to a terminal state. It never
// returns an error directly; failures are reported on the Result.
func (p *Pipeline) Run(ctx context.Context, req Request, ds *dataset.Dataset) *Result {
	if req.Mode == "" {
		req.Mode = ModeSpec
	}
	res := &Result{RunID: uuid.NewString(), Question: req.Question, Mode: req.Mode}
	r := &run{
		p:       p,
		ctx:     ctx,
		ds:      ds,
		res:     res,
		mode:    req.Mode,
		machine: Machine{MaxAttempts: p.cfg.MaxAttempts, Code: req.Mode == ModeCode},
		state:   State{Kind: Start},
		prompts: newPromptBuilder(req.Question, req.Mode, ds, p.cfg.RequiredProposals),
		audit:   logging.Audit(res.RunID),
	}

	start := time.Now()
	r.audit.RunStart(req.Question, string(req.Mode), p.cfg.MaxAttempts)
	r.loop()
	if res.Succeeded() && req.Mode == ModeSpec && p.renderer != nil {
		r.render()
	}
	res.Elapsed = time.Since(start)

	failure := ""
	if res.Failure != nil {
		failure = res.Failure.Error()
	}
	if res.Err != nil {
		res.ErrorText = res.Err.Error()
		res.Hint = errors.FlattenHints(res.Err)
	}
	r.audit.RunEnd(string(res.State), len(res.Attempts), failure, res.Elapsed)
	logging.Pipeline("run %s finished %s after %d attempt(s) in %v", res.RunID, res.State, len(res.Attempts), res.Elapsed)
	return res
}

// run is the mutable state of one Run call. It is never shared.
type run struct {
	p       *Pipeline
	ctx     context.Context
	ds      *dataset.Dataset
	res     *Result
	mode    Mode
	machine Machine
	state   State
	prompts *promptBuilder
	audit   *logging.AuditLogger

	prompt   string
	delta    string
	raw      string
	current  *RepairAttempt
	started  time.Time
	set      *proposal.Set
	approved *security.Approved
	failure  *Failure // failure of the current stage
	last     *Failure // last recorded failure
}

func (r *run) loop() {
	r.prompt = r.prompts.initial()
	r.delta = "initial request"

	for !r.state.Terminal() {
		var ev Event
		if r.ctx.Err() != nil && r.state.Kind != Start && r.state.Kind != Repairing {
			ev = EvCanceled
		} else {
			switch r.state.Kind {
			case Start, Repairing:
				ev = r.callModel()
			case Extracting:
				ev = r.extract()
			case Validating:
				ev = r.validate()
			case SecurityChecking:
				ev = r.checkSecurity()
			case Executing:
				ev = r.execute()
			}
		}

		next, err := r.machine.Next(r.state, ev)
		if err != nil {
			r.finish(State{Kind: Failed, Attempt: r.state.Attempt}, errors.WithAssertionFailure(err))
			return
		}
		logging.PipelineDebug("run %s: %s --%s--> %s", r.res.RunID, r.state, ev, next)
		r.advance(ev, next)
	}
}

// advance applies a transition and does the bookkeeping it implies.
func (r *run) advance(ev Event, next State) {
	defer func() { r.state = next }()

	switch {
	case ev == EvCanceled:
		f := r.failure
		if f == nil {
			f = r.last
		}
		if f == nil {
			f = modelFailure(r.ctx.Err())
		}
		r.closeAttempt(f, true)
		r.finish(next, errors.Wrap(r.ctx.Err(), "run canceled"))

	case ev == EvDefects || ev == EvModelFailed:
		f := r.failure
		var candidate *types.Candidate
		if r.current != nil {
			candidate = r.current.Candidate
		}
		r.closeAttempt(f, next.Terminal())
		if next.Terminal() {
			r.finish(next, exhausted(next.Attempt, f))
			return
		}
		r.prompt, r.delta = r.prompts.record(next.Attempt, candidate, f)
		logging.Pipeline("run %s: attempt %d failed (%s), repairing", r.res.RunID, next.Attempt, f.Kind)

	case next.Kind == Succeeded:
		r.closeAttempt(nil, true)
		r.res.Set = r.set
		r.finish(next, nil)
	}
}

// closeAttempt records the current attempt in the audit trail.
func (r *run) closeAttempt(f *Failure, terminal bool) {
	if r.current == nil {
		return
	}
	r.current.Failure = f
	r.current.Terminal = terminal
	r.current.Elapsed = time.Since(r.started)
	r.res.Attempts = append(r.res.Attempts, *r.current)

	outcome, defects := "succeeded", 0
	if f != nil {
		outcome = string(f.Kind)
		defects = len(f.Errors)
		if f.Verdict != nil {
			defects = len(f.Verdict.Violations)
		}
		if defects == 0 {
			defects = 1
		}
		r.last = f
	}
	r.audit.Attempt(r.current.Index, outcome, defects, terminal)
	r.current, r.failure = nil, nil
}

func (r *run) finish(next State, err error) {
	r.state = next
	r.res.State = next.Kind
	if next.Kind == Failed {
		r.res.Failure = r.last
		r.res.Err = err
	}
}

func (r *run) callModel() Event {
	r.current = &RepairAttempt{Index: r.state.Attempt + 1, PromptDelta: r.delta}
	r.started = time.Now()
	r.set, r.approved, r.raw = nil, nil, ""

	text, err := r.p.gen.Generate(r.ctx, r.prompt)
	elapsed := time.Since(r.started)
	if err != nil {
		r.failure = modelFailure(err)
		r.audit.ModelCall(len(r.prompt), 0, elapsed, string(r.failure.ModelKind))
		if r.ctx.Err() != nil {
			return EvCanceled
		}
		return EvModelFailed
	}
	r.audit.ModelCall(len(r.prompt), len(text), elapsed, "")
	r.raw = text
	return EvResponse
}

func (r *run) candidateKind() types.CandidateKind {
	if r.mode == ModeCode {
		return types.CandidateCode
	}
	return types.CandidateStructured
}

func (r *run) extract() Event {
	cand, verr := r.p.extractor.Extract(r.raw, r.candidateKind(), r.state.Attempt)
	if verr != nil {
		r.failure = validationFailure(UnparseableOutput, []types.ValidationError{*verr})
		return EvDefects
	}
	r.current.Candidate = cand
	return EvPassed
}

func (r *run) validate() Event {
	cand := r.current.Candidate
	var errs []types.ValidationError
	if r.mode == ModeCode {
		errs = r.p.validator.ValidateSnippet(cand, r.ds)
	} else {
		r.set, errs = r.p.validator.Validate(cand, r.ds)
	}
	if len(errs) > 0 && r.mode == ModeCode {
		// Report denied constructs in the same repair round as column defects.
		verdict, _ := r.p.filter.Check(cand.Source)
		r.audit.SecurityCheck(verdict.Allowed, verdict.RuleSet, verdict.RuleIDs())
		if !verdict.Allowed {
			f := securityFailure(verdict)
			f.Errors = errs
			r.failure = f
			return EvDefects
		}
	}
	if len(errs) > 0 {
		r.failure = validationFailure(SchemaViolation, errs)
		return EvDefects
	}
	return EvPassed
}

func (r *run) checkSecurity() Event {
	verdict, approved := r.p.filter.Check(r.current.Candidate.Source)
	r.audit.SecurityCheck(verdict.Allowed, verdict.RuleSet, verdict.RuleIDs())
	if !verdict.Allowed {
		r.failure = securityFailure(verdict)
		return EvDefects
	}
	r.approved = approved
	return EvPassed
}

func (r *run) execute() Event {
	ctx, cancel := context.WithTimeout(r.ctx, r.p.cfg.ExecutionTimeout)
	defer cancel()

	var res *sandbox.Result
	if r.mode == ModeCode {
		res = r.p.exec.ExecuteCode(ctx, r.approved, r.ds)
	} else {
		res = r.p.exec.ExecuteSpec(ctx, r.set, r.ds)
	}
	r.audit.Execution(res.OK, string(res.Kind), res.Elapsed)

	if !res.OK {
		r.failure = executionFailure(res)
		if r.ctx.Err() != nil {
			return EvCanceled
		}
		return EvDefects
	}
	r.res.Execution = res
	return EvPassed
}

// render calls the Renderer once per proposal. Errors are reported but do
// not change the terminal state.
func (r *run) render() {
	for i, spec := range r.res.Set.Proposals {
		handle, err := r.p.renderer.Render(r.ctx, spec, r.ds)
		if err != nil {
			msg := errors.Wrapf(err, "render proposal %d", i).Error()
			r.res.RenderErrors = append(r.res.RenderErrors, msg)
			logging.Get(logging.CategoryPipeline).Warn("run %s: %s", r.res.RunID, msg)
			continue
		}
		r.res.Renders = append(r.res.Renders, handle)
	}
}
