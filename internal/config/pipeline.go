package config

import (
	"time"

	"github.com/cockroachdb/errors"
)

// Known security rule set versions. Keep in sync with the policies
// embedded in internal/security.
var KnownRuleSets = []string{"v1", "v2"}

// PipelineConfig is the fixed set of knobs the repair orchestrator accepts.
type PipelineConfig struct {
	MaxAttempts       int    `yaml:"max_attempts"`       // inclusive of the first attempt
	ExecutionTimeout  string `yaml:"execution_timeout"`  // sandbox wall clock, e.g. "30s"
	RequiredProposals int    `yaml:"required_proposals"` // exact number of proposals per request
	SecurityRuleSet   string `yaml:"security_ruleset"`   // "v1", "v2"
}

// DefaultPipelineConfig returns the pipeline defaults.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		MaxAttempts:       3,
		ExecutionTimeout:  "30s",
		RequiredProposals: 3,
		SecurityRuleSet:   "v2",
	}
}

// GetExecutionTimeout returns the sandbox timeout as a duration.
func (p PipelineConfig) GetExecutionTimeout() time.Duration {
	d, err := time.ParseDuration(p.ExecutionTimeout)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

// Validate rejects values the orchestrator cannot run with.
func (p PipelineConfig) Validate() error {
	if p.MaxAttempts < 1 {
		return errors.Newf("pipeline.max_attempts must be >= 1, got %d", p.MaxAttempts)
	}
	if p.RequiredProposals < 1 {
		return errors.Newf("pipeline.required_proposals must be >= 1, got %d", p.RequiredProposals)
	}
	d, err := time.ParseDuration(p.ExecutionTimeout)
	if err != nil {
		return errors.Wrapf(err, "pipeline.execution_timeout %q", p.ExecutionTimeout)
	}
	if d <= 0 {
		return errors.Newf("pipeline.execution_timeout must be positive, got %s", d)
	}
	for _, v := range KnownRuleSets {
		if p.SecurityRuleSet == v {
			return nil
		}
	}
	return errors.WithHintf(
		errors.Newf("unknown security rule set %q", p.SecurityRuleSet),
		"known rule sets: %v", KnownRuleSets)
}
