// Package security is the static deny-list filter applied to generated Go
// snippets before any execution. The snippet is parsed, lowered to facts,
// and evaluated against a versioned Mangle policy. Any derived violation
// denies the snippet.
package security

import (
	"sort"
	"strings"

	"github.com/cockroachdb/errors"

	"vizguard/internal/logging"
	"vizguard/internal/mangle"
)

// RuleParseError is reported when the snippet is not valid Go.
const RuleParseError = "SEC000"

// Violation is one matched rule.
type Violation struct {
	RuleID      string `json:"rule_id"`
	Construct   string `json:"construct"`
	Line        int    `json:"line,omitempty"`
	Description string `json:"description"`
}

// Verdict is the outcome of filtering one snippet.
type Verdict struct {
	Snippet    string      `json:"snippet"`
	Allowed    bool        `json:"allowed"`
	RuleSet    string      `json:"ruleset"`
	Violations []Violation `json:"violations"`
}

// RuleIDs returns the distinct rule ids in the verdict, sorted.
func (v *Verdict) RuleIDs() []string {
	seen := map[string]bool{}
	var ids []string
	for _, vi := range v.Violations {
		if !seen[vi.RuleID] {
			seen[vi.RuleID] = true
			ids = append(ids, vi.RuleID)
		}
	}
	sort.Strings(ids)
	return ids
}

// Approved is a snippet that passed the filter. It can only be obtained
// from Filter.Check, so holding one proves the check ran and found nothing.
type Approved struct {
	source  string
	ruleSet string
}

// Source returns the approved snippet.
func (a *Approved) Source() string { return a.source }

// RuleSet returns the version the snippet was approved under.
func (a *Approved) RuleSet() string { return a.ruleSet }

// Filter checks snippets against one rule set. Safe for concurrent use.
type Filter struct {
	rules *RuleSet
	seed  []mangle.Fact
}

// NewFilter loads the rule set for version.
func NewFilter(version string) (*Filter, error) {
	rs, err := LoadRuleSet(version)
	if err != nil {
		return nil, err
	}
	return &Filter{rules: rs, seed: rs.seedFacts()}, nil
}

// Version returns the active rule set version.
func (f *Filter) Version() string {
	return f.rules.Version
}

// Check returns the verdict for source and, when allowed, the approval
// token the executor requires.
func (f *Filter) Check(source string) (*Verdict, *Approved) {
	timer := logging.StartTimer(logging.CategorySecurity, "policy check")
	defer timer.Stop()

	verdict := &Verdict{Snippet: source, RuleSet: f.rules.Version}

	emitter, err := extractFacts(source)
	if err != nil {
		verdict.Violations = []Violation{{
			RuleID:      RuleParseError,
			Construct:   firstLine(err.Error()),
			Description: "snippet is not valid Go",
		}}
		logging.Security("snippet rejected: parse error: %v", err)
		return verdict, nil
	}

	facts := make([]mangle.Fact, 0, len(f.seed)+len(emitter.facts))
	facts = append(facts, f.seed...)
	facts = append(facts, emitter.facts...)

	result, err := f.rules.program.Evaluate(facts)
	var derived []mangle.Fact
	if err == nil {
		derived, err = result.Facts("violation")
	}
	if err != nil {
		// Fail closed: an unevaluable policy denies.
		verdict.Violations = []Violation{{
			RuleID:      RuleParseError,
			Construct:   "policy evaluation",
			Description: errors.Wrap(err, "policy evaluation failed").Error(),
		}}
		logging.Get(logging.CategorySecurity).Error("policy %s evaluation failed: %v", f.rules.Version, err)
		return verdict, nil
	}

	for _, fact := range derived {
		logging.SecurityDebug("derived %s", fact)
		rule := ruleID(fact.Args[0])
		construct, _ := fact.Args[1].(string)
		verdict.Violations = append(verdict.Violations, Violation{
			RuleID:      rule,
			Construct:   construct,
			Line:        emitter.lines[construct],
			Description: RuleDescriptions[rule],
		})
	}
	sortViolations(verdict.Violations)

	if len(verdict.Violations) > 0 {
		logging.Security("snippet rejected by %s: %s", f.rules.Version, strings.Join(verdict.RuleIDs(), ","))
		return verdict, nil
	}

	verdict.Allowed = true
	logging.SecurityDebug("snippet allowed by %s (%d facts)", f.rules.Version, len(emitter.facts))
	return verdict, &Approved{source: source, ruleSet: f.rules.Version}
}

// ruleID maps a policy name constant such as /sec001 to SEC001.
func ruleID(arg interface{}) string {
	s, _ := arg.(string)
	return strings.ToUpper(strings.TrimPrefix(s, "/"))
}

// sortViolations orders by line, then rule, then construct. Constructs
// without a position sort last.
func sortViolations(vs []Violation) {
	sort.SliceStable(vs, func(i, j int) bool {
		li, lj := vs[i].Line, vs[j].Line
		if li == 0 {
			li = int(^uint(0) >> 1)
		}
		if lj == 0 {
			lj = int(^uint(0) >> 1)
		}
		if li != lj {
			return li < lj
		}
		if vs[i].RuleID != vs[j].RuleID {
			return vs[i].RuleID < vs[j].RuleID
		}
		return vs[i].Construct < vs[j].Construct
	})
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i != -1 {
		return s[:i]
	}
	return s
}
