package security

import (
	"embed"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"

	"vizguard/internal/mangle"
)

//go:embed policies/*.mg
var policyFS embed.FS

// ChartImportPath is the import path snippets use for the chart API.
const ChartImportPath = "vizguard/chart"

// EntrypointSignature is the one function a snippet must define.
const EntrypointSignature = "func Render(f *chart.Frame) (*chart.Figure, error)"

// AllowedStdlib is every standard package a snippet may import. The sandbox
// worker loads exactly these symbols; any other import is a capability
// violation even when no deny table names it.
var AllowedStdlib = []string{
	"bytes",
	"errors",
	"fmt",
	"math",
	"sort",
	"strconv",
	"strings",
	"time",
	"unicode",
	"unicode/utf8",
}

// Rule identifiers.
const (
	RuleCapabilityImport = "SEC001"
	RuleDynamicEval      = "SEC002"
	RuleShapeEscape      = "SEC003"
	RuleExternalImport   = "SEC004"
	RuleGoroutine        = "SEC005"
	RuleBuiltin          = "SEC006"
)

// RuleDescriptions gives the repair-facing explanation of each rule.
var RuleDescriptions = map[string]string{
	RuleCapabilityImport: "process, OS, filesystem or network capability is not available to chart code",
	RuleDynamicEval:      "dynamic evaluation and reflective invocation are not allowed",
	RuleShapeEscape:      "the snippet must be package main defining only " + EntrypointSignature + " and helpers",
	RuleExternalImport:   "only the standard library and " + ChartImportPath + " may be imported",
	RuleGoroutine:        "goroutines are not allowed; compute the figure synchronously",
	RuleBuiltin:          "panic and print builtins are not allowed; return an error instead",
}

// RuleSet is one versioned policy plus the deny tables it is seeded with.
type RuleSet struct {
	Version string

	DeniedImports      []string
	DeniedImportRoots  []string
	DynamicEvalImports []string
	DynamicEvalCalls   []string
	DeniedCalls        []string
	ForbiddenFuncs     []string
	ForbiddenBuiltins  []string
	AllowedPackages    []string
	AllowedImports     []string

	program *mangle.Program
}

func baseRuleSet(version string) *RuleSet {
	return &RuleSet{
		Version: version,
		DeniedImports: []string{
			"os", "os/exec", "os/signal", "os/user",
			"syscall", "unsafe", "plugin", "embed", "C",
			"io/ioutil", "io/fs", "path/filepath",
			"net", "net/http", "net/rpc", "net/smtp", "net/mail",
			"runtime", "runtime/debug", "runtime/pprof", "runtime/cgo",
			"log/syslog", "crypto/tls", "database/sql",
		},
		DeniedImportRoots: []string{"os", "net", "syscall", "runtime", "debug", "plugin", "internal", "vendor"},
		DynamicEvalImports: []string{
			"reflect", "text/template", "html/template",
			"go/ast", "go/build", "go/importer", "go/parser", "go/types",
			"github.com/traefik/yaegi/interp",
		},
		DynamicEvalCalls: []string{"Eval", "EvalPath", "EvalWithContext", "MakeFunc", "Call", "CallSlice", "Execute", "ExecuteTemplate"},
		DeniedCalls: []string{
			"fmt.Scan", "fmt.Scanf", "fmt.Scanln",
			"log.Fatal", "log.Fatalf", "log.Fatalln", "log.Panic", "log.Panicf", "log.Panicln",
		},
		ForbiddenFuncs:  []string{"main", "init"},
		AllowedPackages: []string{"main"},
		AllowedImports:  append([]string{ChartImportPath}, AllowedStdlib...),
	}
}

// ruleSets builds every known version. v2 tightens v1.
var ruleSets = map[string]func() *RuleSet{
	"v1": func() *RuleSet { return baseRuleSet("v1") },
	"v2": func() *RuleSet {
		rs := baseRuleSet("v2")
		rs.ForbiddenBuiltins = []string{"panic", "print", "println"}
		return rs
	},
}

// Versions lists the known rule set versions.
func Versions() []string {
	out := make([]string, 0, len(ruleSets))
	for v := range ruleSets {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// LoadRuleSet compiles the policy for version.
func LoadRuleSet(version string) (*RuleSet, error) {
	build, ok := ruleSets[version]
	if !ok {
		return nil, errors.WithHintf(errors.Newf("unknown security rule set %q", version),
			"known rule sets: %s", strings.Join(Versions(), ", "))
	}
	src, err := policyFS.ReadFile("policies/" + version + ".mg")
	if err != nil {
		return nil, errors.Wrapf(err, "policy %s", version)
	}
	program, err := mangle.Compile(string(src))
	if err != nil {
		return nil, errors.Wrapf(err, "policy %s", version)
	}
	if !program.Declared("violation") {
		return nil, errors.Newf("policy %s does not declare violation/2", version)
	}
	rs := build()
	rs.program = program
	return rs, nil
}

// seedFacts returns the deny tables as facts.
func (rs *RuleSet) seedFacts() []mangle.Fact {
	var facts []mangle.Fact
	add := func(pred string, values []string) {
		for _, v := range values {
			facts = append(facts, mangle.Fact{Predicate: pred, Args: []interface{}{v}})
		}
	}
	add("denied_import", rs.DeniedImports)
	add("denied_import_root", rs.DeniedImportRoots)
	add("dynamic_eval_import", rs.DynamicEvalImports)
	add("dynamic_eval_call", rs.DynamicEvalCalls)
	add("denied_call", rs.DeniedCalls)
	add("forbidden_func", rs.ForbiddenFuncs)
	add("forbidden_builtin", rs.ForbiddenBuiltins)
	add("allowed_package", rs.AllowedPackages)
	add("allowed_import", rs.AllowedImports)
	return facts
}
