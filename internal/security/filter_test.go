package security

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const safeSnippet = `package main

import (
	"sort"

	"vizguard/chart"
)

func Render(f *chart.Frame) (*chart.Figure, error) {
	fig := chart.NewFigure("bar", "Sales by region")
	groups := chart.GroupBy(f.Strings("region"), f.Numbers("sales"))
	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return fig, nil
}
`

func newFilter(t *testing.T, version string) *Filter {
	t.Helper()
	f, err := NewFilter(version)
	require.NoError(t, err)
	return f
}

func TestFilter_AllowsChartSnippet(t *testing.T) {
	for _, version := range Versions() {
		t.Run(version, func(t *testing.T) {
			verdict, approved := newFilter(t, version).Check(safeSnippet)
			require.True(t, verdict.Allowed, "violations: %+v", verdict.Violations)
			assert.Empty(t, verdict.Violations)
			assert.Equal(t, version, verdict.RuleSet)
			require.NotNil(t, approved)
			assert.Equal(t, safeSnippet, approved.Source())
			assert.Equal(t, version, approved.RuleSet())
		})
	}
}

const renderFunc = `
func Render(f *chart.Frame) (*chart.Figure, error) { return nil, nil }
`

func TestFilter_Denials(t *testing.T) {
	tests := []struct {
		name      string
		src       string
		rule      string
		construct string
	}{
		{
			name:      "os import",
			src:       "package main\n\nimport (\n\t\"os\"\n\t\"vizguard/chart\"\n)\n\nvar _ = os.Args\n" + renderFunc,
			rule:      RuleCapabilityImport,
			construct: "os",
		},
		{
			name:      "net subpackage by root",
			src:       "package main\n\nimport (\n\t\"net/netip\"\n\t\"vizguard/chart\"\n)\n\nvar _ netip.Addr\n" + renderFunc,
			rule:      RuleCapabilityImport,
			construct: "net/netip",
		},
		{
			name:      "aliased exec import",
			src:       "package main\n\nimport (\n\trun \"os/exec\"\n\t\"vizguard/chart\"\n)\n\nvar _ = run.Command\n" + renderFunc,
			rule:      RuleCapabilityImport,
			construct: "os/exec",
		},
		{
			name:      "log.Fatal call",
			src:       "package main\n\nimport (\n\t\"log\"\n\t\"vizguard/chart\"\n)\n\nfunc helper() { log.Fatal(\"x\") }\n" + renderFunc,
			rule:      RuleCapabilityImport,
			construct: "log.Fatal",
		},
		{
			name:      "reflect import",
			src:       "package main\n\nimport (\n\t\"reflect\"\n\t\"vizguard/chart\"\n)\n\nvar _ = reflect.TypeOf\n" + renderFunc,
			rule:      RuleDynamicEval,
			construct: "reflect",
		},
		{
			name:      "init function",
			src:       "package main\n\nimport \"vizguard/chart\"\n\nfunc init() {}\n" + renderFunc,
			rule:      RuleShapeEscape,
			construct: "init",
		},
		{
			name:      "missing Render",
			src:       "package main\n\nfunc helper() int { return 1 }\n",
			rule:      RuleShapeEscape,
			construct: EntrypointSignature,
		},
		{
			name:      "wrong package",
			src:       "package charts\n\nimport \"vizguard/chart\"\n" + renderFunc,
			rule:      RuleShapeEscape,
			construct: "charts",
		},
		{
			name:      "linkname directive",
			src:       "package main\n\nimport \"vizguard/chart\"\n\n//go:linkname now time.now\nfunc now() int64\n" + renderFunc,
			rule:      RuleShapeEscape,
			construct: "go:linkname now time.now",
		},
		{
			name:      "third-party import",
			src:       "package main\n\nimport (\n\t\"github.com/acme/plot\"\n\t\"vizguard/chart\"\n)\n\nvar _ = plot.New\n" + renderFunc,
			rule:      RuleExternalImport,
			construct: "github.com/acme/plot",
		},
	}

	// Standard packages that can reach the filesystem or process state
	// without appearing in any deny table.
	for _, imp := range []struct{ path, use string }{
		{"archive/zip", "zip.OpenReader(\"/etc/passwd.zip\")"},
		{"mime", "mime.TypeByExtension(\".csv\")"},
		{"crypto/x509", "x509.SystemCertPool()"},
		{"log/slog", "slog.Default()"},
		{"expvar", "expvar.Handler()"},
	} {
		tests = append(tests, struct {
			name      string
			src       string
			rule      string
			construct string
		}{
			name: imp.path + " import",
			src: "package main\n\nimport (\n\t\"" + imp.path + "\"\n\t\"vizguard/chart\"\n)\n\n" +
				"var _ = " + imp.use + "\n" + renderFunc,
			rule:      RuleCapabilityImport,
			construct: imp.path,
		})
	}

	for _, version := range Versions() {
		f := newFilter(t, version)
		for _, tt := range tests {
			t.Run(version+"/"+tt.name, func(t *testing.T) {
				verdict, approved := f.Check(tt.src)
				assert.False(t, verdict.Allowed)
				assert.Nil(t, approved)
				assert.Contains(t, verdict.RuleIDs(), tt.rule)

				var constructs []string
				for _, v := range verdict.Violations {
					if v.RuleID == tt.rule {
						constructs = append(constructs, v.Construct)
						assert.NotEmpty(t, v.Description)
					}
				}
				assert.Contains(t, constructs, tt.construct)
			})
		}
	}
}

func TestFilter_AllowsEveryAllowedImport(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("package main\n\nimport (\n")
	for _, pkg := range AllowedStdlib {
		sb.WriteString("\t_ \"" + pkg + "\"\n")
	}
	sb.WriteString("\n\t\"vizguard/chart\"\n)\n" + renderFunc)

	for _, version := range Versions() {
		verdict, approved := newFilter(t, version).Check(sb.String())
		assert.True(t, verdict.Allowed, "%s violations: %+v", version, verdict.Violations)
		assert.NotNil(t, approved)
	}
}

func TestFilter_UnlistedImportIsCapabilityOnly(t *testing.T) {
	src := "package main\n\nimport (\n\t\"archive/zip\"\n\t\"vizguard/chart\"\n)\n\n" +
		"func load() { _, _ = zip.OpenReader(\"/etc/passwd.zip\") }\n" + renderFunc
	verdict, approved := newFilter(t, "v2").Check(src)
	assert.False(t, verdict.Allowed)
	assert.Nil(t, approved)
	require.Len(t, verdict.Violations, 1)
	assert.Equal(t, Violation{
		RuleID:      RuleCapabilityImport,
		Construct:   "archive/zip",
		Line:        4,
		Description: RuleDescriptions[RuleCapabilityImport],
	}, verdict.Violations[0])
}

func TestFilter_BadEntrypointSignature(t *testing.T) {
	src := "package main\n\nimport \"vizguard/chart\"\n\nfunc Render() *chart.Figure { return nil }\n"
	verdict, approved := newFilter(t, "v2").Check(src)
	assert.False(t, verdict.Allowed)
	assert.Nil(t, approved)
	require.Len(t, verdict.Violations, 1)
	assert.Equal(t, RuleShapeEscape, verdict.Violations[0].RuleID)
	assert.Contains(t, verdict.Violations[0].Construct, "0 parameters and 1 results")
	assert.Equal(t, 5, verdict.Violations[0].Line)
}

func TestFilter_V2Tightening(t *testing.T) {
	src := `package main

import "vizguard/chart"

func Render(f *chart.Frame) (*chart.Figure, error) {
	done := make(chan struct{})
	go func() { close(done) }()
	<-done
	if f == nil {
		panic("no frame")
	}
	return nil, nil
}
`
	v1, approved := newFilter(t, "v1").Check(src)
	assert.True(t, v1.Allowed, "v1 violations: %+v", v1.Violations)
	assert.NotNil(t, approved)

	v2, approved := newFilter(t, "v2").Check(src)
	assert.False(t, v2.Allowed)
	assert.Nil(t, approved)
	assert.Equal(t, []string{RuleGoroutine, RuleBuiltin}, v2.RuleIDs())

	require.Len(t, v2.Violations, 2)
	assert.Equal(t, 7, v2.Violations[0].Line)
	assert.Equal(t, RuleGoroutine, v2.Violations[0].RuleID)
	assert.Equal(t, "go statement at 7:2", v2.Violations[0].Construct)
	assert.Equal(t, 10, v2.Violations[1].Line)
	assert.Equal(t, "panic", v2.Violations[1].Construct)
}

func TestFilter_V2ForbiddenBuiltins(t *testing.T) {
	for _, builtin := range []string{"panic", "print", "println"} {
		src := "package main\n\nimport \"vizguard/chart\"\n\n" +
			"func Render(f *chart.Frame) (*chart.Figure, error) {\n\t" + builtin + "(\"x\")\n\treturn nil, nil\n}\n"

		v1, _ := newFilter(t, "v1").Check(src)
		assert.True(t, v1.Allowed, "v1 %s: %+v", builtin, v1.Violations)

		v2, _ := newFilter(t, "v2").Check(src)
		require.Len(t, v2.Violations, 1, builtin)
		assert.Equal(t, RuleBuiltin, v2.Violations[0].RuleID)
		assert.Equal(t, builtin, v2.Violations[0].Construct)
		assert.Equal(t, 6, v2.Violations[0].Line)
	}
}

func TestFilter_ViolationsOrderedByLine(t *testing.T) {
	src := `package main

import (
	"reflect"
	"os"
	"vizguard/chart"
)

var _ = os.Args
var _ = reflect.TypeOf

func Render(f *chart.Frame) (*chart.Figure, error) { return nil, nil }
`
	verdict, _ := newFilter(t, "v2").Check(src)
	require.Len(t, verdict.Violations, 2)
	assert.Equal(t, "reflect", verdict.Violations[0].Construct)
	assert.Equal(t, 4, verdict.Violations[0].Line)
	assert.Equal(t, "os", verdict.Violations[1].Construct)
	assert.Equal(t, 5, verdict.Violations[1].Line)
}

func TestFilter_ParseErrorDenies(t *testing.T) {
	verdict, approved := newFilter(t, "v2").Check("package main\n\nfunc Render( {\n")
	assert.False(t, verdict.Allowed)
	assert.Nil(t, approved)
	require.Len(t, verdict.Violations, 1)
	assert.Equal(t, RuleParseError, verdict.Violations[0].RuleID)
}

func TestLoadRuleSet_Unknown(t *testing.T) {
	_, err := NewFilter("v9")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown security rule set "v9"`)
}

func TestVersions(t *testing.T) {
	assert.Equal(t, []string{"v1", "v2"}, Versions())
}
