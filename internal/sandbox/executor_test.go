package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"vizguard/internal/dataset"
	"vizguard/internal/proposal"
	"vizguard/internal/security"
)

// The test binary doubles as the worker: the executor re-runs it with the
// worker subcommand as its only argument.
func TestMain(m *testing.M) {
	if len(os.Args) > 1 && os.Args[1] == WorkerCommand {
		if err := ServeStdio(); err != nil {
			os.Exit(2)
		}
		os.Exit(0)
	}
	goleak.VerifyTestMain(m)
}

func testExecutor(t *testing.T, timeout time.Duration) *Executor {
	t.Helper()
	e, err := New(Options{Path: os.Args[0], Args: []string{WorkerCommand}, Timeout: timeout})
	require.NoError(t, err)
	return e
}

func salesData(t *testing.T) *dataset.Dataset {
	t.Helper()
	ds, err := dataset.New("sales", []string{"region", "sales"}, [][]string{
		{"North", "10"}, {"South", "20"}, {"North", "30"}, {"East", "5"},
	})
	require.NoError(t, err)
	return ds
}

func approve(t *testing.T, src string) *security.Approved {
	t.Helper()
	f, err := security.NewFilter("v2")
	require.NoError(t, err)
	verdict, approved := f.Check(src)
	require.True(t, verdict.Allowed, "violations: %+v", verdict.Violations)
	return approved
}

func TestExecuteSpec(t *testing.T) {
	set := &proposal.Set{Proposals: []proposal.Spec{
		{ID: "p1", Kind: proposal.Bar, X: "region", Y: "sales", Aggregation: proposal.AggSum},
		{Kind: proposal.Scatter, X: "region", Y: "sales"},
	}}
	res := testExecutor(t, 10*time.Second).ExecuteSpec(context.Background(), set, salesData(t))
	require.True(t, res.OK, res.Error())
	assert.Empty(t, res.Kind)
	require.Len(t, res.Figures, 2)
	assert.Equal(t, "p1", res.Figures[0].ID)
	assert.Equal(t, []string{"East", "North", "South"}, res.Figures[0].Series[0].X)
	assert.Equal(t, []float64{5, 40, 20}, res.Figures[0].Series[0].Y)
	assert.Greater(t, res.Elapsed, time.Duration(0))
}

func TestExecuteSpec_MissingColumnIsRuntimeError(t *testing.T) {
	set := &proposal.Set{Proposals: []proposal.Spec{
		{Kind: proposal.Bar, X: "profit", Y: "sales", Aggregation: proposal.AggSum},
	}}
	res := testExecutor(t, 10*time.Second).ExecuteSpec(context.Background(), set, salesData(t))
	assert.False(t, res.OK)
	assert.Equal(t, KindRuntimeError, res.Kind)
	assert.Contains(t, res.Message, "profit")
	assert.Empty(t, res.Figures)
}

const renderSnippet = `package main

import (
	"fmt"

	"vizguard/chart"
)

func Render(f *chart.Frame) (*chart.Figure, error) {
	groups := chart.GroupBy(f.Strings("region"), f.Numbers("sales"))
	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	chart.SortKeys(keys)
	totals := make([]float64, len(keys))
	for i, k := range keys {
		totals[i] = chart.Sum(groups[k])
	}
	fmt.Println("groups:", len(keys))
	fig := chart.NewFigure("bar", "Sales by region")
	if err := fig.AddSeries("sales", keys, totals); err != nil {
		return nil, err
	}
	return fig, nil
}
`

func TestExecuteCode(t *testing.T) {
	res := testExecutor(t, 20*time.Second).ExecuteCode(context.Background(), approve(t, renderSnippet), salesData(t))
	require.True(t, res.OK, res.Error())
	require.Len(t, res.Figures, 1)
	fig := res.Figures[0]
	assert.Equal(t, "bar", fig.Kind)
	assert.Equal(t, []string{"East", "North", "South"}, fig.Series[0].X)
	assert.Equal(t, []float64{5, 40, 20}, fig.Series[0].Y)
	assert.Contains(t, res.Stdout, "groups: 3")
}

func TestExecuteCode_RuntimeFailures(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{
			name: "returned error",
			body: `return nil, errors.New("no data for this view")`,
			want: "no data for this view",
		},
		{
			name: "unknown column",
			body: `_ = f.Numbers("profit"); return nil, nil`,
			want: "profit",
		},
		{
			name: "index out of range",
			body: `var xs []float64; _ = xs[3]; return nil, nil`,
			want: "",
		},
		{
			name: "nil figure",
			body: `return nil, nil`,
			want: "nil figure",
		},
	}

	e := testExecutor(t, 20*time.Second)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := "package main\n\nimport (\n\t\"errors\"\n\n\t\"vizguard/chart\"\n)\n\nvar _ = errors.New\n\n" +
				"func Render(f *chart.Frame) (*chart.Figure, error) {\n\t" + tt.body + "\n}\n"
			res := e.ExecuteCode(context.Background(), approve(t, src), salesData(t))
			assert.False(t, res.OK)
			assert.Equal(t, KindRuntimeError, res.Kind)
			assert.Contains(t, res.Message, tt.want)
			assert.Empty(t, res.Figures)
		})
	}
}

func TestExecuteCode_Timeout(t *testing.T) {
	src := `package main

import "vizguard/chart"

func Render(f *chart.Frame) (*chart.Figure, error) {
	n := 0
	for {
		n++
	}
	return nil, nil
}
`
	start := time.Now()
	res := testExecutor(t, time.Second).ExecuteCode(context.Background(), approve(t, src), salesData(t))
	assert.False(t, res.OK)
	assert.Equal(t, KindTimeout, res.Kind)
	assert.Empty(t, res.Figures)
	assert.GreaterOrEqual(t, res.Elapsed, time.Second)
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestExecuteCode_CallerCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := testExecutor(t, 10*time.Second).ExecuteCode(ctx, approve(t, renderSnippet), salesData(t))
	assert.False(t, res.OK)
	assert.Equal(t, KindRuntimeError, res.Kind)
	assert.Contains(t, res.Message, "canceled")
}

func TestExecuteCode_RequiresApproval(t *testing.T) {
	res := testExecutor(t, 10*time.Second).ExecuteCode(context.Background(), nil, salesData(t))
	assert.False(t, res.OK)
	assert.Contains(t, res.Message, "not been approved")
}

func TestExecutor_WorkerCrash(t *testing.T) {
	e, err := New(Options{Path: "/nonexistent/vizguard-worker", Timeout: 5 * time.Second})
	require.NoError(t, err)
	res := e.ExecuteSpec(context.Background(), &proposal.Set{}, salesData(t))
	assert.False(t, res.OK)
	assert.Equal(t, KindRuntimeError, res.Kind)
	assert.Contains(t, res.Message, "worker crashed")
}

func TestNew_Defaults(t *testing.T) {
	e, err := New(Options{})
	require.NoError(t, err)
	assert.Equal(t, DefaultTimeout, e.Timeout())
	assert.Equal(t, []string{WorkerCommand}, e.opts.Args)
	assert.NotEmpty(t, e.opts.Path)
}

func runWorker(t *testing.T, req *Request) *Reply {
	t.Helper()
	in, err := json.Marshal(req)
	require.NoError(t, err)
	var out bytes.Buffer
	require.NoError(t, RunWorker(bytes.NewReader(in), &out))
	var reply Reply
	require.NoError(t, json.Unmarshal(out.Bytes(), &reply))
	return &reply
}

func TestRunWorker_InProcess(t *testing.T) {
	payload := salesData(t).Payload()

	reply := runWorker(t, &Request{
		Mode:      ModeSpec,
		Proposals: []proposal.Spec{{Kind: proposal.Box, X: "region", Y: "sales"}},
		Dataset:   payload,
	})
	require.True(t, reply.OK, reply.Message)
	assert.Len(t, reply.Figures[0].Series, 3)

	reply = runWorker(t, &Request{Mode: "shell", Dataset: payload})
	assert.False(t, reply.OK)
	assert.Contains(t, reply.Message, "unknown mode")

	reply = runWorker(t, &Request{
		Mode:      ModeSpec,
		Proposals: []proposal.Spec{{Kind: proposal.Scatter, X: "region", Y: "sales"}},
		Dataset:   payload,
		MaxReply:  16,
	})
	assert.False(t, reply.OK)
	assert.Contains(t, reply.Message, "byte limit")
}

func TestRunWorker_BadRequest(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, RunWorker(bytes.NewReader([]byte("{not json")), &out))
	var reply Reply
	require.NoError(t, json.Unmarshal(out.Bytes(), &reply))
	assert.False(t, reply.OK)
	assert.Equal(t, KindRuntimeError, reply.Kind)
}

func TestResultError(t *testing.T) {
	assert.Equal(t, "", succeeded(nil, "", 0).Error())
	assert.Equal(t, "timeout: too slow", failed(KindTimeout, 0, "too slow").Error())
}
