package main

import (
	"bufio"
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"vizguard/internal/dataset"
	"vizguard/internal/llm"
	"vizguard/internal/logging"
	"vizguard/internal/pipeline"
	"vizguard/internal/sandbox"
)

var (
	dataPath      string
	question      string
	mode          string
	replayPath    string
	questionsPath string
	parallel      int
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Answer one question about a dataset with a chart",
	Long: `Runs the repair loop for a single question and prints the result,
including every attempt, as JSON. Exits non-zero when the run fails.

Example:
  vizguard run --data sales.csv --question "Which region sells most?"
  vizguard run --data sales.csv --question "..." --mode code --replay answers.txt`,
	RunE: runQuestion,
}

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Answer many questions concurrently",
	Long: `Reads one question per line from --questions (blank lines and lines
starting with # are skipped) and runs them against the same dataset.`,
	RunE: runBatch,
}

func init() {
	for _, c := range []*cobra.Command{runCmd, batchCmd} {
		c.Flags().StringVarP(&dataPath, "data", "d", "", "CSV dataset (required)")
		c.Flags().StringVarP(&mode, "mode", "m", string(pipeline.ModeSpec), "spec or code")
		c.Flags().StringVar(&replayPath, "replay", "", "Serve model responses from a replay file instead of the API")
		_ = c.MarkFlagRequired("data")
	}
	runCmd.Flags().StringVarP(&question, "question", "q", "", "Question to answer (required)")
	_ = runCmd.MarkFlagRequired("question")
	batchCmd.Flags().StringVar(&questionsPath, "questions", "", "File with one question per line (required)")
	batchCmd.Flags().IntVarP(&parallel, "parallel", "p", 0, "Concurrent runs (default GOMAXPROCS; forced to 1 with --replay)")
	_ = batchCmd.MarkFlagRequired("questions")
}

func runQuestion(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	p, ds, err := buildPipeline(ctx)
	if err != nil {
		return err
	}
	res := p.Run(ctx, pipeline.Request{Question: question, Mode: pipeline.Mode(mode)}, ds)
	if err := printJSON(cmd.OutOrStdout(), res); err != nil {
		return err
	}
	if !res.Succeeded() {
		return res.Err
	}
	return nil
}

func runBatch(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	questions, err := readQuestions(questionsPath)
	if err != nil {
		return err
	}
	p, ds, err := buildPipeline(ctx)
	if err != nil {
		return err
	}

	reqs := make([]pipeline.Request, len(questions))
	for i, q := range questions {
		reqs[i] = pipeline.Request{Question: q, Mode: pipeline.Mode(mode)}
	}
	results := p.RunBatch(ctx, reqs, ds, batchParallelism())
	if err := printJSON(cmd.OutOrStdout(), results); err != nil {
		return err
	}

	failed := 0
	for _, r := range results {
		if !r.Succeeded() {
			failed++
		}
	}
	if failed > 0 {
		return errors.Newf("%d of %d runs failed", failed, len(results))
	}
	return nil
}

// batchParallelism serializes runs under --replay: a replay script answers
// calls in order, so concurrent runs would receive each other's responses.
func batchParallelism() int {
	if replayPath != "" {
		if parallel != 1 {
			logging.BootDebug("replay given: running batch sequentially instead of %d in parallel", parallel)
		}
		return 1
	}
	return parallel
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// buildPipeline wires the dataset, model client, and sandbox from config.
func buildPipeline(ctx context.Context) (*pipeline.Pipeline, *dataset.Dataset, error) {
	switch pipeline.Mode(mode) {
	case pipeline.ModeSpec, pipeline.ModeCode:
	default:
		return nil, nil, errors.Newf("unknown mode %q (want spec or code)", mode)
	}

	ds, err := dataset.LoadCSV(dataPath)
	if err != nil {
		return nil, nil, err
	}
	gen, err := newGenerator(ctx)
	if err != nil {
		return nil, nil, err
	}
	pcfg := pipeline.FromConfig(cfg.Pipeline)
	exec, err := sandbox.New(sandbox.Options{Timeout: pcfg.ExecutionTimeout})
	if err != nil {
		return nil, nil, err
	}
	p, err := pipeline.New(pcfg, gen, exec)
	if err != nil {
		return nil, nil, err
	}
	return p, ds, nil
}

func newGenerator(ctx context.Context) (llm.Generator, error) {
	if replayPath != "" {
		return llm.LoadReplay(replayPath)
	}
	if cfg.LLM.Provider == "replay" {
		return nil, errors.WithHint(errors.New("llm.provider is replay but no replay file was given"),
			"pass --replay <file>")
	}
	return llm.NewGeminiClient(ctx, llm.GeminiConfig{
		APIKey:            cfg.LLM.APIKey,
		Model:             cfg.LLM.Model,
		Timeout:           cfg.GetLLMTimeout(),
		RequestsPerMinute: cfg.LLM.RequestsPerMinute,
	})
}

func readQuestions(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open questions file")
	}
	defer f.Close()

	var out []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(err, "read questions file")
	}
	if len(out) == 0 {
		return nil, errors.Newf("%s contains no questions", path)
	}
	return out, nil
}
