// Command vizguard asks a language model for chart proposals or plotting
// code, checks what comes back, and repairs it until it runs or the attempt
// budget is spent.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"vizguard/internal/config"
	"vizguard/internal/logging"
)

var (
	// Global flags
	verbose    bool
	configPath string

	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "vizguard",
	Short: "Guarded chart generation from language model output",
	Long: `vizguard turns a question about a CSV dataset into validated chart
proposals (spec mode) or a vetted Go plotting snippet (code mode).

Model output is extracted, validated against the dataset, checked by the
security policy (code mode), and executed in a sandboxed worker. Defects are
fed back to the model until the run succeeds or the attempt budget runs out.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// The worker talks JSON over stdout and must not load config.
		if cmd == workerCmd {
			return nil
		}

		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		zc := zap.NewProductionConfig()
		opts := logging.Options{Level: cfg.Logging.Level, Categories: cfg.Logging.Categories}
		if verbose {
			zc.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
			opts.Level = ""
		}
		logger, err = zc.Build()
		if err != nil {
			return errors.Wrap(err, "failed to initialize logger")
		}
		logging.Initialize(logger, opts)
		logging.BootDebug("config loaded from %s (ruleset %s, %d attempts)",
			configPath, cfg.Pipeline.SecurityRuleSet, cfg.Pipeline.MaxAttempts)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "vizguard.yaml", "Config file (missing file means defaults)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(batchCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(schemaCmd)
	rootCmd.AddCommand(workerCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		if hint := errors.FlattenHints(err); hint != "" {
			fmt.Fprintln(os.Stderr, "hint:", hint)
		}
		os.Exit(1)
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
