package main

import (
	"os"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"vizguard/internal/dataset"
	"vizguard/internal/extract"
	"vizguard/internal/proposal"
	"vizguard/internal/security"
	"vizguard/internal/types"
)

var (
	ruleSet  string
	required int
)

var checkCmd = &cobra.Command{
	Use:   "check [file.go]",
	Short: "Run the security filter over a Go snippet",
	Long: `Parses the snippet, evaluates it against the security policy, and
prints the verdict as JSON. Exits non-zero when the snippet is denied.`,
	Args: cobra.ExactArgs(1),
	RunE: runCheck,
}

var validateCmd = &cobra.Command{
	Use:   "validate [proposals.json]",
	Short: "Validate chart proposals against a dataset",
	Args:  cobra.ExactArgs(1),
	RunE:  runValidate,
}

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Print the JSON Schema of the proposal contract",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, err := cmd.OutOrStdout().Write(append(proposal.ContractSchema(), '\n'))
		return err
	},
}

func init() {
	checkCmd.Flags().StringVar(&ruleSet, "ruleset", "", "Rule set version (default from config)")
	validateCmd.Flags().StringVarP(&dataPath, "data", "d", "", "CSV dataset (required)")
	validateCmd.Flags().IntVar(&required, "required", 0, "Exact number of proposals (default from config)")
	_ = validateCmd.MarkFlagRequired("data")
}

func runCheck(cmd *cobra.Command, args []string) error {
	src, err := os.ReadFile(args[0])
	if err != nil {
		return errors.Wrap(err, "read snippet")
	}
	version := ruleSet
	if version == "" {
		version = cfg.Pipeline.SecurityRuleSet
	}
	filter, err := security.NewFilter(version)
	if err != nil {
		return err
	}

	verdict, _ := filter.Check(string(src))
	if err := printJSON(cmd.OutOrStdout(), verdict); err != nil {
		return err
	}
	if !verdict.Allowed {
		return errors.Newf("snippet denied by rule(s) %s", strings.Join(verdict.RuleIDs(), ", "))
	}
	return nil
}

type validateReport struct {
	Valid     bool                    `json:"valid"`
	Errors    []types.ValidationError `json:"errors"`
	Proposals *proposal.Set           `json:"proposals,omitempty"`
}

func runValidate(cmd *cobra.Command, args []string) error {
	raw, err := os.ReadFile(args[0])
	if err != nil {
		return errors.Wrap(err, "read proposals")
	}
	ds, err := dataset.LoadCSV(dataPath)
	if err != nil {
		return err
	}
	n := required
	if n <= 0 {
		n = cfg.Pipeline.RequiredProposals
	}

	report := validateReport{Errors: []types.ValidationError{}}
	candidate, verr := extract.New().ExtractStructured(string(raw), 1)
	if verr != nil {
		report.Errors = append(report.Errors, *verr)
	} else {
		set, errs := proposal.NewValidator(n).Validate(candidate, ds)
		report.Proposals = set
		report.Errors = append(report.Errors, errs...)
	}
	report.Valid = len(report.Errors) == 0

	if err := printJSON(cmd.OutOrStdout(), report); err != nil {
		return err
	}
	if !report.Valid {
		return errors.Newf("%d validation error(s)", len(report.Errors))
	}
	return nil
}
