package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/concord-cpg-engine/internal/attestation"
	"github.com/concord-cpg-engine/internal/domain"
	"github.com/concord-cpg-engine/internal/engine"
	"github.com/concord-cpg-engine/internal/healthdata"
	"github.com/concord-cpg-engine/internal/report"
)

var (
	evalPersona     string
	evalInteractive bool
	evalAttest      []string
	evalFormat      string
	evalSubjectID   string
	evalUntilYear   int
)

var evaluateCmd = &cobra.Command{
	Use:   "evaluate <guideline> <subject>",
	Short: "Evaluate a guideline against a subject's health data",
	Long: "Runs eligibility, sufficiency, attestation, assessment and recommendation for one subject. " +
		"The guideline is a path or a name in the guideline directory.",
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if evalFormat != "text" && evalFormat != "json" {
			return fmt.Errorf("unknown format %q (want text or json)", evalFormat)
		}
		req, err := evaluationRequest(cmd, args[0], args[1])
		if err != nil {
			return err
		}

		e, closeStore, err := newEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer closeStore()

		rep, evalErr := e.Evaluate(cmd.Context(), req)
		if rep != nil {
			if err := writeReport(cmd.OutOrStdout(), rep, evalFormat); err != nil {
				return err
			}
		}
		return evalErr
	},
}

func init() {
	f := evaluateCmd.Flags()
	f.StringVar(&evalPersona, "persona", "", "narrative persona (patient, provider, guardian)")
	f.BoolVarP(&evalInteractive, "interactive", "i", false, "prompt for values that need attestation")
	f.StringArrayVar(&evalAttest, "attest", nil, "attest a value as id=value (repeatable)")
	f.StringVar(&evalFormat, "format", "text", "output format (text, json)")
	f.StringVar(&evalSubjectID, "subject-id", "", "override the subject id in the document")
	f.IntVar(&evalUntilYear, "until", 0, "ignore data dated after the end of this year")
	rootCmd.AddCommand(evaluateCmd)
}

func evaluationRequest(cmd *cobra.Command, guidelinePath, subjectPath string) (engine.Request, error) {
	req := engine.Request{
		GuidelinePath: guidelinePath,
		SubjectPath:   subjectPath,
		SubjectID:     evalSubjectID,
		AttestedBy:    "cli",
	}
	if evalPersona != "" {
		p, err := domain.ParsePersona(evalPersona)
		if err != nil {
			return req, err
		}
		req.Persona = p
		req.AttestedBy = string(p)
	}
	if evalUntilYear > 0 {
		req.Until = healthdata.UntilYear(evalUntilYear)
	}

	answers, err := parseAttestFlags(evalAttest)
	if err != nil {
		return req, err
	}
	req.Answers = answers

	if evalInteractive {
		req.Collector = attestation.NewPromptCollector(cmd.InOrStdin(), cmd.ErrOrStderr())
	}
	return req, nil
}

// parseAttestFlags splits id=value pairs. A repeated id keeps the last value.
func parseAttestFlags(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	answers := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		id, value, ok := strings.Cut(pair, "=")
		id = strings.TrimSpace(id)
		if !ok || id == "" {
			return nil, fmt.Errorf("invalid --attest %q (want id=value)", pair)
		}
		answers[id] = strings.TrimSpace(value)
	}
	return answers, nil
}

func writeReport(w io.Writer, rep *report.Report, format string) error {
	if format == "json" {
		return rep.WriteJSON(w)
	}
	return rep.WriteText(w)
}
