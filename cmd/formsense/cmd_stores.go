package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"formsense/internal/eligibility"
	"formsense/internal/form"
)

// sessionCmd groups session maintenance subcommands.
var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Inspect and maintain form sessions",
}

var sessionGetCmd = &cobra.Command{
	Use:   "get [session-id]",
	Short: "Print a stored session context",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		rt, err := buildRuntime(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer rt.cleanup()

		fc, err := rt.sessions.Get(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd, fc)
	},
}

var sessionPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete sessions past the retention window",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		rt, err := buildRuntime(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer rt.cleanup()

		n, err := rt.sessions.PurgeExpired(cmd.Context(), time.Now().UTC(), cfg.SessionRetention())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Purged %d expired session(s)\n", n)
		return nil
	},
}

// rulesCmd lists the active validation rules.
var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "List the active validation rules",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		rt, err := buildRuntime(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer rt.cleanup()

		active, err := rt.ruleStore.ActiveRules(cmd.Context())
		if err != nil {
			return err
		}
		for _, r := range active {
			fmt.Fprintf(cmd.OutOrStdout(), "%-30s %-10s %s\n", r.ID, r.Severity, r.Message)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "\n%d active rule(s)\n", len(active))
		return nil
	},
}

var treesPhase string

// treesCmd lists the decision trees for a phase.
var treesCmd = &cobra.Command{
	Use:   "trees",
	Short: "List the decision trees for a phase",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		rt, err := buildRuntime(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer rt.cleanup()

		trees, err := rt.treeStore.TreesForPhase(cmd.Context(), treesPhase)
		if err != nil {
			return err
		}
		for _, t := range trees {
			fmt.Fprintf(cmd.OutOrStdout(), "%-25s v%-6s %d node(s), fallback=%s\n",
				t.ID, t.Version, len(t.Nodes), t.Fallback)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "\n%d tree(s) for phase %q\n", len(trees), treesPhase)
		return nil
	},
}

// eligibilityCmd evaluates the aid-program policy for ad-hoc values.
var eligibilityCmd = &cobra.Command{
	Use:   "eligibility [field=value]...",
	Short: "Evaluate aid-program eligibility for ad-hoc field values",
	Long: `Runs the Datalog eligibility policy against the given field values
without touching any session.

Example:
  formsense eligibility fafsaDependencyStatus=dependent educationLevel=undergraduate`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		values := make(form.Values)
		for _, arg := range args {
			k, v, ok := strings.Cut(arg, "=")
			if !ok {
				return fmt.Errorf("expected field=value, got %q", arg)
			}
			values.Set(form.FieldID(k), form.FromAny(parseFieldValue(v)))
		}

		adv, err := eligibility.NewAdvisor()
		if err != nil {
			return err
		}
		programs, err := adv.EligiblePrograms(values)
		if err != nil {
			return err
		}
		if len(programs) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No matching aid programs.")
			return nil
		}
		for _, p := range programs {
			fmt.Fprintln(cmd.OutOrStdout(), p)
		}
		return nil
	},
}

// initCmd seeds a workspace with a default config and sample registry.
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a default config and sample rule/tree registry",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		cfgPath := configPath
		if cfgPath == "" {
			cfgPath = filepath.Join(workspace, ".formsense", "config.yaml")
		}
		if err := cfg.Save(cfgPath); err != nil {
			return err
		}

		regDir := resolvePath(cfg.Stores.RegistryDir)
		if err := os.MkdirAll(filepath.Join(regDir, "trees"), 0755); err != nil {
			return err
		}
		if err := writeIfAbsent(filepath.Join(regDir, "rules.yaml"), sampleRules); err != nil {
			return err
		}
		if err := writeIfAbsent(filepath.Join(regDir, "trees", "residency.yaml"), sampleTree); err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Initialized FormSense workspace:\n  config:   %s\n  registry: %s\n", cfgPath, regDir)
		return nil
	},
}

func writeIfAbsent(path, content string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	return os.WriteFile(path, []byte(content), 0644)
}

const sampleRules = `# FormSense validation rules.
# Expressions are Go boolean expressions over field identifiers; a rule
# referencing a field with no value yet is skipped.
- id: email_missing
  name: Email missing
  field: email
  expression: email == ""
  message: an email address is required to contact the applicant
  severity: error
  confidence: 0.95
  enabled: true
- id: work_hours_excessive
  name: Excessive work hours
  field: plannedWorkHours
  expression: plannedWorkHours > 30
  message: working over 30 hours may affect full-time enrollment status
  severity: warning
  resolution_hint: confirm the applicant understands enrollment requirements
  confidence: 0.85
  enabled: true
`

const sampleTree = `id: residency_tree
name: Residency follow-up fields
version: "1"
root_node: school_type
fallback: conservative
nodes:
  school_type:
    id: school_type
    question: Is the applicant attending a public school?
    field: schoolType
    confidence: 0.95
    conditions:
      - field: schoolType
        operator: eq
        value: public
    next_nodes:
      match: residency
  residency:
    id: residency
    question: Is the applicant out of state?
    field: residencyStatus
    confidence: 0.9
    conditions:
      - field: residencyStatus
        operator: eq
        value: out_of_state
    actions:
      - type: show_field
        target_field: residencyTimeline
        confidence: 0.9
      - type: show_field
        target_field: targetState
        confidence: 0.9
`
