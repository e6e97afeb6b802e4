package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"formsense/internal/form"
	"formsense/internal/store"
)

var (
	processSession string
	processUser    string
	processPhase   string
	processSource  string
	processSync    bool
)

// processCmd applies one field update to a session.
var processCmd = &cobra.Command{
	Use:   "process [field] [value]",
	Short: "Process one field update through the decision pipeline",
	Long: `Applies a single field update to a form session: merges the value,
walks the applicable decision trees, recomputes field visibility, runs
the validation rules, detects and (where safe) auto-resolves conflicts,
and decides whether the session needs human review.

A new session is created when --session names an unknown id.

Example:
  formsense process country Canada --session sess-1 --user u-1`,
	Args: cobra.ExactArgs(2),
	RunE: runProcess,
}

func init() {
	processCmd.Flags().StringVar(&processSession, "session", "", "session id (generated when empty)")
	processCmd.Flags().StringVar(&processUser, "user", "", "owning user id")
	processCmd.Flags().StringVar(&processPhase, "phase", "intake", "form phase for new sessions")
	processCmd.Flags().StringVar(&processSource, "source", string(form.SourceUserInput),
		"update source: user_input, inferred, template, calculated")
	processCmd.Flags().BoolVar(&processSync, "sync", false, "force the in-process path even when the worker is enabled")
}

func runProcess(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	rt, err := buildRuntime(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer rt.cleanup()

	sessionID := processSession
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	prior, err := rt.sessions.Get(cmd.Context(), sessionID)
	if errors.Is(err, store.ErrSessionNotFound) {
		prior = form.NewFormContext(processUser, sessionID, processPhase)
	} else if err != nil {
		return err
	}

	update := form.FieldUpdate{
		Field:     form.FieldID(args[0]),
		Value:     form.FromAny(parseFieldValue(args[1])),
		Timestamp: time.Now().UTC(),
		Source:    form.Source(processSource),
	}

	var next form.FormContext
	if processSync {
		next = rt.orch.ProcessFieldUpdate(cmd.Context(), prior, update)
	} else {
		next = rt.dispatcher.ProcessFieldUpdate(cmd.Context(), prior, update, func(pct int) {
			logger.Debug("processing", zap.String("session", sessionID), zap.Int("progress", pct))
		})
	}

	return printJSON(cmd, next)
}

// summarizeCmd renders the reviewer summary for an escalated session.
var summarizeCmd = &cobra.Command{
	Use:   "summarize [session-id]",
	Short: "Render the review summary for an escalated session",
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
		if !fc.NeedsManualIntervention {
			fmt.Fprintln(cmd.OutOrStdout(), "Session does not need manual review.")
			return nil
		}
		summary, err := rt.orch.ReviewSummary(cmd.Context(), fc)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), summary)
		return nil
	},
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}
