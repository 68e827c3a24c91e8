package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"perishable-ledger/core/command"
	"perishable-ledger/core/reconcile"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	dryRunReconcile bool
	yesConfirm      bool
)

// reconcileCmd aligns ledger totals with the reported fill levels.
var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Reconcile ledger totals with reported fill levels",
	Long: `Compares every container's batch total with the fill level last reported
for its entity and corrects the ledger: missing goods become a fresh batch,
surplus is consumed oldest first.

Examples:
  # Report only
  reconcile --dry-run

  # Apply with interactive confirmation
  reconcile

  # Apply non-interactively
  reconcile --yes`,
	RunE: runReconcile,
}

func init() {
	reconcileCmd.Flags().BoolVar(&dryRunReconcile, "dry-run", false, "Plan only, never change the ledger")
	reconcileCmd.Flags().BoolVar(&yesConfirm, "yes", false, "Auto-confirm corrections (non-interactive)")

	RootCmd.AddCommand(reconcileCmd)
}

func runReconcile(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, l, err := cliSetup()
	if err != nil {
		return err
	}
	api := newAPIClient(cfg.Server)

	// Step 1: Plan (always runs)
	l.Info("Planning reconciliation...")
	plan, _, err := requestReconcile(ctx, api, true)
	if err != nil {
		return fmt.Errorf("failed to plan reconciliation: %w", err)
	}
	printReconcileReport(l, plan)

	if dryRunReconcile {
		l.Info("Dry-run mode: No changes were made.")
		return nil
	}
	if len(plan.Actions) == 0 {
		l.Info("Ledger is in sync, nothing to apply.")
		return nil
	}
	if plan.Policy == reconcile.ReportOnly {
		l.Info("Drift policy is report_only: the server never applies corrections.")
		return nil
	}

	// Step 2: Apply (if confirmed)
	if !confirmDestructiveAction() {
		l.Warn("Operation cancelled by user. No changes were made.")
		return nil
	}
	_, msg, err := requestReconcile(ctx, api, false)
	if err != nil {
		return fmt.Errorf("failed to apply reconciliation: %w", err)
	}
	l.Info(msg)
	return nil
}

func requestReconcile(ctx context.Context, api *apiClient, dryRun bool) (*reconcile.Plan, string, error) {
	var res struct {
		command.Result
		Data json.RawMessage `json:"data"`
	}
	if err := api.do(ctx, "POST", "/ledger/commands/"+command.KindReconcile.String(), nil, command.Reconcile{DryRun: dryRun}, &res); err != nil {
		return nil, "", err
	}
	var plan reconcile.Plan
	if err := json.Unmarshal(res.Data, &plan); err != nil {
		return nil, "", fmt.Errorf("invalid reconciliation plan: %w", err)
	}
	return &plan, res.Message, nil
}

// printReconcileReport prints a formatted reconciliation report using logger.
func printReconcileReport(l *zap.Logger, plan *reconcile.Plan) {
	s := plan.Summary

	l.Info("Reconciliation report",
		zap.Int("processed", s.ContainersProcessed),
		zap.Int("skipped", s.ContainersSkipped),
		zap.Int("in_sync", s.InSync),
		zap.Float64("total_added", s.TotalAdded),
		zap.Float64("total_removed", s.TotalRemoved),
		zap.Int("unregistered", s.Unregistered),
		zap.String("policy", string(plan.Policy)),
	)

	// Show sample of actions (max 5 for logger)
	maxShow := min(5, len(plan.Actions))
	for _, action := range plan.Actions[:maxShow] {
		l.Info("Planned action",
			zap.String("type", string(action.Type)),
			zap.String("container", action.ContainerID),
			zap.Float64("amount", action.Amount),
			zap.String("reason", action.Reason),
		)
	}
	if len(plan.Actions) > maxShow {
		l.Info("Additional actions not shown", zap.Int("count", len(plan.Actions)-maxShow))
	}
	for _, r := range plan.Results {
		if r.Skipped {
			l.Warn("Container skipped", zap.String("container", r.ContainerID), zap.String("reason", r.Reason))
		}
	}
}

// confirmDestructiveAction prompts the user for confirmation or uses --yes flag.
func confirmDestructiveAction() bool {
	if yesConfirm {
		fmt.Println("\n✓ Auto-confirmed via --yes flag")
		return true
	}

	fmt.Print("\n⚠️  Type 'yes' to apply the corrections: ")
	reader := bufio.NewReader(os.Stdin)
	response, err := reader.ReadString('\n')
	if err != nil {
		return false
	}

	response = strings.TrimSpace(response)
	return response == "yes"
}
