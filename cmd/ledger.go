package cmd

import (
	"encoding/json"
	"fmt"
	"strconv"

	"perishable-ledger/core/command"
	"perishable-ledger/core/settings"
	"perishable-ledger/feature/ledger"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	listType      string
	listFarm      string
	listCommodity string
)

// ledgerCmd groups the admin commands run against a live server.
var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Inspect and mutate the ledger of a running server",
}

var ledgerListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tracked containers",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, l, err := cliSetup()
		if err != nil {
			return err
		}
		var out struct {
			Count      int                     `json:"count"`
			Containers []ledger.ContainerView `json:"containers"`
		}
		query := map[string]string{"type": listType, "farm": listFarm, "commodity": listCommodity}
		if err := newAPIClient(cfg.Server).do(cmd.Context(), "GET", "/ledger/containers", query, nil, &out); err != nil {
			return err
		}
		for _, c := range out.Containers {
			l.Info("Container",
				zap.String("id", c.ID),
				zap.String("type", c.EntityType.String()),
				zap.Uint16("farm", c.FarmID),
				zap.String("commodity", c.Commodity),
				zap.Int("batches", len(c.Batches)),
				zap.Float64("total", c.Total),
				zap.String("location", c.Metadata.LocationLabel),
			)
		}
		l.Info("Containers listed", zap.Int("count", out.Count))
		return nil
	},
}

var ledgerInspectCmd = &cobra.Command{
	Use:   "inspect <container-id>",
	Short: "Show one container with its batches",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, l, err := cliSetup()
		if err != nil {
			return err
		}
		var c ledger.ContainerView
		if err := newAPIClient(cfg.Server).do(cmd.Context(), "GET", "/ledger/containers/"+args[0], nil, nil, &c); err != nil {
			fmt.Println("Error: " + err.Error())
			return err
		}
		l.Info("Container",
			zap.String("id", c.ID),
			zap.String("type", c.EntityType.String()),
			zap.String("commodity", c.Commodity),
			zap.Float64("total", c.Total),
			zap.String("object", c.Identity.WorldObjectID),
		)
		for i, b := range c.Batches {
			l.Info("Batch", zap.Int("index", i), zap.Float64("amount", b.Amount), zap.Float64("age", b.AgeInPeriods))
		}
		return nil
	},
}

var ledgerExecCmd = &cobra.Command{
	Use:   "exec <action> [json-arguments]",
	Short: "Execute a ledger command",
	Long: `Executes one ledger command as an admin. Arguments are the command's JSON body.

Examples:
  ledger exec setAllBatchAges '{"container_id":"...","age":0.5}'
  ledger exec simulateAll '{"hours":24}'
  ledger exec clearLossLog`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, l, err := cliSetup()
		if err != nil {
			return err
		}
		if _, err := command.ParseKind(args[0]); err != nil {
			return err
		}
		var body map[string]any
		if len(args) == 2 {
			if err := json.Unmarshal([]byte(args[1]), &body); err != nil {
				return fmt.Errorf("invalid arguments: %w", err)
			}
		}
		var res command.Result
		err = newAPIClient(cfg.Server).do(cmd.Context(), "POST", "/ledger/commands/"+args[0], nil, body, &res)
		if err != nil {
			fmt.Println("Error: " + err.Error())
			return err
		}
		fmt.Println(res.Status())
		l.Debug("Command result", zap.Any("data", res.Data))
		return nil
	},
}

var ledgerSettingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Show the effective expiration of every commodity",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, l, err := cliSetup()
		if err != nil {
			return err
		}
		var out []settings.Resolution
		if err := newAPIClient(cfg.Server).do(cmd.Context(), "GET", "/ledger/settings/commodities", nil, nil, &out); err != nil {
			return err
		}
		for _, r := range out {
			fields := []zap.Field{zap.String("commodity", r.Commodity), zap.String("source", string(r.Source))}
			if r.Expires {
				fields = append(fields, zap.Float64("expiration", r.Expiration), zap.Float64("warning", r.Warning))
			}
			l.Info("Expiration", fields...)
		}
		return nil
	},
}

var ledgerExpireCmd = &cobra.Command{
	Use:   "set-expiration <commodity> <periods|never>",
	Short: "Set a user expiration for one commodity",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := cliSetup()
		if err != nil {
			return err
		}
		body := map[string]any{"perishable": false}
		if args[1] != "never" {
			period, err := strconv.ParseFloat(args[1], 64)
			if err != nil {
				return fmt.Errorf("invalid period %q: %w", args[1], err)
			}
			body = map[string]any{"period": period}
		}
		var res command.Result
		if err := newAPIClient(cfg.Server).do(cmd.Context(), "PUT", "/ledger/settings/commodities/"+args[0], nil, body, &res); err != nil {
			fmt.Println("Error: " + err.Error())
			return err
		}
		fmt.Println(res.Status())
		return nil
	},
}

func init() {
	ledgerListCmd.Flags().StringVar(&listType, "type", "", "Filter by entity type (vehicle, bale, placeable, husbandryFood, stored)")
	ledgerListCmd.Flags().StringVar(&listFarm, "farm", "", "Filter by farm id")
	ledgerListCmd.Flags().StringVar(&listCommodity, "commodity", "", "Filter by commodity name")

	ledgerCmd.AddCommand(ledgerListCmd, ledgerInspectCmd, ledgerExecCmd, ledgerSettingsCmd, ledgerExpireCmd)
	RootCmd.AddCommand(ledgerCmd)
}
