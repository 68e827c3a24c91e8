package cmd

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	exportOutput string
	exportCount  int
)

var losslogCmd = &cobra.Command{
	Use:   "losslog",
	Short: "Work with the expiration loss log",
}

var losslogExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Download the loss log as an xlsx workbook",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, l, err := cliSetup()
		if err != nil {
			return err
		}
		query := map[string]string{}
		if exportCount > 0 {
			query["count"] = strconv.Itoa(exportCount)
		}
		data, err := newAPIClient(cfg.Server).download(cmd.Context(), "/losslog/export", query)
		if err != nil {
			return err
		}
		if err := os.WriteFile(exportOutput, data, 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", exportOutput, err)
		}
		l.Info("Loss log exported", zap.String("file", exportOutput), zap.Int("bytes", len(data)))
		return nil
	},
}

func init() {
	losslogExportCmd.Flags().StringVarP(&exportOutput, "output", "o", "losses.xlsx", "Destination file")
	losslogExportCmd.Flags().IntVar(&exportCount, "count", 0, "Only the most recent N entries (0 = all)")

	losslogCmd.AddCommand(losslogExportCmd)
	RootCmd.AddCommand(losslogCmd)
}
