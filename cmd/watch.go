package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"perishable-ledger/core/protocol"
	"perishable-ledger/feature/replication"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	watchURL   string
	watchName  string
	watchToken string
)

// watchCmd follows the replication stream of a running server.
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Connect as a replica and log every ledger change",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, l, err := cliSetup()
		if err != nil {
			return err
		}
		if watchURL == "" {
			watchURL = fmt.Sprintf("ws://localhost:%s/ws", cfg.Server.ReplicationPort)
		}
		if watchToken == "" {
			watchToken = cfg.Server.AdminToken
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		client, err := replication.Dial(ctx, watchURL, replication.ClientOptions{
			Name:   watchName,
			Token:  watchToken,
			Logger: l,
			OnMessage: func(m protocol.Message, err error) {
				logMessage(l, m, err)
			},
		})
		if err != nil {
			return err
		}
		defer client.Close()

		if err := client.WaitSynced(ctx); err != nil {
			return err
		}
		l.Info("Synchronized",
			zap.String("session", client.Replica().SessionID()),
			zap.Bool("admin", client.Replica().Admin()),
			zap.Int("containers", client.Replica().Len()),
		)

		select {
		case <-ctx.Done():
			return nil
		case <-client.Done():
			if err := client.Err(); err != nil && !errors.Is(err, replication.ErrClosed) {
				return err
			}
			return nil
		}
	},
}

func logMessage(l *zap.Logger, m protocol.Message, err error) {
	if err != nil {
		// Decode and apply failures are already logged by the client
		return
	}
	switch msg := m.(type) {
	case *protocol.Delta:
		l.Info("Delta", zap.String("op", msg.Op.String()), zap.String("container", msg.ContainerID))
	case *protocol.FullSync:
		l.Info("Full sync", zap.Int("containers", len(msg.Containers)), zap.Int("losses", len(msg.Losses)))
	case *protocol.SettingsSync:
		l.Info("Settings changed",
			zap.Int("global", len(msg.Overrides.Global)),
			zap.Int("commodities", len(msg.Overrides.PerCommodity)),
		)
	default:
		l.Debug("Message", zap.String("type", m.Type().String()))
	}
}

func init() {
	watchCmd.Flags().StringVar(&watchURL, "url", "", "Replication endpoint (default ws://localhost:<replication_port>/ws)")
	watchCmd.Flags().StringVar(&watchName, "name", "watch", "Session name announced to the server")
	watchCmd.Flags().StringVar(&watchToken, "token", "", "Admin token (default server.admin_token)")
	RootCmd.AddCommand(watchCmd)
}
