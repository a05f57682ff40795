package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gramseva/consult-signal/internal/config"
	"github.com/gramseva/consult-signal/internal/history"
	"github.com/gramseva/consult-signal/internal/server"
	"github.com/gramseva/consult-signal/internal/signaling"
)

var cfg = config.NewDefaultConfig()

// RootCmd is the root command for the signaling server.
var RootCmd = &cobra.Command{
	Use:   "consult-signal",
	Short: "WebRTC signaling and chat relay for video consultations",
	RunE:  runServer,
}

func init() {
	RootCmd.Flags().String("listen", cfg.BindAddr, "address:port to bind")
	RootCmd.Flags().String("log", cfg.LogLevel, "debug, info, warn, error, fatal, panic")
	RootCmd.Flags().StringSlice("allowed-origins", nil, "accepted websocket Origin values (empty allows all)")
	RootCmd.Flags().String("history-db", cfg.HistoryDB, "sqlite chat-history path (empty disables persistence)")
	RootCmd.Flags().Bool("require-identity", false, "reject connections without a verified user identity")
	RootCmd.Flags().Int("send-queue", cfg.SendQueueSize, "per-connection outbound queue size")

	if err := viper.BindPFlags(RootCmd.Flags()); err != nil {
		panic(err)
	}
	viper.SetEnvPrefix("CONSULT_SIGNAL")
	viper.AutomaticEnv()
}

// runServer wires the hub and serves until SIGINT or SIGTERM.
func runServer(cmd *cobra.Command, args []string) error {
	if err := viper.Unmarshal(cfg); err != nil {
		return err
	}

	logger := cfg.Logger().WithField("prefix", "signal")

	var store *history.Store
	var sink signaling.MessageSink
	if cfg.HistoryDB != "" {
		var err error
		store, err = history.NewStore(cfg.HistoryDB)
		if err != nil {
			return err
		}
		defer store.Close()
		sink = store
	}

	hub := signaling.NewHub(logger, sink)
	srv := server.NewServer(cfg, hub, store, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Run()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case <-sigCh:
	}

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(ctx)
}
