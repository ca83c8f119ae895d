package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/EgorLis/tickclient/internal/simserver"
	"github.com/spf13/cobra"
)

var simserverCmd = &cobra.Command{
	Use:   "simserver",
	Short: "Run the reference game simulation server",
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		tick, _ := cmd.Flags().GetDuration("tick")

		logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		sim := simserver.New(simserver.Config{TickInterval: tick}, logger)
		srv := &http.Server{Addr: addr, Handler: sim.Handler(), ReadHeaderTimeout: 5 * time.Second}

		errCh := make(chan error, 1)
		go func() { errCh <- srv.ListenAndServe() }()
		go sim.Run(ctx)

		logger.Info("game_server_running", "addr", addr,
			"ws", "ws://localhost"+addr+"/ws", "health", "/health", "unit", "/unit")

		select {
		case err := <-errCh:
			if !errors.Is(err, http.ErrServerClosed) {
				return err
			}
		case <-ctx.Done():
		}

		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		sim.Close()
		return srv.Shutdown(sctx)
	},
}

func init() {
	rootCmd.AddCommand(simserverCmd)
	simserverCmd.Flags().String("addr", ":8080", "listen address")
	simserverCmd.Flags().Duration("tick", 400*time.Millisecond, "tick interval")
}
