package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	pushreceiver "github.com/slush-dev/push-receiver"
	"github.com/slush-dev/push-receiver/bus"
	"github.com/slush-dev/push-receiver/internal/metrics"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the notification bus over SignalR with Prometheus metrics",
	Long: `Runs an HTTP server exposing:

  <hub-path>   SignalR hub (StartNotificationService, RetryRegister, IsRegistered)
  /metrics     Prometheus metrics
  /status      controller status as JSON

With --sender-id set the service starts immediately; otherwise it waits for a
client to invoke StartNotificationService.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		addr := config.GetString("listen-addr")
		hubPath, _ := cmd.Flags().GetString("hub-path")
		logger := slog.Default()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		g, gctx := errgroup.WithContext(ctx)

		b, err := bus.New(gctx, bus.WithLogger(logger))
		if err != nil {
			return err
		}
		sink := metrics.NewSink(b)
		ctrl, release, err := newController(sink)
		if err != nil {
			return err
		}
		defer release()
		b.Bind(ctrl)

		mux := http.NewServeMux()
		b.Mount(mux, hubPath)
		mux.Handle("/metrics", sink.Handler())
		mux.HandleFunc("/status", statusHandler(ctrl))

		srv := &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}

		g.Go(func() error {
			logger.Info("Serving push receiver bus", "addr", addr, "hub", hubPath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
		if sid := config.GetString("sender-id"); sid != "" {
			g.Go(func() error {
				ctrl.Start(gctx, sid)
				return nil
			})
		}

		return g.Wait()
	},
}

func init() {
	serveCmd.Flags().String("listen-addr", "127.0.0.1:8080", "HTTP listen address")
	serveCmd.Flags().String("hub-path", bus.DefaultPath, "Path of the SignalR hub")
	if err := config.BindPFlag("listen-addr", serveCmd.Flags().Lookup("listen-addr")); err != nil {
		panic(err)
	}
	rootCmd.AddCommand(serveCmd)
}

func statusHandler(ctrl *pushreceiver.Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(ctrl.Status()); err != nil {
			slog.Default().Debug("Failed to write status", "remote", r.RemoteAddr, "error", err)
		}
	}
}
