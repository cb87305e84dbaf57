package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	pushreceiver "github.com/slush-dev/push-receiver"
)

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Start the notification service and print events (Ctrl+C to stop)",
	RunE: func(cmd *cobra.Command, args []string) error {
		sid, err := senderID()
		if err != nil {
			return err
		}
		bufSize, _ := cmd.Flags().GetInt("buffer")

		sink := pushreceiver.NewChannelSink(bufSize)
		ctrl, release, err := newController(sink)
		if err != nil {
			return err
		}
		defer release()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		retry := make(chan os.Signal, 1)
		if len(retrySignals) > 0 {
			signal.Notify(retry, retrySignals...)
			defer signal.Stop(retry)
		}

		go ctrl.Start(ctx, sid)

		fmt.Fprintln(os.Stderr, "Listening for notifications (Ctrl+C to stop) ...")
		asYAML := useYAML()
		for {
			select {
			case ev := <-sink.Events():
				printEvent(os.Stdout, ev, asYAML)
				if _, ok := ev.(pushreceiver.ServiceError); ok && len(retrySignals) > 0 && !ctrl.IsRegistered() {
					fmt.Fprintf(os.Stderr, "Send %v to pid %d to retry registration.\n", retrySignals[0], os.Getpid())
				}
			case <-retry:
				if ctrl.Retry(ctx) {
					fmt.Fprintln(os.Stderr, "Retrying registration ...")
				} else {
					fmt.Fprintln(os.Stderr, "Retry ignored: already registered or an attempt is running.")
				}
			case <-ctx.Done():
				fmt.Fprintln(os.Stderr, "\nShutting down ...")
				sink.Close()
				return nil
			}
		}
	},
}

func init() {
	listenCmd.Flags().Int("buffer", 64, "Events buffered before delivery waits for the terminal")
	rootCmd.AddCommand(listenCmd)
}
