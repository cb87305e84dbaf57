package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	pushreceiver "github.com/slush-dev/push-receiver"
)

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Register (or reuse cached credentials) and print the FCM token",
	Long: `Runs one start request against the configured store: registers with GCM
when no credentials are cached or the sender ID changed, opens a listen
session to verify the credentials, prints the token and exits.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		sid, err := senderID()
		if err != nil {
			return err
		}

		sink := pushreceiver.NewChannelSink(16)
		ctrl, release, err := newController(sink)
		if err != nil {
			return err
		}
		defer release()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		ctrl.Start(ctx, sid)
		sink.Close()

		token, registered, err := startResult(sink.Events())
		if err != nil {
			return err
		}
		if useYAML() {
			yamlOut(map[string]any{
				"token":      token,
				"sender_id":  sid,
				"registered": registered,
			})
			return nil
		}
		if registered {
			fmt.Fprintln(os.Stderr, "Registered new credentials.")
		} else {
			fmt.Fprintln(os.Stderr, "Reusing cached credentials.")
		}
		fmt.Println(token)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(registerCmd)
}

// startResult folds the events of one start attempt into its outcome.
// events must be closed.
func startResult(events <-chan pushreceiver.Event) (token string, registered bool, err error) {
	started := false
	for ev := range events {
		switch e := ev.(type) {
		case pushreceiver.TokenUpdated:
			token, registered = e.Token, true
		case pushreceiver.ServiceStarted:
			token, started = e.Token, true
		case pushreceiver.ServiceError:
			return "", registered, errors.New(e.Message)
		}
	}
	if !started {
		return "", registered, errors.New("notification service did not start")
	}
	return token, registered, nil
}
