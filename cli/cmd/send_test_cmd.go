package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"github.com/spf13/cobra"
	"google.golang.org/api/option"
)

var sendTestCmd = &cobra.Command{
	Use:   "send-test",
	Short: "Send a data message to the stored token with the Firebase Admin SDK",
	Long: `Sends a data message through FCM to the token held in the store (or
--token). Run 'push-receiver listen' in another terminal to watch it arrive.

Requires a service account JSON for the sender's Firebase project.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		credFile, _ := cmd.Flags().GetString("credentials-file")
		projectID, _ := cmd.Flags().GetString("project-id")
		token, _ := cmd.Flags().GetString("token")
		pairs, _ := cmd.Flags().GetStringArray("data")

		data, err := parseData(pairs)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		if token == "" {
			store, release, err := openStore()
			if err != nil {
				return err
			}
			state, err := store.Load(ctx)
			release()
			if err != nil {
				return fmt.Errorf("loading state: %w", err)
			}
			token = state.Credentials.Token()
			if token == "" {
				return fmt.Errorf("no stored token: run 'push-receiver register' first or pass --token")
			}
		}

		credJSON, err := os.ReadFile(credFile)
		if err != nil {
			return fmt.Errorf("reading credentials file: %w", err)
		}
		app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: projectID}, option.WithCredentialsJSON(credJSON))
		if err != nil {
			return fmt.Errorf("initializing firebase app: %w", err)
		}
		client, err := app.Messaging(ctx)
		if err != nil {
			return fmt.Errorf("creating messaging client: %w", err)
		}

		id, err := client.Send(ctx, &messaging.Message{
			Data:  data,
			Token: token,
		})
		if err != nil {
			return fmt.Errorf("sending message: %w", err)
		}

		if useYAML() {
			yamlOut(map[string]any{"message_id": id, "token": token})
			return nil
		}
		fmt.Printf("Sent %s\n", id)
		return nil
	},
}

func init() {
	sendTestCmd.Flags().String("credentials-file", "", "Service account JSON of the sender's Firebase project")
	sendTestCmd.Flags().String("project-id", "", "Firebase project ID (defaults to the service account's)")
	sendTestCmd.Flags().String("token", "", "Target token (defaults to the stored one)")
	sendTestCmd.Flags().StringArray("data", []string{"message=hello from push-receiver"}, "Data entry as key=value (repeatable)")
	sendTestCmd.MarkFlagRequired("credentials-file")
	rootCmd.AddCommand(sendTestCmd)
}

// parseData turns key=value pairs into a data payload.
func parseData(pairs []string) (map[string]string, error) {
	data := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid data entry %q (want key=value)", p)
		}
		data[k] = v
	}
	return data, nil
}
