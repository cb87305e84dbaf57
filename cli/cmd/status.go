package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	pushreceiver "github.com/slush-dev/push-receiver"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the stored registration state",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, release, err := openStore()
		if err != nil {
			return err
		}
		defer release()

		state, err := store.Load(cmd.Context())
		if err != nil {
			return fmt.Errorf("loading state: %w", err)
		}
		showIDs, _ := cmd.Flags().GetBool("ids")
		view := newStatusView(state, showIDs)

		if useYAML() {
			yamlOut(view)
			return nil
		}
		printStatus(os.Stdout, view)
		return nil
	},
}

func init() {
	statusCmd.Flags().Bool("ids", false, "List every stored persistent ID")
	rootCmd.AddCommand(statusCmd)
}

type statusView struct {
	Registered      bool     `yaml:"registered"`
	SenderID        string   `yaml:"sender_id,omitempty"`
	Token           string   `yaml:"token,omitempty"`
	HasGCM          bool     `yaml:"has_gcm_credentials"`
	PersistentCount int      `yaml:"persistent_id_count"`
	PersistentIDs   []string `yaml:"persistent_ids,omitempty"`
}

func newStatusView(state pushreceiver.State, withIDs bool) statusView {
	v := statusView{
		Registered:      state.Credentials.Validate() == nil,
		SenderID:        state.SenderID,
		Token:           state.Credentials.Token(),
		HasGCM:          state.Credentials != nil && len(state.Credentials.GCM) > 0,
		PersistentCount: len(state.PersistentIDs),
	}
	if withIDs {
		v.PersistentIDs = state.PersistentIDs
	}
	return v
}

func printStatus(w io.Writer, v statusView) {
	if !v.Registered {
		fmt.Fprintln(w, "No stored credentials.")
	} else {
		fmt.Fprintf(w, "Sender ID:       %s\n", v.SenderID)
		fmt.Fprintf(w, "Token:           %s\n", v.Token)
		fmt.Fprintf(w, "GCM credentials: %v\n", v.HasGCM)
	}
	fmt.Fprintf(w, "Persistent IDs:  %d\n", v.PersistentCount)
	for _, id := range v.PersistentIDs {
		fmt.Fprintf(w, "  %s\n", id)
	}
}
