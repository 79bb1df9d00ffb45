package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var syncMessagesCmd = &cobra.Command{
	Use:   "sync-messages",
	Short: "Index Slack channel history into the vector store once",
	Long: `Read the history of SLACK_SYNC_CHANNEL_IDS, or of every channel the bot
is a member of when unset, and store new messages for retrieval.
Running it again over the same history stores nothing new.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), holder.Get())
		if err != nil {
			return err
		}
		defer a.Close()

		stats, err := a.messageSync(holder).Run(cmd.Context())
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "channels: %d, messages: %d, chunks: %d, stored: %d\n",
			stats.Channels, stats.Messages, stats.Chunks, stats.Stored)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(syncMessagesCmd)
}
