package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/user/stylecore/internal/types"
)

func init() {
	rootCmd.AddCommand(conversationCmd)
	conversationCmd.AddCommand(conversationListCmd, conversationShowCmd)
}

var conversationCmd = &cobra.Command{
	Use:   "conversation",
	Short: "Inspect stored conversations",
}

var conversationListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all conversations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer store.Close()

		ctx := context.Background()
		records, err := store.ListConversations(ctx)
		if err != nil {
			return fmt.Errorf("list conversations: %w", err)
		}
		if len(records) == 0 {
			fmt.Println("No conversations found.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tOWNER\tMESSAGES\tCLOSED\tCREATED")
		for _, rec := range records {
			msgs, err := store.LoadMessages(ctx, rec.ID)
			if err != nil {
				return fmt.Errorf("load messages for %s: %w", rec.ID, err)
			}
			fmt.Fprintf(w, "%s\t%s\t%d\t%t\t%s\n",
				rec.ID,
				rec.OwnerID,
				len(msgs),
				rec.Closed,
				rec.CreatedAt.Format("2006-01-02 15:04:05"),
			)
		}
		return w.Flush()
	},
}

var conversationShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Print a conversation transcript",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer store.Close()

		msgs, err := store.LoadMessages(context.Background(), types.ConversationID(args[0]))
		if err != nil {
			return fmt.Errorf("load messages: %w", err)
		}
		if len(msgs) == 0 {
			fmt.Println("No messages found.")
			return nil
		}

		for _, msg := range msgs {
			marker := ""
			if msg.Status != types.StatusDelivered {
				marker = fmt.Sprintf(" [%s]", msg.Status)
			}
			fmt.Fprintf(os.Stdout, "%s %s%s: %s\n",
				msg.CreatedAt.Format("2006-01-02 15:04:05"),
				msg.Sender,
				marker,
				msg.Body,
			)
		}
		return nil
	},
}
