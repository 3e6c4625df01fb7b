package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	chathaven "github.com/chathaven/chathaven-go"
	"github.com/spf13/cobra"
)

var historyDirect bool

func init() {
	msgHistoryCmd.Flags().BoolVar(&historyDirect, "dm", false, "Treat the conversation as a direct-message thread")
	msgCmd.AddCommand(msgHistoryCmd)
	msgCmd.AddCommand(msgSendCmd)
	msgCmd.AddCommand(msgEditCmd)
	msgCmd.AddCommand(msgDeleteCmd)
	rootCmd.AddCommand(msgCmd)
}

var msgCmd = &cobra.Command{
	Use:   "msg",
	Short: "Read and manage messages",
}

var msgHistoryCmd = &cobra.Command{
	Use:   "history <conversation-id>",
	Short: "Show a conversation's message history grouped by day",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _ := getClient()
		conversationID := args[0]

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		messages, err := client.Messages.History(ctx, conversationID)
		if err != nil {
			return fmt.Errorf("failed to fetch history: %w", err)
		}

		store := chathaven.NewMessageStore()
		conv := chathaven.ConversationRef{ID: conversationID, IsChannel: !historyDirect}
		store.Activate(conv)
		store.SeedHistory(conv, messages)

		visible := store.FilterForConversation(conversationID, !historyDirect)
		if len(visible) == 0 {
			fmt.Println("No messages.")
			return nil
		}

		for _, group := range chathaven.GroupByLocalDate(visible, nil) {
			fmt.Printf("── %s ──\n", group.Date)
			for _, m := range group.Messages {
				printMessage(m)
			}
		}
		return nil
	},
}

func printMessage(m chathaven.Message) {
	sender := m.SenderUsername
	if sender == "" {
		sender = m.SenderID
	}
	fmt.Printf("[%s] %s: %s\n", m.Timestamp.Local().Format("15:04"), sender, m.Content)
}

var msgSendCmd = &cobra.Command{
	Use:   "send <conversation-id> <text>...",
	Short: "Send a message to a channel or DM thread",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, cfg := getClient()
		conversationID := args[0]
		content := strings.Join(args[1:], " ")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		sync := chathaven.NewConversationSync(client, getSession(cfg), nil)
		if err := sync.Start(ctx); err != nil {
			return fmt.Errorf("failed to connect: %w", err)
		}
		defer sync.Stop()

		// Try the DM thread list first; anything not in it is a channel.
		threads := sync.Directory().LoadDirectThreads(ctx)
		isDM := false
		for _, t := range threads {
			if t.ID == conversationID {
				isDM = true
				break
			}
		}

		if isDM {
			if err := sync.SendDirectMessage(ctx, conversationID, content); err != nil {
				return fmt.Errorf("failed to send: %w", err)
			}
		} else {
			if err := sync.SendChannelMessage(ctx, conversationID, content); err != nil {
				return fmt.Errorf("failed to send: %w", err)
			}
		}
		fmt.Println("Sent.")
		return nil
	},
}

var msgEditCmd = &cobra.Command{
	Use:   "edit <message-id> <text>...",
	Short: "Edit a message",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _ := getClient()
		content := strings.Join(args[1:], " ")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		updated, err := client.Messages.Edit(ctx, args[0], content)
		if err != nil {
			return fmt.Errorf("failed to edit message: %w", err)
		}
		fmt.Printf("Edited %s\n", updated.ID)
		return nil
	},
}

var msgDeleteCmd = &cobra.Command{
	Use:   "delete <message-id>",
	Short: "Delete a message",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _ := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := client.Messages.Delete(ctx, args[0]); err != nil {
			return fmt.Errorf("failed to delete message: %w", err)
		}
		fmt.Println("Deleted.")
		return nil
	},
}
