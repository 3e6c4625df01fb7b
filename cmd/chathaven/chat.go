package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	chathaven "github.com/chathaven/chathaven-go"
	"github.com/spf13/cobra"
)

var chatDirect bool

func init() {
	chatCmd.Flags().BoolVar(&chatDirect, "dm", false, "Treat the conversation as a direct-message thread")
	rootCmd.AddCommand(chatCmd)
}

// terminalNotifier prints gated alerts inline, standing in for the desktop
// notification surface.
type terminalNotifier struct{}

func (terminalNotifier) Notify(n chathaven.Notification) {
	fmt.Printf("\n*** %s: %s ***\n> ", n.Title, n.Body)
}

var chatCmd = &cobra.Command{
	Use:   "chat <conversation-id>",
	Short: "Follow a conversation live and send messages interactively",
	Long: "Open a conversation: print its history, stream new messages as they\n" +
		"arrive, and send each line you type. Ctrl-D exits.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, cfg := getClient()
		conversationID := args[0]
		session := getSession(cfg)

		ctx := context.Background()

		sync := chathaven.NewConversationSync(client, session, &chathaven.SyncOptions{
			Notifier: terminalNotifier{},
		})
		sync.Gate().SetEnabled(cfg.Notifications.Enabled)
		sync.Gate().SetPermission(chathaven.PermissionGranted)

		if err := sync.Start(ctx); err != nil {
			return fmt.Errorf("failed to connect: %w", err)
		}
		defer sync.Stop()

		sync.Directory().LoadChannels(ctx)
		sync.Directory().LoadDirectThreads(ctx)

		conv := chathaven.ConversationRef{ID: conversationID, IsChannel: !chatDirect}
		if err := sync.Activate(ctx, conv); err != nil {
			return fmt.Errorf("failed to open conversation: %w", err)
		}

		// Give the background history load a moment, then render it.
		time.Sleep(time.Second)
		for _, group := range chathaven.GroupByLocalDate(
			sync.Store().FilterForConversation(conversationID, !chatDirect), nil) {
			fmt.Printf("── %s ──\n", group.Date)
			for _, m := range group.Messages {
				printMessage(m)
			}
		}

		sync.OnEvent(func(topic string, ev chathaven.Event) {
			switch ev.Kind {
			case chathaven.EventCreated:
				if ev.Message.ChannelID == conversationID {
					fmt.Print("\r")
					printMessage(*ev.Message)
					fmt.Print("> ")
				}
			case chathaven.EventUpdated:
				if ev.Message.ChannelID == conversationID {
					fmt.Printf("\r(edited) ")
					printMessage(*ev.Message)
					fmt.Print("> ")
				}
			case chathaven.EventDeleted:
				fmt.Printf("\r(message %s deleted)\n> ", ev.MessageID)
			}
		})

		sync.Realtime().OnReconnecting(func(attempt int, delay time.Duration) {
			fmt.Fprintf(os.Stderr, "\rConnection lost, retrying in %s (attempt %d)...\n", delay, attempt)
		})
		sync.Realtime().OnConnected(func() {
			fmt.Fprint(os.Stderr, "\rConnected.\n> ")
		})

		scanner := bufio.NewScanner(os.Stdin)
		fmt.Print("> ")
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				fmt.Print("> ")
				continue
			}

			var err error
			if chatDirect {
				err = sync.SendDirectMessage(ctx, conversationID, line)
			} else {
				err = sync.SendChannelMessage(ctx, conversationID, line)
			}
			if err != nil {
				fmt.Fprintf(os.Stderr, "Send failed: %v\n", err)
			}
			fmt.Print("> ")
		}
		fmt.Println()
		return nil
	},
}
