package main

import (
	"context"
	"fmt"
	"time"

	chathaven "github.com/chathaven/chathaven-go"
	"github.com/spf13/cobra"
)

func init() {
	dmCmd.AddCommand(dmListCmd)
	dmCmd.AddCommand(dmCreateCmd)
	dmCmd.AddCommand(dmUsersCmd)
	rootCmd.AddCommand(dmCmd)
}

var dmCmd = &cobra.Command{
	Use:   "dm",
	Short: "Manage direct-message threads",
}

var dmListCmd = &cobra.Command{
	Use:   "list",
	Short: "List your direct-message threads",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, cfg := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		dir := chathaven.NewDirectory(client, getSession(cfg), nil)
		threads := dir.LoadDirectThreads(ctx)
		if len(threads) == 0 {
			fmt.Println("No direct messages. Start one with 'chathaven dm create <user-id>'.")
			return nil
		}

		for _, t := range threads {
			fmt.Printf("%s  %s\n", t.ID, t.Participant.Username)
		}
		return nil
	},
}

var dmCreateCmd = &cobra.Command{
	Use:   "create <user-id>",
	Short: "Start a direct-message thread with a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, cfg := getClient()
		userID := args[0]

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		recipient, err := client.Users.Get(ctx, userID)
		if err != nil {
			return fmt.Errorf("failed to look up user: %w", err)
		}

		dir := chathaven.NewDirectory(client, getSession(cfg), nil)
		thread, err := dir.CreateDirectThread(ctx, *recipient)
		if err != nil {
			return fmt.Errorf("failed to create thread: %w", err)
		}

		fmt.Printf("Thread with %s ready: %s\n", thread.Participant.Username, thread.ID)
		return nil
	},
}

var dmUsersCmd = &cobra.Command{
	Use:   "users",
	Short: "List users you can message",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, cfg := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		users, err := client.Users.Others(ctx, cfg.Auth.UserID)
		if err != nil {
			return fmt.Errorf("failed to list users: %w", err)
		}

		for _, u := range users {
			fmt.Printf("%s  %s  (%s)\n", u.ID, u.Username, u.Status)
		}
		return nil
	},
}
