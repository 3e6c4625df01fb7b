package main

import (
	"context"
	"fmt"
	"time"

	chathaven "github.com/chathaven/chathaven-go"
	"github.com/spf13/cobra"
)

func init() {
	channelsCmd.AddCommand(channelsListCmd)
	channelsCmd.AddCommand(channelsCreateCmd)
	channelsCmd.AddCommand(channelsJoinCmd)
	channelsCmd.AddCommand(channelsMembersCmd)
	channelsCmd.AddCommand(channelsPromoteCmd)
	rootCmd.AddCommand(channelsCmd)
}

var channelsCmd = &cobra.Command{
	Use:   "channels",
	Short: "Manage group channels",
}

var channelsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List your group channels",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, cfg := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		channels, err := client.Channels.ForUser(ctx, cfg.Auth.UserID)
		if err != nil {
			return fmt.Errorf("failed to list channels: %w", err)
		}
		if len(channels) == 0 {
			fmt.Println("No channels. Create one with 'chathaven channels create <name>'.")
			return nil
		}

		for _, ch := range channels {
			fmt.Printf("%s  %s  (%d members, invite %s)\n", ch.ID, ch.Name, len(ch.Members), ch.InviteCode)
		}
		return nil
	},
}

var channelsCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a group channel",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, cfg := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		ch, err := client.Channels.Create(ctx, cfg.Auth.UserID, args[0])
		if err != nil {
			return fmt.Errorf("failed to create channel: %w", err)
		}

		fmt.Println("Channel created!")
		fmt.Printf("  ID:          %s\n", ch.ID)
		fmt.Printf("  Name:        %s\n", ch.Name)
		fmt.Printf("  Invite code: %s\n", ch.InviteCode)
		return nil
	},
}

var channelsJoinCmd = &cobra.Command{
	Use:   "join <invite-code>",
	Short: "Join a channel by invite code",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, cfg := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		ch, err := client.Channels.Join(ctx, args[0], cfg.Auth.UserID)
		if err != nil {
			return fmt.Errorf("failed to join channel: %w", err)
		}

		fmt.Printf("Joined %s (%s)\n", ch.Name, ch.ID)
		return nil
	},
}

var channelsMembersCmd = &cobra.Command{
	Use:   "members <channel-id>",
	Short: "List a channel's members grouped by role and presence",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, cfg := getClient()
		channelID := args[0]

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		dir := chathaven.NewDirectory(client, getSession(cfg), nil)
		if channels := dir.LoadChannels(ctx); len(channels) == 0 {
			return fmt.Errorf("failed to load channels")
		}
		if _, ok := dir.ChannelByID(channelID); !ok {
			return fmt.Errorf("unknown channel %q", channelID)
		}

		me, err := client.Users.Current(ctx)
		if err == nil {
			dir.SetUser(*me)
		}
		dir.HydrateMembers(ctx, channelID)

		groups := dir.CategorizeMembers(channelID)
		printMemberGroup("Admins", groups.Admins)
		printMemberGroup("Online", groups.Online)
		printMemberGroup("Offline", groups.Offline)
		return nil
	},
}

func printMemberGroup(label string, users []chathaven.User) {
	if len(users) == 0 {
		return
	}
	fmt.Printf("%s:\n", label)
	for _, u := range users {
		fmt.Printf("  %s  %s\n", u.ID, u.Username)
	}
}

var channelsPromoteCmd = &cobra.Command{
	Use:   "promote <channel-id> <user-id>",
	Short: "Grant channel admin rights to a member",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, cfg := getClient()
		channelID, userID := args[0], args[1]

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		dir := chathaven.NewDirectory(client, getSession(cfg), nil)
		dir.LoadChannels(ctx)

		if !dir.PromoteMember(ctx, channelID, userID) {
			return fmt.Errorf("promotion refused: you must be the channel's creator or an admin")
		}
		fmt.Printf("Promoted %s in %s\n", userID, channelID)
		return nil
	},
}
