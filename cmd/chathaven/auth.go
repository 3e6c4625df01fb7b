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

var (
	loginEmail    string
	loginPassword string

	registerUsername string
	registerEmail    string
	registerPassword string
)

func init() {
	loginCmd.Flags().StringVar(&loginEmail, "email", "", "Account email")
	loginCmd.Flags().StringVar(&loginPassword, "password", "", "Account password")
	rootCmd.AddCommand(loginCmd)

	registerCmd.Flags().StringVar(&registerUsername, "username", "", "Username for the new account")
	registerCmd.Flags().StringVar(&registerEmail, "email", "", "Email for the new account")
	registerCmd.Flags().StringVar(&registerPassword, "password", "", "Password for the new account")
	rootCmd.AddCommand(registerCmd)

	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(whoamiCmd)
}

// prompt reads one line from stdin after printing a label.
func prompt(label string) string {
	fmt.Print(label)
	reader := bufio.NewReader(os.Stdin)
	line, _ := reader.ReadString('\n')
	return strings.TrimSpace(line)
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in to ChatHaven",
	Long:  "Authenticate with email and password and store the session token locally.",
	RunE: func(cmd *cobra.Command, args []string) error {
		email := loginEmail
		if email == "" {
			email = prompt("Email: ")
		}
		password := loginPassword
		if password == "" {
			password = prompt("Password: ")
		}

		client, cfg := getAnonClient()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		result, err := client.Auth.Login(ctx, &chathaven.LoginOptions{
			Email:    email,
			Password: password,
		})
		if err != nil {
			return fmt.Errorf("login failed: %w", err)
		}

		cfg.Auth.Token = result.Token
		cfg.Auth.UserID = result.User.ID
		cfg.Auth.Username = result.User.Username
		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		fmt.Printf("Logged in as %s (%s)\n", result.User.Username, result.User.ID)
		return nil
	},
}

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Create a ChatHaven account",
	Long:  "Register a new account and store the returned session token locally.",
	RunE: func(cmd *cobra.Command, args []string) error {
		username := registerUsername
		if username == "" {
			username = prompt("Username: ")
		}
		email := registerEmail
		if email == "" {
			email = prompt("Email: ")
		}
		password := registerPassword
		if password == "" {
			password = prompt("Password: ")
		}

		client, cfg := getAnonClient()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		result, err := client.Auth.Register(ctx, &chathaven.RegisterOptions{
			Username: username,
			Email:    email,
			Password: password,
		})
		if err != nil {
			return fmt.Errorf("registration failed: %w", err)
		}

		cfg.Auth.Token = result.Token
		cfg.Auth.UserID = result.User.ID
		cfg.Auth.Username = result.User.Username
		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		fmt.Println("Registration successful!")
		fmt.Printf("  User ID:  %s\n", result.User.ID)
		fmt.Printf("  Username: %s\n", result.User.Username)
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Log out and clear the stored session",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, cfg := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		// Best effort: the local session is cleared even if the backend call
		// fails.
		if err := client.Auth.Logout(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: backend logout failed: %v\n", err)
		}

		cfg.Auth = ConfigAuth{}
		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}
		fmt.Println("Logged out.")
		return nil
	},
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the logged-in user",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _ := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		me, err := client.Users.Current(ctx)
		if err != nil {
			return fmt.Errorf("failed to fetch current user: %w", err)
		}

		fmt.Printf("User ID:  %s\n", me.ID)
		fmt.Printf("Username: %s\n", me.Username)
		fmt.Printf("Status:   %s\n", me.Status)
		return nil
	},
}
