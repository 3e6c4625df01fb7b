package main

import (
	"fmt"
	"os"

	chathaven "github.com/chathaven/chathaven-go"
)

// clientOptions builds client options from the config.
func clientOptions(cfg *Config) []chathaven.ClientOption {
	var opts []chathaven.ClientOption
	if cfg.Default.BaseURL != "" {
		opts = append(opts, chathaven.WithBaseURL(cfg.Default.BaseURL))
	}
	return opts
}

// getClient creates a client authenticated with the stored session token.
func getClient() (*chathaven.Client, *Config) {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if cfg.Auth.Token == "" {
		fmt.Fprintln(os.Stderr, "Not logged in. Run 'chathaven login' first.")
		os.Exit(1)
	}
	return chathaven.NewClient(cfg.Auth.Token, clientOptions(cfg)...), cfg
}

// getAnonClient creates an unauthenticated client for login and register.
func getAnonClient() (*chathaven.Client, *Config) {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	return chathaven.NewClient("", clientOptions(cfg)...), cfg
}

// getSession returns the stored session.
func getSession(cfg *Config) chathaven.Session {
	return chathaven.Session{
		Token:    cfg.Auth.Token,
		UserID:   cfg.Auth.UserID,
		Username: cfg.Auth.Username,
	}
}
