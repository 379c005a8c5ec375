package commands

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/MEKXH/familiar/internal/auth"
	"github.com/spf13/cobra"
)

// loginPollInterval is shortened in tests.
var loginPollInterval = 2 * time.Second

func NewAuthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage the Claude.ai login of the running sidecar",
	}
	cmd.AddCommand(
		newAuthLoginCmd(),
		newAuthLogoutCmd(),
		newAuthStatusCmd(),
	)
	return cmd
}

func newAuthLoginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Start a Claude.ai login",
		Args:  cobra.NoArgs,
		RunE:  runAuthLogin,
	}
	cmd.Flags().Duration("wait", 0, "Wait up to this long for the login to finish")
	return cmd
}

func newAuthLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Log out of Claude.ai",
		Args:  cobra.NoArgs,
		RunE:  runAuthLogout,
	}
}

func newAuthStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the Claude.ai login state",
		Args:  cobra.NoArgs,
		RunE:  runAuthStatus,
	}
}

func runAuthLogin(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	client := newSidecarClient(cfg)
	ctx := commandContext(cmd)
	out := cmd.OutOrStdout()

	var status auth.Status
	if err := client.post(ctx, "/auth/claude/login", nil, &status); err != nil {
		return err
	}
	if status.LoginURL != "" {
		fmt.Fprintf(out, "Open this URL to log in:\n  %s\n", status.LoginURL)
	}

	wait, _ := cmd.Flags().GetDuration("wait")
	if wait <= 0 || !status.Pending {
		printAuthStatus(out, status)
		return nil
	}

	waitCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	ticker := time.NewTicker(loginPollInterval)
	defer ticker.Stop()
	for status.Pending {
		select {
		case <-waitCtx.Done():
			printAuthStatus(out, status)
			return fmt.Errorf("login still pending after %s", wait)
		case <-ticker.C:
		}
		if err := client.get(waitCtx, "/auth/claude/status", &status); err != nil {
			return err
		}
	}
	printAuthStatus(out, status)
	return nil
}

func runAuthLogout(cmd *cobra.Command, args []string) error {
	return authRequest(cmd, http.MethodPost, "/auth/claude/logout")
}

func runAuthStatus(cmd *cobra.Command, args []string) error {
	return authRequest(cmd, http.MethodGet, "/auth/claude/status")
}

func authRequest(cmd *cobra.Command, method, path string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	var status auth.Status
	if err := newSidecarClient(cfg).do(commandContext(cmd), method, path, nil, &status); err != nil {
		return err
	}
	printAuthStatus(cmd.OutOrStdout(), status)
	return nil
}

func printAuthStatus(out io.Writer, status auth.Status) {
	switch {
	case status.Pending:
		fmt.Fprintln(out, "Login in progress.")
	case status.Active && status.Account != "":
		fmt.Fprintf(out, "Logged in as %s.\n", status.Account)
	case status.Active:
		fmt.Fprintln(out, "Logged in.")
	default:
		fmt.Fprintln(out, "Logged out.")
	}
	if status.Message != "" {
		fmt.Fprintln(out, status.Message)
	}
}
