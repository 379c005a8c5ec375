package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/MEKXH/familiar/internal/approval"
	"github.com/spf13/cobra"
)

func NewApproveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "approve <request-id> <allow|deny>",
		Short: "Resolve a pending permission request",
		Args:  cobra.ExactArgs(2),
		RunE:  runApprove,
	}
	cmd.Flags().Bool("remember", false, "Always allow this tool on this path")
	cmd.AddCommand(newApproveListCmd())
	return cmd
}

func newApproveListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List pending permission requests",
		Args:  cobra.NoArgs,
		RunE:  runApproveList,
	}
}

func runApprove(cmd *cobra.Command, args []string) error {
	decision, err := approval.ParseDecision(strings.ToLower(args[1]))
	if err != nil {
		return err
	}
	remember, _ := cmd.Flags().GetBool("remember")

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	body := map[string]any{
		"request_id": strings.TrimSpace(args[0]),
		"decision":   string(decision),
		"remember":   remember,
	}
	if err := newSidecarClient(cfg).post(commandContext(cmd), "/approve", body, nil); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Request %s: %s\n", args[0], decision)
	return nil
}

func runApproveList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	var resp struct {
		Approvals []approval.Request `json:"approvals"`
	}
	if err := newSidecarClient(cfg).get(commandContext(cmd), "/approvals", &resp); err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(resp.Approvals) == 0 {
		fmt.Fprintln(out, "No pending approvals.")
		return nil
	}
	for _, req := range resp.Approvals {
		target := req.RelativePath
		if target == "" {
			target = req.Path
		}
		fmt.Fprintf(out, "%s %s %s\n", req.ID, req.ToolName, target)
	}
	return nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
