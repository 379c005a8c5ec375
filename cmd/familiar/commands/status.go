package commands

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/MEKXH/familiar/internal/app"
	"github.com/MEKXH/familiar/internal/approval"
	"github.com/MEKXH/familiar/internal/auth"
	"github.com/MEKXH/familiar/internal/config"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#8E4EC6")).
			Padding(0, 1).
			MarginBottom(1)
	sectionStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#8E4EC6")).
			Bold(true)
	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			Width(12)
	okStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#2E8B57"))
	warnStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#D7875F"))
	dimStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

func NewStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the running sidecar's status",
		RunE:  runStatus,
	}
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	client := newSidecarClient(cfg)
	ctx := commandContext(cmd)
	out := cmd.OutOrStdout()

	fmt.Fprintln(out, headerStyle.Render("Familiar Status"))

	section(out, "Config")
	row(out, "Path:", config.ConfigPath())
	row(out, "Gateway:", client.baseURL)
	if cfg.Gateway.Token != "" {
		row(out, "Token:", "configured")
	} else {
		row(out, "Token:", dimStyle.Render("none (open)"))
	}

	var health app.Health
	if err := client.get(ctx, "/health", &health); err != nil {
		fmt.Fprintln(out)
		section(out, "Sidecar")
		row(out, "Status:", warnStyle.Render("not running"))
		return err
	}

	fmt.Fprintln(out)
	section(out, "Sidecar")
	if health.Status == app.HealthReady {
		row(out, "Status:", okStyle.Render(health.Status))
	} else {
		row(out, "Status:", warnStyle.Render(health.Status))
		for _, missing := range health.Missing {
			row(out, "Missing:", missing)
		}
	}

	var settings app.SettingsPayload
	if err := client.get(ctx, "/settings", &settings); err != nil {
		row(out, "Settings:", warnStyle.Render(err.Error()))
		return nil
	}

	fmt.Fprintln(out)
	section(out, "Workspace")
	if settings.Workspace != "" {
		row(out, "Path:", settings.Workspace)
	} else {
		row(out, "Path:", warnStyle.Render("not configured"))
		row(out, "Suggested:", dimStyle.Render(settings.DefaultWorkspace))
	}
	row(out, "Rules:", formatRules(settings.AlwaysAllow))

	fmt.Fprintln(out)
	section(out, "Auth")
	row(out, "Mode:", settings.AuthMode)
	row(out, "API key:", yesNo(settings.HasAPIKey))
	var status auth.Status
	if settings.AuthMode == config.AuthModeClaude {
		if err := client.get(ctx, "/auth/claude/status", &status); err != nil {
			row(out, "Claude.ai:", warnStyle.Render(err.Error()))
		} else {
			row(out, "Claude.ai:", formatLogin(status))
		}
	}

	var pending struct {
		Approvals []approval.Request `json:"approvals"`
	}
	if err := client.get(ctx, "/approvals", &pending); err == nil {
		fmt.Fprintln(out)
		section(out, "Approvals")
		row(out, "Pending:", fmt.Sprintf("%d", len(pending.Approvals)))
		for _, req := range pending.Approvals {
			target := req.RelativePath
			if target == "" {
				target = req.Path
			}
			fmt.Fprintf(out, "    %s %s %s\n", dimStyle.Render(req.ID), req.ToolName, target)
		}
	}
	return nil
}

func section(out io.Writer, title string) {
	fmt.Fprintln(out, sectionStyle.Render(title))
}

func row(out io.Writer, label, value string) {
	fmt.Fprintf(out, "  %s %s\n", labelStyle.Render(label), value)
}

func yesNo(v bool) string {
	if v {
		return okStyle.Render("configured")
	}
	return dimStyle.Render("not configured")
}

func formatLogin(status auth.Status) string {
	switch {
	case status.Pending:
		msg := "login in progress"
		if status.LoginURL != "" {
			msg += " (" + status.LoginURL + ")"
		}
		return warnStyle.Render(msg)
	case status.Active && status.Account != "":
		return okStyle.Render("logged in as " + status.Account)
	case status.Active:
		return okStyle.Render("logged in")
	case status.Message != "":
		return warnStyle.Render(status.Message)
	default:
		return dimStyle.Render("logged out")
	}
}

func formatRules(rules map[string][]string) string {
	if len(rules) == 0 {
		return dimStyle.Render("none")
	}
	tools := make([]string, 0, len(rules))
	for tool := range rules {
		tools = append(tools, tool)
	}
	sort.Strings(tools)
	parts := make([]string, 0, len(tools))
	for _, tool := range tools {
		parts = append(parts, fmt.Sprintf("%s=%d", tool, len(rules[tool])))
	}
	return strings.Join(parts, ", ")
}
