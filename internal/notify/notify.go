// Package notify surfaces messages to humans: notify-mode candidates the
// engine declined to automate, and critical escalations.
package notify

import (
	"context"
	"fmt"
	"log"
	"os/exec"
	"strings"

	"github.com/zulandar/switchboard/internal/config"
)

// Notification is one human-facing alert.
type Notification struct {
	AgentID   string
	MessageID uint
	FromAgent string
	Subject   string
	Body      string
	Priority  string
}

// Notifier delivers notifications. Implementations are best-effort; the
// daemon logs failures and moves on.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Multi fans a notification out to several notifiers. Failures are logged
// and do not stop the remaining deliveries.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, n Notification) error {
	for _, nt := range m {
		if err := nt.Notify(ctx, n); err != nil {
			log.Printf("notify: %v", err)
		}
	}
	return nil
}

// Discard drops all notifications.
type Discard struct{}

func (Discard) Notify(ctx context.Context, n Notification) error { return nil }

// FromConfig builds a notifier from config: every configured channel is
// included, and with nothing configured notifications are dropped.
func FromConfig(cfg config.NotifyConfig) Notifier {
	var m Multi
	if cfg.Command != "" {
		m = append(m, &CommandNotifier{Command: cfg.Command})
	}
	if cfg.Slack.BotToken != "" && cfg.Slack.Channel != "" {
		m = append(m, NewSlackNotifier(cfg.Slack.BotToken, cfg.Slack.Channel))
	}
	if cfg.Discord.Token != "" && cfg.Discord.ChannelID != "" {
		m = append(m, NewDiscordNotifier(cfg.Discord.Token, cfg.Discord.ChannelID))
	}
	if len(m) == 0 {
		return Discard{}
	}
	return m
}

// CommandNotifier runs a shell command template, e.g.
// "notify-send 'Switchboard' '{{.Subject}}'".
type CommandNotifier struct {
	Command string
}

func (c *CommandNotifier) Notify(ctx context.Context, n Notification) error {
	cmdStr := templateNotification(c.Command, n)
	cmd := exec.CommandContext(ctx, "sh", "-c", cmdStr)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("notify: command failed: %v: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

// templateNotification replaces placeholders in the command template.
func templateNotification(command string, n Notification) string {
	r := strings.NewReplacer(
		"{{.Agent}}", n.AgentID,
		"{{.From}}", n.FromAgent,
		"{{.Subject}}", n.Subject,
		"{{.Body}}", n.Body,
		"{{.Priority}}", n.Priority,
	)
	return r.Replace(command)
}

// Format renders the standard notification text used by the chat notifiers.
func Format(n Notification) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", n.AgentID, n.Subject)
	if n.FromAgent != "" {
		fmt.Fprintf(&b, " (from %s)", n.FromAgent)
	}
	if n.Priority == "urgent" {
		b.WriteString(" [URGENT]")
	}
	if body := strings.TrimSpace(n.Body); body != "" {
		if len(body) > 300 {
			body = body[:300] + "…"
		}
		b.WriteString("\n")
		b.WriteString(body)
	}
	return b.String()
}
