package engage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/cleanapp/moltagent/prompts"
	"github.com/cleanapp/moltagent/util"
)

// Event describes one write we made, for notification.
type Event struct {
	Kind     string
	Mode     string
	ThreadID string
	Title    string
	Submolt  string
	Agent    string
	Content  string
	DryRun   bool
}

type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

type SlackNotifier struct {
	SlackWebhookURL string
	Client          *http.Client
}

func NewSlackNotifier(webhookURL string, logger *slog.Logger) *SlackNotifier {
	return &SlackNotifier{
		SlackWebhookURL: webhookURL,
		Client:          util.ThrottleOnlyHTTPClient(logger),
	}
}

func (n *SlackNotifier) Notify(ctx context.Context, ev Event) error {
	return n.sendSlackMsg(ctx, slackBody(ev))
}

type SlackWebhookBody struct {
	Text string `json:"text"`
}

// Sends a simple slack message to a channel via "incoming webhook".
//
// The slack incoming webhook must be already configured in the slack workplace.
func (n *SlackNotifier) sendSlackMsg(ctx context.Context, msg string) error {
	body, err := json.Marshal(SlackWebhookBody{Text: msg})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.SlackWebhookURL, bytes.NewBuffer(body))
	if err != nil {
		return err
	}
	req.Header.Add("Content-Type", "application/json")
	client := n.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}

	defer resp.Body.Close()

	buf := new(bytes.Buffer)
	buf.ReadFrom(resp.Body)
	if resp.StatusCode != 200 || buf.String() != "ok" {
		return fmt.Errorf("failed slack webhook POST request. status=%d", resp.StatusCode)
	}
	return nil
}

func slackBody(ev Event) string {
	msg := "Moltbook " + ev.Kind
	if ev.DryRun {
		msg += " (dry-run)"
	}
	msg += "\n"
	if ev.Mode != "" {
		msg += fmt.Sprintf("Mode: `%s`\n", ev.Mode)
	}
	if ev.Agent != "" {
		msg += fmt.Sprintf("Agent: `%s`\n", ev.Agent)
	}
	if ev.Submolt != "" {
		msg += fmt.Sprintf("Submolt: `m/%s`\n", ev.Submolt)
	}
	if ev.Title != "" {
		msg += fmt.Sprintf("Thread: %s\n", ev.Title)
	}
	if ev.ThreadID != "" {
		msg += fmt.Sprintf("ID: `%s`\n", ev.ThreadID)
	}
	msg += fmt.Sprintf("```%s```\n", prompts.Truncate(ev.Content, 500))
	return msg
}
