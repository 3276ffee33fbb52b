package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nerolation/ethereum-interop-viz/internal/config"
	"github.com/nerolation/ethereum-interop-viz/internal/logger"
	"github.com/nerolation/ethereum-interop-viz/internal/utils"
)

const (
	pagerDutyEventsURL = "https://events.pagerduty.com/v2/enqueue"
	telegramAPIURL     = "https://api.telegram.org"

	// Slack rejects sections with more than ten fields.
	slackMaxFields = 10
)

type Notifier interface {
	Notify(ctx context.Context, event AlertEvent) error
}

type MultiNotifier struct {
	notifiers []Notifier
}

func (m *MultiNotifier) Notify(ctx context.Context, event AlertEvent) error {
	var lastErr error
	for _, n := range m.notifiers {
		if err := n.Notify(ctx, event); err != nil {
			lastErr = err
			logger.Warn("ALERT", "Notifier failed: %v", err)
		}
	}
	return lastErr
}

func NewNotifier(cfg config.AlertsConfig) Notifier {
	ch := cfg.Channels
	notifiers := []Notifier{LogNotifier{}}

	if ch.PagerDuty.Enabled && ch.PagerDuty.APIKey != "" {
		notifiers = append(notifiers, newPagerDuty(pagerDutyEventsURL, ch.PagerDuty.APIKey, ch.PagerDuty.Severity))
	}
	if ch.Discord.Enabled && ch.Discord.Webhook != "" {
		notifiers = append(notifiers, newDiscord(ch.Discord.Webhook))
	}
	if ch.Telegram.Enabled && ch.Telegram.Token != "" && ch.Telegram.ChatID != "" {
		notifiers = append(notifiers, newTelegram(telegramAPIURL, ch.Telegram.Token, ch.Telegram.ChatID))
	}
	if ch.Slack.Enabled && ch.Slack.Webhook != "" {
		notifiers = append(notifiers, newSlack(ch.Slack.Webhook))
	}

	return &MultiNotifier{notifiers: notifiers}
}

type LogNotifier struct{}

func (LogNotifier) Notify(ctx context.Context, event AlertEvent) error {
	logger.Warn("ALERT", "[%s][%s][%s] %s", event.Status, event.RuleID, event.Network, event.Message)
	return nil
}

// message is the channel independent rendering of an event. Every webhook
// renders the same headline and fields.
type message struct {
	event    AlertEvent
	firing   bool
	headline string
	fields   []AlertDetail
}

func newMessage(event AlertEvent) message {
	firing := event.Status != AlertResolved
	marker := "🚨"
	if !firing {
		marker = "💚"
	}
	network := utils.DisplayName(event.Network)

	m := message{
		event:    event,
		firing:   firing,
		headline: fmt.Sprintf("%s %s · %s", marker, event.Title, network),
	}
	if event.SubjectType == SubjectClient {
		name := event.SubjectName
		if name == "" {
			name = utils.DisplayName(event.SubjectID)
		}
		m.fields = append(m.fields, AlertDetail{Label: "Client", Value: name})
	}
	m.fields = append(m.fields, AlertDetail{Label: "Network", Value: network})
	m.fields = append(m.fields, event.Details...)
	return m
}

// webhook posts one JSON rendering of a message per event.
type webhook struct {
	name   string
	url    string
	render func(message) any
}

func (w *webhook) Notify(ctx context.Context, event AlertEvent) error {
	if err := postJSON(ctx, w.url, w.render(newMessage(event))); err != nil {
		return fmt.Errorf("%s: %w", w.name, err)
	}
	return nil
}

// Discord

type discordPayload struct {
	Embeds []discordEmbed `json:"embeds"`
}

type discordEmbed struct {
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	URL         string         `json:"url,omitempty"`
	Color       int            `json:"color"`
	Fields      []discordField `json:"fields"`
	Footer      *discordFooter `json:"footer,omitempty"`
	Timestamp   string         `json:"timestamp"`
}

type discordField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type discordFooter struct {
	Text string `json:"text"`
}

func newDiscord(hook string) *webhook {
	return &webhook{name: "discord", url: hook, render: func(m message) any { return discordEmbedFor(m) }}
}

func discordEmbedFor(m message) discordPayload {
	color := 0xE5484D
	if !m.firing {
		color = 0x30A46C
	}
	fields := make([]discordField, 0, len(m.fields))
	for _, f := range m.fields {
		fields = append(fields, discordField{Name: f.Label, Value: f.Value, Inline: len(f.Value) <= 24})
	}
	return discordPayload{Embeds: []discordEmbed{{
		Title:       m.headline,
		Description: m.event.Message,
		URL:         m.event.URL,
		Color:       color,
		Fields:      fields,
		Footer:      &discordFooter{Text: string(m.event.RuleID)},
		Timestamp:   m.event.Timestamp.UTC().Format(time.RFC3339),
	}}}
}

// Slack

type slackPayload struct {
	Text   string       `json:"text"`
	Blocks []slackBlock `json:"blocks"`
}

type slackBlock struct {
	Type     string      `json:"type"`
	Text     *slackText  `json:"text,omitempty"`
	Fields   []slackText `json:"fields,omitempty"`
	Elements []slackText `json:"elements,omitempty"`
}

type slackText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func newSlack(hook string) *webhook {
	return &webhook{name: "slack", url: hook, render: func(m message) any { return slackBlocksFor(m) }}
}

func slackBlocksFor(m message) slackPayload {
	fields := make([]slackText, 0, len(m.fields))
	for _, f := range m.fields {
		if len(fields) == slackMaxFields {
			break
		}
		fields = append(fields, slackText{Type: "mrkdwn", Text: fmt.Sprintf("*%s:*\n%s", f.Label, f.Value)})
	}

	blocks := []slackBlock{
		{Type: "header", Text: &slackText{Type: "plain_text", Text: m.headline}},
		{Type: "section", Text: &slackText{Type: "mrkdwn", Text: m.event.Message}},
		{Type: "section", Fields: fields},
	}
	if m.event.URL != "" {
		blocks = append(blocks, slackBlock{Type: "context", Elements: []slackText{
			{Type: "mrkdwn", Text: fmt.Sprintf("<%s|Open dashboard>", m.event.URL)},
		}})
	}
	return slackPayload{Text: m.headline, Blocks: blocks}
}

// Telegram

type telegramPayload struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	ParseMode             string `json:"parse_mode"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

func newTelegram(apiURL, token, chatID string) *webhook {
	return &webhook{
		name: "telegram",
		url:  fmt.Sprintf("%s/bot%s/sendMessage", strings.TrimRight(apiURL, "/"), token),
		render: func(m message) any {
			return telegramPayload{ChatID: chatID, Text: telegramHTML(m), ParseMode: "HTML", DisableWebPagePreview: true}
		},
	}
}

func telegramHTML(m message) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<b>%s</b>\n%s\n", html.EscapeString(m.headline), html.EscapeString(m.event.Message))
	for _, f := range m.fields {
		fmt.Fprintf(&b, "\n<b>%s:</b> %s", html.EscapeString(f.Label), html.EscapeString(f.Value))
	}
	if m.event.URL != "" {
		fmt.Fprintf(&b, "\n\n<a href=\"%s\">Open dashboard</a>", html.EscapeString(m.event.URL))
	}
	return b.String()
}

// PagerDuty Events v2

type pagerDutyPayload struct {
	RoutingKey  string          `json:"routing_key"`
	EventAction string          `json:"event_action"`
	DedupKey    string          `json:"dedup_key"`
	Payload     pagerDutyBody   `json:"payload"`
	Links       []pagerDutyLink `json:"links,omitempty"`
}

type pagerDutyBody struct {
	Summary   string            `json:"summary"`
	Source    string            `json:"source"`
	Severity  string            `json:"severity"`
	Timestamp string            `json:"timestamp"`
	Component string            `json:"component,omitempty"`
	Class     string            `json:"class,omitempty"`
	Custom    map[string]string `json:"custom_details,omitempty"`
}

type pagerDutyLink struct {
	Href string `json:"href"`
	Text string `json:"text"`
}

func newPagerDuty(eventsURL, routingKey, defaultSeverity string) *webhook {
	if defaultSeverity == "" {
		defaultSeverity = "critical"
	}
	return &webhook{
		name: "pagerduty",
		url:  eventsURL,
		render: func(m message) any {
			return pagerDutyEventFor(m, routingKey, defaultSeverity)
		},
	}
}

func pagerDutyEventFor(m message, routingKey, defaultSeverity string) pagerDutyPayload {
	action := "trigger"
	if !m.firing {
		action = "resolve"
	}
	severity := defaultSeverity
	if m.event.Severity != "" {
		severity = m.event.Severity
	}

	custom := make(map[string]string, len(m.fields))
	for _, f := range m.fields {
		custom[f.Label] = f.Value
	}

	out := pagerDutyPayload{
		RoutingKey:  routingKey,
		EventAction: action,
		DedupKey:    m.event.Key,
		Payload: pagerDutyBody{
			Summary:   fmt.Sprintf("%s: %s", utils.DisplayName(m.event.Network), m.event.Message),
			Source:    "interop-viz/" + m.event.Network,
			Severity:  severity,
			Timestamp: m.event.Timestamp.UTC().Format(time.RFC3339),
			Component: m.event.SubjectID,
			Class:     string(m.event.RuleID),
			Custom:    custom,
		},
	}
	if m.event.URL != "" {
		out.Links = []pagerDutyLink{{Href: m.event.URL, Text: "Interop dashboard"}}
	}
	return out
}

func postJSON(ctx context.Context, endpoint string, body any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return errors.New("invalid webhook url")
	}
	req.Header.Set("Content-Type", "application/json")
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		// Drop the URL, it carries the Telegram token.
		var uerr *url.Error
		if errors.As(err, &uerr) {
			return fmt.Errorf("post failed: %w", uerr.Err)
		}
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}
