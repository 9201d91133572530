// Package webhook posts moderation events to Discord. Posts are
// queued and delivered by a background worker, so a slow or dead
// Discord never blocks a packet handler.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/shirokane/gobancho/internal/clock"
)

const (
	retryInterval = 8 * time.Second
	maxRetries    = 10
	embedColor    = 0x542CB8
	queueSize     = 64
)

var errBadURL = errors.New("webhook: malformed url")

// executor is the slice of discordgo.Session the worker needs.
type executor interface {
	WebhookExecute(webhookID, token string, wait bool, data *discordgo.WebhookParams, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

type target struct {
	id    string
	token string
}

type post struct {
	target  target
	message string
}

// Notifier delivers moderation and admin messages to their configured
// hooks. Unconfigured hooks drop silently.
type Notifier struct {
	session    executor
	clk        clock.Clock
	moderation *target
	admin      *target
	queue      chan post
}

// New parses the hook URLs and prepares the delivery queue. Empty URLs
// disable the corresponding hook.
func New(moderationURL, adminURL string, clk clock.Clock) (*Notifier, error) {
	session, err := discordgo.New("")
	if err != nil {
		return nil, fmt.Errorf("creating discord session: %w", err)
	}

	n := &Notifier{
		session: session,
		clk:     clk,
		queue:   make(chan post, queueSize),
	}
	if moderationURL != "" {
		t, err := parseWebhookURL(moderationURL)
		if err != nil {
			return nil, fmt.Errorf("moderation hook: %w", err)
		}
		n.moderation = &t
	}
	if adminURL != "" {
		t, err := parseWebhookURL(adminURL)
		if err != nil {
			return nil, fmt.Errorf("admin hook: %w", err)
		}
		n.admin = &t
	}
	return n, nil
}

// parseWebhookURL splits .../api/webhooks/<id>/<token>.
func parseWebhookURL(url string) (target, error) {
	marker := "/webhooks/"
	i := strings.Index(url, marker)
	if i < 0 {
		return target{}, fmt.Errorf("%w: %s", errBadURL, url)
	}
	rest := strings.Trim(url[i+len(marker):], "/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return target{}, fmt.Errorf("%w: %s", errBadURL, url)
	}
	return target{id: parts[0], token: parts[1]}, nil
}

// Moderation queues a message for the moderation hook. Never blocks;
// drops with a warning when the queue is full.
func (n *Notifier) Moderation(message string) {
	n.enqueue(n.moderation, message)
}

// Admin queues a message for the admin hook.
func (n *Notifier) Admin(message string) {
	n.enqueue(n.admin, message)
}

func (n *Notifier) enqueue(t *target, message string) {
	if t == nil {
		return
	}
	select {
	case n.queue <- post{target: *t, message: message}:
	default:
		slog.Warn("webhook queue full, dropping post", "message", message)
	}
}

// Run drains the queue until the context ends. Each post is retried a
// bounded number of times with a fixed interval between attempts.
func (n *Notifier) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case p := <-n.queue:
			n.deliver(ctx, p)
		}
	}
}

func (n *Notifier) deliver(ctx context.Context, p post) {
	params := &discordgo.WebhookParams{
		Embeds: []*discordgo.MessageEmbed{{
			Color: embedColor,
			Fields: []*discordgo.MessageEmbedField{{
				Name:  "** **",
				Value: p.message,
			}},
			Footer: &discordgo.MessageEmbedFooter{Text: "gobancho"},
		}},
	}

	for attempt := 1; attempt <= maxRetries; attempt++ {
		_, err := n.session.WebhookExecute(p.target.id, p.target.token, false, params)
		if err == nil {
			return
		}
		slog.Warn("webhook post failed",
			"attempt", attempt, "error", err)
		if attempt == maxRetries {
			return
		}
		if err := n.clk.Sleep(ctx, retryInterval); err != nil {
			return
		}
	}
}
