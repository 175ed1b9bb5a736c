package formatter

import (
	"fmt"
	"html"
	"strings"

	"github.com/mixelka/messenger2mail/pkg/models"
)

// DigestBuilder renders a digest batch into delivery bodies
type DigestBuilder struct{}

// NewDigestBuilder creates a new digest builder
func NewDigestBuilder() *DigestBuilder {
	return &DigestBuilder{}
}

// senderGroup keeps the messages of one sender in arrival order
type senderGroup struct {
	name     string
	messages []models.InboundMessage
}

// groupBySender groups messages by sender, preserving first-seen order of
// senders and arrival order within each group
func groupBySender(msgs []models.InboundMessage) []senderGroup {
	var groups []senderGroup
	index := make(map[string]int)

	for _, msg := range msgs {
		name := msg.SenderName
		if name == "" {
			name = "Unknown"
		}
		i, ok := index[name]
		if !ok {
			i = len(groups)
			index[name] = i
			groups = append(groups, senderGroup{name: name})
		}
		groups[i].messages = append(groups[i].messages, msg)
	}
	return groups
}

// HTML renders the batch as an HTML digest grouped by sender, for mail
// destinations.
func (b *DigestBuilder) HTML(msgs []models.InboundMessage) string {
	var sb strings.Builder
	sb.WriteString("<div style=\"font-family: sans-serif;\"><h3>New message digest</h3>")
	for _, group := range groupBySender(msgs) {
		sb.WriteString("<div style=\"border-left: 3px solid #3b82f6; padding: 10px; margin: 10px 0;\">")
		fmt.Fprintf(&sb, "<strong>From: %s</strong><br>", html.EscapeString(group.name))
		for _, msg := range group.messages {
			text := msg.Text
			if text == "" {
				text = "(no text)"
			}
			fmt.Fprintf(&sb, "<div>%s</div>", html.EscapeString(text))
		}
		sb.WriteString("</div>")
	}
	sb.WriteString("</div>")
	return sb.String()
}

// Text renders the batch as a plain-text digest grouped by sender, for
// messenger destinations.
func (b *DigestBuilder) Text(msgs []models.InboundMessage) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "New message digest (%d messages)\n", len(msgs))
	for _, group := range groupBySender(msgs) {
		fmt.Fprintf(&sb, "\nFrom %s:\n", group.name)
		for _, msg := range group.messages {
			fmt.Fprintf(&sb, "- %s\n", msg.Text)
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

// Subject returns the mail subject line for a rule's digest
func (b *DigestBuilder) Subject(rule *models.RoutingRule) string {
	name := rule.Name
	if name == "" {
		name = fmt.Sprintf("Rule %d", rule.ID)
	}
	return fmt.Sprintf("Digest: %s", name)
}
