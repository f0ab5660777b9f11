package aiclient

import (
	"fmt"
	"strings"

	"github.com/aegis-moderation/aegis/pkg/moderation"
)

// systemInstructions is the system-role message for chat-shaped requests. For
// reasoning-shaped requests it is prepended to the user prompt instead, since
// that shape carries a single input message.
const systemInstructions = `You are a comment moderation assistant for a publishing platform.
Classify the comment below as exactly one of: approve, reject, spam.

- approve: a genuine, on-topic contribution, even if critical or negative.
- reject: abusive, harassing, hateful, or otherwise harmful content.
- spam: promotional content, link schemes, or solicitation.

Respond with a JSON object only, no markdown and no commentary:
{"decision": "approve|reject|spam", "confidence": 0.0-1.0, "reasoning": "one short sentence"}`

const maxPromptContentLen = 4000

// BuildPrompt renders the user-role prompt for a comment. Document title is
// optional context; empty titles are omitted.
func BuildPrompt(c *moderation.Comment, documentTitle string) string {
	var b strings.Builder

	if documentTitle != "" {
		fmt.Fprintf(&b, "The comment was posted on %q (%s).\n\n", documentTitle, c.DocumentType)
	} else {
		fmt.Fprintf(&b, "The comment was posted on a %s.\n\n", c.DocumentType)
	}

	fmt.Fprintf(&b, "Author: %s\n", c.AuthorName)
	if c.AuthorEmail != "" {
		fmt.Fprintf(&b, "Author email: %s\n", c.AuthorEmail)
	}

	content := c.Content
	if len(content) > maxPromptContentLen {
		content = content[:maxPromptContentLen] + "\n[comment truncated]"
	}
	fmt.Fprintf(&b, "\nComment:\n%s", content)

	return b.String()
}
