package context

import (
	"strings"

	"hearth/internal/domain"
)

// MessageText extracts a text representation of a Message for token counting.
// Tool calls contribute their name and arguments, since both travel to the
// provider on the wire.
func MessageText(msg domain.Message) string {
	if len(msg.ToolCalls) == 0 {
		return msg.Content
	}
	parts := make([]string, 0, len(msg.ToolCalls)+1)
	if msg.Content != "" {
		parts = append(parts, msg.Content)
	}
	for _, tc := range msg.ToolCalls {
		parts = append(parts, tc.Name+" "+string(tc.Arguments))
	}
	return strings.Join(parts, "\n")
}
