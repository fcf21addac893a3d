package content

import (
	"fmt"
	"regexp"
	"strings"
)

// ticketKeyRe matches an embedded ticket identifier prefix like "[ENG-123] ".
var ticketKeyRe = regexp.MustCompile(`^\[([A-Z][A-Z0-9]*-\d+)\]\s*`)

// EmbedTicketKey prefixes title with the canonical ticket identifier,
// replacing any identifier already present: "[ENG-123] Fix the widget".
func EmbedTicketKey(key, title string) string {
	return fmt.Sprintf("[%s] %s", key, StripTicketKey(title))
}

// StripTicketKey removes an embedded ticket identifier prefix, if present.
func StripTicketKey(title string) string {
	return strings.TrimSpace(ticketKeyRe.ReplaceAllString(title, ""))
}

// TicketKey extracts the embedded identifier ("ENG-123") from a title.
func TicketKey(title string) (string, bool) {
	m := ticketKeyRe.FindStringSubmatch(title)
	if m == nil {
		return "", false
	}
	return m[1], true
}
