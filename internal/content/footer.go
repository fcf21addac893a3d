// Package content converts ticket/comment bodies between the two trackers'
// markdown dialects: sync-footer tagging, mention rewriting, and image URL
// refresh.
package content

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/syncfork/ticketbridge/internal/types"
)

// markerName is the machine-readable tag embedded in every propagated body.
// Loop-Guard keys echo detection on its presence, so it must survive both
// trackers' markdown renderers (HTML comments render as nothing on both).
const markerName = "ticketbridge"

var (
	// markerRe matches the machine marker anywhere in a body.
	markerRe = regexp.MustCompile(`<!-- ` + markerName + `[^>]*-->`)

	// footerRe matches the full trailing footer block for stripping.
	footerRe = regexp.MustCompile(`(?s)\n*(?:---\n)?<sub>Synced[^\n]*</sub>\n<!-- ` + markerName + `[^>]*-->\s*\z`)

	// commentIDRe extracts the comment-correlation id from a marker.
	// Known-fragile by design heritage: the id lives in rendered footer
	// text rather than a dedicated table. See DESIGN.md.
	commentIDRe = regexp.MustCompile(`comment=([A-Za-z0-9_-]+)`)
)

// FooterInfo describes the footer to append to a propagated body.
type FooterInfo struct {
	// Origin is the side the content came from.
	Origin types.Side
	// Attribution is the display name of the original author, when known.
	Attribution string
	// CommentID is the origin-side comment id, embedded so a later edit of
	// the origin comment can locate this counterpart. Empty for non-comments.
	CommentID string
}

// HasFooter reports whether the body carries the sync marker anywhere.
func HasFooter(body string) bool {
	return markerRe.MatchString(body)
}

// StripFooter removes a trailing sync footer, if present. Bodies without a
// footer are returned unchanged.
func StripFooter(body string) string {
	return footerRe.ReplaceAllString(body, "")
}

// AppendFooter appends the sync footer to body. It strips any existing
// footer first so repeated application yields exactly one footer.
func AppendFooter(body string, info FooterInfo) string {
	body = strings.TrimRight(StripFooter(body), "\n")

	origin := "Linear"
	if info.Origin == types.SideGitHub {
		origin = "GitHub"
	}

	var sub strings.Builder
	fmt.Fprintf(&sub, "<sub>Synced from %s by ticketbridge", origin)
	if info.Attribution != "" {
		fmt.Fprintf(&sub, " on behalf of %s", info.Attribution)
	}
	sub.WriteString(".</sub>")

	marker := fmt.Sprintf("<!-- %s origin=%s", markerName, info.Origin)
	if info.CommentID != "" {
		marker += " comment=" + info.CommentID
	}
	marker += " -->"

	return body + "\n\n---\n" + sub.String() + "\n" + marker
}

// ExtractCommentID pulls the comment-correlation id out of a body's footer.
// Returns false when the body has no marker or the marker predates
// correlation tracking.
func ExtractCommentID(body string) (string, bool) {
	marker := markerRe.FindString(body)
	if marker == "" {
		return "", false
	}
	m := commentIDRe.FindStringSubmatch(marker)
	if m == nil {
		return "", false
	}
	return m[1], true
}
