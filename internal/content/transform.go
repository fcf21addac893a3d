package content

import (
	"context"
	"log"
	"regexp"

	"github.com/syncfork/ticketbridge/internal/types"
)

// MentionResolver maps an @-mention token from one side to the other.
// Implemented by the identity mapper. Returns false when the token has no
// known counterpart, in which case the mention passes through unchanged.
type MentionResolver interface {
	ResolveMention(ctx context.Context, from types.Side, token string) (string, bool)
}

// ImageRefresher re-hosts a possibly time-limited image URL so it stays
// resolvable on the counterpart side. Implemented by the Linear client
// (Linear upload URLs are signed and expire).
type ImageRefresher interface {
	RefreshImageURL(ctx context.Context, url string) (string, error)
}

var (
	mentionRe = regexp.MustCompile(`@([A-Za-z0-9](?:[A-Za-z0-9-]*[A-Za-z0-9])?)`)

	// signedImageRe matches inline images hosted on Linear's upload CDN,
	// whose URLs carry expiring signatures.
	signedImageRe = regexp.MustCompile(`!\[([^\]]*)\]\((https://uploads\.linear\.app/[^)\s]+)\)`)
)

// Transformer rewrites bodies for the counterpart side.
type Transformer struct {
	Mentions MentionResolver
	Images   ImageRefresher
}

// Options carries the per-call context for ToCounterpart.
type Options struct {
	From        types.Side
	Attribution string
	CommentID   string
}

// ToCounterpart rewrites body for the side opposite opts.From: mentions are
// remapped best-effort, Linear-hosted images are refreshed so they do not
// expire on GitHub, and the sync footer is applied (strip-then-append, so
// the result always carries exactly one footer).
func (t *Transformer) ToCounterpart(ctx context.Context, body string, opts Options) string {
	out := StripFooter(body)
	out = t.rewriteMentions(ctx, out, opts.From)
	if opts.From == types.SideLinear {
		out = t.refreshImages(ctx, out)
	}
	return AppendFooter(out, FooterInfo{
		Origin:      opts.From,
		Attribution: opts.Attribution,
		CommentID:   opts.CommentID,
	})
}

func (t *Transformer) rewriteMentions(ctx context.Context, body string, from types.Side) string {
	if t.Mentions == nil {
		return body
	}
	return mentionRe.ReplaceAllStringFunc(body, func(match string) string {
		token := match[1:]
		if counterpart, ok := t.Mentions.ResolveMention(ctx, from, token); ok {
			return "@" + counterpart
		}
		return match
	})
}

// refreshImages replaces signed Linear upload URLs with stable re-hosted
// ones. A failed refresh leaves the original URL in place rather than
// aborting the propagation.
func (t *Transformer) refreshImages(ctx context.Context, body string) string {
	if t.Images == nil {
		return body
	}
	return signedImageRe.ReplaceAllStringFunc(body, func(match string) string {
		m := signedImageRe.FindStringSubmatch(match)
		alt, url := m[1], m[2]
		fresh, err := t.Images.RefreshImageURL(ctx, url)
		if err != nil {
			log.Printf("ticketbridge: image refresh failed for %s: %v", url, err)
			return match
		}
		return "![" + alt + "](" + fresh + ")"
	})
}
