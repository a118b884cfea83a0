package messenger

import (
	"context"
	"strings"

	"github.com/xkilldash9x/wabridge/api/schemas"
	"github.com/xkilldash9x/wabridge/internal/browser"
	"github.com/xkilldash9x/wabridge/internal/selectors"
)

// parsePrePlainText extracts the sender from a row's metadata attribute,
// which reads like "[12:01, 18.10.2026] Alice: ". Anything it cannot make
// sense of yields UnknownSender.
func parsePrePlainText(meta string) string {
	_, rest, found := strings.Cut(meta, "]")
	if !found {
		return schemas.UnknownSender
	}
	// Only the text up to the next "]" counts.
	rest, _, _ = strings.Cut(rest, "]")
	name := trimLabel(rest)
	if _, after, ok := strings.Cut(name, ","); ok {
		name = strings.TrimSpace(after)
	}
	if name == "" {
		return schemas.UnknownSender
	}
	return name
}

// senderOf reads the sender of a message row: from the metadata attribute
// when present, otherwise from the first labelled span.
func (s *Session) senderOf(ctx context.Context, row browser.Element) string {
	if meta, ok := s.first(ctx, row, selectors.MessageMeta); ok {
		if value, ok, err := meta.Attribute(ctx, "data-pre-plain-text"); err == nil && ok {
			return parsePrePlainText(value)
		}
		return schemas.UnknownSender
	}
	if label, ok := s.first(ctx, row, selectors.MessageSender); ok {
		if value, ok, err := label.Attribute(ctx, "aria-label"); err == nil && ok {
			if name := trimLabel(value); name != "" {
				return name
			}
		}
	}
	return schemas.UnknownSender
}

// trimLabel strips surrounding space and the colon that follows a name.
func trimLabel(s string) string {
	return strings.TrimSpace(strings.TrimRight(strings.TrimSpace(s), ":"))
}
