package messenger

import (
	"context"

	"github.com/xkilldash9x/wabridge/api/schemas"
	"github.com/xkilldash9x/wabridge/internal/browser"
	"github.com/xkilldash9x/wabridge/internal/selectors"
)

// affordance ties a message kind to the control that reveals it.
type affordance struct {
	Kind    schemas.MessageType
	Control selectors.Name
}

// classificationOrder is the fixed tie-break for rows that expose several
// controls at once: a voice note also renders a text span, a document row an
// image preview. The first present control decides the kind.
var classificationOrder = []affordance{
	{Kind: schemas.MessageAudio, Control: selectors.AudioButton},
	{Kind: schemas.MessageFile, Control: selectors.FileDownloadButton},
	{Kind: schemas.MessageImage, Control: selectors.Image},
	{Kind: schemas.MessageText, Control: selectors.Text},
}

// classify checks row for each control in classificationOrder and returns the
// kind and the control element of the first match. ok is false when the row
// exposes none of them.
func (s *Session) classify(ctx context.Context, row browser.Element) (kind schemas.MessageType, control browser.Element, ok bool) {
	for _, a := range classificationOrder {
		if el, found := s.first(ctx, row, a.Control); found {
			return a.Kind, el, true
		}
	}
	return "", nil, false
}
