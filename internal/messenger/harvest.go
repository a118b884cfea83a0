package messenger

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/wabridge/api/schemas"
	"github.com/xkilldash9x/wabridge/internal/browser"
	"github.com/xkilldash9x/wabridge/internal/observability"
	"github.com/xkilldash9x/wabridge/internal/selectors"
)

// unknownFileName is used when a download control's title cannot be parsed.
const unknownFileName = "unknown_file"

// UnreadMessages visits every chat that carries an unread badge and collects
// its incoming messages. Individual chats and rows that fail are skipped or
// recorded with an error; only a missing browser fails the call. The whole
// pass stops taking on new chats and rows once the harvest budget is spent and
// returns what it has.
//
// Every chat that opened gets an entry, empty when none of its rows could be
// read. Nothing is remembered between calls: messages still marked unread, or
// every rendered message when a chat shows no unread marker, are reported
// again.
func (s *Session) UnreadMessages(ctx context.Context) (schemas.MessageBatch, error) {
	ctx, unlock, err := s.acquireOpLock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	h, err := s.handleLocked(ctx, false, true)
	if err != nil {
		return nil, err
	}
	h = s.bounded(h)
	defer s.bestEffort(ctx, "release page objects", s.opts.Timeouts.Liveness, h.Release)

	// spent() stops new work between steps; the deadline cuts off a stalled one.
	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeouts.HarvestBudget)
	defer cancel()

	batch := schemas.MessageBatch{}
	deadline := s.now().Add(s.opts.Timeouts.HarvestBudget)
	spent := func() bool {
		return ctx.Err() != nil || !s.now().Before(deadline)
	}

	list, err := s.waitFor(ctx, h, selectors.ChatList, s.opts.Timeouts.ElementWait, false)
	if err != nil {
		s.logger.Warn("Chat list not found, nothing to harvest", zap.Error(err))
		return batch, nil
	}
	items, err := list.FindAll(ctx, s.sel.XPath(selectors.ChatItem))
	if err != nil {
		s.logger.Warn("Failed to list chats", zap.Error(err))
		return batch, nil
	}

	for _, item := range items {
		if spent() {
			s.logger.Warn("Harvest budget spent, returning partial results", zap.Int("messages", batch.Count()))
			break
		}
		if _, unread := s.first(ctx, item, selectors.UnreadBadge); !unread {
			continue
		}

		title := s.chatTitle(ctx, item)
		logger := s.logger.With(observability.Chat(title))
		if err := s.openChatItem(ctx, item); err != nil {
			logger.Warn("Skipping chat that would not open", zap.Error(err))
			continue
		}

		batch.Touch(title)
		for _, msg := range s.harvestChat(ctx, h, spent, logger) {
			batch.Add(title, msg)
		}
		s.bestEffort(ctx, "close chat", s.opts.Timeouts.CloseChatWait, func(ctx context.Context) error {
			return s.closeChat(ctx, h)
		})
	}

	s.logger.Info("Harvest finished", zap.Int("chats", len(batch)), zap.Int("messages", batch.Count()))
	return batch, nil
}

// harvestChat reads the unread rows of the open chat.
func (s *Session) harvestChat(ctx context.Context, h browser.Handle, spent func() bool, logger *zap.Logger) []schemas.Message {
	rows := s.unreadRows(ctx, h, logger)
	var out []schemas.Message
	for _, row := range rows {
		if spent() {
			break
		}
		if msg, ok := s.readRow(ctx, h, row, logger); ok {
			out = append(out, msg)
		}
	}
	return out
}

// unreadRows returns the incoming rows below the unread marker, or every
// rendered incoming row when the chat shows no marker.
func (s *Session) unreadRows(ctx context.Context, h browser.Handle, logger *zap.Logger) []browser.Element {
	anchor, err := s.waitFor(ctx, h, selectors.UnreadAnchor, s.opts.Timeouts.AnchorWait, false)
	if err == nil {
		rows, err := anchor.FindAll(ctx, s.sel.XPath(selectors.MessagesAfter))
		if err != nil {
			logger.Debug("Failed to read rows after the unread marker", zap.Error(err))
			return nil
		}
		return rows
	}

	logger.Debug("No unread marker, reading every incoming row")
	rows, err := h.FindAll(ctx, s.sel.XPath(selectors.MessageIn))
	if err != nil {
		logger.Debug("Failed to read incoming rows", zap.Error(err))
		return nil
	}
	return rows
}

// readRow turns one row into a message. ok is false for rows to skip.
func (s *Session) readRow(ctx context.Context, h browser.Handle, row browser.Element, logger *zap.Logger) (schemas.Message, bool) {
	sender := s.senderOf(ctx, row)
	kind, control, ok := s.classify(ctx, row)
	if !ok {
		return schemas.Message{}, false
	}
	msg := schemas.NewMessage(kind, sender, s.now())

	switch kind {
	case schemas.MessageText:
		text, err := control.Text(ctx)
		text = strings.TrimSpace(text)
		if err != nil || text == "" {
			return schemas.Message{}, false
		}
		msg.Text = text

	case schemas.MessageAudio:
		s.fillDownload(&msg, logger, func() (string, error) {
			return s.downloadViaMenu(ctx, h, control)
		}, "audio", ".ogg")

	case schemas.MessageImage:
		s.fillDownload(&msg, logger, func() (string, error) {
			return s.downloadViaMenu(ctx, h, control)
		}, "image", ".png")

	case schemas.MessageFile:
		msg.FileType = s.fileType(ctx, row)
		msg.FileSize = s.fileSize(ctx, row)
		s.fillDownload(&msg, logger, func() (string, error) {
			return s.downloadFile(ctx, control)
		}, "file", "")
	}
	return msg, true
}

// fillDownload runs fetch and claims the downloaded file under a unique name.
// Failures are recorded on the message instead of being returned.
func (s *Session) fillDownload(msg *schemas.Message, logger *zap.Logger, fetch func() (string, error), prefix, defaultExt string) {
	name, err := fetch()
	if err == nil {
		msg.FileName, msg.FilePath, err = s.downloads.Claim(name, prefix, defaultExt)
	}
	if err != nil {
		logger.Warn("Download failed", zap.String("type", string(msg.Type)), zap.Error(err))
		msg.Error = fmt.Sprintf("failed to download %s: %v", msg.Type, err)
	}
}

// downloadViaMenu hovers the media control, picks Download from its context
// menu and waits for a new file to complete.
func (s *Session) downloadViaMenu(ctx context.Context, h browser.Handle, control browser.Element) (string, error) {
	before, err := s.downloads.Snapshot()
	if err != nil {
		return "", err
	}
	if err := control.Hover(ctx); err != nil {
		return "", fmt.Errorf("failed to hover: %w", err)
	}
	if err := s.settle(ctx); err != nil {
		return "", err
	}
	wait := s.opts.Timeouts.ContextMenuWait
	if err := s.click(ctx, h, selectors.ContextMenu, wait); err != nil {
		return "", err
	}
	if err := s.click(ctx, h, selectors.DownloadOption, wait); err != nil {
		return "", err
	}
	return s.downloads.WaitForNew(ctx, before, s.opts.Timeouts.Download)
}

// downloadFile clicks a document's download control and waits for the file
// named in its title, or the renamed copy Chrome writes next to a leftover
// file of that name, to finish.
func (s *Session) downloadFile(ctx context.Context, control browser.Element) (string, error) {
	name := unknownFileName
	if title, ok, err := control.Attribute(ctx, "title"); err == nil && ok {
		if parsed, ok := s.sel.DownloadFileName(title); ok {
			name = parsed
		}
	}
	before, err := s.downloads.Snapshot()
	if err != nil {
		return "", err
	}
	if err := control.Click(ctx); err != nil {
		return "", fmt.Errorf("failed to start download: %w", err)
	}
	return s.downloads.WaitForFile(ctx, before, name, s.opts.Timeouts.Download)
}

func (s *Session) fileType(ctx context.Context, row browser.Element) string {
	el, ok := s.first(ctx, row, selectors.FileType)
	if !ok {
		return "unknown"
	}
	if title, ok, err := el.Attribute(ctx, "title"); err == nil && ok && title != "" {
		return title
	}
	if text, err := el.Text(ctx); err == nil && strings.TrimSpace(text) != "" {
		return strings.TrimSpace(text)
	}
	return "unknown"
}

func (s *Session) fileSize(ctx context.Context, row browser.Element) string {
	el, ok := s.first(ctx, row, selectors.FileSize)
	if !ok {
		return "unknown"
	}
	if text, err := el.Text(ctx); err == nil && strings.TrimSpace(text) != "" {
		return strings.TrimSpace(text)
	}
	return "unknown"
}
