package messenger

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/wabridge/api/schemas"
	"github.com/xkilldash9x/wabridge/internal/browser"
	"github.com/xkilldash9x/wabridge/internal/observability"
	"github.com/xkilldash9x/wabridge/internal/poll"
	"github.com/xkilldash9x/wabridge/internal/selectors"
)

// UnknownChat stands in for a chat whose title could not be read.
const UnknownChat = "Unknown Chat"

// SendMessage opens a conversation with target and sends text. The chat pane
// is closed afterwards whatever the outcome; a failure to close it is only
// logged.
func (s *Session) SendMessage(ctx context.Context, target, text string) error {
	if strings.TrimSpace(target) == "" {
		return fmt.Errorf("%w: empty recipient", ErrInvalidArgument)
	}
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("%w: empty message", ErrInvalidArgument)
	}

	ctx, unlock, err := s.acquireOpLock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	h, err := s.handleLocked(ctx, false, true)
	if err != nil {
		return err
	}
	h = s.bounded(h)
	defer s.bestEffort(ctx, "release page objects", s.opts.Timeouts.Liveness, h.Release)
	defer s.bestEffort(ctx, "close chat", s.opts.Timeouts.CloseChatWait, func(ctx context.Context) error {
		return s.closeChat(ctx, h)
	})

	if err := s.openConversation(ctx, h, target); err != nil {
		return err
	}

	wait := s.opts.Timeouts.ElementWait
	if err := s.click(ctx, h, selectors.MessageInput, wait); err != nil {
		return fmt.Errorf("message input: %w", err)
	}
	if err := s.typeText(ctx, h, text); err != nil {
		return fmt.Errorf("failed to type message: %w", err)
	}
	if err := s.settle(ctx); err != nil {
		return err
	}
	if err := s.click(ctx, h, selectors.SendButton, wait); err != nil {
		return fmt.Errorf("send button: %w", err)
	}

	s.logger.Info("Message sent", zap.String("to", target), zap.Int("length", len(text)))
	return nil
}

// SendFile opens a conversation with target and sends the local file at path.
// Chat pane handling matches SendMessage.
func (s *Session) SendFile(ctx context.Context, target, path string) error {
	if strings.TrimSpace(target) == "" {
		return fmt.Errorf("%w: empty recipient", ErrInvalidArgument)
	}
	abs, err := filepath.Abs(path)
	if err != nil || path == "" {
		return fmt.Errorf("%w: bad file path %q", ErrInvalidArgument, path)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%w: %s is not a regular file", ErrInvalidArgument, abs)
	}

	ctx, unlock, err := s.acquireOpLock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	h, err := s.handleLocked(ctx, false, true)
	if err != nil {
		return err
	}
	h = s.bounded(h)
	defer s.bestEffort(ctx, "release page objects", s.opts.Timeouts.Liveness, h.Release)
	defer s.bestEffort(ctx, "close chat", s.opts.Timeouts.CloseChatWait, func(ctx context.Context) error {
		return s.closeChat(ctx, h)
	})

	if err := s.openConversation(ctx, h, target); err != nil {
		return err
	}

	wait := s.opts.Timeouts.ElementWait
	if err := s.click(ctx, h, selectors.AttachButton, wait); err != nil {
		return fmt.Errorf("attach button: %w", err)
	}
	// The file input is never rendered, so only its presence is awaited.
	input, err := s.waitFor(ctx, h, selectors.FileInput, wait, false)
	if err != nil {
		return fmt.Errorf("file input: %w", err)
	}
	if err := input.SetFiles(ctx, []string{abs}); err != nil {
		return fmt.Errorf("failed to attach %s: %w", abs, err)
	}
	if err := s.settle(ctx); err != nil {
		return err
	}
	if err := s.click(ctx, h, selectors.FileSendButton, wait); err != nil {
		return fmt.Errorf("file send button: %w", err)
	}

	s.logger.Info("File sent", zap.String("to", target), zap.String("file", abs), zap.Int64("size", info.Size()))
	return nil
}

// CloseChat closes the conversation pane that is currently open.
func (s *Session) CloseChat(ctx context.Context) error {
	ctx, unlock, err := s.acquireOpLock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	h, err := s.handleLocked(ctx, false, true)
	if err != nil {
		return err
	}
	h = s.bounded(h)
	defer s.bestEffort(ctx, "release page objects", s.opts.Timeouts.Liveness, h.Release)
	return s.closeChat(ctx, h)
}

// Chats lists the rendered chat list entries.
func (s *Session) Chats(ctx context.Context) ([]schemas.Chat, error) {
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

	list, err := s.waitFor(ctx, h, selectors.ChatList, s.opts.Timeouts.ElementWait, false)
	if err != nil {
		return nil, fmt.Errorf("chat list: %w", err)
	}
	items, err := list.FindAll(ctx, s.sel.XPath(selectors.ChatItem))
	if err != nil {
		return nil, fmt.Errorf("failed to list chats: %w", err)
	}

	chats := make([]schemas.Chat, 0, len(items))
	for _, item := range items {
		_, unread := s.first(ctx, item, selectors.UnreadBadge)
		chats = append(chats, schemas.Chat{Title: s.chatTitle(ctx, item), Unread: unread})
	}
	return chats, nil
}

func (s *Session) closeChat(ctx context.Context, h browser.Handle) error {
	wait := s.opts.Timeouts.CloseChatWait
	if err := s.click(ctx, h, selectors.MenuButton, wait); err != nil {
		return fmt.Errorf("chat menu: %w", err)
	}
	if err := s.click(ctx, h, selectors.CloseChat, wait); err != nil {
		return fmt.Errorf("close chat option: %w", err)
	}
	return nil
}

// openConversation opens an already rendered chat whose title matches target,
// or else searches for target through the new-chat flow.
func (s *Session) openConversation(ctx context.Context, h browser.Handle, target string) error {
	if item, ok := s.findChat(ctx, h, target); ok {
		if err := s.openChatItem(ctx, item); err == nil {
			s.logger.Debug("Opened existing chat", observability.Chat(target))
			return nil
		}
		s.logger.Debug("Existing chat did not open, searching instead", observability.Chat(target))
	}

	if err := s.newChat(ctx, h, target); err != nil {
		return fmt.Errorf("%w %q: %w", ErrTargetResolution, target, err)
	}
	return nil
}

func (s *Session) findChat(ctx context.Context, h browser.Handle, target string) (browser.Element, bool) {
	list, ok := s.first(ctx, h, selectors.ChatList)
	if !ok {
		return nil, false
	}
	items, err := list.FindAll(ctx, s.sel.XPath(selectors.ChatItem))
	if err != nil {
		return nil, false
	}
	want := strings.TrimSpace(target)
	for _, item := range items {
		if strings.EqualFold(s.chatTitle(ctx, item), want) {
			return item, true
		}
	}
	return nil, false
}

// newChat drives the search flow: new chat, type the identifier, confirm.
// The conversation counts as open once its compose box is visible.
func (s *Session) newChat(ctx context.Context, h browser.Handle, target string) error {
	wait := s.opts.Timeouts.ElementWait
	if err := s.click(ctx, h, selectors.NewChatButton, wait); err != nil {
		return err
	}
	if err := s.click(ctx, h, selectors.SearchInput, wait); err != nil {
		return err
	}
	if err := s.typeText(ctx, h, target); err != nil {
		return fmt.Errorf("failed to type recipient: %w", err)
	}
	if err := s.settle(ctx); err != nil {
		return err
	}
	if err := h.PressEnter(ctx); err != nil {
		return fmt.Errorf("failed to confirm recipient: %w", err)
	}
	if _, err := s.waitFor(ctx, h, selectors.MessageInput, wait, true); err != nil {
		return err
	}
	return nil
}

// openChatItem clicks a chat list entry with a few quick retries.
func (s *Session) openChatItem(ctx context.Context, item browser.Element) error {
	policy := poll.Policy{
		Interval:    s.opts.Timeouts.ChatOpenBackoff,
		MaxAttempts: s.opts.Timeouts.ChatOpenAttempts,
	}
	var lastErr error
	err := poll.Until(ctx, policy, func(ctx context.Context) (bool, error) {
		if lastErr = item.Click(ctx); lastErr != nil {
			return false, nil
		}
		return true, nil
	})
	if err != nil {
		if lastErr != nil {
			return fmt.Errorf("chat did not open: %w", lastErr)
		}
		return err
	}
	return s.settle(ctx)
}

func (s *Session) chatTitle(ctx context.Context, item browser.Element) string {
	el, ok := s.first(ctx, item, selectors.ChatTitle)
	if !ok {
		return UnknownChat
	}
	if title, ok, err := el.Attribute(ctx, "title"); err == nil && ok && strings.TrimSpace(title) != "" {
		return strings.TrimSpace(title)
	}
	return UnknownChat
}
