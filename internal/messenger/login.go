package messenger

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/wabridge/api/schemas"
	"github.com/xkilldash9x/wabridge/internal/poll"
	"github.com/xkilldash9x/wabridge/internal/selectors"
)

// Login opens the messenger and waits for either the chat list (already
// logged in) or a plausible QR code. The QR code is returned as soon as it is
// captured; the caller shows it to a human and calls Login again to confirm.
func (s *Session) Login(ctx context.Context) (schemas.LoginResult, error) {
	ctx, unlock, err := s.acquireOpLock(ctx)
	if err != nil {
		return schemas.LoginResult{}, err
	}
	defer unlock()

	h, err := s.handleLocked(ctx, true, false)
	if err != nil {
		return schemas.LoginResult{}, err
	}
	h = s.bounded(h)
	defer s.bestEffort(ctx, "release page objects", s.opts.Timeouts.Liveness, h.Release)

	if err := h.Navigate(ctx, s.opts.URL); err != nil {
		return schemas.LoginResult{}, fmt.Errorf("failed to open %s: %w", s.opts.URL, err)
	}

	var result schemas.LoginResult
	policy := poll.Policy{Interval: s.opts.Timeouts.LoginPoll, MaxWait: s.opts.Timeouts.LoginMaxWait}
	err = poll.Until(ctx, policy, func(ctx context.Context) (bool, error) {
		if _, ok := s.first(ctx, h, selectors.ChatList); ok {
			s.bestEffort(ctx, "save cookies", s.opts.Timeouts.Liveness, func(ctx context.Context) error {
				return s.saveCookies(ctx, h)
			})
			result.LoggedIn = true
			return true, nil
		}

		canvas, ok := s.first(ctx, h, selectors.QRCanvas)
		if !ok {
			return false, nil
		}
		png, err := canvas.Screenshot(ctx)
		if err != nil {
			s.logger.Warn("Failed to capture QR code", zap.Error(err))
			return false, nil
		}
		if len(png) <= s.opts.UI.QRMinBytes {
			s.logger.Warn("QR capture is implausibly small, polling again", zap.Int("bytes", len(png)))
			return false, nil
		}
		result.QRCode = png
		return true, nil
	})
	if errors.Is(err, poll.ErrExhausted) {
		return schemas.LoginResult{}, fmt.Errorf("%w after %s", ErrLoginTimeout, s.opts.Timeouts.LoginMaxWait)
	}
	if err != nil {
		return schemas.LoginResult{}, err
	}

	if result.LoggedIn {
		s.logger.Info("Logged in")
	} else {
		s.logger.Info("QR code captured", zap.Int("bytes", len(result.QRCode)))
	}
	return result, nil
}
