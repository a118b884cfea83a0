package messenger

import (
	"errors"
	"fmt"
	"time"

	"github.com/xkilldash9x/wabridge/internal/download"
	"github.com/xkilldash9x/wabridge/internal/selectors"
)

var (
	// ErrHandleNotStarted means the operation needs a browser and none is running.
	ErrHandleNotStarted = errors.New("browser is not started for this account")
	// ErrHandleUnavailable means a browser exists but did not answer the liveness check.
	ErrHandleUnavailable = errors.New("browser is not responding")
	// ErrWrongContext means the browser is alive but not on the messenger page.
	ErrWrongContext = errors.New("browser is not on the messenger page")
	// ErrLoginTimeout means neither the chat list nor a QR code showed up in time.
	ErrLoginTimeout = errors.New("timed out waiting for login or QR code")
	// ErrElementTimeout matches every ElementTimeoutError.
	ErrElementTimeout = errors.New("element did not appear in time")
	// ErrDownloadTimeout means an expected download never completed.
	ErrDownloadTimeout = download.ErrTimeout
	// ErrSessionClosed is returned by a session the manager has already closed.
	ErrSessionClosed = errors.New("session was closed")
	// ErrNotFound is returned when closing an account that has no session.
	ErrNotFound = errors.New("no session for account")
	// ErrTargetResolution means the recipient could not be opened as a conversation.
	ErrTargetResolution = errors.New("could not open a conversation with the recipient")
	// ErrInvalidAccount rejects account ids that cannot name a directory.
	ErrInvalidAccount = errors.New("invalid account id")
	// ErrInvalidArgument rejects empty recipients, messages and file paths.
	ErrInvalidArgument = errors.New("invalid argument")
)

// ElementTimeoutError names the UI control that never appeared.
type ElementTimeoutError struct {
	Name selectors.Name
	Wait time.Duration
}

func (e *ElementTimeoutError) Error() string {
	return fmt.Sprintf("element %q did not appear within %s", e.Name, e.Wait)
}

// Is makes errors.Is(err, ErrElementTimeout) hold.
func (e *ElementTimeoutError) Is(target error) bool {
	return target == ErrElementTimeout
}
