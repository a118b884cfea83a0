package browser

import (
	"context"
	"errors"
	"time"
)

// ErrClosed is returned by every operation on a handle after Close.
var ErrClosed = errors.New("browser handle is closed")

// Finder locates elements by XPath. On a Handle the expression is evaluated
// against the document; on an Element it is evaluated with the element as the
// context node, so relative expressions (".//span", "following::div") work.
type Finder interface {
	FindAll(ctx context.Context, xpath string) ([]Element, error)
}

// Element is a reference to one node in the live page.
type Element interface {
	Finder
	// Attribute returns the attribute value and whether it is present.
	Attribute(ctx context.Context, name string) (string, bool, error)
	// Text returns the rendered text of the element.
	Text(ctx context.Context) (string, error)
	Visible(ctx context.Context) (bool, error)
	Click(ctx context.Context) error
	Hover(ctx context.Context) error
	Focus(ctx context.Context) error
	// Screenshot captures the element's box as PNG.
	Screenshot(ctx context.Context) ([]byte, error)
	// SetFiles attaches local files to a file input element.
	SetFiles(ctx context.Context, paths []string) error
}

// Handle is the live automated-browser connection for one account.
type Handle interface {
	Finder
	// URL returns the current page location. It doubles as the liveness check.
	URL(ctx context.Context) (string, error)
	Navigate(ctx context.Context, url string) error
	// InsertText types text into the focused element.
	InsertText(ctx context.Context, text string) error
	PressEnter(ctx context.Context) error
	Cookies(ctx context.Context) ([]Cookie, error)
	// Release drops the remote references held for elements returned so far.
	// Elements obtained before the call must not be used afterwards.
	Release(ctx context.Context) error
	Close(ctx context.Context) error
}

// Launcher starts browser handles.
type Launcher interface {
	Launch(ctx context.Context, profile Profile) (Handle, error)
}

// Profile binds a handle to an account's on-disk state.
type Profile struct {
	Account     string
	UserDataDir string
	DownloadDir string
}

// Cookie is a browser cookie as persisted in the snapshot file.
type Cookie struct {
	Name     string    `json:"name"`
	Value    string    `json:"value"`
	Domain   string    `json:"domain"`
	Path     string    `json:"path"`
	Expires  time.Time `json:"expires,omitempty"`
	HTTPOnly bool      `json:"httpOnly"`
	Secure   bool      `json:"secure"`
	Session  bool      `json:"session"`
	SameSite string    `json:"sameSite,omitempty"`
}
