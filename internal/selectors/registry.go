// Package selectors maps logical UI element names to XPath expressions.
//
// The messenger UI changes without notice, so the expressions are grouped into
// versioned snapshots. A Registry is one snapshot with optional per-entry
// overrides applied on top; it holds data only.
package selectors

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Name is the logical name of a UI element.
type Name string

// Login surface.
const (
	QRCanvas Name = "qr_canvas"
)

// Chat list.
const (
	ChatList    Name = "chat_list"
	ChatItem    Name = "chat_item"
	ChatTitle   Name = "chat_title"
	UnreadBadge Name = "unread_badge"
)

// Open conversation, incoming side.
const (
	UnreadAnchor       Name = "unread_anchor"
	MessagesAfter      Name = "messages_after_anchor"
	MessageIn          Name = "message_in"
	MessageMeta        Name = "message_meta"
	MessageSender      Name = "message_sender"
	AudioButton        Name = "audio_button"
	FileDownloadButton Name = "file_download_button"
	FileType           Name = "file_type"
	FileSize           Name = "file_size"
	Image              Name = "image"
	Text               Name = "text"
	ContextMenu        Name = "context_menu"
	DownloadOption     Name = "download_option"
)

// Open conversation, outgoing side and chat controls.
const (
	NewChatButton  Name = "new_chat_button"
	SearchInput    Name = "search_input"
	MessageInput   Name = "message_input"
	SendButton     Name = "send_button"
	AttachButton   Name = "attach_button"
	FileInput      Name = "file_input"
	FileSendButton Name = "file_send_button"
	MenuButton     Name = "menu_button"
	CloseChat      Name = "close_chat"
)

// required lists every name a snapshot must define.
var required = []Name{
	QRCanvas,
	ChatList, ChatItem, ChatTitle, UnreadBadge,
	UnreadAnchor, MessagesAfter, MessageIn, MessageMeta, MessageSender,
	AudioButton, FileDownloadButton, FileType, FileSize, Image, Text,
	ContextMenu, DownloadOption,
	NewChatButton, SearchInput, MessageInput, SendButton,
	AttachButton, FileInput, FileSendButton, MenuButton, CloseChat,
}

// Snapshot is the selector table for one rendition of the messenger UI.
type Snapshot struct {
	Version string
	XPaths  map[Name]string
	// DownloadTitle extracts the file name from a download control's title
	// attribute. Its first capture group is the name.
	DownloadTitle *regexp.Regexp
}

var snapshots = map[string]Snapshot{}

// register adds a snapshot at init time. Snapshots are immutable afterwards.
func register(s Snapshot) {
	if _, dup := snapshots[s.Version]; dup {
		panic("selectors: duplicate snapshot " + s.Version)
	}
	snapshots[s.Version] = s
}

// Versions returns the registered snapshot versions in sorted order.
func Versions() []string {
	out := make([]string, 0, len(snapshots))
	for v := range snapshots {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// Registry resolves logical names against one snapshot.
type Registry struct {
	version       string
	xpaths        map[Name]string
	downloadTitle *regexp.Regexp
}

// New builds a registry from the named snapshot, applying overrides keyed by
// logical name. Unknown versions, unknown override names and empty
// expressions are rejected.
func New(version string, overrides map[string]string) (*Registry, error) {
	snap, ok := snapshots[version]
	if !ok {
		return nil, fmt.Errorf("unknown selector version %q (known: %s)", version, strings.Join(Versions(), ", "))
	}

	xpaths := make(map[Name]string, len(snap.XPaths))
	for name, expr := range snap.XPaths {
		xpaths[name] = expr
	}

	known := make(map[Name]bool, len(required))
	for _, name := range required {
		known[name] = true
	}
	for key, expr := range overrides {
		name := Name(key)
		if !known[name] {
			return nil, fmt.Errorf("selector override %q does not name a known element", key)
		}
		xpaths[name] = expr
	}

	for _, name := range required {
		if strings.TrimSpace(xpaths[name]) == "" {
			return nil, fmt.Errorf("selector %q is empty in version %q", name, version)
		}
	}

	return &Registry{
		version:       version,
		xpaths:        xpaths,
		downloadTitle: snap.DownloadTitle,
	}, nil
}

// MustNew is New for statically known arguments. It panics on error.
func MustNew(version string) *Registry {
	r, err := New(version, nil)
	if err != nil {
		panic(err)
	}
	return r
}

// Version returns the snapshot version the registry was built from.
func (r *Registry) Version() string { return r.version }

// XPath returns the expression for name. Every required name is guaranteed
// to resolve once New succeeded.
func (r *Registry) XPath(name Name) string {
	return r.xpaths[name]
}

// DownloadFileName extracts the file name from a download control's title.
func (r *Registry) DownloadFileName(title string) (string, bool) {
	if r.downloadTitle == nil {
		return "", false
	}
	m := r.downloadTitle.FindStringSubmatch(title)
	if len(m) < 2 || m[1] == "" {
		return "", false
	}
	return m[1], true
}
