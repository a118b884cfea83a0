package schemas

import "time"

// -- Message Models --
// These types describe what a harvesting pass observed in the messenger UI.

// MessageType tags the variant carried by a Message.
type MessageType string

const (
	MessageText  MessageType = "text"
	MessageImage MessageType = "image"
	MessageAudio MessageType = "audio"
	MessageFile  MessageType = "file"
)

// UnknownSender is used when the sender cannot be parsed from a message row.
const UnknownSender = "Unknown"

// Message is one incoming message observed during a harvest.
//
// Text messages carry Text. Image, audio and file messages carry FileName and
// FilePath once their download has been reconciled, or Error when it could not be.
// Timestamp is the local capture time, not the time the message was sent.
type Message struct {
	Type      MessageType `json:"type"`
	Sender    string      `json:"sender"`
	Timestamp time.Time   `json:"timestamp"`
	Time      string      `json:"time"`
	Date      string      `json:"date"`
	Text      string      `json:"message,omitempty"`
	FileName  string      `json:"file_name,omitempty"`
	FilePath  string      `json:"file_path,omitempty"`
	FileType  string      `json:"file_type,omitempty"`
	FileSize  string      `json:"file_size,omitempty"`
	Error     string      `json:"error,omitempty"`
}

// NewMessage stamps a message of the given type with the capture time.
func NewMessage(typ MessageType, sender string, capturedAt time.Time) Message {
	return Message{
		Type:      typ,
		Sender:    sender,
		Timestamp: capturedAt,
		Time:      capturedAt.Format("15:04:05"),
		Date:      capturedAt.Format("2006-01-02"),
	}
}

// Failed reports whether the message carries an error description instead of a payload.
func (m Message) Failed() bool {
	return m.Error != ""
}

// MessageBatch maps a chat title to the messages observed in that chat, in UI order.
// Chats rendered with the same title share one entry.
type MessageBatch map[string][]Message

// Add appends a message under the given chat title.
func (b MessageBatch) Add(chat string, msg Message) {
	b[chat] = append(b[chat], msg)
}

// Touch records chat as seen. A chat with no readable messages keeps an
// empty, non-nil entry so it encodes as [] rather than being absent.
func (b MessageBatch) Touch(chat string) {
	if _, ok := b[chat]; !ok {
		b[chat] = []Message{}
	}
}

// Count returns the total number of messages across all chats.
func (b MessageBatch) Count() int {
	n := 0
	for _, msgs := range b {
		n += len(msgs)
	}
	return n
}

// -- Session Results --

// LoginResult is returned by a login attempt. Exactly one of LoggedIn or QRCode is set.
type LoginResult struct {
	LoggedIn bool
	// QRCode is a PNG capture of the pairing code, to be scanned by a human.
	QRCode []byte
}

// Chat is an entry of the rendered chat list.
type Chat struct {
	Title  string `json:"chat"`
	Unread bool   `json:"unread"`
}
