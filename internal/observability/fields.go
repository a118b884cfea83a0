package observability

import "go.uber.org/zap"

// Field keys shared by every component, so log lines of one account or chat
// can be filtered across the session, browser and HTTP layers.
const (
	KeyAccount = "account"
	KeyChat    = "chat"
)

// Account tags a log entry with the account id.
func Account(id string) zap.Field { return zap.String(KeyAccount, id) }

// Chat tags a log entry with a chat title.
func Chat(title string) zap.Field { return zap.String(KeyChat, title) }

// Component returns the child logger of one subsystem. A nil parent yields a
// no-op logger.
func Component(parent *zap.Logger, name string) *zap.Logger {
	if parent == nil {
		parent = zap.NewNop()
	}
	return parent.Named(name)
}

// ForAccount is Component with every entry tagged by the account.
func ForAccount(parent *zap.Logger, name, account string) *zap.Logger {
	return Component(parent, name).With(Account(account))
}
