package domain

import "context"

// Identity carries the resolved credentials a transport session is opened with.
type Identity struct {
	AccountID   string
	WalletKey   string // hex private key
	SessionKey  string // mailbox/session encryption secret
	Env         string // local | dev | production
	StoragePath string
}

// EventKind is the raw transport event type before normalization.
type EventKind string

const (
	EventText     EventKind = "text"
	EventReply    EventKind = "reply"
	EventRichText EventKind = "richtext"
)

// Event is a raw inbound transport event. Reply events carry the referenced
// message id and, when the transport could resolve it, its text.
type Event struct {
	Kind            EventKind
	MessageID       string
	ConversationID  string
	Direct          bool
	NewConversation bool
	SenderAddress   string
	SenderInboxID   string
	Text            string
	ReplyToID       string
	ReplyToText     string
}

// Session is one live transport connection for a single account.
type Session interface {
	// Address returns this account's own wallet address (lower-case hex).
	Address() string
	// InboxID returns this account's transport inbox identifier.
	InboxID() string
	// Events yields inbound events in arrival order. Closed on session close.
	Events() <-chan Event
	// Errors yields background transport errors that are not tied to a call.
	Errors() <-chan error
	// SendText delivers plain text to an existing conversation.
	SendText(ctx context.Context, conversationID, text string) (string, error)
	// SendReply delivers text threaded under the referenced message.
	SendReply(ctx context.Context, conversationID, text, replyToID string) (string, error)
	// NewConversation opens (or finds) a direct conversation with a peer address.
	NewConversation(ctx context.Context, peerAddress string) (string, error)
	// Allow marks a conversation as consented at the transport level.
	Allow(ctx context.Context, conversationID string) error
	// Close tears the session down. Safe to call more than once.
	Close() error
}

// SessionProvider opens transport sessions. The lifecycle manager is the only
// caller; it owns retry and slot bookkeeping.
type SessionProvider interface {
	Open(ctx context.Context, id Identity) (Session, error)
}
