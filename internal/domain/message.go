package domain

// ConversationKind distinguishes one-to-one from group conversations.
type ConversationKind string

const (
	KindDirect ConversationKind = "direct"
	KindGroup  ConversationKind = "group"
)

// InboundMessage is the normalized form of a transport event, built fresh
// per event and handed to the policy gate.
type InboundMessage struct {
	SenderAddress  string // wallet address, may be empty for inbox-only senders
	SenderInboxID  string // always present
	ConversationID string
	Kind           ConversationKind
	Text           string
	MessageID      string
	ReplyToID      string // set when the event was a threaded reply
	ReplyToText    string // referenced message text, if resolvable
}

// OutboundPayload is one unit of responder output to deliver back to the
// conversation the triggering message came from.
type OutboundPayload struct {
	Text      string `json:"text"`
	ReplyToID string `json:"replyTo,omitempty"`
}

// Envelope is the normalized context handed to the responder once a message
// has passed the policy gate.
type Envelope struct {
	AccountID         string           `json:"accountId"`
	SenderAddress     string           `json:"senderAddress,omitempty"`
	SenderInboxID     string           `json:"senderInboxId"`
	ConversationID    string           `json:"conversationId"`
	RouteKey          string           `json:"routeKey"`
	Kind              ConversationKind `json:"kind"`
	Text              string           `json:"text"`
	MessageID         string           `json:"messageId"`
	ReplyToID         string           `json:"replyToId,omitempty"`
	ReplyToText       string           `json:"replyToText,omitempty"`
	CommandAuthorized bool             `json:"commandAuthorized"`
}
