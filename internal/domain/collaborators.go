package domain

import "context"

// PairingMeta is the extra context stored alongside a pairing request.
type PairingMeta struct {
	SenderAddress  string
	ConversationID string
}

// PairingStore persists pairing requests and the approved-sender allowlist.
// Implementations must key requests by (channel, senderID, accountID) and
// create at most one request per key until it is approved.
type PairingStore interface {
	// ReadAllowlist returns approved sender ids for the channel/account pair.
	ReadAllowlist(ctx context.Context, channel, accountID string) ([]string, error)
	// Upsert returns the pairing code for the sender, creating a request if
	// none is pending. created reports whether this call created it.
	Upsert(ctx context.Context, channel, senderID, accountID string, meta PairingMeta) (code string, created bool, err error)
	// BuildReply renders the one-time pairing instruction message.
	BuildReply(channel, idLine, code string) string
}

// ActivityEvent records one message crossing the endpoint.
type ActivityEvent struct {
	Channel   string
	AccountID string
	Direction string // inbound | outbound
}

// ActivityRecorder persists activity events.
type ActivityRecorder interface {
	Record(ctx context.Context, ev ActivityEvent) error
}

// Responder consumes an accepted message envelope and produces zero or more
// outbound payloads through deliver. Delivery errors are the caller's to
// report; they must not abort the responder run.
type Responder interface {
	Dispatch(ctx context.Context, env Envelope, deliver func(OutboundPayload) error) error
}
