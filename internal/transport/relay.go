// Package transport implements the relay-backed messaging session: a
// websocket client that speaks the relay's JSON frame protocol and
// satisfies the domain.Session contract.
package transport

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"walletbot/internal/account"
	"walletbot/internal/domain"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	eventBuffer    = 64
	requestTimeout = 10 * time.Second
)

// frame is the wire unit exchanged with the relay.
type frame struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`

	// hello
	Address string `json:"address,omitempty"`
	InboxID string `json:"inboxId,omitempty"`
	Env     string `json:"env,omitempty"`

	// send / reply / conversation / consent
	ConversationID string `json:"conversationId,omitempty"`
	PeerAddress    string `json:"peerAddress,omitempty"`
	Text           string `json:"text,omitempty"`
	ReplyTo        string `json:"replyTo,omitempty"`

	// inbound event
	Event *wireEvent `json:"event,omitempty"`

	// error
	Message string `json:"message,omitempty"`
}

type wireEvent struct {
	Kind            string `json:"kind"`
	MessageID       string `json:"messageId"`
	ConversationID  string `json:"conversationId"`
	Direct          bool   `json:"direct"`
	NewConversation bool   `json:"newConversation"`
	SenderAddress   string `json:"senderAddress,omitempty"`
	SenderInboxID   string `json:"senderInboxId"`
	Text            string `json:"text,omitempty"`
	ReplyTo         string `json:"replyTo,omitempty"`
	ReplyToText     string `json:"replyToText,omitempty"`
}

// Provider opens relay sessions against a fixed websocket endpoint.
type Provider struct {
	url    string
	logger *slog.Logger
}

func NewProvider(url string, logger *slog.Logger) *Provider {
	return &Provider{url: url, logger: logger}
}

// Open dials the relay and identifies with the account's derived address
// and inbox id.
func (p *Provider) Open(ctx context.Context, id domain.Identity) (domain.Session, error) {
	address := account.DeriveAddress(id.WalletKey)
	if address == "" {
		return nil, fmt.Errorf("open relay session: wallet key does not yield an address")
	}

	header := http.Header{}
	header.Set("X-Wallet-Address", address)
	header.Set("X-Wallet-Env", id.Env)

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, p.url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial relay %s: %w (status %d)", p.url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial relay %s: %w", p.url, err)
	}

	s := &relaySession{
		conn:    conn,
		address: address,
		inboxID: deriveInboxID(id.SessionKey, address),
		logger:  p.logger,
		events:  make(chan domain.Event, eventBuffer),
		errs:    make(chan error, 8),
		pending: make(map[string]chan frame),
	}

	if err := s.write(frame{Type: "hello", Address: address, InboxID: s.inboxID, Env: id.Env}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("relay hello: %w", err)
	}

	go s.readLoop()
	return s, nil
}

// deriveInboxID derives a stable inbox identifier from the session secret
// and address. Not a wallet key: just a routing handle for the mailbox.
func deriveInboxID(sessionKey, address string) string {
	sum := crypto.Keccak256([]byte(sessionKey), []byte(address))
	return hex.EncodeToString(sum[:16])
}

type relaySession struct {
	conn    *websocket.Conn
	address string
	inboxID string
	logger  *slog.Logger

	events chan domain.Event
	errs   chan error

	writeMu sync.Mutex // gorilla allows a single concurrent writer

	pendingMu sync.Mutex
	pending   map[string]chan frame

	closeOnce sync.Once
}

func (s *relaySession) Address() string             { return s.address }
func (s *relaySession) InboxID() string             { return s.inboxID }
func (s *relaySession) Events() <-chan domain.Event { return s.events }
func (s *relaySession) Errors() <-chan error        { return s.errs }

func (s *relaySession) SendText(ctx context.Context, conversationID, text string) (string, error) {
	id := uuid.NewString()
	err := s.write(frame{Type: "send", ID: id, ConversationID: conversationID, Text: text})
	if err != nil {
		return "", fmt.Errorf("send text: %w", err)
	}
	return id, nil
}

func (s *relaySession) SendReply(ctx context.Context, conversationID, text, replyToID string) (string, error) {
	id := uuid.NewString()
	err := s.write(frame{Type: "reply", ID: id, ConversationID: conversationID, Text: text, ReplyTo: replyToID})
	if err != nil {
		return "", fmt.Errorf("send reply: %w", err)
	}
	return id, nil
}

// NewConversation asks the relay for a direct conversation with the peer
// and waits for the acknowledgement carrying its id.
func (s *relaySession) NewConversation(ctx context.Context, peerAddress string) (string, error) {
	id := uuid.NewString()
	ack := make(chan frame, 1)

	s.pendingMu.Lock()
	s.pending[id] = ack
	s.pendingMu.Unlock()
	defer func() {
		s.pendingMu.Lock()
		delete(s.pending, id)
		s.pendingMu.Unlock()
	}()

	if err := s.write(frame{Type: "conversation", ID: id, PeerAddress: peerAddress}); err != nil {
		return "", fmt.Errorf("request conversation: %w", err)
	}

	timer := time.NewTimer(requestTimeout)
	defer timer.Stop()
	select {
	case f := <-ack:
		if f.Type == "error" {
			return "", fmt.Errorf("conversation with %s: %s", peerAddress, f.Message)
		}
		return f.ConversationID, nil
	case <-timer.C:
		return "", fmt.Errorf("conversation with %s: relay timeout", peerAddress)
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (s *relaySession) Allow(ctx context.Context, conversationID string) error {
	if err := s.write(frame{Type: "consent", ConversationID: conversationID}); err != nil {
		return fmt.Errorf("consent: %w", err)
	}
	return nil
}

func (s *relaySession) Close() error {
	s.closeOnce.Do(func() {
		// Best effort: the read loop shuts the channels down when the
		// connection drops.
		s.writeMu.Lock()
		s.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		s.writeMu.Unlock()
		s.conn.Close()
	})
	return nil
}

func (s *relaySession) write(f frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// readLoop pumps relay frames into the event and error channels until the
// connection drops, then closes both.
func (s *relaySession) readLoop() {
	defer close(s.events)
	defer close(s.errs)

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				select {
				case s.errs <- fmt.Errorf("relay read: %w", err):
				default:
				}
			}
			return
		}

		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			s.logger.Warn("relay sent malformed frame", "err", err)
			continue
		}

		switch f.Type {
		case "event":
			if f.Event == nil {
				continue
			}
			s.events <- toDomainEvent(*f.Event)
		case "conversation.ack", "error":
			if f.ID == "" {
				if f.Type == "error" {
					select {
					case s.errs <- fmt.Errorf("relay error: %s", f.Message):
					default:
					}
				}
				continue
			}
			s.pendingMu.Lock()
			ack := s.pending[f.ID]
			s.pendingMu.Unlock()
			if ack != nil {
				ack <- f
			}
		default:
			s.logger.Debug("relay frame ignored", "type", f.Type)
		}
	}
}

func toDomainEvent(w wireEvent) domain.Event {
	kind := domain.EventText
	switch strings.ToLower(w.Kind) {
	case "reply":
		kind = domain.EventReply
	case "richtext", "markdown":
		kind = domain.EventRichText
	}
	return domain.Event{
		Kind:            kind,
		MessageID:       w.MessageID,
		ConversationID:  w.ConversationID,
		Direct:          w.Direct,
		NewConversation: w.NewConversation,
		SenderAddress:   w.SenderAddress,
		SenderInboxID:   w.SenderInboxID,
		Text:            w.Text,
		ReplyToID:       w.ReplyTo,
		ReplyToText:     w.ReplyToText,
	}
}
