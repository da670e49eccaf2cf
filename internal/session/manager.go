// Package session owns the live transport sessions: one per account, with
// retried opens, self-echo filtering, event normalization and outbound
// send/reply primitives.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"walletbot/internal/account"
	"walletbot/internal/allowlist"
	"walletbot/internal/domain"
)

const (
	openAttempts  = 3
	openBaseDelay = 2 * time.Second
)

// Handler consumes normalized inbound messages for one account.
type Handler interface {
	Handle(ctx context.Context, accountID string, out Outbound, msg domain.InboundMessage)
	ConsentAllowed(ctx context.Context, accountID, senderAddress string) bool
}

// Outbound mirrors gate.Outbound; the manager hands sessions to the handler
// through it.
type Outbound interface {
	SendText(ctx context.Context, conversationID, text string) (string, error)
	SendReply(ctx context.Context, conversationID, text, replyToID string) (string, error)
}

// ErrorSink receives background failures tagged with a short context label.
type ErrorSink func(label string, err error)

// Config wires a Manager.
type Config struct {
	Provider domain.SessionProvider
	Handler  Handler
	Logger   *slog.Logger
	ErrSink  ErrorSink
	// OnEstablished fires once a session is open, before events flow.
	OnEstablished func(accountID string, s domain.Session)
}

// Manager bridges raw transport events into the policy gate and exposes
// outbound primitives. The account-id to session map is its only shared
// mutable state.
type Manager struct {
	provider      domain.SessionProvider
	handler       Handler
	logger        *slog.Logger
	errSink       ErrorSink
	onEstablished func(accountID string, s domain.Session)

	// baseDelay is the first retry wait; doubled per attempt. Tests shrink it.
	baseDelay time.Duration

	mu     sync.Mutex
	active map[string]domain.Session
}

func NewManager(cfg Config) *Manager {
	sink := cfg.ErrSink
	if sink == nil {
		sink = func(label string, err error) {
			cfg.Logger.Error("unhandled transport error", "context", label, "err", err)
		}
	}
	return &Manager{
		provider:      cfg.Provider,
		handler:       cfg.Handler,
		logger:        cfg.Logger,
		errSink:       sink,
		onEstablished: cfg.OnEstablished,
		baseDelay:     openBaseDelay,
		active:        make(map[string]domain.Session),
	}
}

// Run opens the account's session and processes its events sequentially
// until ctx is cancelled, then closes the session and releases the slot.
func (m *Manager) Run(ctx context.Context, acct account.Resolved) error {
	if err := m.reserve(acct.ID); err != nil {
		return err
	}
	released := false
	defer func() {
		if !released {
			m.release(acct.ID)
		}
	}()

	s, err := m.open(ctx, acct)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.active[acct.ID] = s
	m.mu.Unlock()
	defer func() {
		if err := s.Close(); err != nil {
			m.errSink("session close", err)
		}
		m.release(acct.ID)
		released = true
	}()

	m.logger.Info("session established",
		"account", acct.ID,
		"address", s.Address(),
		"env", acct.Env,
	)
	if m.onEstablished != nil {
		m.onEstablished(acct.ID, s)
	}

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("session stopping", "account", acct.ID)
			return nil
		case err, ok := <-s.Errors():
			if !ok {
				continue
			}
			m.errSink("transport "+acct.ID, err)
		case ev, ok := <-s.Events():
			if !ok {
				m.logger.Info("event stream closed", "account", acct.ID)
				return nil
			}
			m.handleEvent(ctx, acct.ID, s, ev)
		}
	}
}

// handleEvent filters, auto-consents and normalizes one raw event, then
// hands it to the policy gate. Runs on the single per-account consumer
// goroutine, so messages stay in arrival order.
func (m *Manager) handleEvent(ctx context.Context, accountID string, s domain.Session, ev domain.Event) {
	// Sends and receives share one subscription stream; drop our own echoes
	// before classification.
	if ev.SenderInboxID != "" && ev.SenderInboxID == s.InboxID() {
		return
	}
	if ev.SenderAddress != "" && strings.EqualFold(ev.SenderAddress, s.Address()) {
		return
	}

	if ev.NewConversation && ev.Direct {
		// Transport-level consent; unknown sender addresses default to
		// permissive, message-level policy still governs dispatch.
		if ev.SenderAddress == "" || m.handler.ConsentAllowed(ctx, accountID, ev.SenderAddress) {
			if err := s.Allow(ctx, ev.ConversationID); err != nil {
				m.errSink("conversation consent", err)
			}
		}
	}

	if strings.TrimSpace(ev.Text) == "" {
		// Covers reply events whose referenced content could not be
		// resolved as well as bare empty sends.
		return
	}

	kind := domain.KindGroup
	if ev.Direct {
		kind = domain.KindDirect
	}
	msg := domain.InboundMessage{
		SenderAddress:  strings.ToLower(ev.SenderAddress),
		SenderInboxID:  ev.SenderInboxID,
		ConversationID: ev.ConversationID,
		Kind:           kind,
		Text:           ev.Text,
		MessageID:      ev.MessageID,
	}
	if ev.Kind == domain.EventReply {
		msg.ReplyToID = ev.ReplyToID
		msg.ReplyToText = ev.ReplyToText
	}

	m.handler.Handle(ctx, accountID, s, msg)
}

// open attempts to open the transport session up to 3 times, waiting 2s
// then 4s between attempts, and returns the last error on final failure.
func (m *Manager) open(ctx context.Context, acct account.Resolved) (domain.Session, error) {
	var lastErr error
	for attempt := 1; attempt <= openAttempts; attempt++ {
		if attempt > 1 {
			delay := m.baseDelay << (attempt - 2)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		s, err := m.provider.Open(ctx, domain.Identity{
			AccountID:   acct.ID,
			WalletKey:   acct.WalletKey,
			SessionKey:  acct.SessionKey,
			Env:         acct.Env,
			StoragePath: acct.StoragePath,
		})
		if err == nil {
			return s, nil
		}
		lastErr = err
		m.logger.Warn("session open failed",
			"account", acct.ID, "attempt", attempt, "err", err)
	}
	return nil, fmt.Errorf("open session for account %s: %w", acct.ID, lastErr)
}

// SendText delivers text for an account. The destination may be a wallet
// address (a direct conversation is created on the fly) or an existing
// conversation id.
func (m *Manager) SendText(ctx context.Context, accountID, destination, text string) (string, error) {
	s, convID, err := m.resolveDestination(ctx, accountID, destination)
	if err != nil {
		return "", err
	}
	return s.SendText(ctx, convID, text)
}

// SendReply delivers a threaded reply. An empty reference id is a caller
// bug and fails fast.
func (m *Manager) SendReply(ctx context.Context, accountID, destination, text, replyToID string) (string, error) {
	if strings.TrimSpace(replyToID) == "" {
		return "", fmt.Errorf("send reply: empty reference message id")
	}
	s, convID, err := m.resolveDestination(ctx, accountID, destination)
	if err != nil {
		return "", err
	}
	return s.SendReply(ctx, convID, text, replyToID)
}

// ConnectedAccounts lists account ids with a live session, sorted.
func (m *Manager) ConnectedAccounts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.active))
	for id, s := range m.active {
		if s != nil {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// ActiveAddresses maps connected account ids to their session addresses.
func (m *Manager) ActiveAddresses() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string, len(m.active))
	for id, s := range m.active {
		if s != nil {
			out[id] = s.Address()
		}
	}
	return out
}

func (m *Manager) resolveDestination(ctx context.Context, accountID, destination string) (domain.Session, string, error) {
	m.mu.Lock()
	s := m.active[accountID]
	m.mu.Unlock()
	if s == nil {
		return nil, "", fmt.Errorf("no active session for account %s", accountID)
	}

	dest := allowlist.NormalizeEntry(destination)
	if allowlist.IsAddress(dest) {
		convID, err := s.NewConversation(ctx, dest)
		if err != nil {
			return nil, "", fmt.Errorf("open conversation with %s: %w", dest, err)
		}
		return s, convID, nil
	}
	return s, destination, nil
}

// reserve claims the account's slot; a second Run for the same account
// fails instead of racing the first.
func (m *Manager) reserve(accountID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.active[accountID]; exists {
		return fmt.Errorf("account %s already has an active session", accountID)
	}
	m.active[accountID] = nil
	return nil
}

func (m *Manager) release(accountID string) {
	m.mu.Lock()
	delete(m.active, accountID)
	m.mu.Unlock()
}
