// Package gate decides, per inbound message, whether a sender may reach
// the responder: direct and group trust policies, allowlist merging, the
// pairing bootstrap flow and command authorization.
package gate

import (
	"context"
	"fmt"
	"log/slog"

	"walletbot/internal/account"
	"walletbot/internal/allowlist"
	"walletbot/internal/config"
	"walletbot/internal/domain"
)

// ErrorSink receives failures that must not abort message processing.
type ErrorSink func(label string, err error)

// Outbound is the subset of a transport session the gate replies through.
type Outbound interface {
	SendText(ctx context.Context, conversationID, text string) (string, error)
	SendReply(ctx context.Context, conversationID, text, replyToID string) (string, error)
}

// Config wires a Gate.
type Config struct {
	// Channel is the pairing-store channel key for this transport.
	Channel string
	// Provider returns the live configuration; called per message so config
	// edits take effect without a restart.
	Provider  func() *config.Config
	Store     domain.PairingStore
	Activity  domain.ActivityRecorder
	Responder domain.Responder
	Logger    *slog.Logger
	ErrSink   ErrorSink
}

// Gate is the per-message policy state machine. It holds no state of its
// own beyond wiring; everything persistent lives in the pairing store.
type Gate struct {
	channel   string
	provider  func() *config.Config
	store     domain.PairingStore
	activity  domain.ActivityRecorder
	responder domain.Responder
	logger    *slog.Logger
	errSink   ErrorSink
}

func New(cfg Config) *Gate {
	sink := cfg.ErrSink
	if sink == nil {
		sink = func(label string, err error) {
			cfg.Logger.Error("unhandled gate error", "context", label, "err", err)
		}
	}
	return &Gate{
		channel:   cfg.Channel,
		provider:  cfg.Provider,
		store:     cfg.Store,
		activity:  cfg.Activity,
		responder: cfg.Responder,
		logger:    cfg.Logger,
		errSink:   sink,
	}
}

// Handle processes one inbound message end to end. It never panics out and
// never returns an error: one message's failure must not affect the next.
func (g *Gate) Handle(ctx context.Context, accountID string, out Outbound, msg domain.InboundMessage) {
	defer func() {
		if r := recover(); r != nil {
			g.errSink("message handler", fmt.Errorf("panic: %v", r))
		}
	}()

	acct := account.Resolve(g.provider(), accountID)
	senderID := allowlist.NormalizeEntry(msg.SenderAddress)
	if senderID == "" {
		senderID = allowlist.NormalizeEntry(msg.SenderInboxID)
	}

	var (
		policy    string
		entries   []string
		allowText bool
	)
	switch msg.Kind {
	case domain.KindGroup:
		policy = policyOrDefault(acct.Settings.GroupPolicy, "allowlist")
		entries = g.effectiveAllowlist(ctx, acct.Settings.GroupAllow, accountID)
		allowText = acct.Settings.Commands.AllowTextGroupEnabled()
	default:
		policy = policyOrDefault(acct.Settings.DMPolicy, "pairing")
		entries = g.effectiveAllowlist(ctx, acct.Settings.DMAllow, accountID)
		allowText = acct.Settings.Commands.AllowTextDMEnabled()
	}
	verdict := allowlist.Match(entries, senderID)

	switch {
	case policy == "disabled":
		g.logger.Debug("message dropped: surface disabled",
			"account", accountID, "kind", msg.Kind)
		return
	case policy == "open":
		// proceeds regardless of the allowlist
	case verdict.Allowed:
		// allowlist or pairing with a recognized sender
	case policy == "pairing" && msg.Kind == domain.KindDirect:
		g.bootstrapPairing(ctx, acct, out, msg, senderID)
		return
	default:
		// allowlist policy, sender not recognized: silent drop
		g.logger.Debug("message dropped: sender not allowed",
			"account", accountID, "kind", msg.Kind, "sender", senderID)
		return
	}

	gateRes := EvaluateCommandGate(CommandGateParams{
		UseAccessGroups:   acct.Settings.Commands.UseAccessGroupsEnabled(),
		Authorizers:       entries,
		AllowTextCommands: allowText,
		HasControlCommand: HasControlCommand(msg.Text),
		SenderMatched:     verdict.Allowed,
	})
	if gateRes.ShouldBlock {
		g.logger.Info("command blocked",
			"account", accountID, "sender", senderID, "kind", msg.Kind)
		return
	}

	g.dispatch(ctx, acct, out, msg, gateRes.CommandAuthorized)
}

// effectiveAllowlist merges configured entries with the persisted approvals.
// A store read failure degrades to the configured entries alone; gating is
// never aborted by it.
func (g *Gate) effectiveAllowlist(ctx context.Context, configured []string, accountID string) []string {
	persisted, err := g.store.ReadAllowlist(ctx, g.channel, accountID)
	if err != nil {
		g.logger.Warn("pairing store read failed, using configured allowlist only",
			"account", accountID, "err", err)
		persisted = nil
	}
	return allowlist.Union(configured, persisted)
}

// bootstrapPairing creates (or finds) the sender's pairing request and, on
// first creation, replies with the one-time code. The message itself is not
// dispatched; pairing is bootstrap only.
func (g *Gate) bootstrapPairing(ctx context.Context, acct account.Resolved, out Outbound, msg domain.InboundMessage, senderID string) {
	code, created, err := g.store.Upsert(ctx, g.channel, senderID, acct.ID, domain.PairingMeta{
		SenderAddress:  msg.SenderAddress,
		ConversationID: msg.ConversationID,
	})
	if err != nil {
		g.errSink("pairing upsert", err)
		return
	}
	if !created {
		// Code already issued for this sender; stay silent until approved.
		return
	}

	idLine := fmt.Sprintf("Sender: %s", senderID)
	if msg.SenderAddress != "" && msg.SenderInboxID != "" {
		idLine = fmt.Sprintf("Sender: %s (inbox %s)", senderID, msg.SenderInboxID)
	}
	reply := g.store.BuildReply(g.channel, idLine, code)

	if _, err := out.SendReply(ctx, msg.ConversationID, reply, msg.MessageID); err != nil {
		g.errSink("pairing reply", err)
	} else if err := g.activity.Record(ctx, domain.ActivityEvent{
		Channel: g.channel, AccountID: acct.ID, Direction: "outbound",
	}); err != nil {
		g.errSink("activity record", err)
	}
}

// dispatch hands the accepted message to the responder and delivers its
// payloads. Each external call is guarded independently.
func (g *Gate) dispatch(ctx context.Context, acct account.Resolved, out Outbound, msg domain.InboundMessage, commandAuthorized bool) {
	if err := g.activity.Record(ctx, domain.ActivityEvent{
		Channel: g.channel, AccountID: acct.ID, Direction: "inbound",
	}); err != nil {
		g.errSink("activity record", err)
	}

	env := domain.Envelope{
		AccountID:         acct.ID,
		SenderAddress:     msg.SenderAddress,
		SenderInboxID:     msg.SenderInboxID,
		ConversationID:    msg.ConversationID,
		RouteKey:          fmt.Sprintf("%s:%s:%s", g.channel, acct.ID, msg.ConversationID),
		Kind:              msg.Kind,
		Text:              msg.Text,
		MessageID:         msg.MessageID,
		ReplyToID:         msg.ReplyToID,
		ReplyToText:       msg.ReplyToText,
		CommandAuthorized: commandAuthorized,
	}

	deliver := func(p domain.OutboundPayload) error {
		var err error
		if p.ReplyToID != "" {
			_, err = out.SendReply(ctx, msg.ConversationID, p.Text, p.ReplyToID)
		} else {
			_, err = out.SendText(ctx, msg.ConversationID, p.Text)
		}
		if err != nil {
			g.errSink("reply delivery", err)
			return err
		}
		if err := g.activity.Record(ctx, domain.ActivityEvent{
			Channel: g.channel, AccountID: acct.ID, Direction: "outbound",
		}); err != nil {
			g.errSink("activity record", err)
		}
		return nil
	}

	if err := g.responder.Dispatch(ctx, env, deliver); err != nil {
		g.errSink("responder dispatch", err)
	}
}

// ConsentAllowed is the transport-level auto-consent predicate for new
// direct conversations. It consults the same live policy the message gate
// uses so the two layers stay consistent.
func (g *Gate) ConsentAllowed(ctx context.Context, accountID, senderAddress string) bool {
	acct := account.Resolve(g.provider(), accountID)
	switch policyOrDefault(acct.Settings.DMPolicy, "pairing") {
	case "disabled":
		return false
	case "allowlist":
		entries := g.effectiveAllowlist(ctx, acct.Settings.DMAllow, accountID)
		return allowlist.Match(entries, senderAddress).Allowed
	default:
		// open and pairing accept the conversation at the transport level;
		// message-level policy still governs dispatch.
		return true
	}
}

func policyOrDefault(p, def string) string {
	if p == "" {
		return def
	}
	return p
}
