package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"walletbot/internal/account"
	"walletbot/internal/config"
	"walletbot/internal/domain"
	"walletbot/internal/gate"
	"walletbot/internal/responder"
	"walletbot/internal/session"
	"walletbot/internal/store"
	"walletbot/internal/transport"

	"github.com/spf13/cobra"
)

// pairingChannel is the store/activity channel key for the wallet transport.
const pairingChannel = "wallet"

// gateHandler adapts *gate.Gate to session.Handler: the two packages declare
// structurally identical Outbound interfaces, which Go treats as distinct
// types in method signatures.
type gateHandler struct {
	*gate.Gate
}

func (h gateHandler) Handle(ctx context.Context, accountID string, out session.Outbound, msg domain.InboundMessage) {
	h.Gate.Handle(ctx, accountID, out, msg)
}

func daemonCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Run the messaging endpoint for all enabled accounts",
		RunE:  runDaemon,
	}
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	if !cfg.Channel.Enabled {
		return fmt.Errorf("channel is disabled; set channel.enabled in %s", cfgPath)
	}

	setLogLevel(cfg.General.LogLevel)

	ids := account.ListIDs(cfg)
	if len(ids) == 0 {
		return fmt.Errorf("no accounts configured; run 'walletbot init' and set secrets")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := store.New(cfg.General.DBPath, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	// Config is re-read from disk per resolution so policy edits apply to
	// running accounts without a restart. A load failure keeps the last
	// good snapshot.
	var (
		cfgMu   sync.RWMutex
		current = cfg
	)
	provider := func() *config.Config {
		if fresh, err := config.Load(cfgPath); err == nil {
			cfgMu.Lock()
			current = fresh
			cfgMu.Unlock()
		}
		cfgMu.RLock()
		defer cfgMu.RUnlock()
		return current
	}

	errSink := func(label string, err error) {
		logger.Error("background error", "context", label, "err", err)
	}

	g := gate.New(gate.Config{
		Channel:   pairingChannel,
		Provider:  provider,
		Store:     db,
		Activity:  db,
		Responder: responder.NewWebhook(cfg.General.AgentURL, logger),
		Logger:    logger,
		ErrSink:   errSink,
	})

	var manager *session.Manager
	manager = session.NewManager(session.Config{
		Provider: transport.NewProvider(cfg.Channel.RelayURL, logger),
		Handler:  gateHandler{g},
		Logger:   logger,
		ErrSink:  errSink,
		OnEstablished: func(accountID string, s domain.Session) {
			logger.Info("account connected",
				"account", accountID,
				"address", s.Address(),
				"connected", manager.ConnectedAccounts(),
			)
		},
	})

	var wg sync.WaitGroup
	started := 0
	for _, id := range ids {
		acct := account.Resolve(cfg, id)
		switch {
		case !acct.Enabled:
			logger.Info("account disabled, skipping", "account", id)
			continue
		case !acct.Configured:
			logger.Warn("account not configured, skipping",
				"account", id,
				"wallet_key", acct.WalletKeySource,
				"session_key", acct.SessionKeySource,
			)
			continue
		}

		started++
		wg.Add(1)
		go func(acct account.Resolved) {
			defer wg.Done()
			if err := manager.Run(ctx, acct); err != nil {
				logger.Error("account session ended", "account", acct.ID, "err", err)
			}
		}(acct)
	}

	if started == 0 {
		return fmt.Errorf("no enabled, configured accounts to run")
	}

	logger.Info("walletbot daemon running", "version", version, "accounts", started)
	wg.Wait()
	return nil
}

func setLogLevel(level string) {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}
