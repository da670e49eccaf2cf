// Package store is the SQLite-backed persistence layer for pairing
// requests, the approved-sender allowlist and message activity.
package store

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"path/filepath"
	"time"

	"walletbot/internal/domain"

	_ "modernc.org/sqlite"
)

// Store implements domain.PairingStore and domain.ActivityRecorder on one
// SQLite database.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

func New(dbPath string, logger *slog.Logger) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Single connection: SQLite serializes writers anyway.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS pairing_requests (
		id             INTEGER PRIMARY KEY AUTOINCREMENT,
		channel        TEXT NOT NULL,
		sender_id      TEXT NOT NULL,
		account_id     TEXT NOT NULL,
		code           TEXT NOT NULL,
		sender_address TEXT,
		conversation_id TEXT,
		created_at     DATETIME DEFAULT CURRENT_TIMESTAMP,
		approved_at    DATETIME,
		UNIQUE(channel, sender_id, account_id)
	);
	CREATE INDEX IF NOT EXISTS idx_pairing_account ON pairing_requests(channel, account_id);

	CREATE TABLE IF NOT EXISTS message_activity (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		channel    TEXT NOT NULL,
		account_id TEXT NOT NULL,
		direction  TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_activity_account ON message_activity(account_id, created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *Store) Close() error {
	return s.db.Close()
}

// ReadAllowlist returns approved sender ids for the channel/account pair.
func (s *Store) ReadAllowlist(ctx context.Context, channel, accountID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT sender_id FROM pairing_requests
		 WHERE channel = ? AND account_id = ? AND approved_at IS NOT NULL
		 ORDER BY approved_at`,
		channel, accountID,
	)
	if err != nil {
		return nil, fmt.Errorf("read allowlist: %w", err)
	}
	defer rows.Close()

	var entries []string
	for rows.Next() {
		var sender string
		if err := rows.Scan(&sender); err != nil {
			return nil, fmt.Errorf("read allowlist: %w", err)
		}
		entries = append(entries, sender)
	}
	return entries, rows.Err()
}

// Upsert returns the pairing code for (channel, senderID, accountID),
// creating the request on first sight. An approved request is never
// re-created; its code is returned with created=false.
func (s *Store) Upsert(ctx context.Context, channel, senderID, accountID string, meta domain.PairingMeta) (string, bool, error) {
	var code string
	err := s.db.QueryRowContext(ctx,
		`SELECT code FROM pairing_requests
		 WHERE channel = ? AND sender_id = ? AND account_id = ?`,
		channel, senderID, accountID,
	).Scan(&code)
	if err == nil {
		return code, false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", false, fmt.Errorf("lookup pairing request: %w", err)
	}

	code = generateCode(6)
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO pairing_requests (channel, sender_id, account_id, code, sender_address, conversation_id)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		channel, senderID, accountID, code, meta.SenderAddress, meta.ConversationID,
	)
	if err != nil {
		return "", false, fmt.Errorf("create pairing request: %w", err)
	}

	s.logger.Info("pairing request created",
		"channel", channel,
		"account", accountID,
		"sender", senderID,
	)
	return code, true, nil
}

// BuildReply renders the one-time pairing instruction sent to the sender.
func (s *Store) BuildReply(channel, idLine, code string) string {
	return fmt.Sprintf(
		"Pairing required.\n%s\nApprove this sender with:\n\n  walletbot pair approve --channel %s --code %s",
		idLine, channel, code,
	)
}

// Approve marks the pending request with the given code as approved, which
// places its sender on the stored allowlist.
func (s *Store) Approve(ctx context.Context, channel, code string) (string, error) {
	var sender string
	err := s.db.QueryRowContext(ctx,
		`SELECT sender_id FROM pairing_requests
		 WHERE channel = ? AND code = ? AND approved_at IS NULL`,
		channel, code,
	).Scan(&sender)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("no pending pairing request with code %s", code)
	}
	if err != nil {
		return "", fmt.Errorf("approve pairing: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE pairing_requests SET approved_at = ? WHERE channel = ? AND code = ?`,
		time.Now(), channel, code,
	)
	if err != nil {
		return "", fmt.Errorf("approve pairing: %w", err)
	}
	s.logger.Info("pairing approved", "channel", channel, "sender", sender)
	return sender, nil
}

// Revoke removes a sender's pairing entirely (pending or approved).
func (s *Store) Revoke(ctx context.Context, channel, senderID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM pairing_requests WHERE channel = ? AND sender_id = ?`,
		channel, senderID,
	)
	return err
}

// PairingRequest is one row read back for the CLI listing.
type PairingRequest struct {
	Channel   string
	SenderID  string
	AccountID string
	Code      string
	Approved  bool
	CreatedAt time.Time
}

// ListPairings returns all pairing requests for a channel, pending first.
func (s *Store) ListPairings(ctx context.Context, channel string) ([]PairingRequest, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT sender_id, account_id, code, approved_at IS NOT NULL, created_at
		 FROM pairing_requests WHERE channel = ?
		 ORDER BY approved_at IS NOT NULL, created_at`,
		channel,
	)
	if err != nil {
		return nil, fmt.Errorf("list pairings: %w", err)
	}
	defer rows.Close()

	var out []PairingRequest
	for rows.Next() {
		p := PairingRequest{Channel: channel}
		if err := rows.Scan(&p.SenderID, &p.AccountID, &p.Code, &p.Approved, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("list pairings: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Record persists one activity event.
func (s *Store) Record(ctx context.Context, ev domain.ActivityEvent) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO message_activity (channel, account_id, direction) VALUES (?, ?, ?)`,
		ev.Channel, ev.AccountID, ev.Direction,
	)
	if err != nil {
		return fmt.Errorf("record activity: %w", err)
	}
	return nil
}

// ActivitySummary is per-account inbound/outbound counts.
type ActivitySummary struct {
	AccountID string
	Inbound   int
	Outbound  int
}

// ActivitySummaries aggregates activity counts per account since the cutoff.
func (s *Store) ActivitySummaries(ctx context.Context, since time.Time) ([]ActivitySummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT account_id,
		        SUM(direction = 'inbound'),
		        SUM(direction = 'outbound')
		 FROM message_activity WHERE created_at >= ?
		 GROUP BY account_id ORDER BY account_id`,
		since,
	)
	if err != nil {
		return nil, fmt.Errorf("activity summary: %w", err)
	}
	defer rows.Close()

	var out []ActivitySummary
	for rows.Next() {
		var a ActivitySummary
		if err := rows.Scan(&a.AccountID, &a.Inbound, &a.Outbound); err != nil {
			return nil, fmt.Errorf("activity summary: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// generateCode generates a cryptographically random numeric code.
func generateCode(length int) string {
	code := make([]byte, length)
	for i := range code {
		n, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			// Fallback to less secure but still functional
			code[i] = '0'
			continue
		}
		code[i] = byte('0') + byte(n.Int64())
	}
	return string(code)
}
