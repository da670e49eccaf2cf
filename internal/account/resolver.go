// Package account resolves per-account credentials and merged policy
// settings from the layered configuration. Resolution is recomputed on
// every call so live config edits take effect immediately; nothing here
// is cached.
package account

import (
	"os"
	"sort"
	"strings"

	"walletbot/internal/config"

	"github.com/ethereum/go-ethereum/crypto"
)

// DefaultAccountID names the implicit account synthesized when no named
// accounts are configured but secret material is present.
const DefaultAccountID = "default"

// Source records which configuration layer a secret value came from.
type Source string

const (
	SourceFile        Source = "file"
	SourceInline      Source = "inline"
	SourceEnvironment Source = "environment"
	SourceNone        Source = "none"
)

// Resolved is a fully resolved account record. It is a value, rebuilt per
// call; callers must not hold one across messages.
type Resolved struct {
	ID         string
	Enabled    bool
	Configured bool // both secrets resolved to non-empty values

	WalletKey        string
	WalletKeySource  Source
	SessionKey       string
	SessionKeySource Source

	// Address is the lower-case 0x-prefixed wallet address, or "" when the
	// wallet key is absent or invalid.
	Address string

	Env         string
	StoragePath string
	Settings    config.Settings // channel defaults overlaid by account overrides
}

// ListIDs returns the account universe in stable order. A non-empty named
// accounts map defines it exactly; otherwise a single implicit default
// account exists iff any secret material is configured.
func ListIDs(cfg *config.Config) []string {
	if len(cfg.Accounts) > 0 {
		ids := make([]string, 0, len(cfg.Accounts))
		for id := range cfg.Accounts {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		return ids
	}
	if hasDefaultSecretMaterial(cfg) {
		return []string{DefaultAccountID}
	}
	return nil
}

// DefaultID returns the account id used when a caller names none.
func DefaultID(cfg *config.Config) string {
	ids := ListIDs(cfg)
	if len(ids) == 0 {
		return DefaultAccountID
	}
	for _, id := range ids {
		if id == DefaultAccountID {
			return id
		}
	}
	return ids[0]
}

// Resolve produces the resolved record for accountID (the default account
// when accountID is empty). Unknown named accounts resolve to an empty,
// unconfigured record rather than an error.
func Resolve(cfg *config.Config, accountID string) Resolved {
	if accountID == "" {
		accountID = DefaultID(cfg)
	}

	if len(cfg.Accounts) > 0 {
		acct, ok := cfg.Accounts[accountID]
		if !ok {
			return Resolved{
				ID:               accountID,
				WalletKeySource:  SourceNone,
				SessionKeySource: SourceNone,
				Settings:         cfg.Channel.Settings,
				Env:              cfg.Channel.Env,
				StoragePath:      cfg.Channel.StoragePath,
			}
		}
		return resolveNamed(cfg, accountID, acct)
	}

	return resolveDefault(cfg, accountID)
}

func resolveNamed(cfg *config.Config, id string, acct config.AccountConfig) Resolved {
	// Environment variables never apply to named accounts.
	walletKey, walletSrc := resolveSecret(acct.WalletKeyFile, acct.WalletKey, "")
	sessionKey, sessionSrc := resolveSecret(acct.SessionKeyFile, acct.SessionKey, "")

	merged := MergeSettings(cfg.Channel.Settings, acct.Settings)

	enabled := true
	if acct.Enabled != nil {
		enabled = *acct.Enabled
	}

	return Resolved{
		ID:               id,
		Enabled:          enabled,
		Configured:       walletKey != "" && sessionKey != "",
		WalletKey:        walletKey,
		WalletKeySource:  walletSrc,
		SessionKey:       sessionKey,
		SessionKeySource: sessionSrc,
		Address:          DeriveAddress(walletKey),
		Env:              merged.Env,
		StoragePath:      merged.StoragePath,
		Settings:         merged,
	}
}

func resolveDefault(cfg *config.Config, id string) Resolved {
	ch := cfg.Channel
	walletKey, walletSrc := resolveSecret(ch.WalletKeyFile, ch.WalletKey, config.EnvWalletKey)
	sessionKey, sessionSrc := resolveSecret(ch.SessionKeyFile, ch.SessionKey, config.EnvSessionKey)

	return Resolved{
		ID:               id,
		Enabled:          true,
		Configured:       walletKey != "" && sessionKey != "",
		WalletKey:        walletKey,
		WalletKeySource:  walletSrc,
		SessionKey:       sessionKey,
		SessionKeySource: sessionSrc,
		Address:          DeriveAddress(walletKey),
		Env:              ch.Env,
		StoragePath:      ch.StoragePath,
		Settings:         ch.Settings,
	}
}

// resolveSecret applies the provenance precedence: file reference, then
// inline value, then (when envVar is non-empty) the environment variable.
// An unreadable file resolves to an empty secret with source "none" — a
// local configuration defect, not a fatal error.
func resolveSecret(fileRef, inline, envVar string) (string, Source) {
	if fileRef != "" {
		data, err := os.ReadFile(config.ExpandPath(fileRef))
		if err != nil {
			return "", SourceNone
		}
		v := strings.TrimSpace(string(data))
		if v == "" {
			return "", SourceNone
		}
		return v, SourceFile
	}
	if inline != "" {
		return inline, SourceInline
	}
	if envVar != "" {
		if v := strings.TrimSpace(os.Getenv(envVar)); v != "" {
			return v, SourceEnvironment
		}
	}
	return "", SourceNone
}

// DeriveAddress derives the lower-case wallet address from a hex private
// key. Any format or curve error yields "" — an invalid key is reported
// through Resolved.Address/Configured, never as an error.
func DeriveAddress(walletKey string) string {
	key := strings.TrimPrefix(strings.TrimSpace(walletKey), "0x")
	if key == "" {
		return ""
	}
	priv, err := crypto.HexToECDSA(key)
	if err != nil {
		return ""
	}
	return strings.ToLower(crypto.PubkeyToAddress(priv.PublicKey).Hex())
}

func hasDefaultSecretMaterial(cfg *config.Config) bool {
	ch := cfg.Channel
	if ch.WalletKey != "" || ch.WalletKeyFile != "" || ch.SessionKey != "" || ch.SessionKeyFile != "" {
		return true
	}
	return os.Getenv(config.EnvWalletKey) != "" || os.Getenv(config.EnvSessionKey) != ""
}

// MergeSettings overlays account-level settings on channel-level defaults,
// field by field. A set field always wins; unset fields inherit.
func MergeSettings(def, over config.Settings) config.Settings {
	out := def
	if over.Env != "" {
		out.Env = over.Env
	}
	if over.StoragePath != "" {
		out.StoragePath = over.StoragePath
	}
	if over.DMPolicy != "" {
		out.DMPolicy = over.DMPolicy
	}
	if len(over.DMAllow) > 0 {
		out.DMAllow = over.DMAllow
	}
	if over.GroupPolicy != "" {
		out.GroupPolicy = over.GroupPolicy
	}
	if len(over.GroupAllow) > 0 {
		out.GroupAllow = over.GroupAllow
	}
	if over.Commands.UseAccessGroups != nil {
		out.Commands.UseAccessGroups = over.Commands.UseAccessGroups
	}
	if over.Commands.AllowTextDM != nil {
		out.Commands.AllowTextDM = over.Commands.AllowTextDM
	}
	if over.Commands.AllowTextGroup != nil {
		out.Commands.AllowTextGroup = over.Commands.AllowTextGroup
	}
	if over.Registration.TokenURI != "" {
		out.Registration.TokenURI = over.Registration.TokenURI
	}
	if len(over.Registration.Chains) > 0 {
		out.Registration.Chains = over.Registration.Chains
	}
	if len(over.Registration.RPCOverrides) > 0 {
		out.Registration.RPCOverrides = over.Registration.RPCOverrides
	}
	if len(over.Registration.RegistryOverrides) > 0 {
		out.Registration.RegistryOverrides = over.Registration.RegistryOverrides
	}
	return out
}
