package account

import (
	"os"
	"path/filepath"
	"reflect"
	"regexp"
	"testing"

	"walletbot/internal/config"
)

// Well-known throwaway development key.
const (
	testKey     = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
	testAddress = "0x96216849c49358b10257cb55b28ea603c874b05e"
)

func boolPtr(b bool) *bool { return &b }

func TestListIDs_NamedAccountsWinOverEnv(t *testing.T) {
	t.Setenv(config.EnvWalletKey, testKey)
	t.Setenv(config.EnvSessionKey, "session-secret")

	cfg := config.Defaults()
	cfg.Accounts = map[string]config.AccountConfig{
		"ops":     {WalletKey: testKey, SessionKey: "s"},
		"support": {},
	}

	got := ListIDs(cfg)
	want := []string{"ops", "support"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ListIDs = %v, want %v (env vars must not add an implicit default)", got, want)
	}
}

func TestListIDs_ImplicitDefault(t *testing.T) {
	tests := []struct {
		name  string
		setup func(cfg *config.Config)
		want  int
	}{
		{"no secrets", func(cfg *config.Config) {}, 0},
		{"inline wallet key", func(cfg *config.Config) { cfg.Channel.WalletKey = testKey }, 1},
		{"file reference only", func(cfg *config.Config) { cfg.Channel.SessionKeyFile = "/nonexistent" }, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Defaults()
			tt.setup(cfg)
			if got := len(ListIDs(cfg)); got != tt.want {
				t.Errorf("len(ListIDs) = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestListIDs_EnvOnly(t *testing.T) {
	t.Setenv(config.EnvWalletKey, testKey)
	cfg := config.Defaults()
	got := ListIDs(cfg)
	if !reflect.DeepEqual(got, []string{DefaultAccountID}) {
		t.Errorf("ListIDs = %v, want [default]", got)
	}
}

func TestResolve_EmptyConfig(t *testing.T) {
	cfg := config.Defaults()
	acct := Resolve(cfg, "")

	if acct.Configured {
		t.Error("empty config must not resolve a configured account")
	}
	if acct.Address != "" {
		t.Errorf("Address = %q, want empty", acct.Address)
	}
	if acct.WalletKeySource != SourceNone || acct.SessionKeySource != SourceNone {
		t.Errorf("sources = %s/%s, want none/none", acct.WalletKeySource, acct.SessionKeySource)
	}
}

func TestResolve_AddressDerivation(t *testing.T) {
	tests := []struct {
		name      string
		walletKey string
		wantAddr  string
	}{
		{"valid key", testKey, testAddress},
		{"valid key with 0x prefix", "0x" + testKey, testAddress},
		{"invalid hex", "not-a-key", ""},
		{"truncated key", testKey[:20], ""},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Defaults()
			cfg.Channel.WalletKey = tt.walletKey
			cfg.Channel.SessionKey = "session-secret"

			acct := Resolve(cfg, "")
			if acct.Address != tt.wantAddr {
				t.Errorf("Address = %q, want %q", acct.Address, tt.wantAddr)
			}
			if tt.wantAddr != "" {
				if ok, _ := regexp.MatchString(`^0x[0-9a-f]{40}$`, acct.Address); !ok {
					t.Errorf("Address %q is not lower-case 0x hex", acct.Address)
				}
			}
		})
	}
}

func TestResolve_InvalidKeyStillConfigured(t *testing.T) {
	cfg := config.Defaults()
	cfg.Channel.WalletKey = "garbage"
	cfg.Channel.SessionKey = "session-secret"

	acct := Resolve(cfg, "")
	if !acct.Configured {
		t.Error("configured must only require non-empty secrets, not a valid key")
	}
	if acct.Address != "" {
		t.Errorf("Address = %q, want empty for invalid key", acct.Address)
	}
}

func TestResolve_FileProvenance(t *testing.T) {
	dir := t.TempDir()
	keyFile := filepath.Join(dir, "wallet.key")
	if err := os.WriteFile(keyFile, []byte(testKey+"\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg := config.Defaults()
	cfg.Channel.WalletKeyFile = keyFile
	cfg.Channel.WalletKey = "ignored-inline-value"
	cfg.Channel.SessionKey = "session-secret"

	acct := Resolve(cfg, "")
	if acct.WalletKeySource != SourceFile {
		t.Errorf("WalletKeySource = %s, want file (file wins over inline)", acct.WalletKeySource)
	}
	if acct.Address != testAddress {
		t.Errorf("Address = %q, want %q", acct.Address, testAddress)
	}
}

func TestResolve_UnreadableFileIsLocalFailure(t *testing.T) {
	cfg := config.Defaults()
	cfg.Channel.WalletKeyFile = filepath.Join(t.TempDir(), "missing.key")
	cfg.Channel.WalletKey = "fallback-not-used"
	cfg.Channel.SessionKey = "session-secret"

	acct := Resolve(cfg, "")
	if acct.WalletKeySource != SourceNone {
		t.Errorf("WalletKeySource = %s, want none for unreadable file", acct.WalletKeySource)
	}
	if acct.Configured {
		t.Error("account with unresolvable wallet secret must not be configured")
	}
	if acct.SessionKeySource != SourceInline {
		t.Errorf("SessionKeySource = %s, want inline", acct.SessionKeySource)
	}
}

func TestResolve_EnvOnlyForDefaultAccount(t *testing.T) {
	t.Setenv(config.EnvWalletKey, testKey)
	t.Setenv(config.EnvSessionKey, "env-session")

	cfg := config.Defaults()
	cfg.Accounts = map[string]config.AccountConfig{
		"ops": {SessionKey: "s"},
	}

	acct := Resolve(cfg, "ops")
	if acct.WalletKeySource != SourceNone {
		t.Errorf("WalletKeySource = %s, want none (env never applies to named accounts)", acct.WalletKeySource)
	}

	cfg.Accounts = nil
	def := Resolve(cfg, "")
	if def.WalletKeySource != SourceEnvironment {
		t.Errorf("default WalletKeySource = %s, want environment", def.WalletKeySource)
	}
	if !def.Configured {
		t.Error("default account with both env secrets should be configured")
	}
}

func TestMergeSettings_OverrideWins(t *testing.T) {
	def := config.Settings{
		Env:         "production",
		DMPolicy:    "pairing",
		DMAllow:     config.FlexStringList{"0xaaa"},
		GroupPolicy: "allowlist",
		Registration: config.RegistrationConfig{
			TokenURI: "ipfs://default",
			Chains:   config.FlexStringList{"1"},
		},
	}
	over := config.Settings{
		DMPolicy: "allowlist",
		DMAllow:  config.FlexStringList{"0xbbb"},
		Commands: config.CommandsConfig{AllowTextDM: boolPtr(false)},
		Registration: config.RegistrationConfig{
			Chains: config.FlexStringList{"8453"},
		},
	}

	got := MergeSettings(def, over)

	if got.DMPolicy != "allowlist" {
		t.Errorf("DMPolicy = %q, want override value", got.DMPolicy)
	}
	if !reflect.DeepEqual([]string(got.DMAllow), []string{"0xbbb"}) {
		t.Errorf("DMAllow = %v, want override value", got.DMAllow)
	}
	if got.Env != "production" {
		t.Errorf("Env = %q, want inherited default", got.Env)
	}
	if got.GroupPolicy != "allowlist" {
		t.Errorf("GroupPolicy = %q, want inherited default", got.GroupPolicy)
	}
	if got.Registration.TokenURI != "ipfs://default" {
		t.Errorf("Registration.TokenURI = %q, want inherited default", got.Registration.TokenURI)
	}
	if !reflect.DeepEqual([]string(got.Registration.Chains), []string{"8453"}) {
		t.Errorf("Registration.Chains = %v, want override value", got.Registration.Chains)
	}
	if got.Commands.AllowTextDMEnabled() {
		t.Error("Commands.AllowTextDM override (false) must win")
	}
}

func TestAccountOverridesWinPerField(t *testing.T) {
	cfg := config.Defaults()
	cfg.Channel.DMPolicy = "open"
	cfg.Channel.GroupPolicy = "open"
	cfg.Accounts = map[string]config.AccountConfig{
		"ops": {
			WalletKey:  testKey,
			SessionKey: "s",
			Settings:   config.Settings{DMPolicy: "disabled"},
		},
	}

	acct := Resolve(cfg, "ops")
	if acct.Settings.DMPolicy != "disabled" {
		t.Errorf("DMPolicy = %q, want account override", acct.Settings.DMPolicy)
	}
	if acct.Settings.GroupPolicy != "open" {
		t.Errorf("GroupPolicy = %q, want channel default", acct.Settings.GroupPolicy)
	}
}

func TestResolve_DisabledAccount(t *testing.T) {
	cfg := config.Defaults()
	cfg.Accounts = map[string]config.AccountConfig{
		"ops": {Enabled: boolPtr(false), WalletKey: testKey, SessionKey: "s"},
	}
	if acct := Resolve(cfg, "ops"); acct.Enabled {
		t.Error("explicitly disabled account must resolve Enabled=false")
	}
}

func TestDefaultID(t *testing.T) {
	cfg := config.Defaults()
	cfg.Accounts = map[string]config.AccountConfig{"zeta": {}, "alpha": {}}
	if got := DefaultID(cfg); got != "alpha" {
		t.Errorf("DefaultID = %q, want first sorted id", got)
	}

	cfg.Accounts["default"] = config.AccountConfig{}
	if got := DefaultID(cfg); got != "default" {
		t.Errorf("DefaultID = %q, want explicit default account", got)
	}
}
