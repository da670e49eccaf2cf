package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_JSON(t *testing.T) {
	path := writeConfig(t, "config.json", `{
		"general": {"logLevel": "debug", "agentUrl": "http://localhost:8080/hook"},
		"channel": {
			"enabled": true,
			"walletKey": "abc",
			"dmPolicy": "open",
			"dmAllow": ["0xAAA", 8453]
		},
		"accounts": {
			"ops": {"sessionKey": "s", "dmPolicy": "allowlist"}
		}
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.General.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.General.LogLevel)
	}
	if !cfg.Channel.Enabled || cfg.Channel.WalletKey != "abc" {
		t.Errorf("channel = %+v, want enabled with wallet key", cfg.Channel)
	}
	if cfg.Channel.DMPolicy != "open" {
		t.Errorf("DMPolicy = %q, want inline settings parsed", cfg.Channel.DMPolicy)
	}
	if want := []string{"0xAAA", "8453"}; !reflect.DeepEqual([]string(cfg.Channel.DMAllow), want) {
		t.Errorf("DMAllow = %v, want %v (numbers coerced to strings)", cfg.Channel.DMAllow, want)
	}
	if cfg.Accounts["ops"].DMPolicy != "allowlist" {
		t.Errorf("accounts.ops.DMPolicy = %q, want allowlist", cfg.Accounts["ops"].DMPolicy)
	}
	// Unset fields keep their defaults.
	if cfg.General.DBPath == "" || cfg.Channel.RelayURL == "" {
		t.Error("defaults must survive a partial config file")
	}
}

func TestLoad_YAMLInlineSettings(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
general:
  logLevel: warn
channel:
  enabled: true
  sessionKey: s
  groupPolicy: open
  registration:
    chains: [1, base]
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.General.LogLevel != "warn" {
		t.Errorf("LogLevel = %q, want warn", cfg.General.LogLevel)
	}
	if cfg.Channel.GroupPolicy != "open" {
		t.Errorf("GroupPolicy = %q, want the inline yaml field", cfg.Channel.GroupPolicy)
	}
	if want := []string{"1", "base"}; !reflect.DeepEqual([]string(cfg.Channel.Registration.Chains), want) {
		t.Errorf("Chains = %v, want %v", cfg.Channel.Registration.Chains, want)
	}
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("WB_TEST_KEY", "expanded-secret")
	path := writeConfig(t, "config.json", `{
		"channel": {
			"enabled": true,
			"walletKey": "${WB_TEST_KEY}",
			"sessionKey": "${WB_TEST_MISSING:-fallback}"
		}
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Channel.WalletKey != "expanded-secret" {
		t.Errorf("WalletKey = %q, want expanded env value", cfg.Channel.WalletKey)
	}
	if cfg.Channel.SessionKey != "fallback" {
		t.Errorf("SessionKey = %q, want the default value", cfg.Channel.SessionKey)
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("WB_SET", "value")
	tests := []struct {
		in, want string
	}{
		{"${WB_SET}", "value"},
		{"${WB_SET:-other}", "value"},
		{"${WB_UNSET_XYZ:-other}", "other"},
		{"${WB_UNSET_XYZ}", "${WB_UNSET_XYZ}"}, // kept verbatim
		{"prefix-${WB_SET}-suffix", "prefix-value-suffix"},
		{"no vars here", "no vars here"},
	}
	for _, tt := range tests {
		if got := ExpandEnvVars(tt.in); got != tt.want {
			t.Errorf("ExpandEnvVars(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestLoad_ValidationErrorsAccumulate(t *testing.T) {
	path := writeConfig(t, "config.json", `{
		"general": {"logLevel": "verbose"},
		"channel": {"dmPolicy": "maybe"},
		"accounts": {"ops": {"groupPolicy": "sometimes"}}
	}`)

	_, err := Load(path)
	if err == nil {
		t.Fatal("invalid config must fail to load")
	}
	for _, want := range []string{"general.logLevel", "channel.dmPolicy", "accounts.ops.groupPolicy"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("err %v missing %q (all violations must be listed)", err, want)
		}
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Error("missing file must fail")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	cfg := Defaults()
	cfg.General.DBPath = filepath.Join(dir, "walletbot.db")
	cfg.Channel.Enabled = true
	cfg.Channel.WalletKey = "abc"
	cfg.Channel.StoragePath = filepath.Join(dir, "data")
	cfg.Channel.DMAllow = FlexStringList{"0xaaa"}

	path := filepath.Join(dir, "nested", "config.json")
	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, cfg) {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", got, cfg)
	}
}

func TestFlexStringList_YAMLMixed(t *testing.T) {
	var f FlexStringList
	if err := yaml.Unmarshal([]byte(`[1, base, "8453"]`), &f); err != nil {
		t.Fatal(err)
	}
	if want := []string{"1", "base", "8453"}; !reflect.DeepEqual([]string(f), want) {
		t.Errorf("FlexStringList = %v, want %v", f, want)
	}
}

func TestGetSetByPath(t *testing.T) {
	cfg := Defaults()

	v, err := GetByPath(cfg, "channel.dmPolicy")
	if err != nil {
		t.Fatal(err)
	}
	if v != "pairing" {
		t.Errorf("GetByPath = %v, want pairing", v)
	}

	if err := SetByPath(cfg, "channel.dmPolicy", "open"); err != nil {
		t.Fatal(err)
	}
	if cfg.Channel.DMPolicy != "open" {
		t.Errorf("DMPolicy = %q after SetByPath, want open", cfg.Channel.DMPolicy)
	}

	if err := SetByPath(cfg, "channel.enabled", "true"); err != nil {
		t.Fatal(err)
	}
	if !cfg.Channel.Enabled {
		t.Error("SetByPath must coerce the string true to a bool")
	}

	if _, err := GetByPath(cfg, "channel.doesNotExist"); err == nil {
		t.Error("unknown path must fail")
	}
}

func TestSanitize(t *testing.T) {
	cfg := Defaults()
	cfg.Channel.WalletKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
	cfg.Channel.SessionKey = "short"
	cfg.Accounts = map[string]AccountConfig{
		"ops": {WalletKey: "another-long-secret-value"},
	}

	out := Sanitize(cfg)

	if out.Channel.WalletKey != "4c08****2318" {
		t.Errorf("WalletKey = %q, want masked middle", out.Channel.WalletKey)
	}
	if out.Channel.SessionKey != "***" {
		t.Errorf("SessionKey = %q, want fully masked short secret", out.Channel.SessionKey)
	}
	if strings.Contains(out.Accounts["ops"].WalletKey, "secret") {
		t.Errorf("account WalletKey = %q, want masked", out.Accounts["ops"].WalletKey)
	}
	// The original is untouched.
	if cfg.Channel.SessionKey != "short" {
		t.Error("Sanitize must not mutate its input")
	}

	data, err := json.Marshal(out)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "fe5129617082792ae468d01a3f362318") {
		t.Error("sanitized output still leaks the raw secret")
	}
}

func TestCommandsConfigDefaults(t *testing.T) {
	var c CommandsConfig
	if !c.AllowTextDMEnabled() || !c.AllowTextGroupEnabled() {
		t.Error("text commands default to enabled")
	}
	if c.UseAccessGroupsEnabled() {
		t.Error("access groups default to disabled")
	}

	f := false
	c.AllowTextDM = &f
	if c.AllowTextDMEnabled() {
		t.Error("explicit false must win over the default")
	}
}
