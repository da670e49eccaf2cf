package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Environment variables consulted for the implicit default account only.
const (
	EnvWalletKey  = "WALLETBOT_WALLET_KEY"
	EnvSessionKey = "WALLETBOT_SESSION_KEY"
)

// Config is the root configuration for walletbot.
type Config struct {
	General  GeneralConfig            `json:"general" yaml:"general"`
	Channel  ChannelConfig            `json:"channel" yaml:"channel"`
	Accounts map[string]AccountConfig `json:"accounts,omitempty" yaml:"accounts,omitempty"`
}

type GeneralConfig struct {
	LogLevel string `json:"logLevel" yaml:"logLevel"`
	// DBPath is the pairing/activity database location.
	DBPath string `json:"dbPath" yaml:"dbPath"`
	// AgentURL is the responder endpoint approved messages are relayed to.
	AgentURL string `json:"agentUrl,omitempty" yaml:"agentUrl,omitempty"`
}

// ChannelConfig holds channel-level defaults plus the secrets of the implicit
// default account. Per-account fields in AccountConfig override Settings
// field-by-field; secrets never inherit across accounts.
type ChannelConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`

	// RelayURL is the websocket endpoint of the messaging relay.
	RelayURL string `json:"relayUrl,omitempty" yaml:"relayUrl,omitempty"`

	WalletKey      string `json:"walletKey,omitempty" yaml:"walletKey,omitempty"`
	WalletKeyFile  string `json:"walletKeyFile,omitempty" yaml:"walletKeyFile,omitempty"`
	SessionKey     string `json:"sessionKey,omitempty" yaml:"sessionKey,omitempty"`
	SessionKeyFile string `json:"sessionKeyFile,omitempty" yaml:"sessionKeyFile,omitempty"`

	Settings `yaml:",inline"`
}

// AccountConfig configures one named account. Any Settings field left unset
// falls back to the channel-level default.
type AccountConfig struct {
	Name    string `json:"name,omitempty" yaml:"name,omitempty"`
	Enabled *bool  `json:"enabled,omitempty" yaml:"enabled,omitempty"`

	WalletKey      string `json:"walletKey,omitempty" yaml:"walletKey,omitempty"`
	WalletKeyFile  string `json:"walletKeyFile,omitempty" yaml:"walletKeyFile,omitempty"`
	SessionKey     string `json:"sessionKey,omitempty" yaml:"sessionKey,omitempty"`
	SessionKeyFile string `json:"sessionKeyFile,omitempty" yaml:"sessionKeyFile,omitempty"`

	Settings `yaml:",inline"`
}

// Settings is the policy surface shared by channel-level defaults and
// per-account overrides.
type Settings struct {
	Env         string `json:"env,omitempty" yaml:"env,omitempty"` // local | dev | production
	StoragePath string `json:"storagePath,omitempty" yaml:"storagePath,omitempty"`

	DMPolicy    string         `json:"dmPolicy,omitempty" yaml:"dmPolicy,omitempty"` // open | pairing | allowlist | disabled
	DMAllow     FlexStringList `json:"dmAllow,omitempty" yaml:"dmAllow,omitempty"`
	GroupPolicy string         `json:"groupPolicy,omitempty" yaml:"groupPolicy,omitempty"` // open | allowlist | disabled
	GroupAllow  FlexStringList `json:"groupAllow,omitempty" yaml:"groupAllow,omitempty"`

	Commands     CommandsConfig     `json:"commands,omitempty" yaml:"commands,omitempty"`
	Registration RegistrationConfig `json:"registration,omitempty" yaml:"registration,omitempty"`
}

// CommandsConfig gates control-command handling. Pointer fields distinguish
// "unset, inherit the default" from an explicit false.
type CommandsConfig struct {
	UseAccessGroups *bool `json:"useAccessGroups,omitempty" yaml:"useAccessGroups,omitempty"`
	AllowTextDM     *bool `json:"allowTextDM,omitempty" yaml:"allowTextDM,omitempty"`
	AllowTextGroup  *bool `json:"allowTextGroup,omitempty" yaml:"allowTextGroup,omitempty"`
}

// RegistrationConfig holds per-account registration defaults.
type RegistrationConfig struct {
	TokenURI string         `json:"tokenUri,omitempty" yaml:"tokenUri,omitempty"`
	Chains   FlexStringList `json:"chains,omitempty" yaml:"chains,omitempty"`
	// RPCOverrides and RegistryOverrides are keyed by chain id, chain name,
	// or the eip155:<id> form.
	RPCOverrides      map[string]string `json:"rpcOverrides,omitempty" yaml:"rpcOverrides,omitempty"`
	RegistryOverrides map[string]string `json:"registryOverrides,omitempty" yaml:"registryOverrides,omitempty"`
}

// FlexStringList is a []string that can unmarshal from arrays containing
// both strings and numbers (e.g. ["1", 8453] both become "1", "8453").
type FlexStringList []string

func (f *FlexStringList) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, item := range raw {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			result = append(result, s)
			continue
		}
		var n float64
		if err := json.Unmarshal(item, &n); err == nil {
			result = append(result, strconv.FormatInt(int64(n), 10))
			continue
		}
		result = append(result, string(item))
	}
	*f = result
	return nil
}

func (f *FlexStringList) UnmarshalYAML(value *yaml.Node) error {
	var ss []string
	if err := value.Decode(&ss); err == nil {
		*f = ss
		return nil
	}
	var raw []any
	if err := value.Decode(&raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, item := range raw {
		result = append(result, fmt.Sprint(item))
	}
	*f = result
	return nil
}

// DefaultConfigDir returns the default config directory (~/.walletbot).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".walletbot"
	}
	return filepath.Join(home, ".walletbot")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

// Load reads, env-expands, parses and validates the config file. Both JSON
// and YAML files are accepted; the extension decides the parser.
func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
		}
	}

	cfg.General.DBPath = ExpandPath(cfg.General.DBPath)
	cfg.Channel.StoragePath = ExpandPath(cfg.Channel.StoragePath)
	cfg.Channel.WalletKeyFile = ExpandPath(cfg.Channel.WalletKeyFile)
	cfg.Channel.SessionKeyFile = ExpandPath(cfg.Channel.SessionKeyFile)
	for id, acct := range cfg.Accounts {
		acct.StoragePath = ExpandPath(acct.StoragePath)
		acct.WalletKeyFile = ExpandPath(acct.WalletKeyFile)
		acct.SessionKeyFile = ExpandPath(acct.SessionKeyFile)
		cfg.Accounts[id] = acct
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match // keep original if no env var and no default
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o644)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	switch cfg.General.LogLevel {
	case "", "debug", "info", "warn", "error":
		// valid
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}

	validateSettings := func(prefix string, s Settings) {
		switch s.Env {
		case "", "local", "dev", "production":
			// valid
		default:
			errs = append(errs, prefix+".env must be one of: local, dev, production")
		}
		switch s.DMPolicy {
		case "", "open", "pairing", "allowlist", "disabled":
			// valid
		default:
			errs = append(errs, prefix+".dmPolicy must be one of: open, pairing, allowlist, disabled")
		}
		switch s.GroupPolicy {
		case "", "open", "allowlist", "disabled":
			// valid
		default:
			errs = append(errs, prefix+".groupPolicy must be one of: open, allowlist, disabled")
		}
	}

	validateSettings("channel", cfg.Channel.Settings)
	for id, acct := range cfg.Accounts {
		if strings.TrimSpace(id) == "" {
			errs = append(errs, "accounts: empty account id")
		}
		validateSettings("accounts."+id, acct.Settings)
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
