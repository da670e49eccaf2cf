package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel: "info",
			DBPath:   "~/.walletbot/walletbot.db",
		},
		Channel: ChannelConfig{
			Enabled:  false,
			RelayURL: "wss://relay.walletbot.dev/v1",
			Settings: Settings{
				Env:         "production",
				StoragePath: "~/.walletbot/data",
				DMPolicy:    "pairing",
				GroupPolicy: "allowlist",
			},
		},
	}
}

// boolDefault resolves a tri-state config flag against its default.
func boolDefault(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

// AllowTextDMEnabled reports whether free-text control commands are handled in DMs.
func (c CommandsConfig) AllowTextDMEnabled() bool { return boolDefault(c.AllowTextDM, true) }

// AllowTextGroupEnabled reports whether free-text control commands are handled in groups.
func (c CommandsConfig) AllowTextGroupEnabled() bool { return boolDefault(c.AllowTextGroup, true) }

// UseAccessGroupsEnabled reports whether command authorization is restricted
// to allowlisted senders.
func (c CommandsConfig) UseAccessGroupsEnabled() bool { return boolDefault(c.UseAccessGroups, false) }
