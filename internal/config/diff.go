package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; everything else
// needs a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// AgentChanged is true when the agent id or API key changed. New chats
	// pick up the new values; a running chat is not affected.
	AgentChanged bool

	// EndTimeoutChanged is true when session.end_timeout changed.
	EndTimeoutChanged bool

	// RestartRequired lists the changed settings that only take effect after
	// a restart.
	RestartRequired []string
}

// Changed reports whether any tracked setting differs.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.AgentChanged || d.EndTimeoutChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Agent.AgentID != new.Agent.AgentID || old.Agent.APIKey != new.Agent.APIKey {
		d.AgentChanged = true
	}
	if old.Session.EndTimeout != new.Session.EndTimeout {
		d.EndTimeoutChanged = true
	}

	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	if old.Agent.Provider != new.Agent.Provider || old.Agent.BaseURL != new.Agent.BaseURL || old.Agent.APIBaseURL != new.Agent.APIBaseURL {
		d.RestartRequired = append(d.RestartRequired, "agent.provider")
	}
	if old.Audio != new.Audio {
		d.RestartRequired = append(d.RestartRequired, "audio")
	}
	if old.Storage != new.Storage {
		d.RestartRequired = append(d.RestartRequired, "storage")
	}

	return d
}
