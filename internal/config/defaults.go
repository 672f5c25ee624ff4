package config

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8235
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "/usr/local/var/fusen/data/annotations.db"
	}
	if cfg.Anchor.ContextChars == 0 {
		cfg.Anchor.ContextChars = 64
	}
	if cfg.Reanchor.RadiusPages == 0 {
		cfg.Reanchor.RadiusPages = 48
	}
	if cfg.Reanchor.MinContextScore == 0 {
		cfg.Reanchor.MinContextScore = 6
	}
	if cfg.Session.UndoDepth == 0 {
		cfg.Session.UndoDepth = 64
	}
	if cfg.Watch.DebounceMillis == 0 {
		cfg.Watch.DebounceMillis = 500
	}
}
