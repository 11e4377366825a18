package agent

// Config points the agent at its data directory and the user-driven
// configuration file. Live reload only applies to the user configuration;
// these settings require a restart.
type Config struct {
	DataDir        string `json:"dataDir"`
	ProfilesConfig string `json:"profilesConfig"`
	// FullRedraw blacks out unassigned keys on every theme render instead
	// of leaving them at their previous color.
	FullRedraw bool `json:"fullRedraw"`
	// WindowPollMs is the foreground window poll interval in milliseconds.
	WindowPollMs int `json:"windowPollMs"`
}
