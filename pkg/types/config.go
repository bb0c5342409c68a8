package types

// Config represents the cliagent configuration.
type Config struct {
	// Schema reference (for editor support)
	Schema string `json:"$schema,omitempty" yaml:"$schema,omitempty"`

	// Model selection, "provider/model" (e.g. "anthropic/claude-sonnet-4-20250514")
	Model string `json:"model,omitempty" yaml:"model,omitempty"`

	// Provider configs
	Provider map[string]ProviderConfig `json:"provider,omitempty" yaml:"provider,omitempty"`

	// Isolation confines agent edits to the session working directory
	Isolation bool `json:"isolation,omitempty" yaml:"isolation,omitempty"`

	// WorkingDirectory is the session working directory (defaults to the project dir)
	WorkingDirectory string `json:"workingDirectory,omitempty" yaml:"workingDirectory,omitempty"`

	// IdleTimeout is a Go duration string, e.g. "5m"
	IdleTimeout string `json:"idleTimeout,omitempty" yaml:"idleTimeout,omitempty"`

	// Workspace folders open in the editor
	Workspace []string `json:"workspace,omitempty" yaml:"workspace,omitempty"`

	// Permission settings
	Permission *PermissionConfig `json:"permission,omitempty" yaml:"permission,omitempty"`

	// Storage overrides the data directory used by the local runtime
	Storage string `json:"storage,omitempty" yaml:"storage,omitempty"`

	// LogLevel is one of DEBUG, INFO, WARN, ERROR
	LogLevel string `json:"logLevel,omitempty" yaml:"logLevel,omitempty"`
}

// ProviderConfig holds configuration for a specific provider.
type ProviderConfig struct {
	APIKey    string `json:"apiKey,omitempty" yaml:"apiKey,omitempty"`
	BaseURL   string `json:"baseURL,omitempty" yaml:"baseURL,omitempty"`
	Model     string `json:"model,omitempty" yaml:"model,omitempty"`
	MaxTokens int    `json:"maxTokens,omitempty" yaml:"maxTokens,omitempty"`
	Disable   bool   `json:"disable,omitempty" yaml:"disable,omitempty"`
}

// PermissionConfig holds permission settings.
type PermissionConfig struct {
	// ConfirmEdits lists glob patterns whose edits always need confirmation.
	// nil selects the defaults, an empty list disables the check.
	ConfirmEdits []string `json:"confirmEdits,omitempty" yaml:"confirmEdits,omitempty"`

	// Shell maps command patterns ("git *", "ls") to "allow", "ask" or "deny".
	Shell map[string]string `json:"shell,omitempty" yaml:"shell,omitempty"`
}
