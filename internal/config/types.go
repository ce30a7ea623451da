package config

const (
	DefaultBridgeListenAddr = "127.0.0.1:17823"
	DefaultServerTimeout    = 30
	DefaultProviderTimeout  = 120
	DefaultTargetLanguage   = "en"
)

// Provider describes one directly configured AI provider that the daemon can
// stream against without going through the Huntly server.
type Provider struct {
	Name    string            `json:"name" yaml:"name" mapstructure:"name"`
	Enabled bool              `json:"enabled" yaml:"enabled" mapstructure:"enabled"`
	Default bool              `json:"default" yaml:"default" mapstructure:"default"`
	APIKey  string            `json:"api_key" yaml:"api_key" mapstructure:"api_key"`
	BaseURL string            `json:"base_url" yaml:"base_url" mapstructure:"base_url"`
	Models  []string          `json:"models" yaml:"models" mapstructure:"models"`
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty" mapstructure:"headers"`
	Timeout int               `json:"timeout,omitempty" yaml:"timeout,omitempty" mapstructure:"timeout"`
}

// Shortcut is a named, reusable processing instruction applicable to
// captured content. The instruction may contain a "{lang}" placeholder which
// is replaced with the native name of the configured target language.
type Shortcut struct {
	ID          string `json:"id" yaml:"id" mapstructure:"id"`
	Name        string `json:"name" yaml:"name" mapstructure:"name"`
	Instruction string `json:"instruction" yaml:"instruction" mapstructure:"instruction"`
	Enabled     bool   `json:"enabled" yaml:"enabled" mapstructure:"enabled"`
}

// Server holds the connection settings for the managed Huntly service.
type Server struct {
	BaseURL         string `json:"base_url" yaml:"base_url" mapstructure:"base_url"`
	Token           string `json:"token" yaml:"token" mapstructure:"token"`
	RemoteShortcuts bool   `json:"remote_shortcuts" yaml:"remote_shortcuts" mapstructure:"remote_shortcuts"`
	Timeout         int    `json:"timeout,omitempty" yaml:"timeout,omitempty" mapstructure:"timeout"`
}

// Bridge holds the local WebSocket bridge settings the browsing client
// connects to.
type Bridge struct {
	ListenAddr string `json:"listen_addr" yaml:"listen_addr" mapstructure:"listen_addr"`
	Token      string `json:"token" yaml:"token" mapstructure:"token"`
}

// Config is the full user-configurable state of the daemon.
type Config struct {
	Server         Server     `json:"server" yaml:"server" mapstructure:"server"`
	Bridge         Bridge     `json:"bridge" yaml:"bridge" mapstructure:"bridge"`
	Providers      []Provider `json:"providers" yaml:"providers" mapstructure:"providers"`
	Shortcuts      []Shortcut `json:"shortcuts" yaml:"shortcuts" mapstructure:"shortcuts"`
	TargetLanguage string     `json:"target_language" yaml:"target_language" mapstructure:"target_language"`
	Verbose        bool       `json:"verbose" yaml:"verbose" mapstructure:"verbose"`
}
