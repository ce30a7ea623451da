package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/viper"
)

// Manager handles configuration loading and concurrent read access. The
// daemon holds exactly one Manager; handlers read through it so that a reload
// is observed by the next command without restarting streams already running.
type Manager struct {
	mu         sync.RWMutex
	configPath string
	cfg        *Config
}

// Load reads the configuration from path (or the default location when path
// is empty), applies HUNTLY_* environment overrides, and returns a Manager.
// A missing config file is not an error: the daemon starts with defaults and
// everything remote disabled until configured.
func Load(path string) (*Manager, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("HUNTLY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("bridge.listen_addr", DefaultBridgeListenAddr)
	v.SetDefault("server.timeout", DefaultServerTimeout)
	v.SetDefault("target_language", DefaultTargetLanguage)

	if path == "" {
		home, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(home, ".huntly", "config.yaml")
		}
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(*os.PathError); !ok && !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	applyDefaults(&cfg)

	return &Manager{configPath: path, cfg: &cfg}, nil
}

// NewManager wraps an already-built Config, mainly for tests.
func NewManager(cfg *Config) *Manager {
	if cfg == nil {
		cfg = &Config{}
	}
	applyDefaults(cfg)
	return &Manager{cfg: cfg}
}

func applyDefaults(cfg *Config) {
	if cfg.Bridge.ListenAddr == "" {
		cfg.Bridge.ListenAddr = DefaultBridgeListenAddr
	}
	if cfg.Server.Timeout <= 0 {
		cfg.Server.Timeout = DefaultServerTimeout
	}
	if cfg.TargetLanguage == "" {
		cfg.TargetLanguage = DefaultTargetLanguage
	}
	for i := range cfg.Providers {
		if cfg.Providers[i].Timeout <= 0 {
			cfg.Providers[i].Timeout = DefaultProviderTimeout
		}
	}
}

// Get returns the current configuration snapshot.
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// Replace swaps in a new configuration, applying defaults first.
func (m *Manager) Replace(cfg *Config) {
	if cfg == nil {
		return
	}
	applyDefaults(cfg)
	m.mu.Lock()
	m.cfg = cfg
	m.mu.Unlock()
}

// Provider looks up a provider by name, case-insensitively.
func (m *Manager) Provider(name string) (Provider, bool) {
	cfg := m.Get()
	for _, p := range cfg.Providers {
		if strings.EqualFold(p.Name, name) {
			return p, true
		}
	}
	return Provider{}, false
}

// EnabledProviders returns enabled providers in configuration order.
func (m *Manager) EnabledProviders() []Provider {
	cfg := m.Get()
	out := make([]Provider, 0, len(cfg.Providers))
	for _, p := range cfg.Providers {
		if p.Enabled {
			out = append(out, p)
		}
	}
	return out
}

// Shortcuts returns the builtin catalog overlaid with user-defined shortcuts.
func (m *Manager) Shortcuts() []Shortcut {
	return mergeShortcuts(builtinShortcuts(), m.Get().Shortcuts)
}

// EnabledShortcuts filters Shortcuts down to the entries surfaced in the
// toolbar.
func (m *Manager) EnabledShortcuts() []Shortcut {
	all := m.Shortcuts()
	out := make([]Shortcut, 0, len(all))
	for _, s := range all {
		if s.Enabled {
			out = append(out, s)
		}
	}
	return out
}

// TargetLanguageName resolves the configured target language to its native
// name for "{lang}" substitution.
func (m *Manager) TargetLanguageName() string {
	return NativeLanguageName(m.Get().TargetLanguage)
}

// ServerConfigured reports whether a managed-server base endpoint is set.
func (m *Manager) ServerConfigured() bool {
	return strings.TrimSpace(m.Get().Server.BaseURL) != ""
}
