package lsp

import (
	"fmt"
	"sort"
	"time"
)

const (
	defaultServerInitTimeout    = 10 * time.Second
	defaultServerRequestTimeout = 30 * time.Second
	defaultServerMaxRestarts    = 3
)

// ServerConfig describes how to launch and talk to one language server.
type ServerConfig struct {
	Language       Language      `yaml:"language" json:"language"`
	Command        string        `yaml:"command" json:"command"`
	Args           []string      `yaml:"args,omitempty" json:"args,omitempty"`
	RootPatterns   []string      `yaml:"root_patterns" json:"root_patterns"`
	Extensions     []string      `yaml:"extensions" json:"extensions"`
	Enabled        bool          `yaml:"enabled" json:"enabled"`
	InitTimeout    time.Duration `yaml:"init_timeout" json:"init_timeout"`
	RequestTimeout time.Duration `yaml:"request_timeout" json:"request_timeout"`
	MaxRestarts    int           `yaml:"max_restarts" json:"max_restarts"`
}

type ManagerConfig struct {
	Enabled        bool                      `yaml:"enabled" json:"enabled"`
	AutoStart      bool                      `yaml:"auto_start" json:"auto_start"`
	IdleTimeout    time.Duration             `yaml:"idle_timeout" json:"idle_timeout"`
	RequestTimeout time.Duration             `yaml:"request_timeout" json:"request_timeout"`
	MaxConcurrent  int                       `yaml:"max_concurrent" json:"max_concurrent"`
	Circuit        CircuitConfig             `yaml:"circuit" json:"circuit"`
	Servers        map[Language]ServerConfig `yaml:"servers" json:"servers"`
}

// serverOption tweaks one entry of the built-in server table.
type serverOption func(*ServerConfig)

func withArgs(args ...string) serverOption {
	return func(s *ServerConfig) { s.Args = args }
}

func withInitTimeout(d time.Duration) serverOption {
	return func(s *ServerConfig) { s.InitTimeout = d }
}

func withMaxRestarts(n int) serverOption {
	return func(s *ServerConfig) { s.MaxRestarts = n }
}

func disabled(s *ServerConfig) { s.Enabled = false }

func server(lang Language, command string, roots, exts []string, opts ...serverOption) ServerConfig {
	s := ServerConfig{
		Language:       lang,
		Command:        command,
		RootPatterns:   roots,
		Extensions:     exts,
		Enabled:        true,
		InitTimeout:    defaultServerInitTimeout,
		RequestTimeout: defaultServerRequestTimeout,
		MaxRestarts:    defaultServerMaxRestarts,
	}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

func defaultServers() []ServerConfig {
	return []ServerConfig{
		server(LangGo, "gopls", []string{"go.mod", "go.work"}, []string{".go"}, withArgs("serve")),
		server(LangTypeScript, "typescript-language-server", []string{"package.json", "tsconfig.json"}, []string{".ts", ".tsx"},
			withArgs("--stdio"), withInitTimeout(15*time.Second)),
		server(LangJavaScript, "typescript-language-server", []string{"package.json"}, []string{".js", ".jsx", ".mjs"},
			withArgs("--stdio"), withInitTimeout(15*time.Second)),
		server(LangPython, "pylsp", []string{"pyproject.toml", "setup.py", "requirements.txt"}, []string{".py"}),
		server(LangRust, "rust-analyzer", []string{"Cargo.toml"}, []string{".rs"},
			withInitTimeout(20*time.Second), withMaxRestarts(2)),
		server(LangCpp, "clangd", []string{"compile_commands.json", "CMakeLists.txt", "Makefile"},
			[]string{".cpp", ".cc", ".cxx", ".hpp", ".h"}),
		server(LangC, "clangd", []string{"compile_commands.json", "Makefile"}, []string{".c", ".h"}),
		server(LangJava, "jdtls", []string{"pom.xml", "build.gradle", "settings.gradle"}, []string{".java"},
			withInitTimeout(30*time.Second), withMaxRestarts(2), disabled),
	}
}

func DefaultManagerConfig() ManagerConfig {
	servers := make(map[Language]ServerConfig)
	for _, s := range defaultServers() {
		servers[s.Language] = s
	}
	return ManagerConfig{
		Enabled:        true,
		IdleTimeout:    10 * time.Minute,
		RequestTimeout: defaultServerRequestTimeout,
		MaxConcurrent:  3,
		Circuit:        DefaultCircuitConfig(),
		Servers:        servers,
	}
}

// Normalize fills what a partial server override in a config file leaves
// unset: the language comes from the map key and zero timeouts fall back to
// the manager defaults.
func (c *ManagerConfig) Normalize() {
	for lang, s := range c.Servers {
		s.Language = lang
		if s.InitTimeout <= 0 {
			s.InitTimeout = defaultServerInitTimeout
		}
		if s.RequestTimeout <= 0 {
			s.RequestTimeout = c.RequestTimeout
		}
		if s.RequestTimeout <= 0 {
			s.RequestTimeout = defaultServerRequestTimeout
		}
		c.Servers[lang] = s
	}
}

func (c *ManagerConfig) Validate() error {
	if c.MaxConcurrent <= 0 {
		return fmt.Errorf("max_concurrent must be positive, got %d", c.MaxConcurrent)
	}
	if c.Circuit.FailureThreshold <= 0 || c.Circuit.HalfOpenProbes <= 0 {
		return fmt.Errorf("circuit thresholds must be positive")
	}
	for _, lang := range c.GetEnabledLanguages() {
		s := c.Servers[lang]
		if s.Command == "" {
			return fmt.Errorf("servers.%s: command is required", lang)
		}
		if len(s.Extensions) == 0 {
			return fmt.Errorf("servers.%s: at least one extension is required", lang)
		}
		if s.MaxRestarts < 0 {
			return fmt.Errorf("servers.%s: max_restarts must not be negative", lang)
		}
	}
	return nil
}

func (c *ManagerConfig) GetEnabledLanguages() []Language {
	var langs []Language
	for lang, s := range c.Servers {
		if s.Enabled {
			langs = append(langs, lang)
		}
	}
	sort.Slice(langs, func(i, j int) bool { return langs[i] < langs[j] })
	return langs
}
