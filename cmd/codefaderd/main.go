package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"

	"github.com/alucardeht/code-fader/internal/config"
	"github.com/alucardeht/code-fader/internal/daemon"
	"github.com/alucardeht/code-fader/internal/index"
	"github.com/alucardeht/code-fader/internal/logger"
)

const (
	CmdServe     = "serve"
	CmdResolve   = "resolve"
	CmdStatus    = "status"
	CmdServers   = "servers"
	CmdCache     = "cache"
	FlagConfig   = "config"
	FlagLogLevel = "log-level"
	FlagSocket   = "socket"
	FlagMemory   = "memory-store"
	FlagJSON     = "json"
)

var (
	configPath  string
	logLevel    string
	socketPath  string
	memoryStore bool
	formatJSON  bool

	// appConfig is loaded once before any subcommand runs.
	appConfig *config.Config
)

var rootCmd = &cobra.Command{
	Use:   daemon.Name,
	Short: "Fades code that is unrelated to the selected identifier",
	Long: `codefaderd keeps the lines relevant to the identifier under the cursor
visible and fades the rest. Editor hosts connect over a unix socket and
stream document and selection events; the daemon answers with decorations.

  codefaderd serve                 # run the daemon
  codefaderd resolve FILE LINE COL # resolve one selection and print the result
  codefaderd status                # ask a running daemon for its status
  codefaderd cache stats|clear     # inspect or reset the symbol store`,
	Version:       daemon.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		lc := logger.DefaultConfig()
		lc.Level = logger.ParseLevel(cfg.Log.Level)
		lc.Format = cfg.Log.Format
		logger.Init(lc)
		appConfig = cfg
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, FlagConfig, "", "config file (default ~/.codefader/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, FlagLogLevel, "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&socketPath, FlagSocket, "", "daemon socket path")
	rootCmd.PersistentFlags().BoolVar(&memoryStore, FlagMemory, false, "keep symbol indexes in memory only")

	rootCmd.AddCommand(serveCmd, resolveCmd, statusCmd, serversCmd, cacheCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		atexit.Exit(1)
	}
	atexit.Exit(0)
}

func resolvedConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultPath()
}

// loadConfig reads the config file and applies command-line overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(resolvedConfigPath())
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if socketPath != "" {
		cfg.Daemon.SocketPath = socketPath
	}
	return cfg, nil
}

// symbolStore is what the commands need from a store beyond index.Store.
type symbolStore interface {
	index.Store
	Stats(ctx context.Context) (*index.StoreStats, error)
	Clear(ctx context.Context) (int64, error)
}

func openStore(cfg *config.Config) (symbolStore, error) {
	if memoryStore {
		return index.NewMemoryStore(), nil
	}
	store, err := index.NewSQLiteStore(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", cfg.Store.Path, err)
	}
	return store, nil
}
