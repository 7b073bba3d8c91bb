package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"

	"github.com/alucardeht/code-fader/internal/daemon"
	"github.com/alucardeht/code-fader/internal/logger"
	"github.com/alucardeht/code-fader/internal/lsp"
)

var log = logger.ForComponent("main")

var serveCmd = &cobra.Command{
	Use:   CmdServe,
	Short: "Run the daemon",
	Long: `Run the daemon in the foreground. It listens on the configured unix socket,
starts language servers on demand and persists symbol indexes in the store.
Only one daemon runs per lock file.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg := appConfig
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	atexit.Register(func() {
		if err := store.Close(); err != nil {
			log.Warn("store close failed", "error", err)
		}
	})

	manager := lsp.NewManager(cfg.LSP)
	atexit.Register(func() {
		if err := manager.Close(); err != nil {
			log.Warn("language server shutdown failed", "error", err)
		}
	})

	d, err := daemon.New(daemon.Options{
		Config:     cfg,
		ConfigPath: resolvedConfigPath(),
		Store:      store,
		Symbols:    lsp.NewSymbolProvider(manager),
		Highlights: lsp.NewHighlightProvider(manager),
		Servers:    manager,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.LSP.AutoStart {
		go startServers(ctx, manager)
	}

	return d.ListenAndServe(ctx)
}

// startServers launches every installed server rooted at the working
// directory so the first selection does not pay the startup cost.
func startServers(ctx context.Context, manager *lsp.Manager) {
	root, err := os.Getwd()
	if err != nil {
		return
	}
	for _, lang := range manager.InstalledLanguages() {
		if err := manager.StartProcess(ctx, lang, root); err != nil {
			log.Warn("auto-start failed", "language", lang, "error", err)
		}
	}
}
