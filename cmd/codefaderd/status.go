package main

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/alucardeht/code-fader/internal/daemon"
	"github.com/alucardeht/code-fader/internal/lsp"
)

var statusCmd = &cobra.Command{
	Use:   CmdStatus,
	Short: "Show the status of a running daemon",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

var serversCmd = &cobra.Command{
	Use:   CmdServers,
	Short: "List configured language servers and whether they are installed",
	Args:  cobra.NoArgs,
	RunE:  runServers,
}

func init() {
	statusCmd.Flags().BoolVar(&formatJSON, FlagJSON, false, "print the status as JSON")
}

func runStatus(cmd *cobra.Command, _ []string) error {
	cfg := appConfig
	lm := daemon.NewLifecycleManager(cfg.Daemon.LockPath, cfg.Daemon.SocketPath)
	if !lm.SocketResponsive() {
		if pid, alive := lm.RunningPID(); alive {
			return fmt.Errorf("daemon (pid %d) is not answering on %s", pid, cfg.Daemon.SocketPath)
		}
		return fmt.Errorf("daemon is not running")
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
	defer cancel()

	client, err := daemon.Dial(ctx, cfg.Daemon.SocketPath)
	if err != nil {
		return err
	}
	defer client.Close()

	st, err := client.Status(ctx)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	if formatJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(st)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "version\t%s\n", st.Version)
	fmt.Fprintf(tw, "pid\t%d\n", st.PID)
	fmt.Fprintf(tw, "uptime\t%s\n", st.Uptime)
	fmt.Fprintf(tw, "sessions\t%d\n", st.Sessions)
	fmt.Fprintf(tw, "documents\t%d\n", st.Documents)
	fmt.Fprintf(tw, "selections\t%d\n", st.Selections)
	fmt.Fprintf(tw, "cache\thits=%d misses=%d provider=%d corrupt=%d\n",
		st.Cache.Hits, st.Cache.Misses, st.Cache.ProviderCalls, st.Cache.Corrupt)
	if st.Store != nil {
		fmt.Fprintf(tw, "store\tsymbol_maps=%d file_mtimes=%d\n", st.Store.SymbolMaps, st.Store.FileMtimes)
	}
	if st.Warmer != nil {
		fmt.Fprintf(tw, "warmer\tqueued=%d warmed=%d failed=%d skipped=%d\n",
			st.Warmer.InQueue, st.Warmer.Warmed, st.Warmer.Failed, st.Warmer.Skipped)
	}

	langs := make([]string, 0, len(st.LSP))
	for lang := range st.LSP {
		langs = append(langs, string(lang))
	}
	sort.Strings(langs)
	for _, lang := range langs {
		s := st.LSP[lsp.Language(lang)]
		fmt.Fprintf(tw, "lsp %s\t%s circuit=%s docs=%d\n", lang, s.State, s.Circuit, s.OpenDocs)
	}
	return tw.Flush()
}

func runServers(cmd *cobra.Command, _ []string) error {
	manager := lsp.NewManager(appConfig.LSP)
	defer manager.Close()

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "LANGUAGE\tCOMMAND\tINSTALLED")
	for _, lang := range manager.EnabledLanguages() {
		installed := "no"
		if manager.IsLanguageInstalled(lang) {
			installed = "yes"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", lang, appConfig.LSP.Servers[lang].Command, installed)
	}
	return tw.Flush()
}
