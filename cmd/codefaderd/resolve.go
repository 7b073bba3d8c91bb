package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/alucardeht/code-fader/internal/document"
	"github.com/alucardeht/code-fader/internal/fader"
	"github.com/alucardeht/code-fader/internal/index"
	"github.com/alucardeht/code-fader/internal/lsp"
	"github.com/alucardeht/code-fader/internal/types"
)

var resolveCmd = &cobra.Command{
	Use:   CmdResolve + " FILE LINE COL",
	Short: "Resolve the identifier at a position and print which lines stay visible",
	Long: `Resolve the identifier at LINE:COL (both 1-based) in FILE without a running
daemon. The word under the cursor is selected, a language server is started
for the file and the result is printed with 1-based line numbers.`,
	Args: cobra.ExactArgs(3),
	RunE: runResolve,
}

func init() {
	resolveCmd.Flags().BoolVar(&formatJSON, FlagJSON, false, "print the result as JSON")
}

type resolveOutput struct {
	File      string `json:"file"`
	Selection string `json:"selection"`
	Case      string `json:"case"`
	Kept      []int  `json:"kept"`
	Faded     []int  `json:"faded"`
}

func runResolve(cmd *cobra.Command, args []string) error {
	path, err := filepath.Abs(args[0])
	if err != nil {
		return err
	}
	line, err := parsePosition("LINE", args[1])
	if err != nil {
		return err
	}
	col, err := parsePosition("COL", args[2])
	if err != nil {
		return err
	}

	buf, err := document.Load(path)
	if err != nil {
		return err
	}
	sel, ok := buf.WordRangeAt(types.Position{Line: line - 1, Character: col - 1})
	if !ok {
		return fmt.Errorf("no identifier at %s:%d:%d", args[0], line, col)
	}

	cfg := appConfig
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	manager := lsp.NewManager(cfg.LSP)
	defer manager.Close()

	cache, err := index.NewCache(store, lsp.NewSymbolProvider(manager),
		func(ctx context.Context, doc index.Document) (int64, bool) {
			return document.ModTime(ctx, doc)
		},
		index.WithMemoryEntries(cfg.Store.MemoryEntries))
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.LSP.RequestTimeout+time.Minute)
	defer cancel()

	res := fader.NewResolver(cache, lsp.NewHighlightProvider(manager)).Resolve(ctx, buf, sel)

	out := resolveOutput{
		File:      path,
		Selection: buf.Text(sel),
		Case:      res.Case.String(),
		Kept:      keptLines(res.KeptLines),
		Faded:     oneBased(res.FadedLines()),
	}
	return printResolve(cmd.OutOrStdout(), out)
}

func parsePosition(name, s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("%s must be a positive integer, got %q", name, s)
	}
	return n, nil
}

func keptLines(intervals []types.LineInterval) []int {
	lines := []int{}
	for _, iv := range intervals {
		for l := iv.Start; l <= iv.End; l++ {
			lines = append(lines, l+1)
		}
	}
	return lines
}

func oneBased(lines []int) []int {
	out := make([]int, len(lines))
	for i, l := range lines {
		out[i] = l + 1
	}
	return out
}

func printResolve(w io.Writer, out resolveOutput) error {
	if formatJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	fmt.Fprintf(w, "selection: %s\n", out.Selection)
	fmt.Fprintf(w, "case:      %s\n", out.Case)
	fmt.Fprintf(w, "kept:      %s\n", joinLines(out.Kept))
	fmt.Fprintf(w, "faded:     %s\n", joinLines(out.Faded))
	return nil
}

func joinLines(lines []int) string {
	if len(lines) == 0 {
		return "-"
	}
	parts := make([]string, len(lines))
	for i, l := range lines {
		parts[i] = strconv.Itoa(l)
	}
	return strings.Join(parts, ",")
}
