package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var cacheCmd = &cobra.Command{
	Use:   CmdCache,
	Short: "Inspect or reset the persistent symbol store",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Count the stored symbol indexes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		store, err := openStore(appConfig)
		if err != nil {
			return err
		}
		defer store.Close()

		stats, err := store.Stats(cmd.Context())
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		if formatJSON {
			return json.NewEncoder(w).Encode(stats)
		}
		fmt.Fprintf(w, "store:       %s\n", appConfig.Store.Path)
		fmt.Fprintf(w, "symbol maps: %d\n", stats.SymbolMaps)
		fmt.Fprintf(w, "file mtimes: %d\n", stats.FileMtimes)
		if stats.Other > 0 {
			fmt.Fprintf(w, "other keys:  %d\n", stats.Other)
		}
		return nil
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every stored symbol index",
	Long: `Delete every stored symbol index. A running daemon keeps its in-memory
copies until the files change or it restarts.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		store, err := openStore(appConfig)
		if err != nil {
			return err
		}
		defer store.Close()

		n, err := store.Clear(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "removed %d entries\n", n)
		return nil
	},
}

func init() {
	cacheStatsCmd.Flags().BoolVar(&formatJSON, FlagJSON, false, "print the stats as JSON")
	cacheCmd.AddCommand(cacheStatsCmd, cacheClearCmd)
}
