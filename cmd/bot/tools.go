package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"

	"github.com/cuongpo/Aura-Farming-Core/internal/keys"
	"github.com/cuongpo/Aura-Farming-Core/internal/ranking"
	"github.com/cuongpo/Aura-Farming-Core/internal/storage"
)

var deriveCmd = &cobra.Command{
	Use:   "derive <identity>...",
	Short: "Print the derived wallet address of each identity",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		deriver, err := keys.NewDeriver(cfg.WalletPepper)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "IDENTITY\tADDRESS\tSALT")
		for _, identity := range args {
			d, err := deriver.Derive(identity)
			if err != nil {
				return fmt.Errorf("derive %q: %w", identity, err)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\n", identity, d.Address.Hex(), d.Salt.Text(16))
		}
		return w.Flush()
	},
}

var leaderboardLimit int

var leaderboardCmd = &cobra.Command{
	Use:   "leaderboard <chat-id>",
	Short: "Print the current week's leaderboard of a chat",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := storage.New(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("init storage: %w", err)
		}
		defer store.Close()

		loc, err := cfg.Location()
		if err != nil {
			return err
		}
		ranker := ranking.New(store, clockwork.NewRealClock(), loc, log)

		rows, err := ranker.Leaderboard(cmd.Context(), args[0], leaderboardLimit)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "no activity for week %s\n", ranker.CurrentWeek())
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintf(w, "RANK\tUSER\tMESSAGES\n")
		for _, r := range rows {
			fmt.Fprintf(w, "%d\t%s\t%d\n", r.Rank, r.DisplayName(), r.Total)
		}
		return w.Flush()
	},
}

var eraseCmd = &cobra.Command{
	Use:   "erase <identity>",
	Short: "Delete an identity and its activity, then re-rank the affected groups",
	Long: `Delete an identity and its activity, then re-rank the affected groups.

Prefer running this while serve is stopped. Counts still buffered by a
running serve for the erased user are dropped when they are flushed.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		store, err := storage.New(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("init storage: %w", err)
		}
		defer store.Close()

		loc, err := cfg.Location()
		if err != nil {
			return err
		}
		ranker := ranking.New(store, clockwork.NewRealClock(), loc, log)

		groups, err := store.EraseUser(ctx, args[0])
		if err != nil {
			return fmt.Errorf("erase %q: %w", args[0], err)
		}

		week := ranker.CurrentWeek()
		for _, g := range groups {
			if err := ranker.Recompute(ctx, g, week); err != nil {
				log.Error("recompute after erase", "group_id", g, "error", err)
			}
		}

		log.Info("identity erased", "identity", args[0], "groups", len(groups))
		return nil
	},
}

func init() {
	leaderboardCmd.Flags().IntVarP(&leaderboardLimit, "limit", "n", 10, "number of rows")
}
