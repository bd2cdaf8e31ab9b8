package cmd

import (
	"context"
	"fmt"
	"sort"

	"github.com/marcus/teer/internal/cache"
	"github.com/marcus/teer/internal/features"
	"github.com/marcus/teer/internal/models"
	"github.com/marcus/teer/internal/output"
	"github.com/marcus/teer/internal/syncconfig"
	"github.com/spf13/cobra"
)

var resultsCmd = &cobra.Command{
	Use:     "results",
	Short:   "Show winning numbers",
	GroupID: "betting",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		res, err := readResource(cmd.Context(), cache.ResourceResults, false)
		if err != nil {
			return err
		}
		results, err := cache.Decode[models.Result](res)
		if err != nil {
			output.Error("decode results: %v", err)
			return err
		}
		sort.Slice(results, func(i, j int) bool { return results[i].Date.After(results[j].Date) })
		if limit > 0 && len(results) > limit {
			results = results[:limit]
		}

		if jsonOut {
			return output.JSON(results)
		}
		printBanner(res)
		if len(results) == 0 {
			fmt.Println("No results.")
			return nil
		}
		for _, r := range results {
			fmt.Println(output.FormatResultLine(r))
		}
		return nil
	},
}

var betsCmd = &cobra.Command{
	Use:     "bets",
	Short:   "Show your bets, including ones waiting to sync",
	GroupID: "betting",
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")

		res, err := readResource(cmd.Context(), cache.ResourceBets, !all)
		if err != nil {
			return err
		}
		bets, err := cache.Decode[models.Bet](res)
		if err != nil {
			output.Error("decode bets: %v", err)
			return err
		}
		sort.Slice(bets, func(i, j int) bool { return bets[i].Date.After(bets[j].Date) })

		if jsonOut {
			return output.JSON(bets)
		}
		printBanner(res)
		if len(bets) == 0 {
			fmt.Println("No bets.")
			return nil
		}
		for _, b := range bets {
			fmt.Println(output.FormatBetShort(b))
		}
		return nil
	},
}

var transactionsCmd = &cobra.Command{
	Use:     "transactions",
	Aliases: []string{"tx"},
	Short:   "Show wallet transactions",
	GroupID: "betting",
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")

		res, err := readResource(cmd.Context(), cache.ResourceTransactions, !all)
		if err != nil {
			return err
		}
		txs, err := cache.Decode[models.Transaction](res)
		if err != nil {
			output.Error("decode transactions: %v", err)
			return err
		}
		sort.Slice(txs, func(i, j int) bool { return txs[i].Date.After(txs[j].Date) })

		if jsonOut {
			return output.JSON(txs)
		}
		printBanner(res)
		if len(txs) == 0 {
			fmt.Println("No transactions.")
			return nil
		}
		balance := 0
		for _, tx := range txs {
			balance += tx.Amount
			fmt.Println(output.FormatTransactionLine(tx))
		}
		fmt.Printf("\nNet: %s\n", output.FormatAmount(balance, true))
		return nil
	},
}

var balanceCmd = &cobra.Command{
	Use:     "balance",
	Aliases: []string{"wallet"},
	Short:   "Show the logged-in account and wallet balance",
	GroupID: "betting",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !syncconfig.IsAuthenticated() {
			output.Error("not logged in; run 'teer auth login' first")
			return fmt.Errorf("not logged in")
		}
		res, err := readResource(cmd.Context(), cache.ResourceUser, false)
		if err != nil {
			return err
		}
		users, err := cache.Decode[models.User](res)
		if err != nil {
			output.Error("decode user: %v", err)
			return err
		}

		if jsonOut {
			if len(users) == 0 {
				return output.JSON(nil)
			}
			return output.JSON(users[0])
		}
		printBanner(res)
		if len(users) == 0 {
			fmt.Println("No account details saved yet. Sync while online to fetch them.")
			return nil
		}
		u := users[0]
		fmt.Printf("User:    %s (#%d)\n", u.Username, u.ID)
		if u.Name != nil && *u.Name != "" {
			fmt.Printf("Name:    %s\n", *u.Name)
		}
		fmt.Printf("Balance: %s\n", output.FormatAmount(u.Balance, false))
		return nil
	},
}

// readResource reads through the cache. With byUser set, records are limited
// to the session user when one is logged in.
func readResource(ctx context.Context, name string, byUser bool) (*cache.Result, error) {
	a, err := openApp(ctx, appOptions{})
	if err != nil {
		output.Error("%v", err)
		return nil, err
	}
	defer a.Close()
	a.surfaceLostWrites(ctx)

	var filter cache.Filter
	if byUser {
		if s, err := a.store.GetSession(ctx); err == nil && s.UserID != models.AnonymousUserID {
			filter = cache.ByUser(s.UserID)
		}
	}

	res, err := a.reader.Read(ctx, name, filter)
	if err != nil {
		output.Error("read %s: %v", name, err)
		return nil, err
	}
	return res, nil
}

// printBanner explains where the data came from when it is not live.
func printBanner(res *cache.Result) {
	if res.Source == cache.SourceNone {
		output.Warning("local storage unavailable; no saved data to show")
		return
	}
	if banner := output.OfflineBanner(res.Source != cache.SourceLive && res.FetchErr == nil, res.Stale, res.LastSync); banner != "" {
		fmt.Println(banner)
	}
}

func init() {
	resultsCmd.Flags().Int("limit", 0, "Show at most this many days (0 = all)")
	betsCmd.Flags().Bool("all", false, "Include bets of every user in the cache")
	transactionsCmd.Flags().Bool("all", false, "Include transactions of every user in the cache")

	rootCmd.AddCommand(resultsCmd)
	rootCmd.AddCommand(betsCmd)
	rootCmd.AddCommand(balanceCmd)
	AddFeatureGatedCommand(features.TransactionsCache.Name, transactionsCmd)
}
