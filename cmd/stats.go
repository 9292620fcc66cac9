package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/abhisek/learngraph/internal/store"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show a learner's awards and session history",
	RunE: func(cmd *cobra.Command, args []string) error {
		user, err := requireUser(cmd)
		if err != nil {
			return err
		}
		limit, _ := cmd.Flags().GetInt("limit")

		st, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer st.Close()
		ctx := cmd.Context()

		hist, err := st.SessionRepo().LatestHistory(ctx, user)
		if err != nil {
			return err
		}
		awards, err := st.EventRepo().QueryAwards(ctx, store.QueryOpts{UserID: user, Limit: limit})
		if err != nil {
			return err
		}

		fmt.Println(titleStyle.Render("Stats for " + user))
		fmt.Printf("Sessions completed:  %d\n", hist.Sessions)
		fmt.Printf("Current streak:      %d\n", hist.Streak)

		if len(awards) == 0 {
			fmt.Println(hintStyle.Render("\nNo awards yet."))
			return nil
		}
		points := 0
		byRarity := map[string]int{}
		for _, a := range awards {
			points += a.Points
			byRarity[string(a.Rarity)]++
		}
		fmt.Printf("Points (last %d):    %d\n", len(awards), points)
		fmt.Println()
		fmt.Printf("%-16s  %-10s  %-8s  %6s  %s\n", "When", "Kind", "Rarity", "Points", "Reason")
		fmt.Println(rule(80))
		for _, a := range awards {
			fmt.Printf("%-16s  %-10s  %-8s  %6d  %s\n",
				a.Timestamp.Local().Format("2006-01-02 15:04"), a.Kind, a.Rarity, a.Points, a.Reason)
		}
		return nil
	},
}

func init() {
	statsCmd.Flags().StringP("user", "u", "", "Learner id")
	statsCmd.Flags().IntP("limit", "n", 50, "Number of awards to show")
}
