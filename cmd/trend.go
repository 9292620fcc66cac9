package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var trendCmd = &cobra.Command{
	Use:   "trend",
	Short: "Show how a learner's mastery moved over a window",
	RunE: func(cmd *cobra.Command, args []string) error {
		user, err := requireUser(cmd)
		if err != nil {
			return err
		}
		window, _ := cmd.Flags().GetDuration("window")

		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		rep, err := a.progress.GetTrend(cmd.Context(), user, window)
		if err != nil {
			return err
		}
		fmt.Printf("%s  %s → %s\n", titleStyle.Render("Trend for "+user),
			rep.Since.Local().Format("2006-01-02 15:04"), rep.Until.Local().Format("2006-01-02 15:04"))
		if len(rep.Concepts) == 0 {
			fmt.Println("No mastery recorded yet.")
			return nil
		}

		fmt.Printf("%-24s  %-24s  %5s  %7s  %6s  %7s  %s\n", "ID", "Title", "Start", "Current", "Delta", "Updates", "Flags")
		fmt.Println(rule(96))
		for _, c := range rep.Concepts {
			var flags string
			if c.Stagnant {
				flags += warnStyle.Render("stagnant ")
			}
			if c.Gap {
				flags += badStyle.Render("gap")
			}
			fmt.Printf("%-24s  %-24s  %5.2f  %7.2f  %s  %7d  %s\n",
				truncate(c.NodeID, 24), truncate(c.Title, 24), c.Start, c.Current, signed(c.Delta), c.Updates, flags)
		}
		fmt.Println(rule(96))
		fmt.Printf("Mean change %s\n", signed(rep.MeanDelta))
		if len(rep.Stagnant) > 0 {
			fmt.Println(warnStyle.Render("Stuck on:"), rep.Stagnant)
		}
		if len(rep.Gaps) > 0 {
			fmt.Println(badStyle.Render("Prerequisite gaps:"), rep.Gaps)
		}
		return nil
	},
}

func init() {
	trendCmd.Flags().StringP("user", "u", "", "Learner id")
	trendCmd.Flags().Duration("window", 0, "Look-back window (default from config, e.g. 168h)")
}
