package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/abhisek/learngraph/internal/planner"
)

var recommendCmd = &cobra.Command{
	Use:   "recommend <target>",
	Short: "Show what a learner should study next toward a goal",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		user, err := requireUser(cmd)
		if err != nil {
			return err
		}
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		rec, err := a.planner.RecommendNext(cmd.Context(), user, args[0], limit)
		if errors.Is(err, planner.ErrCyclicPrerequisites) {
			return fmt.Errorf("the prerequisites of %q form a cycle; fix the curriculum", args[0])
		}
		if err != nil {
			return err
		}
		a.metrics.Recommended(len(rec.Items))

		if rec.AlreadyMastered {
			fmt.Println(okStyle.Render("✓"), args[0], "is already mastered.")
			return nil
		}
		threshold := a.planner.Threshold()
		fmt.Println(titleStyle.Render("Next steps toward " + args[0]))
		fmt.Printf("%-3s  %-24s  %-28s  %-22s  %s\n", "#", "ID", "Title", "Mastery", "Criticality")
		fmt.Println(rule(96))
		for i, it := range rec.Items {
			fmt.Printf("%-3d  %-24s  %-28s  %s %4.2f  %11.2f\n",
				i+1, truncate(it.NodeID, 24), truncate(it.Title, 28),
				bar(it.Mastery, threshold, 16), it.Mastery, it.Criticality)
		}
		return nil
	},
}

func init() {
	recommendCmd.Flags().StringP("user", "u", "", "Learner id")
	recommendCmd.Flags().IntP("limit", "n", 0, "Maximum items (0 uses the configured default)")
}
