package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/abhisek/learngraph/internal/spacedrep"
)

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "List concepts due for review",
	RunE: func(cmd *cobra.Command, args []string) error {
		user, err := requireUser(cmd)
		if err != nil {
			return err
		}
		all, _ := cmd.Flags().GetBool("all")

		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		now := time.Now()
		reviews := a.reviews.Due(user, now)
		if all {
			reviews = a.reviews.Schedule(user)
		}
		if len(reviews) == 0 {
			if all {
				fmt.Printf("Nothing mastered by %s yet.\n", user)
			} else {
				fmt.Println(okStyle.Render("Nothing due. ") + hintStyle.Render("Use --all to see the full schedule."))
			}
			return nil
		}

		fmt.Println(titleStyle.Render("Reviews for " + user))
		fmt.Printf("%-24s  %-24s  %-10s  %5s  %4s  %s\n", "ID", "Title", "Status", "Stage", "Hits", "Next review")
		fmt.Println(rule(96))
		for _, rs := range reviews {
			title := rs.NodeID
			if n, err := a.graph.GetNode(rs.NodeID); err == nil {
				title = n.Title()
			}
			fmt.Printf("%-24s  %-24s  %-10s  %5d  %4d  %s\n",
				truncate(rs.NodeID, 24), truncate(title, 24), reviewLabel(rs.Status(now)),
				rs.Stage, rs.Hits, nextReviewLabel(rs, now))
		}
		return nil
	},
}

func reviewLabel(s spacedrep.ReviewStatus) string {
	label := fmt.Sprintf("%-10s", s)
	switch s {
	case spacedrep.ReviewOverdue:
		return badStyle.Render(label)
	case spacedrep.ReviewDue:
		return warnStyle.Render(label)
	case spacedrep.ReviewGraduated:
		return okStyle.Render(label)
	}
	return dimStyle.Render(label)
}

func nextReviewLabel(rs spacedrep.ReviewState, now time.Time) string {
	date := rs.NextReview.Local().Format("2006-01-02")
	if rs.IsDue(now) {
		return fmt.Sprintf("%s (%.0fd overdue)", date, rs.OverdueDays(now))
	}
	return fmt.Sprintf("%s (in %dd)", date, rs.DaysUntilReview(now))
}

func init() {
	reviewCmd.Flags().StringP("user", "u", "", "Learner id")
	reviewCmd.Flags().Bool("all", false, "Show every scheduled review, not just due ones")
}
