package cmd

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete a learner and all of their mastery data",
	RunE: func(cmd *cobra.Command, args []string) error {
		user, err := requireUser(cmd)
		if err != nil {
			return err
		}
		yes, _ := cmd.Flags().GetBool("yes")
		if !yes {
			fmt.Fprintf(cmd.OutOrStdout(), "Delete learner %s and all their progress? [y/N] ", user)
			in := bufio.NewScanner(cmd.InOrStdin())
			if !in.Scan() || strings.ToLower(strings.TrimSpace(in.Text())) != "y" {
				fmt.Fprintln(cmd.OutOrStdout(), "Aborted.")
				return nil
			}
		}

		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.graph.DeleteLearner(cmd.Context(), user); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Deleted", user)
		return nil
	},
}

func init() {
	resetCmd.Flags().StringP("user", "u", "", "Learner id")
	resetCmd.Flags().BoolP("yes", "y", false, "Skip the confirmation prompt")
}
