package cmd

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/abhisek/learngraph/internal/mastery"
	"github.com/abhisek/learngraph/internal/pipeline"
	"github.com/abhisek/learngraph/internal/store"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show a learner's mastery, or one archived session",
	RunE: func(cmd *cobra.Command, args []string) error {
		sessionID, _ := cmd.Flags().GetString("session")
		if sessionID != "" {
			return showSession(cmd, sessionID)
		}
		user, err := requireUser(cmd)
		if err != nil {
			return err
		}

		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		links := a.graph.View(user).MasteryLinks()
		if len(links) == 0 {
			fmt.Printf("No mastery recorded for %s yet.\n", user)
			return nil
		}
		sort.Slice(links, func(i, j int) bool { return links[i].TargetID < links[j].TargetID })

		now := time.Now()
		threshold := cfg.Mastery.Threshold
		fmt.Println(titleStyle.Render("Mastery for " + user))
		fmt.Printf("%-24s  %-24s  %-21s  %-9s  %5s  %4s  %s\n",
			"ID", "Title", "Mastery", "State", "Conf", "Evid", "Last evaluated")
		fmt.Println(rule(110))
		for _, l := range links {
			title := l.TargetID
			if n, err := a.graph.GetNode(l.TargetID); err == nil {
				title = n.Title()
			}
			eff := a.mastery.Effective(l, now)
			state := a.mastery.State(l, true, now)
			last := "-"
			if t := l.Time(mastery.PropEvaluatedAt); !t.IsZero() {
				last = t.Local().Format("2006-01-02 15:04")
			}
			fmt.Printf("%-24s  %-24s  %s %4.2f  %-9s  %5.2f  %4.0f  %s\n",
				truncate(l.TargetID, 24), truncate(title, 24), bar(eff, threshold, 16), eff,
				stateLabel(state), l.Float(mastery.PropConfidence), l.Float(mastery.PropEvidenceCount), last)
		}

		recent, err := a.store.SessionRepo().RecentSessions(cmd.Context(), user, 5)
		if err != nil {
			return err
		}
		if len(recent) > 0 {
			fmt.Println()
			fmt.Println(titleStyle.Render("Recent sessions"))
			for _, s := range recent {
				fmt.Printf("%s  %-36s  %-10s  %-6s  %s\n",
					s.StartedAt.Local().Format("2006-01-02 15:04"), s.ID, s.Status, s.Kind, s.TargetID)
			}
		}
		return nil
	},
}

func stateLabel(s mastery.MasteryState) string {
	label := fmt.Sprintf("%-9s", s)
	switch s {
	case mastery.StateMastered:
		return okStyle.Render(label)
	case mastery.StateRusty:
		return warnStyle.Render(label)
	}
	return label
}

func showSession(cmd *cobra.Command, id string) error {
	st, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer st.Close()

	s, err := st.SessionRepo().GetSession(cmd.Context(), id)
	if errors.Is(err, store.ErrSessionNotFound) {
		return fmt.Errorf("session %s not found", id)
	}
	if err != nil {
		return err
	}
	printSnapshot(s.Snapshot())
	return nil
}

func printSnapshot(s *pipeline.Snapshot) {
	fmt.Printf("Session:   %s\n", s.ID)
	fmt.Printf("Learner:   %s\n", s.UserID)
	fmt.Printf("Goals:     %v\n", s.GoalIDs)
	fmt.Printf("Status:    %s (stage %s)\n", s.Status, s.Stage)
	if s.TargetID != "" {
		fmt.Printf("Target:    %s (%s)\n", s.TargetID, s.Kind)
	}
	if s.Evaluation != nil && s.Evaluation.Assessed {
		fmt.Printf("Score:     %.2f\n", s.Evaluation.Score)
	}
	if s.Err != "" {
		fmt.Printf("Error:     %s\n", badStyle.Render(s.Err))
	}
	fmt.Println()
	fmt.Printf("%-4s  %-18s  %-16s  %8s  %s\n", "Seq", "Stage", "Outcome", "Took", "Message")
	fmt.Println(rule(80))
	for _, r := range s.Log {
		msg := r.Message
		if r.Error != "" {
			msg = badStyle.Render(r.Error)
		}
		fmt.Printf("%-4d  %-18s  %-16s  %8s  %s\n", r.Seq, r.Stage, r.Outcome, r.Duration.Round(time.Millisecond), msg)
	}
}

func init() {
	statusCmd.Flags().StringP("user", "u", "", "Learner id")
	statusCmd.Flags().String("session", "", "Show one archived session instead")
}
