package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/abhisek/learngraph/internal/content"
	"github.com/abhisek/learngraph/internal/diagnosis"
	"github.com/abhisek/learngraph/internal/pipeline"
	"github.com/abhisek/learngraph/internal/session"
)

var studyCmd = &cobra.Command{
	Use:   "study <goal>...",
	Short: "Run study sessions toward one or more goals",
	Long: `Starts a session for the learner: the next concept toward the first
unmastered goal is chosen, a lesson or quiz is served, your answers are
scored and mastery is updated. After each session you can start another.
End of input cancels the open session.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		user, err := requireUser(cmd)
		if err != nil {
			return err
		}
		showMetrics, _ := cmd.Flags().GetBool("metrics")
		once, _ := cmd.Flags().GetBool("once")

		out := cmd.OutOrStdout()
		var extra []session.Option
		if verbose {
			extra = append(extra, session.WithSink(session.SinkFunc(func(r pipeline.StageResult) {
				fmt.Fprintln(out, hintStyle.Render(fmt.Sprintf("  · %s %s %s", r.Stage, r.Outcome, r.Message)))
			})))
		}
		a, err := openApp(cmd, extra...)
		if err != nil {
			return err
		}
		defer a.Close()

		in := bufio.NewScanner(cmd.InOrStdin())
		for {
			done, err := studyOnce(cmd, a, in, user, args)
			if err != nil || done || once {
				if showMetrics {
					fmt.Fprintln(out)
					_ = a.metrics.WriteSummary(out)
				}
				return err
			}
			fmt.Fprint(out, "\nAnother session? [Y/n] ")
			if !in.Scan() || strings.HasPrefix(strings.ToLower(strings.TrimSpace(in.Text())), "n") {
				return nil
			}
		}
	},
}

// studyOnce runs one session. done reports that nothing is left to study
// or input ended.
func studyOnce(cmd *cobra.Command, a *app, in *bufio.Scanner, user string, goals []string) (done bool, err error) {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	id, err := a.sessions.StartSession(ctx, user, goals)
	if err != nil {
		return true, err
	}
	for {
		snap, err := a.sessions.GetSessionStatus(ctx, id)
		if err != nil {
			return true, err
		}
		if snap.Status.Terminal() {
			return printOutcome(out, snap), nil
		}
		if snap.Stage != pipeline.StageAwaitingResponse || snap.Payload == nil {
			return true, fmt.Errorf("session %s stopped at %s", id, snap.Stage)
		}

		resp, err := askResponse(out, in, snap.Payload)
		if errors.Is(err, io.EOF) {
			if cerr := a.sessions.Cancel(ctx, id); cerr != nil {
				return true, cerr
			}
			fmt.Fprintln(out, "\nSession cancelled.")
			return true, nil
		}
		if err != nil {
			return true, err
		}
		_, err = a.sessions.SubmitResponse(ctx, id, resp)
		if errors.Is(err, pipeline.ErrInvalidResponse) {
			fmt.Fprintln(out, badStyle.Render("That response was not accepted:"), err)
			continue
		}
		if err != nil {
			return true, err
		}
	}
}

func askResponse(out io.Writer, in *bufio.Scanner, p *content.Payload) (pipeline.Response, error) {
	fmt.Fprintln(out)
	header := titleStyle.Render(p.Title) + dimStyle.Render("  "+string(p.Kind)+" · "+string(p.Difficulty))
	if p.Source == "cache" {
		header += warnStyle.Render("  (saved copy)")
	}
	body := header
	if p.Body != "" {
		body += "\n\n" + p.Body
	}
	fmt.Fprintln(out, cardStyle.Render(body))

	resp := pipeline.Response{Answers: map[string]string{}}
	if p.Kind == content.KindLesson && len(p.Items) == 0 {
		fmt.Fprint(out, hintStyle.Render("Press Enter when you have read the lesson. "))
		if !in.Scan() {
			return resp, io.EOF
		}
		resp.Acknowledged = true
		return resp, nil
	}

	for i, it := range p.Items {
		fmt.Fprintf(out, "\n%d. %s\n", i+1, it.Prompt)
		for j, c := range it.Choices {
			fmt.Fprintf(out, "   %s %s\n", dimStyle.Render(strconv.Itoa(j+1)+")"), c)
		}
		fmt.Fprint(out, "> ")
		if !in.Scan() {
			if err := in.Err(); err != nil {
				return resp, err
			}
			return resp, io.EOF
		}
		if ans := strings.TrimSpace(in.Text()); ans != "" {
			resp.Answers[it.ID] = ans
		}
	}
	resp.Acknowledged = p.Kind == content.KindLesson
	return resp, nil
}

// printOutcome reports a finished session and whether studying should stop.
func printOutcome(out io.Writer, s *pipeline.Snapshot) bool {
	if ev := s.Evaluation; ev != nil {
		fmt.Fprintln(out)
		for _, f := range ev.Feedback {
			mark := okStyle.Render("✓")
			if !f.Correct {
				mark = badStyle.Render("✗")
			}
			line := fmt.Sprintf("%s %s", mark, f.ItemID)
			if !f.Correct {
				line += dimStyle.Render(fmt.Sprintf("  you said %q, expected %q", f.Given, f.Expected))
				if f.Diagnosis != "" && f.Diagnosis != diagnosis.CategoryUnclassified {
					line += warnStyle.Render(" (" + string(f.Diagnosis) + ")")
				}
			}
			fmt.Fprintln(out, line)
			if !f.Correct && f.Explanation != "" {
				fmt.Fprintln(out, hintStyle.Render("  "+f.Explanation))
			}
		}
		if ev.Assessed {
			fmt.Fprintf(out, "Score %.0f%%  mastery %.2f → %.2f (%s)\n",
				ev.Score*100, ev.Update.Old, ev.Update.New, signed(ev.Update.New-ev.Update.Old))
		}
	}
	if r := s.Reinforcement; r != nil {
		fmt.Fprintln(out, titleStyle.Render(r.Message))
		for _, aw := range r.Awards {
			fmt.Fprintf(out, "  %s %s %s\n", warnStyle.Render("★"), aw.Rarity, aw.Reason)
		}
		if r.Streak.Length > 0 {
			fmt.Fprintln(out, dimStyle.Render(fmt.Sprintf("  streak %d, next milestone at %d", r.Streak.Length, r.Streak.Next)))
		}
	}

	switch s.Status {
	case pipeline.StatusComplete:
		if s.TargetID == "" {
			fmt.Fprintln(out, okStyle.Render("Every goal is already mastered."))
			return true
		}
		return false
	case pipeline.StatusFailed:
		fmt.Fprintln(out, badStyle.Render("Session failed:"), s.Err)
		return true
	}
	fmt.Fprintf(out, "Session %s.\n", s.Status)
	return true
}

func init() {
	studyCmd.Flags().StringP("user", "u", "", "Learner id")
	studyCmd.Flags().Bool("once", false, "Stop after one session")
	studyCmd.Flags().Bool("metrics", false, "Print session metrics on exit")
}
