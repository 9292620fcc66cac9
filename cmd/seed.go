package cmd

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/abhisek/learngraph/internal/curriculum"
)

var seedCmd = &cobra.Command{
	Use:   "seed <curriculum.yaml>",
	Short: "Load a curriculum file into the knowledge graph",
	Long: `Applies concepts, skills, lessons, quizzes and their prerequisite edges
from a YAML curriculum. Existing nodes are kept, so seeding twice is safe.
With --watch the file is reapplied whenever it changes until interrupted.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		watch, _ := cmd.Flags().GetBool("watch")

		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		cur, err := curriculum.LoadFile(args[0])
		if err != nil {
			return err
		}
		res, err := curriculum.Apply(cmd.Context(), a.graph, cur)
		if err != nil {
			return err
		}
		printApplyResult(cur.Name, res)

		if !watch {
			return nil
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		w, err := curriculum.NewWatcher(args[0], a.graph,
			curriculum.WithWatchLogger(logger),
			curriculum.OnApply(func(r curriculum.Result, err error) {
				if err != nil {
					fmt.Println(badStyle.Render("reload failed:"), err)
					return
				}
				printApplyResult(cur.Name, r)
			}))
		if err != nil {
			return err
		}
		if err := w.Start(ctx); err != nil {
			return err
		}
		defer w.Stop()

		fmt.Println(hintStyle.Render("watching " + args[0] + ", Ctrl-C to stop"))
		<-ctx.Done()
		return nil
	},
}

func printApplyResult(name string, r curriculum.Result) {
	fmt.Printf("%s  %d nodes added, %d edges added, %d nodes already present\n",
		titleStyle.Render(name), r.NodesAdded, r.EdgesAdded, r.NodesSkipped)
}

func init() {
	seedCmd.Flags().BoolP("watch", "w", false, "Reapply the file when it changes")
}
