package cmd

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/abhisek/learngraph/internal/graph"
)

var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Browse the content graph",
}

var graphListCmd = &cobra.Command{
	Use:   "list",
	Short: "List concepts and skills with their prerequisites",
	RunE: func(cmd *cobra.Command, args []string) error {
		typ, _ := cmd.Flags().GetString("type")
		all, _ := cmd.Flags().GetBool("all")

		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		types := []graph.NodeType{graph.NodeConcept, graph.NodeSkill}
		if typ != "" {
			t := graph.NodeType(typ)
			if !t.Valid() || t == graph.NodeUser {
				return fmt.Errorf("unknown content type %q", typ)
			}
			types = []graph.NodeType{t}
		}

		var nodes []graph.Node
		for _, n := range a.graph.Nodes(types...) {
			if n.OwnerUserID != "" || (!n.Active && !all) {
				continue
			}
			nodes = append(nodes, n)
		}
		if len(nodes) == 0 {
			fmt.Println("No content found. Load a curriculum with `learngraph seed`.")
			return nil
		}
		sort.Slice(nodes, func(i, j int) bool { return nodes[i].Seq < nodes[j].Seq })

		fmt.Printf("%-24s  %-8s  %-32s  %s\n", "ID", "Type", "Title", "Requires")
		fmt.Println(rule(100))
		for _, n := range nodes {
			in, err := a.graph.IncomingEdges(n.ID, graph.EdgePrerequisite)
			if err != nil {
				return err
			}
			reqs := make([]string, 0, len(in))
			for _, e := range in {
				if e.Weight < 1 {
					reqs = append(reqs, fmt.Sprintf("%s(%.2f)", e.SourceID, e.Weight))
				} else {
					reqs = append(reqs, e.SourceID)
				}
			}
			title := n.Title()
			if len(title) > 32 {
				title = title[:29] + "..."
			}
			line := fmt.Sprintf("%-24s  %-8s  %-32s  %s", truncate(n.ID, 24), n.Type, title, strings.Join(reqs, ", "))
			if !n.Active {
				line = dimStyle.Render(line + "  (inactive)")
			}
			fmt.Println(line)
		}
		fmt.Printf("\n%d nodes\n", len(nodes))
		return nil
	},
}

var graphDeactivateCmd = &cobra.Command{
	Use:   "deactivate <id>",
	Short: "Hide a content node from planning without deleting it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.graph.Deactivate(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Println("Deactivated", args[0])
		return nil
	},
}

func init() {
	graphListCmd.Flags().String("type", "", "Filter by node type (concept, skill, lesson, quiz)")
	graphListCmd.Flags().Bool("all", false, "Include inactive nodes")

	graphCmd.AddCommand(graphListCmd)
	graphCmd.AddCommand(graphDeactivateCmd)
}
