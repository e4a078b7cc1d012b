package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/trellisplan/trellis/internal/rpc"
)

var createCmd = &cobra.Command{
	Use:   "create <id>",
	Short: "Create a project, epic, feature or task",
	Long: `Creates a planning object. The kind is inferred from the id prefix:
P- project, E- epic, F- feature, T- task. Containers need their parent
to exist; tasks without a parent land in the standalone backlog.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, root, err := connect()
		if err != nil {
			return err
		}
		defer client.Close()

		title, _ := cmd.Flags().GetString("title")
		parent, _ := cmd.Flags().GetString("parent")
		status, _ := cmd.Flags().GetString("status")
		priority, _ := cmd.Flags().GetString("priority")
		worktree, _ := cmd.Flags().GetString("worktree")
		prereqs, _ := cmd.Flags().GetStringSlice("prereq")
		body, _ := cmd.Flags().GetString("body")

		obj, err := client.CreateObject(&rpc.CreateObjectArgs{
			ProjectRoot:   root,
			ID:            args[0],
			Parent:        parent,
			Title:         title,
			Status:        status,
			Priority:      priority,
			Worktree:      worktree,
			Prerequisites: prereqs,
			Body:          body,
		})
		if err != nil {
			return err
		}
		if jsonOutput {
			printJSON(obj)
			return nil
		}
		fmt.Printf("created %s: %s\n", obj.ID, obj.Title)
		return nil
	},
}

func init() {
	createCmd.Flags().StringP("title", "t", "", "Title (required)")
	createCmd.Flags().StringP("parent", "p", "", "Parent container id")
	createCmd.Flags().String("status", "", "Initial status (default: open for tasks, draft otherwise)")
	createCmd.Flags().String("priority", "", "Priority: high, normal or low (default normal)")
	createCmd.Flags().String("worktree", "", "Worktree association")
	createCmd.Flags().StringSlice("prereq", nil, "Prerequisite task id (repeatable)")
	createCmd.Flags().String("body", "", "Markdown body")
	_ = createCmd.MarkFlagRequired("title")
	rootCmd.AddCommand(createCmd)
}
