package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/trellisplan/trellis/internal/rpc"
)

var backlogCmd = &cobra.Command{
	Use:   "backlog",
	Short: "List tasks in claim order",
	RunE: func(cmd *cobra.Command, args []string) error {
		scope, _ := cmd.Flags().GetString("scope")
		statuses, _ := cmd.Flags().GetStringSlice("status")
		priorities, _ := cmd.Flags().GetStringSlice("priority")

		client, root, err := connect()
		if err != nil {
			return err
		}
		defer client.Close()

		res, err := client.ListBacklog(&rpc.ListBacklogArgs{
			ProjectRoot: root,
			Scope:       scope,
			Status:      statuses,
			Priority:    priorities,
		})
		if err != nil {
			return err
		}
		if jsonOutput {
			printJSON(res)
			return nil
		}
		if len(res.Tasks) == 0 {
			fmt.Println("no matching tasks")
			return nil
		}
		for _, t := range res.Tasks {
			printTaskLine(t)
		}
		return nil
	},
}

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Show the task that has waited longest in review",
	RunE: func(cmd *cobra.Command, args []string) error {
		scope, _ := cmd.Flags().GetString("scope")

		client, root, err := connect()
		if err != nil {
			return err
		}
		defer client.Close()

		obj, err := client.GetNextReviewableTask(&rpc.GetNextReviewableTaskArgs{
			ProjectRoot: root,
			Scope:       scope,
		})
		if err != nil {
			return err
		}
		if jsonOutput {
			printJSON(obj)
			return nil
		}
		printObject(obj)
		return nil
	},
}

var completedCmd = &cobra.Command{
	Use:   "completed <id>",
	Short: "List done work under an object, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, root, err := connect()
		if err != nil {
			return err
		}
		defer client.Close()

		res, err := client.GetCompletedObjects(&rpc.GetCompletedObjectsArgs{
			ProjectRoot: root,
			ID:          args[0],
		})
		if err != nil {
			return err
		}
		if jsonOutput {
			printJSON(res)
			return nil
		}
		if len(res.Objects) == 0 {
			fmt.Println("nothing completed yet")
			return nil
		}
		for _, o := range res.Objects {
			fmt.Printf("%s  %s  %s\n", o.Completed.Format("2006-01-02 15:04"), o.Object.ID, o.Object.Title)
		}
		return nil
	},
}

func init() {
	backlogCmd.Flags().String("scope", "", "Restrict to a container's subtree")
	backlogCmd.Flags().StringSlice("status", nil, "Filter by status (repeatable)")
	backlogCmd.Flags().StringSlice("priority", nil, "Filter by priority (repeatable)")
	rootCmd.AddCommand(backlogCmd)

	reviewCmd.Flags().String("scope", "", "Restrict to a container's subtree")
	rootCmd.AddCommand(reviewCmd)

	rootCmd.AddCommand(completedCmd)
}
