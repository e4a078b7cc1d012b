package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/trellisplan/trellis/internal/rpc"
)

var claimCmd = &cobra.Command{
	Use:   "claim [task-id]",
	Short: "Claim the next available task, or a specific one",
	Long: `Without arguments, claims the highest-priority unblocked open task.
With --scope, candidates are restricted to one container's subtree.
With a task id, claims exactly that task; --force additionally
overrides its current status and records an audit entry.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		scope, _ := cmd.Flags().GetString("scope")
		force, _ := cmd.Flags().GetBool("force")
		worktree, _ := cmd.Flags().GetString("worktree")

		claimArgs := &rpc.ClaimNextTaskArgs{Scope: scope, ForceClaim: force, Worktree: worktree}
		if len(args) == 1 {
			claimArgs.TaskID = args[0]
		}

		client, root, err := connect()
		if err != nil {
			return err
		}
		defer client.Close()
		claimArgs.ProjectRoot = root

		res, err := client.ClaimNextTask(claimArgs)
		if err != nil {
			return err
		}
		if jsonOutput {
			printJSON(res)
			return nil
		}
		if res.Forced {
			fmt.Printf("force-claimed %s: %s\n", res.Task.ID, res.Task.Title)
		} else {
			fmt.Printf("claimed %s: %s\n", res.Task.ID, res.Task.Title)
		}
		return nil
	},
}

var completeCmd = &cobra.Command{
	Use:   "complete <task-id>",
	Short: "Complete a task and move its file to the done directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		summary, _ := cmd.Flags().GetString("summary")
		files, _ := cmd.Flags().GetStringSlice("file")

		client, root, err := connect()
		if err != nil {
			return err
		}
		defer client.Close()

		res, err := client.CompleteTask(&rpc.CompleteTaskArgs{
			ProjectRoot:  root,
			TaskID:       args[0],
			Summary:      summary,
			FilesChanged: files,
		})
		if err != nil {
			return err
		}
		if jsonOutput {
			printJSON(res)
			return nil
		}
		if res.AlreadyDone {
			fmt.Printf("%s is already done\n", res.Task.ID)
		} else {
			fmt.Printf("completed %s\n", res.Task.ID)
		}
		return nil
	},
}

func init() {
	claimCmd.Flags().String("scope", "", "Restrict candidates to a container's subtree")
	claimCmd.Flags().Bool("force", false, "Claim regardless of current status (requires a task id)")
	claimCmd.Flags().String("worktree", "", "Worktree to stamp on the claimed task")
	rootCmd.AddCommand(claimCmd)

	completeCmd.Flags().String("summary", "", "One-line completion note for the task log")
	completeCmd.Flags().StringSlice("file", nil, "Changed file recorded in the task log (repeatable)")
	rootCmd.AddCommand(completeCmd)
}
