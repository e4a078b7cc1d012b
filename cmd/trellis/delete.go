package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/trellisplan/trellis/internal/rpc"
)

var deleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete an object; containers cascade to their descendants",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")
		id := args[0]
		isContainer := strings.HasPrefix(id, "P-") || strings.HasPrefix(id, "E-") || strings.HasPrefix(id, "F-")
		if isContainer && !force {
			fmt.Printf("delete %s and everything under it? [y/N] ", id)
			line, _ := bufio.NewReader(os.Stdin).ReadString('\n')
			if answer := strings.ToLower(strings.TrimSpace(line)); answer != "y" && answer != "yes" {
				fmt.Println("aborted")
				return nil
			}
		}

		client, root, err := connect()
		if err != nil {
			return err
		}
		defer client.Close()

		res, err := client.DeleteObject(&rpc.DeleteObjectArgs{ProjectRoot: root, ID: id})
		if err != nil {
			return err
		}
		if jsonOutput {
			printJSON(res)
			return nil
		}
		if res.Cascade {
			fmt.Printf("deleted %s and its descendants\n", res.ID)
		} else {
			fmt.Printf("deleted %s\n", res.ID)
		}
		return nil
	},
}

func init() {
	deleteCmd.Flags().BoolP("force", "f", false, "Skip the cascade confirmation")
	rootCmd.AddCommand(deleteCmd)
}
