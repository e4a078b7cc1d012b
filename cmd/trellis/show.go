package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/trellisplan/trellis/internal/rpc"
)

var showCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show an object and its immediate children",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, root, err := connect()
		if err != nil {
			return err
		}
		defer client.Close()

		obj, err := client.GetObject(&rpc.GetObjectArgs{ProjectRoot: root, ID: args[0]})
		if err != nil {
			return err
		}
		if jsonOutput {
			printJSON(obj)
			return nil
		}
		printObject(obj)
		if showBody, _ := cmd.Flags().GetBool("body"); showBody && obj.Body != "" {
			fmt.Printf("\n%s\n", obj.Body)
		}
		return nil
	},
}

func init() {
	showCmd.Flags().Bool("body", false, "Print the Markdown body too")
	rootCmd.AddCommand(showCmd)
}
