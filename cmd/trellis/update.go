package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/trellisplan/trellis/internal/rpc"
)

var updateCmd = &cobra.Command{
	Use:   "update <id>",
	Short: "Update an object's front-matter fields or body",
	Long: `Patches fields given as --set key=value pairs. The prerequisites
field takes a comma-separated list; status changes must follow the
lifecycle, and tasks reach done only through complete.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sets, _ := cmd.Flags().GetStringArray("set")
		bodyFlag := cmd.Flags().Lookup("body")
		if len(sets) == 0 && !bodyFlag.Changed {
			return fmt.Errorf("nothing to update; pass --set or --body")
		}

		fields := make(map[string]any, len(sets))
		for _, kv := range sets {
			key, value, ok := strings.Cut(kv, "=")
			if !ok {
				return fmt.Errorf("malformed --set %q; expected key=value", kv)
			}
			if key == "prerequisites" {
				list := []any{}
				for _, id := range strings.Split(value, ",") {
					if id = strings.TrimSpace(id); id != "" {
						list = append(list, id)
					}
				}
				fields[key] = list
				continue
			}
			fields[key] = value
		}

		client, root, err := connect()
		if err != nil {
			return err
		}
		defer client.Close()

		updateArgs := &rpc.UpdateObjectArgs{ProjectRoot: root, ID: args[0], Fields: fields}
		if bodyFlag.Changed {
			body, _ := cmd.Flags().GetString("body")
			updateArgs.Body = &body
		}
		obj, err := client.UpdateObject(updateArgs)
		if err != nil {
			return err
		}
		if jsonOutput {
			printJSON(obj)
			return nil
		}
		fmt.Printf("updated %s\n", obj.ID)
		return nil
	},
}

func init() {
	updateCmd.Flags().StringArray("set", nil, "Field to set as key=value (repeatable)")
	updateCmd.Flags().String("body", "", "Replace the Markdown body")
	rootCmd.AddCommand(updateCmd)
}
