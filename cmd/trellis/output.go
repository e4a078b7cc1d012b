package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/trellisplan/trellis/internal/rpc"
)

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

// printObject renders one object for humans.
func printObject(o *rpc.ObjectResult) {
	fmt.Printf("%s  [%s] %s\n", o.ID, o.Status, o.Title)
	fmt.Printf("  kind: %s  priority: %s\n", o.Kind, o.Priority)
	if o.Parent != "" {
		fmt.Printf("  parent: %s\n", o.Parent)
	}
	if len(o.Prerequisites) > 0 {
		fmt.Printf("  prerequisites: %s\n", strings.Join(o.Prerequisites, ", "))
	}
	if o.Worktree != "" {
		fmt.Printf("  worktree: %s\n", o.Worktree)
	}
	fmt.Printf("  created: %s  updated: %s\n",
		o.Created.Format("2006-01-02 15:04"), o.Updated.Format("2006-01-02 15:04"))
	if len(o.Children) > 0 {
		fmt.Println("  children:")
		for _, c := range o.Children {
			fmt.Printf("    %s  [%s] %s\n", c.ID, c.Status, c.Title)
		}
	}
}

// printTaskLine renders one task in list output.
func printTaskLine(o rpc.ObjectResult) {
	fmt.Printf("%-6s %-12s %s  %s\n", o.Priority, o.Status, o.ID, o.Title)
}
