package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"porter/internal/pattern"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List loaded patterns",
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := buildRegistry()
		if err != nil {
			return err
		}
		lib, err := pattern.LoadDir(cfg.Patterns.Dir, reg)
		if err != nil {
			return err
		}
		for _, key := range lib.Keys() {
			p, _ := lib.Get(key)
			fmt.Printf("%-32s steps=%d outputs=%v\n", key, len(p.Steps), p.OutputKeys)
		}
		return nil
	},
}

var capabilitiesCmd = &cobra.Command{
	Use:   "capabilities",
	Short: "List registered capabilities and their contracts",
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := buildRegistry()
		if err != nil {
			return err
		}
		for _, c := range reg.Contracts() {
			required := make([]string, 0, len(c.RequiredArgs))
			for name, typ := range c.RequiredArgs {
				required = append(required, fmt.Sprintf("%s:%s", name, typ))
			}
			sort.Strings(required)
			fmt.Printf("%-20s %s\n", c.Name, c.Doc)
			if len(required) > 0 {
				fmt.Printf("%20s required: %v\n", "", required)
			}
		}
		return nil
	},
}
