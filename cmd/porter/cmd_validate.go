package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"porter/internal/pattern"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Load and validate every pattern document",
	Long: `Validate the pattern directory against the capability registry.
Every defect a document carries is reported: unknown capabilities, malformed
templates, forward references, duplicate bindings and unresolvable output
keys all block activation.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := buildRegistry()
		if err != nil {
			return err
		}
		lib, err := pattern.LoadDir(cfg.Patterns.Dir, reg)
		if err != nil {
			return err
		}
		fmt.Printf("%d pattern(s) valid\n", lib.Len())
		for _, key := range lib.Keys() {
			fmt.Println(" ", key)
		}
		return nil
	},
}
