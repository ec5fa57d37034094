package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/caffeineduck/atomhost/registry"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate FILE...",
		Short: "Check modules without loading them",
		Long: `Check that each file is a well-formed WebAssembly module whose
exports can be called: every exported function takes and returns 64-bit
terms. Prints the module name and its callable functions.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runValidate,
	}
}

func runValidate(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	for _, path := range args {
		_, mod, err := readModule(path)
		if err != nil {
			return err
		}
		info := registry.InfoFromModule(mod)
		fmt.Fprintf(out, "%s: ok (%d bytes, %d functions)\n", info.Name, info.Size, len(info.Functions))
		for _, f := range info.Functions {
			fmt.Fprintf(out, "  %s\n", f)
		}
	}
	return nil
}
