package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hupe1980/meshflow/pipeline"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <pipeline.yaml>...",
		Short: "Check pipeline documents for structural errors",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			failed := 0

			for _, path := range args {
				if _, err := pipeline.Load(path); err != nil {
					fmt.Fprintf(cmd.OutOrStdout(), "%s: invalid\n%v\n", path, err)
					failed++
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: ok\n", path)
			}

			if failed > 0 {
				return fmt.Errorf("%d of %d pipelines invalid", failed, len(args))
			}

			return nil
		},
	}
}
