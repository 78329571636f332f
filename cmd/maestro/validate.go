package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Violet-Site-Systems/VEXEL-sub003/internal/seed"
	"github.com/Violet-Site-Systems/VEXEL-sub003/internal/validator"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <bundle.yaml>...",
		Short: "Check seed bundles without starting the server",
		Long: `validate parses each bundle and runs the checks the server applies at
registration time: schema, agent fields, step references and dependency
cycles. All problems of a bundle are reported together.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := validator.New()
			if err != nil {
				return fmt.Errorf("create validator: %w", err)
			}
			failed := 0
			for _, path := range args {
				b, err := seed.Load(path)
				if err == nil {
					err = b.Validate(v)
				}
				if err != nil {
					failed++
					fmt.Fprintf(cmd.ErrOrStderr(), "%s: invalid\n%v\n", path, err)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (%d agents, %d workflows)\n",
					path, len(b.Agents), len(b.Workflows))
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d bundles invalid", failed, len(args))
			}
			return nil
		},
	}
}
