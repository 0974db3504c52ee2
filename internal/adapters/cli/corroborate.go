package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newCorroborateCommand(load ServiceLoader) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "corroborate [companyNumber]",
		Short: "Capture registry pages for a company",
		Long: `Opens the company registry page for the given company number, captures
screenshots of every tab and each charge link, and prints the result as JSON.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			services, closeFn, err := load(ctx)
			if err != nil {
				return fmt.Errorf("init services: %w", err)
			}
			defer closeFn()

			result, err := services.Corroborator.Corroborate(ctx, args[0])
			if err != nil {
				return fmt.Errorf("corroboration failed: %w", err)
			}
			return printJSON(cmd, result)
		},
	}
	cmd.Flags().DurationVarP(&timeout, "timeout", "t", 5*time.Minute, "overall deadline for the capture")
	return cmd
}
