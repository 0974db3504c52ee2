package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kirillkom/portfolio-intake/internal/core/domain"
	"github.com/kirillkom/portfolio-intake/internal/core/ports"
)

// Classifier is the part of the classification gate the CLI needs.
type Classifier interface {
	Classify(ctx context.Context, text string) domain.ClassificationResult
	Accept(result domain.ClassificationResult) bool
}

// Services are built on demand so commands that need no backends start fast.
type Services struct {
	Corroborator ports.RegistryCorroborator
	Extractor    ports.TextExtractor
	Classifier   Classifier
}

type ServiceLoader func(ctx context.Context) (*Services, func(), error)

func NewRootCommand(load ServiceLoader) *cobra.Command {
	root := &cobra.Command{
		Use:   "capture",
		Short: "Portfolio intake tools",
		Long: `Runs single steps of the portfolio intake pipeline from the command line:
registry corroboration for a company number, company number parsing and
document classification.`,
		SilenceUsage: true,
	}
	root.AddCommand(
		newCorroborateCommand(load),
		newParseNumberCommand(),
		newClassifyCommand(load),
	)
	return root
}

func printJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return err
}
