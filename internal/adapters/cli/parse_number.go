package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kirillkom/portfolio-intake/internal/core/usecase"
)

func newParseNumberCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "parse-number [text]",
		Short: "Extract a company number from text",
		Long: `Applies the company number rules used on LLM replies to free text:
eight digits, two letters followed by six digits, or a 6-8 character token.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			number := usecase.ParseCompanyNumber(strings.Join(args, " "))
			if number == "" || strings.EqualFold(number, "NONE") {
				return errors.New("no company number found")
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), number)
			return err
		},
	}
}
