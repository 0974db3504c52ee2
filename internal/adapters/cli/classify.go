package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/kirillkom/portfolio-intake/internal/core/domain"
	"github.com/kirillkom/portfolio-intake/internal/core/usecase"
)

type classifyOutput struct {
	File       string              `json:"file"`
	Kind       domain.DocumentKind `json:"document_kind"`
	Confidence float64             `json:"confidence"`
	Accepted   bool                `json:"accepted"`
	Error      string              `json:"error,omitempty"`
}

func newClassifyCommand(load ServiceLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "classify [file...]",
		Short: "Classify documents",
		Long:  `Extracts text from each file and prints the document type, confidence and whether it passes the gate.`,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			services, closeFn, err := load(ctx)
			if err != nil {
				return fmt.Errorf("init services: %w", err)
			}
			defer closeFn()

			outputs := make([]classifyOutput, 0, len(args))
			for _, path := range args {
				outputs = append(outputs, classifyFile(ctx, services, path))
			}
			return printJSON(cmd, outputs)
		},
	}
}

func classifyFile(ctx context.Context, services *Services, path string) classifyOutput {
	out := classifyOutput{File: path, Kind: domain.KindUnknown}
	content, err := os.ReadFile(path)
	if err != nil {
		out.Error = err.Error()
		return out
	}
	name := filepath.Base(path)
	doc := domain.RawDocument{
		Filename:    name,
		ContentType: usecase.NormalizeContentType("", name),
		Size:        int64(len(content)),
		Content:     content,
	}

	text, err := services.Extractor.Extract(ctx, doc)
	if err != nil {
		out.Error = err.Error()
		return out
	}
	result := services.Classifier.Classify(ctx, text)
	out.Kind = result.Kind
	out.Confidence = result.Confidence
	out.Accepted = services.Classifier.Accept(result)
	out.Error = result.ErrorMessage
	return out
}
