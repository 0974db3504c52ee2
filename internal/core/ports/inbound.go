package ports

import (
	"context"

	"github.com/kirillkom/portfolio-intake/internal/core/domain"
)

// PortfolioProcessor is the inbound contract for batch intake.
type PortfolioProcessor interface {
	Process(ctx context.Context, portfolioID string, docs []domain.RawDocument) (*domain.BatchResult, error)
}

// PortfolioReader is the inbound read model for finished batches.
type PortfolioReader interface {
	GetByPortfolioID(ctx context.Context, portfolioID string) (*domain.BatchResult, error)
}

// RegistryCorroborator captures company registry pages for a company number.
type RegistryCorroborator interface {
	Corroborate(ctx context.Context, companyNumber string) (domain.CorroborationResult, error)
}

// BatchExporter renders a finished batch as a spreadsheet workbook.
type BatchExporter interface {
	ExportXLSX(ctx context.Context, portfolioID string) ([]byte, error)
}
