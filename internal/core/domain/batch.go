package domain

import "time"

type BatchSummary struct {
	TotalDocuments      int  `json:"total_documents"`
	ValidDocuments      int  `json:"valid_documents"`
	InvalidDocuments    int  `json:"invalid_documents"`
	ProcessingCompleted bool `json:"processing_completed"`
}

// BatchResult is the aggregate for one uploaded batch. It is owned by a single
// orchestrator call until persisted.
type BatchResult struct {
	PortfolioID      string               `json:"portfolio_id"`
	CompanyInfo      *PortfolioExtraction `json:"company_info,omitempty"`
	CompanyNumber    string               `json:"company_number,omitempty"`
	Charges          []ChargeRecord       `json:"charges"`
	Corroboration    *CorroborationResult `json:"corroboration,omitempty"`
	ValidDocuments   []ValidDocument      `json:"valid_documents"`
	InvalidDocuments []InvalidDocument    `json:"invalid_documents"`
	Summary          BatchSummary         `json:"summary"`
	ProcessingTime   time.Duration        `json:"processing_time_ns"`
	CreatedAt        time.Time            `json:"created_at"`
}

func NewBatchResult(portfolioID string, createdAt time.Time) *BatchResult {
	return &BatchResult{
		PortfolioID:      portfolioID,
		Charges:          []ChargeRecord{},
		ValidDocuments:   []ValidDocument{},
		InvalidDocuments: []InvalidDocument{},
		CreatedAt:        createdAt,
	}
}

func (b *BatchResult) Summarize(completed bool) {
	b.Summary = BatchSummary{
		TotalDocuments:      len(b.ValidDocuments) + len(b.InvalidDocuments),
		ValidDocuments:      len(b.ValidDocuments),
		InvalidDocuments:    len(b.InvalidDocuments),
		ProcessingCompleted: completed,
	}
}
