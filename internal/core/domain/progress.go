package domain

import "time"

type ProgressStep string

const (
	StepDocumentValidation     ProgressStep = "DocumentValidation"
	StepPortfolioCompletion    ProgressStep = "PortfolioCompletion"
	StepCompanyHouseValidation ProgressStep = "CompanyHouseValidation"
	StepProcessingComplete     ProgressStep = "ProcessingComplete"
)

type ProgressStatus string

const (
	StatusInProgress ProgressStatus = "InProgress"
	StatusSuccess    ProgressStatus = "Success"
	StatusAlert      ProgressStatus = "Alert"
	StatusFailure    ProgressStatus = "Failure"
)

type ProgressEvent struct {
	PortfolioID string         `json:"portfolio_id"`
	Step        ProgressStep   `json:"step"`
	Status      ProgressStatus `json:"status"`
	Percent     int            `json:"percent"`
	Message     string         `json:"message"`
	Payload     any            `json:"payload,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
}

type DocumentValidationPayload struct {
	Total            int      `json:"total"`
	Valid            int      `json:"valid"`
	Invalid          int      `json:"invalid"`
	ValidFileNames   []string `json:"valid_file_names"`
	InvalidFileNames []string `json:"invalid_file_names"`
}

type PortfolioCompletionPayload struct {
	HasPortfolioData bool   `json:"has_portfolio_data"`
	CompanyName      string `json:"company_name,omitempty"`
	PropertyCount    int    `json:"property_count"`
}

type CompanyHouseValidationPayload struct {
	HasCompanyData bool   `json:"has_company_data"`
	CompanyNumber  string `json:"company_number,omitempty"`
	ChargeCount    int    `json:"charge_count"`
}

type ProcessingCompletePayload struct {
	ProcessingTime string `json:"processing_time"`
	Success        bool   `json:"success"`
	ErrorMessage   string `json:"error_message,omitempty"`
}
