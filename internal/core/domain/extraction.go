package domain

// Property is one row of a portfolio form.
type Property struct {
	Address                    string  `json:"property_address"`
	Type                       string  `json:"property_type"`
	YearPurchased              string  `json:"year_purchased"`
	CurrentEstimatedValue      float64 `json:"current_estimated_value"`
	RentalIncomePerMonth       float64 `json:"rental_income_per_month"`
	MortgagePaymentPerMonth    float64 `json:"mortgage_payment_per_month"`
	Owner                      string  `json:"owner"`
	Lender                     string  `json:"lender"`
	DateOfMortgage             string  `json:"date_of_mortgage"`
	MortgageBalanceOutstanding float64 `json:"mortgage_balance_outstanding"`
	AnnualServiceCharge        float64 `json:"annual_service_charge"`
	AnnualGroundRent           float64 `json:"annual_ground_rent"`
}

type PortfolioExtraction struct {
	CompanyName string     `json:"company_name"`
	Properties  []Property `json:"properties"`
}

type CompanyNumberResult struct {
	CompanyNumber string `json:"company_number"`
	RawReply      string `json:"raw_reply,omitempty"`
}

// ChargeRecord summarizes one captured charge page.
type ChargeRecord struct {
	PersonsEntitled  string `json:"persons_entitled"`
	BriefDescription string `json:"brief_description"`
	SourcePath       string `json:"source_path,omitempty"`
}

// ExtractionResult carries exactly one variant, selected by Kind.
type ExtractionResult struct {
	Kind          DocumentKind         `json:"document_kind"`
	Portfolio     *PortfolioExtraction `json:"portfolio,omitempty"`
	CompanyNumber *CompanyNumberResult `json:"company_number,omitempty"`
}
