package usecase

// Prompts holds the system prompts sent with every LLM call. Empty fields fall
// back to the built-in defaults.
type Prompts struct {
	Classification      string
	PortfolioExtraction string
	CompanyNumber       string
	ChargeExtraction    string
}

func DefaultPrompts() Prompts {
	return Prompts{
		Classification: `You identify UK buy-to-let mortgage documents.
Reply with exactly one of these labels and nothing else:
ApplicationForm, PortfolioForm, CreditSearchForm, MortgageStatement, ASTS, Unknown.
ApplicationForm: a limited company mortgage application with applicant and company details.
PortfolioForm: a schedule listing rental properties with values, rents and mortgages.
CreditSearchForm: a credit report from a bureau such as Equifax or Experian.
MortgageStatement: a lender statement showing balance and payments for one loan.
ASTS: an assured shorthold tenancy agreement.
Unknown: anything else.`,
		PortfolioExtraction: `You extract a property portfolio schedule into JSON.
Return a single JSON object and no prose:
{"company_name": string, "properties": [{"property_address": string, "property_type": string,
"year_purchased": string, "current_estimated_value": number, "rental_income_per_month": number,
"mortgage_payment_per_month": number, "owner": string, "lender": string, "date_of_mortgage": string,
"mortgage_balance_outstanding": number, "annual_service_charge": number, "annual_ground_rent": number}]}
Use 0 for missing amounts and "" for missing text. One entry per property row.`,
		CompanyNumber: `You read a limited company mortgage application form.
Reply with the company registration number only, as printed (for example 03489004 or SC123456).
Reply NONE if no registration number is present.`,
		ChargeExtraction: `You read the text of a UK company registry charge page.
Return a single JSON object and no prose:
{"PersonsEntitled": string, "BriefDescription": string}
Use "" when a field is not shown.`,
	}
}

func (p Prompts) withDefaults() Prompts {
	def := DefaultPrompts()
	if p.Classification == "" {
		p.Classification = def.Classification
	}
	if p.PortfolioExtraction == "" {
		p.PortfolioExtraction = def.PortfolioExtraction
	}
	if p.CompanyNumber == "" {
		p.CompanyNumber = def.CompanyNumber
	}
	if p.ChargeExtraction == "" {
		p.ChargeExtraction = def.ChargeExtraction
	}
	return p
}
