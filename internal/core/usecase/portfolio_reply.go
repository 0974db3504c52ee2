package usecase

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/kirillkom/portfolio-intake/internal/core/domain"
)

const portfolioSchemaJSON = `{
  "type": "object",
  "required": ["properties"],
  "properties": {
    "company_name": {"type": ["string", "null"]},
    "properties": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "property_address": {"type": ["string", "null"]},
          "property_type": {"type": ["string", "null"]},
          "year_purchased": {"type": ["string", "number", "null"]},
          "current_estimated_value": {"type": ["number", "string", "null"]},
          "rental_income_per_month": {"type": ["number", "string", "null"]},
          "mortgage_payment_per_month": {"type": ["number", "string", "null"]},
          "owner": {"type": ["string", "null"]},
          "lender": {"type": ["string", "null"]},
          "date_of_mortgage": {"type": ["string", "null"]},
          "mortgage_balance_outstanding": {"type": ["number", "string", "null"]},
          "annual_service_charge": {"type": ["number", "string", "null"]},
          "annual_ground_rent": {"type": ["number", "string", "null"]}
        }
      }
    }
  }
}`

var portfolioSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("portfolio.json", strings.NewReader(portfolioSchemaJSON)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile("portfolio.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
})

type portfolioReply struct {
	CompanyName flexString      `json:"company_name"`
	Properties  []propertyReply `json:"properties"`
}

type propertyReply struct {
	Address                    flexString `json:"property_address"`
	Type                       flexString `json:"property_type"`
	YearPurchased              flexString `json:"year_purchased"`
	CurrentEstimatedValue      flexNumber `json:"current_estimated_value"`
	RentalIncomePerMonth       flexNumber `json:"rental_income_per_month"`
	MortgagePaymentPerMonth    flexNumber `json:"mortgage_payment_per_month"`
	Owner                      flexString `json:"owner"`
	Lender                     flexString `json:"lender"`
	DateOfMortgage             flexString `json:"date_of_mortgage"`
	MortgageBalanceOutstanding flexNumber `json:"mortgage_balance_outstanding"`
	AnnualServiceCharge        flexNumber `json:"annual_service_charge"`
	AnnualGroundRent           flexNumber `json:"annual_ground_rent"`
}

func parsePortfolioReply(reply string) (domain.PortfolioExtraction, error) {
	payload := []byte(portfolioPayload(reply))

	var generic any
	if err := json.Unmarshal(payload, &generic); err != nil {
		return domain.PortfolioExtraction{}, fmt.Errorf("reply is not json: %w", err)
	}
	schema, err := portfolioSchema()
	if err != nil {
		return domain.PortfolioExtraction{}, err
	}
	if err := schema.Validate(generic); err != nil {
		return domain.PortfolioExtraction{}, fmt.Errorf("json does not match schema: %w", err)
	}

	var decoded portfolioReply
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return domain.PortfolioExtraction{}, fmt.Errorf("decode portfolio: %w", err)
	}

	out := domain.PortfolioExtraction{
		CompanyName: string(decoded.CompanyName),
		Properties:  make([]domain.Property, 0, len(decoded.Properties)),
	}
	for _, p := range decoded.Properties {
		out.Properties = append(out.Properties, domain.Property{
			Address:                    string(p.Address),
			Type:                       string(p.Type),
			YearPurchased:              string(p.YearPurchased),
			CurrentEstimatedValue:      float64(p.CurrentEstimatedValue),
			RentalIncomePerMonth:       float64(p.RentalIncomePerMonth),
			MortgagePaymentPerMonth:    float64(p.MortgagePaymentPerMonth),
			Owner:                      string(p.Owner),
			Lender:                     string(p.Lender),
			DateOfMortgage:             string(p.DateOfMortgage),
			MortgageBalanceOutstanding: float64(p.MortgageBalanceOutstanding),
			AnnualServiceCharge:        float64(p.AnnualServiceCharge),
			AnnualGroundRent:           float64(p.AnnualGroundRent),
		})
	}
	return out, nil
}

// portfolioPayload accepts either an object or a bare property array.
func portfolioPayload(reply string) string {
	arrStart := strings.Index(reply, "[")
	objStart := strings.Index(reply, "{")
	if arrStart >= 0 && (objStart < 0 || arrStart < objStart) {
		if end := strings.LastIndex(reply, "]"); end > arrStart {
			return `{"properties":` + reply[arrStart:end+1] + `}`
		}
	}
	return extractJSONObject(reply)
}

// flexNumber accepts numbers and currency strings such as "£1,250.50".
type flexNumber float64

func (n *flexNumber) UnmarshalJSON(b []byte) error {
	raw := strings.TrimSpace(string(b))
	if raw == "" || raw == "null" {
		*n = 0
		return nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*n = flexNumber(parseAmount(s))
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	*n = flexNumber(f)
	return nil
}

func parseAmount(s string) float64 {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r >= '0' && r <= '9', r == '.', r == '-':
			return r
		default:
			return -1
		}
	}, s)
	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0
	}
	return v
}

type flexString string

func (s *flexString) UnmarshalJSON(b []byte) error {
	raw := strings.TrimSpace(string(b))
	if raw == "null" {
		*s = ""
		return nil
	}
	if strings.HasPrefix(raw, `"`) {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		*s = flexString(strings.TrimSpace(str))
		return nil
	}
	*s = flexString(raw)
	return nil
}
