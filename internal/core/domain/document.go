package domain

import "strings"

type DocumentKind string

const (
	KindApplicationForm   DocumentKind = "ApplicationForm"
	KindPortfolioForm     DocumentKind = "PortfolioForm"
	KindCreditSearchForm  DocumentKind = "CreditSearchForm"
	KindMortgageStatement DocumentKind = "MortgageStatement"
	KindTenancyAgreement  DocumentKind = "TenancyAgreement"
	KindUnknown           DocumentKind = "Unknown"
)

// KnownKinds lists every kind the classifier may return, Unknown last.
var KnownKinds = []DocumentKind{
	KindApplicationForm,
	KindPortfolioForm,
	KindCreditSearchForm,
	KindMortgageStatement,
	KindTenancyAgreement,
	KindUnknown,
}

// ParseDocumentKind matches a label case-insensitively. "ASTS" is accepted as
// the short label for tenancy agreements.
func ParseDocumentKind(label string) (DocumentKind, bool) {
	label = strings.TrimSpace(label)
	if strings.EqualFold(label, "ASTS") {
		return KindTenancyAgreement, true
	}
	for _, kind := range KnownKinds {
		if strings.EqualFold(label, string(kind)) {
			return kind, true
		}
	}
	return KindUnknown, false
}

// RawDocument is one uploaded file as received from the caller.
type RawDocument struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
	Content     []byte `json:"-"`
}

type ClassificationResult struct {
	Kind          DocumentKind `json:"document_kind"`
	Confidence    float64      `json:"confidence"`
	ExtractedText string       `json:"-"`
	Succeeded     bool         `json:"succeeded"`
	ErrorMessage  string       `json:"error_message,omitempty"`
	Reasoning     string       `json:"reasoning,omitempty"`
}

type ValidDocument struct {
	Filename   string       `json:"filename"`
	Kind       DocumentKind `json:"document_kind"`
	Confidence float64      `json:"confidence"`
	Size       int64        `json:"size"`
	StoredPath string       `json:"stored_path,omitempty"`
}

type InvalidDocument struct {
	Filename       string        `json:"filename"`
	ExpectedType   string        `json:"expected_type"`
	IdentifiedType *DocumentKind `json:"identified_type,omitempty"`
	Confidence     *float64      `json:"confidence,omitempty"`
	Reason         string        `json:"reason"`
	Size           int64         `json:"size"`
	StoredPath     string        `json:"stored_path,omitempty"`
}
