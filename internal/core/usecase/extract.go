package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kirillkom/portfolio-intake/internal/core/domain"
	"github.com/kirillkom/portfolio-intake/internal/core/ports"
)

// ExtractionEngine turns classified document text into structured results.
type ExtractionEngine struct {
	llm     ports.ChatCompleter
	prompts Prompts
}

func NewExtractionEngine(llm ports.ChatCompleter, prompts Prompts) *ExtractionEngine {
	return &ExtractionEngine{
		llm:     llm,
		prompts: prompts.withDefaults(),
	}
}

// Extract dispatches on kind. Kinds without an extractor return ErrUnsupportedKind.
func (e *ExtractionEngine) Extract(ctx context.Context, kind domain.DocumentKind, text string) (domain.ExtractionResult, error) {
	switch kind {
	case domain.KindPortfolioForm:
		portfolio, err := e.ExtractPortfolio(ctx, text)
		if err != nil {
			return domain.ExtractionResult{}, err
		}
		return domain.ExtractionResult{Kind: kind, Portfolio: &portfolio}, nil
	case domain.KindApplicationForm:
		number, err := e.ExtractCompanyNumber(ctx, text)
		if err != nil {
			return domain.ExtractionResult{}, err
		}
		return domain.ExtractionResult{Kind: kind, CompanyNumber: &number}, nil
	default:
		return domain.ExtractionResult{}, domain.WrapError(domain.ErrUnsupportedKind, "extract", fmt.Errorf("kind %s", kind))
	}
}

func (e *ExtractionEngine) ExtractPortfolio(ctx context.Context, text string) (domain.PortfolioExtraction, error) {
	reply, err := e.complete(ctx, "extract portfolio", e.prompts.PortfolioExtraction, text)
	if err != nil {
		return domain.PortfolioExtraction{}, err
	}

	portfolio, err := parsePortfolioReply(reply)
	if err != nil {
		slog.Warn("portfolio_reply_unparsable", "error", err, "reply_chars", len(reply))
		return domain.PortfolioExtraction{}, domain.WrapError(domain.ErrUnparsable, "extract portfolio", err)
	}
	slog.Info("portfolio_extracted",
		"company_name", portfolio.CompanyName,
		"property_count", len(portfolio.Properties),
	)
	return portfolio, nil
}

func (e *ExtractionEngine) ExtractCompanyNumber(ctx context.Context, text string) (domain.CompanyNumberResult, error) {
	reply, err := e.complete(ctx, "extract company number", e.prompts.CompanyNumber, text)
	if err != nil {
		return domain.CompanyNumberResult{}, err
	}

	number := ParseCompanyNumber(reply)
	if number == "" || number == "NONE" {
		return domain.CompanyNumberResult{}, domain.WrapError(
			domain.ErrUnparsable,
			"extract company number",
			fmt.Errorf("no company number in reply %q", truncateRunes(reply, 200)),
		)
	}
	return domain.CompanyNumberResult{CompanyNumber: number, RawReply: reply}, nil
}

// ExtractCharge reads the OCR text of a charge page screenshot.
func (e *ExtractionEngine) ExtractCharge(ctx context.Context, text string) (domain.ChargeRecord, error) {
	reply, err := e.complete(ctx, "extract charge", e.prompts.ChargeExtraction, text)
	if err != nil {
		return domain.ChargeRecord{}, err
	}

	var raw map[string]any
	if err := json.Unmarshal([]byte(extractJSONObject(reply)), &raw); err != nil {
		return domain.ChargeRecord{}, domain.WrapError(domain.ErrUnparsable, "extract charge", err)
	}
	record := domain.ChargeRecord{}
	for key, value := range raw {
		str, _ := value.(string)
		switch normalizeKey(key) {
		case "personsentitled":
			record.PersonsEntitled = strings.TrimSpace(str)
		case "briefdescription":
			record.BriefDescription = strings.TrimSpace(str)
		}
	}
	if record.PersonsEntitled == "" && record.BriefDescription == "" {
		return domain.ChargeRecord{}, domain.WrapError(domain.ErrUnparsable, "extract charge", errors.New("reply has no charge fields"))
	}
	return record, nil
}

func (e *ExtractionEngine) complete(ctx context.Context, operation, prompt, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", domain.WrapError(domain.ErrInvalidInput, operation, errors.New("empty text"))
	}
	reply, err := e.llm.Complete(ctx, prompt, truncateRunes(text, maxPromptChars))
	if err != nil {
		return "", fmt.Errorf("%s: %w", operation, err)
	}
	return reply, nil
}

func normalizeKey(key string) string {
	key = strings.ToLower(key)
	key = strings.ReplaceAll(key, "_", "")
	key = strings.ReplaceAll(key, " ", "")
	return key
}

// extractJSONObject cuts the outermost object out of a reply that may carry
// markdown fences or prose.
func extractJSONObject(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		return raw[start : end+1]
	}
	return raw
}
