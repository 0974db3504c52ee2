package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kirillkom/portfolio-intake/internal/core/domain"
	"github.com/kirillkom/portfolio-intake/internal/core/ports"
)

const maxPromptChars = 12000

type ClassificationPolicy struct {
	ExactMatchConfidence float64
	HeuristicConfidence  float64
	AcceptThreshold      float64
}

func DefaultClassificationPolicy() ClassificationPolicy {
	return ClassificationPolicy{
		ExactMatchConfidence: 0.8,
		HeuristicConfidence:  0.6,
		AcceptThreshold:      0.7,
	}
}

func (p ClassificationPolicy) normalize() ClassificationPolicy {
	def := DefaultClassificationPolicy()
	if p.ExactMatchConfidence <= 0 || p.ExactMatchConfidence > 1 {
		p.ExactMatchConfidence = def.ExactMatchConfidence
	}
	if p.HeuristicConfidence <= 0 || p.HeuristicConfidence > 1 {
		p.HeuristicConfidence = def.HeuristicConfidence
	}
	if p.AcceptThreshold <= 0 || p.AcceptThreshold > 1 {
		p.AcceptThreshold = def.AcceptThreshold
	}
	return p
}

// Accept reports whether a classified document may proceed to extraction.
func (p ClassificationPolicy) Accept(result domain.ClassificationResult) bool {
	return result.Succeeded &&
		result.Confidence >= p.AcceptThreshold &&
		result.Kind != domain.KindUnknown
}

type kindHint struct {
	kind    domain.DocumentKind
	needles []string
}

// Checked in order; the first hit wins.
var kindHints = []kindHint{
	{domain.KindApplicationForm, []string{"application form", "applicationform"}},
	{domain.KindPortfolioForm, []string{"portfolio form", "portfolioform"}},
	{domain.KindCreditSearchForm, []string{"credit search", "creditsearch", "equifax", "experian"}},
	{domain.KindMortgageStatement, []string{"mortgage statement", "mortgagestatement"}},
	{domain.KindTenancyAgreement, []string{"asts", "assured shorthold tenancy", "tenancy agreement"}},
}

type ClassificationGate struct {
	llm    ports.ChatCompleter
	prompt string
	policy ClassificationPolicy
}

func NewClassificationGate(llm ports.ChatCompleter, prompts Prompts, policy ClassificationPolicy) *ClassificationGate {
	return &ClassificationGate{
		llm:    llm,
		prompt: prompts.withDefaults().Classification,
		policy: policy.normalize(),
	}
}

func (g *ClassificationGate) Policy() ClassificationPolicy {
	return g.policy
}

func (g *ClassificationGate) Accept(result domain.ClassificationResult) bool {
	return g.policy.Accept(result)
}

// Classify never returns an error: failures are reported on the result.
func (g *ClassificationGate) Classify(ctx context.Context, text string) domain.ClassificationResult {
	if strings.TrimSpace(text) == "" {
		return domain.ClassificationResult{
			Kind:         domain.KindUnknown,
			Succeeded:    false,
			ErrorMessage: "No text could be extracted from the document",
		}
	}

	reply, err := g.llm.Complete(ctx, g.prompt, truncateRunes(text, maxPromptChars))
	if err != nil {
		slog.Warn("document_classification_failed", "error", err)
		return domain.ClassificationResult{
			Kind:          domain.KindUnknown,
			ExtractedText: text,
			Succeeded:     false,
			ErrorMessage:  fmt.Sprintf("Classification failed: %v", err),
		}
	}

	result := g.parseReply(reply)
	result.ExtractedText = text
	slog.Debug("document_classified",
		"kind", result.Kind,
		"confidence", result.Confidence,
		"succeeded", result.Succeeded,
	)
	return result
}

func (g *ClassificationGate) parseReply(reply string) domain.ClassificationResult {
	clean := strings.Trim(strings.TrimSpace(reply), "\"'`.")
	if clean == "" {
		return domain.ClassificationResult{
			Kind:         domain.KindUnknown,
			Succeeded:    false,
			ErrorMessage: "Empty response from classifier",
		}
	}

	if kind, ok := domain.ParseDocumentKind(clean); ok {
		return domain.ClassificationResult{
			Kind:       kind,
			Confidence: g.policy.ExactMatchConfidence,
			Succeeded:  true,
			Reasoning:  fmt.Sprintf("Document type identified as: %s", kind),
		}
	}

	lower := strings.ToLower(clean)
	mapped := domain.KindUnknown
	for _, hint := range kindHints {
		if containsAny(lower, hint.needles) {
			mapped = hint.kind
			break
		}
	}
	result := domain.ClassificationResult{
		Kind:       mapped,
		Confidence: g.policy.HeuristicConfidence,
		Succeeded:  mapped != domain.KindUnknown,
		Reasoning:  fmt.Sprintf("Document type mapped from response %q to %s", truncateRunes(clean, 200), mapped),
	}
	if mapped == domain.KindUnknown {
		result.ErrorMessage = "Document could not be identified"
	}
	return result
}

func containsAny(s string, needles []string) bool {
	for _, needle := range needles {
		if strings.Contains(s, needle) {
			return true
		}
	}
	return false
}

func truncateRunes(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
