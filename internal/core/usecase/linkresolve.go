package usecase

import (
	"net/url"
	"path"
	"strings"

	"github.com/kirillkom/portfolio-intake/internal/core/domain"
)

// LinkResolver finds the live anchor for a stored link after the page was reloaded.
type LinkResolver struct {
	Name    string
	Resolve func(target domain.ChargeLink, anchors []domain.Anchor) (domain.Anchor, bool)
}

// DefaultLinkResolvers returns the fallback chain in the order it is tried.
func DefaultLinkResolvers() []LinkResolver {
	return []LinkResolver{
		{Name: "exact_text", Resolve: resolveExactText},
		{Name: "text_contains", Resolve: resolveTextContains},
		{Name: "exact_href", Resolve: resolveExactHref},
		{Name: "href_suffix", Resolve: resolveHrefSuffix},
	}
}

// ResolveLink runs resolvers in order and stops at the first match.
func ResolveLink(target domain.ChargeLink, anchors []domain.Anchor, resolvers []LinkResolver) (domain.Anchor, string, bool) {
	for _, resolver := range resolvers {
		if anchor, ok := resolver.Resolve(target, anchors); ok {
			return anchor, resolver.Name, true
		}
	}
	return domain.Anchor{}, "", false
}

func resolveExactText(target domain.ChargeLink, anchors []domain.Anchor) (domain.Anchor, bool) {
	want := strings.TrimSpace(target.Text)
	if want == "" {
		return domain.Anchor{}, false
	}
	for _, anchor := range anchors {
		if strings.TrimSpace(anchor.Text) == want {
			return anchor, true
		}
	}
	return domain.Anchor{}, false
}

func resolveTextContains(target domain.ChargeLink, anchors []domain.Anchor) (domain.Anchor, bool) {
	want := strings.ToLower(strings.TrimSpace(target.Text))
	if want == "" {
		return domain.Anchor{}, false
	}
	for _, anchor := range anchors {
		if strings.Contains(strings.ToLower(anchor.Text), want) {
			return anchor, true
		}
	}
	return domain.Anchor{}, false
}

func resolveExactHref(target domain.ChargeLink, anchors []domain.Anchor) (domain.Anchor, bool) {
	want := strings.TrimSpace(target.Href)
	if want == "" {
		return domain.Anchor{}, false
	}
	for _, anchor := range anchors {
		if strings.TrimSpace(anchor.Href) == want {
			return anchor, true
		}
	}
	return domain.Anchor{}, false
}

func resolveHrefSuffix(target domain.ChargeLink, anchors []domain.Anchor) (domain.Anchor, bool) {
	segment := lastPathSegment(target.Href)
	if segment == "" {
		return domain.Anchor{}, false
	}
	for _, anchor := range anchors {
		if strings.HasSuffix(hrefPath(anchor.Href), segment) {
			return anchor, true
		}
	}
	return domain.Anchor{}, false
}

func hrefPath(href string) string {
	href = strings.TrimSpace(href)
	if parsed, err := url.Parse(href); err == nil {
		href = parsed.Path
	}
	return strings.TrimRight(href, "/")
}

func lastPathSegment(href string) string {
	href = hrefPath(href)
	if href == "" {
		return ""
	}
	segment := path.Base(href)
	if segment == "." || segment == "/" {
		return ""
	}
	return segment
}

var chargeTextPatterns = []string{"charge code", "charge", "deed", "deed of charge"}

var chargeHrefPatterns = []string{"charge", "deed"}

// Administrative links that match the charge patterns but are not charges.
var linkDenylist = []string{
	"follow this company",
	"file for this company",
	"satisfy charge",
	"tell us what you think of this service",
	"is there anything wrong with this page?",
	"feedback",
	"help us improve",
	"report a problem",
	"contact us",
	"privacy policy",
	"terms and conditions",
	"accessibility statement",
	"cookies",
}

// CollectChargeLinks selects candidate charge links in selector order,
// de-duplicated by text. Anchors whose text equals one of excludeTexts (the
// page tabs) are skipped.
func CollectChargeLinks(anchors []domain.Anchor, excludeTexts []string) []domain.ChargeLink {
	selectors := make([]func(domain.Anchor) bool, 0, len(chargeTextPatterns)+len(chargeHrefPatterns))
	for _, pattern := range chargeTextPatterns {
		selectors = append(selectors, func(a domain.Anchor) bool {
			return strings.Contains(strings.ToLower(a.Text), pattern)
		})
	}
	for _, pattern := range chargeHrefPatterns {
		selectors = append(selectors, func(a domain.Anchor) bool {
			return strings.Contains(strings.ToLower(a.Href), pattern)
		})
	}

	seen := make(map[string]struct{})
	out := make([]domain.ChargeLink, 0)
	for _, selector := range selectors {
		for _, anchor := range anchors {
			text := strings.TrimSpace(anchor.Text)
			href := strings.TrimSpace(anchor.Href)
			if text == "" || href == "" || !selector(anchor) {
				continue
			}
			if _, dup := seen[text]; dup {
				continue
			}
			if isDenylisted(text) || isExcluded(text, excludeTexts) {
				continue
			}
			seen[text] = struct{}{}
			out = append(out, domain.ChargeLink{Text: text, Href: href})
		}
	}
	return out
}

func isDenylisted(text string) bool {
	return containsAny(strings.ToLower(text), linkDenylist)
}

func isExcluded(text string, excludeTexts []string) bool {
	for _, excluded := range excludeTexts {
		if strings.EqualFold(text, excluded) {
			return true
		}
	}
	return false
}
