package domain

import "time"

// Anchor is a link as found on the live page. Index is its position among all
// anchors of the document and is only valid until the next navigation.
type Anchor struct {
	Index int    `json:"index"`
	Text  string `json:"text"`
	Href  string `json:"href"`
}

// ChargeLink is the stored identity of a candidate link, used to find the
// element again after the page is reloaded.
type ChargeLink struct {
	Text string `json:"text"`
	Href string `json:"href"`
}

type LinkCaptureResult struct {
	Index          int        `json:"index"`
	Link           ChargeLink `json:"link"`
	Strategy       string     `json:"strategy,omitempty"`
	ScreenshotPath string     `json:"screenshot_path,omitempty"`
	Succeeded      bool       `json:"succeeded"`
	Error          string     `json:"error,omitempty"`
}

type TabCapture struct {
	Tab            string `json:"tab"`
	ScreenshotPath string `json:"screenshot_path,omitempty"`
	Error          string `json:"error,omitempty"`
}

type CorroborationResult struct {
	CompanyNumber string              `json:"company_number"`
	URL           string              `json:"url"`
	Tabs          []TabCapture        `json:"tabs"`
	Links         []LinkCaptureResult `json:"links"`
	Charges       []ChargeRecord      `json:"charges"`
	NoLinksFound  bool                `json:"no_links_found"`
	CompletedAt   time.Time           `json:"completed_at"`
}

func (r CorroborationResult) FailedLinks() int {
	n := 0
	for _, link := range r.Links {
		if !link.Succeeded {
			n++
		}
	}
	return n
}
