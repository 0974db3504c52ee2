package usecase

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/kirillkom/portfolio-intake/internal/core/domain"
)

const (
	testRegistry   = "https://registry.test"
	testCompanyURL = testRegistry + "/company/03489004"
	testChargesURL = testCompanyURL + "/charges"
)

func newRegistrySite() *siteFake {
	return &siteFake{
		tabs: []domain.Anchor{
			{Text: "Overview", Href: testCompanyURL},
			{Text: "Filing History", Href: testCompanyURL + "/filing-history"},
			{Text: "People", Href: testCompanyURL + "/officers"},
			{Text: "Charges", Href: testChargesURL},
		},
		pages: map[string][]domain.Anchor{
			testChargesURL: {
				{Text: "Charge code 0348 9004 0001", Href: testChargesURL + "/c1"},
				{Text: "Satisfy charge", Href: testChargesURL + "/satisfy"},
				{Text: "Charge code 0348 9004 0002", Href: testChargesURL + "/c2"},
			},
		},
		failClick: map[string]bool{},
		failShot:  map[string]bool{},
		failWait:  map[string]bool{},
	}
}

func newTestCorroborator(site *siteFake, storage *storageFake, llm *completerFake) *RegistryCorroborator {
	extractor := &extractorFake{}
	c := NewRegistryCorroborator(site, storage, extractor, NewExtractionEngine(llm, Prompts{}), CorroboratorConfig{BaseURL: testRegistry + "/"})
	c.now = func() time.Time { return time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC) }
	return c
}

func chargeReply() *completerFake {
	return staticReply(`{"persons_entitled": "Lloyds Bank PLC", "brief_description": "1 High Street"}`)
}

func readObject(t *testing.T, storage *storageFake, key string) string {
	t.Helper()
	rc, err := storage.Open(context.Background(), key)
	if err != nil {
		t.Fatalf("open %s: %v", key, err)
	}
	defer rc.Close()
	payload, _ := io.ReadAll(rc)
	return string(payload)
}

func TestCorroborateCapturesTabsAndChargeLinks(t *testing.T) {
	site := newRegistrySite()
	storage := newStorageFake()
	observer := newObserverFake()
	c := newTestCorroborator(site, storage, chargeReply()).WithObserver(observer)

	result, err := c.Corroborate(context.Background(), " 03489004 ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.URL != testCompanyURL {
		t.Fatalf("unexpected url: %s", result.URL)
	}
	if site.navigated[0] != testCompanyURL {
		t.Fatalf("expected first navigation to company page, got %v", site.navigated)
	}
	if len(result.Tabs) != 4 {
		t.Fatalf("expected 4 tab captures, got %d", len(result.Tabs))
	}
	for _, tab := range result.Tabs {
		if tab.Error != "" || tab.ScreenshotPath == "" {
			t.Fatalf("tab %s not captured: %+v", tab.Tab, tab)
		}
	}
	if want := "Screenshots/03489004/Filing_History/Filing_History_20260304_050607.png"; result.Tabs[1].ScreenshotPath != want {
		t.Fatalf("unexpected tab path %q, want %q", result.Tabs[1].ScreenshotPath, want)
	}

	if result.NoLinksFound || len(result.Links) != 2 {
		t.Fatalf("expected 2 charge links, got %+v", result.Links)
	}
	for i, link := range result.Links {
		if !link.Succeeded || link.Strategy != "exact_text" || link.Index != i+1 {
			t.Fatalf("unexpected link result: %+v", link)
		}
	}
	shot := "Screenshots/03489004/Charges/Charge_Links/Charge_Link_02_20260304_050607.png"
	if result.Links[1].ScreenshotPath != shot {
		t.Fatalf("unexpected link path %q", result.Links[1].ScreenshotPath)
	}
	if got := readObject(t, storage, shot); got != "png:"+testChargesURL+"/c2" {
		t.Fatalf("screenshot of wrong page: %q", got)
	}

	if len(result.Charges) != 2 || result.Charges[0].PersonsEntitled != "Lloyds Bank PLC" {
		t.Fatalf("unexpected charges: %+v", result.Charges)
	}
	if result.Charges[0].SourcePath != result.Links[0].ScreenshotPath {
		t.Fatalf("charge not linked to its screenshot: %+v", result.Charges[0])
	}

	summary := readObject(t, storage, "Screenshots/03489004/Charges/Charge_Links/charge_links_summary.txt")
	if !strings.Contains(summary, "Charge links found: 2") || !strings.Contains(summary, "Failed: 0") {
		t.Fatalf("unexpected summary:\n%s", summary)
	}
	if _, ok := storage.KeyWithPrefix("Screenshots/03489004/People/capture_summary.txt"); !ok {
		t.Fatalf("expected tab summary file, got %v", storage.Keys())
	}
	if observer.links["captured"] != 2 {
		t.Fatalf("expected 2 captured observations, got %v", observer.links)
	}
}

func TestCorroborateIsolatesFailedLink(t *testing.T) {
	site := newRegistrySite()
	site.failClick[testChargesURL+"/c1"] = true
	storage := newStorageFake()
	c := newTestCorroborator(site, storage, chargeReply())

	result, err := c.Corroborate(context.Background(), "03489004")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Links) != 2 {
		t.Fatalf("expected both links attempted, got %+v", result.Links)
	}
	if result.Links[0].Succeeded || !strings.Contains(result.Links[0].Error, "open link") {
		t.Fatalf("expected first link to fail, got %+v", result.Links[0])
	}
	if !result.Links[1].Succeeded {
		t.Fatalf("second link must still be captured: %+v", result.Links[1])
	}
	if result.FailedLinks() != 1 || len(result.Charges) != 1 {
		t.Fatalf("unexpected outcome: failed=%d charges=%d", result.FailedLinks(), len(result.Charges))
	}

	restored := false
	for _, url := range site.navigated {
		if url == testChargesURL {
			restored = true
		}
	}
	if !restored {
		t.Fatalf("expected charges tab to be reloaded after failure, navigations: %v", site.navigated)
	}
}

func TestCorroborateFailedScreenshotRecordsStrategy(t *testing.T) {
	site := newRegistrySite()
	site.failShot[testChargesURL+"/c2"] = true
	c := newTestCorroborator(site, newStorageFake(), chargeReply())

	result, err := c.Corroborate(context.Background(), "03489004")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	failed := result.Links[1]
	if failed.Succeeded || failed.Strategy != "exact_text" || failed.ScreenshotPath != "" {
		t.Fatalf("unexpected failed link: %+v", failed)
	}
}

func TestCorroborateNoChargeLinks(t *testing.T) {
	site := newRegistrySite()
	site.pages[testChargesURL] = nil
	storage := newStorageFake()
	llm := chargeReply()
	c := newTestCorroborator(site, storage, llm)

	result, err := c.Corroborate(context.Background(), "03489004")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.NoLinksFound || len(result.Links) != 0 || len(result.Charges) != 0 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.Charges == nil {
		t.Fatalf("charges must be an empty slice, not nil")
	}
	summary := readObject(t, storage, "Screenshots/03489004/Charges/Charge_Links/charge_links_summary.txt")
	if !strings.Contains(summary, "No charge links found.") {
		t.Fatalf("unexpected summary:\n%s", summary)
	}
	if llm.Calls() != 0 {
		t.Fatalf("no charge extraction expected")
	}
}

func TestCorroborateTabFailureIsNotFatal(t *testing.T) {
	site := newRegistrySite()
	site.failShot[testCompanyURL+"/officers"] = true
	c := newTestCorroborator(site, newStorageFake(), chargeReply())

	result, err := c.Corroborate(context.Background(), "03489004")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Tabs[2].Error == "" || result.Tabs[2].ScreenshotPath != "" {
		t.Fatalf("expected People tab failure, got %+v", result.Tabs[2])
	}
	if len(result.Links) != 2 {
		t.Fatalf("charge links should still be captured")
	}
}

func TestCorroboratePageNeverLoads(t *testing.T) {
	site := newRegistrySite()
	site.failWait["Charges"] = true
	c := newTestCorroborator(site, newStorageFake(), chargeReply())

	_, err := c.Corroborate(context.Background(), "03489004")
	if !domain.IsKind(err, domain.ErrBrowser) {
		t.Fatalf("expected ErrBrowser, got %v", err)
	}
}

func TestCorroborateSessionError(t *testing.T) {
	site := newRegistrySite()
	site.sessionErr = errors.New("chrome not found")
	c := newTestCorroborator(site, newStorageFake(), chargeReply())

	_, err := c.Corroborate(context.Background(), "03489004")
	if !domain.IsKind(err, domain.ErrBrowser) {
		t.Fatalf("expected ErrBrowser, got %v", err)
	}
}

func TestCorroborateRejectsEmptyNumber(t *testing.T) {
	c := newTestCorroborator(newRegistrySite(), newStorageFake(), chargeReply())

	if _, err := c.Corroborate(context.Background(), "  "); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestCorroborateUsesCache(t *testing.T) {
	site := newRegistrySite()
	cache := &cacheFake{}
	c := newTestCorroborator(site, newStorageFake(), chargeReply()).WithCache(cache)

	first, err := c.Corroborate(context.Background(), "03489004")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := c.Corroborate(context.Background(), "03489004")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if site.sessions != 1 {
		t.Fatalf("expected one browser session, got %d", site.sessions)
	}
	if len(second.Charges) != len(first.Charges) {
		t.Fatalf("cached result differs: %+v", second)
	}
}

func TestCorroborateIgnoresCacheErrors(t *testing.T) {
	site := newRegistrySite()
	c := newTestCorroborator(site, newStorageFake(), chargeReply()).WithCache(&cacheFake{getErr: errors.New("redis down")})

	if _, err := c.Corroborate(context.Background(), "03489004"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if site.sessions != 1 {
		t.Fatalf("expected live corroboration on cache error")
	}
}

// The charges page is listed once when the tab opens and once to collect
// links. Later listings happen while revisiting links.
const chargesListingsBeforeRevisit = 2

func TestCorroborateDoesNotCacheFailedLinks(t *testing.T) {
	site := newRegistrySite()
	site.failClick[testChargesURL+"/c1"] = true
	site.failClick[testChargesURL+"/c2"] = true
	cache := &cacheFake{}
	c := newTestCorroborator(site, newStorageFake(), chargeReply()).WithCache(cache)

	first, err := c.Corroborate(context.Background(), "03489004")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.FailedLinks() != 2 {
		t.Fatalf("expected both links to fail, got %+v", first.Links)
	}
	if len(cache.entries) != 0 {
		t.Fatalf("failed run must not be cached: %+v", cache.entries)
	}

	site.failClick = map[string]bool{}
	second, err := c.Corroborate(context.Background(), "03489004")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if site.sessions != 2 {
		t.Fatalf("expected a live retry, got %d sessions", site.sessions)
	}
	if second.FailedLinks() != 0 || len(second.Charges) != 2 {
		t.Fatalf("unexpected recovered result: failed=%d charges=%d", second.FailedLinks(), len(second.Charges))
	}
	if _, ok := cache.entries["03489004"]; !ok {
		t.Fatalf("complete run should be cached")
	}
}

func TestCorroborateDoesNotCacheCancelledRun(t *testing.T) {
	site := newRegistrySite()
	cache := &cacheFake{}
	ctx, cancel := context.WithCancel(context.Background())
	site.revisit = map[string]func(int, []domain.Anchor) []domain.Anchor{
		testChargesURL: func(visit int, anchors []domain.Anchor) []domain.Anchor {
			if visit > chargesListingsBeforeRevisit {
				cancel()
			}
			return anchors
		},
	}
	c := newTestCorroborator(site, newStorageFake(), chargeReply()).WithCache(cache)

	result, err := c.Corroborate(ctx, "03489004")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.FailedLinks() == 0 {
		t.Fatalf("expected links cut short by cancellation, got %+v", result.Links)
	}
	if len(cache.entries) != 0 {
		t.Fatalf("cancelled run must not be cached: %+v", cache.entries)
	}
}

func TestCorroborateCachesRunWithoutChargeLinks(t *testing.T) {
	site := newRegistrySite()
	site.pages[testChargesURL] = nil
	cache := &cacheFake{}
	c := newTestCorroborator(site, newStorageFake(), chargeReply()).WithCache(cache)

	if _, err := c.Corroborate(context.Background(), "03489004"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cached, ok := cache.entries["03489004"]; !ok || !cached.NoLinksFound {
		t.Fatalf("expected explicit no-links result to be cached, got %+v", cache.entries)
	}
}

func TestCorroborateResolvesRenamedLinkByHref(t *testing.T) {
	site := newRegistrySite()
	site.revisit = map[string]func(int, []domain.Anchor) []domain.Anchor{
		testChargesURL: func(visit int, anchors []domain.Anchor) []domain.Anchor {
			if visit <= chargesListingsBeforeRevisit {
				return anchors
			}
			for i := range anchors {
				if anchors[i].Href == testChargesURL+"/c1" {
					anchors[i].Text = "View details"
				}
			}
			return anchors
		},
	}
	storage := newStorageFake()
	c := newTestCorroborator(site, storage, chargeReply())

	result, err := c.Corroborate(context.Background(), "03489004")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	renamed := result.Links[0]
	if !renamed.Succeeded || renamed.Strategy != "exact_href" || renamed.ScreenshotPath == "" {
		t.Fatalf("expected href resolution with screenshot, got %+v", renamed)
	}
	if got := readObject(t, storage, renamed.ScreenshotPath); got != "png:"+testChargesURL+"/c1" {
		t.Fatalf("screenshot of wrong page: %q", got)
	}
}

func TestCorroborateUnresolvableLinkDoesNotStopLaterLinks(t *testing.T) {
	site := newRegistrySite()
	site.revisit = map[string]func(int, []domain.Anchor) []domain.Anchor{
		testChargesURL: func(visit int, anchors []domain.Anchor) []domain.Anchor {
			if visit <= chargesListingsBeforeRevisit {
				return anchors
			}
			kept := anchors[:0]
			for _, anchor := range anchors {
				if anchor.Href != testChargesURL+"/c1" {
					kept = append(kept, anchor)
				}
			}
			return kept
		},
	}
	c := newTestCorroborator(site, newStorageFake(), chargeReply())

	result, err := c.Corroborate(context.Background(), "03489004")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Links) != 2 {
		t.Fatalf("expected both links attempted, got %+v", result.Links)
	}
	if result.Links[0].Succeeded || !strings.Contains(result.Links[0].Error, "not found by any strategy") {
		t.Fatalf("expected first link unresolved, got %+v", result.Links[0])
	}
	if !result.Links[1].Succeeded || result.Links[1].ScreenshotPath == "" {
		t.Fatalf("second link must still be captured: %+v", result.Links[1])
	}
}
