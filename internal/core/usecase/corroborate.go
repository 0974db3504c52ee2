package usecase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/kirillkom/portfolio-intake/internal/core/domain"
	"github.com/kirillkom/portfolio-intake/internal/core/ports"
)

const screenshotTimeLayout = "20060102_150405"

type CorroboratorConfig struct {
	BaseURL        string
	ScreenshotRoot string
	Tabs           []string
	ChargesTab     string
	WaitTimeout    time.Duration
	// Timeout bounds a whole corroboration run, including charge extraction.
	Timeout time.Duration
}

func DefaultCorroboratorConfig() CorroboratorConfig {
	return CorroboratorConfig{
		BaseURL:        "https://find-and-update.company-information.service.gov.uk",
		ScreenshotRoot: "Screenshots",
		Tabs:           []string{"Overview", "Filing History", "People", "Charges"},
		ChargesTab:     "Charges",
		WaitTimeout:    10 * time.Second,
		Timeout:        3 * time.Minute,
	}
}

func (c CorroboratorConfig) normalize() CorroboratorConfig {
	def := DefaultCorroboratorConfig()
	if c.BaseURL == "" {
		c.BaseURL = def.BaseURL
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.ScreenshotRoot == "" {
		c.ScreenshotRoot = def.ScreenshotRoot
	}
	if len(c.Tabs) == 0 {
		c.Tabs = def.Tabs
	}
	if c.ChargesTab == "" {
		c.ChargesTab = def.ChargesTab
	}
	if c.WaitTimeout <= 0 {
		c.WaitTimeout = def.WaitTimeout
	}
	if c.Timeout < 0 {
		c.Timeout = 0
	}
	return c
}

type RegistryCorroborator struct {
	browsers  ports.BrowserFactory
	storage   ports.ObjectStorage
	extractor ports.TextExtractor
	engine    *ExtractionEngine
	cache     ports.CorroborationCache
	observer  ports.PipelineObserver
	resolvers []LinkResolver
	cfg       CorroboratorConfig
	now       func() time.Time
}

func NewRegistryCorroborator(
	browsers ports.BrowserFactory,
	storage ports.ObjectStorage,
	extractor ports.TextExtractor,
	engine *ExtractionEngine,
	cfg CorroboratorConfig,
) *RegistryCorroborator {
	return &RegistryCorroborator{
		browsers:  browsers,
		storage:   storage,
		extractor: extractor,
		engine:    engine,
		resolvers: DefaultLinkResolvers(),
		cfg:       cfg.normalize(),
		now:       time.Now,
	}
}

func (c *RegistryCorroborator) WithCache(cache ports.CorroborationCache) *RegistryCorroborator {
	c.cache = cache
	return c
}

func (c *RegistryCorroborator) WithObserver(observer ports.PipelineObserver) *RegistryCorroborator {
	c.observer = observer
	return c
}

// CompanyURL is the public registry page for a company number.
func (c *RegistryCorroborator) CompanyURL(companyNumber string) string {
	return fmt.Sprintf("%s/company/%s", c.cfg.BaseURL, companyNumber)
}

type capturedImage struct {
	path string
	png  []byte
}

func (c *RegistryCorroborator) Corroborate(ctx context.Context, companyNumber string) (domain.CorroborationResult, error) {
	number := strings.ToUpper(strings.TrimSpace(companyNumber))
	if number == "" {
		return domain.CorroborationResult{}, domain.WrapError(domain.ErrInvalidInput, "corroborate", errors.New("company number is empty"))
	}
	if cached, ok := c.lookupCache(ctx, number); ok {
		return cached, nil
	}

	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	result := domain.CorroborationResult{
		CompanyNumber: number,
		URL:           c.CompanyURL(number),
		Tabs:          []domain.TabCapture{},
		Links:         []domain.LinkCaptureResult{},
		Charges:       []domain.ChargeRecord{},
	}

	session, err := c.browsers.NewSession(ctx)
	if err != nil {
		return result, domain.WrapError(domain.ErrBrowser, "open browser session", err)
	}
	defer func() {
		if closeErr := session.Close(); closeErr != nil {
			slog.Warn("browser_session_close_failed", "company_number", number, "error", closeErr)
		}
	}()

	if err := session.Navigate(ctx, result.URL); err != nil {
		return result, domain.WrapError(domain.ErrBrowser, "navigate company page", err)
	}
	if err := session.WaitForText(ctx, c.cfg.ChargesTab, c.cfg.WaitTimeout); err != nil {
		return result, domain.WrapError(domain.ErrBrowser, "wait for company page", err)
	}

	result.Tabs = c.captureTabs(ctx, session, number)

	if err := c.openChargesTab(ctx, session, number); err != nil {
		return result, err
	}

	anchors, err := session.Anchors(ctx)
	if err != nil {
		return result, domain.WrapError(domain.ErrBrowser, "list charge links", err)
	}
	links := CollectChargeLinks(anchors, c.cfg.Tabs)
	if len(links) == 0 {
		slog.Info("charge_links_not_found", "company_number", number)
		result.NoLinksFound = true
		c.writeLinkSummary(ctx, number, links, result.Links)
		result.CompletedAt = c.now().UTC()
		c.storeCache(ctx, result)
		return result, nil
	}

	slog.Info("charge_links_found", "company_number", number, "count", len(links))
	captures, images := c.captureChargeLinks(ctx, session, number, links)
	result.Links = captures
	c.writeLinkSummary(ctx, number, links, captures)

	result.Charges = c.extractCharges(ctx, images)
	result.CompletedAt = c.now().UTC()
	c.storeCache(ctx, result)
	return result, nil
}

func (c *RegistryCorroborator) captureTabs(ctx context.Context, session ports.BrowserSession, number string) []domain.TabCapture {
	textResolvers := c.resolvers[:2]
	captures := make([]domain.TabCapture, 0, len(c.cfg.Tabs))
	for _, tab := range c.cfg.Tabs {
		capture := domain.TabCapture{Tab: tab}
		if err := c.captureTab(ctx, session, number, tab, textResolvers, &capture); err != nil {
			capture.Error = err.Error()
			slog.Warn("tab_capture_failed", "company_number", number, "tab", tab, "error", err)
		}
		c.writeTabSummary(ctx, number, capture)
		captures = append(captures, capture)
	}
	return captures
}

func (c *RegistryCorroborator) captureTab(
	ctx context.Context,
	session ports.BrowserSession,
	number, tab string,
	resolvers []LinkResolver,
	capture *domain.TabCapture,
) error {
	anchors, err := session.Anchors(ctx)
	if err != nil {
		return fmt.Errorf("list anchors: %w", err)
	}
	anchor, _, ok := ResolveLink(domain.ChargeLink{Text: tab}, anchors, resolvers)
	if !ok {
		return fmt.Errorf("tab link %q not found", tab)
	}
	if err := session.Click(ctx, anchor); err != nil {
		return fmt.Errorf("open tab: %w", err)
	}
	if err := session.WaitForText(ctx, tab, c.cfg.WaitTimeout); err != nil {
		return fmt.Errorf("wait for tab: %w", err)
	}
	png, err := session.Screenshot(ctx)
	if err != nil {
		return fmt.Errorf("screenshot: %w", err)
	}
	key := c.TabScreenshotPath(number, tab, c.now())
	if err := c.storage.Save(ctx, key, bytes.NewReader(png)); err != nil {
		return fmt.Errorf("save screenshot: %w", err)
	}
	capture.ScreenshotPath = key
	return nil
}

func (c *RegistryCorroborator) openChargesTab(ctx context.Context, session ports.BrowserSession, number string) error {
	anchors, err := session.Anchors(ctx)
	if err == nil {
		if anchor, _, ok := ResolveLink(domain.ChargeLink{Text: c.cfg.ChargesTab}, anchors, c.resolvers[:1]); ok {
			if err := session.Click(ctx, anchor); err == nil {
				if err := session.WaitForText(ctx, c.cfg.ChargesTab, c.cfg.WaitTimeout); err == nil {
					return nil
				}
			}
		}
	}
	return c.restoreChargesTab(ctx, session, number)
}

// restoreChargesTab reloads the charges listing directly.
func (c *RegistryCorroborator) restoreChargesTab(ctx context.Context, session ports.BrowserSession, number string) error {
	if err := session.Navigate(ctx, c.CompanyURL(number)+"/charges"); err != nil {
		return domain.WrapError(domain.ErrBrowser, "open charges tab", err)
	}
	if err := session.WaitForText(ctx, c.cfg.ChargesTab, c.cfg.WaitTimeout); err != nil {
		return domain.WrapError(domain.ErrBrowser, "open charges tab", err)
	}
	return nil
}

func (c *RegistryCorroborator) captureChargeLinks(
	ctx context.Context,
	session ports.BrowserSession,
	number string,
	links []domain.ChargeLink,
) ([]domain.LinkCaptureResult, []capturedImage) {
	results := make([]domain.LinkCaptureResult, 0, len(links))
	images := make([]capturedImage, 0, len(links))

	for i, link := range links {
		index := i + 1
		result := domain.LinkCaptureResult{Index: index, Link: link}
		if err := ctx.Err(); err != nil {
			result.Error = err.Error()
			results = append(results, result)
			continue
		}

		image, strategy, err := c.captureLink(ctx, session, number, index, link)
		result.Strategy = strategy
		if err != nil {
			result.Error = err.Error()
			slog.Warn("charge_link_failed", "company_number", number, "index", index, "text", link.Text, "error", err)
			c.observe("failed")
		} else {
			result.Succeeded = true
			result.ScreenshotPath = image.path
			images = append(images, image)
			slog.Info("charge_link_captured", "company_number", number, "index", index, "strategy", strategy, "path", image.path)
			c.observe("captured")
		}
		results = append(results, result)
	}
	return results, images
}

func (c *RegistryCorroborator) captureLink(
	ctx context.Context,
	session ports.BrowserSession,
	number string,
	index int,
	link domain.ChargeLink,
) (capturedImage, string, error) {
	anchors, err := session.Anchors(ctx)
	if err != nil {
		return capturedImage{}, "", fmt.Errorf("list anchors: %w", err)
	}
	anchor, strategy, ok := ResolveLink(link, anchors, c.resolvers)
	if !ok {
		return capturedImage{}, "", fmt.Errorf("link %q not found by any strategy", link.Text)
	}

	if err := session.Click(ctx, anchor); err != nil {
		c.restoreAfterFailure(ctx, session, number)
		return capturedImage{}, strategy, fmt.Errorf("open link: %w", err)
	}
	png, err := session.Screenshot(ctx)
	if err != nil {
		c.restoreAfterFailure(ctx, session, number)
		return capturedImage{}, strategy, fmt.Errorf("screenshot: %w", err)
	}
	key := c.ChargeLinkScreenshotPath(number, index, c.now())
	if err := c.storage.Save(ctx, key, bytes.NewReader(png)); err != nil {
		c.restoreAfterFailure(ctx, session, number)
		return capturedImage{}, strategy, fmt.Errorf("save screenshot: %w", err)
	}

	if err := session.Back(ctx); err != nil {
		slog.Warn("navigate_back_failed", "company_number", number, "index", index, "error", err)
		c.restoreAfterFailure(ctx, session, number)
	} else if err := session.WaitForText(ctx, c.cfg.ChargesTab, c.cfg.WaitTimeout); err != nil {
		slog.Warn("charges_tab_not_verified", "company_number", number, "index", index, "error", err)
	}
	return capturedImage{path: key, png: png}, strategy, nil
}

func (c *RegistryCorroborator) restoreAfterFailure(ctx context.Context, session ports.BrowserSession, number string) {
	if err := c.restoreChargesTab(ctx, session, number); err != nil {
		slog.Warn("charges_tab_restore_failed", "company_number", number, "error", err)
	}
}

func (c *RegistryCorroborator) extractCharges(ctx context.Context, images []capturedImage) []domain.ChargeRecord {
	records := make([]domain.ChargeRecord, 0, len(images))
	if c.extractor == nil || c.engine == nil {
		return records
	}
	for _, image := range images {
		text, err := c.extractor.Extract(ctx, domain.RawDocument{
			Filename:    path.Base(image.path),
			ContentType: "image/png",
			Size:        int64(len(image.png)),
			Content:     image.png,
		})
		if err != nil {
			slog.Warn("charge_ocr_failed", "path", image.path, "error", err)
			continue
		}
		record, err := c.engine.ExtractCharge(ctx, text)
		if err != nil {
			slog.Warn("charge_extraction_failed", "path", image.path, "error", err)
			continue
		}
		record.SourcePath = image.path
		records = append(records, record)
	}
	return records
}

// TabScreenshotPath is {root}/{number}/{Tab_Name}/{Tab_Name}_{timestamp}.png.
func (c *RegistryCorroborator) TabScreenshotPath(number, tab string, at time.Time) string {
	folder := folderName(tab)
	return path.Join(c.cfg.ScreenshotRoot, number, folder, fmt.Sprintf("%s_%s.png", folder, at.Format(screenshotTimeLayout)))
}

// ChargeLinkScreenshotPath is {root}/{number}/Charges/Charge_Links/Charge_Link_{NN}_{timestamp}.png.
func (c *RegistryCorroborator) ChargeLinkScreenshotPath(number string, index int, at time.Time) string {
	return path.Join(c.chargeLinksFolder(number), fmt.Sprintf("Charge_Link_%02d_%s.png", index, at.Format(screenshotTimeLayout)))
}

func (c *RegistryCorroborator) chargeLinksFolder(number string) string {
	return path.Join(c.cfg.ScreenshotRoot, number, folderName(c.cfg.ChargesTab), "Charge_Links")
}

func folderName(name string) string {
	return strings.ReplaceAll(strings.TrimSpace(name), " ", "_")
}

func (c *RegistryCorroborator) writeTabSummary(ctx context.Context, number string, capture domain.TabCapture) {
	var b strings.Builder
	fmt.Fprintf(&b, "Company number: %s\n", number)
	fmt.Fprintf(&b, "Tab: %s\n", capture.Tab)
	fmt.Fprintf(&b, "Captured at: %s\n", c.now().UTC().Format(time.RFC3339))
	if capture.Error != "" {
		fmt.Fprintf(&b, "Status: failed\nError: %s\n", capture.Error)
	} else {
		fmt.Fprintf(&b, "Status: captured\nScreenshot: %s\n", capture.ScreenshotPath)
	}
	key := path.Join(c.cfg.ScreenshotRoot, number, folderName(capture.Tab), "capture_summary.txt")
	c.saveSummary(ctx, key, b.String())
}

func (c *RegistryCorroborator) writeLinkSummary(ctx context.Context, number string, links []domain.ChargeLink, results []domain.LinkCaptureResult) {
	var b strings.Builder
	fmt.Fprintf(&b, "Company number: %s\n", number)
	fmt.Fprintf(&b, "Generated at: %s\n", c.now().UTC().Format(time.RFC3339))
	if len(links) == 0 {
		b.WriteString("No charge links found.\n")
	} else {
		captured := 0
		for _, r := range results {
			if r.Succeeded {
				captured++
			}
		}
		fmt.Fprintf(&b, "Charge links found: %d\nCaptured: %d\nFailed: %d\n\n", len(links), captured, len(results)-captured)
		for _, r := range results {
			status := "captured"
			if !r.Succeeded {
				status = "failed: " + r.Error
			}
			fmt.Fprintf(&b, "%02d. %s (%s) -> %s", r.Index, r.Link.Text, r.Link.Href, status)
			if r.ScreenshotPath != "" {
				fmt.Fprintf(&b, " [%s via %s]", r.ScreenshotPath, r.Strategy)
			}
			b.WriteString("\n")
		}
	}
	c.saveSummary(ctx, path.Join(c.chargeLinksFolder(number), "charge_links_summary.txt"), b.String())
}

func (c *RegistryCorroborator) saveSummary(ctx context.Context, key, content string) {
	if err := c.storage.Save(ctx, key, strings.NewReader(content)); err != nil {
		slog.Warn("summary_write_failed", "key", key, "error", err)
	}
}

func (c *RegistryCorroborator) lookupCache(ctx context.Context, number string) (domain.CorroborationResult, bool) {
	if c.cache == nil {
		return domain.CorroborationResult{}, false
	}
	cached, ok, err := c.cache.Get(ctx, number)
	if err != nil {
		slog.Warn("corroboration_cache_get_failed", "company_number", number, "error", err)
		return domain.CorroborationResult{}, false
	}
	if !ok || cached == nil {
		return domain.CorroborationResult{}, false
	}
	slog.Info("corroboration_cache_hit", "company_number", number)
	return *cached, true
}

// storeCache keeps only complete runs. Partial captures are retried live by
// the next batch instead of being replayed for the whole TTL.
func (c *RegistryCorroborator) storeCache(ctx context.Context, result domain.CorroborationResult) {
	if c.cache == nil {
		return
	}
	if !cacheable(ctx, result) {
		slog.Info("corroboration_cache_skipped", "company_number", result.CompanyNumber,
			"failed_links", result.FailedLinks(), "charges", len(result.Charges), "links", len(result.Links))
		return
	}
	if err := c.cache.Set(ctx, result); err != nil {
		slog.Warn("corroboration_cache_set_failed", "company_number", result.CompanyNumber, "error", err)
	}
}

func cacheable(ctx context.Context, result domain.CorroborationResult) bool {
	if ctx.Err() != nil {
		return false
	}
	for _, tab := range result.Tabs {
		if tab.Error != "" {
			return false
		}
	}
	if result.NoLinksFound {
		return true
	}
	return result.FailedLinks() == 0 && len(result.Charges) == len(result.Links)
}

func (c *RegistryCorroborator) observe(outcome string) {
	if c.observer != nil {
		c.observer.ObserveChargeLink(outcome)
	}
}
