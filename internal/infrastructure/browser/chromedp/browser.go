package chromedp

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/chromedp"

	"github.com/kirillkom/portfolio-intake/internal/core/domain"
	"github.com/kirillkom/portfolio-intake/internal/core/ports"
)

type Config struct {
	ExecPath     string
	Headless     bool
	NoSandbox    bool
	WindowWidth  int
	WindowHeight int
	UserAgent    string
	// SettleDelay is waited after a click so the next document can start loading.
	SettleDelay time.Duration
}

func DefaultConfig() Config {
	return Config{
		Headless:     true,
		WindowWidth:  1920,
		WindowHeight: 1080,
		SettleDelay:  500 * time.Millisecond,
	}
}

// Factory starts one headless Chrome per session.
type Factory struct {
	cfg Config
}

func NewFactory(cfg Config) *Factory {
	def := DefaultConfig()
	if cfg.WindowWidth <= 0 {
		cfg.WindowWidth = def.WindowWidth
	}
	if cfg.WindowHeight <= 0 {
		cfg.WindowHeight = def.WindowHeight
	}
	if cfg.SettleDelay < 0 {
		cfg.SettleDelay = 0
	}
	return &Factory{cfg: cfg}
}

func (f *Factory) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Flag("headless", f.cfg.Headless),
		chromedp.WindowSize(f.cfg.WindowWidth, f.cfg.WindowHeight),
	)
	if f.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(f.cfg.ExecPath))
	}
	if f.cfg.NoSandbox {
		opts = append(opts, chromedp.NoSandbox)
	}
	if f.cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(f.cfg.UserAgent))
	}
	return opts
}

func (f *Factory) NewSession(ctx context.Context) (ports.BrowserSession, error) {
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.WithoutCancel(ctx), f.allocatorOptions()...)
	tabCtx, cancelTab := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(format string, args ...any) {
		slog.Debug("chromedp_log", "message", fmt.Sprintf(format, args...))
	}))

	// An empty Run starts the browser bound to the tab context rather than to
	// a later per-call timeout.
	if err := chromedp.Run(tabCtx); err != nil {
		cancelTab()
		cancelAlloc()
		return nil, fmt.Errorf("start browser: %w", err)
	}
	slog.Info("browser_session_started", "headless", f.cfg.Headless)

	return &Session{
		ctx:    tabCtx,
		settle: f.cfg.SettleDelay,
		cancel: func() {
			cancelTab()
			cancelAlloc()
		},
	}, nil
}

// Session is a single tab. It is not safe for concurrent use.
type Session struct {
	ctx    context.Context
	settle time.Duration
	cancel func()
}

// run executes actions on the tab, stopping early when the caller's ctx ends.
func (s *Session) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(runCtx, timeout)
		defer cancel()
	}
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (s *Session) Navigate(ctx context.Context, target string) error {
	if err := s.run(ctx, 0, chromedp.Navigate(target), chromedp.WaitReady("body", chromedp.ByQuery)); err != nil {
		return fmt.Errorf("navigate %s: %w", target, err)
	}
	return nil
}

func (s *Session) WaitForText(ctx context.Context, text string, timeout time.Duration) error {
	selector := fmt.Sprintf("//*[contains(normalize-space(text()), %s)]", xpathLiteral(text))
	if err := s.run(ctx, timeout, chromedp.WaitVisible(selector, chromedp.BySearch)); err != nil {
		return fmt.Errorf("wait for %q: %w", text, err)
	}
	return nil
}

func (s *Session) Anchors(ctx context.Context) ([]domain.Anchor, error) {
	var html, location string
	err := s.run(ctx, 0,
		chromedp.Location(&location),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return nil, fmt.Errorf("read page html: %w", err)
	}
	return parseAnchors(html, location)
}

func (s *Session) Click(ctx context.Context, anchor domain.Anchor) error {
	script := fmt.Sprintf(`(function() {
	const a = document.querySelectorAll('a')[%d];
	if (!a) { return false; }
	a.scrollIntoView({block: 'center'});
	a.click();
	return true;
})()`, anchor.Index)

	var clicked bool
	if err := s.run(ctx, 0, chromedp.Evaluate(script, &clicked)); err != nil {
		return fmt.Errorf("click anchor %d: %w", anchor.Index, err)
	}
	if !clicked {
		return fmt.Errorf("click anchor %d: element is gone", anchor.Index)
	}
	return s.run(ctx, 0, chromedp.Sleep(s.settle), chromedp.WaitReady("body", chromedp.ByQuery))
}

func (s *Session) Back(ctx context.Context) error {
	if err := s.run(ctx, 0, chromedp.NavigateBack(), chromedp.WaitReady("body", chromedp.ByQuery)); err != nil {
		return fmt.Errorf("navigate back: %w", err)
	}
	return nil
}

func (s *Session) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := s.run(ctx, 0, chromedp.FullScreenshot(&buf, 100)); err != nil {
		return nil, fmt.Errorf("full screenshot: %w", err)
	}
	return buf, nil
}

func (s *Session) Close() error {
	s.cancel()
	return nil
}

// parseAnchors lists every <a> in document order; Index matches
// document.querySelectorAll('a') on the same page.
func parseAnchors(html, pageURL string) ([]domain.Anchor, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse page html: %w", err)
	}
	base, _ := url.Parse(pageURL)

	anchors := make([]domain.Anchor, 0)
	doc.Find("a").Each(func(i int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		anchors = append(anchors, domain.Anchor{
			Index: i,
			Text:  strings.Join(strings.Fields(sel.Text()), " "),
			Href:  absoluteHref(base, strings.TrimSpace(href)),
		})
	})
	return anchors, nil
}

func absoluteHref(base *url.URL, href string) string {
	if href == "" || base == nil || strings.HasPrefix(href, "#") || strings.HasPrefix(strings.ToLower(href), "javascript:") {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}

// xpathLiteral quotes s for use inside an XPath 1.0 expression.
func xpathLiteral(s string) string {
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	parts := strings.Split(s, "'")
	quoted := make([]string, 0, len(parts)*2)
	for i, part := range parts {
		if i > 0 {
			quoted = append(quoted, `"'"`)
		}
		quoted = append(quoted, "'"+part+"'")
	}
	return "concat(" + strings.Join(quoted, ", ") + ")"
}
