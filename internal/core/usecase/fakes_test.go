package usecase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kirillkom/portfolio-intake/internal/core/domain"
	"github.com/kirillkom/portfolio-intake/internal/core/ports"
)

type completerFake struct {
	mu    sync.Mutex
	calls int
	reply func(system, user string) (string, error)
}

func (f *completerFake) Complete(_ context.Context, system, user string) (string, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.reply(system, user)
}

func (f *completerFake) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func staticReply(reply string) *completerFake {
	return &completerFake{reply: func(string, string) (string, error) { return reply, nil }}
}

type extractorFake struct {
	mu     sync.Mutex
	texts  map[string]string
	errs   map[string]error
	called []string
}

func (f *extractorFake) Extract(_ context.Context, doc domain.RawDocument) (string, error) {
	f.mu.Lock()
	f.called = append(f.called, doc.Filename)
	f.mu.Unlock()
	if err := f.errs[doc.Filename]; err != nil {
		return "", err
	}
	if text, ok := f.texts[doc.Filename]; ok {
		return text, nil
	}
	return string(doc.Content), nil
}

func (f *extractorFake) Called() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.called...)
}

type storageFake struct {
	mu      sync.Mutex
	objects map[string][]byte
	saveErr error
}

func newStorageFake() *storageFake {
	return &storageFake{objects: map[string][]byte{}}
}

func (f *storageFake) Save(_ context.Context, key string, data io.Reader) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	payload, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = payload
	return nil
}

func (f *storageFake) Open(_ context.Context, key string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	payload, ok := f.objects[key]
	if !ok {
		return nil, errors.New("not found")
	}
	return io.NopCloser(bytes.NewReader(payload)), nil
}

func (f *storageFake) Keys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	keys := make([]string, 0, len(f.objects))
	for key := range f.objects {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func (f *storageFake) KeyWithPrefix(prefix string) (string, bool) {
	for _, key := range f.Keys() {
		if strings.HasPrefix(key, prefix) {
			return key, true
		}
	}
	return "", false
}

type batchRepoFake struct {
	saved   *domain.BatchResult
	saveErr error
}

func (f *batchRepoFake) Save(_ context.Context, batch *domain.BatchResult) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saved = batch
	return nil
}

func (f *batchRepoFake) GetByPortfolioID(context.Context, string) (*domain.BatchResult, error) {
	if f.saved == nil {
		return nil, domain.ErrPortfolioNotFound
	}
	return f.saved, nil
}

type broadcasterFake struct {
	mu     sync.Mutex
	events []domain.ProgressEvent
	err    error
}

func (f *broadcasterFake) Broadcast(_ context.Context, _ string, event domain.ProgressEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return f.err
}

func (f *broadcasterFake) find(step domain.ProgressStep, status domain.ProgressStatus) (domain.ProgressEvent, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, event := range f.events {
		if event.Step == step && event.Status == status {
			return event, true
		}
	}
	return domain.ProgressEvent{}, false
}

type corroboratorFake struct {
	numbers []string
	result  domain.CorroborationResult
	err     error
}

func (f *corroboratorFake) Corroborate(_ context.Context, number string) (domain.CorroborationResult, error) {
	f.numbers = append(f.numbers, number)
	if f.err != nil {
		return domain.CorroborationResult{}, f.err
	}
	result := f.result
	result.CompanyNumber = number
	return result, nil
}

type observerFake struct {
	mu        sync.Mutex
	documents map[string]int
	steps     map[domain.ProgressStep]domain.ProgressStatus
	links     map[string]int
}

func newObserverFake() *observerFake {
	return &observerFake{
		documents: map[string]int{},
		steps:     map[domain.ProgressStep]domain.ProgressStatus{},
		links:     map[string]int{},
	}
}

func (f *observerFake) ObserveDocument(outcome string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.documents[outcome]++
}

func (f *observerFake) ObserveStep(step domain.ProgressStep, status domain.ProgressStatus, _ float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.steps[step] = status
}

func (f *observerFake) ObserveChargeLink(outcome string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.links[outcome]++
}

type cacheFake struct {
	entries map[string]domain.CorroborationResult
	getErr  error
}

func (f *cacheFake) Get(_ context.Context, number string) (*domain.CorroborationResult, bool, error) {
	if f.getErr != nil {
		return nil, false, f.getErr
	}
	result, ok := f.entries[number]
	if !ok {
		return nil, false, nil
	}
	return &result, true, nil
}

func (f *cacheFake) Set(_ context.Context, result domain.CorroborationResult) error {
	if f.entries == nil {
		f.entries = map[string]domain.CorroborationResult{}
	}
	f.entries[result.CompanyNumber] = result
	return nil
}

// siteFake is a tiny in-memory website. Every page shows the shared tab
// anchors followed by its own anchors. revisit may rewrite a page's own
// anchors on each listing, keyed by how often the page was listed.
type siteFake struct {
	tabs       []domain.Anchor
	pages      map[string][]domain.Anchor
	failClick  map[string]bool
	failShot   map[string]bool
	failWait   map[string]bool
	revisit    map[string]func(visit int, anchors []domain.Anchor) []domain.Anchor
	visits     map[string]int
	sessions   int
	navigated  []string
	sessionErr error
}

func (s *siteFake) NewSession(context.Context) (ports.BrowserSession, error) {
	if s.sessionErr != nil {
		return nil, s.sessionErr
	}
	s.sessions++
	return &sessionFake{site: s}, nil
}

type sessionFake struct {
	site    *siteFake
	page    string
	history []string
	closed  bool
}

func (s *sessionFake) Navigate(_ context.Context, url string) error {
	s.site.navigated = append(s.site.navigated, url)
	if s.page != "" {
		s.history = append(s.history, s.page)
	}
	s.page = url
	return nil
}

func (s *sessionFake) WaitForText(_ context.Context, text string, _ time.Duration) error {
	if s.site.failWait[text] {
		return fmt.Errorf("text %q not visible", text)
	}
	return nil
}

func (s *sessionFake) Anchors(context.Context) ([]domain.Anchor, error) {
	if s.site.visits == nil {
		s.site.visits = map[string]int{}
	}
	s.site.visits[s.page]++
	own := append([]domain.Anchor(nil), s.site.pages[s.page]...)
	if fn := s.site.revisit[s.page]; fn != nil {
		own = fn(s.site.visits[s.page], own)
	}
	all := append(append([]domain.Anchor(nil), s.site.tabs...), own...)
	for i := range all {
		all[i].Index = i
	}
	return all, nil
}

func (s *sessionFake) Click(_ context.Context, anchor domain.Anchor) error {
	if s.site.failClick[anchor.Href] {
		return fmt.Errorf("click %s failed", anchor.Href)
	}
	s.history = append(s.history, s.page)
	s.page = anchor.Href
	return nil
}

func (s *sessionFake) Back(context.Context) error {
	if len(s.history) == 0 {
		return errors.New("no history")
	}
	s.page = s.history[len(s.history)-1]
	s.history = s.history[:len(s.history)-1]
	return nil
}

func (s *sessionFake) Screenshot(context.Context) ([]byte, error) {
	if s.site.failShot[s.page] {
		return nil, errors.New("screenshot failed")
	}
	return []byte("png:" + s.page), nil
}

func (s *sessionFake) Close() error {
	s.closed = true
	return nil
}
