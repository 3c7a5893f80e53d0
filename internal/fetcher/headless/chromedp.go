// Package headless contains fetchers that render the listing page in a browser.
package headless

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/contestboard/internal/contest"
	"github.com/JakeFAU/contestboard/internal/metrics"
)

const defaultNavTimeout = 45 * time.Second

// Config controls the behavior of the headless fetcher.
type Config struct {
	UserAgent         string
	NavigationTimeout time.Duration
	// SettleDelay lets client-side rendering finish after the body is ready.
	SettleDelay time.Duration
	Headers     http.Header
}

// Fetcher implements contest.Fetcher using chromedp and headless Chrome.
type Fetcher struct {
	cfg         Config
	mu          sync.Mutex
	allocator   context.Context
	allocCancel context.CancelFunc
	logger      *zap.Logger
}

// NewChromedp creates a headless fetcher backed by chromedp. The browser is
// launched lazily on the first Fetch.
func NewChromedp(cfg Config, logger *zap.Logger) *Fetcher {
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = defaultNavTimeout
	}
	if cfg.SettleDelay < 0 {
		cfg.SettleDelay = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Fetcher{
		cfg:         cfg,
		allocator:   allocCtx,
		allocCancel: allocCancel,
		logger:      logger.Named("headless"),
	}
}

// Close shuts the browser down.
func (f *Fetcher) Close() {
	f.allocCancel()
}

// Fetch navigates with a headless browser and returns the rendered DOM. Only
// one navigation runs at a time.
func (f *Fetcher) Fetch(ctx context.Context, url string) (contest.FetchResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	taskCtx, taskCancel := chromedp.NewContext(f.allocator)
	defer taskCancel()
	taskCtx, cancel := context.WithTimeout(taskCtx, f.cfg.NavigationTimeout)
	defer cancel()
	// Propagate caller cancellation into the browser tab.
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	meta := newResponseMeta()
	chromedp.ListenTarget(taskCtx, meta.captureEvent)

	start := time.Now()
	html, finalURL, err := f.render(taskCtx, url)
	if err != nil {
		metrics.ObserveFetch(url, "error", 0)
		return contest.FetchResponse{}, err
	}

	status, headers, responseURL := meta.snapshotWithFallbacks(url, finalURL)
	if status != http.StatusOK {
		metrics.ObserveFetch(url, "error", 0)
		return contest.FetchResponse{}, &contest.StatusError{URL: url, StatusCode: status}
	}
	metrics.ObserveFetch(url, "ok", len(html))
	f.logger.Debug("rendered", zap.String("url", responseURL), zap.Int("bytes", len(html)), zap.Duration("duration", time.Since(start)))

	return contest.FetchResponse{
		URL:         responseURL,
		StatusCode:  status,
		ContentType: headers.Get("Content-Type"),
		Body:        []byte(html),
		Duration:    time.Since(start),
	}, nil
}

func (f *Fetcher) render(ctx context.Context, url string) (string, string, error) {
	var (
		html     string
		finalURL string
	)
	actions := []chromedp.Action{
		f.networkSetupAction(),
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	}
	if f.cfg.SettleDelay > 0 {
		actions = append(actions, chromedp.Sleep(f.cfg.SettleDelay))
	}
	actions = append(actions,
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err := chromedp.Run(ctx, actions...); err != nil {
		return "", "", fmt.Errorf("chromedp run: %w", err)
	}
	return html, finalURL, nil
}

func (f *Fetcher) networkSetupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if f.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(f.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if len(f.cfg.Headers) > 0 {
			if err := network.SetExtraHTTPHeaders(toNetworkHeaders(f.cfg.Headers)).Do(ctx); err != nil {
				return fmt.Errorf("set extra headers: %w", err)
			}
		}
		return nil
	})
}

// responseMeta records the main document response seen by the browser.
type responseMeta struct {
	mu      sync.RWMutex
	status  int
	headers http.Header
	url     string
}

func newResponseMeta() *responseMeta {
	return &responseMeta{headers: http.Header{}}
}

func (m *responseMeta) capture(event *network.EventResponseReceived) {
	if event.Type != network.ResourceTypeDocument || event.Response == nil {
		return
	}
	headers := http.Header{}
	for key, value := range event.Response.Headers {
		switch v := value.(type) {
		case string:
			headers.Add(key, v)
		case []any:
			for _, entry := range v {
				headers.Add(key, fmt.Sprint(entry))
			}
		default:
			headers.Add(key, fmt.Sprint(v))
		}
	}
	m.mu.Lock()
	m.status = int(event.Response.Status)
	m.headers = headers
	m.url = event.Response.URL
	m.mu.Unlock()
}

func (m *responseMeta) captureEvent(ev any) {
	if resp, ok := ev.(*network.EventResponseReceived); ok {
		m.capture(resp)
	}
}

// snapshotWithFallbacks fills gaps when the browser never reported the document response.
func (m *responseMeta) snapshotWithFallbacks(requestURL, finalURL string) (int, http.Header, string) {
	m.mu.RLock()
	status, headers, url := m.status, m.headers.Clone(), m.url
	m.mu.RUnlock()

	switch {
	case url != "":
	case finalURL != "":
		url = finalURL
	default:
		url = requestURL
	}
	if status == 0 {
		status = http.StatusOK
	}
	if headers == nil {
		headers = http.Header{}
	}
	return status, headers, url
}

func toNetworkHeaders(h http.Header) network.Headers {
	headers := network.Headers{}
	for key, values := range h {
		switch len(values) {
		case 0:
		case 1:
			headers[key] = values[0]
		default:
			headers[key] = append([]string(nil), values...)
		}
	}
	return headers
}
