package headless

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/JakeFAU/contestboard/internal/contest"
)

// Detector decides whether a static response needs browser rendering.
type Detector interface {
	ShouldPromote(resp contest.FetchResponse) bool
}

// Promoting fetches statically first and re-fetches through a browser when the
// detector says the static page is incomplete. A failed browser fetch falls
// back to the static response.
type Promoting struct {
	static   contest.Fetcher
	browser  contest.Fetcher
	detector Detector
	logger   *zap.Logger
}

// NewPromoting composes the two fetchers.
func NewPromoting(static, browser contest.Fetcher, detector Detector, logger *zap.Logger) (*Promoting, error) {
	if static == nil || browser == nil || detector == nil {
		return nil, errors.New("static fetcher, browser fetcher and detector are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Promoting{static: static, browser: browser, detector: detector, logger: logger.Named("promoting")}, nil
}

// Fetch implements contest.Fetcher.
func (p *Promoting) Fetch(ctx context.Context, url string) (contest.FetchResponse, error) {
	resp, err := p.static.Fetch(ctx, url)
	if err != nil {
		return resp, err
	}
	if !p.detector.ShouldPromote(resp) {
		return resp, nil
	}
	p.logger.Info("promoting fetch to headless browser", zap.String("url", url))
	rendered, err := p.browser.Fetch(ctx, url)
	if err != nil {
		p.logger.Warn("headless fetch failed, using static response", zap.String("url", url), zap.Error(err))
		return resp, nil
	}
	return rendered, nil
}
