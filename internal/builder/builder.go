// Package builder runs one fetch, parse and derive cycle and assembles a
// snapshot without publishing it.
package builder

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/contestboard/internal/contest"
	"github.com/JakeFAU/contestboard/internal/metrics"
)

// ImagePolicy decides what happens to a contest whose thumbnail cannot be produced.
type ImagePolicy string

// Image policies.
const (
	// ImagePolicyExclude drops the contest.
	ImagePolicyExclude ImagePolicy = "exclude"
	// ImagePolicyOmit keeps the contest with an empty graphic reference.
	ImagePolicyOmit ImagePolicy = "omit"
)

// Config holds the builder's fixed inputs.
type Config struct {
	ListingURL  string
	Interval    time.Duration
	Location    *time.Location
	ImagePolicy ImagePolicy
}

// Builder implements one build cycle.
type Builder struct {
	cfg     Config
	fetcher contest.Fetcher
	parser  contest.Parser
	images  contest.ImageDeriver
	clock   contest.Clock
	ids     contest.IDGenerator
	logger  *zap.Logger
}

// Stats summarizes what happened to each parsed block.
type Stats struct {
	Parsed   int
	Included int
	Skipped  map[contest.SkipReason]int
}

// New validates dependencies and returns a Builder.
func New(
	cfg Config,
	fetcher contest.Fetcher,
	parser contest.Parser,
	images contest.ImageDeriver,
	clock contest.Clock,
	ids contest.IDGenerator,
	logger *zap.Logger,
) (*Builder, error) {
	switch {
	case strings.TrimSpace(cfg.ListingURL) == "":
		return nil, errors.New("listing url is required")
	case cfg.Interval <= 0:
		return nil, errors.New("interval must be positive")
	case fetcher == nil || parser == nil || images == nil || clock == nil || ids == nil:
		return nil, errors.New("fetcher, parser, images, clock and ids are required")
	}
	switch cfg.ImagePolicy {
	case "":
		cfg.ImagePolicy = ImagePolicyExclude
	case ImagePolicyExclude, ImagePolicyOmit:
	default:
		return nil, fmt.Errorf("unknown image policy %q", cfg.ImagePolicy)
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{
		cfg:     cfg,
		fetcher: fetcher,
		parser:  parser,
		images:  images,
		clock:   clock,
		ids:     ids,
		logger:  logger.Named("builder"),
	}, nil
}

// Interval is the refresh interval recorded in every Meta.
func (b *Builder) Interval() time.Duration {
	return b.cfg.Interval
}

// Build fetches and parses the listing, then turns every active contest into a
// record in source order. Listing failures return *contest.FetchError or
// *contest.ParseError; per-contest failures are logged and skipped.
func (b *Builder) Build(ctx context.Context) (*contest.Snapshot, contest.Meta, Stats, error) {
	stats := Stats{Skipped: map[contest.SkipReason]int{}}
	now := b.clock.Now().UTC()
	buildID, err := b.ids.NewID()
	if err != nil {
		return nil, contest.Meta{}, stats, fmt.Errorf("build id: %w", err)
	}
	logger := b.logger.With(zap.String("build_id", buildID))

	raws, err := b.fetchListing(ctx)
	if err != nil {
		return nil, contest.Meta{}, stats, err
	}
	stats.Parsed = len(raws)

	records := make([]contest.Record, 0, len(raws))
	for _, raw := range raws {
		rec, err := b.buildRecord(ctx, raw, now)
		if err != nil {
			reason := contest.ReasonMissingField
			var itemErr *contest.ItemError
			if errors.As(err, &itemErr) {
				reason = itemErr.Reason
			}
			stats.Skipped[reason]++
			metrics.ObserveSkip(string(reason))
			level := zap.WarnLevel
			if reason == contest.ReasonExpired {
				level = zap.DebugLevel
			}
			logger.Log(level, "contest skipped",
				zap.String("contest", raw.Name),
				zap.String("reason", string(reason)),
				zap.Error(err),
			)
			continue
		}
		records = append(records, rec)
	}
	stats.Included = len(records)

	snap, err := contest.NewSnapshot(buildID, now, records)
	if err != nil {
		return nil, contest.Meta{}, stats, fmt.Errorf("assemble snapshot: %w", err)
	}
	return snap, contest.NewMeta(snap, b.cfg.Interval), stats, nil
}

func (b *Builder) fetchListing(ctx context.Context) ([]contest.RawRecord, error) {
	resp, err := b.fetcher.Fetch(ctx, b.cfg.ListingURL)
	if err != nil {
		fetchErr := &contest.FetchError{URL: b.cfg.ListingURL, Err: err}
		var statusErr *contest.StatusError
		if errors.As(err, &statusErr) {
			fetchErr.StatusCode = statusErr.StatusCode
		}
		return nil, fetchErr
	}
	if resp.StatusCode != 0 && resp.StatusCode != 200 {
		return nil, &contest.FetchError{URL: b.cfg.ListingURL, StatusCode: resp.StatusCode}
	}

	base := resp.URL
	if base == "" {
		base = b.cfg.ListingURL
	}
	raws, err := b.parser.Parse(resp.Body, base)
	if err != nil {
		var parseErr *contest.ParseError
		if errors.As(err, &parseErr) {
			return nil, err
		}
		return nil, &contest.ParseError{Err: err}
	}
	return raws, nil
}

func (b *Builder) buildRecord(ctx context.Context, raw contest.RawRecord, now time.Time) (contest.Record, error) {
	deadline, err := contest.ParseDeadline(raw.DeadlineRaw, b.cfg.Location)
	if err != nil {
		return contest.Record{}, &contest.ItemError{Name: raw.Name, Reason: contest.ReasonBadDeadline, Err: err}
	}
	if !deadline.After(now) {
		return contest.Record{}, &contest.ItemError{
			Name:   raw.Name,
			Reason: contest.ReasonExpired,
			Err:    fmt.Errorf("deadline %s has passed", deadline.Format(time.RFC3339)),
		}
	}

	ref, err := b.images.Derive(ctx, raw.GraphicURL, raw.Name)
	if err != nil {
		if b.cfg.ImagePolicy == ImagePolicyExclude {
			return contest.Record{}, &contest.ItemError{Name: raw.Name, Reason: contest.ReasonImage, Err: err}
		}
		b.logger.Warn("contest kept without graphic",
			zap.String("contest", raw.Name),
			zap.String("graphic_url", raw.GraphicURL),
			zap.Error(err),
		)
		ref = ""
	}

	return contest.NewRecord(raw.Name, deadline, raw.DetailURL, ref, raw.EntryCount, now, b.cfg.Location)
}
