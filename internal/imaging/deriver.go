package imaging

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"github.com/JakeFAU/contestboard/internal/contest"
	"github.com/JakeFAU/contestboard/internal/metrics"
)

// ContentType is the MIME type of every derived thumbnail.
const ContentType = "image/bmp"

// Config wires the deriver's naming scheme and transform.
type Config struct {
	Options Options
	// KeyPrefix is prepended to blob keys.
	KeyPrefix string
	// URLPrefix is prepended to the graphic reference returned to readers.
	URLPrefix string
}

// Deriver implements contest.ImageDeriver.
type Deriver struct {
	cfg     Config
	fetcher contest.Fetcher
	store   contest.BlobStore
	limiter contest.Limiter
	retry   contest.RetryPolicy
	logger  *zap.Logger
}

// NewDeriver builds a Deriver. limiter and retry may be nil.
func NewDeriver(
	cfg Config,
	fetcher contest.Fetcher,
	store contest.BlobStore,
	limiter contest.Limiter,
	retry contest.RetryPolicy,
	logger *zap.Logger,
) (*Deriver, error) {
	if fetcher == nil || store == nil {
		return nil, errors.New("fetcher and store are required")
	}
	if err := cfg.Options.validate(); err != nil {
		return nil, fmt.Errorf("image options: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Deriver{
		cfg:     cfg,
		fetcher: fetcher,
		store:   store,
		limiter: limiter,
		retry:   retry,
		logger:  logger.Named("imaging"),
	}, nil
}

// Derive fetches sourceURL, transforms it and stores the bitmap under a key
// derived from contestName. It returns the graphic reference for readers.
func (d *Deriver) Derive(ctx context.Context, sourceURL, contestName string) (string, error) {
	name := SanitizeName(contestName)
	if name == "" {
		return "", fmt.Errorf("contest name %q has no usable characters", contestName)
	}
	if strings.TrimSpace(sourceURL) == "" {
		metrics.ObserveImage("fetch_error")
		return "", &contest.ImageFetchError{Err: errors.New("no graphic url")}
	}

	body, err := d.fetch(ctx, sourceURL)
	if err != nil {
		metrics.ObserveImage("fetch_error")
		return "", err
	}

	img, format, err := Decode(bytes.NewReader(body))
	if err != nil {
		metrics.ObserveImage("decode_error")
		return "", &contest.ImageDecodeError{URL: sourceURL, Err: err}
	}
	out, err := Transform(img, d.cfg.Options)
	if err != nil {
		metrics.ObserveImage("decode_error")
		return "", &contest.ImageDecodeError{URL: sourceURL, Err: err}
	}

	var buf bytes.Buffer
	if err := EncodeBMP(&buf, out); err != nil {
		metrics.ObserveImage("decode_error")
		return "", &contest.ImageDecodeError{URL: sourceURL, Err: err}
	}

	file := name + ".bmp"
	key := ObjectKey(d.cfg.KeyPrefix, file)
	uri, err := d.store.PutObject(ctx, key, ContentType, &buf)
	if err != nil {
		metrics.ObserveImage("store_error")
		return "", fmt.Errorf("store thumbnail %s: %w", key, err)
	}
	metrics.ObserveImage("ok")
	d.logger.Debug("thumbnail stored",
		zap.String("contest", contestName),
		zap.String("source", sourceURL),
		zap.String("format", format),
		zap.String("uri", uri),
		zap.Int("palette", len(out.Palette)),
	)
	return ObjectKey(d.cfg.URLPrefix, file), nil
}

func (d *Deriver) fetch(ctx context.Context, sourceURL string) ([]byte, error) {
	resp, err := contest.Retry(ctx, d.retry, func(ctx context.Context, attempt int) (contest.FetchResponse, error) {
		if d.limiter != nil {
			if err := d.limiter.Wait(ctx, sourceURL); err != nil {
				return contest.FetchResponse{}, err
			}
		}
		resp, err := d.fetcher.Fetch(ctx, sourceURL)
		if err != nil && attempt > 1 {
			d.logger.Debug("image fetch retry failed", zap.String("url", sourceURL), zap.Int("attempt", attempt), zap.Error(err))
		}
		return resp, err
	})
	if err != nil {
		fetchErr := &contest.ImageFetchError{URL: sourceURL, Err: err}
		var statusErr *contest.StatusError
		if errors.As(err, &statusErr) {
			fetchErr.StatusCode = statusErr.StatusCode
		}
		return nil, fetchErr
	}
	return resp.Body, nil
}

// SanitizeName strips whitespace, path separators and URL metacharacters so the
// contest name can be used as a file name.
func SanitizeName(name string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return -1
		}
		switch r {
		case '/', '\\', '?', '#', '%':
			return -1
		}
		return r
	}, name)
}

// ObjectKey joins a prefix and file name with a single forward slash. The
// prefix may be a path or an absolute URL.
func ObjectKey(prefix, file string) string {
	prefix = strings.TrimRight(prefix, "/")
	if prefix == "" {
		return file
	}
	return prefix + "/" + file
}
