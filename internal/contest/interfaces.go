package contest

import (
	"context"
	"io"
	"time"
)

// Fetcher performs a single HTTP GET and returns the body. Non-200 responses
// are reported as *StatusError.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (FetchResponse, error)
}

// FetchResponse is the result of a successful Fetch.
type FetchResponse struct {
	URL         string
	StatusCode  int
	ContentType string
	Body        []byte
	Duration    time.Duration
}

// Parser turns listing HTML into raw contest records.
type Parser interface {
	Parse(html []byte, baseURL string) ([]RawRecord, error)
}

// ImageDeriver produces the stored thumbnail for a contest and returns its reference.
type ImageDeriver interface {
	Derive(ctx context.Context, sourceURL, contestName string) (string, error)
}

// BlobStore persists derived artifacts. Backends live under internal/storage
// (local, memory, gcs); GetObject returns ErrNotFound for keys never written.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
	GetObject(ctx context.Context, path string) (io.ReadCloser, error)
}

// Publisher pushes notifications about published snapshots.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces build IDs.
type IDGenerator interface {
	NewID() (string, error)
}

// Limiter paces outbound requests per host.
type Limiter interface {
	Wait(ctx context.Context, url string) error
}

// PublishedEvent is the notification payload sent after each publish.
type PublishedEvent struct {
	BuildID      string    `json:"build_id"`
	ContestCount int       `json:"contest_count"`
	LastUpdate   time.Time `json:"last_update"`
}
