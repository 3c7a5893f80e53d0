package contest

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchErrorUnwrapsStatus(t *testing.T) {
	t.Parallel()

	status := &StatusError{URL: "https://example.com/contest/", StatusCode: 500}
	err := fmt.Errorf("build: %w", &FetchError{URL: status.URL, StatusCode: 500, Err: status})

	var fetchErr *FetchError
	require.True(t, errors.As(err, &fetchErr))
	assert.Equal(t, 500, fetchErr.StatusCode)
	assert.Contains(t, err.Error(), "unexpected status 500")

	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, "GET https://example.com/contest/: status 500", statusErr.Error())
}

func TestFetchErrorWithoutStatus(t *testing.T) {
	t.Parallel()

	err := &FetchError{URL: "https://example.com", Err: context.DeadlineExceeded}
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Equal(t, "fetch https://example.com: context deadline exceeded", err.Error())
}

func TestParseErrorMessages(t *testing.T) {
	t.Parallel()

	withSel := &ParseError{Selector: "#cur-contests", Err: errors.New("container not found")}
	assert.Equal(t, "parse listing: #cur-contests: container not found", withSel.Error())

	bare := &ParseError{Err: errors.New("bad html")}
	assert.Equal(t, "parse listing: bad html", bare.Error())
}

func TestItemErrorCarriesReason(t *testing.T) {
	t.Parallel()

	cause := &ImageDecodeError{URL: "https://img.example.com/a.png", Err: errors.New("unknown format")}
	err := error(&ItemError{Name: "Robots", Reason: ReasonImage, Err: cause})

	var itemErr *ItemError
	require.True(t, errors.As(err, &itemErr))
	assert.Equal(t, ReasonImage, itemErr.Reason)

	var decodeErr *ImageDecodeError
	require.True(t, errors.As(err, &decodeErr))
	assert.Contains(t, err.Error(), `skip contest "Robots" (image)`)
}

func TestImageFetchErrorMessages(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "fetch image u: unexpected status 404",
		(&ImageFetchError{URL: "u", StatusCode: 404}).Error())
	assert.Equal(t, "fetch image u: timeout",
		(&ImageFetchError{URL: "u", Err: errors.New("timeout")}).Error())
}
