// Package detector decides when a statically fetched listing page needs a
// headless browser to render its contest blocks.
package detector

import (
	"bytes"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/contestboard/internal/contest"
)

const defaultBodyThreshold = 2048

// Heuristic implements a handful of rule-based promotions.
type Heuristic struct {
	BodyLengthThreshold int
	// RequiredSelector must match in a fully rendered page. When it matches
	// the static response is used as is.
	RequiredSelector string
}

// NewHeuristic creates a detector. A zero threshold uses 2 KiB.
func NewHeuristic(threshold int, requiredSelector string) *Heuristic {
	if threshold == 0 {
		threshold = defaultBodyThreshold
	}
	return &Heuristic{BodyLengthThreshold: threshold, RequiredSelector: requiredSelector}
}

var spaMarkers = [][]byte{
	[]byte("__next"),
	[]byte("id=\"root\""),
	[]byte("id=\"app\""),
	[]byte("data-reactroot"),
}

// ShouldPromote decides whether a headless fetch is required.
func (h *Heuristic) ShouldPromote(resp contest.FetchResponse) bool {
	if resp.StatusCode != http.StatusOK {
		return false
	}
	body := resp.Body
	if len(body) == 0 {
		return true
	}
	if h.RequiredSelector != "" {
		return !h.hasRequired(body)
	}
	if len(body) < h.BodyLengthThreshold && scriptDensityHigh(body) {
		return true
	}
	for _, marker := range spaMarkers {
		if bytes.Contains(body, marker) {
			return true
		}
	}
	return false
}

func (h *Heuristic) hasRequired(body []byte) bool {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return false
	}
	return doc.Find(h.RequiredSelector).Length() > 0
}

// scriptDensityHigh reports whether script elements cover at least a quarter of the body.
func scriptDensityHigh(body []byte) bool {
	lower := strings.ToLower(string(body))
	total := len(lower)
	if total == 0 {
		return false
	}

	const (
		openTag  = "<script"
		closeTag = "</script>"
	)
	covered := 0
	pos := 0
	for {
		rel := strings.Index(lower[pos:], openTag)
		if rel == -1 {
			break
		}
		start := pos + rel
		tagEnd := strings.IndexByte(lower[start:], '>')
		if tagEnd == -1 {
			covered += total - start
			break
		}
		contentStart := start + tagEnd + 1
		end := strings.Index(lower[contentStart:], closeTag)
		next := total
		if end != -1 {
			next = contentStart + end + len(closeTag)
		}
		covered += next - start
		pos = next
	}
	return covered*100/total >= 25
}
