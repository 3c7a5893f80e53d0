// Package listing extracts contest blocks from the listing page HTML.
package listing

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/contestboard/internal/contest"
)

// Selectors locates the contest container, each contest block and the fields inside a block.
// An empty *Attr means the element's trimmed text is used.
type Selectors struct {
	Container    string
	Item         string
	Name         string
	NameAttr     string
	Deadline     string
	DeadlineAttr string
	Link         string
	Graphic      string
	GraphicAttr  string
	Entries      string
}

// DefaultSelectors matches the markup of the public contest listing.
func DefaultSelectors() Selectors {
	return Selectors{
		Container:    "#cur-contests",
		Item:         "div.contest-banner",
		Name:         "img",
		NameAttr:     "alt",
		Deadline:     "span.contest-meta-deadline",
		DeadlineAttr: "data-deadline",
		Link:         "a",
		Graphic:      "img",
		GraphicAttr:  "src",
		Entries:      "span.contest-meta-count",
	}
}

// Parser implements contest.Parser with goquery.
type Parser struct {
	sel    Selectors
	logger *zap.Logger
}

// New constructs a Parser. Container and Item selectors are required.
func New(sel Selectors, logger *zap.Logger) (*Parser, error) {
	if strings.TrimSpace(sel.Container) == "" || strings.TrimSpace(sel.Item) == "" {
		return nil, errors.New("container and item selectors are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Parser{sel: sel, logger: logger.Named("listing")}, nil
}

// Parse returns the contest blocks in document order. A missing container is a
// *contest.ParseError; a container with no blocks yields an empty slice.
// Blocks missing a name, deadline or link are skipped with a warning, but when
// every block is skipped the markup has drifted and a *contest.ParseError is
// returned.
func (p *Parser) Parse(html []byte, baseURL string) ([]contest.RawRecord, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return nil, &contest.ParseError{Err: fmt.Errorf("read document: %w", err)}
	}
	container := doc.Find(p.sel.Container).First()
	if container.Length() == 0 {
		return nil, &contest.ParseError{Selector: p.sel.Container, Err: errors.New("container not found")}
	}

	base, _ := url.Parse(baseURL)
	items := container.Find(p.sel.Item)
	records := make([]contest.RawRecord, 0, items.Length())
	items.Each(func(i int, item *goquery.Selection) {
		rec, missing := p.extract(item, base)
		if missing != "" {
			p.logger.Warn("skipping contest block",
				zap.Int("index", i),
				zap.String("contest", rec.Name),
				zap.String("reason", string(contest.ReasonMissingField)),
				zap.String("field", missing),
			)
			return
		}
		records = append(records, rec)
	})
	if items.Length() > 0 && len(records) == 0 {
		return nil, &contest.ParseError{
			Selector: p.sel.Item,
			Err:      fmt.Errorf("none of %d contest blocks had the required fields", items.Length()),
		}
	}
	return records, nil
}

// extract reads one block. The second return names the first missing required field.
func (p *Parser) extract(item *goquery.Selection, base *url.URL) (contest.RawRecord, string) {
	rec := contest.RawRecord{
		Name:        field(item, p.sel.Name, p.sel.NameAttr),
		DeadlineRaw: field(item, p.sel.Deadline, p.sel.DeadlineAttr),
		GraphicURL:  resolve(base, field(item, p.sel.Graphic, p.sel.GraphicAttr)),
		EntryCount:  field(item, p.sel.Entries, ""),
		DetailURL:   resolve(base, field(item, p.sel.Link, "href")),
	}
	switch {
	case rec.Name == "":
		return rec, "name"
	case rec.DeadlineRaw == "":
		return rec, "deadline"
	case rec.DetailURL == "":
		return rec, "link"
	}
	return rec, ""
}

// field returns the attribute or text of the first match. An empty selector
// means the field is not published by the source.
func field(item *goquery.Selection, selector, attr string) string {
	if selector == "" {
		return ""
	}
	target := item.Find(selector).First()
	if target.Length() == 0 {
		return ""
	}
	if attr == "" {
		return strings.Join(strings.Fields(target.Text()), " ")
	}
	val, _ := target.Attr(attr)
	return strings.TrimSpace(val)
}

func resolve(base *url.URL, ref string) string {
	if ref == "" {
		return ""
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	if base == nil || u.IsAbs() {
		return u.String()
	}
	return base.ResolveReference(u).String()
}
