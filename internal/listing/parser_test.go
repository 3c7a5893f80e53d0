package listing

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/contestboard/internal/contest"
)

const listingHTML = `<html><body>
<div id="cur-contests">
  <div class="contest-banner">
    <a href="/contest/robots/"><img alt="Robots Contest" src="https://cdn.example.com/robots.jpg"></a>
    <span class="contest-meta-deadline" data-deadline="2024-06-01T23:59:00">Jun 1</span>
    <span class="contest-meta-count"> 1,204
      entries</span>
  </div>
  <div class="contest-banner">
    <a href="https://other.example.com/contest/bikes/"><img alt="Bikes" src="/img/bikes.png"></a>
    <span class="contest-meta-deadline" data-deadline="2024-07-15">Jul 15</span>
  </div>
</div>
</body></html>`

func newParser(t *testing.T) *Parser {
	t.Helper()
	p, err := New(DefaultSelectors(), zap.NewNop())
	require.NoError(t, err)
	return p
}

func TestParseExtractsBlocksInOrder(t *testing.T) {
	t.Parallel()

	recs, err := newParser(t).Parse([]byte(listingHTML), "https://www.example.com/contest/")
	require.NoError(t, err)
	require.Len(t, recs, 2)

	assert.Equal(t, contest.RawRecord{
		Name:        "Robots Contest",
		DeadlineRaw: "2024-06-01T23:59:00",
		DetailURL:   "https://www.example.com/contest/robots/",
		GraphicURL:  "https://cdn.example.com/robots.jpg",
		EntryCount:  "1,204 entries",
	}, recs[0])

	assert.Equal(t, "Bikes", recs[1].Name)
	assert.Equal(t, "https://other.example.com/contest/bikes/", recs[1].DetailURL)
	assert.Equal(t, "https://www.example.com/img/bikes.png", recs[1].GraphicURL)
	assert.Empty(t, recs[1].EntryCount)
}

func TestParseEmptyContainerIsNotAnError(t *testing.T) {
	t.Parallel()

	recs, err := newParser(t).Parse([]byte(`<div id="cur-contests"></div>`), "https://www.example.com/")
	require.NoError(t, err)
	assert.Empty(t, recs)
	assert.NotNil(t, recs)
}

func TestParseMissingContainer(t *testing.T) {
	t.Parallel()

	_, err := newParser(t).Parse([]byte(`<div id="something-else"></div>`), "https://www.example.com/")
	require.Error(t, err)

	var perr *contest.ParseError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "#cur-contests", perr.Selector)
}

func TestParseSkipsBlocksMissingRequiredFields(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.WarnLevel)
	p, err := New(DefaultSelectors(), zap.New(core))
	require.NoError(t, err)

	html := `<div id="cur-contests">
  <div class="contest-banner"><a href="/a"><img src="/a.png"></a>
    <span class="contest-meta-deadline" data-deadline="2024-01-01"></span></div>
  <div class="contest-banner"><a href="/b"><img alt="No Deadline" src="/b.png"></a></div>
  <div class="contest-banner"><img alt="No Link" src="/c.png">
    <span class="contest-meta-deadline" data-deadline="2024-01-01"></span></div>
  <div class="contest-banner"><a href="/d"><img alt="Good" src="/d.png"></a>
    <span class="contest-meta-deadline" data-deadline="2024-01-01"></span></div>
</div>`

	recs, err := p.Parse([]byte(html), "https://www.example.com/")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "Good", recs[0].Name)

	entries := logs.FilterMessage("skipping contest block").All()
	require.Len(t, entries, 3)
	fields := []string{}
	for _, e := range entries {
		fields = append(fields, e.ContextMap()["field"].(string))
	}
	assert.Equal(t, []string{"name", "deadline", "link"}, fields)
}

func TestParseDriftedBlockMarkupIsParseError(t *testing.T) {
	t.Parallel()

	html := `<div id="cur-contests">
  <div class="contest-banner"><a href="/a"><picture alt="Robots"></picture></a><span class="deadline-v2">2024-06-01</span></div>
  <div class="contest-banner"><a href="/b"><picture alt="Bikes"></picture></a><span class="deadline-v2">2024-06-02</span></div>
  <div class="contest-banner"><a href="/c"><picture alt="Boats"></picture></a><span class="deadline-v2">2024-06-03</span></div>
</div>`

	recs, err := newParser(t).Parse([]byte(html), "https://www.example.com/")
	require.Error(t, err)
	assert.Nil(t, recs)

	var perr *contest.ParseError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "div.contest-banner", perr.Selector)
	assert.Contains(t, err.Error(), "none of 3 contest blocks")
}

func TestParseTextSelectors(t *testing.T) {
	t.Parallel()

	sel := Selectors{
		Container: "ul.contests",
		Item:      "li",
		Name:      "h2",
		Deadline:  "time",
		Link:      "a",
		Graphic:   "img",
	}
	p, err := New(sel, nil)
	require.NoError(t, err)

	html := `<ul class="contests"><li><h2> Paper  Craft </h2><time>2030-01-01</time><a href="x">go</a></li></ul>`
	recs, err := p.Parse([]byte(html), "https://www.example.com/list/")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "Paper Craft", recs[0].Name)
	assert.Equal(t, "2030-01-01", recs[0].DeadlineRaw)
	assert.Equal(t, "https://www.example.com/list/x", recs[0].DetailURL)
	assert.Empty(t, recs[0].GraphicURL)
}

func TestNewRequiresSelectors(t *testing.T) {
	t.Parallel()

	_, err := New(Selectors{Item: "li"}, nil)
	assert.Error(t, err)
	_, err = New(Selectors{Container: "ul"}, nil)
	assert.Error(t, err)
}
