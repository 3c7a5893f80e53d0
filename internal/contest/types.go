package contest

import (
	"fmt"
	"strings"
	"time"
)

// RawRecord is one contest block as extracted from the listing page, before any
// validation or derivation.
type RawRecord struct {
	Name        string
	DeadlineRaw string
	DetailURL   string
	GraphicURL  string
	EntryCount  string
}

// Record is a validated contest entry. It is immutable once built.
type Record struct {
	Name              string    `json:"name"`
	Deadline          time.Time `json:"deadline"`
	FormattedDeadline string    `json:"date"`
	DaysUntil         int       `json:"days_until"`
	DetailURL         string    `json:"url"`
	GraphicRef        string    `json:"contest_graphic_uri"`
	EntryCount        string    `json:"entries"`
}

// NewRecord validates the parsed fields relative to the build instant and
// returns a fully populated Record. Expired deadlines are rejected with an
// ItemError carrying ReasonExpired.
func NewRecord(name string, deadline time.Time, detailURL, graphicRef, entries string, now time.Time, loc *time.Location) (Record, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Record{}, &ItemError{Reason: ReasonMissingField, Err: fmt.Errorf("name is empty")}
	}
	if deadline.IsZero() {
		return Record{}, &ItemError{Name: name, Reason: ReasonBadDeadline, Err: fmt.Errorf("deadline is zero")}
	}
	if !deadline.After(now) {
		return Record{}, &ItemError{Name: name, Reason: ReasonExpired, Err: fmt.Errorf("deadline %s is not after %s", deadline.Format(time.RFC3339), now.Format(time.RFC3339))}
	}
	if loc == nil {
		loc = time.UTC
	}
	return Record{
		Name:              name,
		Deadline:          deadline.UTC(),
		FormattedDeadline: FormatDeadline(deadline, loc),
		DaysUntil:         DaysUntil(deadline, now),
		DetailURL:         detailURL,
		GraphicRef:        graphicRef,
		EntryCount:        strings.TrimSpace(entries),
	}, nil
}

// DaysUntil returns floor((deadline - now) / 24h). Deadlines in the past yield
// negative values; callers filter those before calling.
func DaysUntil(deadline, now time.Time) int {
	d := deadline.Sub(now)
	days := int(d / (24 * time.Hour))
	if d < 0 && d%(24*time.Hour) != 0 {
		days--
	}
	return days
}

// FormatDeadline renders a deadline as month name plus zero-padded day.
func FormatDeadline(deadline time.Time, loc *time.Location) string {
	return deadline.In(loc).Format("January 02")
}

// Snapshot is the ordered, immutable set of contests active at BuiltAt.
type Snapshot struct {
	buildID  string
	builtAt  time.Time
	contests []Record
}

// NewSnapshot copies records into a new Snapshot, enforcing that every
// deadline lies strictly after builtAt. Source order is preserved.
func NewSnapshot(buildID string, builtAt time.Time, records []Record) (*Snapshot, error) {
	for i, r := range records {
		if !r.Deadline.After(builtAt) {
			return nil, fmt.Errorf("record %d (%q) expired at build time", i, r.Name)
		}
	}
	return &Snapshot{
		buildID:  buildID,
		builtAt:  builtAt.UTC(),
		contests: append([]Record(nil), records...),
	}, nil
}

// EmptySnapshot is the value readers see before the first publish.
func EmptySnapshot() *Snapshot {
	return &Snapshot{}
}

// BuildID identifies the build cycle that produced the snapshot.
func (s *Snapshot) BuildID() string { return s.buildID }

// BuiltAt is the instant all time-derived fields were computed against.
func (s *Snapshot) BuiltAt() time.Time { return s.builtAt }

// Len returns the number of contests.
func (s *Snapshot) Len() int { return len(s.contests) }

// Contests returns a copy of the records in source order.
func (s *Snapshot) Contests() []Record {
	out := make([]Record, len(s.contests))
	copy(out, s.contests)
	return out
}

// Meta is bookkeeping about the most recent build cycle.
type Meta struct {
	BuildID      string
	LastUpdate   time.Time
	Interval     time.Duration
	ContestCount int
	LastAttempt  time.Time
	LastError    string
}

// NewMeta builds the Meta that accompanies snap.
func NewMeta(snap *Snapshot, interval time.Duration) Meta {
	return Meta{
		BuildID:      snap.BuildID(),
		LastUpdate:   snap.BuiltAt(),
		Interval:     interval,
		ContestCount: snap.Len(),
		LastAttempt:  snap.BuiltAt(),
	}
}

// NextUpdateETAMinutes is the refresh interval minus the time elapsed since
// LastUpdate, in whole minutes, clamped at zero.
func (m Meta) NextUpdateETAMinutes(now time.Time) int {
	if m.LastUpdate.IsZero() {
		return 0
	}
	remaining := m.Interval - now.Sub(m.LastUpdate)
	if remaining <= 0 {
		return 0
	}
	return int(remaining / time.Minute)
}

// Degraded reports whether the most recent attempt failed.
func (m Meta) Degraded() bool {
	return m.LastError != ""
}
