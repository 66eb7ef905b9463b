// Package history keeps the detection log behind the Riwayat page and the
// filter/sort logic applied to it.
package history

import (
	_ "embed"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v2"
)

// TimestampLayout is the ISO-8601 form entries are stored in. It sorts
// lexicographically in time order.
const TimestampLayout = "2006-01-02T15:04:05"

// Status is the outcome recorded for a detection.
type Status string

const (
	StatusMatch    Status = "match"
	StatusNotFound Status = "not_found"
)

// ErrInvalidEntry is returned when an entry breaks the match/not_found
// field invariant.
var ErrInvalidEntry = errors.New("invalid history entry")

// Entry is one detection event.
type Entry struct {
	ID          int     `json:"id" yaml:"id"`
	Timestamp   string  `json:"timestamp" yaml:"timestamp"`
	StudentName *string `json:"student_name" yaml:"student_name"`
	StudentID   *string `json:"student_id" yaml:"student_id"`
	Status      Status  `json:"status" yaml:"status"`
	Accuracy    *string `json:"accuracy" yaml:"accuracy"`
	PhotoURL    string  `json:"photo_url" yaml:"photo_url"`
}

// Validate checks that match entries carry name, id and accuracy and that
// not_found entries carry none of them.
func (e Entry) Validate() error {
	if _, err := time.Parse(TimestampLayout, e.Timestamp); err != nil {
		return fmt.Errorf("%w: timestamp %q", ErrInvalidEntry, e.Timestamp)
	}
	switch e.Status {
	case StatusMatch:
		if e.StudentName == nil || e.StudentID == nil || e.Accuracy == nil {
			return fmt.Errorf("%w: match without student or accuracy", ErrInvalidEntry)
		}
	case StatusNotFound:
		if e.StudentName != nil || e.StudentID != nil || e.Accuracy != nil {
			return fmt.Errorf("%w: not_found with student or accuracy", ErrInvalidEntry)
		}
	default:
		return fmt.Errorf("%w: status %q", ErrInvalidEntry, e.Status)
	}
	return nil
}

//go:embed seed.yaml
var seedYAML []byte

// Seed returns the fixed demo log.
func Seed() ([]Entry, error) {
	var doc struct {
		Entries []Entry `yaml:"entries"`
	}
	if err := yaml.Unmarshal(seedYAML, &doc); err != nil {
		return nil, fmt.Errorf("decode history seed: %w", err)
	}
	for _, e := range doc.Entries {
		if err := e.Validate(); err != nil {
			return nil, fmt.Errorf("history seed entry %d: %w", e.ID, err)
		}
	}
	return doc.Entries, nil
}

// Store is an ordered detection log.
type Store struct {
	mu      sync.RWMutex
	entries []Entry
	nextID  int
}

// NewStore creates a store holding the given entries.
func NewStore(seed []Entry) *Store {
	s := &Store{entries: append([]Entry(nil), seed...), nextID: 1}
	for _, e := range seed {
		if e.ID >= s.nextID {
			s.nextID = e.ID + 1
		}
	}
	return s
}

// Append validates e, assigns the next id and adds it to the log.
func (s *Store) Append(e Entry) (Entry, error) {
	if err := e.Validate(); err != nil {
		return Entry{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e.ID = s.nextID
	s.nextID++
	s.entries = append(s.entries, e)
	return e, nil
}

// List returns a copy of the log in insertion order.
func (s *Store) List() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Entry(nil), s.entries...)
}

// Query filters and sorts the log.
func (s *Store) Query(f Filter, dir Direction) []Entry {
	return Query(s.List(), f, dir)
}

// Filter is the Riwayat page filter state. A zero Date means no date
// filter; an empty Status means all.
type Filter struct {
	Search string
	Date   time.Time
	Status string
}

// StatusAll disables the status predicate.
const StatusAll = "all"

// ParseStatusFilter validates a status filter value.
func ParseStatusFilter(s string) (string, error) {
	switch s {
	case "", StatusAll:
		return StatusAll, nil
	case string(StatusMatch), string(StatusNotFound):
		return s, nil
	}
	return "", fmt.Errorf("unknown status filter %q", s)
}

// Match reports whether e satisfies all three predicates.
func (f Filter) Match(e Entry) bool {
	if f.Search != "" {
		needle := strings.ToLower(f.Search)
		if !containsFold(e.StudentName, needle) && !containsFold(e.StudentID, needle) {
			return false
		}
	}
	if !f.Date.IsZero() && !strings.HasPrefix(e.Timestamp, f.Date.Format(time.DateOnly)) {
		return false
	}
	if f.Status != "" && f.Status != StatusAll && string(e.Status) != f.Status {
		return false
	}
	return true
}

func containsFold(field *string, lowerNeedle string) bool {
	return field != nil && strings.Contains(strings.ToLower(*field), lowerNeedle)
}

// Apply returns the entries matching f, preserving order.
func (f Filter) Apply(entries []Entry) []Entry {
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if f.Match(e) {
			out = append(out, e)
		}
	}
	return out
}

// Direction is the timestamp sort order.
type Direction string

const (
	Asc  Direction = "asc"
	Desc Direction = "desc"
)

// ParseDirection maps a query value to a Direction; empty means Desc.
func ParseDirection(s string) (Direction, error) {
	switch Direction(s) {
	case "", Desc:
		return Desc, nil
	case Asc:
		return Asc, nil
	}
	return "", fmt.Errorf("unknown sort direction %q", s)
}

// Toggle flips the direction.
func (d Direction) Toggle() Direction {
	if d == Asc {
		return Desc
	}
	return Asc
}

// Sort returns a copy of entries stably ordered by timestamp string.
func Sort(entries []Entry, dir Direction) []Entry {
	out := append([]Entry(nil), entries...)
	sort.SliceStable(out, func(i, j int) bool {
		if dir == Asc {
			return out[i].Timestamp < out[j].Timestamp
		}
		return out[i].Timestamp > out[j].Timestamp
	})
	return out
}

// Query filters then sorts.
func Query(entries []Entry, f Filter, dir Direction) []Entry {
	return Sort(f.Apply(entries), dir)
}

// Stats are the counters shown under the Riwayat table.
type Stats struct {
	Total    int `json:"total"`
	Match    int `json:"match"`
	NotFound int `json:"not_found"`
}

// Summarize counts entries by status.
func Summarize(entries []Entry) Stats {
	st := Stats{Total: len(entries)}
	for _, e := range entries {
		switch e.Status {
		case StatusMatch:
			st.Match++
		case StatusNotFound:
			st.NotFound++
		}
	}
	return st
}
